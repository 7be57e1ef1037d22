package secrets

import (
	"cmp"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/ce-dot-net/ace/internal/config"
)

const defaultReplacement = "[REDACTED]"

// Scrubber redacts secrets from text. It is safe for concurrent use.
type Scrubber struct {
	enabled     bool
	replacement string
	rules       []*compiledRule
	allow       []*regexp.Regexp
}

// Finding locates one redacted secret in the original text.
type Finding struct {
	RuleID   string   `json:"rule_id"`
	Severity Severity `json:"severity"`
	Start    int      `json:"start"`
	End      int      `json:"end"`
	Line     int      `json:"line"`
}

// Result is the outcome of Scrub.
type Result struct {
	Scrubbed string         `json:"-"`
	Findings []Finding      `json:"findings,omitempty"`
	ByRule   map[string]int `json:"by_rule,omitempty"`
}

func (r *Result) HasFindings() bool { return len(r.Findings) > 0 }

// RuleIDs lists the rules that matched, sorted.
func (r *Result) RuleIDs() []string {
	ids := make([]string, 0, len(r.ByRule))
	for id := range r.ByRule {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// New builds a scrubber from settings, using DefaultRules plus extra. The
// allowlist file, when configured, adds to the allow list.
func New(s config.SecretsConfig, extra ...Rule) (*Scrubber, error) {
	sc := &Scrubber{enabled: s.Enabled, replacement: s.Replacement}
	if sc.replacement == "" {
		sc.replacement = defaultReplacement
	}
	allow := s.Allow
	if s.AllowlistFile != "" {
		fromFile, err := LoadAllowlist(s.AllowlistFile)
		if err != nil {
			return nil, err
		}
		allow = append(append([]string(nil), allow...), fromFile...)
	}
	for _, r := range append(DefaultRules(), extra...) {
		c, err := r.compile()
		if err != nil {
			return nil, err
		}
		sc.rules = append(sc.rules, c)
	}
	for i, p := range allow {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("allow_list %d: %w", i, err)
		}
		sc.allow = append(sc.allow, re)
	}
	return sc, nil
}

// Enabled reports whether Scrub changes anything.
func (s *Scrubber) Enabled() bool { return s != nil && s.enabled }

// Redact returns content with every secret replaced.
func (s *Scrubber) Redact(content string) string {
	return s.Scrub(content).Scrubbed
}

// Scrub finds and redacts secrets. Overlapping matches are merged into a
// single replacement.
func (s *Scrubber) Scrub(content string) *Result {
	res := &Result{Scrubbed: content, ByRule: map[string]int{}}
	if !s.Enabled() || content == "" {
		return res
	}

	for _, rule := range s.rules {
		if !rule.applies(content) {
			continue
		}
		for _, m := range rule.re.FindAllStringIndex(content, -1) {
			if s.allowed(content[m[0]:m[1]]) {
				continue
			}
			res.Findings = append(res.Findings, Finding{
				RuleID:   rule.ID,
				Severity: rule.Severity,
				Start:    m[0],
				End:      m[1],
				Line:     strings.Count(content[:m[0]], "\n") + 1,
			})
			res.ByRule[rule.ID]++
		}
	}
	if len(res.Findings) == 0 {
		return res
	}

	slices.SortFunc(res.Findings, func(a, b Finding) int {
		return cmp.Or(cmp.Compare(a.Start, b.Start), cmp.Compare(b.End, a.End))
	})
	res.Scrubbed = s.apply(content, res.Findings)
	return res
}

// apply expects findings sorted by start.
func (s *Scrubber) apply(content string, findings []Finding) string {
	var b strings.Builder
	b.Grow(len(content))
	pos := 0
	for _, f := range findings {
		if f.End <= pos {
			continue
		}
		if f.Start >= pos {
			b.WriteString(content[pos:f.Start])
			b.WriteString(s.replacement)
		}
		pos = f.End
	}
	b.WriteString(content[pos:])
	return b.String()
}

func (s *Scrubber) allowed(match string) bool {
	for _, re := range s.allow {
		if re.MatchString(match) {
			return true
		}
	}
	return false
}
