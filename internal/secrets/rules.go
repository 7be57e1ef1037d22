package secrets

import (
	"fmt"
	"regexp"
)

// Rule describes one kind of credential.
type Rule struct {
	ID      string
	Pattern string
	// Keywords gate the rule: when set, at least one must appear
	// (case-insensitively) somewhere in the content.
	Keywords []string
	Severity Severity
}

type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
)

type compiledRule struct {
	Rule
	re       *regexp.Regexp
	keywords []*regexp.Regexp
}

func (r Rule) compile() (*compiledRule, error) {
	if r.ID == "" {
		return nil, fmt.Errorf("rule %q: id is required", r.Pattern)
	}
	if r.Pattern == "" {
		return nil, fmt.Errorf("rule %s: pattern is required", r.ID)
	}
	re, err := regexp.Compile(r.Pattern)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", r.ID, err)
	}
	c := &compiledRule{Rule: r, re: re}
	for _, kw := range r.Keywords {
		c.keywords = append(c.keywords, regexp.MustCompile("(?i)"+regexp.QuoteMeta(kw)))
	}
	if c.Severity == "" {
		c.Severity = SeverityHigh
	}
	return c, nil
}

func (c *compiledRule) applies(content string) bool {
	if len(c.keywords) == 0 {
		return true
	}
	for _, kw := range c.keywords {
		if kw.MatchString(content) {
			return true
		}
	}
	return false
}

// DefaultRules covers the credentials most likely to sit in a source file or
// a failing test's output. Self-identifying prefixes need no keywords.
func DefaultRules() []Rule {
	return []Rule{
		{ID: "anthropic-api-key", Pattern: `sk-ant-[A-Za-z0-9_\-]{32,}`},
		{ID: "openai-api-key", Pattern: `sk-(?:proj-)?[A-Za-z0-9]{40,}`, Keywords: []string{"openai"}},
		{ID: "aws-access-key-id", Pattern: `(?:A3T[A-Z0-9]|AKIA|ASIA|AGPA|AIDA|AROA)[A-Z0-9]{16}`},
		{ID: "aws-secret-access-key", Pattern: `(?i)(?:aws_secret_access_key|secret_access_key)\s*[:=]\s*['"]?[A-Za-z0-9/+=]{40}['"]?`},
		{ID: "github-token", Pattern: `(?:ghp|gho|ghu|ghs|ghr)_[A-Za-z0-9]{36}`},
		{ID: "github-fine-grained", Pattern: `github_pat_[A-Za-z0-9_]{22,}`},
		{ID: "gitlab-token", Pattern: `glpat-[A-Za-z0-9\-]{20,}`},
		{ID: "slack-token", Pattern: `xox[baprs]-[A-Za-z0-9\-]{10,}`},
		{ID: "stripe-key", Pattern: `(?:sk|rk)_(?:live|test)_[A-Za-z0-9]{24,}`},
		{ID: "npm-token", Pattern: `npm_[A-Za-z0-9]{36}`},
		{ID: "google-api-key", Pattern: `AIza[A-Za-z0-9_\-]{35}`},
		{ID: "private-key", Pattern: `-----BEGIN (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY(?: BLOCK)?-----`},
		{ID: "jwt", Pattern: `eyJ[A-Za-z0-9_-]*\.eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]*`, Severity: SeverityMedium},
		{ID: "database-url", Pattern: `(?i)(?:postgres(?:ql)?|mysql|mongodb(?:\+srv)?|redis|amqp)://[^:\s/]+:[^@\s]+@[^\s'"]+`},
		{
			ID:       "generic-api-key",
			Pattern:  `(?i)(?:api[_-]?key|apikey|access[_-]?token|auth[_-]?token)\s*[:=]\s*['"]?[A-Za-z0-9_\-\.]{16,}['"]?`,
			Keywords: []string{"key", "token"},
		},
		{
			ID:       "generic-password",
			Pattern:  `(?i)(?:password|passwd|secret)\s*[:=]\s*['"][^'"\s]{8,}['"]`,
			Keywords: []string{"password", "passwd", "secret"},
			Severity: SeverityMedium,
		},
		{
			ID:       "bearer-token",
			Pattern:  `(?i)bearer\s+[A-Za-z0-9_\-\.=]{20,}`,
			Keywords: []string{"bearer"},
			Severity: SeverityMedium,
		},
	}
}
