package detect

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"github.com/ce-dot-net/ace/internal/pattern"
)

var (
	ErrEmptyRuleID   = errors.New("rule ID cannot be empty")
	ErrEmptyRegex    = errors.New("rule regex cannot be empty")
	ErrDuplicateRule = errors.New("duplicate rule ID")
	ErrInvalidRuleID = errors.New("rule ID cannot contain whitespace or brackets")
)

// Rule is one regex-detectable coding pattern.
type Rule struct {
	ID          string       `yaml:"id"`
	Name        string       `yaml:"name"`
	Description string       `yaml:"description"`
	Domain      string       `yaml:"domain"`
	Kind        pattern.Kind `yaml:"kind"`
	Language    string       `yaml:"language"`
	Regex       string       `yaml:"regex"`

	// Extensions overrides the language's default file extensions.
	Extensions []string `yaml:"extensions,omitempty"`

	re *regexp.Regexp
}

// compile validates the rule and prepares its expression.
func (r *Rule) compile() error {
	if r.ID == "" {
		return ErrEmptyRuleID
	}
	// The ID ends up inside a playbook bullet's [...] marker.
	if strings.ContainsFunc(r.ID, func(c rune) bool { return unicode.IsSpace(c) || c == '[' || c == ']' }) {
		return fmt.Errorf("rule %q: %w", r.ID, ErrInvalidRuleID)
	}
	if r.Name == "" {
		return fmt.Errorf("rule %s: %w", r.ID, pattern.ErrEmptyName)
	}
	if r.Domain == "" {
		return fmt.Errorf("rule %s: %w", r.ID, pattern.ErrEmptyDomain)
	}
	kind, err := pattern.ParseKind(string(r.Kind))
	if err != nil {
		return fmt.Errorf("rule %s: %w", r.ID, err)
	}
	r.Kind = kind
	if r.Regex == "" {
		return fmt.Errorf("rule %s: %w", r.ID, ErrEmptyRegex)
	}
	re, err := regexp.Compile(r.Regex)
	if err != nil {
		return fmt.Errorf("rule %s: compiling regex: %w", r.ID, err)
	}
	r.re = re
	r.Language = strings.ToLower(r.Language)
	exts := make([]string, 0, len(r.Extensions))
	for _, ext := range r.Extensions {
		exts = append(exts, normalizeExt(ext))
	}
	r.Extensions = exts
	return nil
}

// Matches reports whether code contains the rule's pattern.
func (r *Rule) Matches(code string) bool {
	return r.re != nil && r.re.MatchString(code)
}

// AppliesTo reports whether the rule should run against path.
func (r *Rule) AppliesTo(path string) bool {
	ext := normalizeExt(filepath.Ext(path))
	if ext == "" {
		return false
	}
	if len(r.Extensions) > 0 {
		for _, e := range r.Extensions {
			if e == ext {
				return true
			}
		}
		return false
	}
	return languageByExt[ext] == r.Language
}

// Record turns the rule into an empty pattern record carrying the rule's ID.
func (r *Rule) Record() *pattern.Record {
	return &pattern.Record{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Domain:      r.Domain,
		Kind:        r.Kind,
		Language:    r.Language,
	}
}

var languageByExt = map[string]string{
	".py":  "python",
	".js":  "javascript",
	".jsx": "javascript",
	".mjs": "javascript",
	".ts":  "typescript",
	".tsx": "typescript",
}

// LanguageForPath returns the language detected from the file extension, or
// "" when the extension is not supported.
func LanguageForPath(path string) string {
	return languageByExt[normalizeExt(filepath.Ext(path))]
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
