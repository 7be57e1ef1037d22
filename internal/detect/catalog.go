package detect

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Catalog is an ordered, validated set of detection rules.
type Catalog struct {
	rules []*Rule
	byID  map[string]*Rule
}

// NewCatalog validates rules and compiles their expressions. Rule IDs must
// be unique.
func NewCatalog(rules []Rule) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]*Rule, len(rules))}
	for i := range rules {
		r := rules[i]
		if err := r.compile(); err != nil {
			return nil, err
		}
		if _, dup := c.byID[r.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRule, r.ID)
		}
		c.rules = append(c.rules, &r)
		c.byID[r.ID] = &r
	}
	return c, nil
}

type catalogFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadCatalog decodes a YAML document of the form
//
//	rules:
//	  - id: py-001
//	    name: Use TypedDict for configs
//	    ...
func LoadCatalog(r io.Reader) (*Catalog, error) {
	var f catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decoding catalog: %w", err)
	}
	return NewCatalog(f.Rules)
}

// LoadCatalogFile reads a YAML catalog from path.
func LoadCatalogFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	return LoadCatalog(bytes.NewReader(data))
}

// Rules returns the rules in catalog order.
func (c *Catalog) Rules() []*Rule {
	out := make([]*Rule, len(c.rules))
	copy(out, c.rules)
	return out
}

// Rule looks up a rule by ID.
func (c *Catalog) Rule(id string) (*Rule, bool) {
	r, ok := c.byID[id]
	return r, ok
}

// Len returns the number of rules.
func (c *Catalog) Len() int { return len(c.rules) }

// Covers reports whether any rule applies to path.
func (c *Catalog) Covers(path string) bool {
	for _, r := range c.rules {
		if r.AppliesTo(path) {
			return true
		}
	}
	return false
}

// Detect returns every rule that applies to path and matches code, in
// catalog order. Each rule appears at most once.
func (c *Catalog) Detect(path, code string) []*Rule {
	var out []*Rule
	for _, r := range c.rules {
		if r.AppliesTo(path) && r.Matches(code) {
			out = append(out, r)
		}
	}
	return out
}
