package secrets

import (
	"errors"
	"fmt"
	"io/fs"
	"regexp"

	"github.com/BurntSushi/toml"
)

// LoadAllowlist reads the content regexes of a gitleaks-style TOML file:
//
//	[allowlist]
//	regexes = ['''AKIA[0-9A-Z]{9}EXAMPLE''']
//
// A missing file yields no regexes. Path entries are accepted and unused.
func LoadAllowlist(path string) ([]string, error) {
	var doc struct {
		Allowlist struct {
			Paths   []string
			Regexes []string
		}
	}
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("decoding allowlist %s: %w", path, err)
	}
	for _, p := range doc.Allowlist.Regexes {
		if _, err := regexp.Compile(p); err != nil {
			return nil, fmt.Errorf("allowlist %s: invalid regex %q: %w", path, p, err)
		}
	}
	return doc.Allowlist.Regexes, nil
}
