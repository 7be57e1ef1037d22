// Package ignore decides which project files cycles never inspect, using
// gitignore-style pattern files.
package ignore

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// rule is one parsed line. Later rules override earlier ones.
type rule struct {
	globs  []string
	negate bool
	dirs   bool
}

// Matcher reports whether paths under a project root are ignored.
type Matcher struct {
	root  string
	rules []rule
}

// Load reads every file in files that exists under root, then appends the
// extra patterns. Missing files are skipped.
func Load(root string, files, extra []string) (*Matcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving project root: %w", err)
	}
	m := &Matcher{root: abs}
	for _, name := range files {
		f, err := os.Open(filepath.Join(abs, name))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", name, err)
		}
		err = m.read(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
	}
	for _, line := range extra {
		if err := m.add(line); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Matcher) read(r io.Reader) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if err := m.add(sc.Text()); err != nil {
			return err
		}
	}
	return sc.Err()
}

func (m *Matcher) add(line string) error {
	r, ok := parseLine(line)
	if !ok {
		return nil
	}
	for _, g := range r.globs {
		if !doublestar.ValidatePattern(g) {
			return fmt.Errorf("invalid ignore pattern %q", line)
		}
	}
	m.rules = append(m.rules, r)
	return nil
}

// Len is the number of active rules.
func (m *Matcher) Len() int { return len(m.rules) }

// Ignored reports whether path is excluded. Relative paths are taken from
// the project root; paths outside the root are never ignored.
func (m *Matcher) Ignored(path string) bool {
	if m == nil || len(m.rules) == 0 {
		return false
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(m.root, path)
	}
	rel, err := filepath.Rel(m.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return false
	}
	rel = filepath.ToSlash(rel)

	ignored := false
	for _, r := range m.rules {
		if r.matches(rel) {
			ignored = !r.negate
		}
	}
	return ignored
}

func (r rule) matches(rel string) bool {
	for _, g := range r.globs {
		if ok, _ := doublestar.Match(g, rel); ok {
			return true
		}
	}
	return false
}

// parseLine turns one gitignore line into globs. A pattern without a slash
// matches at any depth; a pattern with one is anchored at the root. Every
// pattern also covers everything beneath a matching directory.
func parseLine(line string) (rule, bool) {
	line = strings.TrimRight(line, " \t\r")
	if line == "" || strings.HasPrefix(line, "#") {
		return rule{}, false
	}

	var r rule
	if strings.HasPrefix(line, "!") {
		r.negate = true
		line = line[1:]
	}
	line = strings.TrimPrefix(line, `\`)
	if strings.HasSuffix(line, "/") {
		r.dirs = true
		line = strings.TrimRight(line, "/")
	}
	if line == "" {
		return rule{}, false
	}

	anchored := strings.Contains(line, "/")
	line = strings.TrimPrefix(line, "/")
	if !anchored && !strings.HasPrefix(line, "**/") {
		line = "**/" + line
	}

	r.globs = []string{line + "/**"}
	if !r.dirs {
		r.globs = append(r.globs, line)
	}
	return r, true
}
