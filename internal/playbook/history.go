package playbook

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// HistoryEntry records one applied delta.
type HistoryEntry struct {
	Timestamp time.Time `json:"timestamp"`
	// Mode is "full" for a complete rewrite and "delta" for a patch.
	Mode    string   `json:"mode"`
	Added   []string `json:"added,omitempty"`
	Changed []string `json:"changed,omitempty"`
	Removed []string `json:"removed,omitempty"`
}

// History is an append-only JSON-lines log of playbook changes.
type History struct {
	path string
	mu   sync.Mutex
}

// NewHistory returns a log writing to path.
func NewHistory(path string) *History {
	return &History{path: path}
}

// Append writes one entry for delta.
func (h *History) Append(at time.Time, mode string, delta Delta) error {
	e := HistoryEntry{Timestamp: at.UTC(), Mode: mode}
	for _, b := range delta.Added {
		e.Added = append(e.Added, b.ID)
	}
	for _, c := range delta.Changed {
		e.Changed = append(e.Changed, c.New.ID)
	}
	for _, b := range delta.Removed {
		e.Removed = append(e.Removed, b.ID)
	}

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding history entry: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(h.path), 0o755); err != nil {
		return fmt.Errorf("creating history directory: %w", err)
	}
	f, err := os.OpenFile(h.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening history: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return fmt.Errorf("writing history: %w", err)
	}
	return f.Close()
}

// Entries reads the whole log. A missing file is an empty history.
func (h *History) Entries() ([]HistoryEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	f, err := os.Open(h.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening history: %w", err)
	}
	defer f.Close()

	var out []HistoryEntry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e HistoryEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("decoding history entry: %w", err)
		}
		out = append(out, e)
	}
	return out, sc.Err()
}
