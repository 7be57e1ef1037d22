package curator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/ce-dot-net/ace/internal/pattern"
	"github.com/ce-dot-net/ace/internal/store"
)

// BundleVersion is the format version written by Export.
const BundleVersion = "1"

var ErrUnsupportedBundle = errors.New("unsupported pattern bundle")

// Bundle is a portable snapshot of a pattern library, used to carry what
// one project learned into another.
type Bundle struct {
	Version           string            `json:"version"`
	ExportedAt        time.Time         `json:"exported_at"`
	Project           string            `json:"project,omitempty"`
	Patterns          []*pattern.Record `json:"patterns"`
	TotalPatterns     int               `json:"total_patterns"`
	TotalObservations int               `json:"total_observations"`
}

// Export snapshots every record in st.
func Export(ctx context.Context, st store.Store, project string, now time.Time) (*Bundle, error) {
	records, err := st.List(ctx, store.Filter{})
	if err != nil {
		return nil, fmt.Errorf("listing patterns: %w", err)
	}
	b := &Bundle{
		Version:       BundleVersion,
		ExportedAt:    now.UTC(),
		Project:       project,
		Patterns:      records,
		TotalPatterns: len(records),
	}
	for _, r := range records {
		b.TotalObservations += r.Observations
	}
	return b, nil
}

// WriteTo encodes the bundle as indented JSON.
func (b *Bundle) WriteTo(w io.Writer) (int64, error) {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("encoding bundle: %w", err)
	}
	n, err := w.Write(append(data, '\n'))
	return int64(n), err
}

// ReadBundle decodes a bundle written by Export. Counters are normalized
// and every record must be valid afterwards.
func ReadBundle(r io.Reader) (*Bundle, error) {
	var b Bundle
	if err := json.NewDecoder(r).Decode(&b); err != nil {
		return nil, fmt.Errorf("decoding bundle: %w", err)
	}
	if b.Version != BundleVersion {
		return nil, fmt.Errorf("%w: version %q", ErrUnsupportedBundle, b.Version)
	}
	b.Patterns = slices.DeleteFunc(b.Patterns, func(r *pattern.Record) bool { return r == nil })
	for i, r := range b.Patterns {
		r.Normalize()
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("pattern %d (%q): %w", i, r.ID, err)
		}
	}
	return &b, nil
}

// ImportStrategy says what happens to an imported record whose ID is
// already stored.
type ImportStrategy string

const (
	// ImportSmart folds every record in through Observe, so imports merge
	// with similar local patterns and sampled unreliable ones are dropped.
	ImportSmart ImportStrategy = "smart"

	// ImportOverwrite replaces stored records with the same ID.
	ImportOverwrite ImportStrategy = "overwrite"

	// ImportSkipExisting leaves stored records alone and curates the rest.
	ImportSkipExisting ImportStrategy = "skip-existing"
)

// ParseImportStrategy validates s.
func ParseImportStrategy(s string) (ImportStrategy, error) {
	switch st := ImportStrategy(s); st {
	case ImportSmart, ImportOverwrite, ImportSkipExisting:
		return st, nil
	}
	return "", fmt.Errorf("unknown import strategy %q (want smart, overwrite or skip-existing)", s)
}

// ImportReport lists what Import did with each record, by imported ID.
type ImportReport struct {
	Created     []string         `json:"created"`
	Merged      []string         `json:"merged"`
	Overwritten []string         `json:"overwritten"`
	Skipped     []string         `json:"skipped"`
	Pruned      []string         `json:"pruned"`
	Failed      map[string]error `json:"-"`
}

// Changed reports whether the store was written.
func (r ImportReport) Changed() bool {
	return len(r.Created)+len(r.Merged)+len(r.Overwritten)+len(r.Pruned) > 0
}

// Err joins every per-record failure, or returns nil.
func (r ImportReport) Err() error {
	return BatchReport{Failed: r.Failed}.Err()
}

// Import applies a bundle to st. Bullet IDs from the other project are
// dropped so the store numbers imports itself. A record identical to the
// stored one is skipped under every strategy. One failing record does not
// stop the import.
func (c *Curator) Import(ctx context.Context, st store.Store, b *Bundle, strategy ImportStrategy) (ImportReport, error) {
	report := ImportReport{Failed: make(map[string]error)}
	if b == nil {
		return report, ErrUnsupportedBundle
	}
	if _, err := ParseImportStrategy(string(strategy)); err != nil {
		return report, err
	}

	for _, in := range b.Patterns {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		rec := in.Clone()
		rec.BulletID = ""

		existing, err := st.Get(ctx, rec.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			c.recordImportFailure(&report, in.ID, err)
			continue
		}
		found := err == nil
		switch {
		case found && pattern.SameScope(existing, rec) && isSnapshot(existing, rec):
			// Already identical, e.g. a project re-importing its own export.
			report.Skipped = append(report.Skipped, in.ID)
			continue
		case found && strategy == ImportSkipExisting:
			report.Skipped = append(report.Skipped, in.ID)
			continue
		case found && strategy == ImportOverwrite:
			if err := c.overwrite(ctx, st, rec); err != nil {
				c.recordImportFailure(&report, in.ID, err)
				continue
			}
			report.Overwritten = append(report.Overwritten, in.ID)
			continue
		}

		d, err := c.Observe(ctx, st, rec)
		if err != nil {
			c.recordImportFailure(&report, in.ID, err)
			continue
		}
		switch d.Action {
		case ActionMerge:
			report.Merged = append(report.Merged, in.ID)
		case ActionCreate:
			report.Created = append(report.Created, in.ID)
		case ActionPrune:
			report.Pruned = append(report.Pruned, in.ID)
		}
	}

	c.logger.Info("imported pattern bundle",
		zap.String("project", b.Project),
		zap.String("strategy", string(strategy)),
		zap.Int("created", len(report.Created)),
		zap.Int("merged", len(report.Merged)),
		zap.Int("overwritten", len(report.Overwritten)),
		zap.Int("skipped", len(report.Skipped)),
		zap.Int("pruned", len(report.Pruned)),
		zap.Int("failed", len(report.Failed)))
	return report, nil
}

// overwrite replaces the stored record, keeping its bullet ID.
func (c *Curator) overwrite(ctx context.Context, st store.Store, rec *pattern.Record) error {
	unlock := c.locks.Lock(rec.Scope())
	defer unlock()

	existing, err := st.Get(ctx, rec.ID)
	if err != nil {
		return fmt.Errorf("looking up pattern %s: %w", rec.ID, err)
	}
	if !pattern.SameScope(existing, rec) {
		return fmt.Errorf("pattern %s is stored under scope %s, imported as %s",
			rec.ID, existing.Scope(), rec.Scope())
	}
	rec.BulletID = existing.BulletID
	rec.Recompute()
	if err := st.Put(ctx, rec); err != nil {
		return fmt.Errorf("overwriting pattern %s: %w", rec.ID, err)
	}
	return nil
}

func (c *Curator) recordImportFailure(report *ImportReport, id string, err error) {
	report.Failed[id] = err
	c.logger.Warn("import of pattern failed, continuing",
		zap.String("pattern_id", id),
		zap.Error(err))
}
