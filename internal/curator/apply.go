package curator

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ce-dot-net/ace/internal/pattern"
	"github.com/ce-dot-net/ace/internal/store"
)

// ScopeLocks serializes curation passes per (domain, kind) scope.
type ScopeLocks struct {
	mu    sync.Mutex
	locks map[pattern.Scope]*sync.Mutex
}

// NewScopeLocks creates an empty lock table.
func NewScopeLocks() *ScopeLocks {
	return &ScopeLocks{locks: make(map[pattern.Scope]*sync.Mutex)}
}

func (l *ScopeLocks) get(s pattern.Scope) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[s]
	if !ok {
		m = &sync.Mutex{}
		l.locks[s] = m
	}
	return m
}

// Lock acquires the lock for s and returns its release function.
func (l *ScopeLocks) Lock(s pattern.Scope) func() {
	m := l.get(s)
	m.Lock()
	return m.Unlock
}

// LockAll acquires the locks for every scope in a fixed order so that
// overlapping batch passes cannot deadlock.
func (l *ScopeLocks) LockAll(scopes []pattern.Scope) func() {
	sorted := slices.Clone(scopes)
	slices.SortFunc(sorted, func(a, b pattern.Scope) int {
		if c := strings.Compare(a.Domain, b.Domain); c != 0 {
			return c
		}
		return strings.Compare(string(a.Kind), string(b.Kind))
	})
	sorted = slices.Compact(sorted)

	unlocks := make([]func(), 0, len(sorted))
	for _, s := range sorted {
		unlocks = append(unlocks, l.Lock(s))
	}
	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}

// BatchReport summarizes a store-backed batch pass. Individual failures do
// not stop the pass.
type BatchReport struct {
	Updated []string
	Deleted []string
	Failed  map[string]error
}

func newBatchReport() BatchReport {
	return BatchReport{Failed: make(map[string]error)}
}

// Err joins every per-record failure, or returns nil.
func (r BatchReport) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	ids := make([]string, 0, len(r.Failed))
	for id := range r.Failed {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	errs := make([]error, 0, len(ids))
	for _, id := range ids {
		errs = append(errs, fmt.Errorf("%s: %w", id, r.Failed[id]))
	}
	return errors.Join(errs...)
}

// Observe applies one candidate observation to the store.
//
// A candidate whose ID is already stored is folded into that record, unless
// the candidate is the stored record itself: that is a re-evaluation and
// goes through Reevaluate. Otherwise the candidate is decided against its
// scope: merged into the best match, created, or (when it arrives already
// sampled and unreliable) dropped. The whole operation holds the
// candidate's scope lock.
func (c *Curator) Observe(ctx context.Context, st store.Store, candidate *pattern.Record) (Decision, error) {
	if candidate == nil {
		return Decision{}, pattern.ErrInvalidRecord
	}
	start := time.Now()
	defer func() { c.metrics.PassDuration.WithLabelValues("observe").Observe(time.Since(start).Seconds()) }()

	unlock := c.locks.Lock(candidate.Scope())
	defer unlock()

	if candidate.ID != "" {
		existing, err := st.Get(ctx, candidate.ID)
		switch {
		case err == nil && !pattern.SameScope(existing, candidate):
			return Decision{}, fmt.Errorf("pattern %s is stored under scope %s, observed as %s",
				candidate.ID, existing.Scope(), candidate.Scope())
		case err == nil && isSnapshot(existing, candidate):
			return c.reevaluate(ctx, st, existing)
		case err == nil:
			merged := pattern.Merge(existing, candidate)
			if err := st.Put(ctx, merged); err != nil {
				return Decision{}, fmt.Errorf("updating pattern %s: %w", existing.ID, err)
			}
			c.metrics.Decisions.WithLabelValues(string(ActionMerge)).Inc()
			c.logger.Debug("observation folded into existing pattern",
				zap.String("pattern_id", existing.ID),
				zap.Int("observations", merged.Observations),
				zap.Float64("confidence", merged.Confidence))
			return Decision{
				Action:     ActionMerge,
				TargetID:   existing.ID,
				Similarity: 1,
				Confidence: c.confidence(candidate),
				Reasoning:  "pattern already in library",
			}, nil
		case !errors.Is(err, store.ErrNotFound):
			return Decision{}, fmt.Errorf("looking up pattern %s: %w", candidate.ID, err)
		}
	}

	library, err := st.List(ctx, store.ForScope(candidate.Scope()))
	if err != nil {
		return Decision{}, fmt.Errorf("listing scope %s: %w", candidate.Scope(), err)
	}

	d, err := c.Decide(ctx, candidate, library)
	if err != nil {
		return Decision{}, err
	}

	switch d.Action {
	case ActionMerge:
		idx := slices.IndexFunc(library, func(r *pattern.Record) bool { return r.ID == d.TargetID })
		merged := pattern.Merge(library[idx], candidate)
		if err := st.Put(ctx, merged); err != nil {
			return d, fmt.Errorf("merging into %s: %w", d.TargetID, err)
		}
		c.logger.Info("merged observation into similar pattern",
			zap.String("pattern_id", candidate.ID),
			zap.String("target_id", d.TargetID),
			zap.Float64("similarity", d.Similarity))
	case ActionCreate:
		created := candidate.Clone()
		if created.ID == "" {
			created.ID = uuid.New().String()
		}
		now := time.Now().UTC()
		if created.CreatedAt.IsZero() {
			created.CreatedAt = now
		}
		if created.LastSeen.IsZero() {
			created.LastSeen = now
		}
		created.Recompute()
		if err := st.Put(ctx, created); err != nil {
			return d, fmt.Errorf("creating pattern %s: %w", created.ID, err)
		}
		candidate.ID = created.ID
		candidate.BulletID = created.BulletID
		c.logger.Info("created pattern",
			zap.String("pattern_id", created.ID),
			zap.String("bullet_id", created.BulletID),
			zap.String("name", created.Name))
	case ActionPrune:
		c.logger.Info("dropped unreliable observation",
			zap.String("pattern_id", candidate.ID),
			zap.String("reason", d.Reasoning))
	}
	return d, nil
}

// Reevaluate decides again on the stored record id against the rest of its
// scope. A record that now matches another is merged into it and its own row
// deleted; a sampled unreliable record is deleted; anything else is kept.
func (c *Curator) Reevaluate(ctx context.Context, st store.Store, id string) (Decision, error) {
	r, err := st.Get(ctx, id)
	if err != nil {
		return Decision{}, fmt.Errorf("looking up pattern %s: %w", id, err)
	}
	start := time.Now()
	defer func() { c.metrics.PassDuration.WithLabelValues("reevaluate").Observe(time.Since(start).Seconds()) }()

	unlock := c.locks.Lock(r.Scope())
	defer unlock()

	// Re-read under the lock; the scope of a stored ID never changes.
	r, err = st.Get(ctx, id)
	if err != nil {
		return Decision{}, fmt.Errorf("looking up pattern %s: %w", id, err)
	}
	return c.reevaluate(ctx, st, r)
}

// reevaluate expects the scope lock of r to be held.
func (c *Curator) reevaluate(ctx context.Context, st store.Store, r *pattern.Record) (Decision, error) {
	library, err := st.List(ctx, store.ForScope(r.Scope()))
	if err != nil {
		return Decision{}, fmt.Errorf("listing scope %s: %w", r.Scope(), err)
	}
	d, err := c.Decide(ctx, r, library)
	if err != nil {
		return Decision{}, err
	}

	switch d.Action {
	case ActionMerge:
		idx := slices.IndexFunc(library, func(t *pattern.Record) bool { return t.ID == d.TargetID })
		merged := pattern.Merge(library[idx], r)
		// Delete first: a surviving row must never also be counted in the target.
		if err := st.Delete(ctx, r.ID); err != nil {
			return d, fmt.Errorf("removing %s before merge: %w", r.ID, err)
		}
		if err := st.Put(ctx, merged); err != nil {
			if rerr := st.Put(ctx, r); rerr != nil {
				err = errors.Join(err, fmt.Errorf("restoring %s: %w", r.ID, rerr))
			}
			return d, fmt.Errorf("merging %s into %s: %w", r.ID, d.TargetID, err)
		}
		c.logger.Info("merged re-evaluated pattern into similar pattern",
			zap.String("pattern_id", r.ID),
			zap.String("target_id", d.TargetID),
			zap.Float64("similarity", d.Similarity))
	case ActionPrune:
		if err := st.Delete(ctx, r.ID); err != nil {
			return d, fmt.Errorf("pruning %s: %w", r.ID, err)
		}
		c.logger.Info("pruned re-evaluated pattern",
			zap.String("pattern_id", r.ID),
			zap.String("reason", d.Reasoning))
	case ActionCreate:
		d.Reasoning = "kept: " + d.Reasoning
	}
	return d, nil
}

// isSnapshot reports whether candidate is the stored record read back rather
// than a new observation of it.
func isSnapshot(stored, candidate *pattern.Record) bool {
	return stored.Observations == candidate.Observations &&
		stored.Successes == candidate.Successes &&
		stored.Failures == candidate.Failures &&
		stored.Neutrals == candidate.Neutrals &&
		stored.LastSeen.Equal(candidate.LastSeen) &&
		stored.CreatedAt.Equal(candidate.CreatedAt)
}

// DeduplicateStore merges similar records in every scope matching filter
// and writes the result back. Absorbed records are deleted.
func (c *Curator) DeduplicateStore(ctx context.Context, st store.Store, filter store.Filter) (BatchReport, error) {
	start := time.Now()
	defer func() { c.metrics.PassDuration.WithLabelValues("dedup").Observe(time.Since(start).Seconds()) }()

	report := newBatchReport()
	library, unlock, err := c.lockedList(ctx, st, filter)
	if err != nil {
		return report, err
	}
	defer unlock()

	res, err := c.Deduplicate(ctx, library)
	if err != nil {
		return report, err
	}

	byID := make(map[string]*pattern.Record, len(library))
	for _, r := range library {
		if r != nil {
			byID[r.ID] = r
		}
	}

	for _, r := range res.Records {
		absorbed, ok := res.Merged[r.ID]
		if !ok {
			continue
		}
		// Absorbed rows go first, and the representative only takes the
		// counters of rows that are really gone.
		merged := byID[r.ID].Clone()
		var gone []*pattern.Record
		for _, id := range absorbed {
			if err := st.Delete(ctx, id); err != nil {
				c.recordFailure(&report, "delete", id, err)
				continue
			}
			merged = pattern.Merge(merged, byID[id])
			gone = append(gone, byID[id])
		}
		if len(gone) == 0 {
			continue
		}
		if err := st.Put(ctx, merged); err != nil {
			c.recordFailure(&report, "put", r.ID, err)
			c.restore(ctx, st, &report, gone)
			continue
		}
		report.Updated = append(report.Updated, r.ID)
		for _, g := range gone {
			report.Deleted = append(report.Deleted, g.ID)
		}
	}
	return report, nil
}

// restore puts back records deleted ahead of a write that then failed.
func (c *Curator) restore(ctx context.Context, st store.Store, report *BatchReport, records []*pattern.Record) {
	for _, r := range records {
		if err := st.Put(ctx, r); err != nil {
			c.recordFailure(report, "restore", r.ID, err)
		}
	}
}

// PruneStore deletes every prunable record matching filter.
func (c *Curator) PruneStore(ctx context.Context, st store.Store, filter store.Filter) (BatchReport, error) {
	start := time.Now()
	defer func() { c.metrics.PassDuration.WithLabelValues("prune").Observe(time.Since(start).Seconds()) }()

	report := newBatchReport()
	library, unlock, err := c.lockedList(ctx, st, filter)
	if err != nil {
		return report, err
	}
	defer unlock()

	for _, r := range c.Prune(library).Pruned {
		if err := st.Delete(ctx, r.ID); err != nil {
			c.recordFailure(&report, "delete", r.ID, err)
			continue
		}
		report.Deleted = append(report.Deleted, r.ID)
	}
	return report, nil
}

// lockedList lists the records matching filter and holds the locks of every
// scope they belong to. The scopes named by filter itself are locked before
// listing when the filter pins one scope.
func (c *Curator) lockedList(ctx context.Context, st store.Store, filter store.Filter) ([]*pattern.Record, func(), error) {
	if filter.Domain != "" && filter.Kind != "" {
		unlock := c.locks.Lock(pattern.Scope{Domain: filter.Domain, Kind: filter.Kind})
		library, err := st.List(ctx, filter)
		if err != nil {
			unlock()
			return nil, nil, fmt.Errorf("listing patterns: %w", err)
		}
		return library, unlock, nil
	}

	library, err := st.List(ctx, filter)
	if err != nil {
		return nil, nil, fmt.Errorf("listing patterns: %w", err)
	}
	locked := make(map[pattern.Scope]bool)
	for attempt := 0; attempt < maxLockAttempts; attempt++ {
		for _, r := range library {
			locked[r.Scope()] = true
		}
		unlock := c.locks.LockAll(slices.Collect(maps.Keys(locked)))

		// Re-read under the locks so no concurrent pass slipped in between.
		library, err = st.List(ctx, filter)
		if err != nil {
			unlock()
			return nil, nil, fmt.Errorf("listing patterns: %w", err)
		}
		if coveredBy(library, locked) {
			return library, unlock, nil
		}
		// A scope appeared between the reads; lock it too and retry.
		unlock()
	}
	return nil, nil, fmt.Errorf("listing patterns: scopes kept changing after %d attempts", maxLockAttempts)
}

const maxLockAttempts = 5

func coveredBy(library []*pattern.Record, locked map[pattern.Scope]bool) bool {
	for _, r := range library {
		if !locked[r.Scope()] {
			return false
		}
	}
	return true
}

func (c *Curator) recordFailure(report *BatchReport, op, id string, err error) {
	report.Failed[id] = err
	c.metrics.StoreFailures.WithLabelValues(op).Inc()
	c.logger.Warn("store operation failed, continuing batch",
		zap.String("op", op),
		zap.String("pattern_id", id),
		zap.Error(err))
}
