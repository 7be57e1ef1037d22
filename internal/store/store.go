// Package store persists pattern records.
//
// Two implementations are provided: MemoryStore for tests and one-shot runs,
// and SQLiteStore for the on-disk pattern library. Both are safe for
// concurrent use and return records in a deterministic order.
package store

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/ce-dot-net/ace/internal/pattern"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("pattern not found")

// Store is the persistence contract the curator works against.
type Store interface {
	// Get returns the record with the given ID or ErrNotFound.
	Get(ctx context.Context, id string) (*pattern.Record, error)

	// List returns records matching filter ordered by CreatedAt, then ID.
	List(ctx context.Context, filter Filter) ([]*pattern.Record, error)

	// Put inserts or replaces a record. A record without a BulletID is
	// assigned the next free one for its prefix, and the caller's record
	// is updated with it.
	Put(ctx context.Context, r *pattern.Record) error

	// Delete removes a record. Deleting a missing record returns ErrNotFound.
	Delete(ctx context.Context, id string) error
}

// Filter narrows List. Zero-valued fields match everything.
type Filter struct {
	Domain string
	Kind   pattern.Kind
}

// ForScope is a filter matching exactly one curation scope.
func ForScope(s pattern.Scope) Filter {
	return Filter{Domain: s.Domain, Kind: s.Kind}
}

// Match reports whether r passes the filter.
func (f Filter) Match(r *pattern.Record) bool {
	if f.Domain != "" && r.Domain != f.Domain {
		return false
	}
	if f.Kind != "" && r.Kind != f.Kind {
		return false
	}
	return true
}

func sortRecords(records []*pattern.Record) {
	slices.SortStableFunc(records, func(a, b *pattern.Record) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

// nextBulletID returns the next bullet ID for prefix given the IDs in use.
func nextBulletID(prefix string, used []string) string {
	highest := 0
	for _, id := range used {
		if p, seq, ok := pattern.ParseBulletID(id); ok && p == prefix && seq > highest {
			highest = seq
		}
	}
	return pattern.FormatBulletID(prefix, highest+1)
}
