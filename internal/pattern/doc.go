// Package pattern defines curated pattern records, the confidence model that
// scores them, and the merge operation that folds one record into another.
//
// A record is scoped by (domain, kind). Everything that compares records
// (similarity, deduplication, merging) must stay inside one scope; use
// SameScope rather than comparing the fields by hand.
//
// Confidence is successes/observations clamped to [0, 1]:
//
//	observations == 0        -> 0
//	successes > observations -> 1 (corrupt input, see ConfidenceAnomaly)
//
// Thresholds carries the similarity, tier and pruning cut-offs used by the
// curator and the playbook renderer.
package pattern
