package pattern

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Common errors for pattern record operations.
var (
	ErrInvalidRecord   = errors.New("invalid pattern record")
	ErrEmptyID         = errors.New("pattern ID cannot be empty")
	ErrEmptyName       = errors.New("pattern name cannot be empty")
	ErrEmptyDomain     = errors.New("pattern domain cannot be empty")
	ErrInvalidKind     = errors.New("kind must be 'beneficial' or 'harmful'")
	ErrNegativeCounter = errors.New("pattern counters cannot be negative")
	ErrCounterMismatch = errors.New("successes + failures + neutrals must equal observations")
)

// MaxInsights is how many verdict insights a record retains. Older insights
// are dropped first.
const MaxInsights = 10

// Kind distinguishes strategies worth repeating from anti-patterns.
type Kind string

const (
	// KindBeneficial marks a strategy that should be repeated.
	KindBeneficial Kind = "beneficial"

	// KindHarmful marks an anti-pattern that should be avoided.
	KindHarmful Kind = "harmful"
)

// ParseKind accepts the canonical kind names plus the "helpful"/"anti-pattern"
// spellings found in older catalogs.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "beneficial", "helpful", "good":
		return KindBeneficial, nil
	case "harmful", "anti-pattern", "antipattern", "bad":
		return KindHarmful, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	return k == KindBeneficial || k == KindHarmful
}

// Scope is the partition a record is curated in. Records are only ever
// compared, merged or clustered with records of the same scope.
type Scope struct {
	Domain string `json:"domain"`
	Kind   Kind   `json:"kind"`
}

func (s Scope) String() string {
	return s.Domain + "/" + string(s.Kind)
}

// Outcome is what a single verdict says a pattern contributed to.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeNeutral Outcome = "neutral"
)

// ParseOutcome maps free-form oracle output onto an Outcome. Anything
// unrecognised is neutral.
func ParseOutcome(s string) Outcome {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "success", "succeeded", "pass", "passed":
		return OutcomeSuccess
	case "failure", "failed", "fail":
		return OutcomeFailure
	default:
		return OutcomeNeutral
	}
}

// Insight is one qualitative observation recorded against a pattern.
type Insight struct {
	Timestamp        time.Time `json:"timestamp"`
	Text             string    `json:"insight"`
	Recommendation   string    `json:"recommendation,omitempty"`
	Confidence       float64   `json:"confidence"`
	AppliedCorrectly bool      `json:"applied_correctly"`
}

// Record is a single curated pattern.
//
// Observations always equals Successes + Failures + Neutrals. Confidence is
// derived from the counters and must be refreshed with Recompute after any
// counter change; it is stored only so that readers do not have to
// recompute it.
type Record struct {
	// ID is the stable identifier, unique within a store.
	ID string `json:"id"`

	// BulletID is the short playbook identifier (e.g. "py-00001"). It is
	// assigned once by the store and survives merges.
	BulletID string `json:"bullet_id,omitempty"`

	// Name is the primary similarity signal.
	Name string `json:"name"`

	// Description is the secondary similarity signal.
	Description string `json:"description,omitempty"`

	Domain   string `json:"domain"`
	Kind     Kind   `json:"kind"`
	Language string `json:"language,omitempty"`

	Observations int `json:"observations"`
	Successes    int `json:"successes"`
	Failures     int `json:"failures"`
	Neutrals     int `json:"neutrals"`

	Confidence float64 `json:"confidence"`

	Insights []Insight `json:"insights,omitempty"`

	LastSeen  time.Time `json:"last_seen"`
	CreatedAt time.Time `json:"created_at"`
}

// NewRecord creates an empty record with a generated ID.
func NewRecord(name, description, domain string, kind Kind) (*Record, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	if domain == "" {
		return nil, ErrEmptyDomain
	}
	if !kind.Valid() {
		return nil, ErrInvalidKind
	}
	now := time.Now().UTC()
	return &Record{
		ID:          uuid.New().String(),
		Name:        name,
		Description: description,
		Domain:      domain,
		Kind:        kind,
		LastSeen:    now,
		CreatedAt:   now,
	}, nil
}

// Scope returns the (domain, kind) partition of the record.
func (r *Record) Scope() Scope {
	return Scope{Domain: r.Domain, Kind: r.Kind}
}

// SameScope reports whether two records may be compared at all.
func SameScope(a, b *Record) bool {
	return a != nil && b != nil && a.Domain == b.Domain && a.Kind == b.Kind
}

// Validate checks the structural invariants of a record.
func (r *Record) Validate() error {
	switch {
	case r == nil:
		return ErrInvalidRecord
	case r.ID == "":
		return ErrEmptyID
	case r.Name == "":
		return ErrEmptyName
	case r.Domain == "":
		return ErrEmptyDomain
	case !r.Kind.Valid():
		return ErrInvalidKind
	case r.Observations < 0 || r.Successes < 0 || r.Failures < 0 || r.Neutrals < 0:
		return ErrNegativeCounter
	case r.Successes+r.Failures+r.Neutrals != r.Observations:
		return fmt.Errorf("%w: %d+%d+%d != %d", ErrCounterMismatch,
			r.Successes, r.Failures, r.Neutrals, r.Observations)
	}
	return nil
}

// Normalize repairs counters read from loosely-typed sources. Negative
// values become zero, observations are raised to cover the outcome
// counters, and any shortfall is booked as neutral. It never invents
// successes or failures. Confidence is recomputed.
func (r *Record) Normalize() {
	r.Observations = max(r.Observations, 0)
	r.Successes = max(r.Successes, 0)
	r.Failures = max(r.Failures, 0)
	r.Neutrals = max(r.Neutrals, 0)

	sum := r.Successes + r.Failures + r.Neutrals
	if sum > r.Observations {
		r.Observations = sum
	} else if sum < r.Observations {
		r.Neutrals += r.Observations - sum
	}
	r.Recompute()
}

// Recompute refreshes Confidence from the counters.
func (r *Record) Recompute() {
	r.Confidence = Confidence(r.Observations, r.Successes)
}

// Observe books one verdict against the record.
func (r *Record) Observe(outcome Outcome, at time.Time) {
	r.Observations++
	switch outcome {
	case OutcomeSuccess:
		r.Successes++
	case OutcomeFailure:
		r.Failures++
	default:
		r.Neutrals++
	}
	if at.After(r.LastSeen) {
		r.LastSeen = at
	}
	r.Recompute()
}

// AddInsight appends an insight, keeping the most recent MaxInsights.
func (r *Record) AddInsight(in Insight) {
	r.Insights = capInsights(append(r.Insights, in))
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.Insights != nil {
		c.Insights = make([]Insight, len(r.Insights))
		copy(c.Insights, r.Insights)
	}
	return &c
}

// Text is the string semantic scorers embed for the record.
func (r *Record) Text() string {
	if r.Description == "" {
		return r.Name
	}
	return r.Name + ". " + r.Description
}

func capInsights(in []Insight) []Insight {
	if len(in) <= MaxInsights {
		return in
	}
	out := make([]Insight, MaxInsights)
	copy(out, in[len(in)-MaxInsights:])
	return out
}
