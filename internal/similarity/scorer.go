// Package similarity scores how alike two pattern records are.
//
// Scores are in [0, 1], symmetric, and 1 for a record compared with itself.
// Records from different scopes (domain, kind) always score 0 when scored
// through Scoped.
package similarity

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ce-dot-net/ace/internal/embeddings"
	"github.com/ce-dot-net/ace/internal/pattern"
)

// ErrInvalidMode is returned for an unknown scoring mode.
var ErrInvalidMode = errors.New("invalid similarity mode")

// Scorer compares two records.
type Scorer interface {
	Score(ctx context.Context, a, b *pattern.Record) (float64, error)
}

// Warmer is implemented by scorers that benefit from seeing every record
// before pairwise comparison starts.
type Warmer interface {
	Warm(ctx context.Context, records []*pattern.Record) error
}

// Mode selects the scoring strategy.
type Mode string

const (
	ModeLexical  Mode = "lexical"
	ModeSemantic Mode = "semantic"
	// ModeBlend averages semantic and lexical scores with an explicit weight.
	ModeBlend Mode = "blend"
)

// Config configures New.
type Config struct {
	Mode Mode `koanf:"mode"`
	// BlendWeight is the semantic share of a blended score.
	BlendWeight float64 `koanf:"blend_weight"`
	CacheSize   int     `koanf:"cache_size"`
	Concurrency int     `koanf:"concurrency"`
	BatchSize   int     `koanf:"batch_size"`
}

// DefaultConfig is lexical scoring.
func DefaultConfig() Config {
	return Config{
		Mode:        ModeLexical,
		BlendWeight: 0.5,
		CacheSize:   4096,
		Concurrency: 4,
		BatchSize:   32,
	}
}

// Validate checks the mode and blend weight.
func (c Config) Validate() error {
	switch c.Mode {
	case ModeLexical, ModeSemantic, ModeBlend:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidMode, c.Mode)
	}
	if c.BlendWeight < 0 || c.BlendWeight > 1 {
		return fmt.Errorf("%w: blend weight %.2f outside [0,1]", ErrInvalidMode, c.BlendWeight)
	}
	return nil
}

// New builds the scorer cfg asks for. Semantic and blend modes without an
// embedder degrade to lexical scoring with a warning.
func New(cfg Config, embedder embeddings.Embedder, logger *zap.Logger, opts ...SemanticOption) (Scorer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Mode == ModeLexical {
		return Lexical{}, nil
	}
	if embedder == nil {
		logger.Warn("no embedder configured, using lexical similarity", zap.String("mode", string(cfg.Mode)))
		return Lexical{}, nil
	}

	sem, err := NewSemantic(embedder, cfg, logger, opts...)
	if err != nil {
		return nil, err
	}
	if cfg.Mode == ModeBlend {
		return &Blend{Semantic: sem, Weight: cfg.BlendWeight}, nil
	}
	return sem, nil
}

// Blend is a weighted average of semantic and lexical scores.
type Blend struct {
	Semantic *Semantic
	// Weight is the semantic share in [0, 1].
	Weight float64
}

// Score implements Scorer.
func (b *Blend) Score(ctx context.Context, x, y *pattern.Record) (float64, error) {
	sem, err := b.Semantic.Score(ctx, x, y)
	if err != nil {
		return 0, err
	}
	return clamp01(b.Weight*sem + (1-b.Weight)*LexicalScore(x, y)), nil
}

// Warm implements Warmer.
func (b *Blend) Warm(ctx context.Context, records []*pattern.Record) error {
	return b.Semantic.Warm(ctx, records)
}

// Scoped wraps a scorer so records from different scopes score 0.
func Scoped(s Scorer) Scorer {
	if _, ok := s.(scoped); ok {
		return s
	}
	return scoped{inner: s}
}

type scoped struct {
	inner Scorer
}

func (s scoped) Score(ctx context.Context, a, b *pattern.Record) (float64, error) {
	if !pattern.SameScope(a, b) {
		return 0, nil
	}
	return s.inner.Score(ctx, a, b)
}

func (s scoped) Warm(ctx context.Context, records []*pattern.Record) error {
	if w, ok := s.inner.(Warmer); ok {
		return w.Warm(ctx, records)
	}
	return nil
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
