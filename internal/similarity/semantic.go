package similarity

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ce-dot-net/ace/internal/embeddings"
	"github.com/ce-dot-net/ace/internal/pattern"
)

// SemanticOption configures a Semantic scorer.
type SemanticOption func(*Semantic)

// WithFallbackHook registers a callback invoked each time an embedding
// failure forces a lexical score.
func WithFallbackHook(fn func(err error)) SemanticOption {
	return func(s *Semantic) { s.onFallback = fn }
}

// Semantic scores records by cosine similarity of their embeddings. When the
// embedder fails it logs a warning and returns the lexical score instead.
type Semantic struct {
	embedder    embeddings.Embedder
	cache       *lru.Cache[string, []float32]
	logger      *zap.Logger
	concurrency int
	batchSize   int
	onFallback  func(error)
	fallbacks   atomic.Int64
}

// NewSemantic creates a semantic scorer around embedder.
func NewSemantic(embedder embeddings.Embedder, cfg Config, logger *zap.Logger, opts ...SemanticOption) (*Semantic, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: semantic scoring needs an embedder", ErrInvalidMode)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = def.CacheSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}

	cache, err := lru.New[string, []float32](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating embedding cache: %w", err)
	}

	s := &Semantic{
		embedder:    embedder,
		cache:       cache,
		logger:      logger,
		concurrency: cfg.Concurrency,
		batchSize:   cfg.BatchSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Score implements Scorer. It never returns an error: embedding failures
// degrade to LexicalScore.
func (s *Semantic) Score(ctx context.Context, a, b *pattern.Record) (float64, error) {
	ta, tb := a.Text(), b.Text()
	if ta == tb {
		return 1, nil
	}

	va, err := s.vector(ctx, ta)
	if err != nil {
		return s.fallback(a, b, err), nil
	}
	vb, err := s.vector(ctx, tb)
	if err != nil {
		return s.fallback(a, b, err), nil
	}
	return clamp01(CosineSimilarity(va, vb)), nil
}

// Warm embeds every uncached record text in parallel batches so that the
// pairwise comparisons that follow are cache hits.
func (s *Semantic) Warm(ctx context.Context, records []*pattern.Record) error {
	seen := make(map[string]struct{}, len(records))
	var missing []string
	for _, r := range records {
		t := r.Text()
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if !s.cache.Contains(t) {
			missing = append(missing, t)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for start := 0; start < len(missing); start += s.batchSize {
		batch := missing[start:min(start+s.batchSize, len(missing))]
		g.Go(func() error {
			vectors, err := s.embedder.EmbedDocuments(gctx, batch)
			if err != nil {
				return err
			}
			if len(vectors) != len(batch) {
				return fmt.Errorf("%w: got %d vectors for %d texts", embeddings.ErrEmbeddingFailed, len(vectors), len(batch))
			}
			for i, text := range batch {
				s.cache.Add(text, vectors[i])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Warn("embedding warm-up failed, uncached pairs fall back to lexical scoring",
			zap.Int("texts", len(missing)),
			zap.Error(err))
		return fmt.Errorf("warming embeddings: %w", err)
	}
	s.logger.Debug("embeddings warmed", zap.Int("texts", len(missing)))
	return nil
}

// Fallbacks returns how many scores were computed lexically because the
// embedder failed.
func (s *Semantic) Fallbacks() int64 {
	return s.fallbacks.Load()
}

func (s *Semantic) vector(ctx context.Context, text string) ([]float32, error) {
	if v, ok := s.cache.Get(text); ok {
		return v, nil
	}
	// Documents, not queries: both sides of a comparison must be embedded
	// the same way.
	vectors, err := s.embedder.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("%w: got %d vectors for 1 text", embeddings.ErrEmbeddingFailed, len(vectors))
	}
	s.cache.Add(text, vectors[0])
	return vectors[0], nil
}

func (s *Semantic) fallback(a, b *pattern.Record, err error) float64 {
	s.fallbacks.Add(1)
	if s.onFallback != nil {
		s.onFallback(err)
	}
	s.logger.Warn("embedding failed, using lexical similarity",
		zap.String("a", a.ID),
		zap.String("b", b.ID),
		zap.Error(err))
	return LexicalScore(a, b)
}

// CosineSimilarity returns the cosine of the angle between two vectors.
// Empty, mismatched or zero-magnitude vectors score 0.
func CosineSimilarity(vec1, vec2 []float32) float64 {
	if len(vec1) == 0 || len(vec1) != len(vec2) {
		return 0
	}

	var dot, mag1, mag2 float64
	for i := range vec1 {
		v1, v2 := float64(vec1[i]), float64(vec2[i])
		dot += v1 * v2
		mag1 += v1 * v1
		mag2 += v2 * v2
	}
	if mag1 == 0 || mag2 == 0 {
		return 0
	}
	return dot / (math.Sqrt(mag1) * math.Sqrt(mag2))
}
