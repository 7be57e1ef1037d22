package reflection

import (
	"context"

	"go.uber.org/zap"
)

// FallbackOracle asks Primary and, if it fails, Fallback. A cancelled
// context is returned as is.
type FallbackOracle struct {
	Primary  Oracle
	Fallback Oracle
	Logger   *zap.Logger

	// OnFallback is called with the primary's error, if set.
	OnFallback func(error)
}

// NewFallbackOracle degrades primary to the heuristic oracle.
func NewFallbackOracle(primary Oracle, logger *zap.Logger) *FallbackOracle {
	return &FallbackOracle{Primary: primary, Fallback: HeuristicOracle{}, Logger: logger}
}

func (f *FallbackOracle) Reflect(ctx context.Context, req Request) ([]Verdict, error) {
	verdicts, err := f.Primary.Reflect(ctx, req)
	if err == nil {
		return verdicts, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	if f.Logger != nil {
		f.Logger.Warn("oracle failed, using fallback",
			zap.String("file", req.FilePath),
			zap.Int("round", req.Round),
			zap.Error(err))
	}
	if f.OnFallback != nil {
		f.OnFallback(err)
	}
	fb := f.Fallback
	if fb == nil {
		fb = HeuristicOracle{}
	}
	return fb.Reflect(ctx, req)
}
