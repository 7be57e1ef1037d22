// Package cycle runs one reflection cycle over an edited file: detect the
// patterns it uses, judge them against the execution evidence, curate the
// resulting observations into the library and republish the playbook.
package cycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ce-dot-net/ace/internal/curator"
	"github.com/ce-dot-net/ace/internal/detect"
	"github.com/ce-dot-net/ace/internal/logging"
	"github.com/ce-dot-net/ace/internal/pattern"
	"github.com/ce-dot-net/ace/internal/playbook"
	"github.com/ce-dot-net/ace/internal/reflection"
	"github.com/ce-dot-net/ace/internal/store"
)

// EvidenceFunc gathers execution evidence for a cycle.
type EvidenceFunc func(ctx context.Context) reflection.Evidence

// Input is one edited file.
type Input struct {
	FilePath string
	Code     string
	// Evidence, when set, is used instead of calling the EvidenceFunc.
	Evidence *reflection.Evidence
}

// Outcome is what happened to one detected pattern.
type Outcome struct {
	PatternID string
	Verdict   reflection.Verdict
	Decision  curator.Decision
	Err       error
}

// Report summarizes a cycle.
type Report struct {
	CycleID  string
	FilePath string
	Detected []string
	Evidence reflection.Evidence
	Outcomes []Outcome
	// Unjudged lists detected patterns without a verdict.
	Unjudged []string

	Pruned  curator.BatchReport
	Deduped curator.BatchReport

	// Published is nil when no playbook is configured or nothing was
	// detected.
	Published *playbook.Result
}

// Err joins the per-pattern failures, or returns nil.
func (r Report) Err() error {
	var errs []error
	for _, o := range r.Outcomes {
		if o.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", o.PatternID, o.Err))
		}
	}
	errs = append(errs, r.Pruned.Err(), r.Deduped.Err())
	return errors.Join(errs...)
}

// Runner executes cycles.
type Runner struct {
	catalog   *detect.Catalog
	oracle    reflection.Oracle
	curator   *curator.Curator
	store     store.Store
	publisher *playbook.Publisher
	evidence  EvidenceFunc
	maintain  bool
	logger    *zap.Logger
	metrics   *Metrics
	tracer    trace.Tracer
	now       func() time.Time
}

// TracerName is the instrumentation scope of cycle spans.
const TracerName = "github.com/ce-dot-net/ace/internal/cycle"

// Option configures a Runner.
type Option func(*Runner)

func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(r *Runner) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithTracer sets the tracer for cycle spans. The default is the global
// tracer provider's.
func WithTracer(t trace.Tracer) Option {
	return func(r *Runner) {
		if t != nil {
			r.tracer = t
		}
	}
}

// WithPublisher republishes the playbook at the end of every cycle that
// detected something.
func WithPublisher(p *playbook.Publisher) Option {
	return func(r *Runner) { r.publisher = p }
}

// WithEvidence sets how evidence is gathered when the input carries none.
func WithEvidence(fn EvidenceFunc) Option {
	return func(r *Runner) {
		if fn != nil {
			r.evidence = fn
		}
	}
}

// WithMaintenance runs prune and dedup passes over every scope a cycle
// touched.
func WithMaintenance(on bool) Option {
	return func(r *Runner) { r.maintain = on }
}

// New creates a Runner. catalog, oracle, cur and st are required.
func New(catalog *detect.Catalog, oracle reflection.Oracle, cur *curator.Curator, st store.Store, opts ...Option) (*Runner, error) {
	switch {
	case catalog == nil:
		return nil, errors.New("cycle: detection catalog required")
	case oracle == nil:
		return nil, errors.New("cycle: oracle required")
	case cur == nil:
		return nil, errors.New("cycle: curator required")
	case st == nil:
		return nil, errors.New("cycle: store required")
	}
	r := &Runner{
		catalog:  catalog,
		oracle:   oracle,
		curator:  cur,
		store:    st,
		evidence: func(context.Context) reflection.Evidence { return reflection.NoEvidence() },
		logger:   zap.NewNop(),
		tracer:   otel.Tracer(TracerName),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = NewMetrics(nil)
	}
	return r, nil
}

// Run executes one cycle. Per-pattern store failures are recorded in the
// report and do not stop the cycle; see Report.Err. The returned error is
// reserved for failures that abort the cycle.
func (r *Runner) Run(ctx context.Context, in Input) (report Report, err error) {
	start := time.Now()
	report = Report{CycleID: uuid.New().String(), FilePath: in.FilePath}
	ctx, span := r.tracer.Start(ctx, "cycle.run", trace.WithAttributes(
		attribute.String("ace.cycle.id", report.CycleID),
		attribute.String("ace.file", in.FilePath),
	))
	defer func() {
		res := result(report, err)
		r.metrics.Duration.Observe(time.Since(start).Seconds())
		r.metrics.Cycles.WithLabelValues(res).Inc()
		span.SetAttributes(
			attribute.String("ace.cycle.result", res),
			attribute.Int("ace.patterns.detected", len(report.Detected)),
			attribute.Int("ace.patterns.curated", len(report.Outcomes)),
			attribute.Int("ace.patterns.unjudged", len(report.Unjudged)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	ctx = logging.WithCycleID(ctx, report.CycleID)
	ctx = logging.WithFile(ctx, in.FilePath)
	log := logging.For(ctx, r.logger)

	detected := r.catalog.Detect(in.FilePath, in.Code)
	for _, rule := range detected {
		report.Detected = append(report.Detected, rule.ID)
	}
	r.metrics.Detected.Add(float64(len(detected)))
	if len(detected) == 0 {
		log.Debug("no patterns detected")
		return report, nil
	}
	log.Info("patterns detected", zap.Strings("pattern_ids", report.Detected))

	if in.Evidence != nil {
		report.Evidence = *in.Evidence
	} else {
		report.Evidence = r.evidence(ctx)
	}
	log.Debug("evidence gathered", zap.String("test_status", string(report.Evidence.TestStatus)))

	verdicts, err := r.reflect(ctx, reflection.Request{
		Code:     in.Code,
		FilePath: in.FilePath,
		Rules:    detected,
		Evidence: report.Evidence,
	})
	if err != nil {
		return report, fmt.Errorf("reflecting on %s: %w", in.FilePath, err)
	}

	byID := reflection.ByPattern(verdicts)
	now := r.now().UTC()
	var scopes []pattern.Scope
	for _, rule := range detected {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		v, ok := byID[rule.ID]
		if !ok {
			report.Unjudged = append(report.Unjudged, rule.ID)
			r.metrics.Unjudged.Inc()
			log.Debug("no verdict, skipping pattern", zap.String("pattern_id", rule.ID))
			continue
		}

		candidate := reflection.Candidate(rule, v, now)
		d, err := r.curator.Observe(logging.WithScope(ctx, candidate.Scope()), r.store, candidate)
		report.Outcomes = append(report.Outcomes, Outcome{PatternID: rule.ID, Verdict: v, Decision: d, Err: err})
		if err != nil {
			log.Warn("curating observation failed", zap.String("pattern_id", rule.ID), zap.Error(err))
			continue
		}
		scopes = append(scopes, candidate.Scope())
	}

	if r.maintain {
		if err := r.runMaintenance(ctx, scopes, &report); err != nil {
			return report, err
		}
	}

	if r.publisher != nil {
		records, err := r.store.List(ctx, store.Filter{})
		if err != nil {
			return report, fmt.Errorf("listing patterns for playbook: %w", err)
		}
		pctx, pspan := r.tracer.Start(ctx, "cycle.publish")
		res, err := r.publisher.Publish(pctx, records)
		pspan.SetAttributes(attribute.String("ace.playbook.mode", res.Mode))
		pspan.End()
		if err != nil {
			return report, fmt.Errorf("publishing playbook: %w", err)
		}
		report.Published = &res
	}

	log.Info("cycle complete",
		zap.Int("detected", len(report.Detected)),
		zap.Int("curated", len(report.Outcomes)),
		zap.Int("unjudged", len(report.Unjudged)),
		zap.Int("pruned", len(report.Pruned.Deleted)),
		zap.Int("deduplicated", len(report.Deduped.Deleted)))
	return report, nil
}

func (r *Runner) reflect(ctx context.Context, req reflection.Request) ([]reflection.Verdict, error) {
	ctx, span := r.tracer.Start(ctx, "cycle.reflect", trace.WithAttributes(
		attribute.Int("ace.rules", len(req.Rules)),
		attribute.String("ace.tests", string(req.Evidence.TestStatus)),
	))
	defer span.End()

	verdicts, err := r.oracle.Reflect(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("ace.verdicts", len(verdicts)))
	return verdicts, nil
}

func (r *Runner) runMaintenance(ctx context.Context, scopes []pattern.Scope, report *Report) error {
	seen := make(map[pattern.Scope]bool, len(scopes))
	report.Pruned = curator.BatchReport{Failed: map[string]error{}}
	report.Deduped = curator.BatchReport{Failed: map[string]error{}}
	for _, s := range scopes {
		if seen[s] {
			continue
		}
		seen[s] = true

		sctx := logging.WithScope(ctx, s)
		pr, err := r.curator.PruneStore(sctx, r.store, store.ForScope(s))
		if err != nil {
			return fmt.Errorf("pruning %s: %w", s, err)
		}
		mergeReport(&report.Pruned, pr)

		dr, err := r.curator.DeduplicateStore(sctx, r.store, store.ForScope(s))
		if err != nil {
			return fmt.Errorf("deduplicating %s: %w", s, err)
		}
		mergeReport(&report.Deduped, dr)
	}
	return nil
}

func mergeReport(dst *curator.BatchReport, src curator.BatchReport) {
	dst.Updated = append(dst.Updated, src.Updated...)
	dst.Deleted = append(dst.Deleted, src.Deleted...)
	for id, err := range src.Failed {
		dst.Failed[id] = err
	}
}

func result(report Report, err error) string {
	switch {
	case err != nil:
		return "error"
	case len(report.Detected) == 0:
		return "skipped"
	case report.Err() != nil:
		return "partial"
	}
	return "ok"
}
