package playbook

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/ce-dot-net/ace/internal/pattern"
)

// Result describes what Publish did.
type Result struct {
	Delta Delta
	// Mode is "full", "delta" or "none".
	Mode string
}

// Publisher keeps a playbook file in sync with the pattern library.
type Publisher struct {
	path       string
	history    *History
	thresholds pattern.Thresholds
	logger     *zap.Logger
	now        func() time.Time
}

// NewPublisher writes the playbook to path and logs deltas to historyPath.
// An empty historyPath disables the log.
func NewPublisher(path, historyPath string, th pattern.Thresholds, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Publisher{path: path, thresholds: th, logger: logger, now: time.Now}
	if historyPath != "" {
		p.history = NewHistory(historyPath)
	}
	return p
}

// Publish renders records and brings the playbook file up to date.
//
// The first publish writes the whole document. Later publishes diff the
// rendered document against the bullets found in the file and patch only
// the affected lines. If patching would leave the file inconsistent with
// the rendered document, the file is rewritten in full.
func (p *Publisher) Publish(ctx context.Context, records []*pattern.Record) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	next, err := Render(records, p.thresholds)
	if err != nil {
		p.logger.Error("rendering playbook failed, writing fallback", zap.Error(err))
		next = Fallback(err)
	}
	if len(next.Skipped) > 0 {
		p.logger.Warn("skipped invalid patterns while rendering", zap.Strings("pattern_ids", next.Skipped))
	}

	prevText, err := os.ReadFile(p.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return p.writeFull(next, Diff(Document{}, next))
	case err != nil:
		p.logger.Warn("reading playbook failed, rewriting", zap.String("path", p.path), zap.Error(err))
		return p.writeFull(next, Diff(Document{}, next))
	}

	prev := Parse(string(prevText))
	delta := Diff(prev, next)
	if next.Fallback != "" {
		return p.writeFull(next, delta)
	}
	if delta.Empty() {
		p.logger.Debug("playbook unchanged", zap.String("path", p.path))
		return Result{Delta: delta, Mode: "none"}, nil
	}

	patched := Apply(string(prevText), delta)
	if check := Diff(Parse(patched), next); !check.Empty() {
		p.logger.Warn("patched playbook diverged from rendered document, rewriting",
			zap.String("residual", check.String()))
		return p.writeFull(next, delta)
	}

	if err := writeAtomic(p.path, []byte(patched)); err != nil {
		return Result{}, err
	}
	p.logger.Info("playbook updated",
		zap.String("path", p.path),
		zap.Int("added", len(delta.Added)),
		zap.Int("changed", len(delta.Changed)),
		zap.Int("removed", len(delta.Removed)))
	p.appendHistory("delta", delta)
	return Result{Delta: delta, Mode: "delta"}, nil
}

func (p *Publisher) writeFull(doc Document, delta Delta) (Result, error) {
	if err := writeAtomic(p.path, []byte(Markdown(doc))); err != nil {
		return Result{}, err
	}
	p.logger.Info("playbook written", zap.String("path", p.path), zap.Int("bullets", doc.Len()))
	p.appendHistory("full", delta)
	return Result{Delta: delta, Mode: "full"}, nil
}

// appendHistory logs but does not fail the publish: the document is
// already written.
func (p *Publisher) appendHistory(mode string, delta Delta) {
	if p.history == nil {
		return
	}
	if err := p.history.Append(p.now(), mode, delta); err != nil {
		p.logger.Warn("appending playbook history failed", zap.Error(err))
	}
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating playbook directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".playbook-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing playbook: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing playbook: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing playbook: %w", err)
	}
	return nil
}
