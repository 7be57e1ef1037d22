package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ce-dot-net/ace/internal/cycle"
	"github.com/ce-dot-net/ace/internal/pattern"
	"github.com/ce-dot-net/ace/internal/reflection"
)

var (
	// cycleTestStatus skips the configured test command
	cycleTestStatus string
	// cycleMaintain runs prune and dedup over touched scopes
	cycleMaintain bool
)

func init() {
	cycleCmd.Flags().StringVar(&cycleTestStatus, "test-status", "", "test result to use instead of running tests (passed, failed, timeout, none)")
	cycleCmd.Flags().BoolVar(&cycleMaintain, "maintain", false, "prune and deduplicate the scopes this cycle touched")
}

var cycleCmd = &cobra.Command{
	Use:   "cycle [file]",
	Short: "Run one reflection cycle over an edited file",
	Long: `Detect the patterns used in a file, judge them against test evidence,
curate the observations into the library and update the playbook.

Without a file argument the command reads an editor hook payload from stdin
and uses tool_input.file_path.

Examples:
  # Judge a file, running the configured test command
  ace cycle src/config.py

  # Supply the test result directly
  ace cycle --test-status failed src/config.py

  # As a post-edit hook
  echo '{"tool_input":{"file_path":"src/app.ts"}}' | ace cycle`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			} else {
				var err error
				if path, err = hookFilePath(cmd.InOrStdin()); err != nil {
					return err
				}
				if path == "" {
					a.logger.Debug("hook payload names no file, nothing to do")
					return nil
				}
			}
			return runCycle(ctx, a, path, cycleTestStatus, cycleMaintain, cmd.OutOrStdout())
		})
	},
}

// hookPayload is the subset of an editor hook event ace reads.
type hookPayload struct {
	ToolName  string `json:"tool_name"`
	ToolInput struct {
		FilePath string `json:"file_path"`
	} `json:"tool_input"`
}

// hookFilePath extracts the edited file from a hook payload. An empty
// payload yields an empty path.
func hookFilePath(r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, 1<<20))
	if err != nil {
		return "", fmt.Errorf("reading hook payload: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", nil
	}
	var p hookPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return "", fmt.Errorf("decoding hook payload: %w", err)
	}
	return p.ToolInput.FilePath, nil
}

func runCycle(ctx context.Context, a *app, path, testStatus string, maintain bool, out io.Writer) error {
	if a.ignore.Ignored(path) {
		a.logger.Debug("file is ignored, skipping cycle", zap.String("file", path))
		if jsonOutput {
			return writeJSON(out, map[string]any{"file": path, "ignored": true})
		}
		fmt.Fprintf(out, "%s is ignored\n", path)
		return nil
	}

	code, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	runner, err := a.runner(maintain)
	if err != nil {
		return err
	}
	in := cycle.Input{FilePath: path, Code: string(code)}
	if testStatus != "" {
		status := reflection.ParseTestStatus(testStatus)
		in.Evidence = &reflection.Evidence{TestStatus: status, HasTests: status != reflection.TestsNone}
	}

	report, err := runner.Run(ctx, in)
	if err != nil {
		return err
	}
	if err := report.Err(); err != nil {
		a.logger.Warn("cycle finished with errors", zap.String("cycle.id", report.CycleID), zap.Error(err))
	}

	if jsonOutput {
		return writeJSON(out, newCycleView(report))
	}
	printCycle(out, report)
	return nil
}

// cycleView is the JSON rendering of a cycle report.
type cycleView struct {
	CycleID  string        `json:"cycle_id"`
	File     string        `json:"file"`
	Detected []string      `json:"detected"`
	Tests    string        `json:"tests"`
	Outcomes []outcomeView `json:"outcomes"`
	Unjudged []string      `json:"unjudged,omitempty"`
	Pruned   []string      `json:"pruned,omitempty"`
	Deduped  []string      `json:"deduped,omitempty"`
	Playbook string        `json:"playbook,omitempty"`
	Errors   []string      `json:"errors,omitempty"`
}

type outcomeView struct {
	PatternID  string  `json:"pattern_id"`
	Outcome    string  `json:"outcome"`
	Confidence float64 `json:"confidence"`
	Action     string  `json:"action,omitempty"`
	TargetID   string  `json:"target_id,omitempty"`
	Insight    string  `json:"insight,omitempty"`
	Error      string  `json:"error,omitempty"`
}

func newCycleView(r cycle.Report) cycleView {
	v := cycleView{
		CycleID:  r.CycleID,
		File:     r.FilePath,
		Detected: r.Detected,
		Tests:    string(r.Evidence.TestStatus),
		Unjudged: r.Unjudged,
		Pruned:   r.Pruned.Deleted,
		Deduped:  r.Deduped.Deleted,
		Outcomes: make([]outcomeView, 0, len(r.Outcomes)),
	}
	for _, o := range r.Outcomes {
		ov := outcomeView{
			PatternID:  o.PatternID,
			Outcome:    string(o.Verdict.ContributedTo),
			Confidence: o.Verdict.Confidence,
			Action:     string(o.Decision.Action),
			TargetID:   o.Decision.TargetID,
			Insight:    o.Verdict.Insight,
		}
		if o.Err != nil {
			ov.Error = o.Err.Error()
		}
		v.Outcomes = append(v.Outcomes, ov)
	}
	if r.Published != nil {
		v.Playbook = r.Published.Mode
	}
	if err := r.Err(); err != nil {
		v.Errors = strings.Split(err.Error(), "\n")
	}
	return v
}

func printCycle(w io.Writer, r cycle.Report) {
	if len(r.Detected) == 0 {
		fmt.Fprintf(w, "%s: no patterns detected\n", r.FilePath)
		return
	}
	fmt.Fprintf(w, "%s: %d pattern(s) detected, tests %s\n", r.FilePath, len(r.Detected), r.Evidence.TestStatus)
	for _, o := range r.Outcomes {
		if o.Err != nil {
			fmt.Fprintf(w, "  ✗ %s: %v\n", o.PatternID, o.Err)
			continue
		}
		target := ""
		if o.Decision.TargetID != "" && o.Decision.TargetID != o.PatternID {
			target = " -> " + o.Decision.TargetID
		}
		fmt.Fprintf(w, "  %s %-7s %s%s (%s, %.0f%%)\n",
			symbol(o), o.Decision.Action, o.PatternID, target, o.Verdict.ContributedTo, o.Verdict.Confidence*100)
	}
	for _, id := range r.Unjudged {
		fmt.Fprintf(w, "  ? skipped %s (no verdict)\n", id)
	}
	if n := len(r.Pruned.Deleted) + len(r.Deduped.Deleted); n > 0 {
		fmt.Fprintf(w, "  maintenance removed %d pattern(s)\n", n)
	}
	if r.Published != nil {
		fmt.Fprintf(w, "  playbook: %s (%s)\n", r.Published.Mode, r.Published.Delta)
	}
}

func symbol(o cycle.Outcome) string {
	switch o.Verdict.ContributedTo {
	case pattern.OutcomeSuccess:
		return "✓"
	case pattern.OutcomeFailure:
		return "✗"
	}
	return "·"
}
