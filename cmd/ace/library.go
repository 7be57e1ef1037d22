package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ce-dot-net/ace/internal/curator"
	"github.com/ce-dot-net/ace/internal/pattern"
	"github.com/ce-dot-net/ace/internal/playbook"
	"github.com/ce-dot-net/ace/internal/store"
)

var (
	listDomain        string
	listKind          string
	listMinConfidence float64

	statsTop int

	// dryRun reports what prune or dedup would remove without writing
	dryRun bool

	renderWrite bool
)

func init() {
	listCmd.Flags().StringVar(&listDomain, "domain", "", "only patterns in this domain")
	listCmd.Flags().StringVar(&listKind, "kind", "", "only beneficial or harmful patterns")
	listCmd.Flags().Float64Var(&listMinConfidence, "min-confidence", 0, "hide patterns below this confidence")

	statsCmd.Flags().IntVar(&statsTop, "top", 5, "number of top patterns to show")

	pruneCmd.Flags().BoolVar(&dryRun, "dry-run", false, "report without deleting")
	dedupCmd.Flags().BoolVar(&dryRun, "dry-run", false, "report without merging")

	renderCmd.Flags().BoolVar(&renderWrite, "write", false, "update the playbook file instead of printing")
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List learned patterns",
	Long: `List the patterns in the library, most confident first.

Examples:
  ace list
  ace list --domain python-typing --min-confidence 0.7
  ace list --kind harmful --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := store.Filter{Domain: listDomain}
		if listKind != "" {
			kind, err := pattern.ParseKind(listKind)
			if err != nil {
				return err
			}
			filter.Kind = kind
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return runList(ctx, a, filter, listMinConfidence, cmd.OutOrStdout())
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize the pattern library",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return runStats(ctx, a, statsTop, cmd.OutOrStdout())
		})
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete patterns that proved unreliable",
	Long: `Delete every pattern with enough observations and a confidence below
the prune threshold, then update the playbook.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return runPrune(ctx, a, dryRun, cmd.OutOrStdout())
		})
	},
}

var dedupCmd = &cobra.Command{
	Use:   "dedup",
	Short: "Merge near-duplicate patterns",
	Long: `Merge patterns in the same domain and kind whose similarity reaches the
similarity threshold, then update the playbook.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return runDedup(ctx, a, dryRun, cmd.OutOrStdout())
		})
	},
}

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render the playbook",
	Long: `Print the playbook rendered from the current library, or update the
playbook file with --write.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return runRender(ctx, a, renderWrite, cmd.OutOrStdout())
		})
	},
}

func runList(ctx context.Context, a *app, filter store.Filter, minConfidence float64, out io.Writer) error {
	records, err := a.store.List(ctx, filter)
	if err != nil {
		return err
	}
	records = slices.DeleteFunc(records, func(r *pattern.Record) bool { return r.Confidence < minConfidence })
	slices.SortStableFunc(records, func(x, y *pattern.Record) int {
		switch {
		case x.Confidence > y.Confidence:
			return -1
		case x.Confidence < y.Confidence:
			return 1
		}
		return y.Observations - x.Observations
	})

	if jsonOutput {
		if records == nil {
			records = []*pattern.Record{}
		}
		return writeJSON(out, records)
	}
	if len(records) == 0 {
		fmt.Fprintln(out, "no patterns")
		return nil
	}

	th := a.curator.Thresholds()
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "BULLET\tID\tKIND\tDOMAIN\tCONFIDENCE\tOBS\tNAME")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.0f%% (%s)\t%d\t%s\n",
			r.BulletID, r.ID, r.Kind, r.Domain, r.Confidence*100, th.Tier(r.Confidence), r.Observations, r.Name)
	}
	return tw.Flush()
}

func runStats(ctx context.Context, a *app, top int, out io.Writer) error {
	records, err := a.store.List(ctx, store.Filter{})
	if err != nil {
		return err
	}
	s := curator.Summarize(records, a.curator.Thresholds(), top)
	if jsonOutput {
		return writeJSON(out, s)
	}

	fmt.Fprintf(out, "Patterns:        %d (%d beneficial, %d harmful)\n",
		s.Total, s.ByKind[pattern.KindBeneficial], s.ByKind[pattern.KindHarmful])
	fmt.Fprintf(out, "Observations:    %d\n", s.Observations)
	fmt.Fprintf(out, "Avg confidence:  %.1f%%\n", s.AverageConfidence*100)
	fmt.Fprintf(out, "By tier:         high %d, medium %d, low %d\n",
		s.ByTier[pattern.TierHigh], s.ByTier[pattern.TierMedium], s.ByTier[pattern.TierLow])
	fmt.Fprintf(out, "Prunable:        %d\n", s.Prunable)
	if len(s.ByDomain) > 0 {
		domains := make([]string, 0, len(s.ByDomain))
		for d := range s.ByDomain {
			domains = append(domains, d)
		}
		slices.Sort(domains)
		fmt.Fprintln(out, "Domains:")
		for _, d := range domains {
			fmt.Fprintf(out, "  %-28s %d\n", d, s.ByDomain[d])
		}
	}
	if len(s.Top) > 0 {
		fmt.Fprintln(out, "Top patterns:")
		for _, r := range s.Top {
			fmt.Fprintf(out, "  %5.1f%%  %-8s %s (%d obs)\n", r.Confidence*100, r.ID, r.Name, r.Observations)
		}
	}
	return nil
}

func runPrune(ctx context.Context, a *app, dry bool, out io.Writer) error {
	if dry {
		records, err := a.store.List(ctx, store.Filter{})
		if err != nil {
			return err
		}
		res := a.curator.Prune(records)
		for _, r := range res.Pruned {
			fmt.Fprintf(out, "would prune %s %s (%.0f%%, %d obs)\n", r.ID, r.Name, r.Confidence*100, r.Observations)
		}
		fmt.Fprintf(out, "%d of %d pattern(s) would be pruned\n", len(res.Pruned), len(records))
		return nil
	}

	report, err := a.curator.PruneStore(ctx, a.store, store.Filter{})
	if err != nil {
		return err
	}
	for _, id := range report.Deleted {
		fmt.Fprintf(out, "pruned %s\n", id)
	}
	fmt.Fprintf(out, "%d pattern(s) pruned\n", len(report.Deleted))
	return finishBatch(ctx, a, report, len(report.Deleted) > 0, out)
}

func runDedup(ctx context.Context, a *app, dry bool, out io.Writer) error {
	if dry {
		records, err := a.store.List(ctx, store.Filter{})
		if err != nil {
			return err
		}
		res, err := a.curator.Deduplicate(ctx, records)
		if err != nil {
			return err
		}
		reps := make([]string, 0, len(res.Merged))
		for id := range res.Merged {
			reps = append(reps, id)
		}
		slices.Sort(reps)
		for _, id := range reps {
			fmt.Fprintf(out, "would merge %v into %s\n", res.Merged[id], id)
		}
		fmt.Fprintf(out, "%d pattern(s) would be merged\n", res.Absorbed())
		return nil
	}

	report, err := a.curator.DeduplicateStore(ctx, a.store, store.Filter{})
	if err != nil {
		return err
	}
	for _, id := range report.Updated {
		fmt.Fprintf(out, "kept %s\n", id)
	}
	fmt.Fprintf(out, "%d pattern(s) merged away\n", len(report.Deleted))
	return finishBatch(ctx, a, report, len(report.Deleted) > 0, out)
}

// finishBatch republishes the playbook after a batch pass changed the
// library and surfaces per-record failures.
func finishBatch(ctx context.Context, a *app, report curator.BatchReport, changed bool, out io.Writer) error {
	if changed {
		if err := republish(ctx, a, out); err != nil {
			return err
		}
	}
	if err := report.Err(); err != nil {
		a.logger.Error("batch pass left failures", zap.Int("failed", len(report.Failed)), zap.Error(err))
		return err
	}
	return nil
}

// republish rewrites the playbook from the whole library. It does nothing
// when publishing is disabled.
func republish(ctx context.Context, a *app, out io.Writer) error {
	if a.publisher == nil {
		return nil
	}
	records, err := a.store.List(ctx, store.Filter{})
	if err != nil {
		return err
	}
	res, err := a.publisher.Publish(ctx, records)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "playbook: %s (%s)\n", res.Mode, res.Delta)
	return nil
}

func runRender(ctx context.Context, a *app, write bool, out io.Writer) error {
	records, err := a.store.List(ctx, store.Filter{})
	if err != nil {
		return err
	}
	if write {
		if a.publisher == nil {
			return fmt.Errorf("playbook publishing is disabled")
		}
		res, err := a.publisher.Publish(ctx, records)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "playbook: %s (%s)\n", res.Mode, res.Delta)
		return nil
	}

	doc, err := playbook.Render(records, a.curator.Thresholds())
	if err != nil {
		return err
	}
	_, err = io.WriteString(out, playbook.Markdown(doc))
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
