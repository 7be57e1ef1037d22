package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ce-dot-net/ace/internal/curator"
	"github.com/ce-dot-net/ace/internal/detect"
	"github.com/ce-dot-net/ace/internal/pattern"
	"github.com/ce-dot-net/ace/internal/store"
)

var (
	exportOutput   string
	importStrategy string

	relevantDomains       []string
	relevantMinConfidence float64
	relevantLimit         int
	relevantHarmful       bool
)

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "write the bundle to this file instead of stdout")
	importCmd.Flags().StringVar(&importStrategy, "strategy", string(curator.ImportSmart), "smart, overwrite or skip-existing")

	relevantCmd.Flags().StringSliceVar(&relevantDomains, "domain", nil, "only domains containing these words (default: guessed from the path)")
	relevantCmd.Flags().Float64Var(&relevantMinConfidence, "min-confidence", 0.3, "hide patterns below this confidence")
	relevantCmd.Flags().IntVar(&relevantLimit, "limit", 10, "maximum patterns to show")
	relevantCmd.Flags().BoolVar(&relevantHarmful, "harmful", false, "include patterns to avoid")

	rootCmd.AddCommand(exportCmd, importCmd, relevantCmd)
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the pattern library as a JSON bundle",
	Long: `Write every learned pattern to a JSON bundle that another project can
import with "ace import".`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return runExport(ctx, a, exportOutput, cmd.OutOrStdout())
		})
	},
}

var importCmd = &cobra.Command{
	Use:   "import <bundle.json>",
	Short: "Import patterns exported from another project",
	Long: `Import a bundle written by "ace export", then update the playbook.

Strategies for patterns whose ID is already in the library:
  smart          fold the imported counters in (default); new patterns are
                 curated like observations, so similar ones merge
  overwrite      replace the local pattern
  skip-existing  keep the local pattern`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		strategy, err := curator.ParseImportStrategy(importStrategy)
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return runImport(ctx, a, args[0], strategy, cmd.OutOrStdout())
		})
	},
}

var relevantCmd = &cobra.Command{
	Use:   "relevant <file>",
	Short: "Show the learned patterns most relevant to a file",
	Long: `Rank the patterns for the file's language by confidence and helpfulness.

Examples:
  ace relevant src/api/client.py
  ace relevant app.ts --domain async --limit 5 --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q := curator.RelevantQuery{
			Domains:        relevantDomains,
			MinConfidence:  relevantMinConfidence,
			IncludeHarmful: relevantHarmful,
			Limit:          relevantLimit,
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return runRelevant(ctx, a, args[0], q, cmd.OutOrStdout())
		})
	},
}

func runExport(ctx context.Context, a *app, output string, out io.Writer) error {
	project := "unknown"
	if wd, err := os.Getwd(); err == nil {
		project = filepath.Base(wd)
	}
	b, err := curator.Export(ctx, a.store, project, time.Now())
	if err != nil {
		return err
	}
	if output == "" {
		_, err = b.WriteTo(out)
		return err
	}

	f, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("creating %s: %w", output, err)
	}
	if _, err := b.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", output, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("writing %s: %w", output, err)
	}
	a.logger.Info("exported patterns",
		zap.String("path", output),
		zap.Int("patterns", b.TotalPatterns))
	fmt.Fprintf(out, "exported %d pattern(s) to %s\n", b.TotalPatterns, output)
	return nil
}

func runImport(ctx context.Context, a *app, path string, strategy curator.ImportStrategy, out io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening bundle: %w", err)
	}
	defer f.Close()
	b, err := curator.ReadBundle(f)
	if err != nil {
		return err
	}

	report, err := a.curator.Import(ctx, a.store, b, strategy)
	if err != nil {
		return err
	}
	pubOut := out
	if jsonOutput {
		if err := writeJSON(out, report); err != nil {
			return err
		}
		pubOut = io.Discard
	} else {
		fmt.Fprintf(out, "imported %d pattern(s) from %s: %d created, %d merged, %d overwritten, %d skipped, %d pruned, %d failed\n",
			len(b.Patterns), b.Project, len(report.Created), len(report.Merged), len(report.Overwritten),
			len(report.Skipped), len(report.Pruned), len(report.Failed))
	}
	if report.Changed() {
		if err := republish(ctx, a, pubOut); err != nil {
			return err
		}
	}
	if err := report.Err(); err != nil {
		a.logger.Error("import left failures", zap.Int("failed", len(report.Failed)), zap.Error(err))
		return err
	}
	return nil
}

func runRelevant(ctx context.Context, a *app, path string, q curator.RelevantQuery, out io.Writer) error {
	q.Language = detect.LanguageForPath(path)
	if q.Language == "" {
		return fmt.Errorf("%s: unsupported file type", path)
	}
	if len(q.Domains) == 0 {
		q.Domains = curator.DomainHints(path)
	}
	records, err := a.store.List(ctx, store.Filter{})
	if err != nil {
		return err
	}
	relevant := curator.Relevant(records, q)

	if jsonOutput {
		if relevant == nil {
			relevant = []*pattern.Record{}
		}
		return writeJSON(out, relevant)
	}
	if len(relevant) == 0 {
		fmt.Fprintf(out, "no relevant %s patterns\n", q.Language)
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "BULLET\tKIND\tDOMAIN\tCONFIDENCE\tOBS\tNAME")
	for _, r := range relevant {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.0f%%\t%d\t%s\n",
			r.BulletID, r.Kind, r.Domain, r.Confidence*100, r.Observations, r.Name)
	}
	return tw.Flush()
}
