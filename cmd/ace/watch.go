package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ce-dot-net/ace/internal/watch"
)

var (
	watchDebounce   time.Duration
	watchTestStatus string
	watchMaintain   bool
)

func init() {
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", watch.DefaultDebounce, "quiet period before an edited file is judged")
	watchCmd.Flags().StringVar(&watchTestStatus, "test-status", "", "test result to use instead of running tests")
	watchCmd.Flags().BoolVar(&watchMaintain, "maintain", false, "prune and deduplicate touched scopes after each cycle")
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Run a cycle whenever a supported source file is saved",
	Long: `Watch a project tree and run one reflection cycle per edited file.

Only files some detection rule applies to are judged. Paths matched by the
configured ignore files (.gitignore and .aceignore by default) are skipped.
Stop with Ctrl-C.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root := "."
		if len(args) == 1 {
			root = args[0]
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return runWatch(ctx, a, root, watchDebounce, cmd.OutOrStdout())
		})
	},
}

// runWatch blocks until ctx is done. Cycle failures are reported and
// watching continues.
func runWatch(ctx context.Context, a *app, root string, debounce time.Duration, out io.Writer) error {
	w, err := watch.New(root,
		watch.WithDebounce(debounce),
		watch.WithLogger(a.logger),
		watch.WithFilter(a.watchFilter))
	if err != nil {
		return err
	}
	defer w.Stop()
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("watching %s: %w", root, err)
	}
	a.logger.Info("watching for edits", zap.String("root", root), zap.Duration("debounce", debounce))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events():
			if !ok {
				return nil
			}
			if err := runCycle(ctx, a, ev.Path, watchTestStatus, watchMaintain, out); err != nil {
				a.logger.Error("cycle failed", zap.String("file", ev.Path), zap.Error(err))
			}
		}
	}
}

// watchFilter accepts directories that are not ignored and files that are
// neither ignored nor outside every rule's languages.
func (a *app) watchFilter(path string, dir bool) bool {
	if a.ignore.Ignored(path) {
		return false
	}
	return dir || a.catalog.Covers(path)
}
