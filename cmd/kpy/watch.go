package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kingrea/kpy/internal/config"
	"github.com/kingrea/kpy/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Load scripts and reload them as files change",
	Long: `Loads scripts like reset, then watches the addon, startup and template
directories. Each debounced batch of changed files re-registers the enabled
addons, startup modules and the active template whose files changed.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().Duration("debounce", watch.DefaultDebounce, "quiet period before reloading")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, _ []string) error {
	rt, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.close()

	out := cmd.OutOrStdout()
	report := rt.session.LoadScripts(false)
	fmt.Fprintf(out, "loaded %d startup module(s), %d addon(s), template %s\n",
		len(report.Startup), len(report.Addons.Enabled), displayTemplate(report.Template))
	defer rt.session.Close()

	dirs := rt.session.Addons.Paths()
	dirs = append(dirs, rt.cfg.ScriptPaths(config.StartupDir)...)
	dirs = append(dirs, rt.cfg.ScriptPaths(config.TemplatesDir)...)
	debounce, _ := cmd.Flags().GetDuration("debounce")
	w, err := watch.New(dirs, watch.WithDebounce(debounce))
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Start(); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer w.Stop()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	fmt.Fprintf(out, "watching %d director(ies); ctrl+c to stop\n", len(dirs))
	return watchLoop(ctx, w.Batches, rt.session.Reload, func(reloaded []string) {
		fmt.Fprintf(out, "reloaded: %s\n", strings.Join(reloaded, ", "))
	})
}

// watchLoop feeds batches to reload until ctx ends or batches closes.
func watchLoop(ctx context.Context, batches <-chan []string, reload func([]string) []string, report func([]string)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case batch, ok := <-batches:
			if !ok {
				return nil
			}
			if reloaded := reload(batch); len(reloaded) > 0 {
				report(reloaded)
			}
		}
	}
}
