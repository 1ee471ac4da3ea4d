package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kingrea/kpy/internal/config"
	"github.com/kingrea/kpy/internal/logbook"
	"github.com/kingrea/kpy/internal/logging"
	"github.com/kingrea/kpy/internal/session"
)

// runtime bundles everything a subcommand needs.
type runtime struct {
	cfg     *config.Config
	logger  *logging.Logger
	book    *logbook.Logbook
	session *session.Session
}

// openRuntime resolves settings, opens the log files and builds a session.
// Nothing is loaded yet.
func openRuntime(cmd *cobra.Command) (*runtime, error) {
	settings, err := config.Load()
	if err != nil {
		return nil, err
	}
	cfg, err := config.New(settings)
	if err != nil {
		return nil, err
	}
	verbose, _ := cmd.Flags().GetBool("verbose")
	logger, err := logging.New(logging.Options{
		Path:   cfg.LogPath(),
		Stderr: verbose,
		Debug:  settings.Debug,
		Prefix: "kpy",
	})
	if err != nil {
		return nil, err
	}
	book, err := logbook.New(cfg.JournalPath())
	if err != nil {
		_ = logger.Close()
		return nil, fmt.Errorf("open lifecycle journal: %w", err)
	}
	errOut := cmd.ErrOrStderr()
	sess := session.New(cfg,
		session.WithLogger(logger.Logger),
		session.WithLogbook(book),
		session.WithErrorHandler(func(name string, err error) {
			logger.Error("script failure", "module", name, "err", err)
			fmt.Fprintf(errOut, "%s: %v\n", name, err)
		}),
	)
	return &runtime{cfg: cfg, logger: logger, book: book, session: sess}, nil
}

// close releases the log file.
func (r *runtime) close() {
	_ = r.logger.Close()
}

// savePrefs writes preferences and reports where they went.
func (r *runtime) savePrefs(cmd *cobra.Command) error {
	if err := r.cfg.Prefs.Save(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "saved %s\n", r.cfg.Prefs.Path())
	return nil
}
