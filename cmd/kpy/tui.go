package main

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/kingrea/kpy/internal/tui"
)

// tuiCmd launches the interactive addon manager.
var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Launch the interactive addon manager",
	Args:  cobra.NoArgs,
	RunE:  runTUI,
}

func init() {
	rootCmd.AddCommand(tuiCmd)
}

func runTUI(cmd *cobra.Command, _ []string) error {
	rt, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.close()

	rt.session.LoadScripts(false)
	defer rt.session.Close()

	app := tui.NewApp(rt.session.Addons,
		tui.WithLogbook(rt.book),
		tui.WithSaver(rt.cfg.Prefs),
	)
	p := tea.NewProgram(app, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("run TUI: %w", err)
	}
	return nil
}
