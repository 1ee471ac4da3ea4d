package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kingrea/kpy/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the per-user script, config and log directories",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		settings, err := config.Load()
		if err != nil {
			return err
		}
		if err := config.InitUserDir(settings); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "initialized %s\n", settings.UserScripts)
		return nil
	},
}

var pathsCmd = &cobra.Command{
	Use:   "paths",
	Short: "Print the resolved script, config and log paths",
	Args:  cobra.NoArgs,
	RunE:  runPaths,
}

func init() {
	rootCmd.AddCommand(initCmd, pathsCmd)
}

func runPaths(cmd *cobra.Command, _ []string) error {
	settings, err := config.Load()
	if err != nil {
		return err
	}
	cfg, err := config.New(settings)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "prefs:   %s\n", cfg.Prefs.Path())
	fmt.Fprintf(out, "log:     %s\n", cfg.LogPath())
	fmt.Fprintf(out, "journal: %s\n", cfg.JournalPath())
	fmt.Fprintf(out, "gopath:  %s\n", cfg.GoPath())
	for _, root := range cfg.Roots() {
		fmt.Fprintf(out, "root:    %s\n", root)
	}
	for _, sub := range []string{config.AddonsDir, config.AddonsContribDir, config.StartupDir, config.TemplatesDir} {
		for _, dir := range cfg.ScriptPaths(sub) {
			fmt.Fprintf(out, "%-8s %s\n", sub+":", dir)
		}
	}
	return nil
}
