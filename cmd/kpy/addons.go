package main

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/kingrea/kpy/internal/addons"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List discovered addons",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "Show duplicate addon names and manifest problems",
	Args:  cobra.NoArgs,
	RunE:  runConflicts,
}

var enableCmd = &cobra.Command{
	Use:   "enable NAME",
	Short: "Enable an addon",
	Args:  cobra.ExactArgs(1),
	RunE:  runEnable,
}

var disableCmd = &cobra.Command{
	Use:   "disable NAME",
	Short: "Disable an addon",
	Args:  cobra.ExactArgs(1),
	RunE:  runDisable,
}

var checkCmd = &cobra.Command{
	Use:   "check NAME",
	Short: "Report whether an addon is enabled by default and loaded",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheck,
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Load scripts and reconcile addons with preferences",
	Args:  cobra.NoArgs,
	RunE:  runReset,
}

func init() {
	listCmd.Flags().Bool("refresh", false, "rescan the addon directories")
	enableCmd.Flags().Bool("save", false, "store the addon in preferences")
	enableCmd.Flags().Bool("persistent", false, "keep the addon across reset")
	disableCmd.Flags().Bool("save", false, "remove the addon from preferences")
	resetCmd.Flags().Bool("reload", false, "unload and re-import every script first")

	rootCmd.AddCommand(listCmd, conflictsCmd, enableCmd, disableCmd, checkCmd, resetCmd)
}

var headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))

func runList(cmd *cobra.Command, _ []string) error {
	rt, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.close()

	refresh, _ := cmd.Flags().GetBool("refresh")
	records := rt.session.Addons.Modules(refresh)
	if len(records) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no addons found")
		return nil
	}
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		mark := ""
		if rt.cfg.Prefs.HasAddon(rec.Name) {
			mark = "x"
		}
		rows = append(rows, []string{
			mark,
			rec.Name,
			rec.Info.Name,
			rec.Info.Category,
			rec.Info.Version.String(),
			string(rec.Info.Support),
		})
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("#444444"))).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return lipgloss.NewStyle()
		}).
		Headers("ON", "MODULE", "NAME", "CATEGORY", "VERSION", "SUPPORT").
		Rows(rows...)
	fmt.Fprintln(cmd.OutOrStdout(), t.Render())
	return nil
}

func runConflicts(cmd *cobra.Command, _ []string) error {
	rt, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.close()

	out := cmd.OutOrStdout()
	report := rt.session.Addons.Refresh()
	conflicts := rt.session.Addons.Conflicts()
	for _, c := range conflicts {
		fmt.Fprintf(out, "duplicate %s\n  kept:    %s\n  ignored: %s\n", c.Name, c.FirstPath, c.SecondPath)
	}
	for _, d := range report.Diagnostics {
		fmt.Fprintln(out, d.String())
	}
	if len(conflicts) == 0 && len(report.Diagnostics) == 0 {
		fmt.Fprintln(out, "no conflicts")
	}
	return nil
}

func runEnable(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.close()

	save, _ := cmd.Flags().GetBool("save")
	persistent, _ := cmd.Flags().GetBool("persistent")
	rt.session.LoadScripts(false)
	defer rt.session.Close()

	name := args[0]
	if _, err := rt.session.Addons.Enable(name, addons.EnableOptions{DefaultSet: save, Persistent: persistent}); err != nil {
		return fmt.Errorf("enable %s: %w", name, err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "enabled %s\n", name)
	for _, ref := range rt.session.Host().Classes().Owned(name) {
		fmt.Fprintf(out, "  %s\n", ref)
	}
	if save {
		return rt.savePrefs(cmd)
	}
	return nil
}

func runDisable(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.close()

	save, _ := cmd.Flags().GetBool("save")
	rt.session.LoadScripts(false)
	defer rt.session.Close()

	name := args[0]
	err = rt.session.Addons.Disable(name, addons.DisableOptions{DefaultSet: save})
	switch {
	case errors.Is(err, addons.ErrNotLoaded) && save:
		fmt.Fprintf(cmd.OutOrStdout(), "%s was not loaded\n", name)
	case err != nil:
		return fmt.Errorf("disable %s: %w", name, err)
	default:
		fmt.Fprintf(cmd.OutOrStdout(), "disabled %s\n", name)
	}
	if save {
		return rt.savePrefs(cmd)
	}
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.close()

	rt.session.LoadScripts(false)
	defer rt.session.Close()

	loadedDefault, loadedState := rt.session.Addons.Check(args[0])
	fmt.Fprintf(cmd.OutOrStdout(), "%s default=%t loaded=%t\n", args[0], loadedDefault, loadedState)
	return nil
}

func runReset(cmd *cobra.Command, _ []string) error {
	rt, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.close()

	reload, _ := cmd.Flags().GetBool("reload")
	report := rt.session.LoadScripts(false)
	if reload {
		report = rt.session.LoadScripts(true)
	}
	defer rt.session.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "startup:  %v\n", report.Startup)
	fmt.Fprintf(out, "template: %s\n", displayTemplate(report.Template))
	fmt.Fprintf(out, "enabled:  %v\n", report.Addons.Enabled)
	fmt.Fprintf(out, "disabled: %v\n", report.Addons.Disabled)
	if reload {
		fmt.Fprintf(out, "reloaded: %v\n", report.Addons.Reloaded)
	}
	return nil
}

func displayTemplate(id string) string {
	if id == "" {
		return "(default)"
	}
	return id
}
