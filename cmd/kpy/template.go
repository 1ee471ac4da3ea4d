package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var templateCmd = &cobra.Command{
	Use:   "template [ID]",
	Short: "List application templates or activate one",
	Long: `With no ID, lists the available application templates and marks the
active one. With an ID, activates it after loading scripts; "default"
deactivates the current template.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTemplate,
}

func init() {
	templateCmd.Flags().Bool("save", false, "store the template in preferences")
	rootCmd.AddCommand(templateCmd)
}

func runTemplate(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.close()

	out := cmd.OutOrStdout()
	if len(args) == 0 {
		stored := rt.cfg.Prefs.AppTemplate()
		for _, id := range rt.session.Templates.Available() {
			mark := " "
			if id == stored {
				mark = "*"
			}
			fmt.Fprintf(out, "%s %s\n", mark, id)
		}
		return nil
	}

	id := args[0]
	if id == "default" {
		id = ""
	}
	rt.session.LoadScripts(false)
	defer rt.session.Close()
	if err := rt.session.Templates.Activate(id, false); err != nil {
		return fmt.Errorf("activate template %s: %w", displayTemplate(id), err)
	}
	fmt.Fprintf(out, "active template: %s\n", displayTemplate(rt.session.Templates.Active()))
	if save, _ := cmd.Flags().GetBool("save"); save {
		rt.cfg.Prefs.SetAppTemplate(id)
		return rt.savePrefs(cmd)
	}
	return nil
}
