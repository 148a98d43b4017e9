package cmd

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/nfrund/modlink/internal/router"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Work with routing rules files",
}

var rulesValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Validate a routing rules file",
	Args:  cobra.ExactArgs(1),
	RunE: func(c *cobra.Command, args []string) error {
		rules, err := router.LoadRules(afero.NewOsFs(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(c.OutOrStdout(), "%s: %d rules OK\n", args[0], len(rules))
		for _, r := range rules {
			target := r.Target
			if target == "" {
				target = "(broadcast)"
			}
			fmt.Fprintf(c.OutOrStdout(), "  %s: %s -> %s %s\n", r.Name, r.EventPattern, r.Topic, target)
		}
		return nil
	},
}

func init() {
	rulesCmd.AddCommand(rulesValidateCmd)
	rootCmd.AddCommand(rulesCmd)
}
