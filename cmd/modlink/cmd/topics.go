package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nfrund/modlink/internal/modules/petstate"
	"github.com/nfrund/modlink/internal/topics"
)

var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "List registered topics",
	Long:  `Lists the reserved framework topics and every module topic declaration.`,
	RunE: func(c *cobra.Command, args []string) error {
		for _, t := range topics.Framework() {
			if err := topics.Register(t); err != nil {
				return err
			}
		}
		if err := petstate.RegisterTopics(); err != nil {
			return err
		}

		w := tabwriter.NewWriter(c.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tMODULE\tPATTERN\tDESCRIPTION")
		for _, t := range topics.List() {
			module := t.Module
			if module == "" {
				module = "(framework)"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.Name, module, t.Pattern, t.Description)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(topicsCmd)
}
