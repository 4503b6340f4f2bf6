package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/mumose/contract-labeling-with-TOC/internal/outline"
	"github.com/mumose/contract-labeling-with-TOC/internal/parser"
)

var outlineSections bool

var outlineCmd = &cobra.Command{
	Use:   "outline FILE",
	Short: "Print the section outline of a contents table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		rows, err := parser.ReadRows(f, args[0])
		if err != nil {
			return err
		}
		o := outline.Extract(rows)

		include := cfgManager.Get().Matching.IncludeSubsections
		if outlineSections {
			include = false
		}
		return Output(cmd.OutOrStdout(), map[string]any{
			"outline": o,
			"labels":  o.Labels(include),
		})
	},
}

func init() {
	outlineCmd.Flags().BoolVar(&outlineSections, "sections-only", false, "list only section titles as labels")
	rootCmd.AddCommand(outlineCmd)
}
