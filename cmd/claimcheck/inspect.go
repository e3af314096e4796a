package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gyeh/claimcheck/internal/mz301"
)

func newRulesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "List the effective rule catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := a.catalog()
			if err != nil {
				return fmt.Errorf("loading rules: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tENABLED\tTITLE")
			for _, r := range cat.Rules {
				fmt.Fprintf(w, "%s\t%t\t%s\n", r.Name, !r.Disabled, r.Title)
			}
			return w.Flush()
		},
	}
}

func newLayoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "layout [tag]",
		Short: "Print the fixed-width field layout of each record type",
		Long: `Offsets are zero-based; END is exclusive. With a tag (01, 02, 04, 98 or
99) only that record type is printed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			types := mz301.RecordTypes
			if len(args) == 1 {
				types = []mz301.RecordType{mz301.RecordType(args[0])}
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for i, t := range types {
				l, err := mz301.LayoutFor(t)
				if err != nil {
					return err
				}
				if i > 0 {
					fmt.Fprintln(w)
				}
				fmt.Fprintf(w, "%s %s\n", l.Type, l.Name)
				fmt.Fprintln(w, "FIELD\tSTART\tEND\tWIDTH\tLABEL")
				for _, f := range l.Fields {
					fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\n", f.Name, f.Start, f.End, f.Width(), f.Label)
				}
			}
			return w.Flush()
		},
	}
}
