package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/WessleyAI/rollwin/engine/config"
	"github.com/WessleyAI/rollwin/engine/pipeline"
)

func newPlanCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "List the windows a run would process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := f.loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			windows, err := pipeline.PlanWindows(&cfg)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTART\tEND\tSTART_MS\tEND_MS")
			for _, w := range windows {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n", w.ID(),
					time.UnixMilli(w.Start).UTC().Format(time.DateOnly),
					time.UnixMilli(w.End).UTC().Format(time.DateOnly),
					w.Start, w.End)
			}
			return tw.Flush()
		},
	}
}

func newFingerprintCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint",
		Short: "Print the configuration fingerprint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := f.loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			fp, err := cfg.Fingerprint()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", fp, config.ShortHash(fp))
			return nil
		},
	}
}
