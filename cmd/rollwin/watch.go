package main

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/WessleyAI/rollwin/engine/progress"
	"github.com/WessleyAI/rollwin/pkg/natsutil"
)

func newWatchCmd(f *flags) *cobra.Command {
	var exitOnSummary bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow progress events published by running pipelines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := f.loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			if cfg.Sinks.NATSURL == "" {
				return fmt.Errorf("watch: --nats-url or sinks.nats_url is required")
			}
			nc, err := nats.Connect(cfg.Sinks.NATSURL, nats.Name("rollwin-watch"))
			if err != nil {
				return err
			}
			defer nc.Close()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			var mu sync.Mutex
			sub, err := natsutil.Subscribe(nc, cfg.Sinks.NATSSubject, func(_ context.Context, e progress.Event) {
				mu.Lock()
				defer mu.Unlock()
				printEvent(cmd.OutOrStdout(), e)
				if exitOnSummary && e.Stage == progress.StageSummary {
					cancel()
				}
			})
			if err != nil {
				return err
			}
			defer sub.Unsubscribe()
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().BoolVar(&exitOnSummary, "exit-on-summary", false, "stop after the first run summary")
	return cmd
}

func printEvent(w io.Writer, e progress.Event) {
	ts := e.At.Format("15:04:05")
	switch e.Stage {
	case progress.StageWindow:
		fmt.Fprintf(w, "%s %s [%d/%d] %s %s nodes=%d edges=%d predicted=%d %dms",
			ts, e.RunID, e.Index, e.Total, e.Window, e.Outcome, e.Nodes, e.Edges, e.Predicted, e.ElapsedMS)
	case progress.StageSummary:
		fmt.Fprintf(w, "%s %s summary done=%d skipped=%d failed=%d %dms",
			ts, e.RunID, e.Succeeded, e.Skipped, e.Failed, e.ElapsedMS)
	case progress.StageAttempt, progress.StageRetry:
		fmt.Fprintf(w, "%s %s %s %s attempt=%d", ts, e.RunID, e.Stage, e.Window, e.Attempt)
	default:
		fmt.Fprintf(w, "%s %s %s total=%d", ts, e.RunID, e.Stage, e.Total)
	}
	if e.Error != "" {
		fmt.Fprintf(w, " error=%q", e.Error)
	}
	fmt.Fprintln(w)
}
