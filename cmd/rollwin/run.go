package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"github.com/spf13/cobra"

	"github.com/WessleyAI/rollwin/engine/artifact"
	"github.com/WessleyAI/rollwin/engine/config"
	"github.com/WessleyAI/rollwin/engine/pipeline"
	"github.com/WessleyAI/rollwin/engine/progress"
	"github.com/WessleyAI/rollwin/engine/semantic"
	"github.com/WessleyAI/rollwin/pkg/metrics"
)

func newRunCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Compute and export every planned window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, closeLog, err := newLogger(cmd.ErrOrStderr(), f.logLevel, f.logFile)
			if err != nil {
				return err
			}
			defer closeLog()

			if err := config.LoadDotEnv(f.envFiles...); err != nil {
				return err
			}
			cfg, err := f.loadConfig(cmd.Flags())
			if err != nil {
				logger.Error("invalid configuration", "error", err)
				return err
			}
			if cfg.RunName == "" {
				cfg.RunName = time.Now().UTC().Format("20060102T150405Z")
			}
			if err := cfg.ApplyEnv(); err != nil {
				logger.Error("missing engine credentials", "error", err)
				return err
			}
			return run(cmd.Context(), &cfg, logger, cmd.OutOrStdout())
		},
	}
}

// run wires the side outputs configured in cfg and drives the pipeline.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, out io.Writer) error {
	m, err := metrics.New()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	if addr := cfg.Sinks.MetricsAddr; addr != "" {
		fp, err := cfg.Fingerprint()
		if err != nil {
			return fmt.Errorf("fingerprint: %w", err)
		}
		go func() {
			if err := m.Serve(ctx, addr, cfg.RunName, config.ShortHash(fp), logger); err != nil {
				logger.Error("metrics server", "addr", addr, "error", err)
			}
		}()
		logger.Info("serving metrics", "addr", addr)
	}

	sinks := progress.Multi{progress.LogSink{Logger: logger}}
	if url := cfg.Sinks.NATSURL; url != "" {
		sink, closeNATS, err := progress.DialNATS(url, cfg.Sinks.NATSSubject, "rollwin-"+cfg.RunName)
		if err != nil {
			logger.Warn("nats unavailable, progress stays local", "url", url, "error", err)
		} else {
			defer closeNATS()
			sinks = append(sinks, sink)
		}
	}

	deps := pipeline.Deps{
		Connect:  pipeline.Connector(cfg, logger),
		Logger:   logger,
		Metrics:  m,
		Progress: sinks,
	}
	if addr := cfg.Sinks.QdrantAddr; addr != "" {
		store, err := semantic.New(addr, cfg.Sinks.QdrantCollection)
		if err != nil {
			return fmt.Errorf("qdrant %s: %w", addr, err)
		}
		defer store.Close()
		store.Logger = logger
		deps.Embeddings = store
	}
	if bucket := cfg.Sinks.S3Bucket; bucket != "" {
		client, err := artifact.NewS3Client(ctx, cfg.Sinks)
		if err != nil {
			return fmt.Errorf("s3: %w", err)
		}
		prefix := path.Join(cfg.Sinks.S3Prefix, cfg.RunName)
		deps.Mirror = artifact.New(client, bucket, prefix, cfg.RunDir(), logger)
	}

	runner, err := pipeline.New(cfg, deps)
	if err != nil {
		return err
	}
	logger.Info("starting run", "run_id", runner.RunID(), "windows", len(runner.Windows()),
		"fingerprint", config.ShortHash(runner.Fingerprint()), "dir", cfg.RunDir())

	sum, err := runner.Run(ctx)
	printSummary(out, sum)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("run interrupted", "manifest", sum.Manifest)
		} else {
			logger.Error("run failed", "error", err)
		}
		return err
	}
	return nil
}

func printSummary(w io.Writer, s pipeline.Summary) {
	fmt.Fprintf(w, "run %s: %d windows, %d done, %d skipped, %d failed\n",
		s.RunID, s.Windows, s.Succeeded, s.Skipped, s.Failed)
	fmt.Fprintf(w, "attempts %d, reconnects %d, predicted edges %d, took %s\n",
		s.Attempts, s.Reconnects, s.Predicted, s.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "manifest %s\n", s.Manifest)
}
