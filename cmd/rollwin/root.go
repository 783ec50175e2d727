package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/WessleyAI/rollwin/engine/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// flags holds every command-line override. Only flags the user set are
// applied over the file.
type flags struct {
	configPath string
	envFiles   []string
	logLevel   string
	logFile    string

	startYear      int
	endStartYear   int
	size           int
	step           int
	granularity    string
	relTypes       string
	includeImputed bool
	skipExisting   bool
	maxRetries     int
	retryBackoff   time.Duration
	outputDir      string
	runName        string
	linkPrediction bool
	lpThreshold    float64

	metricsAddr string
	natsURL     string
	natsSubject string
	qdrantAddr  string
	s3Bucket    string
	s3Prefix    string
}

func newRootCmd() *cobra.Command {
	f := &flags{}
	root := &cobra.Command{
		Use:           "rollwin",
		Short:         "Rolling-window graph snapshots over Neo4j GDS",
		Long:          `rollwin projects a temporal property graph once, filters it per rolling window, runs graph algorithms on every window and exports the results as parquet files.`,
		SilenceUsage:  true,
		SilenceErrors: false,
		Version:       version,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&f.configPath, "config", "c", "", "YAML configuration file")
	pf.StringSliceVar(&f.envFiles, "env-file", []string{".env"}, "dotenv files with engine credentials")
	pf.StringVar(&f.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	pf.StringVar(&f.logFile, "log-file", "", "also write JSON logs to this file")

	pf.IntVar(&f.startYear, "start-year", 0, "first window start year")
	pf.IntVar(&f.endStartYear, "end-start-year", 0, "last window start year")
	pf.IntVar(&f.size, "size", 0, "window size in periods")
	pf.IntVar(&f.step, "step", 0, "periods between window starts")
	pf.StringVar(&f.granularity, "granularity", "", "period length: yearly, biannual, quarterly or monthly")
	pf.StringVar(&f.relTypes, "rel-types", "", "comma separated relationship types")
	pf.BoolVar(&f.includeImputed, "include-imputed", false, "keep imputed relationships in window graphs")
	pf.BoolVar(&f.skipExisting, "skip-existing", true, "skip windows whose outputs already exist")
	pf.IntVar(&f.maxRetries, "max-retries", 0, "total attempts per window, the first included, before the run aborts")
	pf.DurationVar(&f.retryBackoff, "retry-backoff", 0, "base backoff between attempts")
	pf.StringVarP(&f.outputDir, "output-dir", "o", "", "output directory")
	pf.StringVar(&f.runName, "run-name", "", "run folder below the output directory (default: UTC timestamp)")
	pf.BoolVar(&f.linkPrediction, "link-prediction", false, "impute family ties per window")
	pf.Float64Var(&f.lpThreshold, "lp-threshold", 0, "probability cutoff for predicted ties, 0 picks the F-beta optimum")

	pf.StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	pf.StringVar(&f.natsURL, "nats-url", "", "publish progress events to this NATS server")
	pf.StringVar(&f.natsSubject, "nats-subject", "", "NATS subject for progress events")
	pf.StringVar(&f.qdrantAddr, "qdrant-addr", "", "mirror embeddings to this Qdrant gRPC address")
	pf.StringVar(&f.s3Bucket, "s3-bucket", "", "mirror output files to this S3 bucket")
	pf.StringVar(&f.s3Prefix, "s3-prefix", "", "key prefix inside the S3 bucket")

	root.AddCommand(
		newRunCmd(f),
		newPlanCmd(f),
		newFingerprintCmd(f),
		newWatchCmd(f),
		newVersionCmd(),
	)
	return root
}

// loadConfig builds the configuration: defaults, then the file, then flags.
func (f *flags) loadConfig(fs *pflag.FlagSet) (config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		var err error
		if cfg, err = config.Load(f.configPath); err != nil {
			return cfg, err
		}
	}
	set := func(name string, apply func()) {
		if fs.Changed(name) {
			apply()
		}
	}
	set("start-year", func() { cfg.Window.StartYear = f.startYear })
	set("end-start-year", func() { cfg.Window.EndStartYear = f.endStartYear })
	set("size", func() { cfg.Window.Size = f.size })
	set("step", func() { cfg.Window.Step = f.step })
	set("granularity", func() { cfg.Window.Granularity = f.granularity })
	set("rel-types", func() { cfg.RelTypes = config.ParseRelTypes(f.relTypes) })
	set("include-imputed", func() { cfg.IncludeImputed = f.includeImputed })
	set("skip-existing", func() { cfg.SkipExisting = f.skipExisting })
	set("max-retries", func() { cfg.MaxRetries = f.maxRetries })
	set("retry-backoff", func() { cfg.RetryBackoff = f.retryBackoff })
	set("output-dir", func() { cfg.OutputDir = f.outputDir })
	set("run-name", func() { cfg.RunName = f.runName })
	set("link-prediction", func() { cfg.LinkPrediction.Enabled = f.linkPrediction })
	set("lp-threshold", func() { cfg.LinkPrediction.Threshold = f.lpThreshold })
	set("metrics-addr", func() { cfg.Sinks.MetricsAddr = f.metricsAddr })
	set("nats-url", func() { cfg.Sinks.NATSURL = f.natsURL })
	set("nats-subject", func() { cfg.Sinks.NATSSubject = f.natsSubject })
	set("qdrant-addr", func() { cfg.Sinks.QdrantAddr = f.qdrantAddr })
	set("s3-bucket", func() { cfg.Sinks.S3Bucket = f.s3Bucket })
	set("s3-prefix", func() { cfg.Sinks.S3Prefix = f.s3Prefix })

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "rollwin", version)
		},
	}
}
