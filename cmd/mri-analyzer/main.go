// Command mri-analyzer dispatches MRI image series to a vision model in
// rate-limited batches and aggregates the responses into study reports.
//
// Usage examples:
//
//	# Analyze only the first 3 images per series for a dry run
//	mri-analyzer /path/to/images --sample 3
//
//	# Full run with defaults
//	mri-analyzer /path/to/images
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/SeverMM/ai-mri-analyzer/pkg/config"
	"github.com/SeverMM/ai-mri-analyzer/pkg/dispatch"
	"github.com/SeverMM/ai-mri-analyzer/pkg/logging"
	"github.com/SeverMM/ai-mri-analyzer/pkg/report"
	"github.com/SeverMM/ai-mri-analyzer/pkg/results"
	"github.com/SeverMM/ai-mri-analyzer/pkg/series"
	"github.com/SeverMM/ai-mri-analyzer/pkg/vision"
)

type cliFlags struct {
	sample         int
	batchSize      int
	maxConcurrent  int
	maxRetries     int
	rpm            int
	configPath     string
	seriesFilter   string
	prevFlag       string
	patientContext string
	sequenceType   string
	skipReport     bool
	metricsAddr    string
}

func parseFlags(args []string) (string, cliFlags, error) {
	fs := flag.NewFlagSet("mri-analyzer", flag.ContinueOnError)
	var f cliFlags

	fs.IntVar(&f.sample, "sample", 0, "process only the first N images of each series (0 = all)")
	fs.IntVar(&f.batchSize, "batch-size", 0, "override images per request (1-20)")
	fs.IntVar(&f.maxConcurrent, "max-concurrent", 0, "override maximum concurrent requests")
	fs.IntVar(&f.maxRetries, "max-retries", -1, "override retries per batch on transient errors")
	fs.IntVar(&f.rpm, "rpm", -1, "override global requests-per-minute limit (0 = no limit)")
	fs.StringVar(&f.configPath, "config", "", "path to config.yaml")
	fs.StringVar(&f.seriesFilter, "series", "", "comma-separated series IDs to analyze (e.g. IMG-0003,IMG-0005)")
	fs.StringVar(&f.prevFlag, "prev-flag", "", "preliminary AI finding to confirm or refute")
	fs.StringVar(&f.patientContext, "patient-context", "", "short demographics / relevant history")
	fs.StringVar(&f.sequenceType, "sequence-type", "", "human-readable MRI sequence description")
	fs.BoolVar(&f.skipReport, "skip-report", false, "skip summarization and report generation")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "expose Prometheus /metrics on this address (e.g. :9090)")

	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: mri-analyzer <image_dir> [flags]\n\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return "", f, err
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return "", f, fmt.Errorf("image directory argument required")
	}
	return fs.Arg(0), f, nil
}

// buildConfig layers file values, environment overrides and CLI flags.
// Flags win over everything; unset flags keep their config values.
func buildConfig(f cliFlags) (config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return cfg, err
	}
	cfg.ApplyEnv()

	if f.batchSize > 0 {
		cfg.Dispatch.BatchSize = f.batchSize
	}
	if f.sample > 0 {
		cfg.Dispatch.SampleLimit = f.sample
	}
	if f.maxConcurrent > 0 {
		cfg.Dispatch.MaxConcurrent = f.maxConcurrent
	}
	if f.maxRetries >= 0 {
		cfg.Dispatch.MaxRetries = f.maxRetries
	}
	if f.rpm >= 0 {
		cfg.Dispatch.RequestsPerMinute = f.rpm
	}
	if f.metricsAddr != "" {
		cfg.Metrics.Addr = f.metricsAddr
	}

	return cfg, cfg.Validate()
}

func splitSeriesFilter(raw string) []string {
	if raw == "" {
		return nil
	}
	var ids []string
	for _, part := range strings.Split(raw, ",") {
		if id := strings.TrimSpace(part); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func run() error {
	// Credentials may live in a local .env file.
	_ = godotenv.Load()

	imageDir, flags, err := parseFlags(os.Args[1:])
	if err != nil {
		return err
	}

	cfg, err := buildConfig(flags)
	if err != nil {
		return err
	}

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.Logging.Level),
		Pretty: cfg.Logging.Pretty,
		Output: os.Stderr,
	})

	if cfg.Metrics.Addr != "" {
		go serveMetrics(cfg.Metrics.Addr, logger)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	files, err := series.Collect(imageDir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no image files found in %s", imageDir)
	}
	logger.Info().Int("files", len(files)).Str("dir", imageDir).Msg("Grouping images into series")

	all := series.Infer(files)
	if include := splitSeriesFilter(flags.seriesFilter); include != nil {
		all = series.Filter(all, include)
	}
	if len(all) == 0 {
		return fmt.Errorf("no series left after filtering")
	}
	logger.Info().Int("series", len(all)).Msg("Series identified")

	client, err := vision.New(vision.Config{
		APIKey:  cfg.OpenAI.APIKey,
		Model:   cfg.OpenAI.Model,
		BaseURL: cfg.OpenAI.BaseURL,
	})
	if err != nil {
		return err
	}

	store, err := results.NewStore(cfg.Paths.ResultsDir)
	if err != nil {
		return err
	}

	opts := dispatch.DefaultOptions()
	opts.BatchSize = cfg.Dispatch.BatchSize
	opts.SampleLimit = cfg.Dispatch.SampleLimit
	opts.MaxConcurrent = cfg.Dispatch.MaxConcurrent
	opts.MaxRetries = cfg.Dispatch.MaxRetries
	opts.RequestsPerMinute = cfg.Dispatch.RequestsPerMinute
	opts.BaseBackoff = cfg.BaseBackoff()
	opts.Model = cfg.OpenAI.Model
	opts.PatientContext = flags.patientContext
	if flags.prevFlag != "" {
		opts.PriorFlag = flags.prevFlag
	}
	if flags.sequenceType != "" {
		opts.SequenceType = flags.sequenceType
	}

	coord, err := dispatch.NewCoordinator(client, store, opts)
	if err != nil {
		return err
	}

	outcomes := coord.AnalyzeAll(ctx, all)

	completed, failed := 0, 0
	for _, outs := range outcomes {
		for _, out := range outs {
			if out.Completed() {
				completed++
			} else {
				failed++
			}
		}
	}
	logger.Info().Int("completed", completed).Int("failed", failed).Msg("Dispatch finished")

	if ctx.Err() != nil {
		return fmt.Errorf("run interrupted: %w", ctx.Err())
	}
	if flags.skipReport {
		logger.Info().Msg("Skipping summary and report generation")
		return nil
	}

	summary, err := report.Summarize(store)
	if err != nil {
		return err
	}
	csvPath, err := report.ExportCSV(summary, cfg.Paths.ReportsDir)
	if err != nil {
		return err
	}

	// Narrative summary is best effort; the CSV already holds the study.
	if _, err := report.GenerateFinalSummary(ctx, client, cfg.OpenAI.SummaryModel, csvPath, cfg.Paths.ReportsDir); err != nil {
		logger.Error().Err(err).Msg("Final summary generation failed")
	}

	return nil
}

func serveMetrics(addr string, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Info().Str("addr", addr).Msg("Serving Prometheus metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error().Err(err).Msg("Metrics listener stopped")
	}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
