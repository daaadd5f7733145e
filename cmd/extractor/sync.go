package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-rescue-extract/client"
	"github.com/aluiziolira/go-rescue-extract/config"
	"github.com/aluiziolira/go-rescue-extract/extract"
	"github.com/aluiziolira/go-rescue-extract/models"
	"github.com/aluiziolira/go-rescue-extract/parser"
	"github.com/aluiziolira/go-rescue-extract/pipeline"
	"github.com/aluiziolira/go-rescue-extract/state"
	"github.com/aluiziolira/go-rescue-extract/telemetry"
)

type syncFlags struct {
	configPath   string
	statePath    string
	stateDB      string
	output       string
	format       string
	reportOutput string
	metricsAddr  string
	traceURL     string
	streams      []string
	verbose      bool
}

func syncCmd() *cobra.Command {
	var flags syncFlags

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync the selected streams, resuming from saved checkpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.LoadEnvFiles(".env"); err != nil {
				return fmt.Errorf("load .env: %w", err)
			}
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			applyFlags(cmd, cfg, flags)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return runSync(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&flags.configPath, "config", "c", "", "YAML or JSON config file")
	f.StringVar(&flags.statePath, "state", "", "JSON checkpoint file")
	f.StringVar(&flags.stateDB, "state-db", "", "SQLite checkpoint database (instead of --state)")
	f.StringVarP(&flags.output, "output", "o", "", "Output file for jsonl (\"-\" for stdout) or directory for csv/dual")
	f.StringVar(&flags.format, "format", "", "Output format: jsonl, csv, or dual")
	f.StringVar(&flags.reportOutput, "report-output", "", "Report wire format requested from the API: xml or text")
	f.StringVar(&flags.metricsAddr, "metrics-addr", "", "Prometheus metrics listen address (e.g. :9090)")
	f.StringVar(&flags.traceURL, "trace-endpoint", "", "OTLP/HTTP traces endpoint (e.g. http://localhost:4318/v1/traces)")
	f.StringSliceVar(&flags.streams, "streams", nil, "Streams to sync (default: all)")
	f.BoolVarP(&flags.verbose, "verbose", "v", false, "Enable verbose logging")
	return cmd
}

// applyFlags overrides cfg with the flags that were set explicitly.
func applyFlags(cmd *cobra.Command, cfg *config.Config, flags syncFlags) {
	changed := cmd.Flags().Changed
	if changed("state") {
		cfg.StatePath = flags.statePath
	}
	if changed("state-db") {
		cfg.StateDB = flags.stateDB
		if !changed("state") {
			cfg.StatePath = ""
		}
	}
	if changed("output") {
		cfg.OutputFile = flags.output
	}
	if changed("format") {
		cfg.OutputFormat = strings.ToLower(flags.format)
	}
	if changed("report-output") {
		cfg.ReportOutput = strings.ToLower(flags.reportOutput)
	}
	if changed("metrics-addr") {
		cfg.MetricsAddr = flags.metricsAddr
	}
	if changed("trace-endpoint") {
		cfg.TraceEndpoint = flags.traceURL
	}
	if changed("streams") {
		cfg.Streams = flags.streams
	}
	if changed("verbose") {
		cfg.Verbose = flags.verbose
	}
}

func runSync(parent context.Context, cfg *config.Config) error {
	logger, level := newLogger(cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received, stopping after the current step")
	}()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.TraceEndpoint)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Error("tracer shutdown failed", slog.Any("error", err))
		}
	}()

	metrics := telemetry.NewMetrics()
	obs := telemetry.New(logger, metrics)

	if cfg.MetricsAddr != "" {
		metricsServer := &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		logger.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("metrics server shutdown failed", slog.Any("error", err))
			}
		}()
	}

	backend, closeBackend, err := openBackend(cfg)
	if err != nil {
		return err
	}
	defer closeBackend()

	store, err := state.Open(ctx, backend)
	if err != nil {
		return err
	}

	writer, err := pipeline.NewWriter(cfg.OutputFormat, cfg.OutputFile)
	if err != nil {
		return fmt.Errorf("create writer: %w", err)
	}
	p := pipeline.NewPipeline(writer, obs)

	c, err := client.New(cfg, obs)
	if err != nil {
		p.Close()
		return fmt.Errorf("create client: %w", err)
	}

	keys, err := parser.NewNormalizer(cfg.NormalizerCacheSize)
	if err != nil {
		p.Close()
		return fmt.Errorf("create key normalizer: %w", err)
	}

	startDate, err := cfg.StartTime()
	if err != nil {
		p.Close()
		return err
	}

	logger.Info("starting sync",
		slog.String("base_url", cfg.BaseURL),
		slog.String("start_date", startDate.Format(time.RFC3339)),
		slog.String("report_output", cfg.ReportOutput),
		slog.Any("streams", cfg.Streams),
	)

	runner := extract.NewRunner(extract.Deps{
		Client:    c,
		Store:     store,
		Emitter:   p,
		Clock:     extract.SystemClock{},
		Observer:  obs,
		StartDate: startDate,
	}, parser.New(keys), cfg.Streams, cfg.ReportOutput)

	result, runErr := runner.Run(ctx)
	result.Requests, result.Backoffs = c.Stats()
	closeErr := p.Close()
	if runErr != nil {
		logger.Error("sync failed",
			slog.String("error_type", extract.ErrorLabel(runErr)),
			slog.Any("error", runErr),
		)
		return runErr
	}
	if closeErr != nil {
		return fmt.Errorf("pipeline shutdown failed: %w", closeErr)
	}

	if cfg.OutputFile != pipeline.Stdout && result.TotalRecords() > 0 {
		if err := writer.Validate(); err != nil {
			return fmt.Errorf("output validation failed: %w", err)
		}
	}

	printSummary(result, p.Counts(), cfg.OutputFile)
	return nil
}

func openBackend(cfg *config.Config) (state.Backend, func(), error) {
	if cfg.StateDB != "" {
		db, err := state.OpenSQLite(cfg.StateDB)
		if err != nil {
			return nil, nil, fmt.Errorf("open state db: %w", err)
		}
		return db, func() {
			if err := db.Close(); err != nil {
				slog.Error("close state db", slog.Any("error", err))
			}
		}, nil
	}
	if cfg.StatePath != "" {
		return state.NewFileBackend(cfg.StatePath), func() {}, nil
	}
	return &state.MemoryBackend{}, func() {}, nil
}

func printSummary(result *models.SyncResult, counts map[string]int, output string) {
	separator := "--------------------------------------------------"
	fmt.Fprintln(os.Stderr, "\n"+separator)
	fmt.Fprintln(os.Stderr, "Sync complete")

	for _, s := range result.Streams {
		fmt.Fprintf(os.Stderr, "  %-38s records=%d windows=%d technicians=%d (%v)\n",
			s.Stream, counts[s.Stream], s.Windows, s.Technicians, s.Duration.Round(time.Millisecond))
	}
	duration := result.EndTime.Sub(result.StartTime)
	recordsPerSec := 0.0
	if duration.Seconds() > 0 {
		recordsPerSec = float64(result.TotalRecords()) / duration.Seconds()
	}
	fmt.Fprintf(os.Stderr, "  Total records: %d\n", result.TotalRecords())
	fmt.Fprintf(os.Stderr, "  Requests:      %d\n", result.Requests)
	fmt.Fprintf(os.Stderr, "  Backoffs:      %d\n", result.Backoffs)
	fmt.Fprintf(os.Stderr, "  Duration:      %v\n", duration.Round(time.Millisecond))
	fmt.Fprintf(os.Stderr, "  Records/sec:   %.2f\n", recordsPerSec)
	fmt.Fprintf(os.Stderr, "  Output:        %s\n", output)
	fmt.Fprintln(os.Stderr, separator)
}
