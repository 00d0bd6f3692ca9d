package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/spf13/viper"

	"github.com/airframesio/sales-pipeline/cmd/gateway"
	"github.com/airframesio/sales-pipeline/cmd/metrics"
	"github.com/airframesio/sales-pipeline/cmd/pipeline"
	"github.com/airframesio/sales-pipeline/cmd/transform"
	"github.com/airframesio/sales-pipeline/cmd/warehouse"
)

// Process exit codes
const (
	exitSuccess     = 0
	exitFailure     = 1
	exitInterrupted = 130
)

const metricsPushTimeout = 10 * time.Second

// newStages builds the per-run clients. Replaced in tests.
var newStages = buildStages

// buildStages dials S3 and opens the database pool for one run
func buildStages(cfg *Config, logger *slog.Logger) (pipeline.StageSet, func() error, error) {
	store, err := gateway.DialS3(gateway.S3Options{
		Endpoint:  cfg.S3.Endpoint,
		Region:    cfg.S3.Region,
		AccessKey: cfg.S3.AccessKey,
		SecretKey: cfg.S3.SecretKey,
	})
	if err != nil {
		return pipeline.StageSet{}, nil, err
	}

	db, err := warehouse.Open(warehouse.DBOptions{
		Host:             cfg.Database.Host,
		Port:             cfg.Database.Port,
		User:             cfg.Database.User,
		Password:         cfg.Database.Password,
		Name:             cfg.Database.Name,
		SSLMode:          cfg.Database.SSLMode,
		StatementTimeout: cfg.Database.StatementTimeout,
	})
	if err != nil {
		return pipeline.StageSet{}, nil, err
	}

	stages := pipeline.StageSet{
		Extractor: gateway.New(store, logger, gateway.WithDecompression(cfg.Staging.Decompress)),
		Transformer: transform.New(logger, transform.Options{
			InputFile:  cfg.Staging.InputFile,
			OutputFile: cfg.Staging.OutputFile,
		}),
		Loader:    warehouse.NewLoader(db, cfg.Database.Name, cfg.Database.Table, logger),
		Validator: warehouse.NewValidator(db, cfg.Database.Table, logger),
	}
	return stages, db.Close, nil
}

// exitCode maps a run outcome to the process exit status
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitSuccess
	case errors.Is(err, context.Canceled):
		return exitInterrupted
	default:
		return exitFailure
	}
}

// useTUI reports whether the progress view should replace plain logs
func useTUI(cfg *Config, out io.Writer) bool {
	if cfg.Debug || cfg.LogFormat != "text" {
		return false
	}
	f, ok := out.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// checkRelease logs an update notice without holding up the run for long
func checkRelease(ctx context.Context, cfg *Config) {
	if cfg.ReleaseCheckURL == "" {
		return
	}

	done := make(chan VersionCheckResult, 1)
	go func() {
		done <- newReleaseChecker(cfg.ReleaseCheckURL).check(ctx, Version)
	}()

	select {
	case result := <-done:
		if result.UpdateAvailable {
			logger.Info(fmt.Sprintf("💡 %s", formatUpdateMessage(result)))
		} else if result.Error != nil && cfg.Debug {
			logger.Debug(fmt.Sprintf("Version check failed: %v", result.Error))
		}
	case <-time.After(2 * time.Second):
		logger.Debug("Version check taking longer than expected, continuing...")
	}
}

// runPipeline executes one run and returns the process exit code
func runPipeline(out io.Writer) int {
	cfg := configFromViper(viper.GetViper())
	tui := useTUI(cfg, out)

	logger = slog.New(newLogHandler(out, cfg.Debug, cfg.LogFormat))

	logger.Info("")
	logger.Info(fmt.Sprintf("🚀 Sales Pipeline v%s", Version))
	logger.Info("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	logger.Debug("Validating configuration...")
	if err := cfg.Validate(); err != nil {
		logger.Error(fmt.Sprintf("❌ Configuration error: %s", err.Error()))
		return exitFailure
	}
	logger.Debug("Configuration validated successfully")

	ctx := signalContext
	if ctx == nil {
		var stop context.CancelFunc
		ctx, stop = signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
	}

	checkRelease(ctx, cfg)

	lock, err := AcquireRunLock(cfg.PipelineName)
	if err != nil {
		logger.Error(fmt.Sprintf("❌ %s", err.Error()))
		return exitFailure
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Warn(fmt.Sprintf("⚠️  Failed to release run lock: %v", err))
		}
	}()

	runID := uuid.NewString()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// runLogger is handed to the stages; in TUI mode its records only reach the view's log tail
	runLogger := logger
	var program *tea.Program
	if tui {
		program = tea.NewProgram(newProgressModel(cfg, runID, cancel), tea.WithOutput(out))
		runLogger = slog.New(newForwardLogHandler(newLogHandler(io.Discard, cfg.Debug, cfg.LogFormat), func(line string) {
			program.Send(logLineMsg(line))
		}))
	}

	stages, closeStages, err := newStages(cfg, runLogger)
	if err != nil {
		logger.Error(fmt.Sprintf("❌ Failed to set up stages: %v", err))
		return exitFailure
	}
	defer func() {
		if closeStages == nil {
			return
		}
		if err := closeStages(); err != nil {
			logger.Debug(fmt.Sprintf("Failed to close stage clients: %v", err))
		}
	}()

	m := metrics.New()
	opts := []pipeline.Option{
		pipeline.WithRunID(runID),
		pipeline.WithObserver(newStatusWriter(cfg, runID, func(err error) {
			runLogger.Debug(fmt.Sprintf("Failed to write status file: %v", err))
		})),
		pipeline.WithObserver(m),
	}
	if program != nil {
		opts = append(opts, pipeline.WithObserver(pipeline.ObserverFunc(func(e pipeline.Event) {
			program.Send(stageEventMsg(e))
		})))
	}

	runner := pipeline.NewRunner(pipeline.Config{
		Bucket:     cfg.S3.Bucket,
		StagingDir: cfg.Staging.Dir,
		Suffix:     cfg.Staging.Suffix,
		Retry:      cfg.RetryPolicy(),
	}, stages, runLogger, opts...)

	var (
		report *pipeline.Report
		runErr error
	)
	if program != nil {
		report, runErr = runWithProgress(runCtx, runner, program)
	} else {
		report, runErr = runner.Run(runCtx)
	}

	finish(cfg, m, report, runErr)
	return exitCode(runErr)
}

// runWithProgress drives the run from a goroutine while the progress view owns the terminal
func runWithProgress(ctx context.Context, runner *pipeline.Runner, program *tea.Program) (*pipeline.Report, error) {
	type outcome struct {
		report *pipeline.Report
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		report, err := runner.Run(ctx)
		done <- outcome{report, err}
		program.Send(runDoneMsg{report: report, err: err})
	}()

	if _, err := program.Run(); err != nil {
		logger.Debug(fmt.Sprintf("Progress view failed: %v", err))
	}

	result := <-done
	return result.report, result.err
}

// finish writes the report, pushes metrics and logs the summary line
func finish(cfg *Config, m *metrics.Metrics, report *pipeline.Report, runErr error) {
	if cfg.ReportFile != "" && report != nil {
		if err := report.WriteFile(cfg.ReportFile); err != nil {
			logger.Warn(fmt.Sprintf("⚠️  %v", err))
		} else {
			logger.Debug(fmt.Sprintf("Report written to %s", cfg.ReportFile))
		}
	}

	if cfg.Metrics.Pushgateway != "" {
		pushCtx, cancel := context.WithTimeout(context.Background(), metricsPushTimeout)
		if err := m.Push(pushCtx, cfg.Metrics.Pushgateway, cfg.PipelineName); err != nil {
			logger.Warn(fmt.Sprintf("⚠️  %v", err))
		}
		cancel()
	}

	logger.Info("")
	switch {
	case runErr == nil:
		logger.Info(fmt.Sprintf("✅ Pipeline completed successfully! (%d rows in %s)", report.RowsLoaded, cfg.Database.Table))
	case errors.Is(runErr, context.Canceled):
		logger.Info("⚠️  Run cancelled by user")
	case gateway.IsNoMatchingObjects(runErr):
		logger.Error(fmt.Sprintf("❌ Pipeline failed: nothing to process in s3://%s (suffix %q): %s",
			cfg.S3.Bucket, cfg.Staging.Suffix, runErr.Error()))
	default:
		logger.Error(fmt.Sprintf("❌ Pipeline failed: %s", runErr.Error()))
	}
}
