package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/airframesio/sales-pipeline/cmd/compressors"
	"github.com/airframesio/sales-pipeline/cmd/pipeline"
	"github.com/airframesio/sales-pipeline/cmd/transform"
	"github.com/airframesio/sales-pipeline/cmd/warehouse"
)

var (
	// Version information - set via ldflags during build
	// Example: go build -ldflags "-X github.com/airframesio/sales-pipeline/cmd.Version=1.2.3"
	Version = "dev"

	// signalContext is set by main() before Cobra initialization
	signalContext context.Context

	cfgFile   string
	debug     bool
	logFormat string

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7D56F4")).
			Bold(true).
			Underline(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00D9FF"))

	logger *slog.Logger
)

// SetSignalContext stores the signal-aware context created in main()
func SetSignalContext(ctx context.Context) {
	signalContext = ctx
}

// forwardLogHandler wraps a slog handler and hands each formatted message to a sink
type forwardLogHandler struct {
	handler slog.Handler
	sink    func(string)
}

func newForwardLogHandler(handler slog.Handler, sink func(string)) *forwardLogHandler {
	return &forwardLogHandler{handler: handler, sink: sink}
}

func (h *forwardLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *forwardLogHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.sink != nil && r.Message != "" {
		h.sink(fmt.Sprintf("%s %s", r.Time.Format("15:04:05"), r.Message))
	}
	return h.handler.Handle(ctx, r)
}

func (h *forwardLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &forwardLogHandler{handler: h.handler.WithAttrs(attrs), sink: h.sink}
}

func (h *forwardLogHandler) WithGroup(name string) slog.Handler {
	return &forwardLogHandler{handler: h.handler.WithGroup(name), sink: h.sink}
}

// textOnlyHandler is a custom slog handler that outputs human-readable text
// without key=value pairs, suitable for interactive terminal usage
type textOnlyHandler struct {
	opts   slog.HandlerOptions
	writer io.Writer
}

func newTextOnlyHandler(w io.Writer, opts *slog.HandlerOptions) *textOnlyHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return &textOnlyHandler{
		opts:   *opts,
		writer: w,
	}
}

func (h *textOnlyHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

func (h *textOnlyHandler) Handle(_ context.Context, r slog.Record) error {
	// Format: YYYY-MM-DD HH:MM:SS LEVEL message
	timestamp := r.Time.Format("2006-01-02 15:04:05")
	_, err := fmt.Fprintf(h.writer, "%s %s %s\n", timestamp, r.Level.String(), r.Message)
	return err
}

// Attributes and groups are dropped in text-only mode
func (h *textOnlyHandler) WithAttrs(_ []slog.Attr) slog.Handler {
	return h
}

func (h *textOnlyHandler) WithGroup(_ string) slog.Handler {
	return h
}

// newLogHandler builds the handler for a log format
func newLogHandler(w io.Writer, isDebug bool, format string) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	if isDebug {
		opts.Level = slog.LevelDebug
	}

	switch format {
	case "json":
		return slog.NewJSONHandler(w, opts)
	case "logfmt":
		return slog.NewTextHandler(w, opts)
	default:
		return newTextOnlyHandler(w, opts)
	}
}

// initLogger initializes the slog logger based on debug flag and log format
func initLogger(isDebug bool, format string) {
	logger = slog.New(newLogHandler(os.Stdout, isDebug, format))
}

var rootCmd = &cobra.Command{
	Use:     "sales-pipeline",
	Version: Version,
	Short:   "📊 Nightly sales ETL: S3 extract → aggregate → PostgreSQL",
	Long: titleStyle.Render("Sales Pipeline") + `

Fetches the raw sales extract from an S3 bucket, aggregates sales per product line,
replaces the reporting table in PostgreSQL with the result, and checks that the table
is not empty. Each stage is retried with a fixed delay before the run fails.`,
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline once",
	Long:  `Run extract, transform, load and validate in order. Exits 0 on success, 1 when a stage exhausts its attempts, and 130 when interrupted.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cmd.SilenceUsage = true
		if code := runPipeline(cmd.OutOrStdout()); code != 0 {
			os.Exit(code)
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of the current or last run",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cmd.SilenceUsage = true
		return runStatus(cmd.OutOrStdout(), viper.GetString("pipeline.name"))
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)

	// Persistent flags (available to all subcommands)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.sales-pipeline.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug output")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, logfmt, json)")
	rootCmd.PersistentFlags().String("pipeline", "sales", "pipeline name, keys the run lock and status file")

	// Database flags
	runCmd.Flags().String("db-host", "localhost", "PostgreSQL host")
	runCmd.Flags().Int("db-port", 5432, "PostgreSQL port")
	runCmd.Flags().String("db-user", "", "PostgreSQL user")
	runCmd.Flags().String("db-password", "", "PostgreSQL password")
	runCmd.Flags().String("db-name", "", "PostgreSQL database name")
	runCmd.Flags().String("db-sslmode", "disable", "PostgreSQL SSL mode (disable, require, verify-ca, verify-full)")
	runCmd.Flags().Int("db-statement-timeout", 300, "PostgreSQL statement timeout in seconds (0 = no timeout)")
	runCmd.Flags().String("table", warehouse.DefaultTable, "target table, replaced on every run")

	// S3 flags
	runCmd.Flags().String("s3-endpoint", "", "S3-compatible endpoint URL (empty for AWS)")
	runCmd.Flags().String("s3-bucket", "", "S3 bucket holding the raw extract")
	runCmd.Flags().String("s3-access-key", "", "S3 access key")
	runCmd.Flags().String("s3-secret-key", "", "S3 secret key")
	runCmd.Flags().String("s3-region", "auto", "S3 region")

	// Staging flags
	runCmd.Flags().String("staging-dir", "", "local staging directory for downloaded and aggregated files")
	runCmd.Flags().String("suffix", ".csv", "only fetch objects whose key ends with this suffix")
	runCmd.Flags().String("input-file", transform.DefaultInputFile, "raw extract file name inside the staging directory")
	runCmd.Flags().String("output-file", transform.DefaultOutputFile, "aggregate file name inside the staging directory")
	runCmd.Flags().Bool("decompress", false, fmt.Sprintf("also fetch compressed objects (%s) and decompress them", strings.Join(compressors.Extensions(), ", ")))

	// Retry flags
	runCmd.Flags().Int("retry-attempts", pipeline.DefaultAttempts, "total attempts per stage, including the first")
	runCmd.Flags().Duration("retry-delay", pipeline.DefaultDelay, "delay between attempts of a stage")

	// Output flags
	runCmd.Flags().String("pushgateway", "", "Prometheus Pushgateway URL to push run metrics to")
	runCmd.Flags().String("report-file", "", "write the JSON run report to this path")
	runCmd.Flags().String("release-check-url", "", "GitHub latest-release API URL to check for updates (empty disables)")

	// Note: validation happens in Config.Validate() after all config sources are loaded

	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("pipeline.name", rootCmd.PersistentFlags().Lookup("pipeline"))

	bindings := map[string]string{
		"db.host":              "db-host",
		"db.port":              "db-port",
		"db.user":              "db-user",
		"db.password":          "db-password",
		"db.name":              "db-name",
		"db.sslmode":           "db-sslmode",
		"db.statement_timeout": "db-statement-timeout",
		"db.table":             "table",
		"s3.endpoint":          "s3-endpoint",
		"s3.bucket":            "s3-bucket",
		"s3.access_key":        "s3-access-key",
		"s3.secret_key":        "s3-secret-key",
		"s3.region":            "s3-region",
		"staging.dir":          "staging-dir",
		"staging.suffix":       "suffix",
		"staging.input_file":   "input-file",
		"staging.output_file":  "output-file",
		"staging.decompress":   "decompress",
		"retry.attempts":       "retry-attempts",
		"retry.delay":          "retry-delay",
		"metrics.pushgateway":  "pushgateway",
		"report_file":          "report-file",
		"release_check_url":    "release-check-url",
	}
	for key, flag := range bindings {
		_ = viper.BindPFlag(key, runCmd.Flags().Lookup(flag))
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".sales-pipeline")
	}

	viper.SetEnvPrefix("PIPELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && debug {
		if logger == nil {
			initLogger(debug, logFormat)
		}
		logger.Debug(fmt.Sprintf("📄 Using config file: %s", viper.ConfigFileUsed()))
	}
}

// configFromViper assembles a Config from flags, environment and config file
func configFromViper(v *viper.Viper) *Config {
	return &Config{
		Debug:           v.GetBool("debug"),
		LogFormat:       v.GetString("log_format"),
		PipelineName:    v.GetString("pipeline.name"),
		ReportFile:      v.GetString("report_file"),
		ReleaseCheckURL: v.GetString("release_check_url"),
		Database: DatabaseConfig{
			Host:             v.GetString("db.host"),
			Port:             v.GetInt("db.port"),
			User:             v.GetString("db.user"),
			Password:         v.GetString("db.password"),
			Name:             v.GetString("db.name"),
			SSLMode:          v.GetString("db.sslmode"),
			StatementTimeout: v.GetInt("db.statement_timeout"),
			Table:            v.GetString("db.table"),
		},
		S3: S3Config{
			Endpoint:  v.GetString("s3.endpoint"),
			Bucket:    v.GetString("s3.bucket"),
			AccessKey: v.GetString("s3.access_key"),
			SecretKey: v.GetString("s3.secret_key"),
			Region:    v.GetString("s3.region"),
		},
		Staging: StagingConfig{
			Dir:        v.GetString("staging.dir"),
			Suffix:     v.GetString("staging.suffix"),
			InputFile:  v.GetString("staging.input_file"),
			OutputFile: v.GetString("staging.output_file"),
			Decompress: v.GetBool("staging.decompress"),
		},
		Retry: RetryConfig{
			Attempts: v.GetInt("retry.attempts"),
			Delay:    v.GetDuration("retry.delay"),
		},
		Metrics: MetricsConfig{
			Pushgateway: v.GetString("metrics.pushgateway"),
		},
	}
}
