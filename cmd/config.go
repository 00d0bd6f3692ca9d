package cmd

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/airframesio/sales-pipeline/cmd/pipeline"
	"github.com/airframesio/sales-pipeline/cmd/warehouse"
)

// Static errors for configuration validation
var (
	ErrDatabaseUserRequired    = errors.New("database user is required")
	ErrDatabaseNameRequired    = errors.New("database name is required")
	ErrDatabasePortInvalid     = errors.New("database port must be between 1 and 65535")
	ErrStatementTimeoutInvalid = errors.New("database statement timeout must be >= 0")
	ErrS3BucketRequired        = errors.New("S3 bucket is required")
	ErrS3AccessKeyRequired     = errors.New("S3 access key is required")
	ErrS3SecretKeyRequired     = errors.New("S3 secret key is required")
	ErrS3RegionInvalid         = errors.New("S3 region contains invalid characters or is too long")
	ErrS3EndpointInvalid       = errors.New("S3 endpoint must be an http or https URL")
	ErrTableNameRequired       = errors.New("table name is required")
	ErrTableNameInvalid        = errors.New("table name is invalid: must be 1-63 characters, start with a letter or underscore, and contain only letters, numbers, and underscores")
	ErrStagingDirRequired      = errors.New("staging directory is required")
	ErrSuffixRequired          = errors.New("object suffix filter is required")
	ErrFileNameInvalid         = errors.New("staging file names must be plain file names")
	ErrFileNamesCollide        = errors.New("input and output file names must differ")
	ErrRetryAttemptsMinimum    = errors.New("retry attempts must be at least 1")
	ErrRetryAttemptsMaximum    = errors.New("retry attempts must not exceed 100")
	ErrRetryDelayInvalid       = errors.New("retry delay must be >= 0")
	ErrPipelineNameInvalid     = errors.New("pipeline name must contain only letters, numbers, dots, dashes, and underscores")
	ErrPushgatewayInvalid      = errors.New("pushgateway must be an http or https URL")
	ErrReleaseCheckURLInvalid  = errors.New("release check URL must be an http or https URL")
)

const regionAuto = "auto"

// Config is the full configuration of one run
type Config struct {
	Debug        bool
	LogFormat    string
	PipelineName string
	ReportFile   string
	Database     DatabaseConfig
	S3           S3Config
	Staging      StagingConfig
	Retry        RetryConfig
	Metrics      MetricsConfig

	// ReleaseCheckURL is a GitHub latest-release API URL; empty disables the check
	ReleaseCheckURL string
}

type DatabaseConfig struct {
	Host             string
	Port             int
	User             string
	Password         string
	Name             string
	SSLMode          string
	StatementTimeout int // Statement timeout in seconds (0 = no timeout)
	Table            string
}

type S3Config struct {
	Endpoint  string // Empty means AWS
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
}

type StagingConfig struct {
	Dir        string
	Suffix     string
	InputFile  string
	OutputFile string
	Decompress bool
}

type RetryConfig struct {
	Attempts int // Total attempts per stage, including the first
	Delay    time.Duration
}

type MetricsConfig struct {
	Pushgateway string
}

var validPipelineName = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

var validRegion = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// isValidRegion validates that an S3 region is reasonable
func isValidRegion(region string) bool {
	if region == "" || len(region) > 50 {
		return false
	}
	return validRegion.MatchString(region)
}

// isValidFileName accepts a bare file name with no directory component
func isValidFileName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return filepath.Base(name) == name && !strings.ContainsAny(name, `/\`)
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// RetryPolicy converts the retry settings for the runner
func (c *Config) RetryPolicy() pipeline.RetryPolicy {
	return pipeline.RetryPolicy{Attempts: c.Retry.Attempts, Delay: c.Retry.Delay}
}

func (c *Config) Validate() error {
	// Validate database configuration
	if c.Database.User == "" {
		return ErrDatabaseUserRequired
	}
	if c.Database.Name == "" {
		return ErrDatabaseNameRequired
	}
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("%w, got %d", ErrDatabasePortInvalid, c.Database.Port)
	}
	if c.Database.StatementTimeout < 0 {
		return fmt.Errorf("%w, got %d", ErrStatementTimeoutInvalid, c.Database.StatementTimeout)
	}

	// Table name is interpolated into DDL, so it must be a plain identifier
	if c.Database.Table == "" {
		return ErrTableNameRequired
	}
	if !warehouse.ValidTableName(c.Database.Table) {
		return fmt.Errorf("%w: '%s'", ErrTableNameInvalid, c.Database.Table)
	}

	// Validate S3 configuration
	if c.S3.Bucket == "" {
		return ErrS3BucketRequired
	}
	if c.S3.AccessKey == "" {
		return ErrS3AccessKeyRequired
	}
	if c.S3.SecretKey == "" {
		return ErrS3SecretKeyRequired
	}
	if c.S3.Endpoint != "" && !isHTTPURL(c.S3.Endpoint) {
		return fmt.Errorf("%w: '%s'", ErrS3EndpointInvalid, c.S3.Endpoint)
	}
	if c.S3.Region != "" && c.S3.Region != regionAuto {
		if !isValidRegion(c.S3.Region) {
			return fmt.Errorf("%w: %s", ErrS3RegionInvalid, c.S3.Region)
		}
	}

	// Validate staging layout
	if c.Staging.Dir == "" {
		return ErrStagingDirRequired
	}
	if c.Staging.Suffix == "" {
		return ErrSuffixRequired
	}
	if !isValidFileName(c.Staging.InputFile) {
		return fmt.Errorf("%w: input '%s'", ErrFileNameInvalid, c.Staging.InputFile)
	}
	if !isValidFileName(c.Staging.OutputFile) {
		return fmt.Errorf("%w: output '%s'", ErrFileNameInvalid, c.Staging.OutputFile)
	}
	if c.Staging.InputFile == c.Staging.OutputFile {
		return fmt.Errorf("%w: '%s'", ErrFileNamesCollide, c.Staging.InputFile)
	}

	// Validate retry policy
	if c.Retry.Attempts < 1 {
		return fmt.Errorf("%w, got %d", ErrRetryAttemptsMinimum, c.Retry.Attempts)
	}
	if c.Retry.Attempts > 100 {
		return fmt.Errorf("%w, got %d", ErrRetryAttemptsMaximum, c.Retry.Attempts)
	}
	if c.Retry.Delay < 0 {
		return fmt.Errorf("%w, got %s", ErrRetryDelayInvalid, c.Retry.Delay)
	}

	// The pipeline name keys the run lock file
	if !validPipelineName.MatchString(c.PipelineName) {
		return fmt.Errorf("%w: '%s'", ErrPipelineNameInvalid, c.PipelineName)
	}

	if c.Metrics.Pushgateway != "" && !isHTTPURL(c.Metrics.Pushgateway) {
		return fmt.Errorf("%w: '%s'", ErrPushgatewayInvalid, c.Metrics.Pushgateway)
	}

	if c.ReleaseCheckURL != "" && !isHTTPURL(c.ReleaseCheckURL) {
		return fmt.Errorf("%w: '%s'", ErrReleaseCheckURLInvalid, c.ReleaseCheckURL)
	}

	return nil
}
