// Package config loads the worker's process-wide configuration from
// environment variables, per spec.md §6 and the "Global singletons"
// design note (spec.md §9): the Config value is constructed once at
// startup and threaded explicitly through every constructor, never
// cached behind a package-level singleton.
//
// Grounded on the teacher's config.go for the go-flags parser/validation
// shape, and on the sibling NishantBansal2003-test-aws-s3-storage/config.go
// (same project, an earlier commit) for the flat env-tagged struct and
// CleanAndExpandPath default-directory pattern.
package config

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	flags "github.com/jessevdk/go-flags"
)

// DefaultLogDir is where rotating log files are written when LOG_DIR is
// unset, mirroring GoContinuousFuzzDir's per-OS AppData resolution.
var DefaultLogDir = btcutil.AppDataDir("crash-analyzer", false)

// Environment is ENVIRONMENT from spec.md §6.
type Environment string

const (
	EnvDev  Environment = "dev"
	EnvProd Environment = "prod"
	EnvTest Environment = "test"
)

// MessageQueue groups MQ_* settings.
//
//nolint:lll
type MessageQueue struct {
	Broker   string `long:"broker" env:"MQ_BROKER" description:"Message broker backend" default:"sqs"`
	URL      string `long:"url" env:"MQ_URL" description:"Broker endpoint URL" required:"true"`
	Region   string `long:"region" env:"MQ_REGION" description:"Broker region" required:"true"`
	Username string `long:"username" env:"MQ_USERNAME" description:"Broker credentials username"`
	Password string `long:"password" env:"MQ_PASSWORD" description:"Broker credentials password"`

	QueueCrashAnalyzer string `long:"queue-crash-analyzer" env:"MQ_QUEUE_CRASH_ANALYZER" description:"Inbound agent.crash.new queue" required:"true"`
	QueueAPIGateway    string `long:"queue-api-gateway" env:"MQ_QUEUE_API_GATEWAY" description:"Outbound crash-analyzer.crashes.* queue" required:"true"`
	QueueDLQ           string `long:"queue-dlq" env:"MQ_QUEUE_DLQ" description:"Dead-letter queue" required:"true"`

	DrainTimeout time.Duration `long:"drain-timeout" env:"MQ_DRAIN_TIMEOUT" description:"Visibility timeout of received messages; no shutdown drain step reads it" default:"30s"`
	NumWorkers   int           `long:"num-workers" env:"MQ_NUM_WORKERS" description:"Number of concurrent message-processing workers" default:"0"`
}

// Database groups DB_* settings.
//
//nolint:lll
type Database struct {
	Engine     string `long:"engine" env:"DB_ENGINE" description:"Database backend" default:"arangodb"`
	URL        string `long:"url" env:"DB_URL" description:"Database endpoint URL" required:"true"`
	Username   string `long:"username" env:"DB_USERNAME" description:"Database username" required:"true"`
	Password   string `long:"password" env:"DB_PASSWORD" description:"Database password" required:"true"`
	Name       string `long:"name" env:"DB_NAME" description:"Database name" required:"true"`
	Collection string `long:"collection-crashes" env:"DB_COLLECTION_CRASHES" description:"Crash records collection name" default:"Crashes"`
}

// ObjectStorage groups S3_* settings.
//
//nolint:lll
type ObjectStorage struct {
	URL           string `long:"url" env:"S3_URL" description:"Object storage endpoint URL" required:"true"`
	AccessKey     string `long:"access-key" env:"S3_ACCESS_KEY" description:"Object storage access key" required:"true"`
	SecretKey     string `long:"secret-key" env:"S3_SECRET_KEY" description:"Object storage secret key" required:"true"`
	BucketFuzzers string `long:"bucket-fuzzers" env:"S3_BUCKET_FUZZERS" description:"Bucket holding fuzzer build artifacts" required:"true"`
	BucketData    string `long:"bucket-data" env:"S3_BUCKET_DATA" description:"Bucket holding crash input objects" required:"true"`
}

// ServiceIdentity groups the variables required when ENVIRONMENT=prod,
// grounded on settings.py's EnvironmentSettings.
//
//nolint:lll
type ServiceIdentity struct {
	Name       string `long:"name" env:"SERVICE_NAME" description:"Service name reported in prod"`
	Version    string `long:"version" env:"SERVICE_VERSION" description:"Service version reported in prod"`
	CommitID   string `long:"commit-id" env:"COMMIT_ID" description:"Build commit hash"`
	BuildDate  string `long:"build-date" env:"BUILD_DATE" description:"Build timestamp"`
	CommitDate string `long:"commit-date" env:"COMMIT_DATE" description:"Commit timestamp"`
	GitBranch  string `long:"git-branch" env:"GIT_BRANCH" description:"Git branch built from"`
}

// Config is the top-level, explicitly-threaded configuration value.
//
//nolint:lll
type Config struct {
	PreviewMaxSize int    `long:"preview-max-size" env:"CRASH_ANALYZER_PREVIEW_MAX_SIZE" description:"Byte cap on unique-crash input preview" default:"4096"`
	Environment    string `long:"environment" env:"ENVIRONMENT" description:"Deployment environment" default:"dev"`
	LogDir         string `long:"log-dir" env:"LOG_DIR" description:"Directory for rotating log files"`

	MQ      MessageQueue    `group:"Message Queue" namespace:"mq"`
	DB      Database        `group:"Database" namespace:"db"`
	S3      ObjectStorage   `group:"Object Storage" namespace:"s3"`
	Service ServiceIdentity `group:"Service Identity" namespace:"service"`
}

// Load parses configuration from the process environment (and, for
// parity with the teacher, any overriding command-line flags), validates
// it, and fills in runtime defaults that have no sensible static zero
// value.
func Load() (*Config, error) {
	var cfg Config

	if _, err := flags.Parse(&cfg); err != nil {
		return nil, err
	}

	if err := validateNonEmptyStrings(cfg); err != nil {
		return nil, err
	}

	if cfg.MQ.Broker != "sqs" {
		return nil, fmt.Errorf("invalid MQ_BROKER %q: must be sqs", cfg.MQ.Broker)
	}
	if cfg.DB.Engine != "arangodb" {
		return nil, fmt.Errorf("invalid DB_ENGINE %q: must be arangodb", cfg.DB.Engine)
	}

	switch Environment(cfg.Environment) {
	case EnvDev, EnvProd, EnvTest:
	default:
		return nil, fmt.Errorf("invalid ENVIRONMENT %q: must be one of "+
			"dev, prod, test", cfg.Environment)
	}

	if Environment(cfg.Environment) == EnvProd {
		if err := requireServiceIdentity(cfg.Service); err != nil {
			return nil, err
		}
	}

	if cfg.MQ.NumWorkers <= 0 {
		cfg.MQ.NumWorkers = runtime.NumCPU()
	}

	if cfg.PreviewMaxSize <= 0 {
		return nil, fmt.Errorf("invalid CRASH_ANALYZER_PREVIEW_MAX_SIZE: "+
			"%d, must be positive", cfg.PreviewMaxSize)
	}

	if cfg.LogDir == "" {
		cfg.LogDir = DefaultLogDir
	}
	cfg.LogDir = CleanAndExpandPath(cfg.LogDir)

	return &cfg, nil
}

// requireServiceIdentity enforces "prod requires all service-identity
// variables to be set" from spec.md §6.
func requireServiceIdentity(s ServiceIdentity) error {
	fields := map[string]string{
		"SERVICE_NAME":    s.Name,
		"SERVICE_VERSION": s.Version,
		"COMMIT_ID":       s.CommitID,
		"BUILD_DATE":      s.BuildDate,
		"COMMIT_DATE":     s.CommitDate,
		"GIT_BRANCH":      s.GitBranch,
	}
	for name, val := range fields {
		if strings.TrimSpace(val) == "" {
			return fmt.Errorf("ENVIRONMENT=prod requires %s to be set", name)
		}
	}
	return nil
}

// CleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
// This function is taken from https://github.com/btcsuite/btcd
func CleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		var homeDir string
		u, err := user.Current()
		if err == nil {
			homeDir = u.HomeDir
		} else {
			homeDir = os.Getenv("HOME")
		}

		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}
