package config

import (
	"fmt"
	"strings"
)

// validateNonEmptyStrings enforces spec.md §6's "empty strings are
// disallowed for any string configuration value", grounded on
// settings.py's BaseSettings.check_empty_strings. Required fields must be
// non-blank outright; optional fields (broker credentials, the
// service-identity block, which is only mandatory in prod) may be
// genuinely absent but not merely whitespace.
func validateNonEmptyStrings(cfg Config) error {
	required := map[string]string{
		"MQ_BROKER":               cfg.MQ.Broker,
		"MQ_URL":                  cfg.MQ.URL,
		"MQ_REGION":               cfg.MQ.Region,
		"MQ_QUEUE_CRASH_ANALYZER": cfg.MQ.QueueCrashAnalyzer,
		"MQ_QUEUE_API_GATEWAY":    cfg.MQ.QueueAPIGateway,
		"MQ_QUEUE_DLQ":            cfg.MQ.QueueDLQ,
		"DB_ENGINE":               cfg.DB.Engine,
		"DB_URL":                  cfg.DB.URL,
		"DB_USERNAME":             cfg.DB.Username,
		"DB_PASSWORD":             cfg.DB.Password,
		"DB_NAME":                 cfg.DB.Name,
		"DB_COLLECTION_CRASHES":   cfg.DB.Collection,
		"S3_URL":                  cfg.S3.URL,
		"S3_ACCESS_KEY":           cfg.S3.AccessKey,
		"S3_SECRET_KEY":           cfg.S3.SecretKey,
		"S3_BUCKET_FUZZERS":       cfg.S3.BucketFuzzers,
		"S3_BUCKET_DATA":          cfg.S3.BucketData,
		"ENVIRONMENT":             cfg.Environment,
	}
	for name, val := range required {
		if strings.TrimSpace(val) == "" {
			return fmt.Errorf("%s must not be empty", name)
		}
	}

	optional := map[string]string{
		"MQ_USERNAME":     cfg.MQ.Username,
		"MQ_PASSWORD":     cfg.MQ.Password,
		"SERVICE_NAME":    cfg.Service.Name,
		"SERVICE_VERSION": cfg.Service.Version,
		"COMMIT_ID":       cfg.Service.CommitID,
		"BUILD_DATE":      cfg.Service.BuildDate,
		"COMMIT_DATE":     cfg.Service.CommitDate,
		"GIT_BRANCH":      cfg.Service.GitBranch,
	}
	for name, val := range optional {
		if val != "" && strings.TrimSpace(val) == "" {
			return fmt.Errorf("%s must not be a blank string", name)
		}
	}

	return nil
}
