// Package config loads service configuration from the environment.
package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port     string
	LogLevel string

	// DBPath is the sqlite database file; empty selects the in-memory
	// store.
	DBPath string

	// RedisAddr enables the Redis legal-hold repository; empty keeps
	// holds in process memory.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// RetentionPolicyPath optionally overrides the built-in
	// tag-to-years retention table with a YAML file.
	RetentionPolicyPath string

	PurgeInterval  time.Duration
	PurgeBatchSize int

	AppendMaxRetries int

	VerifyBatchSize int
	// VerifyRateLimit paces verification store reads, entries per
	// second. Zero disables pacing.
	VerifyRateLimit int

	// ArchivePath is the local snapshot directory. S3 settings switch
	// archival to object storage when the bucket is set.
	ArchivePath string
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
}

func Load() *Config {
	return &Config{
		Port:                getEnv("PORT", "8080"),
		LogLevel:            getEnv("LOG_LEVEL", "INFO"),
		DBPath:              getEnv("DB_PATH", ""),
		RedisAddr:           getEnv("REDIS_ADDR", ""),
		RedisPassword:       getEnv("REDIS_PASSWORD", ""),
		RedisDB:             GetEnvInt("REDIS_DB", 0),
		RetentionPolicyPath: getEnv("RETENTION_POLICY_PATH", ""),
		PurgeInterval:       GetEnvDuration("PURGE_INTERVAL", time.Hour),
		PurgeBatchSize:      GetEnvInt("PURGE_BATCH_SIZE", 100),
		AppendMaxRetries:    GetEnvInt("APPEND_MAX_RETRIES", 5),
		VerifyBatchSize:     GetEnvInt("VERIFY_BATCH_SIZE", 500),
		VerifyRateLimit:     GetEnvInt("VERIFY_RATE_LIMIT", 0),
		ArchivePath:         getEnv("ARCHIVE_PATH", "/tmp/verity/archive"),
		S3Bucket:            getEnv("S3_BUCKET", ""),
		S3Region:            getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:          getEnv("S3_ENDPOINT", ""),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func GetEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
