package config

import "time"

// EngineConfig holds runtime configuration for the guardrail engine service.
type EngineConfig struct {
	Environment string
	Addr        string

	StoreDriver   string // "postgres" or "bolt"
	DatabaseURL   string
	MigrationsDir string
	BoltPath      string

	BlobDriver string // "fs" or "s3"
	BlobDir    string
	S3Bucket   string
	S3Prefix   string

	BusDriver     string // "memory" or "eventbridge"
	BusName       string
	BusSource     string
	SchemaVersion string
	AWSRegion     string

	APIToken string
	BusToken string

	ScenarioDir     string
	DefaultScenario string

	RunTimeout        time.Duration
	MaxLatency        time.Duration
	LatencyFatal      bool
	RetentionFactor   int
	RetentionSweep    time.Duration
	WatchBuffer       int
	RateLimitRedisADR string
	RateLimitRedisPWD string
	RateLimitRedisDB  int
}

// LoadEngineConfig constructs an EngineConfig from environment variables.
func LoadEngineConfig() EngineConfig {
	return EngineConfig{
		Environment: GetString("APP_ENV", "development"),
		Addr:        GetString("ENGINE_ADDR", ":4100"),

		StoreDriver:   GetString("STORE_DRIVER", "postgres"),
		DatabaseURL:   GetString("DATABASE_URL", "postgres://guardrail:guardrail@db:5432/guardrail?sslmode=disable"),
		MigrationsDir: GetString("DB_MIGRATIONS_DIR", "./migrations"),
		BoltPath:      GetString("BOLT_PATH", "/var/lib/guardrail/store.db"),

		BlobDriver: GetString("BLOB_DRIVER", "fs"),
		BlobDir:    GetString("BLOB_DIR", "/var/lib/guardrail/archive"),
		S3Bucket:   GetString("ARCHIVE_S3_BUCKET", ""),
		S3Prefix:   GetString("ARCHIVE_S3_PREFIX", "archive/"),

		BusDriver:     GetString("BUS_DRIVER", "memory"),
		BusName:       GetString("BUS_NAME", "staging-test-bus"),
		BusSource:     GetString("BUS_SOURCE", "platform-integration-tests.seeder"),
		SchemaVersion: GetString("SCHEMA_VERSION", "v1"),
		AWSRegion:     GetString("AWS_REGION", "ap-southeast-2"),

		APIToken: GetString("ENGINE_API_TOKEN", ""),
		BusToken: GetString("ENGINE_BUS_TOKEN", ""),

		ScenarioDir:     GetString("SCENARIO_DIR", "./scenarios"),
		DefaultScenario: GetString("DEFAULT_SCENARIO", "happy-path-01"),

		RunTimeout:        time.Duration(GetInt("RUN_TIMEOUT_SECONDS", 300)) * time.Second,
		MaxLatency:        time.Duration(GetInt("MAX_LATENCY_MS", 60000)) * time.Millisecond,
		LatencyFatal:      GetBool("LATENCY_FATAL", false),
		RetentionFactor:   GetInt("RETENTION_FACTOR", 2),
		RetentionSweep:    time.Duration(GetInt("RETENTION_SWEEP_SECONDS", 600)) * time.Second,
		WatchBuffer:       GetInt("WS_WATCH_BUFFER", 100),
		RateLimitRedisADR: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPWD: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:  GetInt("RATE_LIMIT_REDIS_DB", 0),
	}
}
