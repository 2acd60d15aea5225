// Package config loads sync-runtime configuration from environment
// variables, following eve.evalgo.org/config's EnvConfig/Validator pattern:
// prefix-scoped getters with typed defaults, and a Validator accumulating
// field errors instead of failing on the first one.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type EnvConfig struct {
	prefix string
}

func NewEnvConfig(prefix string) *EnvConfig {
	return &EnvConfig{prefix: prefix}
}

func (ec *EnvConfig) buildKey(key string) string {
	if ec.prefix != "" {
		return ec.prefix + "_" + key
	}
	return key
}

func (ec *EnvConfig) GetString(key, def string) string {
	if v := os.Getenv(ec.buildKey(key)); v != "" {
		return v
	}
	return def
}

func (ec *EnvConfig) GetInt(key string, def int) int {
	if v := os.Getenv(ec.buildKey(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func (ec *EnvConfig) GetDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(ec.buildKey(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func (ec *EnvConfig) GetBool(key string, def bool) bool {
	if v := os.Getenv(ec.buildKey(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// Timeouts covers the per-operation-family timeouts of §5.
type Timeouts struct {
	HTTP             time.Duration
	FileDownload     time.Duration
	FileDownloadRead time.Duration
	DestinationBulk  time.Duration
	DBQuery          time.Duration
}

func LoadTimeouts(prefix string) Timeouts {
	env := NewEnvConfig(prefix)
	return Timeouts{
		HTTP:             env.GetDuration("HTTP_TIMEOUT", 30*time.Second),
		FileDownload:     env.GetDuration("FILE_DOWNLOAD_TIMEOUT", 180*time.Second),
		FileDownloadRead: env.GetDuration("FILE_DOWNLOAD_READ_TIMEOUT", 540*time.Second),
		DestinationBulk:  env.GetDuration("DESTINATION_BULK_TIMEOUT", 60*time.Second),
		DBQuery:          env.GetDuration("DB_QUERY_TIMEOUT", 30*time.Second),
	}
}

// SyncRuntimeConfig aggregates everything the Orchestrator needs to build a
// SyncContext: worker pool sizing, refresh/heartbeat cadence, and connection
// strings for the destinations and supporting stores.
type SyncRuntimeConfig struct {
	MaxWorkers               int
	SourceStreamBufferFactor int
	TokenRefreshInterval     time.Duration
	HeartbeatInterval        time.Duration
	CancellationGracePeriod  time.Duration
	Timeouts                 Timeouts

	PostgresDSN         string
	Neo4jURI            string
	Neo4jUser           string
	Neo4jPass           string
	RedisURL            string
	CouchDBURL          string
	BoltPath            string
	QdrantURL           string
	VespaURL            string
	S3Endpoint          string
	S3Bucket            string
	TempRoot            string
	CompletionQueueURL  string
	CompletionQueueName string

	ServiceName string
	LogLevel    string
	LogFormat   string
}

// Load builds a SyncRuntimeConfig from environment variables under prefix
// (e.g. "AIRWEAVE_SYNC"), validating required fields before returning.
func Load(prefix string) (*SyncRuntimeConfig, error) {
	env := NewEnvConfig(prefix)

	cfg := &SyncRuntimeConfig{
		MaxWorkers:               env.GetInt("MAX_WORKERS", 20),
		SourceStreamBufferFactor: env.GetInt("STREAM_BUFFER_FACTOR", 2),
		TokenRefreshInterval:     env.GetDuration("TOKEN_REFRESH_INTERVAL", 25*time.Minute),
		HeartbeatInterval:        env.GetDuration("HEARTBEAT_INTERVAL", 30*time.Second),
		CancellationGracePeriod:  env.GetDuration("CANCELLATION_GRACE_PERIOD", 15*time.Second),
		Timeouts:                 LoadTimeouts(prefix),

		PostgresDSN: env.GetString("POSTGRES_DSN", ""),
		Neo4jURI:    env.GetString("NEO4J_URI", "bolt://localhost:7687"),
		Neo4jUser:   env.GetString("NEO4J_USER", "neo4j"),
		Neo4jPass:   env.GetString("NEO4J_PASSWORD", ""),
		RedisURL:    env.GetString("REDIS_URL", "redis://localhost:6379/0"),
		CouchDBURL:  env.GetString("COUCHDB_URL", "http://localhost:5984"),
		BoltPath:    env.GetString("BOLT_PATH", "./sync-cursors.db"),
		QdrantURL:   env.GetString("QDRANT_URL", "http://localhost:6333"),
		VespaURL:    env.GetString("VESPA_URL", "http://localhost:8080"),
		S3Endpoint:  env.GetString("S3_ENDPOINT", ""),
		S3Bucket:    env.GetString("S3_BUCKET", "airweave-arf"),
		TempRoot:    env.GetString("TEMP_ROOT", os.TempDir()),

		CompletionQueueURL:  env.GetString("COMPLETION_QUEUE_URL", ""),
		CompletionQueueName: env.GetString("COMPLETION_QUEUE_NAME", "sync.completions"),

		ServiceName: env.GetString("SERVICE_NAME", "airweave-sync"),
		LogLevel:    env.GetString("LOG_LEVEL", "info"),
		LogFormat:   env.GetString("LOG_FORMAT", "text"),
	}

	v := NewValidator()
	v.RequirePositiveInt("MaxWorkers", cfg.MaxWorkers)
	v.RequireOneOf("LogLevel", cfg.LogLevel, []string{"debug", "info", "warn", "error"})
	v.RequireOneOf("LogFormat", cfg.LogFormat, []string{"text", "json"})
	if err := v.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validator accumulates field errors instead of failing fast, matching the
// teacher's config.Validator.
type Validator struct {
	errors []string
}

func NewValidator() *Validator { return &Validator{} }

func (v *Validator) RequireString(field, value string) {
	if value == "" {
		v.errors = append(v.errors, fmt.Sprintf("%s is required", field))
	}
}

func (v *Validator) RequirePositiveInt(field string, value int) {
	if value <= 0 {
		v.errors = append(v.errors, fmt.Sprintf("%s must be positive", field))
	}
}

func (v *Validator) RequireOneOf(field, value string, allowed []string) {
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	v.errors = append(v.errors, fmt.Sprintf("%s must be one of: %s", field, strings.Join(allowed, ", ")))
}

func (v *Validator) IsValid() bool { return len(v.errors) == 0 }

func (v *Validator) Validate() error {
	if !v.IsValid() {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(v.errors, "; "))
	}
	return nil
}
