// Package config loads engine settings from DAEDALUS_* environment variables.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

// Source indicates where the configuration came from
type Source string

const (
	SourceEnvVar  Source = "environment_variable"
	SourceDefault Source = "default"
)

// Defaults applied when the environment does not override a value
const (
	DefaultAbortGrace    = 5 * time.Second
	DefaultEventBuffer   = 256
	DefaultNATSStream    = "WORKFLOW_EVENTS"
	DefaultNATSSubject   = "workflow.events"
	DefaultBlobContainer = "workflow-runs"
	DefaultEnvironment   = "development"
)

// Config holds the engine, messaging, storage, and telemetry settings
type Config struct {
	// NodeTimeout fails nodes running longer than this. Zero disables it.
	NodeTimeout time.Duration
	AbortGrace  time.Duration
	EventBuffer int

	NATSURL     string
	NATSStream  string
	NATSSubject string

	BlobConnectionString string
	BlobContainer        string

	OTLPEndpoint string
	Environment  string
	LogLevel     zapcore.Level

	Source        Source
	IsKubernetes  bool
	EffectiveCPUs int
}

// Load reads the configuration with priority: env vars > defaults
func Load() (*Config, error) {
	c := &Config{
		Source:        SourceDefault,
		IsKubernetes:  isKubernetes(),
		EffectiveCPUs: runtime.GOMAXPROCS(0),
	}

	var err error
	if c.NodeTimeout, err = getEnvDuration("DAEDALUS_NODE_TIMEOUT", 0); err != nil {
		return nil, err
	}
	if c.AbortGrace, err = getEnvDuration("DAEDALUS_ABORT_GRACE", DefaultAbortGrace); err != nil {
		return nil, err
	}
	if c.EventBuffer, err = getEnvInt("DAEDALUS_EVENT_BUFFER", DefaultEventBuffer); err != nil {
		return nil, err
	}

	c.NATSURL = getEnv("DAEDALUS_NATS_URL", "")
	c.NATSStream = getEnv("DAEDALUS_NATS_STREAM", DefaultNATSStream)
	c.NATSSubject = getEnv("DAEDALUS_NATS_SUBJECT", DefaultNATSSubject)
	c.BlobConnectionString = getEnv("DAEDALUS_BLOB_CONNECTION_STRING", "")
	c.BlobContainer = getEnv("DAEDALUS_BLOB_CONTAINER", DefaultBlobContainer)
	c.OTLPEndpoint = getEnv("DAEDALUS_OTLP_ENDPOINT", "")
	c.Environment = getEnv("DAEDALUS_ENVIRONMENT", DefaultEnvironment)

	level := getEnv("DAEDALUS_LOG_LEVEL", "info")
	if err := c.LogLevel.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return nil, fmt.Errorf("invalid DAEDALUS_LOG_LEVEL %q: %w", level, err)
	}

	if anyEnvSet() {
		c.Source = SourceEnvVar
	}
	return c, c.Validate()
}

// Validate checks value ranges
func (c *Config) Validate() error {
	if c.NodeTimeout < 0 {
		return fmt.Errorf("node timeout cannot be negative")
	}
	if c.AbortGrace < 0 {
		return fmt.Errorf("abort grace cannot be negative")
	}
	if c.EventBuffer < 1 {
		return fmt.Errorf("event buffer must be at least 1")
	}
	if c.NATSURL != "" && (c.NATSStream == "" || c.NATSSubject == "") {
		return fmt.Errorf("NATS stream and subject are required when a NATS URL is set")
	}
	if c.BlobConnectionString != "" && c.BlobContainer == "" {
		return fmt.Errorf("blob container is required when a connection string is set")
	}
	return nil
}

// NATSEnabled reports whether events should be published to NATS
func (c *Config) NATSEnabled() bool {
	return c.NATSURL != ""
}

// ArchiveEnabled reports whether run reports can be archived
func (c *Config) ArchiveEnabled() bool {
	return c.BlobConnectionString != ""
}

// String returns a formatted representation with secrets redacted
func (c *Config) String() string {
	blob := "<unset>"
	if c.BlobConnectionString != "" {
		blob = "<redacted>"
	}
	return fmt.Sprintf(
		"Config{NodeTimeout: %s, AbortGrace: %s, EventBuffer: %d, NATS: %q %s/%s, Blob: %s/%s, OTLP: %q, Env: %s, LogLevel: %s, IsK8s: %t, CPUs: %d, Source: %s}",
		c.NodeTimeout,
		c.AbortGrace,
		c.EventBuffer,
		c.NATSURL,
		c.NATSStream,
		c.NATSSubject,
		blob,
		c.BlobContainer,
		c.OTLPEndpoint,
		c.Environment,
		c.LogLevel,
		c.IsKubernetes,
		c.EffectiveCPUs,
		c.Source,
	)
}

func anyEnvSet() bool {
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "DAEDALUS_") && !strings.HasPrefix(kv, "DAEDALUS_ISOLATION_WORKER=") {
			return true
		}
	}
	return false
}

// isKubernetes detects if the application is running in Kubernetes
func isKubernetes() bool {
	return os.Getenv("KUBERNETES_SERVICE_HOST") != ""
}

func getEnv(key string, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return n, nil
}

// getEnvDuration accepts Go durations ("1m30s") or plain seconds ("90")
func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return d, nil
}
