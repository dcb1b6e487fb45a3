// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package otel

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// CompressionType represents the compression type for OTLP exports
type CompressionType string

const (
	CompressionGZip CompressionType = "gzip"
	CompressionNone CompressionType = "none"

	// MaxSafeQueueSize bounds the events buffered between two exports.
	MaxSafeQueueSize = 100000
)

func (c CompressionType) String() string {
	return string(c)
}

func (c CompressionType) IsValid() bool {
	return c == CompressionGZip || c == CompressionNone
}

type Config struct {
	// OTLP gRPC configuration
	Endpoint string // OTLP gRPC endpoint (default: localhost:4317)
	Insecure bool   // Disable TLS (default: false)

	// Headers for gRPC metadata
	Headers map[string]string

	Compression CompressionType

	// Timeout for export operations
	Timeout time.Duration

	RetryConfig RetryConfig

	// Resource attributes
	ServiceName    string // Service name (default: ats-monitor)
	ServiceVersion string

	// ExportInterval is the period of the OTLP exports. Readings recorded
	// between two exports are reported with their last value.
	ExportInterval time.Duration
	// MaxQueueSize caps the events waiting to be recorded; the oldest are dropped.
	MaxQueueSize int
}

// RetryConfig configures retry behavior for failed exports
type RetryConfig struct {
	Enabled        bool
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultConfig returns a configuration exporting to a local collector.
func DefaultConfig() Config {
	return Config{
		Endpoint:    "localhost:4317",
		Headers:     make(map[string]string),
		Compression: CompressionGZip,
		Timeout:     30 * time.Second,
		RetryConfig: RetryConfig{
			Enabled:        true,
			MaxRetries:     3,
			InitialBackoff: 1 * time.Second,
			MaxBackoff:     30 * time.Second,
		},
		ServiceName:    "ats-monitor",
		ExportInterval: 10 * time.Second,
		MaxQueueSize:   1000,
	}
}

// ApplyEnvironmentVariables applies the standard OTLP environment variables.
// Metric specific variables win over the generic ones.
func (c *Config) ApplyEnvironmentVariables() {
	if endpoint := getEnvVar("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		c.Endpoint = endpoint
	}

	if insecure := getEnvVar("OTEL_EXPORTER_OTLP_METRICS_INSECURE", "OTEL_EXPORTER_OTLP_INSECURE"); insecure != "" {
		if parsed, err := strconv.ParseBool(insecure); err == nil {
			c.Insecure = parsed
		}
	}

	if headers := getEnvVar("OTEL_EXPORTER_OTLP_METRICS_HEADERS", "OTEL_EXPORTER_OTLP_HEADERS"); headers != "" {
		c.Headers = parseHeaders(headers)
	}

	if compression := getEnvVar("OTEL_EXPORTER_OTLP_METRICS_COMPRESSION", "OTEL_EXPORTER_OTLP_COMPRESSION"); compression != "" {
		compressionType := CompressionType(compression)
		if compressionType.IsValid() {
			c.Compression = compressionType
		}
	}

	if timeout := getEnvVar("OTEL_EXPORTER_OTLP_METRICS_TIMEOUT", "OTEL_EXPORTER_OTLP_TIMEOUT"); timeout != "" {
		if duration, err := time.ParseDuration(timeout); err == nil {
			c.Timeout = duration
		}
	}

	if serviceName := os.Getenv("OTEL_SERVICE_NAME"); serviceName != "" {
		c.ServiceName = serviceName
	}

	if serviceVersion := os.Getenv("OTEL_SERVICE_VERSION"); serviceVersion != "" {
		c.ServiceVersion = serviceVersion
	}

	// OTEL_METRIC_EXPORT_INTERVAL is in milliseconds
	if interval := os.Getenv("OTEL_METRIC_EXPORT_INTERVAL"); interval != "" {
		if ms, err := strconv.Atoi(interval); err == nil && ms > 0 {
			c.ExportInterval = time.Duration(ms) * time.Millisecond
		}
	}
}

// getEnvVar returns the first non-empty environment variable from the list
func getEnvVar(names ...string) string {
	for _, name := range names {
		if value := os.Getenv(name); value != "" {
			return value
		}
	}
	return ""
}

// parseHeaders parses comma-separated key=value pairs into a map
func parseHeaders(headers string) map[string]string {
	result := make(map[string]string)
	for _, pair := range strings.Split(headers, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		if key = strings.TrimSpace(key); key != "" {
			result[key] = strings.TrimSpace(value)
		}
	}
	return result
}

// Validate ensures the configuration is valid and fills unset values.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return ErrEndpointRequired
	}

	if c.Compression != "" && !c.Compression.IsValid() {
		return ErrInvalidCompressionType
	}
	if c.Compression == "" {
		c.Compression = CompressionGZip
	}

	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}

	if c.ExportInterval <= 0 {
		c.ExportInterval = 10 * time.Second
	}

	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = 1000
	} else if c.MaxQueueSize > MaxSafeQueueSize {
		return ErrQueueSizeTooLarge
	}

	if c.ServiceName == "" {
		c.ServiceName = "ats-monitor"
	}

	if c.RetryConfig.MaxRetries < 0 {
		c.RetryConfig.MaxRetries = 0
	}
	if c.RetryConfig.InitialBackoff <= 0 {
		c.RetryConfig.InitialBackoff = 1 * time.Second
	}
	if c.RetryConfig.MaxBackoff <= 0 {
		c.RetryConfig.MaxBackoff = 30 * time.Second
	}

	return nil
}

// GetConfigFromEnvironment builds a Config from environment variables
func GetConfigFromEnvironment() Config {
	config := DefaultConfig()
	config.ApplyEnvironmentVariables()
	return config
}

var (
	ErrEndpointRequired       = fmt.Errorf("OTLP endpoint is required when OpenTelemetry is enabled")
	ErrInvalidCompressionType = fmt.Errorf("compression type must be '%s' or '%s'", CompressionGZip, CompressionNone)
	ErrQueueSizeTooLarge      = fmt.Errorf("queue size cannot exceed %d to prevent OOM", MaxSafeQueueSize)
)
