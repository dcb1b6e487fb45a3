// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package otel

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	metricSDK "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/Axway/ats-framework-sub003/internal/metrics"
)

var _ metrics.Consumer = (*Consumer)(nil)

const (
	consumerName = "opentelemetry"
	meterName    = "github.com/Axway/ats-framework-sub003"

	shutdownTimeout = 30 * time.Second
	// retries of one export never exceed this
	maxRetryElapsed = 30 * time.Minute
)

// Consumer records readings on OpenTelemetry gauges and pushes them over
// OTLP/gRPC. HandleEvent only queues; a goroutine started by Start records
// the queued events, and the periodic reader exports what was recorded.
type Consumer struct {
	config Config
	logger logr.Logger

	provider    *metricSDK.MeterProvider
	transformer *Transformer
	buffer      *MetricsBuffer

	wg        sync.WaitGroup
	healthy   atomic.Bool
	lastError atomic.Pointer[error]

	eventsProcessed atomic.Uint64
	errorsCount     atomic.Uint64
	startTime       time.Time
}

// NewConsumer validates config. The exporter is created by Start.
func NewConsumer(config Config, logger logr.Logger) (*Consumer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	buffer, err := NewMetricsBuffer(config.MaxQueueSize)
	if err != nil {
		return nil, err
	}

	c := &Consumer{
		config:    config,
		logger:    logger.WithName("otel-consumer"),
		buffer:    buffer,
		startTime: time.Now(),
	}
	c.healthy.Store(true)
	return c, nil
}

// newConsumerWithReader records into reader instead of an OTLP exporter.
func newConsumerWithReader(config Config, logger logr.Logger, reader metricSDK.Reader) (*Consumer, error) {
	c, err := NewConsumer(config, logger)
	if err != nil {
		return nil, err
	}
	c.setProvider(metricSDK.NewMeterProvider(metricSDK.WithReader(reader), metricSDK.WithResource(c.resource())))
	return c, nil
}

func (c *Consumer) resource() *resource.Resource {
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(c.config.ServiceName),
		semconv.ServiceVersion(c.config.ServiceVersion),
	)
}

func (c *Consumer) setProvider(provider *metricSDK.MeterProvider) {
	c.provider = provider
	meter := provider.Meter(meterName, metric.WithInstrumentationVersion(c.config.ServiceVersion))
	c.transformer = NewTransformer(meter, c.logger, c.config.ServiceVersion)
}

// exporterOptions maps Config onto the OTLP/gRPC exporter.
func (c *Consumer) exporterOptions() []otlpmetricgrpc.Option {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(c.config.Endpoint),
		otlpmetricgrpc.WithTimeout(c.config.Timeout),
	}
	if c.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithTLSCredentials(insecure.NewCredentials()))
	}
	if len(c.config.Headers) > 0 {
		opts = append(opts, otlpmetricgrpc.WithHeaders(c.config.Headers))
	}
	if c.config.Compression == CompressionGZip {
		opts = append(opts, otlpmetricgrpc.WithCompressor(c.config.Compression.String()))
	}

	retry := c.config.RetryConfig
	if retry.Enabled {
		maxElapsed := retry.MaxBackoff
		if retry.MaxRetries > 0 {
			maxElapsed = min(time.Duration(retry.MaxRetries)*retry.MaxBackoff, maxRetryElapsed)
		}
		opts = append(opts, otlpmetricgrpc.WithRetry(otlpmetricgrpc.RetryConfig{
			Enabled:         true,
			InitialInterval: retry.InitialBackoff,
			MaxInterval:     retry.MaxBackoff,
			MaxElapsedTime:  maxElapsed,
		}))
	}
	return opts
}

func (c *Consumer) Name() string {
	return consumerName
}

// HandleEvent queues the event and never blocks. When the queue is full the
// oldest event is dropped.
func (c *Consumer) HandleEvent(event metrics.MetricEvent) error {
	c.buffer.Push(event)
	return nil
}

// Start creates the exporter, unless a reader was injected, and starts
// recording queued events. Cancelling ctx records what is left, flushes and
// shuts the provider down.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("Starting OpenTelemetry consumer",
		"endpoint", c.config.Endpoint,
		"service_name", c.config.ServiceName,
		"interval", c.config.ExportInterval)

	if c.provider == nil {
		exporter, err := otlpmetricgrpc.New(ctx, c.exporterOptions()...)
		if err != nil {
			c.healthy.Store(false)
			c.lastError.Store(&err)
			return fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		c.setProvider(metricSDK.NewMeterProvider(
			metricSDK.WithReader(metricSDK.NewPeriodicReader(exporter,
				metricSDK.WithInterval(c.config.ExportInterval))),
			metricSDK.WithResource(c.resource()),
		))
		otel.SetMeterProvider(c.provider)
	}

	c.wg.Add(1)
	go c.run(ctx)
	return nil
}

// Wait blocks until the events left at cancellation are exported.
func (c *Consumer) Wait() {
	c.wg.Wait()
}

func (c *Consumer) run(ctx context.Context) {
	defer c.wg.Done()
	defer c.shutdown(ctx)
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic while recording readings: %v", r)
			c.logger.Error(err, "OpenTelemetry consumer stopped")
			c.healthy.Store(false)
			c.lastError.Store(&err)
		}
	}()

	// the ticker catches events whose notification was coalesced
	ticker := time.NewTicker(c.config.ExportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.buffer.NotifyChannel():
			c.drain()
		case <-ticker.C:
			c.drain()
		case <-ctx.Done():
			c.drain()
			return
		}
	}
}

func (c *Consumer) drain() {
	for _, event := range c.buffer.Drain() {
		c.record(event)
	}
}

func (c *Consumer) record(event metrics.MetricEvent) {
	c.logger.V(2).Info("Recording event",
		"metric_type", event.MetricType,
		"host", event.Host,
		"session", event.SessionID)

	if err := c.transformer.TransformAndRecord(event); err != nil {
		c.logger.Error(err, "Failed to record event",
			"metric_type", event.MetricType, "session", event.SessionID)
		c.lastError.Store(&err)
		if c.errorsCount.Add(1)%ErrorThresholdForHealthCheck == 0 {
			c.logger.Error(nil, "High error rate detected in OpenTelemetry consumer",
				"errors", c.errorsCount.Load(), "events", c.eventsProcessed.Load())
		}
		return
	}
	if n := c.eventsProcessed.Add(1); n%HeartbeatInterval == 0 {
		c.logger.V(1).Info("OpenTelemetry consumer heartbeat",
			"events_processed", n, "errors", c.errorsCount.Load())
	}
}

// shutdown flushes the provider. ctx is already cancelled at this point, so
// the flush gets its own deadline.
func (c *Consumer) shutdown(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := c.provider.Shutdown(shutdownCtx); err != nil {
		c.logger.Error(err, "Error shutting down meter provider")
	}
	c.logger.Info("OpenTelemetry consumer stopped",
		"events_processed", c.eventsProcessed.Load(),
		"errors", c.errorsCount.Load(),
		"dropped", c.buffer.Dropped(),
		"uptime", time.Since(c.startTime))
}

// Health counts dropped events as errors.
func (c *Consumer) Health() metrics.ConsumerHealth {
	var lastErr error
	if errPtr := c.lastError.Load(); errPtr != nil {
		lastErr = *errPtr
	}
	return metrics.ConsumerHealth{
		Healthy:     c.healthy.Load(),
		LastError:   lastErr,
		EventsCount: c.eventsProcessed.Load(),
		ErrorsCount: c.errorsCount.Load() + c.buffer.Dropped(),
	}
}
