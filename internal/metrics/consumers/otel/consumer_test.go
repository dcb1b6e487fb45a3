// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

//go:build !integration

package otel

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	metricSDK "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/Axway/ats-framework-sub003/internal/metrics"
	"github.com/Axway/ats-framework-sub003/pkg/monitoring"
)

func definitionsEvent(session string, defs ...monitoring.InstanceDescriptor) metrics.MetricEvent {
	return metrics.MetricEvent{
		Source:     "ats-monitor",
		SessionID:  session,
		Host:       "node-a",
		MetricType: metrics.MetricTypeDefinitions,
		EventType:  metrics.EventTypeSnapshot,
		Data:       defs,
	}
}

func readingsEvent(session string, values ...monitoring.ReadingValue) metrics.MetricEvent {
	return metrics.MetricEvent{
		Source:     "ats-monitor",
		SessionID:  session,
		Host:       "node-a",
		MetricType: metrics.MetricTypeReadings,
		EventType:  metrics.EventTypeGauge,
		Data:       values,
	}
}

// collect returns the data points of every gauge by instrument name.
func collect(t *testing.T, reader *metricSDK.ManualReader) map[string][]metricdata.DataPoint[float64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	points := make(map[string][]metricdata.DataPoint[float64])
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			gauge, ok := m.Data.(metricdata.Gauge[float64])
			require.True(t, ok, "metric %s is not a float gauge", m.Name)
			points[m.Name] = append(points[m.Name], gauge.DataPoints...)
		}
	}
	return points
}

func attr(t *testing.T, p metricdata.DataPoint[float64], key string) string {
	t.Helper()
	v, ok := p.Attributes.Value(attribute.Key(key))
	require.True(t, ok, "missing attribute %s", key)
	return v.Emit()
}

func TestTransformer_RecordsReadings(t *testing.T) {
	reader := metricSDK.NewManualReader()
	provider := metricSDK.NewMeterProvider(metricSDK.WithReader(reader))
	transformer := NewTransformer(provider.Meter("test"), testr.New(t), "1.2.3")

	require.NoError(t, transformer.TransformAndRecord(definitionsEvent("s-1",
		monitoring.InstanceDescriptor{ID: 1, MonitorName: "system", Name: "Memory - Used", Unit: "MB"},
		monitoring.InstanceDescriptor{ID: 2, MonitorName: "process", Name: "[process] java - CPU usage - Total", Unit: "%", ParentName: "app"},
		monitoring.InstanceDescriptor{ID: 3, MonitorName: "system", Name: "CPU usage - Total", Unit: "%"},
	)))
	require.NoError(t, transformer.TransformAndRecord(readingsEvent("s-1",
		monitoring.ReadingValue{ID: 1, Value: "512"},
		monitoring.ReadingValue{ID: 2, Value: "12.5"},
		monitoring.ReadingValue{ID: 3, Value: "-1"},
	)))

	points := collect(t, reader)
	require.Len(t, points["ats.reading.mb"], 1)
	require.Len(t, points["ats.reading.percent"], 1)

	mem := points["ats.reading.mb"][0]
	assert.Equal(t, 512.0, mem.Value)
	assert.Equal(t, "Memory - Used", attr(t, mem, "ats.reading.name"))
	assert.Equal(t, "MB", attr(t, mem, "ats.reading.unit"))
	assert.Equal(t, "node-a", attr(t, mem, "host.name"))
	assert.Equal(t, "s-1", attr(t, mem, "ats.session.id"))
	assert.Equal(t, "1.2.3", attr(t, mem, "service.version"))

	cpu := points["ats.reading.percent"][0]
	assert.Equal(t, 12.5, cpu.Value)
	assert.Equal(t, "app", attr(t, cpu, "ats.process.parent"))
}

func TestTransformer_SessionChange(t *testing.T) {
	reader := metricSDK.NewManualReader()
	provider := metricSDK.NewMeterProvider(metricSDK.WithReader(reader))
	transformer := NewTransformer(provider.Meter("test"), testr.New(t), "")

	require.NoError(t, transformer.TransformAndRecord(definitionsEvent("s-1",
		monitoring.InstanceDescriptor{ID: 1, Name: "Memory - Used", Unit: "MB"})))

	// ids of the previous session do not name readings of a new one
	require.NoError(t, transformer.TransformAndRecord(readingsEvent("s-2",
		monitoring.ReadingValue{ID: 1, Value: "7"})))

	points := collect(t, reader)
	require.Len(t, points["ats.reading.count"], 1)
	p := points["ats.reading.count"][0]
	assert.Equal(t, 7.0, p.Value)
	assert.Equal(t, "1", attr(t, p, "ats.reading.id"))
	_, hasName := p.Attributes.Value("ats.reading.name")
	assert.False(t, hasName)
}

func TestTransformer_InvalidValue(t *testing.T) {
	provider := metricSDK.NewMeterProvider(metricSDK.WithReader(metricSDK.NewManualReader()))
	transformer := NewTransformer(provider.Meter("test"), testr.New(t), "")

	err := transformer.TransformAndRecord(readingsEvent("s-1",
		monitoring.ReadingValue{ID: 1, Value: "abc"},
		monitoring.ReadingValue{ID: 2, Value: "1"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to record 1 readings")
}

func TestInstrumentName(t *testing.T) {
	tests := map[string]struct {
		name string
		ucum string
	}{
		"":       {"ats.reading.count", "1"},
		"%":      {"ats.reading.percent", "%"},
		"MB":     {"ats.reading.mb", "MiBy"},
		"KB/sec": {"ats.reading.kb_per_sec", "{KB/sec}"},
		"bytes":  {"ats.reading.bytes", "By"},
	}
	for unit, tt := range tests {
		assert.Equal(t, tt.name, instrumentName(unit), unit)
		assert.Equal(t, tt.ucum, ucumUnit(unit), unit)
	}
}

func TestConsumer_EndToEnd(t *testing.T) {
	reader := metricSDK.NewManualReader()
	config := DefaultConfig()
	config.ExportInterval = 10 * time.Millisecond
	c, err := newConsumerWithReader(config, testr.New(t), reader)
	require.NoError(t, err)
	assert.Equal(t, "opentelemetry", c.Name())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Start(ctx))

	require.NoError(t, c.HandleEvent(definitionsEvent("s-1",
		monitoring.InstanceDescriptor{ID: 1, Name: "Memory - Used", Unit: "MB"})))
	require.NoError(t, c.HandleEvent(readingsEvent("s-1",
		monitoring.ReadingValue{ID: 1, Value: "300"})))

	require.Eventually(t, func() bool {
		return c.Health().EventsCount == 2
	}, 5*time.Second, 5*time.Millisecond)

	points := collect(t, reader)
	require.Len(t, points["ats.reading.mb"], 1)
	assert.Equal(t, 300.0, points["ats.reading.mb"][0].Value)

	cancel()
	c.Wait()
	health := c.Health()
	assert.True(t, health.Healthy)
	assert.Equal(t, uint64(0), health.ErrorsCount)
}

func TestMetricsBuffer(t *testing.T) {
	_, err := NewMetricsBuffer(0)
	assert.Error(t, err)

	b, err := NewMetricsBuffer(2)
	require.NoError(t, err)
	assert.Nil(t, b.Drain())

	for _, session := range []string{"a", "b", "c"} {
		b.Push(metrics.MetricEvent{SessionID: session})
	}
	assert.Equal(t, 2, b.Len())
	assert.Equal(t, uint64(1), b.Dropped())

	select {
	case <-b.NotifyChannel():
	default:
		t.Fatal("expected a pending notification")
	}

	events := b.Drain()
	require.Len(t, events, 2)
	assert.Equal(t, "b", events[0].SessionID)
	assert.Equal(t, "c", events[1].SessionID)
	assert.Equal(t, 0, b.Len())
}

func TestConfig(t *testing.T) {
	t.Run("validate sets defaults", func(t *testing.T) {
		config := Config{Endpoint: "localhost:4317"}
		require.NoError(t, config.Validate())
		assert.Equal(t, "ats-monitor", config.ServiceName)
		assert.Equal(t, 10*time.Second, config.ExportInterval)
		assert.Equal(t, 30*time.Second, config.Timeout)
		assert.Equal(t, CompressionGZip, config.Compression)
	})

	t.Run("errors", func(t *testing.T) {
		assert.ErrorIs(t, (&Config{}).Validate(), ErrEndpointRequired)
		assert.ErrorIs(t, (&Config{Endpoint: "x", Compression: "zstd"}).Validate(), ErrInvalidCompressionType)
		assert.ErrorIs(t, (&Config{Endpoint: "x", MaxQueueSize: MaxSafeQueueSize + 1}).Validate(), ErrQueueSizeTooLarge)
	})

	t.Run("environment", func(t *testing.T) {
		t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")
		t.Setenv("OTEL_EXPORTER_OTLP_METRICS_INSECURE", "true")
		t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "api-key=secret, tenant = ats ,broken")
		t.Setenv("OTEL_SERVICE_NAME", "perf-lab")
		t.Setenv("OTEL_METRIC_EXPORT_INTERVAL", "5000")

		config := GetConfigFromEnvironment()
		assert.Equal(t, "collector:4317", config.Endpoint)
		assert.True(t, config.Insecure)
		assert.Equal(t, map[string]string{"api-key": "secret", "tenant": "ats"}, config.Headers)
		assert.Equal(t, "perf-lab", config.ServiceName)
		assert.Equal(t, 5*time.Second, config.ExportInterval)
	})
}
