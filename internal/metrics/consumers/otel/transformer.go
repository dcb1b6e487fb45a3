// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package otel

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Axway/ats-framework-sub003/internal/metrics"
	"github.com/Axway/ats-framework-sub003/pkg/monitoring"
)

const (
	// MaxInstrumentCacheSize limits the instrument cache size
	MaxInstrumentCacheSize = 100
	// ErrorThresholdForHealthCheck defines when to log high error rates
	ErrorThresholdForHealthCheck = 100
	// HeartbeatInterval defines how often to log processing heartbeat
	HeartbeatInterval = 1000

	instrumentPrefix = "ats.reading"
)

// Transformer records reading values as OpenTelemetry gauges, one instrument
// per reading unit. Readings are told apart by their attributes.
type Transformer struct {
	meter          metric.Meter
	logger         logr.Logger
	serviceVersion string

	instruments      map[string]metric.Float64Gauge
	instrumentsMutex sync.RWMutex

	// descriptors of the current session, by instance id
	mu          sync.Mutex
	session     string
	descriptors map[int]monitoring.InstanceDescriptor
}

func NewTransformer(meter metric.Meter, logger logr.Logger, serviceVersion string) *Transformer {
	return &Transformer{
		meter:          meter,
		logger:         logger.WithName("otel-transformer"),
		serviceVersion: serviceVersion,
		instruments:    make(map[string]metric.Float64Gauge),
		descriptors:    make(map[int]monitoring.InstanceDescriptor),
	}
}

// TransformAndRecord learns instance descriptors from definitions events and
// records the values of readings events. Unavailable values (-1) are not recorded.
func (t *Transformer) TransformAndRecord(event metrics.MetricEvent) error {
	ctx := context.Background()
	if defs, ok := event.Definitions(); ok {
		t.learn(event.SessionID, defs)
		return nil
	}
	values, ok := event.Readings()
	if !ok {
		t.logger.V(1).Info("Unknown metric type", "type", event.MetricType)
		return nil
	}

	common := t.buildAttributes(event)
	var errs []string
	for _, v := range values {
		value, err := strconv.ParseFloat(v.Value, 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("reading %d: %v", v.ID, err))
			continue
		}
		if value == -1 {
			continue
		}

		desc, known := t.descriptor(event.SessionID, v.ID)
		gauge, err := t.getOrCreateFloat64Gauge(desc.Unit)
		if err != nil {
			errs = append(errs, fmt.Sprintf("reading %d: %v", v.ID, err))
			continue
		}

		attrs := append(make([]attribute.KeyValue, 0, len(common)+6), common...)
		attrs = append(attrs, attribute.Int("ats.reading.id", v.ID))
		if known {
			attrs = append(attrs,
				attribute.String("ats.reading.name", desc.Name),
				attribute.String("ats.reading.unit", desc.Unit),
				attribute.String("ats.monitor", desc.MonitorName))
			if desc.ParentName != "" {
				attrs = append(attrs, attribute.String("ats.process.parent", desc.ParentName))
			}
		}
		gauge.Record(ctx, value, metric.WithAttributes(attrs...))
	}

	if len(errs) > 0 {
		return fmt.Errorf("failed to record %d readings: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

// learn stores descriptors. Descriptors of a previous session are dropped
// since ids restart with every session.
func (t *Transformer) learn(session string, defs []monitoring.InstanceDescriptor) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if session != t.session {
		t.session = session
		t.descriptors = make(map[int]monitoring.InstanceDescriptor)
	}
	for _, d := range defs {
		t.descriptors[d.ID] = d
	}
}

func (t *Transformer) descriptor(session string, id int) (monitoring.InstanceDescriptor, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if session != t.session {
		return monitoring.InstanceDescriptor{}, false
	}
	d, ok := t.descriptors[id]
	return d, ok
}

func (t *Transformer) buildAttributes(event metrics.MetricEvent) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 4)

	if event.Host != "" {
		attrs = append(attrs, attribute.String("host.name", event.Host))
	}
	if event.SessionID != "" {
		attrs = append(attrs, attribute.String("ats.session.id", event.SessionID))
	}
	if event.Source != "" {
		attrs = append(attrs, attribute.String("service.instance.id", event.Source))
	}
	if t.serviceVersion != "" {
		attrs = append(attrs, attribute.String("service.version", t.serviceVersion))
	}

	return attrs
}

// getOrCreateFloat64Gauge returns the gauge of a reading unit
func (t *Transformer) getOrCreateFloat64Gauge(unit string) (metric.Float64Gauge, error) {
	name := instrumentName(unit)

	t.instrumentsMutex.RLock()
	if inst, exists := t.instruments[name]; exists {
		t.instrumentsMutex.RUnlock()
		return inst, nil
	}
	t.instrumentsMutex.RUnlock()

	t.instrumentsMutex.Lock()
	defer t.instrumentsMutex.Unlock()

	if inst, exists := t.instruments[name]; exists {
		return inst, nil
	}

	gauge, err := t.meter.Float64Gauge(name,
		metric.WithDescription("ATS monitoring readings measured in "+describeUnit(unit)),
		metric.WithUnit(ucumUnit(unit)))
	if err != nil {
		return nil, err
	}

	if len(t.instruments) >= MaxInstrumentCacheSize {
		t.logger.V(1).Info("Instrument cache size limit reached", "current_size", len(t.instruments), "limit", MaxInstrumentCacheSize)
		return gauge, nil
	}
	t.instruments[name] = gauge
	return gauge, nil
}

// instrumentName derives "ats.reading.<unit>" from a reading unit.
func instrumentName(unit string) string {
	switch strings.TrimSpace(unit) {
	case "":
		return instrumentPrefix + ".count"
	case "%":
		return instrumentPrefix + ".percent"
	}
	var b strings.Builder
	for _, r := range strings.ToLower(unit) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '/':
			b.WriteString("_per_")
		default:
			b.WriteRune('_')
		}
	}
	return instrumentPrefix + "." + strings.Trim(b.String(), "_")
}

// ucumUnit maps reading units to UCUM units where one exists.
func ucumUnit(unit string) string {
	switch strings.ToUpper(strings.TrimSpace(unit)) {
	case "":
		return "1"
	case "%":
		return "%"
	case "B", "BYTE", "BYTES":
		return "By"
	case "KB", "KIB":
		return "KiBy"
	case "MB", "MIB":
		return "MiBy"
	case "GB", "GIB":
		return "GiBy"
	default:
		return "{" + unit + "}"
	}
}

func describeUnit(unit string) string {
	if strings.TrimSpace(unit) == "" {
		return "counts"
	}
	return unit
}
