// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package debug

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"

	"github.com/Axway/ats-framework-sub003/internal/metrics"
	"github.com/Axway/ats-framework-sub003/pkg/monitoring"
)

const (
	consumerName = "debug"

	// statsEvery is how often, in events, a statistics line is added.
	statsEvery = 1000
)

// Consumer logs every monitoring event through the configured logger.
type Consumer struct {
	config Config
	logger logr.Logger

	// Runtime state
	healthy   atomic.Bool
	lastError atomic.Pointer[error]

	// Metrics
	eventsProcessed atomic.Uint64
	errorsCount     atomic.Uint64
	startTime       time.Time

	// Statistics tracking
	statsMutex     sync.Mutex
	eventsByType   map[string]uint64
	eventsBySource map[string]uint64

	// id -> reading name, learned from definitions events
	namesMutex sync.RWMutex
	names      map[int]string
}

func NewConsumer(config Config, logger logr.Logger) (*Consumer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	consumer := &Consumer{
		config:         config,
		logger:         logger.WithName("debug-consumer"),
		startTime:      time.Now(),
		eventsByType:   make(map[string]uint64),
		eventsBySource: make(map[string]uint64),
		names:          make(map[int]string),
	}

	consumer.healthy.Store(true)
	return consumer, nil
}

func (c *Consumer) Name() string {
	return consumerName
}

// HandleEvent logs the event right away.
func (c *Consumer) HandleEvent(event metrics.MetricEvent) error {
	if err := c.processEvent(event); err != nil {
		c.logger.Error(err, "Failed to process metrics event",
			"metric_type", event.MetricType,
			"source", event.Source)
		c.errorsCount.Add(1)
		c.lastError.Store(&err)
		return err
	}
	c.eventsProcessed.Add(1)
	return nil
}

func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("Starting Debug consumer",
		"log_level", c.config.LogLevel,
		"log_format", c.config.LogFormat,
		"include_data", c.config.IncludeEventData)

	return nil
}

func (c *Consumer) Health() metrics.ConsumerHealth {
	var lastErr error
	if errPtr := c.lastError.Load(); errPtr != nil {
		lastErr = *errPtr
	}

	return metrics.ConsumerHealth{
		Healthy:     c.healthy.Load(),
		LastError:   lastErr,
		EventsCount: c.eventsProcessed.Load(),
		ErrorsCount: c.errorsCount.Load(),
	}
}

func (c *Consumer) processEvent(event metrics.MetricEvent) error {
	// Names are learned even when definitions are filtered out, so that
	// readings can still be printed by name.
	if defs, ok := event.Definitions(); ok {
		c.learnNames(defs)
	}

	if !c.config.ShouldLogMetricType(string(event.MetricType)) {
		return nil
	}
	if !c.config.ShouldLogSource(event.Source) {
		return nil
	}

	c.updateStats(event)

	if c.config.LogFormat == LogFormatJSON {
		return c.logEventJSON(event)
	}
	return c.logEventText(event)
}

func (c *Consumer) learnNames(defs []monitoring.InstanceDescriptor) {
	c.namesMutex.Lock()
	defer c.namesMutex.Unlock()
	for _, d := range defs {
		c.names[d.ID] = d.Name
	}
}

func (c *Consumer) nameOf(id int) string {
	c.namesMutex.RLock()
	defer c.namesMutex.RUnlock()
	if name, ok := c.names[id]; ok {
		return name
	}
	return fmt.Sprintf("#%d", id)
}

func (c *Consumer) updateStats(event metrics.MetricEvent) {
	c.statsMutex.Lock()
	defer c.statsMutex.Unlock()

	c.eventsByType[string(event.MetricType)]++
	c.eventsBySource[event.Source]++
}

// items returns the number of entries in the event payload.
func items(event metrics.MetricEvent) int {
	if defs, ok := event.Definitions(); ok {
		return len(defs)
	}
	if values, ok := event.Readings(); ok {
		return len(values)
	}
	return 0
}

// payload renders the event data for output.
func (c *Consumer) payload(event metrics.MetricEvent) any {
	if values, ok := event.Readings(); ok {
		named := make(map[string]string, len(values))
		for _, v := range values {
			named[c.nameOf(v.ID)] = v.Value
		}
		return named
	}
	return event.Data
}

// logEventJSON logs an event in JSON format
func (c *Consumer) logEventJSON(event metrics.MetricEvent) error {
	entry := LogEntry{
		Level:    "INFO",
		Consumer: consumerName,
		Message:  "Monitoring event received",
		Event: &MetricEventSummary{
			MetricType: string(event.MetricType),
			EventType:  string(event.EventType),
			Source:     event.Source,
			SessionID:  event.SessionID,
			Host:       event.Host,
			Items:      items(event),
		},
	}

	if c.config.IncludeTimestamp {
		entry.Timestamp = event.Timestamp
	}

	if c.config.IncludeEventData && c.config.LogLevel >= LogLevelVerbose {
		data, err := json.Marshal(c.payload(event))
		if err != nil {
			return fmt.Errorf("failed to marshal event data: %w", err)
		}
		entry.Data = c.truncate(string(data))
	}

	if (c.eventsProcessed.Load()+1)%statsEvery == 0 {
		entry.Stats = c.getStats()
	}

	jsonBytes, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}

	c.logger.Info(string(jsonBytes))
	return nil
}

// logEventText logs an event in human-readable text format
func (c *Consumer) logEventText(event metrics.MetricEvent) error {
	parts := []string{
		fmt.Sprintf("Event: %s", event.MetricType),
		fmt.Sprintf("Items: %d", items(event)),
	}

	if c.config.LogLevel >= LogLevelDetails {
		if event.Source != "" {
			parts = append(parts, fmt.Sprintf("Source: %s", event.Source))
		}
		if event.SessionID != "" {
			parts = append(parts, fmt.Sprintf("Session: %s", event.SessionID))
		}
		if event.Host != "" {
			parts = append(parts, fmt.Sprintf("Host: %s", event.Host))
		}
	}

	if c.config.LogLevel >= LogLevelVerbose && c.config.IncludeEventData {
		parts = append(parts, fmt.Sprintf("Data: %s", c.truncate(c.formatText(event))))
	}

	message := strings.Join(parts, " | ")
	if c.config.IncludeTimestamp {
		message = fmt.Sprintf("[%s] %s", event.Timestamp.Format("2006-01-02 15:04:05.000"), message)
	}

	c.logger.Info(message)

	if (c.eventsProcessed.Load()+1)%statsEvery == 0 {
		c.logStatsText()
	}
	return nil
}

// formatText renders readings as "name=value" pairs and definitions as
// "id: name (unit)" entries.
func (c *Consumer) formatText(event metrics.MetricEvent) string {
	var entries []string
	if values, ok := event.Readings(); ok {
		for _, v := range values {
			entries = append(entries, c.nameOf(v.ID)+"="+v.Value)
		}
	} else if defs, ok := event.Definitions(); ok {
		for _, d := range defs {
			entries = append(entries, fmt.Sprintf("%d: %s (%s)", d.ID, d.Name, d.Unit))
		}
	} else {
		return fmt.Sprintf("%+v", event.Data)
	}
	return strings.Join(entries, ", ")
}

func (c *Consumer) truncate(s string) string {
	if c.config.MaxDataLength == 0 || len(s) <= c.config.MaxDataLength {
		return s
	}
	return fmt.Sprintf("%s... (truncated from %d chars)", s[:c.config.MaxDataLength], len(s))
}

// getStats returns current consumer statistics
func (c *Consumer) getStats() *ConsumerStats {
	c.statsMutex.Lock()
	defer c.statsMutex.Unlock()

	eventsByType := make(map[string]uint64, len(c.eventsByType))
	for t, n := range c.eventsByType {
		eventsByType[t] = n
	}
	eventsBySource := make(map[string]uint64, len(c.eventsBySource))
	for s, n := range c.eventsBySource {
		eventsBySource[s] = n
	}

	return &ConsumerStats{
		EventsProcessed: c.eventsProcessed.Load(),
		ErrorsCount:     c.errorsCount.Load(),
		Uptime:          time.Since(c.startTime),
		EventsByType:    eventsByType,
		EventsBySource:  eventsBySource,
	}
}

// logStatsText logs statistics in text format
func (c *Consumer) logStatsText() {
	stats := c.getStats()
	c.logger.Info("Debug consumer stats",
		"events_processed", stats.EventsProcessed,
		"errors", stats.ErrorsCount,
		"uptime", stats.Uptime,
		"types", len(stats.EventsByType),
		"sources", len(stats.EventsBySource))
}

var _ metrics.Consumer = (*Consumer)(nil)
