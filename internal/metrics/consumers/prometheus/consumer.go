// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package prometheus

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Axway/ats-framework-sub003/internal/metrics"
	"github.com/Axway/ats-framework-sub003/pkg/monitoring"
)

const consumerName = "prometheus"

var readingLabels = []string{"host", "session", "id", "name", "unit", "monitor", "parent"}

// Consumer exposes the latest value of every reading as a gauge for
// Prometheus to scrape. Series of instances that stop reporting are removed
// after the cycle that no longer contains them.
type Consumer struct {
	config   Config
	logger   logr.Logger
	registry *prometheus.Registry
	handler  http.Handler

	readings  *prometheus.GaugeVec
	instances prometheus.Gauge
	polls     *prometheus.CounterVec
	lastPoll  prometheus.Gauge

	mu          sync.Mutex
	session     string
	descriptors map[int]monitoring.InstanceDescriptor
	// label sets reported in the previous cycle, by id
	current map[int]prometheus.Labels

	addr      atomic.Pointer[net.Addr]
	done      <-chan struct{}
	healthy   atomic.Bool
	lastError atomic.Pointer[error]

	eventsCount atomic.Uint64
	errorsCount atomic.Uint64
}

func NewConsumer(config Config, logger logr.Logger) (*Consumer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	constLabels := prometheus.Labels{}
	for k, v := range config.ConstLabels {
		constLabels[k] = v
	}

	c := &Consumer{
		config:      config,
		logger:      logger.WithName("prometheus-consumer"),
		registry:    prometheus.NewRegistry(),
		descriptors: make(map[int]monitoring.InstanceDescriptor),
		current:     make(map[int]prometheus.Labels),
		readings: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Name:        "reading",
			Help:        "Latest value of a monitored reading, in the unit given by the unit label",
			ConstLabels: constLabels,
		}, readingLabels),
		instances: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Name:        "reading_instances",
			Help:        "Number of reading instances reported in the last poll cycle",
			ConstLabels: constLabels,
		}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "poll_cycles_total",
			Help:        "Poll cycles received, by host",
			ConstLabels: constLabels,
		}, []string{"host"}),
		lastPoll: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Name:        "last_poll_timestamp_seconds",
			Help:        "Unix time of the last poll cycle",
			ConstLabels: constLabels,
		}),
	}

	for _, collector := range []prometheus.Collector{c.readings, c.instances, c.polls, c.lastPoll} {
		if err := c.registry.Register(collector); err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}
	c.handler = newHandler(config.Path, c.registry, c.logger)
	c.healthy.Store(true)
	return c, nil
}

func (c *Consumer) Name() string {
	return consumerName
}

// Handler serves the metrics path and /health.
func (c *Consumer) Handler() http.Handler {
	return c.handler
}

// Addr returns the address the server listens on, nil before Start or when
// the server is disabled.
func (c *Consumer) Addr() net.Addr {
	if addr := c.addr.Load(); addr != nil {
		return *addr
	}
	return nil
}

// Start binds the scrape endpoint. The server stops when ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	if c.config.Addr == "" {
		c.logger.Info("Prometheus HTTP server disabled")
		return nil
	}
	addr, done, err := serve(ctx, c.config.Addr, c.handler, c.config.ShutdownTimeout, c.logger)
	if err != nil {
		c.healthy.Store(false)
		c.lastError.Store(&err)
		return err
	}
	c.addr.Store(&addr)
	c.done = done
	return nil
}

// Wait blocks until the HTTP server has stopped.
func (c *Consumer) Wait() {
	if c.done != nil {
		<-c.done
	}
}

func (c *Consumer) HandleEvent(event metrics.MetricEvent) error {
	if defs, ok := event.Definitions(); ok {
		c.learn(event.SessionID, defs)
		c.eventsCount.Add(1)
		return nil
	}
	values, ok := event.Readings()
	if !ok {
		return nil
	}
	if err := c.update(event, values); err != nil {
		c.errorsCount.Add(1)
		c.lastError.Store(&err)
		return err
	}
	c.eventsCount.Add(1)
	return nil
}

func (c *Consumer) learn(session string, defs []monitoring.InstanceDescriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.switchSession(session)
	for _, d := range defs {
		c.descriptors[d.ID] = d
	}
}

// switchSession drops every series of the previous session. Ids are only
// unique within one session.
func (c *Consumer) switchSession(session string) {
	if session == c.session {
		return
	}
	if c.session != "" {
		c.logger.V(1).Info("Monitoring session changed, resetting readings",
			"previous", c.session, "session", session)
	}
	c.session = session
	c.descriptors = make(map[int]monitoring.InstanceDescriptor)
	c.current = make(map[int]prometheus.Labels)
	c.readings.Reset()
}

func (c *Consumer) update(event metrics.MetricEvent, values []monitoring.ReadingValue) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.switchSession(event.SessionID)

	seen := make(map[int]prometheus.Labels, len(values))
	var failed int
	for _, v := range values {
		value, err := strconv.ParseFloat(v.Value, 64)
		if err != nil {
			failed++
			continue
		}
		labels := c.labels(event, v.ID)
		// unavailable readings keep no series
		if value == -1 {
			continue
		}
		c.readings.With(labels).Set(value)
		seen[v.ID] = labels
	}

	for id, labels := range c.current {
		if _, ok := seen[id]; !ok {
			c.readings.Delete(labels)
		}
	}
	c.current = seen

	c.instances.Set(float64(len(values)))
	c.polls.WithLabelValues(event.Host).Inc()
	if !event.Timestamp.IsZero() {
		c.lastPoll.Set(float64(event.Timestamp.UnixNano()) / 1e9)
	}

	if failed > 0 {
		return fmt.Errorf("prometheus: %d readings have non numeric values", failed)
	}
	return nil
}

func (c *Consumer) labels(event metrics.MetricEvent, id int) prometheus.Labels {
	d := c.descriptors[id]
	name := d.Name
	if d.IsParentAggregate {
		name = "[process] " + d.ParentName + " - " + d.Name
	}
	return prometheus.Labels{
		"host":    event.Host,
		"session": event.SessionID,
		"id":      strconv.Itoa(id),
		"name":    name,
		"unit":    d.Unit,
		"monitor": d.MonitorName,
		"parent":  d.ParentName,
	}
}

func (c *Consumer) Health() metrics.ConsumerHealth {
	var lastErr error
	if errPtr := c.lastError.Load(); errPtr != nil {
		lastErr = *errPtr
	}
	return metrics.ConsumerHealth{
		Healthy:     c.healthy.Load(),
		LastError:   lastErr,
		EventsCount: c.eventsCount.Load(),
		ErrorsCount: c.errorsCount.Load(),
	}
}

var _ metrics.Consumer = (*Consumer)(nil)
