// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package metrics

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"
)

var _ Router = (*MetricsRouter)(nil)

var (
	// ErrRouterClosed is returned when attempting to publish to a closed router
	ErrRouterClosed = errors.New("metrics router is closed")
)

// route is a registered consumer and its delivery counters.
type route struct {
	consumer Consumer
	failures atomic.Uint64
}

// MetricsRouter fans events out to every registered consumer. Consumers are
// called in registration order, so each one sees the definitions event of a
// cycle before the readings that refer to it.
type MetricsRouter struct {
	logger logr.Logger

	mu     sync.RWMutex
	routes []*route
	closed bool

	published atomic.Uint64
}

func NewMetricsRouter(logger logr.Logger) *MetricsRouter {
	return &MetricsRouter{
		logger: logger.WithName("metrics-router"),
	}
}

// Start blocks until ctx is cancelled, then rejects further events.
func (r *MetricsRouter) Start(ctx context.Context) error {
	r.logger.Info("Starting metrics router", "consumers", r.consumerNames())
	<-ctx.Done()

	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.logger.Info("Metrics router shutdown", "published", r.published.Load())
	return nil
}

func (r *MetricsRouter) consumerNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.routes))
	for i, rt := range r.routes {
		names[i] = rt.consumer.Name()
	}
	return names
}

func (r *MetricsRouter) indexOf(name string) int {
	return slices.IndexFunc(r.routes, func(rt *route) bool { return rt.consumer.Name() == name })
}

// RegisterConsumer appends a consumer. The caller starts it.
func (r *MetricsRouter) RegisterConsumer(consumer Consumer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := consumer.Name()
	if r.indexOf(name) >= 0 {
		return fmt.Errorf("consumer %s already registered", name)
	}
	r.routes = append(r.routes, &route{consumer: consumer})
	r.logger.Info("Consumer registered", "consumer", name)
	return nil
}

// Publish hands the event to every consumer, even after one of them fails.
// The returned error joins the failures, each prefixed by the consumer name.
func (r *MetricsRouter) Publish(event MetricEvent) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return ErrRouterClosed
	}
	r.published.Add(1)

	var errs []error
	for _, rt := range r.routes {
		if err := rt.consumer.HandleEvent(event); err != nil {
			rt.failures.Add(1)
			r.logger.V(1).Info("Failed to handle event in consumer",
				"consumer", rt.consumer.Name(), "metric_type", event.MetricType,
				"session", event.SessionID, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", rt.consumer.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// PublishBatch publishes events in order. A failed event does not hold back
// the ones after it; a closed router stops the batch.
func (r *MetricsRouter) PublishBatch(events []MetricEvent) error {
	var errs []error
	for _, event := range events {
		err := r.Publish(event)
		if errors.Is(err, ErrRouterClosed) {
			return err
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// GetStats reports the health of every consumer along with the number of
// events the router failed to deliver to it.
func (r *MetricsRouter) GetStats() RouterStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := RouterStats{
		ConsumerCount: len(r.routes),
		Published:     r.published.Load(),
		Consumers:     make(map[string]ConsumerHealth, len(r.routes)),
		Failures:      make(map[string]uint64, len(r.routes)),
	}
	for _, rt := range r.routes {
		name := rt.consumer.Name()
		stats.Consumers[name] = rt.consumer.Health()
		stats.Failures[name] = rt.failures.Load()
	}
	return stats
}

type RouterStats struct {
	ConsumerCount int
	Published     uint64
	Consumers     map[string]ConsumerHealth
	Failures      map[string]uint64
}
