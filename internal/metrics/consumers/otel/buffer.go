// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package otel

import (
	"fmt"
	"sync"

	"github.com/Axway/ats-framework-sub003/internal/metrics"
)

// MetricsBuffer is a bounded FIFO of events. When full, the oldest event is
// overwritten.
type MetricsBuffer struct {
	mu      sync.Mutex
	events  []metrics.MetricEvent
	head    int
	size    int
	dropped uint64

	// Notification channel for new events
	notify chan struct{}
}

func NewMetricsBuffer(capacity int) (*MetricsBuffer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("buffer capacity must be positive, got %d", capacity)
	}
	return &MetricsBuffer{
		events: make([]metrics.MetricEvent, capacity),
		notify: make(chan struct{}, 1),
	}, nil
}

// Push adds an event, overwriting the oldest if full. It never blocks.
func (b *MetricsBuffer) Push(event metrics.MetricEvent) {
	b.mu.Lock()
	tail := (b.head + b.size) % len(b.events)
	b.events[tail] = event
	if b.size == len(b.events) {
		b.head = (b.head + 1) % len(b.events)
		b.dropped++
	} else {
		b.size++
	}
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// Drain removes and returns every buffered event, oldest first.
func (b *MetricsBuffer) Drain() []metrics.MetricEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.size == 0 {
		return nil
	}
	out := make([]metrics.MetricEvent, b.size)
	for i := range out {
		idx := (b.head + i) % len(b.events)
		out[i] = b.events[idx]
		b.events[idx] = metrics.MetricEvent{}
	}
	b.head = 0
	b.size = 0
	return out
}

// NotifyChannel returns a channel that receives notifications when new events are added
func (b *MetricsBuffer) NotifyChannel() <-chan struct{} {
	return b.notify
}

func (b *MetricsBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Dropped returns the number of events overwritten before being drained.
func (b *MetricsBuffer) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
