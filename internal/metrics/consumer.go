// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package metrics

import "context"

// Consumer receives monitoring events from the router.
type Consumer interface {
	// Name returns the unique name of this consumer
	Name() string

	// HandleEvent processes one event. It is called from the polling
	// goroutine, so slow consumers delay the next poll cycle.
	HandleEvent(event MetricEvent) error

	// Start prepares the consumer (open connections, create tables).
	Start(ctx context.Context) error

	// Health returns the current health status
	Health() ConsumerHealth
}

type ConsumerHealth struct {
	Healthy     bool
	LastError   error
	EventsCount uint64
	ErrorsCount uint64
}
