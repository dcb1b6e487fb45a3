// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package metrics

import (
	"time"

	"github.com/Axway/ats-framework-sub003/pkg/monitoring"
)

// MetricType identifies the payload of a MetricEvent.
type MetricType string

const (
	// MetricTypeDefinitions events carry []monitoring.InstanceDescriptor for
	// the reading instances created since the previous definitions event.
	MetricTypeDefinitions MetricType = "definitions"
	// MetricTypeReadings events carry the []monitoring.ReadingValue of one poll cycle.
	MetricTypeReadings MetricType = "readings"
)

// MetricEvent is one unit flowing from the monitoring agent to consumers.
//
// Ids in a readings event refer to descriptors published earlier in a
// definitions event of the same session. Consumers that persist readings must
// therefore see the definitions events first, which the agent guarantees by
// publishing them synchronously before the poll results that use them.
type MetricEvent struct {
	Timestamp time.Time
	Source    string
	// SessionID groups the events of one monitoring session. Reading ids are
	// only unique within a session.
	SessionID string
	// Host is the monitored machine.
	Host string

	MetricType MetricType
	EventType  EventType

	Data any
}

// Definitions returns the descriptors carried by a definitions event.
func (e MetricEvent) Definitions() ([]monitoring.InstanceDescriptor, bool) {
	if e.MetricType != MetricTypeDefinitions {
		return nil, false
	}
	defs, ok := e.Data.([]monitoring.InstanceDescriptor)
	return defs, ok
}

// Readings returns the values carried by a readings event.
func (e MetricEvent) Readings() ([]monitoring.ReadingValue, bool) {
	if e.MetricType != MetricTypeReadings {
		return nil, false
	}
	values, ok := e.Data.([]monitoring.ReadingValue)
	return values, ok
}

// EventType indicates how to interpret the event payload.
type EventType string

const (
	EventTypeGauge    EventType = "gauge"    // Point-in-time values
	EventTypeSnapshot EventType = "snapshot" // Complete description of state
)

// Router defines the interface for routing metrics events to consumers
type Router interface {
	// Publish emits a metrics event to all registered consumers
	Publish(event MetricEvent) error

	// PublishBatch emits multiple metrics events in order
	PublishBatch(events []MetricEvent) error
}
