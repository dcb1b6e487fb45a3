// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package monitoring

import (
	"errors"
	"strings"
)

var (
	// ErrUnsupportedMetric is returned when a reading name is not present in the repository.
	ErrUnsupportedMetric = errors.New("unsupported metric")

	// ErrUnknownMetricKind is returned when a process monitoring request names an unknown reading kind.
	ErrUnknownMetricKind = errors.New("unknown process metric kind")

	// ErrDuplicateMonitorDefinition is returned when two configuration sources declare the same monitor.
	ErrDuplicateMonitorDefinition = errors.New("duplicated monitor definition")

	// ErrUnsupportedReading is returned when a static reading has no implementation.
	ErrUnsupportedReading = errors.New("unsupported reading")

	// ErrNotInitialized is returned when polling an engine that is not initialized or was deinitialized.
	ErrNotInitialized = errors.New("monitoring engine is not initialized")

	// ErrAlreadyInitialized is returned when Init is called twice on the same engine.
	ErrAlreadyInitialized = errors.New("monitoring engine is already initialized")
)

// ParseError describes a configuration problem together with the location it
// was found at. Location fields are empty when not known yet.
type ParseError struct {
	Msg          string
	File         string
	MonitorClass string
	ReadingName  string
	Err          error
}

func (e *ParseError) Error() string {
	var b strings.Builder
	b.WriteString(e.Msg)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.File != "" {
		b.WriteString("; Configuration file: ")
		b.WriteString(e.File)
	}
	if e.MonitorClass != "" {
		b.WriteString("; Monitor class: ")
		b.WriteString(e.MonitorClass)
	}
	if e.ReadingName != "" {
		b.WriteString("; Reading name: ")
		b.WriteString(e.ReadingName)
	}
	return b.String()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// DuplicateMonitorError names the two configuration sources that declare the same monitor class.
type DuplicateMonitorError struct {
	MonitorClass string
	First        string
	Second       string
}

func (e *DuplicateMonitorError) Error() string {
	return "Duplicated monitor class name. Monitor '" + e.MonitorClass +
		"' is presented in both '" + e.First + "' and '" + e.Second + "'"
}

func (e *DuplicateMonitorError) Unwrap() error {
	return ErrDuplicateMonitorDefinition
}
