// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package monitoring

import (
	"fmt"
	"sort"
	"strings"
)

// ReadingDefinition is the configured template of one observable quantity.
//
// Definitions are handed out as copies: the same definition may back several
// reading instances (one per matched process), each carrying its own
// parameters.
type ReadingDefinition struct {
	// ID is assigned when the definition is instantiated. Zero means unassigned.
	ID int

	// MonitorName is the monitor (group) that declares the reading.
	MonitorName string

	Name string
	Unit string

	// Dynamic readings are bound to operating system processes.
	Dynamic bool

	Parameters map[string]string
}

// NewReadingDefinition creates a definition without parameters.
func NewReadingDefinition(monitorName, name, unit string, dynamic bool) ReadingDefinition {
	return ReadingDefinition{
		MonitorName: monitorName,
		Name:        name,
		Unit:        unit,
		Dynamic:     dynamic,
	}
}

// Clone returns a deep copy of the definition.
func (d ReadingDefinition) Clone() ReadingDefinition {
	c := d
	if d.Parameters != nil {
		c.Parameters = make(map[string]string, len(d.Parameters))
		for k, v := range d.Parameters {
			c.Parameters[k] = v
		}
	}
	return c
}

// Parameter returns the value of a parameter, or "" when not set.
func (d ReadingDefinition) Parameter(key string) string {
	return d.Parameters[key]
}

// SetParameter sets a parameter, allocating the map on first use.
func (d *ReadingDefinition) SetParameter(key, value string) {
	if d.Parameters == nil {
		d.Parameters = make(map[string]string)
	}
	d.Parameters[key] = value
}

func (d ReadingDefinition) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Reading '%s' of monitor '%s', unit '%s'", d.Name, d.MonitorName, d.Unit)
	if d.Dynamic {
		b.WriteString(", dynamic")
	}
	if len(d.Parameters) > 0 {
		keys := make([]string, 0, len(d.Parameters))
		for k := range d.Parameters {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(", parameters:")
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%s", k, d.Parameters[k])
		}
	}
	return b.String()
}
