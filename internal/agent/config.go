// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package agent

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Axway/ats-framework-sub003/pkg/sysinfo"
)

const (
	DefaultInterval = time.Second
	MinInterval     = time.Second
)

var (
	ErrNothingToMonitor = errors.New("no system or process readings requested")
	ErrInvalidProcess   = errors.New("invalid process specification")
)

// ProcessSpec requests readings for the processes whose start command matches Pattern.
type ProcessSpec struct {
	// ParentName groups the readings of several patterns under one parent
	// aggregate. Optional.
	ParentName string
	Pattern    string
	Alias      string
	// Username restricts matching to processes of this user. Optional.
	Username string
	// Tokens are process reading groups (CPU, MEMORY) or process reading names.
	Tokens []string
}

// Config holds the agent settings.
type Config struct {
	// Interval between two poll cycles.
	Interval time.Duration
	// DefinitionsDir holds the reading definition files.
	DefinitionsDir string
	// SystemTokens are system reading groups (CPU, MEMORY, IO, ...) or reading names.
	SystemTokens []string
	Processes    []ProcessSpec
	// HostProcPath is where the proc filesystem is mounted.
	HostProcPath string
	// ProcessOverflowBarrier overrides the wraparound point of per-process
	// counters. Zero keeps the default.
	ProcessOverflowBarrier int64
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Interval == 0 {
		c.Interval = DefaultInterval
	}
	if c.HostProcPath == "" {
		c.HostProcPath = sysinfo.DefaultConfig().HostProcPath
	}
}

// Validate checks the configuration after ApplyDefaults.
func (c *Config) Validate() error {
	if c.Interval < MinInterval {
		return fmt.Errorf("interval must be at least %s, got %s", MinInterval, c.Interval)
	}
	if len(c.SystemTokens) == 0 && len(c.Processes) == 0 {
		return ErrNothingToMonitor
	}
	for i, p := range c.Processes {
		switch {
		case p.Pattern == "":
			return fmt.Errorf("%w: process %d has no pattern", ErrInvalidProcess, i)
		case p.Alias == "":
			return fmt.Errorf("%w: process %d has no alias", ErrInvalidProcess, i)
		case len(p.Tokens) == 0:
			return fmt.Errorf("%w: process %q requests no readings", ErrInvalidProcess, p.Alias)
		}
	}
	sc := sysinfo.Config{HostProcPath: c.HostProcPath}
	return sc.Validate()
}

// ParseProcessSpec parses a comma separated list of key=value pairs:
//
//	pattern=java .*server.*,alias=server,parent=app,user=ats,readings=CPU;MEMORY
//
// pattern, alias and readings are required. Readings are separated by ';'.
func ParseProcessSpec(s string) (ProcessSpec, error) {
	var spec ProcessSpec
	for _, pair := range strings.Split(s, ",") {
		if strings.TrimSpace(pair) == "" {
			continue
		}
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return ProcessSpec{}, fmt.Errorf("%w: %q is not a key=value pair", ErrInvalidProcess, pair)
		}
		value = strings.TrimSpace(value)
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "pattern":
			spec.Pattern = value
		case "alias":
			spec.Alias = value
		case "parent":
			spec.ParentName = value
		case "user":
			spec.Username = value
		case "readings":
			for _, token := range strings.Split(value, ";") {
				if token = strings.TrimSpace(token); token != "" {
					spec.Tokens = append(spec.Tokens, token)
				}
			}
		default:
			return ProcessSpec{}, fmt.Errorf("%w: unknown key %q", ErrInvalidProcess, key)
		}
	}
	if spec.Pattern == "" || spec.Alias == "" || len(spec.Tokens) == 0 {
		return ProcessSpec{}, fmt.Errorf("%w: %q needs pattern, alias and readings", ErrInvalidProcess, s)
	}
	return spec, nil
}
