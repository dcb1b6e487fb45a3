// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package sysinfo

import (
	"fmt"
	"os"
	"path/filepath"
)

// HostProcEnv overrides the default /proc mount point when set.
const HostProcEnv = "HOST_PROC"

// Config controls where the data source reads kernel interfaces from.
type Config struct {
	// HostProcPath is the mount point of the proc filesystem. Containers usually
	// mount the host's /proc somewhere else (e.g. /host/proc).
	HostProcPath string
}

// DefaultConfig returns the configuration for a process running directly on the host.
func DefaultConfig() Config {
	path := "/proc"
	if env := os.Getenv(HostProcEnv); env != "" {
		path = env
	}
	return Config{HostProcPath: path}
}

// ApplyDefaults fills unset fields from DefaultConfig.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()
	if c.HostProcPath == "" {
		c.HostProcPath = defaults.HostProcPath
	}
}

// Validate ensures the configured paths are usable.
func (c *Config) Validate() error {
	if c.HostProcPath == "" {
		return fmt.Errorf("HostProcPath is required but not provided")
	}
	if !filepath.IsAbs(c.HostProcPath) {
		return fmt.Errorf("HostProcPath must be an absolute path, got: %q", c.HostProcPath)
	}
	return nil
}
