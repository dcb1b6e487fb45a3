// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package prometheus

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

const (
	DefaultAddr      = ":9464"
	DefaultPath      = "/metrics"
	DefaultNamespace = "ats"
)

var (
	ErrInvalidPath      = errors.New("prometheus: metrics path must start with '/'")
	ErrReservedPath     = errors.New("prometheus: metrics path cannot be /health")
	ErrInvalidNamespace = errors.New("prometheus: namespace must match [a-zA-Z_][a-zA-Z0-9_]*")
)

var namespacePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

type Config struct {
	// Addr is the listen address of the scrape endpoint. Empty disables the
	// HTTP server; Handler can still be mounted elsewhere.
	Addr string
	Path string

	Namespace string
	// ConstLabels are added to every series.
	ConstLabels map[string]string

	ShutdownTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Addr:            DefaultAddr,
		Path:            DefaultPath,
		Namespace:       DefaultNamespace,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Validate fills unset values and checks the rest.
func (c *Config) Validate() error {
	if c.Path == "" {
		c.Path = DefaultPath
	}
	if !strings.HasPrefix(c.Path, "/") {
		return ErrInvalidPath
	}
	if c.Path == healthPath {
		return ErrReservedPath
	}
	if c.Namespace == "" {
		c.Namespace = DefaultNamespace
	}
	if !namespacePattern.MatchString(c.Namespace) {
		return ErrInvalidNamespace
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
	return nil
}
