// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package dbcollector

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// Supported database/sql driver names.
const (
	DriverPostgres = "pgx"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
	DriverOracle   = "oracle"
)

const (
	defaultTimeout         = 5 * time.Second
	defaultConnectAttempts = 3
)

var (
	ErrMissingDSN        = errors.New("dbcollector: dsn not set")
	ErrUnsupportedDriver = errors.New("dbcollector: unsupported driver")
)

type Config struct {
	// Driver is one of pgx, mysql, sqlite or oracle.
	Driver string
	DSN    string

	// Host is stored with every statistics row. Defaults to the hostname.
	Host string

	// Timeout bounds each ping and every write.
	Timeout time.Duration
	// ConnectAttempts is how many pings Start tries, with exponential
	// backoff in between, before giving up.
	ConnectAttempts uint
}

func (c *Config) ApplyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.ConnectAttempts == 0 {
		c.ConnectAttempts = defaultConnectAttempts
	}
	if c.Host == "" {
		if hostname, err := os.Hostname(); err == nil {
			c.Host = hostname
		}
	}
}

func (c *Config) Validate() error {
	if c.DSN == "" {
		return ErrMissingDSN
	}
	if _, ok := dialects[c.Driver]; !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedDriver, c.Driver)
	}
	return nil
}
