// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package parquet

import (
	"errors"
	"fmt"
	"strings"
)

const (
	DefaultFilePrefix = "ats-readings"
	DefaultBatchSize  = 1000
)

// CompressionType names the page compression codec.
type CompressionType string

const (
	CompressionSnappy CompressionType = "snappy"
	CompressionZstd   CompressionType = "zstd"
	CompressionGzip   CompressionType = "gzip"
	CompressionNone   CompressionType = "none"
)

func (c CompressionType) IsValid() bool {
	switch c {
	case CompressionSnappy, CompressionZstd, CompressionGzip, CompressionNone:
		return true
	}
	return false
}

var (
	ErrMissingDir         = errors.New("parquet: output directory not set")
	ErrInvalidPrefix      = errors.New("parquet: file prefix cannot contain path separators")
	ErrInvalidCompression = fmt.Errorf("parquet: compression must be one of %s, %s, %s or %s",
		CompressionSnappy, CompressionZstd, CompressionGzip, CompressionNone)
)

type Config struct {
	// Dir receives one file per monitoring session.
	Dir        string
	FilePrefix string
	// BatchSize is the number of rows buffered before they are written.
	BatchSize   int
	Compression CompressionType
}

func DefaultConfig(dir string) Config {
	return Config{
		Dir:         dir,
		FilePrefix:  DefaultFilePrefix,
		BatchSize:   DefaultBatchSize,
		Compression: CompressionSnappy,
	}
}

func (c *Config) Validate() error {
	if c.Dir == "" {
		return ErrMissingDir
	}
	if c.FilePrefix == "" {
		c.FilePrefix = DefaultFilePrefix
	}
	if strings.ContainsAny(c.FilePrefix, `/\`) {
		return ErrInvalidPrefix
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Compression == "" {
		c.Compression = CompressionSnappy
	}
	if !c.Compression.IsValid() {
		return ErrInvalidCompression
	}
	return nil
}
