// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package parquet

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"

	"github.com/Axway/ats-framework-sub003/internal/metrics"
	"github.com/Axway/ats-framework-sub003/pkg/monitoring"
)

const consumerName = "parquet"

var ErrClosed = errors.New("parquet: consumer closed")

// Consumer archives readings to Parquet files in long format: one row per
// reading value, named by the definitions of the same session. Every
// session gets its own file, completed when the session changes or on Close.
type Consumer struct {
	config Config
	logger logr.Logger
	now    func() time.Time

	mu          sync.Mutex
	closed      bool
	session     string
	descriptors map[int]monitoring.InstanceDescriptor
	writer      *sessionWriter
	files       []string

	healthy     atomic.Bool
	lastError   atomic.Pointer[error]
	eventsCount atomic.Uint64
	errorsCount atomic.Uint64
}

func NewConsumer(config Config, logger logr.Logger) (*Consumer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Consumer{
		config:      config,
		logger:      logger.WithName("parquet-consumer"),
		now:         time.Now,
		descriptors: make(map[int]monitoring.InstanceDescriptor),
	}, nil
}

func (c *Consumer) Name() string {
	return consumerName
}

// Start creates the output directory.
func (c *Consumer) Start(ctx context.Context) error {
	if err := os.MkdirAll(c.config.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	c.healthy.Store(true)
	c.logger.Info("Archiving readings", "dir", c.config.Dir, "compression", c.config.Compression)
	return nil
}

func (c *Consumer) HandleEvent(event metrics.MetricEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	var err error
	if defs, ok := event.Definitions(); ok {
		err = c.switchSession(event.SessionID)
		for _, d := range defs {
			c.descriptors[d.ID] = d
		}
	} else if values, ok := event.Readings(); ok {
		err = c.writeReadings(event, values)
	} else {
		return nil
	}

	if err != nil {
		c.logger.Error(err, "Failed to archive monitoring event", "metric_type", event.MetricType)
		c.errorsCount.Add(1)
		c.lastError.Store(&err)
		return err
	}
	c.eventsCount.Add(1)
	return nil
}

// switchSession completes the file of the previous session.
func (c *Consumer) switchSession(session string) error {
	if session == c.session {
		return nil
	}
	c.session = session
	c.descriptors = make(map[int]monitoring.InstanceDescriptor)
	return c.closeWriter()
}

func (c *Consumer) closeWriter() error {
	if c.writer == nil {
		return nil
	}
	w := c.writer
	c.writer = nil
	if err := w.close(); err != nil {
		return err
	}
	c.logger.Info("Readings file completed", "path", w.path, "rows", w.rows)
	return nil
}

func (c *Consumer) writeReadings(event metrics.MetricEvent, values []monitoring.ReadingValue) error {
	if err := c.switchSession(event.SessionID); err != nil {
		return err
	}
	if len(values) == 0 {
		return nil
	}
	if c.writer == nil {
		path := filepath.Join(c.config.Dir, c.fileName(event.SessionID))
		w, err := openSessionWriter(path, c.config.BatchSize, c.config.Compression)
		if err != nil {
			return err
		}
		c.writer = w
		c.files = append(c.files, path)
	}

	ts := event.Timestamp
	if ts.IsZero() {
		ts = c.now()
	}
	rows := make([]ReadingRow, 0, len(values))
	var failed int
	for _, v := range values {
		value, err := strconv.ParseFloat(v.Value, 64)
		if err != nil {
			failed++
			continue
		}
		d := c.descriptors[v.ID]
		name := d.Name
		if d.IsParentAggregate {
			name = "[process] " + d.ParentName + " - " + d.Name
		}
		rows = append(rows, ReadingRow{
			Session:     event.SessionID,
			Host:        event.Host,
			TimestampMs: ts.UnixMilli(),
			ID:          int32(v.ID),
			Name:        name,
			Unit:        d.Unit,
			Monitor:     d.MonitorName,
			Parent:      d.ParentName,
			Value:       value,
		})
	}
	if err := c.writer.write(rows); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("parquet: %d readings have non numeric values", failed)
	}
	return nil
}

func (c *Consumer) fileName(session string) string {
	if session == "" {
		session = c.now().UTC().Format("20060102T150405")
	}
	return c.config.FilePrefix + "-" + session + ".parquet"
}

// Files returns the paths written so far. The last one is complete only
// after Close.
func (c *Consumer) Files() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.files...)
}

func (c *Consumer) Health() metrics.ConsumerHealth {
	var lastErr error
	if errPtr := c.lastError.Load(); errPtr != nil {
		lastErr = *errPtr
	}
	return metrics.ConsumerHealth{
		Healthy:     c.healthy.Load(),
		LastError:   lastErr,
		EventsCount: c.eventsCount.Load(),
		ErrorsCount: c.errorsCount.Load(),
	}
}

// Close completes the current file. Later events are rejected.
func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.healthy.Store(false)
	return c.closeWriter()
}

var _ metrics.Consumer = (*Consumer)(nil)
