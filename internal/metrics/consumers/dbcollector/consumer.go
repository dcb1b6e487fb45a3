// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package dbcollector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-logr/logr"

	"github.com/Axway/ats-framework-sub003/internal/metrics"
	"github.com/Axway/ats-framework-sub003/pkg/monitoring"
)

const consumerName = "dbcollector"

var ErrNotStarted = errors.New("dbcollector: consumer not started")

// Consumer persists monitoring events into a SQL database: one row per
// reading instance when its definition is published, and one row per poll
// cycle holding every id and value of the cycle.
type Consumer struct {
	config  Config
	dialect dialect
	logger  logr.Logger

	mu sync.Mutex
	db *sql.DB

	healthy     atomic.Bool
	lastError   atomic.Pointer[error]
	eventsCount atomic.Uint64
	errorsCount atomic.Uint64
}

// NewConsumer validates config. The database is opened by Start.
func NewConsumer(config Config, logger logr.Logger) (*Consumer, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Consumer{
		config:  config,
		dialect: dialects[config.Driver],
		logger:  logger.WithName("dbcollector"),
	}, nil
}

// newConsumerWithDB uses an already opened database, for tests.
func newConsumerWithDB(db *sql.DB, config Config, logger logr.Logger) (*Consumer, error) {
	c, err := NewConsumer(config, logger)
	if err != nil {
		return nil, err
	}
	c.db = db
	return c, nil
}

func (c *Consumer) Name() string {
	return consumerName
}

// Start opens and pings the database and creates the tables that are missing.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db == nil {
		db, err := sql.Open(c.config.Driver, c.config.DSN)
		if err != nil {
			return fmt.Errorf("open %s: %w (dsn=%s)", c.config.Driver, err, c.dialect.describe(c.config.DSN))
		}
		if c.config.Driver == DriverSQLite {
			// single writer
			db.SetMaxOpenConns(1)
		}
		db.SetConnMaxLifetime(10 * time.Minute)
		c.db = db
	}

	if err := c.ping(ctx); err != nil {
		_ = c.db.Close()
		c.db = nil
		return fmt.Errorf("ping %s: %w (dsn=%s)", c.config.Driver, err, c.dialect.describe(c.config.DSN))
	}

	createCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()
	for _, stmt := range []string{
		c.dialect.createTable(definitionsTable, definitionColumns),
		c.dialect.createTable(statisticsTable, statisticColumns),
	} {
		if _, err := c.db.ExecContext(createCtx, stmt); err != nil {
			if c.dialect.alreadyExists != nil && c.dialect.alreadyExists(err) {
				continue
			}
			_ = c.db.Close()
			c.db = nil
			return fmt.Errorf("failed to create tables: %w", err)
		}
	}

	c.healthy.Store(true)
	c.logger.Info("Statistics database ready",
		"driver", c.config.Driver, "dsn", c.dialect.describe(c.config.DSN))
	return nil
}

// ping tries up to ConnectAttempts times with exponential backoff.
func (c *Consumer) ping(ctx context.Context) error {
	_, err := backoff.Retry(ctx, func() (bool, error) {
		pingCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
		if err := c.db.PingContext(pingCtx); err != nil {
			c.logger.Error(err, "Statistics database not reachable, retrying...")
			return false, err
		}
		return true, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(c.config.ConnectAttempts))
	return err
}

// HandleEvent writes the event synchronously. Write failures are counted and
// returned; they never stop the consumer.
func (c *Consumer) HandleEvent(event metrics.MetricEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db == nil {
		return ErrNotStarted
	}

	var err error
	if defs, ok := event.Definitions(); ok {
		err = c.insertDefinitions(event.SessionID, defs)
	} else if values, ok := event.Readings(); ok {
		err = c.insertStatistics(event, values)
	} else {
		return nil
	}

	if err != nil {
		c.logger.Error(err, "Failed to store monitoring event", "metric_type", event.MetricType)
		c.errorsCount.Add(1)
		c.lastError.Store(&err)
		return err
	}
	c.eventsCount.Add(1)
	return nil
}

func (c *Consumer) insertDefinitions(sessionID string, defs []monitoring.InstanceDescriptor) error {
	if len(defs) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout)
	defer cancel()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	query := c.dialect.insert(definitionsTable, definitionColumns)
	for _, def := range defs {
		row := definitionRow(def)
		if _, err := tx.ExecContext(ctx, query,
			sessionID, def.ID, row.parentName, row.internalName, row.name, def.Unit, row.params); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to insert definition %d: %w", def.ID, err)
		}
		c.logger.V(1).Info("Stored statistic definition", "id", def.ID, "name", row.name)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit definitions: %w", err)
	}
	return nil
}

func (c *Consumer) insertStatistics(event metrics.MetricEvent, values []monitoring.ReadingValue) error {
	if len(values) == 0 {
		return nil
	}

	ids, vals := joinValues(values)
	ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout)
	defer cancel()

	host := event.Host
	if host == "" {
		host = c.config.Host
	}
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	if _, err := c.db.ExecContext(ctx, c.dialect.insert(statisticsTable, statisticColumns),
		event.SessionID, host, ids, vals, ts.UTC()); err != nil {
		return fmt.Errorf("failed to insert statistics: %w", err)
	}
	return nil
}

type definitionFields struct {
	parentName   sql.NullString
	internalName string
	name         string
	params       string
}

// definitionRow maps an instance to its stored form. A parent aggregate is
// stored under "[process] <parent> - <reading>"; process readings point to
// their parent through "[process] <parent>".
func definitionRow(def monitoring.InstanceDescriptor) definitionFields {
	row := definitionFields{
		name:   def.Name,
		params: definitionParams(def.Parameters),
	}
	if def.IsParentAggregate {
		row.internalName = "[process] " + def.ParentName
		row.name = row.internalName + " - " + def.Name
		row.parentName = sql.NullString{String: def.ParentName, Valid: true}
		return row
	}
	if def.ParentName != "" {
		row.parentName = sql.NullString{String: "[process] " + def.ParentName, Valid: true}
	}
	return row
}

// definitionParams describes a process reading by its alias, pattern, id and
// start command. Other readings carry their custom message, if any.
func definitionParams(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	alias, ok := params[monitoring.ParamProcessAlias]
	if !ok {
		return params[monitoring.ParamCustomMessage]
	}
	return "'" + alias + "'_user pattern is '" + params[monitoring.ParamProcessRecognitionPattern] +
		"'_reading=" + params[monitoring.ParamProcessReadingID] +
		"_started by command '" + params[monitoring.ParamProcessStartCommand] + "'"
}

// joinValues renders ids and values as "_" separated lists, in poll order.
func joinValues(values []monitoring.ReadingValue) (string, string) {
	ids := make([]string, len(values))
	vals := make([]string, len(values))
	for i, v := range values {
		ids[i] = strconv.Itoa(v.ID)
		vals[i] = v.Value
	}
	return strings.Join(ids, "_"), strings.Join(vals, "_")
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

// Close releases the database.
func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	c.healthy.Store(false)
	return err
}

var _ metrics.Consumer = (*Consumer)(nil)
