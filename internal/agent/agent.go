// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/Axway/ats-framework-sub003/internal/metrics"
	"github.com/Axway/ats-framework-sub003/pkg/monitoring"
	"github.com/Axway/ats-framework-sub003/pkg/sysinfo"
)

const eventSource = "ats-monitor"

var (
	ErrAlreadyRunning = errors.New("agent is already running")
	ErrStopped        = errors.New("agent has been stopped")
)

// SourceFactory opens the data source of a new monitoring session.
type SourceFactory func() (sysinfo.SystemInformation, error)

// Option configures an Agent.
type Option func(a *Agent)

func WithLogger(logger logr.Logger) Option {
	return func(a *Agent) {
		a.logger = logger
	}
}

// WithInterval overrides the configured poll interval. Unlike Config it
// accepts intervals below MinInterval.
func WithInterval(interval time.Duration) Option {
	return func(a *Agent) {
		if interval > 0 {
			a.interval = interval
		}
	}
}

// WithConsumer registers a started consumer with the agent's router.
func WithConsumer(consumer metrics.Consumer) Option {
	return func(a *Agent) {
		a.consumers = append(a.consumers, consumer)
	}
}

func WithSourceFactory(factory SourceFactory) Option {
	return func(a *Agent) {
		a.newSource = factory
	}
}

// WithClock replaces time.Now in the engine and in event timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Agent) {
		a.now = now
	}
}

func WithHost(host string) Option {
	return func(a *Agent) {
		a.host = host
	}
}

// Status is a snapshot of the agent state.
type Status struct {
	Running   bool
	SessionID string
	Polls     uint64
	// Instances is the number of reading instances polled by the session.
	Instances int
	LastPoll  time.Time
	LastError error
}

// Agent drives one monitoring session at a time: it polls the engine on a
// fixed interval and publishes every cycle to its consumers.
//
// Definitions events always precede the readings events that use their ids.
// When the repository is reloaded the current session is ended and a new one,
// with a new session id, is started on the next tick.
type Agent struct {
	logger    logr.Logger
	config    Config
	repo      *monitoring.Repository
	router    *metrics.MetricsRouter
	consumers []metrics.Consumer
	newSource SourceFactory
	interval  time.Duration
	now       func() time.Time
	host      string

	restart chan struct{}

	mu        sync.Mutex
	running   bool
	started   bool
	stop      context.CancelFunc
	done      chan struct{}
	engine    *monitoring.Engine
	sessionID string
	polls     uint64
	lastPoll  time.Time
	lastErr   error
}

// New creates an agent monitoring what config requests, with definitions taken from repo.
func New(config Config, repo *monitoring.Repository, opts ...Option) (*Agent, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid agent config: %w", err)
	}
	if repo == nil {
		return nil, fmt.Errorf("repository is required")
	}

	a := &Agent{
		config:   config,
		repo:     repo,
		interval: config.Interval,
		now:      time.Now,
		restart:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger.GetSink() == nil {
		return nil, fmt.Errorf("logger must be provided")
	}
	a.logger = a.logger.WithName("agent")

	if a.host == "" {
		if hostname, err := os.Hostname(); err == nil {
			a.host = hostname
		}
	}
	if a.newSource == nil {
		procConfig := sysinfo.Config{HostProcPath: config.HostProcPath}
		a.newSource = func() (sysinfo.SystemInformation, error) {
			return sysinfo.NewHost(a.logger, procConfig)
		}
	}

	a.router = metrics.NewMetricsRouter(a.logger)
	for _, c := range a.consumers {
		if err := a.router.RegisterConsumer(c); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Router returns the router events are published to.
func (a *Agent) Router() *metrics.MetricsRouter {
	return a.router
}

// Start opens the first session and polls until ctx is cancelled or Stop is
// called. It fails if the first session cannot be started. An agent runs
// once; Start after Stop returns ErrStopped.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return ErrAlreadyRunning
	}
	if a.started {
		a.mu.Unlock()
		return ErrStopped
	}
	runCtx, cancel := context.WithCancel(ctx)
	a.running = true
	a.started = true
	a.stop = cancel
	a.done = make(chan struct{})
	done := a.done
	a.mu.Unlock()

	defer func() {
		cancel()
		a.endSession()
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
		close(done)
	}()

	routerDone := make(chan struct{})
	go func() {
		defer close(routerDone)
		_ = a.router.Start(runCtx)
	}()
	defer func() {
		cancel()
		<-routerDone
	}()

	a.logger.Info("Starting monitoring agent", "interval", a.interval, "host", a.host)
	if err := a.startSession(); err != nil {
		return err
	}
	a.cycle(true)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-runCtx.Done():
			a.logger.Info("Stopping monitoring agent")
			return nil
		case <-a.restart:
			a.logger.Info("Definitions changed, restarting the monitoring session")
			a.endSession()
		case <-ticker.C:
			if a.currentEngine() == nil {
				if err := a.startSession(); err != nil {
					continue
				}
				a.cycle(true)
				continue
			}
			a.cycle(false)
		}
	}
}

// Stop ends the running session and waits for Start to return.
func (a *Agent) Stop() {
	a.mu.Lock()
	stop, done := a.stop, a.done
	a.mu.Unlock()
	if stop == nil {
		return
	}
	stop()
	<-done
}

// Restart ends the current session. A new one starts on the next tick.
func (a *Agent) Restart() {
	select {
	case a.restart <- struct{}{}:
	default:
	}
}

func (a *Agent) Status() Status {
	a.mu.Lock()
	status := Status{
		Running:   a.running,
		SessionID: a.sessionID,
		Polls:     a.polls,
		LastPoll:  a.lastPoll,
		LastError: a.lastErr,
	}
	engine := a.engine
	a.mu.Unlock()

	if engine != nil {
		status.Instances = len(engine.Instances())
	}
	return status
}

func (a *Agent) currentEngine() *monitoring.Engine {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.engine
}

func (a *Agent) setError(err error) {
	a.mu.Lock()
	a.lastErr = err
	a.mu.Unlock()
}

// definitions expands the configured tokens against the repository.
func (a *Agent) definitions() ([]monitoring.ReadingDefinition, error) {
	catalog := monitoring.NewCatalog(a.repo)

	var defs []monitoring.ReadingDefinition
	if len(a.config.SystemTokens) > 0 {
		system, err := catalog.ExpandSystemMetrics(a.config.SystemTokens)
		if err != nil {
			return nil, err
		}
		defs = append(defs, system...)
	}
	for _, p := range a.config.Processes {
		process, err := catalog.ExpandProcessMetrics(p.ParentName, p.Pattern, p.Alias, p.Username, p.Tokens)
		if err != nil {
			return nil, fmt.Errorf("process %q: %w", p.Alias, err)
		}
		defs = append(defs, process...)
	}
	return defs, nil
}

func (a *Agent) startSession() error {
	err := a.openSession()
	if err != nil {
		a.logger.Error(err, "Failed to start monitoring session")
		a.setError(err)
	}
	return err
}

func (a *Agent) openSession() error {
	defs, err := a.definitions()
	if err != nil {
		return err
	}

	source, err := a.newSource()
	if err != nil {
		return fmt.Errorf("failed to open system information: %w", err)
	}
	opts := []monitoring.Option{
		monitoring.WithLogger(a.logger),
		monitoring.WithRepository(a.repo),
		monitoring.WithClock(a.now),
	}
	if a.config.ProcessOverflowBarrier > 0 {
		opts = append(opts, monitoring.WithProcessOverflowBarrier(a.config.ProcessOverflowBarrier))
	}
	engine := monitoring.NewEngine(source, opts...)
	if err := engine.Init(defs); err != nil {
		if cerr := source.Close(); cerr != nil {
			a.logger.Error(cerr, "Failed to close system information")
		}
		return err
	}

	sessionID := uuid.NewString()
	a.mu.Lock()
	a.engine = engine
	a.sessionID = sessionID
	a.mu.Unlock()

	a.logger.Info("Monitoring session started", "session", sessionID, "readings", len(defs))
	return nil
}

func (a *Agent) endSession() {
	a.mu.Lock()
	engine, sessionID := a.engine, a.sessionID
	a.engine = nil
	a.mu.Unlock()

	if engine == nil {
		return
	}
	if err := engine.Deinit(); err != nil {
		a.logger.Error(err, "Failed to end monitoring session", "session", sessionID)
		return
	}
	a.logger.Info("Monitoring session ended", "session", sessionID)
}

// cycle runs one poll and publishes the definitions of new instances before
// the values.
func (a *Agent) cycle(first bool) {
	a.mu.Lock()
	engine, sessionID := a.engine, a.sessionID
	a.mu.Unlock()

	poll := engine.PollNext
	if first {
		poll = engine.PollFirst
	}
	values, err := poll()
	if err != nil {
		a.logger.Error(err, "Poll cycle failed", "session", sessionID)
		a.setError(err)
		return
	}
	now := a.now()

	var events []metrics.MetricEvent
	if defs := engine.TakeNewInstances(); len(defs) > 0 {
		events = append(events, metrics.MetricEvent{
			Timestamp:  now,
			SessionID:  sessionID,
			MetricType: metrics.MetricTypeDefinitions,
			EventType:  metrics.EventTypeSnapshot,
			Data:       defs,
		})
	}
	events = append(events, metrics.MetricEvent{
		Timestamp:  now,
		SessionID:  sessionID,
		MetricType: metrics.MetricTypeReadings,
		EventType:  metrics.EventTypeGauge,
		Data:       values,
	})
	a.publish(events...)

	a.mu.Lock()
	a.polls++
	a.lastPoll = now
	a.mu.Unlock()
}

func (a *Agent) publish(events ...metrics.MetricEvent) {
	for i := range events {
		events[i].Source = eventSource
		events[i].Host = a.host
	}
	if err := a.router.PublishBatch(events); err != nil {
		a.logger.V(1).Info("Events not delivered to every consumer",
			"events", len(events), "error", err)
	}
}
