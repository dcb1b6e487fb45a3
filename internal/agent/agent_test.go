// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

//go:build !integration

package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Axway/ats-framework-sub003/internal/metrics"
	"github.com/Axway/ats-framework-sub003/pkg/monitoring"
	"github.com/Axway/ats-framework-sub003/pkg/sysinfo"
)

const definitionsXML = `<monitors>
  <monitor class="system">
    <reading name="Memory - Used" unit="MB"/>
    <reading name="Memory - Free" unit="MB"/>
  </monitor>
</monitors>`

// memorySource serves memory readings only; other queries are never made.
type memorySource struct {
	sysinfo.SystemInformation

	mu     sync.Mutex
	used   int64
	closed int
}

func (s *memorySource) Refresh() error        { return nil }
func (s *memorySource) NumCPUs() (int, error) { return 1, nil }

func (s *memorySource) Memory() (sysinfo.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sysinfo.Memory{Used: s.used, Free: 256 << 20}, nil
}

func (s *memorySource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *memorySource) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type recordingConsumer struct {
	mu     sync.Mutex
	events []metrics.MetricEvent
}

func (c *recordingConsumer) Name() string                    { return "recorder" }
func (c *recordingConsumer) Start(ctx context.Context) error { return nil }
func (c *recordingConsumer) Health() metrics.ConsumerHealth {
	return metrics.ConsumerHealth{Healthy: true}
}

func (c *recordingConsumer) HandleEvent(event metrics.MetricEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *recordingConsumer) snapshot() []metrics.MetricEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]metrics.MetricEvent(nil), c.events...)
}

func (c *recordingConsumer) count(metricType metrics.MetricType) int {
	n := 0
	for _, e := range c.snapshot() {
		if e.MetricType == metricType {
			n++
		}
	}
	return n
}

func loadedRepository(t *testing.T) *monitoring.Repository {
	t.Helper()
	repo := monitoring.NewRepository(testr.New(t))
	require.NoError(t, repo.Reload(monitoring.ConfigSource{
		Origin: "system.xml",
		Format: monitoring.FormatXML,
		Data:   []byte(definitionsXML),
	}))
	return repo
}

func TestNew(t *testing.T) {
	repo := loadedRepository(t)
	config := Config{SystemTokens: []string{"Memory - Used"}, HostProcPath: "/proc"}

	t.Run("logger required", func(t *testing.T) {
		_, err := New(config, repo)
		assert.EqualError(t, err, "logger must be provided")
	})

	t.Run("repository required", func(t *testing.T) {
		_, err := New(config, nil, WithLogger(testr.New(t)))
		assert.Error(t, err)
	})

	t.Run("invalid config", func(t *testing.T) {
		_, err := New(Config{HostProcPath: "/proc"}, repo, WithLogger(testr.New(t)))
		assert.ErrorIs(t, err, ErrNothingToMonitor)
	})

	t.Run("duplicate consumer", func(t *testing.T) {
		c := &recordingConsumer{}
		_, err := New(config, repo, WithLogger(testr.New(t)), WithConsumer(c), WithConsumer(c))
		assert.Error(t, err)
	})

	t.Run("defaults", func(t *testing.T) {
		a, err := New(config, repo, WithLogger(testr.New(t)), WithHost("node-a"))
		require.NoError(t, err)
		assert.Equal(t, DefaultInterval, a.interval)
		assert.Equal(t, "node-a", a.host)
		assert.False(t, a.Status().Running)
	})
}

func newTestAgent(t *testing.T, source *memorySource, consumer *recordingConsumer, sources *int) *Agent {
	t.Helper()
	a, err := New(
		Config{SystemTokens: []string{"Memory - Used", "Memory - Free"}, HostProcPath: "/proc"},
		loadedRepository(t),
		WithLogger(testr.New(t)),
		WithInterval(10*time.Millisecond),
		WithConsumer(consumer),
		WithHost("node-a"),
		WithSourceFactory(func() (sysinfo.SystemInformation, error) {
			*sources++
			return source, nil
		}),
	)
	require.NoError(t, err)
	return a
}

func TestAgent_PublishesDefinitionsBeforeReadings(t *testing.T) {
	source := &memorySource{used: 512 << 20}
	consumer := &recordingConsumer{}
	var sources int
	a := newTestAgent(t, source, consumer, &sources)

	errCh := make(chan error, 1)
	go func() { errCh <- a.Start(context.Background()) }()

	require.Eventually(t, func() bool {
		return consumer.count(metrics.MetricTypeReadings) >= 3
	}, 5*time.Second, 5*time.Millisecond)

	status := a.Status()
	assert.True(t, status.Running)
	assert.NotEmpty(t, status.SessionID)
	assert.GreaterOrEqual(t, status.Polls, uint64(3))
	assert.Equal(t, 2, status.Instances)
	assert.NoError(t, status.LastError)

	a.Stop()
	require.NoError(t, <-errCh)
	assert.False(t, a.Status().Running)
	assert.Equal(t, 1, source.closeCount())

	events := consumer.snapshot()
	require.GreaterOrEqual(t, len(events), 4)

	defs, ok := events[0].Definitions()
	require.True(t, ok)
	require.Len(t, defs, 2)
	assert.Equal(t, "Memory - Used", defs[0].Name)
	assert.Equal(t, "Memory - Free", defs[1].Name)
	assert.Equal(t, "ats-monitor", events[0].Source)
	assert.Equal(t, "node-a", events[0].Host)
	assert.Equal(t, status.SessionID, events[0].SessionID)

	values, ok := events[1].Readings()
	require.True(t, ok)
	assert.Equal(t, []monitoring.ReadingValue{
		{ID: defs[0].ID, Value: "512"},
		{ID: defs[1].ID, Value: "256"},
	}, values)

	// definitions are published once per session
	assert.Equal(t, 1, consumer.count(metrics.MetricTypeDefinitions))
	assert.Equal(t, 1, sources)

	assert.ErrorIs(t, a.Start(context.Background()), ErrStopped)
}

func TestAgent_Restart(t *testing.T) {
	source := &memorySource{used: 1 << 20}
	consumer := &recordingConsumer{}
	var sources int
	a := newTestAgent(t, source, consumer, &sources)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Start(ctx) }()

	require.Eventually(t, func() bool {
		return consumer.count(metrics.MetricTypeReadings) >= 1
	}, 5*time.Second, 5*time.Millisecond)
	first := a.Status().SessionID

	a.Restart()
	require.Eventually(t, func() bool {
		return consumer.count(metrics.MetricTypeDefinitions) == 2
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-errCh)

	second := a.Status().SessionID
	assert.NotEqual(t, first, second)
	assert.Equal(t, 2, sources)
	assert.Equal(t, 2, source.closeCount())

	var sessions []string
	for _, e := range consumer.snapshot() {
		if defs, ok := e.Definitions(); ok {
			sessions = append(sessions, e.SessionID)
			assert.Len(t, defs, 2)
		}
	}
	assert.Equal(t, []string{first, second}, sessions)
}

func TestAgent_SourceFailure(t *testing.T) {
	a, err := New(
		Config{SystemTokens: []string{"Memory - Used"}, HostProcPath: "/proc"},
		loadedRepository(t),
		WithLogger(testr.New(t)),
		WithSourceFactory(func() (sysinfo.SystemInformation, error) {
			return nil, errors.New("proc not mounted")
		}),
	)
	require.NoError(t, err)

	err = a.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "proc not mounted")
	assert.Error(t, a.Status().LastError)
	assert.False(t, a.Status().Running)
}

func TestAgent_UnknownReading(t *testing.T) {
	a, err := New(
		Config{SystemTokens: []string{"Memory - Shared"}, HostProcPath: "/proc"},
		loadedRepository(t),
		WithLogger(testr.New(t)),
	)
	require.NoError(t, err)
	assert.ErrorIs(t, a.Start(context.Background()), monitoring.ErrUnsupportedMetric)
}
