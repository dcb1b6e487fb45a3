// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

//go:build linux

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"

	"github.com/Axway/ats-framework-sub003/internal/agent"
	"github.com/Axway/ats-framework-sub003/internal/config"
	"github.com/Axway/ats-framework-sub003/internal/metrics"
	"github.com/Axway/ats-framework-sub003/internal/metrics/consumers/dbcollector"
	"github.com/Axway/ats-framework-sub003/internal/metrics/consumers/debug"
	"github.com/Axway/ats-framework-sub003/internal/metrics/consumers/otel"
	"github.com/Axway/ats-framework-sub003/internal/metrics/consumers/parquet"
	"github.com/Axway/ats-framework-sub003/internal/metrics/consumers/prometheus"
	"github.com/Axway/ats-framework-sub003/pkg/monitoring"
)

// processFlags collects repeated -process flags.
type processFlags []agent.ProcessSpec

func (p *processFlags) String() string {
	aliases := make([]string, len(*p))
	for i, spec := range *p {
		aliases[i] = spec.Alias
	}
	return strings.Join(aliases, ",")
}

func (p *processFlags) Set(value string) error {
	spec, err := agent.ParseProcessSpec(value)
	if err != nil {
		return err
	}
	*p = append(*p, spec)
	return nil
}

var (
	definitionsDir string
	systemTokens   string
	processes      processFlags
	interval       time.Duration
	duration       time.Duration
	hostProcPath   string
	barrier        int64
	verbose        bool
	printReadings  bool
	printFormat    string
	dbDriver       string
	dbDSN          string
	dbHost         string
	otelEnabled    bool
	otelEndpoint   string
	otelInsecure   bool
	promAddr       string
	promPath       string
	parquetDir     string
	parquetCodec   string
)

func init() {
	flag.StringVar(&definitionsDir, "definitions", "/etc/ats/monitoring",
		"Directory holding the reading definition files (*.xml, *.yaml, *.yml)")
	flag.StringVar(&systemTokens, "system", "CPU,MEMORY",
		"Comma separated system reading groups (CPU, MEMORY, VIRTUAL-MEMORY, IO, NETWORK-INTERFACES, NETSTAT, TCP) or reading names")
	flag.Var(&processes, "process",
		"Process to monitor, repeatable: pattern=<regex>,alias=<name>[,parent=<name>][,user=<name>],readings=CPU;MEMORY")
	flag.DurationVar(&interval, "interval", agent.DefaultInterval, "Poll interval (at least 1s)")
	flag.DurationVar(&duration, "duration", 0, "Stop after this long (0 runs until interrupted)")
	flag.StringVar(&hostProcPath, "host-proc", "", "Mount point of the proc filesystem (default $HOST_PROC or /proc)")
	flag.Int64Var(&barrier, "process-overflow-barrier", 0, "Wraparound point of per-process counters (0 keeps the default)")
	flag.BoolVar(&verbose, "verbose", false, "Enable verbose logging")
	flag.BoolVar(&printReadings, "print", true, "Print every poll cycle to stdout")
	flag.StringVar(&printFormat, "print-format", "text", "Format of printed cycles: text or json")
	flag.StringVar(&dbDriver, "db-driver", "", "Statistics database driver: pgx, mysql, sqlite or oracle (empty disables)")
	flag.StringVar(&dbDSN, "db-dsn", "", "Statistics database DSN")
	flag.StringVar(&dbHost, "db-host", "", "Machine name stored with statistics (default hostname)")
	flag.BoolVar(&otelEnabled, "enable-otel", false, "Export readings as OTLP gauges")
	flag.StringVar(&otelEndpoint, "otel-endpoint", "", "OTLP gRPC endpoint (default $OTEL_EXPORTER_OTLP_ENDPOINT or localhost:4317)")
	flag.BoolVar(&otelInsecure, "otel-insecure", false, "Use an insecure OTLP connection")
	flag.StringVar(&promAddr, "prometheus-addr", "", "Listen address of the Prometheus scrape endpoint (empty disables)")
	flag.StringVar(&promPath, "prometheus-path", prometheus.DefaultPath, "Path of the Prometheus scrape endpoint")
	flag.StringVar(&parquetDir, "parquet-dir", "", "Directory receiving one Parquet file per session (empty disables)")
	flag.StringVar(&parquetCodec, "parquet-compression", string(parquet.CompressionSnappy), "Parquet compression: snappy, zstd, gzip or none")
}

func main() {
	flag.Parse()

	// Setup logging
	var zapLog *zap.Logger
	if verbose {
		zapLog, _ = zap.NewDevelopment()
	} else {
		zapLog = zap.NewNop()
	}
	defer func() { _ = zapLog.Sync() }()
	logger := zapr.NewLogger(zapLog)

	if err := run(logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(logger logr.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if duration > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, duration)
		defer stop()
	}

	repo := monitoring.NewRepository(logger)
	loader, err := config.NewFSLoader(definitionsDir, repo, logger)
	if err != nil {
		return err
	}
	defer loader.Close()

	consumers, closeConsumers, err := startConsumers(ctx, logger)
	if err != nil {
		return err
	}
	defer closeConsumers()

	cfg := agent.Config{
		Interval:               interval,
		DefinitionsDir:         definitionsDir,
		SystemTokens:           splitTokens(systemTokens),
		Processes:              processes,
		HostProcPath:           hostProcPath,
		ProcessOverflowBarrier: barrier,
	}
	opts := []agent.Option{agent.WithLogger(logger)}
	for _, c := range consumers {
		opts = append(opts, agent.WithConsumer(c))
	}
	if dbHost != "" {
		opts = append(opts, agent.WithHost(dbHost))
	}
	a, err := agent.New(cfg, repo, opts...)
	if err != nil {
		return err
	}

	// every successful reload restarts the session since ids restart with the repository
	go func() {
		for update := range loader.Watch(config.Filters{Status: config.StatusOK}) {
			logger.Info("Reading definitions reloaded", "files", len(update.Files), "readings", update.Readings)
			a.Restart()
		}
	}()

	fmt.Printf("=== ATS system monitor ===\n")
	fmt.Printf("Definitions: %s (%d files)\n", definitionsDir, len(loader.Files()))
	fmt.Printf("Interval: %v\n", interval)
	fmt.Printf("Press Ctrl+C to stop\n\n")

	if err := a.Start(ctx); err != nil {
		return err
	}

	stats := a.Router().GetStats()
	status := a.Status()
	fmt.Printf("\nPoll cycles: %d, reading instances: %d, events published: %d\n",
		status.Polls, status.Instances, stats.Published)
	for name, health := range stats.Consumers {
		fmt.Printf("  %s: %d events, %d errors, %d failed deliveries\n",
			name, health.EventsCount, health.ErrorsCount, stats.Failures[name])
	}
	return nil
}

// startConsumers starts the enabled consumers. The returned function stops
// them and waits for buffered events to be exported.
func startConsumers(ctx context.Context, logger logr.Logger) ([]metrics.Consumer, func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	var consumers []metrics.Consumer
	var closers []func() error
	closeAll := func() {
		cancel()
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Error(err, "Failed to close consumer")
			}
		}
	}

	if printReadings {
		out, err := stdoutLogger()
		if err != nil {
			cancel()
			return nil, nil, err
		}
		cfg := debug.DefaultConfig()
		cfg.LogLevel = debug.LogLevelVerbose
		cfg.LogFormat = debug.LogFormat(printFormat)
		cfg.IncludeEventData = true
		c, err := debug.NewConsumer(cfg, out)
		if err != nil {
			cancel()
			return nil, nil, err
		}
		consumers = append(consumers, c)
	}

	if dbDriver != "" {
		c, err := dbcollector.NewConsumer(dbcollector.Config{Driver: dbDriver, DSN: dbDSN, Host: dbHost}, logger)
		if err != nil {
			cancel()
			return nil, nil, err
		}
		consumers = append(consumers, c)
		closers = append(closers, c.Close)
	}

	if otelEnabled {
		cfg := otel.GetConfigFromEnvironment()
		if otelEndpoint != "" {
			cfg.Endpoint = otelEndpoint
		}
		if otelInsecure {
			cfg.Insecure = true
		}
		c, err := otel.NewConsumer(cfg, logger)
		if err != nil {
			cancel()
			return nil, nil, err
		}
		consumers = append(consumers, c)
		closers = append(closers, func() error { c.Wait(); return nil })
	}

	if promAddr != "" {
		cfg := prometheus.DefaultConfig()
		cfg.Addr = promAddr
		cfg.Path = promPath
		c, err := prometheus.NewConsumer(cfg, logger)
		if err != nil {
			cancel()
			return nil, nil, err
		}
		consumers = append(consumers, c)
		closers = append(closers, func() error { c.Wait(); return nil })
	}

	if parquetDir != "" {
		cfg := parquet.DefaultConfig(parquetDir)
		cfg.Compression = parquet.CompressionType(parquetCodec)
		c, err := parquet.NewConsumer(cfg, logger)
		if err != nil {
			cancel()
			return nil, nil, err
		}
		consumers = append(consumers, c)
		closers = append(closers, c.Close)
	}

	for _, c := range consumers {
		if err := c.Start(ctx); err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("failed to start consumer %s: %w", c.Name(), err)
		}
	}
	return consumers, closeAll, nil
}

// stdoutLogger prints poll cycles regardless of -verbose.
func stdoutLogger() (logr.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.OutputPaths = []string{"stdout"}
	cfg.DisableCaller = true
	cfg.DisableStacktrace = true
	zapLog, err := cfg.Build()
	if err != nil {
		return logr.Logger{}, fmt.Errorf("failed to build output logger: %w", err)
	}
	return zapr.NewLogger(zapLog), nil
}

func splitTokens(s string) []string {
	var tokens []string
	for _, token := range strings.Split(s, ",") {
		if token = strings.TrimSpace(token); token != "" {
			tokens = append(tokens, token)
		}
	}
	return tokens
}
