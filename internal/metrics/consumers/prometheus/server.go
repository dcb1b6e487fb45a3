// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package prometheus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const healthPath = "/health"

// errorLog routes promhttp errors to the consumer logger.
type errorLog struct {
	logger logr.Logger
}

func (l errorLog) Println(v ...any) {
	l.logger.Error(nil, fmt.Sprint(v...))
}

func newHandler(path string, registry *prometheus.Registry, logger logr.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorLog:          errorLog{logger: logger},
		ErrorHandling:     promhttp.ContinueOnError,
	}))
	mux.HandleFunc(healthPath, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy","service":"ats-monitor"}`))
	})
	return mux
}

// serve listens on addr and shuts the server down once ctx is cancelled.
// The listener is bound before returning so that address errors surface to
// the caller.
func serve(ctx context.Context, addr string, handler http.Handler, timeout time.Duration, logger logr.Logger) (net.Addr, <-chan struct{}, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	server := &http.Server{
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		logger.Info("Starting Prometheus metrics server", "addr", listener.Addr().String())
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(err, "Prometheus metrics server error")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error(err, "Prometheus server shutdown error")
			return
		}
		logger.Info("Prometheus metrics server shut down")
	}()

	return listener.Addr(), done, nil
}
