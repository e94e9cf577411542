// Package health serves liveness, scheduler state and Prometheus metrics
// over HTTP.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/metis-devops/metis-checkin/internal/logx"
	"github.com/metis-devops/metis-checkin/internal/scheduler"
)

type SnapshotFunc func() scheduler.Snapshot

/*
	{
	  "healthy": true,
	  "scheduler": {"running": true, "accounts": 2, "pending": 2, ...}
	}
*/

type Response struct {
	Healthy   bool               `json:"healthy"`
	Scheduler scheduler.Snapshot `json:"scheduler"`
}

type Server struct {
	addr       string
	snapshot   SnapshotFunc
	gatherer   prometheus.Gatherer
	log        logx.Logger
	maxFailing time.Duration
	now        func() time.Time
}

type Option func(*Server)

// WithMaxFailing marks the service unhealthy once check-ins have failed
// without a success in between for longer than d. Zero disables the check.
func WithMaxFailing(d time.Duration) Option {
	return func(s *Server) { s.maxFailing = d }
}

func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

func New(addr string, snapshot SnapshotFunc, gatherer prometheus.Gatherer, log logx.Logger, opts ...Option) *Server {
	s := &Server{
		addr:     addr,
		snapshot: snapshot,
		gatherer: gatherer,
		log:      log.With(logx.String("component", "health")),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Healthy reports whether the scheduler loop is running with accounts to
// serve and has not been failing for longer than maxFailing.
func Healthy(s scheduler.Snapshot, now time.Time, maxFailing time.Duration) bool {
	if !s.Running || s.Accounts == 0 {
		return false
	}
	if maxFailing > 0 && !s.FailingSince.IsZero() && now.Sub(s.FailingSince) > maxFailing {
		return false
	}
	return true
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		snap := s.snapshot()
		resp := Response{Healthy: Healthy(snap, s.now(), s.maxFailing), Scheduler: snap}

		w.Header().Set("content-type", "application/json")
		w.Header().Set("access-control-allow-origin", "*")
		if !resp.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(resp)
	})

	mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("serving", logx.String("addr", s.addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("health server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("stopping")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	s.log.Info("stopped")
	return <-errCh
}
