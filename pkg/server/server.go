// Package server exposes the capture log over HTTP: the drain stream,
// counters, Prometheus metrics and optional profiling endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/danpilch/idleprobe/pkg/metrics"
	"github.com/danpilch/idleprobe/pkg/output"
	"github.com/danpilch/idleprobe/pkg/probe"
	"github.com/danpilch/idleprobe/pkg/seqfile"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// DrainPath is where the drain stream is served.
const DrainPath = "/idleprobe"

// Config controls the HTTP surface.
type Config struct {
	Addr   string
	Format output.Format
	Pprof  bool
}

// Server serves one probe.
type Server struct {
	cfg    Config
	probe  *probe.Probe
	logger *logrus.Logger
	mux    *http.ServeMux
}

// New builds the handler tree for p.
func New(cfg Config, p *probe.Probe, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:9465"
	}
	if cfg.Format == "" {
		cfg.Format = output.FormatRich
	}

	s := &Server{
		cfg:    cfg,
		probe:  p,
		logger: logger,
		mux:    http.NewServeMux(),
	}

	reg := metrics.Registry(metrics.NewCollector(p.Log(), p.Tracker()))
	s.mux.HandleFunc("GET "+DrainPath, s.handleDrain)
	s.mux.HandleFunc("GET /stats", s.handleStats)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if cfg.Pprof {
		mountPprof(s.mux)
	}
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithFields(logrus.Fields{
			"addr":  ln.Addr().String(),
			"pprof": s.cfg.Pprof,
		}).Info("HTTP server starting")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

func (s *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	format := s.cfg.Format
	if q := r.URL.Query().Get("format"); q != "" {
		f, err := output.ParseFormat(q)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		format = f
	}
	if !format.Streamable() {
		http.Error(w, fmt.Sprintf("format %q cannot be streamed", format), http.StatusBadRequest)
		return
	}

	rd := seqfile.Open(s.probe.Log(), format)
	defer rd.Close()

	contentType := "text/plain; charset=utf-8"
	if format == output.FormatJSON {
		contentType = "application/x-ndjson"
	}
	w.Header().Set("Content-Type", contentType)

	n, err := io.Copy(w, rd)
	entry := s.logger.WithFields(logrus.Fields{
		"remote":  r.RemoteAddr,
		"format":  format,
		"bytes":   n,
		"fetched": rd.Session().FetchedAt(),
	})
	if err != nil {
		// Episodes not yet written are gone with the session.
		entry.WithError(err).WithField("discarded", rd.Session().Remaining()).Warn("Drain stream interrupted")
		return
	}
	entry.Debug("Drain served")
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s.probe.Snapshot()); err != nil {
		s.logger.WithError(err).Warn("Failed to write stats")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "ok")
}
