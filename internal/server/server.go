// Package server exposes the rescue agent's HTTP API: inspection (/info,
// /map, /probe), extraction (/backup) and the three mutating operations
// (/flash, /relocate, /bootswitch).
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/otarescue-io/otarescue/internal/backup"
	"github.com/otarescue-io/otarescue/internal/flash"
	"github.com/otarescue-io/otarescue/internal/pkg/metrics"
	"github.com/otarescue-io/otarescue/pkg/log"
	"github.com/otarescue-io/otarescue/pkg/options"
)

// Settle delays between answering a successful mutation and restarting, long
// enough for the response and logs to drain.
const (
	flashRestartDelay  = 600 * time.Millisecond
	switchRestartDelay = 300 * time.Millisecond
)

// Gate admits at most one mutating operation at a time.
type Gate interface {
	BeginFlash(ctx context.Context) error
	BeginRelocate(ctx context.Context) error
	BeginBootswitch(ctx context.Context) error
	Done(ctx context.Context)
	Current() string
}

// Config wires the server to the engine and its collaborators.
type Config struct {
	Engine   *flash.Engine
	Gate     Gate
	Uploader backup.Uploader // nil disables /backup/upload
	DeviceID string

	// RequestRestart schedules a device restart after a successful mutation.
	// Nil (tests, bench runs) releases the gate instead of restarting.
	RequestRestart func(delay time.Duration)
}

// Server is the agent's HTTP frontend.
type Server struct {
	server *http.Server
	cfg    Config
}

// NewServer builds the router and the underlying http.Server. No write
// timeout is set: /flash request bodies stream for as long as the chip needs.
func NewServer(opts *options.HttpOptions, cfg Config) *Server {
	s := &Server{cfg: cfg}

	r := mux.NewRouter()
	r.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)
	r.HandleFunc("/map", s.handleMap).Methods(http.MethodGet)
	r.HandleFunc("/probe", s.handleProbe).Methods(http.MethodGet)
	r.HandleFunc("/backup", s.handleBackup).Methods(http.MethodGet)
	r.HandleFunc("/backup/upload", s.handleBackupUpload).Methods(http.MethodPost)
	r.HandleFunc("/flash", s.handleFlash).Methods(http.MethodPost)
	r.HandleFunc("/relocate", s.handleRelocate).Methods(http.MethodPost)
	r.HandleFunc("/bootswitch", s.handleBootswitch).Methods(http.MethodPost)

	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	r.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	s.server = &http.Server{
		Addr:        opts.Addr,
		Handler:     r,
		ReadTimeout: opts.ReadTimeout,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.server.Handler }

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	log.Info("Starting HTTP Server", "addr", s.server.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}

// finishMutation is the success epilogue shared by the mutating handlers:
// either hand off to the restart path or release the gate for the next
// operation.
func (s *Server) finishMutation(ctx context.Context, delay time.Duration) {
	if s.cfg.RequestRestart != nil {
		s.cfg.RequestRestart(delay)
		return
	}
	s.cfg.Gate.Done(ctx)
}
