// Package httpapi serves read-only health and status endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/hako/durafmt"
	"go.uber.org/zap"

	"github.com/ObiAU/slotwatch/internal/dedup"
	"github.com/ObiAU/slotwatch/internal/monitor"
)

const shutdownTimeout = 5 * time.Second

type StatusSource interface {
	Status() monitor.Status
}

type StatsSource interface {
	Stats() dedup.Stats
}

type Server struct {
	addr    string
	monitor StatusSource
	dedup   StatsSource
	logger  *zap.Logger
	started time.Time
	now     func() time.Time
}

func New(addr string, mon StatusSource, store StatsSource, logger *zap.Logger) *Server {
	return &Server{
		addr:    addr,
		monitor: mon,
		dedup:   store,
		logger:  logger.Named("http"),
		started: time.Now(),
		now:     time.Now,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("GET /status", s.statusHandler)
	return mux
}

// Serve listens on the configured address until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Status server listening", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("status server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	<-errCh
	s.logger.Info("Status server stopped")
	return nil
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": s.now().Format(time.RFC3339),
	})
}

type statusResponse struct {
	Monitor monitor.Status `json:"monitor"`
	Dedup   dedup.Stats    `json:"dedup"`
	Uptime  string         `json:"uptime"`
}

func (s *Server) statusHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Monitor: s.monitor.Status(),
		Dedup:   s.dedup.Stats(),
		Uptime:  durafmt.Parse(s.now().Sub(s.started).Round(time.Second)).LimitFirstN(2).String(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
