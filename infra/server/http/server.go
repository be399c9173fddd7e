// Package http hosts the hub's HTTP surface: the websocket upgrade endpoint,
// the stats and health endpoints, and prometheus metrics.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relaychat/chat-bridge-service/internal/dedup"
	"github.com/relaychat/chat-bridge-service/internal/domain/registry"
	wsh "github.com/relaychat/chat-bridge-service/internal/handler/ws"
	"github.com/relaychat/chat-bridge-service/internal/ratelimit"
)

type Server struct {
	logger *slog.Logger
	srv    *http.Server
}

func NewServer(
	addr string,
	logger *slog.Logger,
	wsHandler *wsh.Handler,
	reg *registry.Registry,
	limiter *ratelimit.Limiter,
	dd *dedup.Deduplicator,
	gatherer prometheus.Gatherer,
) *Server {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)

	r.Handle("/ws", wsHandler)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"connections": reg.Counts(),
			"rate_limits": limiter.Stats(),
			"dedup_size":  dd.Len(),
		})
	})

	return &Server{
		logger: logger,
		srv: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

func (s *Server) Start(_ context.Context) error {
	s.logger.Info("http server started", slog.String("addr", s.srv.Addr))
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server stopped", slog.Any("err", err))
		}
	}()
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
