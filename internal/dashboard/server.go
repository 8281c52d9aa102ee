// Package dashboard serves a read-only JSON view of the position ledger plus
// Prometheus metrics.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"ironflybot/internal/models"
	"ironflybot/internal/storage"
)

// Config holds the dashboard listener settings.
type Config struct {
	Listen    string
	AuthToken string
}

// Server is the read-only HTTP surface. It never writes to storage and never
// talks to the brokerage.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	storage   storage.Interface
	logger    *logrus.Logger
	listen    string
	authToken string
}

// NewServer creates the dashboard server. The metrics endpoint serves the
// given Prometheus gatherer.
func NewServer(cfg Config, store storage.Interface, gatherer prometheus.Gatherer, logger *logrus.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		storage:   store,
		logger:    logger,
		listen:    cfg.Listen,
		authToken: cfg.AuthToken,
	}
	s.setupRoutes(gatherer)
	return s
}

func (s *Server) setupRoutes(gatherer prometheus.Gatherer) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/positions", s.handleGetPositions)
	s.router.Get("/api/positions/{id}", s.handleGetPosition)
	s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if token != s.authToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.listen,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.WithField("listen", s.listen).Info("starting dashboard server")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("dashboard server: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleGetPositions returns all positions, optionally filtered by ?status=.
func (s *Server) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var positions []models.Position
	var err error
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := models.PositionStatus(raw)
		if !status.Valid() {
			http.Error(w, fmt.Sprintf("unknown status %q", raw), http.StatusBadRequest)
			return
		}
		positions, err = s.storage.GetPositionsByStatus(ctx, status)
	} else {
		positions, err = s.allPositions(ctx)
	}
	if err != nil {
		s.logger.WithError(err).Error("dashboard: loading positions failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, positions)
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	pos, err := s.storage.GetPositionByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrPositionNotFound) {
			http.Error(w, "position not found", http.StatusNotFound)
			return
		}
		s.logger.WithError(err).Error("dashboard: loading position failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, pos)
}

func (s *Server) allPositions(ctx context.Context) ([]models.Position, error) {
	all := make([]models.Position, 0)
	for _, status := range []models.PositionStatus{models.StatusOpen, models.StatusComplete, models.StatusClosed} {
		positions, err := s.storage.GetPositionsByStatus(ctx, status)
		if err != nil {
			return nil, err
		}
		all = append(all, positions...)
	}
	return all, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("dashboard: encoding response failed")
	}
}
