// Package serve exposes the canonical tables over a read-only HTTP API.
package serve

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/symbio-data/engine-cli/internal/model"
	"github.com/symbio-data/engine-cli/internal/store"
)

// Server serves the read API over a Store.
type Server struct {
	store store.Store
}

// New builds a Server.
func New(st store.Store) *Server {
	return &Server{store: st}
}

// Router assembles the chi router with middleware and routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/valuations", s.handleValuations)
		r.Get("/valuations/{materialTypeID}", s.handleValuation)
		r.Get("/companies", s.handleCompanies)
		r.Get("/listings", s.handleListings)
		r.Get("/flags", s.handleFlags)
		r.Get("/runs", s.handleRuns)
		r.Get("/stats", s.handleStats)
	})

	return r
}

// ListenAndServe blocks serving the API until ctx is canceled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	zap.L().Info("serve: listening", zap.String("addr", addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleValuations(w http.ResponseWriter, r *http.Request) {
	vals, err := s.store.ListValuations(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if vals == nil {
		vals = []model.MaterialValuation{}
	}
	writeJSON(w, http.StatusOK, vals)
}

func (s *Server) handleValuation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "materialTypeID")
	v, err := s.store.GetValuation(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if v == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no valuation for " + id})
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleCompanies(w http.ResponseWriter, r *http.Request) {
	companies, err := s.store.ListCompanies(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if companies == nil {
		companies = []model.Company{}
	}
	writeJSON(w, http.StatusOK, companies)
}

func (s *Server) handleListings(w http.ResponseWriter, r *http.Request) {
	listings, err := s.store.ListListingsWithValue(r.Context(), queryLimit(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if listings == nil {
		listings = []model.ListingValue{}
	}
	writeJSON(w, http.StatusOK, listings)
}

func (s *Server) handleFlags(w http.ResponseWriter, r *http.Request) {
	flags, err := s.store.ListFraudFlags(r.Context(), r.URL.Query().Get("status"), queryLimit(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if flags == nil {
		flags = []model.FraudFlag{}
	}
	writeJSON(w, http.StatusOK, flags)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	filter := store.RunFilter{
		Status: model.RunStatus(r.URL.Query().Get("status")),
		Domain: r.URL.Query().Get("domain"),
		Limit:  queryLimit(r),
	}
	runs, err := s.store.ListRuns(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if runs == nil {
		runs = []model.PipelineRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func queryLimit(r *http.Request) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return 0
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("serve: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, err error) {
	zap.L().Error("serve: request failed", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}
