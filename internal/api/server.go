// Package api serves the HTTP interface: entity state ingestion, viewport and
// user reporting, element visibility and condition checks.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/dashd/internal/dashboard"
	"github.com/dokzlo13/dashd/internal/entities"
	"github.com/dokzlo13/dashd/internal/eventbus"
	"github.com/dokzlo13/dashd/internal/ledger"
)

// Deps are the services the API reads and drives. Ledger and Bus may be nil.
type Deps struct {
	Board    *dashboard.Board
	Entities *entities.Registry
	Ledger   *ledger.Ledger
	Bus      *eventbus.Bus
	Ingest   entities.IngestPaths

	// Limiter throttles event ingestion. Nil means unlimited.
	Limiter *rate.Limiter
}

// Server is the HTTP API server.
type Server struct {
	addr       string
	deps       Deps
	router     chi.Router
	validate   *validator.Validate
	httpServer *http.Server
}

// NewServer creates a server and registers its routes.
func NewServer(host string, port int, deps Deps) *Server {
	if deps.Ingest == (entities.IngestPaths{}) {
		deps.Ingest = entities.DefaultIngestPaths
	}
	s := &Server{
		addr:     fmt.Sprintf("%s:%d", host, port),
		deps:     deps,
		validate: validator.New(),
	}
	s.router = s.routes()
	return s
}

// NewLimiter converts a requests-per-second budget to a limiter.
func NewLimiter(rps float64, burst int) *rate.Limiter {
	if burst <= 0 {
		burst = int(rps)
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)

		r.Route("/states", func(r chi.Router) {
			r.Get("/", s.handleListStates)
			r.Get("/{entityID}", s.handleGetState)
			r.Put("/{entityID}", s.handlePutState)
			r.Delete("/{entityID}", s.handleDeleteState)
		})
		r.With(s.rateLimited).Post("/events", s.handleEvents)

		r.Get("/viewport", s.handleGetViewport)
		r.Put("/viewport", s.handlePutViewport)
		r.Get("/user", s.handleGetUser)
		r.Put("/user", s.handlePutUser)

		r.Route("/elements", func(r chi.Router) {
			r.Get("/", s.handleListElements)
			r.Get("/{elementID}", s.handleGetElement)
			r.Get("/{elementID}/history", s.handleElementHistory)
		})

		r.Post("/conditions/evaluate", s.handleEvaluate)
		r.Post("/conditions/validate", s.handleValidate)
	})
	return r
}

// Run starts the server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting API server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("API server shutdown error")
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) rateLimited(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Limiter != nil && !s.deps.Limiter.Allow() {
			log.Warn().Str("path", r.URL.Path).Msg("Event ingestion rate limited")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeBody decodes a JSON request body into v and validates it.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	defer r.Body.Close()
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if err := s.validate.Struct(v); err != nil {
		return err
	}
	return nil
}

const maxBodyBytes = 1 << 20
