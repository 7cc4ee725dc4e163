// Package httpapi exposes turns, candidate lookups and metrics over HTTP and
// a websocket chat endpoint.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/lexcare/lexcare/adapters"
	"github.com/ZanzyTHEbar/lexcare/lexcare/ports"
	"github.com/ZanzyTHEbar/lexcare/lexcare/turn"
)

// maxBodyBytes caps request bodies and websocket messages.
const maxBodyBytes = 64 << 10

// TurnRunner runs one conversational turn.
type TurnRunner interface {
	Orchestrate(ctx context.Context, in turn.Input) (*turn.Result, error)
}

// CandidateSource serves candidate lookups and autocomplete.
type CandidateSource interface {
	Candidate(ctx context.Context, id string) (*ports.Candidate, error)
	Suggest(ctx context.Context, prefix string, limit int) ([]string, error)
}

// MetricsSource reports orchestration metrics.
type MetricsSource interface {
	GetSummary() turn.MetricsSummary
}

// Server holds the HTTP handlers.
type Server struct {
	turns      TurnRunner
	candidates CandidateSource
	metrics    MetricsSource
	logger     zerolog.Logger
}

// NewServer creates the handler set. metrics may be nil.
func NewServer(turns TurnRunner, candidates CandidateSource, metrics MetricsSource, logger zerolog.Logger) *Server {
	return &Server{
		turns:      turns,
		candidates: candidates,
		metrics:    metrics,
		logger:     logger.With().Str("component", "httpapi").Logger(),
	}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.health)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/turns", s.postTurn)
		r.Get("/candidates/suggest", s.suggest)
		r.Get("/candidates/{id}", s.getCandidate)
		r.Get("/metrics", s.getMetrics)
		r.Get("/chat", s.chat)
	})
	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) postTurn(w http.ResponseWriter, r *http.Request) {
	var in turn.Input
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := s.turns.Orchestrate(r.Context(), in)
	if err != nil {
		s.writeTurnError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) getCandidate(w http.ResponseWriter, r *http.Request) {
	c, err := s.candidates.Candidate(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, ports.ErrNotFound):
		writeError(w, http.StatusNotFound, "candidate not found")
		return
	case err != nil:
		s.logger.Error().Err(err).Msg("Candidate lookup failed")
		writeError(w, http.StatusInternalServerError, "candidate lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) suggest(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusOK, map[string][]string{"suggestions": {}})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	out, err := s.candidates.Suggest(r.Context(), q, limit)
	if err != nil {
		s.logger.Error().Err(err).Str("q", q).Msg("Suggest failed")
		writeError(w, http.StatusInternalServerError, "suggest failed")
		return
	}
	if out == nil {
		out = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"suggestions": out})
}

func (s *Server) getMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		writeError(w, http.StatusNotFound, "metrics disabled")
		return
	}
	writeJSON(w, http.StatusOK, s.metrics.GetSummary())
}

// turnStatus maps an orchestration error to a status code and message.
func turnStatus(err error) (int, string) {
	var limited *adapters.RateLimitError
	switch {
	case errors.Is(err, turn.ErrEmptyInput):
		return http.StatusBadRequest, err.Error()
	case errors.As(err, &limited):
		return http.StatusTooManyRequests, "too many requests"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "request cancelled"
	default:
		return http.StatusInternalServerError, "turn failed"
	}
}

func (s *Server) writeTurnError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := turnStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("request_id", chimw.GetReqID(r.Context())).Msg("Turn failed")
	}
	writeError(w, status, msg)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", chimw.GetReqID(r.Context())).
			Msg("Request served")
	})
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
