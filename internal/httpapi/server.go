// Package httpapi exposes the Executor over HTTP: append an event,
// inspect its status, and list pending/completed/failed projections.
// Modeled on cmd/platform's router setup (chi middleware stack, CORS,
// /metrics), narrowed to this module's own surface.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.lionforge.dev/internal/corefail"
	"go.lionforge.dev/internal/event"
	"go.lionforge.dev/internal/id"
)

// EventSource is the subset of Executor the API surfaces.
type EventSource interface {
	Append(e *event.Event) error
	CompletedEvents() ([]*event.Event, error)
	FailedEvents() ([]*event.Event, error)
	PendingEvents() ([]*event.Event, error)
	Get(i id.ID) (*event.Event, error)
}

// AppendRequest is the JSON body POST /events accepts.
type AppendRequest struct {
	Payload               map[string]any    `json:"payload"`
	Headers               map[string]string `json:"headers"`
	RequiredTokens        int               `json:"required_tokens"`
	EstimatedOutputTokens int               `json:"estimated_output_tokens"`
}

// Server wires EventSource into a chi.Router.
type Server struct {
	source      EventSource
	newEvent    func(AppendRequest) *event.Event
	corsOrigins []string
}

// NewServer constructs a Server. newEvent supplies the CallFunc every
// appended event is constructed with (the HTTP/model adapter the caller
// configured).
func NewServer(source EventSource, newEvent func(AppendRequest) *event.Event, corsOrigins []string) *Server {
	return &Server{source: source, newEvent: newEvent, corsOrigins: corsOrigins}
}

// Routes builds the router: middleware stack, CORS, Prometheus, and the
// event endpoints.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	origins := s.corsOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/events", func(r chi.Router) {
		r.Post("/", s.handleAppend)
		r.Get("/completed", s.handleCompleted)
		r.Get("/failed", s.handleFailed)
		r.Get("/pending", s.handlePending)
		r.Get("/{id}", s.handleGet)
	})

	return r
}

// DecodeAppendRequest parses an AppendRequest from a raw JSON body, the
// shape both the HTTP POST /events endpoint and broker ingest adapters
// accept.
func DecodeAppendRequest(body []byte) (AppendRequest, error) {
	var req AppendRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return AppendRequest{}, err
	}
	return req, nil
}

func (s *Server) handleAppend(w http.ResponseWriter, r *http.Request) {
	var req AppendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	e := s.newEvent(req)
	if err := s.source.Append(e); err != nil {
		writeErrFromKind(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, e.ToSnapshot())
}

func (s *Server) handleCompleted(w http.ResponseWriter, r *http.Request) {
	writeProjection(w, s.source.CompletedEvents)
}

func (s *Server) handleFailed(w http.ResponseWriter, r *http.Request) {
	writeProjection(w, s.source.FailedEvents)
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	writeProjection(w, s.source.PendingEvents)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	i, err := id.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid event id")
		return
	}
	e, err := s.source.Get(i)
	if err != nil {
		writeErrFromKind(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e.ToSnapshot())
}

func writeProjection(w http.ResponseWriter, fetch func() ([]*event.Event, error)) {
	events, err := fetch()
	if err != nil {
		writeErrFromKind(w, err)
		return
	}
	snapshots := make([]event.Snapshot, 0, len(events))
	for _, e := range events {
		snapshots = append(snapshots, e.ToSnapshot())
	}
	writeJSON(w, http.StatusOK, snapshots)
}

// errorResponse mirrors the ErrorResponse shape used elsewhere in this
// codebase family.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

func writeErrFromKind(w http.ResponseWriter, err error) {
	var cerr *corefail.Error
	if !errors.As(err, &cerr) {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	switch cerr.Kind {
	case corefail.KindNotFound:
		writeError(w, http.StatusNotFound, cerr.Code, cerr.Message)
	case corefail.KindAlreadyExists:
		writeError(w, http.StatusConflict, cerr.Code, cerr.Message)
	case corefail.KindConfigurationError, corefail.KindTypeViolation:
		writeError(w, http.StatusBadRequest, cerr.Code, cerr.Message)
	default:
		writeError(w, http.StatusInternalServerError, cerr.Code, cerr.Message)
	}
}
