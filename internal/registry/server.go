// Package registry's HTTP surface — registration, heartbeat, deregistration,
// discovery, stats, and liveness — mounted by cmd/fleetmeshd's registry
// subcommand. Mirrors the teacher's chi-router-plus-writeJSON shape
// (internal/api/server.go) rather than inventing a new HTTP idiom.
package registry

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/modelfleet/modelfleet/internal/fleeterr"
)

var validate = validator.New()

// Server is the registry's HTTP API.
type Server struct {
	dir            *Directory
	metricsEnabled bool
}

// NewServer creates a registry Server over dir.
func NewServer(dir *Directory) *Server {
	return &Server{dir: dir}
}

// EnableMetrics turns on the /metrics endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with all registry routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)
	r.Get("/stats", s.handleStats)

	r.Post("/services", s.handleRegister)
	r.Get("/services", s.handleList)
	r.Get("/services/{name}", s.handleGet)
	r.Delete("/services/{name}", s.handleDeregister)
	r.Post("/services/{name}/heartbeat", s.handleHeartbeat)

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	return r
}

// ─── /services ──────────────────────────────────────────────────────────────

type registerRequest struct {
	Name   string   `json:"name" validate:"required"`
	Kind   string   `json:"kind" validate:"required,oneof=backend supervisor other"`
	Host   string   `json:"host" validate:"required"`
	Port   int      `json:"port" validate:"required,min=1,max=65535"`
	Weight int      `json:"weight"`
	Meta   metaBody `json:"metadata"`
}

type metaBody struct {
	Models []string          `json:"models"`
	Extra  map[string]string `json:"extra"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	s.dir.IncRequests()

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.dir.IncErrors()
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := validate.Struct(req); err != nil {
		s.dir.IncErrors()
		writeError(w, http.StatusBadRequest, "validation failed: "+err.Error())
		return
	}

	rec := Record{
		Name:   req.Name,
		Kind:   Kind(req.Kind),
		Host:   req.Host,
		Port:   req.Port,
		Weight: req.Weight,
		Meta:   Metadata{Models: req.Meta.Models, Extra: req.Meta.Extra},
	}

	stored, err := s.dir.Register(rec)
	if err != nil {
		s.dir.IncErrors()
		writeErrFromKind(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

type listResponse struct {
	Services []Record `json:"services"`
	Total    int      `json:"total"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	s.dir.IncRequests()

	q := r.URL.Query()
	filter := ListFilter{
		HealthyOnly: q.Get("healthy") == "true",
		Kind:        Kind(q.Get("kind")),
		Model:       q.Get("model"),
	}
	records := s.dir.List(filter)
	writeJSON(w, http.StatusOK, listResponse{Services: records, Total: len(records)})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	s.dir.IncRequests()

	name := chi.URLParam(r, "name")
	rec, err := s.dir.Get(name)
	if err != nil {
		s.dir.IncErrors()
		writeErrFromKind(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeregister(w http.ResponseWriter, r *http.Request) {
	s.dir.IncRequests()

	name := chi.URLParam(r, "name")
	if err := s.dir.Deregister(name); err != nil {
		s.dir.IncErrors()
		writeErrFromKind(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type heartbeatRequest struct {
	Status string `json:"status" validate:"omitempty,oneof=healthy unhealthy"`
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	s.dir.IncRequests()

	name := chi.URLParam(r, "name")

	var req heartbeatRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.dir.IncErrors()
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
		if err := validate.Struct(req); err != nil {
			s.dir.IncErrors()
			writeError(w, http.StatusBadRequest, "validation failed: "+err.Error())
			return
		}
	}

	rec, err := s.dir.Heartbeat(name, Status(req.Status))
	if err != nil {
		s.dir.IncErrors()
		writeErrFromKind(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ─── /health, /stats ────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.dir.Stats())
}

// ─── helpers ────────────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-Id", uuid.New().String())
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeErrFromKind maps a fleeterr-classified error to its HTTP status.
func writeErrFromKind(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, fleeterr.NotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, fleeterr.Conflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, fleeterr.BadRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
