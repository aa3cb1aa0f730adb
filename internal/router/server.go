// Package router's HTTP surface — OpenAI-shaped chat/completions
// dispatch, model listing, discovery, stats, and a catch-all passthrough
// — mounted by cmd/fleetmeshd's router subcommand. Mirrors the registry
// server's chi-router-plus-writeJSON shape.
package router

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/modelfleet/modelfleet/internal/fleeterr"
	"github.com/modelfleet/modelfleet/internal/metrics"
)

// Server is the Router's HTTP API.
type Server struct {
	table          *Table
	proxy          *Proxy
	maxPeek        int64
	metricsEnabled bool
}

// NewServer builds a router Server over table and proxy.
func NewServer(table *Table, proxy *Proxy, maxPeekBytes int64) *Server {
	return &Server{table: table, proxy: proxy, maxPeek: maxPeekBytes}
}

// EnableMetrics turns on the /metrics endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with every Router route mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/services", s.handleServices)
	r.Get("/stats", s.handleStats)
	r.Get("/models", s.handleModels)
	r.Get("/v1/models", s.handleModels)

	r.Post("/v1/chat/completions", s.handleDispatch)
	r.Post("/chat/completions", s.handleDispatch)
	r.Post("/v1/completions", s.handleDispatch)
	r.Post("/completions", s.handleDispatch)

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.NotFound(s.handleCatchAll)
	r.MethodNotAllowed(s.handleCatchAll)
	return r
}

// handleDispatch extracts "model" from the body, selects a candidate by
// weighted round-robin, and proxies — streaming or not per §4.3.
func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	body, replacement, err := peekModel(r, s.maxPeek)
	if err != nil {
		metrics.DispatchTotal.WithLabelValues("", "bad_request").Inc()
		writeErrFromKind(w, err)
		return
	}
	r.Body = replacement

	b, ok := s.table.Next(body.Model)
	if !ok {
		metrics.DispatchTotal.WithLabelValues(body.Model, "service_unavailable").Inc()
		writeError(w, http.StatusServiceUnavailable, "no healthy service for model '"+body.Model+"'")
		return
	}
	b.IncRequest()

	if wantsStream(body, r) {
		s.proxy.ServeStreaming(w, r, b, body.Model)
	} else {
		s.proxy.ServeNonStreaming(w, r, b, body.Model)
	}
}

// handleCatchAll proxies opaque passthrough paths to a round-robin
// selected healthy backend with no model-aware selection (§6.2).
func (s *Server) handleCatchAll(w http.ResponseWriter, r *http.Request) {
	b, ok := s.table.Next("")
	if !ok {
		metrics.DispatchTotal.WithLabelValues("", "service_unavailable").Inc()
		writeError(w, http.StatusServiceUnavailable, "no healthy backend available")
		return
	}
	b.IncRequest()
	s.proxy.ServeNonStreaming(w, r, b, "")
}

type modelsResponse struct {
	Object string      `json:"object"`
	Data   []modelItem `json:"data"`
}

type modelItem struct {
	ID     string `json:"id"`
	Object string `json:"object"`
}

// handleModels aggregates the deduplicated union of metadata.models over
// healthy backends, OpenAI models-listing shape (§4.3).
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	seen := make(map[string]bool)
	var items []modelItem
	for _, b := range s.table.All() {
		if !b.healthy() {
			continue
		}
		for _, m := range b.Models {
			if seen[m] {
				continue
			}
			seen[m] = true
			items = append(items, modelItem{ID: m, Object: "model"})
		}
	}
	writeJSON(w, http.StatusOK, modelsResponse{Object: "list", Data: items})
}

type serviceView struct {
	Name           string   `json:"name"`
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	Weight         int      `json:"weight"`
	Models         []string `json:"models"`
	LocallyHealthy bool     `json:"locally_healthy"`
}

// handleServices reports the Router's local health view — the union of
// the last Registry snapshot and the Router's own probe results (§4.3).
func (s *Server) handleServices(w http.ResponseWriter, r *http.Request) {
	all := s.table.All()
	out := make([]serviceView, 0, len(all))
	for _, b := range all {
		out = append(out, serviceView{
			Name: b.Name, Host: b.Host, Port: b.Port, Weight: b.Weight,
			Models: b.Models, LocallyHealthy: b.healthy(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"services": out, "total": len(out)})
}

type statsView struct {
	Name     string `json:"name"`
	Requests uint64 `json:"requests"`
	Errors   uint64 `json:"errors"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	all := s.table.All()
	out := make([]statsView, 0, len(all))
	for _, b := range all {
		name, reqs, errs := b.Stats()
		out = append(out, statsView{Name: name, Requests: reqs, Errors: errs})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"services": out})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
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

// writeErrFromKind maps a fleeterr-classified error to its HTTP status,
// per §6.2's status-code table.
func writeErrFromKind(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, fleeterr.NotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, fleeterr.Conflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, fleeterr.BadRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, fleeterr.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}
