// Package babysitter's tiny HTTP surface — health and static info only.
// It never proxies /models or completions; routable requests go through
// the Router directly to the backend port (§4.2).
package babysitter

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the babysitter's HTTP API.
type Server struct {
	cfg            Config
	supervisor     *Supervisor
	metricsEnabled bool
}

// NewServer builds a babysitter Server.
func NewServer(cfg Config, supervisor *Supervisor) *Server {
	return &Server{cfg: cfg, supervisor: supervisor}
}

// EnableMetrics turns on the /metrics endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with /health and /info mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/info", s.handleInfo)

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	return r
}

type healthResponse struct {
	Status          string     `json:"status"`
	ChildAlive      bool       `json:"child_alive"`
	RestartsSoFar   int64      `json:"restarts_so_far"`
	Registered      bool       `json:"registered"`
	LastHeartbeatAt *time.Time `json:"last_heartbeat_at,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var last *time.Time
	if t := s.supervisor.LastHeartbeatAt(); !t.IsZero() {
		last = &t
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:          string(s.supervisor.State()),
		ChildAlive:      s.supervisor.ChildAlive(),
		RestartsSoFar:   s.supervisor.RestartsSoFar(),
		Registered:      s.supervisor.Registered(),
		LastHeartbeatAt: last,
	})
}

type infoResponse struct {
	Name            string   `json:"name"`
	Host            string   `json:"host"`
	Port            int      `json:"port"`
	SupervisorPort  int      `json:"supervisor_port"`
	RegistryURL     string   `json:"registry_url"`
	RouterURL       string   `json:"router_url,omitempty"`
	BackendType     string   `json:"backend_type"`
	BackendCommand  string   `json:"backend_command"`
	BackendArgs     []string `json:"backend_args"`
	MaxRestarts     int      `json:"max_restarts"`
	RestartDelay    string   `json:"restart_delay"`
	StderrTail      string   `json:"stderr_tail,omitempty"`
}

// handleInfo returns static config minus secrets — backend.env values are
// deliberately omitted since they may carry credentials (§6.3).
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, infoResponse{
		Name:           s.cfg.Name,
		Host:           s.cfg.Host,
		Port:           s.cfg.Port,
		SupervisorPort: s.cfg.SupervisorPort(),
		RegistryURL:    s.cfg.RegistryURL,
		RouterURL:      s.cfg.RouterURL,
		BackendType:    s.cfg.Backend.Type,
		BackendCommand: s.cfg.Backend.Command,
		BackendArgs:    s.cfg.Backend.Args,
		MaxRestarts:    s.cfg.Babysitter.MaxRestarts,
		RestartDelay:   s.cfg.Babysitter.RestartDelay.Get().String(),
		StderrTail:     s.supervisor.StderrTail(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
