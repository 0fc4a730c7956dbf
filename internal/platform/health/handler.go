// Package health serves the worker's ops endpoints.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// Version is set at build time via ldflags.
var Version = "dev"

// CheckFunc returns nil when the dependency it probes is usable.
type CheckFunc func(ctx context.Context) error

type check struct {
	name string
	fn   CheckFunc
}

// Handler serves /health, /health/live, /health/ready and /metrics.
// Readiness probes every registered dependency concurrently.
type Handler struct {
	started     time.Time
	environment string
	timeout     time.Duration
	gatherer    prometheus.Gatherer

	mu     sync.RWMutex
	checks []check
}

// New returns a handler exposing gatherer on /metrics. A nil gatherer means
// the default registry.
func New(environment string, gatherer prometheus.Gatherer) *Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Handler{
		started:     time.Now(),
		environment: environment,
		timeout:     3 * time.Second,
		gatherer:    gatherer,
	}
}

// RegisterCheck adds or replaces the readiness check called name.
func (h *Handler) RegisterCheck(name string, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.checks {
		if h.checks[i].name == name {
			h.checks[i].fn = fn
			return
		}
	}
	h.checks = append(h.checks, check{name: name, fn: fn})
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", h.HandleStatus)
	r.Get("/health/live", h.HandleLiveness)
	r.Get("/health/ready", h.HandleReadiness)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	return r
}

type LivenessResponse struct {
	Status string `json:"status"`
}

func (h *Handler) HandleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, LivenessResponse{Status: "alive"})
}

type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// HandleReadiness answers 503 when any check fails or exceeds the timeout.
func (h *Handler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	results, ok := h.probe(r.Context())
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, ReadinessResponse{Status: "not_ready", Checks: results})
		return
	}
	writeJSON(w, http.StatusOK, ReadinessResponse{Status: "ready", Checks: results})
}

func (h *Handler) probe(ctx context.Context) (map[string]string, bool) {
	h.mu.RLock()
	checks := append([]check(nil), h.checks...)
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	errs := make([]error, len(checks))
	var g errgroup.Group
	for i, c := range checks {
		g.Go(func() error {
			errs[i] = c.fn(ctx)
			return nil
		})
	}
	_ = g.Wait()

	results := make(map[string]string, len(checks))
	ok := true
	for i, c := range checks {
		if errs[i] != nil {
			results[c.name] = "down: " + errs[i].Error()
			ok = false
			continue
		}
		results[c.name] = "up"
	}
	return results, ok
}

type StatusResponse struct {
	Status        string   `json:"status"`
	Version       string   `json:"version"`
	Environment   string   `json:"environment"`
	UptimeSeconds int64    `json:"uptime_seconds"`
	Timestamp     string   `json:"timestamp"`
	Degraded      []string `json:"degraded,omitempty"`
}

// HandleStatus always answers 200; failing dependencies are listed as
// degraded rather than failing the request.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Status:        "healthy",
		Version:       Version,
		Environment:   h.environment,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}
	results, ok := h.probe(r.Context())
	if !ok {
		resp.Status = "degraded"
		for name, state := range results {
			if state != "up" {
				resp.Degraded = append(resp.Degraded, name)
			}
		}
		sort.Strings(resp.Degraded)
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
