// Package health exposes liveness and readiness probes over HTTP. A
// check is any component that can report whether its dependency is
// reachable: the coil link, the MQTT broker.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Checker is a component that can be health checked.
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// Config holds health checker configuration.
type Config struct {
	ServiceName    string
	ServiceVersion string
	CheckTimeout   time.Duration
}

// CheckStatus is the result of one named check.
type CheckStatus struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"` // "healthy" or "unhealthy"
	Error     string    `json:"error,omitempty"`
	LastCheck time.Time `json:"last_check"`
}

// Response is the full health document.
type Response struct {
	Status    string                  `json:"status"`
	Service   string                  `json:"service"`
	Version   string                  `json:"version"`
	Timestamp time.Time               `json:"timestamp"`
	Uptime    string                  `json:"uptime,omitempty"`
	Checks    map[string]*CheckStatus `json:"checks,omitempty"`
}

// HealthChecker fans a probe request out to every registered check.
type HealthChecker struct {
	config    Config
	startTime time.Time

	mu     sync.RWMutex
	checks map[string]Checker
}

// NewChecker creates a health checker.
func NewChecker(config Config) *HealthChecker {
	if config.CheckTimeout == 0 {
		config.CheckTimeout = 5 * time.Second
	}
	return &HealthChecker{
		config:    config,
		startTime: time.Now(),
		checks:    make(map[string]Checker),
	}
}

// AddCheck registers a named check.
func (h *HealthChecker) AddCheck(name string, checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = checker
}

// Check runs all registered checks concurrently and aggregates the
// result; any failing check marks the whole service unhealthy.
func (h *HealthChecker) Check(ctx context.Context) *Response {
	h.mu.RLock()
	checks := make(map[string]Checker, len(h.checks))
	for name, checker := range h.checks {
		checks[name] = checker
	}
	h.mu.RUnlock()

	response := &Response{
		Status:    "healthy",
		Service:   h.config.ServiceName,
		Version:   h.config.ServiceVersion,
		Timestamp: time.Now(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Checks:    make(map[string]*CheckStatus),
	}

	var wg sync.WaitGroup
	var mu sync.Mutex

	for name, checker := range checks {
		wg.Add(1)
		go func(name string, checker Checker) {
			defer wg.Done()

			checkCtx, cancel := context.WithTimeout(ctx, h.config.CheckTimeout)
			defer cancel()

			status := &CheckStatus{
				Name:      name,
				Status:    "healthy",
				LastCheck: time.Now(),
			}
			if err := checker.HealthCheck(checkCtx); err != nil {
				status.Status = "unhealthy"
				status.Error = err.Error()
			}

			mu.Lock()
			response.Checks[name] = status
			if status.Status != "healthy" {
				response.Status = "unhealthy"
			}
			mu.Unlock()
		}(name, checker)
	}
	wg.Wait()

	return response
}

// HealthHandler serves the aggregated health document.
func (h *HealthChecker) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeResponse(w, h.Check(r.Context()))
}

// LivenessHandler answers Kubernetes liveness probes: 200 whenever the
// process is up, regardless of dependency state.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(&Response{
		Status:    "healthy",
		Service:   h.config.ServiceName,
		Version:   h.config.ServiceVersion,
		Timestamp: time.Now(),
	})
}

// ReadinessHandler answers Kubernetes readiness probes: 200 only when
// every dependency check passes.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	writeResponse(w, h.Check(r.Context()))
}

func writeResponse(w http.ResponseWriter, response *Response) {
	w.Header().Set("Content-Type", "application/json")
	statusCode := http.StatusOK
	if response.Status != "healthy" {
		statusCode = http.StatusServiceUnavailable
	}
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}
