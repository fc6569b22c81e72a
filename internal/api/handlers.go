// Package api provides the HTTP status and control surface: a runtime
// snapshot of the hub, per-slave coil state, and an endpoint to flip a
// coil without going through MQTT.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nexus-edge/coilhub/internal/domain"
	"github.com/nexus-edge/coilhub/internal/hub"
)

// HubView is the slice of the hub the handlers need.
type HubView interface {
	Slaves() []domain.SlaveID
	Window(slave domain.SlaveID) (domain.PollWindow, bool)
	CurrentState(slave domain.SlaveID) domain.CoilState
	Stats() hub.StatsSnapshot
	Write(ctx context.Context, slave domain.SlaveID, addr domain.Address, value bool) bool
}

// Handler serves the status API.
type Handler struct {
	hub     HubView
	logger  zerolog.Logger
	version string
	started time.Time
}

// NewHandler creates the API handler.
func NewHandler(hubView HubView, version string, logger zerolog.Logger) *Handler {
	return &Handler{
		hub:     hubView,
		logger:  logger.With().Str("component", "api").Logger(),
		version: version,
		started: time.Now(),
	}
}

// Register attaches the API routes to the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/status", h.StatusHandler)
	mux.HandleFunc("/slaves", h.SlavesHandler)
	mux.HandleFunc("/slaves/", h.SlaveHandler)
}

type statusResponse struct {
	Version string            `json:"version"`
	Uptime  string            `json:"uptime"`
	Slaves  int               `json:"slaves"`
	Stats   hub.StatsSnapshot `json:"stats"`
}

// StatusHandler returns hub counters and uptime.
func (h *Handler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Version: h.version,
		Uptime:  time.Since(h.started).Round(time.Second).String(),
		Slaves:  len(h.hub.Slaves()),
		Stats:   h.hub.Stats(),
	})
}

type slaveSummary struct {
	ID          uint8           `json:"id"`
	WindowStart uint16          `json:"window_start"`
	WindowCount uint16          `json:"window_count"`
	Coils       map[string]bool `json:"coils"`
}

// SlavesHandler lists every registered slave with its poll window and
// last known coil state.
func (h *Handler) SlavesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	slaves := h.hub.Slaves()
	out := make([]slaveSummary, 0, len(slaves))
	for _, slave := range slaves {
		summary := slaveSummary{ID: uint8(slave)}
		if window, ok := h.hub.Window(slave); ok {
			summary.WindowStart = uint16(window.Start)
			summary.WindowCount = window.Count
		}
		summary.Coils = coilsJSON(h.hub.CurrentState(slave))
		out = append(out, summary)
	}
	writeJSON(w, http.StatusOK, out)
}

type writeRequest struct {
	Value bool `json:"value"`
}

type writeResponse struct {
	Slave   uint8  `json:"slave"`
	Address uint16 `json:"address"`
	Value   bool   `json:"value"`
	Success bool   `json:"success"`
}

// SlaveHandler serves GET /slaves/{id} and POST /slaves/{id}/coils/{addr}.
func (h *Handler) SlaveHandler(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/slaves/"), "/"), "/")

	slave, ok := parseSlaveID(parts[0])
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid slave id")
		return
	}

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		summary := slaveSummary{ID: uint8(slave), Coils: coilsJSON(h.hub.CurrentState(slave))}
		if window, found := h.hub.Window(slave); found {
			summary.WindowStart = uint16(window.Start)
			summary.WindowCount = window.Count
		}
		writeJSON(w, http.StatusOK, summary)

	case len(parts) == 3 && parts[1] == "coils" && r.Method == http.MethodPost:
		addr, err := strconv.ParseUint(parts[2], 10, 16)
		if err != nil || addr > uint64(domain.MaxAddress) {
			writeError(w, http.StatusBadRequest, "invalid coil address")
			return
		}

		var req writeRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1024)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		success := h.hub.Write(r.Context(), slave, domain.Address(addr), req.Value)
		status := http.StatusOK
		if !success {
			status = http.StatusBadGateway
		}
		writeJSON(w, status, writeResponse{
			Slave:   uint8(slave),
			Address: uint16(addr),
			Value:   req.Value,
			Success: success,
		})

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func parseSlaveID(raw string) (domain.SlaveID, bool) {
	id, err := strconv.ParseUint(raw, 10, 8)
	if err != nil || !domain.ValidSlaveID(domain.SlaveID(id)) {
		return 0, false
	}
	return domain.SlaveID(id), true
}

func coilsJSON(states domain.CoilState) map[string]bool {
	out := make(map[string]bool, len(states))
	for addr, value := range states {
		out[strconv.Itoa(int(addr))] = value
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
