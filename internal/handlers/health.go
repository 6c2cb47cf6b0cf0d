package handlers

import (
	"net/http"
	"time"

	"github.com/hanko-field/pos/internal/platform/httpx"
)

// HealthHandlers answers liveness probes.
type HealthHandlers struct {
	startedAt  time.Time
	clock      func() time.Time
	terminalID string
	version    string
}

// HealthOption customises HealthHandlers.
type HealthOption func(*HealthHandlers)

// WithHealthClock overrides the clock.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// WithHealthInfo adds the terminal id and build version to the payload.
func WithHealthInfo(terminalID, version string) HealthOption {
	return func(h *HealthHandlers) {
		h.terminalID = terminalID
		h.version = version
	}
}

// NewHealthHandlers constructs the health endpoint.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	h.startedAt = h.clock()
	return h
}

// Healthz reports the process as up.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, _ *http.Request) {
	now := h.clock()
	payload := map[string]any{
		"status":    "ok",
		"uptime":    now.Sub(h.startedAt).Round(time.Second).String(),
		"timestamp": now.UTC().Format(time.RFC3339),
	}
	if h.terminalID != "" {
		payload["terminalId"] = h.terminalID
	}
	if h.version != "" {
		payload["version"] = h.version
	}
	w.Header().Set("Cache-Control", "no-store")
	httpx.WriteJSON(w, http.StatusOK, payload)
}
