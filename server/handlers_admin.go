package server

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/onnwee/chatlens/telemetry"
)

// HandleStatus reports the orchestrator snapshot.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	if h.orch == nil {
		http.Error(w, "orchestrator unavailable", http.StatusServiceUnavailable)
		return
	}
	snap, err := h.orch.Snapshot(r.Context())
	if err != nil {
		http.Error(w, "snapshot unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"snapshot":       snap,
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
	})
}

// HandleAdminReset forces a thread reset: overlays and status attributes are
// stripped, in-flight requests canceled and the translation cache cleared.
func (h *Handlers) HandleAdminReset(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	if h.orch == nil {
		http.Error(w, "orchestrator unavailable", http.StatusServiceUnavailable)
		return
	}
	reason := strings.TrimSpace(r.URL.Query().Get("reason"))
	if reason == "" {
		reason = "admin request"
	}
	if err := h.orch.Reset(r.Context(), reason); err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("admin reset failed", slog.Any("err", err), slog.String("component", "http"))
		http.Error(w, "reset failed", http.StatusServiceUnavailable)
		return
	}
	telemetry.LoggerWithCorr(r.Context()).Info("admin reset", slog.String("reason", reason), slog.String("component", "http"))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "reason": reason})
}
