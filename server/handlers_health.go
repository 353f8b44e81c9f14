package server

import (
	"errors"
	"net/http"
)

// HandleHealthz answers liveness checks: the page loop runs.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if !h.running() {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness checks: the page loop runs and
// a message list is bound.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"page_loop", func() error {
			if !h.running() {
				return errors.New("page loop not running")
			}
			return nil
		}},
		{"message_list", func() error {
			if h.orch == nil || !h.orch.Ready() {
				return errors.New("message list not found")
			}
			return nil
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
