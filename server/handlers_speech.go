package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/onnwee/chatlens/chat"
	"github.com/onnwee/chatlens/telemetry"
)

type transcriptRequest struct {
	Transcript string `json:"transcript"`
	Language   string `json:"language"`
}

// HandleSpeechTranscript accepts a final speech transcript. When a
// recognizer is listening on the feed the transcript is queued for it;
// otherwise the voice reply runs inline and its text is returned.
func (h *Handlers) HandleSpeechTranscript(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req transcriptRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Transcript = strings.TrimSpace(req.Transcript)
	if req.Transcript == "" {
		http.Error(w, "transcript is required", http.StatusBadRequest)
		return
	}

	if h.feed != nil {
		if n := h.feed.Push(req.Transcript, req.Language); n > 0 {
			writeJSON(w, http.StatusAccepted, map[string]any{"status": "queued", "delivered": n})
			return
		}
	}
	if h.orch == nil {
		http.Error(w, "voice reply unavailable", http.StatusServiceUnavailable)
		return
	}

	text, err := h.orch.VoiceReply(r.Context(), req.Transcript)
	switch {
	case errors.Is(err, chat.ErrNoInput):
		http.Error(w, "message input not found", http.StatusConflict)
		return
	case err != nil:
		telemetry.LoggerWithCorr(r.Context()).Warn("voice reply failed", slog.Any("err", err), slog.String("component", "http"))
		http.Error(w, "voice reply failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "text": text})
}
