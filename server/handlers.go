package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/onnwee/chatlens/chat"
	"github.com/onnwee/chatlens/speech"
)

// maxBodyBytes caps request bodies accepted by the API.
const maxBodyBytes = 64 << 10

// Orchestrator is the part of the chat orchestrator the API drives.
type Orchestrator interface {
	Ready() bool
	Snapshot(ctx context.Context) (chat.Snapshot, error)
	Reset(ctx context.Context, reason string) error
	VoiceReply(ctx context.Context, transcript string) (string, error)
}

// Deps are the collaborators the handlers need. Feed is optional; without
// it transcripts go straight to the voice reply.
type Deps struct {
	Orchestrator Orchestrator
	Running      func() bool
	Feed         *speech.Feed
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	orch      Orchestrator
	running   func() bool
	feed      *speech.Feed
	startedAt time.Time
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(deps Deps) *Handlers {
	running := deps.Running
	if running == nil {
		running = func() bool { return true }
	}
	return &Handlers{
		orch:      deps.Orchestrator,
		running:   running,
		feed:      deps.Feed,
		startedAt: time.Now(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func allowMethod(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	return false
}
