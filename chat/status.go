package chat

import (
	"context"

	"golang.org/x/net/html"

	"github.com/onnwee/chatlens/dom"
)

// Snapshot is a point-in-time view of the orchestrator for the status endpoint.
type Snapshot struct {
	Location             string         `json:"location"`
	ThreadKey            string         `json:"thread_key"`
	ListBound            bool           `json:"list_bound"`
	PendingRequests      int            `json:"pending_requests"`
	LastDetectedLanguage string         `json:"last_detected_language"`
	TargetLanguage       string         `json:"target_language"`
	Statuses             map[Status]int `json:"statuses"`
}

// Ready reports whether a message list is bound. Safe from any goroutine.
func (o *Orchestrator) Ready() bool { return o.bound.Load() }

// Snapshot collects the current state on the page loop.
func (o *Orchestrator) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := o.page.Call(ctx, func() {
		s := o.sess
		snap = Snapshot{
			Location:             o.page.Location(),
			ThreadKey:            o.threadKey,
			ListBound:            s.listRoot != nil,
			PendingRequests:      s.registry.Len(),
			LastDetectedLanguage: s.lastDetected,
			TargetLanguage:       o.opts.TargetLanguage,
			Statuses:             make(map[Status]int),
		}
		if s.listRoot != nil {
			countStatuses(s.listRoot, snap.Statuses)
		}
	})
	return snap, err
}

func countStatuses(n *html.Node, out map[Status]int) {
	if dom.IsElement(n) {
		if v, ok := dom.Attr(n, StatusAttr); ok {
			out[Status(v)]++
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		countStatuses(c, out)
	}
}
