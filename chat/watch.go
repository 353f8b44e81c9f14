package chat

import (
	"context"
	"log/slog"

	"golang.org/x/net/html"

	"github.com/onnwee/chatlens/dom"
	"github.com/onnwee/chatlens/overlay"
	"github.com/onnwee/chatlens/page"
	"github.com/onnwee/chatlens/telemetry"
)

// watchForList binds to the message list if it exists, otherwise observes
// the whole document until it appears.
func (o *Orchestrator) watchForList() {
	if root := o.loc.FindListRoot(); root != nil {
		o.attach(root)
		return
	}
	s := o.sess
	if s.discovery != nil {
		return
	}
	s.discovery = o.doc.NewObserver(func([]dom.MutationRecord) {
		root := o.loc.FindListRoot()
		if root == nil {
			return
		}
		if s.discovery != nil {
			s.discovery.Disconnect()
			s.discovery = nil
		}
		o.attach(root)
	})
	s.discovery.Observe(o.doc.Root(), dom.ObserveOptions{ChildList: true, Subtree: true})
	o.log.Debug("waiting for message list")
}

func (o *Orchestrator) attach(root *html.Node) {
	s := o.sess
	if root == nil || root == s.listRoot {
		return
	}
	if s.messages != nil {
		s.messages.Disconnect()
	}
	s.listRoot = root
	s.messages = o.doc.NewObserver(o.HandleMutations)
	s.messages.Observe(root, dom.ObserveOptions{ChildList: true, CharacterData: true, Subtree: true})
	o.bound.Store(true)
	o.log.Info("message list bound", slog.String("thread", o.threadKey))
	o.processAll(root)
}

// HandleMutations reduces a batch of records to the set of affected message
// elements and processes each of them once.
func (o *Orchestrator) HandleMutations(records []dom.MutationRecord) {
	telemetry.IncMutationBatches()
	var (
		seen    = make(map[*html.Node]struct{})
		ordered []*html.Node
	)
	add := func(n *html.Node) {
		msg := o.loc.Container(n)
		if msg == nil {
			return
		}
		if _, ok := seen[msg]; ok {
			return
		}
		seen[msg] = struct{}{}
		ordered = append(ordered, msg)
	}

	for _, rec := range records {
		if overlay.Within(rec.Target) {
			continue
		}
		switch rec.Kind {
		case dom.ChildList:
			for _, n := range rec.Added {
				if overlay.Within(n) {
					continue
				}
				add(n)
				for _, item := range o.loc.ItemsUnder(n) {
					add(item)
				}
			}
		case dom.CharacterData:
			add(rec.Target)
		}
	}

	root := o.sess.listRoot
	for _, el := range ordered {
		if root != nil && !dom.IsAncestorOrSelf(root, el) {
			continue
		}
		o.Process(el)
	}
}

// Rescan processes every message currently in the list.
func (o *Orchestrator) Rescan() {
	root := o.sess.listRoot
	if root == nil {
		root = o.loc.FindListRoot()
	}
	if root == nil {
		return
	}
	o.processAll(root)
}

func (o *Orchestrator) processAll(root *html.Node) {
	for _, el := range o.loc.CollectMessages(root) {
		o.Process(el)
	}
}

// CheckThread resets the orchestrator when the page location moved to
// another thread or the bound list left the document.
func (o *Orchestrator) CheckThread() {
	key := page.ThreadKey(o.page.Location())
	if key != o.threadKey {
		prev := o.threadKey
		o.threadKey = key
		o.reset("thread changed", slog.String("from", prev), slog.String("to", key))
		return
	}
	if root := o.sess.listRoot; root != nil && !o.doc.Contains(root) {
		o.reset("message list detached")
	}
}

// Reset forces a full reset from outside the page loop.
func (o *Orchestrator) Reset(ctx context.Context, reason string) error {
	return o.page.Call(ctx, func() { o.reset(reason) })
}

func (o *Orchestrator) reset(reason string, attrs ...any) {
	s := o.sess
	removed := 0
	if s.listRoot != nil {
		removed = o.overlays.RemoveAll(s.listRoot)
		o.stripMarks(s.listRoot)
	}
	if s.messages != nil {
		s.messages.Disconnect()
	}
	if s.discovery != nil {
		s.discovery.Disconnect()
	}
	canceled := s.registry.CancelAll()
	o.clearCache()

	// the reply language follows the user across threads
	o.sess = newSession(s.lastDetected)
	o.active.Store(o.sess.registry)
	o.bound.Store(false)
	telemetry.IncThreadResets()
	telemetry.SetPending(0)
	o.log.Info("thread reset", append([]any{
		slog.String("reason", reason),
		slog.Int("overlays_removed", removed),
		slog.Int("requests_canceled", canceled),
	}, attrs...)...)

	o.watchForList()
}

// clearCache empties the translation cache off the page loop.
func (o *Orchestrator) clearCache() {
	base := o.baseCtx
	o.inflight.Add(1)
	go func() {
		defer o.inflight.Done()
		ctx, cancel := context.WithTimeout(base, cacheClearTimeout)
		defer cancel()
		if err := o.tr.ClearCache(ctx); err != nil {
			o.log.Warn("clear translation cache", slog.Any("err", err))
		}
	}()
}

func (o *Orchestrator) stripMarks(n *html.Node) {
	if dom.IsElement(n) {
		o.clearMarks(n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		o.stripMarks(c)
	}
}
