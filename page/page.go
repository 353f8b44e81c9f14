// Package page runs the host page's single logical UI thread.
//
// A Page owns a dom.Document and a task queue. Every read or write of the
// document happens inside a task; after each task the page runs a mutation
// checkpoint that hands queued mutation records to their observers, the
// equivalent of a browser draining its microtasks. Work that blocks
// (network calls) runs on other goroutines and posts its continuation back
// with Post.
package page

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/onnwee/chatlens/dom"
)

// ErrClosed is returned when a task is submitted to a page that stopped.
var ErrClosed = errors.New("page: closed")

const (
	taskQueueSize = 1024
	// upper bound on observer delivery passes per checkpoint
	maxDeliveryRounds = 16
)

// Page is the event loop around a document.
type Page struct {
	doc     *dom.Document
	tasks   chan func()
	done    chan struct{}
	running atomic.Bool

	mu       sync.RWMutex
	location string
}

// New creates a page for doc at the given navigation location.
func New(doc *dom.Document, location string) *Page {
	if doc == nil {
		doc = dom.New()
	}
	return &Page{
		doc:      doc,
		tasks:    make(chan func(), taskQueueSize),
		done:     make(chan struct{}),
		location: location,
	}
}

// Document returns the page's document. Only touch it from inside a task.
func (p *Page) Document() *dom.Document { return p.doc }

// Location returns the current navigation location. Safe from any goroutine.
func (p *Page) Location() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.location
}

// Navigate changes the navigation location. The document is left as is,
// like a single-page app changing its URL.
func (p *Page) Navigate(location string) {
	p.mu.Lock()
	p.location = location
	p.mu.Unlock()
}

// Running reports whether Run is active.
func (p *Page) Running() bool {
	if !p.running.Load() {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Done is closed once Run returns.
func (p *Page) Done() <-chan struct{} { return p.done }

// Post queues fn to run on the loop. It returns false once the page stopped.
// Never call Post from inside a task with a full queue; tasks post only
// from other goroutines.
func (p *Page) Post(fn func()) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case <-p.done:
		return false
	case p.tasks <- fn:
		return true
	}
}

// Call runs fn on the loop and waits for it to finish.
func (p *Page) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !p.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrClosed
		}
	}
}

// Every posts fn to the loop on a fixed interval until ctx is done or the
// page stops.
func (p *Page) Every(ctx context.Context, interval time.Duration, fn func()) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.done:
				return
			case <-ticker.C:
				if !p.Post(fn) {
					return
				}
			}
		}
	}()
}

// Run executes tasks until ctx is canceled. A page runs at most once.
func (p *Page) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return errors.New("page: already running")
	}
	defer close(p.done)
	slog.Debug("page loop started", slog.String("location", p.Location()), slog.String("component", "page"))
	for {
		select {
		case <-ctx.Done():
			slog.Debug("page loop stopped", slog.String("component", "page"))
			return nil
		case fn := <-p.tasks:
			p.safely(fn)
			p.checkpoint()
		}
	}
}

func (p *Page) checkpoint() {
	for i := 0; i < maxDeliveryRounds; i++ {
		delivered := 0
		p.safely(func() { delivered = p.doc.Deliver() })
		if delivered == 0 {
			return
		}
	}
	slog.Warn("mutation delivery did not settle", slog.Int("rounds", maxDeliveryRounds), slog.Int("pending", p.doc.PendingRecords()), slog.String("component", "page"))
}

// safely runs fn, turning a panic into a log line so one bad task cannot
// take the loop down.
func (p *Page) safely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("page task panicked", slog.Any("panic", r), slog.String("component", "page"))
		}
	}()
	fn()
}

// ThreadKey derives the conversation identity from a location: its path
// and query string.
func ThreadKey(location string) string {
	u, err := url.Parse(location)
	if err != nil {
		return location
	}
	search := ""
	if u.RawQuery != "" {
		search = "?" + u.RawQuery
	}
	return u.Path + "::" + search
}
