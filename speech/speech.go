// Package speech is the speech-to-text bridge consumed by the voice reply.
// Recognition itself happens elsewhere; this package only carries final
// transcripts to the orchestrator.
package speech

import (
	"context"
	"errors"
	"strings"
	"sync"

	"golang.org/x/text/language"
)

// ErrUnsupported is returned when no recognizer is available.
var ErrUnsupported = errors.New("speech recognition is not supported")

// EventKind is the type of a recognizer event.
type EventKind int

const (
	EventResult EventKind = iota + 1
	EventEnd
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventResult:
		return "result"
	case EventEnd:
		return "end"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is emitted by a Recognizer.
type Event struct {
	Kind       EventKind
	Transcript string
	Err        error
}

// Config configures a recognizer.
type Config struct {
	Language       string
	InterimResults bool
}

// Recognizer produces events until stopped. Events is closed after the
// final End event.
type Recognizer interface {
	Start(ctx context.Context) error
	Events() <-chan Event
	Stop()
}

// Bridge creates recognizers.
type Bridge interface {
	Supported() bool
	NewRecognizer(cfg Config) (Recognizer, error)
}

// Unsupported is a Bridge with no recognition available.
type Unsupported struct{}

func (Unsupported) Supported() bool { return false }

func (Unsupported) NewRecognizer(Config) (Recognizer, error) { return nil, ErrUnsupported }

const feedBuffer = 16

// Feed is a Bridge whose transcripts are pushed in from outside, for
// example by an HTTP endpoint fronting a client-side recognizer.
type Feed struct {
	mu   sync.Mutex
	subs map[*feedRecognizer]struct{}
}

// NewFeed returns a Feed with no listeners.
func NewFeed() *Feed {
	return &Feed{subs: make(map[*feedRecognizer]struct{})}
}

func (f *Feed) Supported() bool { return true }

func (f *Feed) NewRecognizer(cfg Config) (Recognizer, error) {
	if cfg.Language == "" {
		cfg.Language = "ja-JP"
	}
	return &feedRecognizer{feed: f, cfg: cfg, events: make(chan Event, feedBuffer), done: make(chan struct{})}, nil
}

// Push delivers a final transcript to every started recognizer whose
// base language matches lang (an empty lang matches all). It returns how
// many recognizers received it. Blank transcripts are dropped.
func (f *Feed) Push(transcript, lang string) int {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return 0
	}
	return f.send(Event{Kind: EventResult, Transcript: transcript}, lang)
}

// Fail delivers an error event to every started recognizer.
func (f *Feed) Fail(err error) int {
	return f.send(Event{Kind: EventError, Err: err}, "")
}

// Listeners returns the number of started recognizers.
func (f *Feed) Listeners() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *Feed) send(ev Event, lang string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	delivered := 0
	for r := range f.subs {
		if lang != "" && !sameBase(lang, r.cfg.Language) {
			continue
		}
		select {
		case r.events <- ev:
			delivered++
		default:
		}
	}
	return delivered
}

// sameBase compares the base languages of two tags, so "ja" matches "ja-JP".
// Unparseable tags fall back to a case-insensitive compare.
func sameBase(a, b string) bool {
	ta, errA := language.Parse(a)
	tb, errB := language.Parse(b)
	if errA != nil || errB != nil {
		return strings.EqualFold(a, b)
	}
	ba, _ := ta.Base()
	bb, _ := tb.Base()
	return ba == bb
}

type feedRecognizer struct {
	feed    *Feed
	cfg     Config
	events  chan Event
	done    chan struct{}
	startMu sync.Mutex
	started bool
	stop    sync.Once
}

func (r *feedRecognizer) Start(ctx context.Context) error {
	r.startMu.Lock()
	defer r.startMu.Unlock()
	if r.started {
		return errors.New("speech: recognizer already started")
	}
	r.started = true
	r.feed.mu.Lock()
	r.feed.subs[r] = struct{}{}
	r.feed.mu.Unlock()
	go func() {
		select {
		case <-ctx.Done():
			r.Stop()
		case <-r.done:
		}
	}()
	return nil
}

func (r *feedRecognizer) Events() <-chan Event { return r.events }

func (r *feedRecognizer) Stop() {
	r.stop.Do(func() {
		r.feed.mu.Lock()
		delete(r.feed.subs, r)
		r.feed.mu.Unlock()
		select {
		case r.events <- Event{Kind: EventEnd}:
		default:
		}
		close(r.events)
		close(r.done)
	})
}
