package chat

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/text/language"

	"github.com/onnwee/chatlens/dom"
	"github.com/onnwee/chatlens/locator"
	"github.com/onnwee/chatlens/overlay"
	"github.com/onnwee/chatlens/page"
	"github.com/onnwee/chatlens/telemetry"
	"github.com/onnwee/chatlens/translator"
)

// Attributes written on message elements.
const (
	OriginalTextAttr = "data-ai-original-text"
	StatusAttr       = "data-ai-translation-status"
)

// Status is the translation status recorded on a message element.
type Status string

const (
	StatusNone    Status = ""
	StatusPending Status = "pending"
	StatusDone    Status = "done"
	StatusSkipped Status = "skipped"
	StatusError   Status = "error"
)

const (
	defaultTargetLanguage = "ja"
	defaultVoiceLanguage  = "ja-JP"
	defaultReplyLanguage  = "en"
	defaultRescan         = 3 * time.Second
	defaultThreadCheck    = 2 * time.Second
	cacheClearTimeout     = 2 * time.Second
)

// Options configures an Orchestrator. Zero values take defaults.
type Options struct {
	TargetLanguage      string // incoming messages are translated into this
	SourceLanguage      string // hint sent with incoming messages; empty means auto
	VoiceLanguage       string // recognizer language, e.g. ja-JP
	ReplyLanguage       string // voice reply target before anything was detected
	RescanInterval      time.Duration
	ThreadCheckInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.TargetLanguage == "" {
		o.TargetLanguage = defaultTargetLanguage
	}
	if o.SourceLanguage == "" {
		o.SourceLanguage = translator.AutoDetect
	}
	if o.VoiceLanguage == "" {
		o.VoiceLanguage = defaultVoiceLanguage
	}
	if o.ReplyLanguage == "" {
		o.ReplyLanguage = defaultReplyLanguage
	}
	if o.RescanInterval <= 0 {
		o.RescanInterval = defaultRescan
	}
	if o.ThreadCheckInterval <= 0 {
		o.ThreadCheckInterval = defaultThreadCheck
	}
	return o
}

// session is the state scoped to one conversation thread. It is replaced
// wholesale on reset.
type session struct {
	registry     *Registry
	lastDetected string
	listRoot     *html.Node
	discovery    *dom.Observer
	messages     *dom.Observer
}

func newSession(lastDetected string) *session {
	return &session{registry: NewRegistry(), lastDetected: lastDetected}
}

// Orchestrator ties the locator, overlays and translator together on a page.
// Unless noted otherwise its methods must run on the page loop.
type Orchestrator struct {
	page     *page.Page
	doc      *dom.Document
	loc      *locator.Locator
	overlays *overlay.Manager
	tr       translator.Translator
	opts     Options

	threadKey string
	sess      *session
	active    atomic.Pointer[Registry]
	baseCtx   context.Context

	bound    atomic.Bool
	inflight sync.WaitGroup
	log      *slog.Logger
}

// New creates an orchestrator. Nothing happens until Start or Run.
func New(p *page.Page, loc *locator.Locator, overlays *overlay.Manager, tr translator.Translator, opts Options) *Orchestrator {
	opts = opts.withDefaults()
	o := &Orchestrator{
		page:     p,
		doc:      p.Document(),
		loc:      loc,
		overlays: overlays,
		tr:       tr,
		opts:     opts,
		sess:     newSession(opts.ReplyLanguage),
		baseCtx:  context.Background(),
		log:      slog.Default().With(slog.String("component", "chat")),
	}
	o.active.Store(o.sess.registry)
	return o
}

// Run starts the orchestrator on the page loop, schedules the rescan and
// thread timers and blocks until ctx is done. In-flight requests are
// canceled before it returns.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.page.Call(ctx, func() {
		o.baseCtx = ctx
		o.Start()
	}); err != nil {
		return err
	}
	o.page.Every(ctx, o.opts.RescanInterval, o.Rescan)
	o.page.Every(ctx, o.opts.ThreadCheckInterval, o.CheckThread)
	o.log.Info("orchestrator started",
		slog.String("target_language", o.opts.TargetLanguage),
		slog.Duration("rescan", o.opts.RescanInterval),
		slog.Duration("thread_check", o.opts.ThreadCheckInterval))

	<-ctx.Done()
	n := o.active.Load().CancelAll()
	o.inflight.Wait()
	o.log.Info("orchestrator stopped", slog.Int("canceled", n))
	return nil
}

// Start records the current thread, begins list discovery and processes
// whatever is already rendered.
func (o *Orchestrator) Start() {
	o.threadKey = page.ThreadKey(o.page.Location())
	o.watchForList()
	o.Rescan()
}

// Process runs the per-message protocol for one message element.
func (o *Orchestrator) Process(el *html.Node) {
	if el == nil || !dom.IsElement(el) {
		return
	}
	telemetry.IncMessagesProcessed()
	reg := o.sess.registry

	if !o.loc.IsIncoming(el) {
		reg.Cancel(el)
		o.overlays.Remove(el)
		o.clearMarks(el)
		telemetry.SetPending(reg.Len())
		return
	}

	text := o.loc.Text(o.loc.ContentElement(el))
	if text == "" {
		return
	}

	stored, hasStored := dom.Attr(el, OriginalTextAttr)
	if hasStored && stored == text {
		switch Status(dom.AttrValue(el, StatusAttr)) {
		case StatusDone, StatusSkipped:
			return
		case StatusPending:
			if reg.Has(el) {
				return
			}
		}
	}

	reg.Cancel(el)
	ov := o.overlays.Ensure(el)
	o.doc.SetAttr(el, OriginalTextAttr, text)
	o.doc.SetAttr(el, StatusAttr, string(StatusPending))
	ov.SetOriginal(text)
	ov.SetPending()

	ctx, cancel := context.WithCancel(o.baseCtx)
	id := reg.Register(el, cancel)
	telemetry.SetPending(reg.Len())

	target, source := o.opts.TargetLanguage, o.opts.SourceLanguage
	o.inflight.Add(1)
	go func() {
		defer o.inflight.Done()
		res, err := o.tr.Translate(ctx, text, target, source)
		if !o.page.Post(func() { o.complete(reg, el, id, text, res, err) }) {
			cancel()
		}
	}()
}

// complete applies a finished request if it is still current.
func (o *Orchestrator) complete(reg *Registry, el *html.Node, id uint64, text string, res translator.Result, err error) {
	current := reg.Current(el) == id
	defer func() {
		if reg.Release(el, id) {
			telemetry.SetPending(reg.Len())
		}
	}()

	if translator.IsCanceled(err) {
		telemetry.RecordOutcome("canceled")
		return
	}
	if reg != o.sess.registry || !current || dom.AttrValue(el, OriginalTextAttr) != text {
		o.log.Debug("dropping superseded translation", slog.Uint64("request", id))
		return
	}

	if err != nil {
		o.log.Warn("translation failed",
			slog.String("kind", string(translator.Classify(err))),
			slog.Any("err", err))
		ov := o.overlays.Ensure(el)
		ov.SetOriginal(text)
		ov.SetError()
		o.doc.SetAttr(el, StatusAttr, string(StatusError))
		telemetry.RecordOutcome(string(StatusError))
		return
	}

	if o.shouldSkip(text, res) {
		o.overlays.Remove(el)
		o.doc.SetAttr(el, StatusAttr, string(StatusSkipped))
		telemetry.RecordOutcome(string(StatusSkipped))
		return
	}
	if detected := res.DetectedSourceLanguage; detected != "" && detected != translator.AutoDetect {
		o.sess.lastDetected = detected
	}

	ov := o.overlays.Ensure(el)
	ov.SetOriginal(text)
	ov.SetResult(res.TranslatedText, res.DetectedSourceLanguage)
	o.doc.SetAttr(el, StatusAttr, string(StatusDone))
	telemetry.RecordOutcome(string(StatusDone))
}

// shouldSkip reports whether a result adds nothing over the original: it is
// empty, already in the target language, or identical to the original.
func (o *Orchestrator) shouldSkip(original string, res translator.Result) bool {
	translated := strings.TrimSpace(res.TranslatedText)
	if translated == "" {
		return true
	}
	if SameLanguage(res.DetectedSourceLanguage, o.opts.TargetLanguage) {
		return true
	}
	return translated == strings.TrimSpace(original)
}

// SameLanguage compares the base languages of two tags, so ja-JP equals ja.
// Unknown or auto tags never match.
func SameLanguage(a, b string) bool {
	if a == "" || b == "" || strings.EqualFold(a, translator.AutoDetect) || strings.EqualFold(b, translator.AutoDetect) {
		return false
	}
	ta, errA := language.Parse(a)
	tb, errB := language.Parse(b)
	if errA != nil || errB != nil {
		return strings.EqualFold(a, b)
	}
	ba, _ := ta.Base()
	bb, _ := tb.Base()
	return ba == bb
}

func (o *Orchestrator) clearMarks(el *html.Node) {
	o.doc.RemoveAttr(el, OriginalTextAttr)
	o.doc.RemoveAttr(el, StatusAttr)
}
