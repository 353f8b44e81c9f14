package chat

import (
	"context"
	"testing"
	"time"

	"golang.org/x/net/html"

	"github.com/onnwee/chatlens/dom"
	"github.com/onnwee/chatlens/locator"
	"github.com/onnwee/chatlens/overlay"
	"github.com/onnwee/chatlens/page"
	"github.com/onnwee/chatlens/testutil"
	"github.com/onnwee/chatlens/translator"
)

const threadA = "https://chat.example.com/c/1?thread=a"

type harness struct {
	t    *testing.T
	page *page.Page
	doc  *dom.Document
	tr   *testutil.StubTranslator
	orch *Orchestrator
	mgr  *overlay.Manager
}

func newHarness(t *testing.T, markup string, opts Options) *harness {
	t.Helper()
	doc, err := dom.ParseString(markup)
	if err != nil {
		t.Fatalf("ParseString: %v", err)
	}
	p := page.New(doc, threadA)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = p.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-p.Done()
	})

	loc := locator.New(doc, locator.DefaultHints(), locator.WithExclude(overlay.Within))
	mgr := overlay.NewManager(doc, loc.ContentElement, overlay.NewMessages("en"))
	tr := testutil.NewStubTranslator()
	return &harness{t: t, page: p, doc: doc, tr: tr, mgr: mgr, orch: New(p, loc, mgr, tr, opts)}
}

// do runs fn on the page loop, including the mutation checkpoint after it.
func (h *harness) do(fn func()) {
	h.t.Helper()
	if err := h.page.Call(context.Background(), fn); err != nil {
		h.t.Fatalf("page.Call: %v", err)
	}
	// a second round trip lets the checkpoint after fn finish
	if err := h.page.Call(context.Background(), func() {}); err != nil {
		h.t.Fatalf("page.Call: %v", err)
	}
}

func (h *harness) start() { h.do(h.orch.Start) }

func (h *harness) byID(id string) *html.Node {
	return dom.MustCompile("#" + id).QueryFirst(h.doc.Root())
}

func (h *harness) status(id string) Status {
	var s Status
	h.do(func() { s = Status(dom.AttrValue(h.byID(id), StatusAttr)) })
	return s
}

func (h *harness) waitStatus(id string, want Status) {
	h.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		got := h.status(id)
		if got == want {
			return
		}
		if time.Now().After(deadline) {
			h.t.Fatalf("status of #%s = %q, want %q", id, got, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (h *harness) overlayOf(id string) *overlay.Overlay {
	var ov *overlay.Overlay
	h.do(func() { ov = h.mgr.Find(h.byID(id)) })
	return ov
}

func incoming(id, text string) string {
	return `<div class="chat-message" data-is-self="false" id="` + id + `"><span class="message-text" id="` + id + `-text">` + text + `</span></div>`
}

func outgoing(id, text string) string {
	return `<div class="chat-message" data-is-self="true" id="` + id + `"><span class="message-text">` + text + `</span></div>`
}

func chatPage(messages ...string) string {
	s := `<html><body><div class="message-list" id="list">`
	for _, m := range messages {
		s += m
	}
	return s + `</div><textarea id="reply"></textarea></body></html>`
}

func TestTranslatesIncomingMessage(t *testing.T) {
	h := newHarness(t, chatPage(incoming("m1", "こんにちは"), outgoing("me", "hello")), Options{TargetLanguage: "en"})
	h.tr.Set("こんにちは", translator.Result{TranslatedText: "Hello", DetectedSourceLanguage: "ja"})
	h.start()

	h.waitStatus("m1", StatusDone)
	ov := h.overlayOf("m1")
	if ov == nil {
		t.Fatal("no overlay on incoming message")
	}
	var translation, original, lang string
	var state overlay.State
	h.do(func() {
		translation, original, lang, state = ov.Translation(), ov.Original(), ov.SourceLanguage(), ov.State()
	})
	if translation != "Hello" || original != "こんにちは" || lang != "ja" || state != overlay.StateDone {
		t.Errorf("overlay = %q / %q / %q / %v", translation, original, lang, state)
	}
	if h.overlayOf("me") != nil || h.status("me") != StatusNone {
		t.Error("outgoing message was touched")
	}

	calls := h.tr.Calls()
	if len(calls) != 1 {
		t.Fatalf("translate calls = %d, want 1", len(calls))
	}
	if calls[0].Text != "こんにちは" || calls[0].Target != "en" || calls[0].Source != translator.AutoDetect {
		t.Errorf("call = %+v", calls[0])
	}

	snap, err := h.orch.Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if snap.LastDetectedLanguage != "ja" || !snap.ListBound || snap.Statuses[StatusDone] != 1 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestSkipsTranslationsThatAddNothing(t *testing.T) {
	h := newHarness(t, chatPage(
		incoming("same", "元気ですか"),
		incoming("regional", "hi there"),
		incoming("empty", "…"),
	), Options{TargetLanguage: "ja"})
	h.tr.Set("hi there", translator.Result{TranslatedText: "やあ", DetectedSourceLanguage: "ja-JP"})
	h.tr.Set("…", translator.Result{TranslatedText: "  ", DetectedSourceLanguage: "en"})
	h.start()

	for _, id := range []string{"same", "regional", "empty"} {
		h.waitStatus(id, StatusSkipped)
		if h.overlayOf(id) != nil {
			t.Errorf("#%s kept an overlay after being skipped", id)
		}
	}

	snap, _ := h.orch.Snapshot(context.Background())
	if snap.LastDetectedLanguage != defaultReplyLanguage {
		t.Errorf("skipped results changed the reply language to %q", snap.LastDetectedLanguage)
	}
}

func TestSameLanguage(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"ja", "ja", true},
		{"ja-JP", "ja", true},
		{"zh-TW", "zh-CN", true},
		{"en", "ja", false},
		{"auto", "auto", false},
		{"", "ja", false},
		{"xx-invalid-tag", "xx-invalid-tag", true},
	}
	for _, tt := range tests {
		if got := SameLanguage(tt.a, tt.b); got != tt.want {
			t.Errorf("SameLanguage(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestFailedTranslationShowsError(t *testing.T) {
	h := newHarness(t, chatPage(incoming("m1", "bonjour")), Options{})
	h.tr.Fail("bonjour", &translator.StatusError{StatusCode: 500})
	h.start()

	h.waitStatus("m1", StatusError)
	ov := h.overlayOf("m1")
	var state overlay.State
	var original string
	h.do(func() { state, original = ov.State(), ov.Original() })
	if state != overlay.StateError || original != "bonjour" {
		t.Errorf("state = %v, original = %q", state, original)
	}
}

func TestRescanLeavesPendingRequestAlone(t *testing.T) {
	h := newHarness(t, chatPage(incoming("m1", "slow")), Options{})
	h.tr.Set("slow", translator.Result{TranslatedText: "ゆっくり", DetectedSourceLanguage: "en"})
	release := h.tr.Block("slow")
	h.start()
	if !h.tr.WaitCalls(1, 2*time.Second) {
		t.Fatal("no translation started")
	}

	h.do(h.orch.Rescan)
	h.do(h.orch.Rescan)
	if n := len(h.tr.Calls()); n != 1 {
		t.Fatalf("rescan restarted the request: %d calls", n)
	}
	if h.status("m1") != StatusPending {
		t.Errorf("status = %q, want pending", h.status("m1"))
	}

	release()
	h.waitStatus("m1", StatusDone)
	h.do(h.orch.Rescan)
	if n := len(h.tr.Calls()); n != 1 {
		t.Errorf("done message translated again: %d calls", n)
	}
}

func TestEditedMessageDiscardsStaleResult(t *testing.T) {
	h := newHarness(t, chatPage(incoming("m1", "first")), Options{})
	h.tr.Set("first", translator.Result{TranslatedText: "FIRST", DetectedSourceLanguage: "en"})
	h.tr.Set("second", translator.Result{TranslatedText: "SECOND", DetectedSourceLanguage: "en"})
	release := h.tr.Block("first")
	defer release()
	h.start()
	if !h.tr.WaitCalls(1, 2*time.Second) {
		t.Fatal("no translation started")
	}

	h.do(func() { h.doc.SetData(h.byID("m1-text").FirstChild, "second") })
	h.waitStatus("m1", StatusDone)
	release()

	ov := h.overlayOf("m1")
	var translation, original, stored string
	h.do(func() {
		translation, original = ov.Translation(), ov.Original()
		stored = dom.AttrValue(h.byID("m1"), OriginalTextAttr)
	})
	if translation != "SECOND" || original != "second" || stored != "second" {
		t.Errorf("overlay = %q / %q, stored = %q", translation, original, stored)
	}
	calls := h.tr.Calls()
	if len(calls) != 2 || calls[1].Text != "second" {
		t.Errorf("calls = %+v", calls)
	}
	if !h.tr.CanceledBefore(0, 1) {
		t.Error("first request still live when the second one started")
	}
	if !h.tr.WaitCanceled(0, 2*time.Second) {
		t.Error("first request did not observe its cancellation")
	}

	// the stale completion must not overwrite the newer result
	time.Sleep(20 * time.Millisecond)
	h.do(func() { translation = ov.Translation() })
	if translation != "SECOND" {
		t.Errorf("stale result applied: %q", translation)
	}
}

func TestReclassifiedOutgoingLosesOverlay(t *testing.T) {
	h := newHarness(t, chatPage(incoming("m1", "hola")), Options{})
	h.tr.Set("hola", translator.Result{TranslatedText: "やあ", DetectedSourceLanguage: "es"})
	h.start()
	h.waitStatus("m1", StatusDone)

	h.do(func() {
		el := h.byID("m1")
		h.doc.SetAttr(el, "data-is-self", "true")
		h.orch.Process(el)
	})
	if h.overlayOf("m1") != nil {
		t.Error("overlay kept on outgoing message")
	}
	var hasText bool
	h.do(func() { _, hasText = dom.Attr(h.byID("m1"), OriginalTextAttr) })
	if hasText || h.status("m1") != StatusNone {
		t.Error("status attributes kept on outgoing message")
	}
}

func TestNewMessagesAreProcessedOncePerBatch(t *testing.T) {
	h := newHarness(t, chatPage(), Options{})
	h.start()

	h.do(func() {
		list := h.byID("list")
		msg := dom.Element("div", "class", "chat-message", "data-is-self", "false", "id", "n1")
		bubble := dom.Element("span", "class", "bubble")
		text := dom.Element("span", "class", "message-text")
		h.doc.AppendChild(list, msg)
		h.doc.AppendChild(msg, bubble)
		h.doc.AppendChild(bubble, text)
		h.doc.AppendChild(text, dom.TextNode("new message"))
		h.doc.SetData(text.FirstChild, "new message!")
	})
	if !h.tr.WaitCalls(1, 2*time.Second) {
		t.Fatal("appended message was not translated")
	}
	h.waitStatus("n1", StatusSkipped)
	calls := h.tr.Calls()
	if len(calls) != 1 || calls[0].Text != "new message!" {
		t.Errorf("calls = %+v", calls)
	}
}

func TestOverlayMutationsDoNotFeedBack(t *testing.T) {
	h := newHarness(t, chatPage(incoming("m1", "hola")), Options{})
	h.tr.Set("hola", translator.Result{TranslatedText: "やあ", DetectedSourceLanguage: "es"})
	h.start()
	h.waitStatus("m1", StatusDone)

	var translationText *html.Node
	h.do(func() {
		ov := h.mgr.Find(h.byID("m1"))
		translationText = dom.MustCompile("." + overlay.TranslationClass).QueryFirst(ov.Node()).FirstChild
		// make any reprocessing observable
		h.doc.SetAttr(h.byID("m1"), OriginalTextAttr, "stale")
		h.orch.HandleMutations([]dom.MutationRecord{
			{Kind: dom.CharacterData, Target: translationText},
			{Kind: dom.ChildList, Target: ov.Node(), Added: []*html.Node{dom.TextNode("x")}},
			{Kind: dom.ChildList, Target: h.byID("m1-text"), Added: []*html.Node{ov.Node()}},
		})
	})
	if n := len(h.tr.Calls()); n != 1 {
		t.Fatalf("overlay mutations triggered translation: %d calls", n)
	}

	h.do(func() {
		h.orch.HandleMutations([]dom.MutationRecord{
			{Kind: dom.CharacterData, Target: h.byID("m1-text").FirstChild},
		})
	})
	if !h.tr.WaitCalls(2, 2*time.Second) {
		t.Error("message text mutation was not processed")
	}
}

func TestToggleSurvivesProcessing(t *testing.T) {
	h := newHarness(t, chatPage(incoming("m1", "hola")), Options{})
	h.tr.Set("hola", translator.Result{TranslatedText: "やあ", DetectedSourceLanguage: "es"})
	h.start()
	h.waitStatus("m1", StatusDone)

	ov := h.overlayOf("m1")
	var showing bool
	h.do(func() {
		h.doc.Click(ov.ToggleButton())
		showing = ov.ShowingOriginal()
	})
	if !showing {
		t.Fatal("toggle did not show the original")
	}
	h.do(h.orch.Rescan)
	h.do(func() { showing = ov.ShowingOriginal() })
	if !showing || len(h.tr.Calls()) != 1 {
		t.Error("rescan disturbed a toggled overlay")
	}
}

func TestDiscoveryWaitsForList(t *testing.T) {
	h := newHarness(t, `<html><body><div id="app"></div></body></html>`, Options{})
	h.start()
	if h.orch.Ready() {
		t.Fatal("ready without a message list")
	}

	h.do(func() {
		list := dom.Element("div", "class", "message-list", "id", "list")
		msg := dom.Element("div", "class", "chat-message", "data-is-self", "false", "id", "m1")
		h.doc.AppendChild(msg, dom.TextNode("late message"))
		h.doc.AppendChild(list, msg)
		h.doc.AppendChild(h.byID("app"), list)
	})
	if !h.tr.WaitCalls(1, 2*time.Second) {
		t.Fatal("message in late list was not translated")
	}
	if !h.orch.Ready() {
		t.Error("list not bound after it appeared")
	}
}

func TestThreadSwitchResets(t *testing.T) {
	h := newHarness(t, chatPage(incoming("m1", "old")), Options{})
	h.tr.Set("new", translator.Result{TranslatedText: "新しい", DetectedSourceLanguage: "en"})
	release := h.tr.Block("old")
	defer release()
	h.start()
	if !h.tr.WaitCalls(1, 2*time.Second) {
		t.Fatal("no translation started")
	}

	// same key: nothing happens
	h.do(h.orch.CheckThread)
	if h.tr.Cleared() != 0 {
		t.Fatal("reset without a thread change")
	}

	h.page.Navigate("https://chat.example.com/c/1?thread=b")
	h.do(func() {
		h.doc.ReplaceChildren(h.byID("list"), mustFragment(t, incoming("m2", "new")))
		h.orch.CheckThread()
	})
	h.waitStatus("m2", StatusDone)

	if !h.tr.WaitCleared(1, 2*time.Second) || h.tr.Cleared() != 1 {
		t.Errorf("cache cleared %d times, want 1", h.tr.Cleared())
	}
	snap, err := h.orch.Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if snap.ThreadKey != "/c/1::?thread=b" || snap.PendingRequests != 0 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestDetachedListResets(t *testing.T) {
	h := newHarness(t, chatPage(incoming("m1", "uno")), Options{})
	h.tr.Set("uno", translator.Result{TranslatedText: "一", DetectedSourceLanguage: "es"})
	h.tr.Set("dos", translator.Result{TranslatedText: "二", DetectedSourceLanguage: "es"})
	h.start()
	h.waitStatus("m1", StatusDone)

	h.do(func() {
		body := h.doc.Body()
		h.doc.Remove(h.byID("list"))
		list := dom.Element("div", "class", "message-list", "id", "list2")
		h.doc.AppendChild(body, list)
		h.doc.AppendChild(list, mustFragment(t, incoming("m2", "dos")))
		h.orch.CheckThread()
	})
	h.waitStatus("m2", StatusDone)
	if !h.tr.WaitCleared(1, 2*time.Second) || h.tr.Cleared() != 1 {
		t.Errorf("cache cleared %d times, want 1", h.tr.Cleared())
	}
}

func TestResetStripsOverlaysAndRestarts(t *testing.T) {
	h := newHarness(t, chatPage(incoming("m1", "hola")), Options{})
	h.tr.Set("hola", translator.Result{TranslatedText: "やあ", DetectedSourceLanguage: "es"})
	h.start()
	h.waitStatus("m1", StatusDone)

	if err := h.orch.Reset(context.Background(), "admin"); err != nil {
		t.Fatal(err)
	}
	// the list is still there, so the message is picked up again
	h.waitStatus("m1", StatusDone)
	if n := len(h.tr.Calls()); n != 2 {
		t.Errorf("calls = %d, want 2", n)
	}
	var wrappers int
	h.do(func() { wrappers = len(dom.MustCompile("." + overlay.WrapperClass).QueryAll(h.doc.Root())) })
	if wrappers != 1 {
		t.Errorf("overlays after reset = %d, want 1", wrappers)
	}
}

func TestThreadSwitchRemovesOverlaysUnderAttachedList(t *testing.T) {
	h := newHarness(t, chatPage(incoming("m1", "old")), Options{})
	release := h.tr.Block("old")
	defer release()
	h.start()
	if !h.tr.WaitCalls(1, 2*time.Second) {
		t.Fatal("no translation started")
	}
	h.waitStatus("m1", StatusPending)

	h.page.Navigate("https://chat.example.com/c/1?thread=b")
	var (
		before, after  *overlay.Overlay
		oldInDoc       bool
		hasText, hasSt bool
		wrappers       int
	)
	h.do(func() {
		m1 := h.byID("m1")
		before = h.mgr.Find(m1)
		// the old list stays attached but no longer looks like a message list
		h.doc.SetAttr(h.byID("list"), "class", "archived")
		h.orch.CheckThread()

		after = h.mgr.Find(m1)
		oldInDoc = before != nil && h.doc.Contains(before.Node())
		_, hasText = dom.Attr(m1, OriginalTextAttr)
		_, hasSt = dom.Attr(m1, StatusAttr)
		wrappers = len(dom.MustCompile("." + overlay.WrapperClass).QueryAll(h.doc.Root()))
	})
	if before == nil {
		t.Fatal("no pending overlay before the switch")
	}
	if after != nil || oldInDoc || wrappers != 0 {
		t.Errorf("overlay survived the switch: find=%v inDoc=%v wrappers=%d", after, oldInDoc, wrappers)
	}
	if hasText || hasSt {
		t.Error("status attributes survived the switch")
	}
	if !h.tr.WaitCanceled(0, 2*time.Second) {
		t.Error("pending request was not canceled")
	}
	if h.orch.Ready() {
		t.Error("still bound to the old list")
	}
}

func TestThreadSwitchKeepsLastDetectedLanguage(t *testing.T) {
	h := newHarness(t, chatPage(incoming("m1", "안녕")), Options{})
	h.tr.Set("안녕", translator.Result{TranslatedText: "こんにちは", DetectedSourceLanguage: "ko"})
	h.start()
	h.waitStatus("m1", StatusDone)

	h.page.Navigate("https://chat.example.com/c/1?thread=b")
	h.do(func() {
		h.doc.ReplaceChildren(h.byID("list"), mustFragment(t, outgoing("m2", "はい")))
		h.orch.CheckThread()
	})
	snap, err := h.orch.Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if snap.ThreadKey != "/c/1::?thread=b" || snap.LastDetectedLanguage != "ko" {
		t.Errorf("snapshot = %+v, want reply language ko kept", snap)
	}
}

func TestSlowCacheClearDoesNotBlockLoop(t *testing.T) {
	h := newHarness(t, chatPage(incoming("m1", "hola")), Options{})
	h.tr.Set("hola", translator.Result{TranslatedText: "やあ", DetectedSourceLanguage: "es"})
	release := h.tr.BlockClear()
	defer release()
	h.start()
	h.waitStatus("m1", StatusDone)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.orch.Reset(ctx, "admin"); err != nil {
		t.Fatalf("Reset blocked on the cache clear: %v", err)
	}
	// the loop keeps translating while the clear is outstanding
	h.waitStatus("m1", StatusDone)
	if h.tr.Cleared() != 0 {
		t.Fatal("clear finished while blocked")
	}

	release()
	if !h.tr.WaitCleared(1, 2*time.Second) {
		t.Error("cache clear never completed")
	}
}

func TestRunCancelsInFlightOnShutdown(t *testing.T) {
	h := newHarness(t, chatPage(incoming("m1", "slow")), Options{RescanInterval: time.Hour, ThreadCheckInterval: time.Hour})
	release := h.tr.Block("slow")
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.orch.Run(ctx) }()
	if !h.tr.WaitCalls(1, 2*time.Second) {
		t.Fatal("no translation started")
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if h.status("m1") == StatusDone {
		t.Error("canceled request was committed")
	}
}

func mustFragment(t *testing.T, markup string) *html.Node {
	t.Helper()
	doc, err := dom.ParseString("<html><body>" + markup + "</body></html>")
	if err != nil {
		t.Fatal(err)
	}
	n := doc.Body().FirstChild
	n.Parent.RemoveChild(n)
	return n
}
