// Package overlay manages the translation fragment attached to a chat
// message: a toolbar with a show-original toggle, the translated text and
// the original text.
//
// All state lives on the fragment itself (wrapper classes and attributes),
// so an overlay found in the document carries everything needed to resume
// driving it.
package overlay

import (
	"github.com/onnwee/chatlens/dom"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Class names and attributes of the overlay fragment.
const (
	WrapperClass       = "ai-translation-wrapper"
	ToolbarClass       = "ai-translation-toolbar"
	ToggleClass        = "ai-translation-toggle"
	TranslationClass   = "ai-translation"
	OriginalClass      = "ai-original-text"
	SourceLanguageAttr = "data-source-language"
	pendingClass       = WrapperClass + "--pending"
	errorClass         = WrapperClass + "--error"
	showOriginalClass  = WrapperClass + "--show-original"
)

var ownedClasses = []string{WrapperClass, ToolbarClass, ToggleClass, TranslationClass, OriginalClass}

// State is the visible state of an overlay.
type State int

const (
	StateNone State = iota
	StatePending
	StateDone
	StateError
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateDone:
		return "done"
	case StateError:
		return "error"
	default:
		return "none"
	}
}

// Owns reports whether n is one of the overlay's own elements.
func Owns(n *html.Node) bool {
	if !dom.IsElement(n) {
		return false
	}
	for _, c := range ownedClasses {
		if dom.HasClass(n, c) {
			return true
		}
	}
	return false
}

// Within reports whether n is an overlay element or sits inside one.
func Within(n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if dom.IsElement(p) && dom.HasClass(p, WrapperClass) {
			return true
		}
	}
	return false
}

// Manager creates and finds overlays in one document.
type Manager struct {
	doc     *dom.Document
	content func(*html.Node) *html.Node
	msgs    *Messages
}

// NewManager returns a Manager that attaches overlays to the element
// content returns for a message (the message itself when content is nil or
// returns nil). Toggle clicks are handled by one delegated listener on the
// document root, so rehydrated overlays respond too.
func NewManager(doc *dom.Document, content func(*html.Node) *html.Node, msgs *Messages) *Manager {
	if msgs == nil {
		msgs = NewMessages("en")
	}
	m := &Manager{doc: doc, content: content, msgs: msgs}
	doc.AddEventListener(doc.Root(), "click", m.onClick)
	return m
}

func (m *Manager) onClick(ev dom.Event, _ *html.Node) {
	if !dom.IsElement(ev.Target) || !dom.HasClass(ev.Target, ToggleClass) {
		return
	}
	for p := ev.Target.Parent; p != nil; p = p.Parent {
		if dom.IsElement(p) && dom.HasClass(p, WrapperClass) {
			(&Overlay{m: m, wrapper: p}).Toggle()
			return
		}
	}
}

// Find returns the overlay anywhere under msg, or nil.
func (m *Manager) Find(msg *html.Node) *Overlay {
	if w := findWrapper(msg); w != nil {
		return &Overlay{m: m, wrapper: w}
	}
	return nil
}

// Ensure returns the message's overlay, creating it when missing. A new
// overlay shows the translation side with the original region hidden.
func (m *Manager) Ensure(msg *html.Node) *Overlay {
	if msg == nil {
		return nil
	}
	if o := m.Find(msg); o != nil {
		return o
	}
	target := msg
	if m.content != nil {
		if c := m.content(msg); c != nil {
			target = c
		}
	}
	o := &Overlay{m: m, wrapper: m.build()}
	m.doc.AppendChild(target, o.wrapper)
	o.applyVisibility()
	return o
}

// Remove detaches the message's overlay. It reports whether one existed.
func (m *Manager) Remove(msg *html.Node) bool {
	w := findWrapper(msg)
	if w == nil {
		return false
	}
	m.doc.Remove(w)
	return true
}

// RemoveAll detaches every overlay under root and returns how many.
func (m *Manager) RemoveAll(root *html.Node) int {
	var found []*html.Node
	collectWrappers(root, &found)
	for _, w := range found {
		m.doc.Remove(w)
	}
	return len(found)
}

func (m *Manager) build() *html.Node {
	wrapper := dom.Element("div", "class", WrapperClass)
	toolbar := dom.Element("div", "class", ToolbarClass)
	toggle := dom.Element("button", "type", "button", "class", ToggleClass)
	toggle.AppendChild(dom.TextNode(m.msgs.Text(MsgShowOriginal)))
	toolbar.AppendChild(toggle)
	wrapper.AppendChild(toolbar)
	wrapper.AppendChild(dom.Element("div", "class", TranslationClass, "aria-live", "polite"))
	wrapper.AppendChild(dom.Element("div", "class", OriginalClass, "aria-hidden", "true"))
	return wrapper
}

// Overlay is a handle on one attached overlay fragment.
type Overlay struct {
	m       *Manager
	wrapper *html.Node
}

// Node returns the wrapper element.
func (o *Overlay) Node() *html.Node { return o.wrapper }

// SetOriginal writes the source text into the original region.
func (o *Overlay) SetOriginal(text string) {
	if n := o.part(OriginalClass); n != nil {
		o.m.doc.SetTextContent(n, text)
	}
	o.applyVisibility()
}

// SetPending shows the translating placeholder.
func (o *Overlay) SetPending() {
	if n := o.part(TranslationClass); n != nil {
		o.m.doc.SetTextContent(n, o.m.msgs.Text(MsgTranslating))
		o.m.doc.RemoveAttr(n, SourceLanguageAttr)
	}
	o.setState(pendingClass)
	o.applyVisibility()
}

// SetResult shows a translation and tags its detected source language.
func (o *Overlay) SetResult(text, sourceLanguage string) {
	if n := o.part(TranslationClass); n != nil {
		o.m.doc.SetTextContent(n, text)
		if sourceLanguage != "" {
			o.m.doc.SetAttr(n, SourceLanguageAttr, sourceLanguage)
		} else {
			o.m.doc.RemoveAttr(n, SourceLanguageAttr)
		}
	}
	o.setState("")
	o.applyVisibility()
}

// SetError shows the failure placeholder.
func (o *Overlay) SetError() {
	if n := o.part(TranslationClass); n != nil {
		o.m.doc.SetTextContent(n, o.m.msgs.Text(MsgTranslationFailed))
		o.m.doc.RemoveAttr(n, SourceLanguageAttr)
	}
	o.setState(errorClass)
	o.applyVisibility()
}

// Toggle flips between the translated and original regions and reports
// whether the original is now shown.
func (o *Overlay) Toggle() bool {
	on := o.m.doc.ToggleClass(o.wrapper, showOriginalClass)
	o.applyVisibility()
	return on
}

// ShowingOriginal reports the toggle position.
func (o *Overlay) ShowingOriginal() bool {
	return dom.HasClass(o.wrapper, showOriginalClass)
}

// State derives the visible state from the wrapper classes.
func (o *Overlay) State() State {
	switch {
	case o.wrapper == nil:
		return StateNone
	case dom.HasClass(o.wrapper, pendingClass):
		return StatePending
	case dom.HasClass(o.wrapper, errorClass):
		return StateError
	case dom.TextContent(o.part(TranslationClass)) == "":
		return StateNone
	default:
		return StateDone
	}
}

// Translation returns the text in the translated region.
func (o *Overlay) Translation() string { return dom.TextContent(o.part(TranslationClass)) }

// Original returns the text in the original region.
func (o *Overlay) Original() string { return dom.TextContent(o.part(OriginalClass)) }

// SourceLanguage returns the recorded detected source language.
func (o *Overlay) SourceLanguage() string {
	return dom.AttrValue(o.part(TranslationClass), SourceLanguageAttr)
}

// ToggleButton returns the toggle control.
func (o *Overlay) ToggleButton() *html.Node { return o.part(ToggleClass) }

func (o *Overlay) setState(class string) {
	o.m.doc.RemoveClass(o.wrapper, pendingClass, errorClass)
	if class != "" {
		o.m.doc.AddClass(o.wrapper, class)
	}
}

func (o *Overlay) applyVisibility() {
	showing := o.ShowingOriginal()
	if n := o.part(ToggleClass); n != nil {
		label := o.m.msgs.Text(MsgShowOriginal)
		if showing {
			label = o.m.msgs.Text(MsgShowTranslation)
		}
		if dom.TextContent(n) != label {
			o.m.doc.SetTextContent(n, label)
		}
	}
	if n := o.part(TranslationClass); n != nil {
		o.m.doc.SetAttr(n, "aria-hidden", boolAttr(showing))
	}
	if n := o.part(OriginalClass); n != nil {
		o.m.doc.SetAttr(n, "aria-hidden", boolAttr(!showing))
	}
}

func (o *Overlay) part(class string) *html.Node {
	if o == nil || o.wrapper == nil {
		return nil
	}
	return findClass(o.wrapper, class)
}

func boolAttr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func findClass(n *html.Node, class string) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if dom.IsElement(c) && dom.HasClass(c, class) {
			return c
		}
		if found := findClass(c, class); found != nil {
			return found
		}
	}
	return nil
}

func findWrapper(n *html.Node) *html.Node {
	if n == nil {
		return nil
	}
	return findClass(n, WrapperClass)
}

func collectWrappers(n *html.Node, out *[]*html.Node) {
	if n == nil {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == atom.Div && dom.HasClass(c, WrapperClass) {
			*out = append(*out, c)
			continue
		}
		collectWrappers(c, out)
	}
}
