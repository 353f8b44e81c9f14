// Package locator finds the chat message list, message bubbles, their text
// and the reply input inside a host document using ordered selector hints.
package locator

import (
	"strings"

	"github.com/onnwee/chatlens/classify"
	"github.com/onnwee/chatlens/dom"
	"golang.org/x/net/html"
)

// Locator resolves chat structure in one document.
type Locator struct {
	doc        *dom.Document
	lists      dom.Selectors
	items      dom.Selectors
	texts      dom.Selectors
	inputs     dom.Selectors
	exclude    func(*html.Node) bool
	classifier *classify.Classifier
}

// Option configures a Locator.
type Option func(*Locator)

// WithExclude hides subtrees (the translation overlay) from text extraction.
func WithExclude(fn func(*html.Node) bool) Option {
	return func(l *Locator) { l.exclude = fn }
}

// WithRules replaces the direction classifier's rule chain.
func WithRules(rules ...classify.Rule) Option {
	return func(l *Locator) {
		l.classifier = classify.New(l.Container, l.lists.Closest, l.doc, rules...)
	}
}

// New compiles the hints. Invalid selectors are logged and skipped.
func New(doc *dom.Document, h Hints, opts ...Option) *Locator {
	l := &Locator{
		doc:    doc,
		lists:  dom.CompileAll(h.Lists),
		items:  dom.CompileAll(h.Items),
		texts:  dom.CompileAll(h.Texts),
		inputs: dom.CompileAll(h.Inputs),
	}
	l.classifier = classify.New(l.Container, l.lists.Closest, doc)
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// FindListRoot returns the first match among the list hints, or nil when
// the page has not rendered its message list yet.
func (l *Locator) FindListRoot() *html.Node {
	return l.lists.First(l.doc.Root())
}

// IsMessage reports whether n itself matches an item hint.
func (l *Locator) IsMessage(n *html.Node) bool {
	return l.items.Match(n)
}

// ClosestMessage returns n or its nearest ancestor that is a message item.
// Text nodes resolve through their parent element.
func (l *Locator) ClosestMessage(n *html.Node) *html.Node {
	if n == nil {
		return nil
	}
	if n.Type != html.ElementNode {
		n = n.Parent
	}
	return l.items.Closest(n)
}

// Container resolves n to its canonical message: the outermost message item
// enclosing it, so nested hints (a .bubble inside a .chat-message) collapse
// into one message.
func (l *Locator) Container(n *html.Node) *html.Node {
	msg := l.ClosestMessage(n)
	if msg == nil {
		return nil
	}
	for p := msg.Parent; p != nil; p = p.Parent {
		if l.lists.Match(p) {
			break
		}
		if l.items.Match(p) {
			msg = p
		}
	}
	return msg
}

// ItemsUnder returns descendants of n matching an item hint, deduplicated,
// in hint order.
func (l *Locator) ItemsUnder(n *html.Node) []*html.Node {
	if !dom.IsElement(n) {
		return nil
	}
	var out []*html.Node
	seen := make(map[*html.Node]struct{})
	for _, s := range l.items {
		for _, el := range s.QueryAll(n) {
			if _, ok := seen[el]; ok {
				continue
			}
			seen[el] = struct{}{}
			out = append(out, el)
		}
	}
	return out
}

// CollectMessages returns the incoming message containers under root,
// deduplicated by identity in first-seen order. Candidates without
// rendered text are ignored.
func (l *Locator) CollectMessages(root *html.Node) []*html.Node {
	var out []*html.Node
	seen := make(map[*html.Node]struct{})
	for _, el := range l.ItemsUnder(root) {
		if l.Text(el) == "" {
			continue
		}
		container := l.Container(el)
		if container == nil {
			continue
		}
		if _, ok := seen[container]; ok {
			continue
		}
		if !l.IsIncoming(container) {
			continue
		}
		seen[container] = struct{}{}
		out = append(out, container)
	}
	return out
}

// ContentElement returns the text-bearing element of a message: the first
// text hint, on the message or beneath it, with non-empty text. The message
// itself is the fallback.
func (l *Locator) ContentElement(msg *html.Node) *html.Node {
	if msg == nil {
		return nil
	}
	for _, s := range l.texts {
		candidate := msg
		if !s.Match(msg) {
			candidate = s.QueryFirst(msg)
		}
		if candidate != nil && l.Text(candidate) != "" {
			return candidate
		}
	}
	return msg
}

// Text is the trimmed rendered text of n with excluded subtrees left out.
func (l *Locator) Text(n *html.Node) string {
	return strings.TrimSpace(dom.InnerText(n, l.exclude))
}

// FindInput returns the message input field, if any.
func (l *Locator) FindInput() *html.Node {
	return l.inputs.First(l.doc.Root())
}

// IsIncoming classifies a message container.
func (l *Locator) IsIncoming(el *html.Node) bool {
	return l.classifier.IsIncoming(el)
}

// Classifier exposes the direction classifier.
func (l *Locator) Classifier() *classify.Classifier { return l.classifier }

// Hints returns the compiled hint lists as source strings.
func (l *Locator) Hints() Hints {
	return Hints{
		Lists:  l.lists.Strings(),
		Items:  l.items.Strings(),
		Texts:  l.texts.Strings(),
		Inputs: l.inputs.Strings(),
	}
}
