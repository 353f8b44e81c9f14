// Package classify decides whether a rendered chat message came from the
// conversation counterparty (incoming) or from the local user (outgoing).
//
// Markup on third-party chat pages has no stable schema, so the decision is
// an ordered chain of independent rules. Each rule either returns a definite
// verdict or abstains; the first definite verdict wins. When every rule
// abstains the message is treated as outgoing, which suppresses translation
// rather than risk translating the user's own text.
package classify

import (
	"strings"
	"unicode"

	"github.com/onnwee/chatlens/dom"
	"golang.org/x/net/html"
)

// Verdict is a rule outcome.
type Verdict int

const (
	NoOpinion Verdict = iota
	Incoming
	Outgoing
)

func (v Verdict) String() string {
	switch v {
	case Incoming:
		return "incoming"
	case Outgoing:
		return "outgoing"
	default:
		return "no_opinion"
	}
}

// SelfAttribute is the explicit ownership attribute some chat pages render.
const SelfAttribute = "data-is-self"

var (
	// OutgoingKeywords mark the local user's bubbles.
	OutgoingKeywords = []string{"self", "me", "seller", "outgoing", "right", "mine", "own", "user", "my"}
	// IncomingKeywords mark the counterparty's bubbles.
	IncomingKeywords = []string{"incoming", "buyer", "left", "other", "friend"}
)

// Layout provides element bounding boxes. *dom.Document satisfies it.
type Layout interface {
	Rect(n *html.Node) (dom.Rect, bool)
}

// Subject is what a rule looks at: the element being classified, its
// message container and the message list the container sits in.
type Subject struct {
	Element   *html.Node
	Container *html.Node
	List      *html.Node
	Layout    Layout
}

// Rule is one step of the chain.
type Rule func(s Subject) Verdict

// DefaultRules is the standard chain, in priority order.
func DefaultRules() []Rule {
	return []Rule{
		SelfAttributeRule,
		KeywordRule(Outgoing, OutgoingKeywords, "class", "role", "aria-label", "data-owner"),
		KeywordRule(Incoming, IncomingKeywords, "class", "aria-label", "data-from"),
		GeometryRule,
	}
}

// Classifier runs a rule chain over elements of one document.
type Classifier struct {
	container func(*html.Node) *html.Node
	list      func(*html.Node) *html.Node
	layout    Layout
	rules     []Rule
}

// New builds a classifier. container resolves an element to its message
// container; list resolves a container to its message list ancestor (the
// parent is used when it returns nil). With no rules, DefaultRules is used.
func New(container, list func(*html.Node) *html.Node, layout Layout, rules ...Rule) *Classifier {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Classifier{container: container, list: list, layout: layout, rules: rules}
}

// Classify returns the first definite verdict, or Outgoing.
func (c *Classifier) Classify(el *html.Node) Verdict {
	if el == nil || el.Type != html.ElementNode || c.container == nil {
		return Outgoing
	}
	container := c.container(el)
	if container == nil {
		return Outgoing
	}
	s := Subject{Element: el, Container: container, Layout: c.layout}
	if c.list != nil {
		s.List = c.list(container)
	}
	if s.List == nil && container.Parent != nil && container.Parent.Type == html.ElementNode {
		s.List = container.Parent
	}
	for _, rule := range c.rules {
		if v := rule(s); v != NoOpinion {
			return v
		}
	}
	return Outgoing
}

// IsIncoming reports whether el is a counterparty message.
func (c *Classifier) IsIncoming(el *html.Node) bool {
	return c.Classify(el) == Incoming
}

// SelfAttributeRule reads data-is-self on the element or its container.
// "true" on either wins over "false" on either.
func SelfAttributeRule(s Subject) Verdict {
	nodes := s.nodes()
	for _, n := range nodes {
		if dom.AttrValue(n, SelfAttribute) == "true" {
			return Outgoing
		}
	}
	for _, n := range nodes {
		if dom.AttrValue(n, SelfAttribute) == "false" {
			return Incoming
		}
	}
	return NoOpinion
}

// KeywordRule returns verdict when any keyword appears as a whole token in
// the given attributes of the element or its container.
func KeywordRule(verdict Verdict, keywords []string, attrs ...string) Rule {
	set := make(map[string]struct{}, len(keywords))
	for _, k := range keywords {
		set[strings.ToLower(k)] = struct{}{}
	}
	return func(s Subject) Verdict {
		for _, n := range s.nodes() {
			for _, a := range attrs {
				for _, tok := range Tokens(dom.AttrValue(n, a)) {
					if _, ok := set[tok]; ok {
						return verdict
					}
				}
			}
		}
		return NoOpinion
	}
}

// GeometryRule compares the container's left edge with the horizontal
// midpoint of the message list. Right of or at the midpoint is outgoing.
// Missing geometry is outgoing too.
func GeometryRule(s Subject) Verdict {
	if s.Layout == nil || s.Container == nil || s.List == nil {
		return Outgoing
	}
	bubble, ok := s.Layout.Rect(s.Container)
	if !ok {
		return Outgoing
	}
	list, ok := s.Layout.Rect(s.List)
	if !ok {
		return Outgoing
	}
	if bubble.Left >= list.CenterX() {
		return Outgoing
	}
	return Incoming
}

// Tokens lower-cases s and splits it on anything that is not a letter or a
// digit, and before an upper-case letter that follows a lower-case letter or
// a digit ("isMine" is "is", "mine").
func Tokens(s string) []string {
	if s == "" {
		return nil
	}
	var (
		out  []string
		cur  []rune
		prev rune
	)
	flush := func() {
		if len(cur) > 0 {
			out = append(out, string(cur))
			cur = cur[:0]
		}
	}
	for _, r := range s {
		switch {
		case !unicode.IsLetter(r) && !unicode.IsDigit(r):
			flush()
		case unicode.IsUpper(r) && (unicode.IsLower(prev) || unicode.IsDigit(prev)):
			flush()
			cur = append(cur, unicode.ToLower(r))
		default:
			cur = append(cur, unicode.ToLower(r))
		}
		prev = r
	}
	flush()
	return out
}

func (s Subject) nodes() []*html.Node {
	out := make([]*html.Node, 0, 2)
	if s.Element != nil {
		out = append(out, s.Element)
	}
	if s.Container != nil && s.Container != s.Element {
		out = append(out, s.Container)
	}
	return out
}
