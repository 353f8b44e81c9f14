package dom

import (
	"fmt"
	"log/slog"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// Selector is a compiled CSS selector that remembers its source text.
type Selector struct {
	raw string
	m   cascadia.Selector
}

// Compile parses a CSS selector.
func Compile(sel string) (Selector, error) {
	m, err := cascadia.Compile(sel)
	if err != nil {
		return Selector{}, fmt.Errorf("compile selector %q: %w", sel, err)
	}
	return Selector{raw: sel, m: m}, nil
}

// MustCompile is Compile for selectors known at build time.
func MustCompile(sel string) Selector {
	s, err := Compile(sel)
	if err != nil {
		panic(err)
	}
	return s
}

func (s Selector) String() string { return s.raw }

// Match reports whether element n matches.
func (s Selector) Match(n *html.Node) bool {
	return s.m != nil && IsElement(n) && s.m.Match(n)
}

// QueryAll returns the descendants of root (root excluded) matching s, in
// document order.
func (s Selector) QueryAll(root *html.Node) []*html.Node {
	if s.m == nil || root == nil {
		return nil
	}
	return goquery.NewDocumentFromNode(root).FindMatcher(s.m).Nodes
}

// QueryFirst returns the first descendant of root matching s.
func (s Selector) QueryFirst(root *html.Node) *html.Node {
	if nodes := s.QueryAll(root); len(nodes) > 0 {
		return nodes[0]
	}
	return nil
}

// Selectors is an ordered hint list.
type Selectors []Selector

// CompileAll compiles every hint, logging and skipping the ones that do
// not parse.
func CompileAll(list []string) Selectors {
	out := make(Selectors, 0, len(list))
	for _, raw := range list {
		s, err := Compile(raw)
		if err != nil {
			slog.Warn("skipping invalid selector", slog.String("selector", raw), slog.Any("err", err), slog.String("component", "dom"))
			continue
		}
		out = append(out, s)
	}
	return out
}

// Match reports whether n matches any hint.
func (ss Selectors) Match(n *html.Node) bool {
	for _, s := range ss {
		if s.Match(n) {
			return true
		}
	}
	return false
}

// Closest returns n or its nearest ancestor matching any hint. Text and
// other non-element nodes start from their parent element.
func (ss Selectors) Closest(n *html.Node) *html.Node {
	for p := n; p != nil; p = p.Parent {
		if IsElement(p) && ss.Match(p) {
			return p
		}
	}
	return nil
}

// First returns the first match for the first hint that matches anything
// under root, honouring hint order over document order.
func (ss Selectors) First(root *html.Node) *html.Node {
	for _, s := range ss {
		if n := s.QueryFirst(root); n != nil {
			return n
		}
	}
	return nil
}

// Strings returns the source text of every hint.
func (ss Selectors) Strings() []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = s.raw
	}
	return out
}
