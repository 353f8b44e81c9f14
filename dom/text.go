package dom

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// InnerText approximates the rendered text of n. Subtrees for which skip
// returns true are left out, as are script, style and template contents.
func InnerText(n *html.Node, skip func(*html.Node) bool) string {
	if n == nil {
		return ""
	}
	var b strings.Builder
	writeText(&b, n, skip)
	return b.String()
}

func writeText(b *strings.Builder, n *html.Node, skip func(*html.Node) bool) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode:
		if skip != nil && skip(n) {
			return
		}
		switch n.DataAtom {
		case atom.Script, atom.Style, atom.Template, atom.Head:
			return
		case atom.Br:
			b.WriteByte('\n')
			return
		}
		if isBlock(n) {
			newline(b)
		}
	case html.CommentNode, html.DoctypeNode:
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(b, c, skip)
	}
	if n.Type == html.ElementNode && isBlock(n) {
		newline(b)
	}
}

func newline(b *strings.Builder) {
	s := b.String()
	if s != "" && !strings.HasSuffix(s, "\n") {
		b.WriteByte('\n')
	}
}

func isBlock(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Div, atom.P, atom.Li, atom.Ul, atom.Ol, atom.Section, atom.Article,
		atom.Header, atom.Footer, atom.Blockquote, atom.Pre, atom.Tr, atom.Table:
		return true
	}
	return false
}

// TextContent is the raw concatenation of descendant text nodes.
func TextContent(n *html.Node) string {
	if n == nil {
		return ""
	}
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(TextContent(c))
	}
	return b.String()
}
