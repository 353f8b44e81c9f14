// Package dom models the host chat page as a mutable tree of x/net/html
// nodes.
//
// All writes go through Document so they can be recorded and delivered to
// observers in batches, the same way a browser delivers MutationObserver
// callbacks. The document also keeps per-node layout rectangles and event
// listeners. A Document is not safe for concurrent use: the page loop owns it.
package dom

import (
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Document is the host page tree plus the bookkeeping the core needs
// around it (observers, layout, listeners).
type Document struct {
	root      *html.Node
	observers []*Observer
	rects     map[*html.Node]Rect
	listeners map[*html.Node]map[string][]Listener
}

// New returns an empty document with html, head and body elements.
func New() *Document {
	root := &html.Node{Type: html.DocumentNode}
	htmlEl := Element("html")
	root.AppendChild(htmlEl)
	htmlEl.AppendChild(Element("head"))
	htmlEl.AppendChild(Element("body"))
	return NewFromNode(root)
}

// NewFromNode wraps an existing tree.
func NewFromNode(root *html.Node) *Document {
	return &Document{
		root:      root,
		rects:     make(map[*html.Node]Rect),
		listeners: make(map[*html.Node]map[string][]Listener),
	}
}

// Parse reads an HTML page into a new Document.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, err
	}
	return NewFromNode(root), nil
}

// ParseString is Parse for in-memory markup.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// Root returns the document node.
func (d *Document) Root() *html.Node { return d.root }

// Body returns the first body element, or the root when there is none.
func (d *Document) Body() *html.Node {
	if b := findElement(d.root, atom.Body); b != nil {
		return b
	}
	return d.root
}

// Head returns the first head element or nil.
func (d *Document) Head() *html.Node {
	return findElement(d.root, atom.Head)
}

// Contains reports whether n is currently attached to this document.
func (d *Document) Contains(n *html.Node) bool {
	return n != nil && IsAncestorOrSelf(d.root, n)
}

// Element builds a detached element. attrs are key/value pairs.
func Element(tag string, attrs ...string) *html.Node {
	n := &html.Node{
		Type:     html.ElementNode,
		Data:     tag,
		DataAtom: atom.Lookup([]byte(tag)),
	}
	for i := 0; i+1 < len(attrs); i += 2 {
		n.Attr = append(n.Attr, html.Attribute{Key: attrs[i], Val: attrs[i+1]})
	}
	return n
}

// TextNode builds a detached text node.
func TextNode(s string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: s}
}

// AppendChild attaches child as the last child of parent, moving it if it
// already has a parent.
func (d *Document) AppendChild(parent, child *html.Node) {
	d.InsertBefore(parent, child, nil)
}

// InsertBefore attaches child before ref (or at the end when ref is nil).
func (d *Document) InsertBefore(parent, child, ref *html.Node) {
	if parent == nil || child == nil {
		return
	}
	if old := child.Parent; old != nil {
		old.RemoveChild(child)
		d.record(MutationRecord{Kind: ChildList, Target: old, Removed: []*html.Node{child}})
	}
	parent.InsertBefore(child, ref)
	d.record(MutationRecord{Kind: ChildList, Target: parent, Added: []*html.Node{child}})
}

// RemoveChild detaches child from parent. Listeners and layout registered
// on the removed subtree are dropped.
func (d *Document) RemoveChild(parent, child *html.Node) {
	if parent == nil || child == nil || child.Parent != parent {
		return
	}
	parent.RemoveChild(child)
	d.forget(child)
	d.record(MutationRecord{Kind: ChildList, Target: parent, Removed: []*html.Node{child}})
}

// Remove detaches n from its parent, if any.
func (d *Document) Remove(n *html.Node) {
	if n != nil && n.Parent != nil {
		d.RemoveChild(n.Parent, n)
	}
}

// ReplaceChildren swaps all children of parent for the given nodes as a
// single child-list mutation.
func (d *Document) ReplaceChildren(parent *html.Node, children ...*html.Node) {
	if parent == nil {
		return
	}
	var removed []*html.Node
	for c := parent.FirstChild; c != nil; {
		next := c.NextSibling
		parent.RemoveChild(c)
		d.forget(c)
		removed = append(removed, c)
		c = next
	}
	var added []*html.Node
	for _, c := range children {
		if c == nil {
			continue
		}
		if c.Parent != nil {
			c.Parent.RemoveChild(c)
		}
		parent.AppendChild(c)
		added = append(added, c)
	}
	if len(removed) == 0 && len(added) == 0 {
		return
	}
	d.record(MutationRecord{Kind: ChildList, Target: parent, Added: added, Removed: removed})
}

// SetTextContent replaces the children of n with a single text node.
func (d *Document) SetTextContent(n *html.Node, text string) {
	if text == "" {
		d.ReplaceChildren(n)
		return
	}
	d.ReplaceChildren(n, TextNode(text))
}

// SetData rewrites a text node in place (a character-data mutation).
func (d *Document) SetData(n *html.Node, data string) {
	if n == nil || n.Type != html.TextNode {
		return
	}
	old := n.Data
	n.Data = data
	d.record(MutationRecord{Kind: CharacterData, Target: n, OldValue: old})
}

// SetAttr sets an attribute value.
func (d *Document) SetAttr(n *html.Node, key, val string) {
	if n == nil || n.Type != html.ElementNode {
		return
	}
	old, _ := Attr(n, key)
	found := false
	for i := range n.Attr {
		if n.Attr[i].Namespace == "" && n.Attr[i].Key == key {
			n.Attr[i].Val = val
			found = true
			break
		}
	}
	if !found {
		n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
	}
	d.record(MutationRecord{Kind: Attributes, Target: n, AttributeName: key, OldValue: old})
}

// RemoveAttr deletes an attribute. Missing attributes are not recorded.
func (d *Document) RemoveAttr(n *html.Node, key string) {
	if n == nil {
		return
	}
	for i := range n.Attr {
		if n.Attr[i].Namespace == "" && n.Attr[i].Key == key {
			old := n.Attr[i].Val
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			d.record(MutationRecord{Kind: Attributes, Target: n, AttributeName: key, OldValue: old})
			return
		}
	}
}

// AddClass adds class to n's class list if missing.
func (d *Document) AddClass(n *html.Node, class string) {
	if HasClass(n, class) {
		return
	}
	d.SetAttr(n, "class", strings.TrimSpace(AttrValue(n, "class")+" "+class))
}

// RemoveClass drops every given class from n's class list.
func (d *Document) RemoveClass(n *html.Node, classes ...string) {
	current := Classes(n)
	kept := make([]string, 0, len(current))
	for _, c := range current {
		drop := false
		for _, r := range classes {
			if c == r {
				drop = true
				break
			}
		}
		if !drop {
			kept = append(kept, c)
		}
	}
	if len(kept) == len(current) {
		return
	}
	d.SetAttr(n, "class", strings.Join(kept, " "))
}

// ToggleClass flips class on n and reports whether it is now present.
func (d *Document) ToggleClass(n *html.Node, class string) bool {
	if HasClass(n, class) {
		d.RemoveClass(n, class)
		return false
	}
	d.AddClass(n, class)
	return true
}

// Attr returns the value of a non-namespaced attribute.
func Attr(n *html.Node, key string) (string, bool) {
	if n == nil {
		return "", false
	}
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// AttrValue is Attr without the presence flag.
func AttrValue(n *html.Node, key string) string {
	v, _ := Attr(n, key)
	return v
}

// Classes returns n's class list.
func Classes(n *html.Node) []string {
	return strings.Fields(AttrValue(n, "class"))
}

// HasClass reports whether class is in n's class list.
func HasClass(n *html.Node, class string) bool {
	for _, c := range Classes(n) {
		if c == class {
			return true
		}
	}
	return false
}

// IsElement reports whether n is an element node.
func IsElement(n *html.Node) bool {
	return n != nil && n.Type == html.ElementNode
}

// IsAncestorOrSelf reports whether ancestor is n or one of its ancestors.
func IsAncestorOrSelf(ancestor, n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p == ancestor {
			return true
		}
	}
	return false
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}

// forget drops listeners and layout held for a detached subtree.
func (d *Document) forget(n *html.Node) {
	delete(d.listeners, n)
	delete(d.rects, n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		d.forget(c)
	}
}
