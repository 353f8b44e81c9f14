package dom

import "golang.org/x/net/html"

// Rect is a bounding box in page coordinates.
type Rect struct {
	Left   float64
	Top    float64
	Width  float64
	Height float64
}

// Right returns the right edge.
func (r Rect) Right() float64 { return r.Left + r.Width }

// CenterX returns the horizontal midpoint.
func (r Rect) CenterX() float64 { return r.Left + r.Width/2 }

// SetRect records the laid-out box of n.
func (d *Document) SetRect(n *html.Node, r Rect) {
	if n == nil {
		return
	}
	d.rects[n] = r
}

// Rect returns the laid-out box of n; ok is false when n has no layout.
func (d *Document) Rect(n *html.Node) (Rect, bool) {
	r, ok := d.rects[n]
	return r, ok
}
