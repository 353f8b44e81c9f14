package dom

import "golang.org/x/net/html"

// Event is a DOM-style event. Bubbling events visit every ancestor of the
// target after the target itself.
type Event struct {
	Type    string
	Target  *html.Node
	Bubbles bool
}

// Listener handles an event; current is the node the listener is attached to.
type Listener func(ev Event, current *html.Node)

// AddEventListener registers fn for events of type typ on n.
func (d *Document) AddEventListener(n *html.Node, typ string, fn Listener) {
	if n == nil || fn == nil {
		return
	}
	byType := d.listeners[n]
	if byType == nil {
		byType = make(map[string][]Listener)
		d.listeners[n] = byType
	}
	byType[typ] = append(byType[typ], fn)
}

// Dispatch fires ev at target and returns the number of listeners invoked.
func (d *Document) Dispatch(target *html.Node, ev Event) int {
	ev.Target = target
	invoked := 0
	for n := target; n != nil; n = n.Parent {
		// copy: a listener may register more listeners
		fns := append([]Listener(nil), d.listeners[n][ev.Type]...)
		for _, fn := range fns {
			fn(ev, n)
			invoked++
		}
		if !ev.Bubbles {
			break
		}
	}
	return invoked
}

// Click dispatches a bubbling click at n.
func (d *Document) Click(n *html.Node) int {
	return d.Dispatch(n, Event{Type: "click", Bubbles: true})
}
