package dom

import "golang.org/x/net/html"

// MutationKind identifies what changed in a MutationRecord.
type MutationKind int

const (
	ChildList MutationKind = iota + 1
	CharacterData
	Attributes
)

func (k MutationKind) String() string {
	switch k {
	case ChildList:
		return "childList"
	case CharacterData:
		return "characterData"
	case Attributes:
		return "attributes"
	default:
		return "unknown"
	}
}

// MutationRecord describes one low-level change.
type MutationRecord struct {
	Kind          MutationKind
	Target        *html.Node
	Added         []*html.Node
	Removed       []*html.Node
	AttributeName string
	OldValue      string
}

// ObserveOptions selects which records an observation receives.
type ObserveOptions struct {
	ChildList     bool
	CharacterData bool
	Attributes    bool
	// Subtree extends the observation to all descendants of the target.
	Subtree bool
}

func (o ObserveOptions) wants(k MutationKind) bool {
	switch k {
	case ChildList:
		return o.ChildList
	case CharacterData:
		return o.CharacterData
	case Attributes:
		return o.Attributes
	}
	return false
}

type observation struct {
	node *html.Node
	opts ObserveOptions
}

// Observer queues records for the nodes it observes and hands them to its
// callback in one batch per delivery.
type Observer struct {
	doc      *Document
	callback func([]MutationRecord)
	targets  []observation
	queue    []MutationRecord
}

// NewObserver creates an observer that is inactive until Observe is called.
func (d *Document) NewObserver(callback func([]MutationRecord)) *Observer {
	return &Observer{doc: d, callback: callback}
}

// Observe starts (or updates) an observation of target.
func (o *Observer) Observe(target *html.Node, opts ObserveOptions) {
	if target == nil {
		return
	}
	for i := range o.targets {
		if o.targets[i].node == target {
			o.targets[i].opts = opts
			return
		}
	}
	o.targets = append(o.targets, observation{node: target, opts: opts})
	for _, existing := range o.doc.observers {
		if existing == o {
			return
		}
	}
	o.doc.observers = append(o.doc.observers, o)
}

// Disconnect stops all observations and drops undelivered records.
func (o *Observer) Disconnect() {
	o.targets = nil
	o.queue = nil
	obs := o.doc.observers
	for i, existing := range obs {
		if existing == o {
			o.doc.observers = append(obs[:i:i], obs[i+1:]...)
			return
		}
	}
}

// TakeRecords empties and returns the queue without invoking the callback.
func (o *Observer) TakeRecords() []MutationRecord {
	recs := o.queue
	o.queue = nil
	return recs
}

// Pending returns the number of undelivered records.
func (o *Observer) Pending() int { return len(o.queue) }

func (o *Observer) interested(rec MutationRecord) bool {
	for _, t := range o.targets {
		if !t.opts.wants(rec.Kind) {
			continue
		}
		if rec.Target == t.node {
			return true
		}
		if t.opts.Subtree && IsAncestorOrSelf(t.node, rec.Target) {
			return true
		}
	}
	return false
}

func (d *Document) record(rec MutationRecord) {
	for _, o := range d.observers {
		if o.interested(rec) {
			o.queue = append(o.queue, rec)
		}
	}
}

// Deliver runs one delivery pass: every observer with queued records gets
// its batch. It returns the number of records delivered. Callbacks may
// mutate the document; records they produce wait for the next pass.
func (d *Document) Deliver() int {
	pending := make([]*Observer, 0, len(d.observers))
	for _, o := range d.observers {
		if len(o.queue) > 0 {
			pending = append(pending, o)
		}
	}
	delivered := 0
	for _, o := range pending {
		recs := o.TakeRecords()
		if len(recs) == 0 {
			continue
		}
		delivered += len(recs)
		if o.callback != nil {
			o.callback(recs)
		}
	}
	return delivered
}

// PendingRecords returns the number of records queued across observers.
func (d *Document) PendingRecords() int {
	n := 0
	for _, o := range d.observers {
		n += len(o.queue)
	}
	return n
}
