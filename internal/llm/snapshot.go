package llm

import "strings"

// SnapshotNormalizer converts cumulative snapshots into stream events so
// that every provider hands deltas upward. When a snapshot does not extend
// the previous one (the engine rewrote earlier output) a replace event is
// produced instead; either way the last snapshot wins.
type SnapshotNormalizer struct {
	last string
}

// Next returns the event for snapshot, and false when nothing changed.
func (n *SnapshotNormalizer) Next(snapshot string) (Event, bool) {
	if snapshot == n.last {
		return Event{}, false
	}
	prev := n.last
	n.last = snapshot
	if strings.HasPrefix(snapshot, prev) {
		return Event{Type: EventTextDelta, Text: snapshot[len(prev):]}, true
	}
	return Event{Type: EventTextReplace, Text: snapshot}, true
}

// Text returns the most recent snapshot.
func (n *SnapshotNormalizer) Text() string {
	return n.last
}

// Accumulator applies stream text events to a buffer.
type Accumulator struct {
	b strings.Builder
}

// Apply updates the buffer for text events and reports whether ev was one.
func (a *Accumulator) Apply(ev Event) bool {
	switch ev.Type {
	case EventTextDelta:
		a.b.WriteString(ev.Text)
		return true
	case EventTextReplace:
		a.b.Reset()
		a.b.WriteString(ev.Text)
		return true
	}
	return false
}

func (a *Accumulator) String() string { return a.b.String() }

func (a *Accumulator) Len() int { return a.b.Len() }
