package session

import (
	"ledgerdiff/internal/core"
	"ledgerdiff/internal/diff"
)

// Dispatcher tracks the one outstanding comparison and its latest result. A
// newer request supersedes the current one; completions for superseded
// requests are discarded by generation number. Not safe for concurrent use;
// Session serializes access.
type Dispatcher struct {
	gen     uint64
	busy    bool
	current core.ComparisonKey
	result  *diff.Report
	status  string
}

// Ticket identifies one dispatched request so its completion can be matched
// against the dispatcher's current generation.
type Ticket struct {
	gen uint64
	key core.ComparisonKey
}

// Key returns the comparison pair the ticket was issued for.
func (t Ticket) Key() core.ComparisonKey {
	return t.key
}

// Request registers a new outstanding comparison. When the key equals the
// current one and a result is already held, the request is absorbed and ok is
// false: re-selecting the active pair never recomputes.
func (d *Dispatcher) Request(key core.ComparisonKey) (Ticket, bool) {
	if key.IsZero() {
		return Ticket{}, false
	}
	if key.Old.Equal(d.current.Old) && key.New.Equal(d.current.New) && d.result != nil {
		return Ticket{}, false
	}
	d.gen++
	d.busy = true
	d.current = key
	return Ticket{gen: d.gen, key: key}, true
}

// Resolve completes a dispatched request. Stale tickets, those superseded by
// a newer Request, are discarded without touching state. On failure the
// previous result is cleared so the view never shows data for the wrong pair.
func (d *Dispatcher) Resolve(t Ticket, rep *diff.Report, err error) bool {
	if t.gen != d.gen {
		return false
	}
	d.busy = false
	if err != nil {
		d.result = nil
		d.status = StatusFailed
		return true
	}
	d.result = rep
	d.status = StatusComplete
	return true
}

// Busy reports whether a comparison is outstanding.
func (d *Dispatcher) Busy() bool {
	return d.busy
}

// Current returns the active comparison key, zero when none.
func (d *Dispatcher) Current() core.ComparisonKey {
	return d.current
}

// Result returns the latest completed report, nil when none is held.
func (d *Dispatcher) Result() *diff.Report {
	return d.result
}

// Status returns the dispatcher's last status line.
func (d *Dispatcher) Status() string {
	return d.status
}

// Invalidate clears the held comparison when it involves d. Supersedes any
// in-flight request so its completion is discarded.
func (d *Dispatcher) Invalidate(date core.Date) {
	if d.current.IsZero() || !d.current.Involves(date) {
		return
	}
	d.gen++
	d.busy = false
	d.current = core.ComparisonKey{}
	d.result = nil
	d.status = ""
}
