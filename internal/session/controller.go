// Package session drives date selection and comparison dispatch for one
// dashboard view: which snapshot pair is active, whether a request is in
// flight, and what the user-facing status line says.
package session

import "ledgerdiff/internal/core"

// Status messages surfaced to the dashboard.
const (
	StatusNoData          = "no data for this date"
	StatusBaseline        = "baseline date, nothing to compare"
	StatusNoUpload        = "no upload for selected date(s)"
	StatusIncompleteRange = "select a second date to compare"
	StatusFailed          = "analysis failed"
	StatusComplete        = "analysis complete"
)

// Controller decides which comparison key, if any, follows from the current
// selection and the snapshot registry. It is not safe for concurrent use;
// Session serializes access.
type Controller struct {
	registry core.Registry

	selected core.Date // single-date mode
	start    core.Date // range mode
	end      core.Date

	status string
}

// SetRegistry replaces the known snapshot dates. The single-date pairing is
// recomputed on the next Pick, so a registry change alone never dispatches.
func (c *Controller) SetRegistry(r core.Registry) {
	c.registry = r
}

// Registry returns the current snapshot registry.
func (c *Controller) Registry() core.Registry {
	return c.registry
}

// Status returns the last status line produced by a selection.
func (c *Controller) Status() string {
	return c.status
}

// PickDate selects a single date and auto-pairs it with its registry
// predecessor. The returned key is valid only when ok is true; otherwise the
// status line explains why nothing was dispatched.
func (c *Controller) PickDate(d core.Date) (core.ComparisonKey, bool) {
	c.selected = d

	pred, err := c.registry.PredecessorOf(d)
	switch err {
	case nil:
	case core.ErrNoSnapshot:
		c.status = StatusNoData
		return core.ComparisonKey{}, false
	case core.ErrBaselineDate:
		c.status = StatusBaseline
		return core.ComparisonKey{}, false
	default:
		c.status = StatusNoData
		return core.ComparisonKey{}, false
	}

	key, err := core.NewComparisonKey(pred, d)
	if err != nil {
		c.status = StatusNoData
		return core.ComparisonKey{}, false
	}
	c.status = ""
	return key, true
}

// Selected returns the single-mode selected date.
func (c *Controller) Selected() core.Date {
	return c.selected
}

// ResetRange clears any partial or complete range selection.
func (c *Controller) ResetRange() {
	c.start = core.Date{}
	c.end = core.Date{}
}

// ClickRange advances the range selection by one click. A click on a
// finished or empty range restarts it at d; a second click earlier than the
// pending start swaps the endpoints. The key is returned only once both
// endpoints are set and both have uploaded snapshots.
func (c *Controller) ClickRange(d core.Date) (core.ComparisonKey, bool) {
	bothSet := !c.start.IsEmpty() && !c.end.IsEmpty()
	neitherSet := c.start.IsEmpty() && c.end.IsEmpty()

	switch {
	case bothSet || neitherSet:
		c.start = d
		c.end = core.Date{}
		c.status = StatusIncompleteRange
		return core.ComparisonKey{}, false
	case d.Before(c.start):
		c.end = c.start
		c.start = d
	case d.Equal(c.start):
		// Re-clicking the pending start leaves the range waiting for a
		// distinct second endpoint.
		c.status = StatusIncompleteRange
		return core.ComparisonKey{}, false
	default:
		c.end = d
	}

	if !c.registry.Contains(c.start) || !c.registry.Contains(c.end) {
		c.status = StatusNoUpload
		return core.ComparisonKey{}, false
	}
	key, err := core.NewComparisonKey(c.start, c.end)
	if err != nil {
		c.status = StatusNoUpload
		return core.ComparisonKey{}, false
	}
	c.status = ""
	return key, true
}

// Range returns the pending or complete range endpoints.
func (c *Controller) Range() (start, end core.Date) {
	return c.start, c.end
}

// DropDate removes any selection that references d, after its snapshot was
// deleted.
func (c *Controller) DropDate(d core.Date) {
	if c.selected.Equal(d) {
		c.selected = core.Date{}
	}
	if c.start.Equal(d) || c.end.Equal(d) {
		c.ResetRange()
	}
}
