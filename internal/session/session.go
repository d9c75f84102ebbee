package session

import (
	"context"
	"log/slog"
	"sync"

	"ledgerdiff/internal/core"
	"ledgerdiff/internal/diff"
)

// Comparer produces a comparison report for a snapshot pair.
type Comparer interface {
	Compare(ctx context.Context, key core.ComparisonKey) (*diff.Report, error)
}

// View is the session state a report endpoint returns.
type View struct {
	Status      string                  `json:"status"`
	DateOld     string                  `json:"date_old,omitempty"`
	DateNew     string                  `json:"date_new,omitempty"`
	Report      *diff.Report            `json:"report,omitempty"`
	Sector      string                  `json:"selected_sector,omitempty"`
	Departments []core.DepartmentImpact `json:"departments,omitempty"`
}

// Session is the serialized dashboard state: selection, dispatch, and the
// sector cross-filter. Safe for concurrent use.
type Session struct {
	mu         sync.Mutex
	controller Controller
	dispatcher Dispatcher
	filter     core.CrossFilter
	comparer   Comparer
	logger     *slog.Logger
}

// New creates a session backed by the given comparer.
func New(comparer Comparer, logger *slog.Logger) *Session {
	return &Session{comparer: comparer, logger: logger}
}

// SetRegistry installs the snapshot registry without touching the selection.
// Used at startup; after an upload or delete use RefreshRegistry so the
// active comparison tracks the change.
func (s *Session) SetRegistry(r core.Registry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.controller.SetRegistry(r)
}

// RefreshRegistry installs the registry after the snapshot for changed was
// uploaded or removed, then re-runs the active selection: the single-date
// pairing is recomputed against the new predecessor, and a held report whose
// endpoints include changed is rebuilt even when the pairing is unchanged,
// since the stored file behind it was replaced.
func (s *Session) RefreshRegistry(ctx context.Context, r core.Registry, changed core.Date) View {
	s.mu.Lock()
	s.controller.SetRegistry(r)

	cur := s.dispatcher.Current()
	if !cur.IsZero() && cur.Involves(changed) {
		s.dispatcher.Invalidate(changed)
	}

	start, end := s.controller.Range()
	rangeActive := !start.IsEmpty() && !end.IsEmpty() &&
		(s.controller.Selected().IsEmpty() || (cur.Old.Equal(start) && cur.New.Equal(end)))

	switch {
	case rangeActive:
		s.controller.ResetRange()
		s.controller.ClickRange(start)
		if key, ok := s.controller.ClickRange(end); ok {
			return s.dispatch(ctx, key)
		}
	case !s.controller.Selected().IsEmpty():
		if key, ok := s.controller.PickDate(s.controller.Selected()); ok {
			return s.dispatch(ctx, key)
		}
	default:
		v := s.viewLocked()
		s.mu.Unlock()
		return v
	}

	v := View{Status: s.controller.Status()}
	s.mu.Unlock()
	return v
}

// SelectDate runs the single-date flow: pair d with its predecessor and
// compare, or report why no comparison applies.
func (s *Session) SelectDate(ctx context.Context, d core.Date) View {
	s.mu.Lock()
	key, ok := s.controller.PickDate(d)
	if !ok {
		v := View{Status: s.controller.Status()}
		s.mu.Unlock()
		return v
	}
	return s.dispatch(ctx, key)
}

// SelectRange runs the range flow as a click sequence: reset, click start,
// click end. Endpoint swap and registry validation follow from the clicks.
func (s *Session) SelectRange(ctx context.Context, start, end core.Date) View {
	s.mu.Lock()
	s.controller.ResetRange()
	s.controller.ClickRange(start)
	key, ok := s.controller.ClickRange(end)
	if !ok {
		v := View{Status: s.controller.Status()}
		s.mu.Unlock()
		return v
	}
	return s.dispatch(ctx, key)
}

// dispatch runs the comparison for key. Called with s.mu held; the lock is
// released around the comparer call so uploads and deletes are not blocked,
// and the ticket generation discards the completion if the session moved on.
func (s *Session) dispatch(ctx context.Context, key core.ComparisonKey) View {
	t, ok := s.dispatcher.Request(key)
	if !ok {
		v := s.viewLocked()
		s.mu.Unlock()
		return v
	}
	s.mu.Unlock()

	rep, err := s.comparer.Compare(ctx, key)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dispatcher.Resolve(t, rep, err) {
		s.logger.Debug("discarded stale comparison", "date_old", key.Old.String(), "date_new", key.New.String())
		return s.viewLocked()
	}
	if err != nil {
		s.logger.Error("comparison failed", "date_old", key.Old.String(), "date_new", key.New.String(), "error", err)
	}
	return s.viewLocked()
}

// ToggleSector toggles the department cross-filter and returns the updated
// view.
func (s *Session) ToggleSector(name string) View {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter.Toggle(name)
	return s.viewLocked()
}

// InvalidateDate clears selection and comparison state referencing a deleted
// date.
func (s *Session) InvalidateDate(d core.Date) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.controller.DropDate(d)
	if !s.dispatcher.Current().IsZero() && s.dispatcher.Current().Involves(d) {
		s.dispatcher.Invalidate(d)
		s.filter.Clear()
	}
}

// View returns the current session state.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *Session) viewLocked() View {
	v := View{
		Status: s.dispatcher.Status(),
		Report: s.dispatcher.Result(),
		Sector: s.filter.Selected(),
	}
	if key := s.dispatcher.Current(); !key.IsZero() {
		v.DateOld = key.Old.String()
		v.DateNew = key.New.String()
	}
	if v.Report != nil {
		v.Departments = core.FilterDepartments(v.Report.SummaryStats.DeptChart, s.filter.Selected())
	}
	return v
}
