package session

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"

	"ledgerdiff/internal/core"
	"ledgerdiff/internal/diff"
)

func date(t *testing.T, s string) core.Date {
	t.Helper()
	d, err := core.ParseDate(s)
	if err != nil {
		t.Fatalf("ParseDate(%q): %v", s, err)
	}
	return d
}

func registry(t *testing.T, dates ...string) core.Registry {
	t.Helper()
	out := make([]core.Date, len(dates))
	for i, s := range dates {
		out[i] = date(t, s)
	}
	return core.NewRegistry(out)
}

type fakeComparer struct {
	calls   []core.ComparisonKey
	err     error
	reports map[string]*diff.Report
}

func (f *fakeComparer) Compare(_ context.Context, key core.ComparisonKey) (*diff.Report, error) {
	f.calls = append(f.calls, key)
	if f.err != nil {
		return nil, f.err
	}
	if rep, ok := f.reports[key.String()]; ok {
		return rep, nil
	}
	return &diff.Report{TextReport: key.String()}, nil
}

func newSession(t *testing.T, comparer Comparer, dates ...string) *Session {
	t.Helper()
	s := New(comparer, slog.Default())
	s.SetRegistry(registry(t, dates...))
	return s
}

func TestControllerPickDate(t *testing.T) {
	var c Controller
	c.SetRegistry(registry(t, "2025-01-01", "2025-01-05", "2025-01-10"))

	key, ok := c.PickDate(date(t, "2025-01-10"))
	if !ok {
		t.Fatalf("expected a key, status %q", c.Status())
	}
	if key.Old.String() != "2025-01-05" || key.New.String() != "2025-01-10" {
		t.Fatalf("key = %s, want 2025-01-05_2025-01-10", key)
	}

	if _, ok := c.PickDate(date(t, "2025-01-01")); ok {
		t.Fatal("earliest date must not pair")
	}
	if c.Status() != StatusBaseline {
		t.Fatalf("status = %q, want %q", c.Status(), StatusBaseline)
	}

	if _, ok := c.PickDate(date(t, "2025-02-01")); ok {
		t.Fatal("unregistered date must not pair")
	}
	if c.Status() != StatusNoData {
		t.Fatalf("status = %q, want %q", c.Status(), StatusNoData)
	}
}

func TestControllerRangeClickSequence(t *testing.T) {
	var c Controller
	c.SetRegistry(registry(t, "2025-01-03", "2025-01-10"))

	// Clicking 01-10 then 01-03 swaps so the range stays ordered.
	if _, ok := c.ClickRange(date(t, "2025-01-10")); ok {
		t.Fatal("first click must not dispatch")
	}
	key, ok := c.ClickRange(date(t, "2025-01-03"))
	if !ok {
		t.Fatalf("second click must dispatch, status %q", c.Status())
	}
	if key.Old.String() != "2025-01-03" || key.New.String() != "2025-01-10" {
		t.Fatalf("key = %s, want swapped endpoints", key)
	}

	// A third click restarts the range.
	if _, ok := c.ClickRange(date(t, "2025-01-10")); ok {
		t.Fatal("third click must reset, not dispatch")
	}
	start, end := c.Range()
	if start.String() != "2025-01-10" || !end.IsEmpty() {
		t.Fatalf("after reset start=%s end=%s", start, end)
	}
}

func TestControllerRangeRequiresUploads(t *testing.T) {
	var c Controller
	c.SetRegistry(registry(t, "2025-01-03"))

	c.ClickRange(date(t, "2025-01-03"))
	if _, ok := c.ClickRange(date(t, "2025-01-10")); ok {
		t.Fatal("range with an unregistered endpoint must not dispatch")
	}
	if c.Status() != StatusNoUpload {
		t.Fatalf("status = %q, want %q", c.Status(), StatusNoUpload)
	}
}

func TestSessionSelectDate(t *testing.T) {
	fake := &fakeComparer{}
	s := newSession(t, fake, "2025-01-01", "2025-01-05", "2025-01-10")

	v := s.SelectDate(context.Background(), date(t, "2025-01-10"))
	if v.Status != StatusComplete {
		t.Fatalf("status = %q, want %q", v.Status, StatusComplete)
	}
	if v.DateOld != "2025-01-05" || v.DateNew != "2025-01-10" {
		t.Fatalf("pair = %s_%s", v.DateOld, v.DateNew)
	}
	if v.Report == nil {
		t.Fatal("expected a report")
	}

	// Re-selecting the active pair is absorbed without recomputing.
	s.SelectDate(context.Background(), date(t, "2025-01-10"))
	if len(fake.calls) != 1 {
		t.Fatalf("comparer called %d times, want 1", len(fake.calls))
	}
}

func TestSessionSelectDateBaseline(t *testing.T) {
	fake := &fakeComparer{}
	s := newSession(t, fake, "2025-01-01", "2025-01-05")

	v := s.SelectDate(context.Background(), date(t, "2025-01-01"))
	if v.Status != StatusBaseline {
		t.Fatalf("status = %q, want %q", v.Status, StatusBaseline)
	}
	if len(fake.calls) != 0 {
		t.Fatal("baseline selection must not reach the comparer")
	}
}

func TestSessionFailureClearsResult(t *testing.T) {
	fake := &fakeComparer{}
	s := newSession(t, fake, "2025-01-01", "2025-01-05", "2025-01-10")

	if v := s.SelectDate(context.Background(), date(t, "2025-01-05")); v.Report == nil {
		t.Fatal("expected a first report")
	}

	fake.err = errors.New("boom")
	v := s.SelectDate(context.Background(), date(t, "2025-01-10"))
	if v.Status != StatusFailed {
		t.Fatalf("status = %q, want %q", v.Status, StatusFailed)
	}
	if v.Report != nil {
		t.Fatal("failed comparison must clear the previous result")
	}
}

func TestSessionInvalidateDate(t *testing.T) {
	fake := &fakeComparer{}
	s := newSession(t, fake, "2025-01-01", "2025-01-05", "2025-01-10")

	s.SelectDate(context.Background(), date(t, "2025-01-10"))
	s.InvalidateDate(date(t, "2025-01-05"))

	v := s.View()
	if v.Report != nil || v.DateOld != "" || v.DateNew != "" {
		t.Fatalf("deleting a participant must clear the comparison, got %+v", v)
	}

	// Deleting an uninvolved date leaves the comparison alone.
	s.SelectDate(context.Background(), date(t, "2025-01-10"))
	s.InvalidateDate(date(t, "2025-01-01"))
	if v := s.View(); v.Report == nil {
		t.Fatal("unrelated delete must not clear the comparison")
	}
}

func TestSessionRegistryChangeRepairsPairing(t *testing.T) {
	fake := &fakeComparer{}
	s := newSession(t, fake, "2025-01-01", "2025-01-10")

	v := s.SelectDate(context.Background(), date(t, "2025-01-10"))
	if v.DateOld != "2025-01-01" {
		t.Fatalf("initial pair old = %s, want 2025-01-01", v.DateOld)
	}

	// A snapshot lands between the endpoints; the selection re-pairs with
	// the new predecessor instead of serving the old comparison.
	v = s.RefreshRegistry(context.Background(),
		registry(t, "2025-01-01", "2025-01-05", "2025-01-10"), date(t, "2025-01-05"))
	if v.DateOld != "2025-01-05" || v.DateNew != "2025-01-10" {
		t.Fatalf("pair after registry change = %s_%s, want 2025-01-05_2025-01-10", v.DateOld, v.DateNew)
	}
	if v.Status != StatusComplete {
		t.Fatalf("status = %q, want %q", v.Status, StatusComplete)
	}
	if len(fake.calls) != 2 {
		t.Fatalf("comparer called %d times, want 2", len(fake.calls))
	}
}

func TestSessionReuploadRecomputesHeldReport(t *testing.T) {
	fake := &fakeComparer{}
	s := newSession(t, fake, "2025-01-01", "2025-01-10")

	s.SelectDate(context.Background(), date(t, "2025-01-10"))

	// Re-uploading an endpoint keeps the pairing, but the stored file behind
	// it changed, so the held report is rebuilt.
	v := s.RefreshRegistry(context.Background(),
		registry(t, "2025-01-01", "2025-01-10"), date(t, "2025-01-10"))
	if v.DateOld != "2025-01-01" || v.DateNew != "2025-01-10" {
		t.Fatalf("pair = %s_%s, want 2025-01-01_2025-01-10", v.DateOld, v.DateNew)
	}
	if len(fake.calls) != 2 {
		t.Fatalf("comparer called %d times, want 2", len(fake.calls))
	}

	// An upload not touching the pair leaves the held report alone.
	s.RefreshRegistry(context.Background(),
		registry(t, "2025-01-01", "2025-01-10", "2025-02-01"), date(t, "2025-02-01"))
	if len(fake.calls) != 2 {
		t.Fatalf("comparer called %d times after unrelated upload, want 2", len(fake.calls))
	}
}

func TestSessionRegistryChangeRecomputesRange(t *testing.T) {
	fake := &fakeComparer{}
	s := newSession(t, fake, "2025-01-01", "2025-01-10")

	if v := s.SelectRange(context.Background(), date(t, "2025-01-01"), date(t, "2025-01-10")); v.Status != StatusComplete {
		t.Fatalf("status = %q, want %q", v.Status, StatusComplete)
	}

	v := s.RefreshRegistry(context.Background(),
		registry(t, "2025-01-01", "2025-01-10"), date(t, "2025-01-01"))
	if v.DateOld != "2025-01-01" || v.DateNew != "2025-01-10" {
		t.Fatalf("pair = %s_%s, want 2025-01-01_2025-01-10", v.DateOld, v.DateNew)
	}
	if len(fake.calls) != 2 {
		t.Fatalf("comparer called %d times, want 2", len(fake.calls))
	}
}

func TestSessionRangeSameDate(t *testing.T) {
	fake := &fakeComparer{}
	s := newSession(t, fake, "2025-01-01", "2025-01-10")

	v := s.SelectRange(context.Background(), date(t, "2025-01-10"), date(t, "2025-01-10"))
	if v.Status != StatusIncompleteRange {
		t.Fatalf("status = %q, want %q", v.Status, StatusIncompleteRange)
	}
	if len(fake.calls) != 0 {
		t.Fatal("same-date range must not dispatch")
	}
}

func TestDispatcherStaleResolve(t *testing.T) {
	var d Dispatcher
	k1 := mustKey(t, "2025-01-01", "2025-01-05")
	k2 := mustKey(t, "2025-01-05", "2025-01-10")

	t1, ok := d.Request(k1)
	if !ok {
		t.Fatal("first request must dispatch")
	}
	t2, ok := d.Request(k2)
	if !ok {
		t.Fatal("superseding request must dispatch")
	}

	// The superseded completion arrives late and is discarded.
	if d.Resolve(t1, &diff.Report{TextReport: "stale"}, nil) {
		t.Fatal("stale completion must be discarded")
	}
	if !d.Resolve(t2, &diff.Report{TextReport: "current"}, nil) {
		t.Fatal("current completion must land")
	}
	if d.Result().TextReport != "current" {
		t.Fatalf("result = %q, want current", d.Result().TextReport)
	}
	if d.Busy() {
		t.Fatal("busy must clear after the current completion")
	}
}

func TestSessionSectorCrossFilter(t *testing.T) {
	rep := &diff.Report{}
	rep.SummaryStats.DeptChart = []core.DepartmentImpact{
		{Department: "Heavy", Sector: "Industry", Impact: decimal.NewFromInt(300)},
		{Department: "Naval", Sector: "Defense", Impact: decimal.NewFromInt(-100)},
	}
	fake := &fakeComparer{reports: map[string]*diff.Report{
		"2025-01-01_2025-01-05": rep,
	}}
	s := newSession(t, fake, "2025-01-01", "2025-01-05")

	s.SelectDate(context.Background(), date(t, "2025-01-05"))

	v := s.ToggleSector("Industry")
	if len(v.Departments) != 1 || v.Departments[0].Department != "Heavy" {
		t.Fatalf("filtered departments = %+v", v.Departments)
	}
	v = s.ToggleSector("Industry")
	if v.Sector != "" || len(v.Departments) != 2 {
		t.Fatalf("toggle twice must restore the full list, got %+v", v)
	}
}

func mustKey(t *testing.T, old, new string) core.ComparisonKey {
	t.Helper()
	k, err := core.NewComparisonKey(date(t, old), date(t, new))
	if err != nil {
		t.Fatalf("NewComparisonKey: %v", err)
	}
	return k
}
