package services

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"ledgerdiff/internal/amqp"
	"ledgerdiff/internal/core"
	"ledgerdiff/internal/storage"
)

const (
	csvJan01 = `PJT Code,Name,Sector,Department,Probability,Jun,Jul
P-001,Harbor Crane,Industry,Heavy,80,1000,2000
P-002,Radar Refit,Defense,Naval,50,0,500
`
	csvJan05 = `PJT Code,Name,Sector,Department,Probability,Jun,Jul
P-001,Harbor Crane,Industry,Heavy,80,1000,2600
P-003,Wind Farm,Energy,Solar,60,0,700
`
)

type recordingPublisher struct {
	events []string
	err    error
}

func (p *recordingPublisher) PublishSnapshotEvent(_ context.Context, date, action string) error {
	p.events = append(p.events, action+":"+date)
	return p.err
}

func newTestService(t *testing.T) (*ReportService, *recordingPublisher) {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "ledgerdiff.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	pub := &recordingPublisher{}
	svc := NewReportService(repo, pub)
	t.Cleanup(func() { svc.Close() })
	return svc, pub
}

func svcDate(t *testing.T, s string) core.Date {
	t.Helper()
	d, err := core.ParseDate(s)
	if err != nil {
		t.Fatalf("ParseDate(%q): %v", s, err)
	}
	return d
}

func seed(t *testing.T, svc *ReportService) {
	t.Helper()
	ctx := context.Background()
	if err := svc.Upload(ctx, svcDate(t, "2025-01-01"), "jan01.csv", []byte(csvJan01)); err != nil {
		t.Fatalf("Upload jan01: %v", err)
	}
	if err := svc.Upload(ctx, svcDate(t, "2025-01-05"), "jan05.csv", []byte(csvJan05)); err != nil {
		t.Fatalf("Upload jan05: %v", err)
	}
}

func TestUploadRejectsUnparseableFile(t *testing.T) {
	svc, pub := newTestService(t)

	err := svc.Upload(context.Background(), svcDate(t, "2025-01-01"), "junk.csv", []byte("no header here\nat all\n"))
	if err == nil {
		t.Fatal("expected an error for an unparseable file")
	}
	if len(pub.events) != 0 {
		t.Fatalf("rejected upload must not publish events, got %v", pub.events)
	}
}

func TestUploadAndRegistry(t *testing.T) {
	svc, pub := newTestService(t)
	seed(t, svc)

	reg, err := svc.Registry(context.Background())
	if err != nil {
		t.Fatalf("Registry: %v", err)
	}
	if reg.Len() != 2 {
		t.Fatalf("registry len = %d, want 2", reg.Len())
	}
	want := []string{"upload:2025-01-01", "upload:2025-01-05"}
	for i, w := range want {
		if pub.events[i] != w {
			t.Fatalf("events = %v, want %v", pub.events, want)
		}
	}
}

func TestCompareComputesAndCaches(t *testing.T) {
	svc, _ := newTestService(t)
	seed(t, svc)
	ctx := context.Background()

	key, err := core.NewComparisonKey(svcDate(t, "2025-01-01"), svcDate(t, "2025-01-05"))
	if err != nil {
		t.Fatalf("NewComparisonKey: %v", err)
	}

	rep, err := svc.Compare(ctx, key)
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	// +600 on P-001, +700 new P-003, -500 dropped P-002.
	if rep.SummaryStats.TotalImpact.String() != "800" {
		t.Fatalf("total impact = %s, want 800", rep.SummaryStats.TotalImpact)
	}

	// Second call is served from cache and agrees with the first.
	again, err := svc.Compare(ctx, key)
	if err != nil {
		t.Fatalf("Compare cached: %v", err)
	}
	if !again.SummaryStats.TotalImpact.Equal(rep.SummaryStats.TotalImpact) {
		t.Fatalf("cached impact %s != computed %s", again.SummaryStats.TotalImpact, rep.SummaryStats.TotalImpact)
	}
	if len(again.DailyReport) != len(rep.DailyReport) {
		t.Fatalf("cached rows %d != computed %d", len(again.DailyReport), len(rep.DailyReport))
	}
}

func TestCompareMissingSnapshot(t *testing.T) {
	svc, _ := newTestService(t)
	seed(t, svc)

	key, err := core.NewComparisonKey(svcDate(t, "2025-01-01"), svcDate(t, "2025-02-01"))
	if err != nil {
		t.Fatalf("NewComparisonKey: %v", err)
	}
	if _, err := svc.Compare(context.Background(), key); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestReuploadInvalidatesCachedReport(t *testing.T) {
	svc, _ := newTestService(t)
	seed(t, svc)
	ctx := context.Background()

	key, _ := core.NewComparisonKey(svcDate(t, "2025-01-01"), svcDate(t, "2025-01-05"))
	if _, err := svc.Compare(ctx, key); err != nil {
		t.Fatalf("Compare: %v", err)
	}

	// Re-upload the newer day with a changed file; the stale report must be
	// recomputed, not served.
	changed := `PJT Code,Name,Sector,Department,Probability,Jun,Jul
P-001,Harbor Crane,Industry,Heavy,80,1000,2100
`
	if err := svc.Upload(ctx, svcDate(t, "2025-01-05"), "jan05-v2.csv", []byte(changed)); err != nil {
		t.Fatalf("re-upload: %v", err)
	}

	rep, err := svc.Compare(ctx, key)
	if err != nil {
		t.Fatalf("Compare after re-upload: %v", err)
	}
	// +100 on P-001, -500 dropped P-002.
	if rep.SummaryStats.TotalImpact.String() != "-400" {
		t.Fatalf("impact after re-upload = %s, want -400", rep.SummaryStats.TotalImpact)
	}
}

func TestPrecomputeAndMonthlyStats(t *testing.T) {
	svc, _ := newTestService(t)
	seed(t, svc)
	ctx := context.Background()

	if err := svc.Precompute(ctx, svcDate(t, "2025-01-05")); err != nil {
		t.Fatalf("Precompute: %v", err)
	}
	// Baseline and unknown dates are quiet no-ops.
	if err := svc.Precompute(ctx, svcDate(t, "2025-01-01")); err != nil {
		t.Fatalf("Precompute baseline: %v", err)
	}
	if err := svc.Precompute(ctx, svcDate(t, "2025-03-03")); err != nil {
		t.Fatalf("Precompute unknown: %v", err)
	}

	stats, err := svc.MonthlyStats(ctx, 2025, 1)
	if err != nil {
		t.Fatalf("MonthlyStats: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("stats len = %d, want 2", len(stats))
	}
	if stats[0].Date != "2025-01-01" || !stats[0].Impact.IsZero() {
		t.Fatalf("baseline stat = %+v, want zero impact", stats[0])
	}
	if stats[1].Date != "2025-01-05" || stats[1].Impact.String() != "800" {
		t.Fatalf("stat = %+v, want impact 800", stats[1])
	}

	empty, err := svc.MonthlyStats(ctx, 2025, 2)
	if err != nil {
		t.Fatalf("MonthlyStats empty month: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("empty month stats = %+v", empty)
	}
}

func TestDeletePublishesAndDropsReports(t *testing.T) {
	svc, pub := newTestService(t)
	seed(t, svc)
	ctx := context.Background()

	key, _ := core.NewComparisonKey(svcDate(t, "2025-01-01"), svcDate(t, "2025-01-05"))
	if _, err := svc.Compare(ctx, key); err != nil {
		t.Fatalf("Compare: %v", err)
	}

	if err := svc.Delete(ctx, svcDate(t, "2025-01-05")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	last := pub.events[len(pub.events)-1]
	if last != amqp.ActionDelete+":2025-01-05" {
		t.Fatalf("last event = %q", last)
	}

	reg, err := svc.Registry(ctx)
	if err != nil {
		t.Fatalf("Registry: %v", err)
	}
	if reg.Contains(svcDate(t, "2025-01-05")) {
		t.Fatal("deleted date still in registry")
	}

	if err := svc.Delete(ctx, svcDate(t, "2025-01-05")); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("double delete err = %v, want ErrNotFound", err)
	}
}

func TestPublisherFailureDoesNotFailUpload(t *testing.T) {
	svc, pub := newTestService(t)
	pub.err = errors.New("broker down")

	if err := svc.Upload(context.Background(), svcDate(t, "2025-01-01"), "jan01.csv", []byte(csvJan01)); err != nil {
		t.Fatalf("Upload must succeed despite publisher failure: %v", err)
	}
}
