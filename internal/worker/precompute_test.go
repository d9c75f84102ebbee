package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"ledgerdiff/internal/amqp"
	"ledgerdiff/internal/core"
	"ledgerdiff/internal/diff"
)

type fakeReports struct {
	registry    core.Registry
	precomputed []string
	compared    []string
	err         error
}

func (f *fakeReports) Registry(context.Context) (core.Registry, error) {
	return f.registry, nil
}

func (f *fakeReports) Precompute(_ context.Context, d core.Date) error {
	f.precomputed = append(f.precomputed, d.String())
	return f.err
}

func (f *fakeReports) Compare(_ context.Context, key core.ComparisonKey) (*diff.Report, error) {
	f.compared = append(f.compared, key.String())
	if f.err != nil {
		return nil, f.err
	}
	return &diff.Report{}, nil
}

func wDate(t *testing.T, s string) core.Date {
	t.Helper()
	d, err := core.ParseDate(s)
	if err != nil {
		t.Fatalf("ParseDate(%q): %v", s, err)
	}
	return d
}

func wRegistry(t *testing.T, dates ...string) core.Registry {
	t.Helper()
	out := make([]core.Date, len(dates))
	for i, s := range dates {
		out[i] = wDate(t, s)
	}
	return core.NewRegistry(out)
}

func TestHandleUploadWarmsBothNeighborPairs(t *testing.T) {
	fake := &fakeReports{registry: wRegistry(t, "2025-01-01", "2025-01-05", "2025-01-10")}
	w := NewPrecomputeWorker(fake, time.Minute)

	msg := amqp.NewSnapshotEventMessage("2025-01-05", amqp.ActionUpload)
	if err := w.HandleEvent(context.Background(), msg); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}

	if len(fake.precomputed) != 1 || fake.precomputed[0] != "2025-01-05" {
		t.Fatalf("precomputed = %v", fake.precomputed)
	}
	if len(fake.compared) != 1 || fake.compared[0] != "2025-01-05_2025-01-10" {
		t.Fatalf("compared = %v, want the successor pair", fake.compared)
	}
}

func TestHandleUploadLatestDateHasNoSuccessor(t *testing.T) {
	fake := &fakeReports{registry: wRegistry(t, "2025-01-01", "2025-01-10")}
	w := NewPrecomputeWorker(fake, time.Minute)

	msg := amqp.NewSnapshotEventMessage("2025-01-10", amqp.ActionUpload)
	if err := w.HandleEvent(context.Background(), msg); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if len(fake.compared) != 0 {
		t.Fatalf("compared = %v, want none", fake.compared)
	}
}

func TestHandleDeleteBridgesNeighbors(t *testing.T) {
	// 2025-01-05 was just deleted; its neighbors remain.
	fake := &fakeReports{registry: wRegistry(t, "2025-01-01", "2025-01-10")}
	w := NewPrecomputeWorker(fake, time.Minute)

	msg := amqp.NewSnapshotEventMessage("2025-01-05", amqp.ActionDelete)
	if err := w.HandleEvent(context.Background(), msg); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if len(fake.compared) != 1 || fake.compared[0] != "2025-01-01_2025-01-10" {
		t.Fatalf("compared = %v, want the bridging pair", fake.compared)
	}
}

func TestHandleDeleteEdgeDateIsNoOp(t *testing.T) {
	fake := &fakeReports{registry: wRegistry(t, "2025-01-05", "2025-01-10")}
	w := NewPrecomputeWorker(fake, time.Minute)

	// The deleted date was the earliest; nothing to bridge.
	msg := amqp.NewSnapshotEventMessage("2025-01-01", amqp.ActionDelete)
	if err := w.HandleEvent(context.Background(), msg); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if len(fake.compared) != 0 {
		t.Fatalf("compared = %v, want none", fake.compared)
	}
}

func TestHandleEventBadDateIsDropped(t *testing.T) {
	fake := &fakeReports{}
	w := NewPrecomputeWorker(fake, time.Minute)

	msg := amqp.NewSnapshotEventMessage("not-a-date", amqp.ActionUpload)
	if err := w.HandleEvent(context.Background(), msg); err != nil {
		t.Fatalf("bad date must not be requeued: %v", err)
	}
}

func TestSweepCoversRegistry(t *testing.T) {
	fake := &fakeReports{registry: wRegistry(t, "2025-01-01", "2025-01-05", "2025-01-10")}
	w := NewPrecomputeWorker(fake, time.Minute)

	if err := w.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(fake.precomputed) != 3 {
		t.Fatalf("precomputed = %v, want all three dates", fake.precomputed)
	}
}

func TestSweepReportsFailures(t *testing.T) {
	fake := &fakeReports{
		registry: wRegistry(t, "2025-01-01", "2025-01-05"),
		err:      errors.New("boom"),
	}
	w := NewPrecomputeWorker(fake, time.Minute)

	if err := w.Sweep(context.Background()); err == nil {
		t.Fatal("Sweep must surface failures")
	}
}
