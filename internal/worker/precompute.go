// Package worker precomputes comparison reports in the background so the
// dashboard's first request for a fresh pair is a cache hit.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ledgerdiff/internal/amqp"
	"ledgerdiff/internal/core"
	"ledgerdiff/internal/diff"
)

// ReportComputer is the slice of the report service the worker drives.
type ReportComputer interface {
	Registry(ctx context.Context) (core.Registry, error)
	Precompute(ctx context.Context, date core.Date) error
	Compare(ctx context.Context, key core.ComparisonKey) (*diff.Report, error)
}

// PrecomputeWorker reacts to snapshot events and periodically sweeps the
// registry for pairs without a cached report.
type PrecomputeWorker struct {
	reports       ReportComputer
	sweepInterval time.Duration
}

func NewPrecomputeWorker(reports ReportComputer, sweepInterval time.Duration) *PrecomputeWorker {
	return &PrecomputeWorker{
		reports:       reports,
		sweepInterval: sweepInterval,
	}
}

// HandleEvent processes one snapshot event from AMQP.
func (w *PrecomputeWorker) HandleEvent(ctx context.Context, msg *amqp.SnapshotEventMessage) error {
	date, err := core.ParseDate(msg.Date)
	if err != nil {
		// A bad date can never succeed on redelivery; log and drop.
		slog.ErrorContext(ctx, "Event carries unparseable date", "date", msg.Date, "error", err)
		return nil
	}

	switch msg.Action {
	case amqp.ActionUpload:
		return w.handleUpload(ctx, date)
	case amqp.ActionDelete:
		return w.handleDelete(ctx, date)
	default:
		slog.WarnContext(ctx, "Unknown snapshot event action", "action", msg.Action, "date", msg.Date)
		return nil
	}
}

// handleUpload warms the pair ending on the new date and the pair starting
// from it, when a successor exists.
func (w *PrecomputeWorker) handleUpload(ctx context.Context, date core.Date) error {
	if err := w.reports.Precompute(ctx, date); err != nil {
		return fmt.Errorf("precompute up to %s: %w", date, err)
	}

	reg, err := w.reports.Registry(ctx)
	if err != nil {
		return err
	}
	succ, ok := successorOf(reg, date)
	if !ok {
		return nil
	}
	key, err := core.NewComparisonKey(date, succ)
	if err != nil {
		return err
	}
	if _, err := w.reports.Compare(ctx, key); err != nil {
		return fmt.Errorf("precompute from %s: %w", date, err)
	}
	return nil
}

// handleDelete bridges the gap: the deleted date's neighbors become adjacent
// and their pair is warmed so monthly statistics stay consistent.
func (w *PrecomputeWorker) handleDelete(ctx context.Context, date core.Date) error {
	reg, err := w.reports.Registry(ctx)
	if err != nil {
		return err
	}

	var pred core.Date
	havePred := false
	for _, d := range reg.Dates() {
		if d.Before(date) {
			pred = d
			havePred = true
		}
	}
	succ, haveSucc := successorOf(reg, date)
	if !havePred || !haveSucc {
		return nil
	}

	key, err := core.NewComparisonKey(pred, succ)
	if err != nil {
		return err
	}
	if _, err := w.reports.Compare(ctx, key); err != nil {
		return fmt.Errorf("bridge %s: %w", key, err)
	}
	return nil
}

// successorOf returns the smallest registry date strictly later than d. d
// itself need not be registered.
func successorOf(reg core.Registry, d core.Date) (core.Date, bool) {
	for _, x := range reg.Dates() {
		if d.Before(x) {
			return x, true
		}
	}
	return core.Date{}, false
}

// Sweep warms the predecessor pair of every registered date. Pairs already
// cached are cheap hits inside Compare; the sweep recovers from lost events.
func (w *PrecomputeWorker) Sweep(ctx context.Context) error {
	reg, err := w.reports.Registry(ctx)
	if err != nil {
		return fmt.Errorf("sweep registry: %w", err)
	}

	var errCount int
	for _, d := range reg.Dates() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.reports.Precompute(ctx, d); err != nil {
			slog.ErrorContext(ctx, "Sweep precompute failed", "date", d.String(), "error", err)
			errCount++
		}
	}
	if errCount > 0 {
		return fmt.Errorf("sweep finished with %d failures over %d dates", errCount, reg.Len())
	}

	slog.InfoContext(ctx, "Sweep completed", "dates", reg.Len())
	return nil
}

// RunPeriodicSweep runs Sweep on the configured interval until ctx ends. An
// immediate sweep runs first to recover anything missed while down.
func (w *PrecomputeWorker) RunPeriodicSweep(ctx context.Context) error {
	if err := w.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.ErrorContext(ctx, "Startup sweep failed", "error", err)
	}

	ticker := time.NewTicker(w.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.ErrorContext(ctx, "Periodic sweep failed", "error", err)
			}
		}
	}
}
