// Package services orchestrates snapshot and report operations across
// SQLite, the diff engine, and AMQP.
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"ledgerdiff/internal/amqp"
	"ledgerdiff/internal/core"
	"ledgerdiff/internal/diff"
	"ledgerdiff/internal/ledger"
	"ledgerdiff/internal/storage"
)

// ErrBadSnapshot marks an uploaded file that does not parse as a ledger
// snapshot. Nothing is stored for such uploads.
var ErrBadSnapshot = errors.New("snapshot file not parseable")

// EventPublisher publishes snapshot lifecycle events.
type EventPublisher interface {
	PublishSnapshotEvent(ctx context.Context, date, action string) error
}

// MonthlyStat is one day's cached impact for the monthly overview.
type MonthlyStat struct {
	Date   string          `json:"date"`
	Impact decimal.Decimal `json:"impact"`
}

// ReportService owns the snapshot store and the comparison pipeline.
type ReportService struct {
	storage   *storage.SQLiteRepository
	publisher EventPublisher
}

func NewReportService(storage *storage.SQLiteRepository, publisher EventPublisher) *ReportService {
	return &ReportService{
		storage:   storage,
		publisher: publisher,
	}
}

// Upload validates and stores a snapshot file for a date. Cached reports
// touching the date are dropped since their inputs changed.
func (s *ReportService) Upload(ctx context.Context, date core.Date, filename string, content []byte) error {
	if _, err := ledger.Parse(bytes.NewReader(content)); err != nil {
		return fmt.Errorf("%w: %v", ErrBadSnapshot, err)
	}

	if err := s.storage.SaveSnapshot(ctx, date, filename, content); err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}
	if err := s.storage.DeleteReportsInvolving(ctx, date); err != nil {
		return fmt.Errorf("invalidate reports: %w", err)
	}

	s.publishEvent(ctx, date, amqp.ActionUpload)
	return nil
}

// Delete removes a snapshot and its dependent cached reports.
func (s *ReportService) Delete(ctx context.Context, date core.Date) error {
	if err := s.storage.DeleteSnapshot(ctx, date); err != nil {
		return err
	}

	s.publishEvent(ctx, date, amqp.ActionDelete)
	return nil
}

// Registry returns the current snapshot date registry.
func (s *ReportService) Registry(ctx context.Context) (core.Registry, error) {
	dates, err := s.storage.ListDates(ctx)
	if err != nil {
		return core.Registry{}, fmt.Errorf("load registry: %w", err)
	}
	return core.NewRegistry(dates), nil
}

// Compare returns the report for a snapshot pair, computing and caching it on
// a miss. Implements session.Comparer.
func (s *ReportService) Compare(ctx context.Context, key core.ComparisonKey) (*diff.Report, error) {
	cached, err := s.storage.GetReport(ctx, key)
	if err == nil {
		var rep diff.Report
		if uerr := json.Unmarshal(cached, &rep); uerr == nil {
			slog.DebugContext(ctx, "Report cache hit",
				"date_old", key.Old.String(),
				"date_new", key.New.String())
			return &rep, nil
		}
		// Undecodable cache entries are recomputed below.
		slog.WarnContext(ctx, "Discarding corrupt cached report", "key", key.String())
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	oldSnap, err := s.loadSnapshot(ctx, key.Old)
	if err != nil {
		return nil, err
	}
	newSnap, err := s.loadSnapshot(ctx, key.New)
	if err != nil {
		return nil, err
	}

	rep := diff.Compare(oldSnap, newSnap, key.New)

	body, err := json.Marshal(rep)
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}
	if err := s.storage.SaveReport(ctx, key, body); err != nil {
		slog.ErrorContext(ctx, "Failed to cache report", "key", key.String(), "error", err)
		// The computed report is still good; caching is best effort.
	}

	slog.InfoContext(ctx, "Report computed",
		"date_old", key.Old.String(),
		"date_new", key.New.String(),
		"rows", len(rep.DailyReport))
	return rep, nil
}

// Precompute compares date against its registry predecessor and warms the
// cache. Baseline and unknown dates are a quiet no-op.
func (s *ReportService) Precompute(ctx context.Context, date core.Date) error {
	reg, err := s.Registry(ctx)
	if err != nil {
		return err
	}
	pred, err := reg.PredecessorOf(date)
	if errors.Is(err, core.ErrBaselineDate) || errors.Is(err, core.ErrNoSnapshot) {
		return nil
	}
	if err != nil {
		return err
	}

	key, err := core.NewComparisonKey(pred, date)
	if err != nil {
		return err
	}
	_, err = s.Compare(ctx, key)
	return err
}

// MonthlyStats returns the cached impact per snapshot date of a month. Dates
// without a cached report, including the registry baseline, carry zero.
func (s *ReportService) MonthlyStats(ctx context.Context, year, month int) ([]MonthlyStat, error) {
	reg, err := s.Registry(ctx)
	if err != nil {
		return nil, err
	}

	stats := make([]MonthlyStat, 0)
	for i, d := range reg.Dates() {
		if d.Year() != year || int(d.Month()) != month {
			continue
		}
		stat := MonthlyStat{Date: d.String(), Impact: decimal.Zero}
		if i > 0 {
			if impact, ok := s.cachedImpact(ctx, d); ok {
				stat.Impact = impact
			}
		}
		stats = append(stats, stat)
	}
	return stats, nil
}

func (s *ReportService) cachedImpact(ctx context.Context, d core.Date) (decimal.Decimal, bool) {
	body, err := s.storage.GetReportEndingOn(ctx, d)
	if err != nil {
		return decimal.Zero, false
	}
	var rep diff.Report
	if err := json.Unmarshal(body, &rep); err != nil {
		slog.WarnContext(ctx, "Corrupt cached report", "date", d.String(), "error", err)
		return decimal.Zero, false
	}
	return rep.SummaryStats.TotalImpact, true
}

// SnapshotFile returns the stored file for a date.
func (s *ReportService) SnapshotFile(ctx context.Context, date core.Date) (string, []byte, error) {
	return s.storage.GetSnapshot(ctx, date)
}

func (s *ReportService) loadSnapshot(ctx context.Context, date core.Date) (*ledger.Snapshot, error) {
	_, content, err := s.storage.GetSnapshot(ctx, date)
	if err != nil {
		return nil, err
	}
	snap, err := ledger.Parse(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("parse stored snapshot %s: %w", date, err)
	}
	return snap, nil
}

func (s *ReportService) publishEvent(ctx context.Context, date core.Date, action string) {
	if s.publisher == nil {
		slog.WarnContext(ctx, "AMQP publisher not available, skipping snapshot event",
			"date", date.String(), "action", action)
		return
	}
	if err := s.publisher.PublishSnapshotEvent(ctx, date.String(), action); err != nil {
		slog.ErrorContext(ctx, "Failed to publish snapshot event",
			"date", date.String(), "action", action, "error", err)
		// The local write already succeeded; the event is best effort.
	}
}

// Close releases the underlying storage.
func (s *ReportService) Close() error {
	if s.storage != nil {
		if err := s.storage.Close(); err != nil {
			return fmt.Errorf("close report service: %w", err)
		}
	}
	return nil
}
