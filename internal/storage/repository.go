package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"ledgerdiff/internal/core"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no row exists for the requested key.
var ErrNotFound = errors.New("not found")

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// SaveSnapshot stores or replaces the snapshot file uploaded for a date.
func (r *SQLiteRepository) SaveSnapshot(ctx context.Context, date core.Date, filename string, content []byte) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO snapshots (date, filename, content)
		VALUES (?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET filename = excluded.filename, content = excluded.content`,
		date.String(), filename, content)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	slog.InfoContext(ctx, "Snapshot saved",
		"date", date.String(),
		"filename", filename,
		"bytes", len(content))
	return nil
}

// GetSnapshot returns the stored file for a date.
func (r *SQLiteRepository) GetSnapshot(ctx context.Context, date core.Date) (string, []byte, error) {
	var filename string
	var content []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT filename, content FROM snapshots WHERE date = ?`, date.String()).
		Scan(&filename, &content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil, fmt.Errorf("snapshot %s: %w", date, ErrNotFound)
	}
	if err != nil {
		return "", nil, fmt.Errorf("get snapshot: %w", err)
	}
	return filename, content, nil
}

// ListDates returns every snapshot date in ascending order.
func (r *SQLiteRepository) ListDates(ctx context.Context) ([]core.Date, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT date FROM snapshots ORDER BY date ASC`)
	if err != nil {
		return nil, fmt.Errorf("list snapshot dates: %w", err)
	}
	defer rows.Close()

	var dates []core.Date
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan snapshot date: %w", err)
		}
		d, err := core.ParseDate(s)
		if err != nil {
			return nil, fmt.Errorf("stored date %q: %w", s, err)
		}
		dates = append(dates, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot dates: %w", err)
	}
	return dates, nil
}

// DeleteSnapshot removes the snapshot for a date along with every cached
// report that used it as an endpoint.
func (r *SQLiteRepository) DeleteSnapshot(ctx context.Context, date core.Date) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE date = ?`, date.String())
	if err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete snapshot rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("snapshot %s: %w", date, ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM report_cache WHERE date_old = ? OR date_new = ?`,
		date.String(), date.String()); err != nil {
		return fmt.Errorf("delete dependent reports: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}

	slog.InfoContext(ctx, "Snapshot deleted", "date", date.String())
	return nil
}

// SaveReport caches a serialized comparison result under its pair key.
func (r *SQLiteRepository) SaveReport(ctx context.Context, key core.ComparisonKey, resultJSON []byte) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO report_cache (id, date_old, date_new, result_json)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET result_json = excluded.result_json`,
		key.String(), key.Old.String(), key.New.String(), resultJSON)
	if err != nil {
		return fmt.Errorf("save report: %w", err)
	}

	slog.InfoContext(ctx, "Report cached",
		"date_old", key.Old.String(),
		"date_new", key.New.String(),
		"bytes", len(resultJSON))
	return nil
}

// GetReport returns the cached result for a pair key.
func (r *SQLiteRepository) GetReport(ctx context.Context, key core.ComparisonKey) ([]byte, error) {
	var result []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT result_json FROM report_cache WHERE id = ?`, key.String()).
		Scan(&result)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("report %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get report: %w", err)
	}
	return result, nil
}

// GetReportEndingOn returns the cached result whose newer endpoint is date.
// Monthly statistics read impact through this lookup.
func (r *SQLiteRepository) GetReportEndingOn(ctx context.Context, date core.Date) ([]byte, error) {
	var result []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT result_json FROM report_cache WHERE date_new = ? ORDER BY date_old DESC LIMIT 1`,
		date.String()).
		Scan(&result)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("report ending on %s: %w", date, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get report by end date: %w", err)
	}
	return result, nil
}

// DeleteReportsInvolving drops every cached report that has date as an
// endpoint. Used when a snapshot is re-uploaded and old diffs go stale.
func (r *SQLiteRepository) DeleteReportsInvolving(ctx context.Context, date core.Date) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM report_cache WHERE date_old = ? OR date_new = ?`,
		date.String(), date.String())
	if err != nil {
		return fmt.Errorf("delete reports involving %s: %w", date, err)
	}

	if n, err := res.RowsAffected(); err == nil && n > 0 {
		slog.InfoContext(ctx, "Stale reports dropped", "date", date.String(), "count", n)
	}
	return nil
}
