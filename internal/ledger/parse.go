// Package ledger parses uploaded snapshot files into keyed project rows.
//
// Uploads come from a reporting tool that pads the sheet with banner rows
// above the real header and mixes subtotal rows into the data, so parsing
// hunts for the header row and filters aggressively rather than trusting the
// file shape.
package ledger

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrNoHeader = errors.New("ledger: no project header row found")
	ErrNoKey    = errors.New("ledger: no project key column found")
)

// headerScanLimit bounds the hunt for the real header row.
const headerScanLimit = 50

type (
	// MonthColumn is one monthly amount column detected in the header.
	MonthColumn struct {
		Label string
		Month int // 1-12
	}

	// Row is one project line of a snapshot.
	Row struct {
		Code        string
		Name        string
		Department  string
		Sector      string
		Probability *float64
		// Amounts holds the value of each detected month column, keyed by
		// column label. Missing and unparseable cells coerce to zero.
		Amounts map[string]decimal.Decimal
	}

	// Snapshot is one parsed upload: keyed rows in file order plus the month
	// column layout they share.
	Snapshot struct {
		Rows         []Row
		MonthColumns []MonthColumn
		index        map[string]int
	}
)

// Lookup returns the row for a project code, if present.
func (s *Snapshot) Lookup(code string) (Row, bool) {
	i, ok := s.index[code]
	if !ok {
		return Row{}, false
	}
	return s.Rows[i], true
}

// TotalSales sums every month column over every row.
func (s *Snapshot) TotalSales() decimal.Decimal {
	total := decimal.Zero
	for _, r := range s.Rows {
		for _, mc := range s.MonthColumns {
			total = total.Add(r.Amounts[mc.Label])
		}
	}
	return total
}

// Parse reads a CSV snapshot. It locates the header row, maps the key,
// descriptive and monthly columns, and returns the cleaned row set: rows
// without a key, subtotal rows, and duplicate keys (keeping the first) are
// dropped.
func Parse(r io.Reader) (*Snapshot, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) > 0 && len(records[0]) > 0 {
		records[0][0] = strings.TrimPrefix(records[0][0], "\uFEFF")
	}

	headerIdx := findHeaderRow(records)
	if headerIdx == -1 {
		return nil, ErrNoHeader
	}

	header := make([]string, len(records[headerIdx]))
	for i, h := range records[headerIdx] {
		header[i] = strings.TrimSpace(h)
	}

	cols, err := mapColumns(header)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		MonthColumns: cols.months,
		index:        make(map[string]int),
	}

	for _, rec := range records[headerIdx+1:] {
		if cols.key >= len(rec) {
			continue
		}
		code := strings.TrimSpace(rec[cols.key])
		if code == "" || isAggregateRow(code) {
			continue
		}
		if _, dup := snap.index[code]; dup {
			continue
		}

		row := Row{
			Code:        code,
			Name:        cell(rec, cols.name),
			Department:  cell(rec, cols.department),
			Sector:      cell(rec, cols.sector),
			Probability: parseProbability(cell(rec, cols.probability)),
			Amounts:     make(map[string]decimal.Decimal, len(cols.months)),
		}
		for _, mc := range cols.months {
			row.Amounts[mc.Label] = parseAmount(cell(rec, cols.monthIdx[mc.Label]))
		}

		snap.index[code] = len(snap.Rows)
		snap.Rows = append(snap.Rows, row)
	}

	return snap, nil
}

type columnMap struct {
	key         int
	name        int
	department  int
	sector      int
	probability int
	months      []MonthColumn
	monthIdx    map[string]int
}

// findHeaderRow scans the leading rows for one that names the project key.
func findHeaderRow(records [][]string) int {
	limit := len(records)
	if limit > headerScanLimit {
		limit = headerScanLimit
	}
	for i := 0; i < limit; i++ {
		joined := strings.ToUpper(strings.Join(records[i], " "))
		if strings.Contains(joined, "PJT") ||
			strings.Contains(joined, "PROJECT") ||
			strings.Contains(joined, "CODE") {
			return i
		}
	}
	return -1
}

func mapColumns(header []string) (columnMap, error) {
	cols := columnMap{
		key:         -1,
		name:        -1,
		department:  -1,
		sector:      -1,
		probability: -1,
		monthIdx:    make(map[string]int),
	}

	for _, cand := range []string{"PJT", "PROJECT", "CODE"} {
		for i, h := range header {
			if strings.Contains(strings.ToUpper(h), cand) {
				cols.key = i
				break
			}
		}
		if cols.key != -1 {
			break
		}
	}
	if cols.key == -1 {
		return cols, ErrNoKey
	}

	for i, h := range header {
		if i == cols.key {
			continue
		}
		up := strings.ToUpper(h)
		switch {
		case cols.name == -1 && (up == "NAME" || strings.Contains(up, "PROJECT NAME")):
			cols.name = i
		case cols.department == -1 && (up == "DEPARTMENT" || up == "DEPT"):
			cols.department = i
		case cols.sector == -1 && (up == "SECTOR" || up == "DIVISION"):
			cols.sector = i
		case cols.probability == -1 && (strings.Contains(up, "PROBABILITY") || up == "WIN%" || up == "STATUS"):
			cols.probability = i
		default:
			if m, ok := monthFromHeader(h); ok {
				cols.months = append(cols.months, MonthColumn{Label: h, Month: m})
				cols.monthIdx[h] = i
			}
		}
	}

	// Fall back to the column right after the key for the project name, the
	// layout every known export uses.
	if cols.name == -1 && cols.key+1 < len(header) {
		if _, isMonth := cols.monthIdx[header[cols.key+1]]; !isMonth {
			cols.name = cols.key + 1
		}
	}

	return cols, nil
}

var (
	monthSuffixRe = regexp.MustCompile(`^M?(\d{1,2})$`)
	monthNames    = map[string]int{
		"JAN": 1, "FEB": 2, "MAR": 3, "APR": 4, "MAY": 5, "JUN": 6,
		"JUL": 7, "AUG": 8, "SEP": 9, "OCT": 10, "NOV": 11, "DEC": 12,
	}
)

// monthFromHeader recognizes monthly amount columns: "M7", "7", "Jul",
// "July" and the "2025-07" form some exports use.
func monthFromHeader(h string) (int, bool) {
	up := strings.ToUpper(strings.TrimSpace(h))
	if up == "" {
		return 0, false
	}

	if m := monthSuffixRe.FindStringSubmatch(up); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n >= 1 && n <= 12 {
			return n, true
		}
		return 0, false
	}

	if len(up) >= 3 {
		if n, ok := monthNames[up[:3]]; ok {
			return n, true
		}
	}

	if i := strings.LastIndex(up, "-"); i > 0 {
		if n, err := strconv.Atoi(up[i+1:]); err == nil && n >= 1 && n <= 12 {
			return n, true
		}
	}

	return 0, false
}

// isAggregateRow filters subtotal and grand-total rows mixed into the data.
func isAggregateRow(key string) bool {
	up := strings.ToUpper(key)
	return strings.Contains(up, "TOTAL") || strings.Contains(up, "SUBTOTAL")
}

func cell(rec []string, idx int) string {
	if idx < 0 || idx >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[idx])
}

// parseAmount coerces a cell to a decimal amount. Thousands separators and
// percent signs are stripped; anything unparseable counts as zero, matching
// how the source sheets leave blanks in inactive months.
func parseAmount(s string) decimal.Decimal {
	s = strings.TrimSpace(strings.ReplaceAll(strings.ReplaceAll(s, ",", ""), "%", ""))
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// parseProbability coerces a cell to a win probability percentage. Absent or
// unparseable values stay absent (nil) rather than turning into zero.
// Fractional values in (0, 1] are normalized to percent.
func parseProbability(s string) *float64 {
	s = strings.TrimSpace(strings.ReplaceAll(strings.ReplaceAll(s, "%", ""), ",", ""))
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	if v > 0 && v <= 1.0 {
		v *= 100
	}
	return &v
}
