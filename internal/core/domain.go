package core

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Report payloads carry bare JSON numbers, matching the wire format the
	// dashboard frontend already parses.
	decimal.MarshalJSONWithoutQuotes = true
}

const (
	New         ChangeType = "new"
	Dropped     ChangeType = "dropped"
	Updated     ChangeType = "updated"
	CarryOver   ChangeType = "carry_over"
	AdvanceSale ChangeType = "adv_sales"
	Other       ChangeType = "other"
)

type (
	// ChangeType classifies one project-level change between two snapshots.
	ChangeType string

	// Date is a calendar day (no time component) for which a snapshot may exist.
	Date struct {
		time.Time
	}

	// ComparisonKey identifies the (older, newer) snapshot pair being diffed.
	ComparisonKey struct {
		Old Date
		New Date
	}

	// ChangeRow is one project-level line item from a comparison result.
	// Amounts are exact decimals; AmountDiff is trusted as given, never
	// re-derived. Probability is nil when the source row carried no usable
	// probability value.
	ChangeRow struct {
		Type           ChangeType      `json:"type"`
		ProjectCode    string          `json:"project_code"`
		ProjectName    string          `json:"project"`
		SectorName     string          `json:"sector"`
		DepartmentName string          `json:"department"`
		Period         string          `json:"period"`
		AmountBefore   decimal.Decimal `json:"amount_before"`
		AmountAfter    decimal.Decimal `json:"amount_after"`
		AmountDiff     decimal.Decimal `json:"amount_diff"`
		Probability    *float64        `json:"probability"`
		Note           string          `json:"note"`
	}
)

var (
	ErrInvalidDate  = errors.New("invalid date")
	ErrInvalidKey   = errors.New("comparison key must be strictly ordered")
	ErrNoSnapshot   = errors.New("no snapshot for date")
	ErrBaselineDate = errors.New("baseline date, nothing to compare")
	ErrBadThreshold = errors.New("threshold outside allowed scale")
)

// ParseDate parses an ISO YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return Date{Time: t}, nil
}

// NewDate creates a Date from year, month, day.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

func (d Date) String() string {
	return d.Format("2006-01-02")
}

// IsEmpty returns true when no date has been selected.
func (d Date) IsEmpty() bool {
	return d.IsZero()
}

// Before reports whether d is strictly earlier than other.
func (d Date) Before(other Date) bool {
	return d.Time.Before(other.Time)
}

// Equal reports whether two dates name the same calendar day.
func (d Date) Equal(other Date) bool {
	return d.String() == other.String()
}

// NewComparisonKey builds a validated key. Ordering is the caller's job; an
// unordered pair reaching this point is a programming error, not user input.
func NewComparisonKey(old, new Date) (ComparisonKey, error) {
	if old.IsEmpty() || new.IsEmpty() || !old.Before(new) {
		return ComparisonKey{}, ErrInvalidKey
	}
	return ComparisonKey{Old: old, New: new}, nil
}

// String renders the key as "old_new", the format the report cache uses.
func (k ComparisonKey) String() string {
	return k.Old.String() + "_" + k.New.String()
}

// IsZero reports whether the key is unset.
func (k ComparisonKey) IsZero() bool {
	return k.Old.IsEmpty() && k.New.IsEmpty()
}

// Involves reports whether d is one of the key's endpoints.
func (k ComparisonKey) Involves(d Date) bool {
	return k.Old.Equal(d) || k.New.Equal(d)
}

// Registry is the chronologically ordered set of dates with an uploaded
// snapshot. The zero value is an empty registry.
type Registry struct {
	dates []Date
}

// NewRegistry builds a registry from unordered dates, dropping duplicates.
func NewRegistry(dates []Date) Registry {
	sorted := make([]Date, 0, len(dates))
	seen := make(map[string]bool, len(dates))
	for _, d := range dates {
		if d.IsEmpty() || seen[d.String()] {
			continue
		}
		seen[d.String()] = true
		sorted = append(sorted, d)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })
	return Registry{dates: sorted}
}

// Dates returns the registry contents in ascending order.
func (r Registry) Dates() []Date {
	out := make([]Date, len(r.dates))
	copy(out, r.dates)
	return out
}

// Len returns the number of snapshot dates.
func (r Registry) Len() int {
	return len(r.dates)
}

// Contains reports whether a snapshot exists for d.
func (r Registry) Contains(d Date) bool {
	for _, x := range r.dates {
		if x.Equal(d) {
			return true
		}
	}
	return false
}

// PredecessorOf returns the largest registry date strictly earlier than d.
// ErrNoSnapshot when d itself is not registered, ErrBaselineDate when d is
// the earliest registered date.
func (r Registry) PredecessorOf(d Date) (Date, error) {
	idx := -1
	for i, x := range r.dates {
		if x.Equal(d) {
			idx = i
			break
		}
	}
	if idx == -1 {
		return Date{}, ErrNoSnapshot
	}
	if idx == 0 {
		return Date{}, ErrBaselineDate
	}
	return r.dates[idx-1], nil
}
