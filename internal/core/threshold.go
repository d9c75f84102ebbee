// Package core provides the snapshot comparison domain model and the
// probability-threshold classification engine.
//
// This file implements the bucketing of change rows into the CatchUp and
// Forecast groups for a given win-probability threshold, with per-type
// grouping and running subtotals.
package core

import "github.com/shopspring/decimal"

// ThresholdScale is the fixed 8-point probability scale the dashboard slider
// exposes. Downstream labeling depends on these exact values; the slider maps
// a linear index 0-7 to this list, never a continuous percentage.
var ThresholdScale = [8]int{0, 10, 30, 50, 60, 70, 90, 100}

// ThresholdAt maps a slider index (0-7) to its threshold value.
func ThresholdAt(index int) (int, error) {
	if index < 0 || index >= len(ThresholdScale) {
		return 0, ErrBadThreshold
	}
	return ThresholdScale[index], nil
}

// ValidThreshold reports whether v is one of the allowed scale values.
func ValidThreshold(v int) bool {
	for _, t := range ThresholdScale {
		if t == v {
			return true
		}
	}
	return false
}

type (
	// TypeGroup holds the rows of one change type within a bucket, in input
	// order.
	TypeGroup struct {
		Type ChangeType      `json:"type"`
		Rows []ChangeRow     `json:"rows"`
	}

	// Totals is a before/after/diff sum triple.
	Totals struct {
		Before decimal.Decimal `json:"total_before"`
		After  decimal.Decimal `json:"total_after"`
		Diff   decimal.Decimal `json:"total_diff"`
	}

	// Bucket is one side of the threshold split: rows grouped by change type
	// in first-seen order, with subtotals summed over the bucket's rows.
	Bucket struct {
		Groups []TypeGroup `json:"groups"`
		Count  int         `json:"count"`
		Totals
	}

	// Classification is the full result of bucketing a row set at one
	// threshold. Grand totals cover every validity-surviving row regardless
	// of which bucket it landed in.
	Classification struct {
		Threshold  int    `json:"threshold"`
		CatchUp    Bucket `json:"catch_up"`
		Forecast   Bucket `json:"forecast"`
		Grand      Totals `json:"grand_total"`
		ValidCount int    `json:"valid_count"`
	}
)

// rowCounts reports whether a row participates in bucketing at all. Rows with
// no probability, a probability of exactly zero, or all three amounts zero
// carry no signal and are excluded from both buckets.
//
// A 0% probability is treated as a "not yet quoted" sentinel in the source
// data, not a genuine zero likelihood; it is excluded rather than routed to
// the low-probability bucket.
func rowCounts(r ChangeRow) bool {
	if r.Probability == nil || *r.Probability == 0 {
		return false
	}
	if r.AmountBefore.IsZero() && r.AmountAfter.IsZero() && r.AmountDiff.IsZero() {
		return false
	}
	return true
}

// Classify partitions rows at the given threshold. It is a pure function:
// the same (rows, threshold) input always yields the same result, and the
// input slice is never mutated.
func Classify(rows []ChangeRow, threshold int) Classification {
	c := Classification{Threshold: threshold}

	for _, r := range rows {
		if !rowCounts(r) {
			continue
		}
		c.ValidCount++
		c.Grand.Before = c.Grand.Before.Add(r.AmountBefore)
		c.Grand.After = c.Grand.After.Add(r.AmountAfter)
		c.Grand.Diff = c.Grand.Diff.Add(r.AmountDiff)

		if *r.Probability < float64(threshold) {
			c.CatchUp.add(r)
		} else {
			c.Forecast.add(r)
		}
	}
	return c
}

// add appends a row to the bucket, keeping the first-seen order of change
// types and of rows within a type. Subtotals are accumulated from the rows
// themselves, not from per-group subtotal fields.
func (b *Bucket) add(r ChangeRow) {
	gi := -1
	for i := range b.Groups {
		if b.Groups[i].Type == r.Type {
			gi = i
			break
		}
	}
	if gi == -1 {
		b.Groups = append(b.Groups, TypeGroup{Type: r.Type})
		gi = len(b.Groups) - 1
	}
	b.Groups[gi].Rows = append(b.Groups[gi].Rows, r)

	b.Count++
	b.Before = b.Before.Add(r.AmountBefore)
	b.After = b.After.Add(r.AmountAfter)
	b.Diff = b.Diff.Add(r.AmountDiff)
}
