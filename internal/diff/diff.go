// Package diff computes the change report between two ledger snapshots.
package diff

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"ledgerdiff/internal/core"
	"ledgerdiff/internal/ledger"
)

const (
	topProjectsPerGroup = 5
	topRowsPerType      = 10
	textReportRows      = 50
)

type (
	// TypeStats aggregates one change type for the executive summary.
	TypeStats struct {
		Count  int              `json:"count"`
		Amount decimal.Decimal  `json:"amount"`
		Top    []core.ChangeRow `json:"top"`
	}

	// SummaryStats is the pre-aggregated block the dashboard's summary tab
	// renders without touching the row list.
	SummaryStats struct {
		MacroTotalSales decimal.Decimal `json:"macro_total_sales"`
		MacroSalesDiff  decimal.Decimal `json:"macro_sales_diff"`
		TotalImpact     decimal.Decimal `json:"total_impact"`

		New       TypeStats `json:"new"`
		Dropped   TypeStats `json:"dropped"`
		Updated   TypeStats `json:"updated"`
		AdvSales  TypeStats `json:"adv_sales"`
		CarryOver TypeStats `json:"carry_over"`

		SectorChart []core.SectorImpact     `json:"sector_chart_data"`
		DeptChart   []core.DepartmentImpact `json:"dept_chart_data"`
	}

	// Report is the full comparison result for one snapshot pair.
	Report struct {
		SummaryStats SummaryStats     `json:"summary_stats"`
		DailyReport  []core.ChangeRow `json:"daily_report"`
		TextReport   string           `json:"text_report"`
	}
)

// Compare diffs two parsed snapshots. newDate supplies the reference month
// that splits amount movements into advance sales (earlier months) and
// carry-overs (later months, shrinking).
func Compare(oldSnap, newSnap *ledger.Snapshot, newDate core.Date) *Report {
	currentMonth := int(newDate.Month())

	var rows []core.ChangeRow

	// Projects present only in the new snapshot.
	for _, r := range newSnap.Rows {
		if _, ok := oldSnap.Lookup(r.Code); ok {
			continue
		}
		month, total := scheduleAndTotal(r, newSnap.MonthColumns)
		if total.IsZero() {
			continue
		}
		rows = append(rows, changeRow(core.New, r, month, decimal.Zero, total, total))
	}

	// Projects that vanished from the new snapshot.
	for _, r := range oldSnap.Rows {
		if _, ok := newSnap.Lookup(r.Code); ok {
			continue
		}
		month, total := scheduleAndTotal(r, oldSnap.MonthColumns)
		if total.IsZero() {
			continue
		}
		rows = append(rows, changeRow(core.Dropped, r, month, total, decimal.Zero, total.Neg()))
	}

	// Per-month movement on projects present in both.
	for _, r := range newSnap.Rows {
		oldRow, ok := oldSnap.Lookup(r.Code)
		if !ok {
			continue
		}
		for _, mc := range newSnap.MonthColumns {
			before := oldRow.Amounts[mc.Label]
			after := r.Amounts[mc.Label]
			d := after.Sub(before)
			if d.IsZero() {
				continue
			}

			t := core.Updated
			switch {
			case currentMonth > 0 && mc.Month < currentMonth:
				t = core.AdvanceSale
			case currentMonth > 0 && mc.Month > currentMonth && d.IsNegative():
				t = core.CarryOver
			}
			rows = append(rows, changeRow(t, r, mc, before, after, d))
		}
	}

	return buildReport(rows, oldSnap, newSnap)
}

func changeRow(t core.ChangeType, r ledger.Row, mc ledger.MonthColumn, before, after, d decimal.Decimal) core.ChangeRow {
	return core.ChangeRow{
		Type:           t,
		ProjectCode:    r.Code,
		ProjectName:    r.Name,
		SectorName:     r.Sector,
		DepartmentName: r.Department,
		Period:         mc.Label,
		AmountBefore:   before,
		AmountAfter:    after,
		AmountDiff:     d,
		Probability:    r.Probability,
		Note:           mc.Label + " movement",
	}
}

// scheduleAndTotal finds the month carrying the largest absolute amount and
// the total over all month columns.
func scheduleAndTotal(r ledger.Row, months []ledger.MonthColumn) (ledger.MonthColumn, decimal.Decimal) {
	total := decimal.Zero
	best := ledger.MonthColumn{Label: "-"}
	maxAbs := decimal.Zero

	for _, mc := range months {
		v := r.Amounts[mc.Label]
		total = total.Add(v)
		if v.Abs().GreaterThan(maxAbs) {
			maxAbs = v.Abs()
			best = mc
		}
	}
	return best, total
}

func buildReport(rows []core.ChangeRow, oldSnap, newSnap *ledger.Snapshot) *Report {
	rep := &Report{DailyReport: rows}

	stats := &rep.SummaryStats
	stats.MacroTotalSales = newSnap.TotalSales()
	stats.MacroSalesDiff = newSnap.TotalSales().Sub(oldSnap.TotalSales())
	stats.TotalImpact = decimal.Zero
	for _, r := range rows {
		stats.TotalImpact = stats.TotalImpact.Add(r.AmountDiff)
	}

	stats.New = typeStats(rows, core.New)
	stats.Dropped = typeStats(rows, core.Dropped)
	stats.Updated = typeStats(rows, core.Updated)
	stats.AdvSales = typeStats(rows, core.AdvanceSale)
	stats.CarryOver = typeStats(rows, core.CarryOver)

	stats.SectorChart = sectorChart(rows)
	stats.DeptChart = deptChart(rows)

	rep.TextReport = textReport(rows)
	return rep
}

func typeStats(rows []core.ChangeRow, t core.ChangeType) TypeStats {
	s := TypeStats{Amount: decimal.Zero}
	var matched []core.ChangeRow
	for _, r := range rows {
		if r.Type != t {
			continue
		}
		s.Count++
		s.Amount = s.Amount.Add(r.AmountDiff)
		matched = append(matched, r)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].AmountDiff.Abs().GreaterThan(matched[j].AmountDiff.Abs())
	})
	if len(matched) > topRowsPerType {
		matched = matched[:topRowsPerType]
	}
	s.Top = matched
	return s
}

func projectImpacts(group []core.ChangeRow) []core.ProjectImpact {
	sorted := make([]core.ChangeRow, len(group))
	copy(sorted, group)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].AmountDiff.Abs().GreaterThan(sorted[j].AmountDiff.Abs())
	})
	if len(sorted) > topProjectsPerGroup {
		sorted = sorted[:topProjectsPerGroup]
	}
	out := make([]core.ProjectImpact, len(sorted))
	for i, r := range sorted {
		out[i] = core.ProjectImpact{
			Project: r.ProjectName,
			Period:  r.Period,
			Before:  r.AmountBefore,
			After:   r.AmountAfter,
			Diff:    r.AmountDiff,
		}
	}
	return out
}

func sectorChart(rows []core.ChangeRow) []core.SectorImpact {
	groups := make(map[string][]core.ChangeRow)
	var order []string
	for _, r := range rows {
		name := r.SectorName
		if name == "" {
			name = r.DepartmentName
		}
		if _, ok := groups[name]; !ok {
			order = append(order, name)
		}
		groups[name] = append(groups[name], r)
	}

	out := make([]core.SectorImpact, 0, len(order))
	for _, name := range order {
		impact := decimal.Zero
		for _, r := range groups[name] {
			impact = impact.Add(r.AmountDiff)
		}
		out = append(out, core.SectorImpact{
			Name:     name,
			Impact:   impact,
			Projects: projectImpacts(groups[name]),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Impact.Abs().GreaterThan(out[j].Impact.Abs())
	})
	return out
}

func deptChart(rows []core.ChangeRow) []core.DepartmentImpact {
	groups := make(map[string][]core.ChangeRow)
	var order []string
	for _, r := range rows {
		if _, ok := groups[r.DepartmentName]; !ok {
			order = append(order, r.DepartmentName)
		}
		groups[r.DepartmentName] = append(groups[r.DepartmentName], r)
	}

	out := make([]core.DepartmentImpact, 0, len(order))
	for _, name := range order {
		impact := decimal.Zero
		for _, r := range groups[name] {
			impact = impact.Add(r.AmountDiff)
		}
		out = append(out, core.DepartmentImpact{
			Department: name,
			// Sector back-reference from the group's first row, the key the
			// frontend cross-filter matches on.
			Sector:   groups[name][0].SectorName,
			Impact:   impact,
			Projects: projectImpacts(groups[name]),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Impact.Abs().GreaterThan(out[j].Impact.Abs())
	})
	return out
}

// textReport renders a compact plain-text digest for the assistant context.
func textReport(rows []core.ChangeRow) string {
	limit := len(rows)
	if limit > textReportRows {
		limit = textReportRows
	}
	var b strings.Builder
	for _, r := range rows[:limit] {
		fmt.Fprintf(&b, "- [%s] %s (%s): %s\n", r.Type, r.ProjectName, r.Period, signedAmount(r.AmountDiff))
	}
	return strings.TrimRight(b.String(), "\n")
}

func signedAmount(d decimal.Decimal) string {
	if d.IsPositive() {
		return "+" + d.String()
	}
	return d.String()
}
