package core

import "github.com/shopspring/decimal"

type (
	// ProjectImpact is one project's contribution inside an aggregate entry,
	// used for chart tooltips.
	ProjectImpact struct {
		Project string          `json:"project"`
		Period  string          `json:"period"`
		Before  decimal.Decimal `json:"amount_before"`
		After   decimal.Decimal `json:"amount_after"`
		Diff    decimal.Decimal `json:"amount_diff"`
	}

	// SectorImpact is the aggregated net impact for one organizational sector.
	SectorImpact struct {
		Name     string          `json:"name"`
		Impact   decimal.Decimal `json:"impact"`
		Projects []ProjectImpact `json:"projects"`
	}

	// DepartmentImpact is the aggregated net impact for one department. The
	// sector back-reference is what sector selection filters on.
	DepartmentImpact struct {
		Department string          `json:"department"`
		Sector     string          `json:"sector"`
		Impact     decimal.Decimal `json:"impact"`
		Projects   []ProjectImpact `json:"projects"`
	}
)

// CrossFilter holds the optional selected sector that narrows the department
// aggregate view. The zero value means no selection.
type CrossFilter struct {
	selected string
}

// Toggle selects sector s, or clears the selection when s is already
// selected. It never mutates the aggregate data itself.
func (f *CrossFilter) Toggle(s string) {
	if f.selected == s {
		f.selected = ""
		return
	}
	f.selected = s
}

// Selected returns the selected sector name, or "" when nothing is selected.
func (f *CrossFilter) Selected() string {
	return f.selected
}

// Clear drops any selection.
func (f *CrossFilter) Clear() {
	f.selected = ""
}

// FilterDepartments derives the department list visible under the current
// selection: all entries whose sector matches, or the full list when nothing
// is selected. The result is always a fresh slice; the source is never
// modified, so the view can be recomputed on every change to its inputs.
func FilterDepartments(depts []DepartmentImpact, selectedSector string) []DepartmentImpact {
	out := make([]DepartmentImpact, 0, len(depts))
	if selectedSector == "" {
		out = append(out, depts...)
		return out
	}
	for _, d := range depts {
		if d.Sector == selectedSector {
			out = append(out, d)
		}
	}
	return out
}
