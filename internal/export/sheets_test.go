package export

import (
	"testing"

	"github.com/shopspring/decimal"

	"ledgerdiff/internal/core"
)

func TestChangeRowValues(t *testing.T) {
	prob := 60.0
	r := core.ChangeRow{
		Type:           core.New,
		ProjectCode:    "P-003",
		ProjectName:    "Wind Farm",
		SectorName:     "Energy",
		DepartmentName: "Solar",
		Period:         "Jul",
		AmountBefore:   decimal.Zero,
		AmountAfter:    decimal.NewFromInt(700),
		AmountDiff:     decimal.NewFromInt(700),
		Probability:    &prob,
	}

	got := changeRowValues(r)
	if len(got) != 10 {
		t.Fatalf("len = %d, want 10", len(got))
	}
	if got[0] != "new" || got[2] != "Wind Farm" || got[5] != "Jul" {
		t.Fatalf("values = %v", got)
	}
	if got[8] != 700.0 {
		t.Fatalf("diff cell = %v, want 700", got[8])
	}
	if got[9] != 60.0 {
		t.Fatalf("probability cell = %v, want 60", got[9])
	}

	r.Probability = nil
	got = changeRowValues(r)
	if got[9] != "" {
		t.Fatalf("nil probability cell = %v, want empty string", got[9])
	}
}
