package core

import (
	"testing"

	"github.com/shopspring/decimal"
)

func prob(v float64) *float64 { return &v }

func row(t ChangeType, p *float64, before, after int64) ChangeRow {
	b := decimal.NewFromInt(before)
	a := decimal.NewFromInt(after)
	return ChangeRow{
		Type:         t,
		AmountBefore: b,
		AmountAfter:  a,
		AmountDiff:   a.Sub(b),
		Probability:  p,
	}
}

func TestThresholdAt(t *testing.T) {
	cases := []struct {
		index int
		value int
		ok    bool
	}{
		{0, 0, true},
		{1, 10, true},
		{2, 30, true},
		{3, 50, true},
		{4, 60, true},
		{5, 70, true},
		{6, 90, true},
		{7, 100, true},
		{-1, 0, false},
		{8, 0, false},
	}
	for _, tc := range cases {
		got, err := ThresholdAt(tc.index)
		if tc.ok && (err != nil || got != tc.value) {
			t.Fatalf("ThresholdAt(%d) = %d, %v; want %d", tc.index, got, err, tc.value)
		}
		if !tc.ok && err == nil {
			t.Fatalf("ThresholdAt(%d) expected error", tc.index)
		}
	}
}

func TestClassifyWorkedScenario(t *testing.T) {
	rows := []ChangeRow{
		row(New, prob(80), 0, 1000),
		row(Dropped, prob(40), 500, 0),
		row(Updated, nil, 100, 100),
	}

	c := Classify(rows, 60)

	if c.ValidCount != 2 {
		t.Fatalf("valid count = %d, want 2", c.ValidCount)
	}
	if c.CatchUp.Count != 1 || len(c.CatchUp.Groups) != 1 || c.CatchUp.Groups[0].Type != Dropped {
		t.Fatalf("catch-up bucket should hold the dropped row, got %+v", c.CatchUp)
	}
	if got := c.CatchUp.Diff.IntPart(); got != -500 {
		t.Fatalf("catch-up diff = %d, want -500", got)
	}
	if c.Forecast.Count != 1 || len(c.Forecast.Groups) != 1 || c.Forecast.Groups[0].Type != New {
		t.Fatalf("forecast bucket should hold the new row, got %+v", c.Forecast)
	}
	if got := c.Forecast.Diff.IntPart(); got != 1000 {
		t.Fatalf("forecast diff = %d, want 1000", got)
	}
	if got := c.Grand.Diff.IntPart(); got != 500 {
		t.Fatalf("grand diff = %d, want 500", got)
	}
}

func TestClassifyExclusions(t *testing.T) {
	cases := []struct {
		name string
		r    ChangeRow
	}{
		{"nil probability", row(Updated, nil, 100, 200)},
		{"zero probability", row(Updated, prob(0), 100, 200)},
		{"all amounts zero", row(Updated, prob(50), 0, 0)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := Classify([]ChangeRow{tc.r}, 50)
			if c.ValidCount != 0 {
				t.Fatalf("row should be excluded, valid count = %d", c.ValidCount)
			}
			if c.CatchUp.Count != 0 || c.Forecast.Count != 0 {
				t.Fatal("excluded row landed in a bucket")
			}
		})
	}
}

func TestClassifyBoundaryProbability(t *testing.T) {
	// Probability equal to the threshold belongs to Forecast.
	c := Classify([]ChangeRow{row(Updated, prob(60), 100, 200)}, 60)
	if c.Forecast.Count != 1 || c.CatchUp.Count != 0 {
		t.Fatalf("boundary row should be forecast, got catch-up=%d forecast=%d",
			c.CatchUp.Count, c.Forecast.Count)
	}
}

func TestClassifyGroupOrderIsFirstSeen(t *testing.T) {
	rows := []ChangeRow{
		row(Updated, prob(90), 1, 2),
		row(New, prob(90), 0, 5),
		row(Updated, prob(90), 3, 4),
		row(Dropped, prob(90), 6, 0),
	}
	c := Classify(rows, 10)

	want := []ChangeType{Updated, New, Dropped}
	if len(c.Forecast.Groups) != len(want) {
		t.Fatalf("expected %d groups, got %d", len(want), len(c.Forecast.Groups))
	}
	for i, g := range c.Forecast.Groups {
		if g.Type != want[i] {
			t.Fatalf("group %d = %s, want %s", i, g.Type, want[i])
		}
	}
	if len(c.Forecast.Groups[0].Rows) != 2 {
		t.Fatalf("updated group should keep both rows in input order")
	}
	if !c.Forecast.Groups[0].Rows[0].AmountBefore.Equal(decimal.NewFromInt(1)) {
		t.Fatal("rows within a group must keep input order")
	}
}

func TestClassifyIdempotent(t *testing.T) {
	rows := []ChangeRow{
		row(New, prob(80), 0, 1000),
		row(Dropped, prob(40), 500, 0),
		row(CarryOver, prob(55), 300, 100),
	}
	first := Classify(rows, 50)
	second := Classify(rows, 50)

	if first.ValidCount != second.ValidCount ||
		first.CatchUp.Count != second.CatchUp.Count ||
		first.Forecast.Count != second.Forecast.Count ||
		!first.Grand.Diff.Equal(second.Grand.Diff) {
		t.Fatal("classification is not a pure function of its inputs")
	}
}

func TestClassifyThresholdMonotonicityAndConservation(t *testing.T) {
	rows := []ChangeRow{
		row(New, prob(5), 0, 10),
		row(New, prob(25), 0, 20),
		row(Updated, prob(55), 10, 40),
		row(Updated, prob(65), 10, 5),
		row(Dropped, prob(95), 50, 0),
		row(CarryOver, nil, 1, 2),   // excluded
		row(Other, prob(0), 1, 2),   // excluded
		row(Other, prob(50), 0, 0),  // excluded
	}

	prevCatchUp := -1
	prevForecast := int(^uint(0) >> 1)
	for _, th := range ThresholdScale {
		c := Classify(rows, th)

		if c.CatchUp.Count < prevCatchUp {
			t.Fatalf("catch-up count decreased at threshold %d", th)
		}
		if c.Forecast.Count > prevForecast {
			t.Fatalf("forecast count increased at threshold %d", th)
		}
		prevCatchUp = c.CatchUp.Count
		prevForecast = c.Forecast.Count

		if c.CatchUp.Count+c.Forecast.Count != c.ValidCount {
			t.Fatalf("threshold %d: counts do not conserve", th)
		}
		if !c.CatchUp.Diff.Add(c.Forecast.Diff).Equal(c.Grand.Diff) {
			t.Fatalf("threshold %d: diffs do not conserve", th)
		}
		if c.ValidCount != 5 {
			t.Fatalf("threshold %d: valid count = %d, want 5", th, c.ValidCount)
		}
	}
}
