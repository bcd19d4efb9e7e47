package aggregate

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"equity-waterfall-engine/internal/waterfall"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func defaultAggregator(policy UnknownPolicy) *Aggregator {
	return New(
		[]string{"Development Costs", "Planning & Engineering", "Land Acquisition"},
		[]string{"Net Revenue"},
		policy,
		zerolog.Nop(),
	)
}

// ============================================================================
// TEST: Net amount formula and classification
// ============================================================================

func TestAggregate_NetsRevenueMinusCosts(t *testing.T) {
	agg := defaultAggregator(UnknownError)
	periods := []PeriodSections{
		{Index: 0, Date: date(2023, 1, 1), Sections: []Section{
			{Name: "Development Costs", Amount: dec("400000")},
			{Name: "Land Acquisition", Amount: dec("600000")},
		}},
		{Index: 1, Date: date(2023, 2, 1), Sections: []Section{
			{Name: "Net Revenue", Amount: dec("250000")},
			{Name: "Planning & Engineering", Amount: dec("50000")},
		}},
	}

	out, err := agg.Aggregate(periods)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d periods, want 2", len(out))
	}
	if !out[0].NetAmount.Equal(dec("-1000000")) {
		t.Errorf("period 0 net = %s, want -1000000", out[0].NetAmount)
	}
	if !out[1].NetAmount.Equal(dec("200000")) {
		t.Errorf("period 1 net = %s, want 200000", out[1].NetAmount)
	}
}

func TestAggregate_CaseAndWhitespaceInsensitive(t *testing.T) {
	// The historical defect: exact-case matching silently dropped sections.
	agg := defaultAggregator(UnknownError)
	periods := []PeriodSections{
		{Index: 0, Date: date(2023, 1, 1), Sections: []Section{
			{Name: "DEVELOPMENT COSTS", Amount: dec("100")},
			{Name: "  development   costs ", Amount: dec("100")},
			{Name: "net revenue", Amount: dec("500")},
			{Name: "Net  Revenue", Amount: dec("500")},
		}},
	}

	out, err := agg.Aggregate(periods)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if !out[0].NetAmount.Equal(dec("800")) {
		t.Errorf("net = %s, want 800 (1000 revenue − 200 costs)", out[0].NetAmount)
	}
}

// ============================================================================
// TEST: Unknown sections are never silently bucketed
// ============================================================================

func TestAggregate_UnknownSectionErrorPolicy(t *testing.T) {
	agg := defaultAggregator(UnknownError)
	periods := []PeriodSections{
		{Index: 0, Date: date(2023, 1, 1), Sections: []Section{
			{Name: "Marketing Spend", Amount: dec("5000")},
		}},
	}

	_, err := agg.Aggregate(periods)
	if err == nil {
		t.Fatal("expected input contract error for unclassifiable section")
	}
	if _, ok := err.(*waterfall.InputError); !ok {
		t.Errorf("expected *waterfall.InputError, got %T: %v", err, err)
	}
}

func TestAggregate_UnknownSectionExcludePolicy(t *testing.T) {
	agg := defaultAggregator(UnknownExclude)
	periods := []PeriodSections{
		{Index: 0, Date: date(2023, 1, 1), Sections: []Section{
			{Name: "Net Revenue", Amount: dec("1000")},
			{Name: "Marketing Spend", Amount: dec("5000")},
		}},
	}

	out, err := agg.Aggregate(periods)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if !out[0].NetAmount.Equal(dec("1000")) {
		t.Errorf("net = %s, want 1000 with the unknown section excluded", out[0].NetAmount)
	}
}

// ============================================================================
// TEST: Gap-free output and contract validation
// ============================================================================

func TestAggregate_EmptyPeriodIsExplicitZero(t *testing.T) {
	agg := defaultAggregator(UnknownError)
	periods := []PeriodSections{
		{Index: 0, Date: date(2023, 1, 1), Sections: []Section{
			{Name: "Net Revenue", Amount: dec("100")},
		}},
		{Index: 1, Date: date(2023, 2, 1)}, // no activity
		{Index: 2, Date: date(2023, 3, 1), Sections: []Section{
			{Name: "Net Revenue", Amount: dec("200")},
		}},
	}

	out, err := agg.Aggregate(periods)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("got %d periods, want 3 — zero periods must not be omitted", len(out))
	}
	if !out[1].NetAmount.IsZero() {
		t.Errorf("empty period net = %s, want explicit 0", out[1].NetAmount)
	}
}

func TestAggregate_RejectsNonContiguousPeriods(t *testing.T) {
	agg := defaultAggregator(UnknownError)
	periods := []PeriodSections{
		{Index: 0, Date: date(2023, 1, 1)},
		{Index: 2, Date: date(2023, 3, 1)},
	}

	if _, err := agg.Aggregate(periods); err == nil {
		t.Fatal("expected error for period index gap")
	}
}

func TestAggregate_RejectsUnorderedDates(t *testing.T) {
	agg := defaultAggregator(UnknownError)
	periods := []PeriodSections{
		{Index: 0, Date: date(2023, 3, 1)},
		{Index: 1, Date: date(2023, 1, 1)},
	}

	if _, err := agg.Aggregate(periods); err == nil {
		t.Fatal("expected error for out-of-order dates")
	}
}
