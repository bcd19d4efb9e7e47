package waterfall

import (
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"equity-waterfall-engine/internal/daycount"
)

func newTestEngine(input RunInput) *Engine {
	return NewEngine(input, daycount.Actual365, zerolog.Nop())
}

// monthlyPeriods builds n+1 contiguous monthly periods starting at d0 with a
// zero net amount, to be filled in per test.
func monthlyPeriods(d0 time.Time, n int) []CashFlowPeriod {
	periods := make([]CashFlowPeriod, 0, n+1)
	for i := 0; i <= n; i++ {
		periods = append(periods, CashFlowPeriod{
			Index:     i,
			Date:      d0.AddDate(0, i, 0),
			NetAmount: decimal.Zero,
		})
	}
	return periods
}

func accountFor(t *testing.T, result *RunResult, partnerID string) CapitalAccount {
	t.Helper()
	for _, a := range result.Accounts {
		if a.PartnerID == partnerID {
			return a
		}
	}
	t.Fatalf("no account snapshot for partner %s", partnerID)
	return CapitalAccount{}
}

// ============================================================================
// TEST: Scenario A — simple return of capital
// ============================================================================

func TestEngine_ScenarioA_SimpleReturnOfCapital(t *testing.T) {
	d0 := testDate(2023, 1, 1)
	periods := monthlyPeriods(d0, 6)
	periods[0].NetAmount = dec("-1000000")
	periods[6].NetAmount = dec("1000000")

	input := RunInput{
		Partners: singleLP("1000000", "0"),
		Tiers:    []WaterfallTier{{Number: 0, Type: TierReturnOfCapital}},
		Periods:  periods,
	}

	result, err := newTestEngine(input).Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	acct := accountFor(t, result, "lp-1")
	if !acct.ReturnedCapital.Equal(dec("1000000")) {
		t.Errorf("ReturnedCapital = %s, want exactly 1000000", acct.ReturnedCapital)
	}
	if !acct.AccruedPreferredUnpaid.IsZero() {
		t.Errorf("AccruedPreferredUnpaid = %s, want 0 throughout", acct.AccruedPreferredUnpaid)
	}
	if len(result.Remainders) != 0 {
		t.Errorf("unexpected remainders: %+v", result.Remainders)
	}
}

// ============================================================================
// TEST: Scenario B — preferred accrual then payout
// ============================================================================

func TestEngine_ScenarioB_PrefAccrualThenPayout(t *testing.T) {
	d0 := testDate(2023, 1, 1)
	periods := monthlyPeriods(d0, 12) // period 12 lands exactly 365 days after d0
	periods[0].NetAmount = dec("-1000000")
	periods[12].NetAmount = dec("1080000")

	input := RunInput{
		Partners: singleLP("1000000", "0.08"),
		Tiers: []WaterfallTier{
			{Number: 0, Type: TierReturnOfCapital},
			{Number: 1, Type: TierPreferredReturn},
		},
		Periods: periods,
	}

	result, err := newTestEngine(input).Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	acct := accountFor(t, result, "lp-1")
	if !acct.ReturnedCapital.Equal(dec("1000000")) {
		t.Errorf("ReturnedCapital = %s, want 1000000", acct.ReturnedCapital)
	}

	// Twelve monthly accrual intervals covering 365 days at 8% on 1M.
	tolerance := dec("0.000001")
	if acct.PaidPreferred.Sub(dec("80000")).Abs().GreaterThan(tolerance) {
		t.Errorf("PaidPreferred = %s, want 80000", acct.PaidPreferred)
	}
	if acct.AccruedPreferredUnpaid.Abs().GreaterThan(tolerance) {
		t.Errorf("AccruedPreferredUnpaid = %s, want 0 after payout", acct.AccruedPreferredUnpaid)
	}
}

// ============================================================================
// TEST: Scenario C — insufficient cash splits pro rata
// ============================================================================

func TestEngine_ScenarioC_ProRataShortfall(t *testing.T) {
	d0 := testDate(2023, 1, 1)
	periods := monthlyPeriods(d0, 1)
	periods[0].NetAmount = dec("-1000000")
	periods[1].NetAmount = dec("400000")

	input := RunInput{
		Partners: []Partner{
			{ID: "lp-1", Role: RoleLP, Commitment: dec("500000"), OwnershipPercent: dec("0.5")},
			{ID: "lp-2", Role: RoleLP, Commitment: dec("500000"), OwnershipPercent: dec("0.5")},
		},
		Tiers:   []WaterfallTier{{Number: 0, Type: TierReturnOfCapital}},
		Periods: periods,
	}

	result, err := newTestEngine(input).Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, id := range []string{"lp-1", "lp-2"} {
		acct := accountFor(t, result, id)
		if !acct.ReturnedCapital.Equal(dec("200000")) {
			t.Errorf("%s ReturnedCapital = %s, want exactly 200000", id, acct.ReturnedCapital)
		}
	}
}

// ============================================================================
// TEST: Scenario D — undefined IRR keeps gated residual tiers closed
// ============================================================================

func TestEngine_ScenarioD_UndefinedIRRClosesGate(t *testing.T) {
	// Distribution arrives before any capital call: the running series has no
	// negative flow, the IRR is undefined, and the gated residual tier must
	// stay closed. The cash is reported as a remainder, not dropped.
	d0 := testDate(2023, 1, 1)
	hurdle := dec("0.08")
	periods := monthlyPeriods(d0, 1)
	periods[1].NetAmount = dec("50000")

	input := RunInput{
		Partners: []Partner{{
			ID: "lp-1", Role: RoleLP, Commitment: dec("1000000"),
			OwnershipPercent: dec("1"),
			TierSplits:       map[int]decimal.Decimal{0: dec("1")},
		}},
		Tiers:   []WaterfallTier{{Number: 0, Type: TierResidualSplit, HurdleRate: &hurdle}},
		Periods: periods,
	}

	result, err := newTestEngine(input).Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(result.Distributions) != 0 {
		t.Errorf("expected no distributions while IRR undefined, got %+v", result.Distributions)
	}
	if len(result.Remainders) != 1 || !result.Remainders[0].Amount.Equal(dec("50000")) {
		t.Errorf("remainders = %+v, want the full 50000 reported for period 1", result.Remainders)
	}
	if result.PartnerIRR["lp-1"] != nil {
		t.Errorf("partner IRR = %v, want nil (undefined, never zero)", *result.PartnerIRR["lp-1"])
	}
}

// ============================================================================
// TEST: No premature accrual on first contribution period
// ============================================================================

func TestEngine_NoPrematureAccrual(t *testing.T) {
	// First contribution in period 2: after period 2 the accrued preferred
	// must be exactly zero; it starts building only in period 3.
	d0 := testDate(2023, 1, 1)
	periods := monthlyPeriods(d0, 2)
	periods[2].NetAmount = dec("-1000000")

	input := RunInput{
		Partners: singleLP("1000000", "0.08"),
		Tiers: []WaterfallTier{
			{Number: 0, Type: TierReturnOfCapital},
			{Number: 1, Type: TierPreferredReturn},
		},
		Periods: periods,
	}

	result, err := newTestEngine(input).Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	acct := accountFor(t, result, "lp-1")
	if !acct.AccruedPreferredUnpaid.IsZero() {
		t.Errorf("AccruedPreferredUnpaid after contribution period = %s, want exactly 0", acct.AccruedPreferredUnpaid)
	}

	// One more month and the accrual clock is running.
	periods = monthlyPeriods(d0, 3)
	periods[2].NetAmount = dec("-1000000")
	input.Periods = periods

	result, err = newTestEngine(input).Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if accountFor(t, result, "lp-1").AccruedPreferredUnpaid.Sign() <= 0 {
		t.Error("expected positive accrual one period after first contribution")
	}
}

// ============================================================================
// TEST: Tier precedence — unmet earlier tier starves later tiers
// ============================================================================

func TestEngine_TierPrecedence(t *testing.T) {
	d0 := testDate(2023, 1, 1)
	periods := monthlyPeriods(d0, 12)
	periods[0].NetAmount = dec("-1000000")
	periods[12].NetAmount = dec("600000") // less than capital outstanding

	input := RunInput{
		Partners: singleLP("1000000", "0.08"),
		Tiers: []WaterfallTier{
			{Number: 0, Type: TierReturnOfCapital},
			{Number: 1, Type: TierPreferredReturn},
		},
		Periods: periods,
	}

	result, err := newTestEngine(input).Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, row := range result.Distributions {
		if row.TierType == TierPreferredReturn {
			t.Errorf("preferred tier received %s while return of capital had unmet demand", row.Amount)
		}
	}
	acct := accountFor(t, result, "lp-1")
	if !acct.ReturnedCapital.Equal(dec("600000")) {
		t.Errorf("ReturnedCapital = %s, want all 600000 absorbed by tier 0", acct.ReturnedCapital)
	}
}

// ============================================================================
// TEST: Full four-tier waterfall with catch-up and residual promote
// ============================================================================

func TestEngine_FullWaterfall(t *testing.T) {
	d0 := testDate(2023, 1, 1)
	periods := []CashFlowPeriod{
		{Index: 0, Date: d0, NetAmount: dec("-1000000")},
		{Index: 1, Date: d0.AddDate(0, 0, 365), NetAmount: dec("1200000")},
	}

	target := dec("0.2")
	input := RunInput{
		Partners: []Partner{
			{ID: "lp-1", Role: RoleLP, Commitment: dec("800000"), OwnershipPercent: dec("0.8"),
				PreferredReturnRate: dec("0.08"),
				TierSplits:          map[int]decimal.Decimal{3: dec("0.8")}},
			{ID: "gp-1", Role: RoleGP, Commitment: dec("200000"), OwnershipPercent: dec("0.2"),
				TierSplits: map[int]decimal.Decimal{3: dec("0.2")}},
		},
		Tiers: []WaterfallTier{
			{Number: 0, Type: TierReturnOfCapital},
			{Number: 1, Type: TierPreferredReturn},
			{Number: 2, Type: TierGPCatchup, CatchupTargetShare: &target},
			{Number: 3, Type: TierResidualSplit},
		},
		Periods: periods,
	}

	result, err := newTestEngine(input).Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// 1.2M in: 1M capital back, 64000 LP pref (8% on 800k over 365 days),
	// 16000 GP catch-up to a 20% profit share, 120000 residual split 80/20.
	lp := accountFor(t, result, "lp-1")
	gp := accountFor(t, result, "gp-1")

	if !lp.ReturnedCapital.Equal(dec("800000")) || !gp.ReturnedCapital.Equal(dec("200000")) {
		t.Errorf("returned capital = %s / %s, want 800000 / 200000", lp.ReturnedCapital, gp.ReturnedCapital)
	}
	if !lp.PaidPreferred.Equal(dec("64000")) {
		t.Errorf("LP PaidPreferred = %s, want 64000", lp.PaidPreferred)
	}
	if !gp.ProfitDistributions.Equal(dec("40000")) {
		t.Errorf("GP profit = %s, want 16000 catch-up + 24000 residual", gp.ProfitDistributions)
	}
	if !lp.ProfitDistributions.Equal(dec("96000")) {
		t.Errorf("LP residual = %s, want 96000", lp.ProfitDistributions)
	}

	// GP ends at exactly the 20% target share of all profit distributed.
	totalProfit := lp.PaidPreferred.Add(lp.ProfitDistributions).Add(gp.ProfitDistributions)
	gpShare := gp.ProfitDistributions.Div(totalProfit)
	if !gpShare.Equal(dec("0.2")) {
		t.Errorf("GP profit share = %s, want exactly 0.2", gpShare)
	}
}

// ============================================================================
// TEST: Conservation — every distributed dollar lands in a tier or remainder
// ============================================================================

func TestEngine_Conservation(t *testing.T) {
	d0 := testDate(2023, 1, 1)
	periods := monthlyPeriods(d0, 24)
	periods[0].NetAmount = dec("-750000")
	periods[3].NetAmount = dec("-250000")
	periods[10].NetAmount = dec("300000")
	periods[18].NetAmount = dec("450000")
	periods[24].NetAmount = dec("700000")

	input := RunInput{
		Partners: []Partner{
			{ID: "lp-1", Role: RoleLP, Commitment: dec("900000"), OwnershipPercent: dec("0.9"),
				PreferredReturnRate: dec("0.08"),
				TierSplits:          map[int]decimal.Decimal{2: dec("0.7")}},
			{ID: "gp-1", Role: RoleGP, Commitment: dec("100000"), OwnershipPercent: dec("0.1"),
				TierSplits: map[int]decimal.Decimal{2: dec("0.3")}},
		},
		Tiers: []WaterfallTier{
			{Number: 0, Type: TierReturnOfCapital},
			{Number: 1, Type: TierPreferredReturn},
			{Number: 2, Type: TierResidualSplit},
		},
		Periods: periods,
	}

	result, err := newTestEngine(input).Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Per period: Σ allocations + remainder == the period's positive net.
	byPeriod := make(map[int]decimal.Decimal)
	for _, row := range result.Distributions {
		existing, ok := byPeriod[row.PeriodIndex]
		if !ok {
			existing = decimal.Zero
		}
		byPeriod[row.PeriodIndex] = existing.Add(row.Amount)
	}
	for _, r := range result.Remainders {
		existing, ok := byPeriod[r.PeriodIndex]
		if !ok {
			existing = decimal.Zero
		}
		byPeriod[r.PeriodIndex] = existing.Add(r.Amount)
	}
	for _, p := range periods {
		if p.NetAmount.Sign() <= 0 {
			continue
		}
		if got := byPeriod[p.Index]; !got.Equal(p.NetAmount) {
			t.Errorf("period %d: allocations+remainder = %s, want %s", p.Index, got, p.NetAmount)
		}
	}
}

// ============================================================================
// TEST: Capital calls respect commitments
// ============================================================================

func TestEngine_CapitalCallRedistributesOverCommitment(t *testing.T) {
	d0 := testDate(2023, 1, 1)
	periods := monthlyPeriods(d0, 0)
	periods[0].NetAmount = dec("-1000000")

	// Pro rata by ownership would ask gp-1 for 500k against a 100k
	// commitment; the excess must flow to lp-1's headroom.
	input := RunInput{
		Partners: []Partner{
			{ID: "lp-1", Role: RoleLP, Commitment: dec("900000"), OwnershipPercent: dec("0.5")},
			{ID: "gp-1", Role: RoleGP, Commitment: dec("100000"), OwnershipPercent: dec("0.5")},
		},
		Tiers:   []WaterfallTier{{Number: 0, Type: TierReturnOfCapital}},
		Periods: periods,
	}

	result, err := newTestEngine(input).Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := accountFor(t, result, "gp-1").ContributedCapital; !got.Equal(dec("100000")) {
		t.Errorf("gp-1 contributed %s, want capped at 100000 commitment", got)
	}
	if got := accountFor(t, result, "lp-1").ContributedCapital; !got.Equal(dec("900000")) {
		t.Errorf("lp-1 contributed %s, want 900000 after redistribution", got)
	}
}

func TestEngine_CapitalCallBeyondAllCommitments(t *testing.T) {
	d0 := testDate(2023, 1, 1)
	periods := monthlyPeriods(d0, 0)
	periods[0].NetAmount = dec("-2000000")

	input := RunInput{
		Partners: singleLP("1000000", "0"),
		Tiers:    []WaterfallTier{{Number: 0, Type: TierReturnOfCapital}},
		Periods:  periods,
	}

	_, err := newTestEngine(input).Run()
	if err == nil {
		t.Fatal("expected input error when capital call exceeds total commitments")
	}
	if _, ok := err.(*InputError); !ok {
		t.Errorf("expected *InputError, got %T: %v", err, err)
	}
}

// ============================================================================
// TEST: Hurdle gate opens once the running IRR clears it
// ============================================================================

func TestEngine_HurdleGateOpensWhenMet(t *testing.T) {
	d0 := testDate(2023, 1, 1)
	hurdle := dec("0.10")
	periods := []CashFlowPeriod{
		{Index: 0, Date: d0, NetAmount: dec("-1000000")},
		// 1.5M one year out is a 50% return; the 10% hurdle clears easily.
		{Index: 1, Date: d0.AddDate(0, 0, 365), NetAmount: dec("1500000")},
	}

	input := RunInput{
		Partners: []Partner{{
			ID: "lp-1", Role: RoleLP, Commitment: dec("1000000"),
			OwnershipPercent: dec("1"),
			TierSplits:       map[int]decimal.Decimal{1: dec("1")},
		}},
		Tiers: []WaterfallTier{
			{Number: 0, Type: TierReturnOfCapital},
			{Number: 1, Type: TierResidualSplit, HurdleRate: &hurdle},
		},
		Periods: periods,
	}

	result, err := newTestEngine(input).Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	acct := accountFor(t, result, "lp-1")
	if !acct.ProfitDistributions.Equal(dec("500000")) {
		t.Errorf("residual distributions = %s, want 500000 once the hurdle clears", acct.ProfitDistributions)
	}
	if len(result.Remainders) != 0 {
		t.Errorf("unexpected remainders: %+v", result.Remainders)
	}
	if result.DealIRR == nil {
		t.Fatal("deal IRR should be defined")
	}
	if *result.DealIRR < 0.49 || *result.DealIRR > 0.51 {
		t.Errorf("deal IRR = %v, want ≈0.50", *result.DealIRR)
	}
}

func TestEngine_HurdleGateStaysClosedBelowHurdle(t *testing.T) {
	d0 := testDate(2023, 1, 1)
	hurdle := dec("0.10")
	periods := []CashFlowPeriod{
		{Index: 0, Date: d0, NetAmount: dec("-1000000")},
		// Returning capital plus 2% cannot clear a 10% hurdle.
		{Index: 1, Date: d0.AddDate(0, 0, 365), NetAmount: dec("1020000")},
	}

	input := RunInput{
		Partners: []Partner{{
			ID: "lp-1", Role: RoleLP, Commitment: dec("1000000"),
			OwnershipPercent: dec("1"),
			TierSplits:       map[int]decimal.Decimal{1: dec("1")},
		}},
		Tiers: []WaterfallTier{
			{Number: 0, Type: TierReturnOfCapital},
			{Number: 1, Type: TierResidualSplit, HurdleRate: &hurdle},
		},
		Periods: periods,
	}

	result, err := newTestEngine(input).Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	acct := accountFor(t, result, "lp-1")
	if !acct.ProfitDistributions.IsZero() {
		t.Errorf("residual distributions = %s, want 0 below hurdle", acct.ProfitDistributions)
	}
	if len(result.Remainders) != 1 || !result.Remainders[0].Amount.Equal(dec("20000")) {
		t.Errorf("remainders = %+v, want the 20000 the gate held back", result.Remainders)
	}
}

// ============================================================================
// TEST: Determinism and terminal metrics
// ============================================================================

func TestEngine_Deterministic(t *testing.T) {
	d0 := testDate(2023, 1, 1)
	target := dec("0.25")
	hurdle := dec("0.08")
	periods := monthlyPeriods(d0, 36)
	periods[0].NetAmount = dec("-600000")
	periods[2].NetAmount = dec("-400000")
	periods[14].NetAmount = dec("250000")
	periods[26].NetAmount = dec("550000")
	periods[36].NetAmount = dec("800000")

	input := RunInput{
		Partners: []Partner{
			{ID: "lp-1", Role: RoleLP, Commitment: dec("850000"), OwnershipPercent: dec("0.85"),
				PreferredReturnRate: dec("0.08"),
				TierSplits:          map[int]decimal.Decimal{3: dec("0.75")}},
			{ID: "gp-1", Role: RoleSponsor, Commitment: dec("150000"), OwnershipPercent: dec("0.15"),
				TierSplits: map[int]decimal.Decimal{3: dec("0.25")}},
		},
		Tiers: []WaterfallTier{
			{Number: 0, Type: TierReturnOfCapital},
			{Number: 1, Type: TierPreferredReturn},
			{Number: 2, Type: TierGPCatchup, CatchupTargetShare: &target},
			{Number: 3, Type: TierResidualSplit, HurdleRate: &hurdle},
		},
		Periods: periods,
	}

	first, err := newTestEngine(input).Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	second, err := newTestEngine(input).Run()
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Error("two runs over identical input produced different results")
	}
}

func TestEngine_EquityMultiple(t *testing.T) {
	d0 := testDate(2023, 1, 1)
	periods := []CashFlowPeriod{
		{Index: 0, Date: d0, NetAmount: dec("-1000000")},
		{Index: 1, Date: d0.AddDate(1, 0, 0), NetAmount: dec("1000000")},
	}

	input := RunInput{
		Partners: singleLP("1000000", "0"),
		Tiers:    []WaterfallTier{{Number: 0, Type: TierReturnOfCapital}},
		Periods:  periods,
	}

	result, err := newTestEngine(input).Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.EquityMultiple.Equal(dec("1")) {
		t.Errorf("EquityMultiple = %s, want 1", result.EquityMultiple)
	}
	if result.DealIRR == nil {
		t.Fatal("deal IRR should be defined")
	}
	if *result.DealIRR < -0.000001 || *result.DealIRR > 0.000001 {
		t.Errorf("deal IRR = %v, want 0", *result.DealIRR)
	}
}
