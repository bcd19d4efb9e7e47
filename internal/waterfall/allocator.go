package waterfall

import (
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Allocator sizes one tier's take from the period's available cash and splits
// it across eligible partners. Every non-zero allocation is committed through
// the ledger before Allocate returns, so the next tier in the same period
// sees updated balances.
type Allocator struct {
	partners []Partner
	ledger   *Ledger
	logger   zerolog.Logger
}

// NewAllocator creates an allocator bound to one run's partner snapshot and
// ledger.
func NewAllocator(partners []Partner, ledger *Ledger, logger zerolog.Logger) *Allocator {
	return &Allocator{
		partners: partners,
		ledger:   ledger,
		logger:   logger.With().Str("component", "Allocator").Logger(),
	}
}

// Allocate distributes up to available cash through one tier. It returns the
// amount the tier consumed and the per-partner distribution rows for the
// period. IRR gating of residual tiers happens in the engine before this is
// called; an IRR-gated tier that reaches Allocate is open.
func (a *Allocator) Allocate(tier WaterfallTier, available decimal.Decimal, periodIndex int) (decimal.Decimal, []Distribution, error) {
	if available.Sign() <= 0 {
		return decimal.Zero, nil, nil
	}

	var shares []partnerShare
	switch tier.Type {
	case TierReturnOfCapital:
		shares = a.proRataByDemand(available, func(p Partner) decimal.Decimal {
			return a.ledger.UnreturnedCapital(p.ID)
		})
	case TierPreferredReturn:
		shares = a.proRataByDemand(available, func(p Partner) decimal.Decimal {
			return a.ledger.AccruedUnpaid(p.ID)
		})
	case TierGPCatchup:
		shares = a.catchupShares(tier, available)
	case TierResidualSplit:
		shares = a.residualShares(tier, available)
	default:
		return decimal.Zero, nil, configErrorf("tier %d has unknown tier_type %q", tier.Number, tier.Type)
	}

	consumed := decimal.Zero
	distributions := make([]Distribution, 0, len(shares))
	for _, s := range shares {
		if s.amount.Sign() <= 0 {
			continue
		}
		if err := a.ledger.ApplyDistribution(s.partnerID, s.amount, tier.Type); err != nil {
			if iv, ok := err.(*InvariantViolation); ok {
				iv.PeriodIndex = periodIndex
				iv.TierNumber = tier.Number
			}
			return decimal.Zero, nil, err
		}
		consumed = consumed.Add(s.amount)
		distributions = append(distributions, Distribution{
			PeriodIndex: periodIndex,
			PartnerID:   s.partnerID,
			TierNumber:  tier.Number,
			TierType:    tier.Type,
			Amount:      s.amount,
		})
	}

	if consumed.GreaterThan(available) {
		return decimal.Zero, nil, &InvariantViolation{
			PeriodIndex: periodIndex,
			TierNumber:  tier.Number,
			Reason:      "tier consumed " + consumed.String() + " from only " + available.String() + " available",
		}
	}

	return consumed, distributions, nil
}

type partnerShare struct {
	partnerID string
	amount    decimal.Decimal
}

// proRataByDemand satisfies each partner's demand in full when cash suffices;
// on shortfall it splits strictly pro rata by remaining demand, so no partner
// is preferred over another within the tier. The last partner with demand
// absorbs the division remainder, keeping the tier total exactly equal to the
// available cash.
func (a *Allocator) proRataByDemand(available decimal.Decimal, demandOf func(Partner) decimal.Decimal) []partnerShare {
	type demandEntry struct {
		partnerID string
		demand    decimal.Decimal
	}
	var entries []demandEntry
	total := decimal.Zero
	for _, p := range a.partners {
		d := demandOf(p)
		if d.Sign() <= 0 {
			continue
		}
		entries = append(entries, demandEntry{partnerID: p.ID, demand: d})
		total = total.Add(d)
	}
	if len(entries) == 0 {
		return nil
	}

	shares := make([]partnerShare, 0, len(entries))
	if total.LessThanOrEqual(available) {
		for _, e := range entries {
			shares = append(shares, partnerShare{partnerID: e.partnerID, amount: e.demand})
		}
		return shares
	}

	allocated := decimal.Zero
	for i, e := range entries {
		var amt decimal.Decimal
		if i == len(entries)-1 {
			amt = available.Sub(allocated)
		} else {
			amt = available.Mul(e.demand).Div(total)
		}
		allocated = allocated.Add(amt)
		shares = append(shares, partnerShare{partnerID: e.partnerID, amount: amt})
	}
	return shares
}

// catchupShares sizes the GP catch-up: the amount that brings the GP side's
// share of profit distributed to date (all distributions above return of
// capital) up to the target share, capped by available cash. With target t,
// profit-to-date P and GP profit G, the closing amount x solves
// G + x = t·(P + x), i.e. x = (t·P − G)/(1 − t); t = 1 consumes all remaining
// cash. The tier's take is split across GP-role partners pro rata by
// ownership.
func (a *Allocator) catchupShares(tier WaterfallTier, available decimal.Decimal) []partnerShare {
	if tier.CatchupTargetShare == nil {
		return nil
	}
	target := *tier.CatchupTargetShare
	one := decimal.NewFromInt(1)

	var gps []Partner
	gpOwnership := decimal.Zero
	gpProfit := decimal.Zero
	for _, p := range a.partners {
		if !p.Role.IsGP() {
			continue
		}
		gps = append(gps, p)
		gpOwnership = gpOwnership.Add(p.OwnershipPercent)
		gpProfit = gpProfit.Add(a.ledger.ProfitToDate(p.ID))
	}
	if len(gps) == 0 {
		return nil
	}

	var demand decimal.Decimal
	if target.Equal(one) {
		demand = available
	} else {
		profitToDate := a.ledger.TotalProfitToDate()
		demand = target.Mul(profitToDate).Sub(gpProfit).Div(one.Sub(target))
	}
	if demand.Sign() <= 0 {
		return nil
	}
	if demand.GreaterThan(available) {
		demand = available
	}

	// Split across GP-role partners by relative ownership; the last absorbs
	// the division remainder.
	shares := make([]partnerShare, 0, len(gps))
	allocated := decimal.Zero
	for i, p := range gps {
		var amt decimal.Decimal
		if i == len(gps)-1 {
			amt = demand.Sub(allocated)
		} else if gpOwnership.Sign() > 0 {
			amt = demand.Mul(p.OwnershipPercent).Div(gpOwnership)
		}
		allocated = allocated.Add(amt)
		shares = append(shares, partnerShare{partnerID: p.ID, amount: amt})
	}
	return shares
}

// residualShares splits all remaining cash by each partner's configured split
// for this tier. Validation has already guaranteed the splits sum to one; the
// last eligible partner absorbs the division remainder.
func (a *Allocator) residualShares(tier WaterfallTier, available decimal.Decimal) []partnerShare {
	var eligible []Partner
	for _, p := range a.partners {
		if share, ok := p.TierSplits[tier.Number]; ok && share.Sign() > 0 {
			eligible = append(eligible, p)
		}
	}
	if len(eligible) == 0 {
		return nil
	}

	shares := make([]partnerShare, 0, len(eligible))
	allocated := decimal.Zero
	for i, p := range eligible {
		var amt decimal.Decimal
		if i == len(eligible)-1 {
			amt = available.Sub(allocated)
		} else {
			amt = available.Mul(p.TierSplits[tier.Number])
		}
		allocated = allocated.Add(amt)
		shares = append(shares, partnerShare{partnerID: p.ID, amount: amt})
	}
	return shares
}
