package waterfall

import "github.com/shopspring/decimal"

// splitTolerance absorbs repeating-decimal splits (e.g. thirds) when checking
// that shares sum to one.
var splitTolerance = decimal.New(1, -9) // 1e-9

// ValidateInput checks the full run snapshot eagerly, before any period is
// processed. Configuration problems return *ConfigError, period-series
// problems return *InputError.
func ValidateInput(input RunInput) error {
	if err := validatePartners(input.Partners); err != nil {
		return err
	}
	if err := validateTiers(input.Tiers, input.Partners); err != nil {
		return err
	}

	// A split keyed to a tier that does not exist (or is not a residual tier)
	// is dead configuration; reject it rather than silently ignore it.
	residual := make(map[int]bool, len(input.Tiers))
	for _, tier := range input.Tiers {
		if tier.Type == TierResidualSplit {
			residual[tier.Number] = true
		}
	}
	for _, p := range input.Partners {
		for num := range p.TierSplits {
			if !residual[num] {
				return configErrorf("partner %q declares a split for tier %d, which is not a RESIDUAL_SPLIT tier", p.ID, num)
			}
		}
	}

	if err := ValidatePeriods(input.Periods); err != nil {
		return err
	}

	// Total capital calls must fit inside total commitments; catching this up
	// front keeps a doomed run from partially executing.
	totalCalls := decimal.Zero
	for _, p := range input.Periods {
		if p.NetAmount.Sign() < 0 {
			totalCalls = totalCalls.Add(p.NetAmount.Neg())
		}
	}
	totalCommitment := decimal.Zero
	for _, p := range input.Partners {
		totalCommitment = totalCommitment.Add(p.Commitment)
	}
	if totalCalls.GreaterThan(totalCommitment) {
		return inputErrorf("total capital calls %s exceed total partner commitments %s",
			totalCalls, totalCommitment)
	}

	return nil
}

func validatePartners(partners []Partner) error {
	if len(partners) == 0 {
		return configErrorf("no partners declared")
	}

	seen := make(map[string]bool, len(partners))
	ownership := decimal.Zero
	for _, p := range partners {
		if p.ID == "" {
			return configErrorf("partner with empty partner_id")
		}
		if seen[p.ID] {
			return configErrorf("duplicate partner_id %q", p.ID)
		}
		seen[p.ID] = true

		switch p.Role {
		case RoleLP, RoleGP, RoleSponsor:
		default:
			return configErrorf("partner %q has unknown role %q", p.ID, p.Role)
		}
		if p.Commitment.Sign() < 0 {
			return configErrorf("partner %q has negative commitment", p.ID)
		}
		if p.OwnershipPercent.Sign() < 0 {
			return configErrorf("partner %q has negative ownership_percent", p.ID)
		}
		if p.PreferredReturnRate.Sign() < 0 {
			return configErrorf("partner %q has negative preferred_return_rate", p.ID)
		}
		ownership = ownership.Add(p.OwnershipPercent)
	}

	if ownership.Sub(decimal.NewFromInt(1)).Abs().GreaterThan(splitTolerance) {
		return configErrorf("partner ownership_percent values sum to %s, want 1.0", ownership)
	}
	return nil
}

func validateTiers(tiers []WaterfallTier, partners []Partner) error {
	if len(tiers) == 0 {
		return configErrorf("no tiers declared")
	}

	partnerIDs := make(map[string]bool, len(partners))
	hasGP := false
	for _, p := range partners {
		partnerIDs[p.ID] = true
		if p.Role.IsGP() {
			hasGP = true
		}
	}

	for i, tier := range tiers {
		if tier.Number != i {
			return configErrorf("tiers must be strictly ordered by tier_number from 0; position %d has tier_number %d", i, tier.Number)
		}

		switch tier.Type {
		case TierReturnOfCapital, TierPreferredReturn:
			// Demand is derived from the ledger; no per-tier parameters.

		case TierGPCatchup:
			if !hasGP {
				return configErrorf("tier %d is GP_CATCHUP but no GP or Sponsor partner is declared", tier.Number)
			}
			if tier.CatchupTargetShare == nil {
				return configErrorf("tier %d is GP_CATCHUP but catchup_target_share is missing", tier.Number)
			}
			t := *tier.CatchupTargetShare
			if t.Sign() <= 0 || t.GreaterThan(decimal.NewFromInt(1)) {
				return configErrorf("tier %d catchup_target_share %s outside (0, 1]", tier.Number, t)
			}

		case TierResidualSplit:
			if tier.HurdleRate != nil && tier.HurdleRate.Sign() < 0 {
				return configErrorf("tier %d has negative hurdle_rate", tier.Number)
			}
			if err := validateResidualSplits(tier, partners, partnerIDs); err != nil {
				return err
			}

		default:
			return configErrorf("tier %d has unknown tier_type %q", tier.Number, tier.Type)
		}
	}

	// Every residual tier after the first IRR-gated one would be unreachable
	// without its own hurdle; require the gate explicitly rather than guess.
	for i, tier := range tiers {
		if tier.Type == TierResidualSplit && tier.HurdleRate == nil && i < len(tiers)-1 {
			if tiers[i+1].Type == TierResidualSplit {
				return configErrorf("tier %d is RESIDUAL_SPLIT without hurdle_rate but is followed by another residual tier; the later tier can never open", tier.Number)
			}
		}
	}

	return nil
}

func validateResidualSplits(tier WaterfallTier, partners []Partner, partnerIDs map[string]bool) error {
	sum := decimal.Zero
	found := false
	for _, p := range partners {
		share, ok := p.TierSplits[tier.Number]
		if !ok {
			continue
		}
		found = true
		if share.Sign() < 0 {
			return configErrorf("partner %q has negative split for tier %d", p.ID, tier.Number)
		}
		sum = sum.Add(share)
	}
	if !found {
		return configErrorf("tier %d is RESIDUAL_SPLIT but no partner declares a split for it", tier.Number)
	}
	if sum.Sub(decimal.NewFromInt(1)).Abs().GreaterThan(splitTolerance) {
		return configErrorf("tier %d splits sum to %s, want 1.0", tier.Number, sum)
	}
	return nil
}

// ValidatePeriods checks that the period series is gap-free and strictly
// ordered by date. The engine re-checks even when the caller supplies
// pre-aggregated cash flows.
func ValidatePeriods(periods []CashFlowPeriod) error {
	if len(periods) == 0 {
		return inputErrorf("no periods supplied")
	}
	for i, p := range periods {
		if p.Index != i {
			return inputErrorf("periods are not contiguous: position %d has period_index %d", i, p.Index)
		}
		if p.Date.IsZero() {
			return inputErrorf("period %d has no date", p.Index)
		}
		if i > 0 && !periods[i-1].Date.Before(p.Date) {
			return inputErrorf("period %d date %s is not after period %d date %s",
				p.Index, p.Date.Format("2006-01-02"), periods[i-1].Index, periods[i-1].Date.Format("2006-01-02"))
		}
	}
	return nil
}
