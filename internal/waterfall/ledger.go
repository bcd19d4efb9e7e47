package waterfall

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"equity-waterfall-engine/internal/daycount"
)

// account is one partner's mutable capital state plus the accrual clock.
type account struct {
	CapitalAccount
	lastAccrualDate time.Time
	funded          bool
}

// Ledger is the single source of truth for per-partner capital state during a
// run. It is owned exclusively by one Engine instance and is never shared
// across concurrent runs. Every mutation re-checks the capital-account
// invariants before committing; a breach returns *InvariantViolation because
// it means the allocator sized a distribution wrong, not that the data is bad.
type Ledger struct {
	accounts map[string]*account
	order    []string
	conv     daycount.Convention
	logger   zerolog.Logger
}

// NewLedger creates a ledger with one zeroed account per partner. Iteration
// always follows the declared partner order so runs are deterministic.
func NewLedger(partners []Partner, conv daycount.Convention, logger zerolog.Logger) *Ledger {
	l := &Ledger{
		accounts: make(map[string]*account, len(partners)),
		order:    make([]string, 0, len(partners)),
		conv:     conv,
		logger:   logger.With().Str("component", "Ledger").Logger(),
	}
	for _, p := range partners {
		l.accounts[p.ID] = &account{
			CapitalAccount: CapitalAccount{
				PartnerID:               p.ID,
				ContributedCapital:      decimal.Zero,
				ReturnedCapital:         decimal.Zero,
				AccruedPreferredUnpaid:  decimal.Zero,
				PaidPreferred:           decimal.Zero,
				ProfitDistributions:     decimal.Zero,
				CumulativeDistributions: decimal.Zero,
			},
		}
		l.order = append(l.order, p.ID)
	}
	return l
}

// ApplyContribution records a capital call of the given positive magnitude.
// The first contribution starts the partner's accrual clock at its own period
// date, so capital contributed during a period never accrues preferred return
// in that same period.
func (l *Ledger) ApplyContribution(partnerID string, amount decimal.Decimal, date time.Time) error {
	acct := l.accounts[partnerID]
	if acct == nil {
		return inputErrorf("contribution for undeclared partner %q", partnerID)
	}
	if amount.Sign() <= 0 {
		return &InvariantViolation{PartnerID: partnerID, Reason: "contribution amount must be positive, got " + amount.String()}
	}

	if !acct.funded {
		acct.lastAccrualDate = date
		acct.funded = true
	}
	acct.ContributedCapital = acct.ContributedCapital.Add(amount)

	l.logger.Debug().
		Str("partner", partnerID).
		Str("amount", amount.String()).
		Time("date", date).
		Msg("contribution applied")
	return nil
}

// AccrueTo accrues preferred return on the partner's unreturned capital from
// its last accrual date to the given date, advances the accrual clock, and
// returns the amount accrued.
func (l *Ledger) AccrueTo(partnerID string, annualRate decimal.Decimal, date time.Time) (decimal.Decimal, error) {
	acct := l.accounts[partnerID]
	if acct == nil {
		return decimal.Zero, inputErrorf("accrual for undeclared partner %q", partnerID)
	}
	if !acct.funded {
		return decimal.Zero, nil
	}

	balance := acct.ContributedCapital.Sub(acct.ReturnedCapital)
	accrued := daycount.Accrue(balance, annualRate, l.conv, acct.lastAccrualDate, date)
	acct.lastAccrualDate = date

	if accrued.Sign() > 0 {
		acct.AccruedPreferredUnpaid = acct.AccruedPreferredUnpaid.Add(accrued)
	}
	if acct.AccruedPreferredUnpaid.Sign() < 0 {
		return decimal.Zero, &InvariantViolation{PartnerID: partnerID, Reason: "accrued_preferred_unpaid went negative: " + acct.AccruedPreferredUnpaid.String()}
	}
	return accrued, nil
}

// ApplyDistribution commits a tier allocation to the partner's account and
// verifies the capital-account invariants.
func (l *Ledger) ApplyDistribution(partnerID string, amount decimal.Decimal, tierType TierType) error {
	acct := l.accounts[partnerID]
	if acct == nil {
		return inputErrorf("distribution for undeclared partner %q", partnerID)
	}
	if amount.Sign() <= 0 {
		return &InvariantViolation{PartnerID: partnerID, Reason: "distribution amount must be positive, got " + amount.String()}
	}

	switch tierType {
	case TierReturnOfCapital:
		acct.ReturnedCapital = acct.ReturnedCapital.Add(amount)
		if acct.ReturnedCapital.GreaterThan(acct.ContributedCapital) {
			return &InvariantViolation{PartnerID: partnerID, Reason: "returned_capital " + acct.ReturnedCapital.String() +
				" exceeds contributed_capital " + acct.ContributedCapital.String()}
		}
	case TierPreferredReturn:
		acct.PaidPreferred = acct.PaidPreferred.Add(amount)
		acct.AccruedPreferredUnpaid = acct.AccruedPreferredUnpaid.Sub(amount)
		if acct.AccruedPreferredUnpaid.Sign() < 0 {
			return &InvariantViolation{PartnerID: partnerID, Reason: "preferred distribution exceeds accrual; accrued_preferred_unpaid would be " +
				acct.AccruedPreferredUnpaid.String()}
		}
	case TierGPCatchup, TierResidualSplit:
		acct.ProfitDistributions = acct.ProfitDistributions.Add(amount)
	default:
		return &InvariantViolation{PartnerID: partnerID, Reason: "unknown tier type " + string(tierType)}
	}

	acct.CumulativeDistributions = acct.CumulativeDistributions.Add(amount)

	// cumulative == returned + paid pref + profit, always.
	reconciled := acct.ReturnedCapital.Add(acct.PaidPreferred).Add(acct.ProfitDistributions)
	if !acct.CumulativeDistributions.Equal(reconciled) {
		return &InvariantViolation{PartnerID: partnerID, Reason: "cumulative_distributions " + acct.CumulativeDistributions.String() +
			" does not reconcile to " + reconciled.String()}
	}
	return nil
}

// UnreturnedCapital is the partner's outstanding capital balance.
func (l *Ledger) UnreturnedCapital(partnerID string) decimal.Decimal {
	acct := l.accounts[partnerID]
	if acct == nil {
		return decimal.Zero
	}
	return acct.ContributedCapital.Sub(acct.ReturnedCapital)
}

// AccruedUnpaid is the partner's earned-but-undistributed preferred return.
func (l *Ledger) AccruedUnpaid(partnerID string) decimal.Decimal {
	acct := l.accounts[partnerID]
	if acct == nil {
		return decimal.Zero
	}
	return acct.AccruedPreferredUnpaid
}

// Contributed is the partner's cumulative contributed capital.
func (l *Ledger) Contributed(partnerID string) decimal.Decimal {
	acct := l.accounts[partnerID]
	if acct == nil {
		return decimal.Zero
	}
	return acct.ContributedCapital
}

// ProfitDistributed is the partner's cumulative catch-up plus residual
// distributions.
func (l *Ledger) ProfitDistributed(partnerID string) decimal.Decimal {
	acct := l.accounts[partnerID]
	if acct == nil {
		return decimal.Zero
	}
	return acct.ProfitDistributions
}

// ProfitToDate is everything the partner has received above return of
// capital: preferred, catch-up, and residual distributions. This is the
// profit base the GP catch-up measures shares against.
func (l *Ledger) ProfitToDate(partnerID string) decimal.Decimal {
	acct := l.accounts[partnerID]
	if acct == nil {
		return decimal.Zero
	}
	return acct.CumulativeDistributions.Sub(acct.ReturnedCapital)
}

// TotalProfitToDate sums ProfitToDate across all partners.
func (l *Ledger) TotalProfitToDate() decimal.Decimal {
	total := decimal.Zero
	for _, id := range l.order {
		acct := l.accounts[id]
		total = total.Add(acct.CumulativeDistributions.Sub(acct.ReturnedCapital))
	}
	return total
}

// TotalContributed sums contributed capital across all partners.
func (l *Ledger) TotalContributed() decimal.Decimal {
	total := decimal.Zero
	for _, id := range l.order {
		total = total.Add(l.accounts[id].ContributedCapital)
	}
	return total
}

// TotalDistributed sums distributions of every tier type across all partners.
func (l *Ledger) TotalDistributed() decimal.Decimal {
	total := decimal.Zero
	for _, id := range l.order {
		total = total.Add(l.accounts[id].CumulativeDistributions)
	}
	return total
}

// Snapshot returns the per-partner capital accounts in declared partner order.
func (l *Ledger) Snapshot() []CapitalAccount {
	out := make([]CapitalAccount, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.accounts[id].CapitalAccount)
	}
	return out
}
