// Package waterfall implements the equity waterfall distribution engine: it
// allocates a stream of periodic project cash flows among capital partners
// through an ordered sequence of tiers (return of capital, preferred return,
// GP catch-up, residual promote splits gated by IRR hurdles).
package waterfall

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role identifies the kind of capital partner.
type Role string

const (
	RoleLP      Role = "LP"
	RoleGP      Role = "GP"
	RoleSponsor Role = "SPONSOR"
)

// IsGP reports whether the role participates in the GP catch-up tier.
func (r Role) IsGP() bool {
	return r == RoleGP || r == RoleSponsor
}

// TierType is the closed set of waterfall tier kinds. The allocator
// dispatches exhaustively on this tag.
type TierType string

const (
	TierReturnOfCapital TierType = "RETURN_OF_CAPITAL"
	TierPreferredReturn TierType = "PREFERRED_RETURN"
	TierGPCatchup       TierType = "GP_CATCHUP"
	TierResidualSplit   TierType = "RESIDUAL_SPLIT"
)

// Partner is the immutable identity of one capital partner in a run.
type Partner struct {
	ID                  string                  `json:"partner_id"`
	Role                Role                    `json:"role"`
	Commitment          decimal.Decimal         `json:"commitment_amount"`
	OwnershipPercent    decimal.Decimal         `json:"ownership_percent"`
	PreferredReturnRate decimal.Decimal         `json:"preferred_return_rate"`
	TierSplits          map[int]decimal.Decimal `json:"tier_splits,omitempty"`
}

// WaterfallTier defines one tier of the distribution waterfall. Tiers are
// processed strictly in Number order; a later tier never receives cash while
// an earlier tier has unmet demand in the current period.
type WaterfallTier struct {
	Number             int              `json:"tier_number"`
	Type               TierType         `json:"tier_type"`
	HurdleRate         *decimal.Decimal `json:"hurdle_rate,omitempty"`
	CatchupTargetShare *decimal.Decimal `json:"catchup_target_share,omitempty"`
}

// CashFlowPeriod is one reporting period's net cash flow. Negative amounts
// are net capital calls, positive amounts are net distributable cash.
type CashFlowPeriod struct {
	Index     int             `json:"period_index"`
	Date      time.Time       `json:"date"`
	NetAmount decimal.Decimal `json:"net_amount"`
}

// Distribution is one output record: the amount a partner received from one
// tier in one period. The result set is append-only, finalized per period.
type Distribution struct {
	PeriodIndex int             `json:"period_index"`
	PartnerID   string          `json:"partner_id"`
	TierNumber  int             `json:"tier_number"`
	TierType    TierType        `json:"tier_type"`
	Amount      decimal.Decimal `json:"amount"`
}

// CapitalAccount is a snapshot of one partner's running capital state.
type CapitalAccount struct {
	PartnerID               string          `json:"partner_id"`
	ContributedCapital      decimal.Decimal `json:"contributed_capital"`
	ReturnedCapital         decimal.Decimal `json:"returned_capital"`
	AccruedPreferredUnpaid  decimal.Decimal `json:"accrued_preferred_unpaid"`
	PaidPreferred           decimal.Decimal `json:"paid_preferred"`
	ProfitDistributions     decimal.Decimal `json:"profit_distributions"`
	CumulativeDistributions decimal.Decimal `json:"cumulative_distributions"`
}

// PeriodRemainder records cash a period could not place in any tier. It is
// reported explicitly so no dollar silently disappears.
type PeriodRemainder struct {
	PeriodIndex int             `json:"period_index"`
	Amount      decimal.Decimal `json:"amount"`
}

// RunInput is the immutable snapshot a run executes against.
type RunInput struct {
	Partners []Partner        `json:"partners"`
	Tiers    []WaterfallTier  `json:"tiers"`
	Periods  []CashFlowPeriod `json:"periods"`
}

// RunResult is the complete, deterministic output of one waterfall run.
type RunResult struct {
	Distributions []Distribution      `json:"distributions"`
	Accounts      []CapitalAccount    `json:"accounts"`
	PartnerIRR    map[string]*float64 `json:"partner_irr"`
	DealIRR       *float64            `json:"deal_irr"`
	EquityMultiple decimal.Decimal    `json:"equity_multiple"`
	Remainders    []PeriodRemainder   `json:"remainders,omitempty"`
}
