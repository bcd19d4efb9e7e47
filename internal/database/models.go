package database

import (
	"time"

	"github.com/shopspring/decimal"
)

// RunRecord is a persisted waterfall run. Input and Result hold the full
// request and computed schedule as JSON; the scalar columns exist so listings
// and reporting queries never have to unpack them.
type RunRecord struct {
	ID               string          `json:"id"`
	InputHash        string          `json:"input_hash"`
	DayCount         string          `json:"day_count"`
	Input            []byte          `json:"-"`
	Result           []byte          `json:"-"`
	DealIRR          *float64        `json:"deal_irr"`
	EquityMultiple   decimal.Decimal `json:"equity_multiple"`
	TotalDistributed decimal.Decimal `json:"total_distributed"`
	PeriodCount      int             `json:"period_count"`
	PartnerCount     int             `json:"partner_count"`
	CreatedAt        time.Time       `json:"created_at"`
}

// DistributionRecord is one flattened distribution row belonging to a run.
type DistributionRecord struct {
	RunID       string          `json:"run_id"`
	PeriodIndex int             `json:"period_index"`
	PartnerID   string          `json:"partner_id"`
	TierNumber  int             `json:"tier_number"`
	TierType    string          `json:"tier_type"`
	Amount      decimal.Decimal `json:"amount"`
}

// RunSummary is the listing view of a run, without the input or result bodies.
type RunSummary struct {
	ID               string          `json:"id"`
	InputHash        string          `json:"input_hash"`
	DayCount         string          `json:"day_count"`
	DealIRR          *float64        `json:"deal_irr"`
	EquityMultiple   decimal.Decimal `json:"equity_multiple"`
	TotalDistributed decimal.Decimal `json:"total_distributed"`
	PeriodCount      int             `json:"period_count"`
	PartnerCount     int             `json:"partner_count"`
	CreatedAt        time.Time       `json:"created_at"`
}
