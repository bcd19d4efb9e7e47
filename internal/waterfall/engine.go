package waterfall

import (
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"equity-waterfall-engine/internal/daycount"
	"equity-waterfall-engine/internal/irr"
)

// Engine executes one waterfall run start to finish. A run is a pure,
// deterministic function of its input snapshot: no clock, no randomness, no
// I/O inside the period loop. One engine owns one ledger; engines must not be
// reused or shared across runs.
type Engine struct {
	input  RunInput
	conv   daycount.Convention
	ledger *Ledger
	alloc  *Allocator
	logger zerolog.Logger

	// Dated signed flows, deal-wide and per partner: contributions negative,
	// distributions positive. Feed the IRR solver for hurdle tests and final
	// reporting.
	dealFlows    []irr.Flow
	partnerFlows map[string][]irr.Flow
}

// NewEngine builds an engine over an immutable input snapshot.
func NewEngine(input RunInput, conv daycount.Convention, logger zerolog.Logger) *Engine {
	engineLogger := logger.With().Str("component", "WaterfallEngine").Logger()
	ledger := NewLedger(input.Partners, conv, logger)
	return &Engine{
		input:        input,
		conv:         conv,
		ledger:       ledger,
		alloc:        NewAllocator(input.Partners, ledger, logger),
		logger:       engineLogger,
		partnerFlows: make(map[string][]irr.Flow, len(input.Partners)),
	}
}

// Run validates the snapshot and processes every period in order. On any
// error the run aborts; an aborted period contributes no distribution rows.
func (e *Engine) Run() (*RunResult, error) {
	if err := ValidateInput(e.input); err != nil {
		return nil, err
	}

	result := &RunResult{
		Distributions: make([]Distribution, 0),
		PartnerIRR:    make(map[string]*float64, len(e.input.Partners)),
	}

	for _, period := range e.input.Periods {
		rows, remainder, err := e.processPeriod(period)
		if err != nil {
			return nil, err
		}
		// FINALIZED: the period's rows are committed append-only.
		result.Distributions = append(result.Distributions, rows...)
		if remainder.Sign() > 0 {
			result.Remainders = append(result.Remainders, PeriodRemainder{
				PeriodIndex: period.Index,
				Amount:      remainder,
			})
		}
	}

	e.finalize(result)
	return result, nil
}

// processPeriod runs one period through the ACCRUING → ALLOCATING → FINALIZED
// state machine and returns its distribution rows plus any cash no tier
// absorbed.
func (e *Engine) processPeriod(period CashFlowPeriod) ([]Distribution, decimal.Decimal, error) {
	// ACCRUING: preferred return accrues on capital outstanding since the
	// prior period, then this period's capital call (if any) is booked. A
	// partner funded for the first time this period starts its accrual clock
	// here and earns nothing until the next period.
	for _, p := range e.input.Partners {
		if _, err := e.ledger.AccrueTo(p.ID, p.PreferredReturnRate, period.Date); err != nil {
			if iv, ok := err.(*InvariantViolation); ok {
				iv.PeriodIndex = period.Index
			}
			return nil, decimal.Zero, err
		}
	}
	if period.NetAmount.Sign() < 0 {
		if err := e.applyCapitalCall(period); err != nil {
			return nil, decimal.Zero, err
		}
	}

	// ALLOCATING: only periods with distributable cash run the tier loop.
	var rows []Distribution
	remainder := decimal.Zero
	if period.NetAmount.Sign() > 0 {
		var err error
		rows, remainder, err = e.allocatePeriod(period)
		if err != nil {
			return nil, decimal.Zero, err
		}
	}

	// FINALIZED: the caller commits the rows append-only.
	return rows, remainder, nil
}

// applyCapitalCall books a negative net period as contributions, pro rata by
// ownership and capped by each partner's remaining commitment. Capacity freed
// by capped partners is redistributed to those with headroom.
func (e *Engine) applyCapitalCall(period CashFlowPeriod) error {
	remaining := period.NetAmount.Neg()

	type capacityEntry struct {
		partner  Partner
		headroom decimal.Decimal
	}

	for pass := 0; pass <= len(e.input.Partners); pass++ {
		if remaining.Sign() <= 0 {
			return nil
		}

		var open []capacityEntry
		weight := decimal.Zero
		for _, p := range e.input.Partners {
			headroom := p.Commitment.Sub(e.ledger.Contributed(p.ID))
			if headroom.Sign() > 0 && p.OwnershipPercent.Sign() > 0 {
				open = append(open, capacityEntry{partner: p, headroom: headroom})
				weight = weight.Add(p.OwnershipPercent)
			}
		}
		if len(open) == 0 {
			break
		}

		progressed := false
		allocated := decimal.Zero
		for i, entry := range open {
			var share decimal.Decimal
			if i == len(open)-1 {
				share = remaining.Sub(allocated)
			} else {
				share = remaining.Mul(entry.partner.OwnershipPercent).Div(weight)
			}
			if share.GreaterThan(entry.headroom) {
				share = entry.headroom
			}
			if share.Sign() <= 0 {
				continue
			}
			if err := e.ledger.ApplyContribution(entry.partner.ID, share, period.Date); err != nil {
				if iv, ok := err.(*InvariantViolation); ok {
					iv.PeriodIndex = period.Index
				}
				return err
			}
			e.partnerFlows[entry.partner.ID] = append(e.partnerFlows[entry.partner.ID], irr.Flow{
				Date:   period.Date,
				Amount: share.Neg(),
			})
			e.dealFlows = append(e.dealFlows, irr.Flow{Date: period.Date, Amount: share.Neg()})
			allocated = allocated.Add(share)
			progressed = true
		}
		remaining = remaining.Sub(allocated)
		if !progressed {
			break
		}
	}

	if remaining.Sign() > 0 {
		return inputErrorf("period %d capital call leaves %s with no partner commitment capacity",
			period.Index, remaining)
	}
	return nil
}

// allocatePeriod pushes the period's positive net cash through the tiers in
// ascending order. An IRR-gated residual tier whose hurdle is not met (or not
// yet testable) blocks itself and every later tier; the unplaced cash is
// returned as an explicit remainder.
func (e *Engine) allocatePeriod(period CashFlowPeriod) ([]Distribution, decimal.Decimal, error) {
	remaining := period.NetAmount
	var rows []Distribution

	for _, tier := range e.input.Tiers {
		if remaining.Sign() <= 0 {
			break
		}

		if tier.Type == TierResidualSplit && tier.HurdleRate != nil {
			if !e.hurdleMet(tier, remaining, period) {
				e.logger.Debug().
					Int("period", period.Index).
					Int("tier", tier.Number).
					Str("remaining", remaining.String()).
					Msg("hurdle not met; tier and all later tiers closed for period")
				break
			}
		}

		consumed, tierRows, err := e.alloc.Allocate(tier, remaining, period.Index)
		if err != nil {
			return nil, decimal.Zero, err
		}
		remaining = remaining.Sub(consumed)
		rows = append(rows, tierRows...)

		// Later tiers' hurdle tests must see this tier's distributions, so
		// flows are recorded per tier, not per period.
		for _, row := range tierRows {
			e.partnerFlows[row.PartnerID] = append(e.partnerFlows[row.PartnerID], irr.Flow{
				Date:   period.Date,
				Amount: row.Amount,
			})
			e.dealFlows = append(e.dealFlows, irr.Flow{Date: period.Date, Amount: row.Amount})
		}
	}

	return rows, remaining, nil
}

// hurdleMet tests a residual tier's IRR gate: the deal-level IRR over all
// flows to date plus the candidate allocation of the remaining cash at this
// period's date must meet the hurdle. An undefined IRR means the hurdle is
// not yet testable and the gate stays closed.
func (e *Engine) hurdleMet(tier WaterfallTier, candidate decimal.Decimal, period CashFlowPeriod) bool {
	flows := make([]irr.Flow, 0, len(e.dealFlows)+1)
	flows = append(flows, e.dealFlows...)
	flows = append(flows, irr.Flow{Date: period.Date, Amount: candidate})

	rate, ok := irr.Solve(flows)
	if !ok {
		return false
	}
	return rate >= tier.HurdleRate.InexactFloat64()
}

// finalize fills the terminal outputs: account snapshots, per-partner and
// deal IRR (nil when undefined, never zero), and the deal equity multiple.
func (e *Engine) finalize(result *RunResult) {
	result.Accounts = e.ledger.Snapshot()

	for _, p := range e.input.Partners {
		if rate, ok := irr.Solve(e.partnerFlows[p.ID]); ok {
			r := rate
			result.PartnerIRR[p.ID] = &r
		} else {
			result.PartnerIRR[p.ID] = nil
		}
	}
	if rate, ok := irr.Solve(e.dealFlows); ok {
		r := rate
		result.DealIRR = &r
	}

	contributed := e.ledger.TotalContributed()
	if contributed.Sign() > 0 {
		result.EquityMultiple = e.ledger.TotalDistributed().Div(contributed)
	} else {
		result.EquityMultiple = decimal.Zero
	}
}
