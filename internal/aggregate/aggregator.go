// Package aggregate turns section-labeled budget/revenue data into the one
// net-cash-flow-per-period series the waterfall engine consumes. Section
// classification is case-insensitive and whitespace-normalized: exact-case
// string matching here once silently dropped entire sections from the
// aggregate, so normalization is a contract, not a convenience.
package aggregate

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"equity-waterfall-engine/internal/waterfall"
)

// Section is one labeled financial figure within a period.
type Section struct {
	Name   string          `json:"section_name"`
	Amount decimal.Decimal `json:"amount"`
}

// PeriodSections is one reporting period's raw labeled data. Periods arrive
// already sorted and gap-free; the aggregator validates but never reorders.
type PeriodSections struct {
	Index    int       `json:"period_index"`
	Date     time.Time `json:"date"`
	Sections []Section `json:"sections"`
}

// UnknownPolicy decides what happens to a section whose name matches neither
// the cost nor the revenue set.
type UnknownPolicy string

const (
	// UnknownError fails the run: safest default when the section universe
	// should be closed.
	UnknownError UnknownPolicy = "error"
	// UnknownExclude logs the section and leaves it out of the net amount. It
	// is never summed into either bucket.
	UnknownExclude UnknownPolicy = "exclude"
)

// Aggregator classifies sections and nets each period.
type Aggregator struct {
	costNames    map[string]bool
	revenueNames map[string]bool
	policy       UnknownPolicy
	logger       zerolog.Logger
}

// New builds an aggregator from configured cost and revenue section names.
// Names are matched after lower-casing and whitespace normalization.
func New(costNames, revenueNames []string, policy UnknownPolicy, logger zerolog.Logger) *Aggregator {
	a := &Aggregator{
		costNames:    make(map[string]bool, len(costNames)),
		revenueNames: make(map[string]bool, len(revenueNames)),
		policy:       policy,
		logger:       logger.With().Str("component", "CashFlowAggregator").Logger(),
	}
	if a.policy == "" {
		a.policy = UnknownError
	}
	for _, n := range costNames {
		a.costNames[normalizeName(n)] = true
	}
	for _, n := range revenueNames {
		a.revenueNames[normalizeName(n)] = true
	}
	return a
}

// normalizeName lower-cases and collapses all whitespace runs to single
// spaces, trimming the ends.
func normalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// Aggregate nets every period: net = Σ revenue sections − Σ cost sections.
// Output periods are gap-free and contiguous; a period with no recognized
// activity is emitted explicitly with a zero net amount, never omitted.
func (a *Aggregator) Aggregate(periods []PeriodSections) ([]waterfall.CashFlowPeriod, error) {
	out := make([]waterfall.CashFlowPeriod, 0, len(periods))

	for i, period := range periods {
		if period.Index != i {
			return nil, &waterfall.InputError{Reason: fmt.Sprintf(
				"periods are not contiguous: position %d has period_index %d", i, period.Index)}
		}
		if i > 0 && !periods[i-1].Date.Before(period.Date) {
			return nil, &waterfall.InputError{Reason: fmt.Sprintf(
				"period %d date is not after the prior period", period.Index)}
		}

		net := decimal.Zero
		for _, section := range period.Sections {
			key := normalizeName(section.Name)
			switch {
			case a.revenueNames[key]:
				net = net.Add(section.Amount)
			case a.costNames[key]:
				net = net.Sub(section.Amount)
			default:
				if a.policy == UnknownExclude {
					a.logger.Warn().
						Int("period", period.Index).
						Str("section", section.Name).
						Str("amount", section.Amount.String()).
						Msg("unrecognized section excluded from aggregate")
					continue
				}
				return nil, &waterfall.InputError{Reason: fmt.Sprintf(
					"period %d has unclassifiable section %q and no default policy is configured",
					period.Index, section.Name)}
			}
		}

		out = append(out, waterfall.CashFlowPeriod{
			Index:     period.Index,
			Date:      period.Date,
			NetAmount: net,
		})
	}

	return out, nil
}
