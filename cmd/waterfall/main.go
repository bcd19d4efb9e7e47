// Command waterfall runs a distribution scenario from a JSON file and prints
// the full schedule. Useful for checking a deal structure without standing up
// the HTTP service.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"equity-waterfall-engine/internal/daycount"
	"equity-waterfall-engine/internal/waterfall"
)

type scenarioFile struct {
	Partners []waterfall.Partner        `json:"partners"`
	Tiers    []waterfall.WaterfallTier  `json:"tiers"`
	Periods  []waterfall.CashFlowPeriod `json:"periods"`
	DayCount string                     `json:"day_count,omitempty"`
}

func main() {
	scenarioPath := flag.String("scenario", "", "Path to scenario JSON file (required)")
	dayCount := flag.String("day-count", "", "Day count convention override (ACT/365, ACT/360, 30/360)")
	jsonOut := flag.Bool("json", false, "Emit the raw result as JSON instead of a printed schedule")
	verbose := flag.Bool("v", false, "Enable debug logging")
	flag.Parse()

	if *scenarioPath == "" {
		fmt.Fprintln(os.Stderr, "Usage: waterfall -scenario deal.json [-day-count ACT/365] [-json]")
		os.Exit(2)
	}

	data, err := os.ReadFile(*scenarioPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read scenario: %v\n", err)
		os.Exit(1)
	}

	var scenario scenarioFile
	if err := json.Unmarshal(data, &scenario); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse scenario: %v\n", err)
		os.Exit(1)
	}

	convName := scenario.DayCount
	if *dayCount != "" {
		convName = *dayCount
	}
	if convName == "" {
		convName = "ACT/365"
	}
	conv, err := daycount.ParseConvention(convName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	logger := zerolog.New(os.Stderr).Level(zerolog.WarnLevel).With().Timestamp().Logger()
	if *verbose {
		logger = logger.Level(zerolog.DebugLevel)
	}

	input := waterfall.RunInput{
		Partners: scenario.Partners,
		Tiers:    scenario.Tiers,
		Periods:  scenario.Periods,
	}

	engine := waterfall.NewEngine(input, conv, logger)
	result, err := engine.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Run failed: %v\n", err)
		os.Exit(1)
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode result: %v\n", err)
			os.Exit(1)
		}
		return
	}

	printSchedule(input, result, conv)
}

func printSchedule(input waterfall.RunInput, result *waterfall.RunResult, conv daycount.Convention) {
	line := strings.Repeat("=", 80)

	fmt.Println(line)
	fmt.Println("DISTRIBUTION SCHEDULE")
	fmt.Println(line)
	fmt.Printf("Day count: %s   Partners: %d   Tiers: %d   Periods: %d\n\n",
		conv, len(input.Partners), len(input.Tiers), len(input.Periods))

	fmt.Printf("%-8s %-12s %-12s %-22s %16s\n", "Period", "Date", "Partner", "Tier", "Amount")
	fmt.Println(strings.Repeat("-", 80))
	for _, d := range result.Distributions {
		date := ""
		if d.PeriodIndex < len(input.Periods) {
			date = input.Periods[d.PeriodIndex].Date.Format("2006-01-02")
		}
		fmt.Printf("%-8d %-12s %-12s %-22s %16s\n",
			d.PeriodIndex, date, d.PartnerID, d.TierType, d.Amount.StringFixed(2))
	}

	if len(result.Remainders) > 0 {
		fmt.Println()
		fmt.Println("Undistributed remainders:")
		for _, r := range result.Remainders {
			fmt.Printf("  period %d: %s\n", r.PeriodIndex, r.Amount.StringFixed(2))
		}
	}

	fmt.Println()
	fmt.Println(line)
	fmt.Println("CAPITAL ACCOUNTS")
	fmt.Println(line)
	fmt.Printf("%-12s %16s %16s %16s %16s\n",
		"Partner", "Contributed", "Returned", "Pref Paid", "Total Received")
	fmt.Println(strings.Repeat("-", 80))

	totalContributed := decimal.Zero
	totalDistributed := decimal.Zero
	for _, acct := range result.Accounts {
		totalContributed = totalContributed.Add(acct.ContributedCapital)
		totalDistributed = totalDistributed.Add(acct.CumulativeDistributions)
		fmt.Printf("%-12s %16s %16s %16s %16s\n",
			acct.PartnerID,
			acct.ContributedCapital.StringFixed(2),
			acct.ReturnedCapital.StringFixed(2),
			acct.PaidPreferred.StringFixed(2),
			acct.CumulativeDistributions.StringFixed(2))
	}
	fmt.Println(strings.Repeat("-", 80))
	fmt.Printf("%-12s %16s %16s %16s %16s\n", "TOTAL",
		totalContributed.StringFixed(2), "", "", totalDistributed.StringFixed(2))

	fmt.Println()
	fmt.Println(line)
	fmt.Println("RETURNS")
	fmt.Println(line)
	fmt.Printf("Equity multiple: %sx\n", result.EquityMultiple.StringFixed(4))
	fmt.Printf("Deal IRR:        %s\n", formatIRR(result.DealIRR))
	for _, acct := range result.Accounts {
		fmt.Printf("  %-12s IRR: %s\n", acct.PartnerID, formatIRR(result.PartnerIRR[acct.PartnerID]))
	}
}

func formatIRR(irr *float64) string {
	if irr == nil {
		return "undefined (no sign change in cash flows)"
	}
	return fmt.Sprintf("%.4f%%", *irr*100)
}
