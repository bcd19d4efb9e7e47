package waterfall

import "fmt"

// ConfigError reports an invalid partner/tier configuration. It is surfaced
// before any period is processed; a run never partially executes on bad
// configuration.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "waterfall configuration: " + e.Reason
}

func configErrorf(format string, args ...interface{}) *ConfigError {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}

// InputError reports a violated input contract (non-contiguous periods,
// unclassifiable sections, over-committed capital calls). Like ConfigError it
// is fatal and detected before or without committing any period.
type InputError struct {
	Reason string
}

func (e *InputError) Error() string {
	return "waterfall input: " + e.Reason
}

func inputErrorf(format string, args ...interface{}) *InputError {
	return &InputError{Reason: fmt.Sprintf(format, args...)}
}

// InvariantViolation indicates an engine bug, not a data problem: a ledger
// invariant failed after a mutation. It aborts the run and carries the
// offending period/partner/tier for debugging. It is never clamped or
// swallowed.
type InvariantViolation struct {
	PeriodIndex int
	PartnerID   string
	TierNumber  int
	Reason      string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("ledger invariant violated (period=%d partner=%s tier=%d): %s",
		e.PeriodIndex, e.PartnerID, e.TierNumber, e.Reason)
}
