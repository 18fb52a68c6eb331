package domain

import "github.com/shopspring/decimal"

// ReconciliationRecord is the running cross-check statistic for one symbol.
// Single writer (the reconciliation engine); published as immutable snapshots
// so monitoring readers never see a half-updated check.
type ReconciliationRecord struct {
	Symbol              string          `json:"symbol"`
	TotalChecks         int64           `json:"total_checks"`
	MismatchCount       int64           `json:"mismatch_count"`
	ConsecutiveMismatch int64           `json:"consecutive_mismatches"`
	DegradedAccepts     int64           `json:"degraded_accepts"`
	LastPushPrice       decimal.Decimal `json:"last_push_price"`
	LastPullPrice       decimal.Decimal `json:"last_pull_price"`
	LastDiff            decimal.Decimal `json:"last_diff"` // relative difference of the last check
	LastCheckedAt       int64           `json:"last_checked_at"`
	ConsecutiveFailures int64           `json:"consecutive_failures"` // pull-source fetch failures in a row
}

// MismatchRate returns mismatch_count/total_checks, 0 before the first check.
func (r *ReconciliationRecord) MismatchRate() decimal.Decimal {
	if r.TotalChecks == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(r.MismatchCount).Div(decimal.NewFromInt(r.TotalChecks))
}

// Condition is a system-level state surfaced to callers that can halt trading.
type Condition string

const (
	// ConditionDataQualityDegraded fires when the running mismatch rate
	// exceeds the configured ceiling. The core never halts by itself; the
	// subscriber decides.
	ConditionDataQualityDegraded Condition = "DATA_QUALITY_DEGRADED"
)
