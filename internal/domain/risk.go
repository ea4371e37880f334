package domain

// Verdict is the outcome of a risk evaluation.
type Verdict string

const (
	VerdictAccept  Verdict = "accept"
	VerdictReject  Verdict = "reject"
	VerdictCaution Verdict = "caution" // accepted with a capped amount
)

// RiskReason identifies which risk check was triggered.
type RiskReason string

const (
	ReasonDailyLossLimit     RiskReason = "daily-loss-limit"
	ReasonConcentrationLimit RiskReason = "concentration-limit"
	ReasonPositionSizeLimit  RiskReason = "position-size-limit"
	ReasonLowConfidence      RiskReason = "low-confidence"
	ReasonFeeProfitRatio     RiskReason = "fee-profit-ratio"
	ReasonTradeFrequency     RiskReason = "trade-frequency"
)

// RiskDecision is the result of evaluating one signal against the exposure
// ledger. A reject carries at least one reason; all triggered reasons are
// recorded, not only the first. Decisions are created fresh per evaluation
// and persisted only in the execution audit trail.
type RiskDecision struct {
	Verdict      Verdict
	RiskScore    float64 // 0..1, higher means riskier
	Reasons      []RiskReason
	CappedAmount float64 // >0 when verdict is caution; the allowed input size
}

// Accepted reports whether the signal may proceed to planning.
func (d RiskDecision) Accepted() bool {
	return d.Verdict == VerdictAccept || d.Verdict == VerdictCaution
}

// Has reports whether the given reason was triggered.
func (d RiskDecision) Has(r RiskReason) bool {
	for _, reason := range d.Reasons {
		if reason == r {
			return true
		}
	}
	return false
}
