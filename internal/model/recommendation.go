package model

// Action is the advisory direction of a recommendation.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// RiskLevel grades the risk attached to a recommendation.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// Recommendation is derived output of the indicator engine. It is never persisted.
type Recommendation struct {
	Action     Action    `json:"action"`
	Confidence float64   `json:"confidence"`
	Reasons    []string  `json:"reasons"`
	Risk       RiskLevel `json:"risk_level"`
	Support    Opt       `json:"support_level"`
	Resistance Opt       `json:"resistance_level"`
}
