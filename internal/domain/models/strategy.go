package models

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ConfidenceFloor is the minimum opportunity confidence accepted at this risk level.
func (r RiskLevel) ConfidenceFloor() float64 {
	switch r {
	case RiskLow:
		return 0.8
	case RiskHigh:
		return 0.5
	default:
		return 0.65
	}
}

// BaseAllocation is the fraction of available capital committed before confidence scaling.
func (r RiskLevel) BaseAllocation() float64 {
	switch r {
	case RiskLow:
		return 0.05
	case RiskHigh:
		return 0.20
	default:
		return 0.10
	}
}

// Strategy configures how an agent qualifies and sizes opportunities.
type Strategy struct {
	ID                 string    `yaml:"id" json:"id" validate:"required"`
	Name               string    `yaml:"name" json:"name"`
	Active             bool      `yaml:"active" json:"active"`
	RiskLevel          RiskLevel `yaml:"risk_level" json:"riskLevel" default:"medium" validate:"oneof=low medium high"`
	MinProfitThreshold float64   `yaml:"min_profit_threshold" json:"minProfitThreshold" validate:"gte=0"`
	// MinConfidence overrides the risk level floor when non-zero.
	MinConfidence float64 `yaml:"min_confidence" json:"minConfidence" validate:"gte=0,lte=1"`
	// Capital is the notional available to this strategy per execution.
	Capital    float64 `yaml:"capital" json:"capital" validate:"gte=0"`
	MinTrade   float64 `yaml:"min_trade" json:"minTrade" default:"0.01"`
	SlippageBp int     `yaml:"slippage_bps" json:"slippageBps" default:"50" validate:"gte=0,lte=10000"`
}

func (s Strategy) ConfidenceFloor() float64 {
	if s.MinConfidence > 0 {
		return s.MinConfidence
	}
	return s.RiskLevel.ConfidenceFloor()
}

// Qualifies reports whether o passes this strategy's profit and confidence floors.
func (s Strategy) Qualifies(o Opportunity) bool {
	return o.EstimatedProfit >= s.MinProfitThreshold && o.Confidence >= s.ConfidenceFloor()
}

// TradeSize scales capital by risk allocation and confidence, clamped to
// [MinTrade, 50% of capital].
func (s Strategy) TradeSize(confidence float64) float64 {
	if s.Capital <= 0 {
		return 0
	}
	amount := s.Capital * s.RiskLevel.BaseAllocation() * confidence
	if amount < s.MinTrade {
		amount = s.MinTrade
	}
	if limit := s.Capital * 0.5; amount > limit {
		amount = limit
	}
	return amount
}

// MinAmountOut applies the strategy slippage tolerance to an expected output.
func (s Strategy) MinAmountOut(expectedOut float64) float64 {
	return expectedOut * (1 - float64(s.SlippageBp)/10000)
}
