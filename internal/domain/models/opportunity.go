package models

import "time"

// Hop is one venue/pool leg of a route.
type Hop struct {
	Venue      string `json:"venue"`
	Pool       string `json:"pool"`
	InputMint  string `json:"inputMint,omitempty"`
	OutputMint string `json:"outputMint,omitempty"`
}

// Opportunity is an immutable, time-bounded execution candidate.
type Opportunity struct {
	ID              string    `json:"id"`
	Pair            string    `json:"pair"`
	Route           []Hop     `json:"route"`
	AmountIn        float64   `json:"amountIn"`
	ExpectedOut     float64   `json:"expectedOut"`
	EstimatedProfit float64   `json:"estimatedProfit"`
	EstimatedFees   float64   `json:"estimatedFees"`
	Confidence      float64   `json:"confidence"` // 0..1
	DiscoveredAt    time.Time `json:"discoveredAt"`
	ExpirationTime  time.Time `json:"expirationTime"`
}

// Expired reports whether o may no longer be submitted at now.
func (o Opportunity) Expired(now time.Time) bool {
	return !now.Before(o.ExpirationTime)
}

func (o Opportunity) NetProfit() float64 { return o.EstimatedProfit - o.EstimatedFees }

// NetProfitPct is net profit relative to the input amount, in percent.
func (o Opportunity) NetProfitPct() float64 {
	if o.AmountIn <= 0 {
		return 0
	}
	return o.NetProfit() / o.AmountIn * 100
}

// VenuePair is a monitored source/destination route for cross-venue discovery.
type VenuePair struct {
	Pair        string `yaml:"pair" json:"pair" validate:"required"`
	BaseMint    string `yaml:"base_mint" json:"baseMint" validate:"required"`
	QuoteMint   string `yaml:"quote_mint" json:"quoteMint" validate:"required"`
	SourceVenue string `yaml:"source_venue" json:"sourceVenue" validate:"required"`
	DestVenue   string `yaml:"dest_venue" json:"destVenue" validate:"required"`
}
