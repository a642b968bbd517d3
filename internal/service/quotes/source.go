package quotes

import (
	"context"
	"fmt"

	xhttp "AgentFlow/pkg/http"

	"github.com/shopspring/decimal"
)

// Request asks one venue for the output of swapping Amount of InputMint.
type Request struct {
	Venue      string
	InputMint  string
	OutputMint string
	Amount     decimal.Decimal
}

// Quote is a single-leg price. Fee is denominated in the input token.
type Quote struct {
	Venue          string
	Pool           string
	InAmount       decimal.Decimal
	OutAmount      decimal.Decimal
	Fee            decimal.Decimal
	PriceImpactPct decimal.Decimal
}

type Source interface {
	Quote(ctx context.Context, req Request) (Quote, error)
}

type quoteResponse struct {
	Pool           string `json:"pool"`
	InAmount       string `json:"inAmount"`
	OutAmount      string `json:"outAmount"`
	FeeAmount      string `json:"feeAmount"`
	PriceImpactPct string `json:"priceImpactPct"`
}

// HTTPSource reads quotes from GET /v1/quote. Amounts travel as decimal strings.
type HTTPSource struct {
	client *xhttp.Client
}

func NewHTTPSource(client *xhttp.Client) *HTTPSource {
	return &HTTPSource{client: client}
}

func (s *HTTPSource) Quote(ctx context.Context, req Request) (Quote, error) {
	var resp quoteResponse
	err := s.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodGet,
		Path:   "/v1/quote",
		QueryParams: map[string][]string{
			"venue":      {req.Venue},
			"inputMint":  {req.InputMint},
			"outputMint": {req.OutputMint},
			"amount":     {req.Amount.String()},
		},
	}, &resp)
	if err != nil {
		return Quote{}, fmt.Errorf("quote %s %s->%s: %w", req.Venue, req.InputMint, req.OutputMint, err)
	}
	return resp.toQuote(req)
}

func (r quoteResponse) toQuote(req Request) (Quote, error) {
	q := Quote{Venue: req.Venue, Pool: r.Pool, InAmount: req.Amount}
	var err error
	if r.InAmount != "" {
		if q.InAmount, err = decimal.NewFromString(r.InAmount); err != nil {
			return Quote{}, fmt.Errorf("parse inAmount: %w", err)
		}
	}
	if q.OutAmount, err = decimal.NewFromString(r.OutAmount); err != nil {
		return Quote{}, fmt.Errorf("parse outAmount: %w", err)
	}
	if q.Fee, err = parseOptional(r.FeeAmount); err != nil {
		return Quote{}, fmt.Errorf("parse feeAmount: %w", err)
	}
	if q.PriceImpactPct, err = parseOptional(r.PriceImpactPct); err != nil {
		return Quote{}, fmt.Errorf("parse priceImpactPct: %w", err)
	}
	if !q.OutAmount.IsPositive() {
		return Quote{}, fmt.Errorf("non-positive outAmount %s", q.OutAmount)
	}
	return q, nil
}

func parseOptional(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
