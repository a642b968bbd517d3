package executor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"AgentFlow/internal/domain/models"
	"AgentFlow/internal/domain/service"
	xhttp "AgentFlow/pkg/http"
	"AgentFlow/pkg/logger"
)

const (
	submitPath = "/v1/submit"
	statusPath = "/v1/transactions/"
)

type submitPayload struct {
	OpportunityID  string       `json:"opportunityId"`
	Route          []models.Hop `json:"route"`
	AmountIn       float64      `json:"amountIn"`
	MinAmountOut   float64      `json:"minAmountOut"`
	ExpectedProfit float64      `json:"expectedProfit"`
	PublicKey      string       `json:"publicKey,omitempty"`
	Signature      string       `json:"signature,omitempty"`
}

type submitResponse struct {
	Signature string  `json:"signature"`
	Success   bool    `json:"success"`
	Profit    float64 `json:"profit"`
	Error     string  `json:"error,omitempty"`
}

type statusResponse struct {
	Signature string `json:"signature"`
	Status    string `json:"status"`
}

// HTTPExecutor submits routes to a remote execution endpoint.
type HTTPExecutor struct {
	client *xhttp.Client
	log    *logger.Logger
}

func NewHTTPExecutor(client *xhttp.Client, log *logger.Logger) *HTTPExecutor {
	return &HTTPExecutor{client: client, log: log.Named("executor")}
}

// Submit signs the request digest with the caller's signer, if any, and posts it.
func (e *HTTPExecutor) Submit(ctx context.Context, req service.SubmitRequest) (*service.SubmitResult, error) {
	payload := submitPayload{
		OpportunityID:  req.OpportunityID,
		Route:          req.Route,
		AmountIn:       req.AmountIn,
		MinAmountOut:   req.MinAmountOut,
		ExpectedProfit: req.ExpectedProfit,
	}
	if req.Signer != nil {
		sig, err := req.Signer.Sign(digest(req))
		if err != nil {
			return nil, models.ExecutionFailed(fmt.Errorf("sign request: %w", err))
		}
		payload.PublicKey = req.Signer.PublicKey()
		payload.Signature = base64.StdEncoding.EncodeToString(sig)
	}

	start := time.Now()
	var resp submitResponse
	err := e.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodPost,
		Path:   submitPath,
		Body:   payload,
	}, &resp)
	if err != nil {
		e.log.Warn("submit failed",
			logger.String("opportunity_id", req.OpportunityID),
			logger.Duration("elapsed", time.Since(start)),
			logger.Error(err))
		return nil, classify(err)
	}
	if !resp.Success && resp.Error != "" {
		e.log.Info("submit rejected",
			logger.String("opportunity_id", req.OpportunityID),
			logger.String("reason", resp.Error))
	}
	return &service.SubmitResult{Signature: resp.Signature, Success: resp.Success, Profit: resp.Profit}, nil
}

func (e *HTTPExecutor) TransactionStatus(ctx context.Context, signature string) (models.TxStatus, error) {
	var resp statusResponse
	err := e.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodGet,
		Path:   statusPath + url.PathEscape(signature),
	}, &resp)
	if err != nil {
		var se *xhttp.StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return models.TxUnknown, nil
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return models.TxUnknown, fmt.Errorf("status %s: %w", signature, models.ErrTimeout)
		}
		return models.TxUnknown, fmt.Errorf("status %s: %w: %v", signature, models.ErrConnection, err)
	}
	return parseStatus(resp.Status), nil
}

func parseStatus(s string) models.TxStatus {
	switch st := models.TxStatus(s); st {
	case models.TxPending, models.TxConfirmed, models.TxFinalized, models.TxFailed:
		return st
	default:
		return models.TxUnknown
	}
}

// classify keeps ErrExecution on every failure and adds ErrTimeout for deadlines.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", models.ErrExecution, models.ErrTimeout)
	}
	return models.ExecutionFailed(err)
}

// digest is the byte string the wallet signs for a submission.
func digest(req service.SubmitRequest) []byte {
	b, _ := json.Marshal(struct {
		OpportunityID string  `json:"opportunityId"`
		AmountIn      float64 `json:"amountIn"`
		MinAmountOut  float64 `json:"minAmountOut"`
	}{req.OpportunityID, req.AmountIn, req.MinAmountOut})
	return b
}
