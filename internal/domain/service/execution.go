package service

import (
	"context"

	"AgentFlow/internal/domain/models"
)

// Signer is an opaque signing handle. Implementations never expose key bytes.
type Signer interface {
	PublicKey() string
	Sign(message []byte) ([]byte, error)
}

// WalletProvider resolves wallet ids to signing handles.
type WalletProvider interface {
	SigningHandle(walletID string) (Signer, error)
}

type SubmitRequest struct {
	OpportunityID  string
	Route          []models.Hop
	AmountIn       float64
	MinAmountOut   float64
	ExpectedProfit float64
	Signer         Signer
}

type SubmitResult struct {
	Signature string
	Success   bool
	Profit    float64
}

// ExecutionService submits a route for execution. Failures wrap models.ErrExecution.
type ExecutionService interface {
	Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error)
}

// ChainStatus reports the settlement state of a submitted transaction.
type ChainStatus interface {
	TransactionStatus(ctx context.Context, signature string) (models.TxStatus, error)
}
