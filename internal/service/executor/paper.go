package executor

import (
	"context"
	"fmt"
	"sync"

	"AgentFlow/internal/domain/models"
	"AgentFlow/internal/domain/service"
	"AgentFlow/pkg/logger"

	"github.com/google/uuid"
)

// PaperExecutor fills every request at its expected profit without touching a venue.
type PaperExecutor struct {
	mu   sync.Mutex
	seen map[string]struct{}
	log  *logger.Logger
}

func NewPaperExecutor(log *logger.Logger) *PaperExecutor {
	return &PaperExecutor{seen: make(map[string]struct{}), log: log.Named("paper_executor")}
}

func (p *PaperExecutor) Submit(ctx context.Context, req service.SubmitRequest) (*service.SubmitResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, models.ExecutionFailed(err)
	}
	if req.Signer != nil {
		if _, err := req.Signer.Sign(digest(req)); err != nil {
			return nil, models.ExecutionFailed(fmt.Errorf("sign request: %w", err))
		}
	}
	sig := "paper-" + uuid.NewString()
	p.mu.Lock()
	p.seen[sig] = struct{}{}
	p.mu.Unlock()

	p.log.Debug("paper fill",
		logger.String("opportunity_id", req.OpportunityID),
		logger.String("signature", sig),
		logger.Float64("profit", req.ExpectedProfit))
	return &service.SubmitResult{Signature: sig, Success: true, Profit: req.ExpectedProfit}, nil
}

// TransactionStatus confirms any signature this executor issued.
func (p *PaperExecutor) TransactionStatus(_ context.Context, signature string) (models.TxStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.seen[signature]; !ok {
		return models.TxUnknown, nil
	}
	return models.TxConfirmed, nil
}
