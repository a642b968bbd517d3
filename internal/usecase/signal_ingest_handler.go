package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"AgentFlow/internal/domain/models"
	drepo "AgentFlow/internal/domain/repository"
	"AgentFlow/internal/middleware"
	"AgentFlow/pkg/logger"
)

// SignalIngestHandler consumes signals from a Kafka topic into the pipeline.
type SignalIngestHandler struct {
	topic   string
	ingest  SignalIngestor
	metrics drepo.Metrics
	log     *logger.Logger
}

func NewSignalIngestHandler(topic string, ingest SignalIngestor, metrics drepo.Metrics, log *logger.Logger) *SignalIngestHandler {
	return &SignalIngestHandler{topic: topic, ingest: ingest, metrics: metrics, log: log.Named("signal_ingest")}
}

func (h *SignalIngestHandler) Topic() string { return h.topic }

// Handle decodes one wire-format signal. Malformed and invalid payloads are
// returned as errors so the consumer routes them to the DLQ; duplicates and
// throttled signals are dropped quietly.
func (h *SignalIngestHandler) Handle(ctx context.Context, b []byte) error {
	var s models.Signal
	if err := json.Unmarshal(b, &s); err != nil {
		h.metrics.RecordError("ingest_unmarshal")
		return fmt.Errorf("decode signal: %w", err)
	}
	err := h.ingest.Process(ctx, s)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, middleware.ErrDuplicateSignal), errors.Is(err, middleware.ErrRateLimited):
		h.log.Debug("signal dropped", logger.String("id", s.ID), logger.Error(err))
		return nil
	default:
		h.metrics.RecordError("ingest_invalid")
		return err
	}
}
