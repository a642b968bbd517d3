package repository

import (
	"context"
	"fmt"

	"AgentFlow/internal/domain/models"
	drepo "AgentFlow/internal/domain/repository"
)

const DefaultSignalTopic = "agentflow.signals"

type topicWriter interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
	Close() error
}

// KafkaSignalPublisher writes signals to a topic keyed by pair, so one
// pair's signals stay ordered within a partition.
type KafkaSignalPublisher struct {
	w     topicWriter
	topic string
}

var _ drepo.SignalPublisher = (*KafkaSignalPublisher)(nil)

// NewKafkaSignalPublisher accepts a *kafka.Producer or anything with the same Publish.
func NewKafkaSignalPublisher(w topicWriter, topic string) *KafkaSignalPublisher {
	if topic == "" {
		topic = DefaultSignalTopic
	}
	return &KafkaSignalPublisher{w: w, topic: topic}
}

func (p *KafkaSignalPublisher) PublishSignal(ctx context.Context, s models.Signal) error {
	key := s.Pair
	if key == "" {
		key = s.Source
	}
	if err := p.w.Publish(ctx, p.topic, []byte(key), s); err != nil {
		return fmt.Errorf("publish signal %s: %w", s.ID, err)
	}
	return nil
}

func (p *KafkaSignalPublisher) Close() error { return p.w.Close() }
