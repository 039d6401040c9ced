package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/replydeck/helmsman/internal/models"
	"github.com/replydeck/helmsman/pkg/kafka"
)

// Firehose publishes dispatch outcomes to Kafka for analytics consumers.
// Keys by account ID so per-account outcomes stay ordered within a partition.
type Firehose struct {
	producer *kafka.Producer
	topic    string
}

// NewFirehose creates a firehose publisher.
func NewFirehose(producer *kafka.Producer, topic string) *Firehose {
	if topic == "" {
		topic = "dispatch_outcomes"
	}
	return &Firehose{producer: producer, topic: topic}
}

// PublishOutcome implements OutcomePublisher.
func (f *Firehose) PublishOutcome(ctx context.Context, outcome models.DispatchOutcome) error {
	value, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	return f.producer.Produce(ctx, f.topic, []byte(outcome.AccountID), value)
}
