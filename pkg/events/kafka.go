package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

const kafkaEmitTimeout = 10 * time.Second

// GenerationRelay forwards the transition into the generation stage to a
// Kafka topic. The external generation job producer consumes the finalized
// ranking from there; everything else on the hub is ignored.
type GenerationRelay struct {
	writer *kafka.Writer
	stage  string
}

var _ Sink = (*GenerationRelay)(nil)

// NewGenerationRelay creates a relay writing to the given topic.
func NewGenerationRelay(brokers []string, topic, generationStage string) (*GenerationRelay, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("generation relay requires at least one broker")
	}
	return &GenerationRelay{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.Hash{},
		},
		stage: generationStage,
	}, nil
}

// Emit forwards stage-changed events whose new stage is generation, keyed by
// session id so one session's jobs stay on one partition.
func (r *GenerationRelay) Emit(event Event) error {
	if event.Type != EventStageChanged {
		return nil
	}
	payload, ok := event.Payload.(StageChangedPayload)
	if !ok || payload.NewStage != r.stage {
		return nil
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), kafkaEmitTimeout)
	defer cancel()

	return r.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.SessionID),
		Value: value,
		Time:  event.Timestamp,
	})
}

// Close flushes and closes the Kafka writer.
func (r *GenerationRelay) Close() error {
	return r.writer.Close()
}
