package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"vaultd/internal/domain"

	"github.com/segmentio/kafka-go"
)

// KafkaPublisher streams appended entries to a Kafka topic keyed by tenant,
// so one tenant's entries stay ordered within a partition. The ledger treats
// delivery as best-effort; the relational chain is the source of truth.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.Hash{},
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, entry *domain.AuditEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(entry.TenantID),
		Value: payload,
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

var _ EventPublisher = (*KafkaPublisher)(nil)
