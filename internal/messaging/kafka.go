package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	kafka "github.com/segmentio/kafka-go"

	"go-audit-trail/internal/event"
)

const defaultWriteTimeout = 5 * time.Second

// messageWriter abstracts the kafka-go writer so tests can swap it out.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...writerMessage) error
	Close() error
}

type writerMessage struct {
	Topic string
	Key   []byte
	Value []byte
}

type kafkaGoWriter struct {
	w *kafka.Writer
}

func (k *kafkaGoWriter) WriteMessages(ctx context.Context, msgs ...writerMessage) error {
	kafkaMsgs := make([]kafka.Message, len(msgs))
	for i, m := range msgs {
		kafkaMsgs[i] = kafka.Message{
			Topic: m.Topic,
			Key:   m.Key,
			Value: m.Value,
		}
	}
	return k.w.WriteMessages(ctx, kafkaMsgs...)
}

func (k *kafkaGoWriter) Close() error {
	return k.w.Close()
}

// KafkaPublisher forwards audit events to a Kafka topic. Messages are keyed
// by entity so every event of one entity lands on the same partition.
type KafkaPublisher struct {
	writer       messageWriter
	topic        string
	writeTimeout time.Duration
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}
	return &KafkaPublisher{
		writer:       &kafkaGoWriter{w: w},
		topic:        topic,
		writeTimeout: defaultWriteTimeout,
	}
}

// Publish implements event.Publisher. Delivery is best-effort: failures are
// logged and dropped.
func (p *KafkaPublisher) Publish(e event.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), p.writeTimeout)
	defer cancel()

	if err := p.Send(ctx, e); err != nil {
		slog.Error("audit event forward failed",
			"event_type", e.Type,
			"entity_type", e.EntityType,
			"entity_id", e.EntityID,
			"error", err,
		)
	}
}

func (p *KafkaPublisher) Send(ctx context.Context, e event.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to serialize audit event: %w", err)
	}

	msg := writerMessage{
		Topic: p.topic,
		Key:   MessageKey(e.EntityType, e.EntityID),
		Value: data,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish audit event: %w", err)
	}

	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func MessageKey(entityType string, entityID int64) []byte {
	return []byte(entityType + ":" + strconv.FormatInt(entityID, 10))
}
