package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaDispatcher publishes events to a single topic, keyed by recipient so a
// user's notifications stay ordered within a partition.
type KafkaDispatcher struct {
	writer messageWriter
}

func NewKafkaDispatcher(brokers []string, topic string) *KafkaDispatcher {
	return &KafkaDispatcher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		},
	}
}

type kafkaEnvelope struct {
	EventID         string         `json:"event_id"`
	EventType       string         `json:"event_type"`
	RecipientUserID int64          `json:"recipient_user_id"`
	Payload         map[string]any `json:"payload"`
}

func (d *KafkaDispatcher) Notify(ctx context.Context, recipientUserID int64, eventType string, payload map[string]any) error {
	eventID := uuid.NewString()
	value, err := json.Marshal(kafkaEnvelope{
		EventID:         eventID,
		EventType:       eventType,
		RecipientUserID: recipientUserID,
		Payload:         payload,
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(recipientUserID, 10)),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(eventID)},
			{Key: "event_type", Value: []byte(eventType)},
		},
	}
	if err := d.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

func (d *KafkaDispatcher) Close() error {
	return d.writer.Close()
}
