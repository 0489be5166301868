package notifications

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/segmentio/kafka-go"

	"fieldservice-server/models"
)

// KafkaSink writes events to a topic keyed by user id, so one user's
// notifications stay on one partition.
type KafkaSink struct {
	writer *kafka.Writer
}

// NewKafkaSink creates a KafkaSink for a comma separated broker list.
func NewKafkaSink(brokers, topic string) *KafkaSink {
	return &KafkaSink{writer: &kafka.Writer{
		Addr:         kafka.TCP(strings.Split(brokers, ",")...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Deliver(ctx context.Context, ev models.NotificationEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.UserID),
		Value: b,
		Time:  ev.CreatedAt,
	})
}

// Close flushes pending writes.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
