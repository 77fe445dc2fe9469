package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/yanun0323/errors"
)

// KafkaSink publishes audit events to a Kafka topic as JSON.
type KafkaSink struct {
	writer *kafka.Writer
}

type kafkaEvent struct {
	Time     time.Time `json:"time"`
	Category string    `json:"category"`
	Message  string    `json:"message"`
	Level    string    `json:"level"`
}

// NewKafkaSink builds a sink writing to the given brokers and topic.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: kafka.NewWriter(kafka.WriterConfig{
			Brokers:      brokers,
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 200 * time.Millisecond,
			RequiredAcks: int(kafka.RequireOne),
		}),
	}
}

// Write implements Sink.
func (s *KafkaSink) Write(event Event) error {
	payload, err := json.Marshal(kafkaEvent{
		Time:     event.Time,
		Category: event.Category.String(),
		Message:  event.Message,
		Level:    event.Level.String(),
	})
	if err != nil {
		return errors.Wrap(err, "marshal audit event")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.writer.WriteMessages(ctx, kafka.Message{Value: payload}); err != nil {
		return errors.Wrap(err, "write audit event")
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
