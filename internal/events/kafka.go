package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const (
	defaultWriteTimeout = 5 * time.Second
	// Events are published one at a time, so waiting for a fuller batch
	// only delays the caller.
	batchTimeout = 10 * time.Millisecond
)

// MessageWriter is the subset of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events as JSON to a Kafka topic, keyed by order ID
// so that the events of one order stay ordered within a partition.
type KafkaPublisher struct {
	writer       MessageWriter
	writeTimeout time.Duration
}

// NewKafkaWriter creates a writer for topic on brokers.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: batchTimeout,
		WriteTimeout: defaultWriteTimeout,
	}
}

// NewKafkaPublisher creates a publisher on top of writer.
func NewKafkaPublisher(writer MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: writer, writeTimeout: defaultWriteTimeout}
}

// Publish implements Publisher. The current trace context is carried in the
// message headers.
func (p *KafkaPublisher) Publish(ctx context.Context, event TransactionFinalized) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.EventID, err)
	}

	headers := []kafka.Header{{Key: "event_type", Value: []byte(event.Type)}}
	headers = injectHeaders(ctx, headers)

	// The request context may already be close to its deadline.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.writeTimeout)
	defer cancel()

	err = p.writer.WriteMessages(writeCtx, kafka.Message{
		Key:     []byte(event.OrderID),
		Value:   value,
		Headers: headers,
		Time:    event.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("write event %s: %w", event.EventID, err)
	}
	return nil
}

// Close implements Publisher.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func injectHeaders(ctx context.Context, headers []kafka.Header) []kafka.Header {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	for k, v := range carrier {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return headers
}
