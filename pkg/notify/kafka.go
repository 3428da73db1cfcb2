package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/rubiojr/volunteer/pkg/realtime"
)

// MessageWriter is the subset of *kafka.Writer the publisher needs.
// Tests swap in a fake.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes notices as JSON messages keyed by event id, so every
// change to the same event lands on the same partition.
type KafkaPublisher struct {
	writer MessageWriter
	topic  string
}

// NewKafkaPublisher returns a publisher writing to topic on brokers.
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}
	if topic == "" {
		return nil, errors.New("no kafka topic configured")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	logger.Infof("publishing event notices to kafka topic %s (%d brokers)", topic, len(brokers))
	return NewKafkaPublisherWithWriter(w, topic), nil
}

// NewKafkaPublisherWithWriter wraps an existing writer.
func NewKafkaPublisherWithWriter(w MessageWriter, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: w, topic: topic}
}

func (p *KafkaPublisher) Publish(ctx context.Context, n realtime.Notice) error {
	value, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encoding notice: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(n.EventID, 10)),
		Value: value,
		Headers: []kafka.Header{
			{Key: "action", Value: []byte(n.Action)},
		},
		Time: n.At,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("writing notice for event %d to %s: %w", n.EventID, p.topic, err)
	}
	logger.Debugf("published %s notice for event %d", n.Action, n.EventID)
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
