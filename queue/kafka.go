package queue

import (
	"context"
	"fmt"
	"strings"

	segkafka "github.com/segmentio/kafka-go"
)

type KafkaConfig struct {
	Brokers []string
	GroupID string
}

func (c KafkaConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("kafka brokers are required")
	}
	if strings.TrimSpace(c.GroupID) == "" {
		return fmt.Errorf("kafka group id is required")
	}
	return nil
}

type KafkaProducer struct {
	writer *segkafka.Writer
}

func NewKafkaProducer(cfg KafkaConfig) (*KafkaProducer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	return &KafkaProducer{writer: &segkafka.Writer{
		Addr:         segkafka.TCP(cfg.Brokers...),
		Balancer:     &segkafka.Hash{},
		RequiredAcks: segkafka.RequireAll,
	}}, nil
}

func (p *KafkaProducer) Publish(ctx context.Context, topic string, msg Message) error {
	return p.writer.WriteMessages(ctx, segkafka.Message{
		Topic: topic,
		Key:   []byte(msg.Key),
		Value: msg.Value,
	})
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

// KafkaConsumer reads one topic as part of a consumer group. It has no way
// to hand a single message back, so Consume retries a failed message in
// place and holds the partition until it succeeds.
type KafkaConsumer struct {
	reader *segkafka.Reader
}

func NewKafkaConsumer(cfg KafkaConfig, topic string) (*KafkaConsumer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(topic) == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	reader := segkafka.NewReader(segkafka.ReaderConfig{
		Brokers: cfg.Brokers,
		Topic:   topic,
		GroupID: cfg.GroupID,
	})
	return &KafkaConsumer{reader: reader}, nil
}

func (c *KafkaConsumer) Poll(ctx context.Context) (Message, error) {
	m, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return Message{}, err
	}
	return Message{Key: string(m.Key), Value: m.Value, Topic: m.Topic, receipt: m}, nil
}

func (c *KafkaConsumer) Commit(ctx context.Context, msg Message) error {
	m, ok := msg.receipt.(segkafka.Message)
	if !ok {
		return fmt.Errorf("message on %s was not received from kafka", msg.Topic)
	}
	return c.reader.CommitMessages(ctx, m)
}

func (c *KafkaConsumer) Close() error {
	if c == nil || c.reader == nil {
		return nil
	}
	return c.reader.Close()
}
