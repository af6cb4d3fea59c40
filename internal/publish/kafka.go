package publish

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/rs/zerolog"
)

const flushTimeoutMs = 5000

type KafkaOptions struct {
	BootstrapServers string
	Topic            string
	Acks             string
}

// producer is the part of *kafka.Producer the publisher needs.
type producer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Flush(timeoutMs int) int
	Close()
}

// KafkaPublisher writes alerts to a topic keyed by report ID and waits for the
// broker's delivery report.
type KafkaPublisher struct {
	producer producer
	topic    string
	log      zerolog.Logger
}

func NewKafkaPublisher(opts KafkaOptions, log zerolog.Logger) (*KafkaPublisher, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":   opts.BootstrapServers,
		"acks":                opts.Acks,
		"enable.idempotence":  opts.Acks == "all",
		"request.timeout.ms":  30000,
		"delivery.timeout.ms": 120000,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}

	log.Info().
		Str("topic", opts.Topic).
		Str("bootstrap_servers", opts.BootstrapServers).
		Msg("kafka producer initialized")
	return newKafkaPublisher(p, opts.Topic, log), nil
}

func newKafkaPublisher(p producer, topic string, log zerolog.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		producer: p,
		topic:    topic,
		log:      log,
	}
}

func (p *KafkaPublisher) Name() string { return "kafka" }

func (p *KafkaPublisher) Publish(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return err
	}

	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &p.topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(alert.ReportID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "vehicle_id", Value: []byte(alert.VehicleID)},
			{Key: "alert_type", Value: []byte(alert.AlertType)},
		},
	}

	delivery := make(chan kafka.Event, 1)
	if err := p.producer.Produce(msg, delivery); err != nil {
		return fmt.Errorf("produce: %w", err)
	}

	select {
	case e := <-delivery:
		m, ok := e.(*kafka.Message)
		if !ok {
			return fmt.Errorf("unexpected delivery event %v", e)
		}
		if m.TopicPartition.Error != nil {
			return fmt.Errorf("delivery failed: %w", m.TopicPartition.Error)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for delivery: %w", ctx.Err())
	}
}

func (p *KafkaPublisher) Close() error {
	if remaining := p.producer.Flush(flushTimeoutMs); remaining > 0 {
		p.log.Warn().Int("unflushed", remaining).Msg("kafka producer closed with undelivered messages")
	}
	p.producer.Close()
	return nil
}
