package sink

import (
	"context"
	"time"

	"github.com/IBM/sarama"

	"github.com/Naxetee/oficit-FactuLink/internal/event"
	"github.com/Naxetee/oficit-FactuLink/pkg/json"
	"github.com/Naxetee/oficit-FactuLink/pkg/linkerrors"
)

// KafkaSink publishes each event to a topic, keyed by business so the
// events of one business stay in one partition and keep their order.
type KafkaSink struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaSink connects a synchronous producer to brokers.
func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	producer, err := sarama.NewSyncProducer(brokers, newProducerConfig())
	if err != nil {
		return nil, linkerrors.Wrap(err, linkerrors.ErrorTypeConnection, "failed to create kafka producer").
			WithDetail("brokers", brokers)
	}
	return NewKafkaSinkWithProducer(producer, topic), nil
}

// NewKafkaSinkWithProducer wraps an existing producer. The sink owns it and
// closes it on Close.
func NewKafkaSinkWithProducer(producer sarama.SyncProducer, topic string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic}
}

func newProducerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = "factulink"
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1
	return config
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Send(ctx context.Context, ev event.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := s.buildMessage(ev)
	if err != nil {
		return err
	}
	if _, _, err := s.producer.SendMessage(msg); err != nil {
		return linkerrors.Wrap(err, linkerrors.ErrorTypeConnection, "failed to publish event").
			WithDetail("order", ev.ID)
	}
	return nil
}

func (s *KafkaSink) buildMessage(ev event.Event) (*sarama.ProducerMessage, error) {
	value, err := json.Marshal(ev)
	if err != nil {
		return nil, linkerrors.Wrap(err, linkerrors.ErrorTypeProcessing, "failed to encode event")
	}

	timestamp := ev.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	return &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(ev.Business),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("business"), Value: []byte(ev.Business)},
			{Key: []byte("order"), Value: []byte(ev.ID)},
			{Key: []byte("content-type"), Value: []byte("application/json")},
		},
		Timestamp: timestamp,
	}, nil
}

func (s *KafkaSink) Close() error {
	return s.producer.Close()
}
