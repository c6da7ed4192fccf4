// Package relay publishes the trade stream to Kafka for downstream
// archivers. It sits behind the bridge's ring consumer and is
// best-effort: the sarama producer retries a send up to five times,
// and a send that still fails is returned to the caller (the bridge
// counts and logs it); the relay itself does not resend it.
package relay

import (
	"fmt"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

type Relay struct {
	producer sarama.SyncProducer
	topic    string
	log      *zap.Logger
}

// New connects a synchronous producer to brokers.
func New(brokers []string, topic string, log *zap.Logger) (*Relay, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("relay: %w", err)
	}
	return &Relay{producer: producer, topic: topic, log: log}, nil
}

// Publish sends one message keyed by symbol so per-symbol ordering
// survives partitioning.
func (r *Relay) Publish(key, payload []byte) error {
	_, _, err := r.producer.SendMessage(&sarama.ProducerMessage{
		Topic: r.topic,
		Key:   sarama.ByteEncoder(key),
		Value: sarama.ByteEncoder(payload),
	})
	return err
}

func (r *Relay) Close() error {
	return r.producer.Close()
}
