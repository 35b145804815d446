package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kprom"

	"github.com/roach88/offpay/internal/payment"
)

// Transfer is the instruction handed to the money rail.
type Transfer struct {
	ClientTxID string         `json:"client_tx_id"`
	TxID       string         `json:"tx_id"`
	From       string         `json:"from"`
	To         string         `json:"to"`
	Amount     int64          `json:"amount"`
	Currency   string         `json:"currency"`
	Intent     payment.Intent `json:"intent"`
	IssuedAt   time.Time      `json:"issued_at"`
}

// Gateway moves funds. Transfer must be idempotent on ClientTxID; an error
// leaves the payment unsettled and the device retries later.
type Gateway interface {
	Transfer(ctx context.Context, t Transfer) error
}

// NoopGateway accepts every transfer and logs it.
type NoopGateway struct {
	Logger *slog.Logger
}

// Transfer implements Gateway.
func (g NoopGateway) Transfer(_ context.Context, t Transfer) error {
	logger := g.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("transfer accepted", "client_tx_id", t.ClientTxID, "amount", t.Amount)
	return nil
}

// KafkaConfig configures KafkaGateway.
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	ClientID string
}

// KafkaGateway publishes transfers to a Kafka topic for the settlement rail.
// Records are keyed by ClientTxID so a payment always lands on one partition
// and downstream consumers can deduplicate.
type KafkaGateway struct {
	client *kgo.Client
	topic  string
}

// NewKafkaGateway creates an idempotent producer. metrics may be nil.
func NewKafkaGateway(conf KafkaConfig, metrics *kprom.Metrics) (*KafkaGateway, error) {
	if len(conf.Brokers) == 0 || conf.Topic == "" {
		return nil, errors.New("kafka gateway: brokers and topic are required")
	}
	opts := []kgo.Opt{
		kgo.SeedBrokers(conf.Brokers...),
		kgo.DefaultProduceTopic(conf.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}
	if conf.ClientID != "" {
		opts = append(opts, kgo.ClientID(conf.ClientID))
	}
	if metrics != nil {
		opts = append(opts, kgo.WithHooks(metrics))
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka gateway: %w", err)
	}
	return &KafkaGateway{client: client, topic: conf.Topic}, nil
}

// Transfer implements Gateway. It returns once the brokers acknowledge.
func (g *KafkaGateway) Transfer(ctx context.Context, t Transfer) error {
	rec, err := transferRecord(g.topic, t)
	if err != nil {
		return err
	}
	if err := g.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("produce transfer %s: %w", t.ClientTxID, err)
	}
	return nil
}

// Close flushes and closes the producer.
func (g *KafkaGateway) Close() {
	g.client.Close()
}

func transferRecord(topic string, t Transfer) (*kgo.Record, error) {
	value, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("marshal transfer: %w", err)
	}
	return &kgo.Record{
		Topic: topic,
		Key:   []byte(t.ClientTxID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "content-type", Value: []byte("application/json")},
		},
	}, nil
}
