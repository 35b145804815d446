package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRejectionKey is the Redis list holding rejected settlements.
const DefaultRejectionKey = "offpay:rejections"

// Rejection is a settlement the ledger refused, kept for operators.
type Rejection struct {
	ClientTxID   string    `json:"client_tx_id,omitempty"`
	Nonce        string    `json:"nonce"`
	PayerAddress string    `json:"payer_address,omitempty"`
	PayeeAddress string    `json:"payee_address,omitempty"`
	Amount       int64     `json:"amount,omitempty"`
	Reason       string    `json:"reason"`
	At           time.Time `json:"at"`
}

// RejectionSink receives rejections. Publishing is best effort.
type RejectionSink interface {
	Publish(ctx context.Context, r Rejection) error
}

// ConnectRedis connects to addr and verifies the connection.
func ConnectRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// RedisSink keeps the most recent rejections in a capped Redis list,
// newest first.
type RedisSink struct {
	client *redis.Client
	key    string
	max    int64
}

// NewRedisSink returns a sink writing to key, keeping at most max entries.
func NewRedisSink(client *redis.Client, key string, max int64) *RedisSink {
	if key == "" {
		key = DefaultRejectionKey
	}
	if max <= 0 {
		max = 10000
	}
	return &RedisSink{client: client, key: key, max: max}
}

// Publish implements RejectionSink.
func (s *RedisSink) Publish(ctx context.Context, r Rejection) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal rejection: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, s.key, data)
	pipe.LTrim(ctx, s.key, 0, s.max-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish rejection: %w", err)
	}
	return nil
}

// Recent returns up to n rejections, newest first.
func (s *RedisSink) Recent(ctx context.Context, n int64) ([]Rejection, error) {
	items, err := s.client.LRange(ctx, s.key, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read rejections: %w", err)
	}
	out := make([]Rejection, 0, len(items))
	for _, item := range items {
		var r Rejection
		if err := json.Unmarshal([]byte(item), &r); err != nil {
			return nil, fmt.Errorf("decode rejection: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}
