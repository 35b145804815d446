package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/offpay/internal/canon"
	"github.com/roach88/offpay/internal/clock"
	"github.com/roach88/offpay/internal/payment"
)

// marshalMetadata converts metadata to canonical JSON TEXT for storage.
func marshalMetadata(m payment.Metadata) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	data, err := canon.MarshalCanonical(map[string]string(m))
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	return string(data), nil
}

func unmarshalMetadata(data string) (payment.Metadata, error) {
	if data == "" || data == "{}" {
		return nil, nil
	}
	var m payment.Metadata
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return m, nil
}

// marshalJSON stores structs (journal snapshots, queue payloads) as JSON TEXT.
// These are never signed, so plain encoding/json is sufficient.
func marshalJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: clock.Millis(*t), Valid: true}
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := clock.FromMillis(v.Int64)
	return &t
}
