package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/tranvictor/ipregistry/idempotency"
)

const (
	inFlightKeyPrefix = "ipregistry:inflight:"

	// DefaultInFlightTTL bounds how long a key claimed by a crashed client
	// keeps blocking its section.
	DefaultInFlightTTL = 10 * time.Minute
)

// IdempotencyStore shares the in-flight guard between clients through Redis.
// Claims are made with SETNX, so two clients running the same section for
// the same account can't both proceed.
type IdempotencyStore struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
	timeout   time.Duration
}

// IdempotencyStoreOption configures an IdempotencyStore.
type IdempotencyStoreOption func(*IdempotencyStore)

// WithIdempotencyStoreKeyPrefix namespaces every key.
func WithIdempotencyStoreKeyPrefix(prefix string) IdempotencyStoreOption {
	return func(s *IdempotencyStore) {
		s.keyPrefix = prefix
	}
}

// WithIdempotencyStoreTTL overrides DefaultInFlightTTL. 0 disables expiry.
func WithIdempotencyStoreTTL(ttl time.Duration) IdempotencyStoreOption {
	return func(s *IdempotencyStore) {
		s.ttl = ttl
	}
}

// WithIdempotencyStoreTimeout bounds every Redis round trip; the store
// interface carries no context.
func WithIdempotencyStoreTimeout(timeout time.Duration) IdempotencyStoreOption {
	return func(s *IdempotencyStore) {
		s.timeout = timeout
	}
}

func NewIdempotencyStore(client redis.UniversalClient, opts ...IdempotencyStoreOption) *IdempotencyStore {
	s := &IdempotencyStore{
		client:  client,
		ttl:     DefaultInFlightTTL,
		timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *IdempotencyStore) recordKey(key string) string {
	if s.keyPrefix != "" {
		return s.keyPrefix + ":" + inFlightKeyPrefix + key
	}
	return inFlightKeyPrefix + key
}

func (s *IdempotencyStore) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

type inFlightRecord struct {
	Key       string `json:"key"`
	Status    string `json:"status"`
	TxHash    string `json:"tx_hash,omitempty"`
	RawTx     []byte `json:"raw_tx,omitempty"`
	Error     string `json:"error,omitempty"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

func (s *IdempotencyStore) Get(key string) (*idempotency.Record, error) {
	ctx, cancel := s.context()
	defer cancel()
	return s.get(ctx, key)
}

func (s *IdempotencyStore) get(ctx context.Context, key string) (*idempotency.Record, error) {
	data, err := s.client.Get(ctx, s.recordKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, idempotency.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read in-flight record: %w", err)
	}
	return decodeRecord(data)
}

// Create claims key. When another client holds it the existing record is
// returned together with idempotency.ErrDuplicateKey.
func (s *IdempotencyStore) Create(key string) (*idempotency.Record, error) {
	ctx, cancel := s.context()
	defer cancel()

	now := time.Now()
	record := &idempotency.Record{
		Key:       key,
		Status:    idempotency.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	data, err := encodeRecord(record)
	if err != nil {
		return nil, err
	}

	// one retry covers a holder releasing the key between SETNX and GET
	for attempt := 0; attempt < 2; attempt++ {
		created, err := s.client.SetNX(ctx, s.recordKey(key), data, s.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to claim %s: %w", key, err)
		}
		if created {
			return record, nil
		}

		existing, err := s.get(ctx, key)
		if errors.Is(err, idempotency.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return existing, idempotency.ErrDuplicateKey
	}
	return nil, fmt.Errorf("failed to claim %s: key churned during claim", key)
}

// Update overwrites a live record and keeps its remaining TTL.
func (s *IdempotencyStore) Update(record *idempotency.Record) error {
	if record == nil {
		return fmt.Errorf("record cannot be nil")
	}
	ctx, cancel := s.context()
	defer cancel()

	record.UpdatedAt = time.Now()
	data, err := encodeRecord(record)
	if err != nil {
		return err
	}

	err = s.client.SetArgs(ctx, s.recordKey(record.Key), data, redis.SetArgs{
		Mode:    "XX",
		KeepTTL: true,
	}).Err()
	if errors.Is(err, redis.Nil) {
		return idempotency.ErrKeyNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", record.Key, err)
	}
	return nil
}

// Delete releases key. Deleting a missing key is not an error.
func (s *IdempotencyStore) Delete(key string) error {
	ctx, cancel := s.context()
	defer cancel()
	if err := s.client.Del(ctx, s.recordKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to release %s: %w", key, err)
	}
	return nil
}

func encodeRecord(record *idempotency.Record) ([]byte, error) {
	stored := inFlightRecord{
		Key:       record.Key,
		Status:    record.Status.String(),
		CreatedAt: record.CreatedAt.UnixNano(),
		UpdatedAt: record.UpdatedAt.UnixNano(),
	}
	if record.TxHash != (common.Hash{}) {
		stored.TxHash = record.TxHash.Hex()
	}
	if record.Transaction != nil {
		raw, err := record.Transaction.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("failed to encode tx: %w", err)
		}
		stored.RawTx = raw
	}
	if record.Error != nil {
		stored.Error = record.Error.Error()
	}
	return json.Marshal(stored)
}

func decodeRecord(data []byte) (*idempotency.Record, error) {
	var stored inFlightRecord
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to decode in-flight record: %w", err)
	}

	record := &idempotency.Record{
		Key:       stored.Key,
		Status:    parseStatus(stored.Status),
		CreatedAt: time.Unix(0, stored.CreatedAt),
		UpdatedAt: time.Unix(0, stored.UpdatedAt),
	}
	if stored.TxHash != "" {
		record.TxHash = common.HexToHash(stored.TxHash)
	}
	if len(stored.RawTx) > 0 {
		tx := new(types.Transaction)
		if err := tx.UnmarshalBinary(stored.RawTx); err != nil {
			return nil, fmt.Errorf("failed to decode tx: %w", err)
		}
		record.Transaction = tx
	}
	if stored.Error != "" {
		record.Error = errors.New(stored.Error)
	}
	return record, nil
}

func parseStatus(s string) idempotency.Status {
	for _, status := range []idempotency.Status{
		idempotency.StatusPending,
		idempotency.StatusSubmitted,
		idempotency.StatusConfirmed,
		idempotency.StatusFailed,
	} {
		if status.String() == s {
			return status
		}
	}
	return idempotency.StatusPending
}

var _ idempotency.Store = (*IdempotencyStore)(nil)
