package redis

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/tranvictor/ipregistry"
)

const (
	txKeyPrefix       = "ipregistry:tx:"           // record by hash
	txUnresolvedKey   = "ipregistry:tx:unresolved" // hashes whose outcome is still unknown
	txAccountKey      = "ipregistry:tx:account:"   // unresolved hashes by wallet:chainID
	txCreatedSortedBy = "ipregistry:tx:created_at" // hashes scored by creation time

	maxWatchRetries = 10
)

// TxStore keeps submitted registry txs in Redis so a restarted client can
// still reconcile them. Records never expire; call DeleteOlderThan to prune.
type TxStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// TxStoreOption configures a TxStore.
type TxStoreOption func(*TxStore)

// WithTxStoreKeyPrefix namespaces every key, e.g. per environment.
func WithTxStoreKeyPrefix(prefix string) TxStoreOption {
	return func(s *TxStore) {
		s.keyPrefix = prefix
	}
}

func NewTxStore(client redis.UniversalClient, opts ...TxStoreOption) *TxStore {
	s := &TxStore{client: client}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *TxStore) key(parts ...string) string {
	key := strings.Join(parts, "")
	if s.keyPrefix != "" {
		return s.keyPrefix + ":" + key
	}
	return key
}

func (s *TxStore) recordKey(hash string) string {
	return s.key(txKeyPrefix, hash)
}

func (s *TxStore) accountKey(wallet common.Address, chainID uint64) string {
	return s.key(txAccountKey, wallet.Hex(), ":", strconv.FormatUint(chainID, 10))
}

// txRecord is the stored JSON form of a PendingTx.
type txRecord struct {
	Hash      string            `json:"hash"`
	Wallet    string            `json:"wallet"`
	ChainID   uint64            `json:"chain_id"`
	Nonce     uint64            `json:"nonce"`
	Section   string            `json:"section"`
	Method    string            `json:"method"`
	Status    string            `json:"status"`
	RawTx     []byte            `json:"raw_tx,omitempty"`
	Receipt   json.RawMessage   `json:"receipt,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt int64             `json:"created_at"`
	UpdatedAt int64             `json:"updated_at"`
}

// watchWithRetry runs fn under WATCH on key, retrying with jittered
// exponential backoff while another client changes the key under it.
func (s *TxStore) watchWithRetry(ctx context.Context, key string, fn func(*redis.Tx) error) error {
	var lastErr error
	for i := 0; i < maxWatchRetries; i++ {
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * time.Millisecond
			jitter := time.Duration(rand.Int63n(int64(backoff/2 + 1)))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff + jitter):
			}
		}

		err := s.client.Watch(ctx, fn, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("gave up after %d attempts: %w", maxWatchRetries, lastErr)
}

// readRecord returns nil, nil when key doesn't exist.
func (s *TxStore) readRecord(ctx context.Context, cmd redis.Cmdable, key string) (*ipregistry.PendingTx, error) {
	data, err := cmd.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read tx record: %w", err)
	}
	return decodeTx(data)
}

// indexStatus keeps the unresolved sets in line with tx.Status.
func (s *TxStore) indexStatus(ctx context.Context, pipe redis.Pipeliner, tx *ipregistry.PendingTx) {
	hash := tx.Hash.Hex()
	accountKey := s.accountKey(tx.Wallet, tx.ChainID)
	if tx.Status.IsUnresolved() {
		pipe.SAdd(ctx, s.key(txUnresolvedKey), hash)
		pipe.SAdd(ctx, accountKey, hash)
		return
	}
	pipe.SRem(ctx, s.key(txUnresolvedKey), hash)
	pipe.SRem(ctx, accountKey, hash)
}

// Save stores tx unless a record with a more final status already exists.
func (s *TxStore) Save(ctx context.Context, tx *ipregistry.PendingTx) error {
	if tx == nil {
		return fmt.Errorf("tx cannot be nil")
	}
	key := s.recordKey(tx.Hash.Hex())

	err := s.watchWithRetry(ctx, key, func(rtx *redis.Tx) error {
		existing, err := s.readRecord(ctx, rtx, key)
		if err != nil && !errors.Is(err, errCorruptRecord) {
			return err
		}
		if existing != nil && existing.Status.IsMoreFinal(tx.Status) {
			return nil
		}

		data, err := encodeTx(tx)
		if err != nil {
			return err
		}
		_, err = rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			s.indexStatus(ctx, pipe, tx)
			pipe.ZAdd(ctx, s.key(txCreatedSortedBy), redis.Z{
				Score:  float64(tx.CreatedAt.Unix()),
				Member: tx.Hash.Hex(),
			})
			return nil
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to save tx %s: %w", tx.Hash.Hex(), err)
	}
	return nil
}

// Get returns nil, nil for an unknown hash.
func (s *TxStore) Get(ctx context.Context, hash common.Hash) (*ipregistry.PendingTx, error) {
	return s.readRecord(ctx, s.client, s.recordKey(hash.Hex()))
}

// ListPending returns the unresolved txs of wallet on chainID, oldest first.
func (s *TxStore) ListPending(ctx context.Context, wallet common.Address, chainID uint64) ([]*ipregistry.PendingTx, error) {
	hashes, err := s.client.SMembers(ctx, s.accountKey(wallet, chainID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list unresolved txs: %w", err)
	}
	return s.loadAll(ctx, hashes)
}

// ListAllPending returns every unresolved tx, oldest first.
func (s *TxStore) ListAllPending(ctx context.Context) ([]*ipregistry.PendingTx, error) {
	hashes, err := s.client.SMembers(ctx, s.key(txUnresolvedKey)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list unresolved txs: %w", err)
	}
	return s.loadAll(ctx, hashes)
}

// UpdateStatus moves a stored tx to status. Unknown hashes and downgrades
// are ignored.
func (s *TxStore) UpdateStatus(ctx context.Context, hash common.Hash, status ipregistry.PendingTxStatus, receipt *types.Receipt) error {
	key := s.recordKey(hash.Hex())

	err := s.watchWithRetry(ctx, key, func(rtx *redis.Tx) error {
		tx, err := s.readRecord(ctx, rtx, key)
		if err != nil || tx == nil {
			return err
		}
		if tx.Status.IsMoreFinal(status) {
			return nil
		}

		tx.Status = status
		tx.Receipt = receipt
		tx.UpdatedAt = time.Now()
		data, err := encodeTx(tx)
		if err != nil {
			return err
		}
		_, err = rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			s.indexStatus(ctx, pipe, tx)
			return nil
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to update tx %s: %w", hash.Hex(), err)
	}
	return nil
}

func (s *TxStore) Delete(ctx context.Context, hash common.Hash) error {
	key := s.recordKey(hash.Hex())

	return s.watchWithRetry(ctx, key, func(rtx *redis.Tx) error {
		tx, err := s.readRecord(ctx, rtx, key)
		if err != nil || tx == nil {
			return err
		}
		_, err = rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			s.queueRemoval(ctx, pipe, tx.Hash.Hex(), tx)
			return nil
		})
		return err
	})
}

func (s *TxStore) queueRemoval(ctx context.Context, pipe redis.Pipeliner, hash string, tx *ipregistry.PendingTx) {
	pipe.Del(ctx, s.recordKey(hash))
	pipe.SRem(ctx, s.key(txUnresolvedKey), hash)
	pipe.ZRem(ctx, s.key(txCreatedSortedBy), hash)
	if tx != nil {
		pipe.SRem(ctx, s.accountKey(tx.Wallet, tx.ChainID), hash)
	}
}

// DeleteOlderThan removes txs created more than age ago, in batches of 500.
// Unresolved txs are kept so they can still be reconciled.
func (s *TxStore) DeleteOlderThan(ctx context.Context, age time.Duration) (int, error) {
	const batchSize = 500
	cutoff := strconv.FormatInt(time.Now().Add(-age).Unix(), 10)
	deleted := 0
	offset := int64(0)

	for {
		hashes, err := s.client.ZRangeByScore(ctx, s.key(txCreatedSortedBy), &redis.ZRangeBy{
			Min:    "-inf",
			Max:    cutoff,
			Offset: offset,
			Count:  batchSize,
		}).Result()
		if err != nil {
			return deleted, fmt.Errorf("failed to scan old txs: %w", err)
		}
		if len(hashes) == 0 {
			return deleted, nil
		}

		records, err := s.mget(ctx, hashes)
		if err != nil {
			return deleted, err
		}

		pipe := s.client.TxPipeline()
		kept := 0
		for i, hash := range hashes {
			tx, decodeErr := decodeRaw(records[i])
			if decodeErr == nil && tx != nil && tx.Status.IsUnresolved() {
				kept++
				continue
			}
			s.queueRemoval(ctx, pipe, hash, tx)
			deleted++
		}
		if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
			return deleted, fmt.Errorf("failed to delete old txs: %w", err)
		}

		if len(hashes) < batchSize {
			return deleted, nil
		}
		// removed members shift the range; only the kept ones need skipping
		offset += int64(kept)
	}
}

func (s *TxStore) mget(ctx context.Context, hashes []string) ([]any, error) {
	keys := make([]string, len(hashes))
	for i, h := range hashes {
		keys[i] = s.recordKey(h)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load tx records: %w", err)
	}
	return values, nil
}

// loadAll skips hashes whose record vanished and reports corrupt records
// alongside whatever could be decoded.
func (s *TxStore) loadAll(ctx context.Context, hashes []string) ([]*ipregistry.PendingTx, error) {
	if len(hashes) == 0 {
		return nil, nil
	}
	values, err := s.mget(ctx, hashes)
	if err != nil {
		return nil, err
	}

	txs := make([]*ipregistry.PendingTx, 0, len(values))
	var failures []string
	for i, value := range values {
		tx, err := decodeRaw(value)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", hashes[i], err))
			continue
		}
		if tx != nil {
			txs = append(txs, tx)
		}
	}
	sort.Slice(txs, func(i, j int) bool { return txs[i].CreatedAt.Before(txs[j].CreatedAt) })

	if len(failures) > 0 {
		return txs, fmt.Errorf("%w: %s", errCorruptRecord, strings.Join(failures, "; "))
	}
	return txs, nil
}

var errCorruptRecord = errors.New("corrupt tx record")

func decodeRaw(value any) (*ipregistry.PendingTx, error) {
	if value == nil {
		return nil, nil
	}
	data, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected type %T", errCorruptRecord, value)
	}
	return decodeTx([]byte(data))
}

func encodeTx(tx *ipregistry.PendingTx) ([]byte, error) {
	record := txRecord{
		Hash:      tx.Hash.Hex(),
		Wallet:    tx.Wallet.Hex(),
		ChainID:   tx.ChainID,
		Nonce:     tx.Nonce,
		Section:   tx.Section,
		Method:    tx.Method,
		Status:    string(tx.Status),
		Metadata:  tx.Metadata,
		CreatedAt: tx.CreatedAt.UnixNano(),
		UpdatedAt: tx.UpdatedAt.UnixNano(),
	}
	if tx.Transaction != nil {
		raw, err := tx.Transaction.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("failed to encode tx: %w", err)
		}
		record.RawTx = raw
	}
	if tx.Receipt != nil {
		receipt, err := tx.Receipt.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("failed to encode receipt: %w", err)
		}
		record.Receipt = receipt
	}
	return json.Marshal(record)
}

func decodeTx(data []byte) (*ipregistry.PendingTx, error) {
	var record txRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, errors.Join(errCorruptRecord, err)
	}

	tx := &ipregistry.PendingTx{
		Hash:      common.HexToHash(record.Hash),
		Wallet:    common.HexToAddress(record.Wallet),
		ChainID:   record.ChainID,
		Nonce:     record.Nonce,
		Section:   record.Section,
		Method:    record.Method,
		Status:    ipregistry.PendingTxStatus(record.Status),
		Metadata:  record.Metadata,
		CreatedAt: time.Unix(0, record.CreatedAt),
		UpdatedAt: time.Unix(0, record.UpdatedAt),
	}
	if len(record.RawTx) > 0 {
		signed := new(types.Transaction)
		if err := signed.UnmarshalBinary(record.RawTx); err != nil {
			return nil, errors.Join(errCorruptRecord, err)
		}
		tx.Transaction = signed
	}
	if len(record.Receipt) > 0 {
		receipt := new(types.Receipt)
		if err := receipt.UnmarshalJSON(record.Receipt); err != nil {
			return nil, errors.Join(errCorruptRecord, err)
		}
		tx.Receipt = receipt
	}
	return tx, nil
}

var _ ipregistry.TxStore = (*TxStore)(nil)
