package ipregistry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// PendingTxStatus is the last known state of a submitted registry tx.
type PendingTxStatus string

const (
	PendingTxStatusSubmitted PendingTxStatus = "submitted"
	PendingTxStatusTimedOut  PendingTxStatus = "timed_out"
	PendingTxStatusDropped   PendingTxStatus = "dropped"
	PendingTxStatusReverted  PendingTxStatus = "reverted"
	PendingTxStatusConfirmed PendingTxStatus = "confirmed"
)

// IsUnresolved reports whether the tx outcome is still unknown to the client.
func (s PendingTxStatus) IsUnresolved() bool {
	return s == PendingTxStatusSubmitted || s == PendingTxStatusTimedOut
}

// statusRank orders statuses by finality. A store never replaces a status
// with a lower ranked one.
func (s PendingTxStatus) statusRank() int {
	switch s {
	case PendingTxStatusSubmitted:
		return 1
	case PendingTxStatusTimedOut:
		return 2
	case PendingTxStatusDropped:
		return 3
	case PendingTxStatusReverted, PendingTxStatusConfirmed:
		return 5
	default:
		return 0
	}
}

// IsMoreFinal reports whether s must not be overwritten by next.
func (s PendingTxStatus) IsMoreFinal(next PendingTxStatus) bool {
	return s.statusRank() > next.statusRank()
}

// PendingTx is a mutation tx the client has broadcast, kept so its outcome
// can be reported even when the confirmation wait gave up.
type PendingTx struct {
	Hash        common.Hash
	Wallet      common.Address
	ChainID     uint64
	Nonce       uint64
	Section     string
	Method      string
	Status      PendingTxStatus
	Transaction *types.Transaction
	Receipt     *types.Receipt

	// Metadata holds the fallback fields of the operation, used to build
	// the success message when the tx is reconciled later
	Metadata map[string]string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TxStore persists submitted txs. Implementations must be safe for concurrent use.
type TxStore interface {
	Save(ctx context.Context, tx *PendingTx) error
	// Get returns nil, nil when the hash is unknown
	Get(ctx context.Context, hash common.Hash) (*PendingTx, error)
	ListPending(ctx context.Context, wallet common.Address, chainID uint64) ([]*PendingTx, error)
	ListAllPending(ctx context.Context) ([]*PendingTx, error)
	UpdateStatus(ctx context.Context, hash common.Hash, status PendingTxStatus, receipt *types.Receipt) error
	Delete(ctx context.Context, hash common.Hash) error
	DeleteOlderThan(ctx context.Context, age time.Duration) (int, error)
}

// InMemoryTxStore is the default TxStore; its contents die with the process.
type InMemoryTxStore struct {
	mu  sync.RWMutex
	txs map[common.Hash]*PendingTx
}

func NewInMemoryTxStore() *InMemoryTxStore {
	return &InMemoryTxStore{txs: map[common.Hash]*PendingTx{}}
}

func (s *InMemoryTxStore) Save(ctx context.Context, tx *PendingTx) error {
	if tx == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.txs[tx.Hash]; ok && existing.Status.IsMoreFinal(tx.Status) {
		return nil
	}
	copied := *tx
	s.txs[tx.Hash] = &copied
	return nil
}

func (s *InMemoryTxStore) Get(ctx context.Context, hash common.Hash) (*PendingTx, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.txs[hash]
	if !ok {
		return nil, nil
	}
	copied := *tx
	return &copied, nil
}

func (s *InMemoryTxStore) ListPending(ctx context.Context, wallet common.Address, chainID uint64) ([]*PendingTx, error) {
	return s.filter(func(tx *PendingTx) bool {
		return tx.Status.IsUnresolved() && tx.Wallet == wallet && tx.ChainID == chainID
	}), nil
}

func (s *InMemoryTxStore) ListAllPending(ctx context.Context) ([]*PendingTx, error) {
	return s.filter(func(tx *PendingTx) bool {
		return tx.Status.IsUnresolved()
	}), nil
}

func (s *InMemoryTxStore) UpdateStatus(ctx context.Context, hash common.Hash, status PendingTxStatus, receipt *types.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[hash]
	if !ok || tx.Status.IsMoreFinal(status) {
		return nil
	}
	tx.Status = status
	tx.Receipt = receipt
	tx.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryTxStore) Delete(ctx context.Context, hash common.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.txs, hash)
	return nil
}

func (s *InMemoryTxStore) DeleteOlderThan(ctx context.Context, age time.Duration) (int, error) {
	cutoff := time.Now().Add(-age)
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for hash, tx := range s.txs {
		if tx.CreatedAt.Before(cutoff) {
			delete(s.txs, hash)
			deleted++
		}
	}
	return deleted, nil
}

func (s *InMemoryTxStore) filter(keep func(*PendingTx) bool) []*PendingTx {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*PendingTx
	for _, tx := range s.txs {
		if keep(tx) {
			copied := *tx
			result = append(result, &copied)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result
}

var _ TxStore = (*InMemoryTxStore)(nil)
