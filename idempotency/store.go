// Package idempotency tracks operation keys so the same operation is not
// submitted twice while an earlier run is still in flight.
package idempotency

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	ErrDuplicateKey = fmt.Errorf("idempotency key already exists")
	ErrKeyNotFound  = fmt.Errorf("idempotency key not found")
)

// Status is the lifecycle stage of the operation owning a key.
type Status int

const (
	StatusPending Status = iota
	StatusSubmitted
	StatusConfirmed
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSubmitted:
		return "submitted"
	case StatusConfirmed:
		return "confirmed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Record is the state kept for one key.
type Record struct {
	Key         string
	Status      Status
	TxHash      common.Hash
	Transaction *types.Transaction
	Receipt     *types.Receipt
	Error       error
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Store persists records. Create must be atomic: of two concurrent calls
// with the same key exactly one succeeds, the other gets ErrDuplicateKey
// together with the existing record.
type Store interface {
	Get(key string) (*Record, error)
	Create(key string) (*Record, error)
	Update(record *Record) error
	Delete(key string) error
}

// InMemoryStore is a process-local Store. Records older than ttl are treated
// as absent; a ttl of 0 keeps them until deleted.
type InMemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
	ttl     time.Duration
	now     func() time.Time
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore(ttl time.Duration) *InMemoryStore {
	return &InMemoryStore{
		records: map[string]*Record{},
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *InMemoryStore) expired(r *Record) bool {
	return s.ttl > 0 && s.now().Sub(r.CreatedAt) > s.ttl
}

// lookup returns the live record for key. Caller holds s.mu.
func (s *InMemoryStore) lookup(key string) (*Record, bool) {
	r, ok := s.records[key]
	if !ok {
		return nil, false
	}
	if s.expired(r) {
		delete(s.records, key)
		return nil, false
	}
	return r, true
}

func (s *InMemoryStore) Get(key string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.lookup(key)
	if !ok {
		return nil, ErrKeyNotFound
	}
	copied := *r
	return &copied, nil
}

func (s *InMemoryStore) Create(key string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.lookup(key); ok {
		copied := *existing
		return &copied, ErrDuplicateKey
	}

	now := s.now()
	r := &Record{
		Key:       key,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.records[key] = r
	copied := *r
	return &copied, nil
}

func (s *InMemoryStore) Update(record *Record) error {
	if record == nil {
		return fmt.Errorf("record cannot be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lookup(record.Key); !ok {
		return ErrKeyNotFound
	}
	record.UpdatedAt = s.now()
	copied := *record
	s.records[record.Key] = &copied
	return nil
}

func (s *InMemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

var _ Store = (*InMemoryStore)(nil)
