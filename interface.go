package ipregistry

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tranvictor/ipregistry/idempotency"
)

// Registry defines the operations of the registry client.
// This interface allows for easy mocking in tests and provides a stable API contract.
type Registry interface {
	// Connection
	Connect(ctx context.Context) error
	Session() SessionState
	NetworkGuard() *NetworkGuard
	Close()

	// Mutations
	RunMutation(ctx context.Context, op OperationDescriptor) TxOutcome
	IsPending(section string) bool
	CanAfford(ctx context.Context, estimatedGas uint64) bool
	ReconcilePending(ctx context.Context) (*ReconcileResult, error)

	// Reads
	ViewIP(ctx context.Context, id string) (*IPRecord, error)
	ViewHistory(ctx context.Context, id string) ([]HistoryEntry, error)
	VerifyOwnership(ctx context.Context, id, claimant string) (bool, error)

	// Status
	Status(section string) (StatusEntry, bool)
	Statuses() []StatusEntry
	Classify(err error) (string, Severity)

	// Stores
	IdempotencyStore() idempotency.Store
	TxStore() TxStore

	// Default Configuration
	Defaults() Defaults
	SetDefaults(defaults Defaults)
	ContractAddress() common.Address
}

// Ensure Manager implements Registry
var _ Registry = (*Manager)(nil)
