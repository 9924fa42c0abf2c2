package ipregistry

import (
	"time"

	"github.com/tranvictor/ipregistry/idempotency"
)

// ManagerOption is a function that configures a Manager
type ManagerOption func(*Manager)

// WithAllowedChainID sets the only chain the registry is used on
func WithAllowedChainID(chainID uint64) ManagerOption {
	return func(m *Manager) {
		m.defaults.ChainID = chainID
	}
}

// WithConfirmationTimeout bounds the wait for a receipt. 0 waits until the
// caller's context is done.
func WithConfirmationTimeout(timeout time.Duration) ManagerOption {
	return func(m *Manager) {
		m.defaults.ConfirmationTimeout = timeout
	}
}

// WithReceiptPollInterval sets how often the node is asked for a receipt
func WithReceiptPollInterval(interval time.Duration) ManagerOption {
	return func(m *Manager) {
		m.defaults.ReceiptPollInterval = interval
	}
}

// WithExtraGasLimit sets the gas added on top of every estimate
func WithExtraGasLimit(extraGasLimit uint64) ManagerOption {
	return func(m *Manager) {
		m.defaults.ExtraGasLimit = extraGasLimit
	}
}

// WithDropAfter sets how long an unknown tx is kept before reconciliation marks it dropped
func WithDropAfter(age time.Duration) ManagerOption {
	return func(m *Manager) {
		m.defaults.DropAfter = age
	}
}

// WithIdempotencyStore sets the store backing the in-flight guard.
// Share a persistent store to guard across processes.
func WithIdempotencyStore(store idempotency.Store) ManagerOption {
	return func(m *Manager) {
		m.idempotencyStore = store
	}
}

// WithTxStore sets the ledger of submitted txs
func WithTxStore(store TxStore) ManagerOption {
	return func(m *Manager) {
		m.txStore = store
	}
}

// WithStatusSink receives every status update
func WithStatusSink(sink StatusSink) ManagerOption {
	return func(m *Manager) {
		m.sink = sink
	}
}

// WithNetworkResolver sets how chain ids are turned into display names
func WithNetworkResolver(resolver NetworkResolver) ManagerOption {
	return func(m *Manager) {
		m.resolver = resolver
	}
}

// WithErrorDecoder replaces the decoder for custom contract errors, e.g. to
// include errors of contracts the registry calls into
func WithErrorDecoder(decoder *ErrorDecoder) ManagerOption {
	return func(m *Manager) {
		m.errDecoder = decoder
	}
}
