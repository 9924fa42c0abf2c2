package ipregistry

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/tranvictor/ipregistry/idempotency"
)

// Manager drives one user's interaction with the registry:
//  1. the session with the signing agent and the bound contract
//  2. the mutation pipeline (register, transfer, update) with a per-operation
//     in-flight guard
//  3. read-only queries (view, history, verify)
//  4. the status of every section, last message wins
//  5. the ledger of submitted txs, so late confirmations can be reconciled
type Manager struct {
	// Lock for defaults access
	defaultsMu sync.RWMutex
	defaults   Defaults

	contractAddress common.Address
	agent           SigningAgent
	session         *Session

	abi        abi.ABI
	guard      *NetworkGuard
	resolver   NetworkResolver
	reporter   *StatusReporter
	sink       StatusSink
	errDecoder *ErrorDecoder
	classifier *ErrorClassifier

	idempotencyStore idempotency.Store
	txStore          TxStore

	pendingMu sync.RWMutex
	pending   map[string]int // section => runs in flight

	// subscription to agent notifications, created on first Connect
	subMu        sync.Mutex
	subscription Subscription
}

// NewManager creates a Manager for the registry deployed at contractAddress.
// agent may be nil; Connect then reports that no signing agent is installed.
func NewManager(contractAddress common.Address, agent SigningAgent, opts ...ManagerOption) (*Manager, error) {
	parsed, err := ParseRegistryABI()
	if err != nil {
		return nil, fmt.Errorf("couldn't parse registry abi: %w", err)
	}

	m := &Manager{
		defaults:        defaultDefaults(),
		contractAddress: contractAddress,
		agent:           agent,
		session:         newSession(),
		abi:             parsed,
		pending:         map[string]int{},
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.resolver == nil {
		m.resolver = DefaultNetworkResolver
	}
	m.guard = NewNetworkGuard(m.defaults.ChainID, m.resolver)
	m.reporter = NewStatusReporter(m.sink)

	if m.errDecoder == nil {
		m.errDecoder, err = NewErrorDecoder(parsed)
		if err != nil {
			return nil, fmt.Errorf("couldn't create error decoder: %w", err)
		}
	}
	m.classifier = NewErrorClassifier(m.errDecoder)

	if m.idempotencyStore == nil {
		m.idempotencyStore = idempotency.NewInMemoryStore(0)
	}
	if m.txStore == nil {
		m.txStore = NewInMemoryTxStore()
	}

	return m, nil
}

// Defaults returns the current configuration
func (m *Manager) Defaults() Defaults {
	m.defaultsMu.RLock()
	defer m.defaultsMu.RUnlock()
	return m.defaults
}

// SetDefaults replaces the configuration. The allowed chain id is fixed at construction.
func (m *Manager) SetDefaults(defaults Defaults) {
	m.defaultsMu.Lock()
	defer m.defaultsMu.Unlock()
	defaults.ChainID = m.defaults.ChainID
	m.defaults = defaults
}

func (m *Manager) ContractAddress() common.Address {
	return m.contractAddress
}

// Session returns a snapshot of the current session.
func (m *Manager) Session() SessionState {
	return m.session.state()
}

// Status returns the latest status of section.
func (m *Manager) Status(section string) (StatusEntry, bool) {
	return m.reporter.Get(section)
}

// Statuses returns the latest status of every section.
func (m *Manager) Statuses() []StatusEntry {
	return m.reporter.All()
}

// NetworkGuard returns the guard validating the agent's chain.
func (m *Manager) NetworkGuard() *NetworkGuard {
	return m.guard
}

// Classify maps err to a user-facing message using the registry's error ABI.
func (m *Manager) Classify(err error) (string, Severity) {
	return m.classifier.Classify(err)
}

func (m *Manager) IdempotencyStore() idempotency.Store {
	return m.idempotencyStore
}

func (m *Manager) TxStore() TxStore {
	return m.txStore
}

// IsPending reports whether a mutation of section is in flight.
func (m *Manager) IsPending(section string) bool {
	m.pendingMu.RLock()
	defer m.pendingMu.RUnlock()
	return m.pending[section] > 0
}

func (m *Manager) markPending(section string) {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	m.pending[section]++
}

func (m *Manager) clearPending(section string) {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	if m.pending[section] <= 1 {
		delete(m.pending, section)
		return
	}
	m.pending[section]--
}

// Close removes the Manager's handler from the signing agent.
func (m *Manager) Close() {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	if m.subscription != nil {
		m.subscription.Unsubscribe()
		m.subscription = nil
	}
}
