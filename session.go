package ipregistry

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Session is the live connection of a Manager: the ledger backend, the signer
// of the selected account and the bound contract, if any.
// Only the connection manager mutates it.
type Session struct {
	mu sync.RWMutex

	backend   Backend
	signer    Signer
	contract  *RegistryContract
	address   common.Address
	connected bool
	chainID   string

	// generation changes whenever the bound contract is invalidated
	generation uint64
}

// SessionState is a point-in-time copy of a Session for callers outside the package.
type SessionState struct {
	Address        common.Address
	Connected      bool
	ChainID        string
	ContractLoaded bool
}

// sessionState carries the handles borrowed by a single operation.
type sessionState struct {
	backend   Backend
	signer    Signer
	contract  *RegistryContract
	address   common.Address
	connected bool
	chainID   string
}

func newSession() *Session {
	return &Session{}
}

func (s *Session) snapshot() sessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sessionState{
		backend:   s.backend,
		signer:    s.signer,
		contract:  s.contract,
		address:   s.address,
		connected: s.connected,
		chainID:   s.chainID,
	}
}

func (s *Session) state() SessionState {
	snap := s.snapshot()
	return SessionState{
		Address:        snap.address,
		Connected:      snap.connected,
		ChainID:        snap.chainID,
		ContractLoaded: snap.contract != nil,
	}
}

// attach records an account as connected, dropping any previously bound
// contract. It returns the generation a later bind must match.
func (s *Session) attach(backend Backend, signer Signer, address common.Address, chainID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backend = backend
	s.signer = signer
	s.address = address
	s.connected = true
	s.chainID = chainID
	s.contract = nil
	s.generation++
	return s.generation
}

// bind stores contract unless the session was invalidated since attach
// returned generation.
func (s *Session) bind(generation uint64, contract *RegistryContract) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != generation {
		return false
	}
	s.contract = contract
	return true
}

// unbind drops the contract handle and keeps the account attached.
func (s *Session) unbind(chainID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contract = nil
	s.generation++
	if chainID != "" {
		s.chainID = chainID
	}
}

func (s *Session) setAddress(address common.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.address = address
	s.connected = true
}

// clear returns the session to not connected.
func (s *Session) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.address = common.Address{}
	s.connected = false
	s.contract = nil
	s.generation++
}
