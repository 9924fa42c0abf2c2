package ipregistry

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

// ============================================================
// Mock Implementations
// ============================================================

// mockBackend implements Backend for testing
type mockBackend struct {
	mu sync.Mutex

	// Function hooks - set these to customize behavior
	ChainIDFn            func(ctx context.Context) (*big.Int, error)
	BalanceAtFn          func(ctx context.Context, account common.Address, block *big.Int) (*big.Int, error)
	CodeAtFn             func(ctx context.Context, account common.Address, block *big.Int) ([]byte, error)
	SuggestGasPriceFn    func(ctx context.Context) (*big.Int, error)
	SuggestGasTipCapFn   func(ctx context.Context) (*big.Int, error)
	HeaderByNumberFn     func(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGasFn        func(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	CallContractFn       func(ctx context.Context, call ethereum.CallMsg, block *big.Int) ([]byte, error)
	PendingNonceAtFn     func(ctx context.Context, account common.Address) (uint64, error)
	SendTransactionFn    func(ctx context.Context, tx *types.Transaction) error
	TransactionReceiptFn func(ctx context.Context, hash common.Hash) (*types.Receipt, error)

	// Call tracking for assertions
	BalanceAtCalls          []common.Address
	EstimateGasCalls        []ethereum.CallMsg
	CallContractCalls       []ethereum.CallMsg
	SendTransactionCalls    []*types.Transaction
	TransactionReceiptCalls []common.Hash
}

func (m *mockBackend) ChainID(ctx context.Context) (*big.Int, error) {
	if m.ChainIDFn != nil {
		return m.ChainIDFn(ctx)
	}
	return new(big.Int).SetUint64(DefaultChainID), nil
}

func (m *mockBackend) BalanceAt(ctx context.Context, account common.Address, block *big.Int) (*big.Int, error) {
	m.mu.Lock()
	m.BalanceAtCalls = append(m.BalanceAtCalls, account)
	m.mu.Unlock()
	if m.BalanceAtFn != nil {
		return m.BalanceAtFn(ctx, account, block)
	}
	return new(big.Int).Set(oneEth), nil
}

func (m *mockBackend) CodeAt(ctx context.Context, account common.Address, block *big.Int) ([]byte, error) {
	if m.CodeAtFn != nil {
		return m.CodeAtFn(ctx, account, block)
	}
	return []byte{0x60, 0x80, 0x60, 0x40}, nil
}

func (m *mockBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if m.SuggestGasPriceFn != nil {
		return m.SuggestGasPriceFn(ctx)
	}
	return new(big.Int).Set(twentyGwei), nil
}

func (m *mockBackend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	if m.SuggestGasTipCapFn != nil {
		return m.SuggestGasTipCapFn(ctx)
	}
	return new(big.Int).Set(twoGwei), nil
}

func (m *mockBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	if m.HeaderByNumberFn != nil {
		return m.HeaderByNumberFn(ctx, number)
	}
	return &types.Header{Number: big.NewInt(100), BaseFee: big.NewInt(10_000_000_000)}, nil
}

func (m *mockBackend) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	m.mu.Lock()
	m.EstimateGasCalls = append(m.EstimateGasCalls, call)
	m.mu.Unlock()
	if m.EstimateGasFn != nil {
		return m.EstimateGasFn(ctx, call)
	}
	return 100000, nil
}

func (m *mockBackend) CallContract(ctx context.Context, call ethereum.CallMsg, block *big.Int) ([]byte, error) {
	m.mu.Lock()
	m.CallContractCalls = append(m.CallContractCalls, call)
	m.mu.Unlock()
	if m.CallContractFn != nil {
		return m.CallContractFn(ctx, call, block)
	}
	return nil, nil
}

func (m *mockBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	if m.PendingNonceAtFn != nil {
		return m.PendingNonceAtFn(ctx, account)
	}
	return 7, nil
}

func (m *mockBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	m.mu.Lock()
	m.SendTransactionCalls = append(m.SendTransactionCalls, tx)
	m.mu.Unlock()
	if m.SendTransactionFn != nil {
		return m.SendTransactionFn(ctx, tx)
	}
	return nil
}

// TransactionReceipt returns a successful receipt without logs by default.
func (m *mockBackend) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	m.mu.Lock()
	m.TransactionReceiptCalls = append(m.TransactionReceiptCalls, hash)
	m.mu.Unlock()
	if m.TransactionReceiptFn != nil {
		return m.TransactionReceiptFn(ctx, hash)
	}
	return newTestReceipt(hash, types.ReceiptStatusSuccessful), nil
}

func (m *mockBackend) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.SendTransactionCalls)
}

func (m *mockBackend) estimateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.EstimateGasCalls)
}

func (m *mockBackend) balanceCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.BalanceAtCalls)
}

// mockSigner signs with an in-memory key
type mockSigner struct {
	key *ecdsa.PrivateKey

	SignTxFn func(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

func newMockSigner(key *ecdsa.PrivateKey) *mockSigner {
	return &mockSigner{key: key}
}

func (s *mockSigner) Address() common.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

func (s *mockSigner) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	if s.SignTxFn != nil {
		return s.SignTxFn(tx, chainID)
	}
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
}

// mockAgent implements SigningAgent for testing
type mockAgent struct {
	mu sync.Mutex

	accounts []common.Address
	chainID  string
	backend  Backend
	signer   Signer

	// Function hooks - set these to customize behavior
	RequestAccountsFn func(ctx context.Context) ([]common.Address, error)
	SwitchChainFn     func(ctx context.Context, chainIDHex string) error
	BackendFn         func(ctx context.Context) (Backend, error)

	// Call tracking for assertions
	SwitchChainCalls []string

	handlers []AgentEventHandler
}

func newMockAgent(backend Backend, signer Signer) *mockAgent {
	return &mockAgent{
		accounts: []common.Address{signer.Address()},
		chainID:  "0xaa36a7",
		backend:  backend,
		signer:   signer,
	}
}

func (a *mockAgent) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	if a.RequestAccountsFn != nil {
		return a.RequestAccountsFn(ctx)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]common.Address(nil), a.accounts...), nil
}

func (a *mockAgent) SwitchChain(ctx context.Context, chainIDHex string) error {
	a.mu.Lock()
	a.SwitchChainCalls = append(a.SwitchChainCalls, chainIDHex)
	a.mu.Unlock()
	if a.SwitchChainFn != nil {
		return a.SwitchChainFn(ctx, chainIDHex)
	}
	return nil
}

func (a *mockAgent) ChainID(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.chainID, nil
}

func (a *mockAgent) Backend(ctx context.Context) (Backend, error) {
	if a.BackendFn != nil {
		return a.BackendFn(ctx)
	}
	return a.backend, nil
}

func (a *mockAgent) Signer(ctx context.Context) (Signer, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.signer, nil
}

func (a *mockAgent) Subscribe(handler AgentEventHandler) Subscription {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers = append(a.handlers, handler)
	return &mockSubscription{agent: a, handler: handler}
}

func (a *mockAgent) setChainID(chainID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.chainID = chainID
}

func (a *mockAgent) handlerCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.handlers)
}

func (a *mockAgent) emitAccountsChanged(accounts ...common.Address) {
	a.mu.Lock()
	handlers := append([]AgentEventHandler(nil), a.handlers...)
	a.mu.Unlock()
	for _, h := range handlers {
		h.AccountsChanged(accounts)
	}
}

func (a *mockAgent) emitChainChanged(chainID string) {
	a.mu.Lock()
	handlers := append([]AgentEventHandler(nil), a.handlers...)
	a.mu.Unlock()
	for _, h := range handlers {
		h.ChainChanged(chainID)
	}
}

type mockSubscription struct {
	agent   *mockAgent
	handler AgentEventHandler
}

func (s *mockSubscription) Unsubscribe() {
	s.agent.mu.Lock()
	defer s.agent.mu.Unlock()
	for i, h := range s.agent.handlers {
		if h == s.handler {
			s.agent.handlers = append(s.agent.handlers[:i], s.agent.handlers[i+1:]...)
			return
		}
	}
}

// ============================================================
// Test Fixtures
// ============================================================

var (
	testRegistryAddr = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	testAddr1        = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testAddr2        = common.HexToAddress("0x2222222222222222222222222222222222222222")

	testPrivateKey1, _ = crypto.HexToECDSA("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")
	testPrivateKey2, _ = crypto.HexToECDSA("fedcba9876543210fedcba9876543210fedcba9876543210fedcba9876543210")

	oneEth     = big.NewInt(1000000000000000000)
	twentyGwei = big.NewInt(20000000000)
	twoGwei    = big.NewInt(2000000000)
)

func newTestReceipt(hash common.Hash, status uint64, logs ...*types.Log) *types.Receipt {
	return &types.Receipt{
		Status:      status,
		TxHash:      hash,
		BlockNumber: big.NewInt(12345678),
		BlockHash:   common.HexToHash("0xabcdef1234567890abcdef1234567890abcdef1234567890abcdef1234567890"),
		GasUsed:     90000,
		Logs:        logs,
	}
}

func mustRegistryABI(t *testing.T) abi.ABI {
	t.Helper()
	parsed, err := ParseRegistryABI()
	require.NoError(t, err)
	return parsed
}

// registeredLog builds the IPRegistered log the registry emits for id.
func registeredLog(t *testing.T, emitter common.Address, id int64, owner common.Address) *types.Log {
	t.Helper()
	event := mustRegistryABI(t).Events[EventIPRegistered]
	data, err := event.Inputs.NonIndexed().Pack(uint8(IPTypeCopyright), "My Work")
	require.NoError(t, err)
	return &types.Log{
		Address: emitter,
		Topics: []common.Hash{
			event.ID,
			common.BigToHash(big.NewInt(id)),
			common.BytesToHash(owner.Bytes()),
		},
		Data: data,
	}
}

// transferredLog builds the OwnershipTransferred log for id.
func transferredLog(t *testing.T, emitter common.Address, id int64, from, to common.Address) *types.Log {
	t.Helper()
	event := mustRegistryABI(t).Events[EventOwnershipTransferred]
	return &types.Log{
		Address: emitter,
		Topics: []common.Hash{
			event.ID,
			common.BigToHash(big.NewInt(id)),
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
	}
}

// ============================================================
// Test Helpers
// ============================================================

// testSetup contains all the mocks needed for a typical test
type testSetup struct {
	Manager *Manager
	Backend *mockBackend
	Agent   *mockAgent
	Signer  *mockSigner
}

func testResolver(chainID uint64) (string, error) {
	return "Sepolia", nil
}

// newTestSetup creates a Manager over default mocks without connecting it
func newTestSetup(t *testing.T, opts ...ManagerOption) *testSetup {
	t.Helper()

	backend := &mockBackend{}
	signer := newMockSigner(testPrivateKey1)
	agent := newMockAgent(backend, signer)

	allOpts := append([]ManagerOption{
		WithNetworkResolver(testResolver),
		WithReceiptPollInterval(5 * time.Millisecond),
	}, opts...)
	m, err := NewManager(testRegistryAddr, agent, allOpts...)
	require.NoError(t, err)
	t.Cleanup(m.Close)

	return &testSetup{
		Manager: m,
		Backend: backend,
		Agent:   agent,
		Signer:  signer,
	}
}

// newConnectedSetup creates a Manager with the contract bound
func newConnectedSetup(t *testing.T, opts ...ManagerOption) *testSetup {
	t.Helper()
	setup := newTestSetup(t, opts...)
	require.NoError(t, setup.Manager.Connect(context.Background()))
	require.True(t, setup.Manager.Session().ContractLoaded)
	return setup
}

func requireStatus(t *testing.T, m *Manager, section, msg string, severity Severity) {
	t.Helper()
	entry, ok := m.Status(section)
	require.True(t, ok, "no status for section %s", section)
	require.Equal(t, msg, entry.Message)
	require.Equal(t, severity, entry.Severity)
}
