// Package agent provides a signing agent backed by local private keys, for
// running the registry client without a browser wallet.
package agent

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/KyberNetwork/logger"
	evbus "github.com/asaskevich/EventBus"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/tranvictor/jarvis/util/account"

	"github.com/tranvictor/ipregistry"
)

const (
	topicAccountsChanged = "accountsChanged"
	topicChainChanged    = "chainChanged"
)

var (
	ErrNoAccounts     = errors.New("agent has no accounts")
	ErrRequestRefused = errors.New("user rejected the request")
	ErrUnknownChain   = errors.New("unrecognized chain")
	ErrUnknownAccount = errors.New("account not held by agent")
)

// Dialer opens a ledger connection to an RPC endpoint.
type Dialer func(ctx context.Context, rpcURL string) (ipregistry.Backend, error)

// KeyedAgent holds one or more private keys and one RPC endpoint per chain.
// The first account is the selected one. It emits accountsChanged when the
// selection changes or the agent is locked, and chainChanged on SwitchChain.
type KeyedAgent struct {
	mu       sync.RWMutex
	accounts []*account.Account
	locked   bool
	chainID  uint64
	rpcURLs  map[uint64]string
	backends map[uint64]ipregistry.Backend
	dial     Dialer

	bus     evbus.Bus
	subsMu  sync.Mutex
	nextSub uint64
	subs    map[uint64]struct{}
}

// NewKeyedAgent creates an agent from hex encoded private keys.
//
// Possible errors:
//  1. ErrNoAccounts when privateKeys is empty
//  2. invalid private key
func NewKeyedAgent(privateKeys []string, opts ...Option) (*KeyedAgent, error) {
	if len(privateKeys) == 0 {
		return nil, ErrNoAccounts
	}

	a := &KeyedAgent{
		chainID:  ipregistry.DefaultChainID,
		rpcURLs:  map[uint64]string{},
		backends: map[uint64]ipregistry.Backend{},
		dial:     ipregistry.DialBackend,
		bus:      evbus.New(),
		subs:     map[uint64]struct{}{},
	}
	for _, key := range privateKeys {
		acc, err := account.NewPrivateKeyAccount(strings.TrimPrefix(strings.TrimSpace(key), "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid private key: %w", err)
		}
		a.accounts = append(a.accounts, acc)
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Addresses returns the agent's accounts, selected first.
func (a *KeyedAgent) Addresses() []common.Address {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.addresses()
}

func (a *KeyedAgent) addresses() []common.Address {
	result := make([]common.Address, 0, len(a.accounts))
	for _, acc := range a.accounts {
		result = append(result, acc.Address())
	}
	return result
}

// RequestAccounts grants access to the agent's accounts unless it is locked.
func (a *KeyedAgent) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.locked {
		return nil, ErrRequestRefused
	}
	return a.addresses(), nil
}

// SwitchChain moves the agent to chainIDHex. Only chains with a configured
// RPC endpoint are accepted. Switching to the current chain emits nothing.
func (a *KeyedAgent) SwitchChain(ctx context.Context, chainIDHex string) error {
	chainID, err := hexutil.DecodeUint64(chainIDHex)
	if err != nil {
		return fmt.Errorf("invalid chain id %q: %w", chainIDHex, err)
	}

	a.mu.Lock()
	if _, ok := a.rpcURLs[chainID]; !ok {
		a.mu.Unlock()
		return errors.Join(ErrUnknownChain, fmt.Errorf("no rpc endpoint for chain %d", chainID))
	}
	changed := a.chainID != chainID
	a.chainID = chainID
	a.mu.Unlock()

	if changed {
		logger.WithFields(logger.Fields{
			"chain_id": chainID,
		}).Info("Agent switched chain")
		a.publish(topicChainChanged, hexutil.EncodeUint64(chainID))
	}
	return nil
}

// ChainID returns the current chain as a hex string.
func (a *KeyedAgent) ChainID(ctx context.Context) (string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return hexutil.EncodeUint64(a.chainID), nil
}

// Backend returns the connection for the current chain, dialing it on
// first use.
func (a *KeyedAgent) Backend(ctx context.Context) (ipregistry.Backend, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if backend, ok := a.backends[a.chainID]; ok {
		return backend, nil
	}
	url, ok := a.rpcURLs[a.chainID]
	if !ok {
		return nil, errors.Join(ErrUnknownChain, fmt.Errorf("no rpc endpoint for chain %d", a.chainID))
	}
	backend, err := a.dial(ctx, url)
	if err != nil {
		return nil, err
	}
	a.backends[a.chainID] = backend
	return backend, nil
}

// Signer returns the signer of the selected account.
func (a *KeyedAgent) Signer(ctx context.Context) (ipregistry.Signer, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.locked {
		return nil, ErrRequestRefused
	}
	return &accountSigner{acc: a.accounts[0]}, nil
}

// SelectAccount makes address the selected account and emits accountsChanged.
func (a *KeyedAgent) SelectAccount(address common.Address) error {
	a.mu.Lock()
	idx := -1
	for i, acc := range a.accounts {
		if acc.Address() == address {
			idx = i
			break
		}
	}
	if idx < 0 {
		a.mu.Unlock()
		return errors.Join(ErrUnknownAccount, fmt.Errorf("address %s", address.Hex()))
	}
	selected := a.accounts[idx]
	a.accounts = append([]*account.Account{selected}, append(a.accounts[:idx:idx], a.accounts[idx+1:]...)...)
	accounts := a.addresses()
	locked := a.locked
	a.mu.Unlock()

	if !locked {
		a.publish(topicAccountsChanged, accounts)
	}
	return nil
}

// Lock hides the accounts, as a wallet does when the user locks it.
func (a *KeyedAgent) Lock() {
	a.mu.Lock()
	wasLocked := a.locked
	a.locked = true
	a.mu.Unlock()

	if !wasLocked {
		a.publish(topicAccountsChanged, []common.Address{})
	}
}

func (a *KeyedAgent) Unlock() {
	a.mu.Lock()
	wasLocked := a.locked
	a.locked = false
	accounts := a.addresses()
	a.mu.Unlock()

	if wasLocked {
		a.publish(topicAccountsChanged, accounts)
	}
}

// Subscribe registers handler. Every subscription gets topics of its own so
// Unsubscribe removes exactly this handler.
func (a *KeyedAgent) Subscribe(handler ipregistry.AgentEventHandler) ipregistry.Subscription {
	a.subsMu.Lock()
	a.nextSub++
	id := a.nextSub
	a.subs[id] = struct{}{}
	a.subsMu.Unlock()

	sub := &subscription{
		agent:    a,
		id:       id,
		accounts: handler.AccountsChanged,
		chain:    handler.ChainChanged,
	}
	_ = a.bus.Subscribe(subTopic(topicAccountsChanged, id), sub.accounts)
	_ = a.bus.Subscribe(subTopic(topicChainChanged, id), sub.chain)
	return sub
}

// SubscriberCount returns the number of live subscriptions.
func (a *KeyedAgent) SubscriberCount() int {
	a.subsMu.Lock()
	defer a.subsMu.Unlock()
	return len(a.subs)
}

// Close closes the dialed connections that support it.
func (a *KeyedAgent) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for chainID, backend := range a.backends {
		if closer, ok := backend.(interface{ Close() }); ok {
			closer.Close()
		}
		delete(a.backends, chainID)
	}
}

// publish fans an event out to every live subscription.
func (a *KeyedAgent) publish(topic string, arg any) {
	a.subsMu.Lock()
	ids := make([]uint64, 0, len(a.subs))
	for id := range a.subs {
		ids = append(ids, id)
	}
	a.subsMu.Unlock()

	for _, id := range ids {
		a.bus.Publish(subTopic(topic, id), arg)
	}
}

func subTopic(topic string, id uint64) string {
	return fmt.Sprintf("%s/%d", topic, id)
}

type subscription struct {
	agent    *KeyedAgent
	id       uint64
	once     sync.Once
	accounts func([]common.Address)
	chain    func(string)
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.agent.subsMu.Lock()
		delete(s.agent.subs, s.id)
		s.agent.subsMu.Unlock()
		_ = s.agent.bus.Unsubscribe(subTopic(topicAccountsChanged, s.id), s.accounts)
		_ = s.agent.bus.Unsubscribe(subTopic(topicChainChanged, s.id), s.chain)
	})
}

// accountSigner adapts a jarvis account to ipregistry.Signer.
type accountSigner struct {
	acc *account.Account
}

func (s *accountSigner) Address() common.Address {
	return s.acc.Address()
}

func (s *accountSigner) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	_, signed, err := s.acc.SignTx(tx, chainID)
	if err != nil {
		return nil, fmt.Errorf("couldn't sign tx: %w", err)
	}
	return signed, nil
}

var (
	_ ipregistry.SigningAgent = (*KeyedAgent)(nil)
	_ ipregistry.Signer       = (*accountSigner)(nil)
)
