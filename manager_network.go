package ipregistry

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum/common"
)

const msgNoAgent = "Please install a signing agent to continue."

// Connect establishes the session with the signing agent and binds the
// registry contract. It ends in one of three states: not connected,
// connected without a contract (wrong network or no code at the address),
// or connected with the contract bound. Every outcome is reported on the
// wallet section; the error is returned for programmatic callers.
//
// Possible errors:
//  1. ErrNoAgent
//  2. ErrWrongNetwork
//  3. ErrNotContract
//  4. agent or node failures, reported as a connection failure
func (m *Manager) Connect(ctx context.Context) error {
	if m.agent == nil {
		m.reporter.Set(SectionWallet, msgNoAgent, SeverityError)
		return ErrNoAgent
	}
	m.subscribe()

	err := m.connect(ctx)
	if err != nil && !errors.Is(err, ErrWrongNetwork) && !errors.Is(err, ErrNotContract) {
		logger.WithFields(logger.Fields{
			"contract": m.contractAddress.Hex(),
			"error":    err,
		}).Error("Wallet connection failed")
		m.reporter.Set(SectionWallet, fmt.Sprintf("Wallet connection failed: %s", err), SeverityError)
	}
	return err
}

func (m *Manager) connect(ctx context.Context) error {
	accounts, err := m.agent.RequestAccounts(ctx)
	if err != nil {
		return fmt.Errorf("account access denied: %w", err)
	}
	if len(accounts) == 0 {
		return fmt.Errorf("no account authorized")
	}
	if err := m.agent.SwitchChain(ctx, m.guard.HexID()); err != nil {
		return fmt.Errorf("couldn't switch to %s: %w", m.guard.Name(), err)
	}

	backend, err := m.agent.Backend(ctx)
	if err != nil {
		return fmt.Errorf("couldn't open provider: %w", err)
	}
	signer, err := m.agent.Signer(ctx)
	if err != nil {
		return fmt.Errorf("couldn't get signer: %w", err)
	}
	chainID, err := m.agent.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("couldn't get chain id: %w", err)
	}

	address := signer.Address()
	generation := m.session.attach(backend, signer, address, chainID)
	logger.WithFields(logger.Fields{
		"address":  address.Hex(),
		"chain_id": chainID,
	}).Info("Wallet attached")

	if !m.guard.IsAllowed(chainID) {
		m.session.unbind("")
		m.reporter.Set(SectionWallet, fmt.Sprintf("Please switch to %s to use the registry.", m.guard.Name()), SeverityError)
		return errors.Join(ErrWrongNetwork, fmt.Errorf("agent is on chain %s, expected %s", chainID, m.guard.HexID()))
	}

	code, err := backend.CodeAt(ctx, m.contractAddress, nil)
	if err != nil {
		// an unreadable address can't be trusted as the registry either
		logger.WithFields(logger.Fields{
			"contract": m.contractAddress.Hex(),
			"error":    err,
		}).Warn("Couldn't get contract code")
	}
	if err != nil || len(code) == 0 {
		m.reporter.Set(
			SectionWallet,
			fmt.Sprintf("Address %s is NOT a contract on %s.", m.contractAddress.Hex(), m.guard.Name()),
			SeverityError,
		)
		return errors.Join(ErrNotContract, fmt.Errorf("no code at %s", m.contractAddress.Hex()))
	}

	contract := newRegistryContract(m.contractAddress, m.abi, backend, signer, new(big.Int).SetUint64(m.guard.ChainID()))
	if !m.session.bind(generation, contract) {
		return fmt.Errorf("session changed while connecting, reconnect to load contract")
	}

	logger.WithFields(logger.Fields{
		"address":  address.Hex(),
		"contract": m.contractAddress.Hex(),
		"network":  m.guard.Name(),
	}).Info("Contract loaded")
	m.reporter.Set(SectionWallet, fmt.Sprintf("Connected as %s", address.Hex()), SeveritySuccess)
	return nil
}

// subscribe registers the Manager's handler with the agent once.
func (m *Manager) subscribe() {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	if m.subscription != nil {
		return
	}
	m.subscription = m.agent.Subscribe(&agentEventHandler{m: m})
}

// agentEventHandler forwards agent notifications to its Manager. The same
// pointer is registered and later unsubscribed.
type agentEventHandler struct {
	m *Manager
}

func (h *agentEventHandler) AccountsChanged(accounts []common.Address) {
	h.m.handleAccountsChanged(accounts)
}

func (h *agentEventHandler) ChainChanged(chainID string) {
	h.m.handleChainChanged(chainID)
}

func (m *Manager) handleAccountsChanged(accounts []common.Address) {
	if len(accounts) == 0 {
		m.session.clear()
		logger.WithFields(logger.Fields{
			"contract": m.contractAddress.Hex(),
		}).Info("Wallet disconnected")
		return
	}

	selected := accounts[0]
	state := m.session.snapshot()
	m.session.setAddress(selected)

	// the bound contract signs as the old account
	if state.signer != nil && state.signer.Address() != selected {
		m.session.unbind("")
		m.reporter.Set(SectionWallet, fmt.Sprintf("Account changed: %s. Reconnect to load contract.", selected.Hex()), SeverityWarning)
	}
	logger.WithFields(logger.Fields{
		"address": selected.Hex(),
	}).Info("Account changed")
}

func (m *Manager) handleChainChanged(chainID string) {
	m.session.unbind(chainID)
	logger.WithFields(logger.Fields{
		"chain_id": chainID,
	}).Info("Chain changed, contract unloaded")
	m.reporter.Set(SectionWallet, fmt.Sprintf("Chain changed: %s. Reconnect to load contract.", chainID), SeverityWarning)
}
