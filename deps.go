// deps.go defines minimal interfaces for the external collaborators of the registry client.
// The signing agent, the ledger node and the signer are injected, which keeps the
// connection and transaction state machines testable without a live chain.
package ipregistry

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Backend defines the ledger RPC calls the client needs.
// *ethclient.Client satisfies it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)

	// BalanceAt returns the wei balance of the account at the given block (nil = latest)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)

	// CodeAt returns the contract code at the given address (empty for plain accounts)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)

	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)

	// EstimateGas dry-runs a call and returns the gas it would use. Reverting calls fail here.
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)

	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error

	// TransactionReceipt returns ethereum.NotFound while the tx is not mined
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Signer signs transactions on behalf of the connected account.
type Signer interface {
	Address() common.Address
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// AgentEventHandler receives the notifications a signing agent emits.
type AgentEventHandler interface {
	AccountsChanged(accounts []common.Address)
	ChainChanged(chainID string)
}

// Subscription is an active registration of one AgentEventHandler.
// Unsubscribe removes exactly that handler and is safe to call more than once.
type Subscription interface {
	Unsubscribe()
}

// SigningAgent is the user-controlled wallet the client connects through.
type SigningAgent interface {
	// RequestAccounts asks the user for account access
	RequestAccounts(ctx context.Context) ([]common.Address, error)

	// SwitchChain asks the agent to move to the chain with the given hex id
	SwitchChain(ctx context.Context, chainIDHex string) error

	// ChainID returns the agent's current chain id, hex or decimal encoded
	ChainID(ctx context.Context) (string, error)

	// Backend opens the ledger connection for the agent's current chain
	Backend(ctx context.Context) (Backend, error)

	// Signer returns the signer for the selected account
	Signer(ctx context.Context) (Signer, error)

	Subscribe(handler AgentEventHandler) Subscription
}

// NetworkResolver turns a chain id into a human-readable network name.
type NetworkResolver func(chainID uint64) (string, error)
