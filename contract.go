package ipregistry

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// RegistryContract is a handle to the registry bound to a validated address,
// a backend and a signer. It is only created by Manager.Connect.
type RegistryContract struct {
	address common.Address
	abi     abi.ABI
	backend Backend
	signer  Signer
	chainID *big.Int
}

func newRegistryContract(address common.Address, parsed abi.ABI, backend Backend, signer Signer, chainID *big.Int) *RegistryContract {
	return &RegistryContract{
		address: address,
		abi:     parsed,
		backend: backend,
		signer:  signer,
		chainID: chainID,
	}
}

func (c *RegistryContract) Address() common.Address {
	return c.address
}

func (c *RegistryContract) ABI() abi.ABI {
	return c.abi
}

func (c *RegistryContract) Backend() Backend {
	return c.backend
}

func (c *RegistryContract) Signer() Signer {
	return c.signer
}

func (c *RegistryContract) ChainID() *big.Int {
	return c.chainID
}

// EstimateGas dry-runs method with args from the signer's account.
func (c *RegistryContract) EstimateGas(ctx context.Context, method string, args ...any) (uint64, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return 0, fmt.Errorf("couldn't pack %s: %w", method, err)
	}
	return c.backend.EstimateGas(ctx, ethereum.CallMsg{
		From: c.signer.Address(),
		To:   &c.address,
		Data: data,
	})
}

// Call executes a read-only method and returns its unpacked outputs.
func (c *RegistryContract) Call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("couldn't pack %s: %w", method, err)
	}
	output, err := c.backend.CallContract(ctx, ethereum.CallMsg{
		From: c.signer.Address(),
		To:   &c.address,
		Data: data,
	}, nil)
	if err != nil {
		return nil, err
	}
	return c.abi.Unpack(method, output)
}

// BuildTx assembles an unsigned call to method. A dynamic fee tx is built
// when the quote supports it, a legacy tx otherwise.
func (c *RegistryContract) BuildTx(ctx context.Context, method string, args []any, gasLimit uint64, fee FeeData) (*types.Transaction, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("couldn't pack %s: %w", method, err)
	}
	nonce, err := c.backend.PendingNonceAt(ctx, c.signer.Address())
	if err != nil {
		return nil, fmt.Errorf("couldn't get nonce of %s: %w", c.signer.Address().Hex(), err)
	}

	to := c.address
	if fee.IsEIP1559() {
		return types.NewTx(&types.DynamicFeeTx{
			ChainID:   c.chainID,
			Nonce:     nonce,
			GasTipCap: fee.MaxPriorityFeePerGas,
			GasFeeCap: fee.MaxFeePerGas,
			Gas:       gasLimit,
			To:        &to,
			Value:     big.NewInt(0),
			Data:      data,
		}), nil
	}
	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: fee.RatePerGas(),
		Gas:      gasLimit,
		To:       &to,
		Value:    big.NewInt(0),
		Data:     data,
	}), nil
}

// SignAndSend signs tx with the session signer and broadcasts it.
func (c *RegistryContract) SignAndSend(ctx context.Context, tx *types.Transaction) (*types.Transaction, error) {
	signedTx, err := c.signer.SignTx(tx, c.chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	if err := c.backend.SendTransaction(ctx, signedTx); err != nil {
		return signedTx, err
	}
	return signedTx, nil
}

// maxReceiptFailures is how many receipt queries in a row may fail before
// WaitMined gives up. A not found receipt is not a failure.
const maxReceiptFailures = 5

// WaitMined polls for the receipt of txHash until it is mined or ctx is done.
//
// Possible errors:
//  1. ctx error when the wait is cancelled or times out
//  2. the last receipt query error after maxReceiptFailures failures in a row
func (c *RegistryContract) WaitMined(ctx context.Context, txHash common.Hash, interval time.Duration) (*types.Receipt, error) {
	if interval <= 0 {
		interval = DefaultReceiptPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	failures := 0
	for {
		receipt, err := c.backend.TransactionReceipt(ctx, txHash)
		switch {
		case err == nil && receipt != nil:
			return receipt, nil
		case err == nil || errors.Is(err, ethereum.NotFound):
			failures = 0
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			failures++
			logger.WithFields(logger.Fields{
				"tx_hash":  txHash.Hex(),
				"failures": failures,
				"error":    err,
			}).Debug("Receipt query failed")
			if failures >= maxReceiptFailures {
				return nil, fmt.Errorf("receipt query failed %d times: %w", failures, err)
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
