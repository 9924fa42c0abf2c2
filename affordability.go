package ipregistry

import (
	"context"
	"fmt"
	"math/big"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum/common"
	jarviscommon "github.com/tranvictor/jarvis/common"
)

// CanAfford reports whether the connected account can pay estimatedGas at the
// current fee rate. It never fails: missing sessions and RPC errors both mean
// the tx can't be afforded.
func (m *Manager) CanAfford(ctx context.Context, estimatedGas uint64) bool {
	state := m.session.snapshot()
	if state.backend == nil || state.signer == nil {
		logger.WithFields(logger.Fields{
			"estimate": estimatedGas,
		}).Warn("Affordability check without a session")
		return false
	}
	ok, err := canAfford(ctx, state.backend, state.signer.Address(), estimatedGas)
	if err != nil {
		logger.WithFields(logger.Fields{
			"estimate": estimatedGas,
			"error":    err,
		}).Warn("Affordability check failed, treating as unaffordable")
		return false
	}
	return ok
}

// canAfford compares the holder's balance with estimatedGas × rate using
// exact integer arithmetic.
func canAfford(ctx context.Context, backend Backend, holder common.Address, estimatedGas uint64) (bool, error) {
	balance, err := backend.BalanceAt(ctx, holder, nil)
	if err != nil {
		return false, fmt.Errorf("couldn't get balance of %s: %w", holder.Hex(), err)
	}
	if balance == nil {
		return false, fmt.Errorf("node returned no balance for %s", holder.Hex())
	}

	rate := FetchFeeData(ctx, backend).RatePerGas()
	cost := new(big.Int).Mul(new(big.Int).SetUint64(estimatedGas), rate)

	logger.WithFields(logger.Fields{
		"holder":           holder.Hex(),
		"estimate":         estimatedGas,
		"fee_per_gas_gwei": jarviscommon.BigToFloat(rate, 9),
		"cost_eth":         jarviscommon.BigToFloat(cost, 18),
		"balance_eth":      jarviscommon.BigToFloat(balance, 18),
	}).Debug("Checked affordability")

	return balance.Cmp(cost) >= 0, nil
}
