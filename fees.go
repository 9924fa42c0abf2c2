package ipregistry

import (
	"context"
	"math/big"

	"github.com/KyberNetwork/logger"
	jarviscommon "github.com/tranvictor/jarvis/common"
)

// FeeData is the node's current fee quote. Any field may be nil when the
// node could not provide it.
type FeeData struct {
	GasPrice             *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

// IsEIP1559 reports whether the quote can price a dynamic fee tx.
func (f FeeData) IsEIP1559() bool {
	return f.MaxFeePerGas != nil && f.MaxPriorityFeePerGas != nil
}

// RatePerGas returns the per-gas price used to cost a tx: max fee per gas,
// else gas price, else DefaultFeePerGas.
func (f FeeData) RatePerGas() *big.Int {
	switch {
	case f.MaxFeePerGas != nil:
		return new(big.Int).Set(f.MaxFeePerGas)
	case f.GasPrice != nil:
		return new(big.Int).Set(f.GasPrice)
	default:
		return new(big.Int).Set(DefaultFeePerGas)
	}
}

// FetchFeeData queries the gas price, the latest base fee and the suggested
// tip independently. A failing query leaves its part of the quote empty.
func FetchFeeData(ctx context.Context, backend Backend) FeeData {
	var data FeeData

	gasPrice, err := backend.SuggestGasPrice(ctx)
	if err != nil {
		logger.WithFields(logger.Fields{
			"error": err,
		}).Debug("Couldn't get gas price. Ignore and continue")
	} else {
		data.GasPrice = gasPrice
	}

	header, err := backend.HeaderByNumber(ctx, nil)
	if err != nil || header == nil || header.BaseFee == nil {
		// legacy chain or unavailable header, no dynamic fee quote
		return data
	}

	tip, err := backend.SuggestGasTipCap(ctx)
	if err != nil || tip == nil || tip.Sign() == 0 {
		tip = gweiToWei(DefaultTipCapGwei)
	}

	maxFee := new(big.Int).Mul(header.BaseFee, big.NewInt(2))
	maxFee.Add(maxFee, tip)

	data.MaxFeePerGas = maxFee
	data.MaxPriorityFeePerGas = tip

	logger.WithFields(logger.Fields{
		"base_fee_gwei":     jarviscommon.BigToFloat(header.BaseFee, 9),
		"max_fee_gwei":      jarviscommon.BigToFloat(maxFee, 9),
		"priority_fee_gwei": jarviscommon.BigToFloat(tip, 9),
	}).Debug("Fetched fee data")

	return data
}
