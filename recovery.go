package ipregistry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
)

// ReconcileResult counts what ReconcilePending found for each stored tx.
type ReconcileResult struct {
	Confirmed    int
	Reverted     int
	Dropped      int
	StillPending int
	Errors       []error
}

// ReconcilePending re-checks the txs of the connected account that were
// submitted but never resolved, typically because the confirmation wait gave
// up. Confirmed txs get their result extracted and their success message
// reported on the section they were started from.
//
// A tx the node doesn't know is only marked dropped once it is older than
// Defaults().DropAfter; younger ones may still be in flight.
//
// Per-tx failures are collected in the result and don't stop the run.
//
// Possible errors:
//  1. ErrNoSession
//  2. tx store failures while listing
func (m *Manager) ReconcilePending(ctx context.Context) (*ReconcileResult, error) {
	contract := m.session.snapshot().contract
	if contract == nil {
		return nil, ErrNoSession
	}
	defaults := m.Defaults()
	result := &ReconcileResult{}

	pendingTxs, err := m.txStore.ListPending(ctx, contract.Signer().Address(), contract.ChainID().Uint64())
	if err != nil {
		return nil, fmt.Errorf("couldn't list pending txs: %w", err)
	}

	for _, ptx := range pendingTxs {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		receipt, err := contract.Backend().TransactionReceipt(ctx, ptx.Hash)
		if err != nil {
			if !errors.Is(err, ethereum.NotFound) {
				result.Errors = append(result.Errors, fmt.Errorf("receipt of %s: %w", ptx.Hash.Hex(), err))
				continue
			}
			if time.Since(ptx.CreatedAt) < defaults.DropAfter {
				result.StillPending++
				continue
			}
			result.Dropped++
			m.updateReconciled(ctx, ptx, PendingTxStatusDropped, nil, result)
			m.reporter.Set(ptx.Section, fmt.Sprintf("Transaction %s was dropped by the network.", ptx.Hash.Hex()), SeverityWarning)
			continue
		}

		if receipt.Status != types.ReceiptStatusSuccessful {
			result.Reverted++
			m.updateReconciled(ctx, ptx, PendingTxStatusReverted, receipt, result)
			m.reporter.Set(ptx.Section, msgReverted, SeverityError)
			continue
		}

		result.Confirmed++
		m.updateReconciled(ctx, ptx, PendingTxStatusConfirmed, receipt, result)
		extracted := NewResultExtractor(contract.ABI(), contract.Address()).
			ExtractResult(receipt, expectedEvents[ptx.Method], ptx.Metadata)
		m.reporter.Set(ptx.Section, successMessage(ptx.Method, extracted), SeveritySuccess)
	}

	logger.WithFields(logger.Fields{
		"wallet":        contract.Signer().Address().Hex(),
		"confirmed":     result.Confirmed,
		"reverted":      result.Reverted,
		"dropped":       result.Dropped,
		"still_pending": result.StillPending,
		"errors":        len(result.Errors),
	}).Info("Reconciled pending txs")
	return result, nil
}

func (m *Manager) updateReconciled(ctx context.Context, ptx *PendingTx, status PendingTxStatus, receipt *types.Receipt, result *ReconcileResult) {
	if err := m.txStore.UpdateStatus(ctx, ptx.Hash, status, receipt); err != nil {
		result.Errors = append(result.Errors, fmt.Errorf("update %s to %s: %w", ptx.Hash.Hex(), status, err))
		return
	}
	logger.WithFields(logger.Fields{
		"tx_hash": ptx.Hash.Hex(),
		"section": ptx.Section,
		"method":  ptx.Method,
		"status":  status,
	}).Info("Pending tx resolved")
}
