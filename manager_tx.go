package ipregistry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum/core/types"
	jarviscommon "github.com/tranvictor/jarvis/common"

	"github.com/tranvictor/ipregistry/idempotency"
)

const (
	msgContractNotLoaded   = "Contract not loaded. Connect wallet and ensure you are on the right network."
	msgPreparing           = "Preparing transaction..."
	msgInsufficientFunds   = "Insufficient funds to cover gas."
	msgWaitingConfirmation = "Transaction sent, waiting for confirmation..."
	msgReverted            = "Transaction reverted on-chain."
)

// RunMutation takes op through validate, estimate, affordability check,
// submit, confirm and result extraction. It never panics and never returns an
// error: every failure ends as a TxOutcome whose message was also reported on
// op.Section. Nothing is retried; the caller re-triggers the operation.
//
// A second run of the same section by the same account is rejected with
// KindDuplicate while the first is in flight. Runs of other sections are not
// affected.
//
// When the receipt doesn't arrive within the confirmation timeout the outcome
// is KindPending: the tx may still confirm and can be picked up later with
// ReconcilePending. Repeated receipt query errors end the wait with
// KindConfirmation, and the tx is left for ReconcilePending as well.
func (m *Manager) RunMutation(ctx context.Context, op OperationDescriptor) TxOutcome {
	defaults := m.Defaults()

	execCtx, err := NewMutationContext(op, m.session.snapshot().contract, defaults.ExtraGasLimit)
	if err != nil {
		return m.report(op.Section, m.preconditionOutcome(err))
	}

	release, err := m.claimOperation(execCtx)
	if err != nil {
		if errors.Is(err, ErrDuplicateOperation) {
			return m.report(op.Section, TxOutcome{
				ErrorKind: KindDuplicate,
				Err:       err,
				Message:   fmt.Sprintf("A %s transaction is already in progress.", op.Section),
				Severity:  SeverityWarning,
			})
		}
		return m.report(op.Section, m.failure(KindSubmission, err, err))
	}
	defer release()

	m.markPending(op.Section)
	defer m.clearPending(op.Section)
	m.reporter.Set(op.Section, msgPreparing, SeverityNeutral)

	outcome := m.executeMutation(ctx, execCtx, defaults)
	m.finishClaim(execCtx, outcome)
	return m.report(op.Section, outcome)
}

func (m *Manager) executeMutation(ctx context.Context, execCtx *MutationContext, defaults Defaults) TxOutcome {
	op := execCtx.Operation
	contract := execCtx.Contract

	// Estimate. A call that would revert fails here and nothing is sent.
	estimate, err := contract.EstimateGas(ctx, op.Method, execCtx.Args...)
	if err != nil {
		logger.WithFields(execCtx.logFields(logger.Fields{
			"error": err,
		})).Debug("Gas estimation failed")
		return m.failure(KindEstimation, errors.Join(ErrEstimateGasFailed, fmt.Errorf("couldn't estimate gas for %s: %w", op.Method, err)), err)
	}
	execCtx.Estimate = estimate

	// Affordability, priced against the snapshotted contract's node and account
	affordable, err := canAfford(ctx, contract.Backend(), contract.Signer().Address(), execCtx.GasLimit())
	if err != nil {
		logger.WithFields(execCtx.logFields(logger.Fields{
			"error": err,
		})).Warn("Affordability check failed, treating as unaffordable")
	}
	if !affordable {
		return TxOutcome{
			ErrorKind: KindAffordability,
			Err:       errors.Join(ErrInsufficientFunds, fmt.Errorf("balance can't cover %d gas", execCtx.GasLimit())),
			Message:   msgInsufficientFunds,
			Severity:  SeverityError,
		}
	}

	// Submit
	execCtx.Fee = FetchFeeData(ctx, contract.Backend())
	tx, err := contract.BuildTx(ctx, op.Method, execCtx.Args, execCtx.GasLimit(), execCtx.Fee)
	if err != nil {
		return m.failure(KindSubmission, errors.Join(ErrSubmitFailed, err), err)
	}
	signedTx, err := contract.SignAndSend(ctx, tx)
	if err != nil {
		logger.WithFields(execCtx.logFields(logger.Fields{
			"error": err,
		})).Debug("Unsuccessful signing and broadcasting transaction")
		return m.failure(KindSubmission, errors.Join(ErrSubmitFailed, err), err)
	}
	execCtx.Tx = signedTx

	logger.WithFields(execCtx.logFields(logger.Fields{
		"gas_limit":       signedTx.Gas(),
		"max_fee_gwei":    jarviscommon.BigToFloat(signedTx.GasFeeCap(), 9),
		"tip_cap_gwei":    jarviscommon.BigToFloat(signedTx.GasTipCap(), 9),
		"fee_per_gas_src": feeSource(execCtx.Fee),
	})).Info("Signed and broadcasted transaction")

	m.persistSubmitted(ctx, execCtx)
	m.reporter.Set(op.Section, msgWaitingConfirmation, SeverityNeutral)

	// Confirm
	receipt, err := m.waitForReceipt(ctx, contract, signedTx, defaults)
	if err != nil {
		if isWaitAbandoned(err) {
			m.persistStatus(signedTx, PendingTxStatusTimedOut, nil)
			logger.WithFields(execCtx.logFields(logger.Fields{
				"error": err,
			})).Warn("Stopped waiting for receipt, tx may still confirm")
			return TxOutcome{
				ErrorKind: KindPending,
				Err:       errors.Join(ErrConfirmTimeout, err),
				Message:   fmt.Sprintf("Transaction %s is still pending and may confirm later.", signedTx.Hash().Hex()),
				Severity:  SeverityWarning,
				TxHash:    signedTx.Hash(),
			}
		}
		// the tx is out and may still land, reconcile settles it later
		m.persistStatus(signedTx, PendingTxStatusTimedOut, nil)
		outcome := m.failure(KindConfirmation, errors.Join(ErrConfirmFailed, err), err)
		outcome.TxHash = signedTx.Hash()
		return outcome
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		m.persistStatus(signedTx, PendingTxStatusReverted, receipt)
		logger.WithFields(execCtx.logFields(logger.Fields{
			"block":    receipt.BlockNumber,
			"gas_used": receipt.GasUsed,
		})).Warn("Transaction reverted")
		return TxOutcome{
			ErrorKind: KindConfirmation,
			Err:       errors.Join(ErrTxReverted, fmt.Errorf("tx %s reverted in block %v", signedTx.Hash().Hex(), receipt.BlockNumber)),
			Message:   msgReverted,
			Severity:  SeverityError,
			TxHash:    signedTx.Hash(),
		}
	}
	m.persistStatus(signedTx, PendingTxStatusConfirmed, receipt)

	// Extract. Log parsing never turns a confirmed tx into a failure.
	result := NewResultExtractor(contract.ABI(), contract.Address()).ExtractResult(receipt, op.ExpectedEvent, op.Fallback)
	logger.WithFields(execCtx.logFields(logger.Fields{
		"block":    receipt.BlockNumber,
		"gas_used": receipt.GasUsed,
		"tier":     result.Tier,
		"duration": time.Since(execCtx.StartedAt).String(),
	})).Info("Transaction confirmed")

	return TxOutcome{
		Succeeded:     true,
		DerivedID:     result.Get("id"),
		DerivedFields: result.Fields,
		Message:       op.SuccessMessage(result),
		Severity:      SeveritySuccess,
		TxHash:        signedTx.Hash(),
		Tier:          result.Tier,
		ClearFields:   op.ClearableFields(),
	}
}

// waitForReceipt polls for the receipt, bounded by the confirmation timeout.
func (m *Manager) waitForReceipt(ctx context.Context, contract *RegistryContract, tx *types.Transaction, defaults Defaults) (*types.Receipt, error) {
	waitCtx := ctx
	if defaults.ConfirmationTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, defaults.ConfirmationTimeout)
		defer cancel()
	}
	return contract.WaitMined(waitCtx, tx.Hash(), defaults.ReceiptPollInterval)
}

// isWaitAbandoned tells a wait that gave up from one that failed. Once a tx is
// broadcast, running out of time or being cancelled says nothing about the tx.
func isWaitAbandoned(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

// preconditionOutcome reports failures detected before any network call.
func (m *Manager) preconditionOutcome(err error) TxOutcome {
	var inputErr *InputError
	switch {
	case errors.As(err, &inputErr):
		return TxOutcome{ErrorKind: KindValidation, Err: err, Message: inputErr.Message, Severity: SeverityError}
	case errors.Is(err, ErrNoSession):
		return TxOutcome{ErrorKind: KindNoSession, Err: err, Message: msgContractNotLoaded, Severity: SeverityError}
	default:
		return m.failure(kindOf(err), err, err)
	}
}

// failure builds a failed outcome. err is kept for callers, cause is what
// the user sees after classification.
func (m *Manager) failure(kind ErrorKind, err error, cause error) TxOutcome {
	msg, severity := m.classifier.Classify(cause)
	return TxOutcome{
		ErrorKind: kind,
		Err:       err,
		Message:   msg,
		Severity:  severity,
	}
}

func (m *Manager) report(section string, outcome TxOutcome) TxOutcome {
	m.reporter.Set(section, outcome.Message, outcome.Severity)
	if !outcome.Succeeded {
		logger.WithFields(logger.Fields{
			"section": section,
			"kind":    outcome.ErrorKind.String(),
			"tx_hash": outcome.TxHash.Hex(),
			"error":   outcome.Err,
		}).Info("Mutation did not succeed")
	}
	return outcome
}

// claimOperation takes the in-flight key of execCtx. The returned function
// releases it and must always be called.
func (m *Manager) claimOperation(execCtx *MutationContext) (func(), error) {
	key := execCtx.InFlightKey()
	record, err := m.idempotencyStore.Create(key)
	if err != nil {
		if errors.Is(err, idempotency.ErrDuplicateKey) {
			return nil, errors.Join(ErrDuplicateOperation, fmt.Errorf("key %s is in flight", key))
		}
		return nil, fmt.Errorf("couldn't claim operation %s: %w", key, err)
	}
	execCtx.Claim = record

	return func() {
		if err := m.idempotencyStore.Delete(key); err != nil {
			logger.WithFields(logger.Fields{
				"key":   key,
				"error": err,
			}).Warn("Couldn't release in-flight key")
		}
	}, nil
}

// finishClaim records the final state of the run on its in-flight record.
func (m *Manager) finishClaim(execCtx *MutationContext, outcome TxOutcome) {
	if execCtx.Claim == nil {
		return
	}
	record := execCtx.Claim
	record.TxHash = outcome.TxHash
	record.Transaction = execCtx.Tx
	record.Error = outcome.Err
	switch {
	case outcome.Succeeded:
		record.Status = idempotency.StatusConfirmed
	case outcome.ErrorKind == KindPending:
		record.Status = idempotency.StatusSubmitted
	default:
		record.Status = idempotency.StatusFailed
	}
	if err := m.idempotencyStore.Update(record); err != nil {
		logger.WithFields(logger.Fields{
			"key":   record.Key,
			"error": err,
		}).Debug("Couldn't update in-flight record")
	}
}

func (m *Manager) persistSubmitted(ctx context.Context, execCtx *MutationContext) {
	tx := execCtx.Tx
	now := time.Now()
	err := m.txStore.Save(ctx, &PendingTx{
		Hash:        tx.Hash(),
		Wallet:      execCtx.Contract.Signer().Address(),
		ChainID:     execCtx.Contract.ChainID().Uint64(),
		Nonce:       tx.Nonce(),
		Section:     execCtx.Operation.Section,
		Method:      execCtx.Operation.Method,
		Status:      PendingTxStatusSubmitted,
		Transaction: tx,
		Metadata:    copyFields(execCtx.Operation.Fallback),
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		logger.WithFields(execCtx.logFields(logger.Fields{
			"error": err,
		})).Warn("Couldn't persist submitted tx. Ignore and continue")
	}
}

// persistStatus uses a fresh context so the final status is kept even when
// the caller's context is what ended the wait.
func (m *Manager) persistStatus(tx *types.Transaction, status PendingTxStatus, receipt *types.Receipt) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.txStore.UpdateStatus(ctx, tx.Hash(), status, receipt); err != nil {
		logger.WithFields(logger.Fields{
			"tx_hash": tx.Hash().Hex(),
			"status":  status,
			"error":   err,
		}).Warn("Couldn't update tx status. Ignore and continue")
	}
}

func feeSource(fee FeeData) string {
	switch {
	case fee.MaxFeePerGas != nil:
		return "max_fee_per_gas"
	case fee.GasPrice != nil:
		return "gas_price"
	default:
		return "default"
	}
}
