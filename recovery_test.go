package ipregistry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func savePending(t *testing.T, setup *testSetup, hash common.Hash, method, section string, age time.Duration, metadata map[string]string) {
	t.Helper()
	created := time.Now().Add(-age)
	require.NoError(t, setup.Manager.TxStore().Save(context.Background(), &PendingTx{
		Hash:      hash,
		Wallet:    setup.Signer.Address(),
		ChainID:   DefaultChainID,
		Section:   section,
		Method:    method,
		Status:    PendingTxStatusTimedOut,
		Metadata:  metadata,
		CreatedAt: created,
		UpdatedAt: created,
	}))
}

func TestReconcilePending(t *testing.T) {
	setup := newConnectedSetup(t, WithDropAfter(time.Hour))
	confirmedHash := common.HexToHash("0x01")
	revertedHash := common.HexToHash("0x02")
	youngHash := common.HexToHash("0x03")
	oldHash := common.HexToHash("0x04")

	savePending(t, setup, confirmedHash, MethodRegisterIP, SectionRegister, time.Minute, map[string]string{"id": "(unknown)"})
	savePending(t, setup, revertedHash, MethodUpdateIP, SectionUpdate, time.Minute, map[string]string{"id": "3"})
	savePending(t, setup, youngHash, MethodTransferOwnership, SectionTransfer, time.Minute, map[string]string{"id": "1", "to": testAddr2.Hex()})
	savePending(t, setup, oldHash, MethodTransferOwnership, SectionTransfer, 2*time.Hour, map[string]string{"id": "2", "to": testAddr2.Hex()})

	setup.Backend.TransactionReceiptFn = func(_ context.Context, hash common.Hash) (*types.Receipt, error) {
		switch hash {
		case confirmedHash:
			return newTestReceipt(hash, types.ReceiptStatusSuccessful,
				registeredLog(t, testRegistryAddr, 77, setup.Signer.Address())), nil
		case revertedHash:
			return newTestReceipt(hash, types.ReceiptStatusFailed), nil
		default:
			return nil, ethereum.NotFound
		}
	}

	result, err := setup.Manager.ReconcilePending(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, result.Confirmed)
	assert.Equal(t, 1, result.Reverted)
	assert.Equal(t, 1, result.StillPending)
	assert.Equal(t, 1, result.Dropped)
	assert.Empty(t, result.Errors)

	requireStatus(t, setup.Manager, SectionRegister, "ID 77 Registered successfully!", SeveritySuccess)
	requireStatus(t, setup.Manager, SectionUpdate, "Transaction reverted on-chain.", SeverityError)
	requireStatus(t, setup.Manager, SectionTransfer,
		"Transaction "+oldHash.Hex()+" was dropped by the network.", SeverityWarning)

	statusOf := func(hash common.Hash) PendingTxStatus {
		tx, err := setup.Manager.TxStore().Get(context.Background(), hash)
		require.NoError(t, err)
		return tx.Status
	}
	assert.Equal(t, PendingTxStatusConfirmed, statusOf(confirmedHash))
	assert.Equal(t, PendingTxStatusReverted, statusOf(revertedHash))
	assert.Equal(t, PendingTxStatusTimedOut, statusOf(youngHash))
	assert.Equal(t, PendingTxStatusDropped, statusOf(oldHash))

	// resolved txs are not checked again
	again, err := setup.Manager.ReconcilePending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, again.StillPending)
	assert.Zero(t, again.Confirmed+again.Reverted+again.Dropped)
}

func TestReconcilePending_AfterTimeout(t *testing.T) {
	setup := newConnectedSetup(t, WithConfirmationTimeout(30*time.Millisecond))
	mined := false
	setup.Backend.TransactionReceiptFn = func(_ context.Context, hash common.Hash) (*types.Receipt, error) {
		if !mined {
			return nil, ethereum.NotFound
		}
		return newTestReceipt(hash, types.ReceiptStatusSuccessful), nil
	}

	outcome := setup.Manager.RunMutation(context.Background(), NewTransferOperation("5", testAddr2.Hex()))
	require.Equal(t, KindPending, outcome.ErrorKind)

	mined = true
	result, err := setup.Manager.ReconcilePending(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, result.Confirmed)
	requireStatus(t, setup.Manager, SectionTransfer, "ID 5 transferred to "+testAddr2.Hex(), SeveritySuccess)
}

func TestReconcilePending_ReceiptErrorsAreCollected(t *testing.T) {
	setup := newConnectedSetup(t)
	savePending(t, setup, common.HexToHash("0x05"), MethodUpdateIP, SectionUpdate, time.Minute, nil)
	setup.Backend.TransactionReceiptFn = func(context.Context, common.Hash) (*types.Receipt, error) {
		return nil, errors.New("connection reset")
	}

	result, err := setup.Manager.ReconcilePending(context.Background())

	require.NoError(t, err)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Error(), "connection reset")
}

func TestReconcilePending_OnlyConnectedAccount(t *testing.T) {
	setup := newConnectedSetup(t)
	require.NoError(t, setup.Manager.TxStore().Save(context.Background(), &PendingTx{
		Hash:      common.HexToHash("0x06"),
		Wallet:    testAddr1,
		ChainID:   DefaultChainID,
		Method:    MethodUpdateIP,
		Status:    PendingTxStatusSubmitted,
		CreatedAt: time.Now().Add(-2 * time.Hour),
	}))

	result, err := setup.Manager.ReconcilePending(context.Background())

	require.NoError(t, err)
	assert.Zero(t, result.Dropped+result.StillPending)
}

func TestReconcilePending_NoSession(t *testing.T) {
	setup := newTestSetup(t)

	_, err := setup.Manager.ReconcilePending(context.Background())

	assert.ErrorIs(t, err, ErrNoSession)
}
