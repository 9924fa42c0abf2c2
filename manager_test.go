package ipregistry

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tranvictor/ipregistry/idempotency"
)

func TestNewManager_Defaults(t *testing.T) {
	m, err := NewManager(testRegistryAddr, nil)
	require.NoError(t, err)

	defaults := m.Defaults()
	assert.Equal(t, DefaultChainID, defaults.ChainID)
	assert.Equal(t, DefaultConfirmationTimeout, defaults.ConfirmationTimeout)
	assert.Equal(t, DefaultReceiptPollInterval, defaults.ReceiptPollInterval)
	assert.Equal(t, time.Hour, defaults.DropAfter)
	assert.Zero(t, defaults.ExtraGasLimit)

	assert.Equal(t, testRegistryAddr, m.ContractAddress())
	assert.NotNil(t, m.IdempotencyStore())
	assert.NotNil(t, m.TxStore())
	assert.False(t, m.Session().Connected)
	assert.Empty(t, m.Statuses())
}

func TestNewManager_Options(t *testing.T) {
	idemStore := idempotency.NewInMemoryStore(time.Minute)
	txStore := NewInMemoryTxStore()
	var sunk []StatusEntry

	m, err := NewManager(testRegistryAddr, nil,
		WithAllowedChainID(137),
		WithConfirmationTimeout(time.Second),
		WithReceiptPollInterval(time.Millisecond),
		WithExtraGasLimit(10000),
		WithDropAfter(time.Minute),
		WithIdempotencyStore(idemStore),
		WithTxStore(txStore),
		WithStatusSink(func(e StatusEntry) { sunk = append(sunk, e) }),
		WithNetworkResolver(func(uint64) (string, error) { return "Polygon", nil }),
	)
	require.NoError(t, err)

	defaults := m.Defaults()
	assert.Equal(t, uint64(137), defaults.ChainID)
	assert.Equal(t, time.Second, defaults.ConfirmationTimeout)
	assert.Equal(t, time.Millisecond, defaults.ReceiptPollInterval)
	assert.Equal(t, uint64(10000), defaults.ExtraGasLimit)
	assert.Equal(t, time.Minute, defaults.DropAfter)
	assert.Same(t, idemStore, m.IdempotencyStore())
	assert.Same(t, txStore, m.TxStore())
	assert.Equal(t, "0x89", m.NetworkGuard().HexID())
	assert.Equal(t, "Polygon", m.NetworkGuard().Name())

	assert.ErrorIs(t, m.Connect(context.Background()), ErrNoAgent)
	require.Len(t, sunk, 1)
	assert.Equal(t, SectionWallet, sunk[0].Section)
}

func TestWithErrorDecoder(t *testing.T) {
	const extraABI = `[{"type":"error","name":"Paused","inputs":[]}]`
	parsed, err := abi.JSON(strings.NewReader(extraABI))
	require.NoError(t, err)
	decoder, err := NewErrorDecoder(mustRegistryABI(t), parsed)
	require.NoError(t, err)

	m, err := NewManager(testRegistryAddr, nil, WithErrorDecoder(decoder))
	require.NoError(t, err)

	id := parsed.Errors["Paused"].ID
	selector := id[:4]
	msg, severity := m.Classify(newRevertError(selector))
	assert.Equal(t, "Paused", msg)
	assert.Equal(t, SeverityError, severity)
}

func TestSetDefaults_KeepsChainID(t *testing.T) {
	m, err := NewManager(testRegistryAddr, nil)
	require.NoError(t, err)

	m.SetDefaults(Defaults{ChainID: 1, ConfirmationTimeout: time.Second, ExtraGasLimit: 5})

	defaults := m.Defaults()
	assert.Equal(t, DefaultChainID, defaults.ChainID)
	assert.Equal(t, time.Second, defaults.ConfirmationTimeout)
	assert.Equal(t, uint64(5), defaults.ExtraGasLimit)
}

func TestIsPending_CountsOverlappingRuns(t *testing.T) {
	m, err := NewManager(testRegistryAddr, nil)
	require.NoError(t, err)

	m.markPending(SectionUpdate)
	m.markPending(SectionUpdate)
	m.clearPending(SectionUpdate)
	assert.True(t, m.IsPending(SectionUpdate))

	m.clearPending(SectionUpdate)
	assert.False(t, m.IsPending(SectionUpdate))

	m.clearPending(SectionUpdate)
	assert.False(t, m.IsPending(SectionUpdate))
}

func TestMutationContext(t *testing.T) {
	setup := newConnectedSetup(t)
	contract := setup.Manager.session.snapshot().contract

	t.Run("blank fields", func(t *testing.T) {
		_, err := NewMutationContext(NewUpdateOperation("", "t", ""), contract, 0)

		var inputErr *InputError
		require.True(t, errors.As(err, &inputErr))
		assert.Equal(t, "Please fill in IP ID and metadata.", inputErr.Message)
	})

	t.Run("validation before session", func(t *testing.T) {
		_, err := NewMutationContext(NewUpdateOperation("x", "t", "m"), nil, 0)
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("no session", func(t *testing.T) {
		_, err := NewMutationContext(NewUpdateOperation("1", "t", "m"), nil, 0)
		assert.ErrorIs(t, err, ErrNoSession)
	})

	t.Run("gas limit and key", func(t *testing.T) {
		execCtx, err := NewMutationContext(NewUpdateOperation("1", "t", "m"), contract, 3000)
		require.NoError(t, err)
		execCtx.Estimate = 50000

		assert.Equal(t, uint64(53000), execCtx.GasLimit())
		assert.Equal(t, "update:"+setup.Signer.Address().Hex(), execCtx.InFlightKey())
		assert.Equal(t, []any{big.NewInt(1), "t", "m"}, execCtx.Args)
	})
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindNone, kindOf(nil))
	assert.Equal(t, KindValidation, kindOf(&InputError{Message: "x"}))
	assert.Equal(t, KindNoSession, kindOf(ErrNoSession))
	assert.Equal(t, KindDuplicate, kindOf(errors.Join(ErrDuplicateOperation, errors.New("k"))))
	assert.Equal(t, KindEstimation, kindOf(ErrEstimateGasFailed))
	assert.Equal(t, KindAffordability, kindOf(ErrInsufficientFunds))
	assert.Equal(t, KindPending, kindOf(ErrConfirmTimeout))
	assert.Equal(t, KindConfirmation, kindOf(ErrTxReverted))
	assert.Equal(t, KindSubmission, kindOf(errors.New("nonce too low")))
	assert.Equal(t, "pending", KindPending.String())
}
