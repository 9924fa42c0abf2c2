package ipregistry

import (
	"fmt"
	"time"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/tranvictor/ipregistry/idempotency"
)

// MutationContext holds the state of a single RunMutation call.
// All fields are public to allow for testing and advanced customization.
type MutationContext struct {
	Operation OperationDescriptor
	Args      []any

	// Contract is the handle snapshotted when the run started. A network
	// change during the run does not affect it.
	Contract *RegistryContract

	// Gas
	Estimate      uint64
	ExtraGasLimit uint64
	Fee           FeeData

	// Claim is the in-flight record guarding against duplicate runs
	Claim *idempotency.Record

	// Tx is set once the signed tx was handed to the node
	Tx        *types.Transaction
	StartedAt time.Time
}

// NewMutationContext validates op and snapshots contract. It performs no
// network calls: blank fields, malformed arguments and a missing contract are
// all reported before anything is sent.
func NewMutationContext(op OperationDescriptor, contract *RegistryContract, extraGasLimit uint64) (*MutationContext, error) {
	if missing := op.MissingFields(); len(missing) > 0 {
		return nil, &InputError{Message: fmt.Sprintf("Please fill in %s.", joinFieldNames(missing))}
	}
	args, err := op.Args()
	if err != nil {
		return nil, err
	}
	if contract == nil {
		return nil, ErrNoSession
	}

	return &MutationContext{
		Operation:     op,
		Args:          args,
		Contract:      contract,
		ExtraGasLimit: extraGasLimit,
		StartedAt:     time.Now(),
	}, nil
}

// GasLimit is the estimate plus the configured headroom.
func (c *MutationContext) GasLimit() uint64 {
	return c.Estimate + c.ExtraGasLimit
}

// InFlightKey identifies the operation for the duplicate guard. Runs of the
// same section from the same account exclude each other.
func (c *MutationContext) InFlightKey() string {
	return fmt.Sprintf("%s:%s", c.Operation.Section, c.Contract.Signer().Address().Hex())
}

// logFields returns the fields identifying this run merged with extra.
func (c *MutationContext) logFields(extra logger.Fields) logger.Fields {
	fields := logger.Fields{
		"section":  c.Operation.Section,
		"method":   c.Operation.Method,
		"contract": c.Contract.Address().Hex(),
		"from":     c.Contract.Signer().Address().Hex(),
		"estimate": c.Estimate,
	}
	if c.Tx != nil {
		fields["tx_hash"] = c.Tx.Hash().Hex()
		fields["nonce"] = c.Tx.Nonce()
	}
	for k, v := range extra {
		fields[k] = v
	}
	return fields
}
