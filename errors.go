package ipregistry

import (
	"errors"
	"fmt"
)

var (
	ErrValidation         = fmt.Errorf("invalid input")
	ErrNoSession          = fmt.Errorf("contract not loaded")
	ErrNoAgent            = fmt.Errorf("no signing agent available")
	ErrWrongNetwork       = fmt.Errorf("connected to a network the registry is not deployed on")
	ErrNotContract        = fmt.Errorf("registry address has no contract code")
	ErrEstimateGasFailed  = fmt.Errorf("estimate gas failed")
	ErrInsufficientFunds  = fmt.Errorf("insufficient funds to cover gas")
	ErrSubmitFailed       = fmt.Errorf("submit tx failed")
	ErrConfirmFailed      = fmt.Errorf("confirm tx failed")
	ErrTxReverted         = fmt.Errorf("tx reverted on-chain")
	ErrConfirmTimeout     = fmt.Errorf("tx not confirmed in time")
	ErrDuplicateOperation = fmt.Errorf("operation already in progress")
	ErrLogParse           = fmt.Errorf("couldn't parse event log")
)

// RevertError carries the reason string a contract supplied when reverting.
type RevertError struct {
	Reason string
	Data   []byte
	Err    error
}

func (e *RevertError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("execution reverted: %s: %v", e.Reason, e.Err)
	}
	return "execution reverted: " + e.Reason
}

func (e *RevertError) Unwrap() error {
	return e.Err
}

// kindOf maps a pipeline error to the taxonomy reported in TxOutcome.
func kindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNoSession):
		return KindNoSession
	case errors.Is(err, ErrDuplicateOperation):
		return KindDuplicate
	case errors.Is(err, ErrEstimateGasFailed):
		return KindEstimation
	case errors.Is(err, ErrInsufficientFunds):
		return KindAffordability
	case errors.Is(err, ErrConfirmTimeout):
		return KindPending
	case errors.Is(err, ErrConfirmFailed), errors.Is(err, ErrTxReverted):
		return KindConfirmation
	default:
		return KindSubmission
	}
}

// InputError is a validation failure whose message can be shown as is.
type InputError struct {
	Message string
}

func (e *InputError) Error() string {
	return e.Message
}

func (e *InputError) Unwrap() error {
	return ErrValidation
}
