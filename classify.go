package ipregistry

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/ethclient"
)

const (
	msgInsufficientFundsNode = "Insufficient funds. Top up your balance to pay for gas."
	msgUnexpectedError       = "Unexpected error."
)

// ErrorClassifier turns any failure into a message a user can act on.
type ErrorClassifier struct {
	decoder *ErrorDecoder
}

// NewErrorClassifier creates a classifier. decoder may be nil, in which case
// custom Solidity errors are reported by their raw message.
func NewErrorClassifier(decoder *ErrorDecoder) *ErrorClassifier {
	return &ErrorClassifier{decoder: decoder}
}

// Classify is total: every error, nil included, maps to a message with error severity.
func (c *ErrorClassifier) Classify(err error) (string, Severity) {
	if err == nil {
		return msgUnexpectedError, SeverityError
	}
	if reason, ok := c.revertReason(err); ok {
		return reason, SeverityError
	}

	msg := err.Error()
	if strings.Contains(strings.ToLower(msg), "insufficient funds") {
		return msgInsufficientFundsNode, SeverityError
	}
	if strings.TrimSpace(msg) == "" {
		return msgUnexpectedError, SeverityError
	}
	return msg, SeverityError
}

// revertReason extracts the reason a contract supplied when reverting:
// an explicit RevertError, a revert(string) payload, or a custom error name.
func (c *ErrorClassifier) revertReason(err error) (string, bool) {
	var revertErr *RevertError
	if errors.As(err, &revertErr) && revertErr.Reason != "" {
		return revertErr.Reason, true
	}

	data, isRevert := ethclient.RevertErrorData(err)
	if !isRevert || len(data) == 0 {
		return "", false
	}
	if reason, unpackErr := abi.UnpackRevert(data); unpackErr == nil && reason != "" {
		return reason, true
	}
	if c.decoder != nil {
		if abiErr, _, _ := c.decoder.Decode(err); abiErr != nil {
			return abiErr.Name, true
		}
	}
	return "", false
}
