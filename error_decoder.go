package ipregistry

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/rpc"
)

// ErrorDecoder resolves Solidity custom errors carried in RPC error data
// against the errors declared in a set of ABIs.
type ErrorDecoder struct {
	errorBySelector map[[4]byte]abi.Error
}

// NewErrorDecoder indexes the custom errors of every given ABI by selector.
func NewErrorDecoder(abis ...abi.ABI) (*ErrorDecoder, error) {
	if len(abis) == 0 {
		return nil, fmt.Errorf("at least one ABI must be provided")
	}

	errorBySelector := map[[4]byte]abi.Error{}
	for _, a := range abis {
		for _, abiErr := range a.Errors {
			var selector [4]byte
			copy(selector[:], abiErr.ID[:4])
			errorBySelector[selector] = abiErr
		}
	}
	return &ErrorDecoder{errorBySelector: errorBySelector}, nil
}

// Decode returns the matching ABI error and its unpacked params. The returned
// error always wraps err, so callers can keep using it as the failure.
func (d *ErrorDecoder) Decode(err error) (*abi.Error, any, error) {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return nil, nil, fmt.Errorf("not a Solidity custom error: %w", err)
	}

	data := dataErr.ErrorData()
	if data == nil {
		return nil, nil, fmt.Errorf("no error data: %w", err)
	}
	hexData, ok := data.(string)
	if !ok {
		return nil, nil, fmt.Errorf("error data is not string (%T): %w", data, err)
	}

	raw, decodeErr := hex.DecodeString(strings.TrimPrefix(hexData, "0x"))
	if decodeErr != nil {
		return nil, nil, fmt.Errorf("failed to decode error data %q: %w", hexData, errors.Join(decodeErr, err))
	}
	if len(raw) < 4 {
		return nil, nil, fmt.Errorf("invalid error data length %d: %w", len(raw), err)
	}

	var selector [4]byte
	copy(selector[:], raw[:4])
	abiErr, ok := d.errorBySelector[selector]
	if !ok {
		return nil, nil, fmt.Errorf("unknown error: 0x%x: %w", raw[:4], err)
	}

	params, unpackErr := abiErr.Unpack(raw)
	if unpackErr != nil {
		return &abiErr, nil, fmt.Errorf("failed to unpack error selector %s: %w", abiErr.Name, errors.Join(unpackErr, err))
	}
	return &abiErr, params, fmt.Errorf("contract error: %s%v: %w", abiErr.Name, params, err)
}
