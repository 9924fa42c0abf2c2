package ipregistry

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/KyberNetwork/logger"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

var errEventNotFound = fmt.Errorf("expected event not found in receipt")

// Result holds the fields derived from a confirmed tx and the tier that produced them.
type Result struct {
	Fields map[string]string
	Tier   ResultTier
}

// Get returns the named field or "" if absent.
func (r Result) Get(name string) string {
	return r.Fields[name]
}

// ResultExtractor decodes registry events out of receipts.
type ResultExtractor struct {
	abi     abi.ABI
	address common.Address
}

// NewResultExtractor creates an extractor for events of parsed emitted by
// address. A zero address accepts logs from any emitter.
func NewResultExtractor(parsed abi.ABI, address common.Address) *ResultExtractor {
	return &ResultExtractor{abi: parsed, address: address}
}

// ExtractResult returns the fields of the first expectedEvent log in receipt,
// completed with fallback for names the event doesn't carry. When no such log
// exists or it can't be decoded, fallback is returned as is. It never fails.
func (e *ResultExtractor) ExtractResult(receipt *types.Receipt, expectedEvent string, fallback map[string]string) Result {
	fields, err := e.decode(receipt, expectedEvent)
	if err != nil {
		entry := logger.WithFields(logger.Fields{
			"event": expectedEvent,
			"tier":  TierFallback,
			"error": err,
		})
		if errors.Is(err, ErrLogParse) {
			entry.Warn("Couldn't decode event log, using fallback fields")
		} else {
			entry.Info("Result extracted")
		}
		return Result{Fields: copyFields(fallback), Tier: TierFallback}
	}

	merged := copyFields(fallback)
	for k, v := range fields {
		merged[k] = v
	}
	logger.WithFields(logger.Fields{
		"event":  expectedEvent,
		"tier":   TierEvent,
		"fields": merged,
	}).Info("Result extracted")
	return Result{Fields: merged, Tier: TierEvent}
}

func (e *ResultExtractor) decode(receipt *types.Receipt, expectedEvent string) (map[string]string, error) {
	event, ok := e.abi.Events[expectedEvent]
	if !ok {
		return nil, errors.Join(ErrLogParse, fmt.Errorf("event %s is not in the registry ABI", expectedEvent))
	}
	if receipt == nil {
		return nil, errEventNotFound
	}

	var indexed abi.Arguments
	for _, arg := range event.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}

	for _, log := range receipt.Logs {
		if log == nil || len(log.Topics) == 0 || log.Topics[0] != event.ID {
			continue
		}
		if e.address != (common.Address{}) && log.Address != e.address {
			continue
		}

		values := map[string]any{}
		if len(log.Data) > 0 {
			if err := e.abi.UnpackIntoMap(values, expectedEvent, log.Data); err != nil {
				return nil, errors.Join(ErrLogParse, fmt.Errorf("couldn't unpack %s data: %w", expectedEvent, err))
			}
		}
		if err := abi.ParseTopicsIntoMap(values, indexed, log.Topics[1:]); err != nil {
			return nil, errors.Join(ErrLogParse, fmt.Errorf("couldn't parse %s topics: %w", expectedEvent, err))
		}

		fields := make(map[string]string, len(values))
		for name, value := range values {
			fields[name] = stringifyValue(value)
		}
		return fields, nil
	}
	return nil, errEventNotFound
}

func stringifyValue(value any) string {
	switch v := value.(type) {
	case *big.Int:
		if v == nil {
			return ""
		}
		return v.String()
	case common.Address:
		return v.Hex()
	case common.Hash:
		return v.Hex()
	case []byte:
		return hexutil.Encode(v)
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func copyFields(fields map[string]string) map[string]string {
	copied := make(map[string]string, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	return copied
}
