package ipregistry

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// TimeLayout renders on-chain timestamps in local time.
const TimeLayout = "2006-01-02 15:04:05 MST"

const (
	msgEnterID            = "Please enter an IP ID."
	msgProvideHistoryID   = "Provide an IP ID."
	msgProvideIDAndAddr   = "Provide ID and address."
	msgQueryContractUnset = "Contract not loaded."
	msgNoHistory          = "No history."
)

// historyTuple mirrors the Transfer struct returned by getHistory.
type historyTuple struct {
	From      common.Address
	To        common.Address
	Timestamp *big.Int
}

// ViewIP reads record id. Reads never touch the pending flag or the
// in-flight guard; failures are reported on the view section.
func (m *Manager) ViewIP(ctx context.Context, id string) (*IPRecord, error) {
	contract, recordID, err := m.queryPreconditions(SectionView, id, msgEnterID)
	if err != nil {
		return nil, err
	}

	out, err := contract.Call(ctx, MethodGetIP, recordID)
	if err != nil {
		return nil, m.reportQueryError(SectionView, err)
	}
	record, err := decodeIPRecord(out)
	if err != nil {
		return nil, m.reportQueryError(SectionView, err)
	}

	m.reporter.Set(SectionView, FormatIP(record), SeveritySuccess)
	return record, nil
}

// ViewHistory reads the transfer history of record id, oldest first.
// It is fetched fresh on every call.
func (m *Manager) ViewHistory(ctx context.Context, id string) ([]HistoryEntry, error) {
	contract, recordID, err := m.queryPreconditions(SectionHistory, id, msgProvideHistoryID)
	if err != nil {
		return nil, err
	}

	out, err := contract.Call(ctx, MethodGetHistory, recordID)
	if err != nil {
		return nil, m.reportQueryError(SectionHistory, err)
	}
	entries, err := decodeHistory(out)
	if err != nil {
		return nil, m.reportQueryError(SectionHistory, err)
	}

	m.reporter.Set(SectionHistory, FormatHistory(entries), SeverityNeutral)
	return entries, nil
}

// VerifyOwnership asks the registry whether claimant owns record id.
func (m *Manager) VerifyOwnership(ctx context.Context, id, claimant string) (bool, error) {
	if strings.TrimSpace(id) == "" || strings.TrimSpace(claimant) == "" {
		m.reporter.Set(SectionVerify, msgProvideIDAndAddr, SeverityError)
		return false, &InputError{Message: msgProvideIDAndAddr}
	}
	contract, recordID, err := m.queryPreconditions(SectionVerify, id, msgProvideIDAndAddr)
	if err != nil {
		return false, err
	}
	address, err := ParseAddress(claimant)
	if err != nil {
		return false, m.reportInputError(SectionVerify, err)
	}

	out, err := contract.Call(ctx, MethodVerifyOwnership, recordID, address)
	if err != nil {
		return false, m.reportQueryError(SectionVerify, err)
	}
	if len(out) != 1 {
		return false, m.reportQueryError(SectionVerify, fmt.Errorf("unexpected %s output: %d values", MethodVerifyOwnership, len(out)))
	}
	isOwner, ok := out[0].(bool)
	if !ok {
		return false, m.reportQueryError(SectionVerify, fmt.Errorf("unexpected %s output type %T", MethodVerifyOwnership, out[0]))
	}

	if isOwner {
		m.reporter.Set(SectionVerify, "Address IS owner.", SeveritySuccess)
	} else {
		m.reporter.Set(SectionVerify, "Address is NOT owner.", SeverityError)
	}
	return isOwner, nil
}

// queryPreconditions checks input and session in that order, without any network call.
func (m *Manager) queryPreconditions(section, id, blankMsg string) (*RegistryContract, *big.Int, error) {
	if strings.TrimSpace(id) == "" {
		m.reporter.Set(section, blankMsg, SeverityError)
		return nil, nil, &InputError{Message: blankMsg}
	}
	contract := m.session.snapshot().contract
	if contract == nil {
		m.reporter.Set(section, msgQueryContractUnset, SeverityError)
		return nil, nil, ErrNoSession
	}
	recordID, err := ParseRecordID(id)
	if err != nil {
		return nil, nil, m.reportInputError(section, err)
	}
	return contract, recordID, nil
}

func (m *Manager) reportInputError(section string, err error) error {
	var inputErr *InputError
	if errors.As(err, &inputErr) {
		m.reporter.Set(section, inputErr.Message, SeverityError)
	} else {
		m.reporter.Set(section, err.Error(), SeverityError)
	}
	return err
}

func (m *Manager) reportQueryError(section string, err error) error {
	msg, severity := m.classifier.Classify(err)
	m.reporter.Set(section, msg, severity)
	return err
}

func decodeIPRecord(out []any) (*IPRecord, error) {
	if len(out) != 7 {
		return nil, fmt.Errorf("unexpected %s output: %d values", MethodGetIP, len(out))
	}
	id, ok1 := out[0].(*big.Int)
	ipType, ok2 := out[1].(uint8)
	title, ok3 := out[2].(string)
	metadata, ok4 := out[3].(string)
	owner, ok5 := out[4].(common.Address)
	createdAt, ok6 := out[5].(*big.Int)
	active, ok7 := out[6].(bool)
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6 && ok7) {
		return nil, fmt.Errorf("unexpected %s output types", MethodGetIP)
	}
	return &IPRecord{
		ID:        id,
		Type:      IPType(ipType),
		Title:     title,
		Metadata:  metadata,
		Owner:     owner,
		CreatedAt: unixTime(createdAt),
		Active:    active,
	}, nil
}

func decodeHistory(out []any) (entries []HistoryEntry, err error) {
	if len(out) != 1 {
		return nil, fmt.Errorf("unexpected %s output: %d values", MethodGetHistory, len(out))
	}
	// ConvertType panics when the shapes don't match
	defer func() {
		if r := recover(); r != nil {
			entries, err = nil, fmt.Errorf("unexpected %s output: %v", MethodGetHistory, r)
		}
	}()
	tuples := *abi.ConvertType(out[0], new([]historyTuple)).(*[]historyTuple)

	entries = make([]HistoryEntry, 0, len(tuples))
	for _, t := range tuples {
		entries = append(entries, HistoryEntry{
			From:      t.From,
			To:        t.To,
			Timestamp: unixTime(t.Timestamp),
		})
	}
	return entries, nil
}

func unixTime(seconds *big.Int) time.Time {
	if seconds == nil || !seconds.IsInt64() {
		return time.Time{}
	}
	return time.Unix(seconds.Int64(), 0)
}

// FormatIP renders a record for display.
func FormatIP(r *IPRecord) string {
	if r == nil {
		return ""
	}
	return fmt.Sprintf(
		"ID: %s\nType: %s\nTitle: %s\nMetadata: %s\nOwner: %s\nCreated: %s\nActive: %t",
		r.ID, r.Type, r.Title, r.Metadata, r.Owner.Hex(), r.CreatedAt.Format(TimeLayout), r.Active,
	)
}

// FormatHistory renders transfers as a 1-indexed list.
func FormatHistory(entries []HistoryEntry) string {
	if len(entries) == 0 {
		return msgNoHistory
	}
	lines := make([]string, 0, len(entries))
	for i, e := range entries {
		lines = append(lines, fmt.Sprintf("#%d From: %s -> To: %s at %s", i+1, e.From.Hex(), e.To.Hex(), e.Timestamp.Format(TimeLayout)))
	}
	return strings.Join(lines, "\n")
}
