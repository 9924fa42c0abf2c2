package ipregistry

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Field is one user-supplied input of an operation.
type Field struct {
	Name  string
	Value string
	// Clearable fields are reported in TxOutcome.ClearFields after success
	Clearable bool
}

// OperationDescriptor describes one registry mutation. Build it with one of
// the New*Operation constructors; it is consumed once by RunMutation.
type OperationDescriptor struct {
	Method        string
	Section       string
	Fields        []Field
	ExpectedEvent string
	// Fallback is returned as the result when the expected event can't be found
	Fallback map[string]string

	encode  func() ([]any, error)
	success func(Result) string
}

// MissingFields returns the names of blank fields in declaration order.
func (op OperationDescriptor) MissingFields() []string {
	var missing []string
	for _, f := range op.Fields {
		if strings.TrimSpace(f.Value) == "" {
			missing = append(missing, f.Name)
		}
	}
	return missing
}

// Args encodes the fields into contract call arguments.
func (op OperationDescriptor) Args() ([]any, error) {
	if op.encode == nil {
		return nil, &InputError{Message: fmt.Sprintf("Operation %s has no arguments.", op.Method)}
	}
	return op.encode()
}

// SuccessMessage renders the status reported after confirmation.
func (op OperationDescriptor) SuccessMessage(result Result) string {
	if op.success == nil {
		return successMessage(op.Method, result)
	}
	return op.success(result)
}

// ClearableFields returns the names of fields to reset after success.
func (op OperationDescriptor) ClearableFields() []string {
	var names []string
	for _, f := range op.Fields {
		if f.Clearable {
			names = append(names, f.Name)
		}
	}
	return names
}

// successFormatters render the success status of each mutation method. They
// are keyed by method so reconciled txs can be reported the same way.
var successFormatters = map[string]func(Result) string{
	MethodRegisterIP: func(r Result) string {
		return fmt.Sprintf("ID %s Registered successfully!", r.Get("id"))
	},
	MethodTransferOwnership: func(r Result) string {
		return fmt.Sprintf("ID %s transferred to %s", r.Get("id"), r.Get("to"))
	},
	MethodUpdateIP: func(r Result) string {
		return fmt.Sprintf("ID %s updated successfully.", r.Get("id"))
	},
}

// expectedEvents maps each mutation method to the event it emits.
var expectedEvents = map[string]string{
	MethodRegisterIP:        EventIPRegistered,
	MethodTransferOwnership: EventOwnershipTransferred,
	MethodUpdateIP:          EventIPUpdated,
}

func successMessage(method string, result Result) string {
	if format, ok := successFormatters[method]; ok {
		return format(result)
	}
	return fmt.Sprintf("%s confirmed.", method)
}

// NewRegisterOperation registers a new record. ipType is a category code
// (0-3) or label such as "Copyright".
func NewRegisterOperation(ipType, title, description string) OperationDescriptor {
	title = strings.TrimSpace(title)
	description = strings.TrimSpace(description)
	return OperationDescriptor{
		Method:  MethodRegisterIP,
		Section: SectionRegister,
		Fields: []Field{
			{Name: "title", Value: title, Clearable: true},
			{Name: "description", Value: description, Clearable: true},
		},
		ExpectedEvent: expectedEvents[MethodRegisterIP],
		Fallback:      map[string]string{"id": "(unknown)"},
		encode: func() ([]any, error) {
			t, err := ParseIPType(ipType)
			if err != nil {
				return nil, err
			}
			return []any{uint8(t), title, description}, nil
		},
		success: successFormatters[MethodRegisterIP],
	}
}

// NewTransferOperation transfers record id to newOwner.
func NewTransferOperation(id, newOwner string) OperationDescriptor {
	id = strings.TrimSpace(id)
	newOwner = strings.TrimSpace(newOwner)
	return OperationDescriptor{
		Method:  MethodTransferOwnership,
		Section: SectionTransfer,
		Fields: []Field{
			{Name: "IP ID", Value: id},
			{Name: "new owner", Value: newOwner},
		},
		ExpectedEvent: expectedEvents[MethodTransferOwnership],
		Fallback:      map[string]string{"id": id, "to": newOwner},
		encode: func() ([]any, error) {
			recordID, err := ParseRecordID(id)
			if err != nil {
				return nil, err
			}
			owner, err := ParseAddress(newOwner)
			if err != nil {
				return nil, err
			}
			return []any{recordID, owner}, nil
		},
		success: successFormatters[MethodTransferOwnership],
	}
}

// NewUpdateOperation replaces the title and metadata of record id.
func NewUpdateOperation(id, title, metadata string) OperationDescriptor {
	id = strings.TrimSpace(id)
	title = strings.TrimSpace(title)
	metadata = strings.TrimSpace(metadata)
	return OperationDescriptor{
		Method:  MethodUpdateIP,
		Section: SectionUpdate,
		Fields: []Field{
			{Name: "IP ID", Value: id},
			{Name: "title", Value: title},
			{Name: "metadata", Value: metadata},
		},
		ExpectedEvent: expectedEvents[MethodUpdateIP],
		Fallback:      map[string]string{"id": id},
		encode: func() ([]any, error) {
			recordID, err := ParseRecordID(id)
			if err != nil {
				return nil, err
			}
			return []any{recordID, title, metadata}, nil
		},
		success: successFormatters[MethodUpdateIP],
	}
}

// ParseRecordID parses a decimal, non-negative record id.
func ParseRecordID(s string) (*big.Int, error) {
	id, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok || id.Sign() < 0 {
		return nil, &InputError{Message: fmt.Sprintf("Invalid IP ID %q.", s)}
	}
	return id, nil
}

// ParseAddress parses a hex account address.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, &InputError{Message: fmt.Sprintf("Invalid address %q.", s)}
	}
	return common.HexToAddress(s), nil
}

// ParseIPType accepts a category code (0-3) or its label, case-insensitively.
func ParseIPType(s string) (IPType, error) {
	s = strings.TrimSpace(s)
	if code, err := strconv.ParseUint(s, 10, 8); err == nil {
		if int(code) < len(ipTypeLabels) {
			return IPType(code), nil
		}
		return 0, &InputError{Message: fmt.Sprintf("Invalid IP type %q.", s)}
	}
	for i, label := range ipTypeLabels {
		if strings.EqualFold(label, s) {
			return IPType(i), nil
		}
	}
	return 0, &InputError{Message: fmt.Sprintf("Invalid IP type %q.", s)}
}

// joinFieldNames renders names as "a", "a and b" or "a, b and c".
func joinFieldNames(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0]
	default:
		return strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1]
	}
}
