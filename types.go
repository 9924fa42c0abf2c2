package ipregistry

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Constants for connection and transaction execution
const (
	// DefaultChainID is the only network the registry is deployed on (Sepolia).
	DefaultChainID uint64 = 11155111

	DefaultConfirmationTimeout = 3 * time.Minute
	DefaultReceiptPollInterval = 2 * time.Second

	// DefaultTipCapGwei is used when the node cannot suggest a priority fee
	DefaultTipCapGwei = 1
	// DefaultFeePerGasGwei is the rate used for affordability when the node
	// returns neither a max fee nor a gas price
	DefaultFeePerGasGwei = 10
)

// Status sections. Each user-facing action reports into its own section.
const (
	SectionWallet   = "wallet"
	SectionRegister = "register"
	SectionTransfer = "transfer"
	SectionUpdate   = "update"
	SectionView     = "view"
	SectionHistory  = "history"
	SectionVerify   = "verify"
)

// DefaultFeePerGas is DefaultFeePerGasGwei expressed in wei.
var DefaultFeePerGas = gweiToWei(DefaultFeePerGasGwei)

func gweiToWei(gwei int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(gwei), big.NewInt(1_000_000_000))
}

// Severity classifies a status message for presentation.
type Severity string

const (
	SeverityNeutral Severity = "neutral"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// StatusEntry is the latest message reported for a section.
type StatusEntry struct {
	Section   string
	Message   string
	Severity  Severity
	UpdatedAt time.Time
}

// ErrorKind is the failure category of a pipeline run.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindValidation
	KindNoSession
	KindDuplicate
	KindEstimation
	KindAffordability
	KindSubmission
	KindConfirmation
	KindPending
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindValidation:
		return "validation"
	case KindNoSession:
		return "no_session"
	case KindDuplicate:
		return "duplicate"
	case KindEstimation:
		return "estimation"
	case KindAffordability:
		return "affordability"
	case KindSubmission:
		return "submission"
	case KindConfirmation:
		return "confirmation"
	case KindPending:
		return "pending"
	default:
		return "unknown"
	}
}

// ResultTier tells which source produced the derived fields of a mutation.
type ResultTier string

const (
	TierNone     ResultTier = ""
	TierEvent    ResultTier = "event"
	TierFallback ResultTier = "fallback"
)

// TxOutcome is the result of one RunMutation call.
type TxOutcome struct {
	Succeeded     bool
	DerivedID     string
	DerivedFields map[string]string
	ErrorKind     ErrorKind
	Err           error
	Message       string
	Severity      Severity
	TxHash        common.Hash
	Tier          ResultTier

	// ClearFields names the descriptor fields the caller should reset after success
	ClearFields []string
}

// IPType is the category code stored on-chain for a record.
type IPType uint8

const (
	IPTypePatent IPType = iota
	IPTypeCopyright
	IPTypeTrademark
	IPTypeOther
)

var ipTypeLabels = [...]string{"Patent", "Copyright", "Trademark", "Other"}

func (t IPType) String() string {
	if int(t) < len(ipTypeLabels) {
		return ipTypeLabels[t]
	}
	return "Unknown"
}

// IPRecord is a registry entry as returned by getIP.
type IPRecord struct {
	ID        *big.Int
	Type      IPType
	Title     string
	Metadata  string
	Owner     common.Address
	CreatedAt time.Time
	Active    bool
}

// HistoryEntry is one ownership transfer of a record.
type HistoryEntry struct {
	From      common.Address
	To        common.Address
	Timestamp time.Time
}

// Defaults holds the configuration values a Manager runs with.
type Defaults struct {
	ChainID             uint64
	ConfirmationTimeout time.Duration // 0 waits until ctx is done
	ReceiptPollInterval time.Duration
	ExtraGasLimit       uint64
	// DropAfter is how long a submitted tx may stay unknown to the node
	// before ReconcilePending marks it dropped
	DropAfter time.Duration
}

func defaultDefaults() Defaults {
	return Defaults{
		ChainID:             DefaultChainID,
		ConfirmationTimeout: DefaultConfirmationTimeout,
		ReceiptPollInterval: DefaultReceiptPollInterval,
		DropAfter:           time.Hour,
	}
}
