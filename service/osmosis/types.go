package osmosis

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Denom is the base unit of the native Osmosis token.
const Denom = "uosmo"

// CurrencyID identifies the Osmosis currency in account IDs and address validation.
const CurrencyID = "osmosis"

// OperationType describes how an operation affected the account balance.
type OperationType string

const (
	OperationTypeOut  OperationType = "OUT"
	OperationTypeIn   OperationType = "IN"
	OperationTypeNone OperationType = "NONE"
)

// Operation is a single balance-affecting event observed for an account.
// This is our domain model, independent of the indexer response format.
//
// For OUT operations Value includes the fee; for IN operations it does not.
type Operation struct {
	ID          string            `json:"id"`
	AccountID   string            `json:"account_id"`
	Type        OperationType     `json:"type"`
	Value       decimal.Decimal   `json:"value"`
	Fee         decimal.Decimal   `json:"fee"`
	Hash        string            `json:"hash"`
	BlockHash   *string           `json:"block_hash,omitempty"`
	BlockHeight *int64            `json:"block_height,omitempty"` // nil until confirmed
	Date        time.Time         `json:"date"`
	Senders     []string          `json:"senders"`
	Recipients  []string          `json:"recipients"`
	HasFailed   bool              `json:"has_failed"`
	Extra       map[string]string `json:"extra,omitempty"`

	// TransactionSequenceNumber is only set on optimistic operations produced at signing time.
	TransactionSequenceNumber *uint64 `json:"transaction_sequence_number,omitempty"`
}

// Memo returns the memo stored in the operation's extra fields.
func (o Operation) Memo() string {
	if o.Extra == nil {
		return ""
	}
	return o.Extra["memo"]
}

// AccountSnapshot is the synchronized view of an account returned by a sync.
// Snapshots are values: a sync produces a new one rather than mutating the previous.
type AccountSnapshot struct {
	AccountID        string          `json:"account_id"`
	Address          string          `json:"address"`
	BlockHeight      int64           `json:"block_height"`
	Balance          decimal.Decimal `json:"balance"`
	SpendableBalance decimal.Decimal `json:"spendable_balance"`
	Operations       []Operation     `json:"operations"`
	OperationsCount  int             `json:"operations_count"`

	// Partial is true when pagination stopped early because a page could not be fetched.
	Partial  bool      `json:"partial"`
	SyncedAt time.Time `json:"synced_at"`
}

// EncodeOperationID derives the identity of an operation.
// Two operations with the same account, hash and type are the same logical operation.
func EncodeOperationID(accountID, hash string, opType OperationType) string {
	return fmt.Sprintf("%s-%s-%s", accountID, hash, opType)
}

// EncodeAccountID builds the account identifier for an address of the given currency.
func EncodeAccountID(currencyID, address string) string {
	return fmt.Sprintf("js:2:%s:%s:", currencyID, address)
}

// Block is the subset of the latest block header we care about.
type Block struct {
	Height  int64  `json:"height"`
	ChainID string `json:"chain_id"`
}

// AccountInfo holds the signing metadata of an on-chain account.
type AccountInfo struct {
	AccountNumber uint64 `json:"account_number"`
	Sequence      uint64 `json:"sequence"`
}

// SubmitResult is the node's answer to a transaction submission.
// A zero Code means the transaction was accepted.
type SubmitResult struct {
	Code      uint32 `json:"code"`
	Codespace string `json:"codespace,omitempty"`
	TxHash    string `json:"txhash"`
	RawLog    string `json:"raw_log"`
}

// Coin is an amount of a single denomination as returned by Cosmos REST endpoints.
type Coin struct {
	Denom  string `json:"denom"`
	Amount string `json:"amount"`
}
