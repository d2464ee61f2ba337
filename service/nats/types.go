package nats

import (
	"fmt"
	"time"

	"github.com/brojonat/osmosync/service/osmosis"
	"github.com/shopspring/decimal"
)

// OperationEvent represents a newly observed operation published to NATS.
// This is published to the subject "ops.{address}" in JetStream.
type OperationEvent struct {
	// Operation identifiers
	ID        string `json:"id"`
	AccountID string `json:"account_id"`
	Hash      string `json:"hash"`

	// Account information
	Address string `json:"address"`
	Network string `json:"network"`

	// Operation details
	Type       osmosis.OperationType `json:"type"`
	Value      decimal.Decimal       `json:"value"`
	Fee        decimal.Decimal       `json:"fee"`
	Senders    []string              `json:"senders"`
	Recipients []string              `json:"recipients"`
	HasFailed  bool                  `json:"has_failed"`
	Memo       string                `json:"memo,omitempty"`

	// Chain position
	BlockHeight *int64    `json:"block_height,omitempty"`
	Date        time.Time `json:"date"`

	// Metadata
	PublishedAt time.Time `json:"published_at"`
}

// Subject returns the subject operations of address are published to.
func Subject(address string) string {
	return fmt.Sprintf("ops.%s", address)
}

// FromOperation converts an operation of the given account to an OperationEvent for publishing.
func FromOperation(network, address string, op osmosis.Operation) *OperationEvent {
	return &OperationEvent{
		ID:          op.ID,
		AccountID:   op.AccountID,
		Hash:        op.Hash,
		Address:     address,
		Network:     network,
		Type:        op.Type,
		Value:       op.Value,
		Fee:         op.Fee,
		Senders:     op.Senders,
		Recipients:  op.Recipients,
		HasFailed:   op.HasFailed,
		Memo:        op.Memo(),
		BlockHeight: op.BlockHeight,
		Date:        op.Date,
		PublishedAt: time.Now().UTC(),
	}
}
