package osmosis

import (
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// MapEvent converts one decoded indexer event into an Operation for the given account.
//
// The operation type is resolved per party: OUT when the account is the event's sender,
// IN when it is the recipient. A send event is symmetric on chain, so the event kind is not used.
// Returns nil when the event lacks the nested content needed to resolve sender and recipient,
// or when the account is neither of them (other messages of a multi-message transaction).
func MapEvent(tx Transaction, event Event, accountAddress, accountID string) *Operation {
	transfer := event.Transfer
	if transfer == nil || len(transfer.Sender) == 0 || len(transfer.Recipient) == 0 {
		return nil
	}

	sender := transfer.Sender[0]
	recipient := transfer.Recipient[0]

	var opType OperationType
	switch accountAddress {
	case "":
		return nil
	case sender.Account:
		opType = OperationTypeOut
	case recipient.Account:
		opType = OperationTypeIn
	default:
		return nil
	}

	fee := SumDenom(tx.Fee, Denom)

	op := &Operation{
		ID:         EncodeOperationID(accountID, tx.Hash, opType),
		AccountID:  accountID,
		Type:       opType,
		Value:      operationValue(opType, sender, recipient, fee),
		Fee:        fee,
		Hash:       tx.Hash,
		Date:       tx.Time,
		Senders:    partyAccounts(sender),
		Recipients: partyAccounts(recipient),
		HasFailed:  tx.HasErrors,
		Extra:      map[string]string{"memo": tx.Memo},
	}
	if tx.BlockHash != "" {
		op.BlockHash = lo.ToPtr(tx.BlockHash)
	}
	if tx.Height > 0 {
		op.BlockHeight = lo.ToPtr(tx.Height)
	}
	return op
}

// MapTransactions maps every event of every transaction in order.
// It returns the operations and the number of events that mapped to nothing.
func MapTransactions(txs []Transaction, accountAddress, accountID string) ([]Operation, int) {
	var skipped int
	ops := make([]Operation, 0, len(txs))
	for _, tx := range txs {
		for _, event := range tx.Events {
			op := MapEvent(tx, event, accountAddress, accountID)
			if op == nil {
				skipped++
				continue
			}
			ops = append(ops, *op)
		}
	}
	return ops, skipped
}

// operationValue is what left the account for OUT (amount plus fee)
// and what arrived for IN.
func operationValue(opType OperationType, sender, recipient Party, fee decimal.Decimal) decimal.Decimal {
	if opType == OperationTypeOut {
		return SumDenom(sender.Amounts, Denom).Add(fee)
	}
	return SumDenom(recipient.Amounts, Denom)
}

// SumDenom adds up the amounts of a single denomination.
func SumDenom(amounts []Amount, denom string) decimal.Decimal {
	return lo.Reduce(amounts, func(sum decimal.Decimal, a Amount, _ int) decimal.Decimal {
		if a.Currency != denom {
			return sum
		}
		return sum.Add(a.Value)
	}, decimal.Zero)
}

func partyAccounts(p Party) []string {
	if p.Account == "" {
		return []string{}
	}
	return []string{p.Account}
}
