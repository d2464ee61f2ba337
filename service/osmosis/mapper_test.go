package osmosis

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAddress     = "osmo1qyqszqgpqyqszqgpqyqszqgpqyqszqgp6gjwmw"
	testCounterpart = "osmo1qgpqyqszqgpqyqszqgpqyqszqgpqyqsztv5tsc"
)

var testAccountID = EncodeAccountID(CurrencyID, testAddress)

func osmo(v int64) []Amount {
	return []Amount{{Currency: Denom, Value: decimal.NewFromInt(v)}}
}

func transferTx(hash, from, to string, amount, fee int64) Transaction {
	return Transaction{
		Hash:      hash,
		BlockHash: "BLOCK" + hash,
		Height:    100,
		Time:      time.Date(2022, 3, 1, 12, 0, 0, 0, time.UTC),
		Fee:       osmo(fee),
		Memo:      "hello",
		Events: []Event{{
			Kind: EventKindSend,
			Transfer: &Transfer{
				Sender:    []Party{{Account: from, Amounts: osmo(amount)}},
				Recipient: []Party{{Account: to, Amounts: osmo(amount)}},
			},
		}},
	}
}

func TestMapEvent_OutgoingIncludesFee(t *testing.T) {
	tx := transferTx("AAAA", testAddress, testCounterpart, 1000, 25)

	op := MapEvent(tx, tx.Events[0], testAddress, testAccountID)
	require.NotNil(t, op)

	assert.Equal(t, OperationTypeOut, op.Type)
	assert.True(t, op.Value.Equal(decimal.NewFromInt(1025)), "value = amount + fee, got %s", op.Value)
	assert.True(t, op.Fee.Equal(decimal.NewFromInt(25)))
	assert.Equal(t, EncodeOperationID(testAccountID, "AAAA", OperationTypeOut), op.ID)
	assert.Equal(t, []string{testAddress}, op.Senders)
	assert.Equal(t, []string{testCounterpart}, op.Recipients)
	assert.Equal(t, "hello", op.Memo())
	require.NotNil(t, op.BlockHeight)
	assert.Equal(t, int64(100), *op.BlockHeight)
	require.NotNil(t, op.BlockHash)
	assert.Equal(t, "BLOCKAAAA", *op.BlockHash)
}

func TestMapEvent_IncomingExcludesFee(t *testing.T) {
	tx := transferTx("BBBB", testCounterpart, testAddress, 1000, 25)

	op := MapEvent(tx, tx.Events[0], testAddress, testAccountID)
	require.NotNil(t, op)

	assert.Equal(t, OperationTypeIn, op.Type)
	assert.True(t, op.Value.Equal(decimal.NewFromInt(1000)), "value excludes fee, got %s", op.Value)
	assert.True(t, op.Fee.Equal(decimal.NewFromInt(25)))
}

func TestMapEvent_TypeIgnoresEventKind(t *testing.T) {
	// A "receive" event where the account is the sender is still outgoing.
	tx := transferTx("CCCC", testAddress, testCounterpart, 10, 1)
	tx.Events[0].Kind = EventKindReceive

	op := MapEvent(tx, tx.Events[0], testAddress, testAccountID)
	require.NotNil(t, op)
	assert.Equal(t, OperationTypeOut, op.Type)
}

func TestMapEvent_OnlyCountsNativeDenom(t *testing.T) {
	tx := transferTx("DDDD", testCounterpart, testAddress, 0, 0)
	tx.Events[0].Transfer.Recipient[0].Amounts = []Amount{
		{Currency: Denom, Value: decimal.NewFromInt(7)},
		{Currency: "ibc/27394FB092D2ECCD56123C74F36E4C1F926001CEADA9CA97EA622B25F41E5EB2", Value: decimal.NewFromInt(1000)},
		{Currency: Denom, Value: decimal.NewFromInt(3)},
	}

	op := MapEvent(tx, tx.Events[0], testAddress, testAccountID)
	require.NotNil(t, op)
	assert.True(t, op.Value.Equal(decimal.NewFromInt(10)))
}

func TestMapEvent_MissingContentReturnsNil(t *testing.T) {
	tests := []struct {
		name     string
		transfer *Transfer
	}{
		{name: "no nested content", transfer: nil},
		{name: "no sender", transfer: &Transfer{Recipient: []Party{{Account: testAddress}}}},
		{name: "no recipient", transfer: &Transfer{Sender: []Party{{Account: testAddress}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := Transaction{Hash: "EEEE", Events: []Event{{Kind: EventKindSend, Transfer: tt.transfer}}}
			assert.Nil(t, MapEvent(tx, tx.Events[0], testAddress, testAccountID))
		})
	}
}

func TestMapEvent_UninvolvedAccountReturnsNil(t *testing.T) {
	const third = "osmo1qvpsxqcrqvpsxqcrqvpsxqcrqvpsxqcrkyxwx9"

	// A multi-message transaction: the account receives in the first message,
	// the second one moves funds between two other accounts.
	tx := transferTx("ABCD", testCounterpart, testAddress, 40, 2)
	tx.Events = append(tx.Events, Event{
		Kind: EventKindSend,
		Transfer: &Transfer{
			Sender:    []Party{{Account: testCounterpart, Amounts: osmo(900)}},
			Recipient: []Party{{Account: third, Amounts: osmo(900)}},
		},
	})

	assert.Nil(t, MapEvent(tx, tx.Events[1], testAddress, testAccountID))

	ops, skipped := MapTransactions([]Transaction{tx}, testAddress, testAccountID)
	require.Len(t, ops, 1)
	assert.Equal(t, 1, skipped)
	assert.Equal(t, OperationTypeIn, ops[0].Type)
	assert.True(t, ops[0].Value.Equal(decimal.NewFromInt(40)), "got %s", ops[0].Value)
}

func TestMapEvent_FailedTransaction(t *testing.T) {
	tx := transferTx("FFFF", testAddress, testCounterpart, 10, 1)
	tx.HasErrors = true

	op := MapEvent(tx, tx.Events[0], testAddress, testAccountID)
	require.NotNil(t, op)
	assert.True(t, op.HasFailed)
}

func TestMapEvent_IDIsStable(t *testing.T) {
	tx := transferTx("AAAA", testAddress, testCounterpart, 10, 1)

	first := MapEvent(tx, tx.Events[0], testAddress, testAccountID)
	second := MapEvent(tx, tx.Events[0], testAddress, testAccountID)
	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.Equal(t, first.ID, second.ID)
}

func TestMapTransactions(t *testing.T) {
	out := transferTx("AAAA", testAddress, testCounterpart, 10, 1)
	in := transferTx("BBBB", testCounterpart, testAddress, 20, 1)
	in.Events = append(in.Events, Event{Kind: EventKindReceive})

	ops, skipped := MapTransactions([]Transaction{out, in}, testAddress, testAccountID)
	require.Len(t, ops, 2)
	assert.Equal(t, 1, skipped)
	assert.Equal(t, "AAAA", ops[0].Hash)
	assert.Equal(t, OperationTypeOut, ops[0].Type)
	assert.Equal(t, "BBBB", ops[1].Hash)
	assert.Equal(t, OperationTypeIn, ops[1].Type)
}

func TestEncodeAccountID(t *testing.T) {
	assert.Equal(t, "js:2:osmosis:"+testAddress+":", EncodeAccountID(CurrencyID, testAddress))
}
