package txpipeline

import (
	"testing"

	"github.com/brojonat/osmosync/service/osmosis"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAddress     = "osmo1qyqszqgpqyqszqgpqyqszqgpqyqszqgp6gjwmw"
	testCounterpart = "osmo1qgpqyqszqgpqyqszqgpqyqszqgpqyqsztv5tsc"
)

func testAccount(spendable int64) osmosis.AccountSnapshot {
	return osmosis.AccountSnapshot{
		AccountID:        osmosis.EncodeAccountID(osmosis.CurrencyID, testAddress),
		Address:          testAddress,
		Balance:          decimal.NewFromInt(spendable),
		SpendableBalance: decimal.NewFromInt(spendable),
	}
}

func dec(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func newTestValidator() *StatusValidator {
	return NewStatusValidator(osmosis.NewBech32Validator(nil), osmosis.CurrencyID)
}

func TestValidate_Valid(t *testing.T) {
	intent := Intent{Recipient: testCounterpart, Amount: decimal.NewFromInt(400), Fees: dec(10), Mode: ModeSend}

	status := newTestValidator().Validate(testAccount(1000), intent)
	assert.False(t, status.HasErrors())
	assert.Empty(t, status.Warnings)
	assert.Equal(t, "10", status.EstimatedFees.String())
	assert.Equal(t, "400", status.Amount.String())
	assert.Equal(t, "410", status.TotalSpent.String())
}

func TestValidate_AmountRequired(t *testing.T) {
	intent := Intent{Recipient: testCounterpart, Amount: decimal.Zero, Fees: dec(0), Mode: ModeSend}

	status := newTestValidator().Validate(testAccount(1000), intent)
	assert.ErrorIs(t, status.Errors["amount"], ErrAmountRequired)
}

func TestValidate_SelfSend(t *testing.T) {
	intent := Intent{Recipient: testAddress, Amount: decimal.NewFromInt(1), Fees: dec(0), Mode: ModeSend}

	status := newTestValidator().Validate(testAccount(1000), intent)
	assert.ErrorIs(t, status.Errors["recipient"], ErrInvalidAddressBecauseDestinationIsAlsoSource)
}

func TestValidate_NotEnoughBalance(t *testing.T) {
	// totalSpent = spendable + 1
	intent := Intent{Recipient: testCounterpart, Amount: decimal.NewFromInt(991), Fees: dec(10), Mode: ModeSend}

	status := newTestValidator().Validate(testAccount(1000), intent)
	assert.ErrorIs(t, status.Errors["amount"], ErrNotEnoughBalance)
	assert.Equal(t, "1001", status.TotalSpent.String())
}

func TestValidate_ExactBalanceIsEnough(t *testing.T) {
	intent := Intent{Recipient: testCounterpart, Amount: decimal.NewFromInt(990), Fees: dec(10), Mode: ModeSend}

	status := newTestValidator().Validate(testAccount(1000), intent)
	assert.False(t, status.HasErrors())
}

func TestValidate_FeeNotLoaded(t *testing.T) {
	intent := Intent{Recipient: testCounterpart, Amount: decimal.NewFromInt(1), Mode: ModeSend}

	status := newTestValidator().Validate(testAccount(1000), intent)
	assert.ErrorIs(t, status.Errors["fees"], ErrFeeNotLoaded)
	// Other rules still run with a zero fee.
	assert.True(t, status.EstimatedFees.IsZero())
	assert.NotContains(t, status.Errors, "amount")
	assert.NotContains(t, status.Errors, "recipient")
}

func TestValidate_FeesAboveBalance(t *testing.T) {
	intent := Intent{Recipient: testCounterpart, UseAllAmount: true, Fees: dec(50), Mode: ModeSend}

	status := newTestValidator().Validate(testAccount(20), intent)
	assert.ErrorIs(t, status.Errors["amount"], ErrNotEnoughBalance)
	assert.Equal(t, "-30", status.Amount.String())
}

func TestValidate_UseAllAmount(t *testing.T) {
	intent := Intent{Recipient: testCounterpart, Amount: decimal.NewFromInt(5), UseAllAmount: true, Fees: dec(10), Mode: ModeSend}

	status := newTestValidator().Validate(testAccount(1000), intent)
	assert.False(t, status.HasErrors())
	assert.Equal(t, "990", status.Amount.String())
	assert.Equal(t, "1000", status.TotalSpent.String())
}

func TestValidate_UseAllAmountOnEmptyAccount(t *testing.T) {
	intent := Intent{Recipient: testCounterpart, UseAllAmount: true, Fees: dec(0), Mode: ModeSend}

	status := newTestValidator().Validate(testAccount(0), intent)
	assert.NotContains(t, status.Errors, "amount")
	assert.True(t, status.Amount.IsZero())
}

func TestValidate_Recipient(t *testing.T) {
	tests := []struct {
		name      string
		recipient string
		want      error
	}{
		{"missing", "", ErrRecipientRequired},
		{"invalid", "osmo1notanaddress", ErrInvalidAddress},
		{"wrong chain", "cosmos1qyqszqgpqyqszqgpqyqszqgpqyqszqgpjnp7du", ErrInvalidAddress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intent := Intent{Recipient: tt.recipient, Amount: decimal.NewFromInt(1), Fees: dec(0), Mode: ModeSend}
			status := newTestValidator().Validate(testAccount(1000), intent)
			assert.ErrorIs(t, status.Errors["recipient"], tt.want)
		})
	}
}

func TestValidate_ReportsEveryField(t *testing.T) {
	intent := Intent{Recipient: "", Amount: decimal.Zero, Mode: ModeSend}

	status := newTestValidator().Validate(testAccount(1000), intent)
	assert.ErrorIs(t, status.Errors["fees"], ErrFeeNotLoaded)
	assert.ErrorIs(t, status.Errors["amount"], ErrAmountRequired)
	assert.ErrorIs(t, status.Errors["recipient"], ErrRecipientRequired)
}

func TestStatus_MarshalJSON(t *testing.T) {
	intent := Intent{Recipient: testAddress, Amount: decimal.NewFromInt(5), Fees: dec(0), Mode: ModeSend}
	status := newTestValidator().Validate(testAccount(1000), intent)

	out, err := status.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"errors": {"recipient": "recipient address is the same as the source address"},
		"warnings": {},
		"estimated_fees": "0",
		"amount": "5",
		"total_spent": "5"
	}`, string(out))
}

func TestEstimateFees(t *testing.T) {
	fees, err := EstimateFees(ModeSend)
	require.NoError(t, err)
	assert.True(t, fees.IsZero())

	_, err = EstimateFees("delegate")
	assert.ErrorIs(t, err, ErrUnsupportedMode)
}

func TestEstimateMaxSpendable(t *testing.T) {
	spendable, err := EstimateMaxSpendable(testAccount(1234), ModeSend)
	require.NoError(t, err)
	assert.Equal(t, "1234", spendable.String())

	spendable, err = EstimateMaxSpendable(testAccount(0), ModeSend)
	require.NoError(t, err)
	assert.True(t, spendable.IsZero())
}
