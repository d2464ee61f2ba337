package txpipeline

import (
	"encoding/json"

	"github.com/brojonat/osmosync/service/osmosis"
	"github.com/shopspring/decimal"
)

// Intent is a user-authored, unsigned transaction draft.
type Intent struct {
	Recipient    string          `json:"recipient"`
	Amount       decimal.Decimal `json:"amount"`
	UseAllAmount bool            `json:"use_all_amount"`
	// Fees is nil until estimated.
	Fees *decimal.Decimal `json:"fees,omitempty"`
	// Gas is the gas limit; nil uses the pipeline default.
	Gas  *decimal.Decimal `json:"gas,omitempty"`
	Memo string           `json:"memo"`
	Mode Mode             `json:"mode"`
}

// NewIntent returns an intent with default values.
func NewIntent() Intent {
	return Intent{
		Amount: decimal.Zero,
		Mode:   ModeSend,
	}
}

// Status is the result of validating an intent against an account.
// Errors and Warnings are keyed by field: "recipient", "amount" or "fees".
type Status struct {
	Errors        map[string]error
	Warnings      map[string]error
	EstimatedFees decimal.Decimal
	Amount        decimal.Decimal
	TotalSpent    decimal.Decimal
}

// HasErrors reports whether the intent can not be submitted.
func (s Status) HasErrors() bool {
	return len(s.Errors) > 0
}

// MarshalJSON renders errors as their messages.
func (s Status) MarshalJSON() ([]byte, error) {
	messages := func(m map[string]error) map[string]string {
		out := make(map[string]string, len(m))
		for field, err := range m {
			out[field] = err.Error()
		}
		return out
	}
	return json.Marshal(struct {
		Errors        map[string]string `json:"errors"`
		Warnings      map[string]string `json:"warnings"`
		EstimatedFees decimal.Decimal   `json:"estimated_fees"`
		Amount        decimal.Decimal   `json:"amount"`
		TotalSpent    decimal.Decimal   `json:"total_spent"`
	}{
		Errors:        messages(s.Errors),
		Warnings:      messages(s.Warnings),
		EstimatedFees: s.EstimatedFees,
		Amount:        s.Amount,
		TotalSpent:    s.TotalSpent,
	})
}

// StatusValidator performs pre-flight validation of intents.
type StatusValidator struct {
	addresses  osmosis.AddressValidator
	currencyID string
}

// NewStatusValidator creates a validator checking recipients against currencyID.
func NewStatusValidator(addresses osmosis.AddressValidator, currencyID string) *StatusValidator {
	if currencyID == "" {
		currencyID = osmosis.CurrencyID
	}
	return &StatusValidator{addresses: addresses, currencyID: currencyID}
}

// Validate checks intent against account. Every rule is evaluated; a later rule
// on the same field replaces the earlier error. Validate has no side effects.
func (v *StatusValidator) Validate(account osmosis.AccountSnapshot, intent Intent) Status {
	errs := make(map[string]error)
	warnings := make(map[string]error)

	if intent.Recipient != "" && intent.Recipient == account.Address {
		errs["recipient"] = ErrInvalidAddressBecauseDestinationIsAlsoSource
	}

	estimatedFees := decimal.Zero
	if intent.Fees == nil {
		errs["fees"] = ErrFeeNotLoaded
	} else {
		estimatedFees = *intent.Fees
	}

	amount := intent.Amount
	if intent.UseAllAmount {
		amount = account.SpendableBalance.Sub(estimatedFees)
	}

	if !amount.IsPositive() && !intent.UseAllAmount {
		errs["amount"] = ErrAmountRequired
	}

	totalSpent := amount.Add(estimatedFees)
	if totalSpent.GreaterThan(account.SpendableBalance) {
		errs["amount"] = ErrNotEnoughBalance
	}
	if _, ok := errs["amount"]; !ok && account.SpendableBalance.LessThan(estimatedFees) {
		errs["amount"] = ErrNotEnoughBalance
	}

	if intent.Recipient == "" {
		errs["recipient"] = ErrRecipientRequired
	} else if v.addresses != nil && !v.addresses.IsValid(v.currencyID, intent.Recipient) {
		errs["recipient"] = ErrInvalidAddress
	}

	return Status{
		Errors:        errs,
		Warnings:      warnings,
		EstimatedFees: estimatedFees,
		Amount:        amount,
		TotalSpent:    totalSpent,
	}
}

// EstimateMaxSpendable is the largest amount a send can move: the spendable
// balance minus the fees of the mode, never below zero.
func EstimateMaxSpendable(account osmosis.AccountSnapshot, mode Mode) (decimal.Decimal, error) {
	fees, err := EstimateFees(mode)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.Max(decimal.Zero, account.SpendableBalance.Sub(fees)), nil
}
