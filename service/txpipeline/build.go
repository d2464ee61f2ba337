package txpipeline

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/brojonat/osmosync/service/osmosis"
	"github.com/shopspring/decimal"
)

const (
	msgSendAminoType = "cosmos-sdk/MsgSend"
	msgSendTypeURL   = "/cosmos.bank.v1beta1.MsgSend"
)

// MsgSend is a bank transfer.
type MsgSend struct {
	FromAddress string
	ToAddress   string
	Amount      []osmosis.Coin
}

// UnsignedTx is the message set and fee envelope of a transaction.
type UnsignedTx struct {
	Messages []MsgSend
	Fee      []osmosis.Coin
	GasLimit uint64
	Memo     string
}

// BuildUnsigned constructs the message set and fee envelope for intent.
// When UseAllAmount is set the amount is the max spendable of the account.
func BuildUnsigned(account osmosis.AccountSnapshot, intent Intent, fees decimal.Decimal, denom string, defaultGas uint64) (UnsignedTx, decimal.Decimal, error) {
	if intent.Mode != ModeSend {
		return UnsignedTx{}, decimal.Zero, fmt.Errorf("%w: %q", ErrUnsupportedMode, intent.Mode)
	}

	amount := intent.Amount
	if intent.UseAllAmount {
		amount = decimal.Max(decimal.Zero, account.SpendableBalance.Sub(fees))
	}
	if !amount.IsPositive() {
		return UnsignedTx{}, decimal.Zero, ErrAmountRequired
	}
	if !amount.IsInteger() {
		return UnsignedTx{}, decimal.Zero, fmt.Errorf("amount %s is not a whole number of %s", amount, denom)
	}

	gas := defaultGas
	if intent.Gas != nil {
		if !intent.Gas.IsPositive() {
			return UnsignedTx{}, decimal.Zero, fmt.Errorf("gas limit must be positive, got %s", intent.Gas)
		}
		gas = uint64(intent.Gas.IntPart())
	}

	var feeCoins []osmosis.Coin
	if fees.IsPositive() {
		feeCoins = []osmosis.Coin{{Denom: denom, Amount: fees.String()}}
	}

	return UnsignedTx{
		Messages: []MsgSend{{
			FromAddress: account.Address,
			ToAddress:   intent.Recipient,
			Amount:      []osmosis.Coin{{Denom: denom, Amount: amount.String()}},
		}},
		Fee:      feeCoins,
		GasLimit: gas,
		Memo:     intent.Memo,
	}, amount, nil
}

// Amino JSON sign document. Fields are declared in alphabetical order so that
// encoding/json emits the canonical sorted form.
type aminoCoin struct {
	Amount string `json:"amount"`
	Denom  string `json:"denom"`
}

type aminoMsgSendValue struct {
	Amount      []aminoCoin `json:"amount"`
	FromAddress string      `json:"from_address"`
	ToAddress   string      `json:"to_address"`
}

type aminoMsg struct {
	Type  string            `json:"type"`
	Value aminoMsgSendValue `json:"value"`
}

type aminoFee struct {
	Amount []aminoCoin `json:"amount"`
	Gas    string      `json:"gas"`
}

type stdSignDoc struct {
	AccountNumber string     `json:"account_number"`
	ChainID       string     `json:"chain_id"`
	Fee           aminoFee   `json:"fee"`
	Memo          string     `json:"memo"`
	Msgs          []aminoMsg `json:"msgs"`
	Sequence      string     `json:"sequence"`
}

func aminoCoins(coins []osmosis.Coin) []aminoCoin {
	out := make([]aminoCoin, 0, len(coins))
	for _, c := range coins {
		out = append(out, aminoCoin{Amount: c.Amount, Denom: c.Denom})
	}
	return out
}

// SignDoc returns the legacy amino JSON bytes the signer signs over.
func (tx UnsignedTx) SignDoc(chainID string, info osmosis.AccountInfo) ([]byte, error) {
	msgs := make([]aminoMsg, 0, len(tx.Messages))
	for _, m := range tx.Messages {
		msgs = append(msgs, aminoMsg{
			Type: msgSendAminoType,
			Value: aminoMsgSendValue{
				Amount:      aminoCoins(m.Amount),
				FromAddress: m.FromAddress,
				ToAddress:   m.ToAddress,
			},
		})
	}
	doc := stdSignDoc{
		AccountNumber: strconv.FormatUint(info.AccountNumber, 10),
		ChainID:       chainID,
		Fee: aminoFee{
			Amount: aminoCoins(tx.Fee),
			Gas:    strconv.FormatUint(tx.GasLimit, 10),
		},
		Memo:     tx.Memo,
		Msgs:     msgs,
		Sequence: strconv.FormatUint(info.Sequence, 10),
	}
	// encoding/json escapes <, > and & like the canonical amino serializer does.
	return json.Marshal(doc)
}
