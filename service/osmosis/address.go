package osmosis

import (
	"github.com/btcsuite/btcd/btcutil/bech32"
)

// AddressPrefix is the bech32 human readable part of Osmosis account addresses.
const AddressPrefix = "osmo"

// AddressValidator is a currency-specific address predicate.
type AddressValidator interface {
	IsValid(currencyID, address string) bool
}

// Bech32Validator validates Cosmos account addresses: a bech32 string with the
// currency's prefix and a 20 byte payload.
type Bech32Validator struct {
	prefixes map[string]string
}

// NewBech32Validator creates a validator that knows the Osmosis prefix
// plus any extra currency id to prefix mappings.
func NewBech32Validator(extra map[string]string) *Bech32Validator {
	prefixes := map[string]string{CurrencyID: AddressPrefix}
	for id, prefix := range extra {
		prefixes[id] = prefix
	}
	return &Bech32Validator{prefixes: prefixes}
}

// IsValid reports whether address is a well-formed address for currencyID.
// Unknown currencies are never valid.
func (v *Bech32Validator) IsValid(currencyID, address string) bool {
	prefix, ok := v.prefixes[currencyID]
	if !ok || address == "" {
		return false
	}
	hrp, data, err := bech32.Decode(address)
	if err != nil || hrp != prefix {
		return false
	}
	payload, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return false
	}
	return len(payload) == 20
}

// EncodeAddress encodes a 20 byte account hash as a bech32 address.
func EncodeAddress(prefix string, hash []byte) (string, error) {
	return bech32.EncodeFromBase256(prefix, hash)
}
