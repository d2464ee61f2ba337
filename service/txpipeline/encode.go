package txpipeline

import (
	"fmt"

	"github.com/brojonat/osmosync/service/osmosis"
	"google.golang.org/protobuf/encoding/protowire"
)

const (
	secp256k1PubKeyTypeURL  = "/cosmos.crypto.secp256k1.PubKey"
	signModeLegacyAminoJSON = 127
)

// EncodeSigned produces the protobuf TxRaw bytes of a transaction signed in
// SIGN_MODE_LEGACY_AMINO_JSON.
func EncodeSigned(tx UnsignedTx, pubKey []byte, sequence uint64, signature []byte) ([]byte, error) {
	if len(pubKey) != 33 {
		return nil, fmt.Errorf("expected 33 byte compressed public key, got %d", len(pubKey))
	}
	if len(signature) != 64 {
		return nil, fmt.Errorf("expected 64 byte signature, got %d", len(signature))
	}

	// TxRaw
	var raw []byte
	raw = appendBytes(raw, 1, encodeTxBody(tx))
	raw = appendBytes(raw, 2, encodeAuthInfo(tx, pubKey, sequence))
	raw = appendBytes(raw, 3, signature)
	return raw, nil
}

func encodeTxBody(tx UnsignedTx) []byte {
	var b []byte
	for _, m := range tx.Messages {
		b = appendBytes(b, 1, encodeAny(msgSendTypeURL, encodeMsgSend(m)))
	}
	b = appendString(b, 2, tx.Memo)
	return b
}

func encodeMsgSend(m MsgSend) []byte {
	var b []byte
	b = appendString(b, 1, m.FromAddress)
	b = appendString(b, 2, m.ToAddress)
	for _, c := range m.Amount {
		b = appendBytes(b, 3, encodeCoin(c))
	}
	return b
}

func encodeCoin(c osmosis.Coin) []byte {
	var b []byte
	b = appendString(b, 1, c.Denom)
	b = appendString(b, 2, c.Amount)
	return b
}

func encodeAuthInfo(tx UnsignedTx, pubKey []byte, sequence uint64) []byte {
	// PubKey { bytes key = 1; }
	key := appendBytes(nil, 1, pubKey)

	// ModeInfo { Single single = 1; } Single { SignMode mode = 1; }
	single := appendVarint(nil, 1, signModeLegacyAminoJSON)
	modeInfo := appendBytes(nil, 1, single)

	var signerInfo []byte
	signerInfo = appendBytes(signerInfo, 1, encodeAny(secp256k1PubKeyTypeURL, key))
	signerInfo = appendBytes(signerInfo, 2, modeInfo)
	signerInfo = appendVarint(signerInfo, 3, sequence)

	var fee []byte
	for _, c := range tx.Fee {
		fee = appendBytes(fee, 1, encodeCoin(c))
	}
	fee = appendVarint(fee, 2, tx.GasLimit)

	var b []byte
	b = appendBytes(b, 1, signerInfo)
	b = appendBytes(b, 2, fee)
	return b
}

func encodeAny(typeURL string, value []byte) []byte {
	var b []byte
	b = appendString(b, 1, typeURL)
	b = appendBytes(b, 2, value)
	return b
}

// Proto3 omits fields holding their default value; embedded messages are
// always written so that an empty Fee still appears in AuthInfo.

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}
