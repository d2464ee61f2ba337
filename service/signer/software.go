package signer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/tyler-smith/go-bip39"
)

// DefaultHDPath is the Cosmos derivation path (coin type 118) of the first account.
const DefaultHDPath = "m/44'/118'/0'/0/0"

// ApproveFunc is asked before every signature. Returning an error refuses the request.
type ApproveFunc func(ctx context.Context, address string, doc []byte) error

// Software is a Signer backed by an in-memory secp256k1 key.
// It is meant for development, tests and the CLI; production deployments plug a
// hardware or remote signer behind the same interface.
type Software struct {
	key     *btcec.PrivateKey
	pubKey  []byte
	address string
	approve ApproveFunc
}

// NewFromPrivateKeyHex creates a signer from a hex encoded 32 byte private key.
func NewFromPrivateKeyHex(keyHex, prefix string) (*Software, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(keyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key hex: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(raw))
	}
	key, _ := btcec.PrivKeyFromBytes(raw)
	return newSoftware(key, prefix)
}

// NewFromMnemonic derives the key at path (DefaultHDPath when empty) from a BIP-39 mnemonic.
func NewFromMnemonic(mnemonic, passphrase, path, prefix string) (*Software, error) {
	seed, err := bip39.NewSeedWithErrorChecking(strings.TrimSpace(mnemonic), passphrase)
	if err != nil {
		return nil, fmt.Errorf("invalid mnemonic: %w", err)
	}
	if path == "" {
		path = DefaultHDPath
	}
	indexes, err := parseHDPath(path)
	if err != nil {
		return nil, err
	}

	extKey, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("failed to create master key: %w", err)
	}
	for _, index := range indexes {
		extKey, err = extKey.Derive(index)
		if err != nil {
			return nil, fmt.Errorf("failed to derive %s: %w", path, err)
		}
	}
	key, err := extKey.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("failed to extract private key: %w", err)
	}
	return newSoftware(key, prefix)
}

func newSoftware(key *btcec.PrivateKey, prefix string) (*Software, error) {
	pubKey := key.PubKey().SerializeCompressed()
	address, err := bech32.EncodeFromBase256(prefix, btcutil.Hash160(pubKey))
	if err != nil {
		return nil, fmt.Errorf("failed to encode address: %w", err)
	}
	return &Software{key: key, pubKey: pubKey, address: address}, nil
}

// WithApproval installs a hook that confirms every signature request.
func (s *Software) WithApproval(approve ApproveFunc) *Software {
	s.approve = approve
	return s
}

// Address returns the bech32 address of the key.
func (s *Software) Address() string {
	return s.address
}

// PublicKey returns the 33 byte compressed public key.
func (s *Software) PublicKey() []byte {
	return s.pubKey
}

// GetAddresses returns the single account controlled by the key.
func (s *Software) GetAddresses(ctx context.Context) ([]Account, error) {
	return []Account{{Address: s.address, PublicKey: s.pubKey}}, nil
}

// SignPayload signs sha256(doc) and returns the 64 byte r||s signature.
func (s *Software) SignPayload(ctx context.Context, address string, doc []byte) ([]byte, error) {
	if address != s.address {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAddress, address)
	}
	if s.approve != nil {
		if err := s.approve(ctx, address, doc); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hash := sha256.Sum256(doc)
	compact := ecdsa.SignCompact(s.key, hash[:], true)
	// Drop the recovery byte.
	return compact[1:], nil
}

// parseHDPath parses a BIP-32 path such as m/44'/118'/0'/0/0.
func parseHDPath(path string) ([]uint32, error) {
	parts := strings.Split(path, "/")
	if len(parts) < 2 || parts[0] != "m" {
		return nil, fmt.Errorf("invalid derivation path %q", path)
	}
	indexes := make([]uint32, 0, len(parts)-1)
	for _, part := range parts[1:] {
		hardened := strings.HasSuffix(part, "'") || strings.HasSuffix(part, "h")
		part = strings.TrimRight(part, "'h")
		n, err := strconv.ParseUint(part, 10, 31)
		if err != nil {
			return nil, fmt.Errorf("invalid derivation path %q: %w", path, err)
		}
		index := uint32(n)
		if hardened {
			index += hdkeychain.HardenedKeyStart
		}
		indexes = append(indexes, index)
	}
	return indexes, nil
}
