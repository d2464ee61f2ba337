// Package signer defines the external signing capability used by the
// transaction pipeline and provides an in-process secp256k1 implementation.
package signer

import (
	"context"
	"errors"
)

// Account is an address the signer controls together with its compressed public key.
type Account struct {
	Address   string
	PublicKey []byte
}

// Signer produces signatures over sign documents.
// A hardware device or a remote wallet can sit behind this interface.
//
// SignPayload returns the 64 byte r||s secp256k1 signature of sha256(doc).
type Signer interface {
	GetAddresses(ctx context.Context) ([]Account, error)
	SignPayload(ctx context.Context, address string, doc []byte) ([]byte, error)
}

// ErrRefused is returned when the user declines to sign.
var ErrRefused = errors.New("signature refused")

// ErrUnknownAddress is returned when asked to sign for an address the signer does not control.
var ErrUnknownAddress = errors.New("address not controlled by signer")
