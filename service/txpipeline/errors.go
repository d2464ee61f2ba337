package txpipeline

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Validation error kinds reported in Status.Errors.
var (
	ErrInvalidAddressBecauseDestinationIsAlsoSource = errors.New("recipient address is the same as the source address")
	ErrFeeNotLoaded                                 = errors.New("fees not loaded")
	ErrAmountRequired                               = errors.New("amount required")
	ErrNotEnoughBalance                             = errors.New("not enough balance")
	ErrRecipientRequired                            = errors.New("recipient required")
	ErrInvalidAddress                               = errors.New("invalid address")
)

// Build faults.
var (
	ErrUnsupportedMode = errors.New("unsupported transaction mode")
	ErrAlreadyStarted  = errors.New("pipeline already started")
	ErrNotEncoded      = errors.New("pipeline has no encoded transaction")
)

// StatusError aborts a pipeline whose intent failed validation.
type StatusError struct {
	Status Status
}

func (e *StatusError) Error() string {
	fields := make([]string, 0, len(e.Status.Errors))
	for field := range e.Status.Errors {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, fmt.Sprintf("%s: %v", field, e.Status.Errors[field]))
	}
	return "invalid transaction: " + strings.Join(parts, "; ")
}

// Is lets errors.Is match any of the field errors.
func (e *StatusError) Is(target error) bool {
	for _, err := range e.Status.Errors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// SignerError is a fault raised by the external signer: refusal, disconnect or
// a signer that does not control the account.
type SignerError struct {
	Op  string
	Err error
}

func (e *SignerError) Error() string {
	return fmt.Sprintf("signer %s failed: %v", e.Op, e.Err)
}

func (e *SignerError) Unwrap() error {
	return e.Err
}

// BroadcastRejectedError is returned when the node answers a submission with a
// non-zero code. Code and RawLog are the chain's, verbatim.
type BroadcastRejectedError struct {
	Code      uint32
	Codespace string
	TxHash    string
	RawLog    string
}

func (e *BroadcastRejectedError) Error() string {
	if e.Codespace != "" {
		return fmt.Sprintf("transaction rejected (codespace %s, code %d): %s", e.Codespace, e.Code, e.RawLog)
	}
	return fmt.Sprintf("transaction rejected (code %d): %s", e.Code, e.RawLog)
}
