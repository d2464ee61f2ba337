package txpipeline

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Mode selects the kind of transaction an intent builds.
type Mode string

const (
	ModeSend Mode = "send"
)

// DefaultGasLimit is the gas limit of a send when the intent does not set one.
const DefaultGasLimit = 100000

// EstimateFees returns the fixed fee of a mode.
// Sends are fee-free on this network.
func EstimateFees(mode Mode) (decimal.Decimal, error) {
	switch mode {
	case ModeSend:
		return decimal.Zero, nil
	default:
		return decimal.Zero, fmt.Errorf("%w: %q", ErrUnsupportedMode, mode)
	}
}
