// Package economics implements protocol fee arithmetic.
package economics

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/shadowvault/core/pkg/types"
)

// Fee constants
const (
	// BpsDenominator is 100% in basis points
	BpsDenominator = 10_000

	// DefaultFeeBps is the default unshield fee (0.5%)
	DefaultFeeBps uint16 = 50
)

// Fee errors
var (
	ErrFeeTooHigh = errors.New("fee rate exceeds 100%")
	ErrOverflow   = errors.New("fee computation overflow")
)

// FeeConfig holds fee configuration
type FeeConfig struct {
	// FeeBps is charged on every unshield
	FeeBps uint16

	// Recipient is credited with collected fees
	Recipient types.Hash
}

// DefaultFeeConfig returns default configuration
func DefaultFeeConfig() *FeeConfig {
	return &FeeConfig{
		FeeBps: DefaultFeeBps,
	}
}

// Validate checks the fee rate
func (c *FeeConfig) Validate() error {
	if c.FeeBps > BpsDenominator {
		return fmt.Errorf("%w: %d bps", ErrFeeTooHigh, c.FeeBps)
	}
	return nil
}

// ComputeFee returns fee = floor(amount*bps/10000) and net = amount - fee.
// The product is taken in 256 bits so it cannot wrap; a result that does
// not fit back into 64 bits is ErrOverflow rather than a truncated value.
func ComputeFee(amount uint64, bps uint16) (fee, net uint64, err error) {
	if bps > BpsDenominator {
		return 0, 0, fmt.Errorf("%w: %d bps", ErrFeeTooHigh, bps)
	}

	product, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(amount), uint256.NewInt(uint64(bps)))
	if overflow {
		return 0, 0, ErrOverflow
	}
	quotient := new(uint256.Int).Div(product, uint256.NewInt(BpsDenominator))
	if !quotient.IsUint64() {
		return 0, 0, ErrOverflow
	}

	fee = quotient.Uint64()
	if fee >= amount {
		return fee, 0, nil
	}
	return fee, amount - fee, nil
}
