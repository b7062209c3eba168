package ledger

import (
	"fmt"
	"time"

	"github.com/shadowvault/core/internal/economics"
	"github.com/shadowvault/core/pkg/types"
)

// Protocol defaults
const (
	// DefaultPrivacyDelay is the minimum age of a note before it can be unshielded
	DefaultPrivacyDelay = 24 * time.Hour

	// DefaultDisclosureTTL is the advisory lifetime of a disclosure record
	DefaultDisclosureTTL = time.Duration(types.DisclosureTTL) * time.Second
)

// Params is an immutable snapshot of protocol parameters. Every operation
// takes one explicitly; the ledger holds no mutable protocol settings.
type Params struct {
	// FeeBps is charged on unshield, in basis points
	FeeBps uint16

	// PrivacyDelay is added to a note's creation time to get its unlock time
	PrivacyDelay time.Duration

	// DisclosureTTL is added to a disclosure's creation time to get its expiry
	DisclosureTTL time.Duration

	// Paused rejects shield, transfer and unshield
	Paused bool
}

// DefaultParams returns the default protocol parameters
func DefaultParams() Params {
	return Params{
		FeeBps:        economics.DefaultFeeBps,
		PrivacyDelay:  DefaultPrivacyDelay,
		DisclosureTTL: DefaultDisclosureTTL,
	}
}

// Validate checks the parameter ranges
func (p Params) Validate() error {
	if p.FeeBps > economics.BpsDenominator {
		return ErrInvalidParams.wrap(fmt.Errorf("fee %d bps exceeds 100%%", p.FeeBps))
	}
	if p.PrivacyDelay < 0 {
		return ErrInvalidParams.wrap(fmt.Errorf("negative privacy delay %s", p.PrivacyDelay))
	}
	if p.DisclosureTTL <= 0 {
		return ErrInvalidParams.wrap(fmt.Errorf("non-positive disclosure ttl %s", p.DisclosureTTL))
	}
	return nil
}

func (p Params) delaySeconds() int64 {
	return int64(p.PrivacyDelay / time.Second)
}

func (p Params) ttlSeconds() int64 {
	return int64(p.DisclosureTTL / time.Second)
}
