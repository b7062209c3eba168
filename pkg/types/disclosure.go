package types

import (
	"fmt"
	"strings"
)

// DisclosureKind selects the verifier branch of a reveal
type DisclosureKind uint8

const (
	// DisclosureRange proves a committed value lies in [min, max]
	DisclosureRange DisclosureKind = iota

	// DisclosureOwnership proves the vault owner controls a commitment
	DisclosureOwnership

	// DisclosureCompliance is a range proof filed for compliance review
	DisclosureCompliance

	// DisclosureCustom carries an application-defined claim
	DisclosureCustom
)

var disclosureNames = [...]string{"range", "ownership", "compliance", "custom"}

func (k DisclosureKind) String() string {
	if int(k) < len(disclosureNames) {
		return disclosureNames[k]
	}
	return fmt.Sprintf("DisclosureKind(%d)", uint8(k))
}

// Valid reports whether k is a known kind
func (k DisclosureKind) Valid() bool {
	return int(k) < len(disclosureNames)
}

// ParseDisclosureKind parses the lowercase name of a kind
func ParseDisclosureKind(s string) (DisclosureKind, error) {
	for i, name := range disclosureNames {
		if strings.EqualFold(s, name) {
			return DisclosureKind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown disclosure kind %q", s)
}

// DisclosureTTL is how long a disclosure record stays valid, in seconds
const DisclosureTTL int64 = 30 * 24 * 60 * 60

// DisclosureRecord is an immutable, verified selective disclosure
type DisclosureRecord struct {
	Vault      Hash
	Nonce      uint64
	Kind       DisclosureKind
	Proof      []byte
	Commitment Hash
	RangeMin   uint64
	RangeMax   uint64
	Verified   bool
	CreatedAt  int64

	// ExpiresAt is advisory; records are never deleted
	ExpiresAt int64
}

// Expired reports whether the record is past its expiry at now
func (r *DisclosureRecord) Expired(now int64) bool {
	return now >= r.ExpiresAt
}
