package printer

import (
	"kylan/crypto"
)

var treasurerSeed = []byte("treasurer")

// TreasurerAddress derives the keyless pool authority of the printer that
// issues stableAsset. Nobody holds a key for it; only the engine acts for it.
func TreasurerAddress(stableAsset crypto.Address) crypto.Address {
	return crypto.DeriveAddress(treasurerSeed, stableAsset.Bytes())
}

// Treasurer is the capability that authorises pool-side mints and transfers
// for one printer. It can only be obtained through NewTreasurer.
type Treasurer struct {
	address crypto.Address
}

// NewTreasurer checks that the printer record's treasurer is the address
// derived from its stable asset and returns the signing capability.
func NewTreasurer(p *Printer) (Treasurer, error) {
	if p == nil || p.StableAsset.IsZero() {
		return Treasurer{}, ErrInvalidTreasurer
	}
	derived := TreasurerAddress(p.StableAsset)
	if !derived.Equal(p.Treasurer) {
		return Treasurer{}, ErrInvalidTreasurer
	}
	return Treasurer{address: derived}, nil
}

// Address implements token.Authority.
func (t Treasurer) Address() crypto.Address { return t.address }
