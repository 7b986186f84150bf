package crypto

import (
	"lukechampine.com/blake3"
)

const derivationDomain = "kylan/derive/v1"

// DeriveAddress computes a keyless address from the supplied seeds. The same
// seeds always produce the same address, so records can be located without an
// index. Seeds are length-prefixed to keep distinct seed lists from colliding.
func DeriveAddress(seeds ...[]byte) Address {
	hasher := blake3.New(32, nil)
	_, _ = hasher.Write([]byte(derivationDomain))
	for _, seed := range seeds {
		var size [2]byte
		size[0] = byte(len(seed) >> 8)
		size[1] = byte(len(seed))
		_, _ = hasher.Write(size[:])
		_, _ = hasher.Write(seed)
	}
	sum := hasher.Sum(nil)
	return NewAddress(KylanPrefix, sum[len(sum)-AddressLength:])
}
