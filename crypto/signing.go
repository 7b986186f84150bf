package crypto

import (
	"errors"

	"github.com/ethereum/go-ethereum/crypto"
)

// RequestDomain namespaces request digests so signatures cannot be replayed
// against other protocols that sign keccak digests.
const RequestDomain = "kylan/v1"

// SignatureLength is the size of a recoverable secp256k1 signature.
const SignatureLength = 65

var ErrInvalidSignature = errors.New("crypto: invalid signature")

// RequestDigest hashes the canonical request tuple that callers sign.
func RequestDigest(method, path, timestamp string, body []byte) []byte {
	return crypto.Keccak256(
		[]byte(RequestDomain),
		[]byte("|"), []byte(method),
		[]byte("|"), []byte(path),
		[]byte("|"), []byte(timestamp),
		[]byte("|"), body,
	)
}

// Sign produces a recoverable signature over a 32-byte digest.
func (k *PrivateKey) Sign(digest []byte) ([]byte, error) {
	return crypto.Sign(digest, k.PrivateKey)
}

// RecoverAddress returns the address whose key produced sig over digest.
func RecoverAddress(digest, sig []byte) (Address, error) {
	if len(sig) != SignatureLength || len(digest) != 32 {
		return Address{}, ErrInvalidSignature
	}
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return Address{}, ErrInvalidSignature
	}
	return NewAddress(KylanPrefix, crypto.PubkeyToAddress(*pub).Bytes()), nil
}
