package keys

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/pkg/errors"
)

// Sign signs the digest with the private key. The s value is normalised to the
// lower half of the curve order so that every signature has a single encoding.
func Sign(priv *ecdsa.PrivateKey, digest []byte) (r, s *big.Int, err error) {
	r, s, err = ecdsa.Sign(rand.Reader, priv, digest)
	if err != nil {
		return nil, nil, err
	}
	if s.Cmp(secp256k1halfN) > 0 {
		s = new(big.Int).Sub(secp256k1N, s)
	}
	return r, s, nil
}

// Verify checks a low-s signature of the digest against the public key.
func Verify(pub *ecdsa.PublicKey, digest []byte, r, s *big.Int) bool {
	if pub == nil || r == nil || s == nil {
		return false
	}
	if s.Cmp(secp256k1halfN) > 0 {
		return false
	}
	return ecdsa.Verify(pub, digest, r, s)
}

// EncodeSignature returns a string representation of a signature.
func EncodeSignature(r, s *big.Int) string {
	return fmt.Sprintf("%s|%s", r.Text(36), s.Text(36))
}

// DecodeSignature parses a string representation of a signature as produced by
// EncodeSignature.
func DecodeSignature(sig string) (r, s *big.Int, err error) {
	values := strings.Split(sig, "|")
	if len(values) != 2 {
		return nil, nil, errors.Errorf("wrong number of values in signature: got %d, want 2", len(values))
	}
	r, okR := new(big.Int).SetString(values[0], 36)
	s, okS := new(big.Int).SetString(values[1], 36)
	if !okR || !okS {
		return nil, nil, errors.Errorf("malformed signature %q", sig)
	}
	return r, s, nil
}
