package signature

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// PublicKeySize is the length of a compressed secp256k1 public key.
const PublicKeySize = 33

// privateKeySize is the length of a raw secp256k1 scalar.
const privateKeySize = 32

// PrivateKey is a secp256k1 signing key.
type PrivateKey = btcec.PrivateKey

// PublicKey is a compressed secp256k1 public key.
type PublicKey [PublicKeySize]byte

// GenerateKey creates a new random signing key.
func GenerateKey() (*PrivateKey, error) {
	key, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key:\n%w", err)
	}

	return key, nil
}

// ParsePrivateKey decodes a 32-byte hex scalar.
func ParsePrivateKey(s string) (*PrivateKey, error) {
	raw, err := decodeHex(s)
	if err != nil {
		return nil, fmt.Errorf("decode private key:\n%w", err)
	}

	if len(raw) != privateKeySize {
		return nil, fmt.Errorf("invalid private key size: got %d, want %d", len(raw), privateKeySize)
	}

	key, _ := btcec.PrivKeyFromBytes(raw)

	return key, nil
}

// EncodePrivateKey returns the hex encoding of key's scalar.
func EncodePrivateKey(key *PrivateKey) string {
	return hex.EncodeToString(key.Serialize())
}

// PublicKeyOf returns the compressed public key of key.
func PublicKeyOf(key *PrivateKey) PublicKey {
	var pub PublicKey
	copy(pub[:], key.PubKey().SerializeCompressed())
	return pub
}

// ParsePublicKey decodes a compressed public key from hex and checks that it
// lies on the curve.
func ParsePublicKey(s string) (PublicKey, error) {
	var pub PublicKey

	raw, err := decodeHex(s)
	if err != nil {
		return pub, fmt.Errorf("decode public key:\n%w", err)
	}

	if len(raw) != PublicKeySize {
		return pub, fmt.Errorf("invalid public key size: got %d, want %d", len(raw), PublicKeySize)
	}

	if _, err := secp256k1.ParsePubKey(raw); err != nil {
		return pub, fmt.Errorf("parse public key:\n%w", err)
	}

	copy(pub[:], raw)

	return pub, nil
}

// String returns the hex encoding.
func (p PublicKey) String() string {
	return hex.EncodeToString(p[:])
}

// MarshalText encodes the key as hex.
func (p PublicKey) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText decodes a hex key.
func (p *PublicKey) UnmarshalText(text []byte) error {
	parsed, err := ParsePublicKey(string(text))
	if err != nil {
		return err
	}

	*p = parsed

	return nil
}

// ParseSignature decodes a 65-byte hex signature. The recovery byte is not
// validated here; Check rejects bad indicators.
func ParseSignature(s string) (Signature, error) {
	var sig Signature

	raw, err := decodeHex(s)
	if err != nil {
		return sig, fmt.Errorf("decode signature:\n%w", err)
	}

	if len(raw) != SignatureSize {
		return sig, fmt.Errorf("invalid signature size: got %d, want %d", len(raw), SignatureSize)
	}

	copy(sig[:], raw)

	return sig, nil
}

// String returns the hex encoding.
func (s Signature) String() string {
	return hex.EncodeToString(s[:])
}

// MarshalText encodes the signature as hex.
func (s Signature) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a hex signature.
func (s *Signature) UnmarshalText(text []byte) error {
	parsed, err := ParseSignature(string(text))
	if err != nil {
		return err
	}

	*s = parsed

	return nil
}

// decodeHex decodes s with an optional 0x prefix.
func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
}
