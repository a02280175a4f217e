package hasher

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/sha3"
)

// Size is the digest length in bytes.
const Size = 32

// Hash is a 32-byte digest.
type Hash [Size]byte

// Function is a pluggable hash primitive producing 32-byte digests.
// Sum hashes the concatenation of all parts.
type Function interface {
	Sum(parts ...[]byte) Hash
	Name() string
}

// Keccak256 is the legacy Keccak-256 used by Ethereum-style signers.
type Keccak256 struct{}

// Sum returns keccak256(parts[0] || parts[1] || ...).
func (Keccak256) Sum(parts ...[]byte) Hash {
	h := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		h.Write(p)
	}

	var out Hash
	h.Sum(out[:0])

	return out
}

// Name returns "keccak256".
func (Keccak256) Name() string { return "keccak256" }

// Blake3 is the BLAKE3 hash truncated to 32 bytes.
type Blake3 struct{}

// Sum returns blake3(parts[0] || parts[1] || ...).
func (Blake3) Sum(parts ...[]byte) Hash {
	h := blake3.New()
	for _, p := range parts {
		h.Write(p)
	}

	var out Hash
	h.Sum(out[:0])

	return out
}

// Name returns "blake3".
func (Blake3) Name() string { return "blake3" }

// ByName returns the hash function registered under name.
// An empty name selects Keccak256.
func ByName(name string) (Function, error) {
	switch strings.ToLower(name) {
	case "", "keccak256", "keccak":
		return Keccak256{}, nil
	case "blake3":
		return Blake3{}, nil
	default:
		return nil, fmt.Errorf("unknown hash function %q", name)
	}
}

// String returns the lowercase hex encoding.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Short returns the hex encoding of the first 8 bytes, for logs.
func (h Hash) Short() string {
	return hex.EncodeToString(h[:8])
}

// IsZero reports whether every byte is zero.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// MarshalText encodes the hash as hex.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText decodes a hex hash, with or without a 0x prefix.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}

	*h = parsed

	return nil
}

// Parse decodes a 32-byte hex string, with or without a 0x prefix.
func Parse(s string) (Hash, error) {
	var h Hash

	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")

	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("decode hash:\n%w", err)
	}

	if len(b) != Size {
		return h, fmt.Errorf("invalid hash length: got %d, want %d", len(b), Size)
	}

	copy(h[:], b)

	return h, nil
}
