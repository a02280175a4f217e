package weight

import (
	"encoding/binary"
	"fmt"

	"github.com/holiman/uint256"
)

// Bits is the width of a Weight.
const Bits = 128

// Weight is an unsigned 128-bit quantity (signer weights, quorums and
// accumulated thresholds). The zero value is 0.
type Weight struct {
	v uint256.Int // v never exceeds 2^128-1
}

var maxWeight = func() Weight {
	var w Weight
	w.v.SetAllOne()
	w.v.Rsh(&w.v, 256-Bits)
	return w
}()

// Max returns 2^128-1, the saturation point.
func Max() Weight {
	return maxWeight
}

// FromUint64 returns x as a Weight.
func FromUint64(x uint64) Weight {
	var w Weight
	w.v.SetUint64(x)
	return w
}

// Parse decodes a decimal or 0x-prefixed hex string.
func Parse(s string) (Weight, error) {
	var w Weight

	if err := w.v.UnmarshalText([]byte(s)); err != nil {
		return Weight{}, fmt.Errorf("parse weight %q:\n%w", s, err)
	}

	if w.v.BitLen() > Bits {
		return Weight{}, fmt.Errorf("weight %q exceeds %d bits", s, Bits)
	}

	return w, nil
}

// FromLE decodes a 16-byte little-endian value.
func FromLE(b [16]byte) Weight {
	var w Weight
	w.v[0] = binary.LittleEndian.Uint64(b[0:8])
	w.v[1] = binary.LittleEndian.Uint64(b[8:16])
	return w
}

// LE returns the 16-byte little-endian encoding.
func (w Weight) LE() [16]byte {
	var b [16]byte
	binary.LittleEndian.PutUint64(b[0:8], w.v[0])
	binary.LittleEndian.PutUint64(b[8:16], w.v[1])
	return b
}

// BE returns the 16-byte big-endian encoding.
func (w Weight) BE() [16]byte {
	var b [16]byte
	binary.BigEndian.PutUint64(b[0:8], w.v[1])
	binary.BigEndian.PutUint64(b[8:16], w.v[0])
	return b
}

// SaturatingAdd returns w+o, clamped to Max.
func (w Weight) SaturatingAdd(o Weight) Weight {
	var sum Weight
	sum.v.Add(&w.v, &o.v)

	if sum.v.Gt(&maxWeight.v) {
		return maxWeight
	}

	return sum
}

// Cmp returns -1, 0 or +1 depending on whether w is less than, equal to
// or greater than o.
func (w Weight) Cmp(o Weight) int {
	return w.v.Cmp(&o.v)
}

// IsZero reports whether w is 0.
func (w Weight) IsZero() bool {
	return w.v.IsZero()
}

// IsMax reports whether w is saturated.
func (w Weight) IsMax() bool {
	return w.v.Eq(&maxWeight.v)
}

// String returns the decimal representation.
func (w Weight) String() string {
	return w.v.Dec()
}

// MarshalText encodes w in decimal.
func (w Weight) MarshalText() ([]byte, error) {
	return []byte(w.v.Dec()), nil
}

// UnmarshalText accepts decimal or 0x-prefixed hex.
func (w *Weight) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}

	*w = parsed

	return nil
}
