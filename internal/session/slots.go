package session

import "math/bits"

// Capacity is the number of signer slots a session can track.
const Capacity = 256

// Slots is a bitmap of consumed signer positions, LSB-first within each
// byte: position i is bit i%8 of byte i/8.
type Slots [Capacity / 8]byte

// IsSet reports whether position i has been consumed.
// Positions outside the bitmap report false.
func (s *Slots) IsSet(i int) bool {
	if i < 0 || i >= Capacity {
		return false
	}

	return s[i/8]&(1<<(i%8)) != 0
}

// Set marks position i as consumed. Positions outside the bitmap are ignored.
func (s *Slots) Set(i int) {
	if i < 0 || i >= Capacity {
		return
	}

	s[i/8] |= 1 << (i % 8)
}

// Count returns the number of consumed positions.
func (s *Slots) Count() int {
	n := 0
	for _, b := range s {
		n += bits.OnesCount8(b)
	}
	return n
}

// Positions returns the consumed positions in ascending order.
func (s *Slots) Positions() []int {
	var positions []int

	for byteIdx, b := range s {
		for bit := 0; bit < 8; bit++ {
			if b&(1<<bit) != 0 {
				positions = append(positions, byteIdx*8+bit)
			}
		}
	}

	return positions
}
