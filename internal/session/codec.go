package session

import (
	"fmt"

	"Attestor/internal/hasher"
	"Attestor/internal/weight"
)

// EncodedSize is the length of an encoded session:
// threshold (16, little-endian) || slots (32) || verifier set hash (32).
const EncodedSize = 16 + Capacity/8 + hasher.Size

// Encode serializes the session into its fixed binary layout.
func (s *Session) Encode() []byte {
	buf := make([]byte, 0, EncodedSize)

	threshold := s.AccumulatedThreshold.LE()
	buf = append(buf, threshold[:]...)
	buf = append(buf, s.SignatureSlots[:]...)
	buf = append(buf, s.SigningVerifierSetHash[:]...)

	return buf
}

// Decode parses a session produced by Encode.
func Decode(data []byte) (*Session, error) {
	if len(data) != EncodedSize {
		return nil, fmt.Errorf("invalid session size: got %d, want %d", len(data), EncodedSize)
	}

	var threshold [16]byte
	copy(threshold[:], data[0:16])

	s := &Session{AccumulatedThreshold: weight.FromLE(threshold)}
	copy(s.SignatureSlots[:], data[16:48])
	copy(s.SigningVerifierSetHash[:], data[48:80])

	return s, nil
}

// Key identifies a session by the payload it authenticates and the
// verifier set it is bound to.
type Key struct {
	PayloadRoot     hasher.Hash // PayloadRoot is the Merkle root of the payload batch
	VerifierSetRoot hasher.Hash // VerifierSetRoot is the signing verifier set
}

// Bytes returns PayloadRoot || VerifierSetRoot.
func (k Key) Bytes() []byte {
	out := make([]byte, 0, 2*hasher.Size)
	out = append(out, k.PayloadRoot[:]...)
	out = append(out, k.VerifierSetRoot[:]...)
	return out
}

// String returns a short form for logs.
func (k Key) String() string {
	return k.PayloadRoot.Short() + "/" + k.VerifierSetRoot.Short()
}
