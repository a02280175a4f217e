package merkle

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"Attestor/internal/hasher"
)

// Proof is the ordered list of sibling digests from a leaf up to the root.
// Levels where the node is carried up unchanged contribute no sibling.
type Proof []hasher.Hash

// Bytes returns the concatenated 32-byte siblings.
func (p Proof) Bytes() []byte {
	out := make([]byte, 0, len(p)*hasher.Size)
	for _, h := range p {
		out = append(out, h[:]...)
	}
	return out
}

// ProofFromBytes decodes concatenated 32-byte siblings.
func ProofFromBytes(b []byte) (Proof, error) {
	if len(b)%hasher.Size != 0 {
		return nil, fmt.Errorf("proof length %d is not a multiple of %d", len(b), hasher.Size)
	}

	proof := make(Proof, len(b)/hasher.Size)
	for i := range proof {
		copy(proof[i][:], b[i*hasher.Size:])
	}

	return proof, nil
}

// MarshalJSON encodes the proof as a single hex string.
func (p Proof) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(p.Bytes()))
}

// UnmarshalJSON decodes a hex string produced by MarshalJSON.
func (p *Proof) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	raw, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("decode proof:\n%w", err)
	}

	proof, err := ProofFromBytes(raw)
	if err != nil {
		return err
	}

	*p = proof

	return nil
}
