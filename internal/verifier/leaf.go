package verifier

import (
	"encoding/binary"

	"Attestor/internal/hasher"
	"Attestor/internal/signature"
	"Attestor/internal/weight"
)

// leafTag separates verifier leaves from message leaves.
var leafTag = []byte("verifier_set_leaf")

// Leaf is one committee member as committed in the verifier set tree.
type Leaf struct {
	Nonce           uint64              `json:"nonce"`           // Nonce distinguishes sets with identical signers
	Quorum          weight.Weight       `json:"quorum"`          // Quorum is the weight required for the whole set
	PublicKey       signature.PublicKey `json:"publicKey"`       // PublicKey is the signer's compressed secp256k1 key
	Weight          weight.Weight       `json:"weight"`          // Weight is the signer's voting weight
	Position        uint16              `json:"position"`        // Position is the signer's slot in the set
	SetSize         uint16              `json:"setSize"`         // SetSize is the number of signers in the set
	DomainSeparator hasher.Hash         `json:"domainSeparator"` // DomainSeparator binds the leaf to one gateway
}

// Hash returns the leaf digest:
// H(tag || domain_separator || nonce || public_key || weight || position || set_size || quorum).
// Integers are big-endian.
func (l Leaf) Hash(h hasher.Function) hasher.Hash {
	var nonce [8]byte
	binary.BigEndian.PutUint64(nonce[:], l.Nonce)

	var pos [4]byte
	binary.BigEndian.PutUint16(pos[0:2], l.Position)
	binary.BigEndian.PutUint16(pos[2:4], l.SetSize)

	w := l.Weight.BE()
	q := l.Quorum.BE()

	return h.Sum(leafTag, l.DomainSeparator[:], nonce[:], l.PublicKey[:], w[:], pos[:], q[:])
}
