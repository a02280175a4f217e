package message

import (
	"errors"
	"fmt"
	"math"

	"Attestor/internal/hasher"
	"Attestor/internal/merkle"
)

// ErrEmptyBatch is returned when a batch has no messages.
var ErrEmptyBatch = errors.New("message batch is empty")

// Merklized is a message leaf together with its proof under the payload root.
type Merklized struct {
	Leaf  Leaf         `json:"leaf"`  // Leaf is the committed message leaf
	Proof merkle.Proof `json:"proof"` // Proof places Leaf under the payload root
}

// Batch is an ordered set of messages committed under one payload root.
type Batch struct {
	leaves []Leaf       // leaves are in batch order
	tree   *merkle.Tree // tree is built over the leaf hashes
}

// NewBatch builds the payload tree for msgs, to be signed by the verifier
// set with root signingRoot.
func NewBatch(h hasher.Function, msgs []Message, domainSeparator, signingRoot hasher.Hash) (*Batch, error) {
	if len(msgs) == 0 {
		return nil, ErrEmptyBatch
	}

	if len(msgs) > math.MaxUint16 {
		return nil, fmt.Errorf("batch too large: %d messages", len(msgs))
	}

	leaves := make([]Leaf, len(msgs))
	hashes := make([]hasher.Hash, len(msgs))

	for i, m := range msgs {
		leaves[i] = Leaf{
			Message:            m,
			Position:           uint16(i),
			SetSize:            uint16(len(msgs)),
			DomainSeparator:    domainSeparator,
			SigningVerifierSet: signingRoot,
		}
		hashes[i] = leaves[i].Hash(h)
	}

	tree, err := merkle.Build(h, hashes)
	if err != nil {
		return nil, fmt.Errorf("build payload tree:\n%w", err)
	}

	return &Batch{leaves: leaves, tree: tree}, nil
}

// Root returns the payload root signers sign over.
func (b *Batch) Root() hasher.Hash {
	return b.tree.Root()
}

// Len returns the number of messages.
func (b *Batch) Len() int {
	return len(b.leaves)
}

// Merklized returns the leaf and proof of message i.
func (b *Batch) Merklized(i int) (Merklized, error) {
	proof, err := b.tree.Proof(i)
	if err != nil {
		return Merklized{}, err
	}

	return Merklized{Leaf: b.leaves[i], Proof: proof}, nil
}

// Verify reports whether m is committed under payloadRoot.
func (m Merklized) Verify(h hasher.Function, payloadRoot hasher.Hash) bool {
	return merkle.Verify(h, payloadRoot, m.Proof, m.Leaf.Hash(h), int(m.Leaf.Position), int(m.Leaf.SetSize))
}
