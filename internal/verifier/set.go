package verifier

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"sort"

	"Attestor/internal/hasher"
	"Attestor/internal/merkle"
	"Attestor/internal/signature"
	"Attestor/internal/weight"
)

var (
	// ErrEmptySet is returned when a set has no signers.
	ErrEmptySet = errors.New("verifier set has no signers")

	// ErrSetTooLarge is returned when positions would not fit in 16 bits.
	ErrSetTooLarge = errors.New("verifier set too large")

	// ErrDuplicateSigner is returned when a public key appears twice.
	ErrDuplicateSigner = errors.New("duplicate signer")

	// ErrInvalidQuorum is returned for a zero quorum or one above the total weight.
	ErrInvalidQuorum = errors.New("invalid quorum")
)

// Signer is a committee member before it is placed in a set.
type Signer struct {
	PublicKey signature.PublicKey `json:"publicKey" yaml:"public_key"` // PublicKey is the compressed secp256k1 key
	Weight    weight.Weight       `json:"weight" yaml:"weight"`        // Weight is the voting weight
}

// Set is an immutable weighted committee identified by its Merkle root.
// Signers are ordered by public key, and a signer's index in that order is
// its position.
type Set struct {
	hash   hasher.Function // hash is the leaf and tree hash
	nonce  uint64          // nonce is shared by all leaves
	quorum weight.Weight   // quorum is shared by all leaves
	leaves []Leaf          // leaves are in position order
	tree   *merkle.Tree    // tree is built over the leaf hashes
}

// New builds a verifier set. The signers slice is not modified.
func New(h hasher.Function, nonce uint64, signers []Signer, quorum weight.Weight, domainSeparator hasher.Hash) (*Set, error) {
	if len(signers) == 0 {
		return nil, ErrEmptySet
	}

	if len(signers) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: %d signers", ErrSetTooLarge, len(signers))
	}

	sorted := make([]Signer, len(signers))
	copy(sorted, signers)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].PublicKey[:], sorted[j].PublicKey[:]) < 0
	})

	var total weight.Weight
	for i, s := range sorted {
		if i > 0 && s.PublicKey == sorted[i-1].PublicKey {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSigner, s.PublicKey)
		}
		total = total.SaturatingAdd(s.Weight)
	}

	if quorum.IsZero() || quorum.Cmp(total) > 0 {
		return nil, fmt.Errorf("%w: quorum %s, total weight %s", ErrInvalidQuorum, quorum, total)
	}

	leaves := make([]Leaf, len(sorted))
	hashes := make([]hasher.Hash, len(sorted))

	for i, s := range sorted {
		leaves[i] = Leaf{
			Nonce:           nonce,
			Quorum:          quorum,
			PublicKey:       s.PublicKey,
			Weight:          s.Weight,
			Position:        uint16(i),
			SetSize:         uint16(len(sorted)),
			DomainSeparator: domainSeparator,
		}
		hashes[i] = leaves[i].Hash(h)
	}

	tree, err := merkle.Build(h, hashes)
	if err != nil {
		return nil, fmt.Errorf("build verifier set tree:\n%w", err)
	}

	return &Set{
		hash:   h,
		nonce:  nonce,
		quorum: quorum,
		leaves: leaves,
		tree:   tree,
	}, nil
}

// Root returns the set's Merkle root, its content-addressed identity.
func (s *Set) Root() hasher.Hash {
	return s.tree.Root()
}

// Len returns the number of signers.
func (s *Set) Len() int {
	return len(s.leaves)
}

// Quorum returns the set's quorum.
func (s *Set) Quorum() weight.Weight {
	return s.quorum
}

// Nonce returns the set's nonce.
func (s *Set) Nonce() uint64 {
	return s.nonce
}

// Leaf returns the leaf at position i.
func (s *Set) Leaf(i int) Leaf {
	return s.leaves[i]
}

// Leaves returns a copy of the leaves in position order.
func (s *Set) Leaves() []Leaf {
	out := make([]Leaf, len(s.leaves))
	copy(out, s.leaves)
	return out
}

// Position returns the position of pub, or -1 if it is not a member.
func (s *Set) Position(pub signature.PublicKey) int {
	i := sort.Search(len(s.leaves), func(i int) bool {
		return bytes.Compare(s.leaves[i].PublicKey[:], pub[:]) >= 0
	})

	if i < len(s.leaves) && s.leaves[i].PublicKey == pub {
		return i
	}

	return -1
}

// Proof returns the membership proof for the leaf at position i.
func (s *Set) Proof(i int) (merkle.Proof, error) {
	return s.tree.Proof(i)
}

// SigningInfo bundles the leaf, proof and signature of the signer at
// position i, ready to submit into a verification session.
func (s *Set) SigningInfo(i int, sig signature.Signature) (SigningInfo, error) {
	proof, err := s.Proof(i)
	if err != nil {
		return SigningInfo{}, err
	}

	return SigningInfo{
		Leaf:      s.leaves[i],
		Proof:     proof,
		Signature: sig,
	}, nil
}

// SigningInfo is one signer's contribution to a verification session.
type SigningInfo struct {
	Leaf      Leaf                `json:"leaf"`      // Leaf is the signer's committed leaf
	Proof     merkle.Proof        `json:"proof"`     // Proof places Leaf under the verifier set root
	Signature signature.Signature `json:"signature"` // Signature signs the prefixed payload root
}
