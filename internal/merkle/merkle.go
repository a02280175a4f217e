package merkle

import (
	"errors"
	"fmt"

	"Attestor/internal/hasher"
)

// ErrNoLeaves is returned when building a tree over an empty leaf list.
var ErrNoLeaves = errors.New("merkle tree requires at least one leaf")

// Tree is a binary Merkle tree over an ordered list of leaf digests.
// Adjacent nodes are hashed pairwise as H(left || right). When a level has
// an odd number of nodes, the last node is carried up unchanged.
type Tree struct {
	hash   hasher.Function // hash combines sibling pairs
	levels [][]hasher.Hash // levels[0] holds the leaves, the last level holds the root
}

// Build constructs the tree bottom-up.
func Build(h hasher.Function, leaves []hasher.Hash) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, ErrNoLeaves
	}

	level := make([]hasher.Hash, len(leaves))
	copy(level, leaves)

	levels := [][]hasher.Hash{level}

	for len(level) > 1 {
		next := make([]hasher.Hash, 0, (len(level)+1)/2)

		for i := 0; i+1 < len(level); i += 2 {
			next = append(next, h.Sum(level[i][:], level[i+1][:]))
		}

		// Odd node is promoted, not duplicated
		if len(level)%2 == 1 {
			next = append(next, level[len(level)-1])
		}

		levels = append(levels, next)
		level = next
	}

	return &Tree{hash: h, levels: levels}, nil
}

// Root returns the root digest.
func (t *Tree) Root() hasher.Hash {
	return t.levels[len(t.levels)-1][0]
}

// Len returns the number of leaves.
func (t *Tree) Len() int {
	return len(t.levels[0])
}

// Leaves returns a copy of the leaf digests.
func (t *Tree) Leaves() []hasher.Hash {
	out := make([]hasher.Hash, len(t.levels[0]))
	copy(out, t.levels[0])
	return out
}

// Proof returns the inclusion proof for the leaf at index.
func (t *Tree) Proof(index int) (Proof, error) {
	if index < 0 || index >= t.Len() {
		return nil, fmt.Errorf("leaf index %d out of range [0, %d)", index, t.Len())
	}

	var proof Proof

	for _, level := range t.levels[:len(t.levels)-1] {
		switch {
		case index%2 == 1:
			proof = append(proof, level[index-1])
		case index+1 < len(level):
			proof = append(proof, level[index+1])
		}

		index /= 2
	}

	return proof, nil
}

// Verify recomputes the root from leaf and proof and compares it to root.
// It returns false on out-of-range positions and on proofs with too few
// or too many siblings.
func Verify(h hasher.Function, root hasher.Hash, proof Proof, leaf hasher.Hash, position, setSize int) bool {
	if setSize <= 0 || position < 0 || position >= setSize {
		return false
	}

	node := leaf
	used := 0

	for n := setSize; n > 1; n = (n + 1) / 2 {
		switch {
		case position%2 == 1:
			if used >= len(proof) {
				return false
			}
			node = h.Sum(proof[used][:], node[:])
			used++
		case position+1 < n:
			if used >= len(proof) {
				return false
			}
			node = h.Sum(node[:], proof[used][:])
			used++
		}

		position /= 2
	}

	return used == len(proof) && node == root
}
