package verifier

import (
	"bytes"
	"errors"
	"testing"

	"Attestor/internal/hasher"
	"Attestor/internal/merkle"
	"Attestor/internal/signature"
	"Attestor/internal/weight"
)

var keccak = hasher.Keccak256{}

// fakeKey returns 0x02 || b*32. Leaf hashing does not require curve points.
func fakeKey(b byte) signature.PublicKey {
	var pub signature.PublicKey
	pub[0] = 0x02
	copy(pub[1:], bytes.Repeat([]byte{b}, 32))
	return pub
}

// goldenSet builds the three-signer set used by the golden vectors.
func goldenSet(t *testing.T) *Set {
	t.Helper()

	signers := []Signer{
		{PublicKey: fakeKey(3), Weight: weight.FromUint64(1)},
		{PublicKey: fakeKey(1), Weight: weight.FromUint64(1)},
		{PublicKey: fakeKey(2), Weight: weight.FromUint64(1)},
	}

	set, err := New(keccak, 7, signers, weight.FromUint64(2), keccak.Sum([]byte("domain")))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	return set
}

func TestGoldenLeafAndRoot(t *testing.T) {
	set := goldenSet(t)

	if got := set.Leaf(0).Hash(keccak).String(); got != "da86a1343b64c9dfaf2e7f340b62179bdfce9c8f5d34b6f743ee6b6caf686f35" {
		t.Errorf("leaf 0 hash = %s", got)
	}

	if got := set.Root().String(); got != "3fabe1ca1685c9c73f8f185dce5d26b7c8ac3e21b4a4024fefe36e7fe082c514" {
		t.Errorf("root = %s", got)
	}
}

func TestSignersSortedByKey(t *testing.T) {
	set := goldenSet(t)

	for i := 0; i < set.Len(); i++ {
		leaf := set.Leaf(i)

		if leaf.PublicKey != fakeKey(byte(i+1)) {
			t.Errorf("position %d holds %s", i, leaf.PublicKey)
		}

		if int(leaf.Position) != i || leaf.SetSize != 3 {
			t.Errorf("leaf %d has position %d size %d", i, leaf.Position, leaf.SetSize)
		}

		if leaf.Quorum.Cmp(weight.FromUint64(2)) != 0 || leaf.Nonce != 7 {
			t.Errorf("leaf %d has quorum %s nonce %d", i, leaf.Quorum, leaf.Nonce)
		}
	}

	if set.Position(fakeKey(2)) != 1 {
		t.Errorf("Position(key2) = %d, want 1", set.Position(fakeKey(2)))
	}

	if set.Position(fakeKey(9)) != -1 {
		t.Error("non-member has a position")
	}
}

func TestRootIndependentOfInputOrder(t *testing.T) {
	a := goldenSet(t)

	signers := []Signer{
		{PublicKey: fakeKey(1), Weight: weight.FromUint64(1)},
		{PublicKey: fakeKey(2), Weight: weight.FromUint64(1)},
		{PublicKey: fakeKey(3), Weight: weight.FromUint64(1)},
	}

	b, err := New(keccak, 7, signers, weight.FromUint64(2), keccak.Sum([]byte("domain")))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if a.Root() != b.Root() {
		t.Error("root depends on input order")
	}
}

func TestRootCommitsToEveryField(t *testing.T) {
	base := goldenSet(t).Root()
	ds := keccak.Sum([]byte("domain"))

	signers := func(w uint64) []Signer {
		return []Signer{
			{PublicKey: fakeKey(1), Weight: weight.FromUint64(w)},
			{PublicKey: fakeKey(2), Weight: weight.FromUint64(1)},
			{PublicKey: fakeKey(3), Weight: weight.FromUint64(1)},
		}
	}

	variants := map[string]func() (*Set, error){
		"nonce":  func() (*Set, error) { return New(keccak, 8, signers(1), weight.FromUint64(2), ds) },
		"quorum": func() (*Set, error) { return New(keccak, 7, signers(1), weight.FromUint64(3), ds) },
		"weight": func() (*Set, error) { return New(keccak, 7, signers(2), weight.FromUint64(2), ds) },
		"domain": func() (*Set, error) { return New(keccak, 7, signers(1), weight.FromUint64(2), hasher.Hash{}) },
	}

	for name, build := range variants {
		set, err := build()
		if err != nil {
			t.Fatalf("%s: New failed: %v", name, err)
		}

		if set.Root() == base {
			t.Errorf("changing %s did not change the root", name)
		}
	}
}

func TestProofsVerify(t *testing.T) {
	set := goldenSet(t)

	for i := 0; i < set.Len(); i++ {
		proof, err := set.Proof(i)
		if err != nil {
			t.Fatalf("Proof(%d) failed: %v", i, err)
		}

		leaf := set.Leaf(i)
		if !merkle.Verify(keccak, set.Root(), proof, leaf.Hash(keccak), int(leaf.Position), int(leaf.SetSize)) {
			t.Errorf("proof for position %d did not verify", i)
		}
	}
}

func TestNewRejectsBadInput(t *testing.T) {
	ds := hasher.Hash{}
	one := weight.FromUint64(1)

	if _, err := New(keccak, 0, nil, one, ds); !errors.Is(err, ErrEmptySet) {
		t.Errorf("empty set: got %v", err)
	}

	dup := []Signer{{PublicKey: fakeKey(1), Weight: one}, {PublicKey: fakeKey(1), Weight: one}}
	if _, err := New(keccak, 0, dup, one, ds); !errors.Is(err, ErrDuplicateSigner) {
		t.Errorf("duplicate signer: got %v", err)
	}

	single := []Signer{{PublicKey: fakeKey(1), Weight: one}}
	if _, err := New(keccak, 0, single, weight.FromUint64(2), ds); !errors.Is(err, ErrInvalidQuorum) {
		t.Errorf("quorum above total: got %v", err)
	}

	if _, err := New(keccak, 0, single, weight.Weight{}, ds); !errors.Is(err, ErrInvalidQuorum) {
		t.Errorf("zero quorum: got %v", err)
	}
}

func TestSigningInfo(t *testing.T) {
	set := goldenSet(t)

	var sig signature.Signature
	sig[64] = 27

	info, err := set.SigningInfo(2, sig)
	if err != nil {
		t.Fatalf("SigningInfo failed: %v", err)
	}

	if info.Leaf.Position != 2 || info.Signature != sig || len(info.Proof) == 0 {
		t.Errorf("unexpected signing info: %+v", info)
	}

	if _, err := set.SigningInfo(3, sig); err == nil {
		t.Error("expected error for position 3")
	}
}
