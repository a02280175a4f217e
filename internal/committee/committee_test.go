package committee

import (
	"testing"

	"Attestor/internal/hasher"
	"Attestor/internal/merkle"
	"Attestor/internal/signature"
	"Attestor/internal/weight"
)

func TestSignProducesVerifiableInfo(t *testing.T) {
	h := hasher.Keccak256{}

	c, err := Generate(h, Uniform(4), weight.FromUint64(3), 1, hasher.Hash{})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	payload := h.Sum([]byte("payload"))

	infos, err := c.SignAll(payload)
	if err != nil {
		t.Fatalf("SignAll failed: %v", err)
	}

	if len(infos) != 4 {
		t.Fatalf("got %d infos, want 4", len(infos))
	}

	digest := signature.PrefixedHash(h, payload)

	for i, info := range infos {
		if int(info.Leaf.Position) != i {
			t.Errorf("info %d has position %d", i, info.Leaf.Position)
		}

		if !merkle.Verify(h, c.Root(), info.Proof, info.Leaf.Hash(h), i, 4) {
			t.Errorf("info %d proof did not verify", i)
		}

		if !signature.Check(info.Leaf.PublicKey, info.Signature, digest) {
			t.Errorf("info %d signature did not verify", i)
		}
	}

	if _, err := c.Sign(payload, 4); err == nil {
		t.Error("expected error for position 4")
	}
}

func TestNewRejectsMismatchedWeights(t *testing.T) {
	key, err := signature.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	_, err = New(hasher.Keccak256{}, []*signature.PrivateKey{key}, Uniform(2), weight.FromUint64(1), 0, hasher.Hash{})
	if err == nil {
		t.Error("expected error for mismatched weights")
	}
}
