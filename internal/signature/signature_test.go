package signature

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"

	"Attestor/internal/hasher"
)

var keccak = hasher.Keccak256{}

// testKey returns a deterministic private key derived from seed.
func testKey(seed byte) *PrivateKey {
	raw := bytes.Repeat([]byte{seed}, 32)
	key, _ := btcec.PrivKeyFromBytes(raw)
	return key
}

func TestPrefixedHashGolden(t *testing.T) {
	got := PrefixedHash(keccak, hasher.Hash{}).String()
	want := "2a7a7ae004a7db84f03ebd9c890102d1a456d897dbc3ef590acece32f899eb8d"

	if got != want {
		t.Errorf("PrefixedHash(zero) = %s, want %s", got, want)
	}
}

func TestPrefixedHashDiffersFromRaw(t *testing.T) {
	root := keccak.Sum([]byte("root"))

	if PrefixedHash(keccak, root) == keccak.Sum(root[:]) {
		t.Error("prefixed hash equals unprefixed hash")
	}
}

func TestSignAndCheck(t *testing.T) {
	key := testKey(1)
	pub := PublicKeyOf(key)
	digest := PrefixedHash(keccak, keccak.Sum([]byte("payload")))

	sig := Sign(key, digest)

	if v := sig[SignatureSize-1]; v != 27 && v != 28 {
		t.Fatalf("recovery byte = %d, want 27 or 28", v)
	}

	if !Check(pub, sig, digest) {
		t.Error("valid signature rejected")
	}
}

func TestCheckWrongKey(t *testing.T) {
	digest := keccak.Sum([]byte("payload"))
	sig := Sign(testKey(1), digest)

	if Check(PublicKeyOf(testKey(2)), sig, digest) {
		t.Error("signature accepted for a different key")
	}
}

func TestCheckWrongDigest(t *testing.T) {
	key := testKey(1)
	sig := Sign(key, keccak.Sum([]byte("a")))

	if Check(PublicKeyOf(key), sig, keccak.Sum([]byte("b"))) {
		t.Error("signature accepted for a different digest")
	}
}

func TestCheckRejectsBadRecoveryByte(t *testing.T) {
	key := testKey(3)
	pub := PublicKeyOf(key)
	digest := keccak.Sum([]byte("payload"))
	sig := Sign(key, digest)

	// The raw recovery id (0 or 1) is not accepted, even when it is the right one
	raw := sig
	raw[SignatureSize-1] -= 27
	if Check(pub, raw, digest) {
		t.Error("raw recovery id accepted")
	}

	for _, v := range []byte{2, 26, 29, 31, 35, 36, 255} {
		bad := sig
		bad[SignatureSize-1] = v

		if Check(pub, bad, digest) {
			t.Errorf("recovery byte %d accepted", v)
		}
	}
}

func TestCheckFlippedRecoveryByte(t *testing.T) {
	key := testKey(4)
	digest := keccak.Sum([]byte("payload"))
	sig := Sign(key, digest)

	// Flipping 27<->28 recovers a different key
	sig[SignatureSize-1] ^= 0x07
	if Check(PublicKeyOf(key), sig, digest) {
		t.Error("signature with flipped recovery id accepted")
	}
}

func TestCheckMalformedSignature(t *testing.T) {
	var sig Signature
	sig[SignatureSize-1] = 27

	if Check(PublicKeyOf(testKey(1)), sig, keccak.Sum([]byte("x"))) {
		t.Error("zero r/s accepted")
	}
}

func TestCheckInvalidPublicKey(t *testing.T) {
	digest := keccak.Sum([]byte("payload"))
	sig := Sign(testKey(1), digest)

	var pub PublicKey
	pub[0] = 0x05

	if Check(pub, sig, digest) {
		t.Error("invalid public key accepted")
	}
}

func TestKeyEncoding(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}

	parsed, err := ParsePrivateKey("0x" + EncodePrivateKey(key))
	if err != nil {
		t.Fatalf("ParsePrivateKey failed: %v", err)
	}

	if PublicKeyOf(parsed) != PublicKeyOf(key) {
		t.Error("private key did not round trip")
	}

	pub := PublicKeyOf(key)
	if pub[0] != 0x02 && pub[0] != 0x03 {
		t.Errorf("public key prefix = %x, want 02 or 03", pub[0])
	}

	parsedPub, err := ParsePublicKey(pub.String())
	if err != nil {
		t.Fatalf("ParsePublicKey failed: %v", err)
	}

	if parsedPub != pub {
		t.Error("public key did not round trip")
	}

	if _, err := ParsePublicKey("02" + string(bytes.Repeat([]byte("00"), 31))); err == nil {
		t.Error("expected error for short public key")
	}

	if _, err := ParsePrivateKey("abcd"); err == nil {
		t.Error("expected error for short private key")
	}
}

func TestSignatureText(t *testing.T) {
	digest := keccak.Sum([]byte("text"))
	sig := Sign(testKey(7), digest)

	text, _ := sig.MarshalText()

	var decoded Signature
	if err := decoded.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText failed: %v", err)
	}

	if decoded != sig {
		t.Error("signature did not round trip")
	}

	if _, err := ParseSignature("00"); err == nil {
		t.Error("expected error for short signature")
	}
}
