package signature

import (
	"bytes"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"Attestor/internal/hasher"
)

const (
	// SignatureSize is r (32) || s (32) || v (1).
	SignatureSize = 65

	// recoveryBase is the Ethereum recovery indicator offset.
	recoveryBase = 27

	// compactCompressedFlag marks a compact header as referring to a compressed key.
	compactCompressedFlag = 4
)

// offchainPrefix is prepended to every payload root before signing.
var offchainPrefix = []byte("\xffsolana offchain")

// Signature is a recoverable secp256k1 signature in Ethereum layout:
// r || s || v with v in {27, 28}.
type Signature [SignatureSize]byte

// PrefixedHash returns H(prefix || root), the digest signers actually sign.
func PrefixedHash(h hasher.Function, root hasher.Hash) hasher.Hash {
	return h.Sum(offchainPrefix, root[:])
}

// Check recovers the signer of digest from sig and reports whether it is pub.
// Recovery indicators other than 27 and 28 are rejected.
func Check(pub PublicKey, sig Signature, digest hasher.Hash) bool {
	v := sig[SignatureSize-1]
	if v != recoveryBase && v != recoveryBase+1 {
		return false
	}

	recid := v - recoveryBase

	// btcec expects <header> || r || s
	var compact [SignatureSize]byte
	compact[0] = recoveryBase + compactCompressedFlag + recid
	copy(compact[1:], sig[:SignatureSize-1])

	recovered, _, err := ecdsa.RecoverCompact(compact[:], digest[:])
	if err != nil {
		return false
	}

	claimed, err := secp256k1.ParsePubKey(pub[:])
	if err != nil {
		return false
	}

	// Compare the 64-byte uncompressed forms with the 0x04 prefix stripped
	return bytes.Equal(recovered.SerializeUncompressed()[1:], claimed.SerializeUncompressed()[1:])
}

// Sign produces an Ethereum-layout recoverable signature of digest.
func Sign(key *PrivateKey, digest hasher.Hash) Signature {
	compact := ecdsa.SignCompact(key, digest[:], true)

	var sig Signature
	copy(sig[:SignatureSize-1], compact[1:])
	sig[SignatureSize-1] = compact[0] - compactCompressedFlag

	return sig
}
