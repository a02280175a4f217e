package session

import (
	"errors"
	"fmt"

	"Attestor/internal/hasher"
	"Attestor/internal/merkle"
	"Attestor/internal/signature"
	"Attestor/internal/verifier"
	"Attestor/internal/weight"
)

var (
	// ErrSlotOutOfBounds is returned for positions at or above Capacity.
	ErrSlotOutOfBounds = errors.New("signature slot out of bounds")

	// ErrSlotAlreadyVerified is returned when a position signs twice.
	ErrSlotAlreadyVerified = errors.New("signature slot already verified")

	// ErrInvalidMerkleProof is returned when the leaf is not under the verifier set root.
	ErrInvalidMerkleProof = errors.New("invalid verifier set merkle proof")

	// ErrSignatureVerificationFailed is returned when the signature does not
	// recover to the leaf's public key.
	ErrSignatureVerificationFailed = errors.New("signature verification failed")

	// ErrVerifierSetMismatch is returned when the submission targets a
	// different verifier set than the session is bound to.
	ErrVerifierSetMismatch = errors.New("verifier set does not match session")
)

// State is the verification progress of a session.
type State uint8

const (
	// Unverified means no weight has been accumulated.
	Unverified State = iota

	// PartiallyVerified means some weight has been accumulated, below quorum.
	PartiallyVerified

	// Valid means quorum was reached. It is terminal.
	Valid
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Unverified:
		return "unverified"
	case PartiallyVerified:
		return "partially_verified"
	case Valid:
		return "valid"
	default:
		return "unknown"
	}
}

// Session accumulates signer weight for one payload root under one
// verifier set. Once the accumulated threshold reaches the quorum it is
// clamped to weight.Max, which is the only way a session becomes Valid.
type Session struct {
	AccumulatedThreshold   weight.Weight // AccumulatedThreshold is the credited weight, or Max once valid
	SignatureSlots         Slots         // SignatureSlots marks positions that already signed
	SigningVerifierSetHash hasher.Hash   // SigningVerifierSetHash is the verifier set this session is bound to
}

// New returns an empty session bound to verifierSetRoot.
func New(verifierSetRoot hasher.Hash) *Session {
	return &Session{SigningVerifierSetHash: verifierSetRoot}
}

// Process verifies one signer's contribution and credits its weight.
// Either every check passes and the session is updated, or an error is
// returned and the session is left untouched.
func (s *Session) Process(h hasher.Function, payloadRoot, verifierSetRoot hasher.Hash, info verifier.SigningInfo) error {
	leaf := info.Leaf
	pos := int(leaf.Position)

	if pos >= Capacity {
		return fmt.Errorf("%w: position %d", ErrSlotOutOfBounds, pos)
	}

	if s.SignatureSlots.IsSet(pos) {
		return fmt.Errorf("%w: position %d", ErrSlotAlreadyVerified, pos)
	}

	if !merkle.Verify(h, verifierSetRoot, info.Proof, leaf.Hash(h), pos, int(leaf.SetSize)) {
		return fmt.Errorf("%w: position %d", ErrInvalidMerkleProof, pos)
	}

	digest := signature.PrefixedHash(h, payloadRoot)
	if !signature.Check(leaf.PublicKey, info.Signature, digest) {
		return fmt.Errorf("%w: position %d", ErrSignatureVerificationFailed, pos)
	}

	threshold := s.AccumulatedThreshold.SaturatingAdd(leaf.Weight)
	if threshold.Cmp(leaf.Quorum) >= 0 {
		threshold = weight.Max()
	}

	slots := s.SignatureSlots
	slots.Set(pos)

	if s.SigningVerifierSetHash != verifierSetRoot {
		return fmt.Errorf("%w: session %s, submitted %s", ErrVerifierSetMismatch, s.SigningVerifierSetHash.Short(), verifierSetRoot.Short())
	}

	s.AccumulatedThreshold = threshold
	s.SignatureSlots = slots

	return nil
}

// IsValid reports whether quorum has been reached.
func (s *Session) IsValid() bool {
	return s.AccumulatedThreshold.IsMax()
}

// State returns the session's position in the state machine.
func (s *Session) State() State {
	switch {
	case s.AccumulatedThreshold.IsMax():
		return Valid
	case s.AccumulatedThreshold.IsZero():
		return Unverified
	default:
		return PartiallyVerified
	}
}

// Clone returns an independent copy.
func (s *Session) Clone() *Session {
	c := *s
	return &c
}
