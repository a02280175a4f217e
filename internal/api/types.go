package api

import (
	"Attestor/internal/gateway"
	"Attestor/internal/hasher"
	"Attestor/internal/message"
	"Attestor/internal/session"
	"Attestor/internal/verifier"
	"Attestor/internal/weight"
)

// SessionRequest identifies a verification session.
type SessionRequest struct {
	PayloadRoot     hasher.Hash `json:"payloadRoot"`
	VerifierSetRoot hasher.Hash `json:"verifierSetRoot"`
}

// SessionResponse describes a verification session.
type SessionResponse struct {
	PayloadRoot     hasher.Hash   `json:"payloadRoot"`
	VerifierSetRoot hasher.Hash   `json:"verifierSetRoot"`
	State           string        `json:"state"`
	Threshold       weight.Weight `json:"threshold"`
	Signers         []int         `json:"signers"`
	Valid           bool          `json:"valid"`
}

// SignatureRequest submits one signer's contribution to a session.
type SignatureRequest struct {
	PayloadRoot     hasher.Hash `json:"payloadRoot"`
	VerifierSetRoot hasher.Hash `json:"verifierSetRoot"`
	verifier.SigningInfo
}

// ApproveRequest approves one message of a verified payload.
type ApproveRequest struct {
	PayloadRoot hasher.Hash `json:"payloadRoot"`
	message.Merklized
}

// ValidateRequest marks an approved message as executed.
type ValidateRequest struct {
	Message message.Message `json:"message"`
}

// RotateRequest rotates to a new verifier set.
type RotateRequest struct {
	NewVerifierSetRoot     hasher.Hash `json:"newVerifierSetRoot"`
	SigningVerifierSetRoot hasher.Hash `json:"signingVerifierSetRoot"`
}

// StatusResponse is the gateway status.
type StatusResponse struct {
	Hash   string         `json:"hash"`
	Config gateway.Config `json:"config"`
}

// ErrorResponse carries a failure message.
type ErrorResponse struct {
	Error string `json:"error"`
}

// newSessionResponse describes s under key.
func newSessionResponse(key session.Key, s *session.Session) SessionResponse {
	signers := s.SignatureSlots.Positions()
	if signers == nil {
		signers = []int{}
	}

	return SessionResponse{
		PayloadRoot:     key.PayloadRoot,
		VerifierSetRoot: key.VerifierSetRoot,
		State:           s.State().String(),
		Threshold:       s.AccumulatedThreshold,
		Signers:         signers,
		Valid:           s.IsValid(),
	}
}
