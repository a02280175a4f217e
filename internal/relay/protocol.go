package relay

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"Attestor/internal/hasher"
	"Attestor/internal/verifier"
	"Attestor/internal/weight"
)

const (
	// maxFrameSize is the maximum allowed frame size (1 MB).
	maxFrameSize = 1 << 20

	// lengthPrefixSize is the size of the length prefix in bytes.
	lengthPrefixSize = 4

	// alpnProtocol is the ALPN protocol identifier.
	alpnProtocol = "attestor-relay/1"
)

// Kind identifies a relay request.
type Kind byte

const (
	// KindSubmitSignature submits a SignatureRequest.
	KindSubmitSignature Kind = 1

	// KindSessionStatus queries a session with a SessionRequest.
	KindSessionStatus Kind = 2

	// KindOpenSession opens or fetches a session with a SessionRequest.
	KindOpenSession Kind = 3
)

// String returns the request name.
func (k Kind) String() string {
	switch k {
	case KindSubmitSignature:
		return "submit_signature"
	case KindSessionStatus:
		return "session_status"
	case KindOpenSession:
		return "open_session"
	default:
		return fmt.Sprintf("kind(%d)", byte(k))
	}
}

// Error codes carried in failed responses.
const (
	CodeReplay   = "replay"    // CodeReplay means the signer already signed the session
	CodeNotFound = "not_found" // CodeNotFound means the session or verifier set is unknown
	CodeRejected = "rejected"  // CodeRejected means the request was refused
	CodeInternal = "internal"  // CodeInternal means the relay failed to serve the request
)

// SessionRequest identifies a session.
type SessionRequest struct {
	PayloadRoot     hasher.Hash `json:"payloadRoot"`
	VerifierSetRoot hasher.Hash `json:"verifierSetRoot"`
}

// SignatureRequest submits one signer's contribution to a session.
type SignatureRequest struct {
	PayloadRoot     hasher.Hash `json:"payloadRoot"`
	VerifierSetRoot hasher.Hash `json:"verifierSetRoot"`
	verifier.SigningInfo
}

// SessionState is the progress of a session after a request.
type SessionState struct {
	State     string        `json:"state"`
	Threshold weight.Weight `json:"threshold"`
	Signers   []int         `json:"signers"`
	Valid     bool          `json:"valid"`
}

// Response answers every relay request.
type Response struct {
	OK    bool          `json:"ok"`
	Code  string        `json:"code,omitempty"`
	Error string        `json:"error,omitempty"`
	State *SessionState `json:"state,omitempty"`
}

// Error is a failed relay response.
type Error struct {
	Code    string // Code classifies the failure
	Message string // Message is the server's error text
}

func (e *Error) Error() string {
	return fmt.Sprintf("relay %s: %s", e.Code, e.Message)
}

// encodeRequest builds the frame body: kind byte then JSON.
func encodeRequest(kind Kind, body any) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s:\n%w", kind, err)
	}

	return append([]byte{byte(kind)}, data...), nil
}

// decodeRequest splits a frame body into its kind and JSON payload.
func decodeRequest(data []byte) (Kind, []byte, error) {
	if len(data) == 0 {
		return 0, nil, errors.New("empty request")
	}

	return Kind(data[0]), data[1:], nil
}

// writeFrame writes a length-prefixed frame to the writer.
// Format: [4 bytes big-endian length] [payload]
func writeFrame(w io.Writer, data []byte) error {
	if len(data) > maxFrameSize {
		return fmt.Errorf("frame too large: %d > %d", len(data), maxFrameSize)
	}

	var lengthBuf [lengthPrefixSize]byte
	binary.BigEndian.PutUint32(lengthBuf[:], uint32(len(data)))

	if _, err := w.Write(lengthBuf[:]); err != nil {
		return fmt.Errorf("write length:\n%w", err)
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write payload:\n%w", err)
	}

	return nil
}

// readFrame reads a length-prefixed frame from the reader.
func readFrame(r io.Reader) ([]byte, error) {
	var lengthBuf [lengthPrefixSize]byte

	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return nil, fmt.Errorf("read length:\n%w", err)
	}

	length := binary.BigEndian.Uint32(lengthBuf[:])
	if length > maxFrameSize {
		return nil, fmt.Errorf("frame too large: %d > %d", length, maxFrameSize)
	}

	data := make([]byte, length)

	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("read payload:\n%w", err)
	}

	return data, nil
}
