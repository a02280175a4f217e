package gateway

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"Attestor/internal/hasher"
	"Attestor/internal/session"
)

// Storage key prefixes. Every persisted gateway record lives under one of them.
var (
	PrefixConfig  = []byte("cfg:")
	PrefixTracker = []byte("vst:")
	PrefixSession = []byte("ses:")
	PrefixMessage = []byte("msg:")
)

// Prefixes lists every gateway key prefix.
func Prefixes() [][]byte {
	return [][]byte{PrefixConfig, PrefixTracker, PrefixSession, PrefixMessage}
}

// Config is the gateway's global state.
type Config struct {
	DomainSeparator              hasher.Hash   `json:"domainSeparator"`              // DomainSeparator binds leaves to this gateway
	CurrentEpoch                 uint64        `json:"currentEpoch"`                 // CurrentEpoch is the epoch of the latest verifier set
	PreviousVerifierSetRetention uint64        `json:"previousVerifierSetRetention"` // PreviousVerifierSetRetention is how many epochs a set stays usable
	MinimumRotationDelay         time.Duration `json:"minimumRotationDelay"`         // MinimumRotationDelay is the cooldown between non-operator rotations
	LastRotation                 time.Time     `json:"lastRotation"`                 // LastRotation is the time of the last rotation or of initialization
	Operator                     string        `json:"operator"`                     // Operator may rotate without cooldown and transfer operatorship
}

// Tracker records the epoch at which a verifier set became current.
type Tracker struct {
	Epoch           uint64      `json:"epoch"`           // Epoch is the set's epoch
	VerifierSetHash hasher.Hash `json:"verifierSetHash"` // VerifierSetHash is the set's root
}

// MessageStatus is the lifecycle state of an approved message.
type MessageStatus uint8

const (
	// Approved means the message was authenticated and awaits execution.
	Approved MessageStatus = iota

	// Executed means the destination consumed the message.
	Executed
)

// String returns the status name.
func (s MessageStatus) String() string {
	switch s {
	case Approved:
		return "approved"
	case Executed:
		return "executed"
	default:
		return "unknown"
	}
}

// MarshalText encodes the status name.
func (s MessageStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *MessageStatus) UnmarshalText(text []byte) error {
	switch string(text) {
	case "approved":
		*s = Approved
	case "executed":
		*s = Executed
	default:
		return fmt.Errorf("unknown message status %q", text)
	}

	return nil
}

// IncomingMessage is the record of an approved cross-chain message.
type IncomingMessage struct {
	Status      MessageStatus `json:"status"`      // Status is approved or executed
	CommandID   hasher.Hash   `json:"commandId"`   // CommandID is H(source chain || "-" || message id)
	MessageHash hasher.Hash   `json:"messageHash"` // MessageHash is the digest of the approved message
	PayloadHash hasher.Hash   `json:"payloadHash"` // PayloadHash is the hash of the call payload
}

// configKey is the single key holding the Config.
func configKey() []byte {
	return PrefixConfig
}

// trackerKey returns the key of the tracker for root.
func trackerKey(root hasher.Hash) []byte {
	return appendKey(PrefixTracker, root[:])
}

// sessionKey returns the key of the session identified by k.
func sessionKey(k session.Key) []byte {
	return appendKey(PrefixSession, k.Bytes())
}

// messageKey returns the key of the message record for commandID.
func messageKey(commandID hasher.Hash) []byte {
	return appendKey(PrefixMessage, commandID[:])
}

func appendKey(prefix, id []byte) []byte {
	key := make([]byte, 0, len(prefix)+len(id))
	key = append(key, prefix...)
	return append(key, id...)
}

// configFixedSize is the config size without the operator bytes:
// domain (32) || epoch (8) || retention (8) || delay (8) || last rotation (8) || operator length (2).
const configFixedSize = hasher.Size + 8*4 + 2

func encodeConfig(c Config) ([]byte, error) {
	if len(c.Operator) > math.MaxUint16 {
		return nil, fmt.Errorf("operator too long: %d bytes", len(c.Operator))
	}

	buf := make([]byte, 0, configFixedSize+len(c.Operator))
	buf = append(buf, c.DomainSeparator[:]...)
	buf = binary.BigEndian.AppendUint64(buf, c.CurrentEpoch)
	buf = binary.BigEndian.AppendUint64(buf, c.PreviousVerifierSetRetention)
	buf = binary.BigEndian.AppendUint64(buf, uint64(c.MinimumRotationDelay))
	buf = binary.BigEndian.AppendUint64(buf, uint64(c.LastRotation.UnixNano()))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(c.Operator)))
	buf = append(buf, c.Operator...)

	return buf, nil
}

func decodeConfig(data []byte) (Config, error) {
	if len(data) < configFixedSize {
		return Config{}, fmt.Errorf("config too short: %d bytes", len(data))
	}

	var c Config
	copy(c.DomainSeparator[:], data[:32])
	c.CurrentEpoch = binary.BigEndian.Uint64(data[32:40])
	c.PreviousVerifierSetRetention = binary.BigEndian.Uint64(data[40:48])
	c.MinimumRotationDelay = time.Duration(binary.BigEndian.Uint64(data[48:56]))
	c.LastRotation = time.Unix(0, int64(binary.BigEndian.Uint64(data[56:64])))

	n := int(binary.BigEndian.Uint16(data[64:66]))
	if len(data) != configFixedSize+n {
		return Config{}, fmt.Errorf("config size mismatch: got %d, want %d", len(data), configFixedSize+n)
	}
	c.Operator = string(data[66:])

	return c, nil
}

// trackerSize is epoch (8) || verifier set hash (32).
const trackerSize = 8 + hasher.Size

func encodeTracker(t Tracker) []byte {
	buf := make([]byte, 0, trackerSize)
	buf = binary.BigEndian.AppendUint64(buf, t.Epoch)
	return append(buf, t.VerifierSetHash[:]...)
}

func decodeTracker(data []byte) (Tracker, error) {
	if len(data) != trackerSize {
		return Tracker{}, fmt.Errorf("invalid tracker size: %d", len(data))
	}

	t := Tracker{Epoch: binary.BigEndian.Uint64(data[:8])}
	copy(t.VerifierSetHash[:], data[8:])

	return t, nil
}

// messageSize is status (1) || command id (32) || message hash (32) || payload hash (32).
const messageSize = 1 + 3*hasher.Size

func encodeMessage(m IncomingMessage) []byte {
	buf := make([]byte, 0, messageSize)
	buf = append(buf, byte(m.Status))
	buf = append(buf, m.CommandID[:]...)
	buf = append(buf, m.MessageHash[:]...)
	return append(buf, m.PayloadHash[:]...)
}

func decodeMessage(data []byte) (IncomingMessage, error) {
	if len(data) != messageSize {
		return IncomingMessage{}, fmt.Errorf("invalid message record size: %d", len(data))
	}

	if data[0] > byte(Executed) {
		return IncomingMessage{}, fmt.Errorf("invalid message status %d", data[0])
	}

	m := IncomingMessage{Status: MessageStatus(data[0])}
	copy(m.CommandID[:], data[1:33])
	copy(m.MessageHash[:], data[33:65])
	copy(m.PayloadHash[:], data[65:97])

	return m, nil
}
