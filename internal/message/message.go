package message

import (
	"encoding/binary"

	"Attestor/internal/hasher"
)

var (
	// messageTag prefixes the hash of a message body.
	messageTag = []byte("message")

	// leafTag prefixes the hash of a message leaf. It differs from the
	// verifier set leaf tag.
	leafTag = []byte("message_leaf")

	// commandSeparator joins source chain and message id in command ids.
	commandSeparator = []byte("-")

	// rotationTag prefixes the payload root of a verifier set rotation.
	rotationTag = []byte("new verifier set")
)

// CrossChainID identifies a message on its source chain.
type CrossChainID struct {
	Chain string `json:"chain"` // Chain is the source chain name
	ID    string `json:"id"`    // ID is the message id on the source chain
}

// Message is a cross-chain call approved by the signer committee.
type Message struct {
	CCID               CrossChainID `json:"ccId"`               // CCID is the message's source identity
	SourceAddress      string       `json:"sourceAddress"`      // SourceAddress is the caller on the source chain
	DestinationChain   string       `json:"destinationChain"`   // DestinationChain is the target chain name
	DestinationAddress string       `json:"destinationAddress"` // DestinationAddress is the target contract
	PayloadHash        hasher.Hash  `json:"payloadHash"`        // PayloadHash is the hash of the call payload
}

// Hash returns the message digest. Strings are length-prefixed so that
// field boundaries are unambiguous.
func (m Message) Hash(h hasher.Function) hasher.Hash {
	buf := make([]byte, 0, 128)
	buf = appendString(buf, m.CCID.Chain)
	buf = appendString(buf, m.CCID.ID)
	buf = appendString(buf, m.SourceAddress)
	buf = appendString(buf, m.DestinationChain)
	buf = appendString(buf, m.DestinationAddress)

	return h.Sum(messageTag, buf, m.PayloadHash[:])
}

// CommandID returns H(chain || "-" || id), the key under which the
// message is approved.
func (m Message) CommandID(h hasher.Function) hasher.Hash {
	return h.Sum([]byte(m.CCID.Chain), commandSeparator, []byte(m.CCID.ID))
}

// Leaf places a message inside a payload batch.
type Leaf struct {
	Message            Message     `json:"message"`            // Message is the approved call
	Position           uint16      `json:"position"`           // Position is the message's index in the batch
	SetSize            uint16      `json:"setSize"`            // SetSize is the number of messages in the batch
	DomainSeparator    hasher.Hash `json:"domainSeparator"`    // DomainSeparator binds the batch to one gateway
	SigningVerifierSet hasher.Hash `json:"signingVerifierSet"` // SigningVerifierSet is the root of the committee that signs the batch
}

// Hash returns H(tag || message_hash || position || set_size || domain_separator || signing_verifier_set).
func (l Leaf) Hash(h hasher.Function) hasher.Hash {
	msg := l.Message.Hash(h)

	var pos [4]byte
	binary.BigEndian.PutUint16(pos[0:2], l.Position)
	binary.BigEndian.PutUint16(pos[2:4], l.SetSize)

	return h.Sum(leafTag, msg[:], pos[:], l.DomainSeparator[:], l.SigningVerifierSet[:])
}

// RotationPayloadHash returns the payload root a committee signs to
// rotate from signingRoot to newRoot.
func RotationPayloadHash(h hasher.Function, newRoot, signingRoot hasher.Hash) hasher.Hash {
	return h.Sum(rotationTag, newRoot[:], signingRoot[:])
}

// appendString appends a 4-byte big-endian length and the string bytes.
func appendString(buf []byte, s string) []byte {
	var l [4]byte
	binary.BigEndian.PutUint32(l[:], uint32(len(s)))

	buf = append(buf, l[:]...)

	return append(buf, s...)
}
