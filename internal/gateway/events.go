package gateway

import (
	"Attestor/internal/hasher"
	"Attestor/internal/logger"
)

// Event is a state change announced by the gateway after it is committed.
type Event interface {
	// Name returns the event's name as it appears in logs.
	Name() string
}

// SignersRotated announces a new current verifier set.
type SignersRotated struct {
	VerifierSetHash hasher.Hash `json:"verifierSetHash"`
	Epoch           uint64      `json:"epoch"`
}

// MessageApproved announces a message authenticated by a valid session.
type MessageApproved struct {
	CommandID          hasher.Hash `json:"commandId"`
	SourceChain        string      `json:"sourceChain"`
	MessageID          string      `json:"messageId"`
	SourceAddress      string      `json:"sourceAddress"`
	DestinationChain   string      `json:"destinationChain"`
	DestinationAddress string      `json:"destinationAddress"`
	PayloadHash        hasher.Hash `json:"payloadHash"`
}

// MessageExecuted announces a message consumed by its destination.
type MessageExecuted struct {
	CommandID   hasher.Hash `json:"commandId"`
	SourceChain string      `json:"sourceChain"`
	MessageID   string      `json:"messageId"`
}

// ContractCall announces an outgoing cross-chain call.
type ContractCall struct {
	Sender             string      `json:"sender"`
	DestinationChain   string      `json:"destinationChain"`
	DestinationAddress string      `json:"destinationAddress"`
	PayloadHash        hasher.Hash `json:"payloadHash"`
	Payload            []byte      `json:"payload"`
}

// OperatorshipTransferred announces a new operator.
type OperatorshipTransferred struct {
	Previous string `json:"previous"`
	Operator string `json:"operator"`
}

func (SignersRotated) Name() string          { return "signers_rotated" }
func (MessageApproved) Name() string         { return "message_approved" }
func (MessageExecuted) Name() string         { return "message_executed" }
func (ContractCall) Name() string            { return "contract_call" }
func (OperatorshipTransferred) Name() string { return "operatorship_transferred" }

// emit logs ev and hands it to the subscriber, if any.
func (g *Gateway) emit(ev Event) {
	switch e := ev.(type) {
	case SignersRotated:
		logger.Info("signers rotated", "vs", e.VerifierSetHash.Short(), "epoch", e.Epoch)
	case MessageApproved:
		logger.Info("message approved", "command", e.CommandID.Short(), "source", e.SourceChain, "id", e.MessageID)
	case MessageExecuted:
		logger.Info("message executed", "command", e.CommandID.Short(), "source", e.SourceChain, "id", e.MessageID)
	case ContractCall:
		logger.Info("contract call", "sender", e.Sender, "chain", e.DestinationChain, "payload", e.PayloadHash.Short())
	case OperatorshipTransferred:
		logger.Info("operatorship transferred", "from", e.Previous, "to", e.Operator)
	}

	if g.subscriber != nil {
		g.subscriber(ev)
	}
}
