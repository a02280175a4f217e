package gateway

import (
	"context"
	"fmt"

	"Attestor/internal/hasher"
	"Attestor/internal/message"
	"Attestor/internal/session"
)

// ApproveMessage records a message committed under payloadRoot. The
// session for payloadRoot under the message's signing verifier set must
// be valid.
func (g *Gateway) ApproveMessage(ctx context.Context, payloadRoot hasher.Hash, m message.Merklized) (IncomingMessage, error) {
	if err := ctx.Err(); err != nil {
		return IncomingMessage{}, err
	}

	rec, ev, err := g.approveMessage(payloadRoot, m)
	if err != nil {
		return IncomingMessage{}, err
	}

	g.emit(ev)

	return rec, nil
}

func (g *Gateway) approveMessage(payloadRoot hasher.Hash, m message.Merklized) (IncomingMessage, MessageApproved, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return IncomingMessage{}, MessageApproved{}, err
	}

	key := session.Key{PayloadRoot: payloadRoot, VerifierSetRoot: m.Leaf.SigningVerifierSet}

	s, err := g.loadSession(key)
	if err != nil {
		return IncomingMessage{}, MessageApproved{}, fmt.Errorf("%w:\n%w", ErrSessionNotValid, err)
	}

	if !s.IsValid() {
		return IncomingMessage{}, MessageApproved{}, fmt.Errorf("%w: %s", ErrSessionNotValid, key)
	}

	if s.SigningVerifierSetHash != m.Leaf.SigningVerifierSet {
		return IncomingMessage{}, MessageApproved{}, session.ErrVerifierSetMismatch
	}

	if m.Leaf.DomainSeparator != cfg.DomainSeparator {
		return IncomingMessage{}, MessageApproved{}, ErrInvalidDomainSeparator
	}

	if !m.Verify(g.hash, payloadRoot) {
		return IncomingMessage{}, MessageApproved{}, fmt.Errorf("%w: position %d", ErrLeafNotInPayload, m.Leaf.Position)
	}

	msg := m.Leaf.Message
	commandID := msg.CommandID(g.hash)

	dbKey := messageKey(commandID)
	unlock := g.locks.lock(dbKey)
	defer unlock()

	if ok, err := g.db.Has(dbKey); err != nil {
		return IncomingMessage{}, MessageApproved{}, fmt.Errorf("load message:\n%w", err)
	} else if ok {
		return IncomingMessage{}, MessageApproved{}, fmt.Errorf("%w: %s", ErrMessageAlreadyApproved, commandID.Short())
	}

	rec := IncomingMessage{
		Status:      Approved,
		CommandID:   commandID,
		MessageHash: msg.Hash(g.hash),
		PayloadHash: msg.PayloadHash,
	}

	if err := g.set(dbKey, encodeMessage(rec)); err != nil {
		return IncomingMessage{}, MessageApproved{}, fmt.Errorf("store message %s:\n%w", commandID.Short(), err)
	}

	g.metrics.messages.WithLabelValues(Approved.String()).Inc()

	ev := MessageApproved{
		CommandID:          commandID,
		SourceChain:        msg.CCID.Chain,
		MessageID:          msg.CCID.ID,
		SourceAddress:      msg.SourceAddress,
		DestinationChain:   msg.DestinationChain,
		DestinationAddress: msg.DestinationAddress,
		PayloadHash:        msg.PayloadHash,
	}

	return rec, ev, nil
}

// ValidateMessage marks an approved message as executed. The message must
// hash to the approved message hash.
func (g *Gateway) ValidateMessage(ctx context.Context, msg message.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ev, err := g.validateMessage(msg)
	if err != nil {
		return err
	}

	g.emit(ev)

	return nil
}

func (g *Gateway) validateMessage(msg message.Message) (MessageExecuted, error) {
	commandID := msg.CommandID(g.hash)

	dbKey := messageKey(commandID)
	unlock := g.locks.lock(dbKey)
	defer unlock()

	rec, err := g.loadMessage(commandID)
	if err != nil {
		return MessageExecuted{}, err
	}

	if rec == nil || rec.Status != Approved {
		return MessageExecuted{}, fmt.Errorf("%w: %s", ErrMessageNotApproved, commandID.Short())
	}

	if rec.MessageHash != msg.Hash(g.hash) {
		return MessageExecuted{}, fmt.Errorf("%w: %s", ErrInvalidMessageHash, commandID.Short())
	}

	rec.Status = Executed

	if err := g.set(dbKey, encodeMessage(*rec)); err != nil {
		return MessageExecuted{}, fmt.Errorf("store message %s:\n%w", commandID.Short(), err)
	}

	g.metrics.messages.WithLabelValues(Executed.String()).Inc()

	return MessageExecuted{CommandID: commandID, SourceChain: msg.CCID.Chain, MessageID: msg.CCID.ID}, nil
}

// IncomingMessage returns the record of the message with commandID, or
// nil if it was never approved.
func (g *Gateway) IncomingMessage(ctx context.Context, commandID hasher.Hash) (*IncomingMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return g.loadMessage(commandID)
}

// CallContract announces an outgoing call and returns its payload hash.
// Nothing is stored.
func (g *Gateway) CallContract(ctx context.Context, sender, destinationChain, destinationAddress string, payload []byte) (hasher.Hash, error) {
	if err := ctx.Err(); err != nil {
		return hasher.Hash{}, err
	}

	if _, err := g.loadConfig(); err != nil {
		return hasher.Hash{}, err
	}

	payloadHash := g.hash.Sum(payload)

	g.emit(ContractCall{
		Sender:             sender,
		DestinationChain:   destinationChain,
		DestinationAddress: destinationAddress,
		PayloadHash:        payloadHash,
		Payload:            payload,
	})

	return payloadHash, nil
}

func (g *Gateway) loadMessage(commandID hasher.Hash) (*IncomingMessage, error) {
	data, err := g.db.Get(messageKey(commandID))
	if err != nil {
		return nil, fmt.Errorf("load message %s:\n%w", commandID.Short(), err)
	}

	if data == nil {
		return nil, nil
	}

	rec, err := decodeMessage(data)
	if err != nil {
		return nil, err
	}

	return &rec, nil
}
