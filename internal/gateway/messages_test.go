package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"Attestor/internal/committee"
	"Attestor/internal/message"
)

// testMessages returns n distinct messages from ethereum.
func testMessages(n int) []message.Message {
	msgs := make([]message.Message, n)
	for i := range msgs {
		msgs[i] = message.Message{
			CCID:               message.CrossChainID{Chain: "ethereum", ID: string(rune('a' + i))},
			SourceAddress:      "0xsender",
			DestinationChain:   "solana",
			DestinationAddress: "program",
			PayloadHash:        keccak.Sum([]byte{byte(i)}),
		}
	}
	return msgs
}

// approvedBatch builds a batch signed to quorum by c.
func approvedBatch(t *testing.T, f *fixture, c *committee.Committee, msgs []message.Message) *message.Batch {
	t.Helper()

	batch, err := message.NewBatch(keccak, msgs, domain, c.Root())
	if err != nil {
		t.Fatalf("NewBatch failed: %v", err)
	}

	signSession(t, f.gw, c, batch.Root())

	return batch
}

func merklized(t *testing.T, batch *message.Batch, i int) message.Merklized {
	t.Helper()

	m, err := batch.Merklized(i)
	if err != nil {
		t.Fatalf("Merklized(%d) failed: %v", i, err)
	}

	return m
}

func TestApproveAndValidate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := newCommittee(t, 3, 2)
	f.init(t, 1, 0, "", c.Root())

	msgs := testMessages(3)
	batch := approvedBatch(t, f, c, msgs)

	for i := range msgs {
		rec, err := f.gw.ApproveMessage(ctx, batch.Root(), merklized(t, batch, i))
		if err != nil {
			t.Fatalf("ApproveMessage(%d) failed: %v", i, err)
		}

		if rec.Status != Approved || rec.CommandID != msgs[i].CommandID(keccak) || rec.MessageHash != msgs[i].Hash(keccak) {
			t.Errorf("unexpected record %+v", rec)
		}

		ev, ok := f.lastEvent(t).(MessageApproved)
		if !ok || ev.MessageID != msgs[i].CCID.ID || ev.PayloadHash != msgs[i].PayloadHash {
			t.Errorf("unexpected event %+v", f.lastEvent(t))
		}
	}

	if _, err := f.gw.ApproveMessage(ctx, batch.Root(), merklized(t, batch, 0)); !errors.Is(err, ErrMessageAlreadyApproved) {
		t.Errorf("expected ErrMessageAlreadyApproved, got %v", err)
	}

	if err := f.gw.ValidateMessage(ctx, msgs[1]); err != nil {
		t.Fatalf("ValidateMessage failed: %v", err)
	}

	rec, err := f.gw.IncomingMessage(ctx, msgs[1].CommandID(keccak))
	if err != nil || rec == nil || rec.Status != Executed {
		t.Errorf("record after validation = %+v, %v", rec, err)
	}

	if err := f.gw.ValidateMessage(ctx, msgs[1]); !errors.Is(err, ErrMessageNotApproved) {
		t.Errorf("expected ErrMessageNotApproved on second validation, got %v", err)
	}

	if got := testutil.ToFloat64(f.gw.metrics.messages.WithLabelValues("approved")); got != 3 {
		t.Errorf("approved = %v, want 3", got)
	}

	if got := testutil.ToFloat64(f.gw.metrics.messages.WithLabelValues("executed")); got != 1 {
		t.Errorf("executed = %v, want 1", got)
	}
}

func TestValidateRejectsTamperedMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := newCommittee(t, 2, 2)
	f.init(t, 1, 0, "", c.Root())

	msgs := testMessages(1)
	batch := approvedBatch(t, f, c, msgs)

	if _, err := f.gw.ApproveMessage(ctx, batch.Root(), merklized(t, batch, 0)); err != nil {
		t.Fatalf("ApproveMessage failed: %v", err)
	}

	tampered := msgs[0]
	tampered.DestinationAddress = "attacker"

	if err := f.gw.ValidateMessage(ctx, tampered); !errors.Is(err, ErrInvalidMessageHash) {
		t.Errorf("expected ErrInvalidMessageHash, got %v", err)
	}

	unknown := testMessages(2)[1]
	if err := f.gw.ValidateMessage(ctx, unknown); !errors.Is(err, ErrMessageNotApproved) {
		t.Errorf("expected ErrMessageNotApproved, got %v", err)
	}

	rec, _ := f.gw.IncomingMessage(ctx, unknown.CommandID(keccak))
	if rec != nil {
		t.Errorf("unknown message has a record: %+v", rec)
	}
}

func TestApproveRequiresValidSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := newCommittee(t, 3, 3)
	f.init(t, 1, 0, "", c.Root())

	batch, err := message.NewBatch(keccak, testMessages(2), domain, c.Root())
	if err != nil {
		t.Fatalf("NewBatch failed: %v", err)
	}

	if _, err := f.gw.ApproveMessage(ctx, batch.Root(), merklized(t, batch, 0)); !errors.Is(err, ErrSessionNotValid) {
		t.Errorf("expected ErrSessionNotValid without session, got %v", err)
	}

	key, _ := f.gw.OpenOrGetSession(ctx, batch.Root(), c.Root())
	info, _ := c.Sign(batch.Root(), 0)
	f.gw.ProcessSignature(ctx, key, info)

	if _, err := f.gw.ApproveMessage(ctx, batch.Root(), merklized(t, batch, 0)); !errors.Is(err, ErrSessionNotValid) {
		t.Errorf("expected ErrSessionNotValid below quorum, got %v", err)
	}
}

func TestApproveRejectsForeignLeaf(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := newCommittee(t, 2, 2)
	f.init(t, 1, 0, "", c.Root())

	signed := approvedBatch(t, f, c, testMessages(2))

	other, err := message.NewBatch(keccak, testMessages(3), domain, c.Root())
	if err != nil {
		t.Fatalf("NewBatch failed: %v", err)
	}

	if _, err := f.gw.ApproveMessage(ctx, signed.Root(), merklized(t, other, 2)); !errors.Is(err, ErrLeafNotInPayload) {
		t.Errorf("expected ErrLeafNotInPayload, got %v", err)
	}

	m := merklized(t, signed, 0)
	m.Leaf.DomainSeparator = keccak.Sum([]byte("elsewhere"))

	if _, err := f.gw.ApproveMessage(ctx, signed.Root(), m); !errors.Is(err, ErrInvalidDomainSeparator) {
		t.Errorf("expected ErrInvalidDomainSeparator, got %v", err)
	}
}

func TestCallContract(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := newCommittee(t, 1, 1)

	if _, err := f.gw.CallContract(ctx, "alice", "ethereum", "0xdest", []byte("hi")); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("expected ErrNotInitialized, got %v", err)
	}

	f.init(t, 1, 0, "", c.Root())

	hash, err := f.gw.CallContract(ctx, "alice", "ethereum", "0xdest", []byte("hi"))
	if err != nil {
		t.Fatalf("CallContract failed: %v", err)
	}

	if hash != keccak.Sum([]byte("hi")) {
		t.Errorf("payload hash = %s", hash)
	}

	ev, ok := f.lastEvent(t).(ContractCall)
	if !ok || ev.Sender != "alice" || ev.PayloadHash != hash || string(ev.Payload) != "hi" {
		t.Errorf("unexpected event %+v", f.lastEvent(t))
	}
}
