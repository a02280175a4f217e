package gateway

import (
	"testing"
	"time"
)

func TestConfigEncoding(t *testing.T) {
	c := Config{
		DomainSeparator:              keccak.Sum([]byte("d")),
		CurrentEpoch:                 9,
		PreviousVerifierSetRetention: 4,
		MinimumRotationDelay:         90 * time.Second,
		LastRotation:                 time.Unix(1_700_000_000, 123),
		Operator:                     "operator",
	}

	data, err := encodeConfig(c)
	if err != nil {
		t.Fatalf("encodeConfig failed: %v", err)
	}

	if len(data) != configFixedSize+len(c.Operator) {
		t.Fatalf("encoded size = %d", len(data))
	}

	got, err := decodeConfig(data)
	if err != nil {
		t.Fatalf("decodeConfig failed: %v", err)
	}

	if got.DomainSeparator != c.DomainSeparator || got.CurrentEpoch != 9 || got.PreviousVerifierSetRetention != 4 ||
		got.MinimumRotationDelay != c.MinimumRotationDelay || !got.LastRotation.Equal(c.LastRotation) || got.Operator != "operator" {
		t.Errorf("decoded %+v, want %+v", got, c)
	}

	if _, err := decodeConfig(data[:len(data)-1]); err == nil {
		t.Error("expected error for truncated config")
	}
}

func TestRecordDecodingRejectsBadInput(t *testing.T) {
	if _, err := decodeTracker(make([]byte, trackerSize-1)); err == nil {
		t.Error("expected error for short tracker")
	}

	data := encodeMessage(IncomingMessage{Status: Executed})
	data[0] = 7

	if _, err := decodeMessage(data); err == nil {
		t.Error("expected error for unknown status")
	}
}

func TestKeysUsePrefixes(t *testing.T) {
	root := keccak.Sum([]byte("r"))

	if k := trackerKey(root); string(k[:4]) != "vst:" || len(k) != 36 {
		t.Errorf("tracker key = %x", k)
	}

	if k := messageKey(root); string(k[:4]) != "msg:" || len(k) != 36 {
		t.Errorf("message key = %x", k)
	}
}

func TestLockTableReleasesEntries(t *testing.T) {
	table := newLockTable()

	unlock := table.lock([]byte("a"))
	if table.size() != 1 {
		t.Fatalf("size = %d, want 1", table.size())
	}

	done := make(chan struct{})
	go func() {
		table.lock([]byte("a"))()
		close(done)
	}()

	unlock()
	<-done

	if table.size() != 0 {
		t.Errorf("size = %d after release, want 0", table.size())
	}
}
