package relay

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	for _, payload := range [][]byte{{}, []byte("hello"), bytes.Repeat([]byte{7}, 70000)} {
		if err := writeFrame(&buf, payload); err != nil {
			t.Fatalf("writeFrame failed: %v", err)
		}
	}

	for _, want := range []int{0, 5, 70000} {
		got, err := readFrame(&buf)
		if err != nil {
			t.Fatalf("readFrame failed: %v", err)
		}

		if len(got) != want {
			t.Errorf("frame length %d, want %d", len(got), want)
		}
	}
}

func TestFrameLimits(t *testing.T) {
	if err := writeFrame(&bytes.Buffer{}, make([]byte, maxFrameSize+1)); err == nil {
		t.Error("expected error for oversized frame")
	}

	header := []byte{0xff, 0xff, 0xff, 0xff}
	if _, err := readFrame(bytes.NewReader(header)); err == nil {
		t.Error("expected error for oversized length prefix")
	}

	if _, err := readFrame(bytes.NewReader([]byte{0, 0, 0, 4, 1})); err == nil {
		t.Error("expected error for truncated frame")
	}
}

func TestRequestEncoding(t *testing.T) {
	data, err := encodeRequest(KindSessionStatus, SessionRequest{})
	if err != nil {
		t.Fatalf("encodeRequest failed: %v", err)
	}

	kind, body, err := decodeRequest(data)
	if err != nil {
		t.Fatalf("decodeRequest failed: %v", err)
	}

	if kind != KindSessionStatus || body[0] != '{' {
		t.Errorf("decoded %s %q", kind, body)
	}

	if KindSubmitSignature.String() != "submit_signature" || Kind(9).String() != "kind(9)" {
		t.Error("unexpected kind names")
	}
}

func TestDedup(t *testing.T) {
	d := NewDedup(100 * time.Millisecond)
	defer d.Close()

	if d.Seen([]byte("req")) {
		t.Fatal("unexpected hit on empty cache")
	}

	d.Mark([]byte("req"))

	if !d.Seen([]byte("req")) {
		t.Fatal("marked request not seen")
	}

	if d.Seen([]byte("other")) {
		t.Error("unexpected hit for different request")
	}

	time.Sleep(150 * time.Millisecond)

	if d.Seen([]byte("req")) {
		t.Error("expected expired entry to miss")
	}

	// cleanup runs every second
	time.Sleep(cleanupInterval + 100*time.Millisecond)

	if d.Len() != 0 {
		t.Errorf("expected cleanup to remove entry, %d left", d.Len())
	}
}

func TestLoadOrGenerateKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "relay.key")

	first, err := LoadOrGenerateKey(path)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	second, err := LoadOrGenerateKey(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if !first.Equal(second) {
		t.Error("reloaded key differs")
	}

	if err := os.WriteFile(path, []byte("zz"), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadOrGenerateKey(path); err == nil {
		t.Error("expected error for corrupt key file")
	}
}
