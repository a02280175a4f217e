package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"Attestor/internal/hasher"
	"Attestor/internal/message"
	"Attestor/internal/signature"
)

// run executes the command tree with args and returns its output.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer

	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)

	err := cmd.Execute()

	return out.String(), err
}

func TestKeygenSignAndVerifierSet(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "signer.key")

	out, err := run(t, "keygen", "--out", keyPath)
	if err != nil {
		t.Fatalf("keygen failed: %v", err)
	}

	pub, err := signature.ParsePublicKey(strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("keygen printed %q: %v", out, err)
	}

	setPath := filepath.Join(dir, "set.yaml")
	set := fmt.Sprintf("nonce: 1\nquorum: 1\nsigners:\n  - public_key: %s\n    weight: 1\n", pub)
	if err := os.WriteFile(setPath, []byte(set), 0600); err != nil {
		t.Fatal(err)
	}

	domain := hasher.Keccak256{}.Sum([]byte("cli")).String()

	out, err = run(t, "verifier-set", setPath, "--domain", domain)
	if err != nil {
		t.Fatalf("verifier-set failed: %v", err)
	}

	if _, err := hasher.Parse(strings.Fields(out)[0]); err != nil || !strings.Contains(out, "signers=1 quorum=1") {
		t.Errorf("unexpected verifier-set output %q", out)
	}

	payload := hasher.Keccak256{}.Sum([]byte("payload"))

	out, err = run(t, "sign", payload.String(), "--key", keyPath)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	sig, err := signature.ParseSignature(strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("sign printed %q: %v", out, err)
	}

	if !signature.Check(pub, sig, signature.PrefixedHash(hasher.Keccak256{}, payload)) {
		t.Error("printed signature does not verify")
	}
}

func TestRotationPayload(t *testing.T) {
	h := hasher.Blake3{}
	a, b := h.Sum([]byte("a")), h.Sum([]byte("b"))

	out, err := run(t, "rotation-payload", a.String(), b.String(), "--hash", "blake3")
	if err != nil {
		t.Fatalf("rotation-payload failed: %v", err)
	}

	if strings.TrimSpace(out) != message.RotationPayloadHash(h, a, b).String() {
		t.Errorf("rotation-payload printed %q", out)
	}
}

func TestSubmitRequiresOneTarget(t *testing.T) {
	_, err := run(t, "submit", hasher.Hash{}.String(), "--key", "k", "--set", "s")
	if err == nil || !strings.Contains(err.Error(), "exactly one") {
		t.Errorf("expected target error, got %v", err)
	}
}

func TestVerifierSetNeedsDomain(t *testing.T) {
	if _, err := run(t, "verifier-set", "missing.yaml"); err == nil {
		t.Error("expected error without domain separator")
	}
}

func TestSnapshotExportImport(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "attestor.yaml")

	if err := os.WriteFile(cfgPath, []byte("data_dir: "+filepath.Join(dir, "data")+"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	file := filepath.Join(dir, "snap.zst")

	if _, err := run(t, "snapshot", "export", "--config", cfgPath, "--out", file); err != nil {
		t.Fatalf("export failed: %v", err)
	}

	out, err := run(t, "snapshot", "import", "--config", cfgPath, "--in", file)
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}

	if !strings.Contains(out, "imported 0 records") {
		t.Errorf("unexpected import output %q", out)
	}
}
