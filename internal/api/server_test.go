package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"Attestor/internal/committee"
	"Attestor/internal/gateway"
	"Attestor/internal/hasher"
	"Attestor/internal/message"
	"Attestor/internal/storage"
	"Attestor/internal/weight"
)

var keccak = hasher.Keccak256{}

var domain = keccak.Sum([]byte("api-test"))

// testServer is an API over a real gateway.
type testServer struct {
	gw      *gateway.Gateway
	handler http.Handler
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()

	db, err := storage.New(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatalf("create storage: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	reg := prometheus.NewRegistry()
	gw := gateway.New(db, gateway.Options{Hash: keccak, Registerer: reg})

	if opts.Gatherer == nil {
		opts.Gatherer = reg
	}

	return &testServer{gw: gw, handler: New(":0", gw, opts).Handler()}
}

// initialize registers the committees as epochs 1..n.
func (s *testServer) initialize(t *testing.T, committees ...*committee.Committee) {
	t.Helper()

	roots := make([]hasher.Hash, len(committees))
	for i, c := range committees {
		roots[i] = c.Root()
	}

	err := s.gw.Initialize(context.Background(), gateway.InitParams{
		DomainSeparator:              domain,
		PreviousVerifierSetRetention: 2,
		VerifierSets:                 roots,
	})
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
}

// do sends a request and returns the recorder.
func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)

	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to parse response %q: %v", w.Body.String(), err)
	}

	return v
}

func newCommittee(t *testing.T, n int, quorum uint64) *committee.Committee {
	t.Helper()

	c, err := committee.Generate(keccak, committee.Uniform(n), weight.FromUint64(quorum), 1, domain)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	return c
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t, Options{})

	w := s.do(t, "GET", "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	if resp := decode[map[string]string](t, w); resp["status"] != "ok" {
		t.Errorf("expected status ok, got %s", resp["status"])
	}
}

func TestStatusBeforeInitialize(t *testing.T) {
	s := newTestServer(t, Options{})

	if w := s.do(t, "GET", "/status", nil); w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}

func TestStatus(t *testing.T) {
	s := newTestServer(t, Options{})
	c := newCommittee(t, 1, 1)
	s.initialize(t, c)

	w := s.do(t, "GET", "/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	resp := decode[StatusResponse](t, w)
	if resp.Hash != "keccak256" || resp.Config.CurrentEpoch != 1 || resp.Config.DomainSeparator != domain {
		t.Errorf("unexpected status %+v", resp)
	}

	w = s.do(t, "GET", "/verifier-sets/"+c.Root().String(), nil)
	if tr := decode[gateway.Tracker](t, w); w.Code != http.StatusOK || tr.Epoch != 1 {
		t.Errorf("tracker = %d %+v", w.Code, tr)
	}

	if w := s.do(t, "GET", "/verifier-sets/"+keccak.Sum([]byte("x")).String(), nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown tracker status = %d, want 404", w.Code)
	}
}

func TestSignatureFlow(t *testing.T) {
	s := newTestServer(t, Options{})
	c := newCommittee(t, 3, 2)
	s.initialize(t, c)

	msgs := []message.Message{{
		CCID:               message.CrossChainID{Chain: "ethereum", ID: "0x1-0"},
		SourceAddress:      "0xsender",
		DestinationChain:   "solana",
		DestinationAddress: "program",
		PayloadHash:        keccak.Sum([]byte("payload")),
	}}

	batch, err := message.NewBatch(keccak, msgs, domain, c.Root())
	if err != nil {
		t.Fatalf("NewBatch failed: %v", err)
	}

	open := SessionRequest{PayloadRoot: batch.Root(), VerifierSetRoot: c.Root()}

	w := s.do(t, "POST", "/sessions", open)
	if w.Code != http.StatusOK {
		t.Fatalf("open session: %d %s", w.Code, w.Body.String())
	}

	if resp := decode[SessionResponse](t, w); resp.State != "unverified" || len(resp.Signers) != 0 {
		t.Errorf("unexpected new session %+v", resp)
	}

	submit := func(position int) *httptest.ResponseRecorder {
		info, err := c.Sign(batch.Root(), position)
		if err != nil {
			t.Fatalf("Sign failed: %v", err)
		}
		return s.do(t, "POST", "/signatures", SignatureRequest{PayloadRoot: batch.Root(), VerifierSetRoot: c.Root(), SigningInfo: info})
	}

	w = submit(0)
	if w.Code != http.StatusAccepted {
		t.Fatalf("submit 0: %d %s", w.Code, w.Body.String())
	}

	if resp := decode[SessionResponse](t, w); resp.State != "partially_verified" || resp.Threshold.String() != "1" {
		t.Errorf("unexpected session %+v", resp)
	}

	if w := submit(0); w.Code != http.StatusConflict {
		t.Errorf("replay status = %d, want 409", w.Code)
	}

	tampered, _ := c.Sign(batch.Root(), 1)
	tampered.Signature[64] = 29
	w = s.do(t, "POST", "/signatures", SignatureRequest{PayloadRoot: batch.Root(), VerifierSetRoot: c.Root(), SigningInfo: tampered})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("bad recovery byte status = %d, want 422", w.Code)
	}

	if w := submit(2); w.Code != http.StatusAccepted {
		t.Fatalf("submit 2: %d %s", w.Code, w.Body.String())
	}

	w = s.do(t, "GET", "/sessions/"+batch.Root().String()+"/"+c.Root().String(), nil)
	resp := decode[SessionResponse](t, w)
	if !resp.Valid || resp.State != "valid" || len(resp.Signers) != 2 || resp.Signers[0] != 0 || resp.Signers[1] != 2 {
		t.Errorf("unexpected final session %+v", resp)
	}

	m, _ := batch.Merklized(0)
	w = s.do(t, "POST", "/messages/approve", ApproveRequest{PayloadRoot: batch.Root(), Merklized: m})
	if w.Code != http.StatusOK {
		t.Fatalf("approve: %d %s", w.Code, w.Body.String())
	}

	if w := s.do(t, "POST", "/messages/approve", ApproveRequest{PayloadRoot: batch.Root(), Merklized: m}); w.Code != http.StatusConflict {
		t.Errorf("second approve status = %d, want 409", w.Code)
	}

	commandID := msgs[0].CommandID(keccak)

	w = s.do(t, "GET", "/messages/"+commandID.String(), nil)
	if rec := decode[map[string]any](t, w); w.Code != http.StatusOK || rec["status"] != "approved" {
		t.Errorf("message = %d %v", w.Code, rec)
	}

	w = s.do(t, "POST", "/messages/validate", ValidateRequest{Message: msgs[0]})
	if rec := decode[map[string]any](t, w); w.Code != http.StatusOK || rec["status"] != "executed" {
		t.Errorf("validate = %d %v", w.Code, rec)
	}

	if w := s.do(t, "POST", "/messages/validate", ValidateRequest{Message: msgs[0]}); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("second validate status = %d, want 422", w.Code)
	}

	if w := s.do(t, "GET", "/messages/"+keccak.Sum([]byte("none")).String(), nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown message status = %d, want 404", w.Code)
	}

	w = s.do(t, "GET", "/metrics", nil)
	if !strings.Contains(w.Body.String(), `attestor_signatures_total{result="accepted"} 2`) {
		t.Errorf("metrics missing accepted signatures:\n%s", w.Body.String())
	}
}

func TestRotateEndpoint(t *testing.T) {
	s := newTestServer(t, Options{})
	a := newCommittee(t, 2, 2)
	b := newCommittee(t, 2, 2)
	s.initialize(t, a)

	req := RotateRequest{NewVerifierSetRoot: b.Root(), SigningVerifierSetRoot: a.Root()}

	if w := s.do(t, "POST", "/rotate", req); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("unsigned rotation status = %d, want 422", w.Code)
	}

	payload := message.RotationPayloadHash(keccak, b.Root(), a.Root())
	s.do(t, "POST", "/sessions", SessionRequest{PayloadRoot: payload, VerifierSetRoot: a.Root()})

	infos, _ := a.SignAll(payload)
	for _, info := range infos {
		w := s.do(t, "POST", "/signatures", SignatureRequest{PayloadRoot: payload, VerifierSetRoot: a.Root(), SigningInfo: info})
		if w.Code != http.StatusAccepted {
			t.Fatalf("submit: %d %s", w.Code, w.Body.String())
		}
	}

	w := s.do(t, "POST", "/rotate", req)
	if tr := decode[gateway.Tracker](t, w); w.Code != http.StatusOK || tr.Epoch != 2 || tr.VerifierSetHash != b.Root() {
		t.Errorf("rotate = %d %+v", w.Code, tr)
	}
}

func TestBadRequests(t *testing.T) {
	s := newTestServer(t, Options{})
	c := newCommittee(t, 1, 1)
	s.initialize(t, c)

	if w := s.do(t, "POST", "/sessions", "{not json"); w.Code != http.StatusBadRequest {
		t.Errorf("bad json status = %d, want 400", w.Code)
	}

	if w := s.do(t, "POST", "/sessions", `{"payloadRoot":"abcd"}`); w.Code != http.StatusBadRequest {
		t.Errorf("short hash status = %d, want 400", w.Code)
	}

	if w := s.do(t, "GET", "/sessions/zz/"+c.Root().String(), nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad path status = %d, want 400", w.Code)
	}

	open := SessionRequest{PayloadRoot: keccak.Sum([]byte("p")), VerifierSetRoot: keccak.Sum([]byte("unknown"))}
	if w := s.do(t, "POST", "/sessions", open); w.Code != http.StatusNotFound {
		t.Errorf("unknown set status = %d, want 404", w.Code)
	}

	if w := s.do(t, "GET", "/sessions/"+open.PayloadRoot.String()+"/"+c.Root().String(), nil); w.Code != http.StatusNotFound {
		t.Errorf("missing session status = %d, want 404", w.Code)
	}
}

func TestSnapshotEndpoint(t *testing.T) {
	s := newTestServer(t, Options{})
	if w := s.do(t, "GET", "/snapshot", nil); w.Code != http.StatusServiceUnavailable {
		t.Errorf("status without snapshot = %d, want 503", w.Code)
	}

	s = newTestServer(t, Options{Snapshot: func() ([]byte, error) { return []byte("zstd"), nil }})
	w := s.do(t, "GET", "/snapshot", nil)
	if w.Code != http.StatusOK || w.Body.String() != "zstd" || w.Header().Get("Content-Type") != "application/zstd" {
		t.Errorf("snapshot = %d %q", w.Code, w.Body.String())
	}
}
