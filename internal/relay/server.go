package relay

import (
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"Attestor/internal/gateway"
	"Attestor/internal/hasher"
	"Attestor/internal/logger"
	"Attestor/internal/session"
	"Attestor/internal/verifier"
)

const (
	// streamTimeout bounds one request/response exchange.
	streamTimeout = 10 * time.Second
)

// Gateway is the verification state the relay serves.
type Gateway interface {
	OpenOrGetSession(ctx context.Context, payloadRoot, verifierSetRoot hasher.Hash) (session.Key, error)
	ProcessSignature(ctx context.Context, key session.Key, info verifier.SigningInfo) error
	Session(ctx context.Context, key session.Key) (*session.Session, error)
}

// Config holds the configuration for a Server.
type Config struct {
	PrivateKey ed25519.PrivateKey // PrivateKey is the relay's ed25519 identity
	ListenAddr string             // ListenAddr is the address to listen on (e.g., ":9000")
	DedupTTL   time.Duration      // DedupTTL is how long accepted submissions are remembered
}

// Server accepts signature submissions from relayers over QUIC.
type Server struct {
	gateway    Gateway      // gateway processes the submissions
	listenAddr string       // listenAddr is the address to listen on
	tlsConfig  *tls.Config  // tlsConfig is the TLS configuration
	quicConfig *quic.Config // quicConfig is the QUIC configuration
	dedup      *Dedup       // dedup answers resubmitted accepted signatures as replays

	listener *quic.Listener // listener is the QUIC listener

	ctx    context.Context    // ctx is the server's context
	cancel context.CancelFunc // cancel cancels the server's context
	wg     sync.WaitGroup     // wg waits for goroutines to finish
}

// NewServer creates a relay server in front of gw.
func NewServer(cfg Config, gw Gateway) (*Server, error) {
	if cfg.PrivateKey == nil {
		return nil, errors.New("private key is required")
	}

	if cfg.ListenAddr == "" {
		return nil, errors.New("listen address is required")
	}

	tlsConf, err := tlsConfig(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("tls config:\n%w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		gateway:    gw,
		listenAddr: cfg.ListenAddr,
		tlsConfig:  tlsConf,
		quicConfig: &quic.Config{
			MaxIdleTimeout:  30 * time.Second,
			KeepAlivePeriod: 10 * time.Second,
		},
		dedup:  NewDedup(cfg.DedupTTL),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Addr returns the listener's address. Returns empty string if not started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}

	return s.listener.Addr().String()
}

// Start starts accepting connections.
func (s *Server) Start() error {
	listener, err := quic.ListenAddr(s.listenAddr, s.tlsConfig, s.quicConfig)
	if err != nil {
		return fmt.Errorf("listen:\n%w", err)
	}

	s.listener = listener

	s.wg.Add(1)
	go s.acceptLoop()

	logger.Info("relay started", "addr", s.Addr())

	return nil
}

// Close stops the server and waits for in-flight requests.
func (s *Server) Close() error {
	s.cancel()

	if s.listener != nil {
		s.listener.Close()
	}

	s.wg.Wait()
	s.dedup.Close()

	return nil
}

// acceptLoop accepts incoming connections.
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept(s.ctx)
		if err != nil {
			return
		}

		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

// serveConn serves every request stream of one relayer.
func (s *Server) serveConn(conn *quic.Conn) {
	defer s.wg.Done()

	pub, err := peerKey(conn.ConnectionState().TLS)
	if err != nil {
		conn.CloseWithError(1, "missing identity")
		return
	}

	peer := hex.EncodeToString(pub[:8])
	logger.Debug("relayer connected", "peer", peer, "addr", conn.RemoteAddr())

	for {
		stream, err := conn.AcceptStream(s.ctx)
		if err != nil {
			logger.Debug("relayer disconnected", "peer", peer, "error", err)
			conn.CloseWithError(0, "closed")
			return
		}

		s.wg.Add(1)
		go s.serveStream(peer, stream)
	}
}

// serveStream reads one request frame and writes the response frame.
func (s *Server) serveStream(peer string, stream *quic.Stream) {
	defer s.wg.Done()
	defer stream.Close()

	stream.SetDeadline(time.Now().Add(streamTimeout))

	data, err := readFrame(stream)
	if err != nil {
		logger.Debug("relay read failed", "peer", peer, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, streamTimeout)
	defer cancel()

	if err := writeFrame(stream, s.handle(ctx, data)); err != nil {
		logger.Debug("relay write failed", "peer", peer, "error", err)
	}
}

// handle answers one encoded request.
func (s *Server) handle(ctx context.Context, data []byte) []byte {
	kind, body, err := decodeRequest(data)
	if err != nil {
		return encodeResponse(failure(CodeRejected, err))
	}

	switch kind {
	case KindSubmitSignature:
		if s.dedup.Seen(data) {
			return encodeResponse(failure(CodeReplay, fmt.Errorf("%w: signature already accepted", session.ErrSlotAlreadyVerified)))
		}

		// Only accepted submissions are remembered. Rejections are decided
		// again on every attempt.
		resp := s.submitSignature(ctx, body)
		if resp.OK {
			s.dedup.Mark(data)
		}

		return encodeResponse(resp)

	case KindOpenSession:
		var req SessionRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return encodeResponse(failure(CodeRejected, err))
		}

		key, err := s.gateway.OpenOrGetSession(ctx, req.PayloadRoot, req.VerifierSetRoot)
		if err != nil {
			return encodeResponse(failure(codeFor(err), err))
		}

		return encodeResponse(s.sessionState(ctx, key))

	case KindSessionStatus:
		var req SessionRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return encodeResponse(failure(CodeRejected, err))
		}

		return encodeResponse(s.sessionState(ctx, session.Key{PayloadRoot: req.PayloadRoot, VerifierSetRoot: req.VerifierSetRoot}))

	default:
		return encodeResponse(failure(CodeRejected, fmt.Errorf("unknown request %s", kind)))
	}
}

// submitSignature forwards a signature to the gateway.
func (s *Server) submitSignature(ctx context.Context, body []byte) Response {
	var req SignatureRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return failure(CodeRejected, err)
	}

	key := session.Key{PayloadRoot: req.PayloadRoot, VerifierSetRoot: req.VerifierSetRoot}

	if err := s.gateway.ProcessSignature(ctx, key, req.SigningInfo); err != nil {
		return failure(codeFor(err), err)
	}

	return s.sessionState(ctx, key)
}

// sessionState reports the session under key.
func (s *Server) sessionState(ctx context.Context, key session.Key) Response {
	sess, err := s.gateway.Session(ctx, key)
	if err != nil {
		return failure(codeFor(err), err)
	}

	signers := sess.SignatureSlots.Positions()
	if signers == nil {
		signers = []int{}
	}

	return Response{
		OK: true,
		State: &SessionState{
			State:     sess.State().String(),
			Threshold: sess.AccumulatedThreshold,
			Signers:   signers,
			Valid:     sess.IsValid(),
		},
	}
}

// codeFor classifies a gateway error.
func codeFor(err error) string {
	switch {
	case errors.Is(err, session.ErrSlotAlreadyVerified):
		return CodeReplay
	case errors.Is(err, gateway.ErrSessionNotFound), errors.Is(err, gateway.ErrUnknownVerifierSet):
		return CodeNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeInternal
	case errors.Is(err, gateway.ErrNotInitialized):
		return CodeRejected
	}

	for _, target := range rejections {
		if errors.Is(err, target) {
			return CodeRejected
		}
	}

	logger.Error("relay request failed", "error", err)

	return CodeInternal
}

// rejections are errors caused by the submission itself.
var rejections = []error{
	session.ErrSlotOutOfBounds,
	session.ErrInvalidMerkleProof,
	session.ErrSignatureVerificationFailed,
	session.ErrVerifierSetMismatch,
	gateway.ErrInvalidDomainSeparator,
	gateway.ErrVerifierSetTooOld,
}

func failure(code string, err error) Response {
	return Response{Code: code, Error: err.Error()}
}

func encodeResponse(r Response) []byte {
	data, err := json.Marshal(r)
	if err != nil {
		data, _ = json.Marshal(failure(CodeInternal, err))
	}

	return data
}
