package relay

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"Attestor/internal/hasher"
	"Attestor/internal/verifier"
)

const (
	// defaultRequestTimeout is the timeout for requests without a deadline.
	defaultRequestTimeout = 30 * time.Second
)

// Client submits signatures to a relay server over one QUIC connection.
type Client struct {
	conn   *quic.Conn        // conn is the connection to the relay
	server ed25519.PublicKey // server is the relay's identity
	mu     sync.Mutex        // mu guards closed
	closed bool              // closed reports whether Close was called
}

// Dial connects to the relay at addr. A nil key uses a fresh identity.
func Dial(ctx context.Context, addr string, key ed25519.PrivateKey) (*Client, error) {
	if key == nil {
		var err error
		if _, key, err = ed25519.GenerateKey(rand.Reader); err != nil {
			return nil, fmt.Errorf("generate key:\n%w", err)
		}
	}

	tlsConf, err := tlsConfig(key)
	if err != nil {
		return nil, fmt.Errorf("tls config:\n%w", err)
	}

	conn, err := quic.DialAddr(ctx, addr, tlsConf, &quic.Config{
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("dial:\n%w", err)
	}

	server, err := peerKey(conn.ConnectionState().TLS)
	if err != nil {
		conn.CloseWithError(1, "missing identity")
		return nil, fmt.Errorf("server identity:\n%w", err)
	}

	return &Client{conn: conn, server: server}, nil
}

// ServerKey returns the relay's ed25519 identity.
func (c *Client) ServerKey() ed25519.PublicKey {
	return c.server
}

// SubmitSignature sends one signer's contribution and returns the
// resulting session state. Failures are returned as *Error.
func (c *Client) SubmitSignature(ctx context.Context, payloadRoot, verifierSetRoot hasher.Hash, info verifier.SigningInfo) (*SessionState, error) {
	return c.request(ctx, KindSubmitSignature, SignatureRequest{
		PayloadRoot:     payloadRoot,
		VerifierSetRoot: verifierSetRoot,
		SigningInfo:     info,
	})
}

// OpenSession opens the session for payloadRoot under verifierSetRoot,
// or returns the existing one.
func (c *Client) OpenSession(ctx context.Context, payloadRoot, verifierSetRoot hasher.Hash) (*SessionState, error) {
	return c.request(ctx, KindOpenSession, SessionRequest{
		PayloadRoot:     payloadRoot,
		VerifierSetRoot: verifierSetRoot,
	})
}

// SessionStatus returns the state of a session.
func (c *Client) SessionStatus(ctx context.Context, payloadRoot, verifierSetRoot hasher.Hash) (*SessionState, error) {
	return c.request(ctx, KindSessionStatus, SessionRequest{
		PayloadRoot:     payloadRoot,
		VerifierSetRoot: verifierSetRoot,
	})
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	return c.conn.CloseWithError(0, "closed")
}

// request sends one request on a new bidirectional stream and waits for the response.
func (c *Client) request(ctx context.Context, kind Kind, body any) (*SessionState, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return nil, errors.New("client is closed")
	}

	data, err := encodeRequest(kind, body)
	if err != nil {
		return nil, err
	}

	stream, err := c.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("open stream:\n%w", err)
	}
	defer stream.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultRequestTimeout)
	}
	stream.SetDeadline(deadline)

	if err := writeFrame(stream, data); err != nil {
		return nil, fmt.Errorf("write request:\n%w", err)
	}

	raw, err := readFrame(stream)
	if err != nil {
		return nil, fmt.Errorf("read response:\n%w", err)
	}

	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode response:\n%w", err)
	}

	if !resp.OK {
		return nil, &Error{Code: resp.Code, Message: resp.Error}
	}

	return resp.State, nil
}
