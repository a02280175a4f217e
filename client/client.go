package client

import (
	"context"
	"net/http"
	"strings"
	"time"

	"Attestor/internal/api"
	"Attestor/internal/gateway"
	"Attestor/internal/hasher"
	"Attestor/internal/message"
	"Attestor/internal/verifier"
)

// Client talks to an attestor node's HTTP API.
type Client struct {
	baseURL string       // baseURL is the API root, e.g. "http://127.0.0.1:8080"
	http    *http.Client // http sends the requests
}

// NewClient creates a client for the node at addr. A bare host:port is
// treated as plain HTTP.
func NewClient(addr string) *Client {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}

	return &Client{
		baseURL: strings.TrimRight(addr, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Health checks that the node is serving.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// Status returns the gateway configuration.
func (c *Client) Status(ctx context.Context) (*api.StatusResponse, error) {
	var resp api.StatusResponse
	if err := c.do(ctx, http.MethodGet, "/status", nil, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

// Tracker returns the epoch of a registered verifier set.
func (c *Client) Tracker(ctx context.Context, root hasher.Hash) (*gateway.Tracker, error) {
	var resp gateway.Tracker
	if err := c.do(ctx, http.MethodGet, "/verifier-sets/"+root.String(), nil, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

// OpenSession opens, or returns the existing, session for a payload.
func (c *Client) OpenSession(ctx context.Context, payloadRoot, verifierSetRoot hasher.Hash) (*api.SessionResponse, error) {
	var resp api.SessionResponse
	req := api.SessionRequest{PayloadRoot: payloadRoot, VerifierSetRoot: verifierSetRoot}

	if err := c.do(ctx, http.MethodPost, "/sessions", req, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

// SessionStatus returns the state of a session.
func (c *Client) SessionStatus(ctx context.Context, payloadRoot, verifierSetRoot hasher.Hash) (*api.SessionResponse, error) {
	var resp api.SessionResponse
	path := "/sessions/" + payloadRoot.String() + "/" + verifierSetRoot.String()

	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

// SubmitSignature submits one signer's contribution and returns the session.
func (c *Client) SubmitSignature(ctx context.Context, payloadRoot, verifierSetRoot hasher.Hash, info verifier.SigningInfo) (*api.SessionResponse, error) {
	var resp api.SessionResponse
	req := api.SignatureRequest{PayloadRoot: payloadRoot, VerifierSetRoot: verifierSetRoot, SigningInfo: info}

	if err := c.do(ctx, http.MethodPost, "/signatures", req, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

// ApproveMessage approves one message of a verified payload.
func (c *Client) ApproveMessage(ctx context.Context, payloadRoot hasher.Hash, m message.Merklized) (*gateway.IncomingMessage, error) {
	var resp gateway.IncomingMessage
	req := api.ApproveRequest{PayloadRoot: payloadRoot, Merklized: m}

	if err := c.do(ctx, http.MethodPost, "/messages/approve", req, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

// ValidateMessage marks an approved message as executed.
func (c *Client) ValidateMessage(ctx context.Context, msg message.Message) (*gateway.IncomingMessage, error) {
	var resp gateway.IncomingMessage

	if err := c.do(ctx, http.MethodPost, "/messages/validate", api.ValidateRequest{Message: msg}, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

// Message returns the record of an approved message.
func (c *Client) Message(ctx context.Context, commandID hasher.Hash) (*gateway.IncomingMessage, error) {
	var resp gateway.IncomingMessage
	if err := c.do(ctx, http.MethodGet, "/messages/"+commandID.String(), nil, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

// Rotate makes newRoot the current verifier set, authorized by a valid
// session of signingRoot over the rotation payload.
func (c *Client) Rotate(ctx context.Context, newRoot, signingRoot hasher.Hash) (*gateway.Tracker, error) {
	var resp gateway.Tracker
	req := api.RotateRequest{NewVerifierSetRoot: newRoot, SigningVerifierSetRoot: signingRoot}

	if err := c.do(ctx, http.MethodPost, "/rotate", req, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

// Snapshot downloads the node's compressed state snapshot.
func (c *Client) Snapshot(ctx context.Context) ([]byte, error) {
	return c.getRaw(ctx, "/snapshot")
}
