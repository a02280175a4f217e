package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"Attestor/internal/gateway"
	"Attestor/internal/hasher"
	"Attestor/internal/logger"
	"Attestor/internal/message"
	"Attestor/internal/session"
	"Attestor/internal/verifier"
)

const (
	// maxBodySize is the maximum request body size in bytes.
	maxBodySize = 1 << 20 // 1 MB
)

// Gateway is the verification state the API exposes.
type Gateway interface {
	Hash() hasher.Function
	Config(ctx context.Context) (gateway.Config, error)
	Tracker(ctx context.Context, root hasher.Hash) (gateway.Tracker, error)
	OpenOrGetSession(ctx context.Context, payloadRoot, verifierSetRoot hasher.Hash) (session.Key, error)
	Session(ctx context.Context, key session.Key) (*session.Session, error)
	ProcessSignature(ctx context.Context, key session.Key, info verifier.SigningInfo) error
	ApproveMessage(ctx context.Context, payloadRoot hasher.Hash, m message.Merklized) (gateway.IncomingMessage, error)
	ValidateMessage(ctx context.Context, msg message.Message) error
	IncomingMessage(ctx context.Context, commandID hasher.Hash) (*gateway.IncomingMessage, error)
	RotateSigners(ctx context.Context, newRoot, signingRoot hasher.Hash, caller string) error
}

// Options configures optional endpoints.
type Options struct {
	Gatherer prometheus.Gatherer    // Gatherer backs GET /metrics, the default registry when nil
	Snapshot func() ([]byte, error) // Snapshot backs GET /snapshot when set
}

// Server is the HTTP API server.
type Server struct {
	addr     string                 // addr is the HTTP listen address
	gateway  Gateway                // gateway holds the verification state
	gatherer prometheus.Gatherer    // gatherer serves metrics
	snapshot func() ([]byte, error) // snapshot produces compressed snapshots
	server   *http.Server           // server is the underlying HTTP server
}

// New creates a new HTTP API server.
func New(addr string, gw Gateway, opts Options) *Server {
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	return &Server{
		addr:     addr,
		gateway:  gw,
		gatherer: opts.Gatherer,
		snapshot: opts.Snapshot,
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /verifier-sets/{root}", s.handleTracker)
	mux.HandleFunc("POST /sessions", s.handleOpenSession)
	mux.HandleFunc("GET /sessions/{payloadRoot}/{verifierSetRoot}", s.handleGetSession)
	mux.HandleFunc("POST /signatures", s.handleSubmitSignature)
	mux.HandleFunc("POST /messages/approve", s.handleApproveMessage)
	mux.HandleFunc("POST /messages/validate", s.handleValidateMessage)
	mux.HandleFunc("GET /messages/{commandId}", s.handleGetMessage)
	mux.HandleFunc("POST /rotate", s.handleRotate)
	mux.HandleFunc("GET /snapshot", s.handleSnapshot)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	return mux
}

// Start starts the HTTP server in a goroutine.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http api started", "addr", s.addr)

		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// handleHealth handles GET /health requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleStatus handles GET /status requests.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.gateway.Config(r.Context())
	if err != nil {
		writeGatewayError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, StatusResponse{Hash: s.gateway.Hash().Name(), Config: cfg})
}

// handleTracker handles GET /verifier-sets/{root} requests.
func (s *Server) handleTracker(w http.ResponseWriter, r *http.Request) {
	root, err := hasher.Parse(r.PathValue("root"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tracker, err := s.gateway.Tracker(r.Context(), root)
	if err != nil {
		writeGatewayError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tracker)
}

// handleOpenSession handles POST /sessions requests.
func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if !readJSON(w, r, &req) {
		return
	}

	key, err := s.gateway.OpenOrGetSession(r.Context(), req.PayloadRoot, req.VerifierSetRoot)
	if err != nil {
		writeGatewayError(w, err)
		return
	}

	s.writeSession(w, r, key)
}

// handleGetSession handles GET /sessions/{payloadRoot}/{verifierSetRoot} requests.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	payloadRoot, err := hasher.Parse(r.PathValue("payloadRoot"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("payload root: %v", err))
		return
	}

	verifierSetRoot, err := hasher.Parse(r.PathValue("verifierSetRoot"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("verifier set root: %v", err))
		return
	}

	s.writeSession(w, r, session.Key{PayloadRoot: payloadRoot, VerifierSetRoot: verifierSetRoot})
}

// writeSession writes the current state of the session under key.
func (s *Server) writeSession(w http.ResponseWriter, r *http.Request, key session.Key) {
	sess, err := s.gateway.Session(r.Context(), key)
	if err != nil {
		writeGatewayError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newSessionResponse(key, sess))
}

// handleSubmitSignature handles POST /signatures requests.
func (s *Server) handleSubmitSignature(w http.ResponseWriter, r *http.Request) {
	var req SignatureRequest
	if !readJSON(w, r, &req) {
		return
	}

	key := session.Key{PayloadRoot: req.PayloadRoot, VerifierSetRoot: req.VerifierSetRoot}

	if err := s.gateway.ProcessSignature(r.Context(), key, req.SigningInfo); err != nil {
		writeGatewayError(w, err)
		return
	}

	sess, err := s.gateway.Session(r.Context(), key)
	if err != nil {
		writeGatewayError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, newSessionResponse(key, sess))
}

// handleApproveMessage handles POST /messages/approve requests.
func (s *Server) handleApproveMessage(w http.ResponseWriter, r *http.Request) {
	var req ApproveRequest
	if !readJSON(w, r, &req) {
		return
	}

	rec, err := s.gateway.ApproveMessage(r.Context(), req.PayloadRoot, req.Merklized)
	if err != nil {
		writeGatewayError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// handleValidateMessage handles POST /messages/validate requests.
func (s *Server) handleValidateMessage(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if !readJSON(w, r, &req) {
		return
	}

	if err := s.gateway.ValidateMessage(r.Context(), req.Message); err != nil {
		writeGatewayError(w, err)
		return
	}

	rec, err := s.gateway.IncomingMessage(r.Context(), req.Message.CommandID(s.gateway.Hash()))
	if err != nil {
		writeGatewayError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// handleGetMessage handles GET /messages/{commandId} requests.
func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	commandID, err := hasher.Parse(r.PathValue("commandId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := s.gateway.IncomingMessage(r.Context(), commandID)
	if err != nil {
		writeGatewayError(w, err)
		return
	}

	if rec == nil {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// handleRotate handles POST /rotate requests. Rotations over HTTP never
// act as the operator.
func (s *Server) handleRotate(w http.ResponseWriter, r *http.Request) {
	var req RotateRequest
	if !readJSON(w, r, &req) {
		return
	}

	if err := s.gateway.RotateSigners(r.Context(), req.NewVerifierSetRoot, req.SigningVerifierSetRoot, ""); err != nil {
		writeGatewayError(w, err)
		return
	}

	tracker, err := s.gateway.Tracker(r.Context(), req.NewVerifierSetRoot)
	if err != nil {
		writeGatewayError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tracker)
}

// handleSnapshot handles GET /snapshot requests with a zstd-compressed snapshot.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.snapshot == nil {
		writeError(w, http.StatusServiceUnavailable, "snapshots not available")
		return
	}

	data, err := s.snapshot()
	if err != nil {
		logger.Error("snapshot failed", "error", err)
		writeError(w, http.StatusInternalServerError, "snapshot failed")
		return
	}

	w.Header().Set("Content-Type", "application/zstd")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// readJSON decodes the request body into v, writing a 400 on failure.
func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return false
	}

	if err := json.Unmarshal(body, v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return false
	}

	return true
}

// conflictErrors are rejections of a request that was already applied.
var conflictErrors = []error{
	session.ErrSlotAlreadyVerified,
	gateway.ErrMessageAlreadyApproved,
	gateway.ErrDuplicateRotation,
	gateway.ErrAlreadyInitialized,
}

// notFoundErrors are lookups of records that do not exist.
var notFoundErrors = []error{
	gateway.ErrSessionNotFound,
	gateway.ErrUnknownVerifierSet,
}

// rejectionErrors are well-formed requests the gateway refuses.
var rejectionErrors = []error{
	session.ErrSlotOutOfBounds,
	session.ErrInvalidMerkleProof,
	session.ErrSignatureVerificationFailed,
	session.ErrVerifierSetMismatch,
	gateway.ErrInvalidDomainSeparator,
	gateway.ErrVerifierSetTooOld,
	gateway.ErrSessionNotValid,
	gateway.ErrNotLatestVerifierSet,
	gateway.ErrRotationCooldown,
	gateway.ErrUnauthorized,
	gateway.ErrLeafNotInPayload,
	gateway.ErrMessageNotApproved,
	gateway.ErrInvalidMessageHash,
}

// statusFor maps a gateway error to an HTTP status.
func statusFor(err error) int {
	switch {
	case isAny(err, conflictErrors):
		return http.StatusConflict
	case isAny(err, rejectionErrors):
		return http.StatusUnprocessableEntity
	case isAny(err, notFoundErrors):
		return http.StatusNotFound
	case errors.Is(err, gateway.ErrNotInitialized):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func isAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// writeGatewayError writes err with the status it maps to.
func writeGatewayError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
	}

	writeError(w, status, err.Error())
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
