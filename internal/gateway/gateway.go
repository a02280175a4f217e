package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"Attestor/internal/hasher"
	"Attestor/internal/logger"
	"Attestor/internal/session"
	"Attestor/internal/storage"
	"Attestor/internal/verifier"
)

// Options configures a Gateway. Zero values select the defaults.
type Options struct {
	Hash       hasher.Function       // Hash is the protocol hash function, Keccak-256 by default
	Registerer prometheus.Registerer // Registerer receives the gateway metrics when set
	Subscriber func(Event)           // Subscriber receives every committed event
	Now        func() time.Time      // Now is the clock used for rotation cooldowns
}

// Gateway verifies signer quorums over payload roots and tracks the
// verifier sets, rotations and messages that depend on them.
// All state lives in the backing storage.
type Gateway struct {
	hash       hasher.Function  // hash is the protocol hash function
	db         *storage.Storage // db persists every record
	locks      *lockTable       // locks serializes access per record key
	cfgMu      sync.RWMutex     // cfgMu serializes config mutations against signature processing
	metrics    *metrics         // metrics are the Prometheus collectors
	subscriber func(Event)      // subscriber receives committed events
	now        func() time.Time // now is the rotation clock
	writes     atomic.Uint64    // writes counts committed writes since start
}

// New creates a gateway over db.
func New(db *storage.Storage, opts Options) *Gateway {
	if opts.Hash == nil {
		opts.Hash = hasher.Keccak256{}
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	g := &Gateway{
		hash:       opts.Hash,
		db:         db,
		locks:      newLockTable(),
		metrics:    newMetrics(opts.Registerer),
		subscriber: opts.Subscriber,
		now:        opts.Now,
	}

	if cfg, err := g.loadConfig(); err == nil {
		g.metrics.epoch.Set(float64(cfg.CurrentEpoch))
	}

	return g
}

// Version changes whenever the gateway commits a write. It restarts
// at zero with the process.
func (g *Gateway) Version() uint64 {
	return g.writes.Load()
}

// set writes one record.
func (g *Gateway) set(key, value []byte) error {
	if err := g.db.Set(key, value); err != nil {
		return err
	}

	g.writes.Add(1)

	return nil
}

// apply writes a batch atomically.
func (g *Gateway) apply(ops []storage.Op) error {
	if err := g.db.Apply(ops); err != nil {
		return err
	}

	g.writes.Add(1)

	return nil
}

// Hash returns the gateway's hash function.
func (g *Gateway) Hash() hasher.Function {
	return g.hash
}

// InitParams are the genesis settings of a gateway.
type InitParams struct {
	DomainSeparator              hasher.Hash   // DomainSeparator binds leaves to this gateway
	PreviousVerifierSetRetention uint64        // PreviousVerifierSetRetention is how many epochs a set stays usable
	MinimumRotationDelay         time.Duration // MinimumRotationDelay is the cooldown between non-operator rotations
	Operator                     string        // Operator may bypass rotation checks
	VerifierSets                 []hasher.Hash // VerifierSets get epochs 1..n in order
}

// Initialize stores the config and the initial verifier set trackers.
// The last initial set becomes current.
func (g *Gateway) Initialize(ctx context.Context, p InitParams) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if len(p.VerifierSets) == 0 {
		return fmt.Errorf("no initial verifier set")
	}

	if p.PreviousVerifierSetRetention == 0 {
		return fmt.Errorf("verifier set retention must be positive")
	}

	g.cfgMu.Lock()
	defer g.cfgMu.Unlock()

	if _, err := g.loadConfig(); err == nil {
		return ErrAlreadyInitialized
	} else if !errors.Is(err, ErrNotInitialized) {
		return err
	}

	cfg := Config{
		DomainSeparator:              p.DomainSeparator,
		CurrentEpoch:                 uint64(len(p.VerifierSets)),
		PreviousVerifierSetRetention: p.PreviousVerifierSetRetention,
		MinimumRotationDelay:         p.MinimumRotationDelay,
		LastRotation:                 g.now(),
		Operator:                     p.Operator,
	}

	encoded, err := encodeConfig(cfg)
	if err != nil {
		return err
	}

	ops := []storage.Op{storage.Put(configKey(), encoded)}
	seen := make(map[hasher.Hash]bool, len(p.VerifierSets))

	for i, root := range p.VerifierSets {
		if seen[root] {
			return fmt.Errorf("%w: %s", ErrDuplicateRotation, root.Short())
		}
		seen[root] = true

		tracker := Tracker{Epoch: uint64(i + 1), VerifierSetHash: root}
		ops = append(ops, storage.Put(trackerKey(root), encodeTracker(tracker)))
	}

	if err := g.apply(ops); err != nil {
		return fmt.Errorf("store genesis:\n%w", err)
	}

	g.metrics.epoch.Set(float64(cfg.CurrentEpoch))
	logger.Info("gateway initialized", "epoch", cfg.CurrentEpoch, "sets", len(p.VerifierSets), "operator", cfg.Operator)

	return nil
}

// Config returns the gateway config.
func (g *Gateway) Config(ctx context.Context) (Config, error) {
	if err := ctx.Err(); err != nil {
		return Config{}, err
	}

	return g.loadConfig()
}

// Tracker returns the tracker of the verifier set with the given root.
func (g *Gateway) Tracker(ctx context.Context, root hasher.Hash) (Tracker, error) {
	if err := ctx.Err(); err != nil {
		return Tracker{}, err
	}

	return g.loadTracker(root)
}

// OpenOrGetSession returns the key of the session for payloadRoot under
// verifierSetRoot, creating an empty one bound to verifierSetRoot if needed.
func (g *Gateway) OpenOrGetSession(ctx context.Context, payloadRoot, verifierSetRoot hasher.Hash) (session.Key, error) {
	key := session.Key{PayloadRoot: payloadRoot, VerifierSetRoot: verifierSetRoot}

	if err := ctx.Err(); err != nil {
		return key, err
	}

	if _, err := g.loadTracker(verifierSetRoot); err != nil {
		return key, err
	}

	dbKey := sessionKey(key)
	unlock := g.locks.lock(dbKey)
	defer unlock()

	ok, err := g.db.Has(dbKey)
	if err != nil {
		return key, fmt.Errorf("load session %s:\n%w", key, err)
	}

	if ok {
		return key, nil
	}

	if err := g.set(dbKey, session.New(verifierSetRoot).Encode()); err != nil {
		return key, fmt.Errorf("store session %s:\n%w", key, err)
	}

	g.metrics.sessionsOpen.Inc()
	logger.Debug("session opened", "payload", payloadRoot.Short(), "vs", verifierSetRoot.Short())

	return key, nil
}

// Session returns a copy of the session stored under key.
func (g *Gateway) Session(ctx context.Context, key session.Key) (*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return g.loadSession(key)
}

// ProcessSignature verifies one signer's contribution to the session
// under key and persists the credited session. On error the stored
// session is unchanged.
func (g *Gateway) ProcessSignature(ctx context.Context, key session.Key, info verifier.SigningInfo) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	defer func() { g.metrics.verifyLatency.Observe(time.Since(start).Seconds()) }()

	err := g.processSignature(key, info)

	switch {
	case err == nil:
		g.metrics.signatures.WithLabelValues(resultAccepted).Inc()
	case errors.Is(err, session.ErrSlotAlreadyVerified):
		g.metrics.signatures.WithLabelValues(resultReplayed).Inc()
	default:
		g.metrics.signatures.WithLabelValues(resultRejected).Inc()
	}

	if err != nil {
		logger.Debug("signature rejected",
			"payload", key.PayloadRoot.Short(),
			"vs", key.VerifierSetRoot.Short(),
			"position", info.Leaf.Position,
			"error", err,
		)
	}

	return err
}

func (g *Gateway) processSignature(key session.Key, info verifier.SigningInfo) error {
	// Held until commit so a rotation cannot retire the set in between.
	g.cfgMu.RLock()
	defer g.cfgMu.RUnlock()

	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}

	if info.Leaf.DomainSeparator != cfg.DomainSeparator {
		return ErrInvalidDomainSeparator
	}

	tracker, err := g.loadTracker(key.VerifierSetRoot)
	if err != nil {
		return err
	}

	if err := cfg.checkEpoch(tracker.Epoch); err != nil {
		return err
	}

	dbKey := sessionKey(key)
	unlock := g.locks.lock(dbKey)
	defer unlock()

	s, err := g.loadSession(key)
	if err != nil {
		return err
	}

	wasValid := s.IsValid()

	if err := s.Process(g.hash, key.PayloadRoot, key.VerifierSetRoot, info); err != nil {
		return err
	}

	if err := g.set(dbKey, s.Encode()); err != nil {
		return fmt.Errorf("store session %s:\n%w", key, err)
	}

	if !wasValid && s.IsValid() {
		g.metrics.sessionsValid.Inc()
		logger.Info("session reached quorum",
			"payload", key.PayloadRoot.Short(),
			"vs", key.VerifierSetRoot.Short(),
			"signers", s.SignatureSlots.Count(),
		)
	}

	return nil
}

// IsValid reports whether the session under key reached quorum. A missing
// session is not valid.
func (g *Gateway) IsValid(ctx context.Context, key session.Key) (bool, error) {
	s, err := g.Session(ctx, key)
	if errors.Is(err, ErrSessionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return s.IsValid(), nil
}

// checkEpoch fails when epoch is retention or more epochs behind the current one.
func (c Config) checkEpoch(epoch uint64) error {
	if epoch > c.CurrentEpoch {
		return fmt.Errorf("tracker epoch %d ahead of current epoch %d", epoch, c.CurrentEpoch)
	}

	if c.CurrentEpoch-epoch >= c.PreviousVerifierSetRetention {
		return fmt.Errorf("%w: epoch %d, current %d", ErrVerifierSetTooOld, epoch, c.CurrentEpoch)
	}

	return nil
}

func (g *Gateway) loadConfig() (Config, error) {
	data, err := g.db.Get(configKey())
	if err != nil {
		return Config{}, fmt.Errorf("load config:\n%w", err)
	}

	if data == nil {
		return Config{}, ErrNotInitialized
	}

	return decodeConfig(data)
}

func (g *Gateway) loadTracker(root hasher.Hash) (Tracker, error) {
	data, err := g.db.Get(trackerKey(root))
	if err != nil {
		return Tracker{}, fmt.Errorf("load tracker %s:\n%w", root.Short(), err)
	}

	if data == nil {
		return Tracker{}, fmt.Errorf("%w: %s", ErrUnknownVerifierSet, root.Short())
	}

	return decodeTracker(data)
}

func (g *Gateway) loadSession(key session.Key) (*session.Session, error) {
	data, err := g.db.Get(sessionKey(key))
	if err != nil {
		return nil, fmt.Errorf("load session %s:\n%w", key, err)
	}

	if data == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, key)
	}

	return session.Decode(data)
}
