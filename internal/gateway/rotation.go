package gateway

import (
	"context"
	"fmt"

	"Attestor/internal/hasher"
	"Attestor/internal/message"
	"Attestor/internal/session"
	"Attestor/internal/storage"
)

// RotationSessionKey returns the key of the session in which the set with
// root signingRoot signs the rotation to newRoot.
func (g *Gateway) RotationSessionKey(newRoot, signingRoot hasher.Hash) session.Key {
	return session.Key{
		PayloadRoot:     message.RotationPayloadHash(g.hash, newRoot, signingRoot),
		VerifierSetRoot: signingRoot,
	}
}

// RotateSigners makes newRoot the current verifier set. The rotation must
// have been signed by signingRoot in a valid session. Unless caller is the
// operator, signingRoot must be the current set and the cooldown must have
// elapsed since the previous rotation.
func (g *Gateway) RotateSigners(ctx context.Context, newRoot, signingRoot hasher.Hash, caller string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ev, err := g.rotateSigners(newRoot, signingRoot, caller)
	if err != nil {
		return err
	}

	g.emit(ev)

	return nil
}

func (g *Gateway) rotateSigners(newRoot, signingRoot hasher.Hash, caller string) (SignersRotated, error) {
	g.cfgMu.Lock()
	defer g.cfgMu.Unlock()

	cfg, err := g.loadConfig()
	if err != nil {
		return SignersRotated{}, err
	}

	key := g.RotationSessionKey(newRoot, signingRoot)

	s, err := g.loadSession(key)
	if err != nil {
		return SignersRotated{}, fmt.Errorf("%w:\n%w", ErrSessionNotValid, err)
	}

	if !s.IsValid() {
		return SignersRotated{}, fmt.Errorf("%w: %s", ErrSessionNotValid, key)
	}

	if s.SigningVerifierSetHash != signingRoot {
		return SignersRotated{}, session.ErrVerifierSetMismatch
	}

	if newRoot == signingRoot {
		return SignersRotated{}, fmt.Errorf("%w: %s", ErrDuplicateRotation, newRoot.Short())
	}

	if ok, err := g.db.Has(trackerKey(newRoot)); err != nil {
		return SignersRotated{}, fmt.Errorf("load tracker:\n%w", err)
	} else if ok {
		return SignersRotated{}, fmt.Errorf("%w: %s", ErrDuplicateRotation, newRoot.Short())
	}

	signing, err := g.loadTracker(signingRoot)
	if err != nil {
		return SignersRotated{}, err
	}

	if err := cfg.checkEpoch(signing.Epoch); err != nil {
		return SignersRotated{}, err
	}

	now := g.now()
	byOperator := cfg.Operator != "" && caller == cfg.Operator

	if !byOperator {
		if signing.Epoch != cfg.CurrentEpoch {
			return SignersRotated{}, fmt.Errorf("%w: epoch %d, current %d", ErrNotLatestVerifierSet, signing.Epoch, cfg.CurrentEpoch)
		}

		if now.Sub(cfg.LastRotation) < cfg.MinimumRotationDelay {
			return SignersRotated{}, fmt.Errorf("%w: last rotation %s", ErrRotationCooldown, cfg.LastRotation.Format("2006-01-02 15:04:05"))
		}
	}

	cfg.CurrentEpoch++
	cfg.LastRotation = now

	encoded, err := encodeConfig(cfg)
	if err != nil {
		return SignersRotated{}, err
	}

	tracker := Tracker{Epoch: cfg.CurrentEpoch, VerifierSetHash: newRoot}

	ops := []storage.Op{
		storage.Put(configKey(), encoded),
		storage.Put(trackerKey(newRoot), encodeTracker(tracker)),
	}

	if err := g.apply(ops); err != nil {
		return SignersRotated{}, fmt.Errorf("store rotation:\n%w", err)
	}

	g.metrics.rotations.Inc()
	g.metrics.epoch.Set(float64(cfg.CurrentEpoch))

	return SignersRotated{VerifierSetHash: newRoot, Epoch: cfg.CurrentEpoch}, nil
}

// TransferOperatorship replaces the operator. Only the current operator may call it.
func (g *Gateway) TransferOperatorship(ctx context.Context, caller, newOperator string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ev, err := g.transferOperatorship(caller, newOperator)
	if err != nil {
		return err
	}

	g.emit(ev)

	return nil
}

func (g *Gateway) transferOperatorship(caller, newOperator string) (OperatorshipTransferred, error) {
	g.cfgMu.Lock()
	defer g.cfgMu.Unlock()

	cfg, err := g.loadConfig()
	if err != nil {
		return OperatorshipTransferred{}, err
	}

	if cfg.Operator == "" || caller != cfg.Operator {
		return OperatorshipTransferred{}, ErrUnauthorized
	}

	previous := cfg.Operator
	cfg.Operator = newOperator

	encoded, err := encodeConfig(cfg)
	if err != nil {
		return OperatorshipTransferred{}, err
	}

	if err := g.set(configKey(), encoded); err != nil {
		return OperatorshipTransferred{}, fmt.Errorf("store config:\n%w", err)
	}

	return OperatorshipTransferred{Previous: previous, Operator: newOperator}, nil
}
