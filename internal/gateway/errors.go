package gateway

import "errors"

var (
	// ErrNotInitialized is returned before Initialize has run.
	ErrNotInitialized = errors.New("gateway not initialized")

	// ErrAlreadyInitialized is returned when Initialize runs twice.
	ErrAlreadyInitialized = errors.New("gateway already initialized")

	// ErrUnknownVerifierSet is returned for a verifier set root with no tracker.
	ErrUnknownVerifierSet = errors.New("unknown verifier set")

	// ErrVerifierSetTooOld is returned when a verifier set's epoch is outside retention.
	ErrVerifierSetTooOld = errors.New("verifier set too old")

	// ErrInvalidDomainSeparator is returned for leaves built for another gateway.
	ErrInvalidDomainSeparator = errors.New("invalid domain separator")

	// ErrSessionNotFound is returned when no session exists for a key.
	ErrSessionNotFound = errors.New("verification session not found")

	// ErrSessionNotValid is returned when an operation needs a session at quorum.
	ErrSessionNotValid = errors.New("verification session not valid")

	// ErrDuplicateRotation is returned when rotating to a verifier set already tracked.
	ErrDuplicateRotation = errors.New("duplicate verifier set rotation")

	// ErrNotLatestVerifierSet is returned when a non-operator rotation is
	// signed by a verifier set other than the current one.
	ErrNotLatestVerifierSet = errors.New("rotation not signed by latest verifier set")

	// ErrRotationCooldown is returned when a non-operator rotation comes too soon.
	ErrRotationCooldown = errors.New("rotation cooldown not done")

	// ErrUnauthorized is returned when the caller is not the operator.
	ErrUnauthorized = errors.New("caller is not the operator")

	// ErrLeafNotInPayload is returned when a message proof does not verify
	// against the payload root.
	ErrLeafNotInPayload = errors.New("message leaf not part of payload root")

	// ErrMessageAlreadyApproved is returned when a command id is approved twice.
	ErrMessageAlreadyApproved = errors.New("message already approved")

	// ErrMessageNotApproved is returned when validating a message that is
	// unknown or already executed.
	ErrMessageNotApproved = errors.New("message not approved")

	// ErrInvalidMessageHash is returned when the validated message differs
	// from the approved one.
	ErrInvalidMessageHash = errors.New("message hash does not match approval")
)
