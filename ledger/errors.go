package ledger

import "errors"

// Authorization errors. Operations fail before any state is touched.
var (
	// ErrNotOwner is returned when a non-owner calls an owner-only operation.
	ErrNotOwner = errors.New("caller is not the owner")

	// ErrNotProvider is returned when a non-provider submits an entry.
	ErrNotProvider = errors.New("caller is not a provider")
)

// Lifecycle errors.
var (
	// ErrPaused is returned when the ledger is paused. Ownership transfer
	// and provider management stay available while paused.
	ErrPaused = errors.New("ledger is paused")

	// ErrInvalidBatch is returned for lifecycle violations on a batch:
	// closing an already-closed batch, opening over a still-open batch, or
	// requesting valuation of an open, empty or nonexistent batch.
	ErrInvalidBatch = errors.New("invalid batch state")

	// ErrBatchClosed is returned when submitting into a closed batch.
	ErrBatchClosed = errors.New("current batch is closed")
)

// Rate limiting.
var (
	// ErrCooldownActive is returned when a caller acts again before its
	// cooldown has elapsed. Submission and valuation cooldowns are tracked
	// independently.
	ErrCooldownActive = errors.New("cooldown still active")
)

// Integrity errors on the finalization path. A failed finalization leaves
// the decryption context exactly as it was before the call.
var (
	// ErrUnknownRequest is returned when no decryption context exists for
	// the request id.
	ErrUnknownRequest = errors.New("unknown decryption request")

	// ErrReplay is returned when a decryption request is finalized twice.
	ErrReplay = errors.New("decryption request already processed")

	// ErrStateMismatch is returned when the batch's recomputed aggregate no
	// longer hashes to the commitment captured at request time.
	ErrStateMismatch = errors.New("aggregate state commitment mismatch")

	// ErrInvalidProof is returned when the decryption proof does not bind
	// the cleartext to the original request.
	ErrInvalidProof = errors.New("invalid decryption proof")
)

// Validation errors.
var (
	// ErrCiphertextNotInitialized is returned when a submitted ciphertext
	// handle fails the encryption capability's well-formedness check.
	ErrCiphertextNotInitialized = errors.New("ciphertext handle not initialized")
)
