// Package gaserrors defines the error taxonomy surfaced to RPC callers.
// Each sentinel is wrapped with %w at every layer so errors.Is keeps
// working all the way up to the HTTP handler.
package gaserrors

import "errors"

var (
	// ErrInvalidRequest covers validation failures on budget, duration, or
	// transaction structure supplied by the caller.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInsufficientPool means the storage backend could not cover the
	// requested budget with the configured maximum coins per reservation.
	ErrInsufficientPool = errors.New("insufficient pool")

	// ErrReservationNotFound means the reservation id is unknown, already
	// released, or already expired.
	ErrReservationNotFound = errors.New("reservation not found")

	// ErrInvalidTransaction means the submitted transaction does not match
	// the reservation it claims to use.
	ErrInvalidTransaction = errors.New("invalid transaction")

	// ErrChainUnavailable means bounded retries against the full node were
	// exhausted.
	ErrChainUnavailable = errors.New("chain unavailable")

	// ErrExecutionRejected wraps a deterministic on-chain rejection, with
	// the chain's reason attached via %w.
	ErrExecutionRejected = errors.New("execution rejected")

	// ErrSigner means the signer (in-process keypair or sidecar) failed to
	// produce a signature.
	ErrSigner = errors.New("signer error")
)

// ExecutionRejected wraps a chain-reported rejection reason so callers can
// both errors.Is(err, ErrExecutionRejected) and read the verbatim message.
func ExecutionRejected(reason string) error {
	return &wrapped{msg: reason, sentinel: ErrExecutionRejected}
}

// Signer wraps a lower-level signer failure.
func Signer(cause error) error {
	return &wrapped{msg: cause.Error(), sentinel: ErrSigner, cause: cause}
}

// Invalid wraps a validation failure with a human-readable reason.
func Invalid(reason string) error {
	return &wrapped{msg: reason, sentinel: ErrInvalidRequest}
}

// InvalidTransaction wraps a transaction-mismatch failure with a reason.
func InvalidTransaction(reason string) error {
	return &wrapped{msg: reason, sentinel: ErrInvalidTransaction}
}

type wrapped struct {
	msg      string
	sentinel error
	cause    error
}

func (w *wrapped) Error() string {
	if w.msg == "" {
		return w.sentinel.Error()
	}
	return w.sentinel.Error() + ": " + w.msg
}

func (w *wrapped) Unwrap() error { return w.sentinel }

func (w *wrapped) Cause() error { return w.cause }
