// Package mysclient provides a thin capability surface over a MySocial
// full-node, with the retry contract from the spec (infinite retry for
// pure reads, bounded retry for effectful or caller-surfaced operations)
// built in at this layer so callers never see a raw transport error.
package mysclient

import (
	"context"

	"github.com/The-Social-Proof-Foundation/mys-gas-station/gastypes"
)

// EffectsStatus reports whether a submitted transaction was certified as
// executed successfully or deterministically rejected by the chain.
type EffectsStatus int

const (
	StatusSuccess EffectsStatus = iota
	StatusFailure
)

// Effects is the structured result of an executed transaction: mutated,
// created and deleted objects, plus a gas summary. Only the fields the gas
// pool needs to reconcile its coin set are modeled; everything else is
// opaque to this service.
type Effects struct {
	Status       EffectsStatus
	RejectReason string // populated only when Status == StatusFailure

	// Mutated lists each mutated object's post-execution reference and,
	// when it is a coin of the native asset, its new balance.
	Mutated []MutatedObject

	// Created lists objects newly created by the transaction.
	Created []CreatedObject

	// Deleted lists object ids that no longer exist after execution.
	Deleted []gastypes.ObjectID

	GasUsed uint64
}

type MutatedObject struct {
	Ref     gastypes.ObjectRef
	Owner   gastypes.Owner
	IsCoin  bool
	Balance uint64 // valid only when IsCoin
}

type CreatedObject struct {
	Ref     gastypes.ObjectRef
	Owner   gastypes.Owner
	IsCoin  bool
	Balance uint64 // valid only when IsCoin
}

// TransactionKind is the minimal decoded shape of an unsigned transaction
// the gas pool needs to validate against a reservation before countersigning.
type TransactionKind struct {
	GasOwner   gastypes.Address
	GasPayment []gastypes.ObjectRef
	GasBudget  uint64
	GasPrice   uint64
	// RawBytes is the original encoded transaction data, re-used verbatim
	// when assembling the dual-signed transaction for submission.
	RawBytes []byte
}

// SignedTransaction is an assembled, dual-signed transaction ready for
// execution: the user's signature plus the sponsor's.
type SignedTransaction struct {
	TxBytes      []byte
	UserSig      []byte
	SponsorSig   []byte
}

// Client is the capability surface this service consumes from a full node.
// Every operation is idempotent from the caller's point of view.
type Client interface {
	// ListOwnedCoins enumerates, paginating internally, every coin owned by
	// address with balance >= minBalance.
	ListOwnedCoins(ctx context.Context, address gastypes.Address, minBalance uint64) ([]gastypes.Coin, error)

	// MultiGetOwnerAndVersion batches an owner+version lookup for a set of
	// object ids. Bounded retry: fails with gaserrors.ErrChainUnavailable.
	MultiGetOwnerAndVersion(ctx context.Context, ids []gastypes.ObjectID) (map[gastypes.ObjectID]OwnerAndVersion, error)

	// MultiGetCoin fetches current coin state for a set of object ids,
	// chunking internally in groups of 50. A nil entry means the object no
	// longer exists.
	MultiGetCoin(ctx context.Context, ids []gastypes.ObjectID) (map[gastypes.ObjectID]*gastypes.Coin, error)

	// ReferenceGasPrice returns the chain's current minimum acceptable gas
	// price.
	ReferenceGasPrice(ctx context.Context) (uint64, error)

	// DevInspect simulates a PaySplitN call against coin, returning the
	// gas the chain would charge, without committing any state change.
	// Used only during pool-initializer calibration.
	DevInspect(ctx context.Context, sender gastypes.Address, coin gastypes.ObjectRef, splitCount int) (gasUsed uint64, err error)

	// ExecuteTransaction submits a dual-signed transaction and waits for
	// effects-certified finality, retrying up to attempts times.
	ExecuteTransaction(ctx context.Context, tx SignedTransaction, attempts int) (*Effects, error)

	// WaitForObject polls until the object is observed at version >=
	// ref.Version, used after a split to make subsequent reads consistent.
	WaitForObject(ctx context.Context, ref gastypes.ObjectRef) error

	// SubmitSplit submits a PaySplitN transaction the caller has already
	// built and signed, and returns its effects. Exposed
	// separately from ExecuteTransaction because the pool initializer
	// builds the transaction itself (it is not user-originated).
	SubmitSplit(ctx context.Context, signed SignedTransaction, attempts int) (*Effects, error)
}

// OwnerAndVersion is the result of an object-lock ownership query.
type OwnerAndVersion struct {
	Owner   gastypes.Owner
	Version uint64
}
