package store

import (
	"fmt"

	"github.com/attestantio/go-eth2-client/spec/phase0"
)

// Safe is the verdict returned for a signing that may proceed.
type Safe int

const (
	// SafeValid means the signing advanced the lower bound and was recorded.
	SafeValid Safe = iota
	// SafeSameData means the signing is an idempotent replay of a previously
	// accepted signing at the same slot/target, with a matching signing root.
	SafeSameData
)

func (s Safe) String() string {
	switch s {
	case SafeValid:
		return "valid"
	case SafeSameData:
		return "same_data"
	default:
		return "unknown"
	}
}

// NotSafe is implemented by every reason a check-and-insert call refuses to
// sign. It is a flat family of error types rather than a tagged enum; callers
// discriminate with errors.As.
type NotSafe interface {
	error
	notSafe()
}

// ErrUnregisteredValidator is returned when the public key has never been
// registered with the store.
type ErrUnregisteredValidator struct {
	PubKey phase0.BLSPubKey
}

func (e *ErrUnregisteredValidator) Error() string {
	return fmt.Sprintf("validator %#x is not registered with this store", e.PubKey[:])
}
func (*ErrUnregisteredValidator) notSafe() {}

// ErrSlotViolatesLowerBound: proposed <= bound (block_proposal_slot).
type ErrSlotViolatesLowerBound struct {
	Proposed phase0.Slot
	Bound    phase0.Slot
}

func (e *ErrSlotViolatesLowerBound) Error() string {
	return fmt.Sprintf("could not sign block at slot %d: lower bound is %d", e.Proposed, e.Bound)
}
func (*ErrSlotViolatesLowerBound) notSafe() {}

// ErrDoubleBlockProposal: a conflicting block already exists at this slot.
type ErrDoubleBlockProposal struct {
	Slot         phase0.Slot
	ExistingRoot *phase0.Root
	ProposedRoot *phase0.Root
}

func (e *ErrDoubleBlockProposal) Error() string {
	return fmt.Sprintf("double block proposal detected at slot %d", e.Slot)
}
func (*ErrDoubleBlockProposal) notSafe() {}

// ErrSourceExceedsTarget: source > target in the candidate attestation.
type ErrSourceExceedsTarget struct {
	Source phase0.Epoch
	Target phase0.Epoch
}

func (e *ErrSourceExceedsTarget) Error() string {
	return fmt.Sprintf("attestation source epoch %d exceeds target epoch %d", e.Source, e.Target)
}
func (*ErrSourceExceedsTarget) notSafe() {}

// ErrSourceViolatesLowerBound: source < attestation_source_epoch (surround guard).
type ErrSourceViolatesLowerBound struct {
	Source phase0.Epoch
	Bound  phase0.Epoch
}

func (e *ErrSourceViolatesLowerBound) Error() string {
	return fmt.Sprintf("could not sign attestation with source epoch %d: lower bound is %d", e.Source, e.Bound)
}
func (*ErrSourceViolatesLowerBound) notSafe() {}

// ErrTargetViolatesLowerBound: target <= attestation_target_epoch.
type ErrTargetViolatesLowerBound struct {
	Proposed phase0.Epoch
	Bound    phase0.Epoch
}

func (e *ErrTargetViolatesLowerBound) Error() string {
	return fmt.Sprintf("could not sign attestation with target epoch %d: lower bound is %d", e.Proposed, e.Bound)
}
func (*ErrTargetViolatesLowerBound) notSafe() {}

// ErrNewSurroundsPrev: the candidate attestation surrounds a prior one.
type ErrNewSurroundsPrev struct {
	PrevSource phase0.Epoch
	PrevTarget phase0.Epoch
}

func (e *ErrNewSurroundsPrev) Error() string {
	return fmt.Sprintf("attestation surrounds a previous attestation (%d, %d)", e.PrevSource, e.PrevTarget)
}
func (*ErrNewSurroundsPrev) notSafe() {}

// ErrPrevSurroundsNew: a prior attestation surrounds the candidate.
type ErrPrevSurroundsNew struct {
	PrevSource phase0.Epoch
	PrevTarget phase0.Epoch
}

func (e *ErrPrevSurroundsNew) Error() string {
	return fmt.Sprintf("attestation is surrounded by a previous attestation (%d, %d)", e.PrevSource, e.PrevTarget)
}
func (*ErrPrevSurroundsNew) notSafe() {}

// ErrDoubleVote: a conflicting attestation already exists at this target.
type ErrDoubleVote struct {
	Target       phase0.Epoch
	ExistingRoot *phase0.Root
	ProposedRoot *phase0.Root
}

func (e *ErrDoubleVote) Error() string {
	return fmt.Sprintf("double vote detected at target epoch %d", e.Target)
}
func (*ErrDoubleVote) notSafe() {}

// ErrConsistencyError is fatal: the store's own persisted invariants were
// found violated on read (e.g. source > target persisted for a validator).
type ErrConsistencyError struct {
	Reason string
}

func (e *ErrConsistencyError) Error() string {
	return fmt.Sprintf("slashing protection store consistency error: %s", e.Reason)
}
func (*ErrConsistencyError) notSafe() {}

// StoreError wraps persistence failures (I/O, corruption, schema mismatch,
// genesis-root mismatch, unsupported interchange version). These are hard
// failures and must never be reported as a Safe verdict.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("slashing protection store: %s: %s", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func wrapStoreErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}
