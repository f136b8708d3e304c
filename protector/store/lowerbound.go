package store

import (
	"github.com/attestantio/go-eth2-client/spec/phase0"
)

// LowerBound is the per-validator triple of maxima a store has already
// permitted. Each field is optional: nil means "no prior signing on record".
type LowerBound struct {
	BlockProposalSlot       *phase0.Slot
	AttestationSourceEpoch  *phase0.Epoch
	AttestationTargetEpoch  *phase0.Epoch
}

// Merge returns the pointwise maximum of lb and other. Once a field is
// present in either operand, it stays present in the result.
func (lb LowerBound) Merge(other LowerBound) LowerBound {
	return LowerBound{
		BlockProposalSlot:      maxSlot(lb.BlockProposalSlot, other.BlockProposalSlot),
		AttestationSourceEpoch: maxEpoch(lb.AttestationSourceEpoch, other.AttestationSourceEpoch),
		AttestationTargetEpoch: maxEpoch(lb.AttestationTargetEpoch, other.AttestationTargetEpoch),
	}
}

func maxSlot(a, b *phase0.Slot) *phase0.Slot {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case *a >= *b:
		return a
	default:
		return b
	}
}

func maxEpoch(a, b *phase0.Epoch) *phase0.Epoch {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case *a >= *b:
		return a
	default:
		return b
	}
}

func slotPtr(s phase0.Slot) *phase0.Slot    { return &s }
func epochPtr(e phase0.Epoch) *phase0.Epoch { return &e }
