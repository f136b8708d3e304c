package store

import "github.com/attestantio/go-eth2-client/spec/phase0"

// rootsProvablyEqual implements the pessimistic signing-root comparison
// design note: two entries collapse to "safe, same data" only when both
// roots are present and equal. An absent root on either side is treated
// conservatively as a conflict, since the store cannot prove the two
// signings were identical.
func rootsProvablyEqual(a, b *phase0.Root) bool {
	return a != nil && b != nil && *a == *b
}

// rootsMatchOnRecord reports whether two recorded entries carry the same
// signing-root information: both absent, or both present and equal. Import
// uses it to recognize a re-imported record, which keeps import idempotent
// even for histories whose roots were never known; check-and-insert keeps
// the stricter rootsProvablyEqual.
func rootsMatchOnRecord(a, b *phase0.Root) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// attestationVerdict decides, against a given history, whether an
// attestation with the given source/target/root may be accepted. It is the
// pure core of CheckAndInsertAttestation's complete-mode logic, reused by
// interchange import to validate historical entries against each other.
func attestationVerdict(history []signedAttestation, source, target phase0.Epoch, root *phase0.Root) (Safe, NotSafe) {
	for _, prev := range history {
		if source < prev.Source && prev.Target < target {
			return 0, &ErrNewSurroundsPrev{PrevSource: prev.Source, PrevTarget: prev.Target}
		}
		if prev.Source < source && target < prev.Target {
			return 0, &ErrPrevSurroundsNew{PrevSource: prev.Source, PrevTarget: prev.Target}
		}
		if prev.Target == target {
			if rootsProvablyEqual(prev.Root, root) {
				return SafeSameData, nil
			}
			return 0, &ErrDoubleVote{Target: target, ExistingRoot: prev.Root, ProposedRoot: root}
		}
	}
	return SafeValid, nil
}
