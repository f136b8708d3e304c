package store

import (
	"github.com/attestantio/go-eth2-client/spec/phase0"
	bolt "go.etcd.io/bbolt"
)

// CheckAndInsertBlock atomically decides whether pubKey may sign a block
// proposal at slot with the given (optional) signing root, and if so,
// advances the lower bound and records the proposal.
func (s *Store) CheckAndInsertBlock(pubKey phase0.BLSPubKey, slot phase0.Slot, signingRoot *phase0.Root) (Safe, error) {
	var verdict Safe
	var notSafe NotSafe

	err := s.db.Update(func(tx *bolt.Tx) error {
		if !isRegistered(tx, pubKey) {
			notSafe = &ErrUnregisteredValidator{PubKey: pubKey}
			return nil
		}

		lb, err := readLowerBound(tx, pubKey)
		if err != nil {
			return err
		}

		// An exact replay of an already-recorded proposal is recognized
		// before the lower bound is consulted; the bound would otherwise
		// reject it, since it necessarily covers every recorded slot.
		var existingRoot *phase0.Root
		var exists bool
		if s.mode == ModeComplete {
			existingRoot, exists, err = readSignedBlock(tx, pubKey, slot)
			if err != nil {
				return err
			}
			if exists && rootsProvablyEqual(existingRoot, signingRoot) {
				verdict = SafeSameData
				return nil
			}
		}

		if lb.BlockProposalSlot != nil && slot <= *lb.BlockProposalSlot {
			notSafe = &ErrSlotViolatesLowerBound{Proposed: slot, Bound: *lb.BlockProposalSlot}
			return nil
		}

		if exists {
			notSafe = &ErrDoubleBlockProposal{Slot: slot, ExistingRoot: existingRoot, ProposedRoot: signingRoot}
			return nil
		}

		newLB := lb.Merge(LowerBound{BlockProposalSlot: slotPtr(slot)})
		if err := writeLowerBound(tx, pubKey, newLB); err != nil {
			return err
		}
		if s.mode == ModeComplete {
			if err := writeSignedBlock(tx, pubKey, slot, signingRoot); err != nil {
				return err
			}
		}
		verdict = SafeValid
		return nil
	})
	if err != nil {
		return 0, wrapStoreErr("check_and_insert_block", err)
	}
	if notSafe != nil {
		return 0, notSafe
	}
	return verdict, nil
}

func readSignedBlock(tx *bolt.Tx, pubKey phase0.BLSPubKey, slot phase0.Slot) (*phase0.Root, bool, error) {
	bucket := tx.Bucket(signedBlocksBucket).Bucket(pubKey[:])
	if bucket == nil {
		return nil, false, nil
	}
	v := bucket.Get(encodeUint64(uint64(slot)))
	if v == nil {
		return nil, false, nil
	}
	root, ok := decodeBlockValue(v)
	if !ok {
		return nil, false, &ErrConsistencyError{Reason: "malformed signed-block record"}
	}
	return root, true, nil
}

func writeSignedBlock(tx *bolt.Tx, pubKey phase0.BLSPubKey, slot phase0.Slot, root *phase0.Root) error {
	bucket, err := tx.Bucket(signedBlocksBucket).CreateBucketIfNotExists(pubKey[:])
	if err != nil {
		return err
	}
	return bucket.Put(encodeUint64(uint64(slot)), encodeBlockValue(root))
}
