package store

import (
	"github.com/attestantio/go-eth2-client/spec/phase0"
	bolt "go.etcd.io/bbolt"
)

// CheckAndInsertAttestation atomically decides whether pubKey may sign an
// attestation with the given source/target epochs and (optional) signing
// root, and if so, advances the lower bound and records the attestation.
func (s *Store) CheckAndInsertAttestation(
	pubKey phase0.BLSPubKey,
	source, target phase0.Epoch,
	signingRoot *phase0.Root,
) (Safe, error) {
	var verdict Safe
	var notSafe NotSafe

	err := s.db.Update(func(tx *bolt.Tx) error {
		if !isRegistered(tx, pubKey) {
			notSafe = &ErrUnregisteredValidator{PubKey: pubKey}
			return nil
		}

		if source > target {
			notSafe = &ErrSourceExceedsTarget{Source: source, Target: target}
			return nil
		}

		lb, err := readLowerBound(tx, pubKey)
		if err != nil {
			return err
		}

		// In Complete mode the history carries finer information than the
		// lower bound, so surround and double-vote violations (and replays
		// of already-seen data) are decided against it first.
		if s.mode == ModeComplete {
			history, err := readSignedAttestations(tx, pubKey)
			if err != nil {
				return err
			}
			if v, ns := attestationVerdict(history, source, target, signingRoot); ns != nil {
				notSafe = ns
				return nil
			} else if v == SafeSameData {
				verdict = SafeSameData
				return nil
			}
		}

		if lb.AttestationTargetEpoch != nil && target <= *lb.AttestationTargetEpoch {
			notSafe = &ErrTargetViolatesLowerBound{Proposed: target, Bound: *lb.AttestationTargetEpoch}
			return nil
		}
		if lb.AttestationSourceEpoch != nil && source < *lb.AttestationSourceEpoch {
			notSafe = &ErrSourceViolatesLowerBound{Source: source, Bound: *lb.AttestationSourceEpoch}
			return nil
		}

		newLB := lb.Merge(LowerBound{AttestationSourceEpoch: epochPtr(source), AttestationTargetEpoch: epochPtr(target)})
		if err := writeLowerBound(tx, pubKey, newLB); err != nil {
			return err
		}
		if s.mode == ModeComplete {
			if err := writeSignedAttestation(tx, pubKey, source, target, signingRoot); err != nil {
				return err
			}
		}
		verdict = SafeValid
		return nil
	})
	if err != nil {
		return 0, wrapStoreErr("check_and_insert_attestation", err)
	}
	if notSafe != nil {
		return 0, notSafe
	}
	return verdict, nil
}

type signedAttestation struct {
	Source phase0.Epoch
	Target phase0.Epoch
	Root   *phase0.Root
}

func readSignedAttestations(tx *bolt.Tx, pubKey phase0.BLSPubKey) ([]signedAttestation, error) {
	bucket := tx.Bucket(signedAttsBucket).Bucket(pubKey[:])
	if bucket == nil {
		return nil, nil
	}
	var out []signedAttestation
	err := bucket.ForEach(func(k, v []byte) error {
		if len(k) != 8 {
			return &ErrConsistencyError{Reason: "malformed signed-attestation key"}
		}
		target := phase0.Epoch(decodeUint64(k))
		source, root, ok := decodeAttestationValue(v)
		if !ok {
			return &ErrConsistencyError{Reason: "malformed signed-attestation record"}
		}
		out = append(out, signedAttestation{Source: source, Target: target, Root: root})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func writeSignedAttestation(tx *bolt.Tx, pubKey phase0.BLSPubKey, source, target phase0.Epoch, root *phase0.Root) error {
	bucket, err := tx.Bucket(signedAttsBucket).CreateBucketIfNotExists(pubKey[:])
	if err != nil {
		return err
	}
	return bucket.Put(encodeUint64(uint64(target)), encodeAttestationValue(source, root))
}
