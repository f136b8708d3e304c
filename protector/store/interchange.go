package store

import (
	"fmt"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/pkg/errors"
	"github.com/watchtower-eth/slashing-protector/protector/interchange"
	bolt "go.etcd.io/bbolt"
)

// ErrUnsupportedVersion is returned when an interchange document declares an
// interchange_format_version this store does not understand.
type ErrUnsupportedVersion struct {
	Version uint64
}

func (e *ErrUnsupportedVersion) Error() string {
	return fmt.Sprintf("unsupported interchange_format_version %d", e.Version)
}

// ErrGenesisRootMismatch is returned when an interchange document's genesis
// validators root does not match the store it is being imported into.
type ErrGenesisRootMismatch struct {
	Expected phase0.Root
	Got      phase0.Root
}

func (e *ErrGenesisRootMismatch) Error() string {
	return fmt.Sprintf("interchange genesis_validators_root %#x does not match store root %#x", e.Got, e.Expected)
}

// ErrInterchangeConflict is returned when a record within an otherwise
// well-formed interchange document would violate this store's invariants.
// The whole import is aborted; no partial effect occurs.
type ErrInterchangeConflict struct {
	PubKey phase0.BLSPubKey
	Cause  error
}

func (e *ErrInterchangeConflict) Error() string {
	return fmt.Sprintf("interchange conflict for validator %#x: %s", e.PubKey[:], e.Cause)
}

func (e *ErrInterchangeConflict) Unwrap() error { return e.Cause }

// ImportInterchange merges doc into the store within a single transaction,
// subject to the store's invariants. The import is idempotent: importing
// the same document twice leaves the same terminal state, and importing two
// documents that disagree on a validator's bound collapses to their
// pointwise maximum. A document that directly contradicts existing history
// aborts the whole transaction with ErrInterchangeConflict; no partial
// effect occurs.
func (s *Store) ImportInterchange(doc *interchange.Document, expectedGenesisRoot phase0.Root) error {
	if uint64(doc.Metadata.Version) != interchange.SupportedVersion {
		return &ErrUnsupportedVersion{Version: uint64(doc.Metadata.Version)}
	}
	if doc.Metadata.GenesisValidatorsRoot != expectedGenesisRoot {
		return &ErrGenesisRootMismatch{Expected: expectedGenesisRoot, Got: doc.Metadata.GenesisValidatorsRoot}
	}
	if doc.Metadata.GenesisValidatorsRoot != s.genesisValidatorsRoot {
		return &ErrGenesisRootMismatch{Expected: s.genesisValidatorsRoot, Got: doc.Metadata.GenesisValidatorsRoot}
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		switch doc.Metadata.Format {
		case interchange.FormatMinimal:
			for _, rec := range doc.Minimal {
				if err := importMinimalRecord(tx, rec); err != nil {
					return &ErrInterchangeConflict{PubKey: rec.PubKey, Cause: err}
				}
			}
		case interchange.FormatComplete:
			for _, rec := range doc.Complete {
				if err := importCompleteRecord(tx, rec, s.mode); err != nil {
					return &ErrInterchangeConflict{PubKey: rec.PubKey, Cause: err}
				}
			}
		default:
			return errors.Errorf("unknown interchange_format %q", doc.Metadata.Format)
		}
		return nil
	})
	if err != nil {
		if conflict, ok := err.(*ErrInterchangeConflict); ok {
			return conflict
		}
		return wrapStoreErr("import_interchange", err)
	}
	return nil
}

func importMinimalRecord(tx *bolt.Tx, rec interchange.MinimalRecord) error {
	if err := tx.Bucket(registeredBucket).Put(rec.PubKey[:], []byte{1}); err != nil {
		return err
	}
	current, err := readLowerBound(tx, rec.PubKey)
	if err != nil {
		return err
	}
	derived := LowerBound{
		BlockProposalSlot:      rec.LastSignedBlockSlot,
		AttestationSourceEpoch: rec.LastSignedAttestationSourceEpoch,
		AttestationTargetEpoch: rec.LastSignedAttestationTargetEpoch,
	}
	return writeLowerBound(tx, rec.PubKey, current.Merge(derived))
}

func importCompleteRecord(tx *bolt.Tx, rec interchange.CompleteRecord, mode Mode) error {
	if err := tx.Bucket(registeredBucket).Put(rec.PubKey[:], []byte{1}); err != nil {
		return err
	}

	derived := LowerBound{}
	for _, b := range rec.SignedBlocks {
		derived.BlockProposalSlot = maxSlot(derived.BlockProposalSlot, slotPtr(b.Slot))
	}
	var bestTargetIdx = -1
	for i, a := range rec.SignedAttestations {
		if bestTargetIdx == -1 ||
			a.TargetEpoch > rec.SignedAttestations[bestTargetIdx].TargetEpoch ||
			(a.TargetEpoch == rec.SignedAttestations[bestTargetIdx].TargetEpoch && a.SourceEpoch > rec.SignedAttestations[bestTargetIdx].SourceEpoch) {
			bestTargetIdx = i
		}
	}
	if bestTargetIdx != -1 {
		derived.AttestationTargetEpoch = epochPtr(rec.SignedAttestations[bestTargetIdx].TargetEpoch)
		derived.AttestationSourceEpoch = epochPtr(rec.SignedAttestations[bestTargetIdx].SourceEpoch)
	}

	current, err := readLowerBound(tx, rec.PubKey)
	if err != nil {
		return err
	}
	if err := writeLowerBound(tx, rec.PubKey, current.Merge(derived)); err != nil {
		return err
	}

	if mode != ModeComplete {
		return nil
	}

	for _, b := range rec.SignedBlocks {
		existing, exists, err := readSignedBlock(tx, rec.PubKey, b.Slot)
		if err != nil {
			return err
		}
		if exists {
			if rootsMatchOnRecord(existing, b.SigningRoot) {
				continue
			}
			return &ErrDoubleBlockProposal{Slot: b.Slot, ExistingRoot: existing, ProposedRoot: b.SigningRoot}
		}
		if err := writeSignedBlock(tx, rec.PubKey, b.Slot, b.SigningRoot); err != nil {
			return err
		}
	}

	history, err := readSignedAttestations(tx, rec.PubKey)
	if err != nil {
		return err
	}
	for _, a := range rec.SignedAttestations {
		if alreadyPresent(history, a) {
			continue
		}
		verdict, notSafe := attestationVerdict(history, a.SourceEpoch, a.TargetEpoch, a.SigningRoot)
		if notSafe != nil {
			return notSafe
		}
		if verdict == SafeSameData {
			continue
		}
		if err := writeSignedAttestation(tx, rec.PubKey, a.SourceEpoch, a.TargetEpoch, a.SigningRoot); err != nil {
			return err
		}
		history = append(history, signedAttestation{Source: a.SourceEpoch, Target: a.TargetEpoch, Root: a.SigningRoot})
	}
	return nil
}

func alreadyPresent(history []signedAttestation, a interchange.SignedAttestation) bool {
	for _, prev := range history {
		if prev.Target == a.TargetEpoch && prev.Source == a.SourceEpoch && rootsMatchOnRecord(prev.Root, a.SigningRoot) {
			return true
		}
	}
	return false
}

// ExportInterchange renders the store's full contents as an interchange
// document in the requested format.
func (s *Store) ExportInterchange(format interchange.Format) (*interchange.Document, error) {
	doc := &interchange.Document{
		Metadata: interchange.Metadata{
			Format:                format,
			Version:               interchange.QuotedUint64(interchange.SupportedVersion),
			GenesisValidatorsRoot: s.genesisValidatorsRoot,
		},
	}

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(registeredBucket).ForEach(func(pubKeyBytes, _ []byte) error {
			var pubKey phase0.BLSPubKey
			copy(pubKey[:], pubKeyBytes)

			lb, err := readLowerBound(tx, pubKey)
			if err != nil {
				return err
			}

			switch format {
			case interchange.FormatMinimal:
				doc.Minimal = append(doc.Minimal, interchange.MinimalRecord{
					PubKey:                            pubKey,
					LastSignedBlockSlot:               lb.BlockProposalSlot,
					LastSignedAttestationSourceEpoch:   lb.AttestationSourceEpoch,
					LastSignedAttestationTargetEpoch:   lb.AttestationTargetEpoch,
				})
			case interchange.FormatComplete:
				rec := interchange.CompleteRecord{PubKey: pubKey}
				if bucket := tx.Bucket(signedBlocksBucket).Bucket(pubKey[:]); bucket != nil {
					if err := bucket.ForEach(func(k, v []byte) error {
						root, ok := decodeBlockValue(v)
						if !ok {
							return &ErrConsistencyError{Reason: "malformed signed-block record"}
						}
						rec.SignedBlocks = append(rec.SignedBlocks, interchange.SignedBlock{
							Slot:        phase0.Slot(decodeUint64(k)),
							SigningRoot: root,
						})
						return nil
					}); err != nil {
						return err
					}
				}
				history, err := readSignedAttestations(tx, pubKey)
				if err != nil {
					return err
				}
				for _, a := range history {
					rec.SignedAttestations = append(rec.SignedAttestations, interchange.SignedAttestation{
						SourceEpoch: a.Source,
						TargetEpoch: a.Target,
						SigningRoot: a.Root,
					})
				}
				doc.Complete = append(doc.Complete, rec)
			default:
				return errors.Errorf("unknown interchange_format %q", format)
			}
			return nil
		})
	})
	if err != nil {
		return nil, wrapStoreErr("export_interchange", err)
	}
	return doc, nil
}
