package store

import (
	"testing"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/stretchr/testify/require"
	"github.com/watchtower-eth/slashing-protector/protector/interchange"
	bolt "go.etcd.io/bbolt"
)

func minimalDoc(genesisRoot phase0.Root, pubKey phase0.BLSPubKey, slot *phase0.Slot, source, target *phase0.Epoch) *interchange.Document {
	return &interchange.Document{
		Metadata: interchange.Metadata{
			Format:                interchange.FormatMinimal,
			Version:               interchange.SupportedVersion,
			GenesisValidatorsRoot: genesisRoot,
		},
		Minimal: []interchange.MinimalRecord{{
			PubKey:                           pubKey,
			LastSignedBlockSlot:              slot,
			LastSignedAttestationSourceEpoch: source,
			LastSignedAttestationTargetEpoch: target,
		}},
	}
}

func TestImportInterchange_Minimal(t *testing.T) {
	s, genesisRoot := setupStore(t, ModeMinimal)

	slot := slotPtr(10)
	source := epochPtr(1)
	target := epochPtr(2)
	doc := minimalDoc(genesisRoot, pk(0), slot, source, target)

	require.NoError(t, s.ImportInterchange(doc, genesisRoot))

	_, err := s.CheckAndInsertBlock(pk(0), 5, root(1))
	require.Error(t, err)

	_, err = s.CheckAndInsertBlock(pk(0), 11, root(1))
	require.NoError(t, err)

	_, err = s.CheckAndInsertAttestation(pk(0), 1, 3, root(2))
	require.NoError(t, err)

	_, err = s.CheckAndInsertAttestation(pk(0), 0, 4, root(3))
	require.Error(t, err)
}

func TestImportInterchange_GenesisMismatch(t *testing.T) {
	s, genesisRoot := setupStore(t, ModeMinimal)

	var otherRoot phase0.Root
	otherRoot[0] = 0xff
	require.NotEqual(t, genesisRoot, otherRoot)

	doc := minimalDoc(otherRoot, pk(0), slotPtr(10), nil, nil)
	err := s.ImportInterchange(doc, genesisRoot)
	require.Error(t, err)
	var mismatch *ErrGenesisRootMismatch
	require.ErrorAs(t, err, &mismatch)

	registered, err := s.IsRegistered(pk(0))
	require.NoError(t, err)
	require.False(t, registered)
}

func TestImportInterchange_Idempotent(t *testing.T) {
	s, genesisRoot := setupStore(t, ModeMinimal)
	doc := minimalDoc(genesisRoot, pk(0), slotPtr(10), epochPtr(1), epochPtr(2))

	require.NoError(t, s.ImportInterchange(doc, genesisRoot))
	lbAfterFirst, err := s.LowerBound(pk(0))
	require.NoError(t, err)

	require.NoError(t, s.ImportInterchange(doc, genesisRoot))
	lbAfterSecond, err := s.LowerBound(pk(0))
	require.NoError(t, err)

	require.Equal(t, lbAfterFirst, lbAfterSecond)
}

func TestImportInterchange_UnsupportedVersion(t *testing.T) {
	s, genesisRoot := setupStore(t, ModeMinimal)
	doc := minimalDoc(genesisRoot, pk(0), slotPtr(10), nil, nil)
	doc.Metadata.Version = 999

	err := s.ImportInterchange(doc, genesisRoot)
	require.Error(t, err)
	var unsupported *ErrUnsupportedVersion
	require.ErrorAs(t, err, &unsupported)
}

func TestImportExport_Complete_RoundTrip(t *testing.T) {
	s, genesisRoot := setupStore(t, ModeComplete)

	doc := &interchange.Document{
		Metadata: interchange.Metadata{
			Format:                interchange.FormatComplete,
			Version:               interchange.SupportedVersion,
			GenesisValidatorsRoot: genesisRoot,
		},
		Complete: []interchange.CompleteRecord{{
			PubKey: pk(1),
			SignedBlocks: []interchange.SignedBlock{
				{Slot: 10, SigningRoot: root(1)},
				{Slot: 20, SigningRoot: nil},
			},
			SignedAttestations: []interchange.SignedAttestation{
				{SourceEpoch: 1, TargetEpoch: 2, SigningRoot: root(2)},
				{SourceEpoch: 2, TargetEpoch: 3, SigningRoot: root(3)},
			},
		}},
	}

	require.NoError(t, s.ImportInterchange(doc, genesisRoot))

	exported, err := s.ExportInterchange(interchange.FormatComplete)
	require.NoError(t, err)
	require.True(t, doc.Equiv(exported), "expected %+v to be equivalent to %+v", doc, exported)

	// Re-importing the same document must not conflict with itself.
	require.NoError(t, s.ImportInterchange(doc, genesisRoot))
}

func TestImportInterchange_CompleteConflictAborts(t *testing.T) {
	s, genesisRoot := setupStore(t, ModeComplete)

	doc := &interchange.Document{
		Metadata: interchange.Metadata{
			Format:                interchange.FormatComplete,
			Version:               interchange.SupportedVersion,
			GenesisValidatorsRoot: genesisRoot,
		},
		Complete: []interchange.CompleteRecord{{
			PubKey:       pk(1),
			SignedBlocks: []interchange.SignedBlock{{Slot: 10, SigningRoot: root(1)}},
		}},
	}
	require.NoError(t, s.ImportInterchange(doc, genesisRoot))

	conflicting := &interchange.Document{
		Metadata: doc.Metadata,
		Complete: []interchange.CompleteRecord{{
			PubKey: pk(1),
			SignedBlocks: []interchange.SignedBlock{
				{Slot: 10, SigningRoot: root(2)}, // different root at the same slot
				{Slot: 30, SigningRoot: root(9)}, // would otherwise succeed
			},
		}},
	}
	err := s.ImportInterchange(conflicting, genesisRoot)
	require.Error(t, err)
	var conflict *ErrInterchangeConflict
	require.ErrorAs(t, err, &conflict)

	// No partial effect: slot 30 must not have been recorded.
	var exists bool
	err = s.db.View(func(tx *bolt.Tx) error {
		_, ex, err := readSignedBlock(tx, pk(1), 30)
		exists = ex
		return err
	})
	require.NoError(t, err)
	require.False(t, exists)
}
