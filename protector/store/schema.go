package store

import (
	"encoding/binary"

	"github.com/attestantio/go-eth2-client/spec/phase0"
)

// Mode selects between EIP-3076 Minimal and Complete bookkeeping.
type Mode byte

const (
	// ModeMinimal keeps only the per-validator LowerBound.
	ModeMinimal Mode = iota
	// ModeComplete additionally keeps the full signed-block and
	// signed-attestation history, keyed by signing root.
	ModeComplete
)

func (m Mode) String() string {
	if m == ModeComplete {
		return "complete"
	}
	return "minimal"
}

// bbolt top-level bucket names.
var (
	metaBucket          = []byte("metadata")
	registeredBucket    = []byte("registered_validators")
	lowerBoundsBucket   = []byte("lower_bounds")
	signedBlocksBucket  = []byte("signed_blocks")
	signedAttsBucket    = []byte("signed_attestations")
)

// metadata keys within metaBucket.
var (
	metaKeyGenesisRoot = []byte("genesis_validators_root")
	metaKeyMode        = []byte("mode")
)

// lower-bound field keys within a per-validator sub-bucket of lowerBoundsBucket.
var (
	lbKeyBlockProposalSlot      = []byte("bps")
	lbKeyAttestationSourceEpoch = []byte("ase")
	lbKeyAttestationTargetEpoch = []byte("ate")
)

func encodeUint64(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}

func decodeUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

// encodeBlockValue packs an optional signing root into a bbolt value:
// a presence byte followed by the 32-byte root when present.
func encodeBlockValue(root *phase0.Root) []byte {
	if root == nil {
		return []byte{0}
	}
	out := make([]byte, 1, 33)
	out[0] = 1
	out = append(out, root[:]...)
	return out
}

func decodeBlockValue(v []byte) (root *phase0.Root, ok bool) {
	if len(v) == 0 || v[0] == 0 {
		return nil, true
	}
	if len(v) != 33 {
		return nil, false
	}
	var r phase0.Root
	copy(r[:], v[1:])
	return &r, true
}

// encodeAttestationValue packs source epoch + optional signing root into a
// bbolt value, keyed externally by the target epoch.
func encodeAttestationValue(source phase0.Epoch, root *phase0.Root) []byte {
	out := make([]byte, 8, 41)
	binary.BigEndian.PutUint64(out, uint64(source))
	if root == nil {
		out = append(out, 0)
		return out
	}
	out = append(out, 1)
	out = append(out, root[:]...)
	return out
}

func decodeAttestationValue(v []byte) (source phase0.Epoch, root *phase0.Root, ok bool) {
	if len(v) < 9 {
		return 0, nil, false
	}
	source = phase0.Epoch(binary.BigEndian.Uint64(v[:8]))
	if v[8] == 0 {
		return source, nil, true
	}
	if len(v) != 41 {
		return 0, nil, false
	}
	var r phase0.Root
	copy(r[:], v[9:])
	return source, &r, true
}
