package interchange

import (
	"bytes"
	"strings"
	"testing"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/stretchr/testify/require"
)

func TestParse_Minimal(t *testing.T) {
	doc, err := Parse(strings.NewReader(`{
		"metadata": {
			"interchange_format": "minimal",
			"interchange_format_version": "5",
			"genesis_validators_root": "0x4200000000000000000000000000000000000000000000000000000000000000"
		},
		"data": [
			{
				"pubkey": "0x` + strings.Repeat("ab", 48) + `",
				"last_signed_block_slot": "10",
				"last_signed_attestation_source_epoch": "1",
				"last_signed_attestation_target_epoch": "2"
			}
		]
	}`))
	require.NoError(t, err)
	require.Equal(t, FormatMinimal, doc.Metadata.Format)
	require.Equal(t, QuotedUint64(5), doc.Metadata.Version)
	require.Len(t, doc.Minimal, 1)
	require.EqualValues(t, 10, *doc.Minimal[0].LastSignedBlockSlot)
}

func TestParse_RejectsUnknownFields(t *testing.T) {
	_, err := Parse(strings.NewReader(`{
		"metadata": {
			"interchange_format": "minimal",
			"interchange_format_version": "5",
			"genesis_validators_root": "0x4200000000000000000000000000000000000000000000000000000000000000",
			"unexpected": true
		},
		"data": []
	}`))
	require.Error(t, err)
}

func TestParse_AcceptsBareOrQuotedIntegers(t *testing.T) {
	doc, err := Parse(strings.NewReader(`{
		"metadata": {
			"interchange_format": "minimal",
			"interchange_format_version": 5,
			"genesis_validators_root": "0x4200000000000000000000000000000000000000000000000000000000000000"
		},
		"data": []
	}`))
	require.NoError(t, err)
	require.Equal(t, QuotedUint64(5), doc.Metadata.Version)
}

func TestWrite_EmitsQuotedIntegers(t *testing.T) {
	doc := &Document{
		Metadata: Metadata{
			Format:  FormatMinimal,
			Version: QuotedUint64(5),
		},
		Minimal: []MinimalRecord{},
	}
	var buf bytes.Buffer
	require.NoError(t, doc.Write(&buf))
	require.Contains(t, buf.String(), `"interchange_format_version":"5"`)
}

func TestParse_Complete(t *testing.T) {
	doc, err := Parse(strings.NewReader(`{
		"metadata": {
			"interchange_format": "complete",
			"interchange_format_version": "5",
			"genesis_validators_root": "0x4200000000000000000000000000000000000000000000000000000000000000"
		},
		"data": [
			{
				"pubkey": "0x` + strings.Repeat("ab", 48) + `",
				"signed_blocks": [
					{"slot": "10", "signing_root": "0x` + strings.Repeat("01", 32) + `"},
					{"slot": "20"}
				],
				"signed_attestations": [
					{"source_epoch": "1", "target_epoch": "2"}
				]
			}
		]
	}`))
	require.NoError(t, err)
	require.Equal(t, FormatComplete, doc.Metadata.Format)
	require.Len(t, doc.Complete, 1)
	require.Len(t, doc.Complete[0].SignedBlocks, 2)
	require.EqualValues(t, 10, doc.Complete[0].SignedBlocks[0].Slot)
	require.NotNil(t, doc.Complete[0].SignedBlocks[0].SigningRoot)
	require.Nil(t, doc.Complete[0].SignedBlocks[1].SigningRoot)
	require.Len(t, doc.Complete[0].SignedAttestations, 1)
	require.EqualValues(t, 2, doc.Complete[0].SignedAttestations[0].TargetEpoch)
}

func TestParse_RejectsMalformedHex(t *testing.T) {
	for name, root := range map[string]string{
		"missing prefix": strings.Repeat("42", 32),
		"upper case":     "0x" + strings.Repeat("AB", 32),
		"wrong length":   "0x4242",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(`{
				"metadata": {
					"interchange_format": "minimal",
					"interchange_format_version": "5",
					"genesis_validators_root": "` + root + `"
				},
				"data": []
			}`))
			require.Error(t, err)
		})
	}
}

func TestParse_RejectsLeadingZeros(t *testing.T) {
	_, err := Parse(strings.NewReader(`{
		"metadata": {
			"interchange_format": "minimal",
			"interchange_format_version": "05",
			"genesis_validators_root": "0x4200000000000000000000000000000000000000000000000000000000000000"
		},
		"data": []
	}`))
	require.Error(t, err)
}

func TestWrite_EmitsQuotedRecordIntegers(t *testing.T) {
	slot := phase0.Slot(10)
	doc := &Document{
		Metadata: Metadata{
			Format:  FormatComplete,
			Version: QuotedUint64(5),
		},
		Complete: []CompleteRecord{{
			SignedBlocks:       []SignedBlock{{Slot: slot}},
			SignedAttestations: []SignedAttestation{{SourceEpoch: 1, TargetEpoch: 2}},
		}},
	}
	var buf bytes.Buffer
	require.NoError(t, doc.Write(&buf))
	require.Contains(t, buf.String(), `"slot":"10"`)
	require.Contains(t, buf.String(), `"source_epoch":"1"`)
	require.Contains(t, buf.String(), `"target_epoch":"2"`)
}

func TestRoundTrip_Minimal(t *testing.T) {
	slot := phase0.Slot(10)
	source := phase0.Epoch(1)
	target := phase0.Epoch(2)
	doc := &Document{
		Metadata: Metadata{Format: FormatMinimal, Version: 5},
		Minimal: []MinimalRecord{{
			PubKey:                           pubKey(1),
			LastSignedBlockSlot:              &slot,
			LastSignedAttestationSourceEpoch: &source,
			LastSignedAttestationTargetEpoch: &target,
		}},
	}
	var buf bytes.Buffer
	require.NoError(t, doc.Write(&buf))

	parsed, err := Parse(&buf)
	require.NoError(t, err)
	require.True(t, doc.Equiv(parsed))
}

func TestEquiv_OrderInsensitive(t *testing.T) {
	var root phase0.Root
	root[0] = 1
	a := &Document{
		Metadata: Metadata{Format: FormatMinimal, Version: 5},
		Minimal: []MinimalRecord{
			{PubKey: pubKey(1)},
			{PubKey: pubKey(2)},
		},
	}
	b := &Document{
		Metadata: Metadata{Format: FormatMinimal, Version: 5},
		Minimal: []MinimalRecord{
			{PubKey: pubKey(2)},
			{PubKey: pubKey(1)},
		},
	}
	require.True(t, a.Equiv(b))
}

func TestEquiv_DifferentMetadataNotEquivalent(t *testing.T) {
	a := &Document{Metadata: Metadata{Format: FormatMinimal, Version: 5}}
	b := &Document{Metadata: Metadata{Format: FormatMinimal, Version: 6}}
	require.False(t, a.Equiv(b))
}

func TestLen(t *testing.T) {
	doc := &Document{
		Metadata: Metadata{Format: FormatComplete},
		Complete: []CompleteRecord{{PubKey: pubKey(1)}, {PubKey: pubKey(2)}},
	}
	require.Equal(t, 2, doc.Len())
}

func pubKey(b byte) phase0.BLSPubKey {
	var k phase0.BLSPubKey
	k[0] = b
	return k
}
