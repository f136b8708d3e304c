// Package interchange implements the EIP-3076 interchange JSON format: two
// schema variants (Minimal and Complete) sharing a metadata block, a strict
// parser that rejects unknown fields, and an order-insensitive equivalence
// check used by import-then-export round-trip tests.
//
// A parsed Document is a sum type: exactly one of Minimal/Complete is
// populated, discriminated by Metadata.Format.
package interchange

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/pkg/errors"
)

// Format names the interchange schema variant.
type Format string

const (
	FormatMinimal  Format = "minimal"
	FormatComplete Format = "complete"
)

// SupportedVersion is the only interchange_format_version this repository
// reads and writes (EIP-3076 revision 5).
const SupportedVersion = 5

// Metadata is shared by both schema variants.
type Metadata struct {
	Format                Format
	Version               QuotedUint64
	GenesisValidatorsRoot phase0.Root
}

type wireMetadata struct {
	Format                Format       `json:"interchange_format"`
	Version               QuotedUint64 `json:"interchange_format_version"`
	GenesisValidatorsRoot Hash32       `json:"genesis_validators_root"`
}

func (m Metadata) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireMetadata{Format: m.Format, Version: m.Version, GenesisValidatorsRoot: Hash32(m.GenesisValidatorsRoot)})
}

func (m *Metadata) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var w wireMetadata
	if err := dec.Decode(&w); err != nil {
		return err
	}
	m.Format, m.Version, m.GenesisValidatorsRoot = w.Format, w.Version, phase0.Root(w.GenesisValidatorsRoot)
	return nil
}

// MinimalRecord is one validator's entry in a Minimal-mode document.
type MinimalRecord struct {
	PubKey                           phase0.BLSPubKey
	LastSignedBlockSlot              *phase0.Slot
	LastSignedAttestationSourceEpoch *phase0.Epoch
	LastSignedAttestationTargetEpoch *phase0.Epoch
}

type wireMinimalRecord struct {
	PubKey                           PubKey        `json:"pubkey"`
	LastSignedBlockSlot              *QuotedUint64 `json:"last_signed_block_slot,omitempty"`
	LastSignedAttestationSourceEpoch *QuotedUint64 `json:"last_signed_attestation_source_epoch,omitempty"`
	LastSignedAttestationTargetEpoch *QuotedUint64 `json:"last_signed_attestation_target_epoch,omitempty"`
}

func (r MinimalRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireMinimalRecord{
		PubKey:                           PubKey(r.PubKey),
		LastSignedBlockSlot:              quotedPtr((*uint64)(r.LastSignedBlockSlot)),
		LastSignedAttestationSourceEpoch: quotedPtr((*uint64)(r.LastSignedAttestationSourceEpoch)),
		LastSignedAttestationTargetEpoch: quotedPtr((*uint64)(r.LastSignedAttestationTargetEpoch)),
	})
}

func (r *MinimalRecord) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var w wireMinimalRecord
	if err := dec.Decode(&w); err != nil {
		return err
	}
	r.PubKey = w.PubKey.Phase0()
	r.LastSignedBlockSlot = (*phase0.Slot)(unquotedPtr(w.LastSignedBlockSlot))
	r.LastSignedAttestationSourceEpoch = (*phase0.Epoch)(unquotedPtr(w.LastSignedAttestationSourceEpoch))
	r.LastSignedAttestationTargetEpoch = (*phase0.Epoch)(unquotedPtr(w.LastSignedAttestationTargetEpoch))
	return nil
}

// SignedBlock is one entry of a CompleteRecord's signed_blocks history.
type SignedBlock struct {
	Slot        phase0.Slot
	SigningRoot *phase0.Root
}

type wireSignedBlock struct {
	Slot        QuotedUint64 `json:"slot"`
	SigningRoot *Hash32      `json:"signing_root,omitempty"`
}

func (b SignedBlock) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireSignedBlock{Slot: QuotedUint64(b.Slot), SigningRoot: rootToHash32(b.SigningRoot)})
}

func (b *SignedBlock) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var w wireSignedBlock
	if err := dec.Decode(&w); err != nil {
		return err
	}
	b.Slot, b.SigningRoot = phase0.Slot(w.Slot), hash32ToRoot(w.SigningRoot)
	return nil
}

// SignedAttestation is one entry of a CompleteRecord's signed_attestations
// history.
type SignedAttestation struct {
	SourceEpoch phase0.Epoch
	TargetEpoch phase0.Epoch
	SigningRoot *phase0.Root
}

type wireSignedAttestation struct {
	SourceEpoch QuotedUint64 `json:"source_epoch"`
	TargetEpoch QuotedUint64 `json:"target_epoch"`
	SigningRoot *Hash32      `json:"signing_root,omitempty"`
}

func (a SignedAttestation) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireSignedAttestation{
		SourceEpoch: QuotedUint64(a.SourceEpoch),
		TargetEpoch: QuotedUint64(a.TargetEpoch),
		SigningRoot: rootToHash32(a.SigningRoot),
	})
}

func (a *SignedAttestation) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var w wireSignedAttestation
	if err := dec.Decode(&w); err != nil {
		return err
	}
	a.SourceEpoch, a.TargetEpoch, a.SigningRoot = phase0.Epoch(w.SourceEpoch), phase0.Epoch(w.TargetEpoch), hash32ToRoot(w.SigningRoot)
	return nil
}

// CompleteRecord is one validator's entry in a Complete-mode document.
type CompleteRecord struct {
	PubKey             phase0.BLSPubKey
	SignedBlocks       []SignedBlock
	SignedAttestations []SignedAttestation
}

type wireCompleteRecord struct {
	PubKey             PubKey              `json:"pubkey"`
	SignedBlocks       []SignedBlock       `json:"signed_blocks"`
	SignedAttestations []SignedAttestation `json:"signed_attestations"`
}

func (r CompleteRecord) MarshalJSON() ([]byte, error) {
	blocks, atts := r.SignedBlocks, r.SignedAttestations
	if blocks == nil {
		blocks = []SignedBlock{}
	}
	if atts == nil {
		atts = []SignedAttestation{}
	}
	return json.Marshal(wireCompleteRecord{PubKey: PubKey(r.PubKey), SignedBlocks: blocks, SignedAttestations: atts})
}

func (r *CompleteRecord) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var w wireCompleteRecord
	if err := dec.Decode(&w); err != nil {
		return err
	}
	r.PubKey = w.PubKey.Phase0()
	r.SignedBlocks = w.SignedBlocks
	r.SignedAttestations = w.SignedAttestations
	return nil
}

// Document is a parsed interchange file: a sum type over Minimal and
// Complete record lists, discriminated by Metadata.Format. Exactly one of
// Minimal/Complete is populated.
type Document struct {
	Metadata Metadata
	Minimal  []MinimalRecord
	Complete []CompleteRecord
}

type rawDocument struct {
	Metadata Metadata        `json:"metadata"`
	Data     json.RawMessage `json:"data"`
}

// Parse reads and strictly validates an interchange document: unknown
// fields at any level are rejected, and the data array is parsed according
// to metadata.interchange_format.
func Parse(r io.Reader) (*Document, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "read interchange document")
	}

	var raw rawDocument
	dec := json.NewDecoder(bytes.NewReader(buf))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "parse interchange metadata")
	}

	doc := &Document{Metadata: raw.Metadata}
	dataDec := json.NewDecoder(bytes.NewReader(raw.Data))
	dataDec.DisallowUnknownFields()

	switch raw.Metadata.Format {
	case FormatMinimal:
		if err := dataDec.Decode(&doc.Minimal); err != nil {
			return nil, errors.Wrap(err, "parse minimal interchange data")
		}
	case FormatComplete:
		if err := dataDec.Decode(&doc.Complete); err != nil {
			return nil, errors.Wrap(err, "parse complete interchange data")
		}
	default:
		return nil, errors.Errorf("unknown interchange_format %q", raw.Metadata.Format)
	}
	return doc, nil
}

// Write serializes the document back to its canonical JSON form.
func (d *Document) Write(w io.Writer) error {
	var data interface{}
	switch d.Metadata.Format {
	case FormatMinimal:
		data = d.Minimal
		if data == nil {
			data = []MinimalRecord{}
		}
	case FormatComplete:
		data = d.Complete
		if data == nil {
			data = []CompleteRecord{}
		}
	default:
		return errors.Errorf("unknown interchange_format %q", d.Metadata.Format)
	}
	out := struct {
		Metadata Metadata    `json:"metadata"`
		Data     interface{} `json:"data"`
	}{Metadata: d.Metadata, Data: data}
	enc := json.NewEncoder(w)
	return errors.Wrap(enc.Encode(&out), "write interchange document")
}

// Merge combines documents that share the same metadata into a single
// document with every record present, used to dump an entire network's
// stores (one per validator) as one interchange file.
func Merge(metadata Metadata, docs []*Document) (*Document, error) {
	out := &Document{Metadata: metadata}
	for _, d := range docs {
		if d.Metadata != metadata {
			return nil, errors.New("cannot merge documents with different metadata")
		}
		switch metadata.Format {
		case FormatMinimal:
			out.Minimal = append(out.Minimal, d.Minimal...)
		case FormatComplete:
			out.Complete = append(out.Complete, d.Complete...)
		default:
			return nil, errors.Errorf("unknown interchange_format %q", metadata.Format)
		}
	}
	return out, nil
}

// Len returns the number of top-level validator records in the document.
func (d *Document) Len() int {
	if d.Metadata.Format == FormatComplete {
		return len(d.Complete)
	}
	return len(d.Minimal)
}

// Equiv reports whether d and other describe the same document up to
// record order: equal metadata, and the same multiset of top-level records
// (each record's nested histories compared order-insensitively too).
func (d *Document) Equiv(other *Document) bool {
	if other == nil {
		return false
	}
	if d.Metadata != other.Metadata {
		return false
	}
	if d.Metadata.Format != other.Metadata.Format {
		return false
	}
	switch d.Metadata.Format {
	case FormatMinimal:
		return multisetEqual(minimalKeys(d.Minimal), minimalKeys(other.Minimal))
	case FormatComplete:
		return multisetEqual(completeKeys(d.Complete), completeKeys(other.Complete))
	default:
		return false
	}
}

func multisetEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	counts := make(map[string]int, len(a))
	for _, k := range a {
		counts[k]++
	}
	for _, k := range b {
		counts[k]--
	}
	for _, c := range counts {
		if c != 0 {
			return false
		}
	}
	return true
}

func minimalKeys(records []MinimalRecord) []string {
	keys := make([]string, len(records))
	for i, r := range records {
		keys[i] = fmt.Sprintf("%#x|%s|%s|%s", r.PubKey, slotKey(r.LastSignedBlockSlot), epochKey(r.LastSignedAttestationSourceEpoch), epochKey(r.LastSignedAttestationTargetEpoch))
	}
	return keys
}

func completeKeys(records []CompleteRecord) []string {
	keys := make([]string, len(records))
	for i, r := range records {
		blocks := make([]string, len(r.SignedBlocks))
		for j, b := range r.SignedBlocks {
			blocks[j] = fmt.Sprintf("%d|%s", b.Slot, rootKey(b.SigningRoot))
		}
		sort.Strings(blocks)

		atts := make([]string, len(r.SignedAttestations))
		for j, a := range r.SignedAttestations {
			atts[j] = fmt.Sprintf("%d|%d|%s", a.SourceEpoch, a.TargetEpoch, rootKey(a.SigningRoot))
		}
		sort.Strings(atts)

		keys[i] = fmt.Sprintf("%#x|%v|%v", r.PubKey, blocks, atts)
	}
	return keys
}

func slotKey(s *phase0.Slot) string {
	if s == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *s)
}

func epochKey(e *phase0.Epoch) string {
	if e == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *e)
}

func rootKey(r *phase0.Root) string {
	if r == nil {
		return "-"
	}
	return fmt.Sprintf("%#x", *r)
}
