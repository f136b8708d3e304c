// Package protector exposes the slashing-protection store as a small
// facade: per-(network, validator) checks backed by a pool.Pool, and
// network-wide EIP-3076 interchange import/export that fans each record
// out to its validator's own store.
package protector

import (
	"context"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/pkg/errors"

	"github.com/watchtower-eth/slashing-protector/protector/interchange"
	"github.com/watchtower-eth/slashing-protector/protector/pool"
	"github.com/watchtower-eth/slashing-protector/protector/store"
)

// Check is the verdict for a single proposed signing.
type Check struct {
	Slashable bool   `json:"slashable"`
	Reason    string `json:"reason,omitempty"`
}

// History is a validator's recorded signing history, as far as it can be
// reported: in Minimal mode only the lower bound is known.
type History struct {
	LowerBound store.LowerBound `json:"lower_bound"`
}

// Protector decides whether validator signings are safe and manages their
// durable history, including EIP-3076 interchange import/export.
type Protector interface {
	CheckProposal(ctx context.Context, network string, pubKey phase0.BLSPubKey, genesisRoot phase0.Root, slot phase0.Slot, signingRoot *phase0.Root) (*Check, error)
	CheckAttestation(ctx context.Context, network string, pubKey phase0.BLSPubKey, genesisRoot phase0.Root, source, target phase0.Epoch, signingRoot *phase0.Root) (*Check, error)
	History(ctx context.Context, network string, pubKey phase0.BLSPubKey, genesisRoot phase0.Root) (*History, error)
	Import(ctx context.Context, network string, doc *interchange.Document) error
	Export(ctx context.Context, network string, format interchange.Format) (*interchange.Document, error)
	Close() error
}

// ProtectorPooler is implemented by Protectors backed by a pool.Pool, so
// the HTTP layer can report pool-level diagnostics without widening the
// core interface.
type ProtectorPooler interface {
	Pool() *pool.Pool
}

type protectorImpl struct {
	pool *pool.Pool
}

// New returns a Protector whose store files live under dir, recording full
// signing history (ModeComplete).
func New(dir string) Protector {
	return &protectorImpl{pool: pool.New(dir, store.ModeComplete)}
}

// NewMinimal is like New, but discards signing history after folding it
// into the lower bound (ModeMinimal): smaller on disk, but CheckProposal
// and CheckAttestation can no longer recognize an idempotent replay of
// already-seen data, and instead reject it as a lower-bound violation.
func NewMinimal(dir string) Protector {
	return &protectorImpl{pool: pool.New(dir, store.ModeMinimal)}
}

func (p *protectorImpl) Pool() *pool.Pool { return p.pool }

func (p *protectorImpl) acquire(ctx context.Context, network string, pubKey phase0.BLSPubKey, genesisRoot phase0.Root) (*pool.Conn, error) {
	conn, err := p.pool.Acquire(ctx, network, pubKey, genesisRoot)
	if err != nil {
		return nil, errors.Wrap(err, "pool.Acquire")
	}
	registered, err := conn.IsRegistered(pubKey)
	if err != nil {
		conn.Release()
		return nil, err
	}
	if !registered {
		if err := conn.Register(pubKey); err != nil {
			conn.Release()
			return nil, err
		}
	}
	return conn, nil
}

func (p *protectorImpl) CheckProposal(ctx context.Context, network string, pubKey phase0.BLSPubKey, genesisRoot phase0.Root, slot phase0.Slot, signingRoot *phase0.Root) (*Check, error) {
	conn, err := p.acquire(ctx, network, pubKey, genesisRoot)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	verdict, err := conn.CheckAndInsertBlock(pubKey, slot, signingRoot)
	return checkFromVerdict(verdict, err)
}

func (p *protectorImpl) CheckAttestation(ctx context.Context, network string, pubKey phase0.BLSPubKey, genesisRoot phase0.Root, source, target phase0.Epoch, signingRoot *phase0.Root) (*Check, error) {
	conn, err := p.acquire(ctx, network, pubKey, genesisRoot)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	verdict, err := conn.CheckAndInsertAttestation(pubKey, source, target, signingRoot)
	return checkFromVerdict(verdict, err)
}

// checkFromVerdict turns a store.Safe/error pair into a Check: a NotSafe
// reason becomes a non-error Check reporting why signing was refused,
// while any other error is a hard failure and is returned as such.
func checkFromVerdict(verdict store.Safe, err error) (*Check, error) {
	if err != nil {
		var notSafe store.NotSafe
		if errors.As(err, &notSafe) {
			return &Check{Slashable: true, Reason: notSafe.Error()}, nil
		}
		return nil, err
	}
	return &Check{Slashable: false, Reason: verdict.String()}, nil
}

func (p *protectorImpl) History(ctx context.Context, network string, pubKey phase0.BLSPubKey, genesisRoot phase0.Root) (*History, error) {
	conn, err := p.acquire(ctx, network, pubKey, genesisRoot)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	lb, err := conn.LowerBound(pubKey)
	if err != nil {
		return nil, err
	}
	return &History{LowerBound: lb}, nil
}

// Import fans a document's records out to each validator's own store
// within the named network.
func (p *protectorImpl) Import(ctx context.Context, network string, doc *interchange.Document) error {
	switch doc.Metadata.Format {
	case interchange.FormatMinimal:
		for _, record := range doc.Minimal {
			single := &interchange.Document{Metadata: doc.Metadata, Minimal: []interchange.MinimalRecord{record}}
			if err := p.importOne(ctx, network, record.PubKey, doc.Metadata.GenesisValidatorsRoot, single); err != nil {
				return errors.Wrapf(err, "import validator %#x", record.PubKey[:])
			}
		}
	case interchange.FormatComplete:
		for _, record := range doc.Complete {
			single := &interchange.Document{Metadata: doc.Metadata, Complete: []interchange.CompleteRecord{record}}
			if err := p.importOne(ctx, network, record.PubKey, doc.Metadata.GenesisValidatorsRoot, single); err != nil {
				return errors.Wrapf(err, "import validator %#x", record.PubKey[:])
			}
		}
	default:
		return errors.Errorf("unknown interchange_format %q", doc.Metadata.Format)
	}
	return nil
}

func (p *protectorImpl) importOne(ctx context.Context, network string, pubKey phase0.BLSPubKey, genesisRoot phase0.Root, doc *interchange.Document) error {
	conn, err := p.pool.Acquire(ctx, network, pubKey, genesisRoot)
	if err != nil {
		return errors.Wrap(err, "pool.Acquire")
	}
	defer conn.Release()
	return conn.ImportInterchange(doc, genesisRoot)
}

// Export produces a single interchange document covering every validator
// this protector has a store file for within network.
func (p *protectorImpl) Export(ctx context.Context, network string, format interchange.Format) (*interchange.Document, error) {
	pubKeys, err := p.pool.ListPubKeys(network)
	if err != nil {
		return nil, err
	}
	if len(pubKeys) == 0 {
		return &interchange.Document{Metadata: interchange.Metadata{Format: format, Version: interchange.SupportedVersion}}, nil
	}

	var docs []*interchange.Document
	var metadata interchange.Metadata
	for i, pubKey := range pubKeys {
		// The genesis root is already known to the store on disk; pass the
		// zero value here and let Acquire open the existing file as-is.
		conn, err := p.pool.Acquire(ctx, network, pubKey, phase0.Root{})
		if err != nil {
			return nil, errors.Wrapf(err, "acquire store for %#x", pubKey[:])
		}
		doc, err := conn.ExportInterchange(format)
		conn.Release()
		if err != nil {
			return nil, errors.Wrapf(err, "export validator %#x", pubKey[:])
		}
		if i == 0 {
			metadata = doc.Metadata
		} else if doc.Metadata != metadata {
			return nil, errors.New("cannot export network: validator stores disagree on metadata")
		}
		docs = append(docs, doc)
	}
	return interchange.Merge(metadata, docs)
}

func (p *protectorImpl) Close() error {
	return p.pool.Close()
}
