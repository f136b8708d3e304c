// Package pool manages one on-disk store.Store per (network, validator
// public key), opening lazily and serializing access to each file with a
// weighted semaphore so a single validator's slashing-protection database
// never sees two writers at once.
package pool

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sync/semaphore"

	"github.com/watchtower-eth/slashing-protector/protector/store"
)

// Conn is a store.Store checked out of the pool. The caller must call
// Release when done with it.
type Conn struct {
	*store.Store
	sem *semaphore.Weighted
}

// Release returns the connection to the pool, making it available for the
// next Acquire of the same (network, pubKey). It does not close the
// underlying store file.
func (c *Conn) Release() {
	c.sem.Release(1)
}

// connID identifies one validator's store file within a network.
type connID struct {
	network string
	pubKey  phase0.BLSPubKey
}

func (id connID) fileName() string {
	return fmt.Sprintf("%s-%x.db", id.network, id.pubKey)
}

type entry struct {
	sem   *semaphore.Weighted
	store *store.Store
}

// Pool lazily opens and caches one store.Store per (network, pubKey),
// creating the backing file on first use.
type Pool struct {
	dir     string
	mode    store.Mode
	mu      sync.Mutex
	entries map[connID]*entry
}

// New returns a Pool whose store files are created under dir, in the given
// mode, when first acquired.
func New(dir string, mode store.Mode) *Pool {
	return &Pool{
		dir:     dir,
		mode:    mode,
		entries: make(map[connID]*entry),
	}
}

// Acquire returns the store for (network, pubKey), opening or creating its
// file as necessary and binding it to genesisRoot on first creation. An
// already-bound store is checked against genesisRoot unless the caller
// passes the zero root, which opens the file as-is. The caller must call
// Release when finished.
func (p *Pool) Acquire(ctx context.Context, network string, pubKey phase0.BLSPubKey, genesisRoot phase0.Root) (*Conn, error) {
	e, err := p.getOrOpen(network, pubKey, genesisRoot)
	if err != nil {
		return nil, err
	}
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, errors.Wrap(err, "acquire store semaphore")
	}
	return &Conn{Store: e.store, sem: e.sem}, nil
}

func (p *Pool) getOrOpen(network string, pubKey phase0.BLSPubKey, genesisRoot phase0.Root) (*entry, error) {
	id := connID{network, pubKey}

	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.entries[id]; ok {
		return e, nil
	}

	path := filepath.Join(p.dir, id.fileName())
	var s *store.Store
	if _, err := os.Stat(path); err == nil {
		s, err = store.Open(path)
		if err != nil {
			return nil, errors.Wrapf(err, "open store for %x", pubKey)
		}
		if genesisRoot != (phase0.Root{}) && s.GenesisValidatorsRoot() != genesisRoot {
			s.Close()
			return nil, errors.Errorf("store for %x is bound to a different genesis validators root", pubKey)
		}
	} else if os.IsNotExist(err) {
		s, err = store.Create(path, genesisRoot, p.mode)
		if err != nil {
			return nil, errors.Wrapf(err, "create store for %x", pubKey)
		}
	} else {
		return nil, errors.Wrapf(err, "stat store for %x", pubKey)
	}

	e := &entry{sem: semaphore.NewWeighted(1), store: s}
	p.entries[id] = e
	return e, nil
}

// ListPubKeys scans the pool directory for store files belonging to
// network, whether or not they are currently open, and returns the public
// keys they are named after.
func (p *Pool) ListPubKeys(network string) ([]phase0.BLSPubKey, error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "read pool directory")
	}
	prefix := network + "-"
	var pubKeys []phase0.BLSPubKey
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".db") {
			continue
		}
		hexKey := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".db")
		b, err := hex.DecodeString(hexKey)
		if err != nil || len(b) != len(phase0.BLSPubKey{}) {
			continue
		}
		var pubKey phase0.BLSPubKey
		copy(pubKey[:], b)
		pubKeys = append(pubKeys, pubKey)
	}
	return pubKeys, nil
}

// Len reports how many store files the pool currently has open.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Close closes every store file the pool has opened.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var err error
	for id, e := range p.entries {
		if closeErr := e.store.Close(); closeErr != nil {
			err = multierr.Append(err, errors.Wrapf(closeErr, "close store for %x", id.pubKey))
		}
	}
	p.entries = make(map[connID]*entry)
	return err
}
