// Package store implements the durable, transactional heart of the
// slashing-protection subsystem: a bbolt-backed mapping from registered
// validator public keys to their LowerBound and, in Complete mode, their
// full signed-block and signed-attestation history.
//
// Every public method that decides whether a signing is safe runs as a
// single bbolt write transaction: bbolt allows only one writer at a time
// for the whole file, so check-and-insert calls on the same validator are
// strictly serialized.
package store

import (
	"os"
	"path/filepath"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

// Store is a single on-disk slashing-protection database bound to one
// genesis validators root.
type Store struct {
	db                    *bolt.DB
	path                  string
	mode                  Mode
	genesisValidatorsRoot phase0.Root
}

// Create creates a fresh store file bound to genesisRoot. It fails if path
// already exists.
func Create(path string, genesisRoot phase0.Root, mode Mode) (*Store, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, &StoreError{Op: "create", Err: errors.Errorf("%s already exists", path)}
	} else if !os.IsNotExist(err) {
		return nil, &StoreError{Op: "create", Err: err}
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, &StoreError{Op: "create", Err: err}
		}
	}

	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, &StoreError{Op: "create", Err: err}
	}
	s := &Store{db: db, path: path, mode: mode, genesisValidatorsRoot: genesisRoot}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{registeredBucket, lowerBoundsBucket, signedBlocksBucket, signedAttsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		meta, err := tx.CreateBucketIfNotExists(metaBucket)
		if err != nil {
			return err
		}
		if err := meta.Put(metaKeyGenesisRoot, genesisRoot[:]); err != nil {
			return err
		}
		return meta.Put(metaKeyMode, []byte{byte(mode)})
	})
	if err != nil {
		db.Close()
		os.Remove(path)
		return nil, &StoreError{Op: "create", Err: err}
	}
	return s, nil
}

// Open opens an existing store, failing if it is absent or its schema is
// incompatible.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, &StoreError{Op: "open", Err: err}
	}
	s := &Store{db: db, path: path}
	err = db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(metaBucket)
		if meta == nil {
			return errors.New("not a slashing protection store: missing metadata bucket")
		}
		root := meta.Get(metaKeyGenesisRoot)
		if len(root) != 32 {
			return errors.New("not a slashing protection store: missing genesis validators root")
		}
		copy(s.genesisValidatorsRoot[:], root)
		modeByte := meta.Get(metaKeyMode)
		if len(modeByte) != 1 {
			return errors.New("not a slashing protection store: missing mode")
		}
		s.mode = Mode(modeByte[0])
		for _, name := range [][]byte{registeredBucket, lowerBoundsBucket, signedBlocksBucket, signedAttsBucket} {
			if tx.Bucket(name) == nil {
				return errors.Errorf("not a slashing protection store: missing %s bucket", name)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, &StoreError{Op: "open", Err: err}
	}
	return s, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return &StoreError{Op: "close", Err: err}
	}
	return nil
}

// Mode reports whether this store keeps full signing history.
func (s *Store) Mode() Mode { return s.mode }

// GenesisValidatorsRoot reports the chain root this store is bound to.
func (s *Store) GenesisValidatorsRoot() phase0.Root { return s.genesisValidatorsRoot }

// Register idempotently adds pubKey to the registered set. A validator must
// be registered before it may sign.
func (s *Store) Register(pubKey phase0.BLSPubKey) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(registeredBucket).Put(pubKey[:], []byte{1})
	})
	return wrapStoreErr("register", err)
}

// IsRegistered reports whether pubKey has been registered.
func (s *Store) IsRegistered(pubKey phase0.BLSPubKey) (bool, error) {
	var registered bool
	err := s.db.View(func(tx *bolt.Tx) error {
		registered = tx.Bucket(registeredBucket).Get(pubKey[:]) != nil
		return nil
	})
	if err != nil {
		return false, wrapStoreErr("is_registered", err)
	}
	return registered, nil
}

func isRegistered(tx *bolt.Tx, pubKey phase0.BLSPubKey) bool {
	return tx.Bucket(registeredBucket).Get(pubKey[:]) != nil
}

// readLowerBound reads the current LowerBound for pubKey within tx. A
// validator with no prior signing has a zero-value (fully absent) bound.
func readLowerBound(tx *bolt.Tx, pubKey phase0.BLSPubKey) (LowerBound, error) {
	var lb LowerBound
	bucket := tx.Bucket(lowerBoundsBucket).Bucket(pubKey[:])
	if bucket == nil {
		return lb, nil
	}
	if v := bucket.Get(lbKeyBlockProposalSlot); v != nil {
		lb.BlockProposalSlot = slotPtr(phase0.Slot(decodeUint64(v)))
	}
	if v := bucket.Get(lbKeyAttestationSourceEpoch); v != nil {
		lb.AttestationSourceEpoch = epochPtr(phase0.Epoch(decodeUint64(v)))
	}
	if v := bucket.Get(lbKeyAttestationTargetEpoch); v != nil {
		lb.AttestationTargetEpoch = epochPtr(phase0.Epoch(decodeUint64(v)))
	}
	if lb.AttestationSourceEpoch != nil && lb.AttestationTargetEpoch != nil {
		source, target := *lb.AttestationSourceEpoch, *lb.AttestationTargetEpoch
		if source > target && !(source == 0 && target == 0) {
			return lb, &ErrConsistencyError{Reason: "persisted attestation source epoch exceeds target epoch"}
		}
	}
	return lb, nil
}

// writeLowerBound persists lb for pubKey within tx, overwriting any prior
// value. Callers must only ever pass a Merge of the previous bound with new
// data, never a regression.
func writeLowerBound(tx *bolt.Tx, pubKey phase0.BLSPubKey, lb LowerBound) error {
	bucket, err := tx.Bucket(lowerBoundsBucket).CreateBucketIfNotExists(pubKey[:])
	if err != nil {
		return err
	}
	if lb.BlockProposalSlot != nil {
		if err := bucket.Put(lbKeyBlockProposalSlot, encodeUint64(uint64(*lb.BlockProposalSlot))); err != nil {
			return err
		}
	}
	if lb.AttestationSourceEpoch != nil {
		if err := bucket.Put(lbKeyAttestationSourceEpoch, encodeUint64(uint64(*lb.AttestationSourceEpoch))); err != nil {
			return err
		}
	}
	if lb.AttestationTargetEpoch != nil {
		if err := bucket.Put(lbKeyAttestationTargetEpoch, encodeUint64(uint64(*lb.AttestationTargetEpoch))); err != nil {
			return err
		}
	}
	return nil
}

// LowerBound returns the current lower bound recorded for pubKey.
func (s *Store) LowerBound(pubKey phase0.BLSPubKey) (LowerBound, error) {
	var lb LowerBound
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		lb, err = readLowerBound(tx, pubKey)
		return err
	})
	if err != nil {
		return lb, wrapStoreErr("lower_bound", err)
	}
	return lb, nil
}
