package store

import (
	"path/filepath"
	"testing"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T, mode Mode) (*Store, phase0.Root) {
	t.Helper()
	var genesisRoot phase0.Root
	genesisRoot[0] = 0x42
	path := filepath.Join(t.TempDir(), "slashing.db")
	s, err := Create(path, genesisRoot, mode)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, genesisRoot
}

func pk(b byte) phase0.BLSPubKey {
	var k phase0.BLSPubKey
	k[0] = b
	return k
}

func root(b byte) *phase0.Root {
	var r phase0.Root
	r[0] = b
	return &r
}

func TestCreate_FailsIfExists(t *testing.T) {
	var genesisRoot phase0.Root
	path := filepath.Join(t.TempDir(), "slashing.db")
	s, err := Create(path, genesisRoot, ModeComplete)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Create(path, genesisRoot, ModeComplete)
	require.Error(t, err)
}

func TestOpen_RoundTrip(t *testing.T) {
	s, genesisRoot := setupStore(t, ModeComplete)
	path := s.path
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	require.Equal(t, genesisRoot, reopened.GenesisValidatorsRoot())
	require.Equal(t, ModeComplete, reopened.Mode())
}

func TestOpen_MissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope.db"))
	require.Error(t, err)
}

func TestRegister_Idempotent(t *testing.T) {
	s, _ := setupStore(t, ModeComplete)
	require.NoError(t, s.Register(pk(1)))
	require.NoError(t, s.Register(pk(1)))
	registered, err := s.IsRegistered(pk(1))
	require.NoError(t, err)
	require.True(t, registered)
}

func TestCheckAndInsertBlock_UnregisteredValidator(t *testing.T) {
	s, _ := setupStore(t, ModeComplete)
	_, err := s.CheckAndInsertBlock(pk(1), 10, root(1))
	require.Error(t, err)
	var notSafe *ErrUnregisteredValidator
	require.ErrorAs(t, err, &notSafe)
}
