package pool

import (
	"context"
	"testing"
	"time"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/stretchr/testify/require"

	"github.com/watchtower-eth/slashing-protector/protector/store"
)

var testRoot = phase0.Root{0x42}

func testPubKey(b byte) phase0.BLSPubKey {
	var k phase0.BLSPubKey
	k[0] = b
	return k
}

func TestPool_AcquireCreatesStore(t *testing.T) {
	p := New(t.TempDir(), store.ModeComplete)
	defer p.Close()

	conn, err := p.Acquire(context.Background(), "mainnet", testPubKey(1), testRoot)
	require.NoError(t, err)
	defer conn.Release()

	require.Equal(t, testRoot, conn.GenesisValidatorsRoot())
	require.Equal(t, store.ModeComplete, conn.Mode())
	require.Equal(t, 1, p.Len())
}

func TestPool_AcquireSerializesPerValidator(t *testing.T) {
	p := New(t.TempDir(), store.ModeComplete)
	defer p.Close()

	conn, err := p.Acquire(context.Background(), "mainnet", testPubKey(1), testRoot)
	require.NoError(t, err)

	// A second acquire of the same validator must wait for Release.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx, "mainnet", testPubKey(1), testRoot)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	conn.Release()
	conn2, err := p.Acquire(context.Background(), "mainnet", testPubKey(1), testRoot)
	require.NoError(t, err)
	conn2.Release()
}

func TestPool_DistinctValidatorsDoNotContend(t *testing.T) {
	p := New(t.TempDir(), store.ModeComplete)
	defer p.Close()

	conn1, err := p.Acquire(context.Background(), "mainnet", testPubKey(1), testRoot)
	require.NoError(t, err)
	defer conn1.Release()

	conn2, err := p.Acquire(context.Background(), "mainnet", testPubKey(2), testRoot)
	require.NoError(t, err)
	defer conn2.Release()

	require.Equal(t, 2, p.Len())
}

func TestPool_GenesisRootMismatch(t *testing.T) {
	dir := t.TempDir()
	p := New(dir, store.ModeComplete)

	conn, err := p.Acquire(context.Background(), "mainnet", testPubKey(1), testRoot)
	require.NoError(t, err)
	conn.Release()
	require.NoError(t, p.Close())

	other := phase0.Root{0xff}
	p2 := New(dir, store.ModeComplete)
	defer p2.Close()
	_, err = p2.Acquire(context.Background(), "mainnet", testPubKey(1), other)
	require.Error(t, err)
}

func TestPool_ListPubKeys(t *testing.T) {
	dir := t.TempDir()
	p := New(dir, store.ModeComplete)
	defer p.Close()

	keys, err := p.ListPubKeys("mainnet")
	require.NoError(t, err)
	require.Empty(t, keys)

	for _, b := range []byte{1, 2} {
		conn, err := p.Acquire(context.Background(), "mainnet", testPubKey(b), testRoot)
		require.NoError(t, err)
		conn.Release()
	}
	conn, err := p.Acquire(context.Background(), "prater", testPubKey(3), testRoot)
	require.NoError(t, err)
	conn.Release()

	keys, err = p.ListPubKeys("mainnet")
	require.NoError(t, err)
	require.ElementsMatch(t, []phase0.BLSPubKey{testPubKey(1), testPubKey(2)}, keys)
}
