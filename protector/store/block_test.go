package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// A proposal may only ever advance the slot lower bound; an exact replay
// of already-signed data is the one repeat that is recognized as safe.
func TestCheckAndInsertBlock_SimpleMonotonicity_Complete(t *testing.T) {
	s, _ := setupStore(t, ModeComplete)
	require.NoError(t, s.Register(pk(0)))

	verdict, err := s.CheckAndInsertBlock(pk(0), 10, root(1))
	require.NoError(t, err)
	require.Equal(t, SafeValid, verdict)

	_, err = s.CheckAndInsertBlock(pk(0), 10, root(2))
	require.Error(t, err)
	var violation *ErrSlotViolatesLowerBound
	require.ErrorAs(t, err, &violation)
	require.EqualValues(t, 10, violation.Proposed)
	require.EqualValues(t, 10, violation.Bound)

	verdict, err = s.CheckAndInsertBlock(pk(0), 10, root(1))
	require.NoError(t, err)
	require.Equal(t, SafeSameData, verdict)

	verdict, err = s.CheckAndInsertBlock(pk(0), 11, root(3))
	require.NoError(t, err)
	require.Equal(t, SafeValid, verdict)
}

func TestCheckAndInsertBlock_SimpleMonotonicity_Minimal(t *testing.T) {
	s, _ := setupStore(t, ModeMinimal)
	require.NoError(t, s.Register(pk(0)))

	verdict, err := s.CheckAndInsertBlock(pk(0), 10, root(1))
	require.NoError(t, err)
	require.Equal(t, SafeValid, verdict)

	// Minimal mode cannot prove idempotence: a repeat at the same slot is
	// always rejected, even with a matching root.
	_, err = s.CheckAndInsertBlock(pk(0), 10, root(1))
	require.Error(t, err)
	var violation *ErrSlotViolatesLowerBound
	require.ErrorAs(t, err, &violation)
}

func TestCheckAndInsertBlock_AbsentRootIsPessimistic(t *testing.T) {
	s, _ := setupStore(t, ModeComplete)
	require.NoError(t, s.Register(pk(0)))

	_, err := s.CheckAndInsertBlock(pk(0), 10, nil)
	require.NoError(t, err)

	// Two absent roots at the same slot cannot be proven equal, so the
	// pessimistic choice is to reject rather than assume SameData.
	_, err = s.CheckAndInsertBlock(pk(0), 10, nil)
	require.Error(t, err)
	var violation *ErrSlotViolatesLowerBound
	require.ErrorAs(t, err, &violation)
}

func TestCheckAndInsertBlock_AtomicityOnRejection(t *testing.T) {
	s, _ := setupStore(t, ModeComplete)
	require.NoError(t, s.Register(pk(0)))

	_, err := s.CheckAndInsertBlock(pk(0), 10, root(1))
	require.NoError(t, err)
	before, err := s.LowerBound(pk(0))
	require.NoError(t, err)

	_, err = s.CheckAndInsertBlock(pk(0), 5, root(2))
	require.Error(t, err)

	after, err := s.LowerBound(pk(0))
	require.NoError(t, err)
	require.Equal(t, before, after)
}
