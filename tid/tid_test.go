package tid_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lonstack/ctrlnet/tid"
)

func destA() tid.Dest {
	return tid.Dest{Kind: tid.DestSubnetNode, Subnet: 1, Node: 2}
}

func TestNewTidNeverReusesPrecedingValue(t *testing.T) {
	a := tid.New(4)
	t1, err := a.NewTid(false, destA(), 0)
	require.NoError(t, err)
	a.TransDone(false)

	t2, err := a.NewTid(false, destA(), 100)
	require.NoError(t, err)
	require.NotEqual(t, t1, t2)
	require.NotZero(t, t2)
}

func TestNewTidNeverZero(t *testing.T) {
	a := tid.New(1)
	for i := 0; i < 20; i++ {
		got, err := a.NewTid(false, destA(), uint32(i)*100)
		require.NoError(t, err)
		require.NotZero(t, got)
		a.TransDone(false)
	}
}

func TestBusyRejectsConcurrentStart(t *testing.T) {
	a := tid.New(4)
	_, err := a.NewTid(true, destA(), 0)
	require.NoError(t, err)
	_, err = a.NewTid(true, destA(), 10)
	require.ErrorIs(t, err, tid.ErrBusy)
}

func TestPriorityAndNonPriorityAreIndependent(t *testing.T) {
	a := tid.New(4)
	_, err := a.NewTid(true, destA(), 0)
	require.NoError(t, err)
	_, err = a.NewTid(false, destA(), 0)
	require.NoError(t, err, "non-priority ring must not be blocked by priority ring's in-progress transaction")
}

func TestTableFullEvictsOnlyAgedEntries(t *testing.T) {
	a := tid.New(1)
	first := tid.Dest{Kind: tid.DestSubnetNode, Subnet: 1, Node: 1}
	second := tid.Dest{Kind: tid.DestSubnetNode, Subnet: 1, Node: 2}

	_, err := a.NewTid(false, first, 0)
	require.NoError(t, err)
	a.TransDone(false)

	_, err = a.NewTid(false, second, 1000)
	require.ErrorIs(t, err, tid.ErrTableFull)

	_, err = a.NewTid(false, second, tid.AgeTimerMillis+1)
	require.NoError(t, err)
}

func TestValidateAcceptsCurrentRejectsStale(t *testing.T) {
	a := tid.New(4)
	got, err := a.NewTid(true, destA(), 0)
	require.NoError(t, err)
	require.Equal(t, tid.Current, a.Validate(true, got))
	require.Equal(t, tid.NotCurrent, a.Validate(true, got+1))

	a.TransDone(true)
	require.Equal(t, tid.NotCurrent, a.Validate(true, got))
}

func TestOverrideTidForProxyInherit(t *testing.T) {
	a := tid.New(4)
	a.OverrideTid(false, 7)
	require.True(t, a.InProgress(false))
	require.Equal(t, uint8(7), a.CurrentTid(false))
	require.Equal(t, tid.Current, a.Validate(false, 7))
}
