package mstimer_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lonstack/ctrlnet/mstimer"
)

func TestOneShotExpiresOnce(t *testing.T) {
	var tm mstimer.MsTimer
	tm.Set(0, 100)
	require.True(t, tm.Running())
	require.False(t, tm.Expired(50))
	require.True(t, tm.Expired(100))
	require.False(t, tm.Running())
	require.False(t, tm.Expired(200), "expired must not re-fire after consumption")
}

func TestZeroDurationStops(t *testing.T) {
	var tm mstimer.MsTimer
	tm.Set(0, 100)
	tm.Set(50, 0)
	require.False(t, tm.Running())
	require.False(t, tm.Expired(1000))
}

func TestRepeatingRearmsFromScheduledDeadline(t *testing.T) {
	var tm mstimer.MsTimer
	tm.SetRepeating(0, 100)
	require.True(t, tm.Expired(100))
	require.True(t, tm.Running())
	require.False(t, tm.Expired(150))
	require.True(t, tm.Expired(200))
}

func TestCounterWraparound(t *testing.T) {
	var tm mstimer.MsTimer
	var nearWrap uint32 = 0xFFFFFFF0
	tm.Set(nearWrap, 32) // expires at 0xFFFFFFF0+32, wraps past 2^32
	require.False(t, tm.Expired(0xFFFFFFFF))
	require.True(t, tm.Expired(16))
}

func TestStopDisablesExpired(t *testing.T) {
	var tm mstimer.MsTimer
	tm.Set(0, 10)
	tm.Stop()
	require.False(t, tm.Running())
	require.False(t, tm.Expired(1000))
}
