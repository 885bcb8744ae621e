package config_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lonstack/ctrlnet/config"
)

func TestLoadWithoutPathReturnsDefaults(t *testing.T) {
	n, err := config.Load("")
	require.NoError(t, err)
	require.Equal(t, config.DefaultNode(), n)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	n, err := config.Load("/nonexistent/path/ctrlnet.yaml")
	require.NoError(t, err)
	require.Equal(t, config.DefaultNode().FlexModeEnabled, n.FlexModeEnabled)
	require.Equal(t, config.DefaultNode().AddressTableCap, n.AddressTableCap)
}

func TestChecksumIsSensitiveToBlobContent(t *testing.T) {
	a := config.DefaultDataBlob()
	b := config.DefaultDataBlob()
	b.Preemption = 3
	require.NotEqual(t, a.Checksum(), b.Checksum())
}

func TestChecksumIsSensitiveToGroupSizeCompatibility(t *testing.T) {
	a := config.DefaultDataBlob()
	b := config.DefaultDataBlob()
	b.GroupSizeCompatibility = !b.GroupSizeCompatibility
	require.NotEqual(t, a.Checksum(), b.Checksum())
}

type fakeNvm struct {
	writes [][]byte
}

func (f *fakeNvm) Write(data []byte) error {
	f.writes = append(f.writes, append([]byte(nil), data...))
	return nil
}

func TestWatchdogTickDoesNotFireForUnchangedOrReplacedBlob(t *testing.T) {
	blob := config.DefaultDataBlob()
	nvm := &fakeNvm{}
	fired := 0
	wd := config.NewWatchdog(nvm, blob, func() { fired++ })

	wd.Tick()
	require.Equal(t, 0, fired, "unchanged blob must not fire")

	wd.SetBlob(config.DataBlob{Preemption: 9})

	wd.Tick()
	require.Equal(t, 0, fired)
}

func TestWatchdogDebouncesErrorLogWrites(t *testing.T) {
	nvm := &fakeNvm{}
	wd := config.NewWatchdog(nvm, config.DefaultDataBlob(), nil)

	wd.NoteErrorLog(5)
	wd.NoteErrorLog(5)
	wd.NoteErrorLog(5)
	require.Len(t, nvm.writes, 1, "repeated identical error-log values must not re-write")

	wd.NoteErrorLog(6)
	require.Len(t, nvm.writes, 2)
}
