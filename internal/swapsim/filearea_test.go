package swapsim

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swapcore/internal/flash"
)

func TestFileAreaWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.bin")
	area, err := OpenFileArea(path, 0, 2*512, 512)
	require.NoError(t, err)
	defer area.Close()

	state, err := area.GetState(0)
	require.NoError(t, err)
	assert.Equal(t, flash.StateErased, state)

	buf := make([]byte, 512)
	copy(buf, "hello from the file-backed slot")
	require.NoError(t, area.Write(0, buf))

	state, err = area.GetState(0)
	require.NoError(t, err)
	assert.Equal(t, flash.StateWritten, state)

	got := make([]byte, 512)
	require.NoError(t, area.Read(0, got))
	assert.Equal(t, buf, got)
}

func TestFileAreaSecondOpenIsLocked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.bin")
	first, err := OpenFileArea(path, 0, 512, 512)
	require.NoError(t, err)
	defer first.Close()

	_, err = OpenFileArea(path, 0, 512, 512)
	assert.ErrorIs(t, err, ErrDeviceLocked)
}

func TestFileAreaCloseReleasesLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.bin")
	first, err := OpenFileArea(path, 0, 512, 512)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := OpenFileArea(path, 0, 512, 512)
	require.NoError(t, err)
	defer second.Close()
}

func TestFileAreaDetectsTamperedSector(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.bin")
	area, err := OpenFileArea(path, 0, 512, 512)
	require.NoError(t, err)
	defer area.Close()

	buf := make([]byte, 512)
	copy(buf, "original content")
	require.NoError(t, area.Write(0, buf))

	// simulate a write from outside this FileArea's own path.
	raw, err := os.OpenFile(path, os.O_RDWR, 0o644)
	require.NoError(t, err)
	_, err = raw.WriteAt([]byte("tampered!"), 0)
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	got := make([]byte, 512)
	err = area.Read(0, got)
	assert.ErrorIs(t, err, ErrSectorTorn)
}

func TestFileAreaTwoSlotsInOneFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.bin")
	device, err := OpenDevice(path, 1024)
	require.NoError(t, err)
	defer device.Close()

	a0 := device.Area(0, 512, 512)
	a1 := device.Area(512, 512, 512)

	buf0 := make([]byte, 512)
	copy(buf0, "slot zero")
	buf1 := make([]byte, 512)
	copy(buf1, "slot one")

	require.NoError(t, a0.Write(0, buf0))
	require.NoError(t, a1.Write(0, buf1))

	got0 := make([]byte, 512)
	got1 := make([]byte, 512)
	require.NoError(t, a0.Read(0, got0))
	require.NoError(t, a1.Read(0, got1))
	assert.Equal(t, buf0, got0)
	assert.Equal(t, buf1, got1)
}
