package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swapcore/internal/hashutil"
	"swapcore/internal/swapsim"
)

func TestComputeMatchesHashutilFingerprint(t *testing.T) {
	stepper := swapsim.NewStepper(1 << 20)
	area := swapsim.NewArea(4*512, 512, stepper)
	data := swapsim.FillPseudoRandom(area, 0, 3*512+17)

	hasher := hashutil.NewSHA256Hasher()
	var prefix [4]byte
	hashes, err := Compute(area, hasher, prefix, uint32(len(data)), 512)
	require.NoError(t, err)
	require.Len(t, hashes, 4)

	assert.Equal(t, hashutil.Fingerprint(hasher, prefix, data[:512]), hashes[0])
	assert.Equal(t, hashutil.Fingerprint(hasher, prefix, data[3*512:]), hashes[3])
}

func TestComputeEmptyImage(t *testing.T) {
	stepper := swapsim.NewStepper(1 << 20)
	area := swapsim.NewArea(512, 512, stepper)
	hashes, err := Compute(area, hashutil.NewSHA256Hasher(), [4]byte{}, 0, 512)
	require.NoError(t, err)
	assert.Nil(t, hashes)
}

func TestIteratorWalksBothSlotsInOrder(t *testing.T) {
	hashes0 := [][4]byte{{1}, {2}}
	hashes1 := [][4]byte{{3}}
	it := NewIterator(hashes0, hashes1)

	var got [][4]byte
	for v, ok := it.Next(); ok; v, ok = it.Next() {
		got = append(got, v)
	}
	assert.Equal(t, [][4]byte{{1}, {2}, {3}}, got)

	_, ok := it.Next()
	assert.False(t, ok)

	it.Reset()
	v, ok := it.Next()
	require.True(t, ok)
	assert.Equal(t, [4]byte{1}, v)
}
