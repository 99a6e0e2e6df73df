package planner

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoundCounts(t *testing.T) {
	b := Bound{PageSize: 512, Size: 1536}
	assert.Equal(t, uint32(3), b.Count())
	assert.Equal(t, uint32(512), b.Partial())
	assert.Equal(t, uint32(512), b.GetSize(0))
	assert.Equal(t, uint32(512), b.GetSize(2))

	partial := Bound{PageSize: 512, Size: 1025}
	assert.Equal(t, uint32(3), partial.Count())
	assert.Equal(t, uint32(1), partial.Partial())
	assert.Equal(t, uint32(1), partial.GetSize(2))

	empty := Bound{PageSize: 512, Size: 0}
	assert.Equal(t, uint32(0), empty.Count())
}

func TestBuildSlideNoSkips(t *testing.T) {
	bound0 := Bound{PageSize: 512, Size: 1536}
	hashes0 := [][4]byte{{1}, {2}, {3}, {0}}

	work, err := BuildSlide(bound0, hashes0, true, nil, 64)
	require.NoError(t, err)
	require.Len(t, work, 3)

	assert.Equal(t, WorkItem{SrcSlot: 0, SrcPage: 2, DestSlot: 0, DestPage: 3, Size: 512, Fingerprint: [4]byte{3}}, work[0])
	assert.Equal(t, WorkItem{SrcSlot: 0, SrcPage: 1, DestSlot: 0, DestPage: 2, Size: 512, Fingerprint: [4]byte{2}}, work[1])
	assert.Equal(t, WorkItem{SrcSlot: 0, SrcPage: 0, DestSlot: 0, DestPage: 1, Size: 512, Fingerprint: [4]byte{1}}, work[2])
}

func TestBuildSlideSkipsIdenticalPage(t *testing.T) {
	bound0 := Bound{PageSize: 512, Size: 1536}
	// hashes0[1] == hashes0[2]: the middle move (src=1, dest=2) is a
	// no-op since the top move (src=count0-1, dest=count0) into the
	// never-yet-written slide target is never eligible to skip.
	hashes0 := [][4]byte{{1}, {2}, {2}, {0}}

	work, err := BuildSlide(bound0, hashes0, true, nil, 64)
	require.NoError(t, err)
	require.Len(t, work, 2)
	assert.Equal(t, uint32(2), work[0].SrcPage)
	assert.Equal(t, uint32(0), work[1].SrcPage)
}

func TestBuildSlideRejectsUnpaddedHashes(t *testing.T) {
	bound0 := Bound{PageSize: 512, Size: 1536}
	hashes0 := [][4]byte{{1}, {2}, {3}}

	_, err := BuildSlide(bound0, hashes0, true, nil, 64)
	assert.Error(t, err)
}

func TestBuildSwapBasic(t *testing.T) {
	bound0 := Bound{PageSize: 512, Size: 512}
	bound1 := Bound{PageSize: 512, Size: 512}
	hashes0 := [][4]byte{{0xA}, {0xC}}
	hashes1 := [][4]byte{{0xB}}

	work, err := BuildSwap(bound0, bound1, hashes0, hashes1, true, nil, 64)
	require.NoError(t, err)
	require.Len(t, work, 2)

	assert.Equal(t, WorkItem{SrcSlot: 1, SrcPage: 0, DestSlot: 0, DestPage: 0, Size: 512, Fingerprint: [4]byte{0xB}}, work[0])
	assert.Equal(t, WorkItem{SrcSlot: 0, SrcPage: 1, DestSlot: 1, DestPage: 0, Size: 512, Fingerprint: [4]byte{0xA}}, work[1])
}

func TestBuildSwapRejectsUnpaddedHashes(t *testing.T) {
	bound0 := Bound{PageSize: 512, Size: 512}
	bound1 := Bound{PageSize: 512, Size: 512}
	hashes0 := [][4]byte{{0xA}}
	hashes1 := [][4]byte{{0xB}}

	_, err := BuildSwap(bound0, bound1, hashes0, hashes1, true, nil, 64)
	assert.Error(t, err)
}

// fakeReader lets a test control exactly what bytes a collision
// tie-break compares, independent of any real flash.Area.
type fakeReader struct {
	pages map[string][]byte
}

func newFakeReader() *fakeReader {
	return &fakeReader{pages: make(map[string][]byte)}
}

func (f *fakeReader) set(slot int, page uint32, data []byte) {
	f.pages[fmt.Sprintf("%d:%d", slot, page)] = data
}

func (f *fakeReader) ReadPage(slot int, page uint32, size uint32) ([]byte, error) {
	return f.pages[fmt.Sprintf("%d:%d", slot, page)], nil
}

func TestBuildSlideCollisionOnRebuild(t *testing.T) {
	bound0 := Bound{PageSize: 512, Size: 1024}
	// hashes0[0] == hashes0[1], but the underlying pages differ.
	hashes0 := [][4]byte{{5}, {5}, {9}}

	reader := newFakeReader()
	reader.set(0, 0, []byte("page zero content"))
	reader.set(0, 1, []byte("different page one"))

	_, err := BuildSlide(bound0, hashes0, false, reader, 64)
	assert.ErrorIs(t, err, ErrHashCollision)
}

func TestBuildSlideAcceptsGenuineDuplicateOnRebuild(t *testing.T) {
	bound0 := Bound{PageSize: 512, Size: 1024}
	hashes0 := [][4]byte{{5}, {5}, {9}}

	reader := newFakeReader()
	same := []byte("identical content")
	reader.set(0, 0, same)
	reader.set(0, 1, same)

	work, err := BuildSlide(bound0, hashes0, false, reader, 64)
	require.NoError(t, err)
	// the (0,1) pair collapses since the bytes genuinely match.
	require.Len(t, work, 1)
	assert.Equal(t, uint32(1), work[0].SrcPage)
}

func TestBuildSlideOverflowsWorkList(t *testing.T) {
	bound0 := Bound{PageSize: 512, Size: 512 * 4}
	hashes0 := [][4]byte{{1}, {2}, {3}, {4}, {0}}

	_, err := BuildSlide(bound0, hashes0, true, nil, 2)
	assert.ErrorIs(t, err, ErrWorkListOverflow)
}
