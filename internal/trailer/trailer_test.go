package trailer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swapcore/internal/hashutil"
	"swapcore/internal/swapsim"
)

const testPageSize = 512

func newTestArea(capacityPages int) *swapsim.Area {
	stepper := swapsim.NewStepper(1 << 20)
	return swapsim.NewArea(uint32(capacityPages*testPageSize), testPageSize, stepper)
}

func TestScanUnknownBeforeAnyWrite(t *testing.T) {
	area := newTestArea(4)
	tr := New(area, hashutil.NewSHA256Hasher(), area.Capacity(), 64, testPageSize)

	phase, err := tr.Scan()
	require.NoError(t, err)
	assert.Equal(t, PhaseUnknown, phase)
}

func TestScanRequestAfterWriteMagic(t *testing.T) {
	area := newTestArea(4)
	tr := New(area, hashutil.NewSHA256Hasher(), area.Capacity(), 64, testPageSize)

	require.NoError(t, tr.WriteMagic())
	phase, err := tr.Scan()
	require.NoError(t, err)
	assert.Equal(t, PhaseRequest, phase)
}

func TestStartAndLoadStatusRoundTrip(t *testing.T) {
	area := newTestArea(4)
	hasher := hashutil.NewSHA256Hasher()
	tr := New(area, hasher, area.Capacity(), 64, testPageSize)

	require.NoError(t, tr.WriteMagic())

	st := &Status{
		Sizes:  [2]uint32{3 * testPageSize, 2 * testPageSize},
		Prefix: [4]byte{1, 2, 3, 4},
		Phase:  PhaseSlide,
		Hashes: [2][]planner4{
			{{1}, {2}, {3}},
			{{4}, {5}},
		},
	}
	require.NoError(t, tr.StartStatus(st))

	phase, err := tr.Scan()
	require.NoError(t, err)
	assert.Equal(t, PhaseSlide, phase)

	loaded, err := tr.LoadStatus()
	require.NoError(t, err)
	assert.Equal(t, st.Sizes, loaded.Sizes)
	assert.Equal(t, st.Prefix, loaded.Prefix)
	assert.Equal(t, PhaseSlide, loaded.Phase)
	assert.Equal(t, uint32(1), loaded.Seq)
	assert.Equal(t, st.Hashes[0], loaded.Hashes[0])
	assert.Equal(t, st.Hashes[1], loaded.Hashes[1])
}

func TestUpdateStatusTogglesPagesAndBumpsSeq(t *testing.T) {
	area := newTestArea(4)
	hasher := hashutil.NewSHA256Hasher()
	tr := New(area, hasher, area.Capacity(), 64, testPageSize)

	require.NoError(t, tr.WriteMagic())
	st := &Status{
		Sizes:  [2]uint32{testPageSize, testPageSize},
		Phase:  PhaseSlide,
		Hashes: [2][]planner4{{{9}}, {{8}}},
	}
	require.NoError(t, tr.StartStatus(st))

	require.NoError(t, tr.UpdateStatus(PhaseSwap, st))
	assert.Equal(t, uint32(2), st.Seq)

	phase, err := tr.Scan()
	require.NoError(t, err)
	assert.Equal(t, PhaseSwap, phase)

	loaded, err := tr.LoadStatus()
	require.NoError(t, err)
	assert.Equal(t, PhaseSwap, loaded.Phase)
	assert.Equal(t, uint32(2), loaded.Seq)

	require.NoError(t, tr.UpdateStatus(PhaseDone, st))
	phase, err = tr.Scan()
	require.NoError(t, err)
	assert.Equal(t, PhaseDone, phase)
}

func TestStartStatusWithSpillPages(t *testing.T) {
	area := newTestArea(8)
	hasher := hashutil.NewSHA256Hasher()
	tr := New(area, hasher, area.Capacity(), 256, testPageSize)

	require.NoError(t, tr.WriteMagic())

	// more fingerprints than fit in one LastPage, forcing a spill page.
	hashes0 := make([]planner4, HashesPerLastPage+1)
	for i := range hashes0 {
		hashes0[i] = planner4{byte(i), byte(i >> 8)}
	}
	st := &Status{
		Sizes:  [2]uint32{uint32(len(hashes0)) * testPageSize, 0},
		Phase:  PhaseSlide,
		Hashes: [2][]planner4{hashes0, nil},
	}
	require.NoError(t, tr.StartStatus(st))

	loaded, err := tr.LoadStatus()
	require.NoError(t, err)
	assert.Equal(t, hashes0, loaded.Hashes[0])
}

func TestConfirmImageSetsBitAndPersists(t *testing.T) {
	area := newTestArea(4)
	hasher := hashutil.NewSHA256Hasher()
	tr := New(area, hasher, area.Capacity(), 64, testPageSize)

	require.NoError(t, tr.WriteMagic())
	st := &Status{Sizes: [2]uint32{0, 0}, Phase: PhaseDone}
	require.NoError(t, tr.StartStatus(st))

	require.NoError(t, tr.ConfirmImage())

	loaded, err := tr.LoadStatus()
	require.NoError(t, err)
	assert.True(t, loaded.ImageOK)

	// confirming again is a no-op, not a second seq bump.
	seqBefore := loaded.Seq
	require.NoError(t, tr.ConfirmImage())
	loaded, err = tr.LoadStatus()
	require.NoError(t, err)
	assert.Equal(t, seqBefore, loaded.Seq)
}

func TestScanRejectsCorruptedFingerprint(t *testing.T) {
	area := newTestArea(4)
	hasher := hashutil.NewSHA256Hasher()
	tr := New(area, hasher, area.Capacity(), 64, testPageSize)

	require.NoError(t, tr.WriteMagic())
	st := &Status{
		Sizes:  [2]uint32{testPageSize, testPageSize},
		Phase:  PhaseSlide,
		Hashes: [2][]planner4{{{9}}, {{8}}},
	}
	require.NoError(t, tr.StartStatus(st))

	phase, err := tr.Scan()
	require.NoError(t, err)
	require.Equal(t, PhaseSlide, phase)

	// StartStatus leaves the new page in penult and ult erased; flip
	// one byte inside the surviving page's fingerprint field so its
	// integrity hash no longer matches the content.
	buf := make([]byte, PageSize)
	require.NoError(t, area.Read(tr.penultOffset(), buf))
	buf[0] ^= 0xff
	require.NoError(t, area.Erase(tr.penultOffset(), PageSize))
	require.NoError(t, area.Write(tr.penultOffset(), buf))

	phase, err = tr.Scan()
	require.NoError(t, err)
	assert.Equal(t, PhaseRequest, phase)

	_, err = tr.LoadStatus()
	assert.ErrorIs(t, err, ErrCorruptTrailer)
}

func TestScanTieBreakPicksLowerSeq(t *testing.T) {
	area := newTestArea(4)
	hasher := hashutil.NewSHA256Hasher()
	tr := New(area, hasher, area.Capacity(), 64, testPageSize)

	buildPage := func(seq uint32, phase Phase) []byte {
		lp := &LastPage{Sizes: [2]uint32{testPageSize, testPageSize}, Seq: seq, Phase: phase}
		buf := lp.Marshal()
		setLastPageIntegrity(hasher, buf)
		writeMagicInto(buf)
		return buf
	}

	// both pages independently valid, as a torn erase-after-update
	// would leave them: the lower seq is the one guaranteed to have
	// been fully written before the update that produced the other.
	require.NoError(t, area.Erase(tr.ultOffset(), PageSize))
	require.NoError(t, area.Write(tr.ultOffset(), buildPage(5, PhaseSlide)))
	require.NoError(t, area.Erase(tr.penultOffset(), PageSize))
	require.NoError(t, area.Write(tr.penultOffset(), buildPage(6, PhaseSwap)))

	phase, err := tr.Scan()
	require.NoError(t, err)
	assert.Equal(t, PhaseSlide, phase)
}

func TestScanEqualSeqIsStateError(t *testing.T) {
	area := newTestArea(4)
	hasher := hashutil.NewSHA256Hasher()
	tr := New(area, hasher, area.Capacity(), 64, testPageSize)

	lp := &LastPage{Sizes: [2]uint32{testPageSize, testPageSize}, Seq: 3, Phase: PhaseSlide}
	buf := lp.Marshal()
	setLastPageIntegrity(hasher, buf)
	writeMagicInto(buf)

	require.NoError(t, area.Erase(tr.ultOffset(), PageSize))
	require.NoError(t, area.Write(tr.ultOffset(), buf))
	require.NoError(t, area.Erase(tr.penultOffset(), PageSize))
	require.NoError(t, area.Write(tr.penultOffset(), buf))

	_, err := tr.Scan()
	assert.ErrorIs(t, err, ErrStateError)
}

func TestStartStatusRejectsOversizedHashes(t *testing.T) {
	area := newTestArea(4)
	hasher := hashutil.NewSHA256Hasher()
	tr := New(area, hasher, area.Capacity(), 4, testPageSize)

	require.NoError(t, tr.WriteMagic())
	hashes0 := make([]planner4, 5)
	st := &Status{
		Sizes:  [2]uint32{uint32(len(hashes0)) * testPageSize, 0},
		Phase:  PhaseSlide,
		Hashes: [2][]planner4{hashes0, nil},
	}
	err := tr.StartStatus(st)
	assert.ErrorIs(t, err, ErrCorruptTrailer)
}

func TestLoadStatusRejectsOversizedSizes(t *testing.T) {
	area := newTestArea(4)
	hasher := hashutil.NewSHA256Hasher()
	tr := New(area, hasher, area.Capacity(), 4, testPageSize)

	// craft a page whose recorded size implies far more pages than
	// this Trailer's maxPages, bypassing StartStatus's own guard.
	lp := &LastPage{Sizes: [2]uint32{1 << 20, 0}, Seq: 1, Phase: PhaseSlide}
	buf := lp.Marshal()
	setLastPageIntegrity(hasher, buf)
	writeMagicInto(buf)
	require.NoError(t, area.Erase(tr.ultOffset(), PageSize))
	require.NoError(t, area.Write(tr.ultOffset(), buf))

	_, err := tr.LoadStatus()
	assert.ErrorIs(t, err, ErrCorruptTrailer)
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "request", PhaseRequest.String())
	assert.Equal(t, "slide", PhaseSlide.String())
	assert.Equal(t, "swap", PhaseSwap.String())
	assert.Equal(t, "done", PhaseDone.String())
	assert.Equal(t, "unknown", PhaseUnknown.String())
}
