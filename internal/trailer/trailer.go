// Package trailer implements the on-flash status record: a
// torn-write-tolerant, sequence-numbered A/B record living in the
// last two pages of slot 1, carrying image sizes, the hash prefix,
// the current phase, and every page fingerprint (spilling into
// preceding HashPage records when there are more than
// HashesPerLastPage of them).
package trailer

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"swapcore/internal/flash"
	"swapcore/internal/hashutil"
)

// ErrStateError is raised when Scan finds an undefined combination of
// trailer page states. It is unrecoverable.
var ErrStateError = errors.New("trailer: undefined trailer state combination")

// Status is the logical content of the trailer: everything Scan,
// StartStatus, UpdateStatus and LoadStatus move between the in-memory
// swap state and the flash pages.
type Status struct {
	Sizes  [2]uint32
	Prefix [4]byte
	Phase  Phase
	Seq    uint32
	// Hashes holds the fingerprint arrays for both slots, one entry
	// per image page (ceil(Sizes[i]/pageSize)); LoadStatus rebuilds
	// them at exactly that length. The slide-target entry the planner
	// needs for slot 0 is not stored here (see pad0 in swap.go).
	Hashes [2][]planner4
	// CopyDone and ImageOK mirror the LastPage confirm bits. CopyDone
	// is this core's own bookkeeping, set once the Swap list finishes;
	// ImageOK is set by the application, normally after Startup
	// returns, once the new image has passed its own self-test.
	CopyDone bool
	ImageOK  bool
}

// planner4 avoids an import cycle with internal/planner: the trailer
// only ever needs to move 4-byte fingerprints around, never build
// work lists, so it keeps its own alias for the wire type.
type planner4 = [4]byte

// Trailer reads and writes the slot-1 status record. It borrows its
// flash.Area and never owns it.
type Trailer struct {
	area     flash.Area
	hasher   hashutil.Hasher
	capacity uint32
	maxPages int
	pageSize uint32
}

// New constructs a Trailer bound to slot 1's area. capacity is slot
// 1's addressable size in bytes; maxPages bounds the per-slot
// fingerprint count StartStatus accepts and LoadStatus derives from
// the recorded sizes (and so the spill pages it walks); pageSize is the device page
// size LoadStatus uses to turn the persisted image sizes back into
// fingerprint-array page counts.
func New(area flash.Area, hasher hashutil.Hasher, capacity uint32, maxPages int, pageSize uint32) *Trailer {
	return &Trailer{area: area, hasher: hasher, capacity: capacity, maxPages: maxPages, pageSize: pageSize}
}

// pageCount mirrors planner.Bound.Count without importing the planner
// package: ceil(size/pageSize), or 0 for an empty image.
func (t *Trailer) pageCount(size uint32) int {
	if size == 0 {
		return 0
	}
	return int((size + t.pageSize - 1) / t.pageSize)
}

func (t *Trailer) ultOffset() uint32 {
	return t.capacity - PageSize
}

func (t *Trailer) penultOffset() uint32 {
	return t.capacity - 2*PageSize
}

// spillOffset returns the offset of the i-th spill hash page (i
// starting at 0 for the page immediately preceding penult), laid out
// toward decreasing address.
func (t *Trailer) spillOffset(i int) uint32 {
	return t.penultOffset() - uint32(i+1)*PageSize
}

// numSpillPages returns how many HashPage records are needed to hold
// every fingerprint beyond the first HashesPerLastPage.
func numSpillPages(totalHashes int) int {
	remaining := totalHashes - HashesPerLastPage
	if remaining <= 0 {
		return 0
	}
	return (remaining + HashesPerHashPage - 1) / HashesPerHashPage
}

// WriteMagic erases both trailer pages and writes a page containing
// only the magic constant into the ult position, leaving penult
// erased. This is the precondition for Scan to report Request.
func (t *Trailer) WriteMagic() error {
	if err := t.area.Erase(t.ultOffset(), PageSize); err != nil {
		return errors.Wrap(err, "trailer: erase ult for writeMagic")
	}
	if err := t.area.Erase(t.penultOffset(), PageSize); err != nil {
		return errors.Wrap(err, "trailer: erase penult for writeMagic")
	}
	buf := make([]byte, PageSize)
	writeMagicInto(buf)
	if err := t.area.Write(t.ultOffset(), buf); err != nil {
		return errors.Wrap(err, "trailer: write magic")
	}
	log.Debug("trailer: wrote magic, requesting upgrade")
	return nil
}

// readCandidate reads one trailer page and reports whether it is
// magic-only, and if it also carries a valid integrity hash, the
// decoded LastPage.
type candidate struct {
	readable bool
	hasMagic bool
	valid    bool
	page     *LastPage
}

func (t *Trailer) readCandidate(off uint32) candidate {
	state, err := t.area.GetState(off)
	if err != nil || state != flash.StateWritten {
		return candidate{}
	}
	buf := make([]byte, PageSize)
	if err := t.area.Read(off, buf); err != nil {
		return candidate{}
	}
	if !hasMagic(buf) {
		return candidate{readable: true}
	}
	c := candidate{readable: true, hasMagic: true}
	if !integrityOK(t.hasher, buf, lastPageIntegrityLen) {
		return c
	}
	page, err := UnmarshalLastPage(buf)
	if err != nil {
		return c
	}
	c.valid = true
	c.page = page
	return c
}

// Scan attempts to read ult and penult and determines the current
// phase per the rules in spec §4.3.
func (t *Trailer) Scan() (Phase, error) {
	ult := t.readCandidate(t.ultOffset())
	penult := t.readCandidate(t.penultOffset())

	if !ult.hasMagic && !penult.hasMagic {
		return PhaseUnknown, nil
	}
	if !ult.valid && !penult.valid {
		return PhaseRequest, nil
	}
	if ult.valid && !penult.valid {
		return ult.page.Phase, nil
	}
	if !ult.valid && penult.valid {
		return penult.page.Phase, nil
	}
	// Both valid: the writer always writes the new page before
	// erasing the old, so seeing both means the erase after the last
	// update did not complete. The older (lower seq) page is the one
	// guaranteed to have been fully written before that update began.
	if ult.page.Seq == penult.page.Seq {
		return PhaseUnknown, ErrStateError
	}
	if ult.page.Seq < penult.page.Seq {
		return ult.page.Phase, nil
	}
	return penult.page.Phase, nil
}

// StartStatus is called at the Request -> Slide transition. It writes
// spill hash pages first (toward decreasing address starting at
// penult-1), then the LastPage into penult while ult still holds the
// valid magic-only Request page, then erases ult. Spill pages must be
// durable before the LastPage because Scan/recovery key off the
// LastPage's validity alone, and the LastPage must land in penult
// before ult is erased so an interruption never leaves both pages
// invalid: the same write-before-erase discipline UpdateStatus uses.
func (t *Trailer) StartStatus(st *Status) error {
	if len(st.Hashes[0]) > t.maxPages || len(st.Hashes[1]) > t.maxPages {
		return errors.Wrap(ErrCorruptTrailer, "trailer: hash count exceeds configured max pages")
	}
	total := len(st.Hashes[0]) + len(st.Hashes[1])
	flat := flattenHashes(st)
	spills := numSpillPages(total)
	for i := 0; i < spills; i++ {
		start := HashesPerLastPage + i*HashesPerHashPage
		end := start + HashesPerHashPage
		if end > len(flat) {
			end = len(flat)
		}
		hp := &HashPage{}
		copy(hp.Hashes[:], flat[start:end])
		buf := hp.Marshal()
		setHashPageIntegrity(t.hasher, buf)
		off := t.spillOffset(i)
		if err := t.area.Erase(off, PageSize); err != nil {
			return errors.Wrap(err, "trailer: erase spill page")
		}
		if err := t.area.Write(off, buf); err != nil {
			return errors.Wrap(err, "trailer: write spill page")
		}
	}

	st.Seq = 1
	lp := &LastPage{
		Sizes:  st.Sizes,
		Prefix: st.Prefix,
		Seq:    st.Seq,
		Phase:  st.Phase,
	}
	if st.CopyDone {
		lp.MarkCopyDone()
	}
	if st.ImageOK {
		lp.MarkImageOK()
	}
	n := HashesPerLastPage
	if len(flat) < n {
		n = len(flat)
	}
	copy(lp.Hashes[:n], flat[:n])
	buf := lp.Marshal()
	setLastPageIntegrity(t.hasher, buf)
	writeMagicInto(buf)

	if err := t.area.Erase(t.penultOffset(), PageSize); err != nil {
		return errors.Wrap(err, "trailer: erase penult for startStatus")
	}
	if err := t.area.Write(t.penultOffset(), buf); err != nil {
		return errors.Wrap(err, "trailer: write last page for startStatus")
	}
	if err := t.area.Erase(t.ultOffset(), PageSize); err != nil {
		return errors.Wrap(err, "trailer: erase ult for startStatus")
	}
	log.WithField("phase", st.Phase).Info("trailer: status started")
	return nil
}

// UpdateStatus bumps seq, updates phase, recomputes integrity, and
// writes into whichever trailer page is currently erased, then erases
// the other. st carries the previous sizes/prefix/hashes so the new
// LastPage content is complete.
func (t *Trailer) UpdateStatus(newPhase Phase, st *Status) error {
	ultState, err := t.area.GetState(t.ultOffset())
	if err != nil {
		return errors.Wrap(err, "trailer: query ult state")
	}
	writeOff, eraseOff := t.penultOffset(), t.ultOffset()
	if ultState != flash.StateWritten {
		writeOff, eraseOff = t.ultOffset(), t.penultOffset()
	}

	st.Phase = newPhase
	st.Seq++
	lp := &LastPage{
		Sizes:  st.Sizes,
		Prefix: st.Prefix,
		Seq:    st.Seq,
		Phase:  st.Phase,
	}
	if st.CopyDone {
		lp.MarkCopyDone()
	}
	if st.ImageOK {
		lp.MarkImageOK()
	}
	flat := flattenHashes(st)
	n := HashesPerLastPage
	if len(flat) < n {
		n = len(flat)
	}
	copy(lp.Hashes[:n], flat[:n])
	buf := lp.Marshal()
	setLastPageIntegrity(t.hasher, buf)
	writeMagicInto(buf)

	if err := t.area.Write(writeOff, buf); err != nil {
		return errors.Wrap(err, "trailer: write updated last page")
	}
	if err := t.area.Erase(eraseOff, PageSize); err != nil {
		return errors.Wrap(err, "trailer: erase stale last page")
	}
	log.WithField("phase", newPhase).WithField("seq", st.Seq).Info("trailer: status updated")
	return nil
}

// LoadStatus is the inverse of StartStatus: it copies sizes and prefix
// back from whichever LastPage Scan found valid, then reads spill
// pages in canonical order into the fingerprint arrays. A spill page
// integrity failure is fatal: the phase cannot be recovered without
// its fingerprints.
func (t *Trailer) LoadStatus() (*Status, error) {
	ult := t.readCandidate(t.ultOffset())
	penult := t.readCandidate(t.penultOffset())

	var lp *LastPage
	switch {
	case ult.valid && !penult.valid:
		lp = ult.page
	case !ult.valid && penult.valid:
		lp = penult.page
	case ult.valid && penult.valid:
		if ult.page.Seq < penult.page.Seq {
			lp = ult.page
		} else {
			lp = penult.page
		}
	default:
		return nil, ErrCorruptTrailer
	}

	countHashes0 := t.pageCount(lp.Sizes[0])
	countHashes1 := t.pageCount(lp.Sizes[1])
	if countHashes0 > t.maxPages || countHashes1 > t.maxPages {
		return nil, errors.Wrap(ErrCorruptTrailer, "trailer: recorded sizes exceed configured max pages")
	}
	total := countHashes0 + countHashes1
	flat := make([]planner4, total)
	n := HashesPerLastPage
	if n > total {
		n = total
	}
	copy(flat[:n], lp.Hashes[:n])

	spills := numSpillPages(total)
	for i := 0; i < spills; i++ {
		off := t.spillOffset(i)
		buf := make([]byte, PageSize)
		if err := t.area.Read(off, buf); err != nil {
			return nil, errors.Wrap(err, "trailer: read spill page")
		}
		if !integrityOK(t.hasher, buf, hashPageIntegrityLen) {
			return nil, ErrSpillIntegrity
		}
		hp, err := UnmarshalHashPage(buf)
		if err != nil {
			return nil, err
		}
		start := HashesPerLastPage + i*HashesPerHashPage
		end := start + HashesPerHashPage
		if end > total {
			end = total
		}
		copy(flat[start:end], hp.Hashes[:end-start])
	}

	st := &Status{
		Sizes:    lp.Sizes,
		Prefix:   lp.Prefix,
		Phase:    lp.Phase,
		Seq:      lp.Seq,
		CopyDone: lp.IsCopyDone(),
		ImageOK:  lp.IsImageOK(),
	}
	st.Hashes[0] = flat[:countHashes0]
	st.Hashes[1] = flat[countHashes0:total]
	return st, nil
}

// ConfirmImage loads the current status, sets the ImageOK bit, and
// writes it back under the same phase and a bumped seq. It is the
// application's signal that the image now running has passed its own
// self-test and should not be reverted on the next boot.
func (t *Trailer) ConfirmImage() error {
	st, err := t.LoadStatus()
	if err != nil {
		return errors.Wrap(err, "trailer: load status for confirm")
	}
	if st.ImageOK {
		return nil
	}
	st.ImageOK = true
	return t.UpdateStatus(st.Phase, st)
}

func flattenHashes(st *Status) []planner4 {
	flat := make([]planner4, 0, len(st.Hashes[0])+len(st.Hashes[1]))
	flat = append(flat, st.Hashes[0]...)
	flat = append(flat, st.Hashes[1]...)
	return flat
}
