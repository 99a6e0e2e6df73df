// Package planner converts two image sizes and their per-page
// fingerprints into the deterministic, idempotent Slide and Swap work
// lists that implement a slot swap when executed in order.
//
// Both builders are pure functions of (bounds, hashes, initial) except
// for the one case spec'd as ambiguous in source: when a rebuild
// during recovery (initial == false) finds two equal fingerprints, it
// must fall back to a byte-level compare of the physical pages via the
// supplied PageReader, since two different prefixes could coincidentally
// agree and a stale recovery must not silently treat that as "same
// content".
package planner

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ErrHashCollision is raised when two pages share a fingerprint but
// differ at the byte level. The caller must bump the prefix and
// restart the swap from Request.
var ErrHashCollision = errors.New("planner: hash collision between non-identical pages")

// ErrWorkListOverflow is raised at build time when a work list would
// exceed the compile-time page bound.
var ErrWorkListOverflow = errors.New("planner: work list exceeds max pages")

// WorkItem is a single page-granular move: copy size bytes of
// src_page on src_slot to dest_page on dest_slot, then verify the
// destination hashes to fingerprint.
type WorkItem struct {
	SrcSlot  int
	SrcPage  uint32
	DestSlot int
	DestPage uint32
	Size     uint32
	Fingerprint [4]byte
}

// Bound captures a slot's page geometry for one image.
type Bound struct {
	PageSize uint32
	Size     uint32
}

// Count is the number of pages touched by an image of this size.
func (b Bound) Count() uint32 {
	if b.Size == 0 {
		return 0
	}
	return (b.Size + b.PageSize - 1) / b.PageSize
}

// Partial is the byte count of the image's trailing page.
func (b Bound) Partial() uint32 {
	if b.Size == 0 {
		return 0
	}
	return ((b.Size - 1) % b.PageSize) + 1
}

// GetSize returns the number of valid bytes at page index p: the
// full page size, except for the last page of the image.
func (b Bound) GetSize(p uint32) uint32 {
	if p == b.Count()-1 {
		return b.Partial()
	}
	return b.PageSize
}

// PageReader performs the byte-level page compare the tie-break needs
// when rebuilding a work list during recovery. It is never used when
// initial is true.
type PageReader interface {
	ReadPage(slot int, page uint32, size uint32) ([]byte, error)
}

// comparePages orders two page buffers lexicographically, the same
// shape as a key comparator: useful here only for its == 0 case, but
// kept as a three-way compare so a future ordering need (e.g. picking
// a canonical source among equal pages) doesn't require a second
// helper.
func comparePages(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] < b[i] {
			return -1
		} else if a[i] > b[i] {
			return 1
		}
	}
	switch {
	case len(a) > len(b):
		return 1
	case len(a) < len(b):
		return -1
	default:
		return 0
	}
}

func bytesEqual(a, b []byte) bool {
	return comparePages(a, b) == 0
}

// validateSame resolves an equal-fingerprint tie-break. When initial
// is true the equality is taken at face value (clean request: same
// content). When initial is false (recovery rebuild) it byte-compares
// the two physical pages through reader and raises ErrHashCollision on
// any mismatch.
func validateSame(reader PageReader, initial bool, srcSlot int, srcPage uint32, destSlot int, destPage uint32, size uint32) (bool, error) {
	if initial {
		return true, nil
	}
	if reader == nil {
		return false, errors.New("planner: recovery rebuild requires a PageReader")
	}
	a, err := reader.ReadPage(srcSlot, srcPage, size)
	if err != nil {
		return false, errors.Wrap(err, "planner: read page for collision check")
	}
	b, err := reader.ReadPage(destSlot, destPage, size)
	if err != nil {
		return false, errors.Wrap(err, "planner: read page for collision check")
	}
	if !bytesEqual(a, b) {
		return false, ErrHashCollision
	}
	return true, nil
}

// BuildSlide produces the Slide work list: slot 0 slides down by one
// page, making room at index 0 for slot 1's first page to migrate in.
// Steps are emitted in descending destination order so each step's
// source is still intact when the list is executed in order.
//
// hashes0 must hold at least count0+1 entries, not just the count0
// pages that hold real image content: the slide target at index
// count0 (slot 0's one extra page) is read as hashes0[count0] and must
// be addressable even though it carries no image bytes yet.
func BuildSlide(bound0 Bound, hashes0 [][4]byte, initial bool, reader PageReader, maxPages int) ([]WorkItem, error) {
	if len(hashes0) <= int(bound0.Count()) {
		return nil, errors.New("planner: hashes0 must be sized for the slide target page")
	}
	count0 := bound0.Count()
	work := make([]WorkItem, 0, count0)
	for p := count0; p >= 1; p-- {
		src := p - 1
		size := bound0.GetSize(src)
		if p < count0 && hashes0[src] == hashes0[p] {
			same, err := validateSame(reader, initial, 0, src, 0, p, size)
			if err != nil {
				return nil, err
			}
			if same {
				continue
			}
		}
		work = append(work, WorkItem{
			SrcSlot:     0,
			SrcPage:     src,
			DestSlot:    0,
			DestPage:    p,
			Size:        size,
			Fingerprint: hashes0[src],
		})
		if len(work) > maxPages {
			return nil, ErrWorkListOverflow
		}
	}
	log.WithField("steps", len(work)).Debug("planner: built slide list")
	return work, nil
}

// BuildSwap produces the Swap work list, interleaving "move slot 1
// into slot 0" with "move the already-slid slot 0 into slot 1". As in
// BuildSlide, hashes0 must be sized one page beyond bound0.Count() so
// that hashes0[p+1] is addressable at the top of the range.
func BuildSwap(bound0, bound1 Bound, hashes0, hashes1 [][4]byte, initial bool, reader PageReader, maxPages int) ([]WorkItem, error) {
	if len(hashes0) <= int(bound0.Count()) {
		return nil, errors.New("planner: hashes0 must be sized for the slide target page")
	}
	count0 := bound0.Count()
	count1 := bound1.Count()
	max := count0
	if count1 > max {
		max = count1
	}
	work := make([]WorkItem, 0, max*2)
	for p := uint32(0); p < max; p++ {
		if p < count1 {
			size := bound1.GetSize(p)
			skip := false
			if p < count0 && hashes1[p] == hashes0[p] {
				same, err := validateSame(reader, initial, 1, p, 0, p, size)
				if err != nil {
					return nil, err
				}
				skip = same
			}
			if !skip {
				work = append(work, WorkItem{
					SrcSlot:     1,
					SrcPage:     p,
					DestSlot:    0,
					DestPage:    p,
					Size:        size,
					Fingerprint: hashes1[p],
				})
			}
		}
		if p < count0 {
			size := bound0.GetSize(p)
			skip := false
			if p < count1 && hashes0[p+1] == hashes1[p] {
				same, err := validateSame(reader, initial, 0, p+1, 1, p, size)
				if err != nil {
					return nil, err
				}
				skip = same
			}
			if !skip {
				work = append(work, WorkItem{
					SrcSlot:     0,
					SrcPage:     p + 1,
					DestSlot:    1,
					DestPage:    p,
					Size:        size,
					Fingerprint: hashes0[p],
				})
			}
		}
		if len(work) > maxPages {
			return nil, ErrWorkListOverflow
		}
	}
	log.WithField("steps", len(work)).Debug("planner: built swap list")
	return work, nil
}
