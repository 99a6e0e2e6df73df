// Package fingerprint derives the per-page content fingerprints the
// planner and status trailer are built on, and exposes a lazy,
// restartable iterator across both slots' fingerprint arrays in
// canonical order.
package fingerprint

import (
	"github.com/pkg/errors"

	"swapcore/internal/flash"
	"swapcore/internal/hashutil"
)

// Compute reads slot from offset 0 to size, one page at a time, and
// returns the 4-byte fingerprint of each page under prefix. The
// returned slice has exactly ceil(size/pageSize) entries; it is not
// padded to maxPages — callers that need the slide-target slot
// addressable (see internal/planner) must grow it themselves.
func Compute(area flash.Area, hasher hashutil.Hasher, prefix [4]byte, size uint32, pageSize uint32) ([][4]byte, error) {
	if size == 0 {
		return nil, nil
	}
	count := (size + pageSize - 1) / pageSize
	out := make([][4]byte, count)
	buf := make([]byte, pageSize)
	var pos uint32
	for page := uint32(0); page < count; page++ {
		n := pageSize
		if size-pos < n {
			n = size - pos
		}
		if err := area.Read(pos, buf[:n]); err != nil {
			return nil, errors.Wrapf(err, "fingerprint: read slot page %d", page)
		}
		out[page] = hashutil.Fingerprint(hasher, prefix, buf[:n])
		pos += n
	}
	return out, nil
}

// Iterator lazily walks hashes[0][0..len0] then hashes[1][0..len1], in
// that order. It is finite and restartable: calling Reset lets the
// same Iterator be walked again.
type Iterator struct {
	hashes [2][][4]byte
	slot   int
	idx    int
}

// NewIterator builds an Iterator over both slots' fingerprint arrays.
func NewIterator(hashes0, hashes1 [][4]byte) *Iterator {
	return &Iterator{hashes: [2][][4]byte{hashes0, hashes1}}
}

// Next returns the next fingerprint and true, or a zero value and
// false once both arrays are exhausted.
func (it *Iterator) Next() ([4]byte, bool) {
	for it.slot < 2 {
		if it.idx < len(it.hashes[it.slot]) {
			v := it.hashes[it.slot][it.idx]
			it.idx++
			return v, true
		}
		it.slot++
		it.idx = 0
	}
	return [4]byte{}, false
}

// Reset rewinds the iterator to the start of slot 0.
func (it *Iterator) Reset() {
	it.slot = 0
	it.idx = 0
}
