package trailer

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"swapcore/internal/hashutil"
)

// ErrCorruptTrailer is raised by LoadStatus when neither trailer page
// passes its integrity check (Scan itself reports Request in that
// case when a magic is present), or by LoadStatus/StartStatus when
// the recorded image sizes imply more
// fingerprint pages than this Trailer was configured to hold. Both
// mean the stored status can't be trusted. It is unrecoverable.
var ErrCorruptTrailer = errors.New("trailer: both pages failed integrity check")

// ErrSpillIntegrity is raised by LoadStatus when a spill hash page
// fails its integrity tag. Since the phase is keyed off the LastPage
// alone, a spill failure corrupts fingerprints the rest of recovery
// depends on and is therefore fatal.
var ErrSpillIntegrity = errors.New("trailer: spill hash page failed integrity check")

// Marshal encodes p into exactly PageSize little-endian bytes.
func (p *LastPage) Marshal() []byte {
	buf := make([]byte, PageSize)
	off := 0
	for i := 0; i < HashesPerLastPage; i++ {
		copy(buf[off:off+4], p.Hashes[i][:])
		off += 4
	}
	for i := 0; i < 2; i++ {
		binary.LittleEndian.PutUint32(buf[off:off+4], p.Sizes[i])
		off += 4
	}
	for i := 0; i < 2; i++ {
		copy(buf[off:off+16], p.Keys[i][:])
		off += 16
	}
	copy(buf[off:off+4], p.Prefix[:])
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], p.Seq)
	off += 4
	buf[off] = byte(p.Phase)
	off++
	buf[off] = p.SwapInfo
	off++
	buf[off] = p.CopyDone
	off++
	buf[off] = p.ImageOK
	off++
	copy(buf[off:off+4], p.Hash[:])
	off += 4
	copy(buf[off:off+magicLen], p.Magic[:])
	off += magicLen
	return buf
}

// UnmarshalLastPage decodes a PageSize-byte buffer into a LastPage.
func UnmarshalLastPage(buf []byte) (*LastPage, error) {
	if len(buf) != PageSize {
		return nil, errors.Errorf("trailer: last page must be %d bytes, got %d", PageSize, len(buf))
	}
	p := &LastPage{}
	off := 0
	for i := 0; i < HashesPerLastPage; i++ {
		copy(p.Hashes[i][:], buf[off:off+4])
		off += 4
	}
	for i := 0; i < 2; i++ {
		p.Sizes[i] = binary.LittleEndian.Uint32(buf[off : off+4])
		off += 4
	}
	for i := 0; i < 2; i++ {
		copy(p.Keys[i][:], buf[off:off+16])
		off += 16
	}
	copy(p.Prefix[:], buf[off:off+4])
	off += 4
	p.Seq = binary.LittleEndian.Uint32(buf[off : off+4])
	off += 4
	p.Phase = Phase(buf[off])
	off++
	p.SwapInfo = buf[off]
	off++
	p.CopyDone = buf[off]
	off++
	p.ImageOK = buf[off]
	off++
	copy(p.Hash[:], buf[off:off+4])
	off += 4
	copy(p.Magic[:], buf[off:off+magicLen])
	off += magicLen
	return p, nil
}

// Marshal encodes h into exactly PageSize little-endian bytes.
func (h *HashPage) Marshal() []byte {
	buf := make([]byte, PageSize)
	off := 0
	for i := 0; i < HashesPerHashPage; i++ {
		copy(buf[off:off+4], h.Hashes[i][:])
		off += 4
	}
	copy(buf[off:off+4], h.Hash[:])
	off += 4
	// remaining bytes are zero padding, already zero-valued.
	return buf
}

// UnmarshalHashPage decodes a PageSize-byte buffer into a HashPage.
func UnmarshalHashPage(buf []byte) (*HashPage, error) {
	if len(buf) != PageSize {
		return nil, errors.Errorf("trailer: hash page must be %d bytes, got %d", PageSize, len(buf))
	}
	h := &HashPage{}
	off := 0
	for i := 0; i < HashesPerHashPage; i++ {
		copy(h.Hashes[i][:], buf[off:off+4])
		off += 4
	}
	copy(h.Hash[:], buf[off:off+4])
	return h, nil
}

// hasMagic reports whether buf's trailing magicLen bytes match the
// alignment word followed by the fixed magic constant.
func hasMagic(buf []byte) bool {
	if len(buf) != PageSize {
		return false
	}
	tail := buf[PageSize-magicLen:]
	if tail[0] != alignWord[0] || tail[1] != alignWord[1] {
		return false
	}
	for i, b := range magicConst {
		if tail[2+i] != b {
			return false
		}
	}
	return true
}

// integrityOK recomputes the integrity hash over buf's first n bytes
// and compares it to the 4 bytes immediately following.
func integrityOK(h hashutil.Hasher, buf []byte, n int) bool {
	want := hashutil.CalcHash(h, buf[:n])
	return want == [4]byte{buf[n], buf[n+1], buf[n+2], buf[n+3]}
}

// setLastPageIntegrity writes the trailer integrity hash for a LastPage-sized
// buffer (covers the first lastPageIntegrityLen bytes).
func setLastPageIntegrity(h hashutil.Hasher, buf []byte) {
	sum := hashutil.CalcHash(h, buf[:lastPageIntegrityLen])
	copy(buf[lastPageIntegrityLen:lastPageIntegrityLen+4], sum[:])
}

// setHashPageIntegrity writes the integrity hash for a HashPage-sized
// buffer (covers the first hashPageIntegrityLen bytes).
func setHashPageIntegrity(h hashutil.Hasher, buf []byte) {
	sum := hashutil.CalcHash(h, buf[:hashPageIntegrityLen])
	copy(buf[hashPageIntegrityLen:hashPageIntegrityLen+4], sum[:])
}

func writeMagicInto(buf []byte) {
	tail := buf[PageSize-magicLen:]
	tail[0], tail[1] = alignWord[0], alignWord[1]
	copy(tail[2:], magicConst[:])
}
