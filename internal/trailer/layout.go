package trailer

import "unsafe"

// PageSize is the trailer's page granularity. Both trailer pages
// (ult and penult) and every spill hash page are exactly this size.
const PageSize = 512

// HashesPerLastPage is how many page fingerprints fit directly in the
// LastPage record.
const HashesPerLastPage = 110

// HashesPerHashPage is how many page fingerprints fit in one spill
// HashPage record.
const HashesPerHashPage = 127

// alignWord is the 2-byte alignment word preceding the magic constant.
var alignWord = [2]byte{0x02, 0x00}

// magicConst is the fixed 14-byte constant that marks a written
// trailer page.
var magicConst = [14]byte{
	0x3e, 0x04, 0xec, 0x53, 0xa0, 0x40, 0x45, 0x39,
	0x4a, 0x6e, 0x00, 0xd5, 0xa2, 0xb3,
}

// magicLen is the combined width of the alignment word and the magic
// constant, i.e. the trailing field of LastPage.
const magicLen = 16

// lastPageIntegrityLen and hashPageIntegrityLen are the byte ranges
// the integrity hash covers. For LastPage that is everything except
// the trailing 4-byte hash field and the 16-byte magic field; for
// HashPage it is the fingerprint array, with the hash right after it.
const lastPageIntegrityLen = PageSize - 4 - magicLen // 492
const hashPageIntegrityLen = HashesPerHashPage * 4   // 508

// LastPage is the in-memory representation of the 512-byte tail
// trailer record. Field order matches the wire layout exactly for
// documentation and for the compile-time size assertions below;
// Marshal/Unmarshal do the actual little-endian encoding rather than
// relying on native struct layout, because this format must be
// bit-exact across host (simulation) and device endianness.
type LastPage struct {
	Hashes   [HashesPerLastPage][4]byte
	Sizes    [2]uint32
	Keys     [2][16]byte
	Prefix   [4]byte
	Seq      uint32
	Phase    Phase
	SwapInfo uint8
	CopyDone uint8
	ImageOK  uint8
	Hash     [4]byte
	Magic    [magicLen]byte
}

// HashPage is one spill record, holding fingerprints beyond the first
// HashesPerLastPage that don't fit in LastPage.
type HashPage struct {
	Hashes [HashesPerHashPage][4]byte
	Hash   [4]byte
}

// Compile-time layout assertions: LastPage and HashPage must each be
// exactly PageSize bytes, per the wire format in spec §6.
var _ [unsafe.Sizeof(LastPage{}) - PageSize]byte
var _ [PageSize - unsafe.Sizeof(LastPage{})]byte
var _ [unsafe.Sizeof(HashPage{}) - PageSize]byte
var _ [PageSize - unsafe.Sizeof(HashPage{})]byte
