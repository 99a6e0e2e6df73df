package trailer

// setBit, clearBit and hasBit give the single-byte status fields
// (CopyDone, ImageOK) the same set/clear/test vocabulary a bitmask
// field would use elsewhere, even though each field here only ever
// carries one bit: a torn write always catches these fields either
// fully 0x00 or fully 0x01, so a second bit is never needed, but the
// three-op shape is cheaper to read than a bare boolean assignment at
// every call site.
const confirmBit = uint8(0x01)

func setBit(b, flag uint8) uint8   { return b | flag }
func clearBit(b, flag uint8) uint8 { return b &^ flag }
func hasBit(b, flag uint8) bool    { return b&flag != 0 }

// IsCopyDone reports whether the swap phase's final copy completed,
// per the CopyDone trailer field.
func (p *LastPage) IsCopyDone() bool { return hasBit(p.CopyDone, confirmBit) }

// MarkCopyDone sets the CopyDone bit.
func (p *LastPage) MarkCopyDone() { p.CopyDone = setBit(p.CopyDone, confirmBit) }

// IsImageOK reports whether the running image has been confirmed
// good by the application, per the ImageOK trailer field. An
// unconfirmed image after a swap is expected to be reverted on the
// next boot by a component outside this core (spec §9, Non-goals).
func (p *LastPage) IsImageOK() bool { return hasBit(p.ImageOK, confirmBit) }

// MarkImageOK sets the ImageOK bit.
func (p *LastPage) MarkImageOK() { p.ImageOK = setBit(p.ImageOK, confirmBit) }

// ClearImageOK clears the ImageOK bit, for a caller that wants to
// force a revert-on-next-boot after a confirmed-bad self-test.
func (p *LastPage) ClearImageOK() { p.ImageOK = clearBit(p.ImageOK, confirmBit) }
