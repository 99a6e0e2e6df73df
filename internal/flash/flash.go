// Package flash defines the contract the swap core expects from the
// physical flash driver. The driver itself (erase timing, ECC, wear
// leveling) lives outside this module; the core only ever borrows the
// handles it is given at Init and never owns them.
package flash

import "github.com/pkg/errors"

// State is the result of a GetState query. It must tolerate torn
// writes: a partially completed write reports Written, a partially
// completed erase reports Erased.
type State int

const (
	StateUnknown State = iota
	StateErased
	StateWritten
)

func (s State) String() string {
	switch s {
	case StateErased:
		return "erased"
	case StateWritten:
		return "written"
	default:
		return "unknown"
	}
}

// ErrUnwritten is returned by Read when the requested page is in an
// unsafe or unwritten physical state. Recovery treats it as "not done".
var ErrUnwritten = errors.New("flash: page unwritten")

// Area is a handle on one flash slot. Offsets and lengths are
// sector-aligned; Write requires buf to be exactly len bytes, where
// len is the caller-negotiated sector size.
type Area interface {
	// Read reads len(buf) bytes starting at off. It returns
	// ErrUnwritten if the region is not readable in its current
	// physical state.
	Read(off uint32, buf []byte) error

	// Erase erases the sector-aligned region [off, off+length).
	Erase(off uint32, length uint32) error

	// Write writes buf to the sector-aligned offset off. len(buf)
	// must equal the area's sector size.
	Write(off uint32, buf []byte) error

	// GetState reports the physical state of the sector containing
	// off, tolerating torn writes and erases.
	GetState(off uint32) (State, error)

	// Capacity is the total addressable size of the slot in bytes.
	Capacity() uint32

	// SectorSize is the erase/write granularity of the slot.
	SectorSize() uint32
}

// Driver opens the two slots participating in a swap. The core calls
// Open exactly once per slot during Init and holds the returned Area
// for the lifetime of the Swap value.
type Driver interface {
	Open(slot int) (Area, error)
}
