package swapcore

import "swapcore/internal/hashutil"

// Config carries the compile-time-ish parameters of one device: page
// geometry, the trailer's spill budget, and the keyed hasher. These
// are the "compile-time sizing" constants spec §9 calls out; Go has
// no preprocessor, so they're a config value threaded through Init
// instead of #defines, the way the teacher threads Options through
// Open rather than hard-coding page size.
type Config struct {
	// PageSize is both the erase and write granularity, and must be a
	// power of two. Typical value: 512.
	PageSize uint32

	// MaxPages bounds the size of any work list; exceeding it at
	// build time is a fatal internal error (ErrWorkListOverflow).
	MaxPages int

	// SlotCapacity is each slot's total addressable size in bytes.
	// Slot 0 must be exactly one page larger than slot 1.
	SlotCapacity [2]uint32

	// Hasher backs both the keyed page fingerprint and the unkeyed
	// trailer integrity check. Defaults to a SHA-256-truncation
	// Hasher when nil.
	Hasher hashutil.Hasher

	// MaxCollisionRetries bounds how many times Startup will bump the
	// prefix and restart from Request after a HashCollision before
	// giving up (bootloader exit code 2).
	MaxCollisionRetries int
}

// DefaultOptions mirrors the teacher's DefaultOptions: sane defaults
// for the common 512-byte-page device, leaving slot capacities for
// the caller to fill in since they're device-specific.
var DefaultOptions = &Config{
	PageSize:            512,
	MaxPages:            256,
	MaxCollisionRetries: 4,
}

func (c *Config) hasher() hashutil.Hasher {
	if c.Hasher != nil {
		return c.Hasher
	}
	return hashutil.NewSHA256Hasher()
}
