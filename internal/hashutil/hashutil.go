// Package hashutil provides the keyed page-fingerprint hasher and the
// unkeyed integrity-checksum helper used by the planner and the
// status trailer.
//
// The fingerprint and the integrity check are deliberately kept
// textually separate even though both ultimately call the same
// Hasher: the fingerprint is keyed by the swap prefix (it changes
// when the caller bumps the prefix to escape a hash collision), while
// the integrity check always uses an all-zero prefix so that a
// corrupted trailer can be detected independently of whatever prefix
// it claims to carry.
package hashutil

import (
	"crypto/sha256"
	"hash"
)

// FingerprintLen is the width of a page fingerprint and of a trailer
// integrity check, per the wire format.
const FingerprintLen = 4

// PrefixLen is the width of the keyed-hash salt.
const PrefixLen = 4

// Hasher is the keyed-hash abstraction the core is built against. A
// concrete implementation is swapped in at a single configuration
// point (swapcore.Config.Hasher, defaulting to NewSHA256Hasher); the core never calls crypto/sha256
// directly outside this package.
type Hasher interface {
	// Init resets the hasher and keys it with prefix.
	Init(prefix [PrefixLen]byte)
	// Update feeds more data into the hash.
	Update(b []byte)
	// Final writes the full digest into out, which must have
	// capacity DigestLength().
	Final(out []byte)
	// DigestLength is the number of bytes Final writes.
	DigestLength() int
}

// sha256Hasher implements Hasher by prepending the prefix to the
// input before the page bytes, the Merkle-Damgard variant called out
// in spec §4.1. No third-party keyed-hash (SipHash) library appears
// anywhere in the retrieval pack this core was built from, and the
// source specification explicitly accepts SHA-256 truncation as an
// alternative, so this is the one place in the core that falls back
// to the standard library rather than an ecosystem dependency.
type sha256Hasher struct {
	h      hash.Hash
	prefix [PrefixLen]byte
}

// NewSHA256Hasher returns the default Hasher implementation.
func NewSHA256Hasher() Hasher {
	return &sha256Hasher{}
}

func (s *sha256Hasher) Init(prefix [PrefixLen]byte) {
	s.prefix = prefix
	s.h = sha256.New()
	s.h.Write(s.prefix[:])
}

func (s *sha256Hasher) Update(b []byte) {
	s.h.Write(b)
}

func (s *sha256Hasher) Final(out []byte) {
	sum := s.h.Sum(nil)
	copy(out, sum)
}

func (s *sha256Hasher) DigestLength() int {
	return sha256.Size
}

// Fingerprint computes the 4-byte keyed fingerprint of data under
// prefix: fingerprint(p, q) = H(prefix || page_bytes).
func Fingerprint(h Hasher, prefix [PrefixLen]byte, data []byte) [FingerprintLen]byte {
	h.Init(prefix)
	h.Update(data)
	digest := make([]byte, h.DigestLength())
	h.Final(digest)
	var out [FingerprintLen]byte
	copy(out[:], digest[:FingerprintLen])
	return out
}

// CalcHash is the stateless all-zero-prefix hash used for trailer
// integrity checks. It is kept separate from Fingerprint so a reader
// never confuses the keyed and unkeyed uses of the same Hasher.
func CalcHash(h Hasher, data []byte) [FingerprintLen]byte {
	var zero [PrefixLen]byte
	return Fingerprint(h, zero, data)
}
