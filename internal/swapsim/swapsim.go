// Package swapsim provides an in-memory flash.Driver for tests and
// for swapctl's "simulate" command. It plays the same role the
// teacher's db.ops.writeAt indirection plays for sidb: a seam the test
// harness uses to intercept I/O, here extended to simulate torn writes
// and erases after an exact operation count.
package swapsim

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"swapcore/internal/flash"
)

// ErrExpired is returned by the simulated driver once the configured
// operation budget is exhausted, standing in for an asynchronous
// power loss. It exists only in this test harness, per spec §7.
var ErrExpired = errors.New("swapsim: simulated power loss")

// Stepper counts flash operations across both slots and returns
// ErrExpired once a caller-chosen budget is spent, so tests can walk
// k = 1, 2, 3, ... and assert recovery completes from every point.
type Stepper struct {
	RunID  uuid.UUID
	budget int
	spent  int
}

// NewStepper returns a Stepper that allows exactly budget operations
// (erase or write) before failing every subsequent one.
func NewStepper(budget int) *Stepper {
	return &Stepper{RunID: uuid.New(), budget: budget}
}

// allow consumes one unit of budget and reports whether the operation
// may proceed.
func (s *Stepper) allow() bool {
	if s.spent >= s.budget {
		return false
	}
	s.spent++
	return true
}

// Spent is how many operations have executed so far.
func (s *Stepper) Spent() int { return s.spent }

// Area is an in-memory flash.Area backed by a byte slice, with a
// per-sector state array that models torn writes/erases: an
// operation that the Stepper refuses partway through leaves the
// sector's state at whatever the last fully-applied operation left,
// exactly as getState must tolerate on real ECC-protected flash.
type Area struct {
	data       []byte
	sectorSize uint32
	state      []flash.State
	stepper    *Stepper
}

// NewArea allocates a zeroed, fully-erased simulated slot.
func NewArea(capacity, sectorSize uint32, stepper *Stepper) *Area {
	sectors := capacity / sectorSize
	a := &Area{
		data:       make([]byte, capacity),
		sectorSize: sectorSize,
		state:      make([]flash.State, sectors),
		stepper:    stepper,
	}
	for i := range a.state {
		a.state[i] = flash.StateErased
	}
	return a
}

func (a *Area) sectorIndex(off uint32) uint32 {
	return off / a.sectorSize
}

func (a *Area) Read(off uint32, buf []byte) error {
	idx := a.sectorIndex(off)
	if a.state[idx] != flash.StateWritten {
		return flash.ErrUnwritten
	}
	copy(buf, a.data[off:off+uint32(len(buf))])
	return nil
}

func (a *Area) Erase(off uint32, length uint32) error {
	if !a.stepper.allow() {
		log.WithField("run", a.stepper.RunID).Debug("swapsim: erase denied, simulated power loss")
		return ErrExpired
	}
	idx := a.sectorIndex(off)
	for b := off; b < off+length; b++ {
		a.data[b] = 0xff
	}
	a.state[idx] = flash.StateErased
	return nil
}

func (a *Area) Write(off uint32, buf []byte) error {
	if !a.stepper.allow() {
		log.WithField("run", a.stepper.RunID).Debug("swapsim: write denied, simulated power loss")
		return ErrExpired
	}
	idx := a.sectorIndex(off)
	copy(a.data[off:off+uint32(len(buf))], buf)
	a.state[idx] = flash.StateWritten
	return nil
}

func (a *Area) GetState(off uint32) (flash.State, error) {
	return a.state[a.sectorIndex(off)], nil
}

func (a *Area) Capacity() uint32   { return uint32(len(a.data)) }
func (a *Area) SectorSize() uint32 { return a.sectorSize }

// SwapStepper replaces the budget-tracking Stepper, simulating a
// reboot: physical content and per-sector state survive, but the
// operation budget resets with the new Stepper.
func (a *Area) SwapStepper(stepper *Stepper) {
	a.stepper = stepper
}

// Snapshot returns a copy of the raw bytes, for test assertions that
// byte-compare slot content against the original images.
func (a *Area) Snapshot() []byte {
	out := make([]byte, len(a.data))
	copy(out, a.data)
	return out
}

// Seed writes arbitrary content directly into the area, bypassing the
// stepper and state tracking, for test fixtures that need to install
// an initial image before a scenario runs.
func (a *Area) Seed(off uint32, data []byte) {
	copy(a.data[off:], data)
	for b := off; b < off+uint32(len(data)); b += a.sectorSize {
		a.state[a.sectorIndex(b)] = flash.StateWritten
	}
}

// FillPseudoRandom seeds size bytes of content into area, derived
// from a seed keyed by (slot, offset) the way the out-of-scope test
// fixtures in spec §8's scenarios describe. It is deterministic: the
// same (slot, size) always produces the same bytes, which is what
// lets scenario S3 re-derive "the expected final content" after every
// interruption point k without storing the original image.
func FillPseudoRandom(area *Area, slot int, size uint32) []byte {
	data := make([]byte, size)
	state := uint32(0x9e3779b9) ^ uint32(slot)*0x85ebca6b
	for i := range data {
		state ^= state << 13
		state ^= state >> 17
		state ^= state << 5
		state += uint32(i)
		data[i] = byte(state)
	}
	area.Seed(0, data)
	return data
}

// Driver wires two Areas behind flash.Driver, the seam Init expects.
type Driver struct {
	Areas [2]*Area
}

func (d *Driver) Open(slot int) (flash.Area, error) {
	if slot < 0 || slot > 1 {
		return nil, errors.Errorf("swapsim: no such slot %d", slot)
	}
	return d.Areas[slot], nil
}
