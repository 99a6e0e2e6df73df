// Package swapcore implements the power-fail-safe image-swap engine
// for a two-slot flash bootloader: the fingerprinter, the planner,
// the status trailer, and the executor/recovery procedure described
// in the device's upgrade flow.
package swapcore

import (
	"encoding/binary"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"swapcore/internal/executor"
	"swapcore/internal/fingerprint"
	"swapcore/internal/flash"
	"swapcore/internal/hashutil"
	"swapcore/internal/planner"
	"swapcore/internal/trailer"
)

// Phase re-exports trailer.Phase so callers never need to import the
// internal package to inspect Swap.Phase().
type Phase = trailer.Phase

const (
	PhaseUnknown = trailer.PhaseUnknown
	PhaseRequest = trailer.PhaseRequest
	PhaseSlide   = trailer.PhaseSlide
	PhaseSwap    = trailer.PhaseSwap
	PhaseDone    = trailer.PhaseDone
)

// Swap is the swap engine's process-wide state, held as an explicit
// value rather than package globals so the test harness can run many
// independent scenarios back to back (spec §9).
type Swap struct {
	cfg    *Config
	driver flash.Driver
	areas  [2]flash.Area
	hasher hashutil.Hasher
	sizes  [2]uint32
	prefix [4]byte

	trailer *trailer.Trailer
	exec    *executor.Executor
}

func prefixBytes(prefix uint32) [4]byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], prefix)
	return b
}

// Init opens both slot areas through driver and wires up the trailer
// and executor. It performs no flash I/O beyond the two Open calls;
// Startup does all the work.
func Init(driver flash.Driver, sizes [2]uint32, prefix uint32, cfg *Config) (*Swap, error) {
	if cfg == nil {
		cfg = DefaultOptions
	}
	area0, err := driver.Open(0)
	if err != nil {
		return nil, errors.Wrap(err, "swapcore: open slot 0")
	}
	area1, err := driver.Open(1)
	if err != nil {
		return nil, errors.Wrap(err, "swapcore: open slot 1")
	}

	hasher := cfg.hasher()
	s := &Swap{
		cfg:    cfg,
		driver: driver,
		areas:  [2]flash.Area{area0, area1},
		hasher: hasher,
		sizes:  sizes,
		prefix: prefixBytes(prefix),
	}
	s.trailer = trailer.New(area1, hasher, cfg.SlotCapacity[1], cfg.MaxPages, cfg.PageSize)
	s.exec = executor.New(s.areas, hasher, s.prefix, cfg.PageSize)
	return s, nil
}

// RequestUpgrade writes the magic constant into slot 1's trailer,
// the precondition for Startup to do anything.
func (s *Swap) RequestUpgrade() error {
	return s.trailer.WriteMagic()
}

// RequestUpgrade is the package-level convenience form for callers
// that only have a driver and haven't built a Swap yet: the caller
// typically requests an upgrade long before it knows both image
// sizes (e.g. from a separate download step).
func RequestUpgrade(driver flash.Driver, cfg *Config) error {
	if cfg == nil {
		cfg = DefaultOptions
	}
	area1, err := driver.Open(1)
	if err != nil {
		return errors.Wrap(err, "swapcore: open slot 1")
	}
	t := trailer.New(area1, cfg.hasher(), cfg.SlotCapacity[1], cfg.MaxPages, cfg.PageSize)
	return t.WriteMagic()
}

// Phase reports the trailer's current phase without doing any
// recovery work.
func (s *Swap) Phase() (Phase, error) {
	return s.trailer.Scan()
}

// ConfirmImage marks the currently running image good, so a later
// reboot won't be treated as a failed upgrade by anything watching the
// ImageOK bit outside this core (spec §9, Non-goals). It is a no-op if
// the bit is already set.
func (s *Swap) ConfirmImage() error {
	return s.trailer.ConfirmImage()
}

func (s *Swap) bound0() planner.Bound {
	return planner.Bound{PageSize: s.cfg.PageSize, Size: s.sizes[0]}
}

func (s *Swap) bound1() planner.Bound {
	return planner.Bound{PageSize: s.cfg.PageSize, Size: s.sizes[1]}
}

// pad0 extends hashes0 by one zero-value entry for the slide target
// page (slot 0's one extra page, addressed as hashes0[count0] by the
// planner). The zero value is never a valid fingerprint of real
// content with meaningful probability, and matches the zero-init
// state the swap state starts boot in (spec §3 lifecycle).
func pad0(hashes0 [][4]byte) [][4]byte {
	padded := make([][4]byte, len(hashes0)+1)
	copy(padded, hashes0)
	return padded
}

// buildLists runs both planner stages for the given hash arrays.
func (s *Swap) buildLists(hashes0, hashes1 [][4]byte, initial bool) ([2][]planner.WorkItem, error) {
	var lists [2][]planner.WorkItem
	var reader planner.PageReader
	if !initial {
		reader = s.exec
	}
	padded0 := pad0(hashes0)
	slide, err := planner.BuildSlide(s.bound0(), padded0, initial, reader, s.cfg.MaxPages)
	if err != nil {
		return lists, err
	}
	swap, err := planner.BuildSwap(s.bound0(), s.bound1(), padded0, hashes1, initial, reader, s.cfg.MaxPages)
	if err != nil {
		return lists, err
	}
	lists[0], lists[1] = slide, swap
	return lists, nil
}

// onPhaseDone persists the Slide->Swap and Swap->Done transitions.
// It is handed to executor.PerformWork so the trailer advances
// exactly once per finished phase, before any step of the next
// phase runs.
func (s *Swap) onPhaseDone(st *trailer.Status) func(workIdx int) error {
	return func(workIdx int) error {
		switch workIdx {
		case 0:
			return s.trailer.UpdateStatus(trailer.PhaseSwap, st)
		case 1:
			st.CopyDone = true
			return s.trailer.UpdateStatus(trailer.PhaseDone, st)
		}
		return nil
	}
}

// startFromRequest computes fresh fingerprints, writes the trailer at
// phase Slide, builds the work lists from scratch, and executes both
// phases from the beginning.
func (s *Swap) startFromRequest() error {
	hashes0, err := fingerprint.Compute(s.areas[0], s.hasher, s.prefix, s.sizes[0], s.cfg.PageSize)
	if err != nil {
		return errors.Wrap(err, "swapcore: compute slot 0 fingerprints")
	}
	hashes1, err := fingerprint.Compute(s.areas[1], s.hasher, s.prefix, s.sizes[1], s.cfg.PageSize)
	if err != nil {
		return errors.Wrap(err, "swapcore: compute slot 1 fingerprints")
	}

	st := &trailer.Status{
		Sizes:  s.sizes,
		Prefix: s.prefix,
		Phase:  trailer.PhaseSlide,
		Hashes: [2][][4]byte{hashes0, hashes1},
	}
	if err := s.trailer.StartStatus(st); err != nil {
		return errors.Wrap(err, "swapcore: write initial status")
	}

	lists, err := s.buildLists(hashes0, hashes1, true)
	if err != nil {
		return err
	}
	return s.exec.PerformWork(lists, executor.Resume{WorkIdx: 0, StepIdx: 0}, s.onPhaseDone(st))
}

// resumeFrom loads the persisted fingerprints (never recomputes
// them), rebuilds the plan deterministically, locates the resume
// point, and continues execution.
func (s *Swap) resumeFrom(phase Phase) error {
	st, err := s.trailer.LoadStatus()
	if err != nil {
		return err
	}
	s.sizes = st.Sizes
	s.prefix = st.Prefix
	s.exec = executor.New(s.areas, s.hasher, s.prefix, s.cfg.PageSize)

	lists, err := s.buildLists(st.Hashes[0], st.Hashes[1], false)
	if err != nil {
		return err
	}

	var workIdx int
	switch phase {
	case trailer.PhaseSlide:
		workIdx = 0
	case trailer.PhaseSwap:
		workIdx = 1
	default:
		return ErrStateError
	}
	resume, err := s.exec.Recover(workIdx, lists[workIdx])
	if err != nil {
		return err
	}
	log.WithField("phase", phase).WithField("resume_step", resume.StepIdx).Info("swapcore: resuming after interruption")
	return s.exec.PerformWork(lists, resume, s.onPhaseDone(st))
}

// bumpAndRestart escapes a hash collision per spec §7/§4.4: bump the
// prefix, go back to Request by rewriting the magic-only trailer, and
// let the next Startup loop iteration recompute from scratch.
func (s *Swap) bumpAndRestart() error {
	next := binary.LittleEndian.Uint32(s.prefix[:]) + 1
	s.prefix = prefixBytes(next)
	s.exec = executor.New(s.areas, s.hasher, s.prefix, s.cfg.PageSize)
	log.WithField("prefix", next).Warn("swapcore: hash collision, bumping prefix and restarting")
	return s.trailer.WriteMagic()
}

// Startup is the idempotent entry point: on completion the swap is
// Done (or there was nothing to do). It is safe to call after any
// interruption, including repeated interruptions, per the recovery
// totality invariant in spec §8.
func (s *Swap) Startup() error {
	for attempt := 0; attempt <= s.cfg.MaxCollisionRetries; attempt++ {
		phase, err := s.trailer.Scan()
		if err != nil {
			return err
		}

		var runErr error
		switch phase {
		case trailer.PhaseUnknown, trailer.PhaseDone:
			return nil
		case trailer.PhaseRequest:
			runErr = s.startFromRequest()
		case trailer.PhaseSlide, trailer.PhaseSwap:
			runErr = s.resumeFrom(phase)
		default:
			return ErrStateError
		}

		if runErr == nil {
			return nil
		}
		if errors.Is(runErr, ErrHashCollision) || errors.Is(runErr, ErrFatalMismatch) {
			if err := s.bumpAndRestart(); err != nil {
				return err
			}
			continue
		}
		return runErr
	}
	return ErrCollisionExhausted
}
