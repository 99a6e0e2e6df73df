// Package executor runs a planner work list step by step and, on
// fresh boot after an interruption, locates the first unfinished step
// so the caller can resume there.
package executor

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"swapcore/internal/flash"
	"swapcore/internal/hashutil"
	"swapcore/internal/planner"
)

// ErrFatalMismatch is raised when the source page read for a step
// does not hash to the fingerprint the work item promised, checked
// before the destination is written. This can only mean the source
// page changed under us; it is treated like a hash collision by the
// caller (bump prefix, restart from Request).
var ErrFatalMismatch = errors.New("executor: source page does not match expected fingerprint")

// Resume identifies where performWork should continue: workIdx
// selects Slide (0) or Swap (1), stepIdx is the first step to run.
type Resume struct {
	WorkIdx int
	StepIdx int
}

// Executor runs work lists against borrowed flash areas using a
// single reusable scratch buffer, per the single-threaded resource
// model in spec §5.
type Executor struct {
	areas    [2]flash.Area
	hasher   hashutil.Hasher
	prefix   [4]byte
	pageSize uint32
	scratch  []byte
}

// New constructs an Executor bound to both slot areas.
func New(areas [2]flash.Area, hasher hashutil.Hasher, prefix [4]byte, pageSize uint32) *Executor {
	return &Executor{
		areas:    areas,
		hasher:   hasher,
		prefix:   prefix,
		pageSize: pageSize,
		scratch:  make([]byte, pageSize),
	}
}

// pageOffset converts a page index into a byte offset within a slot.
func (e *Executor) pageOffset(page uint32) uint32 {
	return page * e.pageSize
}

// runStep performs one work item: erase destination, read source,
// verify the fingerprint, write destination.
func (e *Executor) runStep(w planner.WorkItem) error {
	destArea := e.areas[w.DestSlot]
	srcArea := e.areas[w.SrcSlot]

	if err := destArea.Erase(e.pageOffset(w.DestPage), e.pageSize); err != nil {
		return errors.Wrap(err, "executor: erase destination")
	}

	buf := e.scratch[:e.pageSize]
	if err := srcArea.Read(e.pageOffset(w.SrcPage), buf); err != nil {
		return errors.Wrap(err, "executor: read source")
	}

	got := hashutil.Fingerprint(e.hasher, e.prefix, buf[:w.Size])
	if got != w.Fingerprint {
		return ErrFatalMismatch
	}

	if err := destArea.Write(e.pageOffset(w.DestPage), buf); err != nil {
		return errors.Wrap(err, "executor: write destination")
	}
	return nil
}

// PerformWork runs phases workIdx..1 of lists starting at the given
// resume point. lists[0] is Slide, lists[1] is Swap. onPhaseDone is
// called after a phase's last step completes, before the next phase's
// first step runs, so the caller can persist the trailer transition.
func (e *Executor) PerformWork(lists [2][]planner.WorkItem, resume Resume, onPhaseDone func(workIdx int) error) error {
	for workIdx := resume.WorkIdx; workIdx <= 1; workIdx++ {
		start := 0
		if workIdx == resume.WorkIdx {
			start = resume.StepIdx
		}
		for i := start; i < len(lists[workIdx]); i++ {
			if err := e.runStep(lists[workIdx][i]); err != nil {
				return err
			}
			log.WithField("work", workIdx).WithField("step", i).Debug("executor: step complete")
		}
		if onPhaseDone != nil {
			if err := onPhaseDone(workIdx); err != nil {
				return err
			}
		}
	}
	return nil
}

// readDest reads size bytes of a step's destination page.
func (e *Executor) readDest(slot int, page uint32, size uint32) ([]byte, error) {
	buf := make([]byte, size)
	if err := e.areas[slot].Read(e.pageOffset(page), buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadPage implements planner.PageReader, letting the planner
// byte-compare two physical pages during a non-initial rebuild.
func (e *Executor) ReadPage(slot int, page uint32, size uint32) ([]byte, error) {
	return e.readDest(slot, page, size)
}

// Recover walks a work list from the start, looking for the first
// step whose destination page is not yet correctly written, then
// backs up one step if the prior step's source may have been
// partially clobbered by the in-progress step.
func (e *Executor) Recover(workIdx int, list []planner.WorkItem) (Resume, error) {
	i := 0
	for ; i < len(list); i++ {
		w := list[i]
		state, err := e.areas[w.DestSlot].GetState(e.pageOffset(w.DestPage))
		if err != nil {
			return Resume{}, errors.Wrap(err, "executor: query destination state")
		}
		if state != flash.StateWritten {
			break
		}
		buf, err := e.readDest(w.DestSlot, w.DestPage, w.Size)
		if err != nil {
			break
		}
		got := hashutil.Fingerprint(e.hasher, e.prefix, buf)
		if got != w.Fingerprint {
			break
		}
	}

	if i == len(list) {
		log.WithField("work", workIdx).Debug("executor: recovery found phase complete")
		return Resume{WorkIdx: workIdx, StepIdx: i}, nil
	}

	if i > 0 {
		prev := list[i-1]
		state, err := e.areas[prev.SrcSlot].GetState(e.pageOffset(prev.SrcPage))
		if err == nil && state == flash.StateWritten {
			buf, rerr := e.readDest(prev.SrcSlot, prev.SrcPage, prev.Size)
			if rerr == nil {
				got := hashutil.Fingerprint(e.hasher, e.prefix, buf)
				if got == prev.Fingerprint {
					log.WithField("work", workIdx).WithField("step", i-1).
						Debug("executor: backing up to re-verify boundary step")
					i--
				}
			}
		}
	}

	log.WithField("work", workIdx).WithField("step", i).Info("executor: resuming after interruption")
	return Resume{WorkIdx: workIdx, StepIdx: i}, nil
}
