package swapcore

import (
	"github.com/pkg/errors"

	"swapcore/internal/executor"
	"swapcore/internal/planner"
	"swapcore/internal/trailer"
)

// Re-exported so callers never need to import the internal packages
// directly to handle specific failures (spec §7).
var (
	ErrHashCollision      = planner.ErrHashCollision
	ErrWorkListOverflow   = planner.ErrWorkListOverflow
	ErrCorruptTrailer     = trailer.ErrCorruptTrailer
	ErrStateError         = trailer.ErrStateError
	ErrSpillIntegrity     = trailer.ErrSpillIntegrity
	ErrFatalMismatch      = executor.ErrFatalMismatch
	ErrCollisionExhausted = errors.New("swapcore: exhausted hash collision retries")
)

// ExitCode maps an error returned by Startup to the bootloader exit
// codes in spec §6: 0 for success or no work, 1 for unrecoverable
// trailer corruption, 2 for exhausted collision retries.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrCollisionExhausted):
		return 2
	case errors.Is(err, ErrCorruptTrailer), errors.Is(err, ErrStateError), errors.Is(err, ErrSpillIntegrity):
		return 1
	default:
		return 1
	}
}
