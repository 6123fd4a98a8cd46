package hyperscan

import (
	"fmt"

	"github.com/swarmguard/hyperscan/internal/hs"
)

// HsError is a native engine status code surfaced as a Go error. The known
// codes are enumerated below; any other non-zero code the engine may return
// in the future is still representable as HsError(raw) and keeps its raw
// value for diagnostics.
type HsError int32

const (
	// ErrInvalid means a parameter passed to the call was invalid.
	ErrInvalid = HsError(hs.ErrInvalid)
	// ErrNoMem means a memory allocation failed inside the engine.
	ErrNoMem = HsError(hs.ErrNoMem)
	// ErrScanTerminated means the match callback requested early termination.
	// It is an expected outcome for callers that stop on first match.
	ErrScanTerminated = HsError(hs.ErrScanTerminated)
	// ErrDBVersion means the database was built by a different engine version.
	ErrDBVersion = HsError(hs.ErrDBVersion)
	// ErrDBPlatform means the database was built for a different CPU type.
	ErrDBPlatform = HsError(hs.ErrDBPlatform)
	// ErrDBMode means the database was built for a different mode of operation.
	ErrDBMode = HsError(hs.ErrDBMode)
	// ErrBadAlign means a parameter was not correctly aligned.
	ErrBadAlign = HsError(hs.ErrBadAlign)
	// ErrBadAlloc means the allocator returned unsuitably aligned memory.
	ErrBadAlloc = HsError(hs.ErrBadAlloc)
	// ErrScratchInUse means the scratch region is already driving another
	// scan. A caller-discipline violation, not a condition to retry.
	ErrScratchInUse = HsError(hs.ErrScratchInUse)
	// ErrArch means the host CPU lacks required features (SSSE3 baseline).
	ErrArch = HsError(hs.ErrArch)
	// ErrInsufficientSpace means a provided buffer was too small.
	ErrInsufficientSpace = HsError(hs.ErrInsufficient)
	// ErrUnknown is the engine's catch-all internal error. It is also
	// returned when the engine reports a compile failure without supplying
	// the diagnostic object it is contractually required to produce.
	ErrUnknown = HsError(hs.ErrUnknown)
)

func (e HsError) Error() string {
	switch e {
	case ErrInvalid:
		return "hyperscan: invalid parameter"
	case ErrNoMem:
		return "hyperscan: memory allocation failed"
	case ErrScanTerminated:
		return "hyperscan: scan terminated by callback"
	case ErrDBVersion:
		return "hyperscan: database built for a different engine version"
	case ErrDBPlatform:
		return "hyperscan: database built for a different platform"
	case ErrDBMode:
		return "hyperscan: database built for a different mode"
	case ErrBadAlign:
		return "hyperscan: parameter not correctly aligned"
	case ErrBadAlloc:
		return "hyperscan: allocator returned misaligned memory"
	case ErrScratchInUse:
		return "hyperscan: scratch region already in use"
	case ErrArch:
		return "hyperscan: unsupported CPU architecture"
	case ErrInsufficientSpace:
		return "hyperscan: provided buffer too small"
	case ErrUnknown:
		return "hyperscan: unexpected internal error"
	}
	return fmt.Sprintf("hyperscan: unknown error code %d", int32(e))
}

// UnattributedExpression is the Expression value of a CompileError whose
// failure cannot be pinned to a single pattern in the batch.
const UnattributedExpression = -1

// CompileError carries the engine's pattern-compiler diagnostic: the message
// text and the index of the failing pattern within the submitted batch.
type CompileError struct {
	// Message is the compiler's human-readable diagnostic.
	Message string
	// Expression is the zero-based index of the failing pattern, or
	// UnattributedExpression when the failure spans the whole batch.
	Expression int
}

func (e *CompileError) Error() string {
	if e.Expression == UnattributedExpression {
		return fmt.Sprintf("hyperscan: compile failed: %s", e.Message)
	}
	return fmt.Sprintf("hyperscan: compile failed at expression %d: %s", e.Expression, e.Message)
}

// translate is the single choke point converting a raw engine status into a
// typed error. It is total and pure: the success code yields nil, every
// recognized code yields its variant, and anything else yields HsError(raw)
// with the value preserved. The compile path intercepts the compiler-error
// code before calling translate so the diagnostic object can be extracted.
func translate(status int32) error {
	if status == hs.Success {
		return nil
	}
	if status == hs.ErrCompiler {
		// A compiler failure that reaches translate carried no diagnostic
		// object; the native contract promises one, so degrade rather than
		// invent detail.
		return ErrUnknown
	}
	return HsError(status)
}
