package hyperscan

import (
	"runtime"

	"github.com/swarmguard/hyperscan/internal/hs"
)

// MatchHandler receives match events during a scan: the pattern ID supplied
// at compile time and the match's byte offsets within the input (from is
// zero unless SOMLeftmost was set). Events arrive in input order. Return
// false to stop the scan; Scan then reports ErrScanTerminated.
type MatchHandler func(id uint32, from, to uint64) bool

// Scan runs db over data in a single block, invoking onMatch for every
// match. scratch must be sized for db and must not be shared with another
// in-flight scan. An empty input matches nothing and returns nil. Callers
// that terminate early should treat ErrScanTerminated as success:
//
//	err := db.Scan(data, scratch, onFirst)
//	if err != nil && !errors.Is(err, hyperscan.ErrScanTerminated) {
//	    return err
//	}
func (db *Database) Scan(data []byte, scratch *Scratch, onMatch MatchHandler) error {
	if onMatch == nil || scratch == nil {
		return ErrInvalid
	}
	if len(data) == 0 {
		return nil
	}

	dbPtr, err := db.res.borrow()
	if err != nil {
		return err
	}
	sPtr, err := scratch.res.borrow()
	if err != nil {
		return err
	}

	h := hs.NewCallbackHandle(hs.MatchFunc(onMatch))
	defer h.Delete()

	status := hs.ScanBlock(dbPtr, data, sPtr, uintptr(h))
	runtime.KeepAlive(db)
	runtime.KeepAlive(scratch)
	return translate(status)
}
