package hyperscan

import (
	"runtime"
	"unsafe"

	"github.com/swarmguard/hyperscan/internal/hs"
)

// Scratch is the mutable per-scan workspace the engine requires. A Scratch
// must never drive two scans at the same time; the engine detects the
// violation and reports ErrScratchInUse instead of corrupting memory. For
// concurrent scanning give each goroutine its own Scratch (Clone is the
// cheap way to get one).
type Scratch struct {
	res *resource
}

func newScratch(ptr unsafe.Pointer) *Scratch {
	s := &Scratch{res: newResource(ptr, hs.FreeScratch)}
	runtime.SetFinalizer(s, func(s *Scratch) { s.res.close() })
	return s
}

// NewScratch allocates scratch space sized for db.
func NewScratch(db *Database) (*Scratch, error) {
	dbPtr, err := db.res.borrow()
	if err != nil {
		return nil, err
	}
	defer runtime.KeepAlive(db)

	var ptr unsafe.Pointer
	if err := translate(hs.AllocScratch(dbPtr, &ptr)); err != nil {
		return nil, err
	}
	return newScratch(ptr), nil
}

// Grow resizes the scratch in place so it can additionally serve db. A no-op
// when the current allocation is already sufficient.
func (s *Scratch) Grow(db *Database) error {
	dbPtr, err := db.res.borrow()
	if err != nil {
		return err
	}
	defer runtime.KeepAlive(db)

	ptr, err := s.res.borrow()
	if err != nil {
		return err
	}
	defer runtime.KeepAlive(s)

	// hs_alloc_scratch grows an existing allocation; the handle may move.
	if err := translate(hs.AllocScratch(dbPtr, &ptr)); err != nil {
		return err
	}
	s.res.ptr = ptr
	return nil
}

// Clone duplicates the scratch as an independently owned allocation sized
// for the same databases.
func (s *Scratch) Clone() (*Scratch, error) {
	ptr, err := s.res.borrow()
	if err != nil {
		return nil, err
	}
	defer runtime.KeepAlive(s)

	cloned, status := hs.CloneScratch(ptr)
	if err := translate(status); err != nil {
		return nil, err
	}
	return newScratch(cloned), nil
}

// Size reports the scratch allocation size in bytes.
func (s *Scratch) Size() (int, error) {
	ptr, err := s.res.borrow()
	if err != nil {
		return 0, err
	}
	defer runtime.KeepAlive(s)

	sz, status := hs.ScratchSize(ptr)
	if err := translate(status); err != nil {
		return 0, err
	}
	return sz, nil
}

// Close releases the scratch allocation. Safe to call more than once.
func (s *Scratch) Close() error {
	runtime.SetFinalizer(s, nil)
	s.res.close()
	return nil
}
