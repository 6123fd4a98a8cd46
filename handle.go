package hyperscan

import (
	"sync/atomic"
	"unsafe"
)

// resource ties one raw native pointer to its matching release procedure.
// Every opaque engine object (platform info, database, scratch) is held by
// exactly one resource; the release runs at most once no matter how many
// times close is called, including the finalizer backstop racing an explicit
// Close. A resource is only ever constructed after the native allocating call
// succeeded, so release never sees a half-initialized handle.
type resource struct {
	ptr     unsafe.Pointer
	release func(unsafe.Pointer)
	closed  atomic.Bool
}

func newResource(ptr unsafe.Pointer, release func(unsafe.Pointer)) *resource {
	return &resource{ptr: ptr, release: release}
}

// borrow exposes the raw pointer for the duration of a native call. The
// pointer must not be retained past the call. After close it fails with
// ErrInvalid instead of handing out a dangling pointer.
func (r *resource) borrow() (unsafe.Pointer, error) {
	if r == nil || r.closed.Load() {
		return nil, ErrInvalid
	}
	return r.ptr, nil
}

// close runs the release procedure exactly once. The native free calls do
// not report failure, so close has nothing to surface.
func (r *resource) close() {
	if r == nil {
		return
	}
	if r.closed.CompareAndSwap(false, true) {
		r.release(r.ptr)
	}
}
