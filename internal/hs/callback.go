package hs

/*
#include <hs/hs.h>
*/
import "C"

import (
	"runtime/cgo"
	"unsafe"
)

// MatchFunc is the Go-side match event handler. Returning false stops the
// scan, which the native engine reports as HS_SCAN_TERMINATED.
type MatchFunc func(id uint32, from, to uint64) bool

// NewCallbackHandle pins a MatchFunc for the duration of a native scan.
// The returned handle is passed through the void *context parameter and must
// be deleted once the scan returns.
func NewCallbackHandle(fn MatchFunc) cgo.Handle {
	return cgo.NewHandle(fn)
}

//export hsMatchTrampoline
func hsMatchTrampoline(id C.uint, from C.ulonglong, to C.ulonglong, flags C.uint, context unsafe.Pointer) C.int {
	h := cgo.Handle(uintptr(context))
	fn := h.Value().(MatchFunc)
	if fn(uint32(id), uint64(from), uint64(to)) {
		return 0
	}
	return 1
}
