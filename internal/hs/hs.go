// Package hs declares the raw Hyperscan C ABI surface used by the safe
// wrapper. Everything here is a thin pass-through: no status code is
// interpreted, no ownership is tracked. The parent package is the only
// consumer.
//
// Set HYPERSCAN_ROOT to point the build at a non-system install:
//
//	CGO_CFLAGS="-I$HYPERSCAN_ROOT/include" CGO_LDFLAGS="-L$HYPERSCAN_ROOT/lib" go build
package hs

/*
#cgo pkg-config: libhs
#include <stdlib.h>
#include <string.h>
#include <hs/hs.h>

extern int hsMatchTrampoline(unsigned int id, unsigned long long from,
	unsigned long long to, unsigned int flags, void *context);

static hs_error_t scan_block(const hs_database_t *db, const char *data,
	unsigned int length, hs_scratch_t *scratch, void *context) {
	return hs_scan(db, data, length, 0, scratch, hsMatchTrampoline, context);
}
*/
import "C"

import (
	"unsafe"
)

// Status codes, mirrored from hs.h. The wrapper's error taxonomy is keyed on
// these exact values.
const (
	Success           int32 = C.HS_SUCCESS
	ErrInvalid        int32 = C.HS_INVALID
	ErrNoMem          int32 = C.HS_NOMEM
	ErrScanTerminated int32 = C.HS_SCAN_TERMINATED
	ErrCompiler       int32 = C.HS_COMPILER_ERROR
	ErrDBVersion      int32 = C.HS_DB_VERSION_ERROR
	ErrDBPlatform     int32 = C.HS_DB_PLATFORM_ERROR
	ErrDBMode         int32 = C.HS_DB_MODE_ERROR
	ErrBadAlign       int32 = C.HS_BAD_ALIGN
	ErrBadAlloc       int32 = C.HS_BAD_ALLOC
	ErrScratchInUse   int32 = C.HS_SCRATCH_IN_USE
	ErrArch           int32 = C.HS_ARCH_ERROR
	ErrInsufficient   int32 = C.HS_INSUFFICIENT_SPACE
	ErrUnknown        int32 = C.HS_UNKNOWN_ERROR
)

// Tuning families and CPU feature bits, passed through to hs_platform_info.
const (
	TuneGeneric       uint32 = C.HS_TUNE_FAMILY_GENERIC
	TuneSandyBridge   uint32 = C.HS_TUNE_FAMILY_SNB
	TuneIvyBridge     uint32 = C.HS_TUNE_FAMILY_IVB
	TuneHaswell       uint32 = C.HS_TUNE_FAMILY_HSW
	TuneSilvermont    uint32 = C.HS_TUNE_FAMILY_SLM
	TuneBroadwell     uint32 = C.HS_TUNE_FAMILY_BDW
	TuneSkylake       uint32 = C.HS_TUNE_FAMILY_SKL
	TuneSkylakeServer uint32 = C.HS_TUNE_FAMILY_SKX
	TuneGoldmont      uint32 = C.HS_TUNE_FAMILY_GLM

	CPUFeatureAVX2   uint64 = C.HS_CPU_FEATURES_AVX2
	CPUFeatureAVX512 uint64 = C.HS_CPU_FEATURES_AVX512
)

// Pattern compile flags.
const (
	FlagCaseless    uint32 = C.HS_FLAG_CASELESS
	FlagDotAll      uint32 = C.HS_FLAG_DOTALL
	FlagMultiLine   uint32 = C.HS_FLAG_MULTILINE
	FlagSingleMatch uint32 = C.HS_FLAG_SINGLEMATCH
	FlagAllowEmpty  uint32 = C.HS_FLAG_ALLOWEMPTY
	FlagUTF8        uint32 = C.HS_FLAG_UTF8
	FlagUCP         uint32 = C.HS_FLAG_UCP
	FlagPrefilter   uint32 = C.HS_FLAG_PREFILTER
	FlagSOMLeftmost uint32 = C.HS_FLAG_SOM_LEFTMOST

	ModeBlock uint32 = C.HS_MODE_BLOCK
)

// AllocPlatformInfo returns a zeroed hs_platform_info on the C heap. The
// caller owns it and must release it with FreePlatformInfo.
func AllocPlatformInfo() unsafe.Pointer {
	return C.calloc(1, C.sizeof_struct_hs_platform_info)
}

// FreePlatformInfo releases a platform info allocated by AllocPlatformInfo.
func FreePlatformInfo(p unsafe.Pointer) {
	C.free(p)
}

// SetPlatformInfo writes tune and features into an hs_platform_info. Field
// order and widths must match the native header exactly.
func SetPlatformInfo(p unsafe.Pointer, tune uint32, features uint64) {
	info := (*C.struct_hs_platform_info)(p)
	info.tune = C.uint(tune)
	info.cpu_features = C.ulonglong(features)
	info.reserved1 = 0
	info.reserved2 = 0
}

// PlatformInfoTune reads back the tune field.
func PlatformInfoTune(p unsafe.Pointer) uint32 {
	return uint32((*C.struct_hs_platform_info)(p).tune)
}

// PlatformInfoFeatures reads back the cpu_features field.
func PlatformInfoFeatures(p unsafe.Pointer) uint64 {
	return uint64((*C.struct_hs_platform_info)(p).cpu_features)
}

// ValidPlatform checks whether the host CPU can run Hyperscan at all.
func ValidPlatform() int32 {
	return int32(C.hs_valid_platform())
}

// PopulatePlatform fills info from the current host.
func PopulatePlatform(info unsafe.Pointer) int32 {
	return int32(C.hs_populate_platform((*C.struct_hs_platform_info)(info)))
}

// Version returns the linked library's version string.
func Version() string {
	return C.GoString(C.hs_version())
}

// CompileMulti invokes hs_compile_multi. On HS_COMPILER_ERROR the returned
// compile-error pointer (if any) is native-owned and must be passed to
// FreeCompileError after its message and expression have been copied out.
// platform may be nil, in which case the host platform is used.
func CompileMulti(expressions []string, flags []uint32, ids []uint32, mode uint32, platform unsafe.Pointer) (db unsafe.Pointer, status int32, compileErr unsafe.Pointer) {
	n := len(expressions)
	cexprs := make([]*C.char, n)
	for i, e := range expressions {
		cexprs[i] = C.CString(e)
	}
	defer func() {
		for _, ce := range cexprs {
			C.free(unsafe.Pointer(ce))
		}
	}()

	var cdb *C.hs_database_t
	var cerr *C.hs_compile_error_t
	ret := C.hs_compile_multi(
		(**C.char)(unsafe.Pointer(&cexprs[0])),
		(*C.uint)(unsafe.Pointer(&flags[0])),
		(*C.uint)(unsafe.Pointer(&ids[0])),
		C.uint(n),
		C.uint(mode),
		(*C.hs_platform_info_t)(platform),
		&cdb,
		&cerr,
	)
	return unsafe.Pointer(cdb), int32(ret), unsafe.Pointer(cerr)
}

// CompileErrorMessage copies the diagnostic message out of an
// hs_compile_error_t. Returns "" for a nil pointer.
func CompileErrorMessage(p unsafe.Pointer) string {
	if p == nil {
		return ""
	}
	return C.GoString((*C.hs_compile_error_t)(p).message)
}

// CompileErrorExpression returns the failing pattern index, or a negative
// value when the failure is not attributable to a single pattern.
func CompileErrorExpression(p unsafe.Pointer) int {
	if p == nil {
		return -1
	}
	return int((*C.hs_compile_error_t)(p).expression)
}

// FreeCompileError releases a native compile-error object.
func FreeCompileError(p unsafe.Pointer) {
	C.hs_free_compile_error((*C.hs_compile_error_t)(p))
}

// FreeDatabase releases a compiled database.
func FreeDatabase(db unsafe.Pointer) {
	C.hs_free_database((*C.hs_database_t)(db))
}

// DatabaseInfo returns the database's self-description string. The native
// call allocates the string; it is freed here after copying.
func DatabaseInfo(db unsafe.Pointer) (string, int32) {
	var cinfo *C.char
	ret := C.hs_database_info((*C.hs_database_t)(db), &cinfo)
	if int32(ret) != Success {
		return "", int32(ret)
	}
	info := C.GoString(cinfo)
	C.free(unsafe.Pointer(cinfo))
	return info, Success
}

// DatabaseSize reports the in-memory footprint of a compiled database.
func DatabaseSize(db unsafe.Pointer) (int, int32) {
	var sz C.size_t
	ret := C.hs_database_size((*C.hs_database_t)(db), &sz)
	return int(sz), int32(ret)
}

// SerializeDatabase flattens a database into bytes. The native buffer is
// copied into Go memory and freed before returning.
func SerializeDatabase(db unsafe.Pointer) ([]byte, int32) {
	var buf *C.char
	var sz C.size_t
	ret := C.hs_serialize_database((*C.hs_database_t)(db), &buf, &sz)
	if int32(ret) != Success {
		return nil, int32(ret)
	}
	out := C.GoBytes(unsafe.Pointer(buf), C.int(sz))
	C.free(unsafe.Pointer(buf))
	return out, Success
}

// DeserializeDatabase reconstructs a database from serialized bytes.
func DeserializeDatabase(data []byte) (unsafe.Pointer, int32) {
	var cdb *C.hs_database_t
	ret := C.hs_deserialize_database(
		(*C.char)(unsafe.Pointer(&data[0])),
		C.size_t(len(data)),
		&cdb,
	)
	return unsafe.Pointer(cdb), int32(ret)
}

// SerializedDatabaseInfo returns the description string embedded in
// serialized database bytes without deserializing them.
func SerializedDatabaseInfo(data []byte) (string, int32) {
	var cinfo *C.char
	ret := C.hs_serialized_database_info(
		(*C.char)(unsafe.Pointer(&data[0])),
		C.size_t(len(data)),
		&cinfo,
	)
	if int32(ret) != Success {
		return "", int32(ret)
	}
	info := C.GoString(cinfo)
	C.free(unsafe.Pointer(cinfo))
	return info, Success
}

// AllocScratch sizes (or grows) scratch for db. *scratch may point to nil for
// a fresh allocation; on success it points to a scratch sufficient for db and
// for every database it was previously sized for.
func AllocScratch(db unsafe.Pointer, scratch *unsafe.Pointer) int32 {
	cs := (*C.hs_scratch_t)(*scratch)
	ret := C.hs_alloc_scratch((*C.hs_database_t)(db), &cs)
	*scratch = unsafe.Pointer(cs)
	return int32(ret)
}

// CloneScratch duplicates a scratch allocation.
func CloneScratch(scratch unsafe.Pointer) (unsafe.Pointer, int32) {
	var cs *C.hs_scratch_t
	ret := C.hs_clone_scratch((*C.hs_scratch_t)(scratch), &cs)
	return unsafe.Pointer(cs), int32(ret)
}

// ScratchSize reports the allocation size of a scratch region.
func ScratchSize(scratch unsafe.Pointer) (int, int32) {
	var sz C.size_t
	ret := C.hs_scratch_size((*C.hs_scratch_t)(scratch), &sz)
	return int(sz), int32(ret)
}

// FreeScratch releases a scratch allocation.
func FreeScratch(scratch unsafe.Pointer) {
	C.hs_free_scratch((*C.hs_scratch_t)(scratch))
}

// ScanBlock runs a block-mode scan. context is a runtime/cgo.Handle encoded
// as uintptr; hsMatchTrampoline resolves it back to the Go callback. data
// must be non-empty.
func ScanBlock(db unsafe.Pointer, data []byte, scratch unsafe.Pointer, context uintptr) int32 {
	ret := C.scan_block(
		(*C.hs_database_t)(db),
		(*C.char)(unsafe.Pointer(&data[0])),
		C.uint(len(data)),
		(*C.hs_scratch_t)(scratch),
		unsafe.Pointer(context), // integer cgo.Handle, not a Go pointer
	)
	return int32(ret)
}
