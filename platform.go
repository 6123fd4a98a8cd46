package hyperscan

import (
	"runtime"
	"unsafe"

	"github.com/swarmguard/hyperscan/internal/hs"
)

// TuneFamily selects the microarchitecture the compiler optimizes for. The
// value is passed through to the native ABI unchanged.
type TuneFamily uint32

const (
	TuneGeneric       = TuneFamily(hs.TuneGeneric)
	TuneSandyBridge   = TuneFamily(hs.TuneSandyBridge)
	TuneIvyBridge     = TuneFamily(hs.TuneIvyBridge)
	TuneHaswell       = TuneFamily(hs.TuneHaswell)
	TuneSilvermont    = TuneFamily(hs.TuneSilvermont)
	TuneBroadwell     = TuneFamily(hs.TuneBroadwell)
	TuneSkylake       = TuneFamily(hs.TuneSkylake)
	TuneSkylakeServer = TuneFamily(hs.TuneSkylakeServer)
	TuneGoldmont      = TuneFamily(hs.TuneGoldmont)
)

// CPUFeature is a bitset of CPU extensions the compiled database may assume.
// Combine with | and test with &; the bits match the native ABI field.
type CPUFeature uint64

const (
	FeatureAVX2   = CPUFeature(hs.CPUFeatureAVX2)
	FeatureAVX512 = CPUFeature(hs.CPUFeatureAVX512)
)

// Platform describes the target CPU a database is compiled for. It owns a
// native hs_platform_info allocation, released exactly once on Close (or by
// the finalizer backstop). A nil *Platform passed to the compile calls means
// "compile for the host".
type Platform struct {
	res *resource
}

// ValidPlatform reports whether the running CPU can execute Hyperscan at
// all. It performs no allocation.
func ValidPlatform() error {
	return translate(hs.ValidPlatform())
}

// Version returns the version string of the linked native library.
func Version() string {
	return hs.Version()
}

func newPlatform(ptr unsafe.Pointer) *Platform {
	p := &Platform{res: newResource(ptr, hs.FreePlatformInfo)}
	runtime.SetFinalizer(p, func(p *Platform) { p.res.close() })
	return p
}

// HostPlatform probes the current CPU and returns a descriptor reflecting
// it. Fails with ErrArch on unsupported hardware.
func HostPlatform() (*Platform, error) {
	ptr := hs.AllocPlatformInfo()
	if err := translate(hs.PopulatePlatform(ptr)); err != nil {
		hs.FreePlatformInfo(ptr)
		return nil, err
	}
	return newPlatform(ptr), nil
}

// NewPlatform builds a descriptor from explicit values without probing the
// host, for compiling databases targeted at a different machine.
func NewPlatform(tune TuneFamily, features CPUFeature) *Platform {
	ptr := hs.AllocPlatformInfo()
	hs.SetPlatformInfo(ptr, uint32(tune), uint64(features))
	return newPlatform(ptr)
}

// Tune returns the tuning family the descriptor carries.
func (p *Platform) Tune() TuneFamily {
	ptr, err := p.res.borrow()
	if err != nil {
		return TuneGeneric
	}
	defer runtime.KeepAlive(p)
	return TuneFamily(hs.PlatformInfoTune(ptr))
}

// Features returns the CPU feature bitset the descriptor carries.
func (p *Platform) Features() CPUFeature {
	ptr, err := p.res.borrow()
	if err != nil {
		return 0
	}
	defer runtime.KeepAlive(p)
	return CPUFeature(hs.PlatformInfoFeatures(ptr))
}

// Close releases the native platform info. Safe to call more than once.
func (p *Platform) Close() error {
	runtime.SetFinalizer(p, nil)
	p.res.close()
	return nil
}
