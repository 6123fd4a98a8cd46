package hyperscan

import (
	"runtime"
	"unsafe"

	"github.com/swarmguard/hyperscan/internal/hs"
)

// CompileFlag modifies how a single pattern is compiled. Flags combine with
// | and are passed through to the native ABI unchanged.
type CompileFlag uint32

const (
	// Caseless makes the pattern match case-insensitively.
	Caseless = CompileFlag(hs.FlagCaseless)
	// DotAll lets . match newline.
	DotAll = CompileFlag(hs.FlagDotAll)
	// MultiLine makes ^ and $ match at line boundaries.
	MultiLine = CompileFlag(hs.FlagMultiLine)
	// SingleMatch reports at most one match per pattern.
	SingleMatch = CompileFlag(hs.FlagSingleMatch)
	// AllowEmpty permits patterns that can match the empty string.
	AllowEmpty = CompileFlag(hs.FlagAllowEmpty)
	// UTF8 treats the pattern as UTF-8.
	UTF8 = CompileFlag(hs.FlagUTF8)
	// UCP enables Unicode character properties.
	UCP = CompileFlag(hs.FlagUCP)
	// Prefilter compiles an over-approximation suitable for prefiltering.
	Prefilter = CompileFlag(hs.FlagPrefilter)
	// SOMLeftmost reports the leftmost start of match.
	SOMLeftmost = CompileFlag(hs.FlagSOMLeftmost)
)

// Pattern is one expression in a compile batch.
type Pattern struct {
	Expression string
	Flags      CompileFlag
	// ID is reported to the match callback; patterns in a batch may share
	// an ID.
	ID uint32
}

// Database is an immutable compiled pattern database. It is safe for
// concurrent scans as long as each scan brings its own Scratch. The native
// allocation is released exactly once on Close (or by the finalizer
// backstop).
type Database struct {
	res *resource
}

func newDatabase(ptr unsafe.Pointer) *Database {
	db := &Database{res: newResource(ptr, hs.FreeDatabase)}
	runtime.SetFinalizer(db, func(db *Database) { db.res.close() })
	return db
}

// Compile builds a database from a single expression. On failure the
// returned error is a *CompileError whose Expression is 0. A nil platform
// compiles for the host.
func Compile(expression string, flags CompileFlag, platform *Platform) (*Database, error) {
	return CompileMulti([]Pattern{{Expression: expression, Flags: flags}}, platform)
}

// CompileMulti builds one database matching every pattern in the batch. On a
// compile failure the returned error is a *CompileError carrying the
// compiler's message and the index of the offending pattern. A nil platform
// compiles for the host.
func CompileMulti(patterns []Pattern, platform *Platform) (*Database, error) {
	if len(patterns) == 0 {
		return nil, ErrInvalid
	}

	exprs := make([]string, len(patterns))
	flags := make([]uint32, len(patterns))
	ids := make([]uint32, len(patterns))
	for i, p := range patterns {
		exprs[i] = p.Expression
		flags[i] = uint32(p.Flags)
		ids[i] = p.ID
	}

	var platPtr unsafe.Pointer
	if platform != nil {
		p, err := platform.res.borrow()
		if err != nil {
			return nil, err
		}
		platPtr = p
	}

	dbPtr, status, cerr := hs.CompileMulti(exprs, flags, ids, hs.ModeBlock, platPtr)
	runtime.KeepAlive(platform)

	if status == hs.ErrCompiler {
		if cerr == nil {
			// The engine signaled a compile failure without the diagnostic
			// object its contract promises.
			return nil, ErrUnknown
		}
		// The diagnostic is a native-owned object with its own lifetime:
		// copy out, then free, before anything can unwind.
		detail := &CompileError{
			Message:    hs.CompileErrorMessage(cerr),
			Expression: hs.CompileErrorExpression(cerr),
		}
		hs.FreeCompileError(cerr)
		if detail.Expression < 0 {
			detail.Expression = UnattributedExpression
		}
		return nil, detail
	}
	if err := translate(status); err != nil {
		return nil, err
	}
	return newDatabase(dbPtr), nil
}

// Info returns the database's self-description (engine version, mode,
// target platform).
func (db *Database) Info() (string, error) {
	ptr, err := db.res.borrow()
	if err != nil {
		return "", err
	}
	defer runtime.KeepAlive(db)
	info, status := hs.DatabaseInfo(ptr)
	if err := translate(status); err != nil {
		return "", err
	}
	return info, nil
}

// Size reports the database's in-memory footprint in bytes.
func (db *Database) Size() (int, error) {
	ptr, err := db.res.borrow()
	if err != nil {
		return 0, err
	}
	defer runtime.KeepAlive(db)
	sz, status := hs.DatabaseSize(ptr)
	if err := translate(status); err != nil {
		return 0, err
	}
	return sz, nil
}

// Serialize flattens the database into an opaque byte buffer suitable for
// Deserialize on a compatible platform. The format is not interpreted here.
func (db *Database) Serialize() ([]byte, error) {
	ptr, err := db.res.borrow()
	if err != nil {
		return nil, err
	}
	defer runtime.KeepAlive(db)
	data, status := hs.SerializeDatabase(ptr)
	if err := translate(status); err != nil {
		return nil, err
	}
	return data, nil
}

// Deserialize reconstructs a database from bytes produced by Serialize.
// Version or platform mismatches surface as ErrDBVersion / ErrDBPlatform.
func Deserialize(data []byte) (*Database, error) {
	if len(data) == 0 {
		return nil, ErrInvalid
	}
	ptr, status := hs.DeserializeDatabase(data)
	if err := translate(status); err != nil {
		return nil, err
	}
	return newDatabase(ptr), nil
}

// SerializedInfo returns the description string embedded in serialized
// database bytes without reconstructing the database.
func SerializedInfo(data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrInvalid
	}
	info, status := hs.SerializedDatabaseInfo(data)
	if err := translate(status); err != nil {
		return "", err
	}
	return info, nil
}

// Close releases the native database. Safe to call more than once; any
// Scratch sized for this database must be closed independently.
func (db *Database) Close() error {
	runtime.SetFinalizer(db, nil)
	db.res.close()
	return nil
}
