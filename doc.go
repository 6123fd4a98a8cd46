// Package hyperscan is a memory-safe wrapper around the Hyperscan
// high-performance regular expression engine.
//
// Every opaque native object (platform descriptor, compiled database,
// scratch space) is held by exactly one Go owner that releases it exactly
// once, and every native status code is converted into a typed error before
// anything else happens. The raw C ABI lives in internal/hs; nothing outside
// that package touches a status code or an unmanaged pointer.
//
// Typical use:
//
//	db, err := hyperscan.CompileMulti([]hyperscan.Pattern{
//	    {Expression: `evil[0-9]+`, Flags: hyperscan.Caseless, ID: 1},
//	    {Expression: `beacon\.(php|asp)`, ID: 2},
//	}, nil)
//	if err != nil {
//	    var ce *hyperscan.CompileError
//	    if errors.As(err, &ce) {
//	        log.Fatalf("pattern %d rejected: %s", ce.Expression, ce.Message)
//	    }
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	scratch, err := hyperscan.NewScratch(db)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer scratch.Close()
//
//	err = db.Scan(payload, scratch, func(id uint32, from, to uint64) bool {
//	    fmt.Printf("pattern %d matched at %d\n", id, to)
//	    return true
//	})
//
// A Database is immutable after compilation and safe for concurrent scans;
// a Scratch is not, so concurrent scanners each need their own (Clone is
// cheap). Requires the libhs C library; point pkg-config at a non-standard
// install via PKG_CONFIG_PATH or set CGO_CFLAGS/CGO_LDFLAGS directly.
package hyperscan
