package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/swarmguard/hyperscan"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Match is one detection reported by a scan.
type Match struct {
	RuleID   string   `json:"rule_id"`
	From     uint64   `json:"from"`
	To       uint64   `json:"to"`
	Severity string   `json:"severity,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Version  string   `json:"ruleset_version,omitempty"`
}

// Engine holds one immutable compiled database plus a pool of scratch
// spaces. The database is shared read-only across concurrent scans; each
// in-flight scan checks out its own scratch, honoring the engine's
// single-use scratch constraint.
type Engine struct {
	db      *hyperscan.Database
	proto   *hyperscan.Scratch
	pool    sync.Pool
	rules   []Rule // pattern id = index into this slice
	version string

	scratchClones metric.Int64Counter
}

// Build compiles rules into an Engine. A rule whose pattern the compiler
// rejects is logged and dropped, and compilation is retried without it;
// a second failure aborts. When cache is non-nil the compiled database is
// restored from / stored to it keyed by rulesetHash.
func Build(rules []Rule, version, rulesetHash string, cache *DBCache) (*Engine, error) {
	if len(rules) == 0 {
		return nil, errors.New("no enabled rules")
	}

	var db *hyperscan.Database
	if cache != nil {
		if data, ruleIDs, ok := cache.Get(rulesetHash); ok {
			// Pattern ids in the cached database index the rule list it was
			// compiled from, which may be narrower than the rule files if the
			// compiler dropped a rule. Rebuild that exact list; any ID we no
			// longer know forces a fresh compile.
			if kept, ok := selectByID(rules, ruleIDs); !ok {
				slog.Warn("cached rule ids do not match ruleset, recompiling")
			} else if restored, err := hyperscan.Deserialize(data); err != nil {
				// Cached bytes from another engine version or platform are
				// expected after upgrades; fall through to a fresh compile.
				slog.Warn("cached database rejected", "error", err)
			} else {
				db = restored
				rules = kept
			}
		}
	}

	if db == nil {
		compiled, kept, err := compileDropInvalid(rules)
		if err != nil {
			return nil, err
		}
		db = compiled
		rules = kept
		if cache != nil {
			ruleIDs := make([]string, len(rules))
			for i, r := range rules {
				ruleIDs[i] = r.ID
			}
			if data, err := db.Serialize(); err != nil {
				slog.Warn("database serialize failed", "error", err)
			} else if err := cache.Put(rulesetHash, data, ruleIDs); err != nil {
				slog.Warn("database cache write failed", "error", err)
			}
		}
	}

	proto, err := hyperscan.NewScratch(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("alloc scratch: %w", err)
	}

	clones, _ := otel.Meter("swarm-go").Int64Counter("swarm_scan_scratch_clones_total")
	e := &Engine{db: db, proto: proto, rules: rules, version: version, scratchClones: clones}
	e.pool.New = func() any {
		s, err := e.proto.Clone()
		if err != nil {
			slog.Error("scratch clone failed", "error", err)
			return nil
		}
		e.scratchClones.Add(context.Background(), 1)
		return s
	}
	return e, nil
}

// selectByID narrows rules to ids, preserving id order. Reports false when
// any id is absent from rules.
func selectByID(rules []Rule, ids []string) ([]Rule, bool) {
	byID := make(map[string]Rule, len(rules))
	for _, r := range rules {
		byID[r.ID] = r
	}
	kept := make([]Rule, len(ids))
	for i, id := range ids {
		r, ok := byID[id]
		if !ok {
			return nil, false
		}
		kept[i] = r
	}
	return kept, true
}

func compileDropInvalid(rules []Rule) (*hyperscan.Database, []Rule, error) {
	for retry := 0; ; retry++ {
		patterns := make([]hyperscan.Pattern, len(rules))
		for i, r := range rules {
			patterns[i] = hyperscan.Pattern{
				Expression: r.Pattern,
				Flags:      parseFlags(r.Flags),
				ID:         uint32(i),
			}
		}
		db, err := hyperscan.CompileMulti(patterns, nil)
		if err == nil {
			return db, rules, nil
		}
		var ce *hyperscan.CompileError
		if retry > 0 || !errors.As(err, &ce) || ce.Expression == hyperscan.UnattributedExpression {
			return nil, nil, fmt.Errorf("compile ruleset: %w", err)
		}
		bad := rules[ce.Expression]
		slog.Error("rule rejected by compiler, dropping",
			"rule", bad.ID, "pattern", bad.Pattern, "message", ce.Message)
		rules = append(rules[:ce.Expression:ce.Expression], rules[ce.Expression+1:]...)
		if len(rules) == 0 {
			return nil, nil, errors.New("all rules rejected by compiler")
		}
	}
}

func parseFlags(flags []string) hyperscan.CompileFlag {
	var f hyperscan.CompileFlag
	for _, name := range flags {
		switch strings.ToLower(name) {
		case "caseless":
			f |= hyperscan.Caseless
		case "dotall":
			f |= hyperscan.DotAll
		case "multiline":
			f |= hyperscan.MultiLine
		case "utf8":
			f |= hyperscan.UTF8
		case "ucp":
			f |= hyperscan.UCP
		case "som":
			f |= hyperscan.SOMLeftmost
		case "single":
			f |= hyperscan.SingleMatch
		default:
			slog.Warn("unknown rule flag ignored", "flag", name)
		}
	}
	return f
}

// Version returns the ruleset version the engine was built from.
func (e *Engine) Version() string { return e.version }

// RuleCount returns the number of compiled rules.
func (e *Engine) RuleCount() int { return len(e.rules) }

// DatabaseSize reports the compiled database footprint in bytes.
func (e *Engine) DatabaseSize() int {
	sz, err := e.db.Size()
	if err != nil {
		return 0
	}
	return sz
}

func (e *Engine) checkout() (*hyperscan.Scratch, error) {
	if s, ok := e.pool.Get().(*hyperscan.Scratch); ok && s != nil {
		return s, nil
	}
	return hyperscan.NewScratch(e.db)
}

// Scan runs data through the database and returns every match.
func (e *Engine) Scan(ctx context.Context, data []byte) ([]Match, error) {
	scratch, err := e.checkout()
	if err != nil {
		return nil, fmt.Errorf("scratch: %w", err)
	}
	defer e.pool.Put(scratch)

	var matches []Match
	err = e.db.Scan(data, scratch, func(id uint32, from, to uint64) bool {
		if int(id) < len(e.rules) {
			r := e.rules[id]
			matches = append(matches, Match{
				RuleID:   r.ID,
				From:     from,
				To:       to,
				Severity: r.Severity,
				Tags:     r.Tags,
				Version:  e.version,
			})
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	return matches, nil
}

// ScanAny reports whether data matches at all, stopping at the first match.
// The engine's early-termination status is the expected outcome here, not a
// failure.
func (e *Engine) ScanAny(ctx context.Context, data []byte) (bool, error) {
	scratch, err := e.checkout()
	if err != nil {
		return false, fmt.Errorf("scratch: %w", err)
	}
	defer e.pool.Put(scratch)

	found := false
	err = e.db.Scan(data, scratch, func(uint32, uint64, uint64) bool {
		found = true
		return false
	})
	if err != nil && !errors.Is(err, hyperscan.ErrScanTerminated) {
		return false, fmt.Errorf("scan: %w", err)
	}
	return found, nil
}

// Close releases the database and every pooled scratch. Callers must ensure
// no scan is in flight.
func (e *Engine) Close() error {
	e.pool.New = nil
	for {
		s, ok := e.pool.Get().(*hyperscan.Scratch)
		if !ok || s == nil {
			break
		}
		s.Close()
	}
	e.proto.Close()
	return e.db.Close()
}
