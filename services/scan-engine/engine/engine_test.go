package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func testRules() []Rule {
	return []Rule{
		{ID: "exfil-domain", Pattern: `evil[0-9]+\.example`, Flags: []string{"caseless"}, Severity: "high", Enabled: true},
		{ID: "beacon-path", Pattern: `/beacon\.(php|asp)`, Severity: "medium", Enabled: true},
		{ID: "magic-bytes", Pattern: `MZ`, Severity: "low", Enabled: true},
	}
}

func TestEngineScan(t *testing.T) {
	eng, err := Build(testRules(), "v1", "hash-1", nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer eng.Close()

	matches, err := eng.Scan(context.Background(), []byte("GET http://EVIL42.example/beacon.php"))
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2: %+v", len(matches), matches)
	}
	seen := map[string]bool{}
	for _, m := range matches {
		seen[m.RuleID] = true
		if m.Version != "v1" {
			t.Errorf("match carries version %q, want v1", m.Version)
		}
	}
	if !seen["exfil-domain"] || !seen["beacon-path"] {
		t.Errorf("wrong rules matched: %+v", matches)
	}
}

func TestEngineScanNoMatch(t *testing.T) {
	eng, err := Build(testRules(), "v1", "hash-1", nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer eng.Close()

	matches, err := eng.Scan(context.Background(), []byte("completely benign payload"))
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("unexpected matches: %+v", matches)
	}
}

func TestEngineScanAny(t *testing.T) {
	eng, err := Build(testRules(), "v1", "hash-1", nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer eng.Close()

	found, err := eng.ScanAny(context.Background(), []byte("MZ\x90\x00"))
	if err != nil {
		t.Fatalf("scan any: %v", err)
	}
	if !found {
		t.Fatal("expected a verdict hit")
	}
	found, err = eng.ScanAny(context.Background(), []byte("clean"))
	if err != nil {
		t.Fatalf("scan any: %v", err)
	}
	if found {
		t.Fatal("false verdict on clean payload")
	}
}

func TestEngineDropsInvalidRule(t *testing.T) {
	rules := append(testRules(), Rule{ID: "broken", Pattern: `(unbalanced`, Enabled: true})
	eng, err := Build(rules, "v2", "hash-2", nil)
	if err != nil {
		t.Fatalf("build should drop the broken rule, got %v", err)
	}
	defer eng.Close()

	if eng.RuleCount() != 3 {
		t.Fatalf("rule count = %d, want 3 after drop", eng.RuleCount())
	}
	// IDs must still map correctly after the drop.
	matches, err := eng.Scan(context.Background(), []byte("MZ header"))
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(matches) != 1 || matches[0].RuleID != "magic-bytes" {
		t.Fatalf("id remap broken: %+v", matches)
	}
}

func TestEngineConcurrentScans(t *testing.T) {
	eng, err := Build(testRules(), "v1", "hash-1", nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer eng.Close()

	done := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			for j := 0; j < 50; j++ {
				if _, err := eng.Scan(context.Background(), []byte("GET evil7.example HTTP/1.1")); err != nil {
					done <- err
					return
				}
			}
			done <- nil
		}()
	}
	for i := 0; i < 8; i++ {
		if err := <-done; err != nil {
			t.Fatalf("concurrent scan: %v", err)
		}
	}
}

func TestDBCacheRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dbcache.bolt")
	cache, err := OpenDBCache(path)
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	defer cache.Close()

	// Cold build populates the cache.
	eng, err := Build(testRules(), "v1", "hash-a", cache)
	if err != nil {
		t.Fatalf("cold build: %v", err)
	}
	eng.Close()

	data, ruleIDs, ok := cache.Get("hash-a")
	if !ok || len(data) == 0 {
		t.Fatal("cache not populated after cold build")
	}
	if len(ruleIDs) != 3 {
		t.Fatalf("cached rule ids = %v, want all 3", ruleIDs)
	}

	// Warm build restores from the cache and still scans correctly.
	warm, err := Build(testRules(), "v1", "hash-a", cache)
	if err != nil {
		t.Fatalf("warm build: %v", err)
	}
	defer warm.Close()
	matches, err := warm.Scan(context.Background(), []byte("evil1.example"))
	if err != nil {
		t.Fatalf("scan restored engine: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("restored engine matches = %+v", matches)
	}

	// A new hash evicts the old entry.
	if err := cache.Put("hash-b", data, ruleIDs); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, _, ok := cache.Get("hash-a"); ok {
		t.Fatal("stale cache entry survived")
	}
}

func TestDBCacheRestoreAfterDroppedRule(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dbcache.bolt")
	cache, err := OpenDBCache(path)
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	defer cache.Close()

	// The broken rule sits between two good ones, so pattern ids in the
	// compiled database shift relative to the rule files.
	rules := []Rule{
		{ID: "exfil-domain", Pattern: `evil[0-9]+\.example`, Severity: "high", Enabled: true},
		{ID: "broken", Pattern: `(unbalanced`, Enabled: true},
		{ID: "magic-bytes", Pattern: `MZ`, Severity: "low", Enabled: true},
	}
	cold, err := Build(rules, "v1", "hash-drop", cache)
	if err != nil {
		t.Fatalf("cold build: %v", err)
	}
	cold.Close()

	if _, ruleIDs, ok := cache.Get("hash-drop"); !ok || len(ruleIDs) != 2 {
		t.Fatalf("cached rule ids = %v, want the 2 kept rules", ruleIDs)
	}

	// The warm build restores from the cache and must attribute matches to
	// the rules the database was compiled from, not the full file set.
	warm, err := Build(rules, "v1", "hash-drop", cache)
	if err != nil {
		t.Fatalf("warm build: %v", err)
	}
	defer warm.Close()
	if warm.RuleCount() != 2 {
		t.Fatalf("restored rule count = %d, want 2", warm.RuleCount())
	}
	matches, err := warm.Scan(context.Background(), []byte("MZ header"))
	if err != nil {
		t.Fatalf("scan restored engine: %v", err)
	}
	if len(matches) != 1 || matches[0].RuleID != "magic-bytes" || matches[0].Severity != "low" {
		t.Fatalf("restored engine misattributed match: %+v", matches)
	}
}

func TestSelectByID(t *testing.T) {
	rules := testRules()
	kept, ok := selectByID(rules, []string{"magic-bytes", "exfil-domain"})
	if !ok || len(kept) != 2 || kept[0].ID != "magic-bytes" || kept[1].ID != "exfil-domain" {
		t.Fatalf("selectByID = %+v ok=%v", kept, ok)
	}
	if _, ok := selectByID(rules, []string{"exfil-domain", "deleted-rule"}); ok {
		t.Fatal("unknown id must force a recompile")
	}
}

func TestDedup(t *testing.T) {
	d := NewDedup(2, time.Minute)
	payload := []byte("payload-one")
	if _, ok := d.Lookup(payload); ok {
		t.Fatal("unexpected hit on empty cache")
	}
	d.Store(payload, []Match{{RuleID: "r1"}})
	got, ok := d.Lookup(payload)
	if !ok || len(got) != 1 || got[0].RuleID != "r1" {
		t.Fatalf("lookup = %+v ok=%v", got, ok)
	}

	// Capacity eviction drops the least recently used entry.
	d.Store([]byte("payload-two"), nil)
	d.Store([]byte("payload-three"), nil)
	if _, ok := d.Lookup(payload); ok {
		t.Fatal("LRU eviction did not drop the oldest entry")
	}
	if d.Len() != 2 {
		t.Fatalf("len = %d, want 2", d.Len())
	}
}

func TestDedupFlush(t *testing.T) {
	d := NewDedup(8, time.Minute)
	d.Store([]byte("a"), []Match{{RuleID: "r1", Version: "v1"}})
	d.Store([]byte("b"), nil)

	d.Flush()
	if d.Len() != 0 {
		t.Fatalf("len after flush = %d, want 0", d.Len())
	}
	if _, ok := d.Lookup([]byte("a")); ok {
		t.Fatal("verdict survived flush")
	}

	// The cache keeps working after a flush.
	d.Store([]byte("a"), []Match{{RuleID: "r1", Version: "v2"}})
	got, ok := d.Lookup([]byte("a"))
	if !ok || len(got) != 1 || got[0].Version != "v2" {
		t.Fatalf("lookup after flush = %+v ok=%v", got, ok)
	}
}

func TestDedupTTL(t *testing.T) {
	d := NewDedup(8, 10*time.Millisecond)
	d.Store([]byte("x"), []Match{{RuleID: "r"}})
	time.Sleep(20 * time.Millisecond)
	if _, ok := d.Lookup([]byte("x")); ok {
		t.Fatal("expired entry returned")
	}
}
