package engine

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeRule(t *testing.T, dir string, r Rule) {
	t.Helper()
	b, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, r.ID+".json"), b, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRuleStoreReload(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, Rule{ID: "a", Pattern: "foo", Enabled: true})
	writeRule(t, dir, Rule{ID: "b", Pattern: "bar", Enabled: true})
	writeRule(t, dir, Rule{ID: "c", Pattern: "baz", Enabled: false})

	store := NewRuleStore(dir, time.Millisecond)
	if err := store.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	rules := store.All()
	if len(rules) != 2 {
		t.Fatalf("got %d rules, want 2 enabled", len(rules))
	}
	if rules[0].ID != "a" || rules[1].ID != "b" {
		t.Fatalf("rules not sorted by id: %+v", rules)
	}
	if store.Hash() == "" || store.Version() == "" {
		t.Fatal("hash/version not populated")
	}
}

func TestRuleStoreHashChangesOnEdit(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, Rule{ID: "a", Pattern: "foo", Enabled: true})
	store := NewRuleStore(dir, time.Millisecond)
	if err := store.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	first := store.Hash()

	time.Sleep(5 * time.Millisecond)
	writeRule(t, dir, Rule{ID: "a", Pattern: "changed", Enabled: true})
	if err := store.Reload(); err != nil {
		t.Fatalf("reload after edit: %v", err)
	}
	if store.Hash() == first {
		t.Fatal("hash unchanged after rule edit")
	}
	if store.All()[0].Pattern != "changed" {
		t.Fatal("edited rule not picked up")
	}
}

func TestRuleStoreManifestMismatch(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, Rule{ID: "a", Pattern: "foo", Enabled: true})
	man := map[string]string{"version": "2024.1", "hash": "deadbeef"}
	b, _ := json.Marshal(man)
	if err := os.WriteFile(filepath.Join(dir, "index.json"), b, 0o644); err != nil {
		t.Fatal(err)
	}

	store := NewRuleStore(dir, time.Millisecond)
	if err := store.Reload(); err == nil {
		t.Fatal("manifest hash mismatch should fail the reload")
	}
	if len(store.All()) != 0 {
		t.Fatal("failed reload must not publish a snapshot")
	}
}

func TestRuleStoreManifestVersion(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, Rule{ID: "a", Pattern: "foo", Enabled: true})
	store := NewRuleStore(dir, time.Millisecond)
	if err := store.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	hash := store.Hash()

	man := map[string]string{"version": "2024.2", "hash": hash}
	b, _ := json.Marshal(man)
	if err := os.WriteFile(filepath.Join(dir, "index.json"), b, 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)
	if err := store.Reload(); err != nil {
		t.Fatalf("reload with manifest: %v", err)
	}
	if store.Version() != "2024.2" {
		t.Fatalf("version = %q, want manifest version", store.Version())
	}
}
