package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"
)

// Rule is one scan rule loaded from a JSON file in the rule directory.
type Rule struct {
	ID        string    `json:"id"`
	Pattern   string    `json:"pattern"`
	Flags     []string  `json:"flags,omitempty"` // caseless|dotall|multiline|utf8|ucp|som|single
	Severity  string    `json:"severity,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	Enabled   bool      `json:"enabled"`
	Version   int       `json:"version,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// RuleStore loads rules from a directory of JSON files (one rule per file)
// with an optional index.json manifest carrying an expected composite hash
// and a version label. Reads are lock-free via atomic snapshots.
type RuleStore struct {
	dir      string
	interval time.Duration
	cache    atomic.Value // []Rule
	lastHash atomic.Value // string
	version  atomic.Value // string
	lastLoad atomic.Int64 // unix nanos
}

type manifest struct {
	Version   string `json:"version"`
	CreatedAt string `json:"created_at"`
	Hash      string `json:"hash"`
}

// NewRuleStore builds a store over dir; interval throttles unchanged
// reloads.
func NewRuleStore(dir string, interval time.Duration) *RuleStore {
	rs := &RuleStore{dir: dir, interval: interval}
	rs.cache.Store([]Rule{})
	rs.lastHash.Store("")
	rs.version.Store("")
	return rs
}

// All returns the current rule snapshot.
func (s *RuleStore) All() []Rule { return s.cache.Load().([]Rule) }

// Version returns the manifest version, or a hash prefix when the manifest
// carries none.
func (s *RuleStore) Version() string { return s.version.Load().(string) }

// Hash returns the composite hash of the loaded rule files.
func (s *RuleStore) Hash() string { return s.lastHash.Load().(string) }

// Reload re-reads the rule directory. Unchanged content inside the throttle
// interval is a no-op. A manifest hash mismatch fails the reload and keeps
// the previous snapshot.
func (s *RuleStore) Reload() error {
	composite, err := s.compositeHash()
	if err != nil {
		return fmt.Errorf("hash rules dir: %w", err)
	}
	if composite == s.Hash() && time.Since(time.Unix(0, s.lastLoad.Load())) < s.interval {
		return nil
	}

	var man manifest
	if b, err := os.ReadFile(filepath.Join(s.dir, "index.json")); err == nil {
		if err := json.Unmarshal(b, &man); err != nil {
			slog.Warn("manifest parse failed", "error", err)
		} else if man.Hash != "" && man.Hash != composite {
			return fmt.Errorf("rule manifest hash mismatch expected=%s got=%s", man.Hash, composite)
		}
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}
	var rules []Rule
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") || e.Name() == "index.json" {
			continue
		}
		b, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			return err
		}
		var r Rule
		if err := json.Unmarshal(b, &r); err != nil {
			return fmt.Errorf("parse %s: %w", e.Name(), err)
		}
		if r.ID == "" {
			r.ID = strings.TrimSuffix(e.Name(), ".json")
		}
		if r.Enabled {
			rules = append(rules, r)
		}
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })

	s.cache.Store(rules)
	s.lastHash.Store(composite)
	s.lastLoad.Store(time.Now().UnixNano())
	ver := man.Version
	if ver == "" && len(composite) >= 12 {
		ver = composite[:12]
	}
	s.version.Store(ver)
	slog.Info("rules reloaded", "count", len(rules), "version", ver)
	return nil
}

// compositeHash folds every rule file's content (manifest excluded) into a
// deterministic digest.
func (s *RuleStore) compositeHash() (string, error) {
	var files []string
	err := filepath.Walk(s.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() && strings.HasSuffix(info.Name(), ".json") && info.Name() != "index.json" {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	sort.Strings(files)
	h := sha256.New()
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			return "", err
		}
		h.Write(b)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
