package engine

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var (
	bucketDatabases = []byte("databases")
	bucketRulesets  = []byte("rulesets")
)

// DBCache persists serialized pattern databases in a bbolt file keyed by
// ruleset hash, so a restart with an unchanged ruleset skips recompilation.
// Each database is stored together with the ordered IDs of the rules it was
// compiled from: the compiler may have dropped rules from the source set, so
// pattern ids in the restored database index the stored list, not the rule
// files. The serialized bytes are opaque; version or platform mismatches
// surface when the bytes are deserialized, and the caller recompiles.
type DBCache struct {
	db *bbolt.DB
}

// OpenDBCache opens (or creates) the cache file.
func OpenDBCache(path string) (*DBCache, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open db cache: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketDatabases); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketRulesets)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create cache bucket: %w", err)
	}
	return &DBCache{db: db}, nil
}

// Get returns the serialized database for a ruleset hash plus the ordered
// rule IDs it was compiled from. An entry missing its rule ID list (from an
// older cache file) is a miss.
func (c *DBCache) Get(hash string) ([]byte, []string, bool) {
	var data []byte
	var ruleIDs []string
	_ = c.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketDatabases).Get([]byte(hash))
		ids := tx.Bucket(bucketRulesets).Get([]byte(hash))
		if v == nil || ids == nil {
			return nil
		}
		if json.Unmarshal(ids, &ruleIDs) != nil {
			return nil
		}
		data = append([]byte(nil), v...)
		return nil
	})
	return data, ruleIDs, data != nil
}

// Put stores the serialized database and its compiled rule IDs for a
// ruleset hash, dropping every older entry: only the active ruleset's
// database is worth keeping.
func (c *DBCache) Put(hash string, data []byte, ruleIDs []string) error {
	ids, err := json.Marshal(ruleIDs)
	if err != nil {
		return err
	}
	return c.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketDatabases, bucketRulesets} {
			cur := tx.Bucket(name).Cursor()
			for k, _ := cur.First(); k != nil; k, _ = cur.Next() {
				if string(k) != hash {
					if err := cur.Delete(); err != nil {
						return err
					}
				}
			}
		}
		if err := tx.Bucket(bucketDatabases).Put([]byte(hash), data); err != nil {
			return err
		}
		return tx.Bucket(bucketRulesets).Put([]byte(hash), ids)
	})
}

// Close closes the underlying bolt file.
func (c *DBCache) Close() error { return c.db.Close() }
