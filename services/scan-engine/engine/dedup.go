package engine

import (
	"container/list"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"
)

// Dedup short-circuits repeat scans of identical payloads. Payloads are
// fingerprinted with murmur3 (collisions only cost a wrong cache hit on the
// verdict, never a crash, and at 64 bits are vanishingly rare at our
// volumes); verdicts age out after ttl and the table is capped LRU-style.
type Dedup struct {
	mu      sync.Mutex
	entries map[uint64]*list.Element
	order   *list.List // front = most recent
	cap     int
	ttl     time.Duration
}

type dedupEntry struct {
	fp      uint64
	matches []Match
	at      time.Time
}

// NewDedup builds a verdict cache holding up to capacity fingerprints for
// ttl each.
func NewDedup(capacity int, ttl time.Duration) *Dedup {
	return &Dedup{
		entries: make(map[uint64]*list.Element, capacity),
		order:   list.New(),
		cap:     capacity,
		ttl:     ttl,
	}
}

// Lookup returns a cached verdict for the payload, if a fresh one exists.
func (d *Dedup) Lookup(payload []byte) ([]Match, bool) {
	fp := murmur3.Sum64(payload)
	d.mu.Lock()
	defer d.mu.Unlock()

	el, ok := d.entries[fp]
	if !ok {
		return nil, false
	}
	e := el.Value.(*dedupEntry)
	if time.Since(e.at) > d.ttl {
		d.order.Remove(el)
		delete(d.entries, fp)
		return nil, false
	}
	d.order.MoveToFront(el)
	return e.matches, true
}

// Store records the verdict for a payload, evicting the oldest entry when
// full.
func (d *Dedup) Store(payload []byte, matches []Match) {
	fp := murmur3.Sum64(payload)
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.entries[fp]; ok {
		el.Value.(*dedupEntry).matches = matches
		el.Value.(*dedupEntry).at = time.Now()
		d.order.MoveToFront(el)
		return
	}
	if d.order.Len() >= d.cap {
		oldest := d.order.Back()
		if oldest != nil {
			d.order.Remove(oldest)
			delete(d.entries, oldest.Value.(*dedupEntry).fp)
		}
	}
	d.entries[fp] = d.order.PushFront(&dedupEntry{fp: fp, matches: matches, at: time.Now()})
}

// Flush drops every cached verdict. Called on engine hot swap so verdicts
// produced by the replaced ruleset stop being served.
func (d *Dedup) Flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = make(map[uint64]*list.Element, d.cap)
	d.order.Init()
}

// Len reports the current number of cached verdicts.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.order.Len()
}
