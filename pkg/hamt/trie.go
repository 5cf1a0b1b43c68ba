// Package hamt implements a concurrent, cache-conscious Hash Array Mapped
// Trie: a lock-free map from hashable keys to values that supports
// Insert and Lookup from any number of goroutines without taking a lock
// in the hot path.
//
// The trie descends a tree of array nodes, consuming 4 bits of the key's
// hash per level; a 4-wide array node promotes itself to 16-wide under
// contention via a cooperative freeze/copy protocol (see expand.go), and
// an adaptive, self-sizing cache (see cache.go) lets frequently-read keys
// resolve in one or two indirections instead of a full root descent.
//
// There is no delete, no iteration, and no reclamation of superseded
// nodes: every node allocated over the life of a Trie stays reachable
// through the arena that backs it, even after the trie's visible
// structure has moved past it. This is what makes the lock-free protocol
// possible in a language without hazard pointers or epoch reclamation.
package hamt

import (
	"sync/atomic"

	"github.com/flier/cchamt/internal/debug"
	"github.com/flier/cchamt/pkg/arena"
	"github.com/flier/cchamt/pkg/opt"
)

const (
	defaultMissThreshold  = 2048
	defaultHistogramRatio = 1.5
)

// Trie is a concurrent hash array mapped trie from K to V.
//
// The zero Trie is not usable; construct one with [New]. A *Trie is safe
// for concurrent Insert and Lookup calls from any number of goroutines.
type Trie[K comparable, V any] struct {
	root   *arrayNode[K, V]
	arena  arena.Allocator
	hasher Hasher[K]

	cache           atomic.Pointer[cacheLevel[K, V]]
	bootstrapMisses atomic.Uint32
	missThreshold   uint32
	histogramRatio  float64
}

// Option configures a [Trie] at construction time. None of these affect
// correctness (spec §9 names them all as non-load-bearing tunables);
// they trade cache memory and adaptation latency against lookup speed
// under skewed access patterns.
type Option[K comparable, V any] func(*Trie[K, V])

// WithArena overrides the node allocator. The default is a fresh
// [arena.Arena].
func WithArena[K comparable, V any](a arena.Allocator) Option[K, V] {
	return func(t *Trie[K, V]) { t.arena = a }
}

// WithHasher overrides the hash function. The default hashes K with
// github.com/dolthub/maphash's generic, seeded hasher.
func WithHasher[K comparable, V any](h Hasher[K]) Option[K, V] {
	return func(t *Trie[K, V]) { t.hasher = h }
}

// WithMissThreshold overrides the per-counter miss threshold (spec §4.5,
// "2048") that triggers a SampleAndAdjust pass.
func WithMissThreshold[K comparable, V any](n uint32) Option[K, V] {
	return func(t *Trie[K, V]) { t.missThreshold = n }
}

// WithHistogramRatio overrides the histogram ratio (spec §4.5, "1.5x")
// a candidate cache level's SNode count must exceed before the cache is
// re-leveled.
func WithHistogramRatio[K comparable, V any](r float64) Option[K, V] {
	return func(t *Trie[K, V]) { t.histogramRatio = r }
}

// New builds an empty trie: a fresh wide (16-slot) root array node and
// no cache.
func New[K comparable, V any](opts ...Option[K, V]) *Trie[K, V] {
	t := &Trie[K, V]{
		missThreshold:  defaultMissThreshold,
		histogramRatio: defaultHistogramRatio,
	}

	for _, apply := range opts {
		apply(t)
	}

	if t.arena == nil {
		t.arena = &arena.Arena{}
	}
	if t.hasher == nil {
		t.hasher = newDefaultHasher[K]()
	}

	t.root = allocArray[K, V](t.arena, wideWidth)

	return t
}

// Insert installs key/value, returning only once the entry is durably
// installed. Every soft-fail from the recursive descent (a frozen slot or
// a frozen data node) restarts a fresh descent from the root; a lost CAS
// is retried at the same array node without a soft-fail.
func (t *Trie[K, V]) Insert(key K, value V) {
	hash := t.hasher.Hash(key)

	for !t.insertAt(t.root, nil, key, value, hash, 0) {
	}

	debug.Log(nil, "hamt.insert", "key=%v hash=%#x", key, hash)
}

// Lookup returns the value stored for key, or None if key was never
// inserted (or has not yet become visible to this call).
func (t *Trie[K, V]) Lookup(key K) opt.Option[V] {
	hash := t.hasher.Hash(key)

	return t.lookup(key, hash)
}

// insertAt implements the recursive descent/CAS/help protocol of spec
// §4.3 over array node cur, with prev the array node one level up (nil
// when cur is the root, or the fresh wide node that copyInto fills).
func (t *Trie[K, V]) insertAt(cur, prev *arrayNode[K, V], key K, value V, hash uint64, level int) bool {
	pos := int(hash>>level) & (len(cur.slots) - 1)
	slot := &cur.slots[pos]
	ref := slot.Load()

	switch ref.Kind() {
	case kindNone:
		newRef := refPtr[K, V](kindData, allocData[K, V](t.arena, hash, key, value))
		if slot.CAS(ref, newRef) {
			return true
		}

		return t.insertAt(cur, prev, key, value, hash, level)

	case kindArray:
		return t.insertAt(ref.AsArray(), cur, key, value, hash, level+narrowBits)

	case kindData:
		return t.insertIntoData(cur, prev, slot, ref, key, value, hash, level)

	case kindExpand:
		// Another insert's promotion is in flight at this slot: help it
		// to completion, then re-examine the same slot.
		t.completeExpansion(ref.AsExpand())

		return t.insertAt(cur, prev, key, value, hash, level)

	case kindFrozenEmpty, kindFrozenNode:
		// This array node is being (or has been) frozen out from under
		// us. Soft-fail: the caller restarts from the root.
		return false

	default:
		debug.Assert(false, "hamt: insert found array slot of unexpected kind %v", ref.Kind())

		return false
	}
}

// insertIntoData handles cur[pos] already holding a data node, the
// three-way branch of spec §4.3: overwrite, collision-array creation, or
// narrow-to-wide expansion.
func (t *Trie[K, V]) insertIntoData(cur, prev *arrayNode[K, V], slot *Slot[K, V], ref Ref[K, V], key K, value V, hash uint64, level int) bool {
	sn := ref.AsData()
	txnRef := sn.txn.Load()

	switch txnRef.Kind() {
	case kindNoTxn:
		if sn.key == key {
			newRef := refPtr[K, V](kindData, allocData[K, V](t.arena, hash, key, value))
			if sn.txn.CAS(txnRef, newRef) {
				slot.CAS(ref, newRef) // best-effort republish; txn already committed
				return true
			}

			return t.insertAt(cur, prev, key, value, hash, level)
		}

		if len(cur.slots) == wideWidth {
			an := createCollisionArray[K, V](t.arena, sn.hash, sn.key, sn.value, hash, key, value, level+narrowBits)
			newRef := refPtr[K, V](kindArray, an)

			if sn.txn.CAS(txnRef, newRef) {
				slot.CAS(ref, newRef)
				return true
			}

			return t.insertAt(cur, prev, key, value, hash, level)
		}

		// cur is narrow and this slot already holds a different key:
		// grow it to wide via the expansion
		// protocol (spec §4.4), then restart the insert at the fresh
		// wide node, preserving this thread's forward progress.
		debug.Assert(prev != nil, "hamt: narrow array node has no parent to expand through")

		parentPos := int(hash>>(level-narrowBits)) & (len(prev.slots) - 1)
		en := allocExpand[K, V](t.arena, prev, parentPos, cur, hash, level)
		enRef := refPtr[K, V](kindExpand, en)
		curRef := refPtr[K, V](kindArray, cur)

		if prev.slots[parentPos].CAS(curRef, enRef) {
			wide := t.completeExpansion(en)

			return t.insertAt(wide, prev, key, value, hash, level)
		}

		return t.insertAt(cur, prev, key, value, hash, level)

	case kindFrozenData:
		return false

	default:
		// txnRef is an installed replacement (a new S or a collision A):
		// help publish it into the slot, then retry.
		slot.CAS(ref, txnRef)

		return t.insertAt(cur, prev, key, value, hash, level)
	}
}
