package hamt

import (
	"runtime"
	"sync/atomic"

	"github.com/timandy/routine"

	"github.com/flier/cchamt/internal/debug"
	"github.com/flier/cchamt/pkg/opt"
)

// cacheMissFactor is the per-CPU multiplier used to size a cache level's
// miss-counter vector (spec §9: "sized at least to the number of
// hardware threads to limit false sharing").
const cacheMissFactor = 4

// maxCacheLevel bounds how many hash bits a cache level may ever index
// by (2^maxCacheLevel atomic slots). Spec §9 leaves the growth formula's
// constants as non-load-bearing tunables; this cap exists only to keep a
// pathologically deep histogram from demanding a terabyte-sized table.
const maxCacheLevel = 24

// cacheLevel is a single rung of the adaptive cache (spec §4.5): a flat,
// power-of-two-sized side table of atomic node pointers indexed by a
// prefix of the hash, plus a vector of miss counters and a link to the
// level it superseded.
type cacheLevel[K comparable, V any] struct {
	parent atomic.Pointer[cacheLevel[K, V]]
	level  int
	nodes  []Slot[K, V]
	misses []atomic.Uint32
}

func newCacheLevel[K comparable, V any](level int, missFactor float64, ncpu int) *cacheLevel[K, V] {
	width := 1 << level
	misses := max(1, int(missFactor*float64(ncpu)))

	return &cacheLevel[K, V]{
		level:  level,
		nodes:  make([]Slot[K, V], width),
		misses: make([]atomic.Uint32, misses),
	}
}

// lookup is the trie's fast-path entry point (spec §4.5 "Fast lookup"):
// walk the cache-level chain from head to root looking for a direct hit,
// and fall back to a full, cache-hinted root descent otherwise.
func (t *Trie[K, V]) lookup(key K, hash uint64) opt.Option[V] {
	head := t.cache.Load()
	if head == nil {
		v, ok := t.lookupRoot(t.root, key, hash, 0, nil)

		return wrapOption(v, ok)
	}

	for cl := head; cl != nil; cl = cl.parent.Load() {
		pos := int(hash) & (len(cl.nodes) - 1)
		ref := cl.nodes[pos].Load()

		switch ref.Kind() {
		case kindData:
			sn := ref.AsData()
			if sn.txn.Load().Kind() != kindNoTxn {
				continue // superseded or frozen since this entry was cached
			}
			if sn.key == key {
				return opt.Some(sn.value)
			}

			// The cached S belongs to a different key that happens to
			// share this cache level's index bits (inhabit is keyed by
			// hash prefix, not by key). That is an inconsistency, not a
			// negative answer: degrade to a full, hinted root descent
			// rather than reporting the key absent.
			v, ok := t.lookupRoot(t.root, key, hash, 0, cl)

			return wrapOption(v, ok)

		case kindArray:
			an := ref.AsArray()
			cpos := int(hash>>cl.level) & (len(an.slots) - 1)
			child := an.slots[cpos].Load()

			if child.Kind() == kindData && child.AsData().txn.Load().Kind() == kindFrozenData {
				continue // stale: re-try the parent cache level
			}

			v, ok := t.lookupRoot(t.root, key, hash, 0, cl)

			return wrapOption(v, ok)

		default:
			// null or a kind that can't legally sit in a cache slot: fall
			// through to the parent cache level.
		}
	}

	v, ok := t.lookupRoot(t.root, key, hash, 0, head)

	return wrapOption(v, ok)
}

// lookupRoot is the ordinary, always-correct root descent (spec §4.5
// "Root lookup"), optionally informed by hint: a specific cache level to
// inhabit and to record misses against as the hinted window [L, L+4].
func (t *Trie[K, V]) lookupRoot(cur *arrayNode[K, V], key K, hash uint64, level int, hint *cacheLevel[K, V]) (V, bool) {
	if hint != nil && level == hint.level {
		t.inhabit(hint, refPtr[K, V](kindArray, cur), hash, level)
	}

	pos := int(hash>>level) & (len(cur.slots) - 1)
	ref := cur.slots[pos].Load()

	switch ref.Kind() {
	case kindNone, kindFrozenEmpty:
		var zero V

		return zero, false

	case kindArray:
		return t.lookupRoot(ref.AsArray(), key, hash, level+narrowBits, hint)

	case kindFrozenNode:
		return t.lookupRoot(ref.AsFrozenArray(), key, hash, level+narrowBits, hint)

	case kindExpand:
		return t.lookupRoot(ref.AsExpand().narrow, key, hash, level+narrowBits, hint)

	case kindData:
		sn := ref.AsData()

		if hint != nil {
			if level < hint.level || level > hint.level+narrowBits {
				t.recordMiss()
			}
			if level+narrowBits == hint.level {
				t.inhabit(hint, ref, hash, level+narrowBits)
			}
		} else {
			t.recordMiss()
		}

		if sn.key == key {
			return sn.value, true
		}

		var zero V

		return zero, false

	default:
		debug.Assert(false, "hamt: lookup found array slot of unexpected kind %v", ref.Kind())

		var zero V

		return zero, false
	}
}

// inhabit writes the node reached at level into cache's slot for hash.
// Writes are benign races: readers re-validate whatever they find
// against the variant checks in lookupRoot and lookup before trusting it.
func (t *Trie[K, V]) inhabit(cache *cacheLevel[K, V], ref Ref[K, V], hash uint64, level int) {
	pos := int(hash) & (len(cache.nodes) - 1)
	cache.nodes[pos].Store(ref)

	debug.Log(nil, "hamt.inhabit", "level=%d pos=%d kind=%v", level, pos, ref.Kind())
}

// recordMiss accounts a lookup that landed outside its cache level's
// hinted window. With no cache installed yet, a trie-wide counter plays
// the same role so the very first cache level can be bootstrapped by the
// same miss-driven mechanism that re-levels an existing one (spec §4.5
// describes re-leveling but is silent on how the first level comes to
// exist; bootstrapping it through the same path keeps there being only
// one re-leveling mechanism instead of two).
func (t *Trie[K, V]) recordMiss() {
	head := t.cache.Load()
	if head == nil {
		if t.bootstrapMisses.Add(1) > t.missThreshold {
			t.bootstrapMisses.Store(0)
			t.sampleAndAdjust(nil)
		}

		return
	}

	idx := int(uint64(routine.Goid()) % uint64(len(head.misses)))

	if head.misses[idx].Add(1) > t.missThreshold {
		head.misses[idx].Store(0)
		t.sampleAndAdjust(head)
	}
}

// sampleAndAdjust samples the trie for the trie depth holding the most
// data nodes and, if it beats the current cache level's depth by more
// than histogramRatio, installs a new cache level at that depth (spec
// §4.5 "SampleAndAdjust").
func (t *Trie[K, V]) sampleAndAdjust(current *cacheLevel[K, V]) {
	hist := t.sampleSNodeDepths()
	if len(hist) == 0 {
		return
	}

	best := 0
	for i, count := range hist {
		if count > hist[best] {
			best = i
		}
	}

	var prevCount uint32
	if current != nil {
		prevDepth := current.level / narrowBits
		if prevDepth < len(hist) {
			prevCount = hist[prevDepth]
		}
	}

	if float64(hist[best]) > float64(prevCount)*t.histogramRatio {
		t.adjustLevel(best * narrowBits)
	}
}

// adjustLevel installs a fresh cache level of the given bit-width as the
// new head, chaining the superseded head as its parent. Installation is
// a single CAS; a losing caller's allocation is simply discarded.
func (t *Trie[K, V]) adjustLevel(level int) {
	if level <= 0 {
		return
	}
	if level > maxCacheLevel {
		level = maxCacheLevel
	}

	old := t.cache.Load()
	next := newCacheLevel[K, V](level, cacheMissFactor, max(1, runtime.NumCPU()))
	next.parent.Store(old)

	t.cache.CompareAndSwap(old, next)
}

// sampleSNodeDepths walks the whole trie from the root, returning a
// histogram of how many data nodes are reachable at each depth (spec
// §4.5 "_fill_hist"/"_sample_snodes_levels"). Depth counts array-node
// hops, not hash bits; a cache level's bit-width divides by narrowBits
// to compare against this histogram's indices.
func (t *Trie[K, V]) sampleSNodeDepths() []uint32 {
	var hist []uint32

	t.fillDepthHistogram(&hist, t.root, 0)

	return hist
}

func (t *Trie[K, V]) fillDepthHistogram(hist *[]uint32, node *arrayNode[K, V], depth int) {
	for i := range node.slots {
		ref := node.slots[i].Load()

		switch ref.Kind() {
		case kindData:
			for depth >= len(*hist) {
				*hist = append(*hist, 0)
			}

			(*hist)[depth]++

		case kindArray:
			t.fillDepthHistogram(hist, ref.AsArray(), depth+1)

		case kindFrozenNode:
			t.fillDepthHistogram(hist, ref.AsFrozenArray(), depth+1)

		case kindExpand:
			t.fillDepthHistogram(hist, ref.AsExpand().narrow, depth+1)
		}
	}
}

func wrapOption[V any](v V, ok bool) opt.Option[V] {
	if !ok {
		return opt.None[V]()
	}

	return opt.Some(v)
}
