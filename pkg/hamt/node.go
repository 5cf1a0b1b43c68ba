package hamt

import (
	"unsafe"

	"github.com/flier/cchamt/pkg/arena"
	"github.com/flier/cchamt/pkg/xunsafe"
	"github.com/flier/cchamt/pkg/xunsafe/layout"
)

// narrowWidth and wideWidth are the two array-node fan-outs. Every level
// consumes narrowBits of hash regardless of which width a given array
// node happens to have: a narrow node only uses 2 of those 4 bits for
// indexing, the rest is spent once the node is promoted to wide. This
// mirrors the reference implementation's `get_ary_length(cur) - 1` mask
// applied against a level counter that always advances by 4.
const (
	narrowWidth = 4
	wideWidth   = 16
	narrowBits  = 4
)

// dataNode is the S variant: a single key/value entry plus the txn field
// used to witness in-flight replacement or freezing.
type dataNode[K comparable, V any] struct {
	hash  uint64
	key   K
	value V
	txn   Slot[K, V]
}

// arrayNode is the A variant: a fixed-width vector of atomic slots.
type arrayNode[K comparable, V any] struct {
	slots []Slot[K, V]
}

// expandNode is the E variant: the in-flight witness of a narrow-to-wide
// promotion. parent/parentPos/narrow/hash/level are immutable after
// construction; wide is the single atomic field, null until the
// expansion completes.
type expandNode[K comparable, V any] struct {
	parent    *arrayNode[K, V]
	parentPos int
	narrow    *arrayNode[K, V]
	hash      uint64
	level     int
	wide      Slot[K, V]
}

// allocData and friends allocate nodes directly off the arena rather than
// through arena.New's copy-a-value API: every node here embeds a [Slot],
// and a [Slot] wraps an atomic.Uintptr, which go vet's copylocks check
// (rightly) refuses to pass by value. Allocating raw bytes and field-
// assigning through the returned pointer sidesteps the copy entirely.
//
// Two things these helpers must additionally get right, since arena
// blocks are noscan (see package arena's doc): a slice's backing storage
// must itself live in arena memory rather than on the ordinary Go heap,
// and any K/V value that may hold pointers to non-arena memory must be
// rooted with [arena.Allocator.KeepAlive] — otherwise the collector can
// reclaim what those pointers lead to the moment their only ordinary
// reference goes out of scope.

func allocData[K comparable, V any](a arena.Allocator, hash uint64, key K, value V) *dataNode[K, V] {
	p := xunsafe.Cast[dataNode[K, V]](a.Alloc(layout.Of[dataNode[K, V]]().Size))
	p.hash = hash
	p.key = key
	p.value = value
	p.txn.Store(refTag[K, V](kindNoTxn))

	a.KeepAlive(key)
	a.KeepAlive(value)

	return p
}

func allocArray[K comparable, V any](a arena.Allocator, width int) *arrayNode[K, V] {
	p := xunsafe.Cast[arrayNode[K, V]](a.Alloc(layout.Of[arrayNode[K, V]]().Size))
	p.slots = allocSlots[K, V](a, width)

	return p
}

// allocSlots carves a width-length []Slot[K,V] out of arena memory,
// rather than via make, so that the slice's backing storage is retained
// by the same never-freed block discipline as the node that holds it
// instead of being a standalone Go-heap allocation only reachable
// through a pointer arena memory's noscan blocks hide from the
// collector. Slot itself holds only an atomic.Uintptr — no real Go
// pointer — so the memory needs no KeepAlive registration of its own.
func allocSlots[K comparable, V any](a arena.Allocator, width int) []Slot[K, V] {
	size := layout.Of[Slot[K, V]]().Size * width
	base := xunsafe.Cast[Slot[K, V]](a.Alloc(size))

	return unsafe.Slice(base, width)
}

// parent and narrow point at other arena-resident nodes, not at outside
// memory, so they need no KeepAlive: the blocks backing them are already
// retained for the arena's lifetime regardless of whether anything
// scans the pointer that leads to them.
func allocExpand[K comparable, V any](a arena.Allocator, parent *arrayNode[K, V], parentPos int, narrow *arrayNode[K, V], hash uint64, level int) *expandNode[K, V] {
	p := xunsafe.Cast[expandNode[K, V]](a.Alloc(layout.Of[expandNode[K, V]]().Size))
	p.parent = parent
	p.parentPos = parentPos
	p.narrow = narrow
	p.hash = hash
	p.level = level

	return p
}

// createCollisionArray builds the narrow array node that replaces a single
// S slot once a second, distinct key hashes into it: both old and new
// entries are placed by their next 4-bit hash slice, recursing to a
// further-nested narrow array on collision.
func createCollisionArray[K comparable, V any](a arena.Allocator, oldHash uint64, oldKey K, oldValue V, newHash uint64, newKey K, newValue V, level int) *arrayNode[K, V] {
	an := allocArray[K, V](a, narrowWidth)

	oldPos := int(oldHash>>level) & (narrowWidth - 1)
	newPos := int(newHash>>level) & (narrowWidth - 1)

	if oldPos == newPos {
		nested := createCollisionArray[K, V](a, oldHash, oldKey, oldValue, newHash, newKey, newValue, level+narrowBits)
		an.slots[oldPos].Store(refPtr[K, V](kindArray, nested))
	} else {
		an.slots[oldPos].Store(refPtr[K, V](kindData, allocData[K, V](a, oldHash, oldKey, oldValue)))
		an.slots[newPos].Store(refPtr[K, V](kindData, allocData[K, V](a, newHash, newKey, newValue)))
	}

	return an
}
