package hamt

import (
	"sync/atomic"
	"unsafe"

	"github.com/flier/cchamt/internal/debug"
	"github.com/flier/cchamt/pkg/arena"
)

// kindMask extracts the discriminant from a [Ref]; ptrMask extracts the
// pointer. Both rely on every node address being at least arena.Align-byte
// aligned, exactly the technique used by the ART tree's node.Ref[T].
const (
	kindMask = uintptr(arena.Align - 1)
	ptrMask  = ^kindMask
)

// Ref is a tagged reference to one of the six node variants (or one of the
// two txn-only sentinels, NoTxn and FrozenData). It packs a kind into the
// low bits of a pointer, so a Ref is the unit every atomic slot in the
// trie holds.
//
// The zero Ref is kindNone: an empty slot.
type Ref[K comparable, V any] uintptr

func refPtr[K comparable, V any, N any](k kind, p *N) Ref[K, V] {
	addr := uintptr(unsafe.Pointer(p))

	debug.Assert(addr&kindMask == 0, "hamt: node address %#x is not arena-aligned", addr)

	return Ref[K, V](addr | uintptr(k))
}

func refTag[K comparable, V any](k kind) Ref[K, V] {
	return Ref[K, V](uintptr(k))
}

// Kind returns this reference's discriminant.
func (r Ref[K, V]) Kind() kind { return kind(uintptr(r) & kindMask) }

// IsNone reports whether this is the zero (empty-slot) reference.
func (r Ref[K, V]) IsNone() bool { return r == 0 }

func (r Ref[K, V]) ptr() unsafe.Pointer {
	return unsafe.Pointer(uintptr(r) & ptrMask)
}

// AsData returns the data node this reference points to. Panics in debug
// builds if r is not a kindData reference.
func (r Ref[K, V]) AsData() *dataNode[K, V] {
	debug.Assert(r.Kind() == kindData, "hamt: Ref is not a data node, got %v", r.Kind())

	return (*dataNode[K, V])(r.ptr())
}

// AsArray returns the array node this reference points to.
func (r Ref[K, V]) AsArray() *arrayNode[K, V] {
	debug.Assert(r.Kind() == kindArray, "hamt: Ref is not an array node, got %v", r.Kind())

	return (*arrayNode[K, V])(r.ptr())
}

// AsExpand returns the expansion node this reference points to.
func (r Ref[K, V]) AsExpand() *expandNode[K, V] {
	debug.Assert(r.Kind() == kindExpand, "hamt: Ref is not an expansion node, got %v", r.Kind())

	return (*expandNode[K, V])(r.ptr())
}

// AsFrozenArray returns the array node an FN wrapper freezes.
func (r Ref[K, V]) AsFrozenArray() *arrayNode[K, V] {
	debug.Assert(r.Kind() == kindFrozenNode, "hamt: Ref is not a frozen-node wrapper, got %v", r.Kind())

	return (*arrayNode[K, V])(r.ptr())
}

// Slot is a single atomically-addressed trie slot: an array node's child,
// a data node's txn field, or an expansion node's wide field.
type Slot[K comparable, V any] struct {
	bits atomic.Uintptr
}

// Load reads the current reference held by this slot.
func (s *Slot[K, V]) Load() Ref[K, V] {
	return Ref[K, V](s.bits.Load())
}

// Store unconditionally installs a reference into this slot.
func (s *Slot[K, V]) Store(r Ref[K, V]) {
	s.bits.Store(uintptr(r))
}

// CAS installs newRef iff the slot currently holds oldRef.
func (s *Slot[K, V]) CAS(oldRef, newRef Ref[K, V]) bool {
	return s.bits.CompareAndSwap(uintptr(oldRef), uintptr(newRef))
}
