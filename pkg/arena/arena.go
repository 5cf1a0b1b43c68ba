//go:build go1.22

// Package arena provides a concurrent, append-only node allocator.
//
// The lock-free trie in [github.com/flier/cchamt/pkg/hamt] never frees a
// node: once installed, a node stays reachable from the arena for the
// life of the trie, even after it has been superseded by a frozen wrapper
// or an expansion's wide replacement (see hamt's design notes on
// retirement). This package exists to hand out the stable addresses that
// property depends on.
//
// # Design
//
// Arena is a bump-pointer allocator over a growing list of blocks, each
// twice the size of the last. A single mutex guards the bump pointer and
// the block list; this is the "briefly spin-locked" allocator the trie's
// specification assumes and does not otherwise constrain. Addresses
// returned by [Arena.Alloc] are never invalidated and never reused: there
// is no [Arena.Reset] and no free list, because the trie that consumes
// this package never wants either.
//
// A block is a plain []byte, which the garbage collector treats as
// pointer-free (noscan): it never scans a block's bytes looking for
// outgoing pointers. A value cast onto arena memory is therefore safe to
// hold ordinary Go pointers to OTHER arena memory — the pointed-to block
// is kept alive regardless, because [Arena.blocks] holds a normal,
// GC-visible reference to every block for the arena's lifetime, and Go's
// collector never reclaims part of a live allocation. What is NOT safe is
// a pointer from arena memory to a value allocated outside the arena (a
// string's backing bytes, a map, a slice made with ordinary make): since
// the block itself is never scanned, such a pointer is invisible to the
// collector and the value it points to can be collected out from under
// it. [Arena.KeepAlive] closes that gap by holding an ordinary,
// GC-visible reference to any such escaping value for the arena's
// lifetime; [New] and the trie's node constructors call it for every
// generic value they place in arena memory.
package arena

import (
	"sync"
	"unsafe"

	"github.com/flier/cchamt/internal/debug"
	"github.com/flier/cchamt/pkg/xunsafe"
	"github.com/flier/cchamt/pkg/xunsafe/layout"
)

// Align is the alignment of every value handed out by an [Arena].
const Align = int(unsafe.Sizeof(uintptr(0)))

// minBlockSize is the size, in bytes, of the first block an Arena
// allocates. Chosen to amortize the cost of the first few node
// allocations of a fresh trie without over-committing memory for tries
// that end up tiny.
const minBlockSize = 4096

// Allocator is the interface the trie's node model allocates through.
//
// Arena is the only implementation in this module; the interface exists
// so that [New] and [Free] can be written once and so that tests can
// substitute a fake allocator that tracks allocation counts.
type Allocator interface {
	// Alloc returns size bytes of zeroed, pointer-aligned memory that
	// remains valid and stable for the lifetime of the allocator.
	Alloc(size int) *byte

	// Release is present for interface symmetry with more conventional
	// allocators. The lock-free trie never calls it: per spec, superseded
	// nodes are retained, not freed. Implementations may treat it as a
	// no-op.
	Release(p *byte, size int)

	// KeepAlive roots v for the lifetime of the allocator. Callers that
	// place a value containing pointers to non-arena memory into
	// arena-allocated storage must call this with that value (or with
	// whatever it holds a pointer to): the block backing the storage is
	// noscan, so without this the collector has no way to discover that
	// reference and may reclaim what it points to.
	KeepAlive(v any)
}

// Arena is a concurrent, append-only allocator.
//
// A zero Arena is empty and ready to use from multiple goroutines
// immediately; no constructor is required.
type Arena struct {
	_ xunsafe.NoCopy

	mu   sync.Mutex
	next xunsafe.Addr[byte]
	end  xunsafe.Addr[byte]

	// blocks keeps every allocated block alive for the GC. Never shrunk.
	blocks [][]byte

	// keepAlive roots values that escaped into noscan block memory and
	// whose own pointers (to non-arena memory) would otherwise be
	// invisible to the collector. Never shrunk; see [Arena.KeepAlive].
	keepAlive []any
}

var _ Allocator = (*Arena)(nil)

// New allocates a new value of type T on the arena and returns a pointer
// to it. value is rooted via [Arena.KeepAlive], since T may hold pointers
// to memory the arena itself does not own.
func New[T any](a Allocator, value T) *T {
	l := layout.Of[T]()
	if l.Align > Align {
		panic("arena: over-aligned object")
	}

	p := xunsafe.Cast[T](a.Alloc(l.Size))
	*p = value
	a.KeepAlive(value)

	return p
}

// Free releases a value of type T previously allocated from a, sized
// automatically from T's layout.
//
// This module never calls Free on a live trie: it exists for parity with
// the Allocator interface and for use by tests that want to assert an
// allocator was exercised without leaking across cases.
func Free[T any](a Allocator, p *T) {
	a.Release(xunsafe.Cast[byte](p), layout.Of[T]().Size)
}

// Alloc allocates size bytes of zeroed memory, aligned to Align.
//
// Safe for concurrent use: the bump pointer and block list are guarded by
// a mutex. Per §4.1 and §5 of the trie's specification, the arena is
// "assumed lock-free or briefly spin-locked and not specified further
// here" — this mutex is that brief spin.
func (a *Arena) Alloc(size int) *byte {
	size = layout.RoundUp(size, Align)

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.next.Add(size) > a.end {
		a.grow(size)
	}

	p := a.next.AssertValid()
	a.next = a.next.Add(size)

	debug.Log(nil, "arena.alloc", "%v:%v, %d", xunsafe.AddrOf(p), a.next, size)

	return p
}

// Release is a no-op: see the Allocator.Release doc.
func (a *Arena) Release(p *byte, size int) {}

// KeepAlive roots v for the lifetime of the arena. See the Allocator
// doc: arena blocks are noscan, so a pointer from arena memory to v is
// invisible to the collector, and v would otherwise be eligible for
// collection as soon as its last ordinary Go reference goes out of
// scope.
func (a *Arena) KeepAlive(v any) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.keepAlive = append(a.keepAlive, v)
}

// Len returns the number of bytes allocated across all blocks, including
// the current partially-used block. Intended for tests and diagnostics.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := 0
	for _, b := range a.blocks {
		n += len(b)
	}
	return n
}

// grow appends a fresh block of at least size bytes and repoints
// next/end at it. Must be called with a.mu held.
func (a *Arena) grow(size int) {
	blockSize := minBlockSize
	if n := len(a.blocks); n > 0 {
		blockSize = max(size, len(a.blocks[n-1])*2)
	} else {
		blockSize = max(size, blockSize)
	}

	block := make([]byte, blockSize)
	a.blocks = append(a.blocks, block)

	a.next = xunsafe.AddrOf(unsafe.SliceData(block))
	a.end = a.next.Add(len(block))

	debug.Log(nil, "arena.grow", "%v:%v:%d", a.next, a.end, blockSize)
}
