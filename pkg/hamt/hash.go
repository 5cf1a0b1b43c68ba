package hamt

import "github.com/dolthub/maphash"

// Hasher is the trie's hash-function contract (spec §6): deterministic
// and total over K, consumed 4 bits at a time from the least-significant
// end. Equal keys must hash identically.
type Hasher[K comparable] interface {
	Hash(key K) uint64
}

// defaultHasher adapts github.com/dolthub/maphash's seeded, generic
// hasher to the Hasher interface. It is deterministic for the lifetime of
// a single trie (the seed is fixed at construction) and total over any
// comparable K, satisfying the contract without requiring callers to
// supply their own hash function for common key types.
type defaultHasher[K comparable] struct {
	h maphash.Hasher[K]
}

func newDefaultHasher[K comparable]() Hasher[K] {
	return &defaultHasher[K]{h: maphash.NewHasher[K]()}
}

func (d *defaultHasher[K]) Hash(key K) uint64 { return d.h.Hash(key) }
