package hamt_test

import "github.com/flier/cchamt/pkg/hamt"

// identityKey is a key type whose hash is itself, giving tests exact
// control over which hash bits a key occupies — something the default
// maphash-backed hasher deliberately denies callers.
type identityKey uint64

type identityHasher struct{}

func (identityHasher) Hash(k identityKey) uint64 { return uint64(k) }

func newIdentityTrie[V any](opts ...hamt.Option[identityKey, V]) *hamt.Trie[identityKey, V] {
	all := append([]hamt.Option[identityKey, V]{hamt.WithHasher[identityKey, V](identityHasher{})}, opts...)

	return hamt.New(all...)
}
