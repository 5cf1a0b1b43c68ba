// Command hamtdemo inserts a batch of keys into a hamt.Trie, runs a
// handful of concurrent lookup goroutines against it, and reports how
// many lookups returned the expected value and how many did not.
//
// This is a demonstration binary, not part of the trie's public API: it
// exists to exercise pkg/hamt end to end the way a library package's
// example program usually does.
package main

import (
	"flag"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/flier/cchamt/pkg/hamt"
)

func main() {
	var (
		keys    = flag.Int("keys", 200000, "number of keys to insert")
		readers = flag.Int("readers", 8, "number of concurrent reader goroutines")
		reads   = flag.Int("reads", 1000000, "number of lookups per reader")
	)
	flag.Parse()

	trie := hamt.New[int, int]()

	for i := 0; i < *keys; i++ {
		trie.Insert(i, i*i)
	}

	fmt.Printf("inserted %d keys\n", *keys)

	var hits, misses atomic.Int64

	var wg sync.WaitGroup
	for r := 0; r < *readers; r++ {
		wg.Add(1)

		go func(seed int) {
			defer wg.Done()

			state := uint64(seed*2654435761 + 1)

			for n := 0; n < *reads; n++ {
				state = state*6364136223846793005 + 1442695040888963407
				key := int(state>>33) % *keys

				if v := trie.Lookup(key); v.IsSome() && v.Unwrap() == key*key {
					hits.Add(1)
				} else {
					misses.Add(1)
				}
			}
		}(r)
	}
	wg.Wait()

	fmt.Printf("lookups: %d correct, %d wrong\n", hits.Load(), misses.Load())
}
