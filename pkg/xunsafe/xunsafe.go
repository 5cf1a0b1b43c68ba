// Package xunsafe provides a small set of pointer-arithmetic helpers used
// by the arena allocator and by the hamt package's tagged node references.
//
// It is deliberately much smaller than a general-purpose unsafe-pointer
// toolkit: only the handful of operations actually exercised by this module
// are kept.
package xunsafe

import (
	"sync"

	"github.com/flier/cchamt/pkg/xunsafe/layout"
)

// NoCopy is a type that go vet will complain about having been moved.
//
// It does so by having sync.Mutex as its element type, whose pointer
// implements [sync.Locker]; the array has length zero, so it takes no
// space.
type NoCopy [0]sync.Mutex

// Int is any integer type.
type Int = layout.Int
