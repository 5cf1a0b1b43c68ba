package arena_test

import (
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/assert"

	"github.com/flier/cchamt/pkg/arena"
)

type point struct{ X, Y int64 }

func TestArena(t *testing.T) {
	Convey("Given a fresh Arena", t, func() {
		a := &arena.Arena{}

		Convey("When allocating a single value", func() {
			p := arena.New(a, point{X: 1, Y: 2})

			Convey("It returns a usable, stable pointer", func() {
				So(p.X, ShouldEqual, 1)
				So(p.Y, ShouldEqual, 2)
			})
		})

		Convey("When allocating enough values to force a grow", func() {
			var ptrs []*point
			for i := range 10_000 {
				ptrs = append(ptrs, arena.New(a, point{X: int64(i)}))
			}

			Convey("Every earlier pointer remains valid and unaliased", func() {
				for i, p := range ptrs {
					So(p.X, ShouldEqual, int64(i))
				}
			})
		})
	})
}

func TestArenaConcurrentAlloc(t *testing.T) {
	a := &arena.Arena{}

	const goroutines = 32
	const perGoroutine = 2_000

	results := make([][]*point, goroutines)

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := range goroutines {
		go func(g int) {
			defer wg.Done()
			ptrs := make([]*point, perGoroutine)
			for i := range perGoroutine {
				ptrs[i] = arena.New(a, point{X: int64(g), Y: int64(i)})
			}
			results[g] = ptrs
		}(g)
	}
	wg.Wait()

	seen := make(map[*point]bool, goroutines*perGoroutine)
	for g, ptrs := range results {
		for i, p := range ptrs {
			assert.False(t, seen[p], "address reused across allocations")
			seen[p] = true
			assert.EqualValues(t, g, p.X)
			assert.EqualValues(t, i, p.Y)
		}
	}
}
