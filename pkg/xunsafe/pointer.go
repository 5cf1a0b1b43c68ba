//go:build go1.23

package xunsafe

import "unsafe"

// Cast casts one pointer type to another.
func Cast[To, From any](p *From) *To {
	return (*To)(unsafe.Pointer(p))
}
