//go:build go1.20

package xunsafe

import (
	"fmt"
	"unsafe"

	"github.com/flier/cchamt/pkg/xunsafe/layout"
)

// Addr is a raw address of a value of type T.
//
// Unlike *T, an Addr[T] need not point at a live value: it is a plain
// integer that happens to carry along T for scaling arithmetic (Add moves
// by sizeof(T), not by a single byte).
type Addr[T any] int

// AddrOf returns the address of *p.
func AddrOf[T any](p *T) Addr[T] {
	return Addr[T](uintptr(unsafe.Pointer(p)))
}

// EndOf returns the address one past the end of the given slice's backing
// array.
func EndOf[S ~[]T, T any](s S) Addr[T] {
	return AddrOf(unsafe.SliceData(s)).Add(len(s))
}

// AssertValid casts this address back to a pointer.
//
// The caller is responsible for knowing that the address is in fact valid;
// this performs no checking beyond what a plain unsafe.Pointer conversion
// would.
func (a Addr[T]) AssertValid() *T {
	return (*T)(unsafe.Pointer(uintptr(a)))
}

// Add adds n elements worth of T to this address.
func (a Addr[T]) Add(n int) Addr[T] {
	return a.ByteAdd(n * layout.Size[T]())
}

// ByteAdd adds n raw bytes to this address, with no scaling.
func (a Addr[T]) ByteAdd(n int) Addr[T] {
	return Addr[T](uintptr(a) + uintptr(n))
}

// Sub computes the distance between two addresses, in units of T.
func (a Addr[T]) Sub(b Addr[T]) int {
	return int(uintptr(a)-uintptr(b)) / layout.Size[T]()
}

// Padding returns how many bytes must be added to this address to reach
// the next multiple of align.
func (a Addr[T]) Padding(align int) int {
	return layout.Padding(int(a), align)
}

// RoundUpTo rounds this address up to the next multiple of align.
func (a Addr[T]) RoundUpTo(align int) Addr[T] {
	return Addr[T](layout.RoundUp(int(a), align))
}

// SignBit returns the top bit of this address.
func (a Addr[T]) SignBit() bool {
	return int(a) < 0
}

// SignBitMask returns an all-ones mask if SignBit is set, all-zeros
// otherwise.
func (a Addr[T]) SignBitMask() Addr[T] {
	return Addr[T](int(a) >> (unsafe.Sizeof(uintptr(0))*8 - 1))
}

// ClearSignBit clears the top bit of this address.
func (a Addr[T]) ClearSignBit() Addr[T] {
	return a &^ a.SignBitMask()
}

// Format implements fmt.Formatter, printing the address in hexadecimal.
func (a Addr[T]) Format(s fmt.State, verb rune) {
	switch verb {
	case 'x':
		fmt.Fprintf(s, "%x", uintptr(a))
	default:
		fmt.Fprintf(s, "%#x", uintptr(a))
	}
}
