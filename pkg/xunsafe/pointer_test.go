package xunsafe_test

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/flier/cchamt/pkg/xunsafe"
)

func TestPointer(t *testing.T) {
	Convey("Given pointer operations", t, func() {
		Convey("When casting between different pointer types", func() {
			i := 42
			ptr := &i

			uintptrPtr := xunsafe.Cast[uintptr, int](ptr)
			So(uintptrPtr, ShouldNotBeNil)

			bytePtr := xunsafe.Cast[byte, int](ptr)
			So(bytePtr, ShouldNotBeNil)

			intPtr := xunsafe.Cast[int, byte](bytePtr)
			So(intPtr, ShouldNotBeNil)
			So(*intPtr, ShouldEqual, 42)
		})
	})
}
