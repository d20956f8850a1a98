package util

import "fmt"

// Assert panics when an internal invariant does not hold.
func Assert(cond bool) {
	if !cond {
		panic("assert fail")
	}
}

// Assertf is Assert with a formatted message.
func Assertf(cond bool, format string, args ...interface{}) {
	if !cond {
		panic(fmt.Sprintf("assert fail: "+format, args...))
	}
}
