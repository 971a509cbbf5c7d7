// Package debug holds assertions that panic in voxeldebug builds and are
// no-ops otherwise. Callers still return an error after Assert so release
// builds reject the operation instead of crashing.
package debug

import "fmt"

// Assert panics with the formatted message when cond is false and Enabled is set.
func Assert(cond bool, format string, args ...any) {
	if Enabled && !cond {
		panic(fmt.Sprintf(format, args...))
	}
}
