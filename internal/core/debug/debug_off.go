//go:build !voxeldebug

package debug

const Enabled = false
