//go:build voxeldebug

package debug

// Enabled is true in builds tagged voxeldebug.
const Enabled = true
