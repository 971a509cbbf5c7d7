package ecs

// Each2 iterates over entities that have both component A and B. It walks a
// snapshot of the smaller store and looks each id up in the other, so fn may
// add or remove components.
func Each2[A, B any](sa *PtrComponentStore[A], sb *PtrComponentStore[B], fn func(EntityID, *A, *B)) {
	if sa.Len() <= sb.Len() {
		for _, e := range sa.snapshot() {
			if b, ok := sb.Get(e.id); ok {
				fn(e.id, e.c, b)
			}
		}
		return
	}
	for _, e := range sb.snapshot() {
		if a, ok := sa.Get(e.id); ok {
			fn(e.id, a, e.c)
		}
	}
}
