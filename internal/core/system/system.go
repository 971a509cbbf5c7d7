package system

import "time"

// Phase defines execution ordering within a single tick.
type Phase int

const (
	PhaseInput      Phase = iota // 0: swap and dispatch the event bus
	PhasePreUpdate               // 1: observers emit load reasons and permits
	PhaseUpdate                  // 2: chunk controller reconciles residency
	PhasePostUpdate              // 3: consumers of loaded chunks
	PhaseOutput                  // 4: stats and reporting
	PhasePersist                 // 5: periodic chunk save
	PhaseCleanup                 // 6: destroy queued entities
)

var phaseNames = [...]string{"input", "pre-update", "update", "post-update", "output", "persist", "cleanup"}

func (p Phase) String() string {
	if p >= 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return "unknown"
}

// System is the interface every ECS system implements.
type System interface {
	Phase() Phase
	Update(dt time.Duration)
}
