package system

import (
	"testing"
	"time"
)

type recorder struct {
	phase Phase
	name  string
	log   *[]string
}

func (r recorder) Phase() Phase           { return r.phase }
func (r recorder) Update(_ time.Duration) { *r.log = append(*r.log, r.name) }

func TestRunnerPhaseOrder(t *testing.T) {
	var log []string
	r := NewRunner()
	r.Register(recorder{PhaseCleanup, "cleanup", &log})
	r.Register(recorder{PhaseUpdate, "controller", &log})
	r.Register(recorder{PhaseInput, "dispatch", &log})
	r.Register(recorder{PhaseUpdate, "after-controller", &log})

	r.Tick(time.Millisecond)
	want := []string{"dispatch", "controller", "after-controller", "cleanup"}
	for i, w := range want {
		if log[i] != w {
			t.Fatalf("order = %v, want %v", log, want)
		}
	}

	log = log[:0]
	r.TickPhase(PhaseUpdate, time.Millisecond)
	if len(log) != 2 || log[0] != "controller" {
		t.Fatalf("TickPhase ran %v", log)
	}
	if PhasePersist.String() != "persist" {
		t.Fatalf("String = %q", PhasePersist.String())
	}
}
