package configwatch

import "testing"

func TestPhase_Transition_NormalCycle(t *testing.T) {
	p := PhaseConnecting
	p = p.Transition(PhaseSending)
	if p != PhaseSending {
		t.Fatalf("phase = %v, want sending", p)
	}
	p = p.Transition(PhaseAwaiting)
	if p != PhaseAwaiting {
		t.Fatalf("phase = %v, want awaiting", p)
	}
	p = p.Transition(PhaseProcessing)
	if p != PhaseProcessing {
		t.Fatalf("phase = %v, want processing", p)
	}
	p = p.Transition(PhaseSending)
	if p != PhaseSending {
		t.Fatalf("phase = %v, want sending (reuse)", p)
	}
}

func TestPhase_Transition_AnyPhaseCanClose(t *testing.T) {
	for _, p := range []Phase{PhaseConnecting, PhaseSending, PhaseAwaiting, PhaseProcessing} {
		if got := p.Transition(PhaseClosed); got != PhaseClosed {
			t.Errorf("%v -> closed = %v, want closed", p, got)
		}
	}
}

func TestPhase_Transition_ClosedOnlyReopensToConnecting(t *testing.T) {
	if got := PhaseClosed.Transition(PhaseConnecting); got != PhaseConnecting {
		t.Errorf("closed -> connecting = %v, want connecting", got)
	}
}

func TestPhase_String(t *testing.T) {
	cases := map[Phase]string{
		PhaseConnecting: "connecting",
		PhaseSending:    "sending",
		PhaseAwaiting:   "awaiting",
		PhaseProcessing: "processing",
		PhaseClosed:     "closed",
	}
	for phase, want := range cases {
		if got := phase.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", phase, got, want)
		}
	}
}
