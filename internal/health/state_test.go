package health

import (
	"testing"
	"time"
)

func TestState_Evaluate_FewerThanMinSamplesSkips(t *testing.T) {
	s := NewState(10, 1.0, time.Second)
	now := time.Now()
	for i := 0; i < 9; i++ {
		s.RecordOutcome(true, true, now)
	}

	result := s.Evaluate(now)
	if result.Evaluated {
		t.Error("expected Evaluate to skip with fewer than 10 samples")
	}
	tRate, eRate := s.Rates()
	if tRate != 0 || eRate != 0 {
		t.Errorf("Rates() = (%v, %v), want (0, 0) before any evaluation", tRate, eRate)
	}
}

func TestState_Rates_ReflectsLastEvaluate(t *testing.T) {
	s := NewState(10, 1.0, time.Second)
	now := time.Now()
	for i := 0; i < 10; i++ {
		s.RecordOutcome(i < 3, false, now)
	}
	s.Evaluate(now)

	tRate, eRate := s.Rates()
	if tRate != 0.3 {
		t.Errorf("tRate = %v, want 0.3", tRate)
	}
	if eRate != 0 {
		t.Errorf("eRate = %v, want 0", eRate)
	}
}

func TestState_Evaluate_BoundaryRatesTriggerBothActions(t *testing.T) {
	s := NewState(10, 1.0, time.Second)
	now := time.Now()
	// 5 timeouts + 5 errors out of 10 samples: tRate = eRate = 0.5.
	for i := 0; i < 5; i++ {
		s.RecordOutcome(true, true, now)
	}
	for i := 0; i < 5; i++ {
		s.RecordOutcome(false, false, now)
	}

	result := s.Evaluate(now)
	if !result.Evaluated {
		t.Fatal("expected evaluation to run with exactly 10 samples")
	}
	if result.TRate != 0.5 || result.ERate != 0.5 {
		t.Fatalf("rates = %v/%v, want 0.5/0.5", result.TRate, result.ERate)
	}
	if !result.GateChanged || result.NewGate != GateClosed {
		t.Errorf("expected gate to close at eRate=0.5, got changed=%v gate=%v", result.GateChanged, result.NewGate)
	}
	if !result.WeightPending || result.PendingWeight != 0.5 {
		t.Errorf("expected weight to halve to 0.5 at tRate=0.5, got pending=%v weight=%v", result.WeightPending, result.PendingWeight)
	}
}

func TestState_Evaluate_WeightFloorsAtOneTenth(t *testing.T) {
	s := NewState(10, 0.15, time.Duration(0))
	now := time.Now()
	for i := 0; i < 10; i++ {
		s.RecordOutcome(true, false, now)
	}
	result := s.Evaluate(now)
	if !result.WeightPending {
		t.Fatal("expected weight change to be pending")
	}
	if result.PendingWeight != 0.1 {
		t.Errorf("expected weight floored at 0.1, got %v", result.PendingWeight)
	}
}

func TestState_Evaluate_RecoversTowardBaseWeight(t *testing.T) {
	cooldown := time.Duration(0)
	s := NewState(10, 1.0, cooldown)
	now := time.Now()

	// Degrade first, committing as the controller would after a successful
	// registry update.
	for i := 0; i < 10; i++ {
		s.RecordOutcome(true, false, now)
	}
	degraded := s.Evaluate(now)
	if !degraded.WeightPending || degraded.PendingWeight != 0.5 {
		t.Fatalf("expected degrade to 0.5 pending, got pending=%v weight=%v", degraded.WeightPending, degraded.PendingWeight)
	}
	s.CommitWeight(degraded.PendingWeight, now)
	if got := s.Weight(); got != 0.5 {
		t.Fatalf("after degrade, weight = %v, want 0.5", got)
	}

	// Now a clean window: tRate=0 triggers recovery factor (1 + 2*0.5) = 2x, capped at base.
	later := now.Add(time.Minute)
	s.window = nil
	for i := 0; i < 10; i++ {
		s.RecordOutcome(false, false, later)
	}
	result := s.Evaluate(later)
	if !result.WeightPending {
		t.Fatal("expected weight recovery to be pending")
	}
	if result.PendingWeight != 1.0 {
		t.Errorf("expected weight to recover to base 1.0, got %v", result.PendingWeight)
	}
}

func TestState_Evaluate_CooldownBlocksRepeatedAdjustment(t *testing.T) {
	s := NewState(10, 1.0, time.Hour)
	now := time.Now()
	for i := 0; i < 10; i++ {
		s.RecordOutcome(true, true, now)
	}

	first := s.Evaluate(now)
	if !first.GateChanged || !first.WeightPending {
		t.Fatal("expected first evaluation to adjust gate and propose a weight change")
	}
	s.CommitWeight(first.PendingWeight, now)

	soon := now.Add(time.Second)
	second := s.Evaluate(soon)
	if second.GateChanged || second.WeightPending {
		t.Error("expected cooldown to block a second adjustment shortly after the first")
	}
}

func TestState_Evaluate_GateReopensWhenErrorsSubside(t *testing.T) {
	s := NewState(10, 1.0, time.Duration(0))
	now := time.Now()
	for i := 0; i < 10; i++ {
		s.RecordOutcome(false, true, now)
	}
	closed := s.Evaluate(now)
	if !closed.GateChanged || closed.NewGate != GateClosed {
		t.Fatal("expected gate to close on all-error window")
	}

	later := now.Add(time.Minute)
	s.window = nil
	for i := 0; i < 10; i++ {
		s.RecordOutcome(false, false, later)
	}
	reopened := s.Evaluate(later)
	if !reopened.GateChanged || reopened.NewGate != GateOpen {
		t.Fatal("expected gate to reopen once error rate subsides")
	}
}
