package health

import (
	"sync"
	"time"

	"nacoshost/internal/check"
)

const minWindowSamples = 10

// outcome is one recorded dispatch result (spec.md §4.C "Outcome intake").
type outcome struct {
	timeout bool
	isErr   bool
	at      time.Time
}

// EvalResult reports what Evaluate decided, so the caller (Controller) knows
// whether a registry call is owed. A pending weight change is not yet
// reflected in State: the caller must call CommitWeight itself, and only
// after confirming the registry accepted the update (spec.md §4.C, §7
// "Weight-update failure: do not commit currentWeight change").
type EvalResult struct {
	Evaluated     bool
	TRate, ERate  float64
	GateChanged   bool
	NewGate       GateState
	WeightPending bool
	PendingWeight float64
}

// State is the rolling window and adjustment state for one identifier. Safe
// for concurrent use.
type State struct {
	mu sync.Mutex

	window     []outcome
	windowSize int

	gate   GateState
	weight float64
	base   float64

	cooldown           time.Duration
	lastGateAdjustAt   time.Time
	lastWeightAdjustAt time.Time

	lastTRate, lastERate float64
}

// NewState returns a State with the gate open and weight at baseWeight.
func NewState(windowSize int, baseWeight float64, cooldown time.Duration) *State {
	check.Assert(windowSize > 0, "health.NewState: windowSize must be > 0")
	check.Assert(baseWeight > 0, "health.NewState: baseWeight must be > 0")
	return &State{
		windowSize: windowSize,
		gate:       GateOpen,
		weight:     baseWeight,
		base:       baseWeight,
		cooldown:   cooldown,
	}
}

// RecordOutcome appends one dispatch outcome, evicting the oldest while the
// window exceeds windowSize.
func (s *State) RecordOutcome(timeout, isErr bool, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.window = append(s.window, outcome{timeout: timeout, isErr: isErr, at: now})
	for len(s.window) > s.windowSize {
		s.window = s.window[1:]
	}
}

// Gate returns the current gate state.
func (s *State) Gate() GateState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gate
}

// Weight returns the current advertised weight.
func (s *State) Weight() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.weight
}

// Rates returns the timeout-rate and error-rate computed at the most recent
// Evaluate call (zero until the window has reached minWindowSamples).
func (s *State) Rates() (tRate, eRate float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTRate, s.lastERate
}

// Evaluate applies the gate and weight state machines for one tick
// (spec.md §4.C). Fewer than 10 samples in the window: no-op.
func (s *State) Evaluate(now time.Time) EvalResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.window)
	if n < minWindowSamples {
		return EvalResult{Evaluated: false}
	}

	var timeouts, errs int
	for _, o := range s.window {
		if o.timeout {
			timeouts++
		}
		if o.isErr {
			errs++
		}
	}
	tRate := float64(timeouts) / float64(n)
	eRate := float64(errs) / float64(n)

	result := EvalResult{Evaluated: true, TRate: tRate, ERate: eRate}
	s.lastTRate, s.lastERate = tRate, eRate

	gateCooldownElapsed := now.Sub(s.lastGateAdjustAt) >= s.cooldown
	switch {
	case eRate >= 0.5 && gateCooldownElapsed && s.gate == GateOpen:
		s.gate = s.gate.Transition(GateClosed)
		s.lastGateAdjustAt = now
		result.GateChanged = true
		result.NewGate = s.gate
	case eRate < 0.5 && gateCooldownElapsed && s.gate == GateClosed:
		s.gate = s.gate.Transition(GateOpen)
		s.lastGateAdjustAt = now
		result.GateChanged = true
		result.NewGate = s.gate
	}

	weightCooldownElapsed := now.Sub(s.lastWeightAdjustAt) >= s.cooldown
	switch {
	case tRate >= 0.5 && weightCooldownElapsed:
		newWeight := max(0.1, s.weight*0.5)
		if delta := s.weight - newWeight; delta >= 0.001 || -delta >= 0.001 {
			result.WeightPending = true
			result.PendingWeight = newWeight
		}
	case weightCooldownElapsed && s.weight < s.base:
		newWeight := min(s.base, s.weight*(1+2*(0.5-tRate)))
		if delta := newWeight - s.weight; delta >= 0.001 || -delta >= 0.001 {
			result.WeightPending = true
			result.PendingWeight = newWeight
		}
	}

	return result
}

// CommitWeight applies a weight change Evaluate reported as pending. Callers
// must only invoke this after confirming the registry accepted the update;
// lastWeightAdjustAt advances only on commit, so a failed update leaves the
// cooldown free to retry on the next tick.
func (s *State) CommitWeight(weight float64, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.weight = weight
	s.lastWeightAdjustAt = now
}
