package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"nacoshost/internal/logging"
	"nacoshost/internal/registry"
)

// InstanceRef carries the identifying fields a weight update needs to reach
// the registry (spec.md §4.A updateWeight).
type InstanceRef struct {
	SafeName  string
	IP        string
	Port      int
	Namespace string
	Ephemeral bool
	Metadata  map[string]string
}

type entry struct {
	state *State
	ref   InstanceRef
}

// Controller owns one State per identifier and applies weight changes
// through the registry adapter. Safe for concurrent use.
type Controller struct {
	client *registry.Client

	mu      sync.RWMutex
	entries map[string]*entry
}

// NewController returns a Controller. If meter is non-nil, a weight gauge
// ("nacoshost.instance.weight") is registered reporting every tracked
// identifier's current advertised weight (spec.md §9 ambient metrics).
func NewController(client *registry.Client, meter metric.Meter) (*Controller, error) {
	c := &Controller{client: client, entries: make(map[string]*entry)}

	if meter == nil {
		return c, nil
	}

	gauge, err := meter.Float64ObservableGauge(
		"nacoshost.instance.weight",
		metric.WithDescription("Current advertised weight per service identifier"),
	)
	if err != nil {
		return nil, fmt.Errorf("create weight gauge: %w", err)
	}

	_, err = meter.RegisterCallback(func(_ context.Context, observer metric.Observer) error {
		c.mu.RLock()
		defer c.mu.RUnlock()
		for key, e := range c.entries {
			observer.ObserveFloat64(gauge, e.state.Weight(), metric.WithAttributes(
				attribute.String("service", key),
			))
		}
		return nil
	}, gauge)
	if err != nil {
		return nil, fmt.Errorf("register weight gauge callback: %w", err)
	}

	return c, nil
}

// Register starts tracking an identifier.
func (c *Controller) Register(key string, ref InstanceRef, windowSize int, baseWeight float64, cooldown time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &entry{state: NewState(windowSize, baseWeight, cooldown), ref: ref}
}

// RecordOutcome appends a dispatch outcome for key. No-op for an unknown key.
func (c *Controller) RecordOutcome(key string, timeout, isErr bool, now time.Time) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return
	}
	e.state.RecordOutcome(timeout, isErr, now)
}

// Gate returns the current gate state for key, or GateOpen if key is unknown.
func (c *Controller) Gate(key string) GateState {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return GateOpen
	}
	return e.state.Gate()
}

// Weight returns the current advertised weight for key, or 0 if key is
// unknown.
func (c *Controller) Weight(key string) float64 {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return 0
	}
	return e.state.Weight()
}

// Rates returns the timeout-rate and error-rate from key's most recent
// evaluation, or zero if key is unknown or has not yet been evaluated.
func (c *Controller) Rates(key string) (tRate, eRate float64) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return 0, 0
	}
	return e.state.Rates()
}

// EvaluateAll runs the evaluation step for every tracked identifier, pushing
// a weight update through the registry adapter wherever Evaluate decided one
// is owed (spec.md §4.C). Per-identifier failures are logged, not returned:
// one unreachable registry must not block evaluation of the others.
func (c *Controller) EvaluateAll(ctx context.Context, now time.Time) {
	c.mu.RLock()
	snapshot := make(map[string]*entry, len(c.entries))
	for k, e := range c.entries {
		snapshot[k] = e
	}
	c.mu.RUnlock()

	for key, e := range snapshot {
		result := e.state.Evaluate(now)
		if !result.Evaluated {
			continue
		}

		tag := logging.IdentityTag(key)
		if result.GateChanged {
			slog.Info("gate transition", "tag", tag, "gate", result.NewGate.String(), "tRate", result.TRate, "eRate", result.ERate)
		}
		if result.WeightPending {
			if err := c.client.UpdateWeight(ctx, e.ref.SafeName, e.ref.IP, e.ref.Port, result.PendingWeight, e.ref.Namespace, e.ref.Ephemeral, e.ref.Metadata); err != nil {
				slog.Warn("weight update failed, not committing", "tag", logging.TagError, "key", key, "error", err)
				continue
			}
			e.state.CommitWeight(result.PendingWeight, now)
			slog.Info("weight adjusted", "tag", tag, "weight", result.PendingWeight, "tRate", result.TRate)
		}
	}
}
