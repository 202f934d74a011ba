// Package heartbeat runs the periodic per-identifier heartbeat emission that
// keeps an ephemeral instance marked healthy at the registry (spec.md §4.D).
package heartbeat

import (
	"context"
	"log/slog"
	"time"

	"nacoshost/internal/health"
	"nacoshost/internal/logging"
	"nacoshost/internal/registry"
)

// Target is one identifier's heartbeat-relevant fields.
type Target struct {
	Key       string
	SafeName  string
	IP        string
	Port      int
	Namespace string
	Ephemeral bool
	Metadata  map[string]string
}

// Scheduler emits one heartbeat per enabled target at every tick, skipping
// any target whose gate is currently closed.
type Scheduler struct {
	client   *registry.Client
	health   *health.Controller
	targets  []Target
	interval time.Duration
}

// NewScheduler returns a Scheduler ticking every interval.
func NewScheduler(client *registry.Client, controller *health.Controller, targets []Target, interval time.Duration) *Scheduler {
	return &Scheduler{client: client, health: controller, targets: targets, interval: interval}
}

// Name identifies this service to the supervisor.
func (s *Scheduler) Name() string {
	return "heartbeat"
}

// Run ticks until ctx is cancelled, matching the teacher's
// run-then-wait-on-ticker-or-cancellation heartbeat loop shape.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.tick(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	for _, target := range s.targets {
		tag := logging.IdentityTag(target.Key)

		if s.health.Gate(target.Key) == health.GateClosed {
			slog.Info("heartbeat stopped", "tag", tag)
			continue
		}

		weight := s.health.Weight(target.Key)
		err := s.client.SendBeat(ctx, target.SafeName, target.IP, target.Port, target.Namespace, target.Metadata, target.Ephemeral, weight, s.interval)
		if err != nil {
			slog.Warn("heartbeat failed", "tag", logging.TagError, "key", target.Key, "error", err)
			continue
		}
	}
}
