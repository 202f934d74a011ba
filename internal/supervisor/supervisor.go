// Package supervisor runs the host's independent long-lived services —
// the heartbeat scheduler, each config watch, and the RPC listener — as
// goroutines with automatic restart on failure, realizing spec.md §4.G's
// Event Loop as task-based concurrency rather than a literal single-threaded
// readiness scan (spec.md §9 Design Notes explicitly allows this).
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"nacoshost/internal/logging"
)

// Service is implemented by anything the Supervisor runs and restarts.
type Service interface {
	// Run blocks until ctx is cancelled or the service fails.
	Run(ctx context.Context) error
	// Name identifies the service in logs and status output.
	Name() string
}

// restartDelay is the pause before restarting a failed service.
const restartDelay = time.Second

// Config parameterizes a Supervisor.
type Config struct {
	// ShutdownTimeout bounds how long Run waits for services to stop once
	// its context is cancelled. Default: 10s.
	ShutdownTimeout time.Duration
}

// State is a supervised service's lifecycle phase.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateFailed
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateFailed:
		return "failed"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// Status reports one service's current lifecycle snapshot.
type Status struct {
	Name      string
	State     State
	StartTime time.Time
	Restarts  int
	LastError error
}

type tracked struct {
	service   Service
	state     State
	startTime time.Time
	restarts  int
	lastError error
	cancel    context.CancelFunc
}

// Supervisor runs a fixed set of services for the process lifetime,
// restarting any that return before the parent context is cancelled.
type Supervisor struct {
	cfg Config

	mu       sync.RWMutex
	services map[string]*tracked
	running  bool
	wg       sync.WaitGroup
}

// New returns a Supervisor.
func New(cfg Config) *Supervisor {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	return &Supervisor{cfg: cfg, services: make(map[string]*tracked)}
}

// Add registers svc. If the Supervisor is already running, svc starts
// immediately.
func (s *Supervisor) Add(svc Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := svc.Name()
	if _, exists := s.services[name]; exists {
		return fmt.Errorf("service %q already registered", name)
	}

	entry := &tracked{service: svc, state: StateIdle}
	s.services[name] = entry

	if s.running {
		s.start(entry)
	}
	return nil
}

// Status returns a snapshot of every registered service.
func (s *Supervisor) Status() []Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Status, 0, len(s.services))
	for _, e := range s.services {
		out = append(out, Status{
			Name:      e.service.Name(),
			State:     e.state,
			StartTime: e.startTime,
			Restarts:  e.restarts,
			LastError: e.lastError,
		})
	}
	return out
}

// Run starts every registered service and blocks until ctx is cancelled,
// then stops them all gracefully.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("supervisor already running")
	}
	s.running = true
	for _, entry := range s.services {
		s.start(entry)
	}
	s.mu.Unlock()

	slog.Info("supervisor started", "tag", logging.TagInit, "services", len(s.services))

	<-ctx.Done()

	slog.Info("supervisor stopping", "tag", logging.TagExit)
	return s.shutdown()
}

func (s *Supervisor) start(entry *tracked) {
	ctx, cancel := context.WithCancel(context.Background())
	entry.cancel = cancel
	entry.state = StateRunning
	entry.startTime = time.Now()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runLoop(ctx, entry)
	}()
}

func (s *Supervisor) runLoop(ctx context.Context, entry *tracked) {
	for {
		if ctx.Err() != nil {
			entry.state = StateStopped
			return
		}

		entry.state = StateRunning
		entry.startTime = time.Now()
		err := entry.service.Run(ctx)

		if ctx.Err() != nil {
			entry.state = StateStopped
			return
		}

		entry.state = StateFailed
		entry.lastError = err
		entry.restarts++
		slog.Warn("service failed, restarting", "tag", logging.TagError, "service", entry.service.Name(), "restarts", entry.restarts, "error", err)

		select {
		case <-ctx.Done():
			entry.state = StateStopped
			return
		case <-time.After(restartDelay):
		}
	}
}

func (s *Supervisor) shutdown() error {
	s.mu.Lock()
	for _, entry := range s.services {
		if entry.cancel != nil {
			entry.state = StateStopping
			entry.cancel()
		}
	}
	s.running = false
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("all services stopped", "tag", logging.TagExit)
		return nil
	case <-time.After(s.cfg.ShutdownTimeout):
		return errors.New("shutdown timeout exceeded")
	}
}
