// Package host wires the host's configuration, registry adapter, service
// registrar, health controller, heartbeat scheduler, config watches, and RPC
// transport into one supervised process (spec.md §6 Host lifecycle).
package host

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"nacoshost/internal/config"
	"nacoshost/internal/configwatch"
	"nacoshost/internal/health"
	"nacoshost/internal/heartbeat"
	"nacoshost/internal/hostsvc"
	"nacoshost/internal/logging"
	"nacoshost/internal/registry"
	"nacoshost/internal/rpc"
	"nacoshost/internal/supervisor"
)

// Host owns every long-lived component the process runs and coordinates
// startup and graceful shutdown.
type Host struct {
	cfg        *config.HostConfig
	client     *registry.Client
	controller *health.Controller
	entries    map[string]*hostsvc.ServiceEntry
	listener   *rpc.Listener
	supervisor *supervisor.Supervisor

	shutdownOnce sync.Once
}

// Option customizes New.
type Option func(*options)

type options struct {
	meter    metric.Meter
	sinks    map[string]configwatch.Sink
	rpcAddr  string
}

// WithMeter registers an OpenTelemetry meter for instance-weight gauges.
func WithMeter(meter metric.Meter) Option {
	return func(o *options) { o.meter = meter }
}

// WithConfigSink binds name (a config.<name> entry's key) to a callback
// invoked with newly observed content.
func WithConfigSink(name string, sink configwatch.Sink) Option {
	return func(o *options) {
		if o.sinks == nil {
			o.sinks = make(map[string]configwatch.Sink)
		}
		o.sinks[name] = sink
	}
}

// WithRPCAddr overrides the bind address the JSON-RPC listener uses; the
// default is "0.0.0.0:<instance.port>", so instance.ip is only the address
// advertised to the registry.
func WithRPCAddr(addr string) Option {
	return func(o *options) { o.rpcAddr = addr }
}

// New builds a Host from cfg and impls (identifier -> bound implementation,
// spec.md §4.B). Every enabled service.<k> entry must have a corresponding
// impls[k].
func New(cfg *config.HostConfig, impls map[string]any, opts ...Option) (*Host, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	client := registry.New(cfg.Server.Host, cfg.Server.Username, cfg.Server.Password)

	registrar := hostsvc.NewRegistrar(client)
	entries, err := registrar.Build(cfg.Service, impls, cfg.Instance.Weight)
	if err != nil {
		return nil, fmt.Errorf("build service registrations: %w", err)
	}

	controller, err := health.NewController(client, o.meter)
	if err != nil {
		return nil, fmt.Errorf("new health controller: %w", err)
	}
	for key := range entries {
		controller.Register(key, health.InstanceRef{
			SafeName:  entries[key].SafeName,
			IP:        cfg.Instance.IP,
			Port:      cfg.Instance.Port,
			Namespace: entries[key].Namespace,
			Ephemeral: true,
		}, cfg.Health.StatWindowSize, cfg.Instance.Weight, cfg.AdjustCoolDown())
	}

	sup := supervisor.New(supervisor.Config{})

	targets := make([]heartbeat.Target, 0, len(entries))
	for key, e := range entries {
		targets = append(targets, heartbeat.Target{
			Key:       key,
			SafeName:  e.SafeName,
			IP:        cfg.Instance.IP,
			Port:      cfg.Instance.Port,
			Namespace: e.Namespace,
			Ephemeral: true,
		})
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].Key < targets[j].Key })
	if len(targets) > 0 {
		scheduler := heartbeat.NewScheduler(client, controller, targets, cfg.HeartbeatInterval())
		if err := sup.Add(scheduler); err != nil {
			return nil, fmt.Errorf("add heartbeat scheduler: %w", err)
		}
	}

	for name, cw := range cfg.Config {
		if !cw.Enable {
			continue
		}
		sink := o.sinks[cw.Callback]
		if sink == nil {
			sink = o.sinks[name]
		}
		if sink == nil {
			return nil, fmt.Errorf("config.%s is enabled but no sink was registered (callback=%q)", name, cw.Callback)
		}
		watch := configwatch.NewWatch(configwatch.Spec{
			Key:     name,
			DataID:  cw.DataID,
			Group:   cw.Group,
			Tenant:  cw.Tenant,
			Publish: cw.Publish,
			File:    cw.File,
			Sink:    sink,
		}, client)
		if err := sup.Add(watch); err != nil {
			return nil, fmt.Errorf("add config watch %s: %w", name, err)
		}
	}

	var dispatchOpts []rpc.DispatcherOption
	if o.meter != nil {
		dispatchOpts = append(dispatchOpts, rpc.WithLatencyHistogram(o.meter))
	}
	dispatcher := rpc.NewDispatcher(entries, controller, cfg.TimeoutThreshold(), dispatchOpts...)
	addr := o.rpcAddr
	if addr == "" {
		addr = fmt.Sprintf("0.0.0.0:%d", cfg.Instance.Port)
	}
	listener := rpc.NewListener(addr, dispatcher)
	if err := sup.Add(listener); err != nil {
		return nil, fmt.Errorf("add rpc listener: %w", err)
	}

	return &Host{
		cfg:        cfg,
		client:     client,
		controller: controller,
		entries:    entries,
		listener:   listener,
		supervisor: sup,
	}, nil
}

// Start registers every enabled identifier with the registry, then blocks
// running the supervised service set (heartbeat, config watches, RPC
// listener) until ctx is cancelled, at which point it performs the
// graceful-shutdown sequence from spec.md §6.
func (h *Host) Start(ctx context.Context) error {
	if err := hostsvc.NewRegistrar(h.client).RegisterAll(ctx, h.entries, h.cfg.Instance.IP, h.cfg.Instance.Port); err != nil {
		return fmt.Errorf("register instances: %w", err)
	}

	evalCtx, cancelEval := context.WithCancel(ctx)
	defer cancelEval()
	go h.runEvaluationLoop(evalCtx)

	err := h.supervisor.Run(ctx)
	h.Shutdown(context.Background())
	return err
}

// evaluationInterval is the fixed cadence at which health windows are
// evaluated (spec.md §4.C/§4.G: every 5s, independent of the configurable
// cooldown C_cd that only gates whether an evaluation's gate/weight actions
// take effect).
const evaluationInterval = 5 * time.Second

// runEvaluationLoop periodically evaluates every registered identifier's
// rolling health window (spec.md §4.C), independent of the supervised
// services so a stalled evaluation never blocks heartbeats or RPC dispatch.
func (h *Host) runEvaluationLoop(ctx context.Context) {
	ticker := time.NewTicker(evaluationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.controller.EvaluateAll(ctx, time.Now())
		}
	}
}

// Shutdown deregisters every enabled identifier and closes the RPC
// listener. Safe to call more than once; only the first call has effect.
func (h *Host) Shutdown(ctx context.Context) {
	h.shutdownOnce.Do(func() {
		for key, e := range h.entries {
			if err := h.client.RemoveInstance(ctx, e.SafeName, h.cfg.Instance.IP, h.cfg.Instance.Port, e.Namespace, true); err != nil {
				slog.Warn("deregister failed", "tag", logging.TagExit, "identifier", key, "error", err)
			}
		}
		if err := h.listener.Close(); err != nil {
			slog.Warn("listener close failed", "tag", logging.TagExit, "error", err)
		}
	})
}

// RecordOutcome lets an implementation report a call's timeout/error
// outcome into the health controller for the given identifier. The RPC
// dispatcher already records one outcome per dispatched call; this adds an
// extra one for implementations that want to record synchronously.
func (h *Host) RecordOutcome(identifier string, timedOut, isErr bool) {
	h.controller.RecordOutcome(identifier, timedOut, isErr, time.Now())
}

// StatusLines renders one line per registered identifier's current gate,
// weight, timeout-rate and error-rate, used by the status CLI subcommand.
func (h *Host) StatusLines() []string {
	keys := make([]string, 0, len(h.entries))
	for k := range h.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		tRate, eRate := h.controller.Rates(k)
		lines = append(lines, fmt.Sprintf("%s\tgate=%s\tweight=%.2f\ttimeout_rate=%.2f\terror_rate=%.2f",
			k, h.controller.Gate(k), h.controller.Weight(k), tRate, eRate))
	}
	return lines
}
