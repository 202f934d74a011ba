package hostsvc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"nacoshost/internal/config"
	"nacoshost/internal/logging"
	"nacoshost/internal/registry"
)

// Registrar builds and registers ServiceEntry values for every enabled
// ServiceSpec (spec.md §4.B).
type Registrar struct {
	client *registry.Client
}

// NewRegistrar returns a Registrar backed by client.
func NewRegistrar(client *registry.Client) *Registrar {
	return &Registrar{client: client}
}

// Build reflects every enabled spec's implementation, found in impls by
// config key, into a ServiceEntry. Returns an error — fatal to the caller,
// per spec.md §4.B — the first time an enabled identifier has no
// implementation or fails reflection.
func (r *Registrar) Build(specs map[string]config.ServiceConfig, impls map[string]any, baseWeight float64) (map[string]*ServiceEntry, error) {
	entries := make(map[string]*ServiceEntry)

	for key, spec := range specs {
		if !spec.Enable {
			continue
		}

		impl, ok := impls[key]
		if !ok || impl == nil {
			return nil, fmt.Errorf("service %q: no implementation registered", key)
		}

		methods, descriptors, err := reflectMethods(impl)
		if err != nil {
			return nil, fmt.Errorf("service %q: %w", key, err)
		}

		entries[key] = &ServiceEntry{
			Key:         key,
			SafeName:    safeName(key),
			Namespace:   spec.Namespace,
			Weight:      baseWeight,
			Impl:        impl,
			methods:     methods,
			descriptors: descriptors,
			contract:    spec.Contract,
		}
	}

	return entries, nil
}

// RegisterAll registers every entry as an ephemeral, healthy instance with
// the registry adapter. The first registration failure is returned — fatal
// to startup, per spec.md §4.B.
func (r *Registrar) RegisterAll(ctx context.Context, entries map[string]*ServiceEntry, ip string, port int) error {
	for key, entry := range entries {
		metadata, err := entry.metadata()
		if err != nil {
			return fmt.Errorf("service %q: build metadata: %w", key, err)
		}

		if err := r.client.CreateInstance(ctx, entry.SafeName, ip, port, entry.Namespace, metadata, entry.Weight, true, true); err != nil {
			return fmt.Errorf("service %q: register instance: %w", key, err)
		}

		slog.Info("service registered", "tag", logging.TagService, "key", key, "safeName", entry.SafeName, "weight", entry.Weight)
	}
	return nil
}

// wireMetadata is the exact serviceMetadata envelope spec.md §6 mandates:
// {"serviceKey":"<k>","methods":{"<name>":{"params":[...]}},"contract":{...}}
type wireMetadata struct {
	ServiceKey string                     `json:"serviceKey"`
	Methods    map[string]wireMethodEntry `json:"methods"`
	Contract   map[string]string          `json:"contract"`
}

type wireMethodEntry struct {
	Params []Param `json:"params"`
}

// metadata builds the registry metadata map (spec.md §6): serviceMetadata
// carries the JSON-encoded wire envelope, description is a short summary.
func (e *ServiceEntry) metadata() (map[string]string, error) {
	methods := make(map[string]wireMethodEntry, len(e.descriptors))
	for name, d := range e.descriptors {
		methods[name] = wireMethodEntry{Params: d.Params}
	}
	contract := e.contract
	if contract == nil {
		contract = map[string]string{}
	}

	raw, err := json.Marshal(wireMetadata{
		ServiceKey: e.Key,
		Methods:    methods,
		Contract:   contract,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal service metadata: %w", err)
	}
	return map[string]string{
		"serviceMetadata": string(raw),
		"description":     fmt.Sprintf("%d exposed method(s)", len(e.descriptors)),
	}, nil
}
