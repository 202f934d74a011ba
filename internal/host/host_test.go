package host

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"nacoshost/internal/config"
	"nacoshost/internal/sample"
)

func newTestConfig(registryURL string) *config.HostConfig {
	return &config.HostConfig{
		Server: config.ServerConfig{
			Host:              registryURL,
			Username:          "u",
			Password:          "p",
			HeartbeatInterval: 5,
		},
		Instance: config.InstanceConfig{
			IP:               "127.0.0.1",
			Port:             18080,
			Weight:           1.0,
			TimeoutThreshold: 50,
		},
		Health: config.HealthConfig{
			StatWindowSize: 10,
			AdjustCoolDown: 5,
		},
		Service: map[string]config.ServiceConfig{
			"demo": {Enable: true},
		},
		Config: map[string]config.ConfigWatchConfig{},
	}
}

// newRegistryStub serves the registry endpoints a host touches. With
// expectRemove set, the test fails unless RemoveInstance was called.
func newRegistryStub(t *testing.T, expectRemove bool) *httptest.Server {
	t.Helper()

	var removed int32
	mux := http.NewServeMux()
	mux.HandleFunc("/nacos/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"accessToken":"tok","tokenTtl":3600}`))
	})
	mux.HandleFunc("/nacos/v1/ns/instance", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			w.Write([]byte("ok"))
		case http.MethodDelete:
			atomic.AddInt32(&removed, 1)
			w.Write([]byte("ok"))
		}
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	t.Cleanup(func() {
		if expectRemove && atomic.LoadInt32(&removed) == 0 {
			t.Error("expected RemoveInstance to be called during shutdown")
		}
	})
	return srv
}

func TestHost_StartRegistersAndShutdownDeregisters(t *testing.T) {
	srv := newRegistryStub(t, true)
	cfg := newTestConfig(srv.URL)

	h, err := New(cfg, map[string]any{"demo": &sample.Demo{}}, WithRPCAddr("127.0.0.1:0"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancellation")
	}
}

func TestHost_New_MissingSinkForEnabledWatchFails(t *testing.T) {
	srv := newRegistryStub(t, false)
	cfg := newTestConfig(srv.URL)
	cfg.Service = map[string]config.ServiceConfig{}
	cfg.Config = map[string]config.ConfigWatchConfig{
		"app": {Enable: true, DataID: "app.yaml", Group: "DEFAULT_GROUP"},
	}

	_, err := New(cfg, map[string]any{})
	if err == nil {
		t.Fatal("expected error when an enabled config watch has no registered sink")
	}
}

func TestHost_New_WithConfigSinkSucceeds(t *testing.T) {
	srv := newRegistryStub(t, false)
	cfg := newTestConfig(srv.URL)
	cfg.Service = map[string]config.ServiceConfig{}
	cfg.Config = map[string]config.ConfigWatchConfig{
		"app": {Enable: true, DataID: "app.yaml", Group: "DEFAULT_GROUP"},
	}

	received := make(chan string, 1)
	h, err := New(cfg, map[string]any{}, WithConfigSink("app", func(content string) error {
		received <- content
		return nil
	}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if h == nil {
		t.Fatal("expected non-nil host")
	}
}

func TestHost_New_MissingImplementationFails(t *testing.T) {
	srv := newRegistryStub(t, false)
	cfg := newTestConfig(srv.URL)

	_, err := New(cfg, map[string]any{})
	if err == nil {
		t.Fatal("expected error when an enabled service has no implementation")
	}
}

func TestHost_StatusLines_ReportsGateAndWeight(t *testing.T) {
	srv := newRegistryStub(t, true)
	cfg := newTestConfig(srv.URL)

	h, err := New(cfg, map[string]any{"demo": &sample.Demo{}}, WithRPCAddr("127.0.0.1:0"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	lines := h.StatusLines()
	if len(lines) != 1 {
		t.Fatalf("len(lines) = %d, want 1", len(lines))
	}
	if !strings.Contains(lines[0], "demo") || !strings.Contains(lines[0], "gate=") || !strings.Contains(lines[0], "weight=") {
		t.Errorf("unexpected status line: %q", lines[0])
	}

	h.Shutdown(context.Background())
}
