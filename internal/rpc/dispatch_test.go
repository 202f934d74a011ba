package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"nacoshost/internal/config"
	"nacoshost/internal/health"
	"nacoshost/internal/hostsvc"
	"nacoshost/internal/registry"
)

type demoService struct{}

func (d *demoService) Add(name string, age int) string {
	return name
}

func (d *demoService) Fail() error {
	return errors.New("boom")
}

func (d *demoService) Login(token string) bool {
	return token != ""
}

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()

	registrar := hostsvc.NewRegistrar(registry.New("http://unused", "u", "p"))
	specs := map[string]config.ServiceConfig{
		"demo": {Enable: true, Contract: map[string]string{"logout": "Login"}},
	}
	entries, err := registrar.Build(specs, map[string]any{"demo": &demoService{}}, 1.0)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	controller, err := health.NewController(registry.New("http://unused", "u", "p"), nil)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	controller.Register("demo", health.InstanceRef{}, 10, 1.0, time.Second)

	return NewDispatcher(entries, controller, 100*time.Millisecond)
}

func TestDispatch_ParseError(t *testing.T) {
	d := newTestDispatcher(t)
	resp := d.dispatch(context.Background(), []byte("{not json"))
	if resp.Error == nil || resp.Error.Code != CodeParseError {
		t.Fatalf("expected parse error, got %+v", resp)
	}
	if resp.ID != nil {
		t.Errorf("expected id=null on parse error, got %s", resp.ID)
	}
}

func TestDispatch_InvalidRequest_MissingFields(t *testing.T) {
	d := newTestDispatcher(t)
	resp := d.dispatch(context.Background(), []byte(`{"jsonrpc":"2.0"}`))
	if resp.Error == nil || resp.Error.Code != CodeInvalidRequest {
		t.Fatalf("expected invalid request, got %+v", resp)
	}
}

func TestDispatch_MalformedMethod(t *testing.T) {
	d := newTestDispatcher(t)
	resp := d.dispatch(context.Background(), []byte(`{"jsonrpc":"2.0","method":"noDotHere","id":"1"}`))
	if resp.Error == nil || resp.Error.Code != CodeInvalidRequest {
		t.Fatalf("expected invalid request for method with no dot, got %+v", resp)
	}
}

func TestDispatch_UnknownIdentifier(t *testing.T) {
	d := newTestDispatcher(t)
	resp := d.dispatch(context.Background(), []byte(`{"jsonrpc":"2.0","method":"ghost.Add","params":[],"id":"1"}`))
	if resp.Error == nil || resp.Error.Code != CodeMethodNotFound {
		t.Fatalf("expected method not found for unknown identifier, got %+v", resp)
	}
}

func TestDispatch_UnknownMethod(t *testing.T) {
	d := newTestDispatcher(t)
	resp := d.dispatch(context.Background(), []byte(`{"jsonrpc":"2.0","method":"demo.Nope","params":[],"id":"1"}`))
	if resp.Error == nil || resp.Error.Code != CodeMethodNotFound {
		t.Fatalf("expected method not found, got %+v", resp)
	}
}

func TestDispatch_InvalidParams_ObjectShaped(t *testing.T) {
	d := newTestDispatcher(t)
	resp := d.dispatch(context.Background(), []byte(`{"jsonrpc":"2.0","method":"demo.Add","params":{"name":"a"},"id":"1"}`))
	if resp.Error == nil || resp.Error.Code != CodeInvalidParams {
		t.Fatalf("expected invalid params for object-shaped params, got %+v", resp)
	}
}

func TestDispatch_InvalidParams_TypeMismatch(t *testing.T) {
	d := newTestDispatcher(t)
	resp := d.dispatch(context.Background(), []byte(`{"jsonrpc":"2.0","method":"demo.Add","params":["bob","notanumber"],"id":"1"}`))
	if resp.Error == nil || resp.Error.Code != CodeInvalidParams {
		t.Fatalf("expected invalid params for type mismatch, got %+v", resp)
	}
}

func TestDispatch_Success(t *testing.T) {
	d := newTestDispatcher(t)
	resp := d.dispatch(context.Background(), []byte(`{"jsonrpc":"2.0","method":"demo.Add","params":["bob",30],"id":"1"}`))
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	if resp.Result != "bob" {
		t.Errorf("result = %v, want %q", resp.Result, "bob")
	}
}

func TestDispatch_Success_LowercaseWireMethod(t *testing.T) {
	d := newTestDispatcher(t)
	resp := d.dispatch(context.Background(), []byte(`{"jsonrpc":"2.0","method":"demo.add","params":["bob",30],"id":"1"}`))
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	if resp.Result != "bob" {
		t.Errorf("result = %v, want %q", resp.Result, "bob")
	}
}

func TestDispatch_ContractAlias(t *testing.T) {
	d := newTestDispatcher(t)
	resp := d.dispatch(context.Background(), []byte(`{"jsonrpc":"2.0","method":"demo.logout","params":["tok"],"id":"1"}`))
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	if resp.Result != true {
		t.Errorf("result = %v, want true", resp.Result)
	}
}

func TestDispatch_InvocationFailure(t *testing.T) {
	d := newTestDispatcher(t)
	resp := d.dispatch(context.Background(), []byte(`{"jsonrpc":"2.0","method":"demo.Fail","params":[],"id":"1"}`))
	if resp.Error == nil || resp.Error.Code != CodeInternalError {
		t.Fatalf("expected internal error from failing invocation, got %+v", resp)
	}
}

func TestDispatch_WithLatencyHistogram_RecordsOnSuccess(t *testing.T) {
	registrar := hostsvc.NewRegistrar(registry.New("http://unused", "u", "p"))
	entries, err := registrar.Build(
		map[string]config.ServiceConfig{"demo": {Enable: true}},
		map[string]any{"demo": &demoService{}},
		1.0,
	)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	controller, err := health.NewController(registry.New("http://unused", "u", "p"), nil)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	controller.Register("demo", health.InstanceRef{}, 10, 1.0, time.Second)

	meter := noop.NewMeterProvider().Meter("test")
	d := NewDispatcher(entries, controller, time.Second, WithLatencyHistogram(meter))

	resp := d.dispatch(context.Background(), []byte(`{"jsonrpc":"2.0","method":"demo.Add","params":["bob",30],"id":"1"}`))
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
}

func TestDispatch_MarshalsResponseFrame(t *testing.T) {
	d := newTestDispatcher(t)
	out := d.Dispatch(context.Background(), []byte(`{"jsonrpc":"2.0","method":"demo.Add","params":["bob",30],"id":"1"}`))

	var resp Response
	if err := json.Unmarshal(out, &resp); err != nil {
		t.Fatalf("Dispatch output not valid JSON: %v", err)
	}
	if resp.Result != "bob" {
		t.Errorf("result = %v, want %q", resp.Result, "bob")
	}
}
