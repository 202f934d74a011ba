package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"nacoshost/internal/health"
	"nacoshost/internal/hostsvc"
	"nacoshost/internal/logging"
)

var tracer = otel.Tracer("nacoshost/internal/rpc")

// Dispatcher resolves and invokes RPC calls against the registered service
// entries (spec.md §4.F).
type Dispatcher struct {
	entries          map[string]*hostsvc.ServiceEntry
	health           *health.Controller
	timeoutThreshold time.Duration
	latency          metric.Float64Histogram
}

// DispatcherOption customizes NewDispatcher.
type DispatcherOption func(*Dispatcher) error

// WithLatencyHistogram records each dispatched call's duration, in
// milliseconds, tagged by identifier and method, on the
// "nacoshost.rpc.latency" histogram (spec.md §9 ambient metrics).
func WithLatencyHistogram(meter metric.Meter) DispatcherOption {
	return func(d *Dispatcher) error {
		h, err := meter.Float64Histogram(
			"nacoshost.rpc.latency",
			metric.WithDescription("RPC dispatch latency"),
			metric.WithUnit("ms"),
		)
		if err != nil {
			return fmt.Errorf("create latency histogram: %w", err)
		}
		d.latency = h
		return nil
	}
}

// NewDispatcher returns a Dispatcher over entries. A failing opt disables
// the metric it would have registered rather than failing construction; the
// error is logged.
func NewDispatcher(entries map[string]*hostsvc.ServiceEntry, controller *health.Controller, timeoutThreshold time.Duration, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{entries: entries, health: controller, timeoutThreshold: timeoutThreshold}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			slog.Warn("dispatcher option failed", "tag", logging.TagError, "error", err)
		}
	}
	return d
}

// Dispatch runs the 9-step dispatch algorithm over one raw request frame
// (without its trailing newline) and returns the JSON-encoded response,
// also without a trailing newline.
func (d *Dispatcher) Dispatch(ctx context.Context, raw []byte) []byte {
	resp := d.dispatch(ctx, raw)
	out, err := json.Marshal(resp)
	if err != nil {
		// Marshaling our own Response struct cannot fail in practice; fall
		// back to a minimal internal-error frame rather than panic.
		out, _ = json.Marshal(errorResponse(nil, CodeInternalError, "internal error"))
	}
	return out
}

func (d *Dispatcher) dispatch(ctx context.Context, raw []byte) Response {
	// Step 1: parse.
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return errorResponse(nil, CodeParseError, "parse error")
	}

	// Step 2: require jsonrpc/method/id.
	if req.JSONRPC != "2.0" || req.Method == "" || len(req.ID) == 0 {
		return errorResponse(req.ID, CodeInvalidRequest, "invalid request")
	}

	// Step 3: split method on first '.'.
	identifier, funcName, ok := splitMethod(req.Method)
	if !ok {
		return errorResponse(req.ID, CodeInvalidRequest, "malformed method, expected \"identifier.funcName\"")
	}

	// Step 4: resolve identifier.
	entry, ok := d.entries[identifier]
	if !ok {
		return errorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("unknown identifier %q; known: %s", identifier, strings.Join(d.knownIdentifiers(), ", ")))
	}

	// Step 5: resolve real method via the contract alias map.
	method, desc, ok := entry.ResolveMethod(funcName)
	if !ok {
		return errorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("unknown method %q on %q", funcName, identifier))
	}

	// Step 6: validate params.
	params, verr := decodeParams(req.Params)
	if verr != nil {
		return errorResponse(req.ID, verr.Code, verr.Message)
	}
	if verr := validateParams(params, desc); verr != nil {
		return errorResponse(req.ID, verr.Code, verr.Message)
	}

	ctx, span := tracer.Start(ctx, "rpc.dispatch", trace.WithAttributes(
		attribute.String("rpc.identifier", identifier),
		attribute.String("rpc.method", funcName),
	))
	defer span.End()

	// Step 7: invoke, measuring elapsed time.
	args, cerr := buildArgs(method, params)
	if cerr != nil {
		span.RecordError(cerr)
		span.SetStatus(codes.Error, "argument conversion")
		return errorResponse(req.ID, CodeInvalidParams, cerr.Error())
	}

	t0 := time.Now()
	results := method.Call(args)
	elapsed := time.Since(t0)
	timeout := elapsed > d.timeoutThreshold

	if d.latency != nil {
		d.latency.Record(ctx, float64(elapsed.Microseconds())/1000, metric.WithAttributes(
			attribute.String("identifier", identifier),
			attribute.String("method", funcName),
		))
	}

	result, callErr := splitResults(results)

	if callErr != nil {
		d.health.RecordOutcome(identifier, timeout, true, time.Now())
		span.RecordError(callErr)
		span.SetStatus(codes.Error, "method invocation")
		return errorResponse(req.ID, CodeInternalError, fmt.Sprintf("method invocation: %s", callErr))
	}

	// Step 8: success.
	d.health.RecordOutcome(identifier, timeout, false, time.Now())
	return successResponse(req.ID, result)
}

func (d *Dispatcher) knownIdentifiers() []string {
	out := make([]string, 0, len(d.entries))
	for k := range d.entries {
		out = append(out, k)
	}
	return out
}

// splitMethod splits on the first '.', requiring both parts non-empty.
func splitMethod(method string) (identifier, funcName string, ok bool) {
	i := strings.IndexByte(method, '.')
	if i <= 0 || i == len(method)-1 {
		return "", "", false
	}
	return method[:i], method[i+1:], true
}

// splitResults interprets a method's return values under the conventional
// Go shapes: (T, error), (error), or (T) alone.
func splitResults(results []reflect.Value) (any, error) {
	if len(results) == 0 {
		return nil, nil
	}

	last := results[len(results)-1]
	if isErrorType(last.Type()) {
		var err error
		if !last.IsNil() {
			err = last.Interface().(error)
		}
		if len(results) == 1 {
			return nil, err
		}
		return results[0].Interface(), err
	}
	return results[0].Interface(), nil
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

func isErrorType(t reflect.Type) bool {
	return t.Implements(errorType)
}
