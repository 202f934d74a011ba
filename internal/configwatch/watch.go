// Package configwatch maintains one long-poll stream per watched
// configuration entry against the registry's config-change notification
// endpoint, detecting content changes and invoking a user-supplied sink
// (spec.md §4.E).
package configwatch

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"nacoshost/internal/logging"
	"nacoshost/internal/registry"
)

const (
	ws = "\x02" // field separator within one watch record
	ls = "\x01" // record separator between watch records

	longPollTimeoutHeader = "30000"
	normalRetryDelay      = 5 * time.Second
	failureRetryDelay     = 3 * time.Second
	unauthorizedRetry     = 2 * time.Second
)

// Sink receives newly-observed content for a watched configuration entry.
type Sink func(content string) error

// Spec describes one configuration entry to watch.
type Spec struct {
	Key      string
	DataID   string
	Group    string
	Tenant   string
	Publish  bool
	File     string
	Sink     Sink
}

// Watch runs the long-poll cycle for one Spec.
type Watch struct {
	spec   Spec
	client *registry.Client
	http   *http.Client

	phase   Phase
	content string
	md5Hex  string
}

// NewWatch returns a Watch ready to Run.
func NewWatch(spec Spec, client *registry.Client) *Watch {
	return &Watch{
		spec:   spec,
		client: client,
		http:   &http.Client{Timeout: 35 * time.Second},
		phase:  PhaseConnecting,
	}
}

// Name identifies this service to the supervisor.
func (w *Watch) Name() string {
	return "configwatch:" + w.spec.Key
}

// Run drives the watch cycle until ctx is cancelled.
func (w *Watch) Run(ctx context.Context) error {
	tag := logging.TagConfig

	if w.spec.Publish && w.spec.File != "" {
		if err := w.publishInitial(ctx); err != nil {
			slog.Warn("initial config publish failed", "tag", tag, "key", w.spec.Key, "error", err)
		}
	}
	if err := w.seedContent(ctx); err != nil {
		slog.Warn("initial config fetch failed", "tag", tag, "key", w.spec.Key, "error", err)
	}

	w.phase = w.phase.Transition(PhaseSending)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay, err := w.cycle(ctx)
		if err != nil {
			slog.Warn("config watch cycle failed", "tag", tag, "key", w.spec.Key, "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (w *Watch) publishInitial(ctx context.Context) error {
	data, err := os.ReadFile(w.spec.File)
	if err != nil {
		return fmt.Errorf("read %s: %w", w.spec.File, err)
	}
	return w.client.PublishConfig(ctx, w.spec.DataID, w.spec.Group, string(data), w.spec.Tenant)
}

func (w *Watch) seedContent(ctx context.Context) error {
	content, err := w.client.GetConfig(ctx, w.spec.DataID, w.spec.Group, w.spec.Tenant)
	if err != nil {
		return err
	}
	w.setContent(content)
	return nil
}

func (w *Watch) setContent(content string) {
	w.content = content
	sum := md5.Sum([]byte(content))
	w.md5Hex = hex.EncodeToString(sum[:])
}

// cycle performs one send/await/process round and returns the delay before
// the next attempt.
func (w *Watch) cycle(ctx context.Context) (time.Duration, error) {
	if w.phase != PhaseSending {
		w.phase = w.phase.Transition(PhaseSending)
	}

	form := url.Values{
		"Listening-Configs": {w.listeningConfigs()},
	}
	if w.spec.Tenant != "" {
		form.Set("tenant", w.spec.Tenant)
	}
	token, err := w.client.AccessToken(ctx)
	if err != nil {
		w.phase = w.phase.Transition(PhaseClosed)
		w.phase = w.phase.Transition(PhaseConnecting)
		return failureRetryDelay, fmt.Errorf("access token: %w", err)
	}
	form.Set("accessToken", token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.client.BaseURL()+"/nacos/v1/cs/configs/listener", strings.NewReader(form.Encode()))
	if err != nil {
		w.phase = w.phase.Transition(PhaseClosed)
		w.phase = w.phase.Transition(PhaseConnecting)
		return failureRetryDelay, fmt.Errorf("build listener request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Long-Pulling-Timeout", longPollTimeoutHeader)

	w.phase = w.phase.Transition(PhaseAwaiting)
	resp, err := w.http.Do(req)
	if err != nil {
		w.phase = w.phase.Transition(PhaseClosed)
		w.phase = w.phase.Transition(PhaseConnecting)
		return failureRetryDelay, fmt.Errorf("long-poll request: %w", err)
	}
	defer resp.Body.Close()

	w.phase = w.phase.Transition(PhaseProcessing)
	return w.process(ctx, resp)
}

func (w *Watch) listeningConfigs() string {
	return w.spec.DataID + ws + w.spec.Group + ws + w.md5Hex + ls
}
