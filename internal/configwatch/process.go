package configwatch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"nacoshost/internal/logging"
)

// process interprets a long-poll response and returns the next cycle's
// delay (spec.md §4.E).
func (w *Watch) process(ctx context.Context, resp *http.Response) (time.Duration, error) {
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		if _, err := w.client.ForceRefresh(ctx); err != nil {
			w.phase = w.phase.Transition(PhaseClosed)
			w.phase = w.phase.Transition(PhaseConnecting)
			return unauthorizedRetry, fmt.Errorf("refresh token after %d: %w", resp.StatusCode, err)
		}
		w.phase = w.phase.Transition(PhaseSending)
		return unauthorizedRetry, nil

	case http.StatusBadRequest:
		w.phase = w.phase.Transition(PhaseSending)
		return failureRetryDelay, fmt.Errorf("long-poll rejected: status 400")

	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			w.phase = w.phase.Transition(PhaseClosed)
			w.phase = w.phase.Transition(PhaseConnecting)
			return failureRetryDelay, fmt.Errorf("read long-poll body: %w", err)
		}
		if len(body) == 0 {
			w.phase = w.phase.Transition(PhaseSending)
			return normalRetryDelay, nil
		}
		if err := w.handleChanges(ctx, body); err != nil {
			slog.Warn("config change handling failed", "tag", logging.TagConfig, "key", w.spec.Key, "error", err)
		}
		w.phase = w.phase.Transition(PhaseSending)
		return normalRetryDelay, nil

	default:
		w.phase = w.phase.Transition(PhaseClosed)
		w.phase = w.phase.Transition(PhaseConnecting)
		return failureRetryDelay, fmt.Errorf("long-poll: unexpected status %d", resp.StatusCode)
	}
}

// handleChanges decodes a non-empty long-poll body: URL-decode, split by
// the record separator, then by the field separator within each record.
func (w *Watch) handleChanges(ctx context.Context, body []byte) error {
	decoded, err := url.QueryUnescape(string(body))
	if err != nil {
		return fmt.Errorf("url-decode change body: %w", err)
	}

	for _, record := range strings.Split(decoded, ls) {
		if record == "" {
			continue
		}
		fields := strings.Split(record, ws)
		if len(fields) < 2 {
			continue
		}
		changedDataID, changedGroup := fields[0], fields[1]
		if changedGroup == "" {
			changedGroup = "default"
		}
		if !w.matches(changedDataID, changedGroup) {
			continue
		}
		if err := w.refetch(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (w *Watch) matches(changedDataID, changedGroup string) bool {
	if changedDataID != w.spec.DataID {
		return false
	}
	return changedGroup == w.spec.Group || (w.spec.Group == "" && changedGroup == "default")
}

func (w *Watch) refetch(ctx context.Context) error {
	content, err := w.client.GetConfig(ctx, w.spec.DataID, w.spec.Group, w.spec.Tenant)
	if err != nil {
		return fmt.Errorf("refetch %s/%s: %w", w.spec.DataID, w.spec.Group, err)
	}
	if content == w.content {
		return nil
	}
	w.setContent(content)

	if w.spec.Sink == nil {
		return nil
	}
	if err := w.spec.Sink(content); err != nil {
		return fmt.Errorf("sink invocation: %w", err)
	}
	return nil
}
