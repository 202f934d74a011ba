package rpc

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"

	"nacoshost/internal/logging"
)

// Listener accepts client connections and drains each one's newline-framed
// JSON-RPC requests through a Dispatcher (spec.md §4.F transport).
//
// Accepted connections are handled one per goroutine rather than multiplexed
// on a single readiness primitive — idiomatic Go concurrency standing in for
// the single-threaded cooperative scheduler spec.md §4.G describes, with the
// supervisor (internal/supervisor) providing the restart-on-failure
// discipline the original's single loop got for free.
type Listener struct {
	addr       string
	dispatcher *Dispatcher

	ln net.Listener
}

// NewListener returns a Listener bound to addr (e.g. "0.0.0.0:8090") once
// Run is called.
func NewListener(addr string, dispatcher *Dispatcher) *Listener {
	return &Listener{addr: addr, dispatcher: dispatcher}
}

// Name identifies this service to the supervisor.
func (l *Listener) Name() string {
	return "rpc-listener"
}

// Run binds the listener and accepts connections until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	cfg := net.ListenConfig{}
	ln, err := cfg.Listen(ctx, "tcp", l.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", l.addr, err)
	}
	l.ln = ln

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	slog.Info("listening", "tag", logging.TagTCP, "addr", l.addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("accept: %w", err)
		}
		go l.handle(ctx, conn)
	}
}

// Close closes the underlying listener, if bound. Safe to call once.
func (l *Listener) Close() error {
	if l.ln == nil {
		return nil
	}
	return l.ln.Close()
}

// handle drains one connection's newline-framed requests (spec.md §4.F:
// "an implementation that requires a complete frame per read is
// permitted").
func (l *Listener) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)

	for scanner.Scan() {
		frame := scanner.Bytes()
		if len(frame) == 0 {
			continue
		}

		resp := l.dispatcher.Dispatch(ctx, frame)
		resp = append(resp, '\n')
		if _, err := conn.Write(resp); err != nil {
			slog.Warn("write failed", "tag", logging.TagTCP, "peer", conn.RemoteAddr(), "error", err)
			return
		}
	}

	if err := scanner.Err(); err != nil {
		slog.Warn("read failed", "tag", logging.TagTCP, "peer", conn.RemoteAddr(), "error", err)
	}
}
