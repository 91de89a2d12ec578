// Package server accepts gateway connections on the policy and delivery
// listeners and dispatches each to its protocol handler.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/restmail/restmail-receiver/internal/metrics"
)

// shutdownTimeout is the maximum time to wait for in-flight sessions
// during graceful shutdown.
const shutdownTimeout = 30 * time.Second

// Handler runs one protocol dialog over an accepted connection. The
// handler owns conn and must close it.
type Handler func(ctx context.Context, conn net.Conn)

// Listener binds one address to one protocol handler.
type Listener struct {
	// Name labels the listener in logs and metrics ("policy", "delivery").
	Name string

	// Addr is the address to listen on (e.g. "0.0.0.0:12345").
	Addr string

	// Handler is invoked in its own goroutine per accepted connection.
	Handler Handler
}

// Server accepts on all configured listeners concurrently. Sessions share
// no mutable state; each goroutine owns its connection.
type Server struct {
	listeners []Listener

	// wg tracks in-flight session goroutines for graceful shutdown.
	wg sync.WaitGroup
}

// New creates a Server for the given listeners.
func New(listeners ...Listener) *Server {
	return &Server{listeners: listeners}
}

// ListenAndServe binds every listener and blocks until the context is
// cancelled. On cancellation it stops accepting and waits up to 30
// seconds for in-flight sessions to complete.
func (s *Server) ListenAndServe(ctx context.Context) error {
	open := make([]net.Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		ln, err := net.Listen("tcp", l.Addr)
		if err != nil {
			for _, prev := range open {
				prev.Close()
			}
			return fmt.Errorf("listen %s (%s): %w", l.Addr, l.Name, err)
		}
		slog.Info("listening", "name", l.Name, "addr", ln.Addr().String())
		open = append(open, ln)
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down listeners")
		for _, ln := range open {
			ln.Close()
		}
	}()

	var accept sync.WaitGroup
	for i := range s.listeners {
		accept.Add(1)
		go func(ln net.Listener, l Listener) {
			defer accept.Done()
			s.acceptLoop(ctx, ln, l)
		}(open[i], s.listeners[i])
	}
	accept.Wait()

	s.waitForSessions()
	return nil
}

// acceptLoop accepts until the listener closes during shutdown.
func (s *Server) acceptLoop(ctx context.Context, ln net.Listener, l Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				// Expected error from listener close during shutdown.
				return
			default:
				slog.Error("accept error", "listener", l.Name, "error", err)
				continue
			}
		}

		metrics.ConnectionsTotal.WithLabelValues(l.Name).Inc()
		slog.Debug("connection accepted", "listener", l.Name, "remote", conn.RemoteAddr().String())

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			l.Handler(ctx, conn)
		}()
	}
}

// waitForSessions waits for in-flight sessions to complete, with a
// maximum timeout to prevent indefinite blocking.
func (s *Server) waitForSessions() {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("all sessions completed")
	case <-time.After(shutdownTimeout):
		slog.Warn("shutdown timeout reached, forcing close")
	}
}
