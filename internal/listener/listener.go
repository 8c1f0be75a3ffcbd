// Package listener runs the exporter's HTTP listeners. Every listener owns
// its socket, server and shutdown; listeners share nothing but the handler
// they serve.
package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sourcegraph/conc/panics"

	"github.com/kubeadapt/nvml-exporter/internal/observability"
)

var errServerExited = errors.New("server exited unexpectedly")

// Options configure a Listener.
type Options struct {
	// DrainTimeout bounds graceful shutdown. Zero waits for in-flight
	// requests indefinitely.
	DrainTimeout time.Duration
	// Metrics receives the listener state gauge. Optional.
	Metrics *observability.Metrics
}

// Listener is one bound HTTP server.
type Listener struct {
	addr    string
	handler http.Handler
	opts    Options
	state   *stateMachine

	ready     chan struct{}
	readyOnce sync.Once
	stop      chan struct{}
	stopOnce  sync.Once

	mu    sync.RWMutex
	bound net.Addr

	// listen binds the socket; serve runs the server on it.
	listen func(network, addr string) (net.Listener, error)
	serve  func(srv *http.Server, ln net.Listener) error
}

// New creates a listener for addr. Nothing is bound until Run.
func New(addr string, handler http.Handler, opts Options) *Listener {
	var gauge *prometheus.GaugeVec
	if opts.Metrics != nil {
		gauge = opts.Metrics.ListenerState
	}
	return &Listener{
		addr:    addr,
		handler: handler,
		opts:    opts,
		ready:   make(chan struct{}),
		stop:    make(chan struct{}),
		state:   newStateMachine(addr, gauge),
		listen:  net.Listen,
		serve: func(srv *http.Server, ln net.Listener) error {
			return srv.Serve(ln)
		},
	}
}

// Addr returns the configured listen address.
func (l *Listener) Addr() string { return l.addr }

// BoundAddr returns the address the socket is bound to, or nil before Ready.
func (l *Listener) BoundAddr() net.Addr {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.bound
}

// Ready is closed once the socket is bound and the listener is serving. If
// Run panics after binding, Ready is closed as it unwinds and State reports
// stopped.
func (l *Listener) Ready() <-chan struct{} { return l.ready }

// State returns the current lifecycle state.
func (l *Listener) State() State { return l.state.State() }

// Shutdown asks this listener alone to drain and stop. It returns
// immediately and is safe to call more than once or before Run.
func (l *Listener) Shutdown() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// Run binds, serves until ctx is done or Shutdown is called, then drains
// in-flight requests. It returns nil after a clean drain.
func (l *Listener) Run(ctx context.Context) error {
	defer l.state.transitionTo(StateStopped)

	ln, err := l.listen(network(l.addr), l.addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", l.addr, err)
	}
	defer func() {
		_ = ln.Close()
		l.state.transitionTo(StateStopped)
		l.markReady()
	}()

	srv := &http.Server{
		Handler:           l.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	bound := ln.Addr()
	l.mu.Lock()
	l.bound = bound
	l.mu.Unlock()
	l.state.transitionTo(StateServing)
	l.markReady()
	slog.Info("listening", "address", l.addr, "bound", bound.String())

	served := make(chan error, 1)
	go func() {
		var err error
		if r := panics.Try(func() { err = l.serve(srv, ln) }); r != nil {
			err = r.AsError()
		}
		served <- err
	}()

	select {
	case err := <-served:
		// The server stopped on its own; nothing is left to drain.
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		if err == nil {
			err = errServerExited
		}
		return fmt.Errorf("serve %s: %w", l.addr, err)
	case <-ctx.Done():
	case <-l.stop:
	}

	l.state.transitionTo(StateDraining)
	slog.Debug("draining listener", "address", l.addr)

	drainCtx := context.Background()
	if l.opts.DrainTimeout > 0 {
		var cancel context.CancelFunc
		drainCtx, cancel = context.WithTimeout(drainCtx, l.opts.DrainTimeout)
		defer cancel()
	}

	shutdownErr := srv.Shutdown(drainCtx)
	if shutdownErr != nil {
		_ = srv.Close()
	}
	serveErr := <-served
	if shutdownErr != nil {
		return fmt.Errorf("drain %s: %w", l.addr, shutdownErr)
	}
	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return fmt.Errorf("serve %s: %w", l.addr, serveErr)
	}
	slog.Info("listener stopped", "address", l.addr)
	return nil
}

func (l *Listener) markReady() {
	l.readyOnce.Do(func() { close(l.ready) })
}

// network picks the socket family from a literal IP host. A "tcp" socket on
// the IPv6 wildcard also claims the IPv4 port, so "[::]:P" and "0.0.0.0:P"
// could not both bind. Hostnames keep "tcp".
func network(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return "tcp"
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return "tcp"
	}
	if ip.Unmap().Is4() {
		return "tcp4"
	}
	return "tcp6"
}
