// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package intercept

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/bureau-foundation/llmtap/lib/capture"
	"github.com/bureau-foundation/llmtap/lib/clock"
	"github.com/bureau-foundation/llmtap/lib/config"
)

// Sink receives what the correlator produces. Record is called from
// the consumer goroutine, one exchange at a time. Finish is called
// once by [Manager.Shutdown] with the exchanges still in flight.
type Sink interface {
	Record(exchange capture.Exchange)
	Finish(partial []capture.Exchange) error
}

// ErrNilClient is returned by [Manager.Install] for a nil client.
var ErrNilClient = errors.New("intercept: cannot install on a nil client")

// Config configures a [Manager].
type Config struct {
	// Queue bounds the side channel. Zero fields take the defaults
	// from [config.Default].
	Queue config.QueueConfig

	// Correlator configures exchange assembly. Its Logger defaults to
	// Logger.
	Correlator capture.CorrelatorConfig

	// Sink receives completed exchanges. Required.
	Sink Sink

	Clock  clock.Clock
	Logger *slog.Logger
}

// Manager owns the side channel and the correlator, and installs taps
// on HTTP clients. One Manager serves a process.
type Manager struct {
	queue      *Queue
	correlator *capture.Correlator
	sink       Sink
	clock      clock.Clock
	logger     *slog.Logger

	mu        sync.Mutex
	installed map[*http.Client]installation
	started   bool
	stopped   bool
	done      chan struct{}
}

// installation remembers what Install replaced on a client.
type installation struct {
	tap      *Tap
	previous http.RoundTripper
}

// New creates a Manager. Call [Manager.Start] before traffic flows.
func New(cfg Config) (*Manager, error) {
	if cfg.Sink == nil {
		return nil, errors.New("intercept: sink is required")
	}
	defaults := config.Default().Queue
	if cfg.Queue.Capacity <= 0 {
		cfg.Queue.Capacity = defaults.Capacity
	}
	if cfg.Queue.MaxBytes <= 0 {
		cfg.Queue.MaxBytes = defaults.MaxBytes
	}
	if cfg.Queue.Policy == "" {
		cfg.Queue.Policy = defaults.Policy
	}
	if cfg.Queue.Policy != config.DropOldest && cfg.Queue.Policy != config.Block {
		return nil, fmt.Errorf("intercept: unknown queue policy %q", cfg.Queue.Policy)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Correlator.Logger == nil {
		cfg.Correlator.Logger = logger
	}

	return &Manager{
		queue:      NewQueue(cfg.Queue.Capacity, cfg.Queue.MaxBytes, cfg.Queue.Policy),
		correlator: capture.NewCorrelator(cfg.Correlator),
		sink:       cfg.Sink,
		clock:      cfg.Clock,
		logger:     logger,
		installed:  make(map[*http.Client]installation),
		done:       make(chan struct{}),
	}, nil
}

// Wrap returns a tap in front of next. A nil next wraps
// [http.DefaultTransport].
func (m *Manager) Wrap(next http.RoundTripper) *Tap {
	if next == nil {
		next = http.DefaultTransport
	}
	return &Tap{
		next:   next,
		queue:  m.queue,
		clock:  m.clock,
		logger: m.logger,
	}
}

// Install puts a tap in front of the client's transport. Installing
// twice on the same client is a no-op.
func (m *Manager) Install(client *http.Client) error {
	if client == nil {
		return ErrNilClient
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.installed[client]; ok && client.Transport == existing.tap {
		return nil
	}
	tap := m.Wrap(client.Transport)
	m.installed[client] = installation{tap: tap, previous: client.Transport}
	client.Transport = tap
	return nil
}

// Uninstall restores the transport the client had before Install. A
// client that was never installed on is left alone.
func (m *Manager) Uninstall(client *http.Client) {
	if client == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.installed[client]
	if !ok {
		return
	}
	delete(m.installed, client)
	client.Transport = existing.previous
}

// Dropped returns the number of capture events lost in the side
// channel.
func (m *Manager) Dropped() int64 {
	return m.queue.Dropped()
}

// Start runs the consumer goroutine. It stops when ctx is cancelled
// or at Shutdown, whichever comes first, after draining the queue.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return errors.New("intercept: manager already started")
	}
	if m.stopped {
		return errors.New("intercept: manager already shut down")
	}
	m.started = true
	go m.consume(ctx)
	return nil
}

// consume is the only goroutine that touches the correlator until
// done is closed.
func (m *Manager) consume(ctx context.Context) {
	defer close(m.done)
	for {
		m.drain()
		select {
		case <-m.queue.Notify():
		case <-m.queue.Done():
			m.drain()
			return
		case <-ctx.Done():
			m.queue.Close()
			m.drain()
			return
		}
	}
}

func (m *Manager) drain() {
	for {
		event, ok := m.queue.Pop()
		if !ok {
			return
		}
		m.handle(event)
	}
}

// handle applies one event, keeping a capture-side panic away from the
// consumer loop.
func (m *Manager) handle(event capture.Event) {
	defer func() {
		if recovered := recover(); recovered != nil {
			m.logger.Debug("capture panic in consumer",
				"request_id", event.RequestID,
				"kind", event.Kind,
				"panic", recovered,
			)
		}
	}()
	exchange, ok := m.correlator.Handle(event)
	if !ok {
		return
	}
	m.logger.Debug("exchange complete",
		"request_id", exchange.Request.RequestID,
		"provider", exchange.Request.Provider,
		"model", exchange.Request.Model,
		"status", exchange.Response.Status,
	)
	m.sink.Record(exchange)
}

// Shutdown closes the side channel, waits for the consumer to drain
// it, and hands the still-pending calls to the sink as partial
// exchanges. Taps installed by this manager keep passing traffic
// through but capture nothing afterwards. If ctx ends first the
// pending calls are not flushed and ctx's error is returned.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	started := m.started
	m.mu.Unlock()

	m.queue.Close()
	if started {
		select {
		case <-m.done:
		case <-ctx.Done():
			return fmt.Errorf("intercept: waiting for capture consumer: %w", ctx.Err())
		}
	} else {
		m.drain()
	}

	partial := m.correlator.FlushPending(m.clock.Now().UTC())
	if len(partial) > 0 {
		m.logger.Debug("recording unfinished calls", "count", len(partial))
	}
	if dropped := m.queue.Dropped(); dropped > 0 {
		m.logger.Debug("capture events were dropped", "count", dropped)
	}
	return m.sink.Finish(partial)
}
