// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package recorder

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/bureau-foundation/llmtap/lib/capture"
	"github.com/bureau-foundation/llmtap/lib/clock"
)

// maxPendingTurns bounds the turns held for another append attempt.
const maxPendingTurns = 1024

// SessionStore is the part of session.FileStore the recorder uses.
type SessionStore interface {
	GetOrCreate(id string) (*capture.Session, error)
	AppendTurn(id string, turn capture.Turn) (*capture.Session, error)
}

// CaptureExporter is the part of export.Exporter the recorder uses.
type CaptureExporter interface {
	PublishCapture(current *capture.Capture) error
	Flush() error
}

// Config configures a [Recorder].
type Config struct {
	// Store receives session turns. Required.
	Store SessionStore

	// Exporter writes the single-shot capture and is flushed at
	// Finish. Required.
	Exporter CaptureExporter

	// DefaultSessionID is used for requests that carry no
	// conversation id. Empty sends those requests to the capture.
	DefaultSessionID string

	// AgentName is recorded on the capture.
	AgentName string

	// Participant is this process's marker, recorded on turns.
	Participant string

	Clock  clock.Clock
	Logger *slog.Logger
}

// Recorder routes exchanges to the session store or the capture. It
// is the sink of an intercept.Manager.
type Recorder struct {
	store            SessionStore
	exporter         CaptureExporter
	defaultSessionID string
	agentName        string
	participant      string
	clock            clock.Clock
	logger           *slog.Logger

	mu sync.Mutex

	// capture is created by the first exchange without a session.
	capture *capture.Capture

	// pending holds turns whose append failed, oldest first. They are
	// retried before every append and at Finish.
	pending []pendingTurn

	// lost counts exchanges dropped from a full pending list.
	lost int
}

// pendingTurn is a turn waiting for another append attempt.
type pendingTurn struct {
	id   string
	turn capture.Turn
}

// New creates a Recorder. When a default session id is configured the
// session is created (or joined) immediately, so this process appears
// as a participant even before its first call.
func New(config Config) (*Recorder, error) {
	if config.Store == nil {
		return nil, errors.New("recorder: session store is required")
	}
	if config.Exporter == nil {
		return nil, errors.New("recorder: exporter is required")
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if config.DefaultSessionID != "" {
		if _, err := config.Store.GetOrCreate(config.DefaultSessionID); err != nil {
			return nil, fmt.Errorf("recorder: opening session %s: %w", config.DefaultSessionID, err)
		}
	}

	return &Recorder{
		store:            config.Store,
		exporter:         config.Exporter,
		defaultSessionID: config.DefaultSessionID,
		agentName:        config.AgentName,
		participant:      config.Participant,
		clock:            config.Clock,
		logger:           logger,
	}, nil
}

// sessionFor returns the session an exchange belongs to, or "" for
// the capture.
func (r *Recorder) sessionFor(exchange capture.Exchange) string {
	if id := exchange.SessionID(); id != "" {
		return id
	}
	return r.defaultSessionID
}

// Record keeps one completed exchange. A turn the store rejects is
// logged at debug and retried later; failures never reach the
// observed program.
func (r *Recorder) Record(exchange capture.Exchange) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id := r.sessionFor(exchange); id != "" {
		r.appendTurn(id, capture.NewTurn(r.participant, exchange))
		return
	}
	r.addToCapture(exchange)
	r.publishCapture()
}

// Finish records exchanges that never completed, retries turns the
// store rejected earlier, and flushes pending exports. The error
// reports every exchange that could not be stored and any export that
// is still failing.
func (r *Recorder) Finish(partial []capture.Exchange) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	bySession := make(map[string][]capture.Exchange)
	captured := false
	for _, exchange := range partial {
		if id := r.sessionFor(exchange); id != "" {
			bySession[id] = append(bySession[id], exchange)
			continue
		}
		r.addToCapture(exchange)
		captured = true
	}

	ids := make([]string, 0, len(bySession))
	for id := range bySession {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		turn := capture.NewTurn(r.participant, bySession[id]...)
		turn.Partial = true
		r.appendTurn(id, turn)
	}
	if captured {
		r.publishCapture()
	}
	r.retryPending()

	var errs []error
	unstored := r.lost
	for _, waiting := range r.pending {
		unstored += len(waiting.turn.Requests)
	}
	if unstored > 0 {
		errs = append(errs, fmt.Errorf("recorder: %d exchanges could not be stored", unstored))
	}
	if err := r.exporter.Flush(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Capture returns a copy of the single-shot capture, or nil if no
// exchange has gone to it.
func (r *Recorder) Capture() *capture.Capture {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.capture == nil {
		return nil
	}
	snapshot := *r.capture
	snapshot.Requests = append([]capture.RequestRecord(nil), r.capture.Requests...)
	snapshot.Responses = append([]capture.ResponseRecord(nil), r.capture.Responses...)
	return &snapshot
}

// appendTurn stores a turn after retrying earlier failures, so turns
// reach the store in completion order. Caller holds mu.
func (r *Recorder) appendTurn(id string, turn capture.Turn) {
	r.pending = append(r.pending, pendingTurn{id: id, turn: turn})
	if len(r.pending) > maxPendingTurns {
		r.lost += len(r.pending[0].turn.Requests)
		r.logger.Debug("dropping unstored turn", "session_id", r.pending[0].id)
		r.pending = r.pending[1:]
	}
	r.retryPending()
}

// retryPending appends every waiting turn, keeping the ones that fail
// again. A retried turn that did reach the journal before failing is
// deduplicated on replay. Caller holds mu.
func (r *Recorder) retryPending() {
	var failed []pendingTurn
	for _, waiting := range r.pending {
		session, err := r.store.AppendTurn(waiting.id, waiting.turn)
		if err != nil {
			r.logger.Debug("appending turn failed", "session_id", waiting.id, "error", err)
			failed = append(failed, waiting)
			continue
		}
		r.logger.Debug("turn recorded",
			"session_id", waiting.id,
			"turns", len(session.Turns),
			"requests", len(waiting.turn.Requests),
			"partial", waiting.turn.Partial,
		)
	}
	r.pending = failed
}

// addToCapture appends to the capture, creating it on first use.
// Caller holds mu.
func (r *Recorder) addToCapture(exchange capture.Exchange) {
	if r.capture == nil {
		start := exchange.Request.Timestamp
		if start.IsZero() {
			start = r.clock.Now().UTC()
		}
		r.capture = &capture.Capture{
			CaptureID: uuid.NewString(),
			AgentName: r.agentName,
			StartTime: start,
		}
	}
	r.capture.Add(exchange)
}

// publishCapture re-exports the capture. An export failure is kept by
// the exporter for retry. Caller holds mu.
func (r *Recorder) publishCapture() {
	if err := r.exporter.PublishCapture(r.capture); err != nil {
		r.logger.Debug("exporting capture failed", "capture_id", r.capture.CaptureID, "error", err)
	}
}
