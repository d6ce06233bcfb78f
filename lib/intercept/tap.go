// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package intercept

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/bureau-foundation/llmtap/lib/capture"
	"github.com/bureau-foundation/llmtap/lib/clock"
	"github.com/bureau-foundation/llmtap/lib/llm"
)

// Tap is an [http.RoundTripper] that captures monitored calls made
// through the transport it wraps. Create taps with [Manager.Wrap].
type Tap struct {
	next   http.RoundTripper
	queue  *Queue
	clock  clock.Clock
	logger *slog.Logger
}

// Unwrap returns the transport the tap decorates.
func (t *Tap) Unwrap() http.RoundTripper {
	return t.next
}

// RoundTrip implements [http.RoundTripper]. The caller receives the
// inner transport's response and error unchanged, except that a
// monitored response body is wrapped in a tee.
func (t *Tap) RoundTrip(request *http.Request) (*http.Response, error) {
	if !Monitored(request.URL) {
		return t.next.RoundTrip(request)
	}

	outgoing, call := t.begin(request)

	response, err := t.next.RoundTrip(outgoing)
	if call == nil {
		return response, err
	}
	if err != nil {
		call.finish(capture.EndTransportError, err)
		return response, err
	}

	call.response(response)
	if response.Body == nil {
		call.finish(capture.EndEOF, nil)
		return response, nil
	}
	response.Body = &teeBody{body: response.Body, call: call}
	return response, nil
}

// begin reads the request body, emits the request event, and returns
// the request to forward. The original request is never modified. A
// nil call means capture could not start and the request goes through
// as received.
func (t *Tap) begin(request *http.Request) (outgoing *http.Request, started *call) {
	outgoing = request
	defer func() {
		if recovered := recover(); recovered != nil {
			t.logger.Debug("capture panic at request", "url", request.URL.Redacted(), "panic", recovered)
			started = nil
		}
	}()

	var body []byte
	if request.Body != nil && request.Body != http.NoBody {
		data, readErr := io.ReadAll(request.Body)
		request.Body.Close()
		body = data

		outgoing = request.Clone(request.Context())
		outgoing.Body = replayBody(data, readErr)
		if readErr == nil {
			outgoing.GetBody = func() (io.ReadCloser, error) {
				return io.NopCloser(bytes.NewReader(data)), nil
			}
		} else {
			// The inner transport sees the same failure the caller's
			// body produced. Nothing is captured.
			t.logger.Debug("request body read failed", "url", request.URL.Redacted(), "error", readErr)
			return outgoing, nil
		}
	}

	started = &call{
		tap:      t,
		ctx:      request.Context(),
		id:       uuid.NewString(),
		method:   request.Method,
		url:      request.URL.String(),
		provider: llm.DetectProvider(request.URL.Host, request.URL.Path),
	}
	started.emit(capture.Event{
		Kind:   capture.EventRequest,
		Header: request.Header.Clone(),
		Body:   body,
	})
	return outgoing, started
}

// replayBody returns a body yielding data and then readErr (or EOF).
func replayBody(data []byte, readErr error) io.ReadCloser {
	if readErr == nil {
		return io.NopCloser(bytes.NewReader(data))
	}
	return io.NopCloser(io.MultiReader(bytes.NewReader(data), errorReader{readErr}))
}

type errorReader struct{ err error }

func (r errorReader) Read([]byte) (int, error) { return 0, r.err }

// call is the capture state of one monitored request. Methods are
// safe for concurrent use; a body may be closed from another
// goroutine while a Read is in progress.
type call struct {
	tap      *Tap
	ctx      context.Context
	id       string
	method   string
	url      string
	provider llm.Provider

	mu    sync.Mutex
	seq   uint64
	ended bool
}

// emit stamps an event with the call's identity and next sequence
// number and pushes it to the queue. Nothing is emitted after the end
// event. Failures are logged and dropped.
func (c *call) emit(event capture.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ended {
		return
	}
	defer func() {
		if recovered := recover(); recovered != nil {
			c.tap.logger.Debug("capture panic", "request_id", c.id, "kind", event.Kind, "panic", recovered)
		}
	}()

	event.RequestID = c.id
	event.Seq = c.seq
	event.Time = c.tap.clock.Now().UTC()
	event.Method = c.method
	event.URL = c.url
	event.Provider = c.provider
	c.seq++

	ctx := c.ctx
	if event.Kind == capture.EventEnd {
		c.ended = true
		// A cancelled caller still gets its end event queued.
		ctx = context.WithoutCancel(ctx)
	}

	if err := c.tap.queue.Push(ctx, event); err != nil {
		c.tap.logger.Debug("capture event dropped", "request_id", c.id, "kind", event.Kind, "error", err)
	}
}

func (c *call) response(response *http.Response) {
	c.emit(capture.Event{
		Kind:   capture.EventResponse,
		Status: response.StatusCode,
		Header: response.Header.Clone(),
	})
}

func (c *call) chunk(data []byte) {
	c.emit(capture.Event{
		Kind: capture.EventChunk,
		Data: bytes.Clone(data),
	})
}

// finish emits the end event once. Later calls are no-ops.
func (c *call) finish(reason capture.EndReason, err error) {
	event := capture.Event{Kind: capture.EventEnd, End: reason}
	if err != nil {
		event.Err = err.Error()
	}
	c.emit(event)
}

// teeBody copies every successful read of the wrapped body into chunk
// events. Read returns exactly what the wrapped body returned.
type teeBody struct {
	body io.ReadCloser
	call *call
}

func (b *teeBody) Read(p []byte) (int, error) {
	n, err := b.body.Read(p)
	if n > 0 {
		b.call.chunk(p[:n])
	}
	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		b.call.finish(capture.EndEOF, nil)
	default:
		b.call.finish(capture.EndReadError, err)
	}
	return n, err
}

// Close closes the wrapped body. Closing before the end of the body
// finishes the call as aborted.
func (b *teeBody) Close() error {
	err := b.body.Close()
	b.call.finish(capture.EndClosed, nil)
	return err
}
