// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/bureau-foundation/llmtap/lib/llm"
	"github.com/bureau-foundation/llmtap/lib/payload"
)

// DefaultMaxResponseBytes bounds how much of one response body the
// correlator buffers. Bytes past the limit are counted but not kept,
// and the response is marked truncated.
const DefaultMaxResponseBytes = 64 << 20

// HeaderSessionID is the request header consulted for a conversation
// id when the body carries none.
const HeaderSessionID = "X-Session-Id"

// CorrelatorConfig configures a [Correlator].
type CorrelatorConfig struct {
	// RetainRawBodies keeps request and response bodies on the
	// records.
	RetainRawBodies bool

	// RecordHeaders keeps redacted request and response headers on
	// the records.
	RecordHeaders bool

	// MaxResponseBytes overrides [DefaultMaxResponseBytes] when
	// positive.
	MaxResponseBytes int

	// Logger receives debug diagnostics. Nil discards them.
	Logger *slog.Logger
}

// Correlator matches events to requests and assembles exchanges.
type Correlator struct {
	config  CorrelatorConfig
	logger  *slog.Logger
	pending map[string]*pendingCall
}

// pendingCall is the state of one in-flight request.
type pendingCall struct {
	request   RequestRecord
	unmatched bool
	nextSeq   uint64
	truncated bool

	status          int
	contentType     string
	contentEncoding string
	responseHeaders map[string]string

	body        bytes.Buffer
	bodyBytes   int64
	firstByteAt time.Time
}

// NewCorrelator creates a Correlator.
func NewCorrelator(config CorrelatorConfig) *Correlator {
	if config.MaxResponseBytes <= 0 {
		config.MaxResponseBytes = DefaultMaxResponseBytes
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Correlator{
		config:  config,
		logger:  logger,
		pending: make(map[string]*pendingCall),
	}
}

// Pending returns the number of in-flight requests.
func (c *Correlator) Pending() int {
	return len(c.pending)
}

// Handle applies one event. When the event finishes a call, the
// completed exchange is returned with ok set.
func (c *Correlator) Handle(event Event) (exchange Exchange, ok bool) {
	call := c.lookup(event)

	if event.Seq != call.nextSeq {
		if !call.truncated {
			c.logger.Debug("capture events missing",
				"request_id", event.RequestID,
				"expected_seq", call.nextSeq,
				"seq", event.Seq,
			)
		}
		call.truncated = true
	}
	if event.Seq >= call.nextSeq {
		call.nextSeq = event.Seq + 1
	}

	switch event.Kind {
	case EventRequest:
		// Already applied by lookup.
	case EventResponse:
		call.status = event.Status
		call.contentType = event.Header.Get("Content-Type")
		call.contentEncoding = event.Header.Get("Content-Encoding")
		if c.config.RecordHeaders {
			call.responseHeaders = RedactHeaders(event.Header)
		}
	case EventChunk:
		c.appendChunk(call, event)
	case EventEnd:
		delete(c.pending, event.RequestID)
		return c.finish(call, event), true
	default:
		c.logger.Debug("unknown capture event kind", "request_id", event.RequestID, "kind", event.Kind)
	}
	return Exchange{}, false
}

// lookup returns the pending call for an event, creating it. A
// request event creates a matched call; any other event for an
// unknown id creates an unmatched one.
func (c *Correlator) lookup(event Event) *pendingCall {
	if call, exists := c.pending[event.RequestID]; exists {
		return call
	}

	call := &pendingCall{}
	if event.Kind == EventRequest {
		call.request = c.buildRequest(event)
	} else {
		call.unmatched = true
		call.request = RequestRecord{
			RequestID: event.RequestID,
			Timestamp: event.Time,
			Method:    event.Method,
			Endpoint:  event.URL,
			Provider:  event.Provider,
		}
	}
	c.pending[event.RequestID] = call
	return call
}

func (c *Correlator) buildRequest(event Event) RequestRecord {
	record := RequestRecord{
		RequestID: event.RequestID,
		Timestamp: event.Time,
		Method:    event.Method,
		Endpoint:  event.URL,
		Provider:  event.Provider,
		BodyBytes: len(event.Body),
	}

	path := ""
	if parsed, err := url.Parse(event.URL); err == nil {
		path = parsed.Path
		if record.Provider == llm.Unknown {
			record.Provider = llm.DetectProvider(parsed.Host, parsed.Path)
		}
	}

	body := event.Body
	if encoding := event.Header.Get("Content-Encoding"); encoding != "" {
		decoded, err := payload.Decompress(body, encoding)
		if err != nil {
			record.ParseError = err.Error()
		} else {
			body = decoded
		}
	}

	if record.ParseError == "" {
		fields, err := llm.ParseRequest(record.Provider, path, body)
		if err != nil {
			record.ParseError = err.Error()
			c.logger.Debug("request body not parsed", "request_id", event.RequestID, "error", err)
		}
		record.Model = fields.Model
		record.Prompt = fields.Prompt
		record.SystemInstruction = fields.SystemInstruction
		record.GenerationConfig = fields.GenerationConfig
		record.Tools = fields.Tools
		record.Messages = fields.Messages
		record.SessionID = fields.SessionID
		record.Stream = fields.Stream
	}
	if record.SessionID == "" {
		record.SessionID = event.Header.Get(HeaderSessionID)
	}

	if c.config.RecordHeaders {
		record.Headers = RedactHeaders(event.Header)
	}
	if c.config.RetainRawBodies {
		record.RawBody, record.RawBodyEncoding = encodeRawBody(body)
	}
	return record
}

func (c *Correlator) appendChunk(call *pendingCall, event Event) {
	if call.firstByteAt.IsZero() && len(event.Data) > 0 {
		call.firstByteAt = event.Time
	}
	call.bodyBytes += int64(len(event.Data))

	room := c.config.MaxResponseBytes - call.body.Len()
	if room <= 0 {
		call.truncated = true
		return
	}
	data := event.Data
	if len(data) > room {
		data = data[:room]
		call.truncated = true
	}
	call.body.Write(data)
}

// finish builds the exchange for a call whose end event arrived.
func (c *Correlator) finish(call *pendingCall, event Event) Exchange {
	response := c.buildResponse(call, event.Time)

	switch event.End {
	case EndEOF:
	case EndClosed:
		response.Aborted = true
		response.Error = firstNonEmpty(response.Error, "response body closed before end of stream")
	case EndReadError:
		response.Aborted = true
		response.Error = firstNonEmpty(event.Err, "response body read failed")
	case EndTransportError:
		response.Error = firstNonEmpty(event.Err, "request failed")
	}
	return Exchange{Request: call.request, Response: response}
}

// buildResponse decodes what was buffered for a call into a record.
func (c *Correlator) buildResponse(call *pendingCall, at time.Time) ResponseRecord {
	response := ResponseRecord{
		RequestID:       call.request.RequestID,
		Timestamp:       at,
		Status:          call.status,
		ContentType:     call.contentType,
		ContentEncoding: call.contentEncoding,
		BodyBytes:       call.bodyBytes,
		Unmatched:       call.unmatched,
		Truncated:       call.truncated,
		Headers:         call.responseHeaders,
	}
	if !call.request.Timestamp.IsZero() {
		response.DurationMS = at.Sub(call.request.Timestamp).Milliseconds()
		if !call.firstByteAt.IsZero() {
			response.TimeToFirstByteMS = call.firstByteAt.Sub(call.request.Timestamp).Milliseconds()
		}
	}

	raw := call.body.Bytes()
	if len(raw) > 0 {
		result := payload.Decode(raw, payload.Metadata{
			ContentEncoding: call.contentEncoding,
			ContentType:     call.contentType,
			Provider:        call.request.Provider,
		})
		assembled := payload.Assemble(result.Fragments)

		response.Model = firstNonEmpty(assembled.Model, call.request.Model)
		response.ResponseID = assembled.ResponseID
		response.Text = assembled.Text
		response.FinishReason = assembled.FinishReason
		if assembled.Usage != nil {
			response.Usage = *assembled.Usage
		}
		response.ToolCalls = assembled.ToolCalls
		response.Error = assembled.Error
		response.DecodeError = result.DecodeError
		response.Streamed = result.Streamed()
		response.FragmentCount = len(result.Fragments)

		if result.Degraded && response.Text == "" {
			response.Text = string(result.Body)
		}
		if c.config.RetainRawBodies {
			response.RawBody, response.RawBodyEncoding = encodeRawBody(result.Body)
		}
		if result.DecodeError != "" {
			c.logger.Debug("response body not fully decoded",
				"request_id", call.request.RequestID,
				"error", result.DecodeError,
			)
		}
	} else {
		response.Model = call.request.Model
	}

	if response.Error == "" && call.status >= http.StatusBadRequest {
		response.Error = fmt.Sprintf("HTTP %d %s", call.status, http.StatusText(call.status))
	}
	return response
}

// FlushPending finalizes every in-flight call as a partial exchange,
// ordered by request time. Used at shutdown for calls whose response
// never finished.
func (c *Correlator) FlushPending(now time.Time) []Exchange {
	if len(c.pending) == 0 {
		return nil
	}
	exchanges := make([]Exchange, 0, len(c.pending))
	for id, call := range c.pending {
		response := c.buildResponse(call, now)
		response.Partial = true
		response.Error = firstNonEmpty(response.Error, "response incomplete at shutdown")
		exchanges = append(exchanges, Exchange{Request: call.request, Response: response})
		delete(c.pending, id)
	}
	sort.SliceStable(exchanges, func(i, j int) bool {
		left, right := exchanges[i].Request, exchanges[j].Request
		if !left.Timestamp.Equal(right.Timestamp) {
			return left.Timestamp.Before(right.Timestamp)
		}
		return left.RequestID < right.RequestID
	})
	return exchanges
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
