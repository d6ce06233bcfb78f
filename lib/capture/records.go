// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"time"

	"github.com/bureau-foundation/llmtap/lib/llm"
)

// RequestRecord is one observed outbound call.
type RequestRecord struct {
	RequestID         string                `json:"request_id"`
	Timestamp         time.Time             `json:"timestamp"`
	Method            string                `json:"method"`
	Endpoint          string                `json:"endpoint"`
	Provider          llm.Provider          `json:"provider,omitempty"`
	Model             string                `json:"model,omitempty"`
	Prompt            string                `json:"prompt,omitempty"`
	SystemInstruction string                `json:"system_instruction,omitempty"`
	GenerationConfig  map[string]any        `json:"generation_config,omitempty"`
	Tools             []llm.ToolDeclaration `json:"tools,omitempty"`
	Messages          []llm.Message         `json:"messages,omitempty"`
	SessionID         string                `json:"session_id,omitempty"`
	Stream            bool                  `json:"stream"`
	BodyBytes         int                   `json:"body_bytes"`

	// ParseError is set when the body could not be parsed; the
	// extracted fields are then empty or partial.
	ParseError string `json:"parse_error,omitempty"`

	// Headers are recorded only in verbose mode, with credentials
	// redacted.
	Headers map[string]string `json:"headers,omitempty"`

	RawBody         string `json:"raw_body,omitempty"`
	RawBodyEncoding string `json:"raw_body_encoding,omitempty"`
}

// ResponseRecord is the logical response to one RequestRecord.
type ResponseRecord struct {
	RequestID    string         `json:"request_id"`
	Timestamp    time.Time      `json:"timestamp"`
	Status       int            `json:"status"`
	Model        string         `json:"model,omitempty"`
	ResponseID   string         `json:"response_id,omitempty"`
	Text         string         `json:"text"`
	FinishReason string         `json:"finish_reason,omitempty"`
	Usage        llm.Usage      `json:"usage"`
	ToolCalls    []llm.ToolCall `json:"tool_calls,omitempty"`

	// Error is the failure detail: a provider error payload, an HTTP
	// error status, a transport error, or an abort.
	Error string `json:"error,omitempty"`

	// DecodeError is set when the body could not be fully
	// decompressed or parsed. Text and usage then reflect only what
	// was decodable.
	DecodeError string `json:"decode_error,omitempty"`

	Streamed        bool   `json:"streamed"`
	FragmentCount   int    `json:"fragment_count"`
	ContentType     string `json:"content_type,omitempty"`
	ContentEncoding string `json:"content_encoding,omitempty"`
	BodyBytes       int64  `json:"body_bytes"`

	DurationMS        int64 `json:"duration_ms"`
	TimeToFirstByteMS int64 `json:"time_to_first_byte_ms,omitempty"`

	// Unmatched is set when no request event was seen for this
	// response.
	Unmatched bool `json:"unmatched,omitempty"`

	// Truncated is set when body bytes are missing, either evicted
	// from the side channel or past the per-response size limit.
	Truncated bool `json:"truncated,omitempty"`

	// Aborted is set when the caller closed the body early or the
	// read failed.
	Aborted bool `json:"aborted,omitempty"`

	// Partial is set when the response had not finished when the
	// process shut down.
	Partial bool `json:"partial,omitempty"`

	Headers map[string]string `json:"headers,omitempty"`

	RawBody         string `json:"raw_body,omitempty"`
	RawBodyEncoding string `json:"raw_body_encoding,omitempty"`
}

// Failed reports whether the response carries an error of any kind.
func (r ResponseRecord) Failed() bool {
	return r.Error != ""
}

// Exchange is a correlated request and response.
type Exchange struct {
	Request  RequestRecord
	Response ResponseRecord
}

// SessionID returns the conversation id the request carried.
func (e Exchange) SessionID() string {
	return e.Request.SessionID
}

// Participant identifies one process that contributed to a session.
// The marker is for diagnostics and ordering only.
type Participant struct {
	Marker    string    `json:"marker"`
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname,omitempty"`
	StartTime time.Time `json:"start_time"`
}

// Turn is one request/response cycle within a session.
type Turn struct {
	TurnNumber  int              `json:"turn_number"`
	Timestamp   time.Time        `json:"timestamp"`
	Participant string           `json:"participant,omitempty"`
	Requests    []RequestRecord  `json:"requests"`
	Responses   []ResponseRecord `json:"responses"`

	// Partial is set on the best-effort turn recorded at shutdown for
	// calls that never completed.
	Partial bool `json:"partial,omitempty"`
}

// NewTurn builds an unnumbered turn from exchanges. The turn's
// timestamp is its completion time, the latest response time, so
// turns sort in the order they were appended. Without response times
// it falls back to the earliest request time.
func NewTurn(participant string, exchanges ...Exchange) Turn {
	turn := Turn{Participant: participant}
	var earliestRequest time.Time
	for _, exchange := range exchanges {
		turn.Requests = append(turn.Requests, exchange.Request)
		turn.Responses = append(turn.Responses, exchange.Response)
		if exchange.Response.Partial {
			turn.Partial = true
		}
		if exchange.Response.Timestamp.After(turn.Timestamp) {
			turn.Timestamp = exchange.Response.Timestamp
		}
		if earliestRequest.IsZero() || exchange.Request.Timestamp.Before(earliestRequest) {
			earliestRequest = exchange.Request.Timestamp
		}
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = earliestRequest
	}
	return turn
}

// Session is a conversation's turns across every contributing process.
type Session struct {
	SessionID    string        `json:"session_id"`
	AgentName    string        `json:"agent_name"`
	StartTime    time.Time     `json:"start_time"`
	Participants []Participant `json:"participants"`
	Turns        []Turn        `json:"turns"`
}

// Capture is the single-shot record of calls that carried no session
// id.
type Capture struct {
	CaptureID string           `json:"capture_id"`
	AgentName string           `json:"agent_name"`
	StartTime time.Time        `json:"start_time"`
	EndTime   time.Time        `json:"end_time"`
	Requests  []RequestRecord  `json:"requests"`
	Responses []ResponseRecord `json:"responses"`
}

// Add appends an exchange to the capture and advances its end time.
func (c *Capture) Add(exchange Exchange) {
	c.Requests = append(c.Requests, exchange.Request)
	c.Responses = append(c.Responses, exchange.Response)
	if end := exchange.Response.Timestamp; end.After(c.EndTime) {
		c.EndTime = end
	}
}
