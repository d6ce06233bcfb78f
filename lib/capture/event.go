// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"fmt"
	"net/http"
	"time"

	"github.com/bureau-foundation/llmtap/lib/llm"
)

// EventKind distinguishes the events of one observed call.
type EventKind uint8

const (
	// EventRequest carries the request line, headers, and body. Seq 0.
	EventRequest EventKind = iota + 1

	// EventResponse carries the status and headers of the response.
	EventResponse

	// EventChunk carries bytes exactly as one Read delivered them to
	// the caller.
	EventChunk

	// EventEnd finishes the call. Always the last event.
	EventEnd
)

func (kind EventKind) String() string {
	switch kind {
	case EventRequest:
		return "request"
	case EventResponse:
		return "response"
	case EventChunk:
		return "chunk"
	case EventEnd:
		return "end"
	default:
		return fmt.Sprintf("unknown(%d)", kind)
	}
}

// EndReason says how a call finished.
type EndReason uint8

const (
	// EndEOF: the body was read to the end.
	EndEOF EndReason = iota

	// EndClosed: the caller closed the body before the end.
	EndClosed

	// EndReadError: a body read failed, including context
	// cancellation and deadline expiry.
	EndReadError

	// EndTransportError: the round trip failed before any response.
	EndTransportError
)

func (reason EndReason) String() string {
	switch reason {
	case EndEOF:
		return "eof"
	case EndClosed:
		return "closed"
	case EndReadError:
		return "read-error"
	case EndTransportError:
		return "transport-error"
	default:
		return fmt.Sprintf("unknown(%d)", reason)
	}
}

// Event is one observation from the tap. Which fields are set depends
// on Kind.
type Event struct {
	Kind      EventKind
	RequestID string

	// Seq numbers the events of one request from 0 (the request
	// event). A gap means events were evicted.
	Seq uint64

	Time time.Time

	// Set on request and response events so an unmatched response
	// still knows where it came from.
	Method   string
	URL      string
	Provider llm.Provider
	Header   http.Header

	// Body is the request body (request events).
	Body []byte

	// Status is the response status code (response events).
	Status int

	// Data is a copy of the bytes one Read returned (chunk events).
	Data []byte

	// End and Err describe how the call finished (end events).
	End EndReason
	Err string
}

// eventOverhead approximates the fixed cost of an event for byte
// accounting.
const eventOverhead = 128

// Size approximates the memory an event holds, for bounding the side
// channel by bytes.
func (e Event) Size() int {
	return eventOverhead + len(e.Body) + len(e.Data) + len(e.URL) + len(e.Err)
}
