// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package payload

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/bureau-foundation/llmtap/lib/llm"
)

// Metadata is what the response headers and request line say about a
// body.
type Metadata struct {
	ContentEncoding string
	ContentType     string
	Provider        llm.Provider
}

// Framing names how a body was split into documents.
type Framing string

const (
	FramingNone     Framing = ""
	FramingSSE      Framing = "sse"
	FramingArray    Framing = "json-array"
	FramingDocument Framing = "json"
)

// Result is the decoded form of one response body.
type Result struct {
	// Fragments are the parsed units, in body order.
	Fragments []llm.Fragment

	// Framing is how the body was split.
	Framing Framing

	// Body is the decompressed body, or the raw bytes when
	// decompression failed.
	Body []byte

	// Units counts the documents or events found, including the ones
	// that failed to parse.
	Units int

	// Skipped counts units that were not valid JSON in the expected
	// shape and were dropped.
	Skipped int

	// DecodeError describes the first problem encountered, empty
	// when the body decoded cleanly.
	DecodeError string

	// Degraded is true when the body could not be decompressed or
	// parsed at all and only the raw bytes are usable.
	Degraded bool
}

// Streamed reports whether the body was framed as a sequence of
// documents.
func (r Result) Streamed() bool {
	return r.Framing == FramingSSE || r.Framing == FramingArray
}

// doneSentinel terminates OpenAI streams.
const doneSentinel = "[DONE]"

// Decode decompresses and parses a complete response body.
func Decode(raw []byte, metadata Metadata) Result {
	body, err := Decompress(raw, metadata.ContentEncoding)
	if err != nil {
		return Result{
			Body:        raw,
			DecodeError: err.Error(),
			Degraded:    true,
		}
	}

	result := Result{Body: body}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return result
	}

	switch {
	case isEventStream(metadata.ContentType) || llm.LooksLikeSSE(trimmed):
		result.Framing = FramingSSE
		decodeEvents(&result, metadata.Provider, body)
	case trimmed[0] == '[':
		result.Framing = FramingArray
		decodeArray(&result, metadata.Provider, trimmed)
	default:
		result.Framing = FramingDocument
		result.Units = 1
		fragment, err := llm.ParseFragment(metadata.Provider, trimmed)
		if err != nil {
			result.Skipped = 1
			result.DecodeError = fmt.Sprintf("parsing response document: %v", err)
			result.Degraded = true
			return result
		}
		result.Fragments = []llm.Fragment{fragment}
	}

	if len(result.Fragments) == 0 && result.DecodeError != "" {
		result.Degraded = true
	}
	return result
}

func isEventStream(contentType string) bool {
	mediaType, _, _ := strings.Cut(contentType, ";")
	return strings.EqualFold(strings.TrimSpace(mediaType), "text/event-stream")
}

func decodeEvents(result *Result, provider llm.Provider, body []byte) {
	events, stats := llm.SplitEvents(body)
	if len(events) == 0 {
		result.noteError("no events in stream (%d lines ignored)", stats.Ignored)
		return
	}
	for _, event := range events {
		data := strings.TrimSpace(event.Data)
		if data == "" || data == doneSentinel {
			continue
		}
		result.Units++
		fragment, err := llm.ParseFragment(provider, []byte(data))
		if err != nil {
			result.Skipped++
			result.noteError("event %d: %v", result.Units, err)
			continue
		}
		result.Fragments = append(result.Fragments, fragment)
	}
	if stats.Unterminated {
		result.noteError("stream ended inside an event")
	}
}

// decodeArray reads a JSON array element by element so that a body
// cut off mid-array still yields the elements before the cut.
func decodeArray(result *Result, provider llm.Provider, body []byte) {
	decoder := json.NewDecoder(bytes.NewReader(body))
	if _, err := decoder.Token(); err != nil {
		result.noteError("reading array: %v", err)
		return
	}
	for decoder.More() {
		var element json.RawMessage
		if err := decoder.Decode(&element); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				result.noteError("array truncated after %d elements", result.Units)
			} else {
				result.noteError("array element %d: %v", result.Units+1, err)
			}
			return
		}
		result.Units++
		fragment, err := llm.ParseFragment(provider, element)
		if err != nil {
			result.Skipped++
			result.noteError("array element %d: %v", result.Units, err)
			continue
		}
		result.Fragments = append(result.Fragments, fragment)
	}
}

// noteError records the first decode problem.
func (r *Result) noteError(format string, args ...any) {
	if r.DecodeError == "" {
		r.DecodeError = fmt.Sprintf(format, args...)
	}
}
