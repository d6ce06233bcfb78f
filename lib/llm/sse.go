// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"bytes"
	"strings"
)

// SSEEvent is a single Server-Sent Event.
type SSEEvent struct {
	// Type is the value of the "event:" field, empty for the default
	// event type.
	Type string

	// Data is the event payload. Multiple "data:" lines are joined
	// with newlines.
	Data string
}

// SSEStats describes the framing of a body split by [SplitEvents].
type SSEStats struct {
	// Lines is the number of non-blank lines seen.
	Lines int

	// Ignored counts lines that were neither data, event, id, retry,
	// nor comments. Servers occasionally interleave such noise and it
	// is dropped.
	Ignored int

	// Unterminated is true when the body ended inside an event (no
	// closing blank line). The partial event is still returned.
	Unterminated bool
}

// SplitEvents splits a complete SSE body into events per the W3C
// Server-Sent Events rules: events end at a blank line, "data:" lines
// accumulate, "event:" sets the type, lines starting with ":" are
// comments, and a single space after the colon is stripped. Both LF
// and CRLF line endings are accepted.
//
// SplitEvents is pure: the same body always yields the same events.
func SplitEvents(body []byte) ([]SSEEvent, SSEStats) {
	var (
		events    []SSEEvent
		stats     SSEStats
		dataLines []string
		eventType string
		hasData   bool
	)

	emit := func() {
		if hasData {
			events = append(events, SSEEvent{
				Type: eventType,
				Data: strings.Join(dataLines, "\n"),
			})
		}
		dataLines = dataLines[:0]
		eventType = ""
		hasData = false
	}

	remaining := body
	for len(remaining) > 0 {
		var line []byte
		line, remaining, _ = bytes.Cut(remaining, []byte("\n"))
		line = bytes.TrimSuffix(line, []byte("\r"))

		if len(line) == 0 {
			emit()
			continue
		}
		stats.Lines++

		if line[0] == ':' {
			continue
		}

		field, value, hasColon := bytes.Cut(line, []byte(":"))
		if hasColon {
			value = bytes.TrimPrefix(value, []byte(" "))
		} else {
			field = line
			value = nil
		}

		switch string(field) {
		case "data":
			dataLines = append(dataLines, string(value))
			hasData = true
		case "event":
			eventType = string(value)
		case "id", "retry":
		default:
			stats.Ignored++
		}
	}

	if hasData {
		stats.Unterminated = true
	}
	emit()
	return events, stats
}

// LooksLikeSSE reports whether the first non-blank line of body is an
// SSE field. Used when a streamed response arrives without a
// text/event-stream content type.
func LooksLikeSSE(body []byte) bool {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	return bytes.HasPrefix(trimmed, []byte("data:")) ||
		bytes.HasPrefix(trimmed, []byte("event:")) ||
		bytes.HasPrefix(trimmed, []byte(":"))
}
