// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"net/http"
	"testing"
	"time"

	"github.com/bureau-foundation/llmtap/lib/llm"
)

func exchangeAt(id string, at time.Time, usage llm.Usage, model string) Exchange {
	return Exchange{
		Request:  RequestRecord{RequestID: id, Timestamp: at},
		Response: ResponseRecord{RequestID: id, Timestamp: at.Add(time.Second), Status: http.StatusOK, Usage: usage, Model: model},
	}
}

func TestSessionStatisticsSumsTurns(t *testing.T) {
	t.Parallel()

	session := &Session{SessionID: "s"}
	usages := []llm.Usage{
		{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15, CachedTokens: 2},
		{PromptTokens: 20, CompletionTokens: 7, TotalTokens: 27, ThoughtsTokens: 3},
		{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2},
	}
	var want llm.Usage
	for i, usage := range usages {
		exchange := exchangeAt(string(rune('a'+i)), baseTime.Add(time.Duration(i)*time.Minute), usage, "gemini-2.5-pro")
		session.Turns = append(session.Turns, NewTurn("p", exchange))
		want = want.Add(usage)
	}
	session.Turns[1].Responses[0].Error = "boom"
	session.Turns[2].Responses[0].Partial = true
	session.Turns[2].Responses[0].Model = "gemini-2.5-flash"

	stats := SessionStatistics(session)
	if stats.TotalTurns != 3 || stats.TotalRequests != 3 || stats.TotalResponses != 3 {
		t.Errorf("counts = %d/%d/%d", stats.TotalTurns, stats.TotalRequests, stats.TotalResponses)
	}
	if stats.Usage() != want {
		t.Errorf("Usage = %+v, want %+v", stats.Usage(), want)
	}
	if stats.Errors != 1 || stats.Partial != 1 {
		t.Errorf("Errors = %d, Partial = %d", stats.Errors, stats.Partial)
	}
	if stats.Models["gemini-2.5-pro"] != 2 || stats.Models["gemini-2.5-flash"] != 1 {
		t.Errorf("Models = %v", stats.Models)
	}
}

func TestCaptureStatistics(t *testing.T) {
	t.Parallel()

	capture := &Capture{CaptureID: "c", StartTime: baseTime}
	capture.Add(exchangeAt("a", baseTime, llm.Usage{TotalTokens: 42}, ""))
	second := exchangeAt("b", baseTime.Add(time.Minute), llm.Usage{TotalTokens: 8}, "")
	second.Response.Unmatched = true
	second.Response.Truncated = true
	capture.Add(second)

	stats := CaptureStatistics(capture)
	if stats.TotalTurns != 2 || stats.TotalTokens != 50 {
		t.Errorf("TotalTurns = %d, TotalTokens = %d", stats.TotalTurns, stats.TotalTokens)
	}
	if stats.Unmatched != 1 || stats.Truncated != 1 {
		t.Errorf("Unmatched = %d, Truncated = %d", stats.Unmatched, stats.Truncated)
	}
	if stats.Models != nil {
		t.Errorf("Models = %v, want nil without model names", stats.Models)
	}
	if !capture.EndTime.Equal(baseTime.Add(time.Minute + time.Second)) {
		t.Errorf("EndTime = %v", capture.EndTime)
	}
}

func TestNewTurn(t *testing.T) {
	t.Parallel()

	later := exchangeAt("late", baseTime.Add(time.Minute), llm.Usage{}, "")
	earlier := exchangeAt("early", baseTime, llm.Usage{}, "")
	earlier.Response.Partial = true

	turn := NewTurn("marker", later, earlier)
	if !turn.Timestamp.Equal(baseTime.Add(time.Minute + time.Second)) {
		t.Errorf("Timestamp = %v, want the latest response time", turn.Timestamp)
	}
	if !turn.Partial || turn.Participant != "marker" {
		t.Errorf("Partial = %v, Participant = %q", turn.Partial, turn.Participant)
	}
	if len(turn.Requests) != 2 || len(turn.Responses) != 2 {
		t.Errorf("requests = %d, responses = %d", len(turn.Requests), len(turn.Responses))
	}
	for i := range turn.Requests {
		if turn.Requests[i].RequestID != turn.Responses[i].RequestID {
			t.Errorf("request %d id %q does not match response id %q", i, turn.Requests[i].RequestID, turn.Responses[i].RequestID)
		}
	}
}

func TestNewTurnWithoutResponseTimes(t *testing.T) {
	t.Parallel()

	later := exchangeAt("late", baseTime.Add(time.Minute), llm.Usage{}, "")
	earlier := exchangeAt("early", baseTime, llm.Usage{}, "")
	later.Response.Timestamp = time.Time{}
	earlier.Response.Timestamp = time.Time{}

	turn := NewTurn("marker", later, earlier)
	if !turn.Timestamp.Equal(baseTime) {
		t.Errorf("Timestamp = %v, want the earliest request time", turn.Timestamp)
	}
}

func TestRedactHeaders(t *testing.T) {
	t.Parallel()

	redacted := RedactHeaders(http.Header{
		"Authorization": {"Bearer abc"},
		"X-Api-Key":     {"sk-1"},
		"Accept":        {"text/event-stream", "application/json"},
	})
	if redacted["Authorization"] != redactedValue || redacted["X-Api-Key"] != redactedValue {
		t.Errorf("credentials not redacted: %v", redacted)
	}
	if redacted["Accept"] != "text/event-stream, application/json" {
		t.Errorf("Accept = %q", redacted["Accept"])
	}
	if RedactHeaders(nil) != nil {
		t.Error("RedactHeaders(nil) should be nil")
	}
}
