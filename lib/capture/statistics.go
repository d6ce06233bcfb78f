// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package capture

import "github.com/bureau-foundation/llmtap/lib/llm"

// Statistics are aggregates over a session or capture. They are never
// stored as running counters: every artifact write recomputes them
// from the records, so merged contributions from several processes
// stay consistent.
type Statistics struct {
	TotalTurns     int `json:"total_turns"`
	TotalRequests  int `json:"total_requests"`
	TotalResponses int `json:"total_responses"`

	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
	CachedTokens     int64 `json:"cached_tokens"`
	ThoughtsTokens   int64 `json:"thoughts_tokens"`

	Errors    int `json:"errors"`
	Unmatched int `json:"unmatched"`
	Partial   int `json:"partial"`
	Truncated int `json:"truncated"`
	Aborted   int `json:"aborted"`

	// Models counts responses per model.
	Models map[string]int `json:"models,omitempty"`

	// DroppedEvents is the number of side-channel events this process
	// evicted under load. It is process-local and set by the writer,
	// not derived from the records.
	DroppedEvents int64 `json:"dropped_events"`
}

// Usage returns the token sums as a [llm.Usage].
func (s Statistics) Usage() llm.Usage {
	return llm.Usage{
		PromptTokens:     s.PromptTokens,
		CompletionTokens: s.CompletionTokens,
		TotalTokens:      s.TotalTokens,
		CachedTokens:     s.CachedTokens,
		ThoughtsTokens:   s.ThoughtsTokens,
	}
}

// SessionStatistics recomputes the aggregates of a session.
func SessionStatistics(session *Session) Statistics {
	var stats Statistics
	stats.TotalTurns = len(session.Turns)
	for _, turn := range session.Turns {
		stats.add(turn.Requests, turn.Responses)
	}
	return stats
}

// CaptureStatistics recomputes the aggregates of a single-shot
// capture. Each exchange counts as one turn.
func CaptureStatistics(capture *Capture) Statistics {
	var stats Statistics
	stats.TotalTurns = len(capture.Responses)
	stats.add(capture.Requests, capture.Responses)
	return stats
}

func (s *Statistics) add(requests []RequestRecord, responses []ResponseRecord) {
	s.TotalRequests += len(requests)
	s.TotalResponses += len(responses)

	for _, response := range responses {
		usage := response.Usage
		s.PromptTokens += usage.PromptTokens
		s.CompletionTokens += usage.CompletionTokens
		s.TotalTokens += usage.TotalTokens
		s.CachedTokens += usage.CachedTokens
		s.ThoughtsTokens += usage.ThoughtsTokens

		if response.Failed() {
			s.Errors++
		}
		if response.Unmatched {
			s.Unmatched++
		}
		if response.Partial {
			s.Partial++
		}
		if response.Truncated {
			s.Truncated++
		}
		if response.Aborted {
			s.Aborted++
		}
		if response.Model != "" {
			if s.Models == nil {
				s.Models = make(map[string]int)
			}
			s.Models[response.Model]++
		}
	}
}
