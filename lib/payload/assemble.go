// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package payload

import (
	"strings"

	"github.com/bureau-foundation/llmtap/lib/llm"
)

// Response is a fragment sequence merged into one logical response.
type Response struct {
	Text         string
	FinishReason string
	Usage        *llm.Usage
	Model        string
	ResponseID   string
	ToolCalls    []llm.ToolCall

	// Error is the last error payload seen in the stream.
	Error string
}

// Assemble merges fragments in order. Text is concatenated; finish
// reason, model, response id, and error keep the last non-empty value.
// Usage follows each fragment's merge mode: a replacing report
// discards earlier ones, a merging report overlays its non-zero
// fields. Streamed tool-call pieces sharing an index are joined.
func Assemble(fragments []llm.Fragment) Response {
	var (
		response Response
		text     strings.Builder
		usage    *llm.Usage
		byIndex  = make(map[int]int)
	)

	for _, fragment := range fragments {
		text.WriteString(fragment.Text)
		if fragment.FinishReason != "" {
			response.FinishReason = fragment.FinishReason
		}
		if fragment.Model != "" {
			response.Model = fragment.Model
		}
		if fragment.ResponseID != "" {
			response.ResponseID = fragment.ResponseID
		}
		if fragment.Error != "" {
			response.Error = fragment.Error
		}

		if fragment.Usage != nil {
			next := *fragment.Usage
			if fragment.UsageMerge && usage != nil {
				next = usage.Overlay(next)
			}
			usage = &next
		}

		for _, call := range fragment.ToolCalls {
			if call.Index < 0 {
				response.ToolCalls = append(response.ToolCalls, call)
				continue
			}
			position, seen := byIndex[call.Index]
			if !seen {
				byIndex[call.Index] = len(response.ToolCalls)
				response.ToolCalls = append(response.ToolCalls, call)
				continue
			}
			existing := &response.ToolCalls[position]
			if existing.ID == "" {
				existing.ID = call.ID
			}
			if existing.Name == "" {
				existing.Name = call.Name
			}
			existing.Arguments += call.Arguments
		}
	}

	response.Text = text.String()
	if usage != nil {
		total := usage.WithTotal()
		response.Usage = &total
	}
	return response
}
