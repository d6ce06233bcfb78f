// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotJSON is returned by [ParseFragment] and [ParseRequest] when
// the input is not a JSON document.
var ErrNotJSON = errors.New("llm: not a JSON document")

// Fragment is what one response document or one streamed event
// contributes to a logical response.
type Fragment struct {
	// Text is the visible text delta. Reasoning ("thought") text is
	// excluded.
	Text string

	// FinishReason is the provider's stop reason when this fragment
	// carries one.
	FinishReason string

	// Usage is the token accounting carried by this fragment, nil
	// when it carries none.
	Usage *Usage

	// UsageMerge is true when Usage is a partial report whose
	// non-zero fields overlay earlier reports. When false, Usage
	// replaces whatever was seen before.
	UsageMerge bool

	// Model is the model the provider reports having used.
	Model string

	// ResponseID is the provider-assigned response or message id.
	ResponseID string

	// ToolCalls are tool invocations or pieces of them.
	ToolCalls []ToolCall

	// Error is the provider's error detail when the document is an
	// error payload.
	Error string
}

// IsEmpty reports whether the fragment carries nothing.
func (f Fragment) IsEmpty() bool {
	return f.Text == "" && f.FinishReason == "" && f.Usage == nil &&
		f.Model == "" && f.ResponseID == "" && len(f.ToolCalls) == 0 && f.Error == ""
}

// ParseFragment decodes one JSON document in the given provider's
// response shape. An [Unknown] provider is resolved by looking at the
// document's top-level keys.
func ParseFragment(provider Provider, data []byte) (Fragment, error) {
	data = bytes.TrimSpace(data)
	if !json.Valid(data) {
		return Fragment{}, ErrNotJSON
	}
	if provider == Unknown {
		provider = sniffProvider(data)
	}

	switch provider {
	case Gemini, CodeAssist:
		return parseGeminiFragment(data)
	case Anthropic:
		return parseAnthropicFragment(data)
	case OpenAI:
		return parseOpenAIFragment(data)
	default:
		return Fragment{}, fmt.Errorf("llm: unrecognized response shape")
	}
}

// sniffProvider guesses the shape of a document from its top-level
// keys.
func sniffProvider(data []byte) Provider {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return Unknown
	}
	switch {
	case keys["candidates"] != nil, keys["usageMetadata"] != nil, keys["response"] != nil:
		return Gemini
	case keys["choices"] != nil, keys["object"] != nil:
		return OpenAI
	case keys["type"] != nil:
		return Anthropic
	}
	if _, ok := keys["error"]; ok {
		// All three providers use "error"; the Gemini decoder reads
		// the common {code, message, status} and {message, type}
		// fields.
		return Gemini
	}
	return Unknown
}

// compactJSON returns raw as compact JSON text, or the empty string
// for null or absent values.
func compactJSON(raw json.RawMessage) string {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var buffer bytes.Buffer
	if err := json.Compact(&buffer, raw); err != nil {
		return string(raw)
	}
	return buffer.String()
}

// wireError is the error object shape shared closely enough by all
// three providers: Gemini uses {code, message, status}, Anthropic and
// OpenAI use {type, message} (OpenAI adds code, which can be a string).
type wireError struct {
	Code    json.RawMessage `json:"code"`
	Message string          `json:"message"`
	Status  string          `json:"status"`
	Type    string          `json:"type"`
}

func (e *wireError) String() string {
	if e == nil {
		return ""
	}
	kind := e.Status
	if kind == "" {
		kind = e.Type
	}
	if kind == "" {
		kind = compactJSON(e.Code)
	}
	switch {
	case kind != "" && e.Message != "":
		return kind + ": " + e.Message
	case e.Message != "":
		return e.Message
	case kind != "":
		return kind
	}
	return "error"
}
