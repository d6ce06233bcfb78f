// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"strings"
)

// Provider identifies a request/response wire format.
type Provider string

const (
	Unknown    Provider = ""
	Gemini     Provider = "gemini"
	CodeAssist Provider = "code-assist"
	Anthropic  Provider = "anthropic"
	OpenAI     Provider = "openai"
)

// DetectProvider infers the wire format from the upstream host and
// request path. Host wins when it is a known API host; otherwise the
// path shape decides, which covers self-hosted OpenAI-compatible
// servers behind a known path.
func DetectProvider(host, path string) Provider {
	host = strings.ToLower(host)
	if hostname, _, found := strings.Cut(host, ":"); found {
		host = hostname
	}

	switch {
	case strings.HasSuffix(host, "cloudcode-pa.googleapis.com"):
		return CodeAssist
	case strings.HasSuffix(host, "generativelanguage.googleapis.com"),
		strings.HasSuffix(host, "aiplatform.googleapis.com"):
		return Gemini
	case strings.HasSuffix(host, "api.anthropic.com"):
		return Anthropic
	case strings.HasSuffix(host, "api.openai.com"):
		return OpenAI
	}

	switch {
	case strings.HasPrefix(path, "/v1internal:"):
		return CodeAssist
	case strings.Contains(path, ":generateContent"), strings.Contains(path, ":streamGenerateContent"):
		return Gemini
	case strings.HasSuffix(path, "/v1/messages"):
		return Anthropic
	case strings.HasSuffix(path, "/chat/completions"):
		return OpenAI
	}
	return Unknown
}

// Usage is token accounting normalized across providers.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
	CachedTokens     int64 `json:"cached_tokens,omitempty"`
	ThoughtsTokens   int64 `json:"thoughts_tokens,omitempty"`
}

// IsZero reports whether no counter is set.
func (u Usage) IsZero() bool {
	return u == Usage{}
}

// Add returns the field-wise sum of u and other.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
		TotalTokens:      u.TotalTokens + other.TotalTokens,
		CachedTokens:     u.CachedTokens + other.CachedTokens,
		ThoughtsTokens:   u.ThoughtsTokens + other.ThoughtsTokens,
	}
}

// Overlay returns u with every non-zero field of other copied over it.
// Used for providers that report usage piecewise across events.
func (u Usage) Overlay(other Usage) Usage {
	if other.PromptTokens != 0 {
		u.PromptTokens = other.PromptTokens
	}
	if other.CompletionTokens != 0 {
		u.CompletionTokens = other.CompletionTokens
	}
	if other.TotalTokens != 0 {
		u.TotalTokens = other.TotalTokens
	}
	if other.CachedTokens != 0 {
		u.CachedTokens = other.CachedTokens
	}
	if other.ThoughtsTokens != 0 {
		u.ThoughtsTokens = other.ThoughtsTokens
	}
	return u
}

// WithTotal fills TotalTokens as prompt plus completion when the
// provider did not report a total.
func (u Usage) WithTotal() Usage {
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	return u
}

// Message is one entry of a conversation, flattened to text.
type Message struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// ToolDeclaration is a tool the caller offered the model.
type ToolDeclaration struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ToolCall is a tool invocation requested by the model. Streaming
// providers deliver calls in pieces keyed by Index; Index is -1 for
// calls that always arrive whole.
type ToolCall struct {
	Index     int    `json:"-"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"`
}
