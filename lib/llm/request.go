// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// RequestFields are the parts of a request body a capture records.
type RequestFields struct {
	Model             string
	Prompt            string
	SystemInstruction string
	GenerationConfig  map[string]any
	Tools             []ToolDeclaration
	Messages          []Message

	// SessionID is the conversation id carried in the body, if any.
	SessionID string

	// Stream is true when the caller asked for a streamed response.
	Stream bool
}

// ParseRequest extracts [RequestFields] from a request body in the
// given provider's shape. path is the request URL path; Gemini puts
// the model and the streaming choice there rather than in the body.
func ParseRequest(provider Provider, path string, body []byte) (RequestFields, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return RequestFields{Model: modelFromPath(path)}, nil
	}
	if !json.Valid(body) {
		return RequestFields{Model: modelFromPath(path)}, ErrNotJSON
	}

	var fields RequestFields
	var err error
	switch provider {
	case Gemini, CodeAssist:
		fields, err = parseGeminiRequest(path, body)
	case Anthropic:
		fields, err = parseAnthropicRequest(body)
	case OpenAI:
		fields, err = parseOpenAIRequest(body)
	default:
		return RequestFields{}, fmt.Errorf("llm: unrecognized request shape for %q", path)
	}
	if err != nil {
		return fields, fmt.Errorf("llm: parsing %s request: %w", provider, err)
	}

	if fields.SessionID == "" {
		fields.SessionID = topLevelSessionID(body)
	}
	return fields, nil
}

// topLevelSessionID reads "session_id" or "sessionId" from the top
// level of a JSON object.
func topLevelSessionID(body []byte) string {
	var probe struct {
		SessionID      string `json:"session_id"`
		SessionIDCamel string `json:"sessionId"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return ""
	}
	return firstNonEmpty(probe.SessionID, probe.SessionIDCamel)
}

// flattenContent turns a content value into text. Content is either a
// JSON string or an array of blocks; text blocks are joined with
// newlines and every other block type (images, tool results) is
// skipped.
func flattenContent(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	switch raw[0] {
	case '"':
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return ""
		}
		return text
	case '[':
		var blocks []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}
		if err := json.Unmarshal(raw, &blocks); err != nil {
			return ""
		}
		var texts []string
		for _, block := range blocks {
			if block.Type != "" && block.Type != "text" && block.Type != "input_text" {
				continue
			}
			texts = append(texts, block.Text)
		}
		return joinNonEmpty(texts)
	}
	return ""
}

// pickFields decodes the named top-level fields of a JSON object into
// a map. Returns nil when none are present.
func pickFields(body []byte, names []string) map[string]any {
	var object map[string]json.RawMessage
	if err := json.Unmarshal(body, &object); err != nil {
		return nil
	}
	var picked map[string]any
	for _, name := range names {
		raw, ok := object[name]
		if !ok {
			continue
		}
		var value any
		if err := json.Unmarshal(raw, &value); err != nil {
			continue
		}
		if picked == nil {
			picked = make(map[string]any)
		}
		picked[name] = value
	}
	return picked
}

// lastUserText returns the text of the last user message that has
// any. Tool-result turns are sent with the user role but carry no
// text, so they are skipped.
func lastUserText(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" && messages[i].Text != "" {
			return messages[i].Text
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}

func joinNonEmpty(values []string) string {
	kept := values[:0:0]
	for _, value := range values {
		if value != "" {
			kept = append(kept, value)
		}
	}
	return strings.Join(kept, "\n")
}
