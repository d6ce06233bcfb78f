// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"encoding/json"
	"strings"
)

// Anthropic Messages API wire types. Streaming delivers typed events
// (message_start, content_block_start, content_block_delta,
// message_delta, message_stop, ping, error); a non-streamed response
// is a single "message" object.

type anthropicEvent struct {
	Type         string                 `json:"type"`
	Index        int                    `json:"index"`
	Message      *anthropicMessage      `json:"message"`
	ContentBlock *anthropicContentBlock `json:"content_block"`
	Delta        *anthropicDelta        `json:"delta"`
	Usage        *anthropicUsage        `json:"usage"`
	Error        *wireError             `json:"error"`

	// Non-streamed responses are the message object itself. Its
	// "usage" key lands in the outer Usage field.
	anthropicMessage
}

type anthropicMessage struct {
	ID         string                  `json:"id"`
	Model      string                  `json:"model"`
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      *anthropicUsage         `json:"usage"`
}

type anthropicContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text"`
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

type anthropicDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text"`
	PartialJSON string `json:"partial_json"`
	StopReason  string `json:"stop_reason"`
}

type anthropicUsage struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
}

func (u *anthropicUsage) normalize() *Usage {
	if u == nil {
		return nil
	}
	return &Usage{
		PromptTokens:     u.InputTokens,
		CompletionTokens: u.OutputTokens,
		CachedTokens:     u.CacheReadInputTokens,
	}
}

func parseAnthropicFragment(data []byte) (Fragment, error) {
	var event anthropicEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return Fragment{}, err
	}

	// Anthropic reports usage piecewise: input tokens on
	// message_start, cumulative output tokens on message_delta.
	fragment := Fragment{UsageMerge: true}

	switch event.Type {
	case "message_start":
		if event.Message != nil {
			fragment.Model = event.Message.Model
			fragment.ResponseID = event.Message.ID
			fragment.Usage = event.Message.Usage.normalize()
		}

	case "content_block_start":
		if block := event.ContentBlock; block != nil {
			switch block.Type {
			case "text":
				fragment.Text = block.Text
			case "tool_use", "server_tool_use":
				// The input object here is always empty; the
				// arguments arrive as input_json_delta events.
				fragment.ToolCalls = []ToolCall{{
					Index: event.Index,
					ID:    block.ID,
					Name:  block.Name,
				}}
			}
		}

	case "content_block_delta":
		if delta := event.Delta; delta != nil {
			switch delta.Type {
			case "text_delta":
				fragment.Text = delta.Text
			case "input_json_delta":
				fragment.ToolCalls = []ToolCall{{
					Index:     event.Index,
					Arguments: delta.PartialJSON,
				}}
			}
		}

	case "message_delta":
		if event.Delta != nil {
			fragment.FinishReason = event.Delta.StopReason
		}
		fragment.Usage = event.Usage.normalize()

	case "error":
		fragment.Error = event.Error.String()

	case "message":
		message := event.anthropicMessage
		fragment.Model = message.Model
		fragment.ResponseID = message.ID
		fragment.FinishReason = message.StopReason
		fragment.Usage = event.Usage.normalize()
		var text strings.Builder
		for _, block := range message.Content {
			switch block.Type {
			case "text":
				text.WriteString(block.Text)
			case "tool_use", "server_tool_use":
				fragment.ToolCalls = append(fragment.ToolCalls, ToolCall{
					Index:     -1,
					ID:        block.ID,
					Name:      block.Name,
					Arguments: compactJSON(block.Input),
				})
			}
		}
		fragment.Text = text.String()
	}
	return fragment, nil
}

type anthropicRequest struct {
	Model    string          `json:"model"`
	System   json.RawMessage `json:"system"`
	Messages []struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"messages"`
	Tools []struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Type        string `json:"type"`
	} `json:"tools"`
	Stream   bool `json:"stream"`
	Metadata struct {
		UserID string `json:"user_id"`
	} `json:"metadata"`
}

// anthropicSamplingFields are the request fields recorded as
// generation parameters.
var anthropicSamplingFields = []string{
	"max_tokens", "temperature", "top_p", "top_k", "stop_sequences", "thinking",
}

func parseAnthropicRequest(data []byte) (RequestFields, error) {
	var request anthropicRequest
	if err := json.Unmarshal(data, &request); err != nil {
		return RequestFields{}, err
	}

	fields := RequestFields{
		Model:             request.Model,
		SystemInstruction: flattenContent(request.System),
		GenerationConfig:  pickFields(data, anthropicSamplingFields),
		SessionID:         sessionFromUserID(request.Metadata.UserID),
		Stream:            request.Stream,
	}
	for _, message := range request.Messages {
		fields.Messages = append(fields.Messages, Message{
			Role: message.Role,
			Text: flattenContent(message.Content),
		})
	}
	for _, tool := range request.Tools {
		name := tool.Name
		if name == "" {
			name = tool.Type
		}
		fields.Tools = append(fields.Tools, ToolDeclaration{Name: name, Description: tool.Description})
	}
	fields.Prompt = lastUserText(fields.Messages)
	return fields, nil
}

// sessionFromUserID extracts the conversation id that Claude Code
// embeds in metadata.user_id ("user_<hash>_account_<id>_session_<uuid>").
func sessionFromUserID(userID string) string {
	index := strings.LastIndex(userID, "_session_")
	if index < 0 {
		return ""
	}
	return userID[index+len("_session_"):]
}
