// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"encoding/json"
)

// OpenAI Chat Completions wire types. Streamed chunks carry
// choices[].delta; a non-streamed response carries choices[].message.
// Usage appears on the final chunk only when the caller asked for it
// with stream_options.include_usage.

type openaiResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []openaiChoice `json:"choices"`
	Usage   *openaiUsage   `json:"usage"`
	Error   *wireError     `json:"error"`
}

type openaiChoice struct {
	Index        int            `json:"index"`
	Delta        *openaiMessage `json:"delta"`
	Message      *openaiMessage `json:"message"`
	FinishReason string         `json:"finish_reason"`
}

type openaiMessage struct {
	Role      string           `json:"role"`
	Content   json.RawMessage  `json:"content"`
	ToolCalls []openaiToolCall `json:"tool_calls"`
}

type openaiToolCall struct {
	Index    *int   `json:"index"`
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openaiUsage struct {
	PromptTokens        int64 `json:"prompt_tokens"`
	CompletionTokens    int64 `json:"completion_tokens"`
	TotalTokens         int64 `json:"total_tokens"`
	PromptTokensDetails *struct {
		CachedTokens int64 `json:"cached_tokens"`
	} `json:"prompt_tokens_details"`
	CompletionTokensDetails *struct {
		ReasoningTokens int64 `json:"reasoning_tokens"`
	} `json:"completion_tokens_details"`
}

func parseOpenAIFragment(data []byte) (Fragment, error) {
	var response openaiResponse
	if err := json.Unmarshal(data, &response); err != nil {
		return Fragment{}, err
	}

	fragment := Fragment{
		Model:      response.Model,
		ResponseID: response.ID,
		Error:      response.Error.String(),
	}

	for _, choice := range response.Choices {
		if choice.Index != 0 {
			continue
		}
		fragment.FinishReason = choice.FinishReason
		message := choice.Delta
		streamed := true
		if message == nil {
			message = choice.Message
			streamed = false
		}
		if message == nil {
			continue
		}
		fragment.Text = flattenContent(message.Content)
		for _, call := range message.ToolCalls {
			index := -1
			if streamed && call.Index != nil {
				index = *call.Index
			}
			fragment.ToolCalls = append(fragment.ToolCalls, ToolCall{
				Index:     index,
				ID:        call.ID,
				Name:      call.Function.Name,
				Arguments: call.Function.Arguments,
			})
		}
	}

	if usage := response.Usage; usage != nil {
		normalized := Usage{
			PromptTokens:     usage.PromptTokens,
			CompletionTokens: usage.CompletionTokens,
			TotalTokens:      usage.TotalTokens,
		}
		if usage.PromptTokensDetails != nil {
			normalized.CachedTokens = usage.PromptTokensDetails.CachedTokens
		}
		if usage.CompletionTokensDetails != nil {
			normalized.ThoughtsTokens = usage.CompletionTokensDetails.ReasoningTokens
		}
		normalized = normalized.WithTotal()
		fragment.Usage = &normalized
	}
	return fragment, nil
}

type openaiRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"messages"`
	Tools []struct {
		Type     string `json:"type"`
		Function struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		} `json:"function"`
	} `json:"tools"`
	Stream bool   `json:"stream"`
	User   string `json:"user"`
}

var openaiSamplingFields = []string{
	"max_tokens", "max_completion_tokens", "temperature", "top_p", "stop",
	"presence_penalty", "frequency_penalty", "seed", "n", "reasoning_effort",
}

func parseOpenAIRequest(data []byte) (RequestFields, error) {
	var request openaiRequest
	if err := json.Unmarshal(data, &request); err != nil {
		return RequestFields{}, err
	}

	fields := RequestFields{
		Model:            request.Model,
		GenerationConfig: pickFields(data, openaiSamplingFields),
		Stream:           request.Stream,
	}
	var system []string
	for _, message := range request.Messages {
		text := flattenContent(message.Content)
		if message.Role == "system" || message.Role == "developer" {
			if text != "" {
				system = append(system, text)
			}
			continue
		}
		fields.Messages = append(fields.Messages, Message{Role: message.Role, Text: text})
	}
	fields.SystemInstruction = joinNonEmpty(system)
	for _, tool := range request.Tools {
		fields.Tools = append(fields.Tools, ToolDeclaration{
			Name:        tool.Function.Name,
			Description: tool.Function.Description,
		})
	}
	fields.Prompt = lastUserText(fields.Messages)
	return fields, nil
}
