// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"encoding/json"
	"strings"
)

// Gemini wire types. Code Assist wraps the same response under
// "response" and the same request under "request".

type geminiEnvelope struct {
	geminiResponse
	Response *geminiResponse `json:"response"`
}

type geminiResponse struct {
	Candidates     []geminiCandidate `json:"candidates"`
	UsageMetadata  *geminiUsage      `json:"usageMetadata"`
	ModelVersion   string            `json:"modelVersion"`
	ResponseID     string            `json:"responseId"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	Error *wireError `json:"error"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
	Index        int           `json:"index"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text         string `json:"text"`
	Thought      bool   `json:"thought"`
	FunctionCall *struct {
		ID   string          `json:"id"`
		Name string          `json:"name"`
		Args json.RawMessage `json:"args"`
	} `json:"functionCall"`
}

type geminiUsage struct {
	PromptTokenCount        int64 `json:"promptTokenCount"`
	CandidatesTokenCount    int64 `json:"candidatesTokenCount"`
	TotalTokenCount         int64 `json:"totalTokenCount"`
	CachedContentTokenCount int64 `json:"cachedContentTokenCount"`
	ThoughtsTokenCount      int64 `json:"thoughtsTokenCount"`
}

func parseGeminiFragment(data []byte) (Fragment, error) {
	var envelope geminiEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return Fragment{}, err
	}
	response := &envelope.geminiResponse
	if envelope.Response != nil {
		response = envelope.Response
	}

	var fragment Fragment
	fragment.Model = response.ModelVersion
	fragment.ResponseID = response.ResponseID
	fragment.Error = response.Error.String()
	if fragment.Error == "" && envelope.Error != nil {
		fragment.Error = envelope.Error.String()
	}

	// Only the first candidate is captured; the CLIs observed here
	// never request more than one.
	if len(response.Candidates) > 0 {
		candidate := response.Candidates[0]
		var text strings.Builder
		for _, part := range candidate.Content.Parts {
			if part.FunctionCall != nil {
				fragment.ToolCalls = append(fragment.ToolCalls, ToolCall{
					Index:     -1,
					ID:        part.FunctionCall.ID,
					Name:      part.FunctionCall.Name,
					Arguments: compactJSON(part.FunctionCall.Args),
				})
				continue
			}
			if part.Thought {
				continue
			}
			text.WriteString(part.Text)
		}
		fragment.Text = text.String()
		fragment.FinishReason = candidate.FinishReason
	}
	if fragment.FinishReason == "" && response.PromptFeedback != nil {
		fragment.FinishReason = response.PromptFeedback.BlockReason
	}

	if usage := response.UsageMetadata; usage != nil {
		normalized := Usage{
			PromptTokens:     usage.PromptTokenCount,
			CompletionTokens: usage.CandidatesTokenCount,
			TotalTokens:      usage.TotalTokenCount,
			CachedTokens:     usage.CachedContentTokenCount,
			ThoughtsTokens:   usage.ThoughtsTokenCount,
		}.WithTotal()
		fragment.Usage = &normalized
	}
	return fragment, nil
}

type geminiRequest struct {
	Model             string          `json:"model"`
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"systemInstruction"`
	GenerationConfig  map[string]any  `json:"generationConfig"`
	Tools             []struct {
		FunctionDeclarations []ToolDeclaration `json:"functionDeclarations"`
	} `json:"tools"`
	SessionID      string `json:"session_id"`
	SessionIDCamel string `json:"sessionId"`
}

type codeAssistRequest struct {
	Model   string         `json:"model"`
	Request *geminiRequest `json:"request"`
}

func parseGeminiRequest(path string, data []byte) (RequestFields, error) {
	var wrapper codeAssistRequest
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return RequestFields{}, err
	}
	var request geminiRequest
	if wrapper.Request != nil {
		request = *wrapper.Request
	} else if err := json.Unmarshal(data, &request); err != nil {
		return RequestFields{}, err
	}

	fields := RequestFields{
		Model:            firstNonEmpty(wrapper.Model, request.Model, modelFromPath(path)),
		GenerationConfig: request.GenerationConfig,
		SessionID:        firstNonEmpty(request.SessionID, request.SessionIDCamel),
		Stream:           strings.Contains(path, ":streamGenerateContent"),
	}
	if request.SystemInstruction != nil {
		fields.SystemInstruction = geminiText(request.SystemInstruction.Parts)
	}
	for _, content := range request.Contents {
		role := content.Role
		if role == "" {
			role = "user"
		}
		fields.Messages = append(fields.Messages, Message{Role: role, Text: geminiText(content.Parts)})
	}
	for _, tool := range request.Tools {
		fields.Tools = append(fields.Tools, tool.FunctionDeclarations...)
	}
	fields.Prompt = lastUserText(fields.Messages)
	return fields, nil
}

// geminiText joins the non-thought text parts of a content.
func geminiText(parts []geminiPart) string {
	var texts []string
	for _, part := range parts {
		if part.Thought || part.Text == "" {
			continue
		}
		texts = append(texts, part.Text)
	}
	return strings.Join(texts, "\n")
}

// modelFromPath extracts "gemini-2.5-pro" from
// "/v1beta/models/gemini-2.5-pro:generateContent".
func modelFromPath(path string) string {
	_, rest, found := strings.Cut(path, "models/")
	if !found {
		return ""
	}
	model, _, _ := strings.Cut(rest, ":")
	model, _, _ = strings.Cut(model, "/")
	return model
}
