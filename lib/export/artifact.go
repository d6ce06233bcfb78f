// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/bureau-foundation/llmtap/lib/capture"
	"github.com/bureau-foundation/llmtap/lib/llm"
)

// SessionArtifact is the persisted form of a session.
type SessionArtifact struct {
	SessionID           string              `json:"session_id"`
	AgentName           string              `json:"agent_name"`
	StartTime           time.Time           `json:"start_time"`
	Turns               []capture.Turn      `json:"turns"`
	ConversationHistory ConversationHistory `json:"conversation_history"`
	Statistics          capture.Statistics  `json:"statistics"`
	Metadata            Metadata            `json:"metadata"`
}

// CaptureArtifact is the persisted form of a single-shot capture.
type CaptureArtifact struct {
	CaptureID  string                   `json:"capture_id"`
	AgentName  string                   `json:"agent_name"`
	StartTime  time.Time                `json:"start_time"`
	EndTime    time.Time                `json:"end_time"`
	Requests   []capture.RequestRecord  `json:"requests"`
	Responses  []capture.ResponseRecord `json:"responses"`
	Statistics capture.Statistics       `json:"statistics"`
	Metadata   Metadata                 `json:"metadata"`
}

// ConversationHistory is the conversation as of the latest turn: the
// system prompt and messages of the latest request, followed by the
// latest response.
type ConversationHistory struct {
	SystemPrompt string        `json:"system_prompt"`
	Messages     []llm.Message `json:"messages"`
}

// Metadata describes how and by whom an artifact was written.
type Metadata struct {
	Tool         string                `json:"tool"`
	Version      string                `json:"version,omitempty"`
	WrittenBy    string                `json:"written_by,omitempty"`
	WrittenAt    time.Time             `json:"written_at"`
	Participants []capture.Participant `json:"participants,omitempty"`
}

// BuildConversationHistory derives the conversation history of a
// session from its last turn.
func BuildConversationHistory(turns []capture.Turn) ConversationHistory {
	history := ConversationHistory{Messages: []llm.Message{}}
	if len(turns) == 0 {
		return history
	}
	last := turns[len(turns)-1]
	if len(last.Requests) == 0 {
		return history
	}
	request := last.Requests[len(last.Requests)-1]
	history.SystemPrompt = request.SystemInstruction
	history.Messages = append(history.Messages, request.Messages...)

	for i := len(last.Responses) - 1; i >= 0; i-- {
		response := last.Responses[i]
		if response.RequestID != request.RequestID {
			continue
		}
		if response.Text != "" {
			history.Messages = append(history.Messages, llm.Message{
				Role: responseRole(request.Provider),
				Text: response.Text,
			})
		}
		break
	}
	return history
}

// responseRole is the role name the provider uses for model output.
func responseRole(provider llm.Provider) string {
	switch provider {
	case llm.Gemini, llm.CodeAssist:
		return "model"
	default:
		return "assistant"
	}
}

// Artifact is a parsed artifact file. Exactly one field is set.
type Artifact struct {
	Session *SessionArtifact
	Capture *CaptureArtifact
}

// ReadArtifact parses a session or capture artifact file.
func ReadArtifact(path string) (Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Artifact{}, err
	}
	var probe struct {
		SessionID *string `json:"session_id"`
		CaptureID *string `json:"capture_id"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return Artifact{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	switch {
	case probe.SessionID != nil:
		var artifact SessionArtifact
		if err := json.Unmarshal(data, &artifact); err != nil {
			return Artifact{}, fmt.Errorf("parsing session artifact %s: %w", path, err)
		}
		return Artifact{Session: &artifact}, nil
	case probe.CaptureID != nil:
		var artifact CaptureArtifact
		if err := json.Unmarshal(data, &artifact); err != nil {
			return Artifact{}, fmt.Errorf("parsing capture artifact %s: %w", path, err)
		}
		return Artifact{Capture: &artifact}, nil
	}
	return Artifact{}, errors.New("not a session or capture artifact: " + path)
}
