// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bureau-foundation/llmtap/lib/config"
	"github.com/bureau-foundation/llmtap/lib/export"
)

// cannedUpstream answers every proxied request with one OpenAI chat
// completion.
type cannedUpstream struct{}

func (cannedUpstream) RoundTrip(request *http.Request) (*http.Response, error) {
	const body = `{"id":"chatcmpl-1","model":"gpt-4o","choices":[{"index":0,"message":{"role":"assistant","content":"Paris."},"finish_reason":"stop"}],"usage":{"prompt_tokens":9,"completion_tokens":2,"total_tokens":11}}`
	return &http.Response{
		StatusCode: http.StatusOK,
		Status:     "200 OK",
		Header:     http.Header{"Content-Type": {"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    request,
	}, nil
}

func TestStackRecordsProxiedCall(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.OutputDir = t.TempDir()
	cfg.AgentName = "test-agent"
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	pipeline, err := startStack(cfg, cannedUpstream{}, logger)
	if err != nil {
		t.Fatalf("startStack: %v", err)
	}

	response, err := http.Post(pipeline.proxy.BaseURL("openai")+"/v1/chat/completions", "application/json",
		strings.NewReader(`{"model":"gpt-4o","session_id":"conv-9","messages":[{"role":"user","content":"Capital of France?"}]}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	io.Copy(io.Discard, response.Body)
	response.Body.Close()

	if err := pipeline.shutdown(); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	matches, err := filepath.Glob(filepath.Join(cfg.OutputDir, "session_conv-9_*.json"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("session artifacts = %v (%v), want one", matches, err)
	}
	artifact, err := export.ReadArtifact(matches[0])
	if err != nil {
		t.Fatalf("ReadArtifact: %v", err)
	}
	written := artifact.Session
	if written == nil || len(written.Turns) != 1 {
		t.Fatalf("artifact = %+v, want a session with one turn", artifact)
	}
	if written.AgentName != "test-agent" {
		t.Errorf("agent = %q", written.AgentName)
	}
	turn := written.Turns[0]
	if turn.Requests[0].Prompt != "Capital of France?" || turn.Responses[0].Text != "Paris." {
		t.Errorf("turn prompt %q response %q", turn.Requests[0].Prompt, turn.Responses[0].Text)
	}
	if turn.Participant != pipeline.participant.Marker {
		t.Errorf("turn participant = %q, want %q", turn.Participant, pipeline.participant.Marker)
	}
	if written.Statistics.TotalTokens != 11 {
		t.Errorf("total tokens = %d, want 11", written.Statistics.TotalTokens)
	}
	if written.Metadata.WrittenBy != pipeline.participant.Marker {
		t.Errorf("written_by = %q", written.Metadata.WrittenBy)
	}
}
