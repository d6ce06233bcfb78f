// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package intercept

import (
	"net/url"
	"testing"
)

func TestMonitored(t *testing.T) {
	t.Parallel()

	tests := []struct {
		url  string
		want bool
	}{
		{"https://generativelanguage.googleapis.com/v1beta/models/gemini-2.5-pro:generateContent", true},
		{"https://generativelanguage.googleapis.com/v1beta/models/gemini-2.5-pro:streamGenerateContent?alt=sse", true},
		{"https://cloudcode-pa.googleapis.com/v1internal:streamGenerateContent?alt=sse", true},
		{"https://us-central1-aiplatform.googleapis.com/v1/projects/p/locations/us-central1/publishers/google/models/gemini-2.5-flash:generateContent", true},
		{"https://api.anthropic.com/v1/messages", true},
		{"https://api.anthropic.com/v1/messages/", true},
		{"https://api.openai.com/v1/chat/completions", true},
		{"https://API.OpenAI.com:443/v1/chat/completions", true},

		// Allowed hosts, unmonitored endpoints.
		{"https://generativelanguage.googleapis.com/v1beta/models/gemini-2.5-pro:countTokens", false},
		{"https://cloudcode-pa.googleapis.com/v1internal:loadCodeAssist", false},
		{"https://api.openai.com/v1/models", false},
		{"https://api.anthropic.com/v1/messages/count_tokens", false},
		{"https://api.anthropic.com/v1/messages/batches", false},
		{"https://api.anthropic.com/v1/messages/batches/msgbatch_1/results", false},
		{"https://api.openai.com/v1/chat/completions/chatcmpl-1/messages", false},

		// Unknown hosts.
		{"http://127.0.0.1:8080/v1/chat/completions", false},
		{"https://example.com/v1/messages", false},
		{"https://notapi.anthropic.com.example.com/v1/messages", false},
		{"https://evilapi.openai.com/v1/chat/completions", false},
	}
	for _, test := range tests {
		parsed, err := url.Parse(test.url)
		if err != nil {
			t.Fatalf("url.Parse(%q): %v", test.url, err)
		}
		if got := Monitored(parsed); got != test.want {
			t.Errorf("Monitored(%s) = %v, want %v", test.url, got, test.want)
		}
	}

	if Monitored(nil) {
		t.Error("Monitored(nil) = true")
	}
}
