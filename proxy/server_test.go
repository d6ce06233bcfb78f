// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/llmtap/lib/capture"
	"github.com/bureau-foundation/llmtap/lib/intercept"
	"github.com/bureau-foundation/llmtap/lib/testutil"
)

func startServer(t *testing.T, config ServerConfig) *Server {
	t.Helper()
	server, err := NewServer(config)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if err := server.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		server.Shutdown(context.Background())
	})
	return server
}

func TestServerRoutes(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Path", r.URL.Path)
		io.WriteString(w, "{}")
	}))
	defer upstream.Close()

	server := startServer(t, ServerConfig{
		Routes: []Route{
			{Name: "openai", Upstream: upstream.URL, EnvVar: "OPENAI_BASE_URL", EnvSuffix: "/v1"},
			{Name: "anthropic", Upstream: upstream.URL, EnvVar: "ANTHROPIC_BASE_URL"},
			{Name: "internal", Upstream: upstream.URL},
		},
	})

	if server.Addr() == "" || !strings.HasPrefix(server.Addr(), "127.0.0.1:") {
		t.Fatalf("Addr = %q, want an ephemeral loopback address", server.Addr())
	}

	environment := server.Environment()
	want := []string{
		"OPENAI_BASE_URL=http://" + server.Addr() + "/openai/v1",
		"ANTHROPIC_BASE_URL=http://" + server.Addr() + "/anthropic",
	}
	if len(environment) != len(want) {
		t.Fatalf("Environment = %q, want %q", environment, want)
	}
	for i := range want {
		if environment[i] != want[i] {
			t.Errorf("Environment[%d] = %q, want %q", i, environment[i], want[i])
		}
	}

	response, err := http.Post(server.BaseURL("openai")+"/v1/chat/completions", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	response.Body.Close()
	if got := response.Header.Get("X-Path"); got != "/v1/chat/completions" {
		t.Errorf("upstream path = %q, want the route prefix stripped", got)
	}

	for path, wantStatus := range map[string]int{
		"/health":        http.StatusOK,
		"/unknown/v1/x":  http.StatusNotFound,
		"/openai-extra/": http.StatusNotFound,
	} {
		response, err := http.Get("http://" + server.Addr() + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		response.Body.Close()
		if response.StatusCode != wantStatus {
			t.Errorf("GET %s: status %d, want %d", path, response.StatusCode, wantStatus)
		}
	}
}

func TestNewServerRejectsBadRoutes(t *testing.T) {
	t.Parallel()

	for _, routes := range [][]Route{
		{{Name: "", Upstream: "https://api.openai.com"}},
		{{Name: "Bad/Name", Upstream: "https://api.openai.com"}},
		{{Name: "openai"}},
		{{Name: "openai", Upstream: "https://api.openai.com"}, {Name: "openai", Upstream: "https://api.openai.com"}},
	} {
		if _, err := NewServer(ServerConfig{Routes: routes}); err == nil {
			t.Errorf("NewServer accepted routes %+v", routes)
		}
	}
}

func TestServerEnvironmentBeforeStart(t *testing.T) {
	t.Parallel()

	server, err := NewServer(ServerConfig{})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if server.Addr() != "" || server.BaseURL("gemini") != "" {
		t.Error("address reported before Start")
	}
	if len(server.Environment()) != len(DefaultRoutes) {
		t.Errorf("Environment has %d entries, want %d", len(server.Environment()), len(DefaultRoutes))
	}
}

// exchangeSink forwards completed exchanges to a channel.
type exchangeSink struct {
	exchanges chan capture.Exchange
}

func (s *exchangeSink) Record(exchange capture.Exchange) { s.exchanges <- exchange }

func (s *exchangeSink) Finish([]capture.Exchange) error { return nil }

// redirectTransport sends every request to target, keeping the path.
type redirectTransport struct {
	target *url.URL
	next   http.RoundTripper
}

func (r *redirectTransport) RoundTrip(request *http.Request) (*http.Response, error) {
	outgoing := request.Clone(request.Context())
	outgoing.URL.Scheme = r.target.Scheme
	outgoing.URL.Host = r.target.Host
	outgoing.Host = r.target.Host
	return r.next.RoundTrip(outgoing)
}

func TestServerCapturesThroughTap(t *testing.T) {
	t.Parallel()

	const stream = "event: message_start\n" +
		"data: {\"type\":\"message_start\",\"message\":{\"id\":\"msg_1\",\"model\":\"claude-sonnet-4-5\",\"usage\":{\"input_tokens\":12}}}\n\n" +
		"event: content_block_delta\n" +
		"data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"Hello\"}}\n\n" +
		"event: message_delta\n" +
		"data: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"end_turn\"},\"usage\":{\"output_tokens\":3}}\n\n"

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, stream)
	}))
	defer upstream.Close()
	target, _ := url.Parse(upstream.URL)

	sink := &exchangeSink{exchanges: make(chan capture.Exchange, 4)}
	manager, err := intercept.New(intercept.Config{Sink: sink})
	if err != nil {
		t.Fatalf("intercept.New: %v", err)
	}
	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer manager.Shutdown(context.Background())

	// The route names the real API host so the tap captures it; the
	// redirect underneath delivers the call to the test upstream.
	server := startServer(t, ServerConfig{
		Routes:    []Route{{Name: "anthropic", Upstream: "https://api.anthropic.com", EnvVar: "ANTHROPIC_BASE_URL"}},
		Transport: manager.Wrap(&redirectTransport{target: target, next: NewTransport()}),
	})

	response, err := http.Post(server.BaseURL("anthropic")+"/v1/messages", "application/json",
		strings.NewReader(`{"model":"claude-sonnet-4-5","stream":true,"messages":[{"role":"user","content":"hi"}],"metadata":{"user_id":"u_session_abc"}}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	body, err := io.ReadAll(response.Body)
	response.Body.Close()
	if err != nil {
		t.Fatalf("reading response: %v", err)
	}
	if string(body) != stream {
		t.Errorf("caller received %q", body)
	}

	exchange := testutil.RequireReceive(t, sink.exchanges, 5*time.Second, "captured exchange")
	if exchange.Request.Prompt != "hi" || exchange.Request.SessionID != "abc" {
		t.Errorf("request prompt %q session %q", exchange.Request.Prompt, exchange.Request.SessionID)
	}
	if exchange.Response.Text != "Hello" || exchange.Response.FinishReason != "end_turn" {
		t.Errorf("response text %q finish %q", exchange.Response.Text, exchange.Response.FinishReason)
	}
	if exchange.Response.Usage.TotalTokens != 15 {
		t.Errorf("total tokens = %d, want 15", exchange.Response.Usage.TotalTokens)
	}
	if !exchange.Response.Streamed {
		t.Error("response not marked streamed")
	}
}
