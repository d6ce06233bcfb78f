// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package proxy is a loopback reverse proxy for LLM APIs that routes
// every call through a capture transport.
//
// It exists for programs whose HTTP client cannot be reached from Go.
// Most LLM command-line tools read a base URL from the environment;
// pointing that URL at the proxy makes their calls observable without
// modifying them.
//
// [Server] listens on TCP and mounts one [Service] per [Route] under
// /{route}/: /gemini/ forwards to generativelanguage.googleapis.com,
// /code-assist/ to cloudcode-pa.googleapis.com, /anthropic/ to
// api.anthropic.com, and /openai/ to api.openai.com.
// [Server.Environment] returns the variables that point each tool at
// its route.
//
// Forwarding is verbatim apart from hop-by-hop headers. The upstream
// transport never negotiates or undoes compression on the caller's
// behalf, redirects are returned to the caller rather than followed,
// and event streams are flushed after every read so streaming latency
// is unchanged.
package proxy
