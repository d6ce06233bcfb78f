// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package llm knows the wire formats of the LLM APIs llmtap observes.
//
// It works in the opposite direction from a client library: instead of
// building requests and consuming responses, it reads bytes that some
// other program already sent and received, and extracts the fields a
// capture needs. Nothing here performs I/O.
//
// [DetectProvider] maps an upstream host and path to a [Provider].
// [ParseRequest] extracts model, prompt, system instruction, generation
// parameters, tool declarations, and the conversation message list
// from a request body. [ParseFragment] extracts text delta, finish
// reason, usage, and tool calls from one response document or one
// streamed event.
//
// Streaming responses use Server-Sent Events. [SplitEvents] splits a
// complete body into events according to the W3C rules.
//
// Supported shapes:
//   - [Gemini]: generateContent / streamGenerateContent
//   - [CodeAssist]: the Code Assist wrapper around the Gemini shape
//     (request under "request", response under "response")
//   - [Anthropic]: the Messages API (/v1/messages)
//   - [OpenAI]: Chat Completions (/v1/chat/completions)
package llm
