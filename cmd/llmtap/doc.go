// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Llmtap observes the LLM API calls of a program and reconstructs them
// into session artifacts.
//
// "llmtap run -- <program>" starts a loopback capture proxy, points the
// program's LLM clients at it through their base-URL environment
// variables, and records every generation call the program makes.
// "llmtap serve" runs the proxy alone for programs started elsewhere.
// "llmtap show" summarizes an artifact written by either.
//
// Artifacts land in the output directory: session_<id>_<start>.json
// for conversations that carry a session id, capture_<id>_<start>.json
// for everything else. Journals under <output>/sessions/ let several
// llmtap processes contribute to one session.
package main
