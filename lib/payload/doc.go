// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package payload turns captured response bytes into fragments.
//
// [Decode] undoes the declared Content-Encoding (gzip, deflate, zstd),
// detects the framing (Server-Sent Events, a JSON array of documents,
// or a single JSON document), and parses each unit with [llm.ParseFragment].
// Anything it cannot decompress or parse degrades to raw bytes with a
// recorded decode error; Decode never fails outright.
//
// [Assemble] merges a fragment sequence into one logical response:
// concatenated text, the last finish reason, the last (or merged)
// usage, and tool calls stitched together from their streamed pieces.
//
// Both functions are pure. The same bytes and metadata always produce
// the same result, which is what lets a capture be re-decoded later
// from its retained raw body.
package payload
