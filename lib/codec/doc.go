// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the CBOR encoding configuration used for
// llmtap's internal on-disk formats.
//
// Two serialization formats are used with a clear boundary:
//
//   - JSON for artifacts other tools read: session and capture
//     artifacts, CLI output.
//   - CBOR for the per-session turn journal, which only llmtap itself
//     reads back.
//
// Capture records carry `json` struct tags only. fxamacker/cbor v2 reads
// `json` tags when `cbor` tags are absent, so one tag controls field
// naming for both the journal and the artifact.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2) so the
// same record always produces the same bytes, which keeps journal frame
// checksums stable. Times are encoded as RFC 3339 strings with
// nanosecond precision so turn ordering survives a round trip.
package codec
