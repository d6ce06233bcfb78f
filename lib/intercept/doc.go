// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package intercept observes LLM API calls at the HTTP transport.
//
// [Tap] is an [http.RoundTripper] that decorates another transport.
// Requests to a known API host on a generation endpoint (see
// [Monitored]) are captured: the request body is read once and handed
// back to the inner transport unchanged, and the response body is
// wrapped so every Read returns exactly what the inner body returned
// while a copy of the bytes goes to a side channel. All other requests
// go straight through.
//
// The side channel is a [Queue] of [capture.Event] values bounded by
// count and bytes. Under [config.DropOldest] the tap never waits and
// evictions are counted; under [config.Block] the tap waits for room.
// Events carry per-request sequence numbers so the consumer can tell
// when something was evicted.
//
// [Manager] ties the pieces together. It installs taps on clients,
// runs the single consumer goroutine that owns the
// [capture.Correlator], and hands completed exchanges to a [Sink].
//
// Capture never changes what the caller sees. A failure or panic on
// the capture side is logged at debug level and dropped.
package intercept
