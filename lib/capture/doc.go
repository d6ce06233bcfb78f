// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package capture defines the records llmtap persists and the
// correlator that produces them.
//
// The tap emits a stream of [Event] values per observed call: one
// request event, one response-head event, any number of chunk events
// carrying body bytes exactly as the caller received them, and one end
// event. A [Correlator] consumes that stream, keyed by request id, and
// turns each finished call into an [Exchange]: a [RequestRecord] with
// the fields extracted from the request body and a [ResponseRecord]
// assembled from the decoded response fragments.
//
// Events may be missing. The side channel between the tap and the
// correlator is bounded and may evict events under load; every event
// carries a per-request sequence number so the correlator can tell. A
// gap marks the response truncated, and a response whose request
// event never arrived is still recorded and marked unmatched. A call
// that never finishes is returned by [Correlator.FlushPending] as a
// partial exchange.
//
// A Correlator is not safe for concurrent use. It is owned by the
// single goroutine that drains the side channel.
//
// [Session], [Turn], and [Capture] are the persisted shapes, and
// [SessionStatistics] and [CaptureStatistics] recompute aggregates
// from them on demand.
package capture
