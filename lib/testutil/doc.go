// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [RequireReceive] and [RequireClosed] wrap the select-with-timeout
// pattern for channels fed by another goroutine, such as a capture
// consumer or a streaming proxy. The timeout is a hang guard only;
// record timestamps in tests come from a fake clock.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since a hung test is not recoverable.
package testutil
