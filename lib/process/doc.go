// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides the binary entrypoint helper of llmtap:
// reporting the error returned by run() to stderr, where the
// structured logger may not exist yet, and exiting with the right
// code.
package process
