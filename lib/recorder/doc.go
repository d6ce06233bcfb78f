// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package recorder decides where each completed exchange is kept.
//
// An exchange whose request carried a conversation id, or any
// exchange when a default session id is configured, becomes one turn
// appended to that session in the session store; the store publishes
// the merged session artifact. Every other exchange joins this
// process's single-shot capture, which is re-exported after each
// addition.
//
// At shutdown [Recorder.Finish] records the calls that never completed
// as one partial turn per session (or as partial capture entries) and
// flushes exports that are still waiting on a retry.
package recorder
