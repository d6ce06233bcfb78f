// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package session stores conversations that span several processes.
//
// Each session id maps to a directory holding an append-only journal
// and a lock file:
//
//	<root>/<sanitized-id>/journal
//	<root>/<sanitized-id>/lock
//
// The journal is a sequence of frames. A frame is a 4-byte big-endian
// payload length, a flags byte, a 16-byte BLAKE3 keyed checksum over
// the flags and payload, and the payload: a CBOR-encoded record that
// opens the session, registers a contributing process, or adds a turn.
// Payloads above a size threshold are LZ4 block-compressed, with the
// uncompressed length as a 4-byte prefix.
//
// Every read-modify-write cycle holds an exclusive flock on the lock
// file, so two processes appending to the same session serialize and
// neither loses a turn. Appends are fsynced before the lock is
// released. A process killed mid-append leaves at most one torn frame
// at the tail; replay ignores it and the next writer compacts the
// journal before appending.
//
// Replay builds a [capture.Session] from the journal: turns are
// ordered by timestamp (ties keep journal order) and renumbered from
// one. The session is rebuilt from the journal on every access, never
// patched in memory, so what a publisher sees after an append is
// always the full merged record.
package session
