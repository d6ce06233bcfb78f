// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package export writes session and capture artifacts as JSON files.
//
// An [Exporter] renders a [capture.Session] or [capture.Capture] into
// its artifact shape, recomputing statistics from the records on every
// write, and replaces the artifact file atomically. Filenames derive
// from the id and the creation time, so every process contributing to
// a session rewrites the same file while separate runs never collide:
//
//	session_<id>_<20060102T150405Z>.json
//	capture_<id>_<20060102T150405Z>.json
//
// A failed write is remembered and retried on the next publish and on
// [Exporter.Flush]. Write errors are returned for logging; callers on
// the capture path never surface them to the observed program.
package export
