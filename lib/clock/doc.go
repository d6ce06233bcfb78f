// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// Capture records are stamped with wall-clock time, and session replay
// orders turns by those stamps. Components that stamp records take a
// [Clock] instead of calling time.Now directly, so tests can pin and
// step time:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	c.SetStep(time.Second) // every Now() advances by one second
//	correlator := capture.NewCorrelator(capture.CorrelatorConfig{Clock: c})
package clock
