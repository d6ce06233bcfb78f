// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"fmt"
	"path/filepath"

	"github.com/bureau-foundation/llmtap/lib/codec"
)

// FrameInfo describes one journal frame for diagnostics.
type FrameInfo struct {
	Offset     int64
	Kind       string
	StoredSize int
	Compressed bool

	// Error is set when the frame failed its checksum or could not be
	// decoded.
	Error string

	// Diagnostic is the CBOR diagnostic notation of the payload.
	Diagnostic string
}

// JournalReport is the frame-level view of a journal file.
type JournalReport struct {
	Path   string
	Frames []FrameInfo

	// TornAt is the offset of a torn trailing frame, or -1.
	TornAt int64
}

// DumpJournal reads a journal file directly, without taking the
// session lock, and describes each frame.
func DumpJournal(path string) (*JournalReport, error) {
	scan, err := readJournal(path)
	if err != nil {
		return nil, err
	}
	report := &JournalReport{Path: path, TornAt: -1}
	if scan.torn {
		report.TornAt = scan.validLength
	}
	for _, frame := range scan.frames {
		info := FrameInfo{
			Offset:     frame.offset,
			StoredSize: frame.stored,
			Compressed: frame.flags&flagLZ4 != 0,
		}
		if frame.err != nil {
			info.Error = frame.err.Error()
			report.Frames = append(report.Frames, info)
			continue
		}
		var entry record
		if err := codec.Unmarshal(frame.payload, &entry); err != nil {
			info.Error = fmt.Sprintf("decoding: %v", err)
		} else {
			info.Kind = entry.Kind.String()
		}
		if diagnostic, err := codec.Diagnose(frame.payload); err == nil {
			info.Diagnostic = diagnostic
		}
		report.Frames = append(report.Frames, info)
	}
	return report, nil
}

// JournalPath returns the journal file of a session id.
func (s *FileStore) JournalPath(id string) string {
	return filepath.Join(s.sessionDirectory(id), journalName)
}
