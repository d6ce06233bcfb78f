// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bureau-foundation/llmtap/lib/atomicfile"
	"github.com/bureau-foundation/llmtap/lib/capture"
	"github.com/bureau-foundation/llmtap/lib/clock"
	"github.com/bureau-foundation/llmtap/lib/session"
)

// TimestampLayout formats creation times in artifact filenames.
const TimestampLayout = "20060102T150405Z"

// toolName is recorded in artifact metadata.
const toolName = "llmtap"

// Config configures an [Exporter].
type Config struct {
	// Directory receives the artifacts. Created if missing.
	Directory string

	// Version is recorded in artifact metadata.
	Version string

	// WrittenBy is this process's participant marker, recorded in
	// artifact metadata.
	WrittenBy string

	// DroppedEvents, when set, reports the side-channel evictions to
	// record in statistics.
	DroppedEvents func() int64

	Clock  clock.Clock
	Logger *slog.Logger
}

// Exporter writes artifacts. It is safe for concurrent use.
type Exporter struct {
	directory     string
	version       string
	writtenBy     string
	droppedEvents func() int64
	clock         clock.Clock
	logger        *slog.Logger

	mu sync.Mutex

	// failed holds rendered artifacts whose last write failed, keyed
	// by path. A newer render of the same path replaces the older.
	failed map[string][]byte
}

// New creates an Exporter.
func New(config Config) (*Exporter, error) {
	if config.Directory == "" {
		return nil, errors.New("export: output directory is required")
	}
	if err := os.MkdirAll(config.Directory, 0o755); err != nil {
		return nil, fmt.Errorf("export: creating output directory: %w", err)
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Exporter{
		directory:     config.Directory,
		version:       config.Version,
		writtenBy:     config.WrittenBy,
		droppedEvents: config.DroppedEvents,
		clock:         config.Clock,
		logger:        logger,
		failed:        make(map[string][]byte),
	}, nil
}

// SessionPath returns the artifact path of a session.
func (e *Exporter) SessionPath(id string, start time.Time) string {
	return filepath.Join(e.directory, fmt.Sprintf("session_%s_%s.json", session.SanitizeID(id), start.UTC().Format(TimestampLayout)))
}

// CapturePath returns the artifact path of a capture.
func (e *Exporter) CapturePath(id string, start time.Time) string {
	return filepath.Join(e.directory, fmt.Sprintf("capture_%s_%s.json", session.SanitizeID(id), start.UTC().Format(TimestampLayout)))
}

// PublishSession renders and writes a session artifact. It satisfies
// [session.Publisher].
func (e *Exporter) PublishSession(current *capture.Session) error {
	artifact := SessionArtifact{
		SessionID:           current.SessionID,
		AgentName:           current.AgentName,
		StartTime:           current.StartTime,
		Turns:               current.Turns,
		ConversationHistory: BuildConversationHistory(current.Turns),
		Statistics:          e.statistics(capture.SessionStatistics(current)),
		Metadata:            e.metadata(current.Participants),
	}
	if artifact.Turns == nil {
		artifact.Turns = []capture.Turn{}
	}
	return e.publish(e.SessionPath(current.SessionID, current.StartTime), artifact)
}

// PublishCapture renders and writes a capture artifact.
func (e *Exporter) PublishCapture(current *capture.Capture) error {
	artifact := CaptureArtifact{
		CaptureID:  current.CaptureID,
		AgentName:  current.AgentName,
		StartTime:  current.StartTime,
		EndTime:    current.EndTime,
		Requests:   current.Requests,
		Responses:  current.Responses,
		Statistics: e.statistics(capture.CaptureStatistics(current)),
		Metadata:   e.metadata(nil),
	}
	if artifact.Requests == nil {
		artifact.Requests = []capture.RequestRecord{}
	}
	if artifact.Responses == nil {
		artifact.Responses = []capture.ResponseRecord{}
	}
	if artifact.EndTime.IsZero() {
		artifact.EndTime = artifact.StartTime
	}
	return e.publish(e.CapturePath(current.CaptureID, current.StartTime), artifact)
}

// Flush retries every write that previously failed. Returns the
// joined errors of the writes that failed again.
func (e *Exporter) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.retryFailed()
}

// Failed returns the number of artifacts awaiting a retry.
func (e *Exporter) Failed() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.failed)
}

func (e *Exporter) publish(path string, artifact any) error {
	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return fmt.Errorf("export: encoding %s: %w", filepath.Base(path), err)
	}
	data = append(data, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()

	// This render supersedes any failed one for the same path.
	delete(e.failed, path)
	retryErr := e.retryFailed()

	if err := atomicfile.WriteFile(path, data, 0o644); err != nil {
		e.failed[path] = data
		e.logger.Debug("artifact write failed, will retry", "path", path, "error", err)
		return errors.Join(fmt.Errorf("export: %w", err), retryErr)
	}
	e.logger.Debug("artifact written", "path", path, "bytes", len(data))
	return retryErr
}

// retryFailed rewrites every remembered artifact. Caller holds e.mu.
func (e *Exporter) retryFailed() error {
	if len(e.failed) == 0 {
		return nil
	}
	paths := make([]string, 0, len(e.failed))
	for path := range e.failed {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	var errs []error
	for _, path := range paths {
		if err := atomicfile.WriteFile(path, e.failed[path], 0o644); err != nil {
			errs = append(errs, fmt.Errorf("export: retrying: %w", err))
			continue
		}
		delete(e.failed, path)
		e.logger.Debug("artifact write retried", "path", path)
	}
	return errors.Join(errs...)
}

func (e *Exporter) statistics(stats capture.Statistics) capture.Statistics {
	if e.droppedEvents != nil {
		stats.DroppedEvents = e.droppedEvents()
	}
	return stats
}

func (e *Exporter) metadata(participants []capture.Participant) Metadata {
	return Metadata{
		Tool:         toolName,
		Version:      e.version,
		WrittenBy:    e.writtenBy,
		WrittenAt:    e.clock.Now().UTC(),
		Participants: participants,
	}
}
