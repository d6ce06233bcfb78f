// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package recorder

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/llmtap/lib/capture"
	"github.com/bureau-foundation/llmtap/lib/clock"
	"github.com/bureau-foundation/llmtap/lib/export"
	"github.com/bureau-foundation/llmtap/lib/session"
)

var epoch = time.Date(2026, 6, 2, 15, 30, 0, 0, time.UTC)

type fixture struct {
	directory string
	store     *session.FileStore
	exporter  *export.Exporter
	clock     *clock.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	directory := t.TempDir()
	fakeClock := clock.Fake(epoch)
	exporter, err := export.New(export.Config{
		Directory: directory,
		Version:   "test",
		WrittenBy: "proc-1",
		Clock:     fakeClock,
	})
	if err != nil {
		t.Fatalf("export.New: %v", err)
	}
	store, err := session.Open(session.Config{
		Directory:   filepath.Join(directory, "sessions"),
		AgentName:   "gemini-cli",
		Participant: capture.Participant{Marker: "proc-1", PID: 42, StartTime: epoch},
		Publisher:   exporter,
		Clock:       fakeClock,
	})
	if err != nil {
		t.Fatalf("session.Open: %v", err)
	}
	return &fixture{directory: directory, store: store, exporter: exporter, clock: fakeClock}
}

func (f *fixture) recorder(t *testing.T, defaultSession string) *Recorder {
	t.Helper()
	recorder, err := New(Config{
		Store:            f.store,
		Exporter:         f.exporter,
		DefaultSessionID: defaultSession,
		AgentName:        "gemini-cli",
		Participant:      "proc-1",
		Clock:            f.clock,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return recorder
}

func exchange(requestID, sessionID string, at time.Time) capture.Exchange {
	return capture.Exchange{
		Request: capture.RequestRecord{
			RequestID: requestID,
			Timestamp: at,
			Model:     "gemini-2.5-pro",
			Prompt:    "question " + requestID,
			SessionID: sessionID,
		},
		Response: capture.ResponseRecord{
			RequestID: requestID,
			Timestamp: at.Add(2 * time.Second),
			Status:    200,
			Text:      "answer " + requestID,
		},
	}
}

func readSession(t *testing.T, f *fixture, id string) *export.SessionArtifact {
	t.Helper()
	current, err := f.store.Load(id)
	if err != nil {
		t.Fatalf("Load(%s): %v", id, err)
	}
	artifact, err := export.ReadArtifact(f.exporter.SessionPath(id, current.StartTime))
	if err != nil {
		t.Fatalf("ReadArtifact: %v", err)
	}
	if artifact.Session == nil {
		t.Fatal("artifact is not a session")
	}
	return artifact.Session
}

func readCapture(t *testing.T, f *fixture, current *capture.Capture) *export.CaptureArtifact {
	t.Helper()
	artifact, err := export.ReadArtifact(f.exporter.CapturePath(current.CaptureID, current.StartTime))
	if err != nil {
		t.Fatalf("ReadArtifact: %v", err)
	}
	if artifact.Capture == nil {
		t.Fatal("artifact is not a capture")
	}
	return artifact.Capture
}

func TestRecordRoutesBySessionID(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	recorder := f.recorder(t, "")

	recorder.Record(exchange("r1", "conv-7", epoch))
	recorder.Record(exchange("r2", "conv-7", epoch.Add(time.Minute)))

	written := readSession(t, f, "conv-7")
	if len(written.Turns) != 2 {
		t.Fatalf("session has %d turns, want 2", len(written.Turns))
	}
	for i, turn := range written.Turns {
		if turn.TurnNumber != i+1 {
			t.Errorf("turn %d: number %d", i, turn.TurnNumber)
		}
		if turn.Participant != "proc-1" {
			t.Errorf("turn %d: participant %q", i, turn.Participant)
		}
	}
	if recorder.Capture() != nil {
		t.Error("session exchanges leaked into the capture")
	}
}

func TestRecordWithoutSessionGoesToCapture(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	recorder := f.recorder(t, "")

	recorder.Record(exchange("r1", "", epoch))
	first := recorder.Capture()
	if first == nil {
		t.Fatal("no capture after an exchange without a session")
	}
	if !first.StartTime.Equal(epoch) {
		t.Errorf("capture start = %v, want the first request time", first.StartTime)
	}

	recorder.Record(exchange("r2", "", epoch.Add(time.Minute)))
	second := recorder.Capture()
	if second.CaptureID != first.CaptureID {
		t.Error("second exchange started a new capture")
	}

	written := readCapture(t, f, second)
	if len(written.Requests) != 2 || len(written.Responses) != 2 {
		t.Fatalf("capture has %d requests and %d responses, want 2 and 2", len(written.Requests), len(written.Responses))
	}
	if written.Statistics.TotalTurns != 2 {
		t.Errorf("capture statistics turns = %d, want 2", written.Statistics.TotalTurns)
	}
	if !written.EndTime.Equal(epoch.Add(time.Minute + 2*time.Second)) {
		t.Errorf("capture end = %v", written.EndTime)
	}

	names, err := f.store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(names) != 0 {
		t.Errorf("sessions created for session-less exchanges: %v", names)
	}
}

func TestDefaultSessionID(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	recorder := f.recorder(t, "nightly")

	// Joining happens at construction.
	joined, err := f.store.Load("nightly")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(joined.Participants) != 1 || joined.Participants[0].Marker != "proc-1" {
		t.Errorf("participants = %+v", joined.Participants)
	}
	if len(joined.Turns) != 0 {
		t.Errorf("new session has %d turns", len(joined.Turns))
	}

	recorder.Record(exchange("r1", "", epoch))
	recorder.Record(exchange("r2", "explicit", epoch))

	if got := len(readSession(t, f, "nightly").Turns); got != 1 {
		t.Errorf("default session has %d turns, want 1", got)
	}
	if got := len(readSession(t, f, "explicit").Turns); got != 1 {
		t.Errorf("explicit session has %d turns, want 1", got)
	}
	if recorder.Capture() != nil {
		t.Error("capture created despite a default session")
	}
}

func TestFinishRecordsPartialTurn(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	recorder := f.recorder(t, "")

	recorder.Record(exchange("r1", "conv-1", epoch))

	pendingA := exchange("r2", "conv-1", epoch.Add(time.Minute))
	pendingA.Response.Partial = true
	pendingB := exchange("r3", "conv-1", epoch.Add(30*time.Second))
	pendingB.Response.Partial = true
	loose := exchange("r4", "", epoch.Add(time.Minute))
	loose.Response.Partial = true

	if err := recorder.Finish([]capture.Exchange{pendingA, pendingB, loose}); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	written := readSession(t, f, "conv-1")
	if len(written.Turns) != 2 {
		t.Fatalf("session has %d turns, want 2", len(written.Turns))
	}
	last := written.Turns[1]
	if !last.Partial {
		t.Error("final turn not flagged partial")
	}
	if len(last.Requests) != 2 {
		t.Errorf("partial turn holds %d requests, want 2", len(last.Requests))
	}
	if !last.Timestamp.Equal(epoch.Add(time.Minute + 2*time.Second)) {
		t.Errorf("partial turn timestamp = %v, want the latest pending response", last.Timestamp)
	}
	if written.Statistics.Partial != 2 {
		t.Errorf("partial statistic = %d, want 2", written.Statistics.Partial)
	}

	current := recorder.Capture()
	if current == nil || len(current.Responses) != 1 || !current.Responses[0].Partial {
		t.Fatalf("capture = %+v, want one partial response", current)
	}
	readCapture(t, f, current)
}

// failingStore rejects every append.
type failingStore struct{}

func (failingStore) GetOrCreate(string) (*capture.Session, error) {
	return &capture.Session{}, nil
}

func (failingStore) AppendTurn(string, capture.Turn) (*capture.Session, error) {
	return nil, errors.New("disk full")
}

func TestStoreFailuresReportedAtFinish(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	recorder, err := New(Config{
		Store:    failingStore{},
		Exporter: f.exporter,
		Clock:    f.clock,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	recorder.Record(exchange("r1", "conv-1", epoch))
	recorder.Record(exchange("r2", "conv-1", epoch))

	err = recorder.Finish(nil)
	if err == nil || !strings.Contains(err.Error(), "2 exchanges could not be stored") {
		t.Errorf("Finish = %v, want the failure count", err)
	}
}

// flakyStore rejects appends while failing is set and passes the
// rest to a real store.
type flakyStore struct {
	*session.FileStore
	failing  bool
	attempts int
}

func (s *flakyStore) AppendTurn(id string, turn capture.Turn) (*capture.Session, error) {
	s.attempts++
	if s.failing {
		return nil, errors.New("no space left on device")
	}
	return s.FileStore.AppendTurn(id, turn)
}

func TestFailedAppendIsRetried(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	store := &flakyStore{FileStore: f.store, failing: true}
	recorder, err := New(Config{Store: store, Exporter: f.exporter, Participant: "proc-1", Clock: f.clock})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	recorder.Record(exchange("r1", "conv-1", epoch))
	store.failing = false
	recorder.Record(exchange("r2", "conv-1", epoch.Add(time.Minute)))

	written := readSession(t, f, "conv-1")
	if len(written.Turns) != 2 {
		t.Fatalf("session has %d turns, want 2", len(written.Turns))
	}
	for i, want := range []string{"r1", "r2"} {
		if got := written.Turns[i].Requests[0].RequestID; got != want {
			t.Errorf("turn %d = %s, want %s", i+1, got, want)
		}
	}
	if err := recorder.Finish(nil); err != nil {
		t.Errorf("Finish = %v, want nil once the retry succeeded", err)
	}
}

func TestFailedAppendIsRetriedAtFinish(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	store := &flakyStore{FileStore: f.store, failing: true}
	recorder, err := New(Config{Store: store, Exporter: f.exporter, Participant: "proc-1", Clock: f.clock})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	recorder.Record(exchange("r1", "conv-1", epoch))
	store.failing = false
	if err := recorder.Finish(nil); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if got := len(readSession(t, f, "conv-1").Turns); got != 1 {
		t.Errorf("session has %d turns, want 1", got)
	}
	if store.attempts != 2 {
		t.Errorf("AppendTurn attempts = %d, want 2", store.attempts)
	}
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if _, err := New(Config{Exporter: f.exporter}); err == nil {
		t.Error("New accepted a nil store")
	}
	if _, err := New(Config{Store: f.store}); err == nil {
		t.Error("New accepted a nil exporter")
	}
}
