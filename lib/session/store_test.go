// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/llmtap/lib/capture"
	"github.com/bureau-foundation/llmtap/lib/clock"
	"github.com/bureau-foundation/llmtap/lib/llm"
)

var epoch = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func openStore(t *testing.T, directory, marker string, fakeClock *clock.FakeClock, publisher Publisher) *FileStore {
	t.Helper()
	store, err := Open(Config{
		Directory:   directory,
		AgentName:   "gemini-cli",
		Participant: capture.Participant{Marker: marker, PID: 100, StartTime: fakeClock.Now()},
		Publisher:   publisher,
		Clock:       fakeClock,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return store
}

func testTurn(requestID string, at time.Time, totalTokens int64) capture.Turn {
	return capture.NewTurn("", capture.Exchange{
		Request: capture.RequestRecord{RequestID: requestID, Timestamp: at, Model: "gemini-2.5-pro", Prompt: "prompt " + requestID},
		Response: capture.ResponseRecord{
			RequestID: requestID,
			Timestamp: at.Add(time.Second),
			Status:    200,
			Text:      "answer " + requestID,
			Usage:     llm.Usage{TotalTokens: totalTokens},
		},
	})
}

type recordingPublisher struct {
	mu       sync.Mutex
	sessions []*capture.Session
	err      error
}

func (p *recordingPublisher) PublishSession(session *capture.Session) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions = append(p.sessions, session)
	return p.err
}

func TestGetOrCreate(t *testing.T) {
	t.Parallel()

	directory := t.TempDir()
	fakeClock := clock.Fake(epoch)
	store := openStore(t, directory, "proc-a", fakeClock, nil)

	session, err := store.GetOrCreate("conv-1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if session.SessionID != "conv-1" || session.AgentName != "gemini-cli" || !session.StartTime.Equal(epoch) {
		t.Errorf("session = %+v", session)
	}
	if len(session.Participants) != 1 || session.Participants[0].Marker != "proc-a" {
		t.Errorf("Participants = %+v", session.Participants)
	}
	if len(session.Turns) != 0 {
		t.Errorf("new session has %d turns", len(session.Turns))
	}

	fakeClock.Advance(time.Hour)
	again, err := store.GetOrCreate("conv-1")
	if err != nil {
		t.Fatalf("second GetOrCreate: %v", err)
	}
	if len(again.Participants) != 1 {
		t.Errorf("participant registered twice: %+v", again.Participants)
	}
	if !again.StartTime.Equal(epoch) {
		t.Errorf("StartTime changed to %v", again.StartTime)
	}

	report, err := DumpJournal(store.JournalPath("conv-1"))
	if err != nil {
		t.Fatalf("DumpJournal: %v", err)
	}
	if len(report.Frames) != 2 || report.Frames[0].Kind != "open" || report.Frames[1].Kind != "participant" {
		t.Errorf("frames = %+v", report.Frames)
	}
}

func TestAppendTurnPublishesMergedSession(t *testing.T) {
	t.Parallel()

	publisher := &recordingPublisher{err: errors.New("disk full")}
	store := openStore(t, t.TempDir(), "proc-a", clock.Fake(epoch), publisher)

	for i := 0; i < 3; i++ {
		turn := testTurn(fmt.Sprintf("r%d", i), epoch.Add(time.Duration(i)*time.Minute), 10)
		if _, err := store.AppendTurn("conv", turn); err != nil {
			t.Fatalf("AppendTurn %d: %v (a publish failure must not fail the append)", i, err)
		}
	}

	if len(publisher.sessions) != 3 {
		t.Fatalf("published %d times, want 3", len(publisher.sessions))
	}
	last := publisher.sessions[2]
	if len(last.Turns) != 3 {
		t.Fatalf("last published session has %d turns, want 3", len(last.Turns))
	}
	for i, turn := range last.Turns {
		if turn.TurnNumber != i+1 {
			t.Errorf("turn %d numbered %d", i, turn.TurnNumber)
		}
		if turn.Participant != "proc-a" {
			t.Errorf("turn %d participant = %q", i, turn.Participant)
		}
	}
	if stats := capture.SessionStatistics(last); stats.TotalTokens != 30 {
		t.Errorf("TotalTokens = %d, want 30", stats.TotalTokens)
	}
}

func TestTurnNumbersFollowCompletionOrder(t *testing.T) {
	t.Parallel()

	store := openStore(t, t.TempDir(), "proc-a", clock.Fake(epoch), nil)

	// B was sent after A but finished first, so it was appended first.
	callB := testTurn("b", epoch.Add(2*time.Second), 1)
	callB.Responses[0].Timestamp = epoch.Add(3 * time.Second)
	callB = capture.NewTurn("", capture.Exchange{Request: callB.Requests[0], Response: callB.Responses[0]})
	callA := testTurn("a", epoch.Add(time.Second), 1)
	callA.Responses[0].Timestamp = epoch.Add(5 * time.Second)
	callA = capture.NewTurn("", capture.Exchange{Request: callA.Requests[0], Response: callA.Responses[0]})

	first, err := store.AppendTurn("conv", callB)
	if err != nil {
		t.Fatalf("AppendTurn(b): %v", err)
	}
	if first.Turns[0].Requests[0].RequestID != "b" || first.Turns[0].TurnNumber != 1 {
		t.Fatalf("first write: turn 1 = %s", first.Turns[0].Requests[0].RequestID)
	}

	second, err := store.AppendTurn("conv", callA)
	if err != nil {
		t.Fatalf("AppendTurn(a): %v", err)
	}
	if len(second.Turns) != 2 {
		t.Fatalf("second write has %d turns, want 2", len(second.Turns))
	}
	for i, want := range []string{"b", "a"} {
		turn := second.Turns[i]
		if turn.Requests[0].RequestID != want || turn.TurnNumber != i+1 {
			t.Errorf("turn %d = %s numbered %d, want %s", i, turn.Requests[0].RequestID, turn.TurnNumber, want)
		}
	}
}

func TestTwoInvocationsShareSession(t *testing.T) {
	t.Parallel()

	directory := t.TempDir()

	first := openStore(t, directory, "invocation-1", clock.Fake(epoch), nil)
	for _, minute := range []int{0, 2} {
		turn := testTurn(fmt.Sprintf("first-%d", minute), epoch.Add(time.Duration(minute)*time.Minute), 5)
		if _, err := first.AppendTurn("shared", turn); err != nil {
			t.Fatalf("first AppendTurn: %v", err)
		}
	}

	second := openStore(t, directory, "invocation-2", clock.Fake(epoch.Add(time.Hour)), nil)
	var session *capture.Session
	for _, minute := range []int{1, 3} {
		turn := testTurn(fmt.Sprintf("second-%d", minute), epoch.Add(time.Duration(minute)*time.Minute), 7)
		var err error
		session, err = second.AppendTurn("shared", turn)
		if err != nil {
			t.Fatalf("second AppendTurn: %v", err)
		}
	}

	if len(session.Turns) != 4 {
		t.Fatalf("got %d turns, want 4", len(session.Turns))
	}
	wantOrder := []string{"first-0", "second-1", "first-2", "second-3"}
	for i, turn := range session.Turns {
		if turn.Requests[0].RequestID != wantOrder[i] {
			t.Errorf("turn %d = %s, want %s", i+1, turn.Requests[0].RequestID, wantOrder[i])
		}
		if turn.TurnNumber != i+1 {
			t.Errorf("turn %d numbered %d", i+1, turn.TurnNumber)
		}
	}
	if len(session.Participants) != 2 {
		t.Errorf("Participants = %+v", session.Participants)
	}
	if !session.StartTime.Equal(epoch) {
		t.Errorf("StartTime = %v, want the first invocation's open time", session.StartTime)
	}
	if stats := capture.SessionStatistics(session); stats.TotalTokens != 24 || stats.TotalTurns != 4 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestConcurrentWritersLoseNothing(t *testing.T) {
	t.Parallel()

	directory := t.TempDir()
	const writers = 4
	const turnsPerWriter = 10

	var wait sync.WaitGroup
	errs := make(chan error, writers*turnsPerWriter)
	for w := 0; w < writers; w++ {
		store := openStore(t, directory, fmt.Sprintf("writer-%d", w), clock.Fake(epoch), nil)
		wait.Add(1)
		go func(w int) {
			defer wait.Done()
			for i := 0; i < turnsPerWriter; i++ {
				turn := testTurn(fmt.Sprintf("w%d-%d", w, i), epoch.Add(time.Duration(i)*time.Second), 1)
				if _, err := store.AppendTurn("busy", turn); err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wait.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("AppendTurn: %v", err)
	}

	reader := openStore(t, directory, "reader", clock.Fake(epoch), nil)
	session, err := reader.Load("busy")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(session.Turns) != writers*turnsPerWriter {
		t.Errorf("got %d turns, want %d", len(session.Turns), writers*turnsPerWriter)
	}
	if len(session.Participants) != writers {
		t.Errorf("got %d participants, want %d", len(session.Participants), writers)
	}
}

func TestTornTailIsIgnoredAndRepaired(t *testing.T) {
	t.Parallel()

	directory := t.TempDir()
	store := openStore(t, directory, "proc", clock.Fake(epoch), nil)
	for i := 0; i < 3; i++ {
		if _, err := store.AppendTurn("crash", testTurn(fmt.Sprintf("r%d", i), epoch.Add(time.Duration(i)*time.Minute), 1)); err != nil {
			t.Fatalf("AppendTurn: %v", err)
		}
	}

	// Simulate a crash part-way through appending turn 4: write the
	// first half of a valid frame.
	frame, err := encodeFrame(record{Kind: frameTurn, Time: epoch, Turn: ptr(testTurn("r3", epoch.Add(3*time.Minute), 1))}, 0)
	if err != nil {
		t.Fatalf("encodeFrame: %v", err)
	}
	journalPath := store.JournalPath("crash")
	file, err := os.OpenFile(journalPath, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		t.Fatalf("opening journal: %v", err)
	}
	file.Write(frame[:len(frame)/2])
	file.Close()

	session, err := store.Load("crash")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(session.Turns) != 3 {
		t.Fatalf("got %d turns after torn append, want 3", len(session.Turns))
	}
	for _, turn := range session.Turns {
		if turn.Partial {
			t.Errorf("turn %d unexpectedly partial", turn.TurnNumber)
		}
	}

	report, err := DumpJournal(journalPath)
	if err != nil {
		t.Fatalf("DumpJournal: %v", err)
	}
	if report.TornAt < 0 {
		t.Error("DumpJournal should report the torn tail")
	}

	// The next append repairs the journal first, so the new turn is
	// readable.
	session, err = store.AppendTurn("crash", testTurn("r4", epoch.Add(4*time.Minute), 1))
	if err != nil {
		t.Fatalf("AppendTurn after crash: %v", err)
	}
	if len(session.Turns) != 4 {
		t.Errorf("got %d turns after repair, want 4", len(session.Turns))
	}
	reloaded, err := store.Load("crash")
	if err != nil {
		t.Fatalf("Load after repair: %v", err)
	}
	if len(reloaded.Turns) != 4 {
		t.Errorf("reloaded %d turns, want 4", len(reloaded.Turns))
	}
	report, err = DumpJournal(journalPath)
	if err != nil {
		t.Fatalf("DumpJournal after repair: %v", err)
	}
	if report.TornAt != -1 {
		t.Errorf("TornAt = %d after repair, want -1", report.TornAt)
	}
}

func TestCorruptFrameIsSkipped(t *testing.T) {
	t.Parallel()

	directory := t.TempDir()
	store := openStore(t, directory, "proc", clock.Fake(epoch), nil)
	for i := 0; i < 3; i++ {
		if _, err := store.AppendTurn("flip", testTurn(fmt.Sprintf("r%d", i), epoch.Add(time.Duration(i)*time.Minute), 1)); err != nil {
			t.Fatalf("AppendTurn: %v", err)
		}
	}

	journalPath := store.JournalPath("flip")
	report, err := DumpJournal(journalPath)
	if err != nil {
		t.Fatalf("DumpJournal: %v", err)
	}
	// Frames: open, participant, r0, r1, r2. Corrupt r1's payload.
	target := report.Frames[3]
	data, err := os.ReadFile(journalPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	data[target.Offset+headerSize+1] ^= 0xff
	if err := os.WriteFile(journalPath, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	session, err := store.Load("flip")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(session.Turns) != 2 {
		t.Fatalf("got %d turns, want 2 (corrupt frame skipped)", len(session.Turns))
	}
	if session.Turns[0].Requests[0].RequestID != "r0" || session.Turns[1].Requests[0].RequestID != "r2" {
		t.Errorf("turns = %s, %s", session.Turns[0].Requests[0].RequestID, session.Turns[1].Requests[0].RequestID)
	}
}

func TestCompactRemovesDuplicates(t *testing.T) {
	t.Parallel()

	directory := t.TempDir()
	store := openStore(t, directory, "proc", clock.Fake(epoch), nil)
	if _, err := store.AppendTurn("dup", testTurn("r0", epoch, 1)); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}

	turn := testTurn("r0", epoch, 1)
	turn.Participant = "proc"
	frame, err := encodeFrame(record{Kind: frameTurn, Time: epoch, Turn: &turn}, 0)
	if err != nil {
		t.Fatalf("encodeFrame: %v", err)
	}
	journalPath := store.JournalPath("dup")
	if err := appendFrames(journalPath, [][]byte{frame}); err != nil {
		t.Fatalf("appendFrames: %v", err)
	}

	session, err := store.Load("dup")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(session.Turns) != 1 {
		t.Errorf("duplicate turn visible: %d turns", len(session.Turns))
	}

	if err := store.Compact("dup"); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	report, err := DumpJournal(journalPath)
	if err != nil {
		t.Fatalf("DumpJournal: %v", err)
	}
	if len(report.Frames) != 3 {
		t.Errorf("compacted journal has %d frames, want 3 (open, participant, turn)", len(report.Frames))
	}
}

func TestLargeTurnsAreCompressed(t *testing.T) {
	t.Parallel()

	directory := t.TempDir()
	store, err := Open(Config{
		Directory:         directory,
		Participant:       capture.Participant{Marker: "proc"},
		CompressThreshold: 256,
		Clock:             clock.Fake(epoch),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	turn := testTurn("big", epoch, 1)
	turn.Responses[0].Text = strings.Repeat("the quick brown fox ", 500)
	if _, err := store.AppendTurn("lz4", turn); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}

	report, err := DumpJournal(store.JournalPath("lz4"))
	if err != nil {
		t.Fatalf("DumpJournal: %v", err)
	}
	last := report.Frames[len(report.Frames)-1]
	if !last.Compressed || last.Kind != "turn" {
		t.Errorf("turn frame = %+v, want compressed", last)
	}
	if last.StoredSize >= len(turn.Responses[0].Text) {
		t.Errorf("StoredSize = %d, not smaller than the text", last.StoredSize)
	}

	session, err := store.Load("lz4")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if session.Turns[0].Responses[0].Text != turn.Responses[0].Text {
		t.Error("compressed turn did not round-trip")
	}
}

func TestLoadMissingSession(t *testing.T) {
	t.Parallel()

	store := openStore(t, t.TempDir(), "proc", clock.Fake(epoch), nil)
	if _, err := store.Load("nope"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load err = %v, want os.ErrNotExist", err)
	}
	if _, err := store.AppendTurn("", capture.Turn{}); !errors.Is(err, ErrEmptyID) {
		t.Errorf("AppendTurn err = %v, want ErrEmptyID", err)
	}
}

func TestList(t *testing.T) {
	t.Parallel()

	directory := t.TempDir()
	store := openStore(t, directory, "proc", clock.Fake(epoch), nil)
	for _, id := range []string{"b", "a"} {
		if _, err := store.GetOrCreate(id); err != nil {
			t.Fatalf("GetOrCreate(%s): %v", id, err)
		}
	}
	if err := os.Mkdir(filepath.Join(directory, "empty"), 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	names, err := store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if strings.Join(names, ",") != "a,b" {
		t.Errorf("List = %v, want [a b]", names)
	}
}

func ptr[T any](value T) *T {
	return &value
}
