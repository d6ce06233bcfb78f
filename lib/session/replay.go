// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"fmt"
	"sort"
	"time"

	"github.com/bureau-foundation/llmtap/lib/capture"
	"github.com/bureau-foundation/llmtap/lib/codec"
)

// replay is the state rebuilt from a journal.
type replay struct {
	open         *openRecord
	participants []capture.Participant
	turns        []capture.Turn

	markers  map[string]bool
	turnKeys map[string]bool

	// damaged is set when the journal had a torn tail, a corrupt
	// frame, or a duplicate record. Compaction clears it.
	damaged bool

	// problems describes the damage for logging.
	problems []string
}

func newReplay() *replay {
	return &replay{
		markers:  make(map[string]bool),
		turnKeys: make(map[string]bool),
	}
}

// replayJournal rebuilds state from a scanned journal.
func replayJournal(scan scanResult) *replay {
	state := newReplay()
	if scan.torn {
		state.damage("torn frame at offset %d", scan.validLength)
	}
	for _, frame := range scan.frames {
		if frame.err != nil {
			state.damage("frame at offset %d: %v", frame.offset, frame.err)
			continue
		}
		var entry record
		if err := codec.Unmarshal(frame.payload, &entry); err != nil {
			state.damage("frame at offset %d: decoding: %v", frame.offset, err)
			continue
		}
		state.apply(entry)
	}
	return state
}

func (state *replay) damage(format string, args ...any) {
	state.damaged = true
	state.problems = append(state.problems, fmt.Sprintf(format, args...))
}

// apply adds one record. Duplicates are dropped and mark the journal
// for compaction.
func (state *replay) apply(entry record) {
	switch entry.Kind {
	case frameOpen:
		if entry.Open == nil {
			state.damage("open record without body")
			return
		}
		if state.open != nil {
			state.damage("duplicate open record")
			return
		}
		open := *entry.Open
		state.open = &open

	case frameParticipant:
		if entry.Participant == nil {
			state.damage("participant record without body")
			return
		}
		if state.markers[entry.Participant.Marker] {
			state.damage("duplicate participant %s", entry.Participant.Marker)
			return
		}
		state.markers[entry.Participant.Marker] = true
		state.participants = append(state.participants, *entry.Participant)

	case frameTurn:
		if entry.Turn == nil {
			state.damage("turn record without body")
			return
		}
		key := turnKey(*entry.Turn)
		if state.turnKeys[key] {
			state.damage("duplicate turn %s", key)
			return
		}
		state.turnKeys[key] = true
		state.turns = append(state.turns, *entry.Turn)

	default:
		// Newer record kinds are skipped so older binaries can still
		// read the turns.
	}
}

// turnKey identifies a turn for deduplication: its participant and
// first request id, which is a UUID generated at the tap.
func turnKey(turn capture.Turn) string {
	if len(turn.Requests) > 0 {
		return turn.Participant + "/" + turn.Requests[0].RequestID
	}
	return turn.Participant + "@" + turn.Timestamp.UTC().Format(time.RFC3339Nano)
}

// records returns the canonical record sequence for compaction: the
// open record, participants, then turns, each in journal order.
func (state *replay) records() []record {
	var records []record
	if state.open != nil {
		open := *state.open
		records = append(records, record{Kind: frameOpen, Time: open.StartTime, Open: &open})
	}
	for i := range state.participants {
		participant := state.participants[i]
		records = append(records, record{Kind: frameParticipant, Time: participant.StartTime, Participant: &participant})
	}
	for i := range state.turns {
		turn := state.turns[i]
		records = append(records, record{Kind: frameTurn, Time: turn.Timestamp, Turn: &turn})
	}
	return records
}

// session builds the merged session. Turns are sorted by completion
// timestamp, ties keeping journal order, and numbered from one.
func (state *replay) session(id, agentName string) *capture.Session {
	session := &capture.Session{
		SessionID:    id,
		AgentName:    agentName,
		Participants: append([]capture.Participant(nil), state.participants...),
		Turns:        append([]capture.Turn(nil), state.turns...),
	}
	if state.open != nil {
		session.SessionID = state.open.SessionID
		session.StartTime = state.open.StartTime
		if state.open.AgentName != "" {
			session.AgentName = state.open.AgentName
		}
	}

	sort.SliceStable(session.Turns, func(i, j int) bool {
		return session.Turns[i].Timestamp.Before(session.Turns[j].Timestamp)
	})
	for i := range session.Turns {
		session.Turns[i].TurnNumber = i + 1
	}

	if session.StartTime.IsZero() {
		for _, participant := range session.Participants {
			if session.StartTime.IsZero() || participant.StartTime.Before(session.StartTime) {
				session.StartTime = participant.StartTime
			}
		}
		if len(session.Turns) > 0 && (session.StartTime.IsZero() || session.Turns[0].Timestamp.Before(session.StartTime)) {
			session.StartTime = session.Turns[0].Timestamp
		}
	}
	return session
}
