// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/bureau-foundation/llmtap/lib/atomicfile"
	"github.com/bureau-foundation/llmtap/lib/capture"
	"github.com/bureau-foundation/llmtap/lib/clock"
)

const (
	journalName = "journal"
	lockName    = "lock"
)

// ErrEmptyID is returned for an empty session id.
var ErrEmptyID = errors.New("session: empty session id")

// Publisher receives the full merged session after every append,
// while the session lock is still held. Artifact writes done there
// therefore never interleave with another process's append.
type Publisher interface {
	PublishSession(session *capture.Session) error
}

// Config configures a [FileStore].
type Config struct {
	// Directory is the store root. Created if missing.
	Directory string

	// AgentName is recorded when this process creates a session.
	AgentName string

	// Participant identifies this process in the sessions it touches.
	Participant capture.Participant

	// Publisher, when set, is called after every AppendTurn.
	Publisher Publisher

	// CompressThreshold is the frame payload size above which LZ4 is
	// used. Zero selects the default; negative disables compression.
	CompressThreshold int

	Clock  clock.Clock
	Logger *slog.Logger
}

// FileStore is the journal-backed session store. It is safe for
// concurrent use, and any number of processes may share a directory.
type FileStore struct {
	root              string
	agentName         string
	participant       capture.Participant
	publisher         Publisher
	compressThreshold int
	clock             clock.Clock
	logger            *slog.Logger

	// mu serializes this process's cycles; the flock serializes
	// processes.
	mu sync.Mutex
}

// Open creates a FileStore rooted at config.Directory.
func Open(config Config) (*FileStore, error) {
	if config.Directory == "" {
		return nil, errors.New("session: store directory is required")
	}
	if config.Participant.Marker == "" {
		return nil, errors.New("session: participant marker is required")
	}
	if err := os.MkdirAll(config.Directory, 0o755); err != nil {
		return nil, fmt.Errorf("session: creating store directory: %w", err)
	}
	threshold := config.CompressThreshold
	if threshold == 0 {
		threshold = defaultCompressThreshold
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &FileStore{
		root:              config.Directory,
		agentName:         config.AgentName,
		participant:       config.Participant,
		publisher:         config.Publisher,
		compressThreshold: threshold,
		clock:             config.Clock,
		logger:            logger,
	}, nil
}

// Root returns the store directory.
func (s *FileStore) Root() string {
	return s.root
}

// GetOrCreate returns the session with the given id, creating it if
// no journal exists yet. This process is registered as a participant
// the first time it touches the session.
func (s *FileStore) GetOrCreate(id string) (*capture.Session, error) {
	return s.update(id, nil)
}

// AppendTurn adds a turn to the session, creating the session if
// needed, and returns the merged session. The turn's participant is
// set to this process's marker. The configured Publisher is called
// with the merged session before the lock is released; its error is
// logged and does not fail the append.
func (s *FileStore) AppendTurn(id string, turn capture.Turn) (*capture.Session, error) {
	return s.update(id, &turn)
}

// update runs one locked read-modify-write cycle.
func (s *FileStore) update(id string, turn *capture.Turn) (*capture.Session, error) {
	if id == "" {
		return nil, ErrEmptyID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	directory := s.sessionDirectory(id)
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return nil, fmt.Errorf("session %s: creating directory: %w", id, err)
	}
	lock, err := acquireLock(filepath.Join(directory, lockName), true)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", id, err)
	}
	defer func() {
		if err := lock.release(); err != nil {
			s.logger.Debug("releasing session lock failed", "session_id", id, "error", err)
		}
	}()

	journalPath := filepath.Join(directory, journalName)
	scan, err := readJournal(journalPath)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", id, err)
	}
	state := replayJournal(scan)

	// A torn tail must be cut off before appending, or the new frames
	// would sit behind bytes that replay cannot get past.
	if state.damaged {
		s.logger.Debug("repairing session journal", "session_id", id, "problems", state.problems)
		if err := s.rewrite(journalPath, state.records()); err != nil {
			return nil, fmt.Errorf("session %s: compacting damaged journal: %w", id, err)
		}
		state.damaged = false
	}

	now := s.clock.Now()
	var additions []record
	if state.open == nil {
		additions = append(additions, record{Kind: frameOpen, Time: now, Open: &openRecord{
			SessionID: id,
			AgentName: s.agentName,
			StartTime: now,
		}})
	}
	if !state.markers[s.participant.Marker] {
		participant := s.participant
		additions = append(additions, record{Kind: frameParticipant, Time: now, Participant: &participant})
	}
	if turn != nil {
		turn.Participant = s.participant.Marker
		additions = append(additions, record{Kind: frameTurn, Time: now, Turn: turn})
	}

	if len(additions) > 0 {
		frames := make([][]byte, 0, len(additions))
		for _, addition := range additions {
			frame, err := encodeFrame(addition, s.compressThreshold)
			if err != nil {
				return nil, fmt.Errorf("session %s: %w", id, err)
			}
			frames = append(frames, frame)
		}
		if err := appendFrames(journalPath, frames); err != nil {
			return nil, fmt.Errorf("session %s: %w", id, err)
		}
		for _, addition := range additions {
			state.apply(addition)
		}
	}

	session := state.session(id, s.agentName)
	if turn != nil && s.publisher != nil {
		if err := s.publisher.PublishSession(session); err != nil {
			s.logger.Debug("publishing session failed", "session_id", id, "error", err)
		}
	}
	return session, nil
}

// Load returns the session with the given id without modifying the
// journal. Returns an error wrapping os.ErrNotExist when the session
// has no journal.
func (s *FileStore) Load(id string) (*capture.Session, error) {
	if id == "" {
		return nil, ErrEmptyID
	}
	directory := s.sessionDirectory(id)
	journalPath := filepath.Join(directory, journalName)
	if _, err := os.Stat(journalPath); err != nil {
		return nil, fmt.Errorf("session %s: %w", id, err)
	}

	lock, err := acquireLock(filepath.Join(directory, lockName), false)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", id, err)
	}
	defer lock.release()

	scan, err := readJournal(journalPath)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", id, err)
	}
	return replayJournal(scan).session(id, s.agentName), nil
}

// Compact rewrites a session journal with only its valid, distinct
// records. The rewrite is atomic: a crash leaves either the old or
// the new journal.
func (s *FileStore) Compact(id string) error {
	if id == "" {
		return ErrEmptyID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	directory := s.sessionDirectory(id)
	journalPath := filepath.Join(directory, journalName)
	if _, err := os.Stat(journalPath); err != nil {
		return fmt.Errorf("session %s: %w", id, err)
	}
	lock, err := acquireLock(filepath.Join(directory, lockName), true)
	if err != nil {
		return fmt.Errorf("session %s: %w", id, err)
	}
	defer lock.release()

	scan, err := readJournal(journalPath)
	if err != nil {
		return fmt.Errorf("session %s: %w", id, err)
	}
	return s.rewrite(journalPath, replayJournal(scan).records())
}

// rewrite replaces the journal with the given records.
func (s *FileStore) rewrite(journalPath string, records []record) error {
	var data []byte
	for _, entry := range records {
		frame, err := encodeFrame(entry, s.compressThreshold)
		if err != nil {
			return err
		}
		data = append(data, frame...)
	}
	return atomicfile.WriteFile(journalPath, data, 0o644)
}

// List returns the sanitized names of every session directory that
// holds a journal, sorted.
func (s *FileStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("session: listing store: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.root, entry.Name(), journalName)); err == nil {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *FileStore) sessionDirectory(id string) string {
	return filepath.Join(s.root, SanitizeID(id))
}
