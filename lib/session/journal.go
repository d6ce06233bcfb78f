// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/llmtap/lib/capture"
	"github.com/bureau-foundation/llmtap/lib/codec"
)

// Frame layout constants. Changing any of them makes existing
// journals unreadable.
const (
	lengthSize   = 4
	flagsSize    = 1
	checksumSize = 16
	headerSize   = lengthSize + flagsSize + checksumSize

	// flagLZ4 marks a payload stored as a 4-byte uncompressed length
	// followed by an LZ4 block.
	flagLZ4 byte = 1 << 0

	// maxFrameSize bounds a single frame payload. A length field
	// above it is treated as corruption rather than allocated.
	maxFrameSize = 256 << 20

	// defaultCompressThreshold is the payload size above which frames
	// are LZ4-compressed.
	defaultCompressThreshold = 4 << 10
)

// journalDomainKey is the BLAKE3 key for frame checksums: the ASCII
// domain name zero-padded to 32 bytes.
var journalDomainKey = [32]byte{
	'l', 'l', 'm', 't', 'a', 'p', '.', 's', 'e', 's', 's', 'i', 'o', 'n', '.', 'j',
	'o', 'u', 'r', 'n', 'a', 'l', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// errChecksum marks a frame whose checksum does not match.
var errChecksum = errors.New("frame checksum mismatch")

// frameKind identifies the record carried by a frame.
type frameKind uint8

const (
	frameOpen        frameKind = 1
	frameParticipant frameKind = 2
	frameTurn        frameKind = 3
)

func (kind frameKind) String() string {
	switch kind {
	case frameOpen:
		return "open"
	case frameParticipant:
		return "participant"
	case frameTurn:
		return "turn"
	default:
		return fmt.Sprintf("unknown(%d)", kind)
	}
}

// record is the CBOR payload of a frame. Exactly one of Open,
// Participant, or Turn is set, matching Kind.
type record struct {
	Kind        frameKind            `json:"kind"`
	Time        time.Time            `json:"time"`
	Open        *openRecord          `json:"open,omitempty"`
	Participant *capture.Participant `json:"participant,omitempty"`
	Turn        *capture.Turn        `json:"turn,omitempty"`
}

// openRecord is written once when a session is first created.
type openRecord struct {
	SessionID string    `json:"session_id"`
	AgentName string    `json:"agent_name"`
	StartTime time.Time `json:"start_time"`
}

func checksum(flags byte, payload []byte) [checksumSize]byte {
	hasher, err := blake3.NewKeyed(journalDomainKey[:])
	if err != nil {
		panic("session: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write([]byte{flags})
	hasher.Write(payload)
	var sum [checksumSize]byte
	copy(sum[:], hasher.Sum(nil))
	return sum
}

// encodeFrame serializes a record into a complete frame.
func encodeFrame(entry record, compressThreshold int) ([]byte, error) {
	payload, err := codec.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("encoding %s record: %w", entry.Kind, err)
	}

	var flags byte
	if compressThreshold > 0 && len(payload) > compressThreshold {
		if compressed, ok := compressLZ4(payload); ok {
			payload = compressed
			flags |= flagLZ4
		}
	}
	if len(payload) > maxFrameSize {
		return nil, fmt.Errorf("%s record is %d bytes, above the %d byte frame limit", entry.Kind, len(payload), maxFrameSize)
	}

	frame := make([]byte, headerSize, headerSize+len(payload))
	binary.BigEndian.PutUint32(frame[0:lengthSize], uint32(len(payload)))
	frame[lengthSize] = flags
	sum := checksum(flags, payload)
	copy(frame[lengthSize+flagsSize:headerSize], sum[:])
	return append(frame, payload...), nil
}

// compressLZ4 returns the length-prefixed LZ4 block form of data, or
// false when compression does not make it smaller.
func compressLZ4(data []byte) ([]byte, bool) {
	destination := make([]byte, 4+lz4.CompressBlockBound(len(data)))
	binary.BigEndian.PutUint32(destination[:4], uint32(len(data)))
	written, err := lz4.CompressBlock(data, destination[4:], nil)
	if err != nil || written == 0 || written+4 >= len(data) {
		return nil, false
	}
	return destination[:4+written], true
}

func decompressLZ4(stored []byte) ([]byte, error) {
	if len(stored) < 4 {
		return nil, fmt.Errorf("lz4 payload too short")
	}
	size := binary.BigEndian.Uint32(stored[:4])
	if size > maxFrameSize {
		return nil, fmt.Errorf("lz4 payload claims %d bytes", size)
	}
	destination := make([]byte, size)
	read, err := lz4.UncompressBlock(stored[4:], destination)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if read != int(size) {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, size)
	}
	return destination, nil
}

// rawFrame is one frame as found in a journal.
type rawFrame struct {
	offset  int64
	flags   byte
	payload []byte // decompressed CBOR
	stored  int    // payload bytes on disk
	err     error  // checksum or decompression failure
}

// scanResult is the outcome of reading a journal file.
type scanResult struct {
	frames []rawFrame

	// validLength is the byte length of the leading run of complete
	// frames. A torn tail starts there.
	validLength int64

	// torn is set when the file ends inside a frame.
	torn bool
}

// scanJournal splits journal bytes into frames. A frame whose
// checksum fails is returned with err set and scanning continues past
// it; a frame cut off by the end of the data, or whose length field is
// implausible, ends the scan as a torn tail.
func scanJournal(data []byte) scanResult {
	var result scanResult
	offset := 0
	for offset < len(data) {
		remaining := data[offset:]
		if len(remaining) < headerSize {
			result.torn = true
			break
		}
		length := int(binary.BigEndian.Uint32(remaining[:lengthSize]))
		if length > maxFrameSize || headerSize+length > len(remaining) {
			result.torn = true
			break
		}

		flags := remaining[lengthSize]
		stored := remaining[headerSize : headerSize+length]
		frame := rawFrame{offset: int64(offset), flags: flags, stored: length}

		expected := checksum(flags, stored)
		if !bytes.Equal(expected[:], remaining[lengthSize+flagsSize:headerSize]) {
			frame.err = errChecksum
		} else if flags&flagLZ4 != 0 {
			frame.payload, frame.err = decompressLZ4(stored)
		} else {
			frame.payload = stored
		}

		result.frames = append(result.frames, frame)
		offset += headerSize + length
		result.validLength = int64(offset)
	}
	return result
}

// readJournal reads and scans a journal file. A missing file is an
// empty journal.
func readJournal(path string) (scanResult, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return scanResult{}, nil
	}
	if err != nil {
		return scanResult{}, fmt.Errorf("reading journal: %w", err)
	}
	return scanJournal(data), nil
}

// appendFrames writes frames to the end of the journal and syncs.
func appendFrames(path string, frames [][]byte) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening journal for append: %w", err)
	}
	for _, frame := range frames {
		if _, err := file.Write(frame); err != nil {
			file.Close()
			return fmt.Errorf("appending to journal: %w", err)
		}
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("syncing journal: %w", err)
	}
	return file.Close()
}
