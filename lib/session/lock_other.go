// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !unix

package session

import (
	"fmt"
	"os"
)

// fileLock on platforms without flock only keeps the lock file open.
// Cross-process appends are then unserialized and the journal relies
// on frame checksums to discard interleaved writes.
type fileLock struct {
	file *os.File
}

func acquireLock(path string, exclusive bool) (*fileLock, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file %s: %w", path, err)
	}
	return &fileLock{file: file}, nil
}

func (lock *fileLock) release() error {
	return lock.file.Close()
}
