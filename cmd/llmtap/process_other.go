// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package main

import (
	"os"
	"os/exec"
)

// isolateProcessGroup is a no-op where process groups are not
// available; the program shares llmtap's console.
func isolateProcessGroup(child *exec.Cmd, stdin *os.File) (restore func()) {
	return func() {}
}
