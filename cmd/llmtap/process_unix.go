// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package main

import (
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// isolateProcessGroup starts the program in a process group of its
// own, so a signal reaches it once: from the terminal when it owns the
// terminal, from llmtap's forwarding otherwise. When llmtap holds the
// foreground of the terminal on stdin, the program's group takes it
// over. The returned function gives the terminal back after the
// program exits.
func isolateProcessGroup(child *exec.Cmd, stdin *os.File) (restore func()) {
	child.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	fd := int(stdin.Fd())
	if !term.IsTerminal(fd) {
		return func() {}
	}
	foreground, err := unix.IoctlGetInt(fd, unix.TIOCGPGRP)
	if err != nil || foreground != unix.Getpgrp() {
		return func() {}
	}

	child.SysProcAttr.Foreground = true
	// Ctty names the descriptor in the child: stdin.
	child.SysProcAttr.Ctty = 0

	return func() {
		// llmtap is a background group until the call below returns.
		signal.Ignore(syscall.SIGTTOU)
		defer signal.Reset(syscall.SIGTTOU)
		unix.IoctlSetPointerInt(fd, unix.TIOCSPGRP, unix.Getpgrp())
	}
}
