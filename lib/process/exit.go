// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// exitCoder is implemented by errors that carry their own exit code
// and have already reported themselves.
type exitCoder interface {
	ExitCode() int
}

// Exit ends the process for the error returned by main's run(). Nil
// exits 0. An error with an ExitCode method exits with that code
// silently. Anything else is written as "error: err" to stderr and
// exits 1.
func Exit(err error) {
	os.Exit(report(os.Stderr, err))
}

// report writes err to w as needed and returns the exit code.
func report(w io.Writer, err error) int {
	if err == nil {
		return 0
	}
	var coder exitCoder
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	fmt.Fprintf(w, "error: %v\n", err)
	return 1
}
