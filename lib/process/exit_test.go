// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
)

type codeError int

func (e codeError) Error() string { return fmt.Sprintf("code %d", int(e)) }
func (e codeError) ExitCode() int { return int(e) }

func TestReport(t *testing.T) {
	t.Parallel()

	var output bytes.Buffer
	if code := report(&output, nil); code != 0 || output.Len() != 0 {
		t.Errorf("nil: code %d output %q", code, output.String())
	}

	if code := report(&output, fmt.Errorf("running: %w", codeError(7))); code != 7 || output.Len() != 0 {
		t.Errorf("exit coder: code %d output %q", code, output.String())
	}

	if code := report(&output, errors.New("boom")); code != 1 || output.String() != "error: boom\n" {
		t.Errorf("plain error: code %d output %q", code, output.String())
	}
}
