// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func TestLevenshtein(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"", "run", 3},
		{"show", "show", 0},
		{"serve", "serv", 1},
		{"version", "verison", 2},
		{"kitten", "sitting", 3},
	}
	for _, test := range tests {
		if got := levenshtein(test.a, test.b); got != test.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", test.a, test.b, got, test.want)
		}
	}
}

func TestSuggestCommandThreshold(t *testing.T) {
	t.Parallel()

	commands := []*Command{{Name: "run"}, {Name: "serve"}, {Name: "show"}}
	if got := suggestCommand("shwo", commands); got != "show" {
		t.Errorf("suggestCommand(shwo) = %q, want show", got)
	}
	if got := suggestCommand("completely-different", commands); got != "" {
		t.Errorf("suggestCommand(completely-different) = %q, want none", got)
	}
}

func TestSuggestFlagStopsAtTerminator(t *testing.T) {
	t.Parallel()

	flagSet := pflag.NewFlagSet("run", pflag.ContinueOnError)
	flagSet.String("session", "", "")
	if got := suggestFlag([]string{"--", "--sesion"}, flagSet); got != "" {
		t.Errorf("suggestFlag looked past --: %q", got)
	}
	if got := suggestFlag([]string{"--sesion=x"}, flagSet); got != "--session" {
		t.Errorf("suggestFlag(--sesion=x) = %q, want --session", got)
	}
}

func TestNewLoggerFormats(t *testing.T) {
	t.Parallel()

	var output bytes.Buffer
	newLogger(&output, false, false).Debug("hidden")
	newLogger(&output, false, false).Info("shown", "key", "value")
	if strings.Contains(output.String(), "hidden") {
		t.Error("debug record written at the default level")
	}
	if !strings.Contains(output.String(), `"msg":"shown"`) {
		t.Errorf("non-terminal output is not JSON: %q", output.String())
	}

	output.Reset()
	newLogger(&output, true, true).Debug("detail")
	if !strings.Contains(output.String(), "msg=detail") {
		t.Errorf("verbose terminal output = %q, want a text debug record", output.String())
	}
}
