// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the command framework of the llmtap binary: a tree
// of [Command] values with pflag flag sets, structured help output,
// and typo suggestions for unknown commands and flags.
//
// A command returns [ExitError] to end the process with a specific
// code without printing an error line. The run command uses it to
// pass the wrapped program's exit status through.
package cli
