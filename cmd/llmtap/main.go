// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"

	"github.com/bureau-foundation/llmtap/cmd/llmtap/cli"
	"github.com/bureau-foundation/llmtap/lib/process"
)

func main() {
	process.Exit(run())
}

func run() error {
	return root().Execute(os.Args[1:])
}

func root() *cli.Command {
	return &cli.Command{
		Name: "llmtap",
		Description: `Observe the LLM API calls of a program and reconstruct them into sessions.

Calls to the Gemini, Code Assist, Anthropic, and OpenAI APIs are
recorded with their prompts, responses, and token usage. The program's
traffic passes through unchanged.`,
		Subcommands: []*cli.Command{
			runCommand(),
			serveCommand(),
			showCommand(),
			compactCommand(),
			versionCommand(),
		},
	}
}
