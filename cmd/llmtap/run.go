// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/llmtap/cmd/llmtap/cli"
)

// forwardedSignals reach the wrapped program instead of stopping
// llmtap, which exits once the program does. The program runs in its
// own process group, so a terminal interrupt is not delivered twice.
var forwardedSignals = []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT}

func runCommand() *cli.Command {
	var opts options
	return &cli.Command{
		Name:    "run",
		Summary: "Run a program and capture its LLM API calls",
		Description: `Run a program with its LLM API traffic routed through a capture proxy.

The program is started with GOOGLE_GEMINI_BASE_URL, CODE_ASSIST_ENDPOINT,
ANTHROPIC_BASE_URL, and OPENAI_BASE_URL pointing at a loopback proxy that
forwards every call unchanged and records the generation calls. Signals
are forwarded to the program, and llmtap exits with its exit code after
writing the artifacts.`,
		Usage: "llmtap run [flags] [--] <program> [args...]",
		Examples: []cli.Example{
			{
				Description: "Capture a Gemini CLI conversation",
				Command:     "llmtap run --agent gemini-cli -- gemini -p 'summarize README.md'",
			},
			{
				Description: "Record several runs into one session",
				Command:     "LLMTAP_SESSION_ID=nightly llmtap run -o captures -- ./agent.sh",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("run", pflag.ContinueOnError)
			opts.register(flagSet)
			// Flags after the program name belong to the program.
			flagSet.SetInterspersed(false)
			return flagSet
		},
		Run: func(args []string) error {
			return runProgram(&opts, args)
		},
	}
}

func runProgram(opts *options, args []string) error {
	if len(args) == 0 {
		return errors.New("program required\n\nRun 'llmtap run --help' for usage.")
	}
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	logger := cli.NewLogger(cfg.Verbose)

	pipeline, err := startStack(cfg, nil, logger)
	if err != nil {
		return err
	}

	child := exec.Command(args[0], args[1:]...)
	child.Stdin = os.Stdin
	child.Stdout = os.Stdout
	child.Stderr = os.Stderr
	child.Env = append(os.Environ(), pipeline.proxy.Environment()...)
	restoreTerminal := isolateProcessGroup(child, os.Stdin)

	signals := make(chan os.Signal, len(forwardedSignals))
	signal.Notify(signals, forwardedSignals...)
	defer signal.Stop(signals)

	if err := child.Start(); err != nil {
		pipeline.shutdown()
		return fmt.Errorf("starting %s: %w", args[0], err)
	}
	logger.Debug("program started", "program", args[0], "pid", child.Process.Pid, "proxy", pipeline.proxy.Addr())

	exited := make(chan error, 1)
	go func() { exited <- child.Wait() }()

	var waitErr error
	for waiting := true; waiting; {
		select {
		case received := <-signals:
			logger.Debug("forwarding signal", "signal", received)
			if err := child.Process.Signal(received); err != nil {
				logger.Debug("signal not delivered", "signal", received, "error", err)
			}
		case waitErr = <-exited:
			waiting = false
		}
	}
	restoreTerminal()

	if err := pipeline.shutdown(); err != nil {
		logger.Warn("capture shutdown incomplete", "error", err)
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return &cli.ExitError{Code: exitCode(exitErr)}
		}
		return fmt.Errorf("waiting for %s: %w", args[0], waitErr)
	}
	return nil
}

// exitCode maps a program's exit to llmtap's: the program's own code,
// or 128+signal when a signal ended it, as shells report it.
func exitCode(exitErr *exec.ExitError) int {
	if code := exitErr.ExitCode(); code >= 0 {
		return code
	}
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return 128 + int(status.Signal())
	}
	return 1
}
