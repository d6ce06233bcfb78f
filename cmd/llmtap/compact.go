// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/llmtap/cmd/llmtap/cli"
	"github.com/bureau-foundation/llmtap/lib/capture"
	"github.com/bureau-foundation/llmtap/lib/config"
	"github.com/bureau-foundation/llmtap/lib/export"
	"github.com/bureau-foundation/llmtap/lib/session"
	"github.com/bureau-foundation/llmtap/lib/version"
)

func compactCommand() *cli.Command {
	var opts options
	return &cli.Command{
		Name:    "compact",
		Summary: "Rewrite session journals without damaged or duplicate frames",
		Description: `Compact the journals of the named sessions and rewrite their artifacts.

Damaged journals are also compacted automatically by the next process
that appends to them. Compacting takes the session lock, so it is safe
while other llmtap processes are recording into the same session.`,
		Usage: "llmtap compact [flags] <session-id>...",
		Examples: []cli.Example{
			{Command: "llmtap compact -o llmtap-captures conv-7"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("compact", pflag.ContinueOnError)
			flagSet.StringVar(&opts.configPath, "config", "", "configuration file (YAML, or JSON/JSONC by extension; default $"+config.EnvConfig+")")
			flagSet.StringVarP(&opts.outputDir, "output-dir", "o", "", "directory for artifacts and session journals (default ./llmtap-captures)")
			flagSet.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")
			return flagSet
		},
		Run: func(args []string) error {
			return compactSessions(os.Stdout, &opts, args)
		},
	}
}

// compactSessions compacts each session and republishes its artifact.
// Every session is attempted; the error joins the failures.
func compactSessions(w io.Writer, opts *options, ids []string) error {
	if len(ids) == 0 {
		return errors.New("session id required\n\nRun 'llmtap compact --help' for usage.")
	}
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	logger := cli.NewLogger(cfg.Verbose)

	marker := uuid.NewString()
	exporter, err := export.New(export.Config{
		Directory: cfg.OutputDir,
		Version:   version.Short(),
		WrittenBy: marker,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	hostname, _ := os.Hostname()
	store, err := session.Open(session.Config{
		Directory: filepath.Join(cfg.OutputDir, "sessions"),
		AgentName: cfg.AgentName,
		Participant: capture.Participant{
			Marker:    marker,
			PID:       os.Getpid(),
			Hostname:  hostname,
			StartTime: time.Now().UTC(),
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	var errs []error
	for _, id := range ids {
		if err := store.Compact(id); err != nil {
			errs = append(errs, err)
			continue
		}
		current, err := store.Load(id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := exporter.PublishSession(current); err != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", id, err))
			continue
		}
		fmt.Fprintf(w, "%s: %d turn(s), %s\n", id, len(current.Turns), exporter.SessionPath(current.SessionID, current.StartTime))
	}
	return errors.Join(errs...)
}
