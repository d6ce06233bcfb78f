// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/llmtap/cmd/llmtap/cli"
)

func serveCommand() *cli.Command {
	var opts options
	return &cli.Command{
		Name:    "serve",
		Summary: "Run the capture proxy until interrupted",
		Description: `Run the capture proxy alone, for programs started elsewhere.

The base-URL environment assignments for the proxy are printed to
stdout, one "export NAME=value" line each, so a shell can eval them.
The proxy runs until SIGINT or SIGTERM, then writes the artifacts.`,
		Usage: "llmtap serve [flags]",
		Examples: []cli.Example{
			{
				Description: "Serve on a fixed port, saving the environment for other shells",
				Command:     "llmtap serve --listen 127.0.0.1:8089 --session review > llmtap.env",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("serve", pflag.ContinueOnError)
			opts.register(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			return serve(&opts)
		},
	}
}

func serve(opts *options) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	logger := cli.NewLogger(cfg.Verbose)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pipeline, err := startStack(cfg, nil, logger)
	if err != nil {
		return err
	}
	for _, assignment := range pipeline.proxy.Environment() {
		fmt.Fprintf(os.Stdout, "export %s\n", assignment)
	}
	logger.Info("capture proxy ready", "address", pipeline.proxy.Addr(), "output_dir", cfg.OutputDir)

	<-ctx.Done()
	stop()
	return pipeline.shutdown()
}
