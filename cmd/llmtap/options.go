// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/llmtap/lib/config"
)

// envSessionID supplies the default session id when --session is not
// given.
const envSessionID = "LLMTAP_SESSION_ID"

// options are the flags shared by run and serve. Empty values leave
// the configuration file's setting in place.
type options struct {
	configPath  string
	outputDir   string
	agentName   string
	sessionID   string
	listen      string
	queuePolicy string
	verbose     bool
	rawBodies   bool
}

func (o *options) register(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&o.configPath, "config", "", "configuration file (YAML, or JSON/JSONC by extension; default $"+config.EnvConfig+")")
	flagSet.StringVarP(&o.outputDir, "output-dir", "o", "", "directory for artifacts and session journals (default ./llmtap-captures)")
	flagSet.StringVar(&o.agentName, "agent", "", "name of the observed program, recorded in artifacts")
	flagSet.StringVar(&o.sessionID, "session", "", "default session id for calls that carry none (default $"+envSessionID+")")
	flagSet.StringVar(&o.listen, "listen", "", "capture proxy listen address (default 127.0.0.1:0)")
	flagSet.StringVar(&o.queuePolicy, "queue-policy", "", "capture queue backpressure: drop-oldest or block")
	flagSet.BoolVarP(&o.verbose, "verbose", "v", false, "debug logging, header capture, and raw bodies")
	flagSet.BoolVar(&o.rawBodies, "raw-bodies", false, "keep raw request and response bodies in records")
}

// load reads the configuration file and applies the environment and
// flag overrides over it.
func (o *options) load() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if o.configPath != "" {
		cfg, err = config.LoadFile(o.configPath)
	} else {
		cfg, _, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if value := os.Getenv(envSessionID); value != "" {
		cfg.SessionID = value
	}
	if o.outputDir != "" {
		cfg.OutputDir = o.outputDir
	}
	if o.agentName != "" {
		cfg.AgentName = o.agentName
	}
	if o.sessionID != "" {
		cfg.SessionID = o.sessionID
	}
	if o.listen != "" {
		cfg.Listen = o.listen
	}
	if o.queuePolicy != "" {
		cfg.Queue.Policy = config.QueuePolicy(o.queuePolicy)
	}
	if o.verbose {
		cfg.Verbose = true
	}
	if o.rawBodies {
		cfg.RetainRawBodies = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
