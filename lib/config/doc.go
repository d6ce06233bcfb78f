// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for llmtap.
//
// Configuration is loaded from a single file named by the --config flag
// (via [LoadFile]) or the LLMTAP_CONFIG environment variable (via
// [Load]). There is no ~/.config discovery and no automatic file
// search. Files ending in .json or .jsonc are read as JSON with
// comments; anything else is read as YAML.
//
// Variable expansion is performed on path fields after loading:
// ${HOME} and ${VAR:-default} patterns are expanded. Command-line
// flags are applied by the caller after loading and win over file
// values.
//
// The set of intercepted hosts is deliberately not part of the
// configuration; see package intercept.
//
// This package depends on no other llmtap packages.
package config
