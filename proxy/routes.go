// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"fmt"
	"regexp"
)

// Route maps a path prefix on the proxy to an upstream API.
type Route struct {
	// Name is the first path segment, e.g. "gemini" for /gemini/....
	Name string

	// Upstream is the base URL requests are forwarded to.
	Upstream string

	// EnvVar is the environment variable through which LLM tools
	// accept a replacement base URL. Empty for routes no tool reads.
	EnvVar string

	// EnvSuffix is appended to the proxy URL in EnvVar, for SDKs that
	// expect the API version in the base URL.
	EnvSuffix string
}

// DefaultRoutes are the routes of the capture proxy.
var DefaultRoutes = []Route{
	{Name: "gemini", Upstream: "https://generativelanguage.googleapis.com", EnvVar: "GOOGLE_GEMINI_BASE_URL"},
	{Name: "code-assist", Upstream: "https://cloudcode-pa.googleapis.com", EnvVar: "CODE_ASSIST_ENDPOINT"},
	{Name: "anthropic", Upstream: "https://api.anthropic.com", EnvVar: "ANTHROPIC_BASE_URL"},
	{Name: "openai", Upstream: "https://api.openai.com", EnvVar: "OPENAI_BASE_URL", EnvSuffix: "/v1"},
}

var routeNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

func (r Route) validate() error {
	if !routeNamePattern.MatchString(r.Name) {
		return fmt.Errorf("invalid route name %q", r.Name)
	}
	if r.Upstream == "" {
		return fmt.Errorf("route %s: upstream is required", r.Name)
	}
	return nil
}
