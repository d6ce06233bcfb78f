// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package intercept

import (
	"net/url"
	"strings"
)

// TargetHosts are the API hosts whose generation calls are captured.
// A request host matches when it equals an entry, is a subdomain of
// one, or carries a regional prefix such as
// us-central1-aiplatform.googleapis.com.
var TargetHosts = []string{
	"generativelanguage.googleapis.com",
	"cloudcode-pa.googleapis.com",
	"aiplatform.googleapis.com",
	"api.anthropic.com",
	"api.openai.com",
}

// monitoredPaths are the path endings of generation endpoints. Other
// calls to target hosts (token counting, message batches, model
// listing, Code Assist setup) pass through untapped.
var monitoredPaths = []string{
	":generateContent",
	":streamGenerateContent",
	"/v1/messages",
	"/chat/completions",
}

// TargetHost reports whether host is on the allow-list. A port, if
// present, is ignored.
func TargetHost(host string) bool {
	host = strings.ToLower(host)
	if hostname, _, found := strings.Cut(host, ":"); found {
		host = hostname
	}
	host = strings.TrimSuffix(host, ".")
	for _, target := range TargetHosts {
		if host == target || strings.HasSuffix(host, "."+target) || strings.HasSuffix(host, "-"+target) {
			return true
		}
	}
	return false
}

// MonitoredPath reports whether path is a generation endpoint. The
// endpoint must end the path, so /v1/messages/count_tokens is not one.
func MonitoredPath(path string) bool {
	path = strings.TrimSuffix(path, "/")
	for _, ending := range monitoredPaths {
		if strings.HasSuffix(path, ending) {
			return true
		}
	}
	return false
}

// Monitored reports whether a request to u is captured.
func Monitored(u *url.URL) bool {
	if u == nil {
		return false
	}
	return TargetHost(u.Host) && MonitoredPath(u.Path)
}
