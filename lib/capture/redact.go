// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"encoding/base64"
	"net/http"
	"strings"
	"unicode/utf8"
)

// redactedValue replaces credential header values.
const redactedValue = "[REDACTED]"

// credentialHeaders are never recorded verbatim. Keys are canonical.
var credentialHeaders = map[string]bool{
	"Authorization":       true,
	"Proxy-Authorization": true,
	"X-Api-Key":           true,
	"X-Goog-Api-Key":      true,
	"Cookie":              true,
	"Set-Cookie":          true,
}

// RedactHeaders flattens headers into a map, joining repeated values
// with ", " and replacing credential values.
func RedactHeaders(header http.Header) map[string]string {
	if len(header) == 0 {
		return nil
	}
	flattened := make(map[string]string, len(header))
	for name, values := range header {
		canonical := http.CanonicalHeaderKey(name)
		if credentialHeaders[canonical] {
			flattened[canonical] = redactedValue
			continue
		}
		flattened[canonical] = strings.Join(values, ", ")
	}
	return flattened
}

// encodeRawBody returns body as text when it is valid UTF-8 and as
// standard base64 otherwise, with the encoding name.
func encodeRawBody(body []byte) (text, encoding string) {
	if len(body) == 0 {
		return "", ""
	}
	if utf8.Valid(body) {
		return string(body), ""
	}
	return base64.StdEncoding.EncodeToString(body), "base64"
}

// DecodeRawBody reverses the raw body encoding of a record.
func DecodeRawBody(text, encoding string) ([]byte, error) {
	if encoding == "base64" {
		return base64.StdEncoding.DecodeString(text)
	}
	return []byte(text), nil
}
