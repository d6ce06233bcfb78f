// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"encoding/hex"
	"strings"

	"github.com/zeebo/blake3"
)

// maxIDLength bounds the filesystem name derived from a session id.
const maxIDLength = 96

// SanitizeID maps a session id to a name safe to use as a single path
// component. Ids made only of letters, digits, '.', '_', and '-' are
// kept as they are. Anything else has its unsafe bytes replaced and a
// short hash of the original appended, so distinct ids never collide.
func SanitizeID(id string) string {
	var builder strings.Builder
	changed := false
	for i := 0; i < len(id); i++ {
		character := id[i]
		switch {
		case character >= 'a' && character <= 'z',
			character >= 'A' && character <= 'Z',
			character >= '0' && character <= '9',
			character == '.', character == '_', character == '-':
			builder.WriteByte(character)
		default:
			builder.WriteByte('_')
			changed = true
		}
	}

	sanitized := builder.String()
	if len(sanitized) > maxIDLength {
		sanitized = sanitized[:maxIDLength]
		changed = true
	}
	if sanitized == "" || strings.Trim(sanitized, ".") == "" {
		changed = true
	}
	if !changed {
		return sanitized
	}

	digest := blake3.Sum256([]byte(id))
	return sanitized + "-" + hex.EncodeToString(digest[:6])
}
