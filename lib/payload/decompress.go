// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package payload

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// MaxDecodedSize bounds the size of a decompressed body. Responses
// that inflate past it are treated as undecodable.
const MaxDecodedSize = 256 << 20

// ErrUnsupportedEncoding is returned for content codings other than
// gzip, deflate, zstd, and identity.
var ErrUnsupportedEncoding = errors.New("payload: unsupported content encoding")

// ErrTooLarge is returned when a body inflates past [MaxDecodedSize].
var ErrTooLarge = errors.New("payload: decoded body exceeds size limit")

// zstdDecoder is shared across calls. zstd.Decoder is safe for
// concurrent use through DecodeAll.
var zstdDecoder *zstd.Decoder

func init() {
	var err error
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxDecodedSize))
	if err != nil {
		panic("payload: zstd decoder initialization failed: " + err.Error())
	}
}

// Decompress undoes a Content-Encoding header value. Multiple codings
// ("gzip, zstd") are listed in the order they were applied and are
// undone in reverse.
func Decompress(body []byte, contentEncoding string) ([]byte, error) {
	codings := strings.Split(contentEncoding, ",")
	for i := len(codings) - 1; i >= 0; i-- {
		coding := strings.ToLower(strings.TrimSpace(codings[i]))
		var err error
		body, err = decompressOne(body, coding)
		if err != nil {
			return nil, err
		}
	}
	return body, nil
}

func decompressOne(body []byte, coding string) ([]byte, error) {
	switch coding {
	case "", "identity":
		return body, nil

	case "gzip", "x-gzip":
		reader, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer reader.Close()
		return readLimited(reader, "gzip")

	case "deflate":
		// RFC 9110 deflate is zlib-wrapped, but enough servers send
		// a bare DEFLATE stream that both must be accepted.
		if reader, err := zlib.NewReader(bytes.NewReader(body)); err == nil {
			defer reader.Close()
			if decoded, err := readLimited(reader, "deflate"); err == nil {
				return decoded, nil
			}
		}
		reader := flate.NewReader(bytes.NewReader(body))
		defer reader.Close()
		return readLimited(reader, "deflate")

	case "zstd":
		decoded, err := zstdDecoder.DecodeAll(body, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		if len(decoded) > MaxDecodedSize {
			return nil, ErrTooLarge
		}
		return decoded, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, coding)
	}
}

func readLimited(reader io.Reader, coding string) ([]byte, error) {
	decoded, err := io.ReadAll(io.LimitReader(reader, MaxDecodedSize+1))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", coding, err)
	}
	if len(decoded) > MaxDecodedSize {
		return nil, ErrTooLarge
	}
	return decoded, nil
}
