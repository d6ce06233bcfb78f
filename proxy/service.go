// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/bureau-foundation/llmtap/lib/clock"
)

// Service forwards HTTP requests to one upstream API.
type Service struct {
	name     string
	upstream *url.URL
	client   *http.Client
	clock    clock.Clock
	logger   *slog.Logger
}

// ServiceConfig holds configuration for creating a Service.
type ServiceConfig struct {
	// Name is the service name used in logging.
	Name string

	// Upstream is the target URL (e.g., "https://api.openai.com").
	Upstream string

	// Transport carries the forwarded requests, normally a capture
	// tap over [NewTransport]. Nil uses NewTransport directly.
	Transport http.RoundTripper

	Clock clock.Clock

	// Logger for request logging.
	Logger *slog.Logger
}

// NewTransport returns the upstream transport of the proxy. It leaves
// Accept-Encoding and Content-Encoding to the caller so response bytes
// reach the caller exactly as the upstream sent them.
func NewTransport() *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = 100
	transport.MaxIdleConnsPerHost = 10
	transport.IdleConnTimeout = 90 * time.Second
	transport.DisableCompression = true
	return transport
}

// NewService creates a Service.
func NewService(config ServiceConfig) (*Service, error) {
	if config.Name == "" {
		return nil, errors.New("service name is required")
	}
	if config.Upstream == "" {
		return nil, fmt.Errorf("service %s: upstream URL is required", config.Name)
	}
	upstream, err := url.Parse(config.Upstream)
	if err != nil {
		return nil, fmt.Errorf("service %s: invalid upstream URL: %w", config.Name, err)
	}
	if upstream.Scheme == "" || upstream.Host == "" {
		return nil, fmt.Errorf("service %s: upstream URL %q needs a scheme and host", config.Name, config.Upstream)
	}

	transport := config.Transport
	if transport == nil {
		transport = NewTransport()
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client := &http.Client{
		Timeout:   0, // No overall timeout - SSE streams are long-lived
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return &Service{
		name:     config.Name,
		upstream: upstream,
		client:   client,
		clock:    config.Clock,
		logger:   logger,
	}, nil
}

// Name returns the service name.
func (s *Service) Name() string {
	return s.name
}

// ServeHTTP forwards one request. The request path is relative to the
// upstream base URL.
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	startTime := s.clock.Now()

	upstreamURL := *s.upstream
	upstreamURL.Path = singleJoiningSlash(s.upstream.Path, r.URL.Path)
	upstreamURL.RawPath = ""
	upstreamURL.RawQuery = r.URL.RawQuery

	body := r.Body
	if r.ContentLength == 0 {
		body = http.NoBody
	}
	upstreamReq, err := http.NewRequestWithContext(r.Context(), r.Method, upstreamURL.String(), body)
	if err != nil {
		s.logger.Error("failed to create upstream request",
			"service", s.name,
			"error", err,
		)
		http.Error(w, "failed to create request", http.StatusInternalServerError)
		return
	}
	upstreamReq.ContentLength = r.ContentLength
	copyHeaders(upstreamReq.Header, r.Header)

	s.logger.Debug("proxy request",
		"service", s.name,
		"method", r.Method,
		"path", r.URL.Path,
		"upstream", upstreamURL.Redacted(),
	)

	resp, err := s.client.Do(upstreamReq)
	if err != nil {
		s.logger.Warn("upstream request failed",
			"service", s.name,
			"error", err,
			"duration", clock.Since(s.clock, startTime),
		)
		http.Error(w, fmt.Sprintf("upstream request failed: %v", err), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	copyHeaders(w.Header(), resp.Header)

	if strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		s.stream(w, r, resp, startTime)
		return
	}

	w.WriteHeader(resp.StatusCode)
	bytesCopied, copyErr := io.Copy(w, resp.Body)
	if copyErr != nil {
		s.logger.Warn("proxy copy interrupted",
			"service", s.name,
			"error", copyErr,
			"bytes", bytesCopied,
		)
	}
	s.logger.Debug("proxy complete",
		"service", s.name,
		"method", r.Method,
		"path", r.URL.Path,
		"status", resp.StatusCode,
		"bytes", bytesCopied,
		"duration", clock.Since(s.clock, startTime),
	)
}

// stream relays an event stream, flushing after every read so each
// chunk reaches the caller as soon as the upstream produced it.
func (s *Service) stream(w http.ResponseWriter, r *http.Request, resp *http.Response, startTime time.Time) {
	w.WriteHeader(resp.StatusCode)
	flusher, canFlush := w.(http.Flusher)
	if canFlush {
		flusher.Flush()
	}

	buffer := make([]byte, 4096)
	var totalBytes int64
	for {
		n, err := resp.Body.Read(buffer)
		if n > 0 {
			written, writeErr := w.Write(buffer[:n])
			totalBytes += int64(written)
			if writeErr != nil {
				s.logger.Warn("client disconnected during stream",
					"service", s.name,
					"bytes_sent", totalBytes,
					"duration", clock.Since(s.clock, startTime),
				)
				return
			}
			if canFlush {
				flusher.Flush()
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Warn("upstream error during stream",
					"service", s.name,
					"error", err,
					"bytes_sent", totalBytes,
					"duration", clock.Since(s.clock, startTime),
				)
			}
			break
		}
	}

	s.logger.Debug("proxy stream complete",
		"service", s.name,
		"path", r.URL.Path,
		"status", resp.StatusCode,
		"bytes", totalBytes,
		"duration", clock.Since(s.clock, startTime),
	)
}

// copyHeaders copies every end-to-end header from src to dst.
func copyHeaders(dst, src http.Header) {
	connectionTokens := connectionHeaders(src)
	for key, values := range src {
		if isHopByHopHeader(key) || connectionTokens[textproto.CanonicalMIMEHeaderKey(key)] {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

// connectionHeaders returns the header names listed in Connection,
// which are hop-by-hop for this message.
func connectionHeaders(header http.Header) map[string]bool {
	var names map[string]bool
	for _, value := range header.Values("Connection") {
		for _, token := range strings.Split(value, ",") {
			token = strings.TrimSpace(token)
			if token == "" {
				continue
			}
			if names == nil {
				names = make(map[string]bool)
			}
			names[textproto.CanonicalMIMEHeaderKey(token)] = true
		}
	}
	return names
}

// hopByHopHeaders are the headers that apply to a single connection.
var hopByHopHeaders = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"proxy-connection":    true,
	"te":                  true,
	"trailer":             true,
	"transfer-encoding":   true,
	"upgrade":             true,
}

func isHopByHopHeader(name string) bool {
	return hopByHopHeaders[strings.ToLower(name)]
}

// singleJoiningSlash joins two URL paths with a single slash.
func singleJoiningSlash(a, b string) string {
	aSlash := strings.HasSuffix(a, "/")
	bSlash := strings.HasPrefix(b, "/")
	switch {
	case aSlash && bSlash:
		return a + b[1:]
	case !aSlash && !bSlash:
		return a + "/" + b
	}
	return a + b
}
