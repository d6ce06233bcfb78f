// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/llmtap/lib/capture"
	"github.com/bureau-foundation/llmtap/lib/config"
	"github.com/bureau-foundation/llmtap/lib/export"
	"github.com/bureau-foundation/llmtap/lib/intercept"
	"github.com/bureau-foundation/llmtap/lib/recorder"
	"github.com/bureau-foundation/llmtap/lib/session"
	"github.com/bureau-foundation/llmtap/lib/version"
	"github.com/bureau-foundation/llmtap/proxy"
)

// shutdownTimeout bounds the wait for in-flight proxy requests and the
// final flush.
const shutdownTimeout = 30 * time.Second

// stack is the running capture pipeline: proxy, tap, correlator,
// recorder, session store, and exporter.
type stack struct {
	participant capture.Participant
	exporter    *export.Exporter
	store       *session.FileStore
	recorder    *recorder.Recorder
	manager     *intercept.Manager
	proxy       *proxy.Server
	logger      *slog.Logger
}

// startStack assembles and starts the pipeline. Upstream carries the
// proxy's outbound requests beneath the tap; nil uses
// [proxy.NewTransport].
func startStack(cfg *config.Config, upstream http.RoundTripper, logger *slog.Logger) (*stack, error) {
	hostname, _ := os.Hostname()
	participant := capture.Participant{
		Marker:    uuid.NewString(),
		PID:       os.Getpid(),
		Hostname:  hostname,
		StartTime: time.Now().UTC(),
	}

	// The exporter reads the eviction count from the manager, which is
	// built after it.
	var manager *intercept.Manager
	exporter, err := export.New(export.Config{
		Directory: cfg.OutputDir,
		Version:   version.Short(),
		WrittenBy: participant.Marker,
		DroppedEvents: func() int64 {
			if manager == nil {
				return 0
			}
			return manager.Dropped()
		},
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	store, err := session.Open(session.Config{
		Directory:   filepath.Join(cfg.OutputDir, "sessions"),
		AgentName:   cfg.AgentName,
		Participant: participant,
		Publisher:   exporter,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	sink, err := recorder.New(recorder.Config{
		Store:            store,
		Exporter:         exporter,
		DefaultSessionID: cfg.SessionID,
		AgentName:        cfg.AgentName,
		Participant:      participant.Marker,
		Logger:           logger,
	})
	if err != nil {
		return nil, err
	}

	manager, err = intercept.New(intercept.Config{
		Queue: cfg.Queue,
		Correlator: capture.CorrelatorConfig{
			RetainRawBodies: cfg.KeepRawBodies(),
			RecordHeaders:   cfg.Verbose,
		},
		Sink:   sink,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	if err := manager.Start(context.Background()); err != nil {
		return nil, err
	}

	if upstream == nil {
		upstream = proxy.NewTransport()
	}
	server, err := proxy.NewServer(proxy.ServerConfig{
		ListenAddress: cfg.Listen,
		Transport:     manager.Wrap(upstream),
		Logger:        logger,
	})
	if err == nil {
		err = server.Start()
	}
	if err != nil {
		manager.Shutdown(context.Background())
		return nil, err
	}

	logger.Debug("capture pipeline started",
		"participant", participant.Marker,
		"output_dir", cfg.OutputDir,
		"session", cfg.SessionID,
		"queue_policy", cfg.Queue.Policy,
	)
	return &stack{
		participant: participant,
		exporter:    exporter,
		store:       store,
		recorder:    sink,
		manager:     manager,
		proxy:       server,
		logger:      logger,
	}, nil
}

// shutdown stops the proxy, then drains the side channel and flushes
// every artifact. Each phase gets its own timeout so a stream that
// outlives the proxy's grace period still leaves time for the flush.
func (s *stack) shutdown() error {
	var errs []error

	proxyCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	if err := s.proxy.Shutdown(proxyCtx); err != nil {
		errs = append(errs, fmt.Errorf("stopping proxy: %w", err))
	}
	cancel()

	flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.manager.Shutdown(flushCtx); err != nil {
		errs = append(errs, fmt.Errorf("flushing captures: %w", err))
	}

	if current := s.recorder.Capture(); current != nil {
		s.logger.Info("capture written", "path", s.exporter.CapturePath(current.CaptureID, current.StartTime))
	}
	return errors.Join(errs...)
}
