// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package session wires the supervisor, metrics, status server and signal
// handling shared by the commands that run jobs.
package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"sync"

	"github.com/matt-FFFFFF/caserun/internal/ctxlog"
	"github.com/matt-FFFFFF/caserun/internal/dispatch"
	"github.com/matt-FFFFFF/caserun/internal/metrics"
	"github.com/matt-FFFFFF/caserun/internal/signalbroker"
	"github.com/matt-FFFFFF/caserun/internal/statusapi"
	"github.com/matt-FFFFFF/caserun/internal/supervisor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Options configures a Session.
type Options struct {
	Launcher string    // MPI launcher, empty for dispatch.DefaultLauncher
	LogFiles bool      // tee process output to the case directory
	Listen   string    // status server address, empty to disable
	Mode     Mode      // how progress is shown
	Out      io.Writer // interactive output, defaults to os.Stdout
	LogOut   io.Writer // log output while the dashboard is shown, defaults to os.Stderr
}

// Session owns one supervisor and the services around it.
type Session struct {
	Supervisor *supervisor.Supervisor
	Registry   *prometheus.Registry

	ctx  context.Context
	opts Options
	logs *heldWriter

	serverCancel context.CancelFunc
	serverDone   chan error

	mu    sync.Mutex
	sigCh chan os.Signal
}

// New starts a supervisor running under ctx. If opts.Listen is set the status
// server is started as well. In ModeTUI log output is held back until the
// dashboard exits.
func New(ctx context.Context, opts Options) *Session {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}

	if opts.LogOut == nil {
		opts.LogOut = os.Stderr
	}

	var logs *heldWriter

	if opts.Mode == ModeTUI {
		logs = &heldWriter{out: opts.LogOut, held: true}
		ctx = ctxlog.NewForTUI(ctx, logs)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	s := &Session{
		ctx:      ctx,
		opts:     opts,
		logs:     logs,
		Registry: reg,
		Supervisor: supervisor.New(ctx, supervisor.Options{
			Dispatcher: dispatch.New(dispatch.WithLauncher(opts.Launcher)),
			LogFiles:   opts.LogFiles,
			Metrics:    metrics.New(reg),
		}),
	}

	if opts.Listen != "" {
		sctx, cancel := context.WithCancel(ctx)
		s.serverCancel = cancel
		s.serverDone = make(chan error, 1)

		srv := statusapi.NewServer(s.Supervisor, reg)

		go func() {
			s.serverDone <- srv.Run(sctx, opts.Listen)
		}()
	}

	return s
}

// Context returns ctx as given to New, with the session's logger.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Watch handles termination signals until a forced stop or until ctx is
// done. The returned function stops signal delivery.
func (s *Session) Watch(ctx context.Context, a signalbroker.Actions) func() {
	ch, stop := signalbroker.Notify(ctx)

	s.mu.Lock()
	s.sigCh = ch
	s.mu.Unlock()

	wctx, cancel := context.WithCancel(ctx)

	go signalbroker.Watch(wctx, ch, a)

	return func() {
		cancel()
		stop()
	}
}

// Interrupt delivers os.Interrupt as if it came from the terminal. It is used
// by front ends that hold the terminal in raw mode. Nothing happens when no
// watch is active or a signal is already pending.
func (s *Session) Interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sigCh == nil {
		return
	}

	select {
	case s.sigCh <- os.Interrupt:
	default:
	}
}

// Close shuts the supervisor down and stops the status server.
func (s *Session) Close(ctx context.Context) error {
	defer s.release()

	err := s.Supervisor.Shutdown(ctx)

	if s.serverCancel != nil {
		s.serverCancel()

		if serr := <-s.serverDone; serr != nil {
			ctxlog.Error(ctx, "status server failed", "error", serr)
			err = errors.Join(err, serr)
		}
	}

	return err
}

func (s *Session) release() {
	if s.logs != nil {
		s.logs.Release()
	}
}

// heldWriter buffers writes until released, then passes them through.
type heldWriter struct {
	mu   sync.Mutex
	buf  bytes.Buffer
	out  io.Writer
	held bool
}

func (w *heldWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.held {
		return w.buf.Write(p) //nolint:wrapcheck
	}

	return w.out.Write(p) //nolint:wrapcheck
}

// Release writes the buffered output and stops buffering.
func (w *heldWriter) Release() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.held = false
	w.buf.WriteTo(w.out) //nolint:errcheck
}
