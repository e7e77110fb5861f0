// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package signalbroker turns termination signals into stop requests for a
// running job: the first signal of a type asks for a graceful stop and a
// second one of the same type forces it.
package signalbroker

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/matt-FFFFFF/caserun/internal/ctxlog"
)

var stopSignals = []os.Signal{
	os.Interrupt,
	syscall.SIGTERM,
	syscall.SIGQUIT,
}

// Notify relays sigs, or the stop signals when none are given, to the
// returned channel until release is called. release may be called more than
// once.
func Notify(ctx context.Context, sigs ...os.Signal) (ch chan os.Signal, release func()) {
	if len(sigs) == 0 {
		sigs = stopSignals
	}

	ch = make(chan os.Signal, 1)

	ctxlog.Debug(ctx, "relaying signals", "signals", sigs)
	signal.Notify(ch, sigs...)

	var once sync.Once

	return ch, func() { once.Do(func() { signal.Stop(ch) }) }
}

// Actions are called by Watch. Either may be nil.
type Actions struct {
	// Stop is called for the first signal of a type.
	Stop func(sig os.Signal)
	// Force is called for the second signal of the same type.
	Force func(sig os.Signal)
}

// Watch handles signals from sigCh until a forced stop, until sigCh is closed
// or until ctx is done.
func Watch(ctx context.Context, sigCh chan os.Signal, a Actions) {
	seen := make(map[os.Signal]struct{})

	for {
		var (
			sig os.Signal
			ok  bool
		)

		select {
		case <-ctx.Done():
			return
		case sig, ok = <-sigCh:
			if !ok {
				return
			}
		}

		if _, again := seen[sig]; again {
			ctxlog.Warn(ctx, "received second signal, forcing stop", "signal", sig.String())

			if a.Force != nil {
				a.Force(sig)
			}

			return
		}

		ctxlog.Info(ctx, "received signal, stopping gracefully; repeat to force", "signal", sig.String())

		seen[sig] = struct{}{}

		if a.Stop != nil {
			a.Stop(sig)
		}
	}
}
