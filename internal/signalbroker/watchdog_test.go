// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package signalbroker

import (
	"context"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type calls struct {
	mu    sync.Mutex
	stop  []os.Signal
	force []os.Signal
}

func (c *calls) actions() Actions {
	return Actions{
		Stop: func(s os.Signal) {
			c.mu.Lock()
			defer c.mu.Unlock()

			c.stop = append(c.stop, s)
		},
		Force: func(s os.Signal) {
			c.mu.Lock()
			defer c.mu.Unlock()

			c.force = append(c.force, s)
		},
	}
}

func watch(ctx context.Context, ch chan os.Signal, a Actions) <-chan struct{} {
	done := make(chan struct{})

	go func() {
		defer close(done)
		Watch(ctx, ch, a)
	}()

	return done
}

func TestWatch_FirstSignalStops(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := &calls{}
	ch := make(chan os.Signal, 1)
	done := watch(context.Background(), ch, c.actions())

	ch <- os.Interrupt

	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()

		return len(c.stop) == 1
	}, time.Second, time.Millisecond)

	close(ch)
	<-done

	assert.Empty(t, c.force)
}

func TestWatch_SecondSignalForces(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := &calls{}
	ch := make(chan os.Signal, 2)
	ch <- os.Interrupt
	ch <- os.Interrupt

	<-watch(context.Background(), ch, c.actions())

	assert.Equal(t, []os.Signal{os.Interrupt}, c.stop)
	assert.Equal(t, []os.Signal{os.Interrupt}, c.force)
}

func TestWatch_DifferentSignalsDoNotForce(t *testing.T) {
	c := &calls{}
	ch := make(chan os.Signal, 2)
	ch <- syscall.SIGTERM
	ch <- syscall.SIGQUIT
	close(ch)

	<-watch(context.Background(), ch, c.actions())

	assert.Equal(t, []os.Signal{syscall.SIGTERM, syscall.SIGQUIT}, c.stop)
	assert.Empty(t, c.force)
}

func TestWatch_ContextDone(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := watch(ctx, make(chan os.Signal), Actions{})

	cancel()
	<-done
}

func TestNotify_DefaultsToStopSignals(t *testing.T) {
	ch, release := Notify(context.Background())
	defer release()

	assert.Equal(t, 1, cap(ch))
	assert.ElementsMatch(t, []os.Signal{os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT}, stopSignals)
}
