// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package ctxlog

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestLogger(buf *bytes.Buffer, opts ...Option) *slog.Logger {
	opts = append([]Option{WithDestinationWriter(buf)}, opts...)

	return slog.New(NewPrettyHandler(&slog.HandlerOptions{Level: slog.LevelDebug}, opts...))
}

func TestPrettyHandler_Format(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := newTestLogger(buf)

	logger.Info("process started", "pid", 42)

	out := buf.String()
	assert.Contains(t, out, "INFO:")
	assert.Contains(t, out, "process started")
	assert.Contains(t, out, `"pid"`)
	assert.True(t, strings.HasSuffix(out, "\n"))
}

func TestPrettyHandler_JobBadge(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := newTestLogger(buf).With("name", "cavity", "step", "solve")

	logger.Warn("solver slow")

	out := buf.String()
	assert.Contains(t, out, "[cavity/solve]")
	assert.NotContains(t, out, `"step"`)
	assert.Contains(t, out, "WARN:")
}

func TestPrettyHandler_EmptyAttrs(t *testing.T) {
	buf := &bytes.Buffer{}
	newTestLogger(buf).Info("plain")
	assert.NotContains(t, buf.String(), "{")

	buf.Reset()
	newTestLogger(buf, WithOutputEmptyAttrs()).Info("plain")
	assert.Contains(t, buf.String(), "{}")
}

func TestPrettyHandler_ReplaceAttrRemovesTime(t *testing.T) {
	buf := &bytes.Buffer{}
	h := NewPrettyHandler(&slog.HandlerOptions{
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.Attr{}
			}

			return a
		},
	}, WithDestinationWriter(buf))

	slog.New(h).Info("no time")
	assert.True(t, strings.HasPrefix(buf.String(), "INFO:"))
}

func TestPrettyHandler_Level(t *testing.T) {
	buf := &bytes.Buffer{}
	h := NewPrettyHandler(&slog.HandlerOptions{Level: slog.LevelWarn}, WithDestinationWriter(buf))

	assert.False(t, h.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, h.Enabled(context.Background(), slog.LevelError))
}

func TestPrettyHandler_Concurrent(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := newTestLogger(buf)

	var wg sync.WaitGroup

	for i := range 20 {
		wg.Add(1)

		go func(n int) {
			defer wg.Done()
			logger.Info("line", "n", n)
		}(i)
	}

	wg.Wait()
	assert.Len(t, strings.Split(strings.TrimSpace(buf.String()), "\n"), 20)
}
