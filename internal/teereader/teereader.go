// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package teereader

import (
	"errors"
	"io"
	"strings"
	"sync"
)

// ErrSinkWrite is returned by Read when the sink rejects a write.
var ErrSinkWrite = errors.New("failed to write to tee sink")

// LastLineTeeReader wraps an io.Reader, copies every byte read to a sink and
// tracks the last complete line. It is safe for concurrent use.
type LastLineTeeReader struct {
	reader   io.Reader
	sink     io.Writer
	lastLine string
	partial  strings.Builder
	lines    uint64
	mu       sync.RWMutex
}

// NewLastLineTeeReader creates a reader over r. A nil sink discards the copy.
func NewLastLineTeeReader(r io.Reader, sink io.Writer) *LastLineTeeReader {
	if sink == nil {
		sink = io.Discard
	}

	return &LastLineTeeReader{
		reader: r,
		sink:   sink,
	}
}

// Read implements io.Reader.
func (lt *LastLineTeeReader) Read(p []byte) (int, error) {
	n, err := lt.reader.Read(p)
	if n > 0 {
		lt.mu.Lock()
		defer lt.mu.Unlock()

		if _, werr := lt.sink.Write(p[:n]); werr != nil {
			return n, errors.Join(ErrSinkWrite, werr)
		}

		lt.track(string(p[:n]))
	}

	return n, err //nolint:wrapcheck
}

// track updates the last line. Must be called with the write lock held.
func (lt *LastLineTeeReader) track(data string) {
	lt.partial.WriteString(data)
	combined := lt.partial.String()

	idx := strings.LastIndexByte(combined, '\n')
	if idx < 0 {
		return
	}

	complete := combined[:idx]
	rest := combined[idx+1:]

	lt.lines += uint64(strings.Count(complete, "\n") + 1)

	if prev := strings.LastIndexByte(complete, '\n'); prev >= 0 {
		complete = complete[prev+1:]
	}

	lt.lastLine = strings.TrimSuffix(complete, "\r")

	lt.partial.Reset()
	lt.partial.WriteString(rest)
}

// LastLine returns the last complete line, truncated with "..." when maxLength > 3
// and the line is longer.
func (lt *LastLineTeeReader) LastLine(maxLength int) string {
	lt.mu.RLock()
	defer lt.mu.RUnlock()

	result := lt.lastLine
	if maxLength > 3 && len(result) > maxLength {
		result = result[:maxLength-3] + "..."
	}

	return result
}

// Partial returns the data read after the last newline.
func (lt *LastLineTeeReader) Partial() string {
	lt.mu.RLock()
	defer lt.mu.RUnlock()

	return lt.partial.String()
}

// Lines returns how many complete lines have been read.
func (lt *LastLineTeeReader) Lines() uint64 {
	lt.mu.RLock()
	defer lt.mu.RUnlock()

	return lt.lines
}
