// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package procs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/matt-FFFFFF/caserun/internal/ctxlog"
	"github.com/matt-FFFFFF/caserun/internal/dropqueue"
	"github.com/matt-FFFFFF/caserun/internal/teereader"
)

const (
	// DefaultPollInterval bounds how long ReadLine waits for a line.
	DefaultPollInterval = 500 * time.Millisecond
	// drainTimeout is how long output readers may run on after the process
	// has exited. Orphaned grandchildren can hold the pipes open.
	drainTimeout = 2 * time.Second
	// queueCapacity is the number of unread lines kept per handle.
	queueCapacity  = 4096
	maxLineSize    = 1024 * 1024
	readBufferSize = 64 * 1024
	lastLineLen    = 512
)

var (
	// ErrLaunchFailed is returned when the executable is missing, not executable
	// or the operating system refuses to start it.
	ErrLaunchFailed = errors.New("could not start process")
	// ErrAlreadyRunning is returned by Start on a handle that was already started.
	ErrAlreadyRunning = errors.New("process already started")
	// ErrNotStarted is returned by operations that need a running process.
	ErrNotStarted = errors.New("process not started")
	// ErrReadTimeout is returned by ReadLine when no line arrived in time.
	ErrReadTimeout = errors.New("timed out waiting for output")
	// ErrFailedToCreatePipe is returned when the operating system pipe could not be created.
	ErrFailedToCreatePipe = errors.New("failed to create pipe")
)

// Command describes the process to launch.
type Command struct {
	Path      string            // Executable path or a bare name resolved against PATH.
	Args      []string          // Arguments, not including the executable itself.
	Dir       string            // Working directory.
	Env       map[string]string // Added to the current environment.
	StdoutLog string            // Optional file receiving a copy of stdout, relative to Dir.
	StderrLog string            // Optional file receiving a copy of stderr, relative to Dir.
}

// String renders the command line for logs.
func (c Command) String() string {
	return fmt.Sprintf("%s %v", c.Path, c.Args)
}

// Line is one line of process output.
type Line struct {
	Text   string
	Stderr bool
}

// Handle is one external process. The zero value is not usable; create one
// with New or Start.
type Handle struct {
	cmd Command

	mu      sync.Mutex
	started bool
	ps      *os.Process

	queue    *dropqueue.Queue[Line]
	linesCh  chan Line
	pumpOnce sync.Once

	stdout *teereader.LastLineTeeReader
	stderr *teereader.LastLineTeeReader

	done     chan struct{}
	exitCode int
	waitErr  error
	kills    atomic.Int32
}

// New returns an unstarted handle for cmd.
func New(cmd Command) *Handle {
	return &Handle{
		cmd:   cmd,
		queue: dropqueue.New[Line](queueCapacity),
		done:  make(chan struct{}),
	}
}

// Start creates a handle for cmd and starts it.
func Start(ctx context.Context, cmd Command) (*Handle, error) {
	h := New(cmd)
	if err := h.Start(ctx); err != nil {
		return nil, err
	}

	return h, nil
}

// Start launches the process. It may be called once.
func (h *Handle) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return ErrAlreadyRunning
	}

	logger := ctxlog.Logger(ctx).With("path", h.cmd.Path)

	path, err := LookPath(h.cmd.Path, h.cmd.Dir)
	if err != nil {
		return errors.Join(ErrLaunchFailed, err)
	}

	env := os.Environ()

	for _, k := range slices.Sorted(maps.Keys(h.cmd.Env)) {
		env = append(env, k+"="+h.cmd.Env[k])
	}

	stdoutLog, err := h.openLog(h.cmd.StdoutLog)
	if err != nil {
		return errors.Join(ErrLaunchFailed, err)
	}

	stderrLog, err := h.openLog(h.cmd.StderrLog)
	if err != nil {
		closeQuietly(stdoutLog)
		return errors.Join(ErrLaunchFailed, err)
	}

	rOut, wOut, err := os.Pipe()
	if err != nil {
		closeQuietly(stdoutLog, stderrLog)
		return errors.Join(ErrLaunchFailed, ErrFailedToCreatePipe, err)
	}

	rErr, wErr, err := os.Pipe()
	if err != nil {
		closeQuietly(stdoutLog, stderrLog, rOut, wOut)
		return errors.Join(ErrLaunchFailed, ErrFailedToCreatePipe, err)
	}

	stdin, err := os.Open(os.DevNull)
	if err != nil {
		closeQuietly(stdoutLog, stderrLog, rOut, wOut, rErr, wErr)
		return errors.Join(ErrLaunchFailed, err)
	}

	args := slices.Concat([]string{filepath.Base(path)}, h.cmd.Args)

	logger.Debug("starting process", "resolved", path, "args", h.cmd.Args, "cwd", h.cmd.Dir)

	ps, err := os.StartProcess(path, args, &os.ProcAttr{
		Dir:   h.cmd.Dir,
		Env:   env,
		Files: []*os.File{stdin, wOut, wErr},
	})

	// The child holds its own copies.
	closeQuietly(stdin, wOut, wErr)

	if err != nil {
		closeQuietly(stdoutLog, stderrLog, rOut, rErr)
		return errors.Join(ErrLaunchFailed, err)
	}

	logger.Debug("process started", "pid", ps.Pid)

	h.ps = ps
	h.started = true
	h.stdout = teereader.NewLastLineTeeReader(rOut, writerOrNil(stdoutLog))
	h.stderr = teereader.NewLastLineTeeReader(rErr, writerOrNil(stderrLog))

	var readers sync.WaitGroup

	readers.Add(2)

	go h.read(ctx, &readers, h.stdout, false)
	go h.read(ctx, &readers, h.stderr, true)

	go h.wait(ctx, &readers, []*os.File{rOut, rErr}, []*os.File{stdoutLog, stderrLog})

	return nil
}

func (h *Handle) openLog(name string) (*os.File, error) {
	if name == "" {
		return nil, nil //nolint:nilnil
	}

	if !filepath.IsAbs(name) && h.cmd.Dir != "" {
		name = filepath.Join(h.cmd.Dir, name)
	}

	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}

	return f, nil
}

func (h *Handle) read(ctx context.Context, wg *sync.WaitGroup, r io.Reader, stderr bool) {
	defer wg.Done()

	br := bufio.NewReaderSize(r, readBufferSize)

	var line []byte

	// Lines longer than maxLineSize are split so the pipe is always drained.
	for {
		chunk, more, err := br.ReadLine()
		line = append(line, chunk...)

		if err != nil {
			if len(line) > 0 {
				h.queue.Push(Line{Text: trimCR(string(line)), Stderr: stderr})
			}

			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				ctxlog.Debug(ctx, "output reader stopped", "stderr", stderr, "error", err)
			}

			return
		}

		if more && len(line) < maxLineSize {
			continue
		}

		h.queue.Push(Line{Text: trimCR(string(line)), Stderr: stderr})
		line = line[:0]
	}
}

func (h *Handle) wait(ctx context.Context, readers *sync.WaitGroup, pipes, logs []*os.File) {
	state, err := h.ps.Wait()

	drained := make(chan struct{})

	go func() {
		readers.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-time.After(drainTimeout):
		ctxlog.Debug(ctx, "output still open after exit, closing pipes", "pid", h.ps.Pid)
		closeQuietly(pipes...)
		<-drained
	}

	closeQuietly(pipes...)
	closeQuietly(logs...)

	h.mu.Lock()

	h.exitCode = -1
	if state != nil {
		h.exitCode = state.ExitCode()
	}

	h.waitErr = err

	h.mu.Unlock()

	ctxlog.Debug(ctx, "process finished", "pid", h.ps.Pid, "exitCode", h.exitCode)

	h.queue.Close()
	close(h.done)
}

// ReadLine returns the next output line. It returns io.EOF once the process
// has exited and every line was consumed, or ErrReadTimeout when nothing
// arrived within timeout. A timeout <= 0 uses DefaultPollInterval.
func (h *Handle) ReadLine(timeout time.Duration) (Line, error) {
	if timeout <= 0 {
		timeout = DefaultPollInterval
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if l, ok := h.queue.Next(ctx); ok {
		return l, nil
	}

	if ctx.Err() == nil {
		// Queue closed and drained; done follows immediately.
		<-h.done
		return Line{}, io.EOF
	}

	if !h.Exited() {
		return Line{}, ErrReadTimeout
	}

	if l, ok := h.queue.Pop(); ok {
		return l, nil
	}

	return Line{}, io.EOF
}

// Lines returns a channel carrying every output line. It is closed after the
// process exits and all lines were delivered. Lines and ReadLine consume the
// same stream; use one or the other.
func (h *Handle) Lines() <-chan Line {
	h.pumpOnce.Do(func() {
		h.linesCh = make(chan Line)

		go func() {
			defer close(h.linesCh)

			for {
				l, ok := h.queue.Next(context.Background())
				if !ok {
					return
				}

				h.linesCh <- l
			}
		}()
	})

	return h.linesCh
}

// Done is closed when the process has exited and its output is drained.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Exited reports whether the process has exited.
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the process exits and returns its exit code.
func (h *Handle) Wait() (int, error) {
	if !h.isStarted() {
		return -1, ErrNotStarted
	}

	<-h.done

	h.mu.Lock()
	defer h.mu.Unlock()

	return h.exitCode, h.waitErr
}

// ExitCode returns the exit code once the process has ended.
func (h *Handle) ExitCode() (int, bool) {
	if !h.Exited() {
		return 0, false
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	return h.exitCode, true
}

// Pid returns the operating system process id, or 0 before Start.
func (h *Handle) Pid() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.ps == nil {
		return 0
	}

	return h.ps.Pid
}

// Interrupt sends os.Interrupt without waiting.
func (h *Handle) Interrupt() error {
	return h.signal(os.Interrupt)
}

// Terminate sends os.Interrupt and waits up to grace for the process to exit.
// It never escalates to Kill. It reports whether the process exited.
func (h *Handle) Terminate(grace time.Duration) (bool, error) {
	if err := h.Interrupt(); err != nil {
		return h.Exited(), err
	}

	select {
	case <-h.done:
		return true, nil
	case <-time.After(grace):
		return false, nil
	}
}

// Kill terminates the process unconditionally. Killing an exited process is
// not an error.
func (h *Handle) Kill() error {
	if !h.isStarted() {
		return ErrNotStarted
	}

	h.kills.Add(1)

	if err := h.ps.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("killing process %d: %w", h.ps.Pid, err)
	}

	return nil
}

// Kills returns how many times Kill was called.
func (h *Handle) Kills() int {
	return int(h.kills.Load())
}

// LastLine returns the last complete stderr line, or the last stdout line
// when stderr was empty.
func (h *Handle) LastLine() string {
	if !h.isStarted() {
		return ""
	}

	if l := h.stderr.LastLine(lastLineLen); l != "" {
		return l
	}

	return h.stdout.LastLine(lastLineLen)
}

// Dropped returns how many unread lines were discarded because the consumer fell behind.
func (h *Handle) Dropped() uint64 {
	return h.queue.Dropped()
}

func (h *Handle) signal(s os.Signal) error {
	if !h.isStarted() {
		return ErrNotStarted
	}

	if err := h.ps.Signal(s); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("sending %s to process %d: %w", s, h.ps.Pid, err)
	}

	return nil
}

func (h *Handle) isStarted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.started
}

func trimCR(s string) string {
	if n := len(s); n > 0 && s[n-1] == '\r' {
		return s[:n-1]
	}

	return s
}

func writerOrNil(f *os.File) io.Writer {
	if f == nil {
		return nil
	}

	return f
}

func closeQuietly(files ...*os.File) {
	for _, f := range files {
		if f != nil {
			_ = f.Close()
		}
	}
}
