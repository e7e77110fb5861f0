// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package run

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/matt-FFFFFF/caserun/internal/color"
	"github.com/matt-FFFFFF/caserun/internal/ctxlog"
	"github.com/matt-FFFFFF/caserun/internal/job"
	"github.com/matt-FFFFFF/caserun/internal/report"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"
)

func skipOnWindows(t *testing.T) {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
}

// writeJob creates a case directory and a job file running script as the solver.
func writeJob(t *testing.T, script string) string {
	t.Helper()

	dir := t.TempDir()
	caseDir := filepath.Join(dir, "cavity")
	require.NoError(t, os.MkdirAll(filepath.Join(caseDir, "system"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(caseDir, job.DefaultControlFile),
		[]byte("stopAt endTime;\nendTime 1;\n"), 0o644))

	jobFile := filepath.Join(dir, "cavity.yaml")
	content := fmt.Sprintf(`job:
  name: cavity
  case_dir: cavity
  cores: 1
  end_time: 1
  solver:
    path: /bin/sh
    args: ["-c", %q]
`, script)
	require.NoError(t, os.WriteFile(jobFile, []byte(content), 0o644))

	return jobFile
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()

	prev := color.SetEnabled(false)
	t.Cleanup(func() { color.SetEnabled(prev) })

	out := new(bytes.Buffer)
	root := &cli.Command{
		Name:           "caserun",
		Commands:       []*cli.Command{NewCommand()},
		Writer:         out,
		ErrWriter:      io.Discard,
		ExitErrHandler: func(context.Context, *cli.Command, error) {},
	}

	ctx := ctxlog.New(context.Background(), slog.New(slog.DiscardHandler))
	err := root.Run(ctx, append([]string{"caserun", "run"}, args...))

	return out.String(), err
}

func exitCode(err error) int {
	var ec cli.ExitCoder
	if errors.As(err, &ec) {
		return ec.ExitCode()
	}

	if err != nil {
		return -1
	}

	return 0
}

func TestRun_Completed(t *testing.T) {
	skipOnWindows(t)

	jobFile := writeJob(t, "echo Time = 1; echo End")
	outFile := filepath.Join(t.TempDir(), "results.bin")

	out, err := runCommand(t, "-f", jobFile, "--no-log-files", "--out", outFile)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ cavity completed")

	f, err := os.Open(outFile)
	require.NoError(t, err)

	defer f.Close() //nolint:errcheck

	rep, err := report.ReadBinary(f)
	require.NoError(t, err)
	require.Len(t, rep.Entries, 1)
	assert.Equal(t, "completed", rep.Entries[0].Status)
}

func TestRun_Failed(t *testing.T) {
	skipOnWindows(t)

	jobFile := writeJob(t, "echo diverged 1>&2; exit 3")

	out, err := runCommand(t, "-f", jobFile, "--no-log-files")
	assert.Equal(t, 1, exitCode(err))
	assert.Contains(t, out, "✗ cavity failed (exit code: 3)")
}

func TestRun_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "no file", args: nil},
		{name: "missing file", args: []string{"-f", filepath.Join(t.TempDir(), "missing.yaml")}},
		{name: "tui and console", args: []string{"-f", "job.yaml", "--tui", "--console"}},
		{name: "bad override", args: []string{"-f", "job.yaml", "--set", "endTime"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if len(tc.args) > 1 && tc.args[1] == "job.yaml" {
				tc.args[1] = writeJob(t, "true")
			}

			_, err := runCommand(t, tc.args...)
			assert.Equal(t, 1, exitCode(err))
		})
	}
}
