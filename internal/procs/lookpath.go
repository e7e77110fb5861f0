// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package procs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// ErrNotExecutable is returned when a path exists but cannot be executed.
var ErrNotExecutable = errors.New("not an executable file")

// LookPath resolves command to an executable path. Names containing a path
// separator are checked as given (relative to dir when not absolute); bare
// names are searched for in PATH.
func LookPath(command, dir string) (string, error) {
	if command == "" {
		return "", fmt.Errorf("empty command: %w", fs.ErrNotExist)
	}

	if strings.ContainsRune(command, filepath.Separator) || strings.ContainsRune(command, '/') {
		p := command
		if !filepath.IsAbs(p) && dir != "" {
			p = filepath.Join(dir, p)
		}

		if err := checkExecutable(p); err != nil {
			return "", err
		}

		return p, nil
	}

	for _, d := range filepath.SplitList(os.Getenv("PATH")) {
		if d == "" {
			d = "."
		}

		p := filepath.Join(d, command)
		if err := checkExecutable(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("%s not found in PATH: %w", command, fs.ErrNotExist)
}

func checkExecutable(p string) error {
	info, err := os.Stat(p)
	if err != nil {
		return err //nolint:wrapcheck
	}

	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s: %w", p, ErrNotExecutable)
	}

	if runtime.GOOS != "windows" && info.Mode()&0o111 == 0 {
		return fmt.Errorf("%s: %w: %w", p, ErrNotExecutable, fs.ErrPermission)
	}

	return nil
}
