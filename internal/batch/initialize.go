// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package batch

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// FsFactory returns the filesystem used to create variant cases.
var FsFactory = func() afero.Fs {
	return afero.NewOsFs()
}

// ErrCaseCopy is returned when a variant case directory cannot be created.
var ErrCaseCopy = errors.New("cannot create variant case")

// caseDirs are copied from the base case into each variant.
var caseDirs = []string{"0", "constant", "system"}

// InitializeCase creates the case directory of v from its base case. The 0,
// constant and system directories are copied and an empty <name>.foam marker
// is written. An existing variant directory is kept.
func InitializeCase(v Variant) error {
	fs := FsFactory()
	dst := v.Spec.CaseDir

	if ok, _ := afero.DirExists(fs, dst); ok {
		return nil
	}

	for _, d := range caseDirs {
		if err := copyTree(fs, filepath.Join(v.BaseCase, d), filepath.Join(dst, d)); err != nil {
			return errors.Join(ErrCaseCopy, err)
		}
	}

	if err := fs.MkdirAll(dst, 0o755); err != nil {
		return errors.Join(ErrCaseCopy, err)
	}

	if err := afero.WriteFile(fs, filepath.Join(dst, v.Name+".foam"), nil, 0o644); err != nil {
		return errors.Join(ErrCaseCopy, err)
	}

	return nil
}

// copyTree copies src to dst. A missing src is not an error; processor
// directories are skipped because every variant decomposes for itself.
func copyTree(fs afero.Fs, src, dst string) error {
	if ok, _ := afero.DirExists(fs, src); !ok {
		return nil
	}

	return afero.Walk(fs, src, func(path string, info os.FileInfo, err error) error { //nolint:wrapcheck
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err //nolint:wrapcheck
		}

		if info.IsDir() && strings.HasPrefix(info.Name(), "processor") {
			return filepath.SkipDir
		}

		target := filepath.Join(dst, rel)

		if info.IsDir() {
			return fs.MkdirAll(target, 0o755) //nolint:wrapcheck
		}

		return copyFile(fs, path, target, info.Mode().Perm())
	})
}

func copyFile(fs afero.Fs, src, dst string, perm os.FileMode) error {
	in, err := fs.Open(src)
	if err != nil {
		return err //nolint:wrapcheck
	}
	defer in.Close() //nolint:errcheck

	out, err := fs.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err //nolint:wrapcheck
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err //nolint:wrapcheck
	}

	return out.Close() //nolint:wrapcheck
}
