// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package control

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/matt-FFFFFF/caserun/internal/ctxlog"
	"github.com/matt-FFFFFF/caserun/internal/job"
	"github.com/spf13/afero"
)

// FsFactory returns the filesystem control dictionaries are written to.
var FsFactory = func() afero.Fs {
	return afero.NewOsFs()
}

// ErrDictWrite is returned when the dictionary could not be updated.
var ErrDictWrite = errors.New("could not update control dictionary")

// DictFile edits top-level "key value;" entries of an OpenFOAM style
// dictionary. Updates are written to a temporary file and renamed into place
// so the solver never reads a half written file.
type DictFile struct {
	path string
	mu   sync.Mutex
}

var _ Channel = (*DictFile)(nil)

// NewDictFile returns a channel writing to path.
func NewDictFile(path string) *DictFile {
	return &DictFile{path: path}
}

// Path returns the dictionary path.
func (d *DictFile) Path() string {
	return d.path
}

// Apply implements Channel.
func (d *DictFile) Apply(ctx context.Context, patch job.Patch) error {
	if patch.Len() == 0 {
		return nil
	}

	if err := patch.Validate(); err != nil {
		return err //nolint:wrapcheck
	}

	ctxlog.Debug(ctx, "applying control patch", "file", d.path, "patch", patch.String())

	return d.update(patch)
}

// RequestStop implements Channel.
func (d *DictFile) RequestStop(ctx context.Context, mode StopMode) error {
	if mode == StopNone {
		return ErrNoStopMode
	}

	ctxlog.Debug(ctx, "requesting solver stop", "file", d.path, "stopAt", mode.stopAt())

	return d.update(job.NewPatch("stopAt", mode.stopAt()))
}

// Read returns the current value of a top-level key.
func (d *DictFile) Read(key string) (string, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	content, err := afero.ReadFile(FsFactory(), d.path)
	if err != nil {
		return "", false, fmt.Errorf("reading %s: %w", d.path, err)
	}

	v, ok := lookup(content, key)

	return v, ok, nil
}

func (d *DictFile) update(patch job.Patch) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	fs := FsFactory()

	content, err := afero.ReadFile(fs, d.path)
	if err != nil {
		return errors.Join(ErrDictWrite, err)
	}

	content = Edit(content, patch)

	tmp, err := afero.TempFile(fs, filepath.Dir(d.path), "."+filepath.Base(d.path)+".*")
	if err != nil {
		return errors.Join(ErrDictWrite, err)
	}

	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		_ = fs.Remove(tmp.Name())

		return errors.Join(ErrDictWrite, err)
	}

	if err := tmp.Close(); err != nil {
		_ = fs.Remove(tmp.Name())
		return errors.Join(ErrDictWrite, err)
	}

	if err := fs.Rename(tmp.Name(), d.path); err != nil {
		_ = fs.Remove(tmp.Name())
		return errors.Join(ErrDictWrite, err)
	}

	return nil
}

// entryPattern matches a top-level "key value;" line.
func entryPattern(key string) *regexp.Regexp {
	return regexp.MustCompile(`(?m)^([ \t]*)` + regexp.QuoteMeta(key) + `([ \t]+)([^;\n]*);`)
}

// Edit returns content with each patch entry replaced or appended. Only
// entries at brace depth zero are touched; nested sub-dictionaries with the
// same key name are left alone.
func Edit(content []byte, patch job.Patch) []byte {
	out := content

	for _, e := range patch.Entries {
		re := entryPattern(e.Key)
		replaced := false

		for _, loc := range re.FindAllSubmatchIndex(out, -1) {
			if depthAt(out, loc[0]) != 0 {
				continue
			}

			var b bytes.Buffer
			b.Write(out[:loc[6]])
			b.WriteString(e.Value)
			b.Write(out[loc[7]:])
			out = b.Bytes()
			replaced = true

			break
		}

		if !replaced {
			out = appendEntry(out, e.Key, e.Value)
		}
	}

	return out
}

func lookup(content []byte, key string) (string, bool) {
	for _, m := range entryPattern(key).FindAllSubmatchIndex(content, -1) {
		if depthAt(content, m[0]) == 0 {
			return strings.TrimSpace(string(content[m[6]:m[7]])), true
		}
	}

	return "", false
}

// appendEntry inserts the entry before a trailing footer comment block if one
// exists, otherwise at the end.
func appendEntry(content []byte, key, value string) []byte {
	entry := fmt.Sprintf("%-16s%s;\n", key, value)

	trimmed := bytes.TrimRight(content, "\n\t ")
	footer := []byte("// ************************************************************************* //")

	if i := bytes.LastIndex(trimmed, footer); i >= 0 && i+len(footer) == len(trimmed) {
		var b bytes.Buffer
		b.Write(content[:i])
		b.WriteString(entry)
		b.WriteString("\n")
		b.Write(content[i:])

		return b.Bytes()
	}

	var b bytes.Buffer
	b.Write(content)

	if len(content) > 0 && content[len(content)-1] != '\n' {
		b.WriteByte('\n')
	}

	b.WriteString(entry)

	return b.Bytes()
}

// depthAt returns the brace depth at offset, ignoring comments.
func depthAt(content []byte, offset int) int {
	depth := 0

	for i := 0; i < offset && i < len(content); i++ {
		switch {
		case content[i] == '/' && i+1 < len(content) && content[i+1] == '/':
			for i < offset && content[i] != '\n' {
				i++
			}
		case content[i] == '/' && i+1 < len(content) && content[i+1] == '*':
			end := bytes.Index(content[i+2:], []byte("*/"))
			if end < 0 {
				return depth
			}

			i += end + 3
		case content[i] == '{':
			depth++
		case content[i] == '}':
			depth--
		}
	}

	return depth
}
