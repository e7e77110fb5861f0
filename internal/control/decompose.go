// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package control

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/matt-FFFFFF/caserun/internal/job"
	"github.com/spf13/afero"
)

// DecomposeDict is the case relative path of the decomposition dictionary.
const DecomposeDict = "system/decomposeParDict"

const decomposeTemplate = `FoamFile
{
    version     2.0;
    format      ascii;
    class       dictionary;
    object      decomposeParDict;
}

numberOfSubdomains %d;

method          scotch;
`

// SetSubdomains sets numberOfSubdomains in the decomposition dictionary at
// path, creating a scotch decomposition dictionary when none exists.
func SetSubdomains(path string, n int) error {
	fs := FsFactory()

	content, err := afero.ReadFile(fs, path)

	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := afero.WriteFile(fs, path, fmt.Appendf(nil, decomposeTemplate, n), 0o644); err != nil {
			return errors.Join(ErrDictWrite, err)
		}

		return nil
	case err != nil:
		return errors.Join(ErrDictWrite, err)
	}

	updated := Edit(content, job.NewPatch("numberOfSubdomains", strconv.Itoa(n)))
	if string(updated) == string(content) {
		return nil
	}

	return NewDictFile(path).update(job.NewPatch("numberOfSubdomains", strconv.Itoa(n)))
}
