// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package control

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

const paramsHeader = `FoamFile
{
    version     2.0;
    format      ascii;
    class       dictionary;
    object      caseParameters;
}

`

// WriteParameters writes params as a dictionary of "name value;" entries at
// path, one per parameter in name order, replacing the file. Case files pick
// the values up with #include and $name.
func WriteParameters(path string, params map[string]float64) error {
	var b strings.Builder

	b.WriteString(paramsHeader)

	for _, k := range slices.Sorted(maps.Keys(params)) {
		fmt.Fprintf(&b, "%-16s%s;\n", k, strconv.FormatFloat(params[k], 'g', -1, 64))
	}

	fs := FsFactory()

	if err := afero.WriteFile(fs, path, []byte(b.String()), 0o644); err != nil {
		return errors.Join(ErrDictWrite, err)
	}

	return nil
}
