// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package batch

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// ErrInvalidCases is returned when a case list cannot be imported.
var ErrInvalidCases = errors.New("invalid case list")

// LoadCases reads a case list. The first row names the parameters; its first
// cell is ignored. Every following row is one case: a case name and one
// number per parameter. Cases keep the file order. Every problem found is
// reported.
func LoadCases(r io.Reader) ([]Variant, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, errors.Join(ErrInvalidCases, err)
	}

	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrInvalidCases)
	}

	var result error

	header := rows[0]
	params := make([]string, 0, len(header)-1)
	seen := make(map[string]struct{}, len(header))

	for i, name := range header[1:] {
		name = strings.TrimSpace(name)

		switch _, dup := seen[name]; {
		case name == "":
			result = multierror.Append(result, fmt.Errorf("column %d: parameter name is empty", i+2))
		case dup:
			result = multierror.Append(result, fmt.Errorf("column %d: duplicated parameter %q", i+2, name))
		}

		seen[name] = struct{}{}
		params = append(params, name)
	}

	if len(params) == 0 {
		result = multierror.Append(result, errors.New("no parameter columns"))
	}

	variants := make([]Variant, 0, len(rows)-1)
	names := make(map[string]int, len(rows)-1)

	for i, row := range rows[1:] {
		line := i + 2
		name := strings.TrimSpace(row[0])

		switch prev, dup := names[name]; {
		case name == "":
			result = multierror.Append(result, fmt.Errorf("line %d: case name is empty", line))
		case strings.ContainsAny(name, `/\`) || name == "." || name == "..":
			result = multierror.Append(result, fmt.Errorf("line %d: case name %q is not a directory name", line, name))
		case dup:
			result = multierror.Append(result, fmt.Errorf("line %d: case %q already defined on line %d", line, name, prev))
		}

		names[name] = line

		values := make(map[string]float64, len(params))

		for j, p := range params {
			cell := strings.TrimSpace(row[j+1])

			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				result = multierror.Append(result, fmt.Errorf("line %d: %s: %q is not a number", line, p, cell))
				continue
			}

			values[p] = v
		}

		variants = append(variants, Variant{Index: i, Name: name, Parameters: values})
	}

	if result != nil {
		return nil, errors.Join(ErrInvalidCases, result)
	}

	return variants, nil
}
