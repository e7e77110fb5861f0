// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package batch expands parameter sweeps into case variants and runs them
// through a supervisor with bounded concurrency.
package batch

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/matt-FFFFFF/caserun/internal/job"
)

const (
	// DefaultMaxVariants is the sweep size ceiling used when Options.MaxVariants is zero.
	DefaultMaxVariants = 1000
	// Directory is the directory below the base case that holds variant cases.
	Directory = "batch"

	// countTolerance absorbs rounding in (max-min)/increment, so that a range of
	// 0..1 in steps of 0.1 still yields 11 values.
	countTolerance = 1e-9
)

// ErrInvalidSweep is returned when a sweep cannot be expanded.
var ErrInvalidSweep = errors.New("invalid sweep")

// Variant is one point of a sweep.
type Variant struct {
	Index      int                // position in ascending order, from 0
	Name       string             // case name, also the directory below the batch root
	Field      string             // swept parameter, empty for imported multi-parameter cases
	Value      float64            // value of Field
	Parameters map[string]float64 // every parameter assigned to this case
	Spec       job.Spec           // set by Derive
	BaseCase   string             // case directory the variant is copied from, set by Derive
}

// Options configures a Planner.
type Options struct {
	MaxVariants int
}

// Planner expands sweeps.
type Planner struct {
	maxVariants int
}

// NewPlanner creates a Planner.
func NewPlanner(opts Options) *Planner {
	if opts.MaxVariants <= 0 {
		opts.MaxVariants = DefaultMaxVariants
	}

	return &Planner{maxVariants: opts.MaxVariants}
}

// Plan expands field over min..max in steps of increment. Values are computed
// as min + i*increment and returned in ascending order.
func (p *Planner) Plan(field string, minimum, maximum, increment float64) ([]Variant, error) {
	if field == "" {
		return nil, fmt.Errorf("%w: field name is required", ErrInvalidSweep)
	}

	for _, v := range []float64{minimum, maximum, increment} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: values must be finite", ErrInvalidSweep)
		}
	}

	span := maximum - minimum

	switch {
	case increment == 0:
		return nil, fmt.Errorf("%w: increment must not be zero", ErrInvalidSweep)
	case span != 0 && math.Signbit(span) != math.Signbit(increment):
		return nil, fmt.Errorf("%w: increment %g does not move from %g towards %g", ErrInvalidSweep, increment, minimum, maximum)
	}

	steps := math.Floor(span/increment + countTolerance)
	if steps+1 > float64(p.maxVariants) {
		return nil, fmt.Errorf("%w: %.0f variants exceed the limit of %d", ErrInvalidSweep, steps+1, p.maxVariants)
	}

	count := int(steps) + 1
	values := make([]float64, count)

	for i := range values {
		values[i] = minimum + float64(i)*increment
	}

	slices.Sort(values)

	variants := make([]Variant, count)
	for i, v := range values {
		variants[i] = Variant{
			Index:      i,
			Name:       VariantName(field, v),
			Field:      field,
			Value:      v,
			Parameters: map[string]float64{field: v},
		}
	}

	return variants, nil
}

// VariantName returns the case name for field=value, e.g. "inletVelocity_2.5".
func VariantName(field string, value float64) string {
	return field + "_" + strconv.FormatFloat(value, 'g', -1, 64)
}

// Derive gives each variant a spec based on base, with its own case directory
// below <base case>/batch and its parameters merged into Parameters.
func Derive(base job.Spec, variants []Variant) []Variant {
	root := filepath.Join(base.CaseDir, Directory)
	out := make([]Variant, len(variants))

	for i, v := range variants {
		spec := base.Clone()
		spec.Name = v.Name
		spec.CaseDir = filepath.Join(root, v.Name)

		if spec.HostFile != "" && !filepath.IsAbs(spec.HostFile) {
			spec.HostFile = filepath.Join(base.CaseDir, spec.HostFile)
		}

		if spec.Parameters == nil {
			spec.Parameters = make(map[string]float64, len(v.Parameters))
		}

		maps.Copy(spec.Parameters, v.Parameters)

		v.Parameters = maps.Clone(v.Parameters)
		v.Spec = spec
		v.BaseCase = base.CaseDir
		out[i] = v
	}

	return out
}
