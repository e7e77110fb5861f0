// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package config loads job files. A job file describes one case run and,
// optionally, a parameter sweep over it. Files are written in YAML or HCL and
// may be fetched from any location supported by go-getter.
package config

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/hashicorp/go-multierror"
	"github.com/matt-FFFFFF/caserun/internal/job"
)

var (
	// ErrInvalidYaml is returned when a YAML job file cannot be decoded.
	ErrInvalidYaml = errors.New("invalid YAML")
	// ErrInvalidHcl is returned when an HCL job file cannot be decoded.
	ErrInvalidHcl = errors.New("invalid HCL")
	// ErrInvalidConfig is returned when a decoded job file fails validation.
	ErrInvalidConfig = errors.New("invalid job file")
)

// File is the root of a job file.
type File struct {
	Job   *Job   `yaml:"job"   hcl:"job,block"`
	Sweep *Sweep `yaml:"sweep" hcl:"sweep,block"`
}

// Job is the job block of a job file.
type Job struct {
	Name           string             `yaml:"name"            hcl:"name,label"`
	CaseDir        string             `yaml:"case_dir"        hcl:"case_dir,optional"`
	Cores          int                `yaml:"cores"           hcl:"cores,optional"`
	HostFile       string             `yaml:"host_file"       hcl:"host_file,optional"`
	EndTime        float64            `yaml:"end_time"        hcl:"end_time,optional"`
	WriteInterval  float64            `yaml:"write_interval"  hcl:"write_interval,optional"`
	ReportInterval float64            `yaml:"report_interval" hcl:"report_interval,optional"`
	ControlFile    string             `yaml:"control_file"    hcl:"control_file,optional"`
	Env            map[string]string  `yaml:"env"             hcl:"env,optional"`
	Numerics       map[string]string  `yaml:"numerics"        hcl:"numerics,optional"`
	Parameters     map[string]float64 `yaml:"parameters"      hcl:"parameters,optional"`
	Solver         *job.CommandSpec   `yaml:"solver"          hcl:"solver,block"`
	Decomposer     *job.CommandSpec   `yaml:"decomposer"      hcl:"decomposer,block"`
	Reconstructor  *job.CommandSpec   `yaml:"reconstructor"   hcl:"reconstructor,block"`
	Generator      *job.CommandSpec   `yaml:"generator"       hcl:"generator,block"`
}

// Sweep is the optional sweep block. Either a range (field, min, max and
// increment) or a CSV case list is given.
type Sweep struct {
	Field       string  `yaml:"field"       hcl:"field,optional"`
	Min         float64 `yaml:"min"         hcl:"min,optional"`
	Max         float64 `yaml:"max"         hcl:"max,optional"`
	Increment   float64 `yaml:"increment"   hcl:"increment,optional"`
	Cases       string  `yaml:"cases"       hcl:"cases,optional"`
	Concurrency int     `yaml:"concurrency" hcl:"concurrency,optional"`
}

// IsRange reports whether the sweep is defined by a numeric range.
func (s *Sweep) IsRange() bool {
	return s.Cases == ""
}

// Limit returns the concurrency limit, defaulting to one job at a time.
func (s *Sweep) Limit() int {
	if s.Concurrency <= 0 {
		return 1
	}

	return s.Concurrency
}

// Decode parses a job file. The format is chosen from the extension of name:
// ".hcl" is HCL, anything else is YAML.
func Decode(name string, data []byte) (*File, error) {
	var (
		f   *File
		err error
	)

	switch strings.ToLower(filepath.Ext(name)) {
	case ".hcl":
		f, err = decodeHCL(name, data)
	default:
		f, err = decodeYAML(data)
	}

	if err != nil {
		return nil, err
	}

	if err := f.Validate(); err != nil {
		return nil, err
	}

	return f, nil
}

func decodeYAML(data []byte) (*File, error) {
	f := new(File)
	if err := yaml.UnmarshalWithOptions(data, f, yaml.Strict()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYaml, err)
	}

	return f, nil
}

// Validate reports every problem in the file.
func (f *File) Validate() error {
	var result *multierror.Error

	if f.Job == nil {
		result = multierror.Append(result, errors.New("job block is required"))
	} else {
		if err := f.Job.Spec().Validate(); err != nil {
			var merr *multierror.Error
			if errors.As(err, &merr) {
				result = multierror.Append(result, merr.Errors...)
			} else {
				result = multierror.Append(result, err)
			}
		}
	}

	if f.Sweep != nil {
		result = multierror.Append(result, f.Sweep.validate()...)
	}

	if err := result.ErrorOrNil(); err != nil {
		return errors.Join(ErrInvalidConfig, err)
	}

	return nil
}

func (s *Sweep) validate() []error {
	var errs []error

	if s.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("sweep concurrency must not be negative, got %d", s.Concurrency))
	}

	if !s.IsRange() {
		if s.Field != "" {
			errs = append(errs, errors.New("sweep cannot set both cases and field"))
		}

		return errs
	}

	if s.Field == "" {
		errs = append(errs, errors.New("sweep field is required"))
	}

	for name, v := range map[string]float64{"min": s.Min, "max": s.Max, "increment": s.Increment} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			errs = append(errs, fmt.Errorf("sweep %s must be a finite number", name))
		}
	}

	if s.Increment == 0 {
		errs = append(errs, errors.New("sweep increment must not be zero"))
	}

	return errs
}

// Spec converts the job block into a job spec.
func (j *Job) Spec() job.Spec {
	s := job.Spec{
		Name:           j.Name,
		CaseDir:        j.CaseDir,
		Cores:          j.Cores,
		HostFile:       j.HostFile,
		EndTime:        j.EndTime,
		WriteInterval:  j.WriteInterval,
		ReportInterval: j.ReportInterval,
		ControlFile:    j.ControlFile,
		Env:            j.Env,
		Numerics:       j.Numerics,
		Parameters:     j.Parameters,
	}

	for dst, src := range map[*job.CommandSpec]*job.CommandSpec{
		&s.Solver:        j.Solver,
		&s.Decomposer:    j.Decomposer,
		&s.Reconstructor: j.Reconstructor,
		&s.Generator:     j.Generator,
	} {
		if src != nil {
			*dst = *src
		}
	}

	return s.Clone()
}

// ResolvePaths makes relative case, host and case list paths absolute
// against dir.
func (f *File) ResolvePaths(dir string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}

		return filepath.Join(dir, p)
	}

	if f.Job != nil {
		f.Job.CaseDir = abs(f.Job.CaseDir)
		f.Job.HostFile = abs(f.Job.HostFile)
	}

	if f.Sweep != nil {
		f.Sweep.Cases = abs(f.Sweep.Cases)
	}
}
