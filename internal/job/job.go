// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package job

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
)

// Default commands and file locations for OpenFOAM style cases.
const (
	DefaultDecomposer    = "decomposePar"
	DefaultReconstructor = "reconstructPar"
	DefaultControlFile   = "system/controlDict"
	DefaultStdoutLog     = "stdout.log"
	DefaultStderrLog     = "stderr.log"
	DefaultParamsFile    = "system/caseParameters"
)

// Patch keys that map onto JobSpec fields.
const (
	KeyEndTime        = "endTime"
	KeyWriteInterval  = "writeInterval"
	KeyReportInterval = "reportInterval"
	KeyStopAt         = "stopAt"
)

// EnvPrefix starts the names of the environment entries given to generators.
const EnvPrefix = "CASERUN_"

var (
	// ErrInvalidJobSpec is returned when a JobSpec fails validation.
	ErrInvalidJobSpec = errors.New("invalid job spec")
	// ErrStepFailed is returned when a pipeline step exits non-zero or cannot be launched.
	ErrStepFailed = errors.New("step failed")
)

// ID identifies a submitted job.
type ID string

// NewID returns a random job id.
func NewID() ID {
	return ID(uuid.NewString())
}

// String implements fmt.Stringer.
func (id ID) String() string {
	return string(id)
}

// Short returns the first eight characters of the id for display.
func (id ID) Short() string {
	if len(id) <= 8 {
		return string(id)
	}

	return string(id[:8])
}

// CommandSpec is an executable and its arguments.
type CommandSpec struct {
	Path string   `yaml:"path" hcl:"path"`
	Args []string `yaml:"args,omitempty" hcl:"args,optional"`
}

// IsZero reports whether no executable is configured.
func (c CommandSpec) IsZero() bool {
	return c.Path == ""
}

// Spec describes a single run. A Spec is never mutated once submitted:
// the supervisor keeps its own deep copy and updates produce a new Spec.
type Spec struct {
	Name           string             // Display name, defaults to the case directory base name
	CaseDir        string             // Case directory, the working directory of every step
	Cores          int                // Parallel process count, 1 for a serial run
	HostFile       string             // Optional cluster host file, empty means local
	EndTime        float64            // End time, or iteration limit for steady cases
	WriteInterval  float64            // Save interval
	ReportInterval float64            // Monitor reporting interval
	Solver         CommandSpec        // Solver executable
	Decomposer     CommandSpec        // Decomposition utility, used only for parallel runs
	Reconstructor  CommandSpec        // Reconstruction utility, used only for parallel runs
	Generator      CommandSpec        // Optional case generator; zero means the case is already written
	ControlFile    string             // Control dictionary polled by the solver, relative to CaseDir
	Env            map[string]string  // Extra environment for every step
	Numerics       map[string]string  // Numerical configuration entries
	Parameters     map[string]float64 // Sweep parameters assigned to this variant
}

// Clone returns a deep copy of s.
func (s Spec) Clone() Spec {
	c := s
	c.Solver.Args = slices.Clone(s.Solver.Args)
	c.Decomposer.Args = slices.Clone(s.Decomposer.Args)
	c.Reconstructor.Args = slices.Clone(s.Reconstructor.Args)
	c.Generator.Args = slices.Clone(s.Generator.Args)
	c.Env = maps.Clone(s.Env)
	c.Numerics = maps.Clone(s.Numerics)
	c.Parameters = maps.Clone(s.Parameters)

	return c
}

// WithDefaults returns a copy of s with empty optional fields filled in.
func (s Spec) WithDefaults() Spec {
	c := s.Clone()

	if c.Name == "" && c.CaseDir != "" {
		c.Name = filepath.Base(filepath.Clean(c.CaseDir))
	}

	if c.Cores == 0 && c.HostFile == "" {
		c.Cores = 1
	}

	if c.Decomposer.IsZero() {
		c.Decomposer = CommandSpec{Path: DefaultDecomposer, Args: []string{"-force"}}
	}

	if c.Reconstructor.IsZero() {
		c.Reconstructor = CommandSpec{Path: DefaultReconstructor, Args: []string{"-latestTime"}}
	}

	if c.ControlFile == "" {
		c.ControlFile = DefaultControlFile
	}

	return c
}

// ControlPath returns the absolute or case relative path of the control dictionary.
func (s Spec) ControlPath() string {
	f := s.ControlFile
	if f == "" {
		f = DefaultControlFile
	}

	if filepath.IsAbs(f) {
		return f
	}

	return filepath.Join(s.CaseDir, f)
}

// Validate reports every problem with s.
func (s Spec) Validate() error {
	var result *multierror.Error

	if s.CaseDir == "" {
		result = multierror.Append(result, errors.New("case directory is required"))
	}

	if s.Solver.IsZero() {
		result = multierror.Append(result, errors.New("solver path is required"))
	}

	if s.Cores < 0 {
		result = multierror.Append(result, fmt.Errorf("cores must not be negative, got %d", s.Cores))
	}

	for name, v := range map[string]float64{
		KeyEndTime:        s.EndTime,
		KeyWriteInterval:  s.WriteInterval,
		KeyReportInterval: s.ReportInterval,
	} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			result = multierror.Append(result, fmt.Errorf("%s must be a finite, non-negative number", name))
		}
	}

	for _, k := range slices.Sorted(maps.Keys(s.Numerics)) {
		if err := validateEntry(Entry{Key: k, Value: s.Numerics[k]}); err != nil {
			result = multierror.Append(result, err)
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		return errors.Join(ErrInvalidJobSpec, err)
	}

	return nil
}

// WithPatch returns a new Spec with the patch applied. Keys that map onto Spec
// fields update those fields, every other key is recorded in Numerics.
func (s Spec) WithPatch(p Patch) (Spec, error) {
	if err := p.Validate(); err != nil {
		return s, errors.Join(ErrInvalidJobSpec, err)
	}

	c := s.Clone()
	if c.Numerics == nil {
		c.Numerics = make(map[string]string)
	}

	for _, e := range p.Entries {
		switch e.Key {
		case KeyEndTime, KeyWriteInterval, KeyReportInterval:
			v, err := strconv.ParseFloat(e.Value, 64)
			if err != nil {
				return s, errors.Join(ErrInvalidJobSpec, fmt.Errorf("%s: %w", e.Key, err))
			}

			switch e.Key {
			case KeyEndTime:
				c.EndTime = v
			case KeyWriteInterval:
				c.WriteInterval = v
			case KeyReportInterval:
				c.ReportInterval = v
			}
		default:
			c.Numerics[e.Key] = e.Value
		}
	}

	if err := c.Validate(); err != nil {
		return s, err
	}

	return c, nil
}

// RunSettings returns the control dictionary entries a run starts from:
// stopAt endTime, so that a stop left by an earlier run is cleared, then the
// end time and write interval when they are set, then Numerics in key order.
// Dotted Numerics keys such as PISO.nCorrectors address other dictionaries
// and are left to the generator.
func (s Spec) RunSettings() Patch {
	p := NewPatch(KeyStopAt, "endTime")

	if s.EndTime > 0 {
		p.Set(KeyEndTime, formatFloat(s.EndTime))
	}

	if s.WriteInterval > 0 {
		p.Set(KeyWriteInterval, formatFloat(s.WriteInterval))
	}

	for _, k := range slices.Sorted(maps.Keys(s.Numerics)) {
		if !strings.Contains(k, ".") {
			p.Set(k, s.Numerics[k])
		}
	}

	return p
}

// GeneratorEnv returns Env plus the run settings and sweep parameters as
// CASERUN_ entries: CASERUN_CASE_DIR, CASERUN_END_TIME,
// CASERUN_WRITE_INTERVAL, CASERUN_REPORT_INTERVAL, one CASERUN_PARAM_<name>
// per parameter and one CASERUN_NUMERIC_<key> per Numerics entry.
func (s Spec) GeneratorEnv() map[string]string {
	env := maps.Clone(s.Env)
	if env == nil {
		env = make(map[string]string)
	}

	for k, v := range s.settingValues() {
		env[EnvPrefix+k] = v
	}

	for k, v := range s.Parameters {
		env[EnvPrefix+"PARAM_"+k] = formatFloat(v)
	}

	for k, v := range s.Numerics {
		env[EnvPrefix+"NUMERIC_"+k] = v
	}

	return env
}

// ExpandArgs replaces ${name} in args with the parameter of that name or with
// a run setting (${endTime}, ${writeInterval}, ${reportInterval},
// ${caseDir}). Unknown references are left as they are.
func (s Spec) ExpandArgs(args []string) []string {
	if len(args) == 0 {
		return nil
	}

	pairs := []string{
		"${caseDir}", s.CaseDir,
		"${" + KeyEndTime + "}", formatFloat(s.EndTime),
		"${" + KeyWriteInterval + "}", formatFloat(s.WriteInterval),
		"${" + KeyReportInterval + "}", formatFloat(s.ReportInterval),
	}

	for _, k := range slices.Sorted(maps.Keys(s.Parameters)) {
		pairs = append(pairs, "${"+k+"}", formatFloat(s.Parameters[k]))
	}

	r := strings.NewReplacer(pairs...)
	out := make([]string, len(args))

	for i, a := range args {
		out[i] = r.Replace(a)
	}

	return out
}

func (s Spec) settingValues() map[string]string {
	return map[string]string{
		"CASE_DIR":        s.CaseDir,
		"END_TIME":        formatFloat(s.EndTime),
		"WRITE_INTERVAL":  formatFloat(s.WriteInterval),
		"REPORT_INTERVAL": formatFloat(s.ReportInterval),
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
