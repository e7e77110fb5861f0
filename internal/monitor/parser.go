// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package monitor

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Result classifies a line fed to the Parser.
type Result int

const (
	// Parsed means the line was understood; it may or may not have produced samples.
	Parsed Result = iota
	// Raw means the line is not part of the monitor grammar.
	Raw
	// Skipped means the line looked like monitor output but a value was malformed.
	Skipped
)

var (
	timeRe     = regexp.MustCompile(`^Time = (\S+?)s?$`)
	residualRe = regexp.MustCompile(`^\s*([^:\s]+):\s+Solving for (\S+), Initial residual = ([^,]+), Final residual = ([^,]+), No Iterations (\S+)`)
	headerRe   = regexp.MustCompile(`^(\w+) (\S+) write:\s*$`)
	regionRe   = regexp.MustCompile(`^Solving for (?:fluid|solid) region (\S+)`)
	opValueRe  = regexp.MustCompile(`^(\w+)\(([^)]*)\) of (\S+) = (.+)$`)
	assignRe   = regexp.MustCompile(`^(\S+)\s*[=:]\s*(.+)$`)
)

type section int

const (
	sectionNone section = iota
	sectionForces
	sectionMoments
	sectionOther
)

// Parser turns solver log lines into samples. It keeps the state of the
// current reporting interval and function object block, so one Parser must be
// used per output stream. It is not safe for concurrent use.
type Parser struct {
	clock      func() time.Time
	solverTime float64
	iteration  int
	region     string
	seen       map[residualKey]struct{}
	context    Source
	section    section
}

// NewParser returns a Parser using clock for sample timestamps. A nil clock means time.Now.
func NewParser(clock func() time.Time) *Parser {
	if clock == nil {
		clock = time.Now
	}

	return &Parser{
		clock: clock,
		seen:  make(map[residualKey]struct{}),
	}
}

// SolverTime returns the solver time of the current reporting interval.
func (p *Parser) SolverTime() float64 {
	return p.solverTime
}

// Iteration returns how many reporting intervals have been opened.
func (p *Parser) Iteration() int {
	return p.iteration
}

// Feed parses one line.
func (p *Parser) Feed(line string) ([]Sample, Result) {
	trimmed := strings.TrimSpace(line)
	indented := trimmed != "" && (line[0] == ' ' || line[0] == '\t')

	if trimmed == "" {
		p.closeContext()
		return nil, Raw
	}

	if !indented {
		return p.feedTopLevel(trimmed)
	}

	if p.context != nil {
		return p.feedContext(trimmed)
	}

	// Residual lines are usually not indented, but tolerate it.
	if m := residualRe.FindStringSubmatch(line); m != nil {
		return p.residual(m)
	}

	return nil, Raw
}

func (p *Parser) feedTopLevel(line string) ([]Sample, Result) {
	p.closeContext()

	if m := timeRe.FindStringSubmatch(line); m != nil {
		t, err := parseFloat(m[1])
		if err != nil {
			return nil, Skipped
		}

		p.solverTime = t
		p.iteration++
		p.region = ""
		clear(p.seen)

		return nil, Parsed
	}

	if m := regionRe.FindStringSubmatch(line); m != nil {
		p.region = m[1]
		return nil, Parsed
	}

	if m := residualRe.FindStringSubmatch(line); m != nil {
		return p.residual(m)
	}

	if m := headerRe.FindStringSubmatch(line); m != nil {
		if src := sourceFor(m[1], m[2]); src != nil {
			p.context = src
			return nil, Parsed
		}
	}

	return nil, Raw
}

func (p *Parser) residual(m []string) ([]Sample, Result) {
	solver, field := m[1], m[2]

	initial, err := parseFloat(m[3])
	if err != nil {
		return nil, Skipped
	}

	if _, err := parseFloat(m[4]); err != nil {
		return nil, Skipped
	}

	if _, err := strconv.Atoi(strings.TrimSpace(m[5])); err != nil {
		return nil, Skipped
	}

	k := residualKey{region: p.region, field: field}
	if _, ok := p.seen[k]; ok {
		return nil, Parsed
	}

	p.seen[k] = struct{}{}

	return []Sample{p.sample(Residual{Solver: solver, Region: p.region}, field, ScalarValue(initial))}, Parsed
}

// residualKey identifies one equation of one mesh region. Single region
// solvers leave region empty.
type residualKey struct {
	region, field string
}

func (p *Parser) feedContext(line string) ([]Sample, Result) {
	switch src := p.context.(type) {
	case Surface, Volume:
		m := opValueRe.FindStringSubmatch(line)
		if m == nil {
			return nil, Raw
		}

		v, ok := parseValue(m[4])
		if !ok {
			return nil, Skipped
		}

		switch s := src.(type) {
		case Surface:
			s.Operation, s.Region = m[1], m[2]
			return []Sample{p.sample(s, m[3], v)}, Parsed
		case Volume:
			s.Operation, s.Region = m[1], m[2]
			return []Sample{p.sample(s, m[3], v)}, Parsed
		}

	case Force:
		return p.feedForce(src, line)

	case Point:
		m := assignRe.FindStringSubmatch(line)
		if m == nil {
			return nil, Raw
		}

		v, ok := parseValue(m[2])
		if !ok {
			return nil, Skipped
		}

		return []Sample{p.sample(src, m[1], v)}, Parsed
	}

	return nil, Raw
}

func (p *Parser) feedForce(src Force, line string) ([]Sample, Result) {
	switch {
	case strings.HasPrefix(line, "Sum of forces"):
		p.section = sectionForces
		return nil, Parsed
	case strings.HasPrefix(line, "Sum of moments"):
		p.section = sectionMoments
		return nil, Parsed
	}

	m := assignRe.FindStringSubmatch(line)
	if m == nil {
		// Headings such as "Coefficients" or "Cd: ..." tables open a new section.
		p.section = sectionOther
		return nil, Parsed
	}

	name, raw := m[1], m[2]

	if p.section == sectionForces || p.section == sectionMoments {
		if name != "Total" {
			// Pressure/viscous/porous breakdown.
			return nil, Parsed
		}

		v, ok := parseValue(raw)
		if !ok || !v.IsVector {
			return nil, Skipped
		}

		field := "force"
		if p.section == sectionMoments {
			field = "moment"
		}

		return []Sample{p.sample(src, field, v)}, Parsed
	}

	v, ok := parseValue(raw)
	if !ok {
		return nil, Skipped
	}

	return []Sample{p.sample(src, name, v)}, Parsed
}

func (p *Parser) closeContext() {
	p.context = nil
	p.section = sectionNone
}

func (p *Parser) sample(src Source, field string, v Value) Sample {
	return Sample{
		Timestamp:  p.clock(),
		SolverTime: p.solverTime,
		Iteration:  p.iteration,
		Source:     src,
		Field:      field,
		Value:      v,
	}
}

func sourceFor(kind, name string) Source {
	switch kind {
	case "probes", "probe":
		return Point{Object: name}
	case "surfaceFieldValue", "surfaceRegion":
		return Surface{Object: name}
	case "volFieldValue", "cellSource":
		return Volume{Object: name}
	case "forces", "forceCoeffs":
		return Force{Object: name}
	default:
		return nil
	}
}

// parseValue parses "1.5" or "(1 2 3)". Trailing text after a scalar, such as
// units, is ignored.
func parseValue(s string) (Value, bool) {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "(") {
		end := strings.IndexByte(s, ')')
		if end < 0 {
			return Value{}, false
		}

		parts := strings.Fields(s[1:end])
		if len(parts) != 3 {
			return Value{}, false
		}

		var v [3]float64

		for i, part := range parts {
			f, err := parseFloat(part)
			if err != nil {
				return Value{}, false
			}

			v[i] = f
		}

		return VectorValue(v[0], v[1], v[2]), true
	}

	fields := strings.Fields(s)
	if len(fields) == 0 {
		return Value{}, false
	}

	f, err := parseFloat(fields[0])
	if err != nil {
		return Value{}, false
	}

	return ScalarValue(f), true
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64) //nolint:wrapcheck
}
