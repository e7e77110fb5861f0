// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package monitor

import (
	"fmt"
	"strconv"
	"time"
)

// Source identifies where a sample came from. The concrete types form a
// closed set; switch on them with a type switch.
type Source interface {
	// Name is the solver or function object name.
	Name() string
	isSource()
}

// Residual is the convergence residual reported by a linear solver. Region
// is set for multi-region solvers.
type Residual struct {
	Solver string
	Region string
}

// Point is a probes function object.
type Point struct {
	Object string
}

// Surface is a surfaceFieldValue function object.
type Surface struct {
	Object    string
	Operation string
	Region    string
}

// Volume is a volFieldValue function object.
type Volume struct {
	Object    string
	Operation string
	Region    string
}

// Force is a forces or forceCoeffs function object.
type Force struct {
	Object string
}

// Name implements Source.
func (s Residual) Name() string {
	if s.Region != "" {
		return s.Region + "/" + s.Solver
	}

	return s.Solver
}

// Name implements Source.
func (s Point) Name() string { return s.Object }

// Name implements Source.
func (s Surface) Name() string { return s.Object }

// Name implements Source.
func (s Volume) Name() string { return s.Object }

// Name implements Source.
func (s Force) Name() string { return s.Object }

func (Residual) isSource() {}
func (Point) isSource()    {}
func (Surface) isSource()  {}
func (Volume) isSource()   {}
func (Force) isSource()    {}

// KindOf returns a short label for the source type.
func KindOf(s Source) string {
	switch s.(type) {
	case Residual:
		return "residual"
	case Point:
		return "point"
	case Surface:
		return "surface"
	case Volume:
		return "volume"
	case Force:
		return "force"
	default:
		return "unknown"
	}
}

// Value is a scalar or a three component vector.
type Value struct {
	Scalar   float64
	Vector   [3]float64
	IsVector bool
}

// ScalarValue returns a scalar Value.
func ScalarValue(v float64) Value {
	return Value{Scalar: v}
}

// VectorValue returns a vector Value.
func VectorValue(x, y, z float64) Value {
	return Value{Vector: [3]float64{x, y, z}, IsVector: true}
}

// String implements fmt.Stringer.
func (v Value) String() string {
	if v.IsVector {
		return fmt.Sprintf("(%g %g %g)", v.Vector[0], v.Vector[1], v.Vector[2])
	}

	return strconv.FormatFloat(v.Scalar, 'g', -1, 64)
}

// Sample is one parsed monitor value.
type Sample struct {
	Timestamp  time.Time
	SolverTime float64
	Iteration  int
	Source     Source
	Field      string
	Value      Value
}

// String renders the sample for logs and the console.
func (s Sample) String() string {
	name := ""
	if s.Source != nil {
		name = KindOf(s.Source) + ":" + s.Source.Name() + " "
	}

	return fmt.Sprintf("t=%g %s%s=%s", s.SolverTime, name, s.Field, s.Value)
}
