// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package plan

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/matt-FFFFFF/caserun/internal/batch"
	"github.com/matt-FFFFFF/caserun/internal/dispatch"
	"github.com/matt-FFFFFF/caserun/internal/job"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cavity() job.Spec {
	return job.Spec{
		Name:    "cavity",
		CaseDir: filepath.FromSlash("/cases/cavity"),
		Cores:   4,
		EndTime: 0.5,
		Solver:  job.CommandSpec{Path: "icoFoam"},
	}
}

func TestWrite_Parallel(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, dispatch.New(), cavity(), nil))

	out := buf.String()
	assert.Contains(t, out, "Job cavity\n")
	assert.Contains(t, out, "  processes: 4\n")
	assert.Contains(t, out, "decomposePar -force -case "+filepath.FromSlash("/cases/cavity"))
	assert.Contains(t, out, "mpirun -np 4 icoFoam -parallel")
	assert.Contains(t, out, "reconstructPar -latestTime")
	assert.NotContains(t, out, "generate", "no generator is configured")
	assert.NotContains(t, out, "Variants")
}

func TestWrite_SerialWithLauncher(t *testing.T) {
	spec := cavity()
	spec.Cores = 1
	spec.Generator = job.CommandSpec{Path: "blockMesh"}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, dispatch.New(dispatch.WithLauncher("srun")), spec, nil))

	out := buf.String()
	assert.Contains(t, out, "  1. generate     blockMesh\n")
	assert.Contains(t, out, "  2. solve        icoFoam\n")
	assert.NotContains(t, out, "srun")
}

func TestWrite_Variants(t *testing.T) {
	vs, err := batch.NewPlanner(batch.Options{}).Plan("U", 1, 2, 1)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, dispatch.New(), cavity(), batch.Derive(cavity(), vs)))

	out := buf.String()
	assert.Contains(t, out, "Variants: 2\n")
	assert.Contains(t, out, "U_1")
	assert.Contains(t, out, "U_2")
}

func TestWrite_UnsupportedTopology(t *testing.T) {
	spec := cavity()
	spec.Cores = -1

	err := Write(&bytes.Buffer{}, dispatch.New(), spec, nil)
	require.ErrorIs(t, err, dispatch.ErrUnsupportedTopology)
}
