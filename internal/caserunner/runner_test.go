// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package caserunner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/matt-FFFFFF/caserun/internal/control"
	"github.com/matt-FFFFFF/caserun/internal/dispatch"
	"github.com/matt-FFFFFF/caserun/internal/job"
	"github.com/matt-FFFFFF/caserun/internal/procs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// pollingSolver prints a time step every 50ms and honours stopAt writeNow the
// way a real solver does; SIGINT ends it with a non-zero code.
const pollingSolver = `trap 'echo interrupted 1>&2; exit 130' INT
i=1
while [ $i -lt 400 ]; do
  echo "Time = $i"
  echo "GAMG:  Solving for p, Initial residual = 0.5, Final residual = 0.01, No Iterations 2"
  if grep -q "stopAt *writeNow" system/controlDict; then echo "writing and stopping"; exit 0; fi
  sleep 0.05
  i=$((i+1))
done`

func skipOnWindows(t *testing.T) {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
}

func shell(script string) job.CommandSpec {
	return job.CommandSpec{Path: "/bin/sh", Args: []string{"-c", script}}
}

// newCase creates a case directory with a controlDict and a step journal.
func newCase(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "system"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, job.DefaultControlFile),
		[]byte("application icoFoam;\nstopAt endTime;\nendTime 1;\n"), 0o644))

	return dir
}

// fakeLauncher writes an mpirun stand-in that drops "-np N" and runs the rest.
func fakeLauncher(t *testing.T) *dispatch.Dispatcher {
	t.Helper()

	p := filepath.Join(t.TempDir(), "mpirun")
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\nshift 2\nexec \"$@\"\n"), 0o755))

	return dispatch.New(dispatch.WithLauncher(p))
}

func journal(t *testing.T, dir string) []string {
	t.Helper()

	b, err := os.ReadFile(filepath.Join(dir, "journal"))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}

	require.NoError(t, err)

	return strings.Fields(string(b))
}

func parallelSpec(dir string, solver string) job.Spec {
	return job.Spec{
		CaseDir:       dir,
		Cores:         2,
		Decomposer:    shell("echo decompose >> journal"),
		Solver:        shell("echo solve >> journal; " + solver),
		Reconstructor: shell("echo reconstruct >> journal"),
	}
}

func parallelPlan(dir string) dispatch.LaunchPlan {
	return dispatch.LaunchPlan{Processes: 2, Parallel: true, WorkDir: dir}
}

// waitForLine blocks until a line containing substr is seen.
func waitForLine(t *testing.T, lines <-chan procs.Line, substr string) {
	t.Helper()

	timeout := time.After(10 * time.Second)

	for {
		select {
		case l, ok := <-lines:
			require.True(t, ok, "stream ended before %q", substr)

			if strings.Contains(l.Text, substr) {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %q", substr)
		}
	}
}

func drain(lines <-chan procs.Line) {
	go func() {
		for range lines { //nolint:revive
		}
	}()
}

func TestRunner_SerialSuccess(t *testing.T) {
	skipOnWindows(t)
	defer goleak.VerifyNone(t)

	dir := newCase(t)
	spec := job.Spec{CaseDir: dir, Cores: 1, Solver: shell("echo 'Time = 1'; echo done 1>&2")}

	var started []job.Step

	r := New(spec, dispatch.LaunchPlan{Processes: 1, WorkDir: dir}, Options{
		OnStep: func(s job.Step) { started = append(started, s) },
	})

	lines, _ := r.Subscribe(16)

	var got []procs.Line

	collected := make(chan struct{})

	go func() {
		defer close(collected)

		for l := range lines {
			got = append(got, l)
		}
	}()

	out := r.Run(context.Background())
	<-collected

	require.Equal(t, job.StatusCompleted, out.Status)
	require.NoError(t, out.Err)
	assert.Equal(t, []job.Step{job.StepGenerate, job.StepSolve}, started)
	require.Len(t, out.Steps, 2)
	assert.True(t, out.Steps[0].Skipped, "no generator configured")
	assert.Equal(t, job.StepSolve, out.Steps[1].Step)
	assert.Contains(t, got, procs.Line{Text: "Time = 1"})
	assert.Contains(t, got, procs.Line{Text: "done", Stderr: true})
	assert.Equal(t, job.StepNone, r.ActiveStep())
}

func TestRunner_ParallelPipelineOrder(t *testing.T) {
	skipOnWindows(t)

	dir := newCase(t)
	r := New(parallelSpec(dir, "true"), parallelPlan(dir), Options{Dispatcher: fakeLauncher(t)})
	drain(mustSubscribe(r))

	out := r.Run(context.Background())

	require.Equal(t, job.StatusCompleted, out.Status, out.Err)
	assert.Equal(t, []string{"decompose", "solve", "reconstruct"}, journal(t, dir))

	dict, err := os.ReadFile(filepath.Join(dir, control.DecomposeDict))
	require.NoError(t, err)
	assert.Contains(t, string(dict), "numberOfSubdomains 2;")
}

func mustSubscribe(r *Runner) <-chan procs.Line {
	ch, _ := r.Subscribe(0)
	return ch
}

func TestRunner_StepFailureAbortsRemaining(t *testing.T) {
	skipOnWindows(t)

	dir := newCase(t)
	spec := parallelSpec(dir, "echo 'FOAM FATAL ERROR' 1>&2; exit 3")
	r := New(spec, parallelPlan(dir), Options{Dispatcher: fakeLauncher(t)})

	out := r.Run(context.Background())

	require.Equal(t, job.StatusFailed, out.Status)
	assert.Equal(t, job.StepSolve, out.FailedStep)
	assert.Equal(t, 3, out.ExitCode)
	require.ErrorIs(t, out.Err, job.ErrStepFailed)
	assert.Contains(t, out.Err.Error(), "FOAM FATAL ERROR")

	se, ok := out.StepError()
	require.True(t, ok)
	assert.Equal(t, job.StepSolve, se.Step)
	assert.Equal(t, []string{"decompose", "solve"}, journal(t, dir), "reconstruct must not run")
}

func TestRunner_LaunchFailure(t *testing.T) {
	dir := newCase(t)
	spec := job.Spec{CaseDir: dir, Cores: 1, Solver: job.CommandSpec{Path: "/no/such/solver"}}

	out := New(spec, dispatch.LaunchPlan{Processes: 1}, Options{}).Run(context.Background())

	require.Equal(t, job.StatusFailed, out.Status)
	assert.Equal(t, job.StepSolve, out.FailedStep)
	assert.Equal(t, -1, out.ExitCode)
	assert.ErrorIs(t, out.Err, procs.ErrLaunchFailed)
}

func TestRunner_GeneratorRunsFirst(t *testing.T) {
	skipOnWindows(t)

	dir := newCase(t)
	spec := parallelSpec(dir, "true")
	spec.Generator = shell("echo generate >> journal")

	out := New(spec, parallelPlan(dir), Options{Dispatcher: fakeLauncher(t)}).Run(context.Background())

	require.Equal(t, job.StatusCompleted, out.Status, out.Err)
	assert.Equal(t, []string{"generate", "decompose", "solve", "reconstruct"}, journal(t, dir))
}

func TestRunner_GeneratorFailure(t *testing.T) {
	dir := newCase(t)
	spec := job.Spec{CaseDir: dir, Cores: 1, Solver: job.CommandSpec{Path: "/no/such/solver"}}
	boom := errors.New("mesh missing")

	out := New(spec, dispatch.LaunchPlan{Processes: 1}, Options{
		Generator: GeneratorFunc(func(context.Context, job.Spec) error { return boom }),
	}).Run(context.Background())

	require.Equal(t, job.StatusFailed, out.Status)
	assert.Equal(t, job.StepGenerate, out.FailedStep)
	require.ErrorIs(t, out.Err, boom)
	assert.Len(t, out.Steps, 1)
}

func TestRunner_SaveAndStopStillReconstructs(t *testing.T) {
	skipOnWindows(t)

	dir := newCase(t)
	r := New(parallelSpec(dir, pollingSolver), parallelPlan(dir), Options{Dispatcher: fakeLauncher(t)})
	lines := mustSubscribe(r)

	done := make(chan job.Outcome, 1)

	go func() { done <- r.Run(context.Background()) }()

	waitForLine(t, lines, "Time = ")
	require.Equal(t, job.StepSolve, r.ActiveStep())
	require.NoError(t, r.Halt(context.Background(), control.StopSave))
	drain(lines)

	out := <-done

	require.Equal(t, job.StatusCompleted, out.Status, out.Err)
	assert.Equal(t, []string{"decompose", "solve", "reconstruct"}, journal(t, dir))

	v, _, err := control.NewDictFile(filepath.Join(dir, job.DefaultControlFile)).Read("stopAt")
	require.NoError(t, err)
	assert.Equal(t, "writeNow", v)
}

func TestRunner_CancelDuringSolve(t *testing.T) {
	skipOnWindows(t)

	dir := newCase(t)
	r := New(parallelSpec(dir, pollingSolver), parallelPlan(dir), Options{Dispatcher: fakeLauncher(t)})
	lines := mustSubscribe(r)

	done := make(chan job.Outcome, 1)

	go func() { done <- r.Run(context.Background()) }()

	waitForLine(t, lines, "Time = ")
	require.NoError(t, r.Halt(context.Background(), control.StopDiscard))
	drain(lines)

	out := <-done

	assert.Equal(t, job.StatusCanceled, out.Status)
	require.ErrorIs(t, out.Err, ErrCanceled)
	assert.False(t, out.Killed)
	assert.Equal(t, []string{"decompose", "solve"}, journal(t, dir))

	v, _, err := control.NewDictFile(filepath.Join(dir, job.DefaultControlFile)).Read("stopAt")
	require.NoError(t, err)
	assert.Equal(t, "noWriteNow", v)
}

func TestRunner_StopBeforeSolveSkipsEverything(t *testing.T) {
	dir := newCase(t)
	r := New(job.Spec{CaseDir: dir, Cores: 1, Solver: shell("echo solve >> journal")},
		dispatch.LaunchPlan{Processes: 1}, Options{})

	require.NoError(t, r.Halt(context.Background(), control.StopSave))

	out := r.Run(context.Background())
	assert.Equal(t, job.StatusCanceled, out.Status)
	assert.Empty(t, out.Steps)
	assert.Empty(t, journal(t, dir))
}

func TestRunner_Kill(t *testing.T) {
	skipOnWindows(t)

	dir := newCase(t)
	spec := job.Spec{CaseDir: dir, Cores: 1, Solver: shell(pollingSolver)}
	r := New(spec, dispatch.LaunchPlan{Processes: 1}, Options{})
	lines := mustSubscribe(r)

	done := make(chan job.Outcome, 1)

	go func() { done <- r.Run(context.Background()) }()

	waitForLine(t, lines, "Time = ")
	require.NoError(t, r.Kill(context.Background()))
	require.NoError(t, r.Kill(context.Background()), "second kill is a no-op")
	drain(lines)

	out := <-done
	assert.Equal(t, job.StatusCanceled, out.Status)
	assert.True(t, out.Killed)
}

func TestRunner_ContextCancelKills(t *testing.T) {
	skipOnWindows(t)

	dir := newCase(t)
	spec := job.Spec{CaseDir: dir, Cores: 1, Solver: shell(pollingSolver)}
	r := New(spec, dispatch.LaunchPlan{Processes: 1}, Options{})
	lines := mustSubscribe(r)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan job.Outcome, 1)

	go func() { done <- r.Run(ctx) }()

	waitForLine(t, lines, "Time = ")
	cancel()
	drain(lines)

	assert.Equal(t, job.StatusCanceled, (<-done).Status)
}

func TestRunner_RunTwice(t *testing.T) {
	dir := newCase(t)
	r := New(job.Spec{CaseDir: dir, Cores: 1, Solver: shell("true")}, dispatch.LaunchPlan{Processes: 1}, Options{})
	_ = r.Run(context.Background())

	out := r.Run(context.Background())
	assert.ErrorIs(t, out.Err, ErrAlreadyRun)
}

func TestRunner_LogFilesAndApply(t *testing.T) {
	skipOnWindows(t)

	dir := newCase(t)
	r := New(job.Spec{CaseDir: dir, Cores: 1, Solver: shell("echo hello; echo bad 1>&2")},
		dispatch.LaunchPlan{Processes: 1}, Options{LogFiles: true})

	require.NoError(t, r.Apply(context.Background(), job.NewPatch("endTime", "5")))
	require.Equal(t, job.StatusCompleted, r.Run(context.Background()).Status)

	stdout, err := os.ReadFile(filepath.Join(dir, job.DefaultStdoutLog))
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(stdout))

	stderr, err := os.ReadFile(filepath.Join(dir, job.DefaultStderrLog))
	require.NoError(t, err)
	assert.Equal(t, "bad\n", string(stderr))

	v, _, err := control.NewDictFile(filepath.Join(dir, job.DefaultControlFile)).Read("endTime")
	require.NoError(t, err)
	assert.Equal(t, "5", v)
}

func TestRunner_RunSettingsReachCaseAndGenerator(t *testing.T) {
	skipOnWindows(t)

	dir := newCase(t)
	// Left behind by an earlier run that was canceled.
	require.NoError(t, os.WriteFile(filepath.Join(dir, job.DefaultControlFile),
		[]byte("application icoFoam;\nstopAt noWriteNow;\nendTime 1;\nwriteInterval 1;\n"), 0o644))

	spec := job.Spec{
		CaseDir:        dir,
		Cores:          1,
		EndTime:        500,
		WriteInterval:  25,
		ReportInterval: 5,
		Numerics:       map[string]string{"deltaT": "0.001", "PISO.nCorrectors": "2"},
		Parameters:     map[string]float64{"inletVelocity": 2.5},
		Generator:      shell(`env | grep '^CASERUN_' | sort > gen.env; echo "$1 $2" > gen.args`),
		Solver:         shell("cp system/controlDict solved.controlDict"),
	}
	spec.Generator.Args = append(spec.Generator.Args, "gen", "${endTime}", "${inletVelocity}")

	out := New(spec, dispatch.LaunchPlan{Processes: 1, WorkDir: dir}, Options{}).Run(context.Background())
	require.Equal(t, job.StatusCompleted, out.Status, out.Err)

	env, err := os.ReadFile(filepath.Join(dir, "gen.env"))
	require.NoError(t, err)
	assert.Contains(t, string(env), "CASERUN_CASE_DIR="+dir+"\n")
	assert.Contains(t, string(env), "CASERUN_END_TIME=500\n")
	assert.Contains(t, string(env), "CASERUN_WRITE_INTERVAL=25\n")
	assert.Contains(t, string(env), "CASERUN_REPORT_INTERVAL=5\n")
	assert.Contains(t, string(env), "CASERUN_PARAM_inletVelocity=2.5\n")
	assert.Contains(t, string(env), "CASERUN_NUMERIC_deltaT=0.001\n")

	args, err := os.ReadFile(filepath.Join(dir, "gen.args"))
	require.NoError(t, err)
	assert.Equal(t, "500 2.5\n", string(args))

	// What the solver saw.
	dict := control.NewDictFile(filepath.Join(dir, "solved.controlDict"))

	for key, want := range map[string]string{
		"stopAt":        "endTime",
		"endTime":       "500",
		"writeInterval": "25",
		"deltaT":        "0.001",
		"application":   "icoFoam",
	} {
		v, _, err := dict.Read(key)
		require.NoError(t, err, key)
		assert.Equal(t, want, v, key)
	}

	_, found, err := dict.Read("PISO.nCorrectors")
	require.NoError(t, err)
	assert.False(t, found, "nested numerics are left to the generator")

	params, err := os.ReadFile(filepath.Join(dir, job.DefaultParamsFile))
	require.NoError(t, err)
	assert.Contains(t, string(params), "object      caseParameters;")
	assert.Regexp(t, `(?m)^inletVelocity\s+2\.5;$`, string(params))
}

func TestRunner_AppliedEntriesOverrideRunSettings(t *testing.T) {
	skipOnWindows(t)

	dir := newCase(t)
	spec := job.Spec{
		CaseDir: dir,
		Cores:   1,
		EndTime: 500,
		Solver:  shell("true"),
	}

	r := New(spec, dispatch.LaunchPlan{Processes: 1, WorkDir: dir}, Options{})
	require.NoError(t, r.Apply(context.Background(), job.NewPatch(job.KeyEndTime, "40")))
	require.Equal(t, job.StatusCompleted, r.Run(context.Background()).Status)

	v, _, err := control.NewDictFile(filepath.Join(dir, job.DefaultControlFile)).Read(job.KeyEndTime)
	require.NoError(t, err)
	assert.Equal(t, "40", v)
}

func TestRunner_ApplyRejectsInvalidPatch(t *testing.T) {
	dir := newCase(t)
	r := New(job.Spec{CaseDir: dir, Cores: 1, Solver: shell("true")}, dispatch.LaunchPlan{Processes: 1}, Options{})

	err := r.Apply(context.Background(), job.NewPatch(job.KeyEndTime, "2; stopAt noWriteNow"))
	require.ErrorIs(t, err, job.ErrInvalidPatch)

	b, err := os.ReadFile(filepath.Join(dir, job.DefaultControlFile))
	require.NoError(t, err)
	assert.Equal(t, "application icoFoam;\nstopAt endTime;\nendTime 1;\n", string(b))
}

func TestRunner_SubscribeAfterRunIsClosed(t *testing.T) {
	dir := newCase(t)
	r := New(job.Spec{CaseDir: dir, Cores: 1, Solver: shell("true")}, dispatch.LaunchPlan{Processes: 1}, Options{})
	_ = r.Run(context.Background())

	lines, cancel := r.Subscribe(1)
	defer cancel()

	_, ok := <-lines
	assert.False(t, ok)
	assert.ErrorIs(t, r.Interrupt(), ErrNoActiveProcess)
}

func TestRunner_Command(t *testing.T) {
	spec := job.Spec{
		CaseDir:   "/cases/cavity",
		Cores:     4,
		Solver:    job.CommandSpec{Path: "simpleFoam"},
		Generator: job.CommandSpec{Path: "blockMesh", Args: []string{"-overwrite"}},
	}
	plan := dispatch.LaunchPlan{Processes: 4, Parallel: true, WorkDir: spec.CaseDir}

	r := New(spec, plan, Options{Control: control.Discard{}})

	assert.Equal(t, []string{"blockMesh", "-overwrite"}, r.Command(job.StepGenerate))

	spec.Generator.Args = []string{"-dict", "${caseDir}/system/blockMeshDict"}
	assert.Equal(t, []string{"blockMesh", "-dict", "/cases/cavity/system/blockMeshDict"},
		New(spec, plan, Options{Control: control.Discard{}}).Command(job.StepGenerate))
	assert.Equal(t, []string{"decomposePar", "-force", "-case", "/cases/cavity"}, r.Command(job.StepDecompose))
	assert.Equal(t, []string{"mpirun", "-np", "4", "simpleFoam", "-parallel"}, r.Command(job.StepSolve))
	assert.Equal(t, []string{"reconstructPar", "-latestTime", "-case", "/cases/cavity"}, r.Command(job.StepReconstruct))
	assert.Nil(t, r.Command(job.StepNone))

	withFunc := New(spec, plan, Options{
		Control:   control.Discard{},
		Generator: GeneratorFunc(func(context.Context, job.Spec) error { return nil }),
	})
	assert.Nil(t, withFunc.Command(job.StepGenerate))
}
