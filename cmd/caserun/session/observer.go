// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package session

import (
	"context"

	"github.com/matt-FFFFFF/caserun/internal/ctxlog"
	"github.com/matt-FFFFFF/caserun/internal/job"
	"github.com/matt-FFFFFF/caserun/internal/monitor"
	"github.com/matt-FFFFFF/caserun/internal/progress"
)

// LogObserver returns an observer that logs job progress to the logger in
// ctx. Status changes and outcomes are logged at info level, residuals at
// debug level. Other samples are not logged.
func LogObserver(ctx context.Context) progress.Observer {
	return progress.ObserverFuncs{
		StatusChanged: func(id job.ID, st job.State) {
			lctx := ctxlog.WithJob(ctx, id.Short(), st.Name)

			if st.Status == job.StatusRunning {
				ctxlog.Info(lctx, "job status", "status", st.Status.String(), "step", st.Step.String())
				return
			}

			ctxlog.Info(lctx, "job status", "status", st.Status.String())
		},
		Sample: func(id job.ID, s monitor.Sample) {
			r, ok := s.Source.(monitor.Residual)
			if !ok {
				return
			}

			attrs := []any{"solver", r.Solver, "field", s.Field, "value", s.Value.String(),
				"time", s.SolverTime, "iteration", s.Iteration}
			if r.Region != "" {
				attrs = append(attrs, "region", r.Region)
			}

			ctxlog.Debug(ctxlog.WithJob(ctx, id.Short(), ""), "residual", attrs...)
		},
		Completed: func(id job.ID, o job.Outcome) {
			lctx := ctxlog.WithJob(ctx, id.Short(), "")

			switch o.Status {
			case job.StatusFailed:
				ctxlog.Error(lctx, "job failed", "step", o.FailedStep.String(), "exit_code", o.ExitCode, "error", o.Err)
			default:
				ctxlog.Info(lctx, "job finished", "status", o.Status.String(), "duration", o.Duration().String())
			}
		},
	}
}
