// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package ctxlog carries a *slog.Logger inside a context.Context.
//
// Every long running operation in caserun takes a context, and the logger
// travels with it. Job and step scoped attributes are attached with WithJob and
// WithStep so that log lines from concurrently running jobs can be told apart.
//
// The default handler is a pretty console handler. The level is read from the
// CASERUN_LOG_LEVEL environment variable and defaults to WARN.
package ctxlog
