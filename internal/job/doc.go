// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package job holds the data model shared by the run orchestration packages:
// the immutable JobSpec, the lifecycle Status, the JobState snapshot published
// by the supervisor, the ordered pipeline Step enum and the terminal Outcome.
package job
