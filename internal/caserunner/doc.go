// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package caserunner executes the pipeline of one case:
// generate, decompose (parallel runs only), solve and reconstruct (parallel
// runs only). Steps run strictly in order with at most one process alive at a
// time; the first failing step aborts the rest.
//
// Every output line of every step is fanned out to subscribers through
// bounded queues so a slow reader never stalls the solver.
package caserunner
