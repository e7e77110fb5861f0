// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package monitor extracts residuals and function object values (probes,
// surface and volume reports, forces) from solver log output.
//
// A Parser understands the OpenFOAM log layout:
//
//	Time = 0.005
//	DILUPBiCGStab:  Solving for Ux, Initial residual = 1, Final residual = 2e-06, No Iterations 3
//	surfaceFieldValue outlet write:
//	    areaAverage(outlet) of p = 0.0123
//
// The Aggregator runs parsers over attached line sources and delivers samples
// to observers through bounded queues.
package monitor
