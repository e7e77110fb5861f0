// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package control delivers updates to a running solver by editing the run
// control dictionary the solver re-reads while it runs.
package control
