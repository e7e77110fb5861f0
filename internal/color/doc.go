// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package color wraps strings in ANSI SGR escape codes for terminal output.
// Output is coloured when stdout is a terminal, unless NO_COLOR is set.
// FORCE_COLOR enables colour for non-terminal output (CI logs, pipes).
package color
