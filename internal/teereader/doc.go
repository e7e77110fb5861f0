// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package teereader provides a reader that copies everything it reads to a
// sink (typically a log file in the case directory) while remembering the
// last complete line, which is used in failure messages.
package teereader
