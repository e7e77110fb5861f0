// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package progress carries job lifecycle and monitor events from the
// supervisor to observers. Reporters never block the sender: lifecycle events
// and samples are queued separately and samples are dropped oldest first when
// an observer falls behind.
package progress
