// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package dispatch

import "github.com/spf13/afero"

// FsFactory returns the filesystem host files are read from.
var FsFactory = func() afero.Fs {
	return afero.NewOsFs()
}
