// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package edfplus

import "errors"

// Error kinds returned by the codec. All errors are wrapped with context and
// can be matched with errors.Is. I/O errors from the underlying file are
// propagated as-is; the codec never retries and never rolls back records that
// were already appended.
var (
	// ErrFormat indicates malformed or unsupported header or record content.
	// A file that fails with ErrFormat is unusable.
	ErrFormat = errors.New("edfplus: invalid file format")

	// ErrRange indicates a signal index or sample range outside the bounds
	// of the file, or an argument outside its documented domain.
	ErrRange = errors.New("edfplus: request out of range")

	// ErrState indicates an operation that is not legal in the current
	// writer or reader lifecycle state.
	ErrState = errors.New("edfplus: operation invalid in current state")

	// ErrCapacity indicates that the annotations due in one data record do
	// not fit the annotation channel capacity allocated at creation time.
	ErrCapacity = errors.New("edfplus: annotations exceed record capacity")
)
