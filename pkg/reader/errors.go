// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package reader

import "errors"

var (
	// ErrAccessDenied means the handle was opened from a different
	// execution context than the requester.
	ErrAccessDenied = errors.New("access denied")

	// ErrInvalidParameter means a required context or buffer is missing.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrInvalidRequest means an unknown control code or an unsupported
	// calling-convention variant.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrBufferTooSmall means a declared buffer is shorter than the
	// table-required length.
	ErrBufferTooSmall = errors.New("buffer too small")

	// ErrInsufficientResources means the context pool is exhausted.
	ErrInsufficientResources = errors.New("insufficient resources")

	// ErrNoSuchPath means a path suffix was supplied on open; the read
	// interface is a control object, not addressable.
	ErrNoSuchPath = errors.New("no such path")
)
