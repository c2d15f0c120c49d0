// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

//go:build !linux

package server

import (
	"errors"
	"net"
)

// peerPID is unavailable off linux; the open check falls back to the
// caller's claimed identity.
func peerPID(_ net.Conn) (uint32, error) {
	return 0, errors.New("peer credentials not supported on this platform")
}
