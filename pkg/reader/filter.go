// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package reader

import (
	"encoding/binary"

	"go.uber.org/zap"

	"github.com/mbeema/capq/pkg/queue"
)

// idList is a length-prefixed exclude list: the first element is the id
// count, followed by that many ids. A nil list is passthrough.
type idList []uint32

// contains reports whether id appears in the list.
func (l idList) contains(id uint32) bool {
	for i := uint32(1); i <= l[0]; i++ {
		if l[i] == id {
			return true
		}
	}
	return false
}

// idListKind selects which filter a control operation replaces.
type idListKind int

const (
	processIDList idListKind = iota
	connectionIDList
)

func (k idListKind) String() string {
	if k == connectionIDList {
		return "connection"
	}
	return "process"
}

// setIDList atomically replaces one of the reader's exclude lists with the
// ids decoded from input. The new list is fully built before the swap, and
// the old list is dropped only afterwards. An empty input clears the list.
func (r *Reader) setIDList(kind idListKind, input []byte) {
	target := &r.procFilter
	if kind == connectionIDList {
		target = &r.connFilter
	}

	numIDs := uint32(len(input) / 4)
	r.log.Debug("replacing id filter",
		zap.Stringer("kind", kind),
		zap.Uint32("ids", numIDs),
		zap.Uint32("reader", uint32(r.id)))

	var ids *idList
	if numIDs > 0 {
		list := make(idList, numIDs+1)
		list[0] = numIDs
		for i := uint32(0); i < numIDs; i++ {
			list[i+1] = binary.LittleEndian.Uint32(input[i*4:])
		}
		ids = &list
	}

	// Swap returns the previous list; letting it go out of scope here is
	// the release.
	target.Swap(ids)
}

// filterBlock applies the exclude lists to a dequeued packet block. Each
// list reference is read exactly once, so a concurrent replacement only
// affects blocks dequeued after the swap.
func (r *Reader) filterBlock(b *queue.Block) bool {
	if list := r.procFilter.Load(); list != nil && list.contains(b.ProcessID) {
		return true
	}
	if list := r.connFilter.Load(); list != nil && list.contains(b.ConnectionID) {
		return true
	}
	return false
}
