// Copyright 2026 The vulkansift-go Authors
// SPDX-License-Identifier: MIT

package memory

import "unsafe"

// unsafePointer wraps the raw pointer vkMapMemory hands back so the rest of
// the package only ever deals in byte slices.
type unsafePointer struct {
	raw unsafe.Pointer
}

// Bytes returns a []byte view over n bytes starting at the mapping.
func (m *HostMapping) Bytes(offset, n int) []byte {
	base := unsafe.Add(m.ptr.raw, offset)
	return unsafe.Slice((*byte)(base), n)
}
