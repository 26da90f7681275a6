// Copyright 2026 The vulkansift-go Authors
// SPDX-License-Identifier: MIT

package detector

import "unsafe"

// sliceToU32Ptr reinterprets a SPIR-V byte blob as the uint32 pointer
// vk.ShaderModuleCreateInfo.PCode expects. SPIR-V binaries are defined to
// be a stream of little-endian uint32 words, so code's length must be a
// multiple of 4; shaderset.Load guarantees that.
func sliceToU32Ptr(code []byte) *uint32 {
	if len(code) == 0 {
		return nil
	}
	return (*uint32)(unsafe.Pointer(&code[0]))
}

func ptrOf(b *byte) unsafe.Pointer { return unsafe.Pointer(b) }
