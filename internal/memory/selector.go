// Copyright 2026 The vulkansift-go Authors
// SPDX-License-Identifier: MIT

package memory

import vk "github.com/goki/vulkan"

// UsageFlags describes how an allocation will be accessed, steering memory
// type selection. Adapted from github.com/gogpu/wgpu/hal/vulkan/memory's
// allocator of the same name; trimmed to the usages this module needs.
type UsageFlags uint32

const (
	// UsageDeviceLocal prefers DEVICE_LOCAL memory (GPU-only resources:
	// pyramid images, SIFT buffers, match output buffer).
	UsageDeviceLocal UsageFlags = 1 << iota
	// UsageUpload prefers HOST_VISIBLE+HOST_COHERENT memory for CPU->GPU
	// staging. No buffer in this package is created with it.
	UsageUpload
	// UsageDownload prefers HOST_VISIBLE+HOST_CACHED memory. Every staging
	// buffer uses it, in both directions: image staging (input upload and
	// pyramid readback), feature staging (upload and download), and the
	// count and match readback buffers.
	UsageDownload
)

// TypeSelector picks a Vulkan memory type index for a given usage and
// memoryTypeBits mask (from VkMemoryRequirements).
type TypeSelector struct {
	props vk.PhysicalDeviceMemoryProperties
}

func NewTypeSelector(props vk.PhysicalDeviceMemoryProperties) *TypeSelector {
	return &TypeSelector{props: props}
}

func (s *TypeSelector) Select(typeBits uint32, usage UsageFlags) (uint32, bool) {
	required, preferred := usageToFlags(usage)
	if idx, ok := s.find(typeBits, required|preferred); ok {
		return idx, true
	}
	return s.find(typeBits, required)
}

func (s *TypeSelector) find(typeBits uint32, flags vk.MemoryPropertyFlags) (uint32, bool) {
	for i := uint32(0); i < s.props.MemoryTypeCount; i++ {
		if typeBits&(1<<i) == 0 {
			continue
		}
		mt := s.props.MemoryTypes[i]
		mt.Deref()
		if vk.MemoryPropertyFlags(mt.PropertyFlags)&flags == flags {
			return i, true
		}
	}
	return 0, false
}

func usageToFlags(usage UsageFlags) (required, preferred vk.MemoryPropertyFlags) {
	switch {
	case usage&UsageDeviceLocal != 0:
		required = vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)
	case usage&UsageUpload != 0:
		required = vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit)
		preferred = vk.MemoryPropertyFlags(vk.MemoryPropertyHostCoherentBit)
	case usage&UsageDownload != 0:
		required = vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit)
		preferred = vk.MemoryPropertyFlags(vk.MemoryPropertyHostCachedBit | vk.MemoryPropertyHostCoherentBit)
	}
	return
}
