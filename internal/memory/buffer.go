// Copyright 2026 The vulkansift-go Authors
// SPDX-License-Identifier: MIT

package memory

import (
	"fmt"

	vk "github.com/goki/vulkan"
)

// Buffer pairs a VkBuffer with the GrowRegion backing it and, for
// host-visible buffers, a persistent mapping. Every buffer in this package
// is sized once at instance creation and never regrows; Buffer and Image2D
// share the region type to keep memory-type selection and bind logic in
// one place.
type Buffer struct {
	Handle vk.Buffer
	Size   vk.DeviceSize
	region *GrowRegion
	mapped *HostMapping
}

// CreateBuffer creates and binds a VkBuffer of the given size and usage.
func CreateBuffer(device vk.Device, selector *TypeSelector, size vk.DeviceSize, vkUsage vk.BufferUsageFlagBits, usage UsageFlags) (*Buffer, error) {
	info := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        size,
		Usage:       vk.BufferUsageFlags(vkUsage),
		SharingMode: vk.SharingModeExclusive,
	}
	var handle vk.Buffer
	if res := vk.CreateBuffer(device, &info, nil, &handle); res != vk.Success {
		return nil, fmt.Errorf("vkCreateBuffer failed: %d", res)
	}

	var req vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(device, handle, &req)
	req.Deref()

	region := NewGrowRegion(device, selector, usage)
	if err := region.Reserve(req.Size, req.MemoryTypeBits); err != nil {
		vk.DestroyBuffer(device, handle, nil)
		return nil, err
	}
	if err := region.BindBuffer(handle); err != nil {
		region.Destroy()
		vk.DestroyBuffer(device, handle, nil)
		return nil, err
	}

	b := &Buffer{Handle: handle, Size: size, region: region}

	if usage == UsageUpload || usage == UsageDownload {
		coherent := usage == UsageUpload
		m, err := mapHost(device, region.memory, req.Size, coherent)
		if err != nil {
			b.Destroy(device)
			return nil, err
		}
		b.mapped = m
	}

	return b, nil
}

// Map returns the persistent host mapping, or nil for device-local buffers.
func (b *Buffer) Map() *HostMapping { return b.mapped }

// Destroy releases the VkBuffer and its backing memory. Idempotent.
func (b *Buffer) Destroy(device vk.Device) {
	if b == nil {
		return
	}
	if b.mapped != nil {
		b.mapped.unmap()
		b.mapped = nil
	}
	if b.Handle != nil {
		vk.DestroyBuffer(device, b.Handle, nil)
		b.Handle = nil
	}
	if b.region != nil {
		b.region.Destroy()
		b.region = nil
	}
}
