// Copyright 2026 The vulkansift-go Authors
// SPDX-License-Identifier: MIT

package memory

import (
	"fmt"

	vk "github.com/goki/vulkan"
)

// GrowRegion owns one VkDeviceMemory allocation. Reserve keeps the
// allocation when it is already large enough and of the same memory type,
// and reallocates otherwise. Every Buffer and Image2D in this package
// creates its own region and frees it in Destroy, so a region never
// outlives the object it was made for: when the pyramid images are
// recreated for a new resolution, each new image gets a fresh allocation
// and the old blocks are not reused. This trades a general-purpose buddy
// suballocator (github.com/gogpu/wgpu/hal/vulkan/memory/buddy.go) for a
// simpler dedicated-allocation policy: no region is shared between
// objects, so there is no fragmentation to manage.
type GrowRegion struct {
	device    vk.Device
	selector  *TypeSelector
	usage     UsageFlags
	memory    vk.DeviceMemory
	size      vk.DeviceSize
	typeIndex uint32
}

func NewGrowRegion(device vk.Device, selector *TypeSelector, usage UsageFlags) *GrowRegion {
	return &GrowRegion{device: device, selector: selector, usage: usage}
}

// Reserve ensures the region is at least req bytes, compatible with
// typeBits. It reallocates only when the existing region is smaller or
// incompatible with the new memory-type mask.
func (r *GrowRegion) Reserve(req vk.DeviceSize, typeBits uint32) error {
	typeIndex, ok := r.selector.Select(typeBits, r.usage)
	if !ok {
		return fmt.Errorf("no compatible memory type for mask %#x", typeBits)
	}
	if r.memory != nil && r.size >= req && r.typeIndex == typeIndex {
		return nil
	}
	r.free()

	allocInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  req,
		MemoryTypeIndex: typeIndex,
	}
	var mem vk.DeviceMemory
	if res := vk.AllocateMemory(r.device, &allocInfo, nil, &mem); res != vk.Success {
		return fmt.Errorf("vkAllocateMemory(%d bytes) failed: %d", req, res)
	}
	r.memory = mem
	r.size = req
	r.typeIndex = typeIndex
	return nil
}

// BindBuffer binds buf to this region at offset 0. Caller must have called
// Reserve with a size/typeBits compatible with buf's requirements.
func (r *GrowRegion) BindBuffer(buf vk.Buffer) error {
	if res := vk.BindBufferMemory(r.device, buf, r.memory, 0); res != vk.Success {
		return fmt.Errorf("vkBindBufferMemory failed: %d", res)
	}
	return nil
}

// BindImage binds img to this region at offset 0.
func (r *GrowRegion) BindImage(img vk.Image) error {
	if res := vk.BindImageMemory(r.device, img, r.memory, 0); res != vk.Success {
		return fmt.Errorf("vkBindImageMemory failed: %d", res)
	}
	return nil
}

func (r *GrowRegion) free() {
	if r.memory != nil {
		vk.FreeMemory(r.device, r.memory, nil)
		r.memory = nil
		r.size = 0
	}
}

// Destroy releases the underlying VkDeviceMemory. Idempotent.
func (r *GrowRegion) Destroy() { r.free() }

// HostMapping is a persistent mapping of a host-visible buffer's memory.
type HostMapping struct {
	device   vk.Device
	memory   vk.DeviceMemory
	size     vk.DeviceSize
	ptr      unsafePointer
	coherent bool
}

func mapHost(device vk.Device, mem vk.DeviceMemory, size vk.DeviceSize, coherent bool) (*HostMapping, error) {
	var p unsafePointer
	if res := vk.MapMemory(device, mem, 0, size, 0, &p.raw); res != vk.Success {
		return nil, fmt.Errorf("vkMapMemory failed: %d", res)
	}
	return &HostMapping{device: device, memory: mem, size: size, ptr: p, coherent: coherent}, nil
}

// Flush makes host writes to [offset, offset+size) visible to the device.
// A no-op for mappings created with coherent set (buffers created for
// UsageUpload).
func (m *HostMapping) Flush(offset, size vk.DeviceSize) {
	if m == nil || m.coherent {
		return
	}
	rng := vk.MappedMemoryRange{
		SType:  vk.StructureTypeMappedMemoryRange,
		Memory: m.memory,
		Offset: offset,
		Size:   size,
	}
	vk.FlushMappedMemoryRanges(m.device, 1, &rng)
}

// Invalidate makes device writes to [offset, offset+size) visible to the
// host. A no-op for mappings created with coherent set (buffers created
// for UsageUpload).
func (m *HostMapping) Invalidate(offset, size vk.DeviceSize) {
	if m == nil || m.coherent {
		return
	}
	rng := vk.MappedMemoryRange{
		SType:  vk.StructureTypeMappedMemoryRange,
		Memory: m.memory,
		Offset: offset,
		Size:   size,
	}
	vk.InvalidateMappedMemoryRanges(m.device, 1, &rng)
}

func (m *HostMapping) unmap() {
	if m == nil {
		return
	}
	vk.UnmapMemory(m.device, m.memory)
}
