// Copyright 2026 The vulkansift-go Authors
// SPDX-License-Identifier: MIT

package detector

import (
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/maelaubert/vulkansift-go/internal/memory"
)

// writeImageBinding writes a single-element image descriptor. sampled
// selects COMBINED_IMAGE_SAMPLER (read-only, linear-filterable source of a
// blur/orientation/descriptor pass) vs STORAGE_IMAGE (general-purpose
// read/write target); both use vk.ImageLayoutGeneral since every pyramid
// image in this module stays in GENERAL layout after its one-time initial
// transition.
func writeImageBinding(device vk.Device, set vk.DescriptorSet, binding uint32, view vk.ImageView, sampled bool) {
	info := vk.DescriptorImageInfo{ImageView: view, ImageLayout: vk.ImageLayoutGeneral}
	descType := vk.DescriptorTypeStorageImage
	if sampled {
		descType = vk.DescriptorTypeCombinedImageSampler
	}
	write := vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          set,
		DstBinding:      binding,
		DescriptorCount: 1,
		DescriptorType:  descType,
		PImageInfo:      []vk.DescriptorImageInfo{info},
	}
	vk.UpdateDescriptorSets(device, 1, []vk.WriteDescriptorSet{write}, 0, nil)
}

// writeImageArrayBinding writes every element of a single array-of-images
// binding (the extract kernel's per-scale DoG view), used instead of one
// binding per scale since the array length depends on the runtime-
// configured scales-per-octave.
func writeImageArrayBinding(device vk.Device, set vk.DescriptorSet, binding uint32, images []*memory.Image2D) {
	infos := make([]vk.DescriptorImageInfo, len(images))
	for i, img := range images {
		infos[i] = vk.DescriptorImageInfo{ImageView: img.View, ImageLayout: vk.ImageLayoutGeneral}
	}
	write := vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          set,
		DstBinding:      binding,
		DescriptorCount: uint32(len(infos)),
		DescriptorType:  vk.DescriptorTypeStorageImage,
		PImageInfo:      infos,
	}
	vk.UpdateDescriptorSets(device, 1, []vk.WriteDescriptorSet{write}, 0, nil)
}

// writeBufferBinding writes a single whole-buffer storage-buffer
// descriptor.
func writeBufferBinding(device vk.Device, set vk.DescriptorSet, binding uint32, buf vk.Buffer) {
	info := vk.DescriptorBufferInfo{Buffer: buf, Offset: 0, Range: vk.WholeSize}
	write := vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          set,
		DstBinding:      binding,
		DescriptorCount: 1,
		DescriptorType:  vk.DescriptorTypeStorageBuffer,
		PBufferInfo:     []vk.DescriptorBufferInfo{info},
	}
	vk.UpdateDescriptorSets(device, 1, []vk.WriteDescriptorSet{write}, 0, nil)
}

// WriteBufferBindingExported is writeBufferBinding exposed to
// internal/matcher, which builds its descriptor set the same way the
// detector's kernels do but has no in-package access to the unexported
// helper.
func WriteBufferBindingExported(device vk.Device, set vk.DescriptorSet, binding uint32, buf vk.Buffer) {
	writeBufferBinding(device, set, binding, buf)
}

// pushPtr reinterprets a push-constant byte block as the raw pointer
// vkCmdPushConstants expects.
func pushPtr(b []byte) unsafe.Pointer {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Pointer(&b[0])
}
