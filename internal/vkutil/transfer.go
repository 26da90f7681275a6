// Copyright 2026 The vulkansift-go Authors
// SPDX-License-Identifier: MIT

// Package vkutil holds small Vulkan helpers shared by internal/memory,
// internal/detector and internal/matcher: one-shot command buffer
// submission, pipeline barrier builders and fence waits. Grounded on
// github.com/gogpu/wgpu/hal/vulkan's CommandEncoder/fence_pool pattern,
// adapted from that package's per-backend struct layout to plain functions
// since this module only ever targets one backend.
package vkutil

import (
	"fmt"

	vk "github.com/goki/vulkan"
)

// OneShot allocates a primary command buffer from pool, runs record against
// it between vkBeginCommandBuffer/vkEndCommandBuffer, submits it to queue
// and blocks on a fence until the GPU finishes. internal/memory uses it for
// its transfers and buffer updates; the detector and matcher record their
// dispatches into persistent command buffers of their own instead.
func OneShot(device vk.Device, pool vk.CommandPool, queue vk.Queue, record func(cmd vk.CommandBuffer)) error {
	allocInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	cmds := make([]vk.CommandBuffer, 1)
	if res := vk.AllocateCommandBuffers(device, &allocInfo, cmds); res != vk.Success {
		return fmt.Errorf("vkAllocateCommandBuffers failed: %d", res)
	}
	cmd := cmds[0]
	defer vk.FreeCommandBuffers(device, pool, 1, cmds)

	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if res := vk.BeginCommandBuffer(cmd, &beginInfo); res != vk.Success {
		return fmt.Errorf("vkBeginCommandBuffer failed: %d", res)
	}

	record(cmd)

	if res := vk.EndCommandBuffer(cmd); res != vk.Success {
		return fmt.Errorf("vkEndCommandBuffer failed: %d", res)
	}

	fenceInfo := vk.FenceCreateInfo{SType: vk.StructureTypeFenceCreateInfo}
	var fence vk.Fence
	if res := vk.CreateFence(device, &fenceInfo, nil, &fence); res != vk.Success {
		return fmt.Errorf("vkCreateFence failed: %d", res)
	}
	defer vk.DestroyFence(device, fence, nil)

	submit := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    cmds,
	}
	if res := vk.QueueSubmit(queue, 1, []vk.SubmitInfo{submit}, fence); res != vk.Success {
		return fmt.Errorf("vkQueueSubmit failed: %d", res)
	}

	if res := vk.WaitForFences(device, 1, []vk.Fence{fence}, vk.True, ^uint64(0)); res != vk.Success {
		return fmt.Errorf("vkWaitForFences failed: %d", res)
	}
	return nil
}

// BufferBarrier builds a VkBufferMemoryBarrier covering the whole buffer.
func BufferBarrier(buf vk.Buffer, srcAccess, dstAccess vk.AccessFlagBits, srcFamily, dstFamily uint32) vk.BufferMemoryBarrier {
	if srcFamily == 0 && dstFamily == 0 {
		srcFamily = vk.QueueFamilyIgnored
		dstFamily = vk.QueueFamilyIgnored
	}
	return vk.BufferMemoryBarrier{
		SType:               vk.StructureTypeBufferMemoryBarrier,
		SrcAccessMask:       vk.AccessFlags(srcAccess),
		DstAccessMask:       vk.AccessFlags(dstAccess),
		SrcQueueFamilyIndex: srcFamily,
		DstQueueFamilyIndex: dstFamily,
		Buffer:              buf,
		Size:                vk.WholeSize,
	}
}

// ImageBarrier builds a VkImageMemoryBarrier covering the whole image
// (single mip, single layer, color aspect only; every image this module
// creates fits that shape).
func ImageBarrier(img vk.Image, oldLayout, newLayout vk.ImageLayout, srcAccess, dstAccess vk.AccessFlagBits) vk.ImageMemoryBarrier {
	return vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		SrcAccessMask:       vk.AccessFlags(srcAccess),
		DstAccessMask:       vk.AccessFlags(dstAccess),
		OldLayout:           oldLayout,
		NewLayout:           newLayout,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               img,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LevelCount: 1,
			LayerCount: 1,
		},
	}
}
