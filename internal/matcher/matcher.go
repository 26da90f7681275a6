// Copyright 2026 The vulkansift-go Authors
// SPDX-License-Identifier: MIT

// Package matcher runs a single brute-force 2-NN compute stage reading two
// resident SIFT buffers and writing match records, plus the optional
// async-transfer-queue ownership handoff that lets the general queue and
// the memory layer's transfer queue hand the buffers back and forth safely.
//
// Grounded on vulkansift's sift_matcher.c (single-kernel dispatch,
// queue-family ownership-transfer barrier pairing) re-expressed with
// github.com/goki/vulkan in the style of internal/detector.
package matcher

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/maelaubert/vulkansift-go/internal/detector"
	"github.com/maelaubert/vulkansift-go/internal/memory"
	"github.com/maelaubert/vulkansift-go/internal/vkutil"
)

// Matcher records and dispatches the brute-force 2-NN kernel. It holds
// borrowed references to the device and memory layers and owns
// only its own pipeline, descriptor pool, command buffers, semaphore and
// fence.
type Matcher struct {
	device vk.Device
	mem    *memory.Memory

	stage *detector.Stage
	pool  *detector.DescriptorPool

	mainCmd     vk.CommandBuffer
	releaseCmd  vk.CommandBuffer
	acquireCmd  vk.CommandBuffer

	endOfMatchingSemaphore vk.Semaphore
	endOfMatchingFence     vk.Fence
}

// New creates the matcher kernel's pipeline (reads SIFT buffer A at
// binding 0, SIFT buffer B at binding 1, writes matches at binding 2; no
// push constants since the kernel only ever needs the buffers' own
// headers) and the synchronization primitives Match requires.
func New(mem *memory.Memory) (*Matcher, error) {
	device := mem.Device()
	m := &Matcher{device: device, mem: mem}

	var err error
	if m.stage, err = detector.LoadStage(device, "match",
		[]detector.BindingSpec{
			detector.Binding(detector.BindStorageBuffer),
			detector.Binding(detector.BindStorageBuffer),
			detector.Binding(detector.BindStorageBuffer),
		}, 0); err != nil {
		m.Destroy()
		return nil, err
	}

	if m.pool, err = detector.NewDescriptorPool(device, 4); err != nil {
		m.Destroy()
		return nil, err
	}

	allocInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        mem.GeneralPool(),
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	cmds := make([]vk.CommandBuffer, 1)
	if res := vk.AllocateCommandBuffers(device, &allocInfo, cmds); res != vk.Success {
		m.Destroy()
		return nil, fmt.Errorf("vkAllocateCommandBuffers(main) failed: %d", res)
	}
	m.mainCmd = cmds[0]

	if mem.HasAsyncTransfer() {
		tAllocInfo := allocInfo
		tAllocInfo.CommandPool = mem.TransferPool()
		tAllocInfo.CommandBufferCount = 2
		tcmds := make([]vk.CommandBuffer, 2)
		if res := vk.AllocateCommandBuffers(device, &tAllocInfo, tcmds); res != vk.Success {
			m.Destroy()
			return nil, fmt.Errorf("vkAllocateCommandBuffers(transfer) failed: %d", res)
		}
		m.releaseCmd, m.acquireCmd = tcmds[0], tcmds[1]
	}

	semInfo := vk.SemaphoreCreateInfo{SType: vk.StructureTypeSemaphoreCreateInfo}
	if res := vk.CreateSemaphore(device, &semInfo, nil, &m.endOfMatchingSemaphore); res != vk.Success {
		m.Destroy()
		return nil, fmt.Errorf("vkCreateSemaphore failed: %d", res)
	}
	fenceInfo := vk.FenceCreateInfo{SType: vk.StructureTypeFenceCreateInfo, Flags: vk.FenceCreateFlags(vk.FenceCreateSignaledBit)}
	if res := vk.CreateFence(device, &fenceInfo, nil, &m.endOfMatchingFence); res != vk.Success {
		m.Destroy()
		return nil, fmt.Errorf("vkCreateFence failed: %d", res)
	}

	return m, nil
}

// EndOfMatchingFence is the fence the top-level API waits on.
func (m *Matcher) EndOfMatchingFence() vk.Fence { return m.endOfMatchingFence }

// Match runs the brute-force 2-NN kernel end to end: it ensures A is packed
// (delegated to the memory layer by the caller, see Instance.Match), writes
// the matcher's indirect dispatch entry, optionally runs the
// async-transfer ownership release/acquire dance, and records+submits the
// main command buffer. Both A and B are packed by the caller's
// PrepareForMatching call: the matcher kernel is documented as requiring B
// in packed form too, even though the host-side contract only promises it
// for A, so this implementation packs both to avoid relying on the
// kernel's undocumented per-octave fallback.
func (m *Matcher) Match(bufferA, bufferB uint32) error {
	countA := m.mem.PackedFeatureCount(bufferA)
	if err := m.mem.WriteMatcherIndirect(countA); err != nil {
		return fmt.Errorf("write matcher indirect dispatch: %w", err)
	}

	if m.mem.HasAsyncTransfer() {
		if err := m.releaseOwnership(bufferA, bufferB); err != nil {
			return fmt.Errorf("release ownership: %w", err)
		}
	}

	if err := m.recordAndSubmitMain(bufferA, bufferB); err != nil {
		return err
	}

	if m.mem.HasAsyncTransfer() {
		if err := m.acquireOwnership(bufferA, bufferB); err != nil {
			return fmt.Errorf("acquire ownership: %w", err)
		}
	}
	return nil
}

func (m *Matcher) releaseOwnership(bufferA, bufferB uint32) error {
	beginInfo := vk.CommandBufferBeginInfo{SType: vk.StructureTypeCommandBufferBeginInfo, Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)}
	if res := vk.BeginCommandBuffer(m.releaseCmd, &beginInfo); res != vk.Success {
		return fmt.Errorf("vkBeginCommandBuffer failed: %d", res)
	}
	barriers := []vk.BufferMemoryBarrier{
		vkutil.BufferBarrier(m.mem.SiftBufferHandle(bufferA), vk.AccessShaderWriteBit, 0, m.mem.TransferFamily(), m.mem.GeneralFamily()),
		vkutil.BufferBarrier(m.mem.SiftBufferHandle(bufferB), vk.AccessShaderWriteBit, 0, m.mem.TransferFamily(), m.mem.GeneralFamily()),
		vkutil.BufferBarrier(m.mem.MatchOutputHandle(), 0, 0, m.mem.TransferFamily(), m.mem.GeneralFamily()),
	}
	vk.CmdPipelineBarrier(m.releaseCmd, vk.PipelineStageFlags(vk.PipelineStageTransferBit), vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit),
		0, 0, nil, uint32(len(barriers)), barriers, 0, nil)
	if res := vk.EndCommandBuffer(m.releaseCmd); res != vk.Success {
		return fmt.Errorf("vkEndCommandBuffer failed: %d", res)
	}

	submit := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		CommandBufferCount:   1,
		PCommandBuffers:      []vk.CommandBuffer{m.releaseCmd},
		SignalSemaphoreCount: 1,
		PSignalSemaphores:    []vk.Semaphore{m.endOfMatchingSemaphore},
	}
	if res := vk.QueueSubmit(m.mem.TransferQueue(), 1, []vk.SubmitInfo{submit}, nil); res != vk.Success {
		return fmt.Errorf("vkQueueSubmit(release) failed: %d", res)
	}
	return nil
}

func (m *Matcher) recordAndSubmitMain(bufferA, bufferB uint32) error {
	m.pool.Reset()
	set, err := m.pool.Allocate(m.stage.DescSetLayout())
	if err != nil {
		return err
	}
	detector.WriteBufferBindingExported(m.device, set, 0, m.mem.SiftBufferHandle(bufferA))
	detector.WriteBufferBindingExported(m.device, set, 1, m.mem.SiftBufferHandle(bufferB))
	detector.WriteBufferBindingExported(m.device, set, 2, m.mem.MatchOutputHandle())

	beginInfo := vk.CommandBufferBeginInfo{SType: vk.StructureTypeCommandBufferBeginInfo, Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)}
	if res := vk.BeginCommandBuffer(m.mainCmd, &beginInfo); res != vk.Success {
		return fmt.Errorf("vkBeginCommandBuffer failed: %d", res)
	}

	if m.mem.HasAsyncTransfer() {
		acquire := []vk.BufferMemoryBarrier{
			vkutil.BufferBarrier(m.mem.SiftBufferHandle(bufferA), 0, vk.AccessShaderReadBit, m.mem.TransferFamily(), m.mem.GeneralFamily()),
			vkutil.BufferBarrier(m.mem.SiftBufferHandle(bufferB), 0, vk.AccessShaderReadBit, m.mem.TransferFamily(), m.mem.GeneralFamily()),
			vkutil.BufferBarrier(m.mem.MatchOutputHandle(), 0, vk.AccessShaderWriteBit, m.mem.TransferFamily(), m.mem.GeneralFamily()),
		}
		vk.CmdPipelineBarrier(m.mainCmd, vk.PipelineStageFlags(vk.PipelineStageTransferBit), vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit),
			0, 0, nil, uint32(len(acquire)), acquire, 0, nil)
	} else {
		barrier := []vk.BufferMemoryBarrier{
			vkutil.BufferBarrier(m.mem.SiftBufferHandle(bufferA), vk.AccessShaderWriteBit, vk.AccessShaderReadBit, 0, 0),
			vkutil.BufferBarrier(m.mem.SiftBufferHandle(bufferB), vk.AccessShaderWriteBit, vk.AccessShaderReadBit, 0, 0),
		}
		vk.CmdPipelineBarrier(m.mainCmd, vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit), vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit),
			0, 0, nil, uint32(len(barrier)), barrier, 0, nil)
	}

	vk.CmdBindPipeline(m.mainCmd, vk.PipelineBindPointCompute, m.stage.Pipeline())
	vk.CmdBindDescriptorSets(m.mainCmd, vk.PipelineBindPointCompute, m.stage.PipelineLayout(), 0, 1, []vk.DescriptorSet{set}, 0, nil)
	vk.CmdDispatchIndirect(m.mainCmd, m.mem.IndirectMatcherHandle(), 0)

	countA := m.mem.PackedFeatureCount(bufferA)
	toTransfer := vkutil.BufferBarrier(m.mem.MatchOutputHandle(), vk.AccessShaderWriteBit, vk.AccessTransferReadBit, 0, 0)
	vk.CmdPipelineBarrier(m.mainCmd, vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit), vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		0, 0, nil, 1, []vk.BufferMemoryBarrier{toTransfer}, 0, nil)
	_ = countA

	if res := vk.EndCommandBuffer(m.mainCmd); res != vk.Success {
		return fmt.Errorf("vkEndCommandBuffer failed: %d", res)
	}

	if res := vk.ResetFences(m.device, 1, []vk.Fence{m.endOfMatchingFence}); res != vk.Success {
		return fmt.Errorf("vkResetFences failed: %d", res)
	}
	submit := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{m.mainCmd},
	}
	var fence vk.Fence
	if !m.mem.HasAsyncTransfer() {
		fence = m.endOfMatchingFence
	}
	if m.mem.HasAsyncTransfer() {
		submit.WaitSemaphoreCount = 1
		submit.PWaitSemaphores = []vk.Semaphore{m.endOfMatchingSemaphore}
		stageMask := []vk.PipelineStageFlags{vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit)}
		submit.PWaitDstStageMask = &stageMask[0]
		submit.SignalSemaphoreCount = 1
		submit.PSignalSemaphores = []vk.Semaphore{m.endOfMatchingSemaphore}
	}
	if res := vk.QueueSubmit(m.mem.GeneralQueue(), 1, []vk.SubmitInfo{submit}, fence); res != vk.Success {
		return fmt.Errorf("vkQueueSubmit(main) failed: %d", res)
	}
	return nil
}

func (m *Matcher) acquireOwnership(bufferA, bufferB uint32) error {
	beginInfo := vk.CommandBufferBeginInfo{SType: vk.StructureTypeCommandBufferBeginInfo, Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)}
	if res := vk.BeginCommandBuffer(m.acquireCmd, &beginInfo); res != vk.Success {
		return fmt.Errorf("vkBeginCommandBuffer failed: %d", res)
	}
	barriers := []vk.BufferMemoryBarrier{
		vkutil.BufferBarrier(m.mem.SiftBufferHandle(bufferA), 0, vk.AccessTransferReadBit, m.mem.GeneralFamily(), m.mem.TransferFamily()),
		vkutil.BufferBarrier(m.mem.SiftBufferHandle(bufferB), 0, vk.AccessTransferReadBit, m.mem.GeneralFamily(), m.mem.TransferFamily()),
		vkutil.BufferBarrier(m.mem.MatchOutputHandle(), 0, vk.AccessTransferReadBit, m.mem.GeneralFamily(), m.mem.TransferFamily()),
	}
	vk.CmdPipelineBarrier(m.acquireCmd, vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit), vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		0, 0, nil, uint32(len(barriers)), barriers, 0, nil)
	if res := vk.EndCommandBuffer(m.acquireCmd); res != vk.Success {
		return fmt.Errorf("vkEndCommandBuffer failed: %d", res)
	}

	waitStage := []vk.PipelineStageFlags{vk.PipelineStageFlags(vk.PipelineStageTransferBit)}
	submit := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   1,
		PWaitSemaphores:      []vk.Semaphore{m.endOfMatchingSemaphore},
		PWaitDstStageMask:    &waitStage[0],
		CommandBufferCount:   1,
		PCommandBuffers:      []vk.CommandBuffer{m.acquireCmd},
	}
	if res := vk.ResetFences(m.device, 1, []vk.Fence{m.endOfMatchingFence}); res != vk.Success {
		return fmt.Errorf("vkResetFences failed: %d", res)
	}
	if res := vk.QueueSubmit(m.mem.TransferQueue(), 1, []vk.SubmitInfo{submit}, m.endOfMatchingFence); res != vk.Success {
		return fmt.Errorf("vkQueueSubmit(acquire) failed: %d", res)
	}
	return nil
}

// Destroy releases every Vulkan object the matcher owns. Idempotent.
func (m *Matcher) Destroy() {
	if m == nil {
		return
	}
	m.stage.Destroy()
	m.pool.Destroy()
	if m.endOfMatchingSemaphore != nil {
		vk.DestroySemaphore(m.device, m.endOfMatchingSemaphore, nil)
		m.endOfMatchingSemaphore = nil
	}
	if m.endOfMatchingFence != nil {
		vk.DestroyFence(m.device, m.endOfMatchingFence, nil)
		m.endOfMatchingFence = nil
	}
}
