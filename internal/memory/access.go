// Copyright 2026 The vulkansift-go Authors
// SPDX-License-Identifier: MIT

package memory

import (
	vk "github.com/goki/vulkan"

	"github.com/maelaubert/vulkansift-go/internal/vkutil"
)

// The accessors below hand borrowed Vulkan handles to internal/detector and
// internal/matcher, which hold non-owning references to the memory layer
// and must not outlive it. Memory keeps
// every field private so these are the only doors in.

func (m *Memory) Device() vk.Device             { return m.device }
func (m *Memory) GeneralQueue() vk.Queue        { return m.generalQueue }
func (m *Memory) GeneralPool() vk.CommandPool   { return m.generalPool }
func (m *Memory) GeneralFamily() uint32         { return m.generalFamily }
func (m *Memory) TransferQueue() vk.Queue       { return m.transferQueue }
func (m *Memory) TransferPool() vk.CommandPool  { return m.transferPool }
func (m *Memory) TransferFamily() uint32        { return m.transferFamily }
func (m *Memory) HasAsyncTransfer() bool        { return m.hasAsyncTransfer }
func (m *Memory) MaxOctaves() uint8             { return m.cfg.MaxOctaves }
func (m *Memory) NbScalesPerOctave() uint8      { return m.cfg.NbScalesPerOctave }
func (m *Memory) CurrentNbOctaves() uint8       { return m.currNbOctaves }
func (m *Memory) CurrentOctaveResolution(o int) (uint32, uint32) {
	r := m.octaveRes[o]
	return r.Width, r.Height
}

func (m *Memory) InputImage() *Image2D       { return m.inputImage }
func (m *Memory) Octave(o int) *OctaveImages { return m.octaves[o] }

func (m *Memory) SiftBufferHandle(i uint32) vk.Buffer   { return m.siftBuffers[i].Handle }
func (m *Memory) SiftBufferLayout(i uint32) BufferLayout { return m.layouts[i] }
func (m *Memory) MatchOutputHandle() vk.Buffer          { return m.matchOutput.Handle }

func (m *Memory) IndirectOrientationHandle() vk.Buffer { return m.indirectOrientation.Handle }
func (m *Memory) IndirectDescriptorHandle() vk.Buffer  { return m.indirectDescriptor.Handle }
func (m *Memory) IndirectMatcherHandle() vk.Buffer     { return m.indirectMatcher.Handle }

// ConsumeDescriptorRewrite reports whether pyramid/image objects were
// recreated since the last call and clears the flag; the detector calls
// this once per Detect to decide whether its descriptor sets and command
// buffer must be rebuilt before dispatch.
func (m *Memory) ConsumeDescriptorRewrite() bool {
	v := m.needsDescriptorRewrite
	m.needsDescriptorRewrite = false
	return v
}

// Buffer busy/idle tracking (the invariant that a buffer is in exactly one
// of {idle,detection,matching,download,upload}) lives entirely in the root
// Instance (instance.go's bufferState/enter/leave); Memory only tracks the
// packed/sectioned State (memory.go), which is orthogonal to it.

// WriteMatcherIndirect writes a single (x,1,1) workgroup-count triplet
// into the matcher's indirect-dispatch buffer: group counts are
// (ceil(count_A/64),1,1).
func (m *Memory) WriteMatcherIndirect(countA uint32) error {
	groups := (countA + 63) / 64
	triplet := make([]byte, 12)
	putLE32(triplet[0:4], groups)
	putLE32(triplet[4:8], 1)
	putLE32(triplet[8:12], 1)
	return vkutil.OneShot(m.device, m.generalPool, m.generalQueue, func(cmd vk.CommandBuffer) {
		vk.CmdUpdateBuffer(cmd, m.indirectMatcher.Handle, 0, vk.DeviceSize(len(triplet)), triplet)
	})
}

// PackedFeatureCount returns the packed feature count recorded for idx
// (meaningful only while idx is packed); used by the matcher to size its
// dispatch and by Instance.GetMatchCount and DownloadMatches.
func (m *Memory) PackedFeatureCount(idx uint32) uint32 { return m.packedCount[idx] }
func (m *Memory) IsPacked(idx uint32) bool             { return m.bufferState[idx] == StatePacked }
