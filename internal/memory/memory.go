// Copyright 2026 The vulkansift-go Authors
// SPDX-License-Identifier: MIT

// Package memory owns every GPU buffer and image a SIFT instance needs:
// their static (creation-time, maximum-size) and dynamic (per-resolution)
// allocation, and the host-facing transfer operations (feature/match/
// pyramid readback and feature upload).
//
// Grounded on vulkansift's sift_memory.c/.h: the exact buffer-size formulas,
// section-capacity derivation and packed-vs-sectioned layout come from
// there, re-expressed with github.com/goki/vulkan calls in the style of
// github.com/gogpu/wgpu/hal/vulkan's resource wrappers.
package memory

import (
	"fmt"
	"math"

	vk "github.com/goki/vulkan"

	"github.com/maelaubert/vulkansift-go/internal/vkutil"
)

// State tracks what a SIFT buffer currently holds: a buffer freshly
// targeted by Detect is sectioned and "dirty" until PrepareForMatching
// packs it.
type State int

const (
	StateEmpty State = iota
	StateSectioned
	StatePacked
)

// Config is the subset of the root package's Config this layer needs,
// duplicated as plain fields to keep internal/memory free of a dependency
// on the root package (which itself imports internal/memory).
type Config struct {
	MaxImageSize       uint32
	MaxOctaves         uint8 // must be nonzero: New rejects 0, the caller derives the maximum
	NbScalesPerOctave  uint8
	NbSiftBuffers      uint32
	MaxNbSiftPerBuffer uint32
	UseUpsampling      bool
	Precision          Format
}

// Memory owns every GPU-resident and staging object a SIFT instance uses.
// Exactly one exists per Instance.
type Memory struct {
	device        vk.Device
	selector      *TypeSelector
	generalQueue  vk.Queue
	generalFamily uint32

	transferQueue    vk.Queue
	transferFamily   uint32
	hasAsyncTransfer bool

	generalPool  vk.CommandPool
	transferPool vk.CommandPool

	cfg Config

	// current (dynamic) pyramid state
	currWidth, currHeight uint32
	currNbOctaves         uint8
	octaveRes             []OctaveResolution
	needsDescriptorRewrite bool

	inputImage  *Image2D
	octaves     []*OctaveImages // len == cfg.MaxOctaves, only [0:currNbOctaves) are meaningful
	imageStaging *Buffer        // host-visible, upload of input + download of pyramid levels

	siftBuffers  []*Buffer
	layouts      []BufferLayout
	bufferState  []State
	packedCount  []uint32 // valid only while bufferState[i] == StatePacked
	siftStaging  *Buffer // shared feature up/download staging, max_nb_sift_per_buffer features wide
	countStaging *Buffer // per-buffer, per-octave feature counts, host-cached

	matchOutput  *Buffer
	matchStaging *Buffer

	indirectOrientation *Buffer
	indirectDescriptor  *Buffer
	indirectMatcher     *Buffer
}

// OctaveResolution duplicates the root package's type to avoid an import
// cycle; same shape, same meaning.
type OctaveResolution struct{ Width, Height uint32 }

// New performs every buffer's static setup: each is created at the
// maximum size the configuration allows and is never reallocated once New
// returns. The input and pyramid images are not created here; see
// PrepareForDetection, which recreates them, with fresh memory, whenever
// the input resolution changes.
func New(device vk.Device, physicalMemProps vk.PhysicalDeviceMemoryProperties, generalQueue vk.Queue, generalFamily uint32,
	transferQueue vk.Queue, transferFamily uint32, hasAsyncTransfer bool, cfg Config) (*Memory, error) {

	if cfg.MaxOctaves == 0 {
		return nil, fmt.Errorf("memory.New: MaxOctaves must be precomputed by the caller")
	}

	m := &Memory{
		device:           device,
		selector:         NewTypeSelector(physicalMemProps),
		generalQueue:     generalQueue,
		generalFamily:    generalFamily,
		transferQueue:    transferQueue,
		transferFamily:   transferFamily,
		hasAsyncTransfer: hasAsyncTransfer,
		cfg:              cfg,
	}

	poolInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
		QueueFamilyIndex: generalFamily,
	}
	if res := vk.CreateCommandPool(device, &poolInfo, nil, &m.generalPool); res != vk.Success {
		return nil, fmt.Errorf("vkCreateCommandPool(general) failed: %d", res)
	}
	if hasAsyncTransfer {
		tPoolInfo := poolInfo
		tPoolInfo.QueueFamilyIndex = transferFamily
		if res := vk.CreateCommandPool(device, &tPoolInfo, nil, &m.transferPool); res != vk.Success {
			m.Destroy()
			return nil, fmt.Errorf("vkCreateCommandPool(transfer) failed: %d", res)
		}
	} else {
		m.transferPool = m.generalPool
		m.transferQueue = generalQueue
	}

	if err := m.setupStatic(); err != nil {
		m.Destroy()
		return nil, err
	}

	return m, nil
}

func (m *Memory) setupStatic() error {
	var err error

	// Input upload + pyramid-level download staging, host-cached, sized for
	// the largest octave-0 resolution (R32 worst case, 4 bytes/texel).
	stagingSize := vk.DeviceSize(m.cfg.MaxImageSize) * 4
	if m.cfg.UseUpsampling {
		// Octave 0 is the input upsampled 2x in each dimension.
		stagingSize *= 4
	}
	if m.imageStaging, err = CreateBuffer(m.device, m.selector, stagingSize,
		vk.BufferUsageFlagBits(vk.BufferUsageTransferSrcBit|vk.BufferUsageTransferDstBit), UsageDownload); err != nil {
		return fmt.Errorf("image staging buffer: %w", err)
	}

	m.siftBuffers = make([]*Buffer, m.cfg.NbSiftBuffers)
	m.layouts = make([]BufferLayout, m.cfg.NbSiftBuffers)
	m.bufferState = make([]State, m.cfg.NbSiftBuffers)
	m.packedCount = make([]uint32, m.cfg.NbSiftBuffers)
	bufSize := DedicatedBufferSize(m.cfg.MaxNbSiftPerBuffer, m.cfg.MaxOctaves)
	for i := range m.siftBuffers {
		buf, err := CreateBuffer(m.device, m.selector, bufSize,
			vk.BufferUsageFlagBits(vk.BufferUsageStorageBufferBit|vk.BufferUsageTransferSrcBit|vk.BufferUsageTransferDstBit), UsageDeviceLocal)
		if err != nil {
			return fmt.Errorf("sift buffer %d: %w", i, err)
		}
		m.siftBuffers[i] = buf
		m.layouts[i] = NewBufferLayout(m.cfg.MaxNbSiftPerBuffer, m.cfg.MaxOctaves, m.cfg.MaxOctaves)
	}

	countSize := vk.DeviceSize(4) * vk.DeviceSize(m.cfg.MaxOctaves) * vk.DeviceSize(m.cfg.NbSiftBuffers)
	if m.countStaging, err = CreateBuffer(m.device, m.selector, countSize,
		vk.BufferUsageFlagBits(vk.BufferUsageTransferDstBit), UsageDownload); err != nil {
		return fmt.Errorf("count staging buffer: %w", err)
	}

	siftStagingSize := vk.DeviceSize(m.cfg.MaxNbSiftPerBuffer) * FeatureSize
	if m.siftStaging, err = CreateBuffer(m.device, m.selector, siftStagingSize,
		vk.BufferUsageFlagBits(vk.BufferUsageTransferSrcBit|vk.BufferUsageTransferDstBit), UsageDownload); err != nil {
		return fmt.Errorf("sift staging buffer: %w", err)
	}

	matchSize := vk.DeviceSize(m.cfg.MaxNbSiftPerBuffer) * MatchSize
	if m.matchOutput, err = CreateBuffer(m.device, m.selector, matchSize,
		vk.BufferUsageFlagBits(vk.BufferUsageStorageBufferBit|vk.BufferUsageTransferSrcBit), UsageDeviceLocal); err != nil {
		return fmt.Errorf("match output buffer: %w", err)
	}
	if m.matchStaging, err = CreateBuffer(m.device, m.selector, matchSize,
		vk.BufferUsageFlagBits(vk.BufferUsageTransferDstBit), UsageDownload); err != nil {
		return fmt.Errorf("match staging buffer: %w", err)
	}

	indirectSize := vk.DeviceSize(3*4) * vk.DeviceSize(m.cfg.MaxOctaves)
	indirectUsage := vk.BufferUsageFlagBits(vk.BufferUsageStorageBufferBit | vk.BufferUsageIndirectBufferBit | vk.BufferUsageTransferDstBit)
	if m.indirectOrientation, err = CreateBuffer(m.device, m.selector, indirectSize, indirectUsage, UsageDeviceLocal); err != nil {
		return fmt.Errorf("indirect orientation buffer: %w", err)
	}
	if m.indirectDescriptor, err = CreateBuffer(m.device, m.selector, indirectSize, indirectUsage, UsageDeviceLocal); err != nil {
		return fmt.Errorf("indirect descriptor buffer: %w", err)
	}
	if m.indirectMatcher, err = CreateBuffer(m.device, m.selector, vk.DeviceSize(3*4), indirectUsage, UsageDeviceLocal); err != nil {
		return fmt.Errorf("indirect matcher buffer: %w", err)
	}

	m.octaves = make([]*OctaveImages, m.cfg.MaxOctaves)
	return nil
}

// PrepareForDetection performs dynamic setup followed by input upload: it
// recomputes the octave count/resolutions for (w,h), recreates any octave
// whose resolution changed, resets targetBuffer to an
// empty sectioned layout, and copies imageData into the input staging
// buffer ready for the detector to consume.
//
// On return, m.needsDescriptorRewrite tells the caller (internal/detector)
// whether bound descriptor sets referencing the recreated images must be
// rewritten before the next dispatch.
func (m *Memory) PrepareForDetection(imageData []byte, w, h uint32, targetBuffer uint32) error {
	if targetBuffer >= uint32(len(m.siftBuffers)) {
		return fmt.Errorf("target buffer index %d out of range", targetBuffer)
	}
	if uint64(w)*uint64(h) > uint64(m.cfg.MaxImageSize) {
		return fmt.Errorf("input image %dx%d exceeds configured max size %d", w, h, m.cfg.MaxImageSize)
	}
	if uint64(len(imageData)) != uint64(w)*uint64(h) {
		return fmt.Errorf("image data length %d does not match %dx%d", len(imageData), w, h)
	}

	nbOctaves := computeOctaveCount(w, h, m.cfg.UseUpsampling, m.cfg.MaxOctaves)
	resolutions := octaveResolutions(w, h, m.cfg.UseUpsampling, nbOctaves)

	layoutChanged := w != m.currWidth || h != m.currHeight
	m.currWidth, m.currHeight, m.currNbOctaves, m.octaveRes = w, h, nbOctaves, resolutions

	if layoutChanged {
		if err := m.recreatePyramidImages(w, h, nbOctaves, resolutions); err != nil {
			return fmt.Errorf("recreate pyramid images: %w", err)
		}
		m.needsDescriptorRewrite = true
	}

	m.layouts[targetBuffer] = NewBufferLayout(m.cfg.MaxNbSiftPerBuffer, m.cfg.MaxOctaves, nbOctaves)
	m.bufferState[targetBuffer] = StateSectioned

	copy(m.imageStaging.Map().Bytes(0, len(imageData)), imageData)
	m.imageStaging.Map().Flush(0, vk.DeviceSize(len(imageData)))

	return vkutil.OneShot(m.device, m.generalPool, m.generalQueue, func(cmd vk.CommandBuffer) {
		barrier := vkutil.ImageBarrier(m.inputImage.Handle, vk.ImageLayoutUndefined, vk.ImageLayoutTransferDstOptimal, 0, vk.AccessTransferWriteBit)
		vk.CmdPipelineBarrier(cmd, vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit), vk.PipelineStageFlags(vk.PipelineStageTransferBit),
			0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier})

		region := vk.BufferImageCopy{
			BufferOffset: 0,
			ImageSubresource: vk.ImageSubresourceLayers{
				AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
				LayerCount: 1,
			},
			ImageExtent: vk.Extent3D{Width: w, Height: h, Depth: 1},
		}
		vk.CmdCopyBufferToImage(cmd, m.imageStaging.Handle, m.inputImage.Handle, vk.ImageLayoutTransferDstOptimal, 1, []vk.BufferImageCopy{region})

		post := vkutil.ImageBarrier(m.inputImage.Handle, vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutGeneral, vk.AccessTransferWriteBit, vk.AccessShaderReadBit)
		vk.CmdPipelineBarrier(cmd, vk.PipelineStageFlags(vk.PipelineStageTransferBit), vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit),
			0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{post})

		clearHeader := vkutil.BufferBarrier(m.siftBuffers[targetBuffer].Handle, 0, vk.AccessTransferWriteBit, 0, 0)
		vk.CmdPipelineBarrier(cmd, vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit), vk.PipelineStageFlags(vk.PipelineStageTransferBit),
			0, 0, nil, 1, []vk.BufferMemoryBarrier{clearHeader}, 0, nil)
		// Header is (count, capacity) pairs, one per octave slot, count
		// reset to 0 and capacity set to this resolution's section size;
		// slots beyond the active octave count stay zeroed so the detector
		// shader's per-octave bounds check always rejects them.
		vk.CmdFillBuffer(cmd, m.siftBuffers[targetBuffer].Handle, 0, m.layouts[targetBuffer].HeaderSize, 0)
		for o, secCap := range m.layouts[targetBuffer].SectionCap {
			if secCap == 0 {
				continue
			}
			capBytes := make([]byte, 4)
			putLE32(capBytes, secCap)
			vk.CmdUpdateBuffer(cmd, m.siftBuffers[targetBuffer].Handle, vk.DeviceSize(o)*8+4, 4, capBytes)
		}
	})
}

func (m *Memory) recreatePyramidImages(w, h uint32, nbOctaves uint8, resolutions []OctaveResolution) error {
	m.inputImage.Destroy()
	img, err := CreateImage2D(m.device, m.selector, w, h, FormatR32Sfloat,
		vk.ImageUsageFlagBits(vk.ImageUsageStorageBit|vk.ImageUsageTransferSrcBit|vk.ImageUsageTransferDstBit))
	if err != nil {
		return fmt.Errorf("input image: %w", err)
	}
	m.inputImage = img

	for o := 0; o < int(m.cfg.MaxOctaves); o++ {
		m.octaves[o].Destroy()
		m.octaves[o] = nil
	}
	for o := 0; o < int(nbOctaves); o++ {
		oi, err := CreateOctaveImages(m.device, m.selector, resolutions[o].Width, resolutions[o].Height, m.cfg.NbScalesPerOctave, m.cfg.Precision)
		if err != nil {
			return fmt.Errorf("octave %d images: %w", o, err)
		}
		m.octaves[o] = oi
	}
	return nil
}

// GetBufferFeatureCount returns the packed count of a packed buffer, or, for
// a sectioned one, the sum over octave sections of each section's count
// word clamped to that section's capacity. For a sectioned buffer it first
// copies the count words into the host-visible count staging buffer with a
// blocking transfer (refreshCountStaging), and later calls in this package
// read the per-octave counts from there.
func (m *Memory) GetBufferFeatureCount(targetBuffer uint32) (uint32, error) {
	if m.bufferState[targetBuffer] == StatePacked {
		return m.packedCount[targetBuffer], nil
	}
	if err := m.refreshCountStaging(targetBuffer); err != nil {
		return 0, err
	}
	layout := m.layouts[targetBuffer]
	total := uint32(0)
	for o := range layout.SectionCap {
		total += m.sectionCount(targetBuffer, layout, o)
	}
	return total, nil
}

// sectionCount reads octave o's count word for targetBuffer from the count
// staging buffer, clamped to the section's capacity.
func (m *Memory) sectionCount(targetBuffer uint32, layout BufferLayout, o int) uint32 {
	base := int(targetBuffer) * int(m.cfg.MaxOctaves) * 4
	n := le32(m.countStaging.Map().Bytes(base+o*4, 4))
	if n > layout.SectionCap[o] {
		n = layout.SectionCap[o]
	}
	return n
}

func (m *Memory) refreshCountStaging(targetBuffer uint32) error {
	layout := m.layouts[targetBuffer]
	regions := make([]vk.BufferCopy, 0, len(layout.SectionOffsets))
	dstBase := vk.DeviceSize(targetBuffer) * vk.DeviceSize(m.cfg.MaxOctaves) * 4
	for o := range layout.SectionOffsets {
		// Header pairs (count, capacity) sit contiguously at the buffer's
		// start, one pair per octave; the count word of pair o is at 8*o.
		regions = append(regions, vk.BufferCopy{
			SrcOffset: vk.DeviceSize(o) * 8,
			DstOffset: dstBase + vk.DeviceSize(o)*4,
			Size:      4,
		})
	}
	return vkutil.OneShot(m.device, m.transferPool, m.transferQueue, func(cmd vk.CommandBuffer) {
		vk.CmdCopyBuffer(cmd, m.siftBuffers[targetBuffer].Handle, m.countStaging.Handle, uint32(len(regions)), regions)
	})
}

// CopyFeaturesFromGPU downloads every feature currently stored in
// targetBuffer (sectioned or packed) into the shared staging buffer and
// returns the raw bytes, which the root package decodes into Feature. A
// sectioned buffer's live features are concatenated in octave order.
func (m *Memory) CopyFeaturesFromGPU(targetBuffer uint32) ([]byte, error) {
	count, err := m.GetBufferFeatureCount(targetBuffer)
	if err != nil {
		return nil, err
	}
	layout := m.layouts[targetBuffer]

	var regions []vk.BufferCopy
	dst := vk.DeviceSize(0)
	if m.bufferState[targetBuffer] == StatePacked {
		regions = []vk.BufferCopy{{SrcOffset: layout.HeaderSize, DstOffset: 0, Size: vk.DeviceSize(count) * FeatureSize}}
	} else {
		for o := range layout.SectionCap {
			n := m.sectionCount(targetBuffer, layout, o)
			if n == 0 {
				continue
			}
			regions = append(regions, vk.BufferCopy{
				SrcOffset: layout.SectionOffsets[o],
				DstOffset: dst,
				Size:      vk.DeviceSize(n) * FeatureSize,
			})
			dst += vk.DeviceSize(n) * FeatureSize
		}
	}

	if err := vkutil.OneShot(m.device, m.transferPool, m.transferQueue, func(cmd vk.CommandBuffer) {
		if len(regions) > 0 {
			vk.CmdCopyBuffer(cmd, m.siftBuffers[targetBuffer].Handle, m.siftStaging.Handle, uint32(len(regions)), regions)
		}
	}); err != nil {
		return nil, err
	}

	m.siftStaging.Map().Invalidate(0, vk.DeviceSize(count)*FeatureSize)
	out := make([]byte, count*FeatureSize)
	copy(out, m.siftStaging.Map().Bytes(0, len(out)))
	return out, nil
}

// CopyFeaturesToGPU uploads encoded feature bytes (root package's
// EncodeFeatures output) into targetBuffer's first section as a packed
// run, overwriting whatever was there.
func (m *Memory) CopyFeaturesToGPU(targetBuffer uint32, encoded []byte) error {
	n := uint32(len(encoded) / FeatureSize)
	if n > m.cfg.MaxNbSiftPerBuffer {
		return fmt.Errorf("upload of %d features exceeds buffer capacity %d", n, m.cfg.MaxNbSiftPerBuffer)
	}
	copy(m.siftStaging.Map().Bytes(0, len(encoded)), encoded)
	m.siftStaging.Map().Flush(0, vk.DeviceSize(len(encoded)))

	header := make([]byte, 4)
	putLE32(header, n)

	if err := vkutil.OneShot(m.device, m.transferPool, m.transferQueue, func(cmd vk.CommandBuffer) {
		vk.CmdFillBuffer(cmd, m.siftBuffers[targetBuffer].Handle, 0, m.layouts[targetBuffer].HeaderSize, 0)
		vk.CmdUpdateBuffer(cmd, m.siftBuffers[targetBuffer].Handle, 0, 4, header)
		if n > 0 {
			vk.CmdCopyBuffer(cmd, m.siftStaging.Handle, m.siftBuffers[targetBuffer].Handle, 1, []vk.BufferCopy{
				{SrcOffset: 0, DstOffset: m.layouts[targetBuffer].HeaderSize, Size: vk.DeviceSize(n) * FeatureSize},
			})
		}
	}); err != nil {
		return err
	}

	m.bufferState[targetBuffer] = StatePacked
	m.packedCount[targetBuffer] = n
	return nil
}

// PrepareForMatching packs buffer A and B to the left, the matcher kernel's
// precondition: each octave section's live features are moved to be
// contiguous, in increasing-offset order so a later section's source range
// never overlaps a not-yet-copied earlier destination range, and the
// buffer's single-uint32 packed header (total count) replaces the
// per-octave header. Buffers already packed are left untouched.
func (m *Memory) PrepareForMatching(bufferA, bufferB uint32) error {
	for _, idx := range []uint32{bufferA, bufferB} {
		if m.bufferState[idx] == StatePacked {
			continue
		}
		if err := m.packBuffer(idx); err != nil {
			return fmt.Errorf("pack buffer %d: %w", idx, err)
		}
	}
	return nil
}

func (m *Memory) packBuffer(idx uint32) error {
	count, err := m.GetBufferFeatureCount(idx)
	if err != nil {
		return err
	}
	layout := m.layouts[idx]

	var regions []vk.BufferCopy
	dst := layout.HeaderSize
	for o := range layout.SectionCap {
		n := m.sectionCount(idx, layout, o)
		if n == 0 {
			continue
		}
		src := layout.SectionOffsets[o]
		if src != dst {
			regions = append(regions, vk.BufferCopy{SrcOffset: src, DstOffset: dst, Size: vk.DeviceSize(n) * FeatureSize})
		}
		dst += vk.DeviceSize(n) * FeatureSize
	}

	err = vkutil.OneShot(m.device, m.generalPool, m.generalQueue, func(cmd vk.CommandBuffer) {
		barrier := vkutil.BufferBarrier(m.siftBuffers[idx].Handle, vk.AccessShaderWriteBit, vk.AccessTransferReadBit|vk.AccessTransferWriteBit, 0, 0)
		vk.CmdPipelineBarrier(cmd, vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit), vk.PipelineStageFlags(vk.PipelineStageTransferBit),
			0, 0, nil, 1, []vk.BufferMemoryBarrier{barrier}, 0, nil)

		if len(regions) > 0 {
			vk.CmdCopyBuffer(cmd, m.siftBuffers[idx].Handle, m.siftBuffers[idx].Handle, uint32(len(regions)), regions)
		}
		header := make([]byte, 4)
		putLE32(header, count)
		// The packed header is a single uint32 count; zero the rest of the
		// header region first so stale per-octave words never leak through.
		vk.CmdFillBuffer(cmd, m.siftBuffers[idx].Handle, 0, layout.HeaderSize, 0)
		vk.CmdUpdateBuffer(cmd, m.siftBuffers[idx].Handle, 0, 4, header)
	})
	if err != nil {
		return err
	}
	m.bufferState[idx] = StatePacked
	m.packedCount[idx] = count
	return nil
}

// CopyMatchesFromGPU downloads the matcher's output buffer, returning
// count*MatchSize bytes the root package decodes into Match records.
func (m *Memory) CopyMatchesFromGPU(count uint32) ([]byte, error) {
	size := vk.DeviceSize(count) * MatchSize
	if err := vkutil.OneShot(m.device, m.transferPool, m.transferQueue, func(cmd vk.CommandBuffer) {
		if size > 0 {
			vk.CmdCopyBuffer(cmd, m.matchOutput.Handle, m.matchStaging.Handle, 1, []vk.BufferCopy{{Size: size}})
		}
	}); err != nil {
		return nil, err
	}
	m.matchStaging.Map().Invalidate(0, size)
	out := make([]byte, size)
	copy(out, m.matchStaging.Map().Bytes(0, int(size)))
	return out, nil
}

// CopyPyramidImageFromGPU downloads one Gaussian or DoG level as raw
// float32 row-major pixel data, for debugging/visualization.
func (m *Memory) CopyPyramidImageFromGPU(octave, scale uint8, isDoG bool) ([]float32, uint32, uint32, error) {
	if octave >= m.currNbOctaves {
		return nil, 0, 0, fmt.Errorf("octave %d out of range (%d active)", octave, m.currNbOctaves)
	}
	oi := m.octaves[octave]
	var img *Image2D
	if isDoG {
		if int(scale) >= len(oi.DoG) {
			return nil, 0, 0, fmt.Errorf("dog scale %d out of range", scale)
		}
		img = oi.DoG[scale]
	} else {
		if int(scale) >= len(oi.Gaussian) {
			return nil, 0, 0, fmt.Errorf("gaussian scale %d out of range", scale)
		}
		img = oi.Gaussian[scale]
	}

	w, h := img.Width, img.Height
	size := vk.DeviceSize(w) * vk.DeviceSize(h) * 4

	if err := vkutil.OneShot(m.device, m.generalPool, m.generalQueue, func(cmd vk.CommandBuffer) {
		pre := vkutil.ImageBarrier(img.Handle, vk.ImageLayoutGeneral, vk.ImageLayoutTransferSrcOptimal, vk.AccessShaderWriteBit, vk.AccessTransferReadBit)
		vk.CmdPipelineBarrier(cmd, vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit), vk.PipelineStageFlags(vk.PipelineStageTransferBit),
			0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{pre})

		region := vk.BufferImageCopy{
			ImageSubresource: vk.ImageSubresourceLayers{AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit), LayerCount: 1},
			ImageExtent:      vk.Extent3D{Width: w, Height: h, Depth: 1},
		}
		vk.CmdCopyImageToBuffer(cmd, img.Handle, vk.ImageLayoutTransferSrcOptimal, m.imageStaging.Handle, 1, []vk.BufferImageCopy{region})

		post := vkutil.ImageBarrier(img.Handle, vk.ImageLayoutTransferSrcOptimal, vk.ImageLayoutGeneral, vk.AccessTransferReadBit, vk.AccessShaderWriteBit)
		vk.CmdPipelineBarrier(cmd, vk.PipelineStageFlags(vk.PipelineStageTransferBit), vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit),
			0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{post})
	}); err != nil {
		return nil, 0, 0, err
	}

	m.imageStaging.Map().Invalidate(0, size)
	raw := m.imageStaging.Map().Bytes(0, int(size))
	out := make([]float32, w*h)
	for i := range out {
		out[i] = leFloat32(raw[i*4 : i*4+4])
	}
	return out, w, h, nil
}

// Destroy releases every GPU object. Idempotent.
func (m *Memory) Destroy() {
	if m == nil {
		return
	}
	m.inputImage.Destroy()
	for _, oi := range m.octaves {
		oi.Destroy()
	}
	m.imageStaging.Destroy(m.device)
	for _, b := range m.siftBuffers {
		b.Destroy(m.device)
	}
	m.countStaging.Destroy(m.device)
	m.siftStaging.Destroy(m.device)
	m.matchOutput.Destroy(m.device)
	m.matchStaging.Destroy(m.device)
	m.indirectOrientation.Destroy(m.device)
	m.indirectDescriptor.Destroy(m.device)
	m.indirectMatcher.Destroy(m.device)

	if m.transferPool != m.generalPool && m.transferPool != nil {
		vk.DestroyCommandPool(m.device, m.transferPool, nil)
	}
	if m.generalPool != nil {
		vk.DestroyCommandPool(m.device, m.generalPool, nil)
		m.generalPool = nil
	}
	m.transferPool = nil
}

func computeOctaveCount(w, h uint32, upsample bool, maxOctaves uint8) uint8 {
	minDim := w
	if h < minDim {
		minDim = h
	}
	shift := 1
	if upsample {
		shift = 2
	}
	o := 0
	for v := minDim; v > 1; v >>= 1 {
		o++
	}
	o = o - 4 + shift
	if o < 1 {
		o = 1
	}
	if o > int(maxOctaves) {
		o = int(maxOctaves)
	}
	return uint8(o)
}

func octaveResolutions(w, h uint32, upsample bool, nbOctaves uint8) []OctaveResolution {
	s := 1.0
	if upsample {
		s = 0.5
	}
	res := make([]OctaveResolution, nbOctaves)
	for o := range res {
		div := pow(2, uint8(o)) * s
		res[o] = OctaveResolution{Width: uint32(float64(w) / div), Height: uint32(float64(h) / div)}
	}
	return res
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func leFloat32(b []byte) float32 {
	return math.Float32frombits(le32(b))
}
