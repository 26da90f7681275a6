// Copyright 2026 The vulkansift-go Authors
// SPDX-License-Identifier: MIT

package detector

import (
	"encoding/binary"
	"fmt"
	"math"

	vk "github.com/goki/vulkan"

	"github.com/maelaubert/vulkansift-go/internal/memory"
	"github.com/maelaubert/vulkansift-go/internal/vkutil"
)

// Config is the subset of the root package's Config the detector needs to
// build kernels and push constants; duplicated to avoid an import cycle
// (internal/detector is a leaf, the root package imports it).
type Config struct {
	NbScalesPerOctave           uint8
	SeedScaleSigma              float32
	InputImageBlurLevel         float32
	UseInputUpsampling          bool
	IntensityThreshold          float32
	EdgeThreshold               float32
	MaxNbOrientationPerKeypoint uint8
	UseHardwareInterpolatedBlur bool
}

// Detector records and dispatches the fixed pipeline of compute stages:
// blur, DoG, extract, orient, describe, over every active octave, targeting
// one SIFT buffer slot. It holds borrowed references to the device and
// memory layers and owns only its own pipelines, descriptor pool, and the
// single primary command buffer it re-records on demand.
type Detector struct {
	device vk.Device
	mem    *memory.Memory
	cfg    Config

	blurDirect  *Stage
	blurHW      *Stage
	dog         *Stage
	extract     *Stage
	orient      *Stage
	describe    *Stage

	pool *DescriptorPool
	cmd  vk.CommandBuffer

	kernels [][]float32 // per-scale Gaussian kernel within an octave, indices [1, nbScales+3)
	seed    []float32   // octave-0 seed kernel (scale 0)

	endOfDetectionFence vk.Fence
	lastTargetBuffer    uint32
	recorded            bool
}

// New creates every compute pipeline the detector needs and a descriptor
// pool with one set per dispatch for up to maxOctaves octaves, plus the
// end-of-detection fence the top-level API waits on.
func New(mem *memory.Memory, cfg Config, maxOctaves uint8) (*Detector, error) {
	device := mem.Device()
	d := &Detector{device: device, mem: mem, cfg: cfg}

	var err error
	// Blur push constant: is_vertical (u32), source layer (u32), kernel
	// length (u32), up to 20 float taps -- or, for the hardware-
	// interpolated variant, up to 10 (offset,weight) pairs. Either way the
	// block stays <=128 bytes (3*4 + 20*4 = 92).
	const blurPushBytes = 3*4 + MaxKernelTaps*4
	if d.blurDirect, err = LoadStage(device, "blur",
		[]BindingSpec{Binding(BindSampledImage), Binding(BindStorageImage)}, blurPushBytes); err != nil {
		d.Destroy()
		return nil, err
	}
	if d.blurHW, err = LoadStage(device, "blur_interpolated",
		[]BindingSpec{Binding(BindSampledImage), Binding(BindStorageImage)}, blurPushBytes); err != nil {
		d.Destroy()
		return nil, err
	}
	// DoG push constant: source scale index (u32).
	if d.dog, err = LoadStage(device, "dog",
		[]BindingSpec{Binding(BindStorageImage), Binding(BindStorageImage)}, 4); err != nil {
		d.Destroy()
		return nil, err
	}
	// Extract push constant: octave index, intensity threshold, edge
	// threshold, sigma0, scale factor, nb scales.
	if d.extract, err = LoadStage(device, "extract",
		[]BindingSpec{{Kind: BindStorageImage, Count: uint32(cfg.NbScalesPerOctave) + 2}, Binding(BindStorageBuffer), Binding(BindStorageBuffer)}, 6*4); err != nil {
		d.Destroy()
		return nil, err
	}
	// Orient push constant: octave index, orientation cap.
	if d.orient, err = LoadStage(device, "orient",
		[]BindingSpec{Binding(BindStorageBuffer), Binding(BindSampledImage), Binding(BindStorageBuffer)}, 2*4); err != nil {
		d.Destroy()
		return nil, err
	}
	// Describe push constant: octave index.
	if d.describe, err = LoadStage(device, "describe",
		[]BindingSpec{Binding(BindStorageBuffer), Binding(BindSampledImage)}, 1*4); err != nil {
		d.Destroy()
		return nil, err
	}

	// One set per dispatch. Per octave: at most two blur passes for each
	// of the nb+3 Gaussian scales, nb+2 DoG, and one each for extract,
	// orient and describe, i.e. 3*nb+11 sets; plus a little headroom.
	perOctave := 3*uint32(cfg.NbScalesPerOctave) + 11
	if d.pool, err = NewDescriptorPool(device, uint32(maxOctaves)*perOctave+8); err != nil {
		d.Destroy()
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
		d.Destroy()
		return nil, fmt.Errorf("vkAllocateCommandBuffers failed: %d", res)
	}
	d.cmd = cmds[0]

	fenceInfo := vk.FenceCreateInfo{SType: vk.StructureTypeFenceCreateInfo, Flags: vk.FenceCreateFlags(vk.FenceCreateSignaledBit)}
	if res := vk.CreateFence(device, &fenceInfo, nil, &d.endOfDetectionFence); res != vk.Success {
		d.Destroy()
		return nil, fmt.Errorf("vkCreateFence failed: %d", res)
	}

	d.precomputeKernels()
	return d, nil
}

// precomputeKernels builds the per-scale Gaussian kernels once; they depend
// only on Config, never on the input resolution, so there is nothing to
// recompute when octaves are resized.
func (d *Detector) precomputeKernels() {
	nb := int(d.cfg.NbScalesPerOctave)
	d.seed = GaussianKernel(SeedSigma(d.cfg.SeedScaleSigma, d.cfg.InputImageBlurLevel, d.cfg.UseInputUpsampling))
	d.kernels = make([][]float32, nb+3)
	for s := 1; s < nb+3; s++ {
		d.kernels[s] = GaussianKernel(BlurSigma(d.cfg.SeedScaleSigma, d.cfg.NbScalesPerOctave, s))
	}
}

// EndOfDetectionFence is the fence the top-level API waits on before
// reusing pyramid images or the target SIFT buffer.
func (d *Detector) EndOfDetectionFence() vk.Fence { return d.endOfDetectionFence }

// Detect records (if needed) and submits the primary command buffer for
// one image already staged by memory.PrepareForDetection, targeting
// targetBuffer. A new command buffer is only recorded when the target
// buffer or the pyramid layout changed since the last Detect call.
func (d *Detector) Detect(targetBuffer uint32, layoutChanged bool) error {
	if layoutChanged || targetBuffer != d.lastTargetBuffer || !d.recorded {
		if err := d.record(targetBuffer); err != nil {
			return fmt.Errorf("record detector command buffer: %w", err)
		}
		d.lastTargetBuffer = targetBuffer
		d.recorded = true
	}

	if res := vk.ResetFences(d.device, 1, []vk.Fence{d.endOfDetectionFence}); res != vk.Success {
		return fmt.Errorf("vkResetFences failed: %d", res)
	}
	submit := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{d.cmd},
	}
	if res := vk.QueueSubmit(d.mem.GeneralQueue(), 1, []vk.SubmitInfo{submit}, d.endOfDetectionFence); res != vk.Success {
		return fmt.Errorf("vkQueueSubmit failed: %d", res)
	}
	return nil
}

// record builds the primary command buffer end to end: clear, scale-space,
// DoG, extract, orientation, describe, header copy. The pool is reset and
// descriptor sets are allocated afresh every time record runs, which
// Detect does on the first call and whenever the layout or the target
// buffer changed.
func (d *Detector) record(targetBuffer uint32) error {
	d.pool.Reset()

	beginInfo := vk.CommandBufferBeginInfo{SType: vk.StructureTypeCommandBufferBeginInfo}
	if res := vk.BeginCommandBuffer(d.cmd, &beginInfo); res != vk.Success {
		return fmt.Errorf("vkBeginCommandBuffer failed: %d", res)
	}

	if err := d.recordClearPhase(targetBuffer); err != nil {
		return err
	}

	nbOctaves := int(d.mem.CurrentNbOctaves())
	for o := 0; o < nbOctaves; o++ {
		if err := d.recordScaleSpace(o); err != nil {
			return err
		}
	}
	for o := 0; o < nbOctaves; o++ {
		if err := d.recordDoG(o); err != nil {
			return err
		}
	}
	for o := 0; o < nbOctaves; o++ {
		if err := d.recordExtract(o, targetBuffer); err != nil {
			return err
		}
	}
	d.recordOrientationIndirectCopy(nbOctaves)
	for o := 0; o < nbOctaves; o++ {
		if err := d.recordOrient(o, targetBuffer); err != nil {
			return err
		}
	}
	for o := 0; o < nbOctaves; o++ {
		if err := d.recordDescribe(o, targetBuffer); err != nil {
			return err
		}
	}
	d.recordHeaderCopy(targetBuffer)

	if res := vk.EndCommandBuffer(d.cmd); res != vk.Success {
		return fmt.Errorf("vkEndCommandBuffer failed: %d", res)
	}
	return nil
}

// recordClearPhase resets targetBuffer's counters and the indirect-dispatch
// buffers before a new detection pass. The ordering matters: counters are
// zeroed with vkCmdFillBuffer first, then each section's capacity word is
// written with vkCmdUpdateBuffer -- the reverse order would have the fill
// overwrite the capacities that were just written.
func (d *Detector) recordClearPhase(targetBuffer uint32) error {
	layout := d.mem.SiftBufferLayout(targetBuffer)
	buf := d.mem.SiftBufferHandle(targetBuffer)

	vk.CmdFillBuffer(d.cmd, buf, 0, layout.HeaderSize, 0)
	for o, cap := range layout.SectionCap {
		if cap == 0 {
			continue
		}
		capBytes := make([]byte, 4)
		binary.LittleEndian.PutUint32(capBytes, cap)
		vk.CmdUpdateBuffer(d.cmd, buf, uint64Offset(o*8+4), 4, capBytes)
	}

	// Reset every per-octave group-count triplet in both indirect-dispatch
	// buffers to (0, 1, 1): x is counted up during extract, y and z are
	// written as 1 here.
	zero := make([]byte, 4)
	one := make([]byte, 4)
	binary.LittleEndian.PutUint32(one, 1)
	for o := range layout.SectionCap {
		base := uint64Offset(o * 12)
		vk.CmdUpdateBuffer(d.cmd, d.mem.IndirectOrientationHandle(), base, 4, zero)
		vk.CmdUpdateBuffer(d.cmd, d.mem.IndirectOrientationHandle(), base+4, 4, one)
		vk.CmdUpdateBuffer(d.cmd, d.mem.IndirectOrientationHandle(), base+8, 4, one)
		vk.CmdUpdateBuffer(d.cmd, d.mem.IndirectDescriptorHandle(), base, 4, zero)
		vk.CmdUpdateBuffer(d.cmd, d.mem.IndirectDescriptorHandle(), base+4, 4, one)
		vk.CmdUpdateBuffer(d.cmd, d.mem.IndirectDescriptorHandle(), base+8, 4, one)
	}

	barrier := vkutil.BufferBarrier(buf, vk.AccessTransferWriteBit, vk.AccessShaderReadBit|vk.AccessShaderWriteBit, 0, 0)
	ob := vkutil.BufferBarrier(d.mem.IndirectOrientationHandle(), vk.AccessTransferWriteBit, vk.AccessShaderWriteBit, 0, 0)
	db := vkutil.BufferBarrier(d.mem.IndirectDescriptorHandle(), vk.AccessTransferWriteBit, vk.AccessShaderWriteBit, 0, 0)
	vk.CmdPipelineBarrier(d.cmd, vk.PipelineStageFlags(vk.PipelineStageTransferBit), vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit),
		0, 0, nil, 3, []vk.BufferMemoryBarrier{barrier, ob, db}, 0, nil)
	return nil
}

// recordScaleSpace builds octave o's Gaussian stack by blitting/downsampling
// from octave o-1 (or the input image for o==0) into layer 0, then chaining
// nbScales+2 separable blur passes.
func (d *Detector) recordScaleSpace(o int) error {
	oi := d.mem.Octave(o)
	nb := int(d.cfg.NbScalesPerOctave)

	if o == 0 {
		d.recordBlit(d.mem.InputImage(), oi.Gaussian[0], true)
		d.recordBlurPass(oi, 0, d.seed)
	} else {
		prev := d.mem.Octave(o - 1)
		d.recordBlit(prev.Gaussian[nb], oi.Gaussian[0], false)
	}

	for s := 1; s < nb+3; s++ {
		d.recordBlurPass(oi, s, d.kernels[s])
	}
	return nil
}

// recordBlit blits src into dst[0] (bilinear when upscaling octave 0 from
// the input image, nearest when halving between octaves), then barriers
// the destination for the following blur pass to read it.
func (d *Detector) recordBlit(src, dst *memory.Image2D, linear bool) {
	filter := vk.FilterNearest
	if linear {
		filter = vk.FilterLinear
	}
	region := vk.ImageBlit{
		SrcSubresource: subresourceLayers(),
		DstSubresource: subresourceLayers(),
	}
	region.SrcOffsets[1] = vk.Offset3D{X: int32(src.Width), Y: int32(src.Height), Z: 1}
	region.DstOffsets[1] = vk.Offset3D{X: int32(dst.Width), Y: int32(dst.Height), Z: 1}
	vk.CmdBlitImage(d.cmd, src.Handle, vk.ImageLayoutGeneral, dst.Handle, vk.ImageLayoutGeneral, 1, []vk.ImageBlit{region}, filter)

	barrier := vkutil.ImageBarrier(dst.Handle, vk.ImageLayoutGeneral, vk.ImageLayoutGeneral, vk.AccessTransferWriteBit, vk.AccessShaderReadBit)
	vk.CmdPipelineBarrier(d.cmd, vk.PipelineStageFlags(vk.PipelineStageTransferBit), vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit),
		0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier})
}

// recordBlurPass runs the horizontal pass (source layer s-1 -> scratch)
// then the vertical pass (scratch -> layer s) with a barrier between them.
func (d *Detector) recordBlurPass(oi *memory.OctaveImages, s int, kernel []float32) {
	pushH := d.blurPushConstants(kernel, false)
	pushV := d.blurPushConstants(kernel, true)

	src := oi.Gaussian[s]
	if s > 0 {
		src = oi.Gaussian[s-1]
	}
	d.dispatchBlur(src, oi.BlurScratch, pushH)
	imgBarrier := vkutil.ImageBarrier(oi.BlurScratch.Handle, vk.ImageLayoutGeneral, vk.ImageLayoutGeneral, vk.AccessShaderWriteBit, vk.AccessShaderReadBit)
	vk.CmdPipelineBarrier(d.cmd, vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit), vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit),
		0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{imgBarrier})
	d.dispatchBlur(oi.BlurScratch, oi.Gaussian[s], pushV)

	dstBarrier := vkutil.ImageBarrier(oi.Gaussian[s].Handle, vk.ImageLayoutGeneral, vk.ImageLayoutGeneral, vk.AccessShaderWriteBit, vk.AccessShaderReadBit)
	vk.CmdPipelineBarrier(d.cmd, vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit), vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit|vk.PipelineStageTransferBit),
		0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{dstBarrier})
}

// blurPushConstants packs the blur kernel's push-constant block: is_vertical
// flag, source layer index (unused by the shader beyond
// documentation since binding 0 is already the right layer), kernel
// length, then either direct taps or hardware-interpolated tap pairs.
func (d *Detector) blurPushConstants(kernel []float32, vertical bool) []byte {
	buf := make([]byte, 3*4+MaxKernelTaps*4)
	v := uint32(0)
	if vertical {
		v = 1
	}
	binary.LittleEndian.PutUint32(buf[0:4], v)
	binary.LittleEndian.PutUint32(buf[4:8], 0)
	if d.cfg.UseHardwareInterpolatedBlur {
		taps := InterpolatedTaps(kernel)
		binary.LittleEndian.PutUint32(buf[8:12], uint32(len(taps)))
		for i, t := range taps {
			binary.LittleEndian.PutUint32(buf[12+i*8:16+i*8], mathFloat32bits(t.Offset()))
			binary.LittleEndian.PutUint32(buf[16+i*8:20+i*8], mathFloat32bits(t.Weight()))
		}
	} else {
		binary.LittleEndian.PutUint32(buf[8:12], uint32(len(kernel)))
		for i, c := range kernel {
			binary.LittleEndian.PutUint32(buf[12+i*4:16+i*4], mathFloat32bits(c))
		}
	}
	return buf
}

func (d *Detector) dispatchBlur(src, dst *memory.Image2D, push []byte) {
	stage := d.blurDirect
	if d.cfg.UseHardwareInterpolatedBlur {
		stage = d.blurHW
	}
	set, err := d.pool.Allocate(stage.descSetLayout)
	if err != nil {
		return
	}
	writeImageBinding(d.device, set, 0, src.View, true)
	writeImageBinding(d.device, set, 1, dst.View, false)

	vk.CmdBindPipeline(d.cmd, vk.PipelineBindPointCompute, stage.pipeline)
	vk.CmdBindDescriptorSets(d.cmd, vk.PipelineBindPointCompute, stage.pipelineLayout, 0, 1, []vk.DescriptorSet{set}, 0, nil)
	vk.CmdPushConstants(d.cmd, stage.pipelineLayout, vk.ShaderStageFlags(vk.ShaderStageComputeBit), 0, uint32(len(push)), pushPtr(push))
	gx := (dst.Width + 7) / 8
	gy := (dst.Height + 7) / 8
	vk.CmdDispatch(d.cmd, gx, gy, 1)
}

// recordDoG dispatches one DoG pass per octave, writing every DoG layer s
// as (blur layer s+1 - blur layer s).
func (d *Detector) recordDoG(o int) error {
	oi := d.mem.Octave(o)
	nb := int(d.cfg.NbScalesPerOctave)
	for s := 0; s < nb+2; s++ {
		set, err := d.pool.Allocate(d.dog.descSetLayout)
		if err != nil {
			return err
		}
		writeImageBinding(d.device, set, 0, oi.Gaussian[s].View, false)
		writeImageBinding(d.device, set, 1, oi.DoG[s].View, false)

		vk.CmdBindPipeline(d.cmd, vk.PipelineBindPointCompute, d.dog.pipeline)
		vk.CmdBindDescriptorSets(d.cmd, vk.PipelineBindPointCompute, d.dog.pipelineLayout, 0, 1, []vk.DescriptorSet{set}, 0, nil)
		push := make([]byte, 4)
		binary.LittleEndian.PutUint32(push, uint32(s))
		vk.CmdPushConstants(d.cmd, d.dog.pipelineLayout, vk.ShaderStageFlags(vk.ShaderStageComputeBit), 0, 4, pushPtr(push))
		gx := (oi.Width + 7) / 8
		gy := (oi.Height + 7) / 8
		vk.CmdDispatch(d.cmd, gx, gy, 1)
	}
	barriers := make([]vk.ImageMemoryBarrier, len(oi.DoG))
	for i, im := range oi.DoG {
		barriers[i] = vkutil.ImageBarrier(im.Handle, vk.ImageLayoutGeneral, vk.ImageLayoutGeneral, vk.AccessShaderWriteBit, vk.AccessShaderReadBit)
	}
	vk.CmdPipelineBarrier(d.cmd, vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit), vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit),
		0, 0, nil, 0, nil, uint32(len(barriers)), barriers)
	return nil
}

// recordExtract dispatches once per octave over the DoG volume, writing
// accepted keypoints into the target SIFT buffer and incrementing the
// orientation indirect-dispatch buffer's x component.
func (d *Detector) recordExtract(o int, targetBuffer uint32) error {
	oi := d.mem.Octave(o)
	set, err := d.pool.Allocate(d.extract.descSetLayout)
	if err != nil {
		return err
	}
	writeImageArrayBinding(d.device, set, 0, oi.DoG)
	writeBufferBinding(d.device, set, 1, d.mem.SiftBufferHandle(targetBuffer))
	writeBufferBinding(d.device, set, 2, d.mem.IndirectOrientationHandle())

	vk.CmdBindPipeline(d.cmd, vk.PipelineBindPointCompute, d.extract.pipeline)
	vk.CmdBindDescriptorSets(d.cmd, vk.PipelineBindPointCompute, d.extract.pipelineLayout, 0, 1, []vk.DescriptorSet{set}, 0, nil)

	push := make([]byte, 6*4)
	binary.LittleEndian.PutUint32(push[0:4], uint32(o))
	binary.LittleEndian.PutUint32(push[4:8], mathFloat32bits(d.cfg.IntensityThreshold))
	binary.LittleEndian.PutUint32(push[8:12], mathFloat32bits(d.cfg.EdgeThreshold))
	binary.LittleEndian.PutUint32(push[12:16], mathFloat32bits(d.cfg.SeedScaleSigma))
	binary.LittleEndian.PutUint32(push[16:20], mathFloat32bits(scaleFactorForOctave(o, d.cfg.UseInputUpsampling)))
	binary.LittleEndian.PutUint32(push[20:24], uint32(d.cfg.NbScalesPerOctave))
	vk.CmdPushConstants(d.cmd, d.extract.pipelineLayout, vk.ShaderStageFlags(vk.ShaderStageComputeBit), 0, uint32(len(push)), pushPtr(push))

	gx := (oi.Width + 7) / 8
	gy := (oi.Height + 7) / 8
	gz := uint32(d.cfg.NbScalesPerOctave)
	vk.CmdDispatch(d.cmd, gx, gy, gz)
	return nil
}

// recordOrientationIndirectCopy copies every orientation indirect-dispatch
// triplet into the descriptor
// indirect-dispatch buffer so both stages agree on per-octave keypoint
// counts without a CPU round-trip.
func (d *Detector) recordOrientationIndirectCopy(nbOctaves int) {
	barrier := vkutil.BufferBarrier(d.mem.IndirectOrientationHandle(), vk.AccessShaderWriteBit, vk.AccessTransferReadBit, 0, 0)
	vk.CmdPipelineBarrier(d.cmd, vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit), vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		0, 0, nil, 1, []vk.BufferMemoryBarrier{barrier}, 0, nil)

	size := vk.DeviceSize(nbOctaves) * 12
	vk.CmdCopyBuffer(d.cmd, d.mem.IndirectOrientationHandle(), d.mem.IndirectDescriptorHandle(), 1, []vk.BufferCopy{{Size: size}})

	post1 := vkutil.BufferBarrier(d.mem.IndirectOrientationHandle(), vk.AccessTransferReadBit, vk.AccessIndirectCommandReadBit, 0, 0)
	post2 := vkutil.BufferBarrier(d.mem.IndirectDescriptorHandle(), vk.AccessTransferWriteBit, vk.AccessIndirectCommandReadBit, 0, 0)
	vk.CmdPipelineBarrier(d.cmd, vk.PipelineStageFlags(vk.PipelineStageTransferBit), vk.PipelineStageFlags(vk.PipelineStageDrawIndirectBit),
		0, 0, nil, 2, []vk.BufferMemoryBarrier{post1, post2}, 0, nil)
}

// recordOrient indirect-dispatches the orientation kernel for octave o,
// reading/writing the target buffer's features in place (plus appending
// extra oriented copies).
func (d *Detector) recordOrient(o int, targetBuffer uint32) error {
	oi := d.mem.Octave(o)
	set, err := d.pool.Allocate(d.orient.descSetLayout)
	if err != nil {
		return err
	}
	writeBufferBinding(d.device, set, 0, d.mem.SiftBufferHandle(targetBuffer))
	writeImageBinding(d.device, set, 1, oi.Gaussian[0].View, true)
	writeBufferBinding(d.device, set, 2, d.mem.IndirectOrientationHandle())

	vk.CmdBindPipeline(d.cmd, vk.PipelineBindPointCompute, d.orient.pipeline)
	vk.CmdBindDescriptorSets(d.cmd, vk.PipelineBindPointCompute, d.orient.pipelineLayout, 0, 1, []vk.DescriptorSet{set}, 0, nil)

	push := make([]byte, 2*4)
	binary.LittleEndian.PutUint32(push[0:4], uint32(o))
	binary.LittleEndian.PutUint32(push[4:8], uint32(d.cfg.MaxNbOrientationPerKeypoint))
	vk.CmdPushConstants(d.cmd, d.orient.pipelineLayout, vk.ShaderStageFlags(vk.ShaderStageComputeBit), 0, uint32(len(push)), pushPtr(push))

	offset := vk.DeviceSize(o) * 12
	vk.CmdDispatchIndirect(d.cmd, d.mem.IndirectOrientationHandle(), offset)
	return nil
}

// recordDescribe indirect-dispatches the descriptor kernel for octave o.
func (d *Detector) recordDescribe(o int, targetBuffer uint32) error {
	oi := d.mem.Octave(o)
	set, err := d.pool.Allocate(d.describe.descSetLayout)
	if err != nil {
		return err
	}
	writeBufferBinding(d.device, set, 0, d.mem.SiftBufferHandle(targetBuffer))
	writeImageBinding(d.device, set, 1, oi.Gaussian[0].View, true)

	vk.CmdBindPipeline(d.cmd, vk.PipelineBindPointCompute, d.describe.pipeline)
	vk.CmdBindDescriptorSets(d.cmd, vk.PipelineBindPointCompute, d.describe.pipelineLayout, 0, 1, []vk.DescriptorSet{set}, 0, nil)

	push := make([]byte, 4)
	binary.LittleEndian.PutUint32(push, uint32(o))
	vk.CmdPushConstants(d.cmd, d.describe.pipelineLayout, vk.ShaderStageFlags(vk.ShaderStageComputeBit), 0, 4, pushPtr(push))

	offset := vk.DeviceSize(o) * 12
	vk.CmdDispatchIndirect(d.cmd, d.mem.IndirectDescriptorHandle(), offset)
	return nil
}

// recordHeaderCopy only needs to leave the section counters in a state the
// transfer queue can read, since the actual counter->staging copy is
// performed on demand by
// memory.Memory.GetBufferFeatureCount (internal/memory's
// refreshCountStaging) the next time the host asks for a count, rather
// than unconditionally on every detection.
func (d *Detector) recordHeaderCopy(targetBuffer uint32) {
	barrier := vkutil.BufferBarrier(d.mem.SiftBufferHandle(targetBuffer), vk.AccessShaderWriteBit, vk.AccessTransferReadBit, 0, 0)
	vk.CmdPipelineBarrier(d.cmd, vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit), vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		0, 0, nil, 1, []vk.BufferMemoryBarrier{barrier}, 0, nil)
}

// Destroy releases every pipeline, the descriptor pool, the command
// buffer and the fence. Idempotent.
func (d *Detector) Destroy() {
	if d == nil {
		return
	}
	d.blurDirect.Destroy()
	d.blurHW.Destroy()
	d.dog.Destroy()
	d.extract.Destroy()
	d.orient.Destroy()
	d.describe.Destroy()
	d.pool.Destroy()
	if d.endOfDetectionFence != nil {
		vk.DestroyFence(d.device, d.endOfDetectionFence, nil)
		d.endOfDetectionFence = nil
	}
}

func scaleFactorForOctave(o int, upsample bool) float32 {
	sMin := float32(1)
	if upsample {
		sMin = 0.5
	}
	f := float32(1)
	for i := 0; i < o; i++ {
		f *= 2
	}
	return f * sMin
}

func subresourceLayers() vk.ImageSubresourceLayers {
	return vk.ImageSubresourceLayers{AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit), LayerCount: 1}
}

func uint64Offset(n int) vk.DeviceSize { return vk.DeviceSize(n) }

func mathFloat32bits(f float32) uint32 {
	return math.Float32bits(f)
}
