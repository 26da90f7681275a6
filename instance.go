// Copyright 2026 The vulkansift-go Authors
// SPDX-License-Identifier: MIT

package sift

import (
	"fmt"
	"math"
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/maelaubert/vulkansift-go/internal/detector"
	"github.com/maelaubert/vulkansift-go/internal/device"
	"github.com/maelaubert/vulkansift-go/internal/matcher"
	"github.com/maelaubert/vulkansift-go/internal/memory"
)

// bufferState tracks the invariant that a SIFT buffer is, at any moment, in
// exactly one of these states.
type bufferState int

const (
	bufIdle bufferState = iota
	bufDetecting
	bufMatching
	bufDownloading
	bufUploading
)

// Instance is one GPU SIFT pipeline: a logical device, its memory layer,
// detector and matcher. Every exported method blocks until the GPU work it
// triggers (or waits on) completes; the library gives callers a fully
// synchronous API and never hands back a handle to in-flight GPU work.
type Instance struct {
	cfg Config

	dev *device.Device
	mem *memory.Memory
	det *detector.Detector
	mat *matcher.Matcher

	mu     sync.Mutex
	states []bufferState

	lastMatchA    uint32
	lastMatchDone bool
}

// NewInstance wires the device, memory, detector and matcher layers in
// dependency order, tearing down whatever was already created if a later
// step fails.
func NewInstance(cfg Config) (inst *Instance, err error) {
	if verr := cfg.validate(); verr != nil {
		return nil, newError(KindInvalidConfig, "NewInstance", verr)
	}

	api, aerr := currentAPI()
	if aerr != nil {
		return nil, aerr
	}

	inst = &Instance{cfg: cfg}
	defer func() {
		if err != nil {
			inst.Destroy()
			inst = nil
		}
	}()

	req := device.Requirements{
		RequiredExtensions: nil,
		NGeneral:           1,
		NAsyncCompute:      0,
		NAsyncTransfer:     1,
		GPUIndex:           cfg.GPUDeviceIndex,
	}
	dev, derr := api.CreateDevice(req)
	if derr != nil {
		return nil, newError(KindNoSuitableDevice, "NewInstance", derr)
	}
	inst.dev = dev
	logger().Info("device selected", "component", "instance", "name", dev.Name)

	// With NbOctaves 0 the octave count follows the input resolution; the
	// largest count any image within InputImageMaxSize can need is that of
	// a square image, whose side bounds min(w, h).
	effectiveMaxOctaves := cfg.NbOctaves
	if effectiveMaxOctaves == 0 {
		side := uint32(math.Sqrt(float64(cfg.InputImageMaxSize)))
		effectiveMaxOctaves = ComputeOctaveCount(side, side, cfg.UseInputUpsampling, 0)
	}
	memCfg := memory.Config{
		MaxImageSize:       cfg.InputImageMaxSize,
		MaxOctaves:         effectiveMaxOctaves,
		NbScalesPerOctave:  cfg.NbScalesPerOctave,
		NbSiftBuffers:      cfg.SiftBufferCount,
		MaxNbSiftPerBuffer: cfg.MaxNbSiftPerBuffer,
		UseUpsampling:      cfg.UseInputUpsampling,
		Precision:          pyramidFormat(cfg.PyramidPrecisionMode),
	}

	var transferQueue vk.Queue
	var transferFamily uint32
	hasAsyncTransfer := dev.HasAsyncTransferQueue
	if hasAsyncTransfer {
		transferQueue = dev.AsyncTransferQueues[0]
		transferFamily = dev.AsyncTransferFamily
	}

	mem, merr := memory.New(dev.Handle, dev.MemoryProperties, dev.GeneralQueues[0], dev.GeneralFamily,
		transferQueue, transferFamily, hasAsyncTransfer, memCfg)
	if merr != nil {
		return nil, newError(KindAllocationFailure, "NewInstance", merr)
	}
	inst.mem = mem

	detCfg := detector.Config{
		NbScalesPerOctave:           cfg.NbScalesPerOctave,
		SeedScaleSigma:              cfg.SeedScaleSigma,
		InputImageBlurLevel:         cfg.InputImageBlurLevel,
		UseInputUpsampling:          cfg.UseInputUpsampling,
		IntensityThreshold:          cfg.IntensityThreshold,
		EdgeThreshold:               cfg.EdgeThreshold,
		MaxNbOrientationPerKeypoint: cfg.MaxNbOrientationPerKeypoint,
		UseHardwareInterpolatedBlur: cfg.UseHardwareInterpolatedBlur,
	}
	det, deterr := detector.New(mem, detCfg, effectiveMaxOctaves)
	if deterr != nil {
		return nil, newError(KindResourceCreation, "NewInstance", deterr)
	}
	inst.det = det

	mat, materr := matcher.New(mem)
	if materr != nil {
		return nil, newError(KindResourceCreation, "NewInstance", materr)
	}
	inst.mat = mat

	inst.states = make([]bufferState, cfg.SiftBufferCount)
	logger().Info("instance created", "component", "instance", "sift_buffer_count", cfg.SiftBufferCount)
	return inst, nil
}

func pyramidFormat(p PyramidPrecision) memory.Format {
	if p == PrecisionFloat16 {
		return memory.FormatR16Sfloat
	}
	return memory.FormatR32Sfloat
}

func (inst *Instance) checkBuffer(idx uint32, op string) error {
	if idx >= inst.cfg.SiftBufferCount {
		return newError(KindInvalidArgument, op, fmt.Errorf("buffer index %d out of range (%d available)", idx, inst.cfg.SiftBufferCount))
	}
	return nil
}

func (inst *Instance) enter(idx uint32, want bufferState, op string) error {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.states[idx] != bufIdle {
		return newError(KindInvalidArgument, op, fmt.Errorf("buffer %d is busy", idx))
	}
	inst.states[idx] = want
	return nil
}

func (inst *Instance) leave(idx uint32) {
	inst.mu.Lock()
	inst.states[idx] = bufIdle
	inst.mu.Unlock()
}

// Detect uploads imageData (tightly packed 8-bit grayscale, w*h bytes) to
// the device, runs the full detection pipeline, and blocks until it
// completes. The target buffer is left in sectioned form; call
// DownloadFeatures or Match (which packs automatically) to consume the
// results.
func (inst *Instance) Detect(imageData []byte, w, h uint32, targetBuffer uint32) error {
	if err := inst.checkBuffer(targetBuffer, "Detect"); err != nil {
		return err
	}
	if uint32(len(imageData)) != w*h {
		return newError(KindInvalidArgument, "Detect", fmt.Errorf("image data length %d does not match %dx%d", len(imageData), w, h))
	}
	if w*h > inst.cfg.InputImageMaxSize {
		return newError(KindInvalidArgument, "Detect", fmt.Errorf("image %dx%d exceeds input_image_max_size %d", w, h, inst.cfg.InputImageMaxSize))
	}
	if err := inst.enter(targetBuffer, bufDetecting, "Detect"); err != nil {
		return err
	}
	defer inst.leave(targetBuffer)

	if err := inst.mem.PrepareForDetection(imageData, w, h, targetBuffer); err != nil {
		return newError(KindAllocationFailure, "Detect", err)
	}
	layoutChanged := inst.mem.ConsumeDescriptorRewrite()
	if err := inst.det.Detect(targetBuffer, layoutChanged); err != nil {
		return newError(KindSubmitFailure, "Detect", err)
	}
	if res := vk.WaitForFences(inst.mem.Device(), 1, []vk.Fence{inst.det.EndOfDetectionFence()}, vk.True, ^uint64(0)); res != vk.Success {
		return newError(KindSubmitFailure, "Detect", fmt.Errorf("vkWaitForFences failed: %d", res))
	}
	return nil
}

// GetFeatureCount returns how many features buffer currently holds.
func (inst *Instance) GetFeatureCount(buffer uint32) (uint32, error) {
	if err := inst.checkBuffer(buffer, "GetFeatureCount"); err != nil {
		return 0, err
	}
	n, err := inst.mem.GetBufferFeatureCount(buffer)
	if err != nil {
		return 0, newError(KindAllocationFailure, "GetFeatureCount", err)
	}
	return n, nil
}

// DownloadFeatures reads every feature currently held in buffer, in
// whatever per-octave-section order the GPU stored them.
func (inst *Instance) DownloadFeatures(buffer uint32) ([]Feature, error) {
	if err := inst.checkBuffer(buffer, "DownloadFeatures"); err != nil {
		return nil, err
	}
	if err := inst.enter(buffer, bufDownloading, "DownloadFeatures"); err != nil {
		return nil, err
	}
	defer inst.leave(buffer)

	raw, err := inst.mem.CopyFeaturesFromGPU(buffer)
	if err != nil {
		return nil, newError(KindAllocationFailure, "DownloadFeatures", err)
	}
	return DecodeFeatures(raw), nil
}

// UploadFeatures replaces buffer's contents with features, packed: an
// uploaded buffer is always considered packed, skipping the section
// bookkeeping Detect would have produced.
func (inst *Instance) UploadFeatures(buffer uint32, features []Feature) error {
	if err := inst.checkBuffer(buffer, "UploadFeatures"); err != nil {
		return err
	}
	if uint32(len(features)) > inst.cfg.MaxNbSiftPerBuffer {
		return newError(KindInvalidArgument, "UploadFeatures", fmt.Errorf("%d features exceeds max_nb_sift_per_buffer %d", len(features), inst.cfg.MaxNbSiftPerBuffer))
	}
	if err := inst.enter(buffer, bufUploading, "UploadFeatures"); err != nil {
		return err
	}
	defer inst.leave(buffer)

	if err := inst.mem.CopyFeaturesToGPU(buffer, EncodeFeatures(features)); err != nil {
		return newError(KindAllocationFailure, "UploadFeatures", err)
	}
	return nil
}

// Match packs both buffers, runs the brute-force 2-NN kernel and blocks
// until it completes.
func (inst *Instance) Match(bufferA, bufferB uint32) error {
	if err := inst.checkBuffer(bufferA, "Match"); err != nil {
		return err
	}
	if err := inst.checkBuffer(bufferB, "Match"); err != nil {
		return err
	}
	if bufferA == bufferB {
		return newError(KindInvalidArgument, "Match", fmt.Errorf("buffer A and B must differ"))
	}
	if err := inst.enter(bufferA, bufMatching, "Match"); err != nil {
		return err
	}
	if err := inst.enter(bufferB, bufMatching, "Match"); err != nil {
		inst.leave(bufferA)
		return err
	}
	defer inst.leave(bufferA)
	defer inst.leave(bufferB)

	if err := inst.mem.PrepareForMatching(bufferA, bufferB); err != nil {
		return newError(KindAllocationFailure, "Match", err)
	}
	if err := inst.mat.Match(bufferA, bufferB); err != nil {
		return newError(KindSubmitFailure, "Match", err)
	}
	if res := vk.WaitForFences(inst.mem.Device(), 1, []vk.Fence{inst.mat.EndOfMatchingFence()}, vk.True, ^uint64(0)); res != vk.Success {
		return newError(KindSubmitFailure, "Match", fmt.Errorf("vkWaitForFences failed: %d", res))
	}

	inst.mu.Lock()
	inst.lastMatchA = bufferA
	inst.lastMatchDone = true
	inst.mu.Unlock()
	return nil
}

// GetMatchCount returns N_A at the last Match call, since the kernel emits
// exactly one match record per A feature.
func (inst *Instance) GetMatchCount() (uint32, error) {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if !inst.lastMatchDone {
		return 0, newError(KindInvalidArgument, "GetMatchCount", fmt.Errorf("no match has been run yet"))
	}
	return inst.mem.PackedFeatureCount(inst.lastMatchA), nil
}

// DownloadMatches returns the results of the most recent Match call.
func (inst *Instance) DownloadMatches() ([]Match, error) {
	count, err := inst.GetMatchCount()
	if err != nil {
		return nil, err
	}
	raw, cerr := inst.mem.CopyMatchesFromGPU(count)
	if cerr != nil {
		return nil, newError(KindAllocationFailure, "DownloadMatches", cerr)
	}
	return DecodeMatches(raw), nil
}

// PyramidOctaveCount returns how many octaves the pyramid built for the most
// recently detected image resolution.
func (inst *Instance) PyramidOctaveCount() uint8 {
	return inst.mem.CurrentNbOctaves()
}

// PyramidOctaveResolution returns the width/height of the given octave.
func (inst *Instance) PyramidOctaveResolution(octave uint8) (w, h uint32, err error) {
	if octave >= inst.mem.CurrentNbOctaves() {
		return 0, 0, newError(KindInvalidArgument, "PyramidOctaveResolution", fmt.Errorf("octave %d out of range (%d active)", octave, inst.mem.CurrentNbOctaves()))
	}
	w, h = inst.mem.CurrentOctaveResolution(int(octave))
	return w, h, nil
}

// DownloadScaleSpace reads back one Gaussian pyramid level as row-major
// float32 values, regardless of the image's on-device texel format.
func (inst *Instance) DownloadScaleSpace(octave, scale uint8) ([]float32, uint32, uint32, error) {
	return inst.downloadPyramidLevel(octave, scale, false)
}

// DownloadDoG reads back one Difference-of-Gaussian pyramid level the same
// way DownloadScaleSpace does.
func (inst *Instance) DownloadDoG(octave, scale uint8) ([]float32, uint32, uint32, error) {
	return inst.downloadPyramidLevel(octave, scale, true)
}

func (inst *Instance) downloadPyramidLevel(octave, scale uint8, isDoG bool) ([]float32, uint32, uint32, error) {
	if octave >= inst.mem.CurrentNbOctaves() {
		return nil, 0, 0, newError(KindInvalidArgument, "DownloadScaleSpace", fmt.Errorf("octave %d out of range (%d active)", octave, inst.mem.CurrentNbOctaves()))
	}
	data, w, h, err := inst.mem.CopyPyramidImageFromGPU(octave, scale, isDoG)
	if err != nil {
		return nil, 0, 0, newError(KindAllocationFailure, "DownloadScaleSpace", err)
	}
	return data, w, h, nil
}

// Destroy tears down every layer in reverse creation order and releases the
// device. Safe to call multiple times; safe to call on a partially
// constructed Instance (NewInstance uses it for its own cleanup-on-error).
func (inst *Instance) Destroy() {
	if inst == nil {
		return
	}
	inst.mat.Destroy()
	inst.mat = nil
	inst.det.Destroy()
	inst.det = nil
	inst.mem.Destroy()
	inst.mem = nil
	if inst.dev != nil && inst.dev.Handle != nil {
		vk.DestroyDevice(inst.dev.Handle, nil)
	}
	inst.dev = nil
	logger().Info("instance destroyed", "component", "instance")
}
