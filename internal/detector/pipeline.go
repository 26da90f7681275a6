// Copyright 2026 The vulkansift-go Authors
// SPDX-License-Identifier: MIT

package detector

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/maelaubert/vulkansift-go/internal/shaderset"
)

// Stage is one compute-shader kernel: its pipeline, descriptor-set layout
// and pipeline layout, plus the push-constant byte size it was built for.
// Detector creates one Stage per kernel (blur, blur-interpolated, dog,
// extract, orient, describe); Matcher creates its own for the match kernel.
type Stage struct {
	device         vk.Device
	module         vk.ShaderModule
	descSetLayout  vk.DescriptorSetLayout
	pipelineLayout vk.PipelineLayout
	pipeline       vk.Pipeline
	pushConstSize  uint32
}

// BindingKind distinguishes storage buffers from storage/sampled images
// when building a Stage's descriptor-set layout.
type BindingKind int

const (
	BindStorageBuffer BindingKind = iota
	BindStorageImage
	BindSampledImage
)

// BindingSpec is one descriptor-set-layout slot: its resource kind and
// array length (1 for an ordinary single binding; >1 for the extract
// kernel's per-scale DoG image array, bound as a single
// `image2D dog[]`-style binding instead of one binding per scale).
type BindingSpec struct {
	Kind  BindingKind
	Count uint32
}

// Binding builds a BindingSpec with Count 1, the common case.
func Binding(kind BindingKind) BindingSpec { return BindingSpec{Kind: kind, Count: 1} }

// LoadStage loads shaderName's SPIR-V binary via internal/shaderset, builds
// a descriptor-set layout from bindings (one entry per binding slot, in
// order) and creates a single compute pipeline with a push-constant range
// of pushConstBytes (0 if the kernel takes none).
func LoadStage(device vk.Device, shaderName string, bindings []BindingSpec, pushConstBytes uint32) (*Stage, error) {
	code, err := shaderset.Load(shaderName)
	if err != nil {
		return nil, fmt.Errorf("load shader %q: %w", shaderName, err)
	}

	moduleInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code)),
		PCode:    sliceToU32Ptr(code),
	}
	var module vk.ShaderModule
	if res := vk.CreateShaderModule(device, &moduleInfo, nil, &module); res != vk.Success {
		return nil, fmt.Errorf("vkCreateShaderModule(%s) failed: %d", shaderName, res)
	}

	layoutBindings := make([]vk.DescriptorSetLayoutBinding, len(bindings))
	for i, b := range bindings {
		count := b.Count
		if count == 0 {
			count = 1
		}
		layoutBindings[i] = vk.DescriptorSetLayoutBinding{
			Binding:         uint32(i),
			DescriptorType:  descriptorType(b.Kind),
			DescriptorCount: count,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageComputeBit),
		}
	}
	dslInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(layoutBindings)),
	}
	if len(layoutBindings) > 0 {
		dslInfo.PBindings = &layoutBindings[0]
	}
	var dsl vk.DescriptorSetLayout
	if res := vk.CreateDescriptorSetLayout(device, &dslInfo, nil, &dsl); res != vk.Success {
		vk.DestroyShaderModule(device, module, nil)
		return nil, fmt.Errorf("vkCreateDescriptorSetLayout(%s) failed: %d", shaderName, res)
	}

	plInfo := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: 1,
		PSetLayouts:    []vk.DescriptorSetLayout{dsl},
	}
	var pushRange vk.PushConstantRange
	if pushConstBytes > 0 {
		pushRange = vk.PushConstantRange{
			StageFlags: vk.ShaderStageFlags(vk.ShaderStageComputeBit),
			Offset:     0,
			Size:       pushConstBytes,
		}
		plInfo.PushConstantRangeCount = 1
		plInfo.PPushConstantRanges = []vk.PushConstantRange{pushRange}
	}
	var pipelineLayout vk.PipelineLayout
	if res := vk.CreatePipelineLayout(device, &plInfo, nil, &pipelineLayout); res != vk.Success {
		vk.DestroyDescriptorSetLayout(device, dsl, nil)
		vk.DestroyShaderModule(device, module, nil)
		return nil, fmt.Errorf("vkCreatePipelineLayout(%s) failed: %d", shaderName, res)
	}

	entry := cstrDetector("main")
	stageInfo := vk.PipelineShaderStageCreateInfo{
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  vk.ShaderStageComputeBit,
		Module: module,
		PName:  entry,
	}
	createInfo := vk.ComputePipelineCreateInfo{
		SType:  vk.StructureTypeComputePipelineCreateInfo,
		Stage:  stageInfo,
		Layout: pipelineLayout,
	}
	pipelines := make([]vk.Pipeline, 1)
	if res := vk.CreateComputePipelines(device, nil, 1, []vk.ComputePipelineCreateInfo{createInfo}, nil, pipelines); res != vk.Success {
		vk.DestroyPipelineLayout(device, pipelineLayout, nil)
		vk.DestroyDescriptorSetLayout(device, dsl, nil)
		vk.DestroyShaderModule(device, module, nil)
		return nil, fmt.Errorf("vkCreateComputePipelines(%s) failed: %d", shaderName, res)
	}

	return &Stage{
		device:         device,
		module:         module,
		descSetLayout:  dsl,
		pipelineLayout: pipelineLayout,
		pipeline:       pipelines[0],
		pushConstSize:  pushConstBytes,
	}, nil
}

// Pipeline returns the stage's compute pipeline handle.
func (s *Stage) Pipeline() vk.Pipeline { return s.pipeline }

// PipelineLayout returns the stage's pipeline layout handle.
func (s *Stage) PipelineLayout() vk.PipelineLayout { return s.pipelineLayout }

// DescSetLayout returns the stage's descriptor-set layout handle.
func (s *Stage) DescSetLayout() vk.DescriptorSetLayout { return s.descSetLayout }

// Destroy releases every Vulkan object the stage owns. Idempotent.
func (s *Stage) Destroy() {
	if s == nil {
		return
	}
	if s.pipeline != nil {
		vk.DestroyPipeline(s.device, s.pipeline, nil)
		s.pipeline = nil
	}
	if s.pipelineLayout != nil {
		vk.DestroyPipelineLayout(s.device, s.pipelineLayout, nil)
		s.pipelineLayout = nil
	}
	if s.descSetLayout != nil {
		vk.DestroyDescriptorSetLayout(s.device, s.descSetLayout, nil)
		s.descSetLayout = nil
	}
	if s.module != nil {
		vk.DestroyShaderModule(s.device, s.module, nil)
		s.module = nil
	}
}

func descriptorType(kind BindingKind) vk.DescriptorType {
	switch kind {
	case BindStorageBuffer:
		return vk.DescriptorTypeStorageBuffer
	case BindSampledImage:
		return vk.DescriptorTypeCombinedImageSampler
	default:
		return vk.DescriptorTypeStorageImage
	}
}

// DescriptorPool is a fixed-size pool from which the detector allocates
// one descriptor set per dispatch; it is reset at the start of every
// command-buffer recording.
type DescriptorPool struct {
	device vk.Device
	handle vk.DescriptorPool
}

// NewDescriptorPool sizes the pool for maxSets sets drawing from storage
// buffers, storage images and combined-image-samplers in roughly equal
// share; the six detector kernels and the matcher together need at most a
// few dozen descriptors per set, so the pool is sized generously rather
// than computed exactly.
func NewDescriptorPool(device vk.Device, maxSets uint32) (*DescriptorPool, error) {
	sizes := []vk.DescriptorPoolSize{
		{Type: vk.DescriptorTypeStorageBuffer, DescriptorCount: maxSets * 8},
		{Type: vk.DescriptorTypeStorageImage, DescriptorCount: maxSets * 8},
		{Type: vk.DescriptorTypeCombinedImageSampler, DescriptorCount: maxSets * 8},
	}
	info := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		Flags:         vk.DescriptorPoolCreateFlags(vk.DescriptorPoolCreateFreeDescriptorSetBit),
		MaxSets:       maxSets,
		PoolSizeCount: uint32(len(sizes)),
		PPoolSizes:    &sizes[0],
	}
	var handle vk.DescriptorPool
	if res := vk.CreateDescriptorPool(device, &info, nil, &handle); res != vk.Success {
		return nil, fmt.Errorf("vkCreateDescriptorPool failed: %d", res)
	}
	return &DescriptorPool{device: device, handle: handle}, nil
}

// Reset frees every set allocated from the pool without destroying it,
// used before rebuilding descriptor sets after a resolution change.
func (p *DescriptorPool) Reset() {
	if p == nil || p.handle == nil {
		return
	}
	vk.ResetDescriptorPool(p.device, p.handle, 0)
}

// Destroy releases the pool. Idempotent.
func (p *DescriptorPool) Destroy() {
	if p == nil || p.handle == nil {
		return
	}
	vk.DestroyDescriptorPool(p.device, p.handle, nil)
	p.handle = nil
}

// Allocate allocates one descriptor set using layout.
func (p *DescriptorPool) Allocate(layout vk.DescriptorSetLayout) (vk.DescriptorSet, error) {
	info := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     p.handle,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{layout},
	}
	sets := make([]vk.DescriptorSet, 1)
	if res := vk.AllocateDescriptorSets(p.device, &info, sets); res != vk.Success {
		return nil, fmt.Errorf("vkAllocateDescriptorSets failed: %d", res)
	}
	return sets[0], nil
}

func cstrDetector(s string) *int8 {
	b := append([]byte(s), 0)
	p := (*int8)((ptrOf(&b[0])))
	return p
}
