// Copyright 2026 The vulkansift-go Authors
// SPDX-License-Identifier: MIT

package memory

import (
	"fmt"

	vk "github.com/goki/vulkan"
)

// Format selects the pyramid texel format; mirrors sift.PyramidPrecision
// without importing the root package (internal packages stay leaves).
type Format int

const (
	FormatR16Sfloat Format = iota
	FormatR32Sfloat
)

func (f Format) vkFormat() vk.Format {
	if f == FormatR16Sfloat {
		return vk.FormatR16Sfloat
	}
	return vk.FormatR32Sfloat
}

func (f Format) texelSize() vk.DeviceSize {
	if f == FormatR16Sfloat {
		return 2
	}
	return 4
}

// Image2D is a single-mip, single-sample VkImage with its own view and a
// dedicated GrowRegion, sized for one octave level. Gaussian and DoG pyramid
// levels, the input image, and the blur scratch image are all this shape;
// only usage flags and format differ.
type Image2D struct {
	device vk.Device
	Handle vk.Image
	View   vk.ImageView
	Width  uint32
	Height uint32
	Format Format
	region *GrowRegion
}

// CreateImage2D creates, allocates and binds one 2D image, then builds its
// default view. usage follows Vulkan's VkImageUsageFlags directly since the
// set of combinations this package needs (sampled+storage, storage-only,
// transfer-src) doesn't benefit from a narrower wrapper type.
func CreateImage2D(device vk.Device, selector *TypeSelector, w, h uint32, format Format, usage vk.ImageUsageFlagBits) (*Image2D, error) {
	info := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    format.vkFormat(),
		Extent:    vk.Extent3D{Width: w, Height: h, Depth: 1},
		MipLevels: 1,
		ArrayLayers: 1,
		Samples:     vk.SampleCount1Bit,
		Tiling:      vk.ImageTilingOptimal,
		Usage:       vk.ImageUsageFlags(usage),
		SharingMode: vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}

	var handle vk.Image
	if res := vk.CreateImage(device, &info, nil, &handle); res != vk.Success {
		return nil, fmt.Errorf("vkCreateImage(%dx%d) failed: %d", w, h, res)
	}

	var req vk.MemoryRequirements
	vk.GetImageMemoryRequirements(device, handle, &req)
	req.Deref()

	region := NewGrowRegion(device, selector, UsageDeviceLocal)
	if err := region.Reserve(req.Size, req.MemoryTypeBits); err != nil {
		vk.DestroyImage(device, handle, nil)
		return nil, err
	}
	if err := region.BindImage(handle); err != nil {
		region.Destroy()
		vk.DestroyImage(device, handle, nil)
		return nil, err
	}

	viewInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    handle,
		ViewType: vk.ImageViewType2d,
		Format:   format.vkFormat(),
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LevelCount:     1,
			LayerCount:     1,
		},
	}
	var view vk.ImageView
	if res := vk.CreateImageView(device, &viewInfo, nil, &view); res != vk.Success {
		region.Destroy()
		vk.DestroyImage(device, handle, nil)
		return nil, fmt.Errorf("vkCreateImageView failed: %d", res)
	}

	return &Image2D{device: device, Handle: handle, View: view, Width: w, Height: h, Format: format, region: region}, nil
}

// Destroy releases the view, image and backing memory. Idempotent.
func (img *Image2D) Destroy() {
	if img == nil {
		return
	}
	if img.View != nil {
		vk.DestroyImageView(img.device, img.View, nil)
		img.View = nil
	}
	if img.Handle != nil {
		vk.DestroyImage(img.device, img.Handle, nil)
		img.Handle = nil
	}
	if img.region != nil {
		img.region.Destroy()
		img.region = nil
	}
}

// OctaveImages holds one octave's worth of pyramid levels: the Gaussian
// scale-space (NbScalesPerOctave+3 levels), the DoG stack
// (NbScalesPerOctave+2 levels) and a single scratch image reused by the
// separable blur passes' horizontal step.
type OctaveImages struct {
	Width, Height uint32
	Gaussian      []*Image2D
	DoG           []*Image2D
	BlurScratch   *Image2D
}

// CreateOctaveImages allocates every image one octave needs. nbScales is
// the configured NbScalesPerOctave ("s"); the Gaussian stack always carries
// s+3 levels and DoG s+2.
func CreateOctaveImages(device vk.Device, selector *TypeSelector, w, h uint32, nbScales uint8, format Format) (*OctaveImages, error) {
	const sampledStorage = vk.ImageUsageFlagBits(vk.ImageUsageSampledBit | vk.ImageUsageStorageBit | vk.ImageUsageTransferSrcBit | vk.ImageUsageTransferDstBit)

	oi := &OctaveImages{Width: w, Height: h}
	nGaussian := int(nbScales) + 3
	nDoG := int(nbScales) + 2

	for i := 0; i < nGaussian; i++ {
		im, err := CreateImage2D(device, selector, w, h, format, sampledStorage)
		if err != nil {
			oi.Destroy()
			return nil, fmt.Errorf("gaussian level %d: %w", i, err)
		}
		oi.Gaussian = append(oi.Gaussian, im)
	}
	for i := 0; i < nDoG; i++ {
		im, err := CreateImage2D(device, selector, w, h, format, sampledStorage)
		if err != nil {
			oi.Destroy()
			return nil, fmt.Errorf("dog level %d: %w", i, err)
		}
		oi.DoG = append(oi.DoG, im)
	}
	scratch, err := CreateImage2D(device, selector, w, h, format, sampledStorage)
	if err != nil {
		oi.Destroy()
		return nil, fmt.Errorf("blur scratch: %w", err)
	}
	oi.BlurScratch = scratch

	return oi, nil
}

// Destroy releases every image in the octave. Idempotent.
func (oi *OctaveImages) Destroy() {
	if oi == nil {
		return
	}
	for _, im := range oi.Gaussian {
		im.Destroy()
	}
	for _, im := range oi.DoG {
		im.Destroy()
	}
	oi.BlurScratch.Destroy()
	oi.Gaussian = nil
	oi.DoG = nil
	oi.BlurScratch = nil
}
