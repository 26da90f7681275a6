// Copyright 2026 The vulkansift-go Authors
// SPDX-License-Identifier: MIT

package sift

import "fmt"

// PyramidPrecision selects the texel format used for every scale-space
// image (Gaussian pyramid and DoG pyramid).
type PyramidPrecision int

const (
	// PrecisionFloat16 halves pyramid memory footprint and bandwidth at the
	// cost of a small loss of precision in extremum refinement.
	PrecisionFloat16 PyramidPrecision = iota
	// PrecisionFloat32 keeps full precision throughout the pyramid at twice
	// the memory cost.
	PrecisionFloat32
)

func (p PyramidPrecision) String() string {
	if p == PrecisionFloat16 {
		return "float16"
	}
	return "float32"
}

// Config lists every option consumed at instance creation. Nothing here can
// change after NewInstance succeeds; a new resolution, octave count or
// buffer layout is derived automatically from images passed to Detect.
type Config struct {
	// InputImageMaxSize bounds width*height for any image passed to Detect.
	// Used to size the permanent staging buffer at creation time.
	InputImageMaxSize uint32
	// SiftBufferCount is the number of independent SIFT buffers (N) the
	// instance reserves. Matching requires at least 2.
	SiftBufferCount uint32
	// MaxNbSiftPerBuffer bounds the number of features a single buffer can
	// hold; also bounds matching work (see internal/matcher).
	MaxNbSiftPerBuffer uint32

	// UseInputUpsampling doubles the input resolution (bilinear) before
	// octave 0 is built, trading processing time for more keypoints.
	UseInputUpsampling bool
	// NbOctaves pins the octave count; 0 selects it automatically from the
	// input resolution (see ComputeOctaveCount).
	NbOctaves uint8
	// NbScalesPerOctave is "s" in Lowe's notation; each octave carries
	// NbScalesPerOctave+3 Gaussian levels and NbScalesPerOctave+2 DoG levels.
	NbScalesPerOctave uint8
	// InputImageBlurLevel is the assumed blur (sigma) already present in
	// the input image, subtracted when building the seed blur kernel.
	InputImageBlurLevel float32
	// SeedScaleSigma is sigma_0, the blur level of octave 0 scale 0.
	SeedScaleSigma float32
	// IntensityThreshold rejects DoG extrema with |response| below
	// IntensityThreshold/NbScalesPerOctave.
	IntensityThreshold float32
	// EdgeThreshold rejects DoG extrema whose principal-curvature ratio
	// exceeds (EdgeThreshold+1)^2/EdgeThreshold.
	EdgeThreshold float32
	// MaxNbOrientationPerKeypoint caps the number of additional oriented
	// copies emitted per keypoint; 0 means no cap.
	MaxNbOrientationPerKeypoint uint8

	// GPUDeviceIndex pins GPU selection; <0 selects automatically (see
	// internal/device's API.CreateDevice).
	GPUDeviceIndex int32
	// UseHardwareInterpolatedBlur selects the bilinear-sampler blur kernel
	// variant instead of the direct-tap kernel.
	UseHardwareInterpolatedBlur bool
	// PyramidPrecisionMode selects the pyramid image texel format.
	PyramidPrecisionMode PyramidPrecision
}

// DefaultConfig returns reasonable defaults for desktop-class GPUs.
func DefaultConfig() Config {
	return Config{
		InputImageMaxSize:           1920 * 1080,
		SiftBufferCount:             2,
		MaxNbSiftPerBuffer:          100000,
		UseInputUpsampling:          true,
		NbOctaves:                   0,
		NbScalesPerOctave:           3,
		InputImageBlurLevel:         0.5,
		SeedScaleSigma:              1.6,
		IntensityThreshold:          0.04,
		EdgeThreshold:               10,
		MaxNbOrientationPerKeypoint: 0,
		GPUDeviceIndex:              -1,
		UseHardwareInterpolatedBlur: true,
		PyramidPrecisionMode:        PrecisionFloat32,
	}
}

// validate checks every precondition instance creation requires. It never
// mutates c.
func (c Config) validate() error {
	switch {
	case c.InputImageMaxSize == 0:
		return fmt.Errorf("input_image_max_size must be positive")
	case c.SiftBufferCount == 0:
		return fmt.Errorf("sift_buffer_count must be positive")
	case c.MaxNbSiftPerBuffer == 0:
		return fmt.Errorf("max_nb_sift_per_buffer must be positive")
	case c.NbScalesPerOctave == 0:
		return fmt.Errorf("nb_scales_per_octave must be positive")
	case c.SeedScaleSigma <= 0:
		return fmt.Errorf("seed_scale_sigma must be positive")
	case c.IntensityThreshold < 0:
		return fmt.Errorf("intensity_threshold must not be negative")
	case c.EdgeThreshold < 0:
		return fmt.Errorf("edge_threshold must not be negative")
	}

	upsampleFactor := float32(1)
	if c.UseInputUpsampling {
		upsampleFactor = 2
	}
	if c.InputImageBlurLevel*upsampleFactor > c.SeedScaleSigma {
		return fmt.Errorf("input_image_blur_level*upsample_factor (%f) exceeds seed_scale_sigma (%f)",
			c.InputImageBlurLevel*upsampleFactor, c.SeedScaleSigma)
	}

	switch c.PyramidPrecisionMode {
	case PrecisionFloat16, PrecisionFloat32:
	default:
		return fmt.Errorf("unknown pyramid precision mode %v", c.PyramidPrecisionMode)
	}

	return nil
}

// LogLevel is the library's own log-level enum; it maps onto slog levels in
// api.go.
type LogLevel int

const (
	LogNone LogLevel = iota
	LogError
	LogWarning
	LogInfo
	LogDebug
)
