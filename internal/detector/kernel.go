// Copyright 2026 The vulkansift-go Authors
// SPDX-License-Identifier: MIT

// Package detector records and dispatches the fixed compute pipeline (blur,
// DoG, extract, orient, describe) that turns one input image into a SIFT
// feature slice, for every octave, inside a single primary command buffer.
//
// Grounded on vulkansift's sift_detector.c (stage ordering, kernel
// precomputation, push-constant shapes) re-expressed with
// github.com/goki/vulkan in the style of internal/memory and
// internal/vkutil.
package detector

import (
	"math"

	"golang.org/x/image/math/f32"
)

// MaxKernelTaps is the largest number of Gaussian taps (the full symmetric
// kernel, both sides and the centre) the direct blur push constant can
// carry.
const MaxKernelTaps = 20

// GaussianKernel returns the symmetric 1-D Gaussian kernel of the given
// sigma, with radius ceil(3*sigma) (at least 1, and capped so the length
// 2*radius+1 never exceeds MaxKernelTaps), centered at index len/2.
// Coefficients sum to 1.
func GaussianKernel(sigma float32) []float32 {
	if sigma <= 0 {
		return []float32{1}
	}
	radius := int(math.Ceil(float64(sigma) * 3))
	if radius < 1 {
		radius = 1
	}
	// MaxKernelTaps bounds the full symmetric kernel's length, not its
	// radius: the blur push-constant block (3*4 header bytes plus
	// MaxKernelTaps*4 tap bytes) has room for exactly MaxKernelTaps taps
	// total, so 2*radius+1 must never exceed it.
	if maxRadius := (MaxKernelTaps - 1) / 2; radius > maxRadius {
		radius = maxRadius
	}
	n := 2*radius + 1
	k := make([]float32, n)
	sum := float32(0)
	s2 := 2 * sigma * sigma
	for i := 0; i < n; i++ {
		x := float32(i - radius)
		v := float32(math.Exp(float64(-x * x / s2)))
		k[i] = v
		sum += v
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

// BlurSigma returns the sigma of the Gaussian kernel that must be applied
// to scale s-1 to reach scale s within an octave (incremental blur, not
// absolute blur), following Lowe's construction:
// sigma_total(s) = sigma_0 * 2^(s/nbScales), sigma_incremental(s) =
// sqrt(sigma_total(s)^2 - sigma_total(s-1)^2).
func BlurSigma(sigma0 float32, nbScales uint8, s int) float32 {
	total := func(i int) float64 {
		return float64(sigma0) * math.Pow(2, float64(i)/float64(nbScales))
	}
	if s == 0 {
		return sigma0
	}
	cur, prev := total(s), total(s-1)
	d := cur*cur - prev*prev
	if d < 0 {
		d = 0
	}
	return float32(math.Sqrt(d))
}

// SeedSigma returns the octave-0 seed kernel sigma needed to bring the
// assumed input blur sigmaIn up to the configured seed scale sigma0.
// sigmaIn is the blur of the original input; it is doubled here when the
// input is upsampled.
func SeedSigma(sigma0, sigmaIn float32, upsampled bool) float32 {
	in := sigmaIn
	if upsampled {
		in *= 2
	}
	d := sigma0*sigma0 - in*in
	if d < 0 {
		d = 0
	}
	return float32(math.Sqrt(float64(d)))
}

// TapPair is one hardware-interpolated-blur sampler tap: a bilinear fetch
// at the given signed texel offset with the given combined weight. Stored
// as an f32.Vec2 (offset, weight) since that is exactly the push-constant
// encoding the blur_interpolated shader expects: two packed floats per tap.
type TapPair f32.Vec2

// Offset is the tap's signed texel offset.
func (t TapPair) Offset() float32 { return t[0] }

// Weight is the tap's combined sampler weight.
func (t TapPair) Weight() float32 { return t[1] }

// InterpolatedTaps halves a symmetric direct kernel's fetch count by
// combining kernel pairs (c_i, c_{i+1}) into one bilinear-sampler tap:
// offset = (i*c_i + (i+1)*c_{i+1}) / (c_i + c_{i+1}), weight =
// c_i + c_{i+1}. The kernel's central tap (offset 0) is kept as its own
// pair with weight equal to the central coefficient, since it has no
// partner to combine with.
func InterpolatedTaps(kernel []float32) []TapPair {
	radius := len(kernel) / 2
	// kernel is symmetric about radius; work from the center outward over
	// the non-negative half, which alone determines the whole kernel.
	half := kernel[radius:]

	pairs := make([]TapPair, 0, (len(half)+1)/2+1)
	pairs = append(pairs, TapPair{0, half[0]})

	i := 1
	for i < len(half) {
		c0 := half[i]
		if i+1 < len(half) {
			c1 := half[i+1]
			offset := (float32(i)*c0 + float32(i+1)*c1) / (c0 + c1)
			pairs = append(pairs, TapPair{offset, c0 + c1})
			i += 2
		} else {
			pairs = append(pairs, TapPair{float32(i), c0})
			i++
		}
	}
	return pairs
}
