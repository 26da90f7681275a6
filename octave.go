// Copyright 2026 The vulkansift-go Authors
// SPDX-License-Identifier: MIT

package sift

import "math"

// OctaveResolution is one row of the octave resolution table.
type OctaveResolution struct {
	Width, Height uint32
}

// ComputeOctaveCount derives how many pyramid octaves an image supports:
//
//	O = clamp(floor(log2(min(W,H))) - 4 + (upsample?2:1), 1, max_octaves)
//
// maxOctaves == 0 means "no explicit cap"; the clamp upper bound is then
// effectively the value computed from the image itself.
func ComputeOctaveCount(w, h uint32, upsample bool, maxOctaves uint8) uint8 {
	minDim := w
	if h < minDim {
		minDim = h
	}
	shift := 1
	if upsample {
		shift = 2
	}
	o := int(math.Floor(math.Log2(float64(minDim)))) - 4 + shift
	if o < 1 {
		o = 1
	}
	if maxOctaves > 0 && o > int(maxOctaves) {
		o = int(maxOctaves)
	}
	if o > 255 {
		o = 255
	}
	return uint8(o)
}

// OctaveResolutions builds the per-octave width/height table. Invariant:
// w_o = floor(W_input / (2^o * s)) where s = 0.5 if upsampling else 1,
// height analogous. ComputeOctaveCount's count keeps the smallest octave's
// dimensions >= 16 whenever octave 0 is at least 16 pixels on its smaller
// side; for smaller inputs it still returns 1, and neither this function
// nor Instance.Detect rejects them (minOctaveDimOK reports the condition).
func OctaveResolutions(w, h uint32, upsample bool, nbOctaves uint8) []OctaveResolution {
	s := 1.0
	if upsample {
		s = 0.5
	}
	res := make([]OctaveResolution, nbOctaves)
	for o := uint8(0); o < nbOctaves; o++ {
		div := math.Pow(2, float64(o)) * s
		res[o] = OctaveResolution{
			Width:  uint32(math.Floor(float64(w) / div)),
			Height: uint32(math.Floor(float64(h) / div)),
		}
	}
	return res
}

// minOctaveDimOK reports whether the smallest octave would still have both
// dimensions >= 16, the minimum resolution a pyramid level can usefully hold.
func minOctaveDimOK(w, h uint32, upsample bool, nbOctaves uint8) bool {
	if nbOctaves == 0 {
		return false
	}
	res := OctaveResolutions(w, h, upsample, nbOctaves)
	last := res[len(res)-1]
	return last.Width >= 16 && last.Height >= 16
}

// SectionCapacities derives each octave's share of a SIFT buffer's feature
// budget: a halving share per octave, normalized by a multiplicative
// corrector so the shares sum as close to maxPerBuffer as floor() rounding
// allows. Whatever floor() leaves on the table is handed to octave 0 (the
// largest share, and the only one guaranteed nonzero), so a budget too
// small for every octave to round up to at least 1 still spends entirely on
// octave 0 rather than evaporating to all-zero sections.
func SectionCapacities(maxPerBuffer uint32, nbOctaves uint8) []uint32 {
	if nbOctaves == 0 {
		return nil
	}
	// The sum of the first O halves of max converges to max as O grows; for
	// finite O it falls short by the Oth half: halvesSum = max*(1-0.5^O).
	halvesSum := float64(maxPerBuffer) * (1 - math.Pow(0.5, float64(nbOctaves)))
	corrector := float64(maxPerBuffer) / halvesSum

	caps := make([]uint32, nbOctaves)
	var sum uint32
	for o := range caps {
		caps[o] = uint32(math.Floor(math.Pow(0.5, float64(o+1)) * float64(maxPerBuffer) * corrector))
		sum += caps[o]
	}
	if sum < maxPerBuffer {
		caps[0] += maxPerBuffer - sum
	}
	return caps
}
