// Copyright 2026 The vulkansift-go Authors
// SPDX-License-Identifier: MIT

package memory

import vk "github.com/goki/vulkan"

// FeatureSize and MatchSize mirror the root package's wire sizes without an
// import cycle; internal/memory only needs the byte counts to size buffers
// and compute section offsets.
const (
	FeatureSize = 164
	MatchSize   = 20
)

// BufferLayout describes how one SIFT buffer's bytes are organized: a
// per-octave header of (count, capacity) uint32 pairs followed either by
// fixed-capacity sections (one per octave, "sectioned") or, after
// PrepareForMatching compacts it, a single contiguous run of features
// ("packed"). The header occupies 2*maxOctaves uint32s regardless of how
// many octaves the current input actually uses, so the layout never moves
// when resolution changes as long as maxOctaves doesn't.
type BufferLayout struct {
	MaxOctaves     uint8
	HeaderSize     vk.DeviceSize
	SectionOffsets []vk.DeviceSize // len == MaxOctaves, byte offset of section o's first feature
	SectionCap     []uint32        // capacity in features of section o (0 for unused octaves)
	TotalSize      vk.DeviceSize
}

// NewBufferLayout derives a sectioned layout for nbOctaves active sections
// against a header sized for maxOctaves: the header is always sized for the
// configured maximum so a buffer never needs reallocation when the active
// octave count changes.
func NewBufferLayout(maxNbSiftPerBuffer uint32, maxOctaves uint8, activeOctaves uint8) BufferLayout {
	header := vk.DeviceSize(4 * 2 * int(maxOctaves))
	caps := make([]uint32, maxOctaves)
	copy(caps, sectionCapacities(maxNbSiftPerBuffer, activeOctaves))

	offsets := make([]vk.DeviceSize, maxOctaves)
	cursor := header
	for o := range offsets {
		offsets[o] = cursor
		cursor += vk.DeviceSize(caps[o]) * FeatureSize
	}

	return BufferLayout{
		MaxOctaves:     maxOctaves,
		HeaderSize:     header,
		SectionOffsets: offsets,
		SectionCap:     caps,
		TotalSize:      header + vk.DeviceSize(maxNbSiftPerBuffer)*FeatureSize,
	}
}

// sectionCapacities is the same derivation as the root package's
// octave.go:SectionCapacities, duplicated here so internal/memory has no
// dependency on the root package (avoiding an import cycle, since the root
// package imports internal/memory). Any remainder floor() leaves on the
// table is handed to octave 0, so a budget too small for every octave to
// round up to at least 1 still spends entirely on octave 0 instead of
// evaporating to all-zero sections.
func sectionCapacities(maxPerBuffer uint32, nbOctaves uint8) []uint32 {
	if nbOctaves == 0 {
		return nil
	}
	halvesSum := float64(maxPerBuffer) * (1 - pow(0.5, nbOctaves))
	corrector := float64(maxPerBuffer) / halvesSum
	caps := make([]uint32, nbOctaves)
	var sum uint32
	for o := range caps {
		caps[o] = uint32(pow(0.5, uint8(o+1)) * float64(maxPerBuffer) * corrector)
		sum += caps[o]
	}
	if sum < maxPerBuffer {
		caps[0] += maxPerBuffer - sum
	}
	return caps
}

func pow(base float64, exp uint8) float64 {
	r := 1.0
	for i := uint8(0); i < exp; i++ {
		r *= base
	}
	return r
}

// DedicatedBufferSize returns the fixed byte size used for every SIFT
// buffer: header + max_nb_sift_per_buffer features, independent of how
// many are ever written. The feature staging buffer has no header and is
// sized for the features alone.
func DedicatedBufferSize(maxNbSiftPerBuffer uint32, maxOctaves uint8) vk.DeviceSize {
	return vk.DeviceSize(4*2*int(maxOctaves)) + vk.DeviceSize(maxNbSiftPerBuffer)*FeatureSize
}
