// Copyright 2026 The vulkansift-go Authors
// SPDX-License-Identifier: MIT

package sift

import (
	"encoding/binary"
	"math"
)

// DescriptorSize is the length in bytes of a quantized SIFT descriptor: 4x4
// spatial cells times 8 orientation bins.
const DescriptorSize = 4 * 4 * 8 // 128

// FeatureSize is the exact on-wire size of a Feature record in bytes,
// matching the GPU's packed layout byte-for-byte between host and device.
const FeatureSize = 4 + 4 + 4 + 4 + 4 + 4 + 4 + 4 + 4 + DescriptorSize // 164

// MatchSize is the exact on-wire size of a Match record in bytes.
const MatchSize = 4 + 4 + 4 + 4 + 4 // 20

// Feature is one SIFT keypoint plus its descriptor, laid out exactly as the
// GPU writes it so the host struct can be used as the target of a raw byte
// copy (see internal/memory's staging readback).
type Feature struct {
	X, Y         float32
	OrigX, OrigY uint32
	ScaleIndex   uint32
	Sigma        float32
	ScaleFactor  float32
	Theta        float32
	Value        float32
	Descriptor   [DescriptorSize]byte
}

// Match is one brute-force 2-NN result.
type Match struct {
	A, B1, B2 uint32
	DistAB1   float32
	DistAB2   float32
}

// MarshalBinary encodes f in the on-wire layout (little-endian, matching
// the GPU's native byte order on every platform the driver targets).
func (f Feature) MarshalBinary() []byte {
	buf := make([]byte, FeatureSize)
	putFeature(buf, f)
	return buf
}

// UnmarshalFeature decodes one Feature record from buf[0:FeatureSize].
func UnmarshalFeature(buf []byte) Feature {
	var f Feature
	le := binary.LittleEndian
	f.X = float32frombits(le.Uint32(buf[0:4]))
	f.Y = float32frombits(le.Uint32(buf[4:8]))
	f.OrigX = le.Uint32(buf[8:12])
	f.OrigY = le.Uint32(buf[12:16])
	f.ScaleIndex = le.Uint32(buf[16:20])
	f.Sigma = float32frombits(le.Uint32(buf[20:24]))
	f.ScaleFactor = float32frombits(le.Uint32(buf[24:28]))
	f.Theta = float32frombits(le.Uint32(buf[28:32]))
	f.Value = float32frombits(le.Uint32(buf[32:36]))
	copy(f.Descriptor[:], buf[36:36+DescriptorSize])
	return f
}

func putFeature(buf []byte, f Feature) {
	le := binary.LittleEndian
	le.PutUint32(buf[0:4], float32bits(f.X))
	le.PutUint32(buf[4:8], float32bits(f.Y))
	le.PutUint32(buf[8:12], f.OrigX)
	le.PutUint32(buf[12:16], f.OrigY)
	le.PutUint32(buf[16:20], f.ScaleIndex)
	le.PutUint32(buf[20:24], float32bits(f.Sigma))
	le.PutUint32(buf[24:28], float32bits(f.ScaleFactor))
	le.PutUint32(buf[28:32], float32bits(f.Theta))
	le.PutUint32(buf[32:36], float32bits(f.Value))
	copy(buf[36:36+DescriptorSize], f.Descriptor[:])
}

// EncodeFeatures packs features into a contiguous byte slice, used when
// uploading to, or comparing against, the GPU's packed buffer layout.
func EncodeFeatures(features []Feature) []byte {
	buf := make([]byte, len(features)*FeatureSize)
	for i, f := range features {
		putFeature(buf[i*FeatureSize:(i+1)*FeatureSize], f)
	}
	return buf
}

// DecodeFeatures is the inverse of EncodeFeatures.
func DecodeFeatures(buf []byte) []Feature {
	n := len(buf) / FeatureSize
	out := make([]Feature, n)
	for i := range out {
		out[i] = UnmarshalFeature(buf[i*FeatureSize : (i+1)*FeatureSize])
	}
	return out
}

// MarshalBinary encodes m in the on-wire layout.
func (m Match) MarshalBinary() []byte {
	buf := make([]byte, MatchSize)
	putMatch(buf, m)
	return buf
}

func putMatch(buf []byte, m Match) {
	le := binary.LittleEndian
	le.PutUint32(buf[0:4], m.A)
	le.PutUint32(buf[4:8], m.B1)
	le.PutUint32(buf[8:12], m.B2)
	le.PutUint32(buf[12:16], float32bits(m.DistAB1))
	le.PutUint32(buf[16:20], float32bits(m.DistAB2))
}

// UnmarshalMatch decodes one Match record from buf[0:MatchSize].
func UnmarshalMatch(buf []byte) Match {
	le := binary.LittleEndian
	return Match{
		A:       le.Uint32(buf[0:4]),
		B1:      le.Uint32(buf[4:8]),
		B2:      le.Uint32(buf[8:12]),
		DistAB1: float32frombits(le.Uint32(buf[12:16])),
		DistAB2: float32frombits(le.Uint32(buf[16:20])),
	}
}

// DecodeMatches decodes a contiguous byte slice of N Match records.
func DecodeMatches(buf []byte) []Match {
	n := len(buf) / MatchSize
	out := make([]Match, n)
	for i := range out {
		out[i] = UnmarshalMatch(buf[i*MatchSize : (i+1)*MatchSize])
	}
	return out
}

// IsGoodMatch applies Lowe's ratio test on the host side; the GPU matcher
// kernel never filters.
func IsGoodMatch(m Match, ratio float32) bool {
	if ratio <= 0 {
		ratio = 0.75
	}
	return m.DistAB1 < ratio*m.DistAB2
}

func float32bits(f float32) uint32     { return math.Float32bits(f) }
func float32frombits(b uint32) float32 { return math.Float32frombits(b) }
