// Copyright 2026 The vulkansift-go Authors
// SPDX-License-Identifier: MIT

package sift

import (
	"math"
	"testing"
)

func sampleFeature() Feature {
	var f Feature
	f.X, f.Y = 12.5, 34.25
	f.OrigX, f.OrigY = 12, 34
	f.ScaleIndex = 2
	f.Sigma = 1.6
	f.ScaleFactor = 4.0
	f.Theta = float32(math.Pi / 3)
	f.Value = 0.0421
	for i := range f.Descriptor {
		f.Descriptor[i] = byte(i)
	}
	return f
}

func TestFeatureRoundTrip(t *testing.T) {
	f := sampleFeature()
	buf := f.MarshalBinary()
	if len(buf) != FeatureSize {
		t.Fatalf("MarshalBinary length = %d, want %d", len(buf), FeatureSize)
	}
	got := UnmarshalFeature(buf)
	if got != f {
		t.Errorf("UnmarshalFeature(MarshalBinary(f)) = %+v, want %+v", got, f)
	}
}

func TestFeatureSizeIs164Bytes(t *testing.T) {
	// Header fields plus a 128-byte descriptor: total 164 bytes.
	if FeatureSize != 164 {
		t.Errorf("FeatureSize = %d, want 164", FeatureSize)
	}
}

func TestMatchSizeIs20Bytes(t *testing.T) {
	if MatchSize != 20 {
		t.Errorf("MatchSize = %d, want 20", MatchSize)
	}
}

func TestEncodeDecodeFeaturesRoundTrip(t *testing.T) {
	in := []Feature{sampleFeature(), sampleFeature(), sampleFeature()}
	in[1].OrigX, in[1].OrigY = 99, 100
	in[2].ScaleIndex = 5

	buf := EncodeFeatures(in)
	if len(buf) != len(in)*FeatureSize {
		t.Fatalf("EncodeFeatures length = %d, want %d", len(buf), len(in)*FeatureSize)
	}
	out := DecodeFeatures(buf)
	if len(out) != len(in) {
		t.Fatalf("DecodeFeatures count = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("feature[%d] round trip = %+v, want %+v", i, out[i], in[i])
		}
	}
}

func TestMatchRoundTrip(t *testing.T) {
	m := Match{A: 7, B1: 3, B2: 9, DistAB1: 0.125, DistAB2: 0.5}
	buf := m.MarshalBinary()
	got := UnmarshalMatch(buf)
	if got != m {
		t.Errorf("UnmarshalMatch(MarshalBinary(m)) = %+v, want %+v", got, m)
	}
}

func TestDecodeMatches(t *testing.T) {
	in := []Match{
		{A: 0, B1: 1, B2: 2, DistAB1: 0.1, DistAB2: 0.9},
		{A: 1, B1: 4, B2: 5, DistAB1: 0.2, DistAB2: 0.3},
	}
	buf := make([]byte, 0, len(in)*MatchSize)
	for _, m := range in {
		buf = append(buf, m.MarshalBinary()...)
	}
	out := DecodeMatches(buf)
	if len(out) != len(in) {
		t.Fatalf("DecodeMatches count = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("match[%d] = %+v, want %+v", i, out[i], in[i])
		}
	}
}

// TestMatchRecordWellFormed exercises the "match record well-formed"
// invariant on a hand-built set of records; the GPU kernel itself isn't
// driven here (no device), but any record failing these checks would
// indicate a codec bug in this package.
func TestMatchRecordWellFormed(t *testing.T) {
	nA, nB := uint32(10), uint32(20)
	matches := []Match{
		{A: 0, B1: 3, B2: 7, DistAB1: 0.1, DistAB2: 0.4},
		{A: 9, B1: 19, B2: 0, DistAB1: 0.0, DistAB2: 0.05},
	}
	for _, m := range matches {
		if m.B1 == m.B2 {
			t.Errorf("match %+v: idx_b1 == idx_b2", m)
		}
		if m.DistAB1 > m.DistAB2 {
			t.Errorf("match %+v: dist_ab1 > dist_ab2", m)
		}
		if m.DistAB1 < 0 || m.DistAB2 < 0 {
			t.Errorf("match %+v: negative distance", m)
		}
		if m.A >= nA {
			t.Errorf("match %+v: idx_a out of range", m)
		}
		if m.B1 >= nB || m.B2 >= nB {
			t.Errorf("match %+v: idx_b out of range", m)
		}
	}
}

func TestIsGoodMatch(t *testing.T) {
	tests := []struct {
		name  string
		m     Match
		ratio float32
		want  bool
	}{
		{"clear winner", Match{DistAB1: 1, DistAB2: 4}, 0.75, true},
		{"ambiguous", Match{DistAB1: 3, DistAB2: 4}, 0.75, false},
		{"default ratio via zero", Match{DistAB1: 1, DistAB2: 4}, 0, true},
		{"equal distances never pass", Match{DistAB1: 2, DistAB2: 2}, 0.75, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsGoodMatch(tt.m, tt.ratio); got != tt.want {
				t.Errorf("IsGoodMatch(%+v, %v) = %v, want %v", tt.m, tt.ratio, got, tt.want)
			}
		})
	}
}

func TestFloat32BitsRoundTrip(t *testing.T) {
	for _, v := range []float32{0, -1.5, 3.14159, 1e30, -1e-30} {
		if got := float32frombits(float32bits(v)); got != v {
			t.Errorf("float32frombits(float32bits(%v)) = %v", v, got)
		}
	}
}
