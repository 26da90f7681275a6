// Copyright 2026 The vulkansift-go Authors
// SPDX-License-Identifier: MIT

package sift

import "testing"

func TestComputeOctaveCount(t *testing.T) {
	tests := []struct {
		name     string
		w, h     uint32
		upsample bool
		max      uint8
		want     uint8
	}{
		{"1024x768 no upsample", 1024, 768, false, 0, 6},
		{"1024x768 upsample", 1024, 768, true, 0, 7},
		{"capped by max octaves", 1024, 768, true, 3, 3},
		{"small image floors at 1", 16, 16, false, 0, 1},
		{"square power of two", 512, 512, false, 0, 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeOctaveCount(tt.w, tt.h, tt.upsample, tt.max)
			if got != tt.want {
				t.Errorf("ComputeOctaveCount(%d,%d,%v,%d) = %d, want %d", tt.w, tt.h, tt.upsample, tt.max, got, tt.want)
			}
		})
	}
}

func TestOctaveResolutions(t *testing.T) {
	res := OctaveResolutions(1024, 768, false, 4)
	if len(res) != 4 {
		t.Fatalf("len(res) = %d, want 4", len(res))
	}
	want := []OctaveResolution{
		{Width: 1024, Height: 768},
		{Width: 512, Height: 384},
		{Width: 256, Height: 192},
		{Width: 128, Height: 96},
	}
	for i, r := range res {
		if r != want[i] {
			t.Errorf("res[%d] = %+v, want %+v", i, r, want[i])
		}
	}
}

func TestOctaveResolutionsUpsample(t *testing.T) {
	res := OctaveResolutions(1024, 768, true, 2)
	if res[0] != (OctaveResolution{Width: 2048, Height: 1536}) {
		t.Errorf("octave 0 with upsampling = %+v, want 2048x1536", res[0])
	}
	if res[1] != (OctaveResolution{Width: 1024, Height: 768}) {
		t.Errorf("octave 1 with upsampling = %+v, want 1024x768", res[1])
	}
}

func TestMinOctaveDimOK(t *testing.T) {
	if !minOctaveDimOK(1024, 768, false, 4) {
		t.Error("1024x768 at 4 octaves should keep the last octave >= 16px")
	}
	if minOctaveDimOK(1024, 768, false, 8) {
		t.Error("1024x768 at 8 octaves should drop the last octave below 16px")
	}
	if minOctaveDimOK(100, 100, false, 0) {
		t.Error("0 octaves should never be OK")
	}
}

func TestSectionCapacities(t *testing.T) {
	caps := SectionCapacities(100000, 4)
	if len(caps) != 4 {
		t.Fatalf("len(caps) = %d, want 4", len(caps))
	}
	// Capacities must not increase from one octave to the next (each octave
	// gets roughly half of the previous one's share) and must sum close to
	// the budget.
	var sum uint32
	for i, c := range caps {
		if i > 0 && c > caps[i-1] {
			t.Errorf("caps[%d] = %d should not exceed caps[%d] = %d", i, c, i-1, caps[i-1])
		}
		sum += c
	}
	if sum == 0 || sum > 100000 {
		t.Errorf("sum(caps) = %d, want in (0, 100000]", sum)
	}
	// The remainder floor() leaves is handed to octave 0, so the sum always
	// lands exactly on the budget.
	if sum != 100000 {
		t.Errorf("sum(caps) = %d, want exactly 100000", sum)
	}
}

func TestSectionCapacitiesSingleFeatureBudget(t *testing.T) {
	// spec §8 boundary case: max_nb_sift_per_buffer=1, O=4 must yield
	// [1,0,0,0] (floor+corrector rule), not let the whole budget vanish to
	// rounding.
	caps := SectionCapacities(1, 4)
	want := []uint32{1, 0, 0, 0}
	if len(caps) != len(want) {
		t.Fatalf("len(caps) = %d, want %d", len(caps), len(want))
	}
	for i := range want {
		if caps[i] != want[i] {
			t.Errorf("caps[%d] = %d, want %d (full caps = %v)", i, caps[i], want[i], caps)
		}
	}
}

func TestSectionCapacitiesZeroOctaves(t *testing.T) {
	if caps := SectionCapacities(100000, 0); caps != nil {
		t.Errorf("SectionCapacities(_, 0) = %v, want nil", caps)
	}
}
