// Copyright 2026 The vulkansift-go Authors
// SPDX-License-Identifier: MIT

package detector

import (
	"math"
	"testing"
)

func TestGaussianKernelSumsToOne(t *testing.T) {
	for _, sigma := range []float32{0.5, 1.0, 1.6, 3.2} {
		k := GaussianKernel(sigma)
		sum := float32(0)
		for _, c := range k {
			sum += c
		}
		if math.Abs(float64(sum-1)) > 1e-5 {
			t.Errorf("sigma %v: kernel sums to %v, want 1", sigma, sum)
		}
		if len(k)%2 != 1 {
			t.Errorf("sigma %v: kernel length %d is not odd", sigma, len(k))
		}
	}
}

func TestGaussianKernelSymmetric(t *testing.T) {
	k := GaussianKernel(1.6)
	n := len(k)
	for i := 0; i < n/2; i++ {
		if math.Abs(float64(k[i]-k[n-1-i])) > 1e-6 {
			t.Fatalf("kernel not symmetric at %d/%d: %v vs %v", i, n-1-i, k[i], k[n-1-i])
		}
	}
}

func TestGaussianKernelZeroSigma(t *testing.T) {
	k := GaussianKernel(0)
	if len(k) != 1 || k[0] != 1 {
		t.Fatalf("zero-sigma kernel = %v, want [1]", k)
	}
}

func TestGaussianKernelCappedAtMaxTaps(t *testing.T) {
	k := GaussianKernel(50)
	if len(k) > MaxKernelTaps {
		t.Fatalf("kernel length %d exceeds MaxKernelTaps %d", len(k), MaxKernelTaps)
	}
}

func TestBlurSigmaMatchesLoweConstruction(t *testing.T) {
	sigma0 := float32(1.6)
	nbScales := uint8(3)
	// sigma_total(s)^2 should equal sigma0^2 + sum of incremental sigma^2.
	totalSq := float64(sigma0) * float64(sigma0)
	for s := 1; s < int(nbScales)+3; s++ {
		inc := BlurSigma(sigma0, nbScales, s)
		totalSq += float64(inc) * float64(inc)
		want := float64(sigma0) * math.Pow(2, float64(s)/float64(nbScales))
		got := math.Sqrt(totalSq)
		if math.Abs(got-want) > 1e-3 {
			t.Errorf("scale %d: cumulative sigma %v, want %v", s, got, want)
		}
	}
}

func TestBlurSigmaAtZeroIsSigma0(t *testing.T) {
	if got := BlurSigma(1.6, 3, 0); got != 1.6 {
		t.Fatalf("BlurSigma(.., 0) = %v, want 1.6", got)
	}
}

func TestSeedSigmaNoUpsample(t *testing.T) {
	got := SeedSigma(1.6, 0.5, false)
	want := float32(math.Sqrt(1.6*1.6 - 0.5*0.5))
	if math.Abs(float64(got-want)) > 1e-6 {
		t.Fatalf("SeedSigma = %v, want %v", got, want)
	}
}

func TestSeedSigmaUpsampleDoublesInputBlur(t *testing.T) {
	got := SeedSigma(1.6, 0.5, true)
	want := float32(math.Sqrt(1.6*1.6 - 1.0*1.0))
	if math.Abs(float64(got-want)) > 1e-6 {
		t.Fatalf("SeedSigma(upsampled) = %v, want %v", got, want)
	}
}

func TestSeedSigmaClampsAtZero(t *testing.T) {
	// A large assumed input blur exceeding the seed sigma must not yield NaN.
	got := SeedSigma(0.5, 1.6, false)
	if got != 0 {
		t.Fatalf("SeedSigma = %v, want 0 (clamped)", got)
	}
}

// TestInterpolatedTapsAgreeWithDirectKernel checks that the
// hardware-interpolated tap pairs carry the same weights as the direct
// kernel: their weights add up to the direct half-kernel's mass (within
// 1e-5), the centre tap is kept at offset 0 with the central coefficient,
// and the tap count is what the pairing produces.
func TestInterpolatedTapsAgreeWithDirectKernel(t *testing.T) {
	k := GaussianKernel(1.6)
	taps := InterpolatedTaps(k)

	// Reconstruct the one-sided weighted sum from direct coefficients and
	// from interpolated tap pairs; both sum to the same half-kernel mass.
	radius := len(k) / 2
	half := k[radius:]
	var directSum float64
	for _, c := range half {
		directSum += float64(c)
	}
	var tapSum float64
	for _, tp := range taps {
		tapSum += float64(tp.Weight())
	}
	if math.Abs(directSum-tapSum) > 1e-5 {
		t.Fatalf("tap weight sum %v disagrees with direct half-kernel sum %v", tapSum, directSum)
	}

	// Centre tap must sit at offset 0 with the central coefficient's weight.
	if taps[0].Offset() != 0 {
		t.Fatalf("centre tap offset = %v, want 0", taps[0].Offset())
	}
	if math.Abs(float64(taps[0].Weight()-half[0])) > 1e-6 {
		t.Fatalf("centre tap weight = %v, want %v", taps[0].Weight(), half[0])
	}

	// Tap count: the centre tap, plus one tap per pair of the remaining
	// one-sided coefficients, an odd one out getting a tap of its own.
	wantTaps := 1 + len(half)/2
	if len(taps) != wantTaps {
		t.Fatalf("tap count = %d, want %d", len(taps), wantTaps)
	}
}

func TestInterpolatedTapsOddHalfLeavesLastUnpaired(t *testing.T) {
	// A kernel whose one-sided length is even (odd total minus the centre)
	// leaves the last coefficient unpaired; verify it is still emitted.
	k := GaussianKernel(1.0)
	taps := InterpolatedTaps(k)
	radius := len(k) / 2
	half := k[radius:]
	if (len(half)-1)%2 == 1 {
		last := taps[len(taps)-1]
		if last.Weight() != half[len(half)-1] {
			t.Fatalf("unpaired tail tap weight = %v, want %v", last.Weight(), half[len(half)-1])
		}
	}
}
