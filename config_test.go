// Copyright 2026 The vulkansift-go Authors
// SPDX-License-Identifier: MIT

package sift

import "testing"

func TestDefaultConfigValidates(t *testing.T) {
	if err := DefaultConfig().validate(); err != nil {
		t.Fatalf("DefaultConfig().validate() = %v, want nil", err)
	}
}

func TestConfigValidateRejectsNonPositiveFields(t *testing.T) {
	base := DefaultConfig()

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"zero input_image_max_size", func(c *Config) { c.InputImageMaxSize = 0 }, true},
		{"zero sift_buffer_count", func(c *Config) { c.SiftBufferCount = 0 }, true},
		{"zero max_nb_sift_per_buffer", func(c *Config) { c.MaxNbSiftPerBuffer = 0 }, true},
		{"zero nb_scales_per_octave", func(c *Config) { c.NbScalesPerOctave = 0 }, true},
		{"zero seed_scale_sigma", func(c *Config) { c.SeedScaleSigma = 0 }, true},
		{"negative seed_scale_sigma", func(c *Config) { c.SeedScaleSigma = -1 }, true},
		{"negative intensity_threshold", func(c *Config) { c.IntensityThreshold = -0.01 }, true},
		{"negative edge_threshold", func(c *Config) { c.EdgeThreshold = -1 }, true},
		{"unknown precision", func(c *Config) { c.PyramidPrecisionMode = PyramidPrecision(99) }, true},
		{"zero intensity_threshold is allowed", func(c *Config) { c.IntensityThreshold = 0 }, false},
		{"max_octaves zero means auto, always valid", func(c *Config) { c.NbOctaves = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mutate(&c)
			err := c.validate()
			if tt.wantErr && err == nil {
				t.Errorf("validate() = nil, want error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("validate() = %v, want nil", err)
			}
		})
	}
}

// TestConfigValidateBlurExceedsSeedScale exercises the
// "input_blur * (upsample?2:1) > seed_scale_sigma" rejection rule.
func TestConfigValidateBlurExceedsSeedScale(t *testing.T) {
	c := DefaultConfig()
	c.SeedScaleSigma = 1.0
	c.InputImageBlurLevel = 0.6
	c.UseInputUpsampling = true // effective blur = 1.2 > 1.0

	if err := c.validate(); err == nil {
		t.Error("validate() = nil, want error for blur*upsample > seed_scale_sigma")
	}

	c.UseInputUpsampling = false // effective blur = 0.6 <= 1.0
	if err := c.validate(); err != nil {
		t.Errorf("validate() = %v, want nil once upsampling is disabled", err)
	}
}

func TestPyramidPrecisionString(t *testing.T) {
	if got := PrecisionFloat16.String(); got != "float16" {
		t.Errorf("PrecisionFloat16.String() = %q, want %q", got, "float16")
	}
	if got := PrecisionFloat32.String(); got != "float32" {
		t.Errorf("PrecisionFloat32.String() = %q, want %q", got, "float32")
	}
}
