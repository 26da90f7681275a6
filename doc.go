// Copyright 2026 The vulkansift-go Authors
// SPDX-License-Identifier: MIT

// Package sift's top-level operations live in instance.go (Instance,
// NewInstance), api.go (LoadAPI/UnloadAPI/ListGPUs/SetLogLevel), config.go
// (Config/DefaultConfig), feature.go (Feature/Match and their wire
// encoding), octave.go (octave/resolution/capacity derivation) and
// errors.go (Error/Kind). See DESIGN.md for how each part is grounded.
package sift
