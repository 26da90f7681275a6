// Copyright 2026 The vulkansift-go Authors
// SPDX-License-Identifier: MIT

// Package shaderset resolves the six compute kernels (blur,
// blur_interpolated, dog, extract, orient, describe) plus the matcher's
// match kernel to compiled SPIR-V bytes. Shaders are consumed as opaque
// precompiled binary modules; this package never compiles or inspects
// shader source.
//
// Load tries a filesystem override path first, then falls back to an
// embedded read-only copy; embed.FS is stdlib and is the one ambient
// concern this module keeps on the standard library (see DESIGN.md) since
// no example repo in the pack shows a third-party asset-embedding library.
package shaderset

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

//go:embed builtin/*.comp.spv
var embedded embed.FS

// SearchDir, when non-empty, is tried before the embedded set; it lets a
// host program ship freshly recompiled shaders without rebuilding the Go
// binary.
var SearchDir string

// Load returns the compiled SPIR-V bytes for name (e.g. "blur", "describe",
// "match"), trying SearchDir/<name>.comp.spv first, then the binary's
// embedded copy.
func Load(name string) ([]byte, error) {
	if SearchDir != "" {
		p := filepath.Join(SearchDir, name+".comp.spv")
		if data, err := os.ReadFile(p); err == nil {
			return validate(name, data)
		}
	}
	data, err := fs.ReadFile(embedded, "builtin/"+name+".comp.spv")
	if err != nil {
		return nil, fmt.Errorf("shader %q not found on disk or embedded: %w", name, err)
	}
	return validate(name, data)
}

func validate(name string, data []byte) ([]byte, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("shader %q: malformed SPIR-V (length %d not a multiple of 4)", name, len(data))
	}
	if len(data) < 20 {
		return nil, fmt.Errorf("shader %q: malformed SPIR-V (too short)", name)
	}
	const spirvMagic = 0x07230203
	magic := uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16 | uint32(data[3])<<24
	if magic != spirvMagic {
		return nil, fmt.Errorf("shader %q: bad SPIR-V magic %#x", name, magic)
	}
	return data, nil
}
