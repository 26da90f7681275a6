// Copyright 2026 The vulkansift-go Authors
// SPDX-License-Identifier: MIT

// Package sift computes SIFT keypoints and descriptors for grayscale images
// and matches feature sets, entirely on the GPU through a Vulkan compute
// pipeline.
package sift

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/maelaubert/vulkansift-go/internal/device"
)

// nopHandler silently discards every log record. It is the default handler
// so the library produces no output until SetLogLevel raises it above
// LogNone, keeping logging zero-cost when disabled.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(slog.New(nopHandler{}))
}

// SetLogLevel sets the process-global log level.
// LogNone restores the silent default.
func SetLogLevel(lvl LogLevel) {
	if lvl == LogNone {
		loggerPtr.Store(slog.New(nopHandler{}))
		return
	}
	var slvl slog.Level
	switch lvl {
	case LogError:
		slvl = slog.LevelError
	case LogWarning:
		slvl = slog.LevelWarn
	case LogInfo:
		slvl = slog.LevelInfo
	default:
		slvl = slog.LevelDebug
	}
	loggerPtr.Store(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slvl})))
}

func logger() *slog.Logger { return loggerPtr.Load() }

var (
	apiMu   sync.Mutex
	apiCtx  *device.API
	loaded  bool
)

// LoadAPI loads the Vulkan library and creates a process-global API
// context. Fails with ErrAlreadyLoaded if a context already exists.
func LoadAPI() error {
	apiMu.Lock()
	defer apiMu.Unlock()
	if loaded {
		return ErrAlreadyLoaded
	}
	ctx, err := device.LoadAPI()
	if err != nil {
		logger().Error("failed to load Vulkan API", "component", "api", "err", err)
		return newError(KindAPILoad, "LoadAPI", err)
	}
	apiCtx = ctx
	loaded = true
	logger().Info("Vulkan API loaded", "component", "api")
	return nil
}

// UnloadAPI tears down the process-global API context. Subsequent calls to
// NewInstance or ListGPUs fail with ErrNotLoaded until LoadAPI is called
// again.
func UnloadAPI() {
	apiMu.Lock()
	defer apiMu.Unlock()
	if !loaded {
		return
	}
	apiCtx.Destroy()
	apiCtx = nil
	loaded = false
	logger().Info("Vulkan API unloaded", "component", "api")
}

// ListGPUs returns the human-readable names of every physical device the
// loaded API can see, in enumeration order (names are already UTF-8 and
// NUL-free here since Go strings own their length).
func ListGPUs() ([]string, error) {
	apiMu.Lock()
	defer apiMu.Unlock()
	if !loaded {
		return nil, ErrNotLoaded
	}
	return apiCtx.ListGPUs()
}

func currentAPI() (*device.API, error) {
	apiMu.Lock()
	defer apiMu.Unlock()
	if !loaded {
		return nil, ErrNotLoaded
	}
	return apiCtx, nil
}
