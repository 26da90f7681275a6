// Copyright 2026 The vulkansift-go Authors
// SPDX-License-Identifier: MIT

// Package device loads the Vulkan API, enumerates physical GPUs, scores and
// selects one, and creates a logical device exposing a general queue and,
// when supported, async transfer queues.
//
// Grounded on github.com/gogpu/wgpu/hal/vulkan (adapter enumeration, device
// type classification), using github.com/goki/vulkan as the concrete Vulkan
// binding instead of a hand-rolled FFI layer.
package device

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
)

// API is the process-global Vulkan library context, distinct from a
// per-SIFT-instance Device below.
type API struct {
	instance vk.Instance
}

// LoadAPI initializes the Vulkan loader and creates a VkInstance for a
// headless compute-only application, with no instance extensions or layers
// enabled.
func LoadAPI() (*API, error) {
	if err := vk.Init(); err != nil {
		return nil, fmt.Errorf("vk.Init: %w", err)
	}

	appName := cstr("vulkansift-go")
	engName := cstr("vulkansift-go")
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		PApplicationName:   appName,
		ApplicationVersion: vk.MakeVersion(1, 0, 0),
		PEngineName:        engName,
		EngineVersion:      vk.MakeVersion(1, 0, 0),
		ApiVersion:         vk.ApiVersion13,
	}

	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	var instance vk.Instance
	if res := vk.CreateInstance(&createInfo, nil, &instance); res != vk.Success {
		return nil, fmt.Errorf("vkCreateInstance failed: %d", res)
	}
	vk.InitInstance(instance)

	return &API{instance: instance}, nil
}

// Destroy releases the VkInstance. Idempotent.
func (a *API) Destroy() {
	if a == nil || a.instance == nil {
		return
	}
	vk.DestroyInstance(a.instance, nil)
	a.instance = nil
}

// ListGPUs returns device names in vkEnumeratePhysicalDevices order.
func (a *API) ListGPUs() ([]string, error) {
	devices, err := a.enumerate()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(devices))
	for i, pd := range devices {
		var props vk.PhysicalDeviceProperties
		vk.GetPhysicalDeviceProperties(pd, &props)
		props.Deref()
		names[i] = cGoString(props.DeviceName[:])
	}
	return names, nil
}

func (a *API) enumerate() ([]vk.PhysicalDevice, error) {
	var count uint32
	if res := vk.EnumeratePhysicalDevices(a.instance, &count, nil); res != vk.Success {
		return nil, fmt.Errorf("vkEnumeratePhysicalDevices(count): %d", res)
	}
	if count == 0 {
		return nil, nil
	}
	devices := make([]vk.PhysicalDevice, count)
	if res := vk.EnumeratePhysicalDevices(a.instance, &count, devices); res != vk.Success {
		return nil, fmt.Errorf("vkEnumeratePhysicalDevices: %d", res)
	}
	return devices, nil
}

// Requirements configures CreateDevice's physical-device selection.
type Requirements struct {
	RequiredExtensions []string
	NGeneral           int
	NAsyncCompute      int
	NAsyncTransfer     int
	GPUIndex           int32 // <0 selects automatically
}

// Device is a logical device plus the queues the upper layers consume.
type Device struct {
	Physical vk.PhysicalDevice
	Handle   vk.Device
	Name     string

	GeneralQueues []vk.Queue
	GeneralFamily uint32

	AsyncTransferQueues   []vk.Queue
	AsyncTransferFamily   uint32
	HasAsyncTransferQueue bool

	MemoryProperties vk.PhysicalDeviceMemoryProperties
}

// candidate pairs a physical device with its queue-family layout, computed
// once during scoring and reused for device creation so the two phases
// never disagree.
type candidate struct {
	pd              vk.PhysicalDevice
	name            string
	score           float64
	generalFamily   uint32
	transferFamily  uint32
	hasTransfer     bool
	hasAsyncCompute bool
}

// CreateDevice selects a physical device via scoreDevice's scoring formula
// and creates a logical device exposing req.NGeneral general-purpose queues
// and, if available, req.NAsyncTransfer async-transfer queues.
func (a *API) CreateDevice(req Requirements) (*Device, error) {
	devices, err := a.enumerate()
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("no physical devices available")
	}

	var chosen candidate
	if req.GPUIndex >= 0 {
		if int(req.GPUIndex) >= len(devices) {
			return nil, fmt.Errorf("gpu index %d out of range (%d available)", req.GPUIndex, len(devices))
		}
		chosen = a.scoreDevice(devices[req.GPUIndex], req)
		if chosen.score <= 0 {
			return nil, fmt.Errorf("requested GPU %d does not meet requirements", req.GPUIndex)
		}
	} else {
		best := candidate{score: 0}
		for _, pd := range devices {
			c := a.scoreDevice(pd, req)
			if c.score > best.score {
				best = c
			}
		}
		if best.score <= 0 {
			return nil, fmt.Errorf("no GPU meets requirements")
		}
		chosen = best
	}

	return a.createLogicalDevice(chosen, req)
}

// scoreDevice ranks a candidate physical device with the formula:
//
//	score = 10000*kind + 1000*queue_support + heap_gigabytes
//
// kind = 2 discrete, 1 integrated, 0 other. queue_support = 1 +
// has_async_compute + has_async_transfer. A candidate missing a required
// extension or the mandatory general queue scores 0.
func (a *API) scoreDevice(pd vk.PhysicalDevice, req Requirements) candidate {
	var props vk.PhysicalDeviceProperties
	vk.GetPhysicalDeviceProperties(pd, &props)
	props.Deref()
	name := cGoString(props.DeviceName[:])

	if !hasExtensions(pd, req.RequiredExtensions) {
		return candidate{pd: pd, name: name, score: 0}
	}

	generalFamily, hasGeneral := findQueueFamily(pd, vk.QueueFlags(vk.QueueGraphicsBit|vk.QueueComputeBit), 0)
	if !hasGeneral {
		return candidate{pd: pd, name: name, score: 0}
	}
	_, hasAsyncCompute := findQueueFamily(pd, vk.QueueFlags(vk.QueueComputeBit), vk.QueueFlags(vk.QueueGraphicsBit))
	transferFamily, hasTransfer := findQueueFamily(pd, vk.QueueFlags(vk.QueueTransferBit), vk.QueueFlags(vk.QueueGraphicsBit|vk.QueueComputeBit))
	if req.NAsyncTransfer == 0 {
		hasTransfer = false
	}

	kind := 0.0
	switch props.DeviceType {
	case vk.PhysicalDeviceTypeDiscreteGpu:
		kind = 2
	case vk.PhysicalDeviceTypeIntegratedGpu:
		kind = 1
	}

	queueSupport := 1.0
	if hasAsyncCompute {
		queueSupport++
	}
	if hasTransfer {
		queueSupport++
	}

	var memProps vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(pd, &memProps)
	memProps.Deref()
	heapGB := 0.0
	for i := uint32(0); i < memProps.MemoryHeapCount; i++ {
		h := memProps.MemoryHeaps[i]
		h.Deref()
		if h.Flags&vk.MemoryHeapFlags(vk.MemoryHeapDeviceLocalBit) != 0 {
			heapGB += float64(h.Size) / (1024 * 1024 * 1024)
		}
	}

	score := 10000*kind + 1000*queueSupport + heapGB

	return candidate{
		pd:              pd,
		name:            name,
		score:           score,
		generalFamily:   generalFamily,
		transferFamily:  transferFamily,
		hasTransfer:     hasTransfer,
		hasAsyncCompute: hasAsyncCompute,
	}
}

func (a *API) createLogicalDevice(c candidate, req Requirements) (*Device, error) {
	nGeneral := req.NGeneral
	if nGeneral < 1 {
		nGeneral = 1
	}
	priorities := make([]float32, nGeneral)
	for i := range priorities {
		priorities[i] = 1.0
	}

	queueInfos := []vk.DeviceQueueCreateInfo{{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: c.generalFamily,
		QueueCount:       uint32(nGeneral),
		PQueuePriorities: &priorities[0],
	}}

	transferPriorities := make([]float32, req.NAsyncTransfer)
	for i := range transferPriorities {
		transferPriorities[i] = 1.0
	}
	if c.hasTransfer && req.NAsyncTransfer > 0 && c.transferFamily != c.generalFamily {
		queueInfos = append(queueInfos, vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: c.transferFamily,
			QueueCount:       uint32(req.NAsyncTransfer),
			PQueuePriorities: &transferPriorities[0],
		})
	} else {
		c.hasTransfer = false
	}

	extNames := make([]string, len(req.RequiredExtensions))
	copy(extNames, req.RequiredExtensions)
	extPtrs := make([]unsafe.Pointer, len(extNames))
	cstrs := make([]unsafe.Pointer, len(extNames))
	for i, e := range extNames {
		p := cstr(e)
		cstrs[i] = unsafe.Pointer(p)
		extPtrs[i] = unsafe.Pointer(p)
	}

	createInfo := vk.DeviceCreateInfo{
		SType:                 vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:  uint32(len(queueInfos)),
		PQueueCreateInfos:     &queueInfos[0],
		EnabledExtensionCount: uint32(len(extNames)),
	}
	if len(extPtrs) > 0 {
		createInfo.PpEnabledExtensionNames = (*unsafe.Pointer)(unsafe.Pointer(&extPtrs[0]))
	}

	var vkDevice vk.Device
	if res := vk.CreateDevice(c.pd, &createInfo, nil, &vkDevice); res != vk.Success {
		return nil, fmt.Errorf("vkCreateDevice failed: %d", res)
	}

	d := &Device{
		Physical:      c.pd,
		Handle:        vkDevice,
		Name:          c.name,
		GeneralFamily: c.generalFamily,
	}

	d.GeneralQueues = make([]vk.Queue, nGeneral)
	for i := 0; i < nGeneral; i++ {
		var q vk.Queue
		vk.GetDeviceQueue(vkDevice, c.generalFamily, uint32(i), &q)
		d.GeneralQueues[i] = q
	}

	if c.hasTransfer {
		d.AsyncTransferFamily = c.transferFamily
		d.HasAsyncTransferQueue = true
		d.AsyncTransferQueues = make([]vk.Queue, req.NAsyncTransfer)
		for i := 0; i < req.NAsyncTransfer; i++ {
			var q vk.Queue
			vk.GetDeviceQueue(vkDevice, c.transferFamily, uint32(i), &q)
			d.AsyncTransferQueues[i] = q
		}
	}

	vk.GetPhysicalDeviceMemoryProperties(c.pd, &d.MemoryProperties)
	d.MemoryProperties.Deref()

	return d, nil
}

// Destroy releases the logical device. Idempotent.
func (d *Device) Destroy() {
	if d == nil || d.Handle == nil {
		return
	}
	vk.DeviceWaitIdle(d.Handle)
	vk.DestroyDevice(d.Handle, nil)
	d.Handle = nil
}

// hasExtensions checks that every required extension is present in the
// device's supported extension list.
func hasExtensions(pd vk.PhysicalDevice, required []string) bool {
	if len(required) == 0 {
		return true
	}
	var count uint32
	vk.EnumerateDeviceExtensionProperties(pd, "", &count, nil)
	if count == 0 {
		return false
	}
	props := make([]vk.ExtensionProperties, count)
	vk.EnumerateDeviceExtensionProperties(pd, "", &count, props)

	have := make(map[string]bool, count)
	for i := range props {
		props[i].Deref()
		have[cGoString(props[i].ExtensionName[:])] = true
	}
	for _, r := range required {
		if !have[r] {
			return false
		}
	}
	return true
}

// findQueueFamily returns the first queue family whose flags contain
// present and contain none of absent.
func findQueueFamily(pd vk.PhysicalDevice, present, absent vk.QueueFlags) (uint32, bool) {
	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &count, nil)
	if count == 0 {
		return 0, false
	}
	families := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &count, families)

	for i := range families {
		families[i].Deref()
		flags := families[i].QueueFlags
		if flags&present == present && (absent == 0 || flags&absent == 0) {
			return uint32(i), true
		}
	}
	return 0, false
}

func cstr(s string) *uint8 {
	b := append([]byte(s), 0)
	return &b[0]
}

func cGoString(b []uint8) string {
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	return string(b[:n])
}
