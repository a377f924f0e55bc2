// Package vulkan implements the renderer backend on top of goki/vulkan:
// host-visible arenas, sampled images, a swapchain presenter and a command
// recorder that turns derived barriers into vkCmdPipelineBarrier.
package vulkan

import (
	"fmt"
	"math"
	"runtime"
	"sync"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-render/engine/config"
	"github.com/spaghettifunk/anima-render/engine/core"
	"github.com/spaghettifunk/anima-render/engine/platform"
	"github.com/spaghettifunk/anima-render/engine/renderer/metadata"
)

type frameSync struct {
	recorder       *commandRecorder
	fence          *VulkanFence
	imageAvailable vk.Semaphore
	renderComplete vk.Semaphore
	imageIndex     uint32
	suboptimal     bool
}

type Backend struct {
	platform *platform.Platform
	context  *VulkanContext
	config   config.RendererConfig

	frames []*frameSync
	// imagesInFlight maps a swapchain image to the slot last rendering it, or -1.
	imagesInFlight []int

	mu           sync.RWMutex
	pipelines    map[metadata.RenderConfigHandle]vk.Pipeline
	cullPipeline vk.Pipeline

	// completions tracks fence waiter goroutines.
	completions sync.WaitGroup
}

// NewBackend creates the instance, surface, device, swapchain and one set of
// sync objects per frame in flight.
func NewBackend(appName string, cfg config.RendererConfig, p *platform.Platform) (*Backend, error) {
	b := &Backend{
		platform:  p,
		context:   &VulkanContext{},
		config:    cfg,
		pipelines: make(map[metadata.RenderConfigHandle]vk.Pipeline),
	}
	if err := b.initialize(appName); err != nil {
		b.Shutdown()
		return nil, err
	}
	return b, nil
}

func (b *Backend) initialize(appName string) error {
	procAddr := glfw.GetVulkanGetInstanceProcAddress()
	if procAddr == nil {
		return fmt.Errorf("GetInstanceProcAddress is nil")
	}
	vk.SetGetInstanceProcAddr(procAddr)
	if err := vk.Init(); err != nil {
		return fmt.Errorf("failed to initialize vk: %w", err)
	}

	if err := b.createInstance(appName); err != nil {
		return err
	}

	core.LogDebug("Creating Vulkan surface...")
	surface, err := b.platform.Window.CreateWindowSurface(b.context.Instance, nil)
	if err != nil {
		return fmt.Errorf("vulkan surface creation failed: %w", err)
	}
	b.context.Surface = vk.SurfaceFromPointer(surface)

	requirements := VulkanPhysicalDeviceRequirements{
		DeviceExtensionNames: []string{vk.KhrSwapchainExtensionName},
	}
	if err := DeviceCreate(b.context, requirements); err != nil {
		return err
	}

	width, height := b.platform.FramebufferSize()
	if err := b.createSwapchain(width, height); err != nil {
		return err
	}

	rp, err := RenderpassCreate(b.context, b.context.Swapchain.ImageFormat.Format, 0.0, 0.0, 0.2, 1.0)
	if err != nil {
		return err
	}
	b.context.MainRenderpass = rp
	if err := b.createFramebuffers(); err != nil {
		return err
	}

	if err := b.createFrames(); err != nil {
		return err
	}

	core.LogInfo("Vulkan renderer initialized successfully.")
	return nil
}

func (b *Backend) createInstance(appName string) error {
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 1, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(appName),
		PEngineName:        VulkanSafeString("Anima Render"),
	}
	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	extensions := b.platform.GetRequiredExtensionNames()
	if runtime.GOOS == "darwin" {
		extensions = append(extensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		// VK_INSTANCE_CREATE_ENUMERATE_PORTABILITY_BIT_KHR
		createInfo.Flags |= 1
	}

	var layers []string
	if b.config.Validation {
		extensions = append(extensions, vk.ExtDebugReportExtensionName)
		available, err := instanceLayers()
		if err != nil {
			return err
		}
		const validationLayer = "VK_LAYER_KHRONOS_validation"
		if !available[validationLayer] {
			return fmt.Errorf("required validation layer is missing: %s", validationLayer)
		}
		layers = append(layers, validationLayer)
		core.LogInfo("Validation layers enabled.")
	}
	for _, ext := range extensions {
		core.LogDebug("Required extension: %s", ext)
	}

	createInfo.EnabledExtensionCount = uint32(len(extensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(extensions)
	createInfo.EnabledLayerCount = uint32(len(layers))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(layers)

	var instance vk.Instance
	if res := vk.CreateInstance(&createInfo, b.context.Allocator, &instance); res != vk.Success {
		return resultError("vkCreateInstance", res)
	}
	b.context.Instance = instance
	if err := vk.InitInstance(instance); err != nil {
		return err
	}
	core.LogInfo("Vulkan Instance created.")

	if b.config.Validation {
		debugCreateInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: dbgCallbackFunc,
		}
		var dbg vk.DebugReportCallback
		if err := vk.Error(vk.CreateDebugReportCallback(instance, &debugCreateInfo, nil, &dbg)); err != nil {
			return fmt.Errorf("vk.CreateDebugReportCallback failed: %w", err)
		}
		b.context.debugMessenger = dbg
		core.LogDebug("Vulkan debugger created.")
	}
	return nil
}

func instanceLayers() (map[string]bool, error) {
	var count uint32
	if res := vk.EnumerateInstanceLayerProperties(&count, nil); res != vk.Success {
		return nil, resultError("vkEnumerateInstanceLayerProperties", res)
	}
	props := make([]vk.LayerProperties, count)
	if res := vk.EnumerateInstanceLayerProperties(&count, props); res != vk.Success {
		return nil, resultError("vkEnumerateInstanceLayerProperties", res)
	}
	names := make(map[string]bool, count)
	for i := range props {
		props[i].Deref()
		names[vk.ToString(props[i].LayerName[:])] = true
	}
	return names, nil
}

func (b *Backend) createSwapchain(width, height uint32) error {
	sc, err := SwapchainCreate(b.context, width, height, b.config.VSync)
	if err != nil {
		return err
	}
	b.context.Swapchain = sc
	b.context.FramebufferWidth = sc.Extent.Width
	b.context.FramebufferHeight = sc.Extent.Height
	b.imagesInFlight = make([]int, len(sc.Images))
	for i := range b.imagesInFlight {
		b.imagesInFlight[i] = -1
	}
	return nil
}

func (b *Backend) createFramebuffers() error {
	sc := b.context.Swapchain
	b.context.Framebuffers = make([]*VulkanFramebuffer, 0, len(sc.Views))
	for _, view := range sc.Views {
		fb, err := FramebufferCreate(b.context, b.context.MainRenderpass, sc.Extent, []vk.ImageView{view})
		if err != nil {
			return err
		}
		b.context.Framebuffers = append(b.context.Framebuffers, fb)
	}
	return nil
}

func (b *Backend) destroyFramebuffers() {
	for _, fb := range b.context.Framebuffers {
		fb.Destroy(b.context)
	}
	b.context.Framebuffers = nil
}

func (b *Backend) createFrames() error {
	device := b.context.Device
	b.frames = make([]*frameSync, 0, b.config.FramesInFlight)
	for i := 0; i < b.config.FramesInFlight; i++ {
		cb, err := NewVulkanCommandBuffer(b.context, device.GraphicsCommandPool, true)
		if err != nil {
			return err
		}
		fs := &frameSync{
			recorder: &commandRecorder{backend: b, cb: cb},
		}
		b.frames = append(b.frames, fs)

		semaphoreCreateInfo := vk.SemaphoreCreateInfo{
			SType: vk.StructureTypeSemaphoreCreateInfo,
		}
		if res := vk.CreateSemaphore(device.LogicalDevice, &semaphoreCreateInfo, b.context.Allocator, &fs.imageAvailable); res != vk.Success {
			return resultError("vkCreateSemaphore", res)
		}
		if res := vk.CreateSemaphore(device.LogicalDevice, &semaphoreCreateInfo, b.context.Allocator, &fs.renderComplete); res != vk.Success {
			return resultError("vkCreateSemaphore", res)
		}
		// Created signaled so waiting on a never-submitted slot returns at once.
		if fs.fence, err = NewFence(b.context, true); err != nil {
			return err
		}
	}
	core.LogDebug("Created %d frames of command buffers and sync objects.", len(b.frames))
	return nil
}

func (b *Backend) Name() string {
	return config.BackendVulkan
}

func (b *Backend) CreateBuffer(label string, size uint64, usage metadata.BufferUsage) (metadata.Buffer, error) {
	return newBuffer(b.context, label, size, usage)
}

func (b *Backend) CreateImage(name string, width, height uint32, pixels []byte) (metadata.Image, error) {
	return ImageCreate(b.context, name, width, height, pixels)
}

func (b *Backend) CreateSampler(cfg metadata.SamplerConfig) (metadata.Sampler, error) {
	return SamplerCreate(b.context, cfg)
}

// RegisterPipeline binds a graphics pipeline built elsewhere to a render
// config. Draws of a config without a pipeline are skipped.
func (b *Backend) RegisterPipeline(cfg metadata.RenderConfigHandle, pipeline vk.Pipeline) {
	b.mu.Lock()
	b.pipelines[cfg] = pipeline
	b.mu.Unlock()
}

// RegisterCullPipeline sets the compute pipeline run by the cull pass.
func (b *Backend) RegisterCullPipeline(pipeline vk.Pipeline) {
	b.mu.Lock()
	b.cullPipeline = pipeline
	b.mu.Unlock()
}

func (b *Backend) graphicsPipeline(cfg metadata.RenderConfigHandle) (vk.Pipeline, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.pipelines[cfg]
	return p, ok
}

func (b *Backend) computePipeline() (vk.Pipeline, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cullPipeline, b.cullPipeline != nil
}

// LogicalDevice and RenderPass are what external pipeline construction needs.
func (b *Backend) LogicalDevice() vk.Device {
	return b.context.Device.LogicalDevice
}

func (b *Backend) RenderPass() vk.RenderPass {
	return b.context.MainRenderpass.Handle
}

// AcquireImage acquires the next swapchain image for the slot and returns
// the slot's recorder targeting it.
func (b *Backend) AcquireImage(slot int) (metadata.CommandRecorder, error) {
	if slot < 0 || slot >= len(b.frames) {
		return nil, fmt.Errorf("vulkan backend: slot %d out of range", slot)
	}
	fs := b.frames[slot]
	sc := b.context.Swapchain
	if sc == nil {
		return nil, core.ErrNeedsResize
	}

	index, suboptimal, err := sc.AcquireNextImage(b.context, uint64(b.config.AcquireTimeout().Nanoseconds()), fs.imageAvailable)
	if err != nil {
		return nil, err
	}

	// The image may still be rendered by another slot.
	if other := b.imagesInFlight[index]; other >= 0 && other != slot {
		if err := b.frames[other].fence.Wait(b.context, math.MaxUint64); err != nil {
			return nil, err
		}
	}
	b.imagesInFlight[index] = slot

	fs.imageIndex = index
	fs.suboptimal = suboptimal
	fs.recorder.framebuffer = b.context.Framebuffers[index].Handle
	fs.recorder.extent = sc.Extent
	return fs.recorder, nil
}

// Submit queues the slot's command buffer. done runs on a waiter goroutine
// once the slot's fence signals.
func (b *Backend) Submit(slot int, recorder metadata.CommandRecorder, done func()) error {
	fs := b.frames[slot]
	if recorder != fs.recorder {
		return fmt.Errorf("vulkan backend: slot %d submitted with a foreign recorder", slot)
	}
	if err := fs.fence.Reset(b.context); err != nil {
		return err
	}

	submitInfo := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   1,
		PWaitSemaphores:      []vk.Semaphore{fs.imageAvailable},
		PWaitDstStageMask:    []vk.PipelineStageFlags{vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)},
		CommandBufferCount:   1,
		PCommandBuffers:      []vk.CommandBuffer{fs.recorder.cb.Handle},
		SignalSemaphoreCount: 1,
		PSignalSemaphores:    []vk.Semaphore{fs.renderComplete},
	}
	if res := vk.QueueSubmit(b.context.Device.Queue, 1, []vk.SubmitInfo{submitInfo}, fs.fence.Handle); res != vk.Success {
		err := resultError("vkQueueSubmit", res)
		core.LogError("%s", err)
		return err
	}
	fs.recorder.cb.UpdateSubmitted()

	staged := append([]*Buffer(nil), fs.recorder.staged...)
	b.completions.Add(1)
	go func() {
		defer b.completions.Done()
		if err := fs.fence.Wait(b.context, math.MaxUint64); err != nil {
			core.LogError("slot %d never completed: %s", slot, err)
			return
		}
		for _, s := range staged {
			s.Destroy()
		}
		done()
	}()
	return nil
}

func (b *Backend) Present(slot int) error {
	fs := b.frames[slot]
	err := b.context.Swapchain.Present(b.context.Device.Queue, fs.renderComplete, fs.imageIndex)
	if err == nil && fs.suboptimal {
		return core.ErrNeedsResize
	}
	return err
}

// Resize waits for the device to idle and rebuilds the swapchain and its
// framebuffers at the new size.
func (b *Backend) Resize(width, height uint32) error {
	if width == 0 || height == 0 {
		return fmt.Errorf("resize to %dx%d: %w", width, height, core.ErrNeedsResize)
	}
	device := b.context.Device
	if res := vk.DeviceWaitIdle(device.LogicalDevice); res != vk.Success {
		return resultError("vkDeviceWaitIdle", res)
	}

	b.destroyFramebuffers()
	if b.context.Swapchain != nil {
		b.context.Swapchain.Destroy(b.context)
		b.context.Swapchain = nil
	}
	if err := DeviceQuerySwapchainSupport(device.PhysicalDevice, b.context.Surface, &device.SwapchainSupport); err != nil {
		return err
	}
	if err := b.createSwapchain(width, height); err != nil {
		return err
	}
	if err := b.createFramebuffers(); err != nil {
		return err
	}
	core.LogInfo("Vulkan renderer backend resized: %dx%d", b.context.FramebufferWidth, b.context.FramebufferHeight)
	return nil
}

// Shutdown destroys everything in reverse order of creation. Arenas and
// textures must be destroyed first.
func (b *Backend) Shutdown() error {
	ctx := b.context
	if ctx.Device != nil && ctx.Device.LogicalDevice != nil {
		vk.DeviceWaitIdle(ctx.Device.LogicalDevice)
		b.completions.Wait()

		for _, fs := range b.frames {
			if fs.imageAvailable != vk.NullSemaphore {
				vk.DestroySemaphore(ctx.Device.LogicalDevice, fs.imageAvailable, ctx.Allocator)
			}
			if fs.renderComplete != vk.NullSemaphore {
				vk.DestroySemaphore(ctx.Device.LogicalDevice, fs.renderComplete, ctx.Allocator)
			}
			if fs.fence != nil {
				fs.fence.Destroy(ctx)
			}
			fs.recorder.cb.Free(ctx, ctx.Device.GraphicsCommandPool)
		}
		b.frames = nil

		b.destroyFramebuffers()
		if ctx.MainRenderpass != nil {
			ctx.MainRenderpass.Destroy(ctx)
			ctx.MainRenderpass = nil
		}
		if ctx.Swapchain != nil {
			ctx.Swapchain.Destroy(ctx)
			ctx.Swapchain = nil
		}

		core.LogDebug("Destroying Vulkan device...")
		DeviceDestroy(ctx)
	}

	if ctx.Surface != vk.NullSurface {
		core.LogDebug("Destroying Vulkan surface...")
		vk.DestroySurface(ctx.Instance, ctx.Surface, ctx.Allocator)
		ctx.Surface = vk.NullSurface
	}
	if ctx.debugMessenger != vk.NullDebugReportCallback {
		core.LogDebug("Destroying Vulkan debugger...")
		vk.DestroyDebugReportCallback(ctx.Instance, ctx.debugMessenger, ctx.Allocator)
		ctx.debugMessenger = vk.NullDebugReportCallback
	}
	if ctx.Instance != nil {
		core.LogDebug("Destroying Vulkan instance...")
		vk.DestroyInstance(ctx.Instance, ctx.Allocator)
		ctx.Instance = nil
	}
	return nil
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("ERROR: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("PERFORMANCE WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogDebug("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}
