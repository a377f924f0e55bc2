package vulkan

import (
	"fmt"
	"math"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-render/engine/core"
	emath "github.com/spaghettifunk/anima-render/engine/math"
)

type VulkanSwapchain struct {
	ImageFormat vk.SurfaceFormat
	Extent      vk.Extent2D
	Handle      vk.Swapchain
	Images      []vk.Image
	Views       []vk.ImageView
}

type VulkanSwapchainSupportInfo struct {
	Capabilities vk.SurfaceCapabilities
	Formats      []vk.SurfaceFormat
	PresentModes []vk.PresentMode
}

func SwapchainCreate(context *VulkanContext, width, height uint32, vsync bool) (*VulkanSwapchain, error) {
	support := context.Device.SwapchainSupport
	swapchain := &VulkanSwapchain{
		ImageFormat: support.Formats[0],
	}
	for _, format := range support.Formats {
		if format.Format == vk.FormatB8g8r8a8Unorm && format.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			swapchain.ImageFormat = format
			break
		}
	}

	// FIFO is the only mode every implementation supports.
	presentMode := vk.PresentModeFifo
	if !vsync {
		for _, mode := range support.PresentModes {
			if mode == vk.PresentModeMailbox {
				presentMode = mode
				break
			}
			if mode == vk.PresentModeImmediate {
				presentMode = mode
			}
		}
	}

	caps := support.Capabilities
	extent := vk.Extent2D{Width: width, Height: height}
	if caps.CurrentExtent.Width != math.MaxUint32 {
		extent = caps.CurrentExtent
	}
	extent.Width = emath.Clamp(extent.Width, caps.MinImageExtent.Width, caps.MaxImageExtent.Width)
	extent.Height = emath.Clamp(extent.Height, caps.MinImageExtent.Height, caps.MaxImageExtent.Height)
	if extent.Width == 0 || extent.Height == 0 {
		return nil, fmt.Errorf("swapchain extent %dx%d: %w", extent.Width, extent.Height, core.ErrNeedsResize)
	}
	swapchain.Extent = extent

	imageCount := caps.MinImageCount + 1
	if caps.MaxImageCount > 0 && imageCount > caps.MaxImageCount {
		imageCount = caps.MaxImageCount
	}

	createInfo := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          context.Surface,
		MinImageCount:    imageCount,
		ImageFormat:      swapchain.ImageFormat.Format,
		ImageColorSpace:  swapchain.ImageFormat.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
		ImageSharingMode: vk.SharingModeExclusive,
		PreTransform:     caps.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      presentMode,
		Clipped:          vk.True,
	}

	var handle vk.Swapchain
	if res := vk.CreateSwapchain(context.Device.LogicalDevice, &createInfo, context.Allocator, &handle); res != vk.Success {
		return nil, resultError("vkCreateSwapchainKHR", res)
	}
	swapchain.Handle = handle

	var count uint32
	if res := vk.GetSwapchainImages(context.Device.LogicalDevice, handle, &count, nil); res != vk.Success {
		swapchain.Destroy(context)
		return nil, resultError("vkGetSwapchainImagesKHR", res)
	}
	swapchain.Images = make([]vk.Image, count)
	if res := vk.GetSwapchainImages(context.Device.LogicalDevice, handle, &count, swapchain.Images); res != vk.Success {
		swapchain.Destroy(context)
		return nil, resultError("vkGetSwapchainImagesKHR", res)
	}

	swapchain.Views = make([]vk.ImageView, 0, count)
	for _, img := range swapchain.Images {
		viewInfo := vk.ImageViewCreateInfo{
			SType:    vk.StructureTypeImageViewCreateInfo,
			Image:    img,
			ViewType: vk.ImageViewType2d,
			Format:   swapchain.ImageFormat.Format,
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
				LevelCount: 1,
				LayerCount: 1,
			},
		}
		var view vk.ImageView
		if res := vk.CreateImageView(context.Device.LogicalDevice, &viewInfo, context.Allocator, &view); res != vk.Success {
			swapchain.Destroy(context)
			return nil, resultError("vkCreateImageView", res)
		}
		swapchain.Views = append(swapchain.Views, view)
	}

	core.LogInfo("Swapchain created: %dx%d, %d images.", extent.Width, extent.Height, count)
	return swapchain, nil
}

// AcquireNextImage returns core.ErrNeedsResize when the surface no longer
// matches. A suboptimal image is still returned, flagged through the bool.
func (vs *VulkanSwapchain) AcquireNextImage(context *VulkanContext, timeoutNS uint64, semaphore vk.Semaphore) (uint32, bool, error) {
	var index uint32
	res := vk.AcquireNextImage(context.Device.LogicalDevice, vs.Handle, timeoutNS, semaphore, vk.NullFence, &index)
	switch res {
	case vk.Success:
		return index, false, nil
	case vk.Suboptimal:
		return index, true, nil
	case vk.ErrorOutOfDate:
		return 0, false, core.ErrNeedsResize
	case vk.Timeout, vk.NotReady:
		return 0, false, fmt.Errorf("vkAcquireNextImageKHR: %s: %w", VulkanResultString(res), core.ErrAcquireTimeout)
	}
	return 0, false, resultError("vkAcquireNextImageKHR", res)
}

func (vs *VulkanSwapchain) Present(queue vk.Queue, renderComplete vk.Semaphore, imageIndex uint32) error {
	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{renderComplete},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{vs.Handle},
		PImageIndices:      []uint32{imageIndex},
	}
	switch res := vk.QueuePresent(queue, &presentInfo); res {
	case vk.Success:
		return nil
	case vk.ErrorOutOfDate, vk.Suboptimal:
		return core.ErrNeedsResize
	default:
		return resultError("vkQueuePresentKHR", res)
	}
}

// Destroy releases the views and the swapchain. The images are owned by the
// swapchain itself.
func (vs *VulkanSwapchain) Destroy(context *VulkanContext) {
	for _, view := range vs.Views {
		vk.DestroyImageView(context.Device.LogicalDevice, view, context.Allocator)
	}
	vs.Views = nil
	vs.Images = nil
	if vs.Handle != nil {
		vk.DestroySwapchain(context.Device.LogicalDevice, vs.Handle, context.Allocator)
		vs.Handle = nil
	}
}
