package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
)

type VulkanContext struct {
	// The framebuffer's current width.
	FramebufferWidth uint32
	// The framebuffer's current height.
	FramebufferHeight uint32

	Instance  vk.Instance
	Allocator *vk.AllocationCallbacks
	Surface   vk.Surface

	debugMessenger vk.DebugReportCallback

	Device *VulkanDevice

	Swapchain      *VulkanSwapchain
	MainRenderpass *VulkanRenderpass
	Framebuffers   []*VulkanFramebuffer
}

// FindMemoryIndex returns the first memory type allowed by typeFilter that
// has every bit of propertyFlags.
func (vc *VulkanContext) FindMemoryIndex(typeFilter uint32, propertyFlags vk.MemoryPropertyFlags) (uint32, error) {
	memoryProperties := vc.Device.Memory
	for i := uint32(0); i < memoryProperties.MemoryTypeCount; i++ {
		memoryType := memoryProperties.MemoryTypes[i]
		memoryType.Deref()
		if typeFilter&(1<<i) != 0 && memoryType.PropertyFlags&propertyFlags == propertyFlags {
			return i, nil
		}
	}
	return 0, fmt.Errorf("no memory type matches filter %#x with properties %#x", typeFilter, uint32(propertyFlags))
}
