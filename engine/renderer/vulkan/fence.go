package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-render/engine/core"
)

// VulkanFence is waited on from a completion goroutine while the render
// goroutine owns Reset, so it keeps no cached signal state.
type VulkanFence struct {
	Handle vk.Fence
}

func NewFence(context *VulkanContext, createSignaled bool) (*VulkanFence, error) {
	fenceCreateInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if createSignaled {
		fenceCreateInfo.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}

	var pFence vk.Fence
	if res := vk.CreateFence(context.Device.LogicalDevice, &fenceCreateInfo, context.Allocator, &pFence); res != vk.Success {
		return nil, resultError("vkCreateFence", res)
	}
	return &VulkanFence{Handle: pFence}, nil
}

func (vf *VulkanFence) Destroy(context *VulkanContext) {
	if vf.Handle != nil {
		vk.DestroyFence(context.Device.LogicalDevice, vf.Handle, context.Allocator)
		vf.Handle = nil
	}
}

// Wait blocks until the fence signals or timeoutNs elapses.
func (vf *VulkanFence) Wait(context *VulkanContext, timeoutNs uint64) error {
	result := vk.WaitForFences(context.Device.LogicalDevice, 1, []vk.Fence{vf.Handle}, vk.True, timeoutNs)
	switch result {
	case vk.Success:
		return nil
	case vk.Timeout:
		core.LogWarn("vk_fence_wait - Timed out")
		return fmt.Errorf("fence wait: %w", core.ErrAcquireTimeout)
	default:
		err := resultError("vkWaitForFences", result)
		core.LogError("%s", err)
		return err
	}
}

func (vf *VulkanFence) Reset(context *VulkanContext) error {
	if res := vk.ResetFences(context.Device.LogicalDevice, 1, []vk.Fence{vf.Handle}); res != vk.Success {
		return resultError("vkResetFences", res)
	}
	return nil
}
