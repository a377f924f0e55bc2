package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-render/engine/core"
)

type VulkanDevice struct {
	PhysicalDevice   vk.PhysicalDevice
	LogicalDevice    vk.Device
	SwapchainSupport VulkanSwapchainSupportInfo

	// QueueIndex is the single family used for graphics, compute, transfer
	// and present.
	QueueIndex uint32
	Queue      vk.Queue

	GraphicsCommandPool vk.CommandPool

	Properties vk.PhysicalDeviceProperties
	Features   vk.PhysicalDeviceFeatures
	Memory     vk.PhysicalDeviceMemoryProperties

	// MultiDrawIndirect is set when one vkCmdDrawIndexedIndirect may issue
	// more than one draw.
	MultiDrawIndirect bool
}

type VulkanPhysicalDeviceRequirements struct {
	DeviceExtensionNames []string
	DiscreteGPU          bool
}

func DeviceCreate(context *VulkanContext, requirements VulkanPhysicalDeviceRequirements) error {
	device, err := SelectPhysicalDevice(context, requirements)
	if err != nil {
		return err
	}
	context.Device = device

	core.LogInfo("Creating logical device...")

	queueCreateInfos := []vk.DeviceQueueCreateInfo{{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: device.QueueIndex,
		QueueCount:       1,
		PQueuePriorities: []float32{1.0},
	}}

	deviceFeatures := vk.PhysicalDeviceFeatures{}
	if device.Features.SamplerAnisotropy == vk.True {
		deviceFeatures.SamplerAnisotropy = vk.True
	}
	if device.Features.MultiDrawIndirect == vk.True {
		deviceFeatures.MultiDrawIndirect = vk.True
		device.MultiDrawIndirect = true
	}

	extensionNames := []string{vk.KhrSwapchainExtensionName}
	available, err := deviceExtensions(device.PhysicalDevice)
	if err != nil {
		return err
	}
	if available["VK_KHR_portability_subset"] {
		core.LogInfo("Adding required extension 'VK_KHR_portability_subset'.")
		extensionNames = append(extensionNames, "VK_KHR_portability_subset")
	}

	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueCreateInfos)),
		PQueueCreateInfos:       queueCreateInfos,
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{deviceFeatures},
		EnabledExtensionCount:   uint32(len(extensionNames)),
		PpEnabledExtensionNames: VulkanSafeStrings(extensionNames),
	}

	var logical vk.Device
	if res := vk.CreateDevice(device.PhysicalDevice, &deviceCreateInfo, context.Allocator, &logical); res != vk.Success {
		return resultError("vkCreateDevice", res)
	}
	device.LogicalDevice = logical
	core.LogInfo("Logical device created.")

	var queue vk.Queue
	vk.GetDeviceQueue(device.LogicalDevice, device.QueueIndex, 0, &queue)
	device.Queue = queue

	poolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: device.QueueIndex,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	var pool vk.CommandPool
	if res := vk.CreateCommandPool(device.LogicalDevice, &poolCreateInfo, context.Allocator, &pool); res != vk.Success {
		return resultError("vkCreateCommandPool", res)
	}
	device.GraphicsCommandPool = pool
	core.LogInfo("Graphics command pool created.")

	return nil
}

func DeviceDestroy(context *VulkanContext) {
	device := context.Device
	if device == nil {
		return
	}
	device.Queue = nil

	core.LogInfo("Destroying command pools...")
	if device.GraphicsCommandPool != nil {
		vk.DestroyCommandPool(device.LogicalDevice, device.GraphicsCommandPool, context.Allocator)
		device.GraphicsCommandPool = nil
	}

	core.LogInfo("Destroying logical device...")
	if device.LogicalDevice != nil {
		vk.DestroyDevice(device.LogicalDevice, context.Allocator)
		device.LogicalDevice = nil
	}

	// Physical devices are not destroyed.
	device.PhysicalDevice = nil
	device.SwapchainSupport = VulkanSwapchainSupportInfo{}
}

func DeviceQuerySwapchainSupport(physicalDevice vk.PhysicalDevice, surface vk.Surface, supportInfo *VulkanSwapchainSupportInfo) error {
	if res := vk.GetPhysicalDeviceSurfaceCapabilities(physicalDevice, surface, &supportInfo.Capabilities); res != vk.Success {
		return resultError("vkGetPhysicalDeviceSurfaceCapabilitiesKHR", res)
	}
	supportInfo.Capabilities.Deref()
	supportInfo.Capabilities.CurrentExtent.Deref()
	supportInfo.Capabilities.MinImageExtent.Deref()
	supportInfo.Capabilities.MaxImageExtent.Deref()

	var formatCount uint32
	if res := vk.GetPhysicalDeviceSurfaceFormats(physicalDevice, surface, &formatCount, nil); res != vk.Success {
		return resultError("vkGetPhysicalDeviceSurfaceFormatsKHR", res)
	}
	supportInfo.Formats = make([]vk.SurfaceFormat, formatCount)
	if formatCount > 0 {
		if res := vk.GetPhysicalDeviceSurfaceFormats(physicalDevice, surface, &formatCount, supportInfo.Formats); res != vk.Success {
			return resultError("vkGetPhysicalDeviceSurfaceFormatsKHR", res)
		}
		for i := range supportInfo.Formats {
			supportInfo.Formats[i].Deref()
		}
	}

	var modeCount uint32
	if res := vk.GetPhysicalDeviceSurfacePresentModes(physicalDevice, surface, &modeCount, nil); res != vk.Success {
		return resultError("vkGetPhysicalDeviceSurfacePresentModesKHR", res)
	}
	supportInfo.PresentModes = make([]vk.PresentMode, modeCount)
	if modeCount > 0 {
		if res := vk.GetPhysicalDeviceSurfacePresentModes(physicalDevice, surface, &modeCount, supportInfo.PresentModes); res != vk.Success {
			return resultError("vkGetPhysicalDeviceSurfacePresentModesKHR", res)
		}
	}
	return nil
}

func SelectPhysicalDevice(context *VulkanContext, requirements VulkanPhysicalDeviceRequirements) (*VulkanDevice, error) {
	var count uint32
	if res := vk.EnumeratePhysicalDevices(context.Instance, &count, nil); res != vk.Success {
		return nil, resultError("vkEnumeratePhysicalDevices", res)
	}
	if count == 0 {
		return nil, fmt.Errorf("no devices which support Vulkan were found")
	}
	physicalDevices := make([]vk.PhysicalDevice, count)
	if res := vk.EnumeratePhysicalDevices(context.Instance, &count, physicalDevices); res != vk.Success {
		return nil, resultError("vkEnumeratePhysicalDevices", res)
	}

	for _, physical := range physicalDevices {
		device := &VulkanDevice{PhysicalDevice: physical}
		vk.GetPhysicalDeviceProperties(physical, &device.Properties)
		device.Properties.Deref()
		vk.GetPhysicalDeviceFeatures(physical, &device.Features)
		device.Features.Deref()
		vk.GetPhysicalDeviceMemoryProperties(physical, &device.Memory)
		device.Memory.Deref()

		name := vk.ToString(device.Properties.DeviceName[:])
		if !physicalDeviceMeetsRequirements(device, context.Surface, requirements) {
			core.LogInfo("Skipping device '%s'.", name)
			continue
		}

		core.LogInfo("Selected device: '%s'.", name)
		switch device.Properties.DeviceType {
		case vk.PhysicalDeviceTypeIntegratedGpu:
			core.LogInfo("GPU type is Integrated.")
		case vk.PhysicalDeviceTypeDiscreteGpu:
			core.LogInfo("GPU type is Discrete.")
		case vk.PhysicalDeviceTypeVirtualGpu:
			core.LogInfo("GPU type is Virtual.")
		case vk.PhysicalDeviceTypeCpu:
			core.LogInfo("GPU type is CPU.")
		default:
			core.LogInfo("GPU type is Unknown.")
		}
		api := vk.Version(device.Properties.ApiVersion)
		core.LogInfo("Vulkan API version: %d.%d.%d", api.Major(), api.Minor(), api.Patch())

		for j := uint32(0); j < device.Memory.MemoryHeapCount; j++ {
			heap := device.Memory.MemoryHeaps[j]
			heap.Deref()
			gib := float64(heap.Size) / 1024.0 / 1024.0 / 1024.0
			if vk.MemoryHeapFlagBits(heap.Flags)&vk.MemoryHeapDeviceLocalBit != 0 {
				core.LogInfo("Local GPU memory: %.2f GiB", gib)
			} else {
				core.LogInfo("Shared System memory: %.2f GiB", gib)
			}
		}
		return device, nil
	}
	return nil, fmt.Errorf("no physical devices were found which meet the requirements")
}

// physicalDeviceMeetsRequirements looks for one queue family that can
// draw, dispatch, copy and present, since barriers are single-queue.
func physicalDeviceMeetsRequirements(device *VulkanDevice, surface vk.Surface, requirements VulkanPhysicalDeviceRequirements) bool {
	if requirements.DiscreteGPU && device.Properties.DeviceType != vk.PhysicalDeviceTypeDiscreteGpu {
		core.LogInfo("Device is not a discrete GPU, and one is required.")
		return false
	}

	var familyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(device.PhysicalDevice, &familyCount, nil)
	families := make([]vk.QueueFamilyProperties, familyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(device.PhysicalDevice, &familyCount, families)

	found := false
	want := vk.QueueFlags(vk.QueueGraphicsBit) | vk.QueueFlags(vk.QueueComputeBit)
	for i := range families {
		families[i].Deref()
		if families[i].QueueFlags&want != want {
			continue
		}
		var supportsPresent vk.Bool32
		if res := vk.GetPhysicalDeviceSurfaceSupport(device.PhysicalDevice, uint32(i), surface, &supportsPresent); res != vk.Success {
			return false
		}
		if supportsPresent == vk.True {
			device.QueueIndex = uint32(i)
			found = true
			break
		}
	}
	if !found {
		core.LogInfo("No queue family supports graphics, compute and present together.")
		return false
	}
	core.LogDebug("Queue family index: %d", device.QueueIndex)

	if err := DeviceQuerySwapchainSupport(device.PhysicalDevice, surface, &device.SwapchainSupport); err != nil {
		core.LogWarn("%s", err)
		return false
	}
	if len(device.SwapchainSupport.Formats) == 0 || len(device.SwapchainSupport.PresentModes) == 0 {
		core.LogInfo("Required swapchain support not present.")
		return false
	}

	available, err := deviceExtensions(device.PhysicalDevice)
	if err != nil {
		core.LogWarn("%s", err)
		return false
	}
	for _, name := range requirements.DeviceExtensionNames {
		if !available[name] {
			core.LogInfo("Required extension not found: '%s'.", name)
			return false
		}
	}
	return true
}

func deviceExtensions(physical vk.PhysicalDevice) (map[string]bool, error) {
	var count uint32
	if res := vk.EnumerateDeviceExtensionProperties(physical, "", &count, nil); res != vk.Success {
		return nil, resultError("vkEnumerateDeviceExtensionProperties", res)
	}
	props := make([]vk.ExtensionProperties, count)
	if count > 0 {
		if res := vk.EnumerateDeviceExtensionProperties(physical, "", &count, props); res != vk.Success {
			return nil, resultError("vkEnumerateDeviceExtensionProperties", res)
		}
	}
	names := make(map[string]bool, len(props))
	for i := range props {
		props[i].Deref()
		names[vk.ToString(props[i].ExtensionName[:])] = true
	}
	return names, nil
}
