package vulkan

import (
	"fmt"
	"sync/atomic"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-render/engine/renderer/metadata"
)

// VulkanImage is a sampled RGBA8 image. Its pixels wait in a staging buffer
// until the frame that carries its upload transitions copies them.
type VulkanImage struct {
	name    string
	Handle  vk.Image
	Memory  vk.DeviceMemory
	View    vk.ImageView
	width   uint32
	height  uint32
	staging atomic.Pointer[Buffer]
	context *VulkanContext

	destroyed atomic.Bool
}

func ImageCreate(context *VulkanContext, name string, width, height uint32, pixels []byte) (*VulkanImage, error) {
	if want := int(width) * int(height) * 4; len(pixels) != want {
		return nil, fmt.Errorf("image %s: %d bytes of pixels, expected %d", name, len(pixels), want)
	}
	device := context.Device.LogicalDevice
	img := &VulkanImage{
		name:    name,
		width:   width,
		height:  height,
		context: context,
	}

	createInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    vk.FormatR8g8b8a8Unorm,
		Extent: vk.Extent3D{
			Width:  width,
			Height: height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         vk.ImageUsageFlags(vk.ImageUsageTransferDstBit | vk.ImageUsageSampledBit),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}
	var handle vk.Image
	if res := vk.CreateImage(device, &createInfo, context.Allocator, &handle); res != vk.Success {
		return nil, fmt.Errorf("image %s: %w", name, resultError("vkCreateImage", res))
	}
	img.Handle = handle

	var reqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(device, handle, &reqs)
	reqs.Deref()

	memoryIndex, err := context.FindMemoryIndex(reqs.MemoryTypeBits, vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
	if err != nil {
		img.Destroy()
		return nil, fmt.Errorf("image %s: %w", name, err)
	}
	allocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  reqs.Size,
		MemoryTypeIndex: memoryIndex,
	}
	var memory vk.DeviceMemory
	if res := vk.AllocateMemory(device, &allocateInfo, context.Allocator, &memory); res != vk.Success {
		img.Destroy()
		return nil, fmt.Errorf("image %s: %w", name, resultError("vkAllocateMemory", res))
	}
	img.Memory = memory
	if res := vk.BindImageMemory(device, handle, memory, 0); res != vk.Success {
		img.Destroy()
		return nil, fmt.Errorf("image %s: %w", name, resultError("vkBindImageMemory", res))
	}

	viewInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    handle,
		ViewType: vk.ImageViewType2d,
		Format:   vk.FormatR8g8b8a8Unorm,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LevelCount: 1,
			LayerCount: 1,
		},
	}
	var view vk.ImageView
	if res := vk.CreateImageView(device, &viewInfo, context.Allocator, &view); res != vk.Success {
		img.Destroy()
		return nil, fmt.Errorf("image %s: %w", name, resultError("vkCreateImageView", res))
	}
	img.View = view

	staging, err := newBuffer(context, "staging/"+name, uint64(len(pixels)), metadata.BufferUsageTransferSrc)
	if err != nil {
		img.Destroy()
		return nil, err
	}
	if err := staging.Write(0, pixels); err != nil {
		staging.Destroy()
		img.Destroy()
		return nil, err
	}
	img.staging.Store(staging)
	return img, nil
}

func (img *VulkanImage) Name() string   { return img.name }
func (img *VulkanImage) Width() uint32  { return img.width }
func (img *VulkanImage) Height() uint32 { return img.height }

// recordUpload copies the staged pixels into the image, which must be in
// TRANSFER_DST_OPTIMAL. It returns false when nothing is staged.
func (img *VulkanImage) recordUpload(cb *VulkanCommandBuffer) (*Buffer, bool) {
	staging := img.staging.Swap(nil)
	if staging == nil {
		return nil, false
	}
	region := vk.BufferImageCopy{
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LayerCount: 1,
		},
		ImageExtent: vk.Extent3D{
			Width:  img.width,
			Height: img.height,
			Depth:  1,
		},
	}
	vk.CmdCopyBufferToImage(cb.Handle, staging.handle, img.Handle, vk.ImageLayoutTransferDstOptimal, 1, []vk.BufferImageCopy{region})
	return staging, true
}

func (img *VulkanImage) Destroy() {
	if img.destroyed.Swap(true) {
		return
	}
	if staging := img.staging.Swap(nil); staging != nil {
		staging.Destroy()
	}
	device := img.context.Device.LogicalDevice
	if img.View != nil {
		vk.DestroyImageView(device, img.View, img.context.Allocator)
		img.View = nil
	}
	if img.Handle != nil {
		vk.DestroyImage(device, img.Handle, img.context.Allocator)
		img.Handle = nil
	}
	if img.Memory != nil {
		vk.FreeMemory(device, img.Memory, img.context.Allocator)
		img.Memory = nil
	}
}

type VulkanSampler struct {
	Handle  vk.Sampler
	context *VulkanContext
}

func samplerFilter(f metadata.TextureFilter) vk.Filter {
	if f == metadata.TextureFilterModeNearest {
		return vk.FilterNearest
	}
	return vk.FilterLinear
}

func samplerAddressMode(r metadata.TextureRepeat) vk.SamplerAddressMode {
	switch r {
	case metadata.TextureRepeatMirroredRepeat:
		return vk.SamplerAddressModeMirroredRepeat
	case metadata.TextureRepeatClampToEdge:
		return vk.SamplerAddressModeClampToEdge
	case metadata.TextureRepeatClampToBorder:
		return vk.SamplerAddressModeClampToBorder
	}
	return vk.SamplerAddressModeRepeat
}

func SamplerCreate(context *VulkanContext, config metadata.SamplerConfig) (*VulkanSampler, error) {
	createInfo := vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               samplerFilter(config.FilterMagnify),
		MinFilter:               samplerFilter(config.FilterMinify),
		AddressModeU:            samplerAddressMode(config.RepeatU),
		AddressModeV:            samplerAddressMode(config.RepeatV),
		AddressModeW:            samplerAddressMode(config.RepeatU),
		BorderColor:             vk.BorderColorIntOpaqueBlack,
		UnnormalizedCoordinates: vk.False,
		CompareEnable:           vk.False,
		CompareOp:               vk.CompareOpAlways,
		MipmapMode:              vk.SamplerMipmapModeLinear,
	}
	if context.Device.Features.SamplerAnisotropy == vk.True {
		createInfo.AnisotropyEnable = vk.True
		createInfo.MaxAnisotropy = 16
	}
	var handle vk.Sampler
	if res := vk.CreateSampler(context.Device.LogicalDevice, &createInfo, context.Allocator, &handle); res != vk.Success {
		return nil, resultError("vkCreateSampler", res)
	}
	return &VulkanSampler{Handle: handle, context: context}, nil
}

func (s *VulkanSampler) Destroy() {
	if s.Handle != nil {
		vk.DestroySampler(s.context.Device.LogicalDevice, s.Handle, s.context.Allocator)
		s.Handle = nil
	}
}
