package vulkan

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-render/engine/core"
	"github.com/spaghettifunk/anima-render/engine/renderer/metadata"
)

// Buffer is a persistently mapped, host-coherent VkBuffer.
type Buffer struct {
	label   string
	size    uint64
	usage   metadata.BufferUsage
	handle  vk.Buffer
	memory  vk.DeviceMemory
	mapped  []byte
	context *VulkanContext

	destroyed atomic.Bool
}

func bufferUsageFlags(usage metadata.BufferUsage) vk.BufferUsageFlags {
	var flags vk.BufferUsageFlagBits
	if usage.Has(metadata.BufferUsageVertex) {
		flags |= vk.BufferUsageVertexBufferBit
	}
	if usage.Has(metadata.BufferUsageIndex) {
		flags |= vk.BufferUsageIndexBufferBit
	}
	if usage.Has(metadata.BufferUsageUniform) {
		flags |= vk.BufferUsageUniformBufferBit
	}
	if usage.Has(metadata.BufferUsageStorage) {
		flags |= vk.BufferUsageStorageBufferBit
	}
	if usage.Has(metadata.BufferUsageIndirect) {
		flags |= vk.BufferUsageIndirectBufferBit
	}
	if usage.Has(metadata.BufferUsageTransferSrc) {
		flags |= vk.BufferUsageTransferSrcBit
	}
	if usage.Has(metadata.BufferUsageTransferDst) {
		flags |= vk.BufferUsageTransferDstBit
	}
	return vk.BufferUsageFlags(flags)
}

func newBuffer(context *VulkanContext, label string, size uint64, usage metadata.BufferUsage) (*Buffer, error) {
	if size == 0 {
		return nil, fmt.Errorf("buffer %s: zero size", label)
	}
	device := context.Device.LogicalDevice
	b := &Buffer{
		label:   label,
		size:    size,
		usage:   usage,
		context: context,
	}

	createInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       bufferUsageFlags(usage),
		SharingMode: vk.SharingModeExclusive,
	}
	var handle vk.Buffer
	if res := vk.CreateBuffer(device, &createInfo, context.Allocator, &handle); res != vk.Success {
		return nil, fmt.Errorf("buffer %s: %w", label, resultError("vkCreateBuffer", res))
	}
	b.handle = handle

	var reqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(device, handle, &reqs)
	reqs.Deref()

	memoryIndex, err := context.FindMemoryIndex(reqs.MemoryTypeBits,
		vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit))
	if err != nil {
		b.Destroy()
		return nil, fmt.Errorf("buffer %s: %w", label, err)
	}

	allocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  reqs.Size,
		MemoryTypeIndex: memoryIndex,
	}
	var memory vk.DeviceMemory
	if res := vk.AllocateMemory(device, &allocateInfo, context.Allocator, &memory); res != vk.Success {
		b.Destroy()
		return nil, fmt.Errorf("buffer %s: %w: %w", label, resultError("vkAllocateMemory", res), core.ErrCapacityExceeded)
	}
	b.memory = memory

	if res := vk.BindBufferMemory(device, handle, memory, 0); res != vk.Success {
		b.Destroy()
		return nil, fmt.Errorf("buffer %s: %w", label, resultError("vkBindBufferMemory", res))
	}

	var ptr unsafe.Pointer
	if res := vk.MapMemory(device, memory, 0, vk.DeviceSize(size), 0, &ptr); res != vk.Success {
		b.Destroy()
		return nil, fmt.Errorf("buffer %s: %w", label, resultError("vkMapMemory", res))
	}
	b.mapped = unsafe.Slice((*byte)(ptr), size)

	core.LogDebug("vulkan buffer %s created (%d bytes)", label, size)
	return b, nil
}

func (b *Buffer) Label() string {
	return b.label
}

func (b *Buffer) Size() uint64 {
	return b.size
}

// Write copies data through the persistent mapping. Concurrent writes to
// disjoint ranges are safe.
func (b *Buffer) Write(offset uint64, data []byte) error {
	if b.destroyed.Load() {
		return fmt.Errorf("buffer %s: write after destroy", b.label)
	}
	if offset+uint64(len(data)) > b.size {
		return fmt.Errorf("buffer %s: write of %d bytes at %d overflows %d bytes: %w", b.label, len(data), offset, b.size, core.ErrCapacityExceeded)
	}
	copy(b.mapped[offset:], data)
	return nil
}

func (b *Buffer) Read(offset, size uint64) ([]byte, error) {
	if b.destroyed.Load() {
		return nil, fmt.Errorf("buffer %s: read after destroy", b.label)
	}
	if offset+size > b.size {
		return nil, fmt.Errorf("buffer %s: read of %d bytes at %d overflows %d bytes", b.label, size, offset, b.size)
	}
	out := make([]byte, size)
	copy(out, b.mapped[offset:offset+size])
	return out, nil
}

func (b *Buffer) Destroy() {
	if b.destroyed.Swap(true) {
		return
	}
	device := b.context.Device.LogicalDevice
	if b.mapped != nil {
		vk.UnmapMemory(device, b.memory)
		b.mapped = nil
	}
	if b.handle != nil {
		vk.DestroyBuffer(device, b.handle, b.context.Allocator)
		b.handle = nil
	}
	if b.memory != nil {
		vk.FreeMemory(device, b.memory, b.context.Allocator)
		b.memory = nil
	}
}
