package vkgpu

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	units "github.com/docker/go-units"
	"github.com/vkngwrapper/core/core1_0"

	"github.com/vkngwrapper/frame-lifecycle/gpu"
)

// Buffer is a buffer with its own dedicated allocation.
type Buffer struct {
	buffer core1_0.Buffer
	memory core1_0.DeviceMemory
	size   int
}

func (b *Buffer) Size() int {
	return b.size
}

func (b *Buffer) Map() ([]byte, error) {
	memoryPtr, _, err := b.memory.Map(0, b.size, 0)
	if err != nil {
		return nil, err
	}

	return unsafe.Slice((*byte)(memoryPtr), b.size), nil
}

func (b *Buffer) Unmap() {
	b.memory.Unmap()
}

func (b *Buffer) Destroy() {
	if b.buffer != nil {
		b.buffer.Destroy(nil)
		b.buffer = nil
	}

	if b.memory != nil {
		b.memory.Free(nil)
		b.memory = nil
	}
}

// Handle is the underlying vulkan buffer, for binding in command buffers.
func (b *Buffer) Handle() core1_0.Buffer {
	return b.buffer
}

var bufferUsages = []struct {
	from gpu.BufferUsage
	to   core1_0.BufferUsageFlags
}{
	{gpu.BufferUsageTransferSrc, core1_0.BufferUsageTransferSrc},
	{gpu.BufferUsageTransferDst, core1_0.BufferUsageTransferDst},
	{gpu.BufferUsageVertexBuffer, core1_0.BufferUsageVertexBuffer},
	{gpu.BufferUsageIndexBuffer, core1_0.BufferUsageIndexBuffer},
	{gpu.BufferUsageUniformBuffer, core1_0.BufferUsageUniformBuffer},
}

var memoryProperties = []struct {
	from gpu.MemoryProperty
	to   core1_0.MemoryPropertyFlags
}{
	{gpu.MemoryPropertyDeviceLocal, core1_0.MemoryPropertyDeviceLocal},
	{gpu.MemoryPropertyHostVisible, core1_0.MemoryPropertyHostVisible},
	{gpu.MemoryPropertyHostCoherent, core1_0.MemoryPropertyHostCoherent},
}

func (c *Context) CreateBuffer(size int, usage gpu.BufferUsage, properties gpu.MemoryProperty) (gpu.Buffer, error) {
	var usageFlags core1_0.BufferUsageFlags
	for _, u := range bufferUsages {
		if usage&u.from != 0 {
			usageFlags |= u.to
		}
	}

	var propertyFlags core1_0.MemoryPropertyFlags
	for _, p := range memoryProperties {
		if properties&p.from != 0 {
			propertyFlags |= p.to
		}
	}

	buffer, err := c.createBuffer(size, usageFlags, propertyFlags)
	if err != nil {
		return nil, errors.Wrapf(err, "create %s buffer", units.BytesSize(float64(size)))
	}
	return buffer, nil
}

func (c *Context) createBuffer(size int, usage core1_0.BufferUsageFlags, properties core1_0.MemoryPropertyFlags) (*Buffer, error) {
	buffer, _, err := c.device.CreateBuffer(nil, core1_0.BufferCreateInfo{
		Size:        size,
		Usage:       usage,
		SharingMode: core1_0.SharingModeExclusive,
	})
	if err != nil {
		return nil, err
	}

	b := &Buffer{buffer: buffer, size: size}

	memRequirements := buffer.MemoryRequirements()
	memoryTypeIndex, err := c.findMemoryType(memRequirements.MemoryTypeBits, properties)
	if err != nil {
		b.Destroy()
		return nil, err
	}

	b.memory, _, err = c.device.AllocateMemory(nil, core1_0.MemoryAllocateInfo{
		AllocationSize:  memRequirements.Size,
		MemoryTypeIndex: memoryTypeIndex,
	})
	if err != nil {
		b.Destroy()
		return nil, err
	}

	_, err = buffer.BindBufferMemory(b.memory, 0)
	if err != nil {
		b.Destroy()
		return nil, err
	}

	return b, nil
}

func (c *Context) findMemoryType(typeFilter uint32, properties core1_0.MemoryPropertyFlags) (int, error) {
	memProperties := c.physicalDevice.MemoryProperties()
	for i, memoryType := range memProperties.MemoryTypes {
		typeBit := uint32(1 << i)

		if (typeFilter&typeBit) != 0 && (memoryType.PropertyFlags&properties) == properties {
			return i, nil
		}
	}

	return 0, errors.Newf("failed to find a memory type with properties %s", properties)
}
