// Package gpu describes the small slice of a graphics device that the frame
// lifecycle code drives. The vkgpu package implements it on top of vkngwrapper;
// tests implement it with fakes.
package gpu

import "github.com/cockroachdb/errors"

// ErrSwapchainStale is returned by acquire and present when the surface reports
// the swapchain as out of date or suboptimal. It is the one recoverable
// per-frame condition: the caller recreates the swapchain and carries on.
var ErrSwapchainStale = errors.New("swapchain is out of date")

type BufferUsage uint32

const (
	BufferUsageTransferSrc BufferUsage = 1 << iota
	BufferUsageTransferDst
	BufferUsageVertexBuffer
	BufferUsageIndexBuffer
	BufferUsageUniformBuffer
)

type MemoryProperty uint32

const (
	MemoryPropertyDeviceLocal MemoryProperty = 1 << iota
	MemoryPropertyHostVisible
	MemoryPropertyHostCoherent
)

// Fence is a completion signal the CPU waits on. Wait never times out.
type Fence interface {
	Wait() error
	Reset() error
	Destroy()
}

// Semaphore orders work on the GPU timeline.
type Semaphore interface {
	Destroy()
}

type SyncFactory interface {
	CreateFence(signaled bool) (Fence, error)
	CreateSemaphore() (Semaphore, error)
}

// Buffer is a buffer together with the memory bound to it. Destroy releases
// both.
type Buffer interface {
	Size() int
	Map() ([]byte, error)
	Unmap()
	Destroy()
}

type Allocator interface {
	CreateBuffer(size int, usage BufferUsage, properties MemoryProperty) (Buffer, error)
}

type CommandBuffer interface {
	Begin(oneTimeSubmit bool) error
	CopyBuffer(src, dst Buffer, size int) error
	End() error
}

type CommandPool interface {
	AllocateCommandBuffers(count int) ([]CommandBuffer, error)
	FreeCommandBuffers(buffers []CommandBuffer)
}

// Submission is one batch of queue work. Wait semaphores are waited at the
// color attachment output stage.
type Submission struct {
	WaitSemaphores   []Semaphore
	CommandBuffers   []CommandBuffer
	SignalSemaphores []Semaphore
}

type Queue interface {
	Submit(fence Fence, submission Submission) error
}

// Swapchain is one generation of presentable images.
type Swapchain interface {
	ImageCount() int
	// AcquireNextImage returns ErrSwapchainStale when the swapchain can no
	// longer be used with the surface.
	AcquireNextImage(signal Semaphore) (int, error)
	// Present returns ErrSwapchainStale when the image was presented but the
	// swapchain no longer matches the surface, or could not be presented at all.
	Present(imageIndex int, wait Semaphore) error
	Destroy()
}

type Device interface {
	WaitIdle() error
}

// WithMapped maps buf for the duration of fn. The buffer is unmapped on every
// return path.
func WithMapped(buf Buffer, fn func(mem []byte) error) error {
	mem, err := buf.Map()
	if err != nil {
		return errors.Wrap(err, "map buffer")
	}
	defer buf.Unmap()

	return fn(mem)
}
