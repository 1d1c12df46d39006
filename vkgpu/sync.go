package vkgpu

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/common"
	"github.com/vkngwrapper/core/core1_0"

	"github.com/vkngwrapper/frame-lifecycle/gpu"
)

type Fence struct {
	device core1_0.Device
	fence  core1_0.Fence
}

func (f *Fence) Wait() error {
	_, err := f.device.WaitForFences(true, common.NoTimeout, []core1_0.Fence{f.fence})
	return errors.Wrap(err, "wait for fence")
}

func (f *Fence) Reset() error {
	_, err := f.device.ResetFences([]core1_0.Fence{f.fence})
	return errors.Wrap(err, "reset fence")
}

func (f *Fence) Destroy() {
	f.fence.Destroy(nil)
}

type Semaphore struct {
	semaphore core1_0.Semaphore
}

func (s *Semaphore) Destroy() {
	s.semaphore.Destroy(nil)
}

func (c *Context) CreateFence(signaled bool) (gpu.Fence, error) {
	var flags core1_0.FenceCreateFlags
	if signaled {
		flags = core1_0.FenceCreateSignaled
	}

	fence, _, err := c.device.CreateFence(nil, core1_0.FenceCreateInfo{
		Flags: flags,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create fence")
	}

	return &Fence{device: c.device, fence: fence}, nil
}

func (c *Context) CreateSemaphore() (gpu.Semaphore, error) {
	semaphore, _, err := c.device.CreateSemaphore(nil, core1_0.SemaphoreCreateInfo{})
	if err != nil {
		return nil, errors.Wrap(err, "create semaphore")
	}

	return &Semaphore{semaphore: semaphore}, nil
}

func unwrapFence(f gpu.Fence) core1_0.Fence {
	if f == nil {
		return nil
	}
	return f.(*Fence).fence
}

func unwrapSemaphores(semaphores []gpu.Semaphore) []core1_0.Semaphore {
	if len(semaphores) == 0 {
		return nil
	}

	out := make([]core1_0.Semaphore, len(semaphores))
	for i, s := range semaphores {
		out[i] = s.(*Semaphore).semaphore
	}
	return out
}
