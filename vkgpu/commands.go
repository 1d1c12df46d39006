package vkgpu

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/core1_0"

	"github.com/vkngwrapper/frame-lifecycle/gpu"
)

type CommandBuffer struct {
	buffer core1_0.CommandBuffer
}

func (b *CommandBuffer) Begin(oneTimeSubmit bool) error {
	var flags core1_0.CommandBufferUsageFlags
	if oneTimeSubmit {
		flags = core1_0.CommandBufferUsageOneTimeSubmit
	}

	_, err := b.buffer.Begin(core1_0.CommandBufferBeginInfo{
		Flags: flags,
	})
	return err
}

func (b *CommandBuffer) CopyBuffer(src, dst gpu.Buffer, size int) error {
	return b.buffer.CmdCopyBuffer(src.(*Buffer).buffer, dst.(*Buffer).buffer, []core1_0.BufferCopy{
		{
			SrcOffset: 0,
			DstOffset: 0,
			Size:      size,
		},
	})
}

func (b *CommandBuffer) End() error {
	_, err := b.buffer.End()
	return err
}

func (c *Context) AllocateCommandBuffers(count int) ([]gpu.CommandBuffer, error) {
	buffers, err := c.allocateCommandBuffers(count)
	if err != nil {
		return nil, err
	}

	out := make([]gpu.CommandBuffer, len(buffers))
	for i, buffer := range buffers {
		out[i] = buffer
	}
	return out, nil
}

func (c *Context) allocateCommandBuffers(count int) ([]*CommandBuffer, error) {
	buffers, _, err := c.device.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        c.commandPool,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: count,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "allocate %d command buffers", count)
	}

	out := make([]*CommandBuffer, len(buffers))
	for i, buffer := range buffers {
		out[i] = &CommandBuffer{buffer: buffer}
	}
	return out, nil
}

func (c *Context) FreeCommandBuffers(buffers []gpu.CommandBuffer) {
	if len(buffers) == 0 {
		return
	}
	c.device.FreeCommandBuffers(unwrapCommandBuffers(buffers))
}

func unwrapCommandBuffers(buffers []gpu.CommandBuffer) []core1_0.CommandBuffer {
	out := make([]core1_0.CommandBuffer, len(buffers))
	for i, b := range buffers {
		out[i] = b.(*CommandBuffer).buffer
	}
	return out
}

type Queue struct {
	queue core1_0.Queue
}

func (q *Queue) Submit(fence gpu.Fence, submission gpu.Submission) error {
	waitSemaphores := unwrapSemaphores(submission.WaitSemaphores)

	var waitStages []core1_0.PipelineStageFlags
	for range waitSemaphores {
		waitStages = append(waitStages, core1_0.PipelineStageColorAttachmentOutput)
	}

	_, err := q.queue.Submit(unwrapFence(fence), []core1_0.SubmitInfo{
		{
			WaitSemaphores:   waitSemaphores,
			WaitDstStageMask: waitStages,
			CommandBuffers:   unwrapCommandBuffers(submission.CommandBuffers),
			SignalSemaphores: unwrapSemaphores(submission.SignalSemaphores),
		},
	})
	return errors.Wrap(err, "queue submit")
}
