// Package gputest provides in-memory fakes of the gpu interfaces. Submitted
// work does not run until a fence covering it is waited on or the device is
// idled, which lets tests observe the CPU/GPU hand-off.
package gputest

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/vkngwrapper/frame-lifecycle/gpu"
)

// Log is an ordered record of everything the fakes were asked to do.
type Log struct {
	Events []string
}

func (l *Log) Add(format string, args ...any) {
	l.Events = append(l.Events, fmt.Sprintf(format, args...))
}

// Index returns the position of the first event equal to event, or -1.
func (l *Log) Index(event string) int {
	for i, e := range l.Events {
		if e == event {
			return i
		}
	}
	return -1
}

// Count returns how many events start with prefix.
func (l *Log) Count(prefix string) int {
	n := 0
	for _, e := range l.Events {
		if strings.HasPrefix(e, prefix) {
			n++
		}
	}
	return n
}

type work struct {
	fence    *Fence
	commands []*CommandBuffer
}

// Device fakes the sync factory, allocator, command pool, queue and device
// interfaces at once.
type Device struct {
	Log *Log

	// Violations collects misuse the fakes detected, e.g. a copy reading a
	// destroyed buffer.
	Violations []string

	LiveBuffers    int
	CreatedBuffers int
	LiveCommands   int
	WaitIdleCalls  int

	FailCreateBuffer int // fail the Nth CreateBuffer call (1-based), 0 disables
	FailMap          error
	FailSubmit       error
	FailWait         error

	// StaleAcquires and StalePresents mark the Nth acquire or present call
	// (1-based, counted across swapchain generations) as stale.
	StaleAcquires map[int]bool
	StalePresents map[int]bool
	Acquires      int
	Presents      int

	nextID      int
	bufferCalls int
	pending     []*work
	submissions []gpu.Submission
}

var (
	_ gpu.SyncFactory = (*Device)(nil)
	_ gpu.Allocator   = (*Device)(nil)
	_ gpu.CommandPool = (*Device)(nil)
	_ gpu.Queue       = (*Device)(nil)
	_ gpu.Device      = (*Device)(nil)
)

func NewDevice() *Device {
	return &Device{Log: &Log{}}
}

func (d *Device) id() int {
	d.nextID++
	return d.nextID
}

// Submissions returns every batch accepted by Submit, in order.
func (d *Device) Submissions() []gpu.Submission {
	return d.submissions
}

// PendingWork reports how many submitted batches have not completed.
func (d *Device) PendingWork() int {
	return len(d.pending)
}

func (d *Device) WaitIdle() error {
	d.WaitIdleCalls++
	d.Log.Add("wait idle")
	d.complete(len(d.pending))
	return nil
}

// complete retires the first n pending batches in submission order.
func (d *Device) complete(n int) {
	for _, w := range d.pending[:n] {
		for _, cmd := range w.commands {
			cmd.execute()
		}
		if w.fence != nil {
			w.fence.signaled = true
		}
	}
	d.pending = d.pending[n:]
}

func (d *Device) CreateFence(signaled bool) (gpu.Fence, error) {
	f := &Fence{dev: d, ID: d.id(), signaled: signaled}
	d.Log.Add("create fence %d", f.ID)
	return f, nil
}

func (d *Device) CreateSemaphore() (gpu.Semaphore, error) {
	s := &Semaphore{dev: d, ID: d.id()}
	d.Log.Add("create semaphore %d", s.ID)
	return s, nil
}

func (d *Device) CreateBuffer(size int, usage gpu.BufferUsage, properties gpu.MemoryProperty) (gpu.Buffer, error) {
	d.bufferCalls++
	if d.FailCreateBuffer == d.bufferCalls {
		return nil, errors.Newf("out of device memory creating buffer of %d bytes", size)
	}

	b := &Buffer{
		dev:        d,
		ID:         d.id(),
		Usage:      usage,
		Properties: properties,
		Data:       make([]byte, size),
	}
	d.LiveBuffers++
	d.CreatedBuffers++
	d.Log.Add("create buffer %d", b.ID)
	return b, nil
}

func (d *Device) AllocateCommandBuffers(count int) ([]gpu.CommandBuffer, error) {
	buffers := make([]gpu.CommandBuffer, 0, count)
	for i := 0; i < count; i++ {
		buffers = append(buffers, &CommandBuffer{dev: d, ID: d.id()})
	}
	d.LiveCommands += count
	return buffers, nil
}

func (d *Device) FreeCommandBuffers(buffers []gpu.CommandBuffer) {
	d.LiveCommands -= len(buffers)
}

func (d *Device) Submit(fence gpu.Fence, submission gpu.Submission) error {
	if d.FailSubmit != nil {
		return d.FailSubmit
	}

	w := &work{}
	if fence != nil {
		f := fence.(*Fence)
		if f.signaled {
			return errors.Newf("fence %d submitted while signaled", f.ID)
		}
		w.fence = f
		d.Log.Add("submit fence %d", f.ID)
	} else {
		d.Log.Add("submit")
	}

	for _, cmd := range submission.CommandBuffers {
		c := cmd.(*CommandBuffer)
		if !c.ended {
			return errors.Newf("command buffer %d submitted while recording", c.ID)
		}
		w.commands = append(w.commands, c)
	}

	d.pending = append(d.pending, w)
	d.submissions = append(d.submissions, submission)
	return nil
}

type Fence struct {
	dev       *Device
	ID        int
	Waits     int
	signaled  bool
	destroyed bool
}

func (f *Fence) Signaled() bool { return f.signaled }

func (f *Fence) Wait() error {
	if f.dev.FailWait != nil {
		return f.dev.FailWait
	}

	f.Waits++
	f.dev.Log.Add("wait fence %d", f.ID)
	if f.signaled {
		return nil
	}

	for i, w := range f.dev.pending {
		if w.fence == f {
			f.dev.complete(i + 1)
			return nil
		}
	}

	return errors.Newf("fence %d waited on with no work pending, this would block forever", f.ID)
}

func (f *Fence) Reset() error {
	f.signaled = false
	f.dev.Log.Add("reset fence %d", f.ID)
	return nil
}

func (f *Fence) Destroy() {
	f.destroyed = true
	f.dev.Log.Add("destroy fence %d", f.ID)
}

type Semaphore struct {
	dev       *Device
	ID        int
	destroyed bool
}

func (s *Semaphore) Destroy() {
	s.destroyed = true
	s.dev.Log.Add("destroy semaphore %d", s.ID)
}

type Buffer struct {
	dev        *Device
	ID         int
	Usage      gpu.BufferUsage
	Properties gpu.MemoryProperty
	Data       []byte
	Mapped     bool
	Destroyed  bool
}

func (b *Buffer) Size() int { return len(b.Data) }

func (b *Buffer) Map() ([]byte, error) {
	if b.dev.FailMap != nil {
		return nil, b.dev.FailMap
	}
	if b.Properties&gpu.MemoryPropertyHostVisible == 0 {
		return nil, errors.Newf("buffer %d is not host visible", b.ID)
	}
	if b.Mapped {
		return nil, errors.Newf("buffer %d is already mapped", b.ID)
	}

	b.Mapped = true
	return b.Data, nil
}

func (b *Buffer) Unmap() {
	b.Mapped = false
}

func (b *Buffer) Destroy() {
	if b.Destroyed {
		b.dev.Violations = append(b.dev.Violations, fmt.Sprintf("buffer %d destroyed twice", b.ID))
		return
	}
	if b.Mapped {
		b.dev.Violations = append(b.dev.Violations, fmt.Sprintf("buffer %d destroyed while mapped", b.ID))
	}
	b.Destroyed = true
	b.dev.LiveBuffers--
	b.dev.Log.Add("destroy buffer %d", b.ID)
}

type copyOp struct {
	src, dst *Buffer
	size     int
}

type CommandBuffer struct {
	dev       *Device
	ID        int
	OneTime   bool
	recording bool
	ended     bool
	ops       []copyOp
}

func (c *CommandBuffer) Begin(oneTimeSubmit bool) error {
	c.OneTime = oneTimeSubmit
	c.recording = true
	c.ended = false
	c.ops = nil
	return nil
}

func (c *CommandBuffer) CopyBuffer(src, dst gpu.Buffer, size int) error {
	if !c.recording {
		return errors.Newf("command buffer %d is not recording", c.ID)
	}
	c.ops = append(c.ops, copyOp{src: src.(*Buffer), dst: dst.(*Buffer), size: size})
	return nil
}

func (c *CommandBuffer) End() error {
	c.recording = false
	c.ended = true
	return nil
}

func (c *CommandBuffer) execute() {
	for _, op := range c.ops {
		if op.src.Destroyed || op.dst.Destroyed {
			c.dev.Violations = append(c.dev.Violations,
				fmt.Sprintf("copy %d -> %d executed after a buffer was destroyed", op.src.ID, op.dst.ID))
			continue
		}
		copy(op.dst.Data[:op.size], op.src.Data[:op.size])
	}
}
