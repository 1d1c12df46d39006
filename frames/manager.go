// Package frames keeps up to N frames of GPU work in flight without letting the
// CPU touch a frame slot's resources while the GPU may still be using them.
package frames

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"

	"github.com/vkngwrapper/frame-lifecycle/gpu"
)

// Slot is one reusable set of frame synchronization objects.
type Slot struct {
	Index          int
	ImageAvailable gpu.Semaphore
	RenderFinished gpu.Semaphore
	InFlight       gpu.Fence

	// submitted is set between a submission and the wait that observes its
	// completion.
	submitted bool
}

// Submitted reports whether the slot has work the CPU has not yet waited for.
func (s *Slot) Submitted() bool {
	return s.submitted
}

type Manager struct {
	sync    gpu.SyncFactory
	slots   []*Slot
	current int
	logger  *slog.Logger

	// imagesInFlight maps a swapchain image to the fence of the slot that last
	// rendered to it.
	imagesInFlight []*Slot
}

func NewManager(sync gpu.SyncFactory, count int, logger *slog.Logger) (*Manager, error) {
	if count < 1 {
		return nil, errors.Newf("frames in flight must be at least 1, got %d", count)
	}
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{sync: sync, logger: logger}
	for i := 0; i < count; i++ {
		slot, err := m.createSlot(i)
		if err != nil {
			m.Destroy()
			return nil, errors.Wrapf(err, "create frame slot %d", i)
		}
		m.slots = append(m.slots, slot)
	}

	return m, nil
}

func (m *Manager) createSlot(index int) (*Slot, error) {
	slot := &Slot{Index: index}

	var err error
	slot.ImageAvailable, err = m.sync.CreateSemaphore()
	if err != nil {
		return nil, err
	}

	slot.RenderFinished, err = m.sync.CreateSemaphore()
	if err != nil {
		slot.ImageAvailable.Destroy()
		return nil, err
	}

	slot.InFlight, err = m.sync.CreateFence(true)
	if err != nil {
		slot.RenderFinished.Destroy()
		slot.ImageAvailable.Destroy()
		return nil, err
	}

	return slot, nil
}

func (m *Manager) SlotCount() int {
	return len(m.slots)
}

// Current returns the index of the slot the next BeginFrame will use.
func (m *Manager) Current() int {
	return m.current
}

func (m *Manager) Slot(index int) *Slot {
	return m.slots[index]
}

// BeginFrame blocks until the current slot's previous submission has
// completed and returns the slot.
func (m *Manager) BeginFrame() (*Slot, error) {
	slot := m.slots[m.current]

	err := slot.InFlight.Wait()
	if err != nil {
		return nil, errors.Wrapf(err, "wait for frame slot %d", slot.Index)
	}
	slot.submitted = false

	return slot, nil
}

// ResetImages forgets image ownership, for use after the swapchain is
// recreated with the given number of images.
func (m *Manager) ResetImages(count int) {
	m.imagesInFlight = make([]*Slot, count)
}

// AcquireImage acquires the next presentable image, signalling the slot's
// image available semaphore. gpu.ErrSwapchainStale is returned unwrapped.
// If another slot is still rendering to the acquired image, AcquireImage
// waits for it.
func (m *Manager) AcquireImage(sc gpu.Swapchain, slot *Slot) (int, error) {
	imageIndex, err := sc.AcquireNextImage(slot.ImageAvailable)
	if errors.Is(err, gpu.ErrSwapchainStale) {
		return 0, gpu.ErrSwapchainStale
	} else if err != nil {
		return 0, errors.Wrap(err, "acquire swapchain image")
	}

	if imageIndex >= len(m.imagesInFlight) {
		m.grow(imageIndex + 1)
	}

	owner := m.imagesInFlight[imageIndex]
	if owner != nil && owner != slot && owner.submitted {
		err = owner.InFlight.Wait()
		if err != nil {
			return 0, errors.Wrapf(err, "wait for image %d held by frame slot %d", imageIndex, owner.Index)
		}
		owner.submitted = false
	}
	m.imagesInFlight[imageIndex] = slot

	return imageIndex, nil
}

func (m *Manager) grow(count int) {
	images := make([]*Slot, count)
	copy(images, m.imagesInFlight)
	m.imagesInFlight = images
}

// Submit resets the slot's fence and submits commands so that they wait for
// the image to become available and signal render finished and the fence.
func (m *Manager) Submit(queue gpu.Queue, slot *Slot, commands []gpu.CommandBuffer) error {
	if slot.submitted {
		return errors.Newf("frame slot %d submitted again before its previous work was waited on", slot.Index)
	}

	err := slot.InFlight.Reset()
	if err != nil {
		return errors.Wrapf(err, "reset fence for frame slot %d", slot.Index)
	}

	err = queue.Submit(slot.InFlight, gpu.Submission{
		WaitSemaphores:   []gpu.Semaphore{slot.ImageAvailable},
		CommandBuffers:   commands,
		SignalSemaphores: []gpu.Semaphore{slot.RenderFinished},
	})
	if err != nil {
		return errors.Wrapf(err, "submit frame slot %d", slot.Index)
	}
	slot.submitted = true

	return nil
}

// Present queues imageIndex for presentation once the slot's rendering has
// finished. gpu.ErrSwapchainStale is returned unwrapped.
func (m *Manager) Present(sc gpu.Swapchain, imageIndex int, slot *Slot) error {
	err := sc.Present(imageIndex, slot.RenderFinished)
	if errors.Is(err, gpu.ErrSwapchainStale) {
		return gpu.ErrSwapchainStale
	} else if err != nil {
		return errors.Wrapf(err, "present image %d", imageIndex)
	}
	return nil
}

func (m *Manager) EndFrame() {
	m.current = (m.current + 1) % len(m.slots)
}

// Destroy releases every slot. The device must be idle.
func (m *Manager) Destroy() {
	for _, slot := range m.slots {
		slot.InFlight.Destroy()
		slot.RenderFinished.Destroy()
		slot.ImageAvailable.Destroy()
	}
	m.slots = nil
	m.imagesInFlight = nil
}
