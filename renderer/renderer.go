// Package renderer drives one frame per application tick: wait for a frame
// slot, acquire an image, record, submit, present, and rebuild the swapchain
// whenever the surface reports it stale or the window is resized.
package renderer

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"

	"github.com/vkngwrapper/frame-lifecycle/frames"
	"github.com/vkngwrapper/frame-lifecycle/gpu"
	"github.com/vkngwrapper/frame-lifecycle/swapchain"
)

// FrameContext is what a Recorder gets to build one frame's commands.
type FrameContext struct {
	Number     uint64
	Slot       *frames.Slot
	ImageIndex int
	State      *swapchain.State
}

// Recorder returns the command buffers to submit for a frame. The buffers
// must belong to frame.State's swapchain generation.
type Recorder interface {
	Record(frame *FrameContext) ([]gpu.CommandBuffer, error)
}

type RecorderFunc func(frame *FrameContext) ([]gpu.CommandBuffer, error)

func (f RecorderFunc) Record(frame *FrameContext) ([]gpu.CommandBuffer, error) {
	return f(frame)
}

// Dependencies are the collaborators a Renderer drives. The renderer owns
// none of them except the frame slots and swapchain generations it builds.
type Dependencies struct {
	Device   gpu.Device
	Sync     gpu.SyncFactory
	Queue    gpu.Queue
	Factory  swapchain.Factory
	Stages   []swapchain.Stage
	Recorder Recorder
}

type Renderer struct {
	device    gpu.Device
	queue     gpu.Queue
	recorder  Recorder
	frames    *frames.Manager
	swapchain *swapchain.Controller
	logger    *slog.Logger

	extent      swapchain.Extent
	resized     bool
	recreations int
	frameNumber uint64
}

func New(cfg Config, deps Dependencies) (*Renderer, error) {
	err := cfg.validate()
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	manager, err := frames.NewManager(deps.Sync, cfg.FramesInFlight, logger)
	if err != nil {
		return nil, err
	}

	ctrl := swapchain.NewController(deps.Device, deps.Factory, swapchain.Options{
		PreferredFormat: cfg.PreferredFormat,
		GraphicsFamily:  cfg.GraphicsFamily,
		PresentFamily:   cfg.PresentFamily,
		Logger:          logger,
	}, deps.Stages...)

	state, err := ctrl.Create(cfg.InitialExtent)
	if err != nil {
		manager.Destroy()
		return nil, err
	}
	manager.ResetImages(state.ImageCount)

	return &Renderer{
		device:    deps.Device,
		queue:     deps.Queue,
		recorder:  deps.Recorder,
		frames:    manager,
		swapchain: ctrl,
		logger:    logger,
		extent:    cfg.InitialExtent,
	}, nil
}

// NotifyResize records the window's new drawable size. The swapchain is
// rebuilt at the next opportunity; an empty extent (minimized window) pauses
// rendering until a non-empty one arrives.
func (r *Renderer) NotifyResize(extent swapchain.Extent) {
	r.extent = extent
	r.resized = true
}

// Recreations counts swapchain rebuilds since construction.
func (r *Renderer) Recreations() int {
	return r.recreations
}

func (r *Renderer) State() *swapchain.State {
	return r.swapchain.State()
}

func (r *Renderer) FramesInFlight() int {
	return r.frames.SlotCount()
}

// BeginFrame waits for the next frame slot and acquires an image for it. A
// nil frame with a nil error means this tick renders nothing, because the
// window is minimized or the swapchain was just rebuilt.
func (r *Renderer) BeginFrame() (*FrameContext, error) {
	if r.resized {
		err := r.recreate()
		if err != nil {
			return nil, err
		}
		if r.resized {
			return nil, nil
		}
	}

	slot, err := r.frames.BeginFrame()
	if err != nil {
		return nil, err
	}

	state := r.swapchain.State()
	if state == nil {
		return nil, errors.New("no live swapchain generation; an earlier recreation failed")
	}

	imageIndex, err := r.frames.AcquireImage(state.Swapchain, slot)
	if errors.Is(err, gpu.ErrSwapchainStale) {
		return nil, r.recreate()
	} else if err != nil {
		return nil, err
	}

	return &FrameContext{
		Number:     r.frameNumber,
		Slot:       slot,
		ImageIndex: imageIndex,
		State:      state,
	}, nil
}

// Draw records, submits and presents frame.
func (r *Renderer) Draw(frame *FrameContext) error {
	state := r.swapchain.State()
	if state == nil || frame.State.Generation != state.Generation {
		return errors.Newf("frame %d belongs to swapchain generation %d, which is no longer live",
			frame.Number, frame.State.Generation)
	}

	commands, err := r.recorder.Record(frame)
	if err != nil {
		return errors.Wrapf(err, "record frame %d", frame.Number)
	}

	err = r.frames.Submit(r.queue, frame.Slot, commands)
	if err != nil {
		return err
	}

	err = r.frames.Present(state.Swapchain, frame.ImageIndex, frame.Slot)
	if errors.Is(err, gpu.ErrSwapchainStale) || (err == nil && r.resized) {
		return r.recreate()
	}
	return err
}

// EndFrame moves on to the next frame slot.
func (r *Renderer) EndFrame() {
	r.frames.EndFrame()
	r.frameNumber++
}

// DrawFrame runs BeginFrame, Draw and EndFrame for one tick.
func (r *Renderer) DrawFrame() error {
	frame, err := r.BeginFrame()
	if err != nil || frame == nil {
		return err
	}

	err = r.Draw(frame)
	if err != nil {
		return err
	}

	r.EndFrame()
	return nil
}

func (r *Renderer) recreate() error {
	if r.extent.Empty() {
		r.resized = true
		return nil
	}

	state, err := r.swapchain.Recreate(r.extent)
	if errors.Is(err, swapchain.ErrSurfaceEmpty) {
		// The surface shrank to nothing before the window told us; wait for
		// the next resize like an empty requested extent.
		r.resized = true
		r.logger.Debug("surface is empty, pausing until resize", "frame", r.frameNumber)
		return nil
	} else if err != nil {
		return errors.Wrap(err, "recreate swapchain")
	}

	r.frames.ResetImages(state.ImageCount)
	r.resized = false
	r.recreations++

	r.logger.Debug("swapchain recreated", "generation", state.Generation, "frame", r.frameNumber)
	return nil
}

// Close waits for the GPU to finish and releases the swapchain generation and
// frame slots.
func (r *Renderer) Close() error {
	err := r.device.WaitIdle()
	if err != nil {
		return errors.Wrap(err, "wait for device idle at shutdown")
	}

	r.swapchain.Destroy()
	r.frames.Destroy()
	return nil
}
