package renderer

import (
	"testing"

	"github.com/cockroachdb/errors"

	"github.com/vkngwrapper/frame-lifecycle/gpu"
	"github.com/vkngwrapper/frame-lifecycle/internal/gputest"
	"github.com/vkngwrapper/frame-lifecycle/swapchain"
)

type recordedFrame struct {
	slot       int
	image      int
	generation uint64
}

type fixture struct {
	dev      *gputest.Device
	factory  *gputest.SwapchainFactory
	stage    *gputest.Stage
	recorded []recordedFrame
	r        *Renderer
}

func newFixture(t *testing.T, slots, images int) *fixture {
	t.Helper()

	f := &fixture{dev: gputest.NewDevice()}
	f.factory = gputest.NewSwapchainFactory(f.dev, images, swapchain.Extent{Width: 800, Height: 600})
	f.stage = &gputest.Stage{Dev: f.dev, Tag: "framebuffers"}

	recorder := RecorderFunc(func(frame *FrameContext) ([]gpu.CommandBuffer, error) {
		f.recorded = append(f.recorded, recordedFrame{
			slot:       frame.Slot.Index,
			image:      frame.ImageIndex,
			generation: frame.State.Generation,
		})

		cmds, err := f.dev.AllocateCommandBuffers(1)
		if err != nil {
			return nil, err
		}
		_ = cmds[0].Begin(false)
		_ = cmds[0].End()
		return cmds, nil
	})

	cfg := DefaultConfig()
	cfg.FramesInFlight = slots

	var err error
	f.r, err = New(cfg, Dependencies{
		Device:   f.dev,
		Sync:     f.dev,
		Queue:    f.dev,
		Factory:  f.factory,
		Stages:   []swapchain.Stage{f.stage},
		Recorder: recorder,
	})
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func (f *fixture) checkRoundRobin(t *testing.T, slots int) {
	t.Helper()
	for i, frame := range f.recorded {
		if frame.slot != i%slots {
			t.Fatalf("frame %d used slot %d, expected %d (frames: %v)", i, frame.slot, i%slots, f.recorded)
		}
	}
}

func TestStalePresentRecreatesAndKeepsRotation(t *testing.T) {
	f := newFixture(t, 2, 3)
	f.dev.StalePresents = map[int]bool{4: true, 7: true}

	for i := 0; i < 10; i++ {
		err := f.r.DrawFrame()
		if err != nil {
			t.Fatalf("frame %d: %v", i+1, err)
		}
	}

	if f.r.Recreations() != 2 {
		t.Errorf("expected 2 recreations, got %d", f.r.Recreations())
	}
	if len(f.factory.Created) != 3 {
		t.Errorf("expected 3 swapchain generations, got %d", len(f.factory.Created))
	}
	if len(f.recorded) != 10 {
		t.Fatalf("expected 10 recorded frames, got %d", len(f.recorded))
	}
	f.checkRoundRobin(t, 2)

	wantGenerations := []uint64{1, 1, 1, 1, 2, 2, 2, 3, 3, 3}
	for i, frame := range f.recorded {
		if frame.generation != wantGenerations[i] {
			t.Errorf("frame %d: expected generation %d, got %d", i+1, wantGenerations[i], frame.generation)
		}
	}
	if len(f.dev.Violations) != 0 {
		t.Errorf("unexpected violations: %v", f.dev.Violations)
	}
}

func TestStaleAcquireSkipsFrameWithoutConsumingSlot(t *testing.T) {
	f := newFixture(t, 2, 3)
	f.dev.StaleAcquires = map[int]bool{4: true, 7: true}

	for i := 0; i < 10; i++ {
		err := f.r.DrawFrame()
		if err != nil {
			t.Fatalf("tick %d: %v", i+1, err)
		}
	}

	if f.r.Recreations() != 2 {
		t.Errorf("expected 2 recreations, got %d", f.r.Recreations())
	}
	if len(f.recorded) != 8 {
		t.Fatalf("expected 8 recorded frames, got %d", len(f.recorded))
	}
	f.checkRoundRobin(t, 2)
}

func TestResizeRecreatesAtNewExtent(t *testing.T) {
	f := newFixture(t, 2, 3)
	f.factory.Support.Capabilities.CurrentExtent = swapchain.Extent{
		Width:  swapchain.UndefinedDimension,
		Height: swapchain.UndefinedDimension,
	}

	err := f.r.DrawFrame()
	if err != nil {
		t.Fatal(err)
	}

	f.r.NotifyResize(swapchain.Extent{Width: 1280, Height: 720})
	err = f.r.DrawFrame()
	if err != nil {
		t.Fatal(err)
	}

	if f.r.Recreations() != 1 {
		t.Errorf("expected 1 recreation, got %d", f.r.Recreations())
	}
	if got := f.r.State().Extent; got != (swapchain.Extent{Width: 1280, Height: 720}) {
		t.Errorf("expected 1280x720, got %v", got)
	}
	if f.dev.WaitIdleCalls != 1 {
		t.Errorf("expected the device to be idled once, got %d", f.dev.WaitIdleCalls)
	}
}

func TestMinimizedWindowPausesRendering(t *testing.T) {
	f := newFixture(t, 2, 3)

	f.r.NotifyResize(swapchain.Extent{Width: 0, Height: 0})
	for i := 0; i < 3; i++ {
		err := f.r.DrawFrame()
		if err != nil {
			t.Fatal(err)
		}
	}

	if len(f.recorded) != 0 {
		t.Errorf("expected no frames while minimized, got %d", len(f.recorded))
	}
	if f.r.Recreations() != 0 {
		t.Errorf("expected no recreation while minimized, got %d", f.r.Recreations())
	}

	f.r.NotifyResize(swapchain.Extent{Width: 640, Height: 480})
	err := f.r.DrawFrame()
	if err != nil {
		t.Fatal(err)
	}

	if f.r.Recreations() != 1 || len(f.recorded) != 1 {
		t.Errorf("expected rendering to resume after restore, recreations=%d frames=%d",
			f.r.Recreations(), len(f.recorded))
	}
}

func TestEmptySurfaceExtentPausesUntilRestored(t *testing.T) {
	f := newFixture(t, 2, 3)
	f.dev.StalePresents = map[int]bool{1: true}
	f.factory.Support.Capabilities.CurrentExtent = swapchain.Extent{Width: 0, Height: 0}

	for i := 0; i < 3; i++ {
		err := f.r.DrawFrame()
		if err != nil {
			t.Fatalf("frame %d: %v", i+1, err)
		}
	}

	if len(f.factory.Created) != 1 {
		t.Errorf("expected no swapchain built for an empty surface, got %d generations", len(f.factory.Created))
	}
	if f.r.State() != nil {
		t.Errorf("expected no live generation while the surface is empty, got %v", f.r.State())
	}
	if len(f.recorded) != 1 {
		t.Errorf("expected only the frame before the surface emptied, got %d", len(f.recorded))
	}

	f.factory.Support.Capabilities.CurrentExtent = swapchain.Extent{Width: 800, Height: 600}
	err := f.r.DrawFrame()
	if err != nil {
		t.Fatal(err)
	}

	if len(f.factory.Created) != 2 {
		t.Errorf("expected a second generation after restore, got %d", len(f.factory.Created))
	}
	if got := f.factory.LastParam.Extent; got != (swapchain.Extent{Width: 800, Height: 600}) {
		t.Errorf("expected 800x600, got %v", got)
	}
	if len(f.recorded) != 2 || f.recorded[1].generation != 2 {
		t.Errorf("expected rendering to resume on generation 2, frames: %v", f.recorded)
	}
}

func TestFailedRecreationStaysFatal(t *testing.T) {
	f := newFixture(t, 2, 3)
	f.dev.StalePresents = map[int]bool{1: true}
	f.stage.Fail = errors.New("framebuffer allocation failed")

	err := f.r.DrawFrame()
	if err == nil {
		t.Fatal("expected the failed recreation to surface")
	}
	if f.r.State() != nil {
		t.Fatal("expected no live generation after a failed recreation")
	}

	for i := 0; i < 2; i++ {
		_, err = f.r.BeginFrame()
		if err == nil {
			t.Fatal("expected BeginFrame to fail without a live generation")
		}
	}
	if len(f.recorded) != 1 {
		t.Errorf("expected no frames recorded after the failure, got %d", len(f.recorded))
	}
}

func TestDrawRejectsFrameFromOldGeneration(t *testing.T) {
	f := newFixture(t, 2, 3)

	frame, err := f.r.BeginFrame()
	if err != nil {
		t.Fatal(err)
	}

	f.r.NotifyResize(swapchain.Extent{Width: 1024, Height: 768})
	err = f.r.recreate()
	if err != nil {
		t.Fatal(err)
	}

	err = f.r.Draw(frame)
	if err == nil {
		t.Fatal("expected a frame from a destroyed generation to be rejected")
	}
	if len(f.recorded) != 0 {
		t.Error("recorder ran for a stale frame")
	}
}

func TestDeviceErrorsAreFatal(t *testing.T) {
	f := newFixture(t, 2, 3)
	f.dev.FailSubmit = errors.New("device lost")

	err := f.r.DrawFrame()
	if err == nil {
		t.Fatal("expected a submit failure to surface")
	}
	if errors.Is(err, gpu.ErrSwapchainStale) {
		t.Error("device loss must not look like a stale swapchain")
	}
	if f.r.Recreations() != 0 {
		t.Error("device errors must not trigger recreation")
	}
}

func TestClose(t *testing.T) {
	f := newFixture(t, 2, 3)
	for i := 0; i < 3; i++ {
		if err := f.r.DrawFrame(); err != nil {
			t.Fatal(err)
		}
	}

	err := f.r.Close()
	if err != nil {
		t.Fatal(err)
	}

	if f.stage.Live {
		t.Error("dependent stage still live after Close")
	}
	if !f.factory.Created[0].Destroyed {
		t.Error("swapchain still live after Close")
	}
	if f.dev.Log.Count("destroy fence") != 2 {
		t.Errorf("expected both slot fences destroyed, log was %v", f.dev.Log.Events)
	}
	if f.dev.PendingWork() != 0 {
		t.Error("Close returned with GPU work still pending")
	}
}

func TestNewValidatesConfig(t *testing.T) {
	dev := gputest.NewDevice()
	cfg := DefaultConfig()
	cfg.FramesInFlight = 0

	_, err := New(cfg, Dependencies{Device: dev, Sync: dev, Queue: dev})
	if err == nil {
		t.Error("expected an error for zero frames in flight")
	}
}
