package swapchain_test

import (
	"strconv"
	"testing"

	"github.com/cockroachdb/errors"

	"github.com/vkngwrapper/frame-lifecycle/internal/gputest"
	"github.com/vkngwrapper/frame-lifecycle/swapchain"
)

func newController(dev *gputest.Device, factory *gputest.SwapchainFactory, stages ...swapchain.Stage) *swapchain.Controller {
	return swapchain.NewController(dev, factory, swapchain.Options{
		PreferredFormat: swapchain.DefaultFormat,
	}, stages...)
}

func dependentStages(dev *gputest.Device) []swapchain.Stage {
	return []swapchain.Stage{
		&gputest.Stage{Dev: dev, Tag: "image views"},
		&gputest.Stage{Dev: dev, Tag: "render pass"},
		&gputest.Stage{Dev: dev, Tag: "pipeline"},
		&gputest.Stage{Dev: dev, Tag: "framebuffers"},
	}
}

func TestCreate(t *testing.T) {
	dev := gputest.NewDevice()
	factory := gputest.NewSwapchainFactory(dev, 3, swapchain.Extent{Width: 800, Height: 600})
	ctrl := newController(dev, factory, dependentStages(dev)...)

	state, err := ctrl.Create(swapchain.Extent{Width: 640, Height: 480})
	if err != nil {
		t.Fatal(err)
	}

	if state.ImageCount != 3 {
		t.Errorf("expected 3 images, got %d", state.ImageCount)
	}
	if state.Extent != (swapchain.Extent{Width: 800, Height: 600}) {
		t.Errorf("expected the surface extent, got %v", state.Extent)
	}
	if state.Generation != 1 {
		t.Errorf("expected generation 1, got %d", state.Generation)
	}
	if factory.LastParam.SharingMode != swapchain.SharingExclusive {
		t.Errorf("expected exclusive sharing, got %v", factory.LastParam.SharingMode)
	}

	_, err = ctrl.Create(swapchain.Extent{Width: 640, Height: 480})
	if err == nil {
		t.Error("expected Create over a live generation to fail")
	}
}

func TestRecreateDestroysDependentsFirst(t *testing.T) {
	dev := gputest.NewDevice()
	factory := gputest.NewSwapchainFactory(dev, 3, swapchain.Extent{Width: 800, Height: 600})
	ctrl := newController(dev, factory, dependentStages(dev)...)

	_, err := ctrl.Create(swapchain.Extent{Width: 800, Height: 600})
	if err != nil {
		t.Fatal(err)
	}

	dev.Log.Events = nil
	state, err := ctrl.Recreate(swapchain.Extent{Width: 800, Height: 600})
	if err != nil {
		t.Fatal(err)
	}

	oldID := factory.Created[0].ID
	newID := factory.Created[1].ID
	want := []string{
		"wait idle",
		"destroy framebuffers",
		"destroy pipeline",
		"destroy render pass",
		"destroy image views",
		"destroy swapchain " + strconv.Itoa(oldID),
		"create swapchain " + strconv.Itoa(newID),
		"create image views",
		"create render pass",
		"create pipeline",
		"create framebuffers",
	}

	if len(dev.Log.Events) != len(want) {
		t.Fatalf("expected events %v, got %v", want, dev.Log.Events)
	}
	for i := range want {
		if dev.Log.Events[i] != want[i] {
			t.Errorf("event %d: expected %q, got %q", i, want[i], dev.Log.Events[i])
		}
	}

	if !factory.Created[0].Destroyed {
		t.Error("old swapchain was not destroyed")
	}
	if state.Generation != 2 {
		t.Errorf("expected generation 2, got %d", state.Generation)
	}
}

func TestRecreateNeverOverlapsGenerations(t *testing.T) {
	dev := gputest.NewDevice()
	factory := gputest.NewSwapchainFactory(dev, 2, swapchain.Extent{Width: 320, Height: 200})
	stages := dependentStages(dev)
	ctrl := newController(dev, factory, stages...)

	_, err := ctrl.Create(swapchain.Extent{Width: 320, Height: 200})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		_, err = ctrl.Recreate(swapchain.Extent{Width: 320, Height: 200})
		if err != nil {
			t.Fatal(err)
		}
	}

	// Each stage refuses to be created while live, so reaching here means no
	// replacement was built before its predecessor was destroyed.
	for _, s := range stages {
		stage := s.(*gputest.Stage)
		if len(stage.Generations) != 6 {
			t.Errorf("%s: expected 6 generations, got %v", stage.Tag, stage.Generations)
		}
	}

	live := 0
	for _, sc := range factory.Created {
		if !sc.Destroyed {
			live++
		}
	}
	if live != 1 {
		t.Errorf("expected exactly one live swapchain, got %d", live)
	}
}

func TestCreateUnwindsOnStageFailure(t *testing.T) {
	dev := gputest.NewDevice()
	factory := gputest.NewSwapchainFactory(dev, 3, swapchain.Extent{Width: 800, Height: 600})
	views := &gputest.Stage{Dev: dev, Tag: "image views"}
	pass := &gputest.Stage{Dev: dev, Tag: "render pass"}
	pipeline := &gputest.Stage{Dev: dev, Tag: "pipeline", Fail: errors.New("shader missing")}
	ctrl := newController(dev, factory, views, pass, pipeline)

	_, err := ctrl.Create(swapchain.Extent{Width: 800, Height: 600})
	if err == nil {
		t.Fatal("expected an error")
	}

	if views.Live || pass.Live {
		t.Error("stages built before the failure were not destroyed")
	}
	if !factory.Created[0].Destroyed {
		t.Error("swapchain was not destroyed after the failure")
	}
	if ctrl.State() != nil {
		t.Error("controller still reports a live state")
	}
	if dev.Log.Index("destroy render pass") > dev.Log.Index("destroy image views") {
		t.Error("unwind did not run in reverse order")
	}
}

func TestCreateRefusesEmptySurface(t *testing.T) {
	dev := gputest.NewDevice()
	factory := gputest.NewSwapchainFactory(dev, 3, swapchain.Extent{Width: 0, Height: 0})
	views := &gputest.Stage{Dev: dev, Tag: "image views"}
	ctrl := newController(dev, factory, views)

	_, err := ctrl.Create(swapchain.Extent{Width: 800, Height: 600})
	if !errors.Is(err, swapchain.ErrSurfaceEmpty) {
		t.Fatalf("expected ErrSurfaceEmpty, got %v", err)
	}
	if len(factory.Created) != 0 {
		t.Errorf("expected no swapchain for an empty surface, got %d", len(factory.Created))
	}
	if views.Live || ctrl.State() != nil {
		t.Error("expected nothing live after refusing an empty surface")
	}

	factory.Support.Capabilities.CurrentExtent = swapchain.Extent{Width: 800, Height: 600}
	state, err := ctrl.Create(swapchain.Extent{Width: 800, Height: 600})
	if err != nil {
		t.Fatal(err)
	}
	if state.Generation != 1 {
		t.Errorf("expected the refused attempt not to consume a generation, got %d", state.Generation)
	}
}

func TestConcurrentSharingForDistinctFamilies(t *testing.T) {
	dev := gputest.NewDevice()
	factory := gputest.NewSwapchainFactory(dev, 3, swapchain.Extent{Width: 800, Height: 600})
	ctrl := swapchain.NewController(dev, factory, swapchain.Options{
		PreferredFormat: swapchain.DefaultFormat,
		GraphicsFamily:  0,
		PresentFamily:   1,
	})

	_, err := ctrl.Create(swapchain.Extent{Width: 800, Height: 600})
	if err != nil {
		t.Fatal(err)
	}

	if factory.LastParam.SharingMode != swapchain.SharingConcurrent {
		t.Errorf("expected concurrent sharing, got %v", factory.LastParam.SharingMode)
	}
}
