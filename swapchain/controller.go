// Package swapchain negotiates swapchain parameters with a surface and owns the
// teardown and rebuild of a swapchain generation together with everything that
// depends on it.
package swapchain

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"

	"github.com/vkngwrapper/frame-lifecycle/gpu"
)

// ErrSurfaceEmpty is returned by Create when the surface reports a zero-area
// extent, as it does for a minimized window. No swapchain is built.
var ErrSurfaceEmpty = errors.New("surface extent is empty")

// Params is the negotiated description handed to Factory.CreateSwapchain.
type Params struct {
	ImageCount    int
	Format        SurfaceFormat
	PresentMode   PresentMode
	Extent        Extent
	SharingMode   SharingMode
	QueueFamilies []int
}

// Factory talks to the surface on the controller's behalf.
type Factory interface {
	QuerySupport() (Support, error)
	CreateSwapchain(params Params) (gpu.Swapchain, error)
}

// Stage is a resource built on top of a swapchain generation: image views,
// render pass, pipeline, framebuffers, per-image buffers. Stages are created
// in registration order and destroyed in reverse.
type Stage interface {
	Name() string
	Create(state *State) error
	Destroy()
}

// State is one live swapchain generation.
type State struct {
	Swapchain   gpu.Swapchain
	Format      SurfaceFormat
	PresentMode PresentMode
	Extent      Extent
	ImageCount  int
	Generation  uint64
}

type Options struct {
	PreferredFormat SurfaceFormat
	GraphicsFamily  int
	PresentFamily   int
	Logger          *slog.Logger
}

type Controller struct {
	device  gpu.Device
	factory Factory
	stages  []Stage
	opts    Options
	logger  *slog.Logger

	state      *State
	built      int
	generation uint64
}

func NewController(device gpu.Device, factory Factory, opts Options, stages ...Stage) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Controller{
		device:  device,
		factory: factory,
		stages:  stages,
		opts:    opts,
		logger:  logger,
	}
}

// State returns the live generation, or nil before Create.
func (c *Controller) State() *State {
	return c.state
}

// Create negotiates and builds a swapchain generation at the desired extent,
// followed by every stage.
func (c *Controller) Create(desired Extent) (*State, error) {
	if c.state != nil {
		return nil, errors.Newf("swapchain generation %d is still live", c.state.Generation)
	}

	support, err := c.factory.QuerySupport()
	if err != nil {
		return nil, errors.Wrap(err, "query surface support")
	}

	format, err := ChooseSurfaceFormat(support.Formats, c.opts.PreferredFormat, c.logger)
	if err != nil {
		return nil, err
	}

	sharing, families := ChooseSharingMode(c.opts.GraphicsFamily, c.opts.PresentFamily)
	params := Params{
		ImageCount:    ChooseImageCount(support.Capabilities),
		Format:        format,
		PresentMode:   ChoosePresentMode(support.PresentModes),
		Extent:        ChooseExtent(support.Capabilities, desired),
		SharingMode:   sharing,
		QueueFamilies: families,
	}
	if params.Extent.Empty() {
		return nil, errors.Wrapf(ErrSurfaceEmpty, "%dx%d", params.Extent.Width, params.Extent.Height)
	}

	sc, err := c.factory.CreateSwapchain(params)
	if err != nil {
		return nil, errors.Wrap(err, "create swapchain")
	}

	c.generation++
	c.state = &State{
		Swapchain:   sc,
		Format:      params.Format,
		PresentMode: params.PresentMode,
		Extent:      params.Extent,
		ImageCount:  sc.ImageCount(),
		Generation:  c.generation,
	}

	for _, stage := range c.stages {
		err = stage.Create(c.state)
		if err != nil {
			err = errors.Wrapf(err, "create %s for swapchain generation %d", stage.Name(), c.generation)
			c.teardown()
			return nil, err
		}
		c.built++
	}

	c.logger.Info("swapchain created",
		"generation", c.state.Generation,
		"images", c.state.ImageCount,
		"width", c.state.Extent.Width,
		"height", c.state.Extent.Height,
		"present_mode", c.state.PresentMode.String())

	return c.state, nil
}

// Recreate idles the device, tears the live generation down and builds a new
// one at the desired extent.
func (c *Controller) Recreate(desired Extent) (*State, error) {
	err := c.device.WaitIdle()
	if err != nil {
		return nil, errors.Wrap(err, "wait for device idle before swapchain recreation")
	}

	c.teardown()
	return c.Create(desired)
}

// Destroy releases the live generation. The caller must have idled the device.
func (c *Controller) Destroy() {
	c.teardown()
}

func (c *Controller) teardown() {
	if c.state == nil {
		return
	}

	for i := c.built - 1; i >= 0; i-- {
		c.stages[i].Destroy()
	}
	c.built = 0

	c.state.Swapchain.Destroy()
	c.state = nil
}
