package renderer

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"

	"github.com/vkngwrapper/frame-lifecycle/swapchain"
)

type Config struct {
	// FramesInFlight is how many frames the CPU may submit ahead of the GPU.
	FramesInFlight int
	// PreferredFormat is used when the surface supports it.
	PreferredFormat swapchain.SurfaceFormat
	// GraphicsFamily and PresentFamily decide the swapchain image sharing mode.
	GraphicsFamily int
	PresentFamily  int
	// InitialExtent is the window's drawable size at startup.
	InitialExtent swapchain.Extent

	Logger *slog.Logger
}

func DefaultConfig() Config {
	return Config{
		FramesInFlight:  2,
		PreferredFormat: swapchain.DefaultFormat,
		InitialExtent:   swapchain.Extent{Width: 800, Height: 600},
	}
}

func (c Config) validate() error {
	if c.FramesInFlight < 1 {
		return errors.Newf("frames in flight must be at least 1, got %d", c.FramesInFlight)
	}
	if c.InitialExtent.Empty() {
		return errors.Newf("initial extent %dx%d is empty", c.InitialExtent.Width, c.InitialExtent.Height)
	}
	return nil
}
