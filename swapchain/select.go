package swapchain

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"
)

// Format and ColorSpace carry Vulkan enum values so backends can convert them
// with a plain cast.
type Format int32

const (
	FormatB8G8R8A8UnsignedNormalized Format = 44
	FormatB8G8R8A8SRGB               Format = 50
	FormatR8G8B8A8SRGB               Format = 43
)

type ColorSpace int32

const ColorSpaceSRGBNonlinear ColorSpace = 0

type SurfaceFormat struct {
	Format     Format
	ColorSpace ColorSpace
}

// PresentMode values match VkPresentModeKHR.
type PresentMode int32

const (
	PresentModeImmediate   PresentMode = 0
	PresentModeMailbox     PresentMode = 1
	PresentModeFIFO        PresentMode = 2
	PresentModeFIFORelaxed PresentMode = 3
)

func (m PresentMode) String() string {
	switch m {
	case PresentModeImmediate:
		return "immediate"
	case PresentModeMailbox:
		return "mailbox"
	case PresentModeFIFO:
		return "fifo"
	case PresentModeFIFORelaxed:
		return "fifo-relaxed"
	}
	return "unknown"
}

// UndefinedDimension in a surface's current extent means the surface size is
// decided by the swapchain.
const UndefinedDimension = -1

type Extent struct {
	Width, Height int
}

func (e Extent) Undefined() bool {
	return e.Width == UndefinedDimension
}

func (e Extent) Empty() bool {
	return e.Width <= 0 || e.Height <= 0
}

type Capabilities struct {
	MinImageCount int
	// MaxImageCount of 0 means there is no upper bound.
	MaxImageCount int
	CurrentExtent Extent
	MinExtent     Extent
	MaxExtent     Extent
}

// Support is everything a surface reports about what swapchains it accepts.
type Support struct {
	Capabilities Capabilities
	Formats      []SurfaceFormat
	PresentModes []PresentMode
}

type SharingMode int

const (
	SharingExclusive SharingMode = iota
	SharingConcurrent
)

// DefaultFormat is the pair chosen when the surface offers it.
var DefaultFormat = SurfaceFormat{Format: FormatB8G8R8A8SRGB, ColorSpace: ColorSpaceSRGBNonlinear}

func ChooseImageCount(caps Capabilities) int {
	count := caps.MinImageCount + 1
	if caps.MaxImageCount > 0 && count > caps.MaxImageCount {
		count = caps.MaxImageCount
	}
	return count
}

// ChooseSurfaceFormat returns preferred if the surface offers it and falls back
// to the first offered pair otherwise.
func ChooseSurfaceFormat(available []SurfaceFormat, preferred SurfaceFormat, logger *slog.Logger) (SurfaceFormat, error) {
	if len(available) == 0 {
		return SurfaceFormat{}, errors.New("surface reports no supported formats")
	}

	for _, format := range available {
		if format == preferred {
			return format, nil
		}
	}

	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("preferred surface format unavailable, falling back",
		"preferred_format", preferred.Format, "preferred_color_space", preferred.ColorSpace,
		"format", available[0].Format, "color_space", available[0].ColorSpace)

	return available[0], nil
}

var presentModePriority = []PresentMode{PresentModeMailbox, PresentModeImmediate}

// ChoosePresentMode prefers mailbox, then immediate. FIFO is required to be
// supported everywhere and is returned otherwise.
func ChoosePresentMode(available []PresentMode) PresentMode {
	for _, wanted := range presentModePriority {
		for _, mode := range available {
			if mode == wanted {
				return mode
			}
		}
	}

	return PresentModeFIFO
}

func ChooseExtent(caps Capabilities, desired Extent) Extent {
	if !caps.CurrentExtent.Undefined() {
		return caps.CurrentExtent
	}

	return Extent{
		Width:  clamp(desired.Width, caps.MinExtent.Width, caps.MaxExtent.Width),
		Height: clamp(desired.Height, caps.MinExtent.Height, caps.MaxExtent.Height),
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ChooseSharingMode decides how swapchain images are shared between the
// graphics and present queue families.
func ChooseSharingMode(graphicsFamily, presentFamily int) (SharingMode, []int) {
	if graphicsFamily == presentFamily {
		return SharingExclusive, nil
	}
	return SharingConcurrent, []int{graphicsFamily, presentFamily}
}
