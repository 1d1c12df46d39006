package vkgpu

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/common"
	"github.com/vkngwrapper/core/core1_0"
	"github.com/vkngwrapper/extensions/khr_surface"
	"github.com/vkngwrapper/extensions/khr_swapchain"

	"github.com/vkngwrapper/frame-lifecycle/gpu"
	"github.com/vkngwrapper/frame-lifecycle/swapchain"
)

// Swapchain presents on the context's present queue.
type Swapchain struct {
	extension    khr_swapchain.Extension
	swapchain    khr_swapchain.Swapchain
	presentQueue core1_0.Queue
	images       []core1_0.Image
}

func (s *Swapchain) ImageCount() int {
	return len(s.images)
}

func (s *Swapchain) Images() []core1_0.Image {
	return s.images
}

func (s *Swapchain) AcquireNextImage(signal gpu.Semaphore) (int, error) {
	imageIndex, res, err := s.swapchain.AcquireNextImage(common.NoTimeout, signal.(*Semaphore).semaphore, nil)
	if res == khr_swapchain.VKErrorOutOfDate {
		return 0, gpu.ErrSwapchainStale
	} else if err != nil {
		return 0, errors.Wrap(err, "acquire swapchain image")
	}

	return imageIndex, nil
}

func (s *Swapchain) Present(imageIndex int, wait gpu.Semaphore) error {
	res, err := s.extension.QueuePresent(s.presentQueue, khr_swapchain.PresentInfo{
		WaitSemaphores: []core1_0.Semaphore{wait.(*Semaphore).semaphore},
		Swapchains:     []khr_swapchain.Swapchain{s.swapchain},
		ImageIndices:   []int{imageIndex},
	})
	if res == khr_swapchain.VKErrorOutOfDate || res == khr_swapchain.VKSuboptimal {
		return gpu.ErrSwapchainStale
	} else if err != nil {
		return errors.Wrap(err, "present swapchain image")
	}

	return nil
}

func (s *Swapchain) Destroy() {
	s.swapchain.Destroy(nil)
}

// SwapchainFactory negotiates swapchains for the context's surface.
type SwapchainFactory struct {
	ctx *Context
}

func (c *Context) SwapchainFactory() *SwapchainFactory {
	return &SwapchainFactory{ctx: c}
}

var presentModes = map[khr_surface.PresentMode]swapchain.PresentMode{
	khr_surface.PresentModeImmediate:   swapchain.PresentModeImmediate,
	khr_surface.PresentModeMailbox:     swapchain.PresentModeMailbox,
	khr_surface.PresentModeFIFO:        swapchain.PresentModeFIFO,
	khr_surface.PresentModeFIFORelaxed: swapchain.PresentModeFIFORelaxed,
}

func toExtent(e core1_0.Extent2D) swapchain.Extent {
	return swapchain.Extent{Width: e.Width, Height: e.Height}
}

func (f *SwapchainFactory) QuerySupport() (swapchain.Support, error) {
	var support swapchain.Support
	surface := f.ctx.surface
	device := f.ctx.physicalDevice

	caps, _, err := surface.PhysicalDeviceSurfaceCapabilities(device)
	if err != nil {
		return support, errors.Wrap(err, "query surface capabilities")
	}

	support.Capabilities = swapchain.Capabilities{
		MinImageCount: caps.MinImageCount,
		MaxImageCount: caps.MaxImageCount,
		CurrentExtent: toExtent(caps.CurrentExtent),
		MinExtent:     toExtent(caps.MinImageExtent),
		MaxExtent:     toExtent(caps.MaxImageExtent),
	}
	// 0xFFFFFFFF marks an undefined extent, whether it arrives signed or not.
	if uint32(caps.CurrentExtent.Width) == 0xFFFFFFFF {
		support.Capabilities.CurrentExtent = swapchain.Extent{
			Width:  swapchain.UndefinedDimension,
			Height: swapchain.UndefinedDimension,
		}
	}

	formats, _, err := surface.PhysicalDeviceSurfaceFormats(device)
	if err != nil {
		return support, errors.Wrap(err, "query surface formats")
	}
	for _, format := range formats {
		support.Formats = append(support.Formats, swapchain.SurfaceFormat{
			Format:     swapchain.Format(format.Format),
			ColorSpace: swapchain.ColorSpace(format.ColorSpace),
		})
	}

	modes, _, err := surface.PhysicalDeviceSurfacePresentModes(device)
	if err != nil {
		return support, errors.Wrap(err, "query present modes")
	}
	for _, mode := range modes {
		converted, known := presentModes[mode]
		if known {
			support.PresentModes = append(support.PresentModes, converted)
		}
	}

	return support, nil
}

func (f *SwapchainFactory) CreateSwapchain(params swapchain.Params) (gpu.Swapchain, error) {
	ctx := f.ctx

	caps, _, err := ctx.surface.PhysicalDeviceSurfaceCapabilities(ctx.physicalDevice)
	if err != nil {
		return nil, errors.Wrap(err, "query surface capabilities")
	}

	presentMode := khr_surface.PresentModeFIFO
	for vkMode, mode := range presentModes {
		if mode == params.PresentMode {
			presentMode = vkMode
		}
	}

	sharingMode := core1_0.SharingModeExclusive
	if params.SharingMode == swapchain.SharingConcurrent {
		sharingMode = core1_0.SharingModeConcurrent
	}

	sc, _, err := ctx.swapchainExtension.CreateSwapchain(ctx.device, nil, khr_swapchain.SwapchainCreateInfo{
		Surface: ctx.surface,

		MinImageCount:    params.ImageCount,
		ImageFormat:      core1_0.Format(params.Format.Format),
		ImageColorSpace:  khr_surface.ColorSpace(params.Format.ColorSpace),
		ImageExtent:      core1_0.Extent2D{Width: params.Extent.Width, Height: params.Extent.Height},
		ImageArrayLayers: 1,
		ImageUsage:       core1_0.ImageUsageColorAttachment,

		ImageSharingMode:   sharingMode,
		QueueFamilyIndices: params.QueueFamilies,

		PreTransform:   caps.CurrentTransform,
		CompositeAlpha: khr_surface.CompositeAlphaOpaque,
		PresentMode:    presentMode,
		Clipped:        true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create swapchain")
	}

	images, _, err := sc.SwapchainImages()
	if err != nil {
		sc.Destroy(nil)
		return nil, errors.Wrap(err, "get swapchain images")
	}

	return &Swapchain{
		extension:    ctx.swapchainExtension,
		swapchain:    sc,
		presentQueue: ctx.presentQueue,
		images:       images,
	}, nil
}
