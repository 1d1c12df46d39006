package gputest

import (
	"github.com/cockroachdb/errors"

	"github.com/vkngwrapper/frame-lifecycle/gpu"
	"github.com/vkngwrapper/frame-lifecycle/swapchain"
)

// Swapchain hands out image indices round-robin and consults the device's
// stale schedule on every acquire and present.
type Swapchain struct {
	dev       *Device
	ID        int
	Params    swapchain.Params
	Destroyed bool
	next      int
	acquired  map[int]bool
}

var _ gpu.Swapchain = (*Swapchain)(nil)

func (s *Swapchain) ImageCount() int { return s.Params.ImageCount }

func (s *Swapchain) AcquireNextImage(signal gpu.Semaphore) (int, error) {
	if s.Destroyed {
		return 0, errors.Newf("acquire on destroyed swapchain %d", s.ID)
	}

	s.dev.Acquires++
	if s.dev.StaleAcquires[s.dev.Acquires] {
		s.dev.Log.Add("acquire stale")
		return 0, gpu.ErrSwapchainStale
	}

	index := s.next
	s.next = (s.next + 1) % s.Params.ImageCount
	s.acquired[index] = true
	s.dev.Log.Add("acquire image %d", index)
	return index, nil
}

func (s *Swapchain) Present(imageIndex int, wait gpu.Semaphore) error {
	if s.Destroyed {
		return errors.Newf("present on destroyed swapchain %d", s.ID)
	}
	if !s.acquired[imageIndex] {
		return errors.Newf("present of image %d that was never acquired", imageIndex)
	}
	delete(s.acquired, imageIndex)

	s.dev.Presents++
	s.dev.Log.Add("present image %d", imageIndex)
	if s.dev.StalePresents[s.dev.Presents] {
		return gpu.ErrSwapchainStale
	}
	return nil
}

func (s *Swapchain) Destroy() {
	s.Destroyed = true
	s.dev.Log.Add("destroy swapchain %d", s.ID)
}

// SwapchainFactory reports a fixed surface support and creates fake swapchains.
type SwapchainFactory struct {
	Dev       *Device
	Support   swapchain.Support
	Created   []*Swapchain
	LastParam swapchain.Params
}

var _ swapchain.Factory = (*SwapchainFactory)(nil)

// NewSwapchainFactory returns a factory whose surface supports exactly the
// given image count, sized at extent.
func NewSwapchainFactory(dev *Device, images int, extent swapchain.Extent) *SwapchainFactory {
	return &SwapchainFactory{
		Dev: dev,
		Support: swapchain.Support{
			Capabilities: swapchain.Capabilities{
				MinImageCount: images - 1,
				MaxImageCount: images,
				CurrentExtent: extent,
				MinExtent:     swapchain.Extent{Width: 1, Height: 1},
				MaxExtent:     swapchain.Extent{Width: 4096, Height: 4096},
			},
			Formats:      []swapchain.SurfaceFormat{swapchain.DefaultFormat},
			PresentModes: []swapchain.PresentMode{swapchain.PresentModeFIFO},
		},
	}
}

func (f *SwapchainFactory) QuerySupport() (swapchain.Support, error) {
	return f.Support, nil
}

func (f *SwapchainFactory) CreateSwapchain(params swapchain.Params) (gpu.Swapchain, error) {
	sc := &Swapchain{dev: f.Dev, ID: f.Dev.id(), Params: params, acquired: map[int]bool{}}
	f.Created = append(f.Created, sc)
	f.LastParam = params
	f.Dev.Log.Add("create swapchain %d", sc.ID)
	return sc, nil
}

// Stage records its lifecycle in the device log as "create <name>" and
// "destroy <name>".
type Stage struct {
	Dev  *Device
	Tag  string
	Fail error

	Live        bool
	Generations []uint64
}

var _ swapchain.Stage = (*Stage)(nil)

func (s *Stage) Name() string { return s.Tag }

func (s *Stage) Create(state *swapchain.State) error {
	if s.Fail != nil {
		return s.Fail
	}
	if s.Live {
		return errors.Newf("%s created twice without destroy", s.Tag)
	}
	s.Live = true
	s.Generations = append(s.Generations, state.Generation)
	s.Dev.Log.Add("create %s", s.Tag)
	return nil
}

func (s *Stage) Destroy() {
	s.Live = false
	s.Dev.Log.Add("destroy %s", s.Tag)
}
