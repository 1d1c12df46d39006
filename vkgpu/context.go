// Package vkgpu implements the gpu interfaces, the swapchain factory and the
// demo's swapchain-dependent stages on top of vkngwrapper.
package vkgpu

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/veandco/go-sdl2/sdl"
	"github.com/vkngwrapper/core"
	"github.com/vkngwrapper/core/common"
	"github.com/vkngwrapper/core/core1_0"
	"github.com/vkngwrapper/extensions/ext_debug_utils"
	"github.com/vkngwrapper/extensions/khr_portability_enumeration"
	"github.com/vkngwrapper/extensions/khr_portability_subset"
	"github.com/vkngwrapper/extensions/khr_surface"
	"github.com/vkngwrapper/extensions/khr_swapchain"
	vkng_sdl2 "github.com/vkngwrapper/integrations/sdl2"
	"golang.org/x/exp/slog"

	"github.com/vkngwrapper/frame-lifecycle/gpu"
)

var validationLayers = []string{"VK_LAYER_KHRONOS_validation"}
var deviceExtensions = []string{khr_swapchain.ExtensionName}

type Options struct {
	ApplicationName  string
	EnableValidation bool
}

// Context owns the instance, surface, logical device and command pool. It
// implements gpu.Device, gpu.SyncFactory, gpu.Allocator and gpu.CommandPool.
type Context struct {
	window *sdl.Window
	loader core.Loader
	opts   Options
	logger *slog.Logger

	instance       core1_0.Instance
	debugMessenger ext_debug_utils.DebugUtilsMessenger
	surface        khr_surface.Surface

	physicalDevice core1_0.PhysicalDevice
	device         core1_0.Device
	deviceName     string

	graphicsFamily int
	presentFamily  int
	graphicsQueue  core1_0.Queue
	presentQueue   core1_0.Queue

	swapchainExtension khr_swapchain.Extension
	commandPool        core1_0.CommandPool
}

// NewContext brings up Vulkan for window. On error everything created so far
// is released.
func NewContext(window *sdl.Window, opts Options, logger *slog.Logger) (*Context, error) {
	if logger == nil {
		logger = slog.Default()
	}

	loader, err := core.CreateLoaderFromProcAddr(sdl.VulkanGetVkGetInstanceProcAddr())
	if err != nil {
		return nil, errors.Wrap(err, "create vulkan loader")
	}

	ctx := &Context{
		window: window,
		loader: loader,
		opts:   opts,
		logger: logger,
	}

	steps := []struct {
		name string
		fn   func() error
	}{
		{"create instance", ctx.createInstance},
		{"set up debug messenger", ctx.setupDebugMessenger},
		{"create surface", ctx.createSurface},
		{"pick physical device", ctx.pickPhysicalDevice},
		{"create logical device", ctx.createLogicalDevice},
		{"create command pool", ctx.createCommandPool},
	}
	for _, step := range steps {
		err = step.fn()
		if err != nil {
			ctx.Destroy()
			return nil, errors.Wrap(err, step.name)
		}
	}

	logger.Info("vulkan device ready", "device", ctx.deviceName,
		"graphics_family", ctx.graphicsFamily, "present_family", ctx.presentFamily)
	return ctx, nil
}

func (c *Context) createInstance() error {
	instanceOptions := core1_0.InstanceCreateInfo{
		ApplicationName:    c.opts.ApplicationName,
		ApplicationVersion: common.CreateVersion(1, 0, 0),
		EngineName:         "No Engine",
		EngineVersion:      common.CreateVersion(1, 0, 0),
		APIVersion:         common.Vulkan1_2,
	}

	sdlExtensions := c.window.VulkanGetInstanceExtensions()
	extensions, _, err := c.loader.AvailableExtensions()
	if err != nil {
		return err
	}

	for _, ext := range sdlExtensions {
		_, hasExt := extensions[ext]
		if !hasExt {
			return errors.Newf("cannot initialize sdl: missing extension %s", ext)
		}
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, ext)
	}

	if c.opts.EnableValidation {
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, ext_debug_utils.ExtensionName)
	}

	// Required to see MoltenVK devices
	_, enumerationSupported := extensions[khr_portability_enumeration.ExtensionName]
	if enumerationSupported {
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, khr_portability_enumeration.ExtensionName)
		instanceOptions.Flags |= khr_portability_enumeration.InstanceCreateEnumeratePortability
	}

	if c.opts.EnableValidation {
		layers, _, err := c.loader.AvailableLayers()
		if err != nil {
			return err
		}

		for _, layer := range validationLayers {
			_, hasValidation := layers[layer]
			if !hasValidation {
				return errors.Newf("cannot add validation layer %s: not available, install the LunarG Vulkan SDK", layer)
			}
			instanceOptions.EnabledLayerNames = append(instanceOptions.EnabledLayerNames, layer)
		}

		instanceOptions.Next = c.debugMessengerOptions()
	}

	c.instance, _, err = c.loader.CreateInstance(nil, instanceOptions)
	return err
}

func (c *Context) debugMessengerOptions() ext_debug_utils.DebugUtilsMessengerCreateInfo {
	return ext_debug_utils.DebugUtilsMessengerCreateInfo{
		MessageSeverity: ext_debug_utils.SeverityError | ext_debug_utils.SeverityWarning,
		MessageType:     ext_debug_utils.TypeGeneral | ext_debug_utils.TypeValidation | ext_debug_utils.TypePerformance,
		UserCallback:    c.logDebug,
	}
}

func (c *Context) setupDebugMessenger() error {
	if !c.opts.EnableValidation {
		return nil
	}

	var err error
	debugLoader := ext_debug_utils.CreateExtensionFromInstance(c.instance)
	c.debugMessenger, _, err = debugLoader.CreateDebugUtilsMessenger(c.instance, nil, c.debugMessengerOptions())
	return err
}

func (c *Context) logDebug(msgType ext_debug_utils.DebugUtilsMessageTypeFlags, severity ext_debug_utils.DebugUtilsMessageSeverityFlags, data *ext_debug_utils.DebugUtilsMessengerCallbackData) bool {
	level := slog.LevelWarn
	if severity&ext_debug_utils.SeverityError != 0 {
		level = slog.LevelError
	}

	c.logger.Log(context.Background(), level, data.Message, "type", msgType.String(), "severity", severity.String())
	return false
}

func (c *Context) createSurface() error {
	surfaceLoader := khr_surface.CreateExtensionFromInstance(c.instance)
	surface, err := vkng_sdl2.CreateSurface(c.instance, surfaceLoader, c.window)
	if err != nil {
		return err
	}

	c.surface = surface
	return nil
}

type queueFamilies struct {
	GraphicsFamily *int
	PresentFamily  *int
}

// findQueueFamilies prefers one family that can both draw and present.
func (c *Context) findQueueFamilies(device core1_0.PhysicalDevice) (queueFamilies, error) {
	indices := queueFamilies{}
	for queueFamilyIdx, queueFamily := range device.QueueFamilyProperties() {
		graphics := (queueFamily.QueueFlags & core1_0.QueueGraphics) != 0
		supported, _, err := c.surface.PhysicalDeviceSurfaceSupport(device, queueFamilyIdx)
		if err != nil {
			return indices, err
		}

		if graphics && supported {
			family := queueFamilyIdx
			indices.GraphicsFamily = &family
			indices.PresentFamily = &family
			break
		}

		if graphics && indices.GraphicsFamily == nil {
			indices.GraphicsFamily = new(int)
			*indices.GraphicsFamily = queueFamilyIdx
		}

		if supported && indices.PresentFamily == nil {
			indices.PresentFamily = new(int)
			*indices.PresentFamily = queueFamilyIdx
		}
	}

	return indices, nil
}

func hasDeviceExtensions(device core1_0.PhysicalDevice) bool {
	extensions, _, err := device.EnumerateDeviceExtensionProperties()
	if err != nil {
		return false
	}

	for _, extension := range deviceExtensions {
		_, hasExtension := extensions[extension]
		if !hasExtension {
			return false
		}
	}

	return true
}

func (c *Context) describeDevice(device core1_0.PhysicalDevice) (gpu.DeviceCandidate, error) {
	properties, err := device.Properties()
	if err != nil {
		return gpu.DeviceCandidate{}, err
	}

	indices, err := c.findQueueFamilies(device)
	if err != nil {
		return gpu.DeviceCandidate{}, err
	}

	candidate := gpu.DeviceCandidate{
		Name:           properties.DriverName,
		Discrete:       properties.DriverType == core1_0.PhysicalDeviceTypeDiscreteGPU,
		Integrated:     properties.DriverType == core1_0.PhysicalDeviceTypeIntegratedGPU,
		GraphicsFamily: indices.GraphicsFamily,
		PresentFamily:  indices.PresentFamily,
		HasSwapchain:   hasDeviceExtensions(device),
	}

	if candidate.HasSwapchain {
		formats, _, err := c.surface.PhysicalDeviceSurfaceFormats(device)
		if err != nil {
			return candidate, err
		}
		presentModes, _, err := c.surface.PhysicalDeviceSurfacePresentModes(device)
		if err != nil {
			return candidate, err
		}

		candidate.FormatCount = len(formats)
		candidate.PresentModeCount = len(presentModes)
	}

	return candidate, nil
}

func (c *Context) pickPhysicalDevice() error {
	physicalDevices, _, err := c.instance.EnumeratePhysicalDevices()
	if err != nil {
		return err
	}

	candidates := make([]gpu.DeviceCandidate, 0, len(physicalDevices))
	for _, device := range physicalDevices {
		candidate, err := c.describeDevice(device)
		if err != nil {
			c.logger.Warn("skipping physical device", "error", err)
			candidate = gpu.DeviceCandidate{}
		}
		candidates = append(candidates, candidate)
	}

	idx, err := gpu.PickDevice(candidates)
	if err != nil {
		return err
	}

	chosen := candidates[idx]
	c.physicalDevice = physicalDevices[idx]
	c.deviceName = chosen.Name
	c.graphicsFamily = *chosen.GraphicsFamily
	c.presentFamily = *chosen.PresentFamily
	return nil
}

func (c *Context) createLogicalDevice() error {
	uniqueQueueFamilies := []int{c.graphicsFamily}
	if c.presentFamily != c.graphicsFamily {
		uniqueQueueFamilies = append(uniqueQueueFamilies, c.presentFamily)
	}

	var queueFamilyOptions []core1_0.DeviceQueueCreateInfo
	queuePriority := float32(1.0)
	for _, queueFamily := range uniqueQueueFamilies {
		queueFamilyOptions = append(queueFamilyOptions, core1_0.DeviceQueueCreateInfo{
			QueueFamilyIndex: queueFamily,
			QueuePriorities:  []float32{queuePriority},
		})
	}

	var extensionNames []string
	extensionNames = append(extensionNames, deviceExtensions...)

	// Makes this compatible with vulkan portability, necessary to run on mobile & mac
	extensions, _, err := c.physicalDevice.EnumerateDeviceExtensionProperties()
	if err != nil {
		return err
	}

	_, supported := extensions[khr_portability_subset.ExtensionName]
	if supported {
		extensionNames = append(extensionNames, khr_portability_subset.ExtensionName)
	}

	c.device, _, err = c.physicalDevice.CreateDevice(nil, core1_0.DeviceCreateInfo{
		QueueCreateInfos:      queueFamilyOptions,
		EnabledExtensionNames: extensionNames,
	})
	if err != nil {
		return err
	}

	c.graphicsQueue = c.device.GetQueue(c.graphicsFamily, 0)
	c.presentQueue = c.device.GetQueue(c.presentFamily, 0)
	c.swapchainExtension = khr_swapchain.CreateExtensionFromDevice(c.device)
	return nil
}

func (c *Context) createCommandPool() error {
	pool, _, err := c.device.CreateCommandPool(nil, core1_0.CommandPoolCreateInfo{
		QueueFamilyIndex: c.graphicsFamily,
	})
	if err != nil {
		return err
	}

	c.commandPool = pool
	return nil
}

func (c *Context) GraphicsFamily() int {
	return c.graphicsFamily
}

func (c *Context) PresentFamily() int {
	return c.presentFamily
}

// GraphicsQueue is the queue frames and uploads are submitted to.
func (c *Context) GraphicsQueue() *Queue {
	return &Queue{queue: c.graphicsQueue}
}

func (c *Context) WaitIdle() error {
	_, err := c.device.WaitIdle()
	return errors.Wrap(err, "wait for device idle")
}

// Destroy releases everything NewContext created. It is safe to call on a
// partially constructed context.
func (c *Context) Destroy() {
	if c.commandPool != nil {
		c.commandPool.Destroy(nil)
		c.commandPool = nil
	}

	if c.device != nil {
		c.device.Destroy(nil)
		c.device = nil
	}

	if c.debugMessenger != nil {
		c.debugMessenger.Destroy(nil)
		c.debugMessenger = nil
	}

	if c.surface != nil {
		c.surface.Destroy(nil)
		c.surface = nil
	}

	if c.instance != nil {
		c.instance.Destroy(nil)
		c.instance = nil
	}
}
