package vkgpu

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/loov/hrtime"
	"github.com/vkngwrapper/core/common"
	"github.com/vkngwrapper/core/core1_0"
	"github.com/vkngwrapper/extensions/khr_swapchain"

	"github.com/vkngwrapper/frame-lifecycle/gpu"
	"github.com/vkngwrapper/frame-lifecycle/mesh"
	"github.com/vkngwrapper/frame-lifecycle/renderer"
	"github.com/vkngwrapper/frame-lifecycle/shaders"
	"github.com/vkngwrapper/frame-lifecycle/swapchain"
	"github.com/vkngwrapper/frame-lifecycle/upload"
)

// Scene draws one indexed mesh with a spinning model transform. Everything
// sized by the swapchain is rebuilt per generation through Stages; the mesh
// buffers and descriptor set layout live as long as the scene.
type Scene struct {
	ctx     *Context
	shaders *shaders.Loader

	vertexBuffer *Buffer
	indexBuffer  *Buffer
	indexCount   int

	descriptorSetLayout core1_0.DescriptorSetLayout
	start               time.Duration

	images      []core1_0.Image
	imageFormat core1_0.Format
	extent      core1_0.Extent2D

	imageViews []core1_0.ImageView

	depthImage       core1_0.Image
	depthImageMemory core1_0.DeviceMemory
	depthImageView   core1_0.ImageView

	renderPass     core1_0.RenderPass
	pipelineLayout core1_0.PipelineLayout
	pipeline       core1_0.Pipeline
	framebuffers   []core1_0.Framebuffer

	uniformBuffers []*Buffer
	descriptorPool core1_0.DescriptorPool
	descriptorSets []core1_0.DescriptorSet

	commandBuffers []*CommandBuffer
}

// NewScene takes ownership of the uploaded vertex and index buffers.
func NewScene(ctx *Context, loader *shaders.Loader, vertices, indices gpu.Buffer, indexCount int) (*Scene, error) {
	s := &Scene{
		ctx:          ctx,
		shaders:      loader,
		vertexBuffer: vertices.(*Buffer),
		indexBuffer:  indices.(*Buffer),
		indexCount:   indexCount,
		start:        hrtime.Now(),
	}

	var err error
	s.descriptorSetLayout, _, err = ctx.device.CreateDescriptorSetLayout(nil, core1_0.DescriptorSetLayoutCreateInfo{
		Bindings: []core1_0.DescriptorSetLayoutBinding{
			{
				Binding:         0,
				DescriptorType:  core1_0.DescriptorTypeUniformBuffer,
				DescriptorCount: 1,

				StageFlags: core1_0.StageVertex,
			},
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "create descriptor set layout")
	}

	return s, nil
}

type stage struct {
	name    string
	create  func(state *swapchain.State) error
	destroy func()
}

func (s stage) Name() string { return s.name }
func (s stage) Destroy()     { s.destroy() }

// Create releases whatever a failed create left behind, since the controller
// only tears down stages that were built.
func (s stage) Create(state *swapchain.State) error {
	err := s.create(state)
	if err != nil {
		s.destroy()
	}
	return err
}

// Stages lists the swapchain-dependent resources in creation order.
func (s *Scene) Stages() []swapchain.Stage {
	return []swapchain.Stage{
		stage{"image views", s.createImageViews, s.destroyImageViews},
		stage{"depth resources", s.createDepthResources, s.destroyDepthResources},
		stage{"render pass", s.createRenderPass, s.destroyRenderPass},
		stage{"graphics pipeline", s.createGraphicsPipeline, s.destroyGraphicsPipeline},
		stage{"framebuffers", s.createFramebuffers, s.destroyFramebuffers},
		stage{"uniform buffers", s.createUniformBuffers, s.destroyUniformBuffers},
		stage{"command buffers", s.createCommandBuffers, s.destroyCommandBuffers},
	}
}

// Record writes this frame's uniforms into the acquired image's uniform
// buffer and returns the command buffer prerecorded for that image.
func (s *Scene) Record(frame *renderer.FrameContext) ([]gpu.CommandBuffer, error) {
	if frame.ImageIndex >= len(s.commandBuffers) {
		return nil, errors.Newf("image %d has no command buffer in generation %d", frame.ImageIndex, frame.State.Generation)
	}

	elapsed := hrtime.Since(s.start).Seconds()
	ubo := mesh.Uniforms(elapsed, frame.State.Extent.Width, frame.State.Extent.Height)

	err := upload.Write(s.uniformBuffers[frame.ImageIndex], common.ByteOrder, 0, &ubo)
	if err != nil {
		return nil, err
	}

	return []gpu.CommandBuffer{s.commandBuffers[frame.ImageIndex]}, nil
}

func (s *Scene) createImageViews(state *swapchain.State) error {
	sc, ok := state.Swapchain.(*Swapchain)
	if !ok {
		return errors.Newf("swapchain %T was not created by vkgpu", state.Swapchain)
	}

	s.images = sc.Images()
	s.imageFormat = core1_0.Format(state.Format.Format)
	s.extent = core1_0.Extent2D{Width: state.Extent.Width, Height: state.Extent.Height}

	for _, image := range s.images {
		view, err := s.createImageView(image, s.imageFormat, core1_0.ImageAspectColor)
		if err != nil {
			return err
		}
		s.imageViews = append(s.imageViews, view)
	}

	return nil
}

func (s *Scene) destroyImageViews() {
	for _, imageView := range s.imageViews {
		imageView.Destroy(nil)
	}
	s.imageViews = nil
	s.images = nil
}

func (s *Scene) createImageView(image core1_0.Image, format core1_0.Format, aspect core1_0.ImageAspectFlags) (core1_0.ImageView, error) {
	imageView, _, err := s.ctx.device.CreateImageView(nil, core1_0.ImageViewCreateInfo{
		Image:    image,
		ViewType: core1_0.ImageViewType2D,
		Format:   format,
		SubresourceRange: core1_0.ImageSubresourceRange{
			AspectMask:     aspect,
			BaseMipLevel:   0,
			LevelCount:     1,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	})
	return imageView, err
}

func (s *Scene) findDepthFormat() (core1_0.Format, error) {
	candidates := []core1_0.Format{core1_0.FormatD32SignedFloat, core1_0.FormatD32SignedFloatS8UnsignedInt, core1_0.FormatD24UnsignedNormalizedS8UnsignedInt}
	for _, format := range candidates {
		props := s.ctx.physicalDevice.FormatProperties(format)
		if (props.OptimalTilingFeatures & core1_0.FormatFeatureDepthStencilAttachment) != 0 {
			return format, nil
		}
	}

	return 0, errors.New("failed to find a supported depth format")
}

func (s *Scene) createDepthResources(state *swapchain.State) error {
	depthFormat, err := s.findDepthFormat()
	if err != nil {
		return err
	}

	s.depthImage, _, err = s.ctx.device.CreateImage(nil, core1_0.ImageCreateInfo{
		ImageType: core1_0.ImageType2D,
		Extent: core1_0.Extent3D{
			Width:  s.extent.Width,
			Height: s.extent.Height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Format:        depthFormat,
		Tiling:        core1_0.ImageTilingOptimal,
		InitialLayout: core1_0.ImageLayoutUndefined,
		Usage:         core1_0.ImageUsageDepthStencilAttachment,
		SharingMode:   core1_0.SharingModeExclusive,
		Samples:       core1_0.Samples1,
	})
	if err != nil {
		return err
	}

	memReqs := s.depthImage.MemoryRequirements()
	memoryIndex, err := s.ctx.findMemoryType(memReqs.MemoryTypeBits, core1_0.MemoryPropertyDeviceLocal)
	if err != nil {
		return err
	}

	s.depthImageMemory, _, err = s.ctx.device.AllocateMemory(nil, core1_0.MemoryAllocateInfo{
		AllocationSize:  memReqs.Size,
		MemoryTypeIndex: memoryIndex,
	})
	if err != nil {
		return err
	}

	_, err = s.depthImage.BindImageMemory(s.depthImageMemory, 0)
	if err != nil {
		return err
	}

	s.depthImageView, err = s.createImageView(s.depthImage, depthFormat, core1_0.ImageAspectDepth)
	return err
}

func (s *Scene) destroyDepthResources() {
	if s.depthImageView != nil {
		s.depthImageView.Destroy(nil)
		s.depthImageView = nil
	}

	if s.depthImage != nil {
		s.depthImage.Destroy(nil)
		s.depthImage = nil
	}

	if s.depthImageMemory != nil {
		s.depthImageMemory.Free(nil)
		s.depthImageMemory = nil
	}
}

func (s *Scene) createRenderPass(state *swapchain.State) error {
	depthFormat, err := s.findDepthFormat()
	if err != nil {
		return err
	}

	s.renderPass, _, err = s.ctx.device.CreateRenderPass(nil, core1_0.RenderPassCreateInfo{
		Attachments: []core1_0.AttachmentDescription{
			{
				Format:         s.imageFormat,
				Samples:        core1_0.Samples1,
				LoadOp:         core1_0.AttachmentLoadOpClear,
				StoreOp:        core1_0.AttachmentStoreOpStore,
				StencilLoadOp:  core1_0.AttachmentLoadOpDontCare,
				StencilStoreOp: core1_0.AttachmentStoreOpDontCare,
				InitialLayout:  core1_0.ImageLayoutUndefined,
				FinalLayout:    khr_swapchain.ImageLayoutPresentSrc,
			},
			{
				Format:         depthFormat,
				Samples:        core1_0.Samples1,
				LoadOp:         core1_0.AttachmentLoadOpClear,
				StoreOp:        core1_0.AttachmentStoreOpDontCare,
				StencilLoadOp:  core1_0.AttachmentLoadOpDontCare,
				StencilStoreOp: core1_0.AttachmentStoreOpDontCare,
				InitialLayout:  core1_0.ImageLayoutUndefined,
				FinalLayout:    core1_0.ImageLayoutDepthStencilAttachmentOptimal,
			},
		},
		Subpasses: []core1_0.SubpassDescription{
			{
				PipelineBindPoint: core1_0.PipelineBindPointGraphics,
				ColorAttachments: []core1_0.AttachmentReference{
					{
						Attachment: 0,
						Layout:     core1_0.ImageLayoutColorAttachmentOptimal,
					},
				},
				DepthStencilAttachment: &core1_0.AttachmentReference{
					Attachment: 1,
					Layout:     core1_0.ImageLayoutDepthStencilAttachmentOptimal,
				},
			},
		},
		SubpassDependencies: []core1_0.SubpassDependency{
			{
				SrcSubpass: core1_0.SubpassExternal,
				DstSubpass: 0,

				SrcStageMask:  core1_0.PipelineStageColorAttachmentOutput | core1_0.PipelineStageEarlyFragmentTests,
				SrcAccessMask: 0,

				DstStageMask:  core1_0.PipelineStageColorAttachmentOutput | core1_0.PipelineStageEarlyFragmentTests,
				DstAccessMask: core1_0.AccessColorAttachmentWrite | core1_0.AccessDepthStencilAttachmentWrite,
			},
		},
	})
	return err
}

func (s *Scene) destroyRenderPass() {
	if s.renderPass != nil {
		s.renderPass.Destroy(nil)
		s.renderPass = nil
	}
}

func (s *Scene) loadShader(name string) (core1_0.ShaderModule, error) {
	code, err := s.shaders.Load(name)
	if err != nil {
		return nil, err
	}

	module, _, err := s.ctx.device.CreateShaderModule(nil, core1_0.ShaderModuleCreateInfo{
		Code: code,
	})
	return module, errors.Wrapf(err, "create shader module %s", name)
}

func (s *Scene) createGraphicsPipeline(state *swapchain.State) error {
	vertShader, err := s.loadShader("vert.spv")
	if err != nil {
		return err
	}
	defer vertShader.Destroy(nil)

	fragShader, err := s.loadShader("frag.spv")
	if err != nil {
		return err
	}
	defer fragShader.Destroy(nil)

	vertexInput := &core1_0.PipelineVertexInputStateCreateInfo{
		VertexBindingDescriptions: []core1_0.VertexInputBindingDescription{
			{
				Binding:   0,
				Stride:    mesh.VertexStride,
				InputRate: core1_0.VertexInputRateVertex,
			},
		},
		VertexAttributeDescriptions: []core1_0.VertexInputAttributeDescription{
			{
				Binding:  0,
				Location: 0,
				Format:   core1_0.FormatR32G32B32SignedFloat,
				Offset:   mesh.AttributeOffsets[0],
			},
			{
				Binding:  0,
				Location: 1,
				Format:   core1_0.FormatR32G32B32SignedFloat,
				Offset:   mesh.AttributeOffsets[1],
			},
		},
	}

	inputAssembly := &core1_0.PipelineInputAssemblyStateCreateInfo{
		Topology:               core1_0.PrimitiveTopologyTriangleList,
		PrimitiveRestartEnable: false,
	}

	vertStage := core1_0.PipelineShaderStageCreateInfo{
		Stage:  core1_0.StageVertex,
		Module: vertShader,
		Name:   "main",
	}

	fragStage := core1_0.PipelineShaderStageCreateInfo{
		Stage:  core1_0.StageFragment,
		Module: fragShader,
		Name:   "main",
	}

	viewport := &core1_0.PipelineViewportStateCreateInfo{
		Viewports: []core1_0.Viewport{
			{
				X:        0,
				Y:        0,
				Width:    float32(s.extent.Width),
				Height:   float32(s.extent.Height),
				MinDepth: 0,
				MaxDepth: 1,
			},
		},
		Scissors: []core1_0.Rect2D{
			{
				Offset: core1_0.Offset2D{X: 0, Y: 0},
				Extent: s.extent,
			},
		},
	}

	rasterization := &core1_0.PipelineRasterizationStateCreateInfo{
		DepthClampEnable:        false,
		RasterizerDiscardEnable: false,

		PolygonMode: core1_0.PolygonModeFill,
		CullMode:    core1_0.CullModeBack,
		FrontFace:   core1_0.FrontFaceCounterClockwise,

		DepthBiasEnable: false,

		LineWidth: 1.0,
	}

	multisample := &core1_0.PipelineMultisampleStateCreateInfo{
		SampleShadingEnable:  false,
		RasterizationSamples: core1_0.Samples1,
		MinSampleShading:     1.0,
	}

	depthStencil := &core1_0.PipelineDepthStencilStateCreateInfo{
		DepthTestEnable:  true,
		DepthWriteEnable: true,
		DepthCompareOp:   core1_0.CompareOpLess,
	}

	colorBlend := &core1_0.PipelineColorBlendStateCreateInfo{
		LogicOpEnabled: false,
		LogicOp:        core1_0.LogicOpCopy,

		BlendConstants: [4]float32{0, 0, 0, 0},
		Attachments: []core1_0.PipelineColorBlendAttachmentState{
			{
				BlendEnabled:   false,
				ColorWriteMask: core1_0.ColorComponentRed | core1_0.ColorComponentGreen | core1_0.ColorComponentBlue | core1_0.ColorComponentAlpha,
			},
		},
	}

	s.pipelineLayout, _, err = s.ctx.device.CreatePipelineLayout(nil, core1_0.PipelineLayoutCreateInfo{
		SetLayouts: []core1_0.DescriptorSetLayout{
			s.descriptorSetLayout,
		},
	})
	if err != nil {
		return errors.Wrap(err, "create pipeline layout")
	}

	pipelines, _, err := s.ctx.device.CreateGraphicsPipelines(nil, nil, []core1_0.GraphicsPipelineCreateInfo{
		{
			Stages: []core1_0.PipelineShaderStageCreateInfo{
				vertStage,
				fragStage,
			},
			VertexInputState:   vertexInput,
			InputAssemblyState: inputAssembly,
			ViewportState:      viewport,
			RasterizationState: rasterization,
			MultisampleState:   multisample,
			DepthStencilState:  depthStencil,
			ColorBlendState:    colorBlend,
			Layout:             s.pipelineLayout,
			RenderPass:         s.renderPass,
			Subpass:            0,
			BasePipelineIndex:  -1,
		},
	})
	if err != nil {
		return errors.Wrap(err, "create graphics pipeline")
	}

	s.pipeline = pipelines[0]
	return nil
}

func (s *Scene) destroyGraphicsPipeline() {
	if s.pipeline != nil {
		s.pipeline.Destroy(nil)
		s.pipeline = nil
	}

	if s.pipelineLayout != nil {
		s.pipelineLayout.Destroy(nil)
		s.pipelineLayout = nil
	}
}

func (s *Scene) createFramebuffers(state *swapchain.State) error {
	for _, imageView := range s.imageViews {
		framebuffer, _, err := s.ctx.device.CreateFramebuffer(nil, core1_0.FramebufferCreateInfo{
			RenderPass: s.renderPass,
			Layers:     1,
			Attachments: []core1_0.ImageView{
				imageView,
				s.depthImageView,
			},
			Width:  s.extent.Width,
			Height: s.extent.Height,
		})
		if err != nil {
			return err
		}

		s.framebuffers = append(s.framebuffers, framebuffer)
	}

	return nil
}

func (s *Scene) destroyFramebuffers() {
	for _, framebuffer := range s.framebuffers {
		framebuffer.Destroy(nil)
	}
	s.framebuffers = nil
}

// createUniformBuffers builds one host-visible uniform buffer per image,
// with a descriptor set pointing at each.
func (s *Scene) createUniformBuffers(state *swapchain.State) error {
	for i := 0; i < len(s.images); i++ {
		buffer, err := s.ctx.createBuffer(mesh.UniformSize, core1_0.BufferUsageUniformBuffer, core1_0.MemoryPropertyHostVisible|core1_0.MemoryPropertyHostCoherent)
		if err != nil {
			return err
		}

		s.uniformBuffers = append(s.uniformBuffers, buffer)
	}

	var err error
	s.descriptorPool, _, err = s.ctx.device.CreateDescriptorPool(nil, core1_0.DescriptorPoolCreateInfo{
		MaxSets: len(s.images),
		PoolSizes: []core1_0.DescriptorPoolSize{
			{
				Type:            core1_0.DescriptorTypeUniformBuffer,
				DescriptorCount: len(s.images),
			},
		},
	})
	if err != nil {
		return errors.Wrap(err, "create descriptor pool")
	}

	var allocLayouts []core1_0.DescriptorSetLayout
	for i := 0; i < len(s.images); i++ {
		allocLayouts = append(allocLayouts, s.descriptorSetLayout)
	}

	s.descriptorSets, _, err = s.ctx.device.AllocateDescriptorSets(core1_0.DescriptorSetAllocateInfo{
		DescriptorPool: s.descriptorPool,
		SetLayouts:     allocLayouts,
	})
	if err != nil {
		return errors.Wrap(err, "allocate descriptor sets")
	}

	for i := 0; i < len(s.images); i++ {
		err = s.ctx.device.UpdateDescriptorSets([]core1_0.WriteDescriptorSet{
			{
				DstSet:          s.descriptorSets[i],
				DstBinding:      0,
				DstArrayElement: 0,

				DescriptorType: core1_0.DescriptorTypeUniformBuffer,

				BufferInfo: []core1_0.DescriptorBufferInfo{
					{
						Buffer: s.uniformBuffers[i].buffer,
						Offset: 0,
						Range:  mesh.UniformSize,
					},
				},
			},
		}, nil)
		if err != nil {
			return err
		}
	}

	return nil
}

func (s *Scene) destroyUniformBuffers() {
	// Destroying the pool frees its sets.
	if s.descriptorPool != nil {
		s.descriptorPool.Destroy(nil)
		s.descriptorPool = nil
	}
	s.descriptorSets = nil

	for _, buffer := range s.uniformBuffers {
		buffer.Destroy()
	}
	s.uniformBuffers = nil
}

func (s *Scene) createCommandBuffers(state *swapchain.State) error {
	buffers, err := s.ctx.allocateCommandBuffers(len(s.images))
	if err != nil {
		return err
	}
	s.commandBuffers = buffers

	for bufferIdx, cmd := range buffers {
		buffer := cmd.buffer

		_, err = buffer.Begin(core1_0.CommandBufferBeginInfo{})
		if err != nil {
			return err
		}

		err = buffer.CmdBeginRenderPass(core1_0.SubpassContentsInline,
			core1_0.RenderPassBeginInfo{
				RenderPass:  s.renderPass,
				Framebuffer: s.framebuffers[bufferIdx],
				RenderArea: core1_0.Rect2D{
					Offset: core1_0.Offset2D{X: 0, Y: 0},
					Extent: s.extent,
				},
				ClearValues: []core1_0.ClearValue{
					core1_0.ClearValueFloat{0, 0, 0, 1},
					core1_0.ClearValueDepthStencil{Depth: 1.0, Stencil: 0},
				},
			})
		if err != nil {
			return err
		}

		buffer.CmdBindPipeline(core1_0.PipelineBindPointGraphics, s.pipeline)
		buffer.CmdBindVertexBuffers(0, []core1_0.Buffer{s.vertexBuffer.buffer}, []int{0})
		buffer.CmdBindIndexBuffer(s.indexBuffer.buffer, 0, core1_0.IndexTypeUInt32)
		buffer.CmdBindDescriptorSets(core1_0.PipelineBindPointGraphics, s.pipelineLayout, []core1_0.DescriptorSet{
			s.descriptorSets[bufferIdx],
		}, nil)
		buffer.CmdDrawIndexed(s.indexCount, 1, 0, 0, 0)
		buffer.CmdEndRenderPass()

		_, err = buffer.End()
		if err != nil {
			return err
		}
	}

	return nil
}

func (s *Scene) destroyCommandBuffers() {
	if len(s.commandBuffers) == 0 {
		return
	}

	buffers := make([]gpu.CommandBuffer, len(s.commandBuffers))
	for i, buffer := range s.commandBuffers {
		buffers[i] = buffer
	}
	s.ctx.FreeCommandBuffers(buffers)
	s.commandBuffers = nil
}

// Destroy releases the mesh buffers and descriptor set layout. The swapchain
// stages must already have been torn down.
func (s *Scene) Destroy() {
	if s.descriptorSetLayout != nil {
		s.descriptorSetLayout.Destroy(nil)
		s.descriptorSetLayout = nil
	}

	s.indexBuffer.Destroy()
	s.vertexBuffer.Destroy()
}
