package main

//go:generate glslc shaders/shader.vert -o shaders/vert.spv
//go:generate glslc shaders/shader.frag -o shaders/frag.spv

import (
	"flag"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/veandco/go-sdl2/sdl"
	"github.com/vkngwrapper/core/common"
	"golang.org/x/exp/slog"

	"github.com/vkngwrapper/frame-lifecycle/gpu"
	"github.com/vkngwrapper/frame-lifecycle/mesh"
	"github.com/vkngwrapper/frame-lifecycle/pacing"
	"github.com/vkngwrapper/frame-lifecycle/renderer"
	"github.com/vkngwrapper/frame-lifecycle/shaders"
	"github.com/vkngwrapper/frame-lifecycle/swapchain"
	"github.com/vkngwrapper/frame-lifecycle/upload"
	"github.com/vkngwrapper/frame-lifecycle/vkgpu"
)

// defaultShaderPath finds the compiled shaders from the demo directory or the
// module root.
var defaultShaderPath = strings.Join([]string{
	"shaders",
	filepath.Join("demo", "shaders"),
}, string(filepath.ListSeparator))

type options struct {
	title          string
	width, height  int
	framesInFlight int
	fps            float64
	shaderPath     string
	model          string
	material       string
	validation     bool
	logLevel       string
}

func parseFlags() options {
	var opts options
	flag.StringVar(&opts.title, "title", "Vulkan", "window title")
	flag.IntVar(&opts.width, "width", 800, "initial window width")
	flag.IntVar(&opts.height, "height", 600, "initial window height")
	flag.IntVar(&opts.framesInFlight, "frames", 2, "frames the CPU may record ahead of the GPU")
	flag.Float64Var(&opts.fps, "fps", 0, "frame rate cap, 0 for none")
	flag.StringVar(&opts.shaderPath, "shaders", defaultShaderPath, "list of directories holding vert.spv and frag.spv, built by go generate")
	flag.StringVar(&opts.model, "model", "", "OBJ file to draw instead of the built-in quads")
	flag.StringVar(&opts.material, "material", "", "MTL file for -model")
	flag.BoolVar(&opts.validation, "validation", false, "enable the Khronos validation layer")
	flag.StringVar(&opts.logLevel, "log-level", "info", "debug, info, warn or error")
	flag.Parse()
	return opts
}

type App struct {
	opts   options
	logger *slog.Logger

	window   *sdl.Window
	ctx      *vkgpu.Context
	scene    *vkgpu.Scene
	renderer *renderer.Renderer
}

func (app *App) Run() error {
	err := app.initWindow()
	if err != nil {
		return err
	}
	defer app.cleanup()

	err = app.initVulkan()
	if err != nil {
		return err
	}

	return app.mainLoop()
}

func (app *App) initWindow() error {
	if err := sdl.Init(sdl.INIT_VIDEO); err != nil {
		return err
	}

	window, err := sdl.CreateWindow(app.opts.title, sdl.WINDOWPOS_UNDEFINED, sdl.WINDOWPOS_UNDEFINED,
		int32(app.opts.width), int32(app.opts.height), sdl.WINDOW_SHOWN|sdl.WINDOW_VULKAN|sdl.WINDOW_RESIZABLE)
	if err != nil {
		return err
	}
	app.window = window

	return nil
}

func (app *App) drawableExtent() swapchain.Extent {
	w, h := app.window.VulkanGetDrawableSize()
	return swapchain.Extent{Width: int(w), Height: int(h)}
}

func (app *App) loadMesh() (mesh.Mesh, error) {
	if app.opts.model == "" {
		return mesh.Quad(), nil
	}

	model, err := os.Open(app.opts.model)
	if err != nil {
		return mesh.Mesh{}, err
	}
	defer model.Close()

	if app.opts.material == "" {
		return mesh.LoadOBJ(model, nil)
	}

	material, err := os.Open(app.opts.material)
	if err != nil {
		return mesh.Mesh{}, err
	}
	defer material.Close()

	return mesh.LoadOBJ(model, material)
}

func (app *App) initVulkan() error {
	var err error
	app.ctx, err = vkgpu.NewContext(app.window, vkgpu.Options{
		ApplicationName:  app.opts.title,
		EnableValidation: app.opts.validation,
	}, app.logger)
	if err != nil {
		return err
	}

	m, err := app.loadMesh()
	if err != nil {
		return errors.Wrap(err, "load mesh")
	}

	uploader := upload.New(app.ctx, app.ctx, app.ctx.GraphicsQueue(), app.ctx, common.ByteOrder, app.logger)
	vertexBuffer, err := uploader.UploadValue(m.Vertices, gpu.BufferUsageVertexBuffer)
	if err != nil {
		return errors.Wrap(err, "upload vertices")
	}

	indexBuffer, err := uploader.UploadValue(m.Indices, gpu.BufferUsageIndexBuffer)
	if err != nil {
		vertexBuffer.Destroy()
		return errors.Wrap(err, "upload indices")
	}

	loader := shaders.NewLoader(filepath.SplitList(app.opts.shaderPath)...)
	app.scene, err = vkgpu.NewScene(app.ctx, loader, vertexBuffer, indexBuffer, len(m.Indices))
	if err != nil {
		indexBuffer.Destroy()
		vertexBuffer.Destroy()
		return err
	}

	cfg := renderer.DefaultConfig()
	cfg.FramesInFlight = app.opts.framesInFlight
	cfg.GraphicsFamily = app.ctx.GraphicsFamily()
	cfg.PresentFamily = app.ctx.PresentFamily()
	cfg.InitialExtent = app.drawableExtent()
	cfg.Logger = app.logger

	app.renderer, err = renderer.New(cfg, renderer.Dependencies{
		Device:   app.ctx,
		Sync:     app.ctx,
		Queue:    app.ctx.GraphicsQueue(),
		Factory:  app.ctx.SwapchainFactory(),
		Stages:   app.scene.Stages(),
		Recorder: app.scene,
	})
	return err
}

func (app *App) mainLoop() error {
	limiter := pacing.NewLimiter(app.opts.fps)
	rendering := true

appLoop:
	for {
		for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
			switch e := event.(type) {
			case *sdl.QuitEvent:
				break appLoop
			case *sdl.WindowEvent:
				switch e.Event {
				case sdl.WINDOWEVENT_MINIMIZED:
					rendering = false
					app.renderer.NotifyResize(swapchain.Extent{})
				case sdl.WINDOWEVENT_RESTORED, sdl.WINDOWEVENT_RESIZED, sdl.WINDOWEVENT_SIZE_CHANGED:
					extent := app.drawableExtent()
					rendering = !extent.Empty()
					app.renderer.NotifyResize(extent)
				}
			}
		}

		if rendering {
			err := app.renderer.DrawFrame()
			if err != nil {
				return err
			}
		} else {
			sdl.Delay(10)
		}

		limiter.Tick()
	}

	app.logger.Info("shutting down", "swapchain_recreations", app.renderer.Recreations())
	return nil
}

func (app *App) cleanup() {
	if app.renderer != nil {
		err := app.renderer.Close()
		if err != nil {
			app.logger.Error("close renderer", "error", err)
		}
	} else if app.ctx != nil {
		_ = app.ctx.WaitIdle()
	}

	if app.scene != nil {
		app.scene.Destroy()
	}

	if app.ctx != nil {
		app.ctx.Destroy()
	}

	if app.window != nil {
		app.window.Destroy()
	}
	sdl.Quit()
}

func main() {
	opts := parseFlags()

	var level slog.Level
	err := level.UnmarshalText([]byte(opts.logLevel))
	if err != nil {
		log.Fatalf("%+v\n", errors.Wrap(err, "parse -log-level"))
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	app := &App{opts: opts, logger: logger}
	err = app.Run()
	if err != nil {
		log.Fatalf("%+v\n", err)
	}
}
