package mesh

import (
	"math"
	"unsafe"

	"github.com/go-gl/mathgl/mgl32"
)

type UniformBufferObject struct {
	Model mgl32.Mat4
	View  mgl32.Mat4
	Proj  mgl32.Mat4
}

const UniformSize = int(unsafe.Sizeof(UniformBufferObject{}))

// Uniforms returns the transforms for a model spinning 90 degrees per second,
// seen from above at the given aspect ratio. Time wraps every four seconds.
func Uniforms(seconds float64, width, height int) UniformBufferObject {
	timePeriod := float32(math.Mod(seconds, 4.0))

	ubo := UniformBufferObject{}
	ubo.Model = mgl32.HomogRotate3D(timePeriod*mgl32.DegToRad(90.0), mgl32.Vec3{0, 0, 1})
	ubo.View = mgl32.LookAt(2, 2, 2, 0, 0, 0, 0, 0, 1)

	aspectRatio := float32(1)
	if height > 0 {
		aspectRatio = float32(width) / float32(height)
	}

	// Vulkan clip space: Y points down and depth runs 0..1.
	near := 0.1
	far := 10.0
	fovy := mgl32.DegToRad(45)
	fmn, f := far-near, float32(1./math.Tan(float64(fovy)/2.0))

	ubo.Proj = mgl32.Mat4{float32(f / aspectRatio), 0, 0, 0, 0, float32(-f), 0, 0, 0, 0, float32(-far / fmn), -1, 0, 0, float32(-(far * near) / fmn), 0}

	return ubo
}
