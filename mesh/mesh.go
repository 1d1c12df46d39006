// Package mesh holds vertex data for the demo and loads it from OBJ files.
package mesh

import (
	"io"
	"strings"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/g3n/engine/loader/obj"
	"github.com/go-gl/mathgl/mgl32"
)

type Vertex struct {
	Position mgl32.Vec3
	Color    mgl32.Vec3
}

// VertexStride is the size of one Vertex as laid out in a vertex buffer.
const VertexStride = int(unsafe.Sizeof(Vertex{}))

// Offsets of the Vertex attributes, in shader location order.
var AttributeOffsets = []int{
	int(unsafe.Offsetof(Vertex{}.Position)),
	int(unsafe.Offsetof(Vertex{}.Color)),
}

type Mesh struct {
	Vertices []Vertex
	Indices  []uint32
}

// Quad returns two stacked colored quads.
func Quad() Mesh {
	return Mesh{
		Vertices: []Vertex{
			{Position: mgl32.Vec3{-0.5, -0.5, 0}, Color: mgl32.Vec3{1, 0, 0}},
			{Position: mgl32.Vec3{0.5, -0.5, 0}, Color: mgl32.Vec3{0, 1, 0}},
			{Position: mgl32.Vec3{0.5, 0.5, 0}, Color: mgl32.Vec3{0, 0, 1}},
			{Position: mgl32.Vec3{-0.5, 0.5, 0}, Color: mgl32.Vec3{1, 1, 1}},

			{Position: mgl32.Vec3{-0.5, -0.5, -0.5}, Color: mgl32.Vec3{1, 0, 0}},
			{Position: mgl32.Vec3{0.5, -0.5, -0.5}, Color: mgl32.Vec3{0, 1, 0}},
			{Position: mgl32.Vec3{0.5, 0.5, -0.5}, Color: mgl32.Vec3{0, 0, 1}},
			{Position: mgl32.Vec3{-0.5, 0.5, -0.5}, Color: mgl32.Vec3{1, 1, 1}},
		},
		Indices: []uint32{
			0, 1, 2, 2, 3, 0,
			4, 5, 6, 6, 7, 4,
		},
	}
}

// LoadOBJ decodes an OBJ model, triangulating polygon faces and sharing
// vertices referenced more than once. mtl may be nil.
func LoadOBJ(model io.Reader, mtl io.Reader) (Mesh, error) {
	if mtl == nil {
		mtl = strings.NewReader("")
	}

	decoder, err := obj.DecodeReader(model, mtl)
	if err != nil {
		return Mesh{}, errors.Wrap(err, "decode obj")
	}

	var m Mesh
	unique := make(map[int]uint32)
	addVertex := func(face obj.Face, i int) error {
		vertInd := face.Vertices[i]
		if (vertInd+1)*3 > len(decoder.Vertices) {
			return errors.Newf("face references vertex %d, only %d present", vertInd, len(decoder.Vertices)/3)
		}

		index, exists := unique[vertInd]
		if !exists {
			index = uint32(len(m.Vertices))
			m.Vertices = append(m.Vertices, Vertex{
				Position: mgl32.Vec3{
					decoder.Vertices[vertInd*3],
					decoder.Vertices[vertInd*3+1],
					decoder.Vertices[vertInd*3+2],
				},
				Color: mgl32.Vec3{1, 1, 1},
			})
			unique[vertInd] = index
		}

		m.Indices = append(m.Indices, index)
		return nil
	}

	for _, decoded := range decoder.Objects {
		for _, face := range decoded.Faces {
			// Fan out polygons into triangles
			for i := 2; i < len(face.Vertices); i++ {
				for _, corner := range []int{0, i - 1, i} {
					err = addVertex(face, corner)
					if err != nil {
						return Mesh{}, err
					}
				}
			}
		}
	}

	if len(m.Indices) == 0 {
		return Mesh{}, errors.New("obj contains no faces")
	}

	return m, nil
}
