package cdasset

import (
	"math"

	"github.com/flywave/go3d/vec2"
	"github.com/flywave/go3d/vec3"
	"github.com/flywave/go3d/vec4"
)

const SCENE_SIGNATURE string = "CDSD"
const SCENEEXT string = ".cdbin"
const V1 uint32 = 1
const V2 uint32 = 2

// CurrentVersion is the version written by SceneDatabaseMarshal.
const CurrentVersion = V2

const (
	MaxUVSetCount         = 4
	MaxColorSetCount      = 4
	MaxBoneInfluenceCount = 8
)

const (
	BYTE_ORDER_LITTLE uint8 = 0
	BYTE_ORDER_BIG    uint8 = 1
)

// InvalidID marks an unset or removed reference.
const InvalidID uint32 = math.MaxUint32

type (
	MeshID      uint32
	MaterialID  uint32
	TextureID   uint32
	LightID     uint32
	BoneID      uint32
	AnimationID uint32
	TrackID     uint32
	NodeID      uint32
	MorphID     uint32
	VertexID    uint32
	PolygonID   uint32
)

func (id MeshID) IsValid() bool { return uint32(id) != InvalidID }
func (id MaterialID) IsValid() bool { return uint32(id) != InvalidID }
func (id TextureID) IsValid() bool { return uint32(id) != InvalidID }
func (id NodeID) IsValid() bool { return uint32(id) != InvalidID }
func (id BoneID) IsValid() bool { return uint32(id) != InvalidID }

type (
	Point     = vec3.T
	Direction = vec3.T
	UV        = vec2.T
	Color     = vec4.T
	AABB      = vec3.Box
)

// VertexWeight is the blend weight of one bone influence.
type VertexWeight = float32

// Polygon is a triangle expressed as three vertex IDs.
type Polygon [3]VertexID

// Contains reports whether the polygon references v.
func (p Polygon) Contains(v VertexID) bool {
	return p[0] == v || p[1] == v || p[2] == v
}

// IsDegenerate reports whether two corners share a vertex.
func (p Polygon) IsDegenerate() bool {
	return p[0] == p[1] || p[1] == p[2] || p[0] == p[2]
}
