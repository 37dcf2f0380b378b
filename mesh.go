package cdasset

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/flywave/go3d/vec3"
)

var (
	ErrOutOfRange       = errors.New("index out of range")
	ErrSetCountExceeded = errors.New("set count exceeds maximum")
	ErrUndeclaredSet    = errors.New("attribute set not declared")
	ErrInvalidVertexID  = errors.New("invalid vertex id")
	ErrInvalidPolygonID = errors.New("invalid polygon id")
	ErrDanglingPolygon  = errors.New("polygon references a removed vertex")
)

type attributeMask uint8

const (
	attrNormal attributeMask = 1 << iota
	attrTangent
	attrBiTangent
)

// Mesh owns the parallel per-vertex and per-polygon arrays of one mesh.
//
// Vertex and polygon IDs equal their array index until the first swap, mark or
// removal. From then on an edit table resolves IDs until Unify renumbers
// everything densely again. IDs cached by callers are stale after Unify.
//
// A Mesh is not safe for concurrent use.
type Mesh struct {
	id         MeshID
	name       string
	materialID MaterialID

	vertexCount    uint32
	polygonCount   uint32
	uvSetCount     uint32
	colorSetCount  uint32
	influenceCount uint32

	aabb    AABB
	format  VertexFormat
	present attributeMask

	positions  []Point
	normals    []Direction
	tangents   []Direction
	bitangents []Direction
	uvSets     [MaxUVSetCount][]UV
	colorSets  [MaxColorSetCount][]Color
	boneIDs    [MaxBoneInfluenceCount][]BoneID
	weights    [MaxBoneInfluenceCount][]VertexWeight

	// derived, see ComputeConnectivity
	adjacentVertices [][]VertexID
	adjacentPolygons [][]PolygonID

	morphs   []*Morph
	polygons []Polygon

	vertexEdit  *editTable[VertexID]
	polygonEdit *editTable[PolygonID]
}

// NewMesh allocates every vertex array with vertexCount slots and the polygon
// array with polygonCount slots. UV, color and influence sets start undeclared.
func NewMesh(vertexCount, polygonCount uint32) *Mesh {
	m := &Mesh{materialID: MaterialID(InvalidID)}
	m.init(vertexCount, polygonCount)
	return m
}

// NewNamedMesh is NewMesh with an ID and name.
func NewNamedMesh(id MeshID, name string, vertexCount, polygonCount uint32) *Mesh {
	m := NewMesh(vertexCount, polygonCount)
	m.id = id
	m.name = name
	return m
}

func (m *Mesh) init(vertexCount, polygonCount uint32) {
	m.vertexCount = vertexCount
	m.polygonCount = polygonCount
	m.positions = make([]Point, vertexCount)
	m.normals = make([]Direction, vertexCount)
	m.tangents = make([]Direction, vertexCount)
	m.bitangents = make([]Direction, vertexCount)
	m.polygons = make([]Polygon, polygonCount)
	m.refreshVertexFormat()
}

// ID returns the mesh ID inside its scene database.
func (m *Mesh) ID() MeshID { return m.id }

// SetID changes the mesh ID. The scene database assigns it on AddMesh.
func (m *Mesh) SetID(id MeshID) { m.id = id }

// Name returns the mesh name.
func (m *Mesh) Name() string { return m.name }

// SetName renames the mesh.
func (m *Mesh) SetName(name string) { m.name = name }

// MaterialID returns the material used by every polygon, or an invalid ID.
func (m *Mesh) MaterialID() MaterialID { return m.materialID }

// SetMaterialID assigns the material used by every polygon.
func (m *Mesh) SetMaterialID(id MaterialID) {
	m.materialID = id
}

// VertexCount returns the number of vertex slots, marked vertices included.
func (m *Mesh) VertexCount() uint32 { return m.vertexCount }

// PolygonCount returns the number of polygon slots, marked polygons included.
func (m *Mesh) PolygonCount() uint32 { return m.polygonCount }

// AABB returns the box stored by the last ComputeAABB or SetAABB.
func (m *Mesh) AABB() AABB { return m.aabb }

// SetAABB stores a precomputed box.
func (m *Mesh) SetAABB(box AABB) { m.aabb = box }

// VertexFormat describes the attribute streams written so far.
func (m *Mesh) VertexFormat() *VertexFormat { return &m.format }

func (m *Mesh) refreshVertexFormat() {
	f := VertexFormat{}
	f.AddAttributeLayout(VERTEX_ATTRIBUTE_POSITION, ATTRIBUTE_VALUE_FLOAT, 3)
	if m.present&attrNormal != 0 {
		f.AddAttributeLayout(VERTEX_ATTRIBUTE_NORMAL, ATTRIBUTE_VALUE_FLOAT, 3)
	}
	if m.present&attrTangent != 0 {
		f.AddAttributeLayout(VERTEX_ATTRIBUTE_TANGENT, ATTRIBUTE_VALUE_FLOAT, 3)
	}
	if m.present&attrBiTangent != 0 {
		f.AddAttributeLayout(VERTEX_ATTRIBUTE_BITANGENT, ATTRIBUTE_VALUE_FLOAT, 3)
	}
	for i := uint32(0); i < m.uvSetCount; i++ {
		f.AddAttributeLayout(VERTEX_ATTRIBUTE_UV, ATTRIBUTE_VALUE_FLOAT, 2)
	}
	for i := uint32(0); i < m.colorSetCount; i++ {
		f.AddAttributeLayout(VERTEX_ATTRIBUTE_COLOR, ATTRIBUTE_VALUE_FLOAT, 4)
	}
	for i := uint32(0); i < m.influenceCount; i++ {
		f.AddAttributeLayout(VERTEX_ATTRIBUTE_BONE_INDEX, ATTRIBUTE_VALUE_UINT32, 1)
		f.AddAttributeLayout(VERTEX_ATTRIBUTE_BONE_WEIGHT, ATTRIBUTE_VALUE_FLOAT, 1)
	}
	m.format = f
}

func (m *Mesh) markPresent(a attributeMask) {
	if m.present&a == 0 {
		m.present |= a
		m.refreshVertexFormat()
	}
}

func (m *Mesh) checkVertexIndex(index uint32) error {
	if index >= m.vertexCount {
		return fmt.Errorf("vertex index %d of %d: %w", index, m.vertexCount, ErrOutOfRange)
	}
	return nil
}

// SetVertexPosition writes the position stored at array index index.
func (m *Mesh) SetVertexPosition(index uint32, p Point) error {
	if err := m.checkVertexIndex(index); err != nil {
		return err
	}
	m.positions[index] = p
	return nil
}

// VertexPosition returns the position at array index index. Indices past the
// vertex count yield the zero point.
func (m *Mesh) VertexPosition(index uint32) Point { return at(m.positions, index) }

// VertexPositions returns the position array. Writes through it are kept.
func (m *Mesh) VertexPositions() []Point { return m.positions }

// SetVertexNormal writes a normal and declares the normal stream.
func (m *Mesh) SetVertexNormal(index uint32, n Direction) error {
	if err := m.checkVertexIndex(index); err != nil {
		return err
	}
	m.normals[index] = n
	m.markPresent(attrNormal)
	return nil
}

// VertexNormal returns the normal at index, or the zero vector.
func (m *Mesh) VertexNormal(index uint32) Direction { return at(m.normals, index) }

// VertexNormals returns the normal array.
func (m *Mesh) VertexNormals() []Direction { return m.normals }

// SetVertexTangent writes a tangent and declares the tangent stream.
func (m *Mesh) SetVertexTangent(index uint32, t Direction) error {
	if err := m.checkVertexIndex(index); err != nil {
		return err
	}
	m.tangents[index] = t
	m.markPresent(attrTangent)
	return nil
}

// VertexTangent returns the tangent at index, or the zero vector.
func (m *Mesh) VertexTangent(index uint32) Direction { return at(m.tangents, index) }

// VertexTangents returns the tangent array.
func (m *Mesh) VertexTangents() []Direction { return m.tangents }

// SetVertexBiTangent writes a bitangent and declares the bitangent stream.
func (m *Mesh) SetVertexBiTangent(index uint32, b Direction) error {
	if err := m.checkVertexIndex(index); err != nil {
		return err
	}
	m.bitangents[index] = b
	m.markPresent(attrBiTangent)
	return nil
}

// VertexBiTangent returns the bitangent at index, or the zero vector.
func (m *Mesh) VertexBiTangent(index uint32) Direction { return at(m.bitangents, index) }

// VertexBiTangents returns the bitangent array.
func (m *Mesh) VertexBiTangents() []Direction { return m.bitangents }

// resizeSets keeps the first n sets, allocating missing ones with vertexCount slots.
func resizeSets[T any](sets [][]T, old, n, vertexCount uint32) {
	for i := n; i < old; i++ {
		sets[i] = nil
	}
	for i := old; i < n; i++ {
		sets[i] = make([]T, vertexCount)
	}
}

// SetVertexUVSetCount declares n UV sets. Existing sets keep their data,
// dropped sets are released.
func (m *Mesh) SetVertexUVSetCount(n uint32) error {
	if n > MaxUVSetCount {
		return fmt.Errorf("uv set count %d > %d: %w", n, MaxUVSetCount, ErrSetCountExceeded)
	}
	resizeSets(m.uvSets[:], m.uvSetCount, n, m.vertexCount)
	m.uvSetCount = n
	m.refreshVertexFormat()
	return nil
}

// VertexUVSetCount returns the number of declared UV sets.
func (m *Mesh) VertexUVSetCount() uint32 { return m.uvSetCount }

// SetVertexUV writes one coordinate of a declared UV set.
func (m *Mesh) SetVertexUV(set, index uint32, uv UV) error {
	if set >= m.uvSetCount {
		return fmt.Errorf("uv set %d of %d: %w", set, m.uvSetCount, ErrUndeclaredSet)
	}
	if err := m.checkVertexIndex(index); err != nil {
		return err
	}
	m.uvSets[set][index] = uv
	return nil
}

// VertexUV returns one coordinate of a UV set. Undeclared sets and indices
// out of range yield the zero UV.
func (m *Mesh) VertexUV(set, index uint32) UV { return at(m.VertexUVs(set), index) }

// VertexUVs returns the UV array of a declared set, or nil.
func (m *Mesh) VertexUVs(set uint32) []UV {
	if set >= m.uvSetCount {
		return nil
	}
	return m.uvSets[set]
}

// SetVertexColorSetCount declares n color sets.
func (m *Mesh) SetVertexColorSetCount(n uint32) error {
	if n > MaxColorSetCount {
		return fmt.Errorf("color set count %d > %d: %w", n, MaxColorSetCount, ErrSetCountExceeded)
	}
	resizeSets(m.colorSets[:], m.colorSetCount, n, m.vertexCount)
	m.colorSetCount = n
	m.refreshVertexFormat()
	return nil
}

// VertexColorSetCount returns the number of declared color sets.
func (m *Mesh) VertexColorSetCount() uint32 { return m.colorSetCount }

// SetVertexColor writes one color of a declared set.
func (m *Mesh) SetVertexColor(set, index uint32, c Color) error {
	if set >= m.colorSetCount {
		return fmt.Errorf("color set %d of %d: %w", set, m.colorSetCount, ErrUndeclaredSet)
	}
	if err := m.checkVertexIndex(index); err != nil {
		return err
	}
	m.colorSets[set][index] = c
	return nil
}

// VertexColor returns one color of a set, or the zero color.
func (m *Mesh) VertexColor(set, index uint32) Color { return at(m.VertexColors(set), index) }

// VertexColors returns the color array of a declared set, or nil.
func (m *Mesh) VertexColors(set uint32) []Color {
	if set >= m.colorSetCount {
		return nil
	}
	return m.colorSets[set]
}

// SetVertexInfluenceCount declares n bone influence layers.
func (m *Mesh) SetVertexInfluenceCount(n uint32) error {
	if n > MaxBoneInfluenceCount {
		return fmt.Errorf("influence count %d > %d: %w", n, MaxBoneInfluenceCount, ErrSetCountExceeded)
	}
	resizeSets(m.boneIDs[:], m.influenceCount, n, m.vertexCount)
	resizeSets(m.weights[:], m.influenceCount, n, m.vertexCount)
	m.influenceCount = n
	m.refreshVertexFormat()
	return nil
}

// VertexInfluenceCount returns the number of declared influence layers.
func (m *Mesh) VertexInfluenceCount() uint32 { return m.influenceCount }

// SetVertexBoneWeight writes the bone and weight of one influence layer.
func (m *Mesh) SetVertexBoneWeight(layer, index uint32, bone BoneID, weight VertexWeight) error {
	if layer >= m.influenceCount {
		return fmt.Errorf("influence layer %d of %d: %w", layer, m.influenceCount, ErrUndeclaredSet)
	}
	if err := m.checkVertexIndex(index); err != nil {
		return err
	}
	m.boneIDs[layer][index] = bone
	m.weights[layer][index] = weight
	return nil
}

// VertexBoneID returns the bone of one influence, or zero for an undeclared
// layer.
func (m *Mesh) VertexBoneID(layer, index uint32) BoneID { return at(m.VertexBoneIDs(layer), index) }

// VertexWeight returns the weight of one influence, or zero.
func (m *Mesh) VertexWeight(layer, index uint32) VertexWeight {
	return at(m.VertexWeights(layer), index)
}

// VertexBoneIDs returns the bone array of a declared layer, or nil.
func (m *Mesh) VertexBoneIDs(layer uint32) []BoneID {
	if layer >= m.influenceCount {
		return nil
	}
	return m.boneIDs[layer]
}

// VertexWeights returns the weight array of a declared layer, or nil.
func (m *Mesh) VertexWeights(layer uint32) []VertexWeight {
	if layer >= m.influenceCount {
		return nil
	}
	return m.weights[layer]
}

// SetPolygon writes the three vertex IDs stored at array index index.
func (m *Mesh) SetPolygon(index uint32, p Polygon) error {
	if index >= m.polygonCount {
		return fmt.Errorf("polygon index %d of %d: %w", index, m.polygonCount, ErrOutOfRange)
	}
	m.polygons[index] = p
	return nil
}

// Polygon returns the polygon at array index index, or the zero polygon.
func (m *Mesh) Polygon(index uint32) Polygon { return at(m.polygons, index) }

// Polygons returns the polygon array.
func (m *Mesh) Polygons() []Polygon { return m.polygons }

// MorphCount returns the number of morph targets.
func (m *Mesh) MorphCount() int { return len(m.morphs) }

// Morph returns the i-th morph target, or nil.
func (m *Mesh) Morph(i int) *Morph {
	if i < 0 || i >= len(m.morphs) {
		return nil
	}
	return m.morphs[i]
}

// Morphs returns every morph target in ID order.
func (m *Mesh) Morphs() []*Morph { return m.morphs }

// AddMorph appends a morph target whose delta arrays mirror the vertex arrays.
func (m *Mesh) AddMorph(name string) *Morph {
	mt := newMorph(MorphID(len(m.morphs)), name, m.vertexCount)
	m.morphs = append(m.morphs, mt)
	return mt
}

// polygonCorners resolves the three vertex IDs of a live polygon to array
// indices. ok is false for polygons marked invalid.
func (m *Mesh) polygonCorners(p uint32) (idx [3]uint32, ok bool, err error) {
	if m.polygonEdit != nil && m.polygonEdit.isMarked(m.polygonEdit.indexToID[p]) {
		return idx, false, nil
	}
	for k, v := range m.polygons[p] {
		i, found := m.vertexSlot(v)
		if !found {
			return idx, false, fmt.Errorf("polygon %d corner %d vertex %d: %w", m.polygonIDAt(p), k, v, ErrDanglingPolygon)
		}
		idx[k] = i
	}
	return idx, true, nil
}

func normalizeAccumulated(acc []Direction) {
	for i := range acc {
		l := acc[i].Length()
		if l == 0 || math.IsNaN(float64(l)) || math.IsInf(float64(l), 0) {
			acc[i] = Direction{}
			continue
		}
		acc[i].Scale(1 / l)
	}
}

// ComputeVertexNormals averages the unit face normals of every polygon around
// each vertex. Zero-area polygons contribute nothing; a vertex touched only by
// degenerate polygons gets the zero vector.
func (m *Mesh) ComputeVertexNormals() error {
	acc := make([]Direction, m.vertexCount)
	for p := uint32(0); p < m.polygonCount; p++ {
		idx, ok, err := m.polygonCorners(p)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		p0, p1, p2 := &m.positions[idx[0]], &m.positions[idx[1]], &m.positions[idx[2]]
		e1 := vec3.Sub(p1, p0)
		e2 := vec3.Sub(p2, p0)
		n := vec3.Cross(&e1, &e2)
		l := n.Length()
		if l == 0 {
			continue
		}
		n.Scale(1 / l)
		for _, i := range idx {
			acc[i].Add(&n)
		}
	}
	normalizeAccumulated(acc)
	m.normals = acc
	m.markPresent(attrNormal)
	return nil
}

// ComputeVertexTangents derives tangent and bitangent from positions and UV set 0.
func (m *Mesh) ComputeVertexTangents() error {
	if m.uvSetCount == 0 {
		return fmt.Errorf("compute tangents: %w", ErrUndeclaredSet)
	}
	uvs := m.uvSets[0]
	tan := make([]Direction, m.vertexCount)
	bit := make([]Direction, m.vertexCount)
	for p := uint32(0); p < m.polygonCount; p++ {
		idx, ok, err := m.polygonCorners(p)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		p0, p1, p2 := &m.positions[idx[0]], &m.positions[idx[1]], &m.positions[idx[2]]
		e1 := vec3.Sub(p1, p0)
		e2 := vec3.Sub(p2, p0)
		du1, dv1 := uvs[idx[1]][0]-uvs[idx[0]][0], uvs[idx[1]][1]-uvs[idx[0]][1]
		du2, dv2 := uvs[idx[2]][0]-uvs[idx[0]][0], uvs[idx[2]][1]-uvs[idx[0]][1]
		det := du1*dv2 - du2*dv1
		if math.Abs(float64(det)) < SmallNumberTolerance*SmallNumberTolerance {
			continue
		}
		r := 1 / det
		a, b := e1.Scaled(dv2), e2.Scaled(dv1)
		t := vec3.Sub(&a, &b)
		t.Scale(r)
		c, d := e2.Scaled(du1), e1.Scaled(du2)
		bt := vec3.Sub(&c, &d)
		bt.Scale(r)
		for _, i := range idx {
			tan[i].Add(&t)
			bit[i].Add(&bt)
		}
	}
	normalizeAccumulated(tan)
	normalizeAccumulated(bit)
	m.tangents = tan
	m.bitangents = bit
	m.markPresent(attrTangent | attrBiTangent)
	return nil
}

// ComputeAABB recomputes and stores the box around the valid vertices.
func (m *Mesh) ComputeAABB() AABB {
	first := true
	box := AABB{}
	for i := uint32(0); i < m.vertexCount; i++ {
		if m.vertexEdit != nil && m.vertexEdit.isMarked(m.vertexEdit.indexToID[i]) {
			continue
		}
		p := m.positions[i]
		if first {
			box.Min, box.Max = p, p
			first = false
			continue
		}
		for k := 0; k < 3; k++ {
			box.Min[k] = min(box.Min[k], p[k])
			box.Max[k] = max(box.Max[k], p[k])
		}
	}
	m.aabb = box
	return box
}

// Clone deep-copies the mesh, including any pending edit state, under a new ID.
func (m *Mesh) Clone(id MeshID) *Mesh {
	c := *m
	c.id = id
	c.format = VertexFormat{layouts: slices.Clone(m.format.layouts)}
	c.positions = slices.Clone(m.positions)
	c.normals = slices.Clone(m.normals)
	c.tangents = slices.Clone(m.tangents)
	c.bitangents = slices.Clone(m.bitangents)
	for i := range m.uvSets {
		c.uvSets[i] = slices.Clone(m.uvSets[i])
	}
	for i := range m.colorSets {
		c.colorSets[i] = slices.Clone(m.colorSets[i])
	}
	for i := range m.boneIDs {
		c.boneIDs[i] = slices.Clone(m.boneIDs[i])
		c.weights[i] = slices.Clone(m.weights[i])
	}
	if m.adjacentVertices != nil {
		c.adjacentVertices = make([][]VertexID, len(m.adjacentVertices))
		c.adjacentPolygons = make([][]PolygonID, len(m.adjacentPolygons))
		for i := range m.adjacentVertices {
			c.adjacentVertices[i] = slices.Clone(m.adjacentVertices[i])
			c.adjacentPolygons[i] = slices.Clone(m.adjacentPolygons[i])
		}
	}
	c.morphs = make([]*Morph, len(m.morphs))
	for i, mt := range m.morphs {
		c.morphs[i] = mt.clone()
	}
	c.polygons = slices.Clone(m.polygons)
	c.vertexEdit = m.vertexEdit.clone()
	c.polygonEdit = m.polygonEdit.clone()
	return &c
}
