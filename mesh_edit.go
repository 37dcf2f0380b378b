package cdasset

import (
	"fmt"
	"slices"
)

// editTable maps stable IDs to array slots once a mesh stops being dense.
type editTable[ID ~uint32] struct {
	idToIndex map[ID]uint32
	indexToID []ID
	invalid   map[ID]struct{}
}

func newEditTable[ID ~uint32](n uint32) *editTable[ID] {
	t := &editTable[ID]{
		idToIndex: make(map[ID]uint32, n),
		indexToID: make([]ID, n),
		invalid:   make(map[ID]struct{}),
	}
	for i := uint32(0); i < n; i++ {
		t.idToIndex[ID(i)] = i
		t.indexToID[i] = ID(i)
	}
	return t
}

func (t *editTable[ID]) clone() *editTable[ID] {
	if t == nil {
		return nil
	}
	c := &editTable[ID]{
		idToIndex: make(map[ID]uint32, len(t.idToIndex)),
		indexToID: slices.Clone(t.indexToID),
		invalid:   make(map[ID]struct{}, len(t.invalid)),
	}
	for k, v := range t.idToIndex {
		c.idToIndex[k] = v
	}
	for k := range t.invalid {
		c.invalid[k] = struct{}{}
	}
	return c
}

func (t *editTable[ID]) slot(id ID) (uint32, bool) {
	i, ok := t.idToIndex[id]
	return i, ok
}

func (t *editTable[ID]) isMarked(id ID) bool {
	if t == nil {
		return false
	}
	_, ok := t.invalid[id]
	return ok
}

func (t *editTable[ID]) swap(i, j uint32) {
	a, b := t.indexToID[i], t.indexToID[j]
	t.indexToID[i], t.indexToID[j] = b, a
	t.idToIndex[a], t.idToIndex[b] = j, i
}

// dropLast forgets the ID stored in the last slot.
func (t *editTable[ID]) dropLast() {
	last := len(t.indexToID) - 1
	id := t.indexToID[last]
	delete(t.idToIndex, id)
	delete(t.invalid, id)
	t.indexToID = t.indexToID[:last]
}

// markedIDs returns the marked IDs in slot order.
func (t *editTable[ID]) markedIDs() []ID {
	out := make([]ID, 0, len(t.invalid))
	for _, id := range t.indexToID {
		if t.isMarked(id) {
			out = append(out, id)
		}
	}
	return out
}

// slotArray is one array that moves in lock step with the vertex slots.
type slotArray interface {
	swap(i, j uint32)
	truncate(n uint32)
	clip()
}

type slots[T any] struct{ s *[]T }

func (a slots[T]) swap(i, j uint32) { (*a.s)[i], (*a.s)[j] = (*a.s)[j], (*a.s)[i] }

func (a slots[T]) truncate(n uint32) {
	if uint32(len(*a.s)) > n {
		*a.s = (*a.s)[:n]
	}
}

func (a slots[T]) clip() { *a.s = slices.Clip(*a.s) }

// visitVertexArrays calls visit for every per-vertex array, morph deltas and
// adjacency included. Any new per-vertex array has to be listed here.
func (m *Mesh) visitVertexArrays(visit func(slotArray)) {
	visit(slots[Point]{&m.positions})
	visit(slots[Direction]{&m.normals})
	visit(slots[Direction]{&m.tangents})
	visit(slots[Direction]{&m.bitangents})
	for i := uint32(0); i < m.uvSetCount; i++ {
		visit(slots[UV]{&m.uvSets[i]})
	}
	for i := uint32(0); i < m.colorSetCount; i++ {
		visit(slots[Color]{&m.colorSets[i]})
	}
	for i := uint32(0); i < m.influenceCount; i++ {
		visit(slots[BoneID]{&m.boneIDs[i]})
		visit(slots[VertexWeight]{&m.weights[i]})
	}
	if m.adjacentVertices != nil {
		visit(slots[[]VertexID]{&m.adjacentVertices})
		visit(slots[[]PolygonID]{&m.adjacentPolygons})
	}
	for _, mt := range m.morphs {
		mt.visitArrays(visit)
	}
}

// vertexSlot resolves a vertex ID to its slot, marked vertices included.
func (m *Mesh) vertexSlot(id VertexID) (uint32, bool) {
	if m.vertexEdit == nil {
		return uint32(id), uint32(id) < m.vertexCount
	}
	return m.vertexEdit.slot(id)
}

func (m *Mesh) polygonSlot(id PolygonID) (uint32, bool) {
	if m.polygonEdit == nil {
		return uint32(id), uint32(id) < m.polygonCount
	}
	return m.polygonEdit.slot(id)
}

func (m *Mesh) vertexIDAt(i uint32) VertexID {
	if m.vertexEdit == nil {
		return VertexID(i)
	}
	return m.vertexEdit.indexToID[i]
}

func (m *Mesh) polygonIDAt(i uint32) PolygonID {
	if m.polygonEdit == nil {
		return PolygonID(i)
	}
	return m.polygonEdit.indexToID[i]
}

func (m *Mesh) vertexTable() *editTable[VertexID] {
	if m.vertexEdit == nil {
		m.vertexEdit = newEditTable[VertexID](m.vertexCount)
	}
	return m.vertexEdit
}

func (m *Mesh) polygonTable() *editTable[PolygonID] {
	if m.polygonEdit == nil {
		m.polygonEdit = newEditTable[PolygonID](m.polygonCount)
	}
	return m.polygonEdit
}

// IsDirty reports whether IDs currently differ from array indices.
func (m *Mesh) IsDirty() bool { return m.vertexEdit != nil || m.polygonEdit != nil }

// VertexIndex resolves a live vertex ID to its current array index.
func (m *Mesh) VertexIndex(id VertexID) (uint32, error) {
	i, ok := m.vertexSlot(id)
	if !ok || (m.vertexEdit != nil && m.vertexEdit.isMarked(id)) {
		return 0, fmt.Errorf("vertex %d: %w", id, ErrInvalidVertexID)
	}
	return i, nil
}

// VertexID returns the ID stored at array index i.
func (m *Mesh) VertexID(i uint32) (VertexID, error) {
	if i >= m.vertexCount {
		return 0, fmt.Errorf("vertex index %d of %d: %w", i, m.vertexCount, ErrOutOfRange)
	}
	return m.vertexIDAt(i), nil
}

// PolygonIndex resolves a live polygon ID to its current array index.
func (m *Mesh) PolygonIndex(id PolygonID) (uint32, error) {
	i, ok := m.polygonSlot(id)
	if !ok || (m.polygonEdit != nil && m.polygonEdit.isMarked(id)) {
		return 0, fmt.Errorf("polygon %d: %w", id, ErrInvalidPolygonID)
	}
	return i, nil
}

// PolygonID returns the ID stored at array index i.
func (m *Mesh) PolygonID(i uint32) (PolygonID, error) {
	if i >= m.polygonCount {
		return 0, fmt.Errorf("polygon index %d of %d: %w", i, m.polygonCount, ErrOutOfRange)
	}
	return m.polygonIDAt(i), nil
}

// IsVertexValid reports whether id names a vertex that is neither removed nor marked.
func (m *Mesh) IsVertexValid(id VertexID) bool {
	_, err := m.VertexIndex(id)
	return err == nil
}

// IsPolygonValid reports whether id names a polygon that is neither removed nor marked.
func (m *Mesh) IsPolygonValid(id PolygonID) bool {
	_, err := m.PolygonIndex(id)
	return err == nil
}

// MarkVertexInvalid flags a vertex for removal by the next Unify. Marking
// twice is a no-op.
func (m *Mesh) MarkVertexInvalid(id VertexID) error {
	if _, ok := m.vertexSlot(id); !ok {
		return fmt.Errorf("mark vertex %d: %w", id, ErrInvalidVertexID)
	}
	m.vertexTable().invalid[id] = struct{}{}
	return nil
}

// MarkPolygonInvalid flags a polygon for removal by the next Unify.
func (m *Mesh) MarkPolygonInvalid(id PolygonID) error {
	if _, ok := m.polygonSlot(id); !ok {
		return fmt.Errorf("mark polygon %d: %w", id, ErrInvalidPolygonID)
	}
	m.polygonTable().invalid[id] = struct{}{}
	return nil
}

// SwapVertexData exchanges the slots of two vertices across every per-vertex
// array. IDs keep following their data, so swapping twice restores the mesh.
func (m *Mesh) SwapVertexData(a, b VertexID) error {
	i, ok := m.vertexSlot(a)
	if !ok {
		return fmt.Errorf("swap vertex %d: %w", a, ErrInvalidVertexID)
	}
	j, ok := m.vertexSlot(b)
	if !ok {
		return fmt.Errorf("swap vertex %d: %w", b, ErrInvalidVertexID)
	}
	if i == j {
		return nil
	}
	m.swapVertexSlots(i, j)
	return nil
}

func (m *Mesh) swapVertexSlots(i, j uint32) {
	m.visitVertexArrays(func(a slotArray) { a.swap(i, j) })
	m.vertexTable().swap(i, j)
}

// SwapPolygonData exchanges the slots of two polygons.
func (m *Mesh) SwapPolygonData(a, b PolygonID) error {
	i, ok := m.polygonSlot(a)
	if !ok {
		return fmt.Errorf("swap polygon %d: %w", a, ErrInvalidPolygonID)
	}
	j, ok := m.polygonSlot(b)
	if !ok {
		return fmt.Errorf("swap polygon %d: %w", b, ErrInvalidPolygonID)
	}
	if i == j {
		return nil
	}
	m.swapPolygonSlots(i, j)
	return nil
}

func (m *Mesh) swapPolygonSlots(i, j uint32) {
	m.polygons[i], m.polygons[j] = m.polygons[j], m.polygons[i]
	m.polygonTable().swap(i, j)
}

// RemoveVertexData moves the vertex to the last slot and drops it. Live
// polygons still referencing it are returned; Unify refuses to run until the
// caller removes or rewrites them.
func (m *Mesh) RemoveVertexData(id VertexID) ([]PolygonID, error) {
	i, ok := m.vertexSlot(id)
	if !ok {
		return nil, fmt.Errorf("remove vertex %d: %w", id, ErrInvalidVertexID)
	}
	var dangling []PolygonID
	for p := uint32(0); p < m.polygonCount; p++ {
		pid := m.polygonIDAt(p)
		if m.polygonEdit != nil && m.polygonEdit.isMarked(pid) {
			continue
		}
		if m.polygons[p].Contains(id) {
			dangling = append(dangling, pid)
		}
	}
	m.removeVertexSlot(i)
	return dangling, nil
}

// removeVertexSlot swaps slot i to the end and shrinks every per-vertex array.
func (m *Mesh) removeVertexSlot(i uint32) {
	last := m.vertexCount - 1
	if i != last {
		m.swapVertexSlots(i, last)
	}
	m.vertexTable().dropLast()
	m.vertexCount--
	m.visitVertexArrays(func(a slotArray) { a.truncate(m.vertexCount) })
}

// RemovePolygonData moves the polygon to the last slot and drops it.
func (m *Mesh) RemovePolygonData(id PolygonID) error {
	i, ok := m.polygonSlot(id)
	if !ok {
		return fmt.Errorf("remove polygon %d: %w", id, ErrInvalidPolygonID)
	}
	m.removePolygonSlot(i)
	return nil
}

func (m *Mesh) removePolygonSlot(i uint32) {
	last := m.polygonCount - 1
	if i != last {
		m.swapPolygonSlots(i, last)
	}
	m.polygonTable().dropLast()
	m.polygonCount--
	m.polygons = m.polygons[:m.polygonCount]
}

// Validate checks that every live polygon references live vertices.
func (m *Mesh) Validate() error { return m.checkPolygonRefs(false) }

func (m *Mesh) checkPolygonRefs(allowMarked bool) error {
	for p := uint32(0); p < m.polygonCount; p++ {
		pid := m.polygonIDAt(p)
		if m.polygonEdit != nil && m.polygonEdit.isMarked(pid) {
			continue
		}
		for k, v := range m.polygons[p] {
			_, ok := m.vertexSlot(v)
			if ok && (allowMarked || !m.vertexEdit.isMarked(v)) {
				continue
			}
			return fmt.Errorf("polygon %d corner %d vertex %d: %w", pid, k, v, ErrDanglingPolygon)
		}
	}
	return nil
}

// cascadeVertexMarks marks every live polygon that uses a marked vertex.
func (m *Mesh) cascadeVertexMarks() {
	if m.vertexEdit == nil || len(m.vertexEdit.invalid) == 0 {
		return
	}
	for p := uint32(0); p < m.polygonCount; p++ {
		for _, v := range m.polygons[p] {
			if m.vertexEdit.isMarked(v) {
				m.polygonTable().invalid[m.polygonIDAt(p)] = struct{}{}
				break
			}
		}
	}
}

// Unify removes marked vertices and polygons, then renumbers all IDs to equal
// their array index and rewrites polygon references accordingly. Polygons using
// a marked vertex are removed with it. The mesh is left untouched when a live
// polygon references a vertex already dropped by RemoveVertexData.
func (m *Mesh) Unify() error {
	if !m.IsDirty() {
		return nil
	}
	if err := m.checkPolygonRefs(true); err != nil {
		return fmt.Errorf("unify mesh %d: %w", m.id, err)
	}
	m.cascadeVertexMarks()
	if m.polygonEdit != nil {
		for _, pid := range m.polygonEdit.markedIDs() {
			i, _ := m.polygonEdit.slot(pid)
			m.removePolygonSlot(i)
		}
	}
	if m.vertexEdit != nil {
		for _, vid := range m.vertexEdit.markedIDs() {
			i, _ := m.vertexEdit.slot(vid)
			m.removeVertexSlot(i)
		}
		remap := make(map[VertexID]VertexID, m.vertexCount)
		for i, old := range m.vertexEdit.indexToID {
			remap[old] = VertexID(i)
		}
		for p := range m.polygons {
			for k, v := range m.polygons[p] {
				m.polygons[p][k] = remap[v]
			}
		}
	}
	m.vertexEdit = nil
	m.polygonEdit = nil
	m.visitVertexArrays(func(a slotArray) { a.clip() })
	m.polygons = slices.Clip(m.polygons)
	if m.adjacentVertices != nil {
		return m.ComputeConnectivity()
	}
	return nil
}
