package cdasset

import "github.com/flywave/go3d/vec3"

// RemoveDegeneratePolygons drops polygons that repeat a vertex or span zero
// area, then unifies the mesh. It returns how many polygons were dropped.
func (m *Mesh) RemoveDegeneratePolygons() (int, error) {
	if err := m.Unify(); err != nil {
		return 0, err
	}
	removed := 0
	for p := uint32(0); p < m.polygonCount; p++ {
		if !m.isDegenerateAt(p) {
			continue
		}
		if err := m.MarkPolygonInvalid(PolygonID(p)); err != nil {
			return 0, err
		}
		removed++
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, m.Unify()
}

func (m *Mesh) isDegenerateAt(p uint32) bool {
	poly := m.polygons[p]
	if poly.IsDegenerate() {
		return true
	}
	for _, v := range poly {
		if uint32(v) >= m.vertexCount {
			return false
		}
	}
	return m.PolygonArea(p) < SmallNumberTolerance*SmallNumberTolerance
}

// PolygonArea returns the area of the polygon at array index p on a clean mesh.
func (m *Mesh) PolygonArea(p uint32) float32 {
	poly := m.polygons[p]
	a, b, c := &m.positions[poly[0]], &m.positions[poly[1]], &m.positions[poly[2]]
	e1 := vec3.Sub(b, a)
	e2 := vec3.Sub(c, a)
	n := vec3.Cross(&e1, &e2)
	return n.Length() / 2
}

// RemoveUnusedVertices drops vertices no polygon references and unifies the
// mesh. It returns how many vertices were dropped.
func (m *Mesh) RemoveUnusedVertices() (int, error) {
	if err := m.Unify(); err != nil {
		return 0, err
	}
	used := make([]bool, m.vertexCount)
	for _, poly := range m.polygons {
		for _, v := range poly {
			if uint32(v) < m.vertexCount {
				used[v] = true
			}
		}
	}
	removed := 0
	for i, u := range used {
		if u {
			continue
		}
		if err := m.MarkVertexInvalid(VertexID(i)); err != nil {
			return 0, err
		}
		removed++
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, m.Unify()
}
