package cdasset

import (
	"fmt"
	"slices"
)

// ComputeConnectivity builds, per vertex slot, the vertices sharing a polygon
// with it and the polygons using it. Both lists are duplicate free.
func (m *Mesh) ComputeConnectivity() error {
	adjV := make([][]VertexID, m.vertexCount)
	adjP := make([][]PolygonID, m.vertexCount)
	for p := uint32(0); p < m.polygonCount; p++ {
		idx, ok, err := m.polygonCorners(p)
		if err != nil {
			return fmt.Errorf("connectivity: %w", err)
		}
		if !ok {
			continue
		}
		pid := m.polygonIDAt(p)
		poly := m.polygons[p]
		for k, slot := range idx {
			if !slices.Contains(adjP[slot], pid) {
				adjP[slot] = append(adjP[slot], pid)
			}
			for _, other := range poly {
				if other == poly[k] || slices.Contains(adjV[slot], other) {
					continue
				}
				adjV[slot] = append(adjV[slot], other)
			}
		}
	}
	m.adjacentVertices = adjV
	m.adjacentPolygons = adjP
	return nil
}

// HasConnectivity reports whether adjacency has been computed.
func (m *Mesh) HasConnectivity() bool { return m.adjacentVertices != nil }

// ClearConnectivity drops the derived adjacency lists.
func (m *Mesh) ClearConnectivity() {
	m.adjacentVertices = nil
	m.adjacentPolygons = nil
}

// AdjacentVertices returns the neighbours of a vertex, nil when connectivity
// has not been computed.
func (m *Mesh) AdjacentVertices(id VertexID) ([]VertexID, error) {
	i, err := m.VertexIndex(id)
	if err != nil {
		return nil, err
	}
	if m.adjacentVertices == nil {
		return nil, nil
	}
	return m.adjacentVertices[i], nil
}

// AdjacentPolygons returns the polygons using a vertex, or nil before
// ComputeConnectivity.
func (m *Mesh) AdjacentPolygons(id VertexID) ([]PolygonID, error) {
	i, err := m.VertexIndex(id)
	if err != nil {
		return nil, err
	}
	if m.adjacentPolygons == nil {
		return nil, nil
	}
	return m.adjacentPolygons[i], nil
}
