package cdasset

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"maps"
	"math"
	"math/rand/v2"
	"runtime"
	"slices"
	"testing"
)

// quadMesh is the unit square in the z=0 plane split into two triangles.
func quadMesh(t *testing.T) *Mesh {
	t.Helper()
	m := NewNamedMesh(0, "quad", 4, 2)
	for i, p := range []Point{{0, 0, 0}, {1, 0, 0}, {1, 1, 0}, {0, 1, 0}} {
		if err := m.SetVertexPosition(uint32(i), p); err != nil {
			t.Fatal(err)
		}
	}
	m.SetPolygon(0, Polygon{0, 1, 2})
	m.SetPolygon(1, Polygon{0, 2, 3})
	return m
}

func TestNewMesh(t *testing.T) {
	m := NewMesh(3, 1)
	if m.VertexCount() != 3 || m.PolygonCount() != 1 {
		t.Fatalf("counts = %d/%d", m.VertexCount(), m.PolygonCount())
	}
	if m.MaterialID().IsValid() {
		t.Errorf("material = %d, want invalid", m.MaterialID())
	}
	if m.IsDirty() {
		t.Errorf("fresh mesh is dirty")
	}
	layouts := m.VertexFormat().Layouts()
	if len(layouts) != 1 || layouts[0].Type != VERTEX_ATTRIBUTE_POSITION {
		t.Errorf("format = %v", layouts)
	}
	if len(m.VertexPositions()) != 3 || len(m.VertexNormals()) != 3 {
		t.Errorf("arrays not sized to vertex count")
	}
}

func TestMeshSetLimits(t *testing.T) {
	m := NewMesh(2, 0)
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"uv sets", m.SetVertexUVSetCount(MaxUVSetCount + 1), ErrSetCountExceeded},
		{"color sets", m.SetVertexColorSetCount(MaxColorSetCount + 1), ErrSetCountExceeded},
		{"influences", m.SetVertexInfluenceCount(MaxBoneInfluenceCount + 1), ErrSetCountExceeded},
		{"undeclared uv", m.SetVertexUV(0, 0, UV{}), ErrUndeclaredSet},
		{"undeclared color", m.SetVertexColor(0, 0, Color{}), ErrUndeclaredSet},
		{"undeclared influence", m.SetVertexBoneWeight(0, 0, 1, 1), ErrUndeclaredSet},
		{"position index", m.SetVertexPosition(2, Point{}), ErrOutOfRange},
		{"polygon index", m.SetPolygon(0, Polygon{}), ErrOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.want) {
				t.Errorf("err = %v, want %v", tt.err, tt.want)
			}
		})
	}
	if m.VertexUVSetCount() != 0 || m.VertexInfluenceCount() != 0 {
		t.Errorf("rejected counts were applied")
	}
}

func TestMeshVertexFormat(t *testing.T) {
	m := NewMesh(2, 0)
	m.SetVertexNormal(0, Direction{0, 0, 1})
	m.SetVertexUVSetCount(2)
	m.SetVertexColorSetCount(1)
	m.SetVertexInfluenceCount(3)
	f := m.VertexFormat()
	if !f.Contains(VERTEX_ATTRIBUTE_NORMAL) || f.Contains(VERTEX_ATTRIBUTE_TANGENT) {
		t.Errorf("normal/tangent presence wrong: %v", f.Layouts())
	}
	tests := []struct {
		attr VertexAttributeType
		want int
	}{
		{VERTEX_ATTRIBUTE_POSITION, 1},
		{VERTEX_ATTRIBUTE_UV, 2},
		{VERTEX_ATTRIBUTE_COLOR, 1},
		{VERTEX_ATTRIBUTE_BONE_INDEX, 3},
		{VERTEX_ATTRIBUTE_BONE_WEIGHT, 3},
	}
	for _, tt := range tests {
		if got := f.Streams(tt.attr); got != tt.want {
			t.Errorf("%v streams = %d, want %d", tt.attr, got, tt.want)
		}
	}
	// position 12 + normal 12 + 2 uv 16 + color 16 + 3 * (index 4 + weight 4)
	if got := f.Stride(); got != 80 {
		t.Errorf("stride = %d, want 80", got)
	}

	m.SetVertexUVSetCount(1)
	if f := m.VertexFormat(); f.Streams(VERTEX_ATTRIBUTE_UV) != 1 {
		t.Errorf("uv streams after shrink = %d", f.Streams(VERTEX_ATTRIBUTE_UV))
	}
	if m.VertexUVs(1) != nil {
		t.Errorf("dropped uv set still reachable")
	}
}

func TestComputeVertexNormals(t *testing.T) {
	m := quadMesh(t)
	// fold the quad along its diagonal so the two faces disagree
	m.SetVertexPosition(3, Point{0, 1, 1})
	if err := m.ComputeVertexNormals(); err != nil {
		t.Fatal(err)
	}
	face0 := []float32{0, 0, 1}
	r := float32(1 / math.Sqrt(3))
	face1 := []float32{r, -r, r}
	l := float32(math.Sqrt(float64(r*r + r*r + (1+r)*(1+r))))
	shared := []float32{r / l, -r / l, (1 + r) / l}

	tests := []struct {
		v    uint32
		want []float32
	}{
		{0, shared},
		{1, face0},
		{2, shared},
		{3, face1},
	}
	for _, tt := range tests {
		n := m.VertexNormal(tt.v)
		if !NearlyEqualSlice(n[:], tt.want) {
			t.Errorf("normal %d = %v, want %v", tt.v, n, tt.want)
		}
		if !NearlyEqual(n.Length(), 1) {
			t.Errorf("normal %d length %v", tt.v, n.Length())
		}
	}
	if !m.VertexFormat().Contains(VERTEX_ATTRIBUTE_NORMAL) {
		t.Errorf("normal stream not declared")
	}
}

func TestComputeVertexNormalsDegenerate(t *testing.T) {
	m := NewMesh(3, 1)
	m.SetVertexPosition(1, Point{1, 0, 0})
	m.SetVertexPosition(2, Point{2, 0, 0})
	m.SetPolygon(0, Polygon{0, 1, 2})
	if err := m.ComputeVertexNormals(); err != nil {
		t.Fatal(err)
	}
	for i, n := range m.VertexNormals() {
		for _, c := range n {
			if math.IsNaN(float64(c)) {
				t.Fatalf("normal %d is NaN", i)
			}
		}
		if n != (Direction{}) {
			t.Errorf("normal %d = %v, want zero", i, n)
		}
	}
}

func TestComputeVertexTangents(t *testing.T) {
	m := quadMesh(t)
	if err := m.ComputeVertexTangents(); !errors.Is(err, ErrUndeclaredSet) {
		t.Fatalf("without uvs: %v", err)
	}
	m.SetVertexUVSetCount(1)
	for i, uv := range []UV{{0, 0}, {1, 0}, {1, 1}, {0, 1}} {
		m.SetVertexUV(0, uint32(i), uv)
	}
	if err := m.ComputeVertexTangents(); err != nil {
		t.Fatal(err)
	}
	for i := range m.VertexTangents() {
		tg, bt := m.VertexTangent(uint32(i)), m.VertexBiTangent(uint32(i))
		if !NearlyEqualSlice(tg[:], []float32{1, 0, 0}) || !NearlyEqualSlice(bt[:], []float32{0, 1, 0}) {
			t.Errorf("vertex %d tangent %v bitangent %v", i, tg, bt)
		}
	}
}

func TestComputeVertexTangentsDegenerate(t *testing.T) {
	tests := []struct {
		name     string
		pos      [3]Point
		uv       [3]UV
		wantZero bool
	}{
		{"zero area", [3]Point{{0, 0, 0}, {1, 0, 0}, {2, 0, 0}}, [3]UV{{0, 0}, {1, 0}, {0, 1}}, false},
		{"zero uv area", [3]Point{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}}, [3]UV{{0.5, 0.5}, {0.5, 0.5}, {0.5, 0.5}}, true},
		{"collinear uvs", [3]Point{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}}, [3]UV{{0, 0}, {1, 1}, {2, 2}}, true},
		{"coincident", [3]Point{}, [3]UV{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMesh(3, 1)
			m.SetVertexUVSetCount(1)
			for i := range tt.pos {
				m.SetVertexPosition(uint32(i), tt.pos[i])
				m.SetVertexUV(0, uint32(i), tt.uv[i])
			}
			m.SetPolygon(0, Polygon{0, 1, 2})
			if err := m.ComputeVertexTangents(); err != nil {
				t.Fatal(err)
			}
			for i := uint32(0); i < 3; i++ {
				for _, v := range []Direction{m.VertexTangent(i), m.VertexBiTangent(i)} {
					for _, c := range v {
						if math.IsNaN(float64(c)) || math.IsInf(float64(c), 0) {
							t.Fatalf("vertex %d has non-finite tangent frame %v", i, v)
						}
					}
					if tt.wantZero && v != (Direction{}) {
						t.Errorf("vertex %d = %v, want zero", i, v)
					}
				}
			}
		})
	}
}

func TestComputeAABB(t *testing.T) {
	m := quadMesh(t)
	m.SetVertexPosition(2, Point{3, 2, -1})
	box := m.ComputeAABB()
	if box.Min != (Point{0, 0, -1}) || box.Max != (Point{3, 2, 0}) {
		t.Errorf("box = %v", box)
	}
	if m.AABB() != box {
		t.Errorf("stored box differs")
	}
	if empty := NewMesh(0, 0).ComputeAABB(); empty != (AABB{}) {
		t.Errorf("empty box = %v", empty)
	}
}

func TestSwapVertexDataIsInvolution(t *testing.T) {
	m := quadMesh(t)
	m.SetVertexUVSetCount(1)
	m.SetVertexUV(0, 1, UV{0.5, 0.25})
	mt := m.AddMorph("smile")
	mt.SetPositionDelta(1, Point{0, 0, 1})
	before := m.Clone(0)

	if err := m.SwapVertexData(1, 3); err != nil {
		t.Fatal(err)
	}
	if !m.IsDirty() {
		t.Fatal("swap left mesh clean")
	}
	if i, _ := m.VertexIndex(1); i != 3 {
		t.Errorf("vertex 1 at index %d, want 3", i)
	}
	if id, _ := m.VertexID(1); id != 3 {
		t.Errorf("index 1 holds vertex %d, want 3", id)
	}
	if m.VertexUV(0, 3) != (UV{0.5, 0.25}) || mt.PositionDeltas()[3] != (Point{0, 0, 1}) {
		t.Errorf("attributes did not follow the vertex")
	}

	if err := m.SwapVertexData(1, 3); err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(m.VertexPositions(), before.VertexPositions()) ||
		!slices.Equal(m.VertexUVs(0), before.VertexUVs(0)) ||
		!slices.Equal(mt.PositionDeltas(), before.Morph(0).PositionDeltas()) {
		t.Errorf("double swap did not restore data")
	}
	if i, _ := m.VertexIndex(1); i != 1 {
		t.Errorf("vertex 1 at index %d after double swap", i)
	}
}

func TestSwapPolygonData(t *testing.T) {
	m := quadMesh(t)
	if err := m.SwapPolygonData(0, 1); err != nil {
		t.Fatal(err)
	}
	if m.Polygon(0) != (Polygon{0, 2, 3}) {
		t.Errorf("polygon at index 0 = %v", m.Polygon(0))
	}
	if i, _ := m.PolygonIndex(0); i != 1 {
		t.Errorf("polygon 0 at index %d", i)
	}
	if err := m.SwapPolygonData(0, 7); !errors.Is(err, ErrInvalidPolygonID) {
		t.Errorf("swap unknown polygon: %v", err)
	}
}

func TestMarkInvalid(t *testing.T) {
	m := quadMesh(t)
	if err := m.MarkVertexInvalid(3); err != nil {
		t.Fatal(err)
	}
	if err := m.MarkVertexInvalid(3); err != nil {
		t.Fatalf("second mark: %v", err)
	}
	if m.IsVertexValid(3) || !m.IsVertexValid(2) {
		t.Errorf("validity wrong after mark")
	}
	if _, err := m.VertexIndex(3); !errors.Is(err, ErrInvalidVertexID) {
		t.Errorf("index of marked vertex: %v", err)
	}
	if err := m.Validate(); !errors.Is(err, ErrDanglingPolygon) {
		t.Errorf("validate with marked vertex in use: %v", err)
	}
	if err := m.MarkVertexInvalid(9); !errors.Is(err, ErrInvalidVertexID) {
		t.Errorf("mark unknown: %v", err)
	}
}

func TestUnifyCompaction(t *testing.T) {
	m := NewMesh(6, 3)
	for i := uint32(0); i < 6; i++ {
		m.SetVertexPosition(i, Point{float32(i), float32(i * i), 0})
	}
	m.SetPolygon(0, Polygon{0, 1, 2})
	m.SetPolygon(1, Polygon{2, 3, 4})
	m.SetPolygon(2, Polygon{3, 4, 5})

	m.SwapVertexData(0, 5)
	m.MarkVertexInvalid(1)
	m.MarkPolygonInvalid(2)
	if err := m.Unify(); err != nil {
		t.Fatal(err)
	}
	if m.IsDirty() {
		t.Fatal("mesh dirty after unify")
	}
	// polygon 0 used vertex 1 and goes with it, polygon 2 was marked
	if m.VertexCount() != 5 || m.PolygonCount() != 1 {
		t.Fatalf("counts = %d/%d, want 5/1", m.VertexCount(), m.PolygonCount())
	}
	for i := uint32(0); i < m.VertexCount(); i++ {
		if id, _ := m.VertexID(i); uint32(id) != i {
			t.Errorf("index %d holds id %d", i, id)
		}
	}
	want := []Point{{2, 4, 0}, {3, 9, 0}, {4, 16, 0}}
	for k, v := range m.Polygon(0) {
		if got := m.VertexPosition(uint32(v)); got != want[k] {
			t.Errorf("corner %d at %v, want %v", k, got, want[k])
		}
	}
	if err := m.Validate(); err != nil {
		t.Errorf("validate after unify: %v", err)
	}
	if len(m.VertexPositions()) != 5 || cap(m.VertexPositions()) != 5 {
		t.Errorf("positions len/cap = %d/%d", len(m.VertexPositions()), cap(m.VertexPositions()))
	}
}

// taggedMesh stores the vertex ID in every per-vertex stream so that any
// slot can be checked for consistency after edits.
func taggedMesh(vertices, polygons uint32, r *rand.Rand) (*Mesh, map[PolygonID]Polygon) {
	m := NewMesh(vertices, polygons)
	m.SetVertexUVSetCount(2)
	m.SetVertexColorSetCount(1)
	m.SetVertexInfluenceCount(2)
	mt := m.AddMorph("tag")
	for i := uint32(0); i < vertices; i++ {
		x := float32(i)
		m.SetVertexPosition(i, Point{x, 0, 0})
		m.SetVertexNormal(i, Direction{0, x, 0})
		m.SetVertexTangent(i, Direction{0, 0, x})
		m.SetVertexBiTangent(i, Direction{x, x, 0})
		m.SetVertexUV(0, i, UV{x, 0})
		m.SetVertexUV(1, i, UV{0, x})
		m.SetVertexColor(0, i, Color{x, x, x, 1})
		m.SetVertexBoneWeight(0, i, BoneID(i), x)
		m.SetVertexBoneWeight(1, i, BoneID(i+1), -x)
		mt.SetPositionDelta(i, Point{x, 0, x})
		mt.SetNormalDelta(i, Direction{0, x, x})
	}
	polys := make(map[PolygonID]Polygon, polygons)
	for p := uint32(0); p < polygons; p++ {
		c := r.Perm(int(vertices))[:3]
		poly := Polygon{VertexID(c[0]), VertexID(c[1]), VertexID(c[2])}
		m.SetPolygon(p, poly)
		polys[PolygonID(p)] = poly
	}
	return m, polys
}

func checkTaggedSlot(t *testing.T, m *Mesh, i uint32) VertexID {
	t.Helper()
	x := m.VertexPosition(i)[0]
	mt := m.Morph(0)
	ok := m.VertexPosition(i) == Point{x, 0, 0} &&
		m.VertexNormal(i) == Direction{0, x, 0} &&
		m.VertexTangent(i) == Direction{0, 0, x} &&
		m.VertexBiTangent(i) == Direction{x, x, 0} &&
		m.VertexUV(0, i) == UV{x, 0} &&
		m.VertexUV(1, i) == UV{0, x} &&
		m.VertexColor(0, i) == Color{x, x, x, 1} &&
		m.VertexBoneID(0, i) == BoneID(x) && m.VertexWeight(0, i) == x &&
		m.VertexBoneID(1, i) == BoneID(x)+1 && m.VertexWeight(1, i) == -x &&
		mt.PositionDeltas()[i] == Point{x, 0, x} &&
		mt.NormalDeltas()[i] == Direction{0, x, x}
	if !ok {
		t.Errorf("slot %d streams out of step for vertex %v", i, x)
	}
	return VertexID(x)
}

func TestUnifyKeepsStreamsInStep(t *testing.T) {
	const vertices, polygons = 40, 30
	for seed := uint64(1); seed <= 50; seed++ {
		t.Run(fmt.Sprint(seed), func(t *testing.T) {
			r := rand.New(rand.NewPCG(seed, 7))
			m, polys := taggedMesh(vertices, polygons, r)
			if err := m.ComputeConnectivity(); err != nil {
				t.Fatal(err)
			}

			live := make([]VertexID, vertices)
			for i := range live {
				live[i] = VertexID(i)
			}
			markedVertices := map[VertexID]bool{}
			markedPolygons := map[PolygonID]bool{}
			for step := 0; step < 60; step++ {
				switch r.IntN(4) {
				case 0:
					a, b := live[r.IntN(len(live))], live[r.IntN(len(live))]
					if err := m.SwapVertexData(a, b); err != nil {
						t.Fatalf("swap %d %d: %v", a, b, err)
					}
				case 1:
					id := live[r.IntN(len(live))]
					if err := m.MarkVertexInvalid(id); err != nil {
						t.Fatalf("mark vertex %d: %v", id, err)
					}
					markedVertices[id] = true
				case 2:
					if len(live) <= 3 {
						continue
					}
					k := r.IntN(len(live))
					id := live[k]
					dangling, err := m.RemoveVertexData(id)
					if err != nil {
						t.Fatalf("remove vertex %d: %v", id, err)
					}
					live = slices.Delete(live, k, k+1)
					delete(markedVertices, id)
					for _, pid := range dangling {
						if err := m.RemovePolygonData(pid); err != nil {
							t.Fatalf("remove polygon %d: %v", pid, err)
						}
						delete(polys, pid)
					}
				case 3:
					if len(polys) == 0 {
						continue
					}
					ids := slices.Sorted(maps.Keys(polys))
					pid := ids[r.IntN(len(ids))]
					if err := m.MarkPolygonInvalid(pid); err != nil {
						t.Fatalf("mark polygon %d: %v", pid, err)
					}
					markedPolygons[pid] = true
				}
			}

			if err := m.Unify(); err != nil {
				t.Fatal(err)
			}
			if m.IsDirty() || !m.HasConnectivity() {
				t.Fatalf("dirty %v, connectivity %v", m.IsDirty(), m.HasConnectivity())
			}
			if err := m.Validate(); err != nil {
				t.Fatal(err)
			}

			want := map[VertexID]bool{}
			for _, id := range live {
				if !markedVertices[id] {
					want[id] = true
				}
			}
			if m.VertexCount() != uint32(len(want)) {
				t.Fatalf("vertices = %d, want %d", m.VertexCount(), len(want))
			}
			seen := map[VertexID]bool{}
			for i := uint32(0); i < m.VertexCount(); i++ {
				id := checkTaggedSlot(t, m, i)
				if !want[id] || seen[id] {
					t.Errorf("slot %d holds vertex %d", i, id)
				}
				seen[id] = true
			}

			wantPolys := map[Polygon]int{}
			for pid, poly := range polys {
				if markedPolygons[pid] || markedVertices[poly[0]] || markedVertices[poly[1]] || markedVertices[poly[2]] {
					continue
				}
				wantPolys[poly]++
			}
			gotPolys := map[Polygon]int{}
			for _, poly := range m.Polygons() {
				var orig Polygon
				for k, v := range poly {
					orig[k] = VertexID(m.VertexPosition(uint32(v))[0])
				}
				gotPolys[orig]++
			}
			if !maps.Equal(gotPolys, wantPolys) {
				t.Errorf("polygons = %v, want %v", gotPolys, wantPolys)
			}
		})
	}
}

func TestRemoveUnusedVerticesLargeMesh(t *testing.T) {
	if testing.Short() {
		t.Skip("large mesh")
	}
	// one polygon per six vertices leaves half of them unused
	const polygons = 40000
	m := NewMesh(6*polygons, polygons)
	for p := uint32(0); p < polygons; p++ {
		base := VertexID(6 * p)
		m.SetPolygon(p, Polygon{base, base + 2, base + 4})
		for k := uint32(0); k < 6; k++ {
			m.SetVertexPosition(6*p+k, Point{float32(6*p + k), 0, 0})
		}
	}
	removed, err := m.RemoveUnusedVertices()
	if err != nil {
		t.Fatal(err)
	}
	if removed != 3*polygons || m.VertexCount() != 3*polygons || m.PolygonCount() != polygons {
		t.Fatalf("removed %d, counts %d/%d", removed, m.VertexCount(), m.PolygonCount())
	}
	for p, poly := range m.Polygons() {
		for k, v := range poly {
			if got := m.VertexPosition(uint32(v))[0]; got != float32(6*p+2*k) {
				t.Fatalf("polygon %d corner %d at %v", p, k, got)
			}
		}
	}
}

func TestUnifyDanglingPolygon(t *testing.T) {
	m := quadMesh(t)
	dangling, err := m.RemoveVertexData(3)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(dangling, []PolygonID{1}) {
		t.Errorf("dangling = %v, want [1]", dangling)
	}
	if err := m.Unify(); !errors.Is(err, ErrDanglingPolygon) {
		t.Fatalf("unify: %v", err)
	}
	if !m.IsDirty() || m.PolygonCount() != 2 {
		t.Errorf("failed unify modified the mesh")
	}
	if err := m.RemovePolygonData(1); err != nil {
		t.Fatal(err)
	}
	if err := m.Unify(); err != nil {
		t.Fatalf("unify after fixing polygons: %v", err)
	}
	if m.VertexCount() != 3 || m.PolygonCount() != 1 {
		t.Errorf("counts = %d/%d", m.VertexCount(), m.PolygonCount())
	}
}

func TestConnectivity(t *testing.T) {
	m := quadMesh(t)
	if adj, err := m.AdjacentVertices(0); err != nil || adj != nil {
		t.Fatalf("before compute: %v %v", adj, err)
	}
	if err := m.ComputeConnectivity(); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		v        VertexID
		vertices []VertexID
		polygons []PolygonID
	}{
		{0, []VertexID{1, 2, 3}, []PolygonID{0, 1}},
		{1, []VertexID{0, 2}, []PolygonID{0}},
		{2, []VertexID{0, 1, 3}, []PolygonID{0, 1}},
		{3, []VertexID{0, 2}, []PolygonID{1}},
	}
	for _, tt := range tests {
		adj, _ := m.AdjacentVertices(tt.v)
		got := slices.Sorted(slices.Values(adj))
		if !slices.Equal(got, tt.vertices) {
			t.Errorf("vertex %d neighbours = %v, want %v", tt.v, got, tt.vertices)
		}
		polys, _ := m.AdjacentPolygons(tt.v)
		if !slices.Equal(slices.Sorted(slices.Values(polys)), tt.polygons) {
			t.Errorf("vertex %d polygons = %v, want %v", tt.v, polys, tt.polygons)
		}
		// symmetric
		for _, n := range adj {
			back, _ := m.AdjacentVertices(n)
			if !slices.Contains(back, tt.v) {
				t.Errorf("%d lists %d but not the reverse", tt.v, n)
			}
		}
	}

	m.MarkVertexInvalid(1)
	if err := m.Unify(); err != nil {
		t.Fatal(err)
	}
	if !m.HasConnectivity() {
		t.Fatal("connectivity dropped by unify")
	}
	adj, _ := m.AdjacentVertices(0)
	if !slices.Equal(slices.Sorted(slices.Values(adj)), []VertexID{1, 2}) {
		t.Errorf("neighbours after unify = %v", adj)
	}
	m.ClearConnectivity()
	if m.HasConnectivity() {
		t.Error("clear kept connectivity")
	}
}

func TestRemoveDegeneratePolygons(t *testing.T) {
	m := NewMesh(4, 3)
	m.SetVertexPosition(1, Point{1, 0, 0})
	m.SetVertexPosition(2, Point{0, 1, 0})
	m.SetVertexPosition(3, Point{2, 0, 0})
	m.SetPolygon(0, Polygon{0, 1, 2})
	m.SetPolygon(1, Polygon{0, 0, 2})
	m.SetPolygon(2, Polygon{0, 1, 3})
	n, err := m.RemoveDegeneratePolygons()
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 || m.PolygonCount() != 1 || m.Polygon(0) != (Polygon{0, 1, 2}) {
		t.Errorf("removed %d, left %v", n, m.Polygons())
	}
	unused, err := m.RemoveUnusedVertices()
	if err != nil {
		t.Fatal(err)
	}
	if unused != 1 || m.VertexCount() != 3 {
		t.Errorf("unused = %d, vertices = %d", unused, m.VertexCount())
	}
	if !NearlyEqual(m.PolygonArea(0), 0.5) {
		t.Errorf("area = %v", m.PolygonArea(0))
	}
}

func TestMeshClone(t *testing.T) {
	m := quadMesh(t)
	m.MarkVertexInvalid(3)
	c := m.Clone(9)
	if c.ID() != 9 {
		t.Errorf("clone id = %d", c.ID())
	}
	c.SetVertexPosition(0, Point{7, 7, 7})
	if m.VertexPosition(0) == (Point{7, 7, 7}) {
		t.Error("clone shares positions")
	}
	if err := c.Unify(); err != nil {
		t.Fatal(err)
	}
	if !m.IsDirty() || m.VertexCount() != 4 {
		t.Error("unify on clone changed the original")
	}
}

// richMesh carries every kind of per-vertex stream.
func richMesh(t *testing.T) *Mesh {
	t.Helper()
	m := quadMesh(t)
	m.SetMaterialID(2)
	m.ComputeVertexNormals()
	m.SetVertexUVSetCount(2)
	for i, uv := range []UV{{0, 0}, {1, 0}, {1, 1}, {0, 1}} {
		m.SetVertexUV(0, uint32(i), uv)
		m.SetVertexUV(1, uint32(i), UV{uv[1], uv[0] * 0.5})
	}
	if err := m.ComputeVertexTangents(); err != nil {
		t.Fatal(err)
	}
	m.SetVertexColorSetCount(1)
	m.SetVertexColor(0, 2, Color{0.1, 0.2, 0.3, 1})
	m.SetVertexInfluenceCount(2)
	m.SetVertexBoneWeight(0, 1, 4, 0.5)
	m.SetVertexBoneWeight(1, 1, 7, 0.25)
	m.SetVertexBoneWeight(1, 3, 2, 1)
	m.ComputeAABB()
	return m
}

func assertSameMesh(t *testing.T, got, want *Mesh) {
	t.Helper()
	if got.Name() != want.Name() || got.MaterialID() != want.MaterialID() {
		t.Errorf("identity = %q/%d", got.Name(), got.MaterialID())
	}
	if !got.VertexFormat().Equal(want.VertexFormat()) {
		t.Errorf("format = %v, want %v", got.VertexFormat().Layouts(), want.VertexFormat().Layouts())
	}
	if !slices.Equal(got.VertexPositions(), want.VertexPositions()) ||
		!slices.Equal(got.VertexNormals(), want.VertexNormals()) ||
		!slices.Equal(got.VertexTangents(), want.VertexTangents()) ||
		!slices.Equal(got.VertexBiTangents(), want.VertexBiTangents()) ||
		!slices.Equal(got.Polygons(), want.Polygons()) {
		t.Errorf("geometry differs")
	}
	for set := uint32(0); set < want.VertexUVSetCount(); set++ {
		if !slices.Equal(got.VertexUVs(set), want.VertexUVs(set)) {
			t.Errorf("uv set %d = %v", set, got.VertexUVs(set))
		}
	}
	for set := uint32(0); set < want.VertexColorSetCount(); set++ {
		if !slices.Equal(got.VertexColors(set), want.VertexColors(set)) {
			t.Errorf("color set %d = %v", set, got.VertexColors(set))
		}
	}
	for layer := uint32(0); layer < want.VertexInfluenceCount(); layer++ {
		if !slices.Equal(got.VertexBoneIDs(layer), want.VertexBoneIDs(layer)) ||
			!slices.Equal(got.VertexWeights(layer), want.VertexWeights(layer)) {
			t.Errorf("influence layer %d = %v/%v", layer, got.VertexBoneIDs(layer), got.VertexWeights(layer))
		}
	}
	if got.AABB() != want.AABB() {
		t.Errorf("aabb = %v", got.AABB())
	}
}

func TestMeshMarshalRoundTrip(t *testing.T) {
	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		t.Run(order.String(), func(t *testing.T) {
			m := richMesh(t)
			var buf bytes.Buffer
			if err := MeshMarshal(NewOutputArchiveWithOrder(&buf, order), m); err != nil {
				t.Fatal(err)
			}
			got, err := MeshUnMarshal(NewInputArchiveWithOrder(&buf, order))
			if err != nil {
				t.Fatal(err)
			}
			assertSameMesh(t, got, m)
		})
	}
}

func TestMeshMarshalSwappedOrder(t *testing.T) {
	m := richMesh(t)
	var buf bytes.Buffer
	if err := MeshMarshal(NewOutputArchiveSwapBytes(&buf), m); err != nil {
		t.Fatal(err)
	}
	raw := buf.Bytes()

	got, err := MeshUnMarshal(NewInputArchiveWithOrder(bytes.NewReader(raw), swappedByteOrder()))
	if err != nil {
		t.Fatal(err)
	}
	assertSameMesh(t, got, m)

	if _, err := MeshUnMarshal(NewInputArchive(bytes.NewReader(raw))); err == nil {
		t.Error("host order reader accepted swapped bytes")
	}
}

func TestMeshMarshalErrors(t *testing.T) {
	m := quadMesh(t)
	m.SwapVertexData(0, 1)
	if err := MeshMarshal(NewOutputArchive(&bytes.Buffer{}), m); !errors.Is(err, ErrDirtyMesh) {
		t.Errorf("dirty marshal: %v", err)
	}

	var buf bytes.Buffer
	if err := MeshWriteTo(quadMesh(t), &buf); err != nil {
		t.Fatal(err)
	}
	full := buf.Bytes()
	for _, cut := range []int{3, len(full) / 2, len(full) - 1} {
		if _, err := MeshReadFrom(bytes.NewReader(full[:cut])); !errors.Is(err, ErrTruncatedArchive) {
			t.Errorf("cut at %d: %v", cut, err)
		}
	}
}

func TestMeshUnMarshalHugeCounts(t *testing.T) {
	var buf bytes.Buffer
	oa := NewOutputArchive(&buf)
	oa.WriteString("x")
	for _, v := range []uint32{0, 0, 1 << 26, 0, 0, 0, 1 << 26} {
		oa.WriteUint32(v)
	}
	oa.Write(&AABB{})
	VertexFormatMarshal(oa, NewMesh(0, 0).VertexFormat())
	oa.WriteUint32(1 << 26)
	raw := buf.Bytes()

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	_, err := MeshReadFrom(bytes.NewReader(raw))
	runtime.ReadMemStats(&after)
	if !errors.Is(err, ErrTruncatedArchive) {
		t.Fatalf("err = %v", err)
	}
	if grown := after.TotalAlloc - before.TotalAlloc; grown > 16<<20 {
		t.Errorf("decoding %d bytes allocated %d bytes", len(raw), grown)
	}
}

func TestMeshAccessorsOutOfRange(t *testing.T) {
	m := quadMesh(t)
	m.SetVertexUVSetCount(1)
	tests := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"position", m.VertexPosition(4), Point{}},
		{"normal", m.VertexNormal(9), Direction{}},
		{"tangent", m.VertexTangent(9), Direction{}},
		{"bitangent", m.VertexBiTangent(9), Direction{}},
		{"undeclared uv set", m.VertexUV(1, 0), UV{}},
		{"uv set past maximum", m.VertexUV(MaxUVSetCount, 0), UV{}},
		{"uv index", m.VertexUV(0, 4), UV{}},
		{"color", m.VertexColor(0, 0), Color{}},
		{"bone id", m.VertexBoneID(0, 0), BoneID(0)},
		{"weight", m.VertexWeight(MaxBoneInfluenceCount, 0), VertexWeight(0)},
		{"polygon", m.Polygon(2), Polygon{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
	if m.VertexBoneIDs(MaxBoneInfluenceCount) != nil || m.VertexWeights(0) != nil || m.Morph(0) != nil {
		t.Error("undeclared arrays reachable")
	}
}
