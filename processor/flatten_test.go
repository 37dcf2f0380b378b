package processor

import (
	"math"
	"testing"

	"github.com/flywave/go-cdasset"
	"github.com/flywave/go3d/vec3"
)

func nearlyEqual(a, b vec3.T) bool {
	for i := range a {
		if math.Abs(float64(a[i]-b[i])) > 1e-5 {
			return false
		}
	}
	return true
}

func TestFlattenSharedMesh(t *testing.T) {
	db := testScene(t)
	child := cdasset.NewNode(0, "child")
	child.ParentID = 0
	child.Transform.Translation = vec3.T{0, 2, 0}
	child.Transform.Scale = vec3.T{2, 2, 2}
	child.AddMeshID(0)
	db.GetNode(0).AddChildID(db.AddNode(child))

	if err := Flatten(db); err != nil {
		t.Fatal(err)
	}
	if len(db.Meshes()) != 2 || child.MeshIDs[0] != 1 || db.GetNode(0).MeshIDs[0] != 0 {
		t.Fatalf("shared mesh not cloned: %d meshes, child %v", len(db.Meshes()), child.MeshIDs)
	}

	tests := []struct {
		mesh cdasset.MeshID
		want []cdasset.Point
	}{
		{0, []cdasset.Point{{5, 0, 0}, {6, 0, 0}, {5, 1, 0}}},
		{1, []cdasset.Point{{5, 2, 0}, {7, 2, 0}, {5, 4, 0}}},
	}
	for _, tt := range tests {
		got := db.GetMesh(tt.mesh).VertexPositions()
		for i := range tt.want {
			if !nearlyEqual(got[i], tt.want[i]) {
				t.Errorf("mesh %d vertex %d = %v, want %v", tt.mesh, i, got[i], tt.want[i])
			}
		}
	}
	if db.GetMesh(1).Name() != "tri_child" {
		t.Errorf("clone name = %q", db.GetMesh(1).Name())
	}
	for _, n := range db.Nodes() {
		if !n.Transform.IsIdentity() {
			t.Errorf("node %q keeps transform %+v", n.Name, n.Transform)
		}
	}
	if db.AABB.Min != (cdasset.Point{5, 0, 0}) || db.AABB.Max != (cdasset.Point{7, 4, 0}) {
		t.Errorf("scene box = %v", db.AABB)
	}
}

func TestFlattenNormals(t *testing.T) {
	tests := []struct {
		name    string
		scale   vec3.T
		normal  vec3.T
		want    vec3.T
		winding cdasset.Polygon
	}{
		{"uniform", vec3.T{3, 3, 3}, vec3.T{0, 0, 1}, vec3.T{0, 0, 1}, cdasset.Polygon{0, 1, 2}},
		{"non uniform", vec3.T{2, 1, 1}, vec3.T{1, 1, 0}, vec3.T{1 / float32(math.Sqrt(5)), 2 / float32(math.Sqrt(5)), 0}, cdasset.Polygon{0, 1, 2}},
		{"mirrored", vec3.T{-1, 1, 1}, vec3.T{0, 0, 1}, vec3.T{0, 0, 1}, cdasset.Polygon{0, 2, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := testScene(t)
			n := db.GetNode(0)
			n.Transform.Translation = vec3.T{}
			n.Transform.Scale = tt.scale
			m := db.GetMesh(0)
			for i := uint32(0); i < 3; i++ {
				m.SetVertexNormal(i, tt.normal)
			}

			if err := Flatten(db); err != nil {
				t.Fatal(err)
			}
			if got := m.VertexNormal(0); !nearlyEqual(got, tt.want) {
				t.Errorf("normal = %v, want %v", got, tt.want)
			}
			if got := m.Polygon(0); got != tt.winding {
				t.Errorf("polygon = %v, want %v", got, tt.winding)
			}
		})
	}
}

func TestFlattenMorphDeltas(t *testing.T) {
	db := testScene(t)
	db.GetNode(0).Transform.Scale = vec3.T{2, 2, 2}
	mt := db.GetMesh(0).AddMorph("grow")
	mt.SetPositionDelta(1, cdasset.Point{0, 0, 1})

	if err := Flatten(db); err != nil {
		t.Fatal(err)
	}
	if got := mt.PositionDeltas()[1]; !nearlyEqual(got, vec3.T{0, 0, 2}) {
		t.Errorf("delta = %v", got)
	}
}

func TestFlattenSkipsSkinnedMesh(t *testing.T) {
	db := testScene(t)
	m := db.GetMesh(0)
	db.AddBone(cdasset.NewBone(0, "root"))
	if err := m.SetVertexInfluenceCount(1); err != nil {
		t.Fatal(err)
	}
	for i := uint32(0); i < 3; i++ {
		m.SetVertexBoneWeight(0, i, 0, 1)
	}

	if err := Flatten(db); err != nil {
		t.Fatal(err)
	}
	if got := m.VertexPosition(1); got != (cdasset.Point{1, 0, 0}) {
		t.Errorf("skinned vertex moved to %v", got)
	}
}

func TestFlattenRejectsDirtyMesh(t *testing.T) {
	db := testScene(t)
	db.GetMesh(0).MarkPolygonInvalid(0)
	if err := Flatten(db); err == nil {
		t.Error("expected error for dirty mesh")
	}
}

func TestComputeConnectivity(t *testing.T) {
	db := testScene(t)
	if err := ComputeConnectivity(db); err != nil {
		t.Fatal(err)
	}
	adj, err := db.GetMesh(0).AdjacentVertices(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(adj) != 2 {
		t.Errorf("adjacent vertices = %v", adj)
	}
}
