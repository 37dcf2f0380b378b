package processor

import (
	"fmt"

	"github.com/flywave/go-cdasset"
	"github.com/flywave/go3d/mat4"
	"github.com/flywave/go3d/vec3"
)

// mulMatrix returns a*b for column major matrices.
func mulMatrix(a, b *mat4.T) mat4.T {
	var out mat4.T
	for c := 0; c < 4; c++ {
		for r := 0; r < 4; r++ {
			var s float32
			for k := 0; k < 4; k++ {
				s += a[k][r] * b[c][k]
			}
			out[c][r] = s
		}
	}
	return out
}

// worldMatrices composes every node transform with its ancestors.
func worldMatrices(db *cdasset.SceneDatabase) ([]mat4.T, error) {
	nodes := db.Nodes()
	world := make([]mat4.T, len(nodes))
	done := make([]bool, len(nodes))

	var resolve func(id cdasset.NodeID, depth int) (*mat4.T, error)
	resolve = func(id cdasset.NodeID, depth int) (*mat4.T, error) {
		if done[id] {
			return &world[id], nil
		}
		if depth > len(nodes) {
			return nil, fmt.Errorf("%w: node %d is its own ancestor", ErrInvalidScene, id)
		}
		n := nodes[id]
		local := n.LocalMatrix()
		if p := n.ParentID; p.IsValid() && int(p) < len(nodes) {
			parent, err := resolve(p, depth+1)
			if err != nil {
				return nil, err
			}
			world[id] = mulMatrix(parent, &local)
		} else {
			world[id] = local
		}
		done[id] = true
		return &world[id], nil
	}

	for i := range nodes {
		if _, err := resolve(cdasset.NodeID(i), 0); err != nil {
			return nil, err
		}
	}
	return world, nil
}

// linearPart holds the columns of the upper 3x3 of a transform and the
// cofactor columns used for normals.
type linearPart struct {
	cols [3]vec3.T
	cof  [3]vec3.T
	det  float32
}

func newLinearPart(m *mat4.T) linearPart {
	var l linearPart
	for c := 0; c < 3; c++ {
		l.cols[c] = vec3.T{m[c][0], m[c][1], m[c][2]}
	}
	l.cof[0] = vec3.Cross(&l.cols[1], &l.cols[2])
	l.cof[1] = vec3.Cross(&l.cols[2], &l.cols[0])
	l.cof[2] = vec3.Cross(&l.cols[0], &l.cols[1])
	l.det = vec3.Dot(&l.cols[0], &l.cof[0])
	return l
}

func combine(cols *[3]vec3.T, v vec3.T) vec3.T {
	var out vec3.T
	for c := 0; c < 3; c++ {
		out[0] += cols[c][0] * v[c]
		out[1] += cols[c][1] * v[c]
		out[2] += cols[c][2] * v[c]
	}
	return out
}

func (l *linearPart) vector(v vec3.T) vec3.T { return combine(&l.cols, v) }

// normal applies the inverse transpose without the 1/det factor.
func (l *linearPart) normal(v vec3.T) vec3.T {
	n := combine(&l.cof, v)
	if l.det < 0 {
		n.Scale(-1)
	}
	return n
}

func normalized(v vec3.T) vec3.T {
	if n := v.Length(); n > 0 {
		v.Scale(1 / n)
	}
	return v
}

// bakeMesh moves a clean mesh into the space of m.
func bakeMesh(mesh *cdasset.Mesh, m *mat4.T) {
	l := newLinearPart(m)
	pos := mesh.VertexPositions()
	for i, p := range pos {
		out := l.vector(p)
		pos[i] = vec3.T{out[0] + m[3][0], out[1] + m[3][1], out[2] + m[3][2]}
	}
	for i, n := range mesh.VertexNormals() {
		mesh.VertexNormals()[i] = normalized(l.normal(n))
	}
	for i, t := range mesh.VertexTangents() {
		mesh.VertexTangents()[i] = normalized(l.vector(t))
	}
	for i, b := range mesh.VertexBiTangents() {
		mesh.VertexBiTangents()[i] = normalized(l.vector(b))
	}
	for _, mt := range mesh.Morphs() {
		for i, d := range mt.PositionDeltas() {
			mt.PositionDeltas()[i] = l.vector(d)
		}
		if l.det != 0 {
			for i, d := range mt.NormalDeltas() {
				n := l.normal(d)
				n.Scale(1 / abs(l.det))
				mt.NormalDeltas()[i] = n
			}
		}
	}
	if l.det < 0 {
		polys := mesh.Polygons()
		for i, p := range polys {
			polys[i] = cdasset.Polygon{p[0], p[2], p[1]}
		}
	}
	mesh.ClearConnectivity()
	mesh.ComputeAABB()
}

func abs(f float32) float32 {
	if f < 0 {
		return -f
	}
	return f
}

// Flatten bakes the world transform of every node into the meshes it holds
// and resets node transforms to identity. A mesh referenced by several nodes
// is cloned for every reference after the first. Skinned meshes are posed by
// their bones and keep their vertex data.
func Flatten(db *cdasset.SceneDatabase) error {
	world, err := worldMatrices(db)
	if err != nil {
		return err
	}

	refs := make(map[cdasset.MeshID]int)
	for _, n := range db.Nodes() {
		for _, id := range n.MeshIDs {
			refs[id]++
		}
	}
	pristine := make(map[cdasset.MeshID]*cdasset.Mesh)
	for id, count := range refs {
		m := db.GetMesh(id)
		if m == nil {
			return fmt.Errorf("%w: mesh %d", ErrInvalidScene, id)
		}
		if m.IsDirty() {
			return fmt.Errorf("mesh %q: %w", m.Name(), cdasset.ErrDirtyMesh)
		}
		if count > 1 {
			pristine[id] = m.Clone(id)
		}
	}

	claimed := make(map[cdasset.MeshID]bool)
	for i, n := range db.Nodes() {
		for k, id := range n.MeshIDs {
			mesh := db.GetMesh(id)
			if claimed[id] {
				mesh = pristine[id].Clone(0)
				mesh.SetName(fmt.Sprintf("%s_%s", mesh.Name(), n.Name))
				n.MeshIDs[k] = db.AddMesh(mesh)
			}
			claimed[id] = true
			if mesh.VertexInfluenceCount() > 0 {
				continue
			}
			bakeMesh(mesh, &world[i])
		}
		n.Transform = cdasset.IdentityTransform()
	}
	db.UpdateAABB()
	return nil
}

// ComputeConnectivity builds vertex adjacency for every mesh.
func ComputeConnectivity(db *cdasset.SceneDatabase) error {
	for _, m := range db.Meshes() {
		if err := m.ComputeConnectivity(); err != nil {
			return fmt.Errorf("mesh %q: %w", m.Name(), err)
		}
	}
	return nil
}
