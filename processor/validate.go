package processor

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/flywave/go-cdasset"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/spatial/r3"
)

var ErrInvalidScene = errors.New("invalid scene database")

// degenerateArea is the triangle area below which a polygon is reported.
const degenerateArea = 1e-12

type sceneChecker struct {
	db   *cdasset.SceneDatabase
	errs []error
}

func (c *sceneChecker) fail(format string, args ...interface{}) {
	c.errs = append(c.errs, fmt.Errorf("%w: "+format, append([]interface{}{ErrInvalidScene}, args...)...))
}

// Validate checks IDs, cross references and mesh geometry. Degenerate
// triangles are reported but do not fail the check.
func Validate(db *cdasset.SceneDatabase, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	c := &sceneChecker{db: db}
	c.checkNodes()
	c.checkBones()
	c.checkMaterials()
	c.checkAnimations()
	for _, m := range db.Meshes() {
		if n := c.checkMesh(m); n > 0 {
			log.Warn("degenerate polygons", zap.String("mesh", m.Name()), zap.Int("count", n))
		}
	}
	return errors.Join(c.errs...)
}

func (c *sceneChecker) checkNodes() {
	nodes := c.db.Nodes()
	for i, n := range nodes {
		if int(n.ID) != i {
			c.fail("node %q id %d at position %d", n.Name, n.ID, i)
		}
		if n.ParentID.IsValid() {
			if p := c.db.GetNode(n.ParentID); p == nil {
				c.fail("node %q parent %d", n.Name, n.ParentID)
			} else if !slices.Contains(p.ChildIDs, n.ID) {
				c.fail("node %q not listed by parent %q", n.Name, p.Name)
			}
		}
		for _, id := range n.ChildIDs {
			child := c.db.GetNode(id)
			if child == nil {
				c.fail("node %q child %d", n.Name, id)
			} else if child.ParentID != n.ID {
				c.fail("node %q child %q has parent %d", n.Name, child.Name, child.ParentID)
			}
		}
		for _, id := range n.MeshIDs {
			if c.db.GetMesh(id) == nil {
				c.fail("node %q mesh %d", n.Name, id)
			}
		}
	}
	c.checkCycles(nodes)
}

// checkCycles walks every parent chain; a chain longer than the node count
// loops.
func (c *sceneChecker) checkCycles(nodes []*cdasset.Node) {
	for _, n := range nodes {
		steps := 0
		for cur := n; cur != nil && cur.ParentID.IsValid(); cur = c.db.GetNode(cur.ParentID) {
			if steps++; steps > len(nodes) {
				c.fail("node %q is its own ancestor", n.Name)
				break
			}
		}
	}
}

func (c *sceneChecker) checkBones() {
	for i, b := range c.db.Bones() {
		if int(b.ID) != i {
			c.fail("bone %q id %d at position %d", b.Name, b.ID, i)
		}
		if b.ParentID.IsValid() && c.db.GetBone(b.ParentID) == nil {
			c.fail("bone %q parent %d", b.Name, b.ParentID)
		}
		for _, id := range b.ChildIDs {
			if c.db.GetBone(id) == nil {
				c.fail("bone %q child %d", b.Name, id)
			}
		}
	}
}

func (c *sceneChecker) checkMaterials() {
	for i, m := range c.db.Materials() {
		if int(m.ID) != i {
			c.fail("material %q id %d at position %d", m.Name, m.ID, i)
		}
		for slot, id := range m.Textures {
			if id.IsValid() && c.db.GetTexture(id) == nil {
				c.fail("material %q %s texture %d", m.Name, cdasset.MaterialTextureType(slot), id)
			}
		}
	}
	for i, t := range c.db.Textures() {
		if int(t.ID) != i {
			c.fail("texture %q id %d at position %d", t.Name, t.ID, i)
		}
	}
}

func (c *sceneChecker) checkAnimations() {
	for _, a := range c.db.Animations() {
		for _, id := range a.TrackIDs {
			if c.db.GetTrack(id) == nil {
				c.fail("animation %q track %d", a.Name, id)
			}
		}
	}
}

// checkMesh returns the number of degenerate polygons.
func (c *sceneChecker) checkMesh(m *cdasset.Mesh) int {
	if m.IsDirty() {
		c.fail("mesh %q: %v", m.Name(), cdasset.ErrDirtyMesh)
		return 0
	}
	if err := m.Validate(); err != nil {
		c.fail("mesh %q: %v", m.Name(), err)
		return 0
	}
	if id := m.MaterialID(); id.IsValid() && c.db.GetMaterial(id) == nil {
		c.fail("mesh %q material %d", m.Name(), id)
	}

	pos := m.VertexPositions()
	for i, p := range pos {
		if !finite(p[0]) || !finite(p[1]) || !finite(p[2]) {
			c.fail("mesh %q vertex %d position %v", m.Name(), i, p)
			return 0
		}
	}

	bones := uint32(len(c.db.Bones()))
	for layer := uint32(0); layer < m.VertexInfluenceCount(); layer++ {
		weights := m.VertexWeights(layer)
		for i, id := range m.VertexBoneIDs(layer) {
			if weights[i] > 0 && uint32(id) >= bones {
				c.fail("mesh %q vertex %d bone %d", m.Name(), i, id)
				return 0
			}
		}
	}

	degenerate := 0
	for _, poly := range m.Polygons() {
		if triangleArea(pos[poly[0]], pos[poly[1]], pos[poly[2]]) < degenerateArea {
			degenerate++
		}
	}
	return degenerate
}

func triangleArea(a, b, c cdasset.Point) float64 {
	pa, pb, pc := toR3(a), toR3(b), toR3(c)
	return r3.Norm(r3.Cross(r3.Sub(pb, pa), r3.Sub(pc, pa))) / 2
}

func toR3(p cdasset.Point) r3.Vec {
	return r3.Vec{X: float64(p[0]), Y: float64(p[1]), Z: float64(p[2])}
}

func finite(f float32) bool {
	return !math.IsNaN(float64(f)) && !math.IsInf(float64(f), 0)
}
