package cdasset

import (
	"fmt"

	"github.com/flywave/go3d/mat4"
	"github.com/flywave/go3d/quaternion"
	"github.com/flywave/go3d/vec3"
)

// Transform is a translation, rotation, scale triple applied scale first.
type Transform struct {
	Translation vec3.T
	Rotation    quaternion.T
	Scale       vec3.T
}

func IdentityTransform() Transform {
	return Transform{Rotation: quaternion.Ident, Scale: vec3.T{1, 1, 1}}
}

func (t *Transform) IsIdentity() bool {
	id := IdentityTransform()
	return NearlyEqualSlice(t.Translation[:], id.Translation[:]) &&
		NearlyEqualSlice(t.Rotation[:], id.Rotation[:]) &&
		NearlyEqualSlice(t.Scale[:], id.Scale[:])
}

// Matrix composes T * R * S as a column major mat4.
func (t *Transform) Matrix() mat4.T {
	m := mat4.Ident
	q := t.Rotation
	m.AssignQuaternion(&q)
	for c := 0; c < 3; c++ {
		for r := 0; r < 3; r++ {
			m[c][r] *= t.Scale[c]
		}
	}
	m[3] = [4]float32{t.Translation[0], t.Translation[1], t.Translation[2], 1}
	return m
}

type Node struct {
	ID        NodeID     `yaml:"id"`
	Name      string     `yaml:"name"`
	ParentID  NodeID     `yaml:"parent"`
	ChildIDs  []NodeID   `yaml:"children,omitempty"`
	MeshIDs   []MeshID   `yaml:"meshes,omitempty"`
	Transform Transform  `yaml:"-"`
	Props     Properties `yaml:"-"`
}

func NewNode(id NodeID, name string) *Node {
	return &Node{ID: id, Name: name, ParentID: NodeID(InvalidID), Transform: IdentityTransform()}
}

func (n *Node) AddChildID(id NodeID) { n.ChildIDs = append(n.ChildIDs, id) }

func (n *Node) AddMeshID(id MeshID) { n.MeshIDs = append(n.MeshIDs, id) }

func (n *Node) LocalMatrix() mat4.T { return n.Transform.Matrix() }

func NodeMarshal(oa *OutputArchive, n *Node) error {
	if err := oa.WriteUint32(uint32(n.ID)); err != nil {
		return err
	}
	if err := oa.WriteString(n.Name); err != nil {
		return err
	}
	if err := oa.WriteUint32(uint32(n.ParentID)); err != nil {
		return err
	}
	if err := ExportBuffer(oa, n.ChildIDs); err != nil {
		return err
	}
	if err := ExportBuffer(oa, n.MeshIDs); err != nil {
		return err
	}
	if err := oa.Write(&n.Transform); err != nil {
		return err
	}
	return PropertiesMarshal(oa, n.Props)
}

func NodeUnMarshal(ia *InputArchive) (*Node, error) {
	id, err := ia.ReadUint32()
	if err != nil {
		return nil, err
	}
	n := &Node{ID: NodeID(id)}
	if n.Name, err = ia.ReadString(); err != nil {
		return nil, err
	}
	parent, err := ia.ReadUint32()
	if err != nil {
		return nil, err
	}
	n.ParentID = NodeID(parent)
	if n.ChildIDs, err = ImportSlice[NodeID](ia, maxCollectionSize); err != nil {
		return nil, fmt.Errorf("node %q children: %w", n.Name, err)
	}
	if n.MeshIDs, err = ImportSlice[MeshID](ia, maxCollectionSize); err != nil {
		return nil, fmt.Errorf("node %q meshes: %w", n.Name, err)
	}
	if err := ia.Read(&n.Transform); err != nil {
		return nil, err
	}
	props, err := PropertiesUnMarshal(ia)
	if err != nil {
		return nil, fmt.Errorf("node %q: %w", n.Name, err)
	}
	if len(props) > 0 {
		n.Props = props
	}
	return n, nil
}
