package cdasset

import (
	"fmt"

	"github.com/flywave/go3d/mat4"
)

type Bone struct {
	ID       BoneID   `yaml:"id"`
	Name     string   `yaml:"name"`
	ParentID BoneID   `yaml:"parent"`
	ChildIDs []BoneID `yaml:"children,omitempty"`
	// Offset maps mesh space into bone space.
	Offset    mat4.T    `yaml:"-"`
	Transform Transform `yaml:"-"`
}

func NewBone(id BoneID, name string) *Bone {
	return &Bone{ID: id, Name: name, ParentID: BoneID(InvalidID), Offset: mat4.Ident, Transform: IdentityTransform()}
}

func (b *Bone) AddChildID(id BoneID) { b.ChildIDs = append(b.ChildIDs, id) }

func BoneMarshal(oa *OutputArchive, b *Bone) error {
	if err := oa.WriteUint32(uint32(b.ID)); err != nil {
		return err
	}
	if err := oa.WriteString(b.Name); err != nil {
		return err
	}
	if err := oa.WriteUint32(uint32(b.ParentID)); err != nil {
		return err
	}
	if err := ExportBuffer(oa, b.ChildIDs); err != nil {
		return err
	}
	if err := oa.Write(&b.Offset); err != nil {
		return err
	}
	return oa.Write(&b.Transform)
}

func BoneUnMarshal(ia *InputArchive) (*Bone, error) {
	id, err := ia.ReadUint32()
	if err != nil {
		return nil, err
	}
	b := &Bone{ID: BoneID(id)}
	if b.Name, err = ia.ReadString(); err != nil {
		return nil, err
	}
	parent, err := ia.ReadUint32()
	if err != nil {
		return nil, err
	}
	b.ParentID = BoneID(parent)
	if b.ChildIDs, err = ImportSlice[BoneID](ia, maxCollectionSize); err != nil {
		return nil, fmt.Errorf("bone %q children: %w", b.Name, err)
	}
	if err := ia.Read(&b.Offset); err != nil {
		return nil, err
	}
	if err := ia.Read(&b.Transform); err != nil {
		return nil, err
	}
	return b, nil
}
