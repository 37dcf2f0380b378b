package cdasset

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

var ErrBadSignature = errors.New("not a scene database archive")

// SceneDatabaseMarshal writes the header and every collection. The order byte
// after the signature tells readers which byte order follows.
func SceneDatabaseMarshal(wt io.Writer, db *SceneDatabase, order binary.ByteOrder) error {
	if _, err := io.WriteString(wt, SCENE_SIGNATURE); err != nil {
		return archiveError("write signature", err)
	}
	oa := NewOutputArchiveWithOrder(wt, order)
	marker := BYTE_ORDER_LITTLE
	if oa.ByteOrder() == binary.ByteOrder(binary.BigEndian) {
		marker = BYTE_ORDER_BIG
	}
	if err := oa.WriteUint8(marker); err != nil {
		return err
	}
	if err := oa.WriteUint32(CurrentVersion); err != nil {
		return err
	}
	if err := oa.WriteString(db.Name); err != nil {
		return err
	}
	if err := oa.Write(&db.AABB); err != nil {
		return err
	}
	if err := marshalCollection(oa, "node", db.nodes, NodeMarshal); err != nil {
		return err
	}
	if err := marshalCollection(oa, "mesh", db.meshes, meshWithMorphsMarshal); err != nil {
		return err
	}
	if err := marshalCollection(oa, "material", db.materials, MaterialMarshal); err != nil {
		return err
	}
	if err := marshalCollection(oa, "texture", db.textures, TextureMarshal); err != nil {
		return err
	}
	if err := marshalCollection(oa, "light", db.lights, LightMarshal); err != nil {
		return err
	}
	if err := marshalCollection(oa, "bone", db.bones, BoneMarshal); err != nil {
		return err
	}
	if err := marshalCollection(oa, "animation", db.animations, AnimationMarshal); err != nil {
		return err
	}
	return marshalCollection(oa, "track", db.tracks, TrackMarshal)
}

func marshalCollection[T any](oa *OutputArchive, what string, items []*T, fn func(*OutputArchive, *T) error) error {
	if err := oa.WriteUint32(uint32(len(items))); err != nil {
		return err
	}
	for i, it := range items {
		if err := fn(oa, it); err != nil {
			return fmt.Errorf("%s %d: %w", what, i, err)
		}
	}
	return nil
}

func unmarshalCollection[T any](ia *InputArchive, what string, fn func(*InputArchive) (*T, error), id func(*T) uint32) ([]*T, error) {
	n, err := ia.ReadCount(maxCollectionSize)
	if err != nil {
		return nil, fmt.Errorf("%s count: %w", what, err)
	}
	var items []*T
	for i := uint32(0); i < n; i++ {
		it, err := fn(ia)
		if err != nil {
			return nil, fmt.Errorf("%s %d: %w", what, i, err)
		}
		if got := id(it); got != i {
			return nil, fmt.Errorf("%s %d stored with id %d: %w", what, i, got, ErrCorruptArchive)
		}
		items = append(items, it)
	}
	return items, nil
}

func meshWithMorphsMarshal(oa *OutputArchive, m *Mesh) error {
	if err := MeshMarshal(oa, m); err != nil {
		return err
	}
	if err := oa.WriteUint32(uint32(len(m.morphs))); err != nil {
		return err
	}
	for _, mt := range m.morphs {
		if err := MorphMarshal(oa, mt); err != nil {
			return err
		}
	}
	return nil
}

func meshWithMorphsUnMarshal(ia *InputArchive) (*Mesh, error) {
	m, err := MeshUnMarshal(ia)
	if err != nil {
		return nil, err
	}
	n, err := ia.ReadCount(maxCollectionSize)
	if err != nil {
		return nil, fmt.Errorf("mesh %q morph count: %w", m.name, err)
	}
	for i := uint32(0); i < n; i++ {
		mt, err := MorphUnMarshal(ia, m.vertexCount)
		if err != nil {
			return nil, fmt.Errorf("mesh %q morph %d: %w", m.name, i, err)
		}
		m.morphs = append(m.morphs, mt)
	}
	return m, nil
}

// SceneDatabaseUnMarshal reads an archive written in either byte order.
func SceneDatabaseUnMarshal(rd io.Reader) (*SceneDatabase, error) {
	var hdr [5]byte
	if _, err := io.ReadFull(rd, hdr[:]); err != nil {
		return nil, archiveError("read header", err)
	}
	if string(hdr[:4]) != SCENE_SIGNATURE {
		return nil, fmt.Errorf("signature %q: %w", hdr[:4], ErrBadSignature)
	}
	var order binary.ByteOrder
	switch hdr[4] {
	case BYTE_ORDER_LITTLE:
		order = binary.LittleEndian
	case BYTE_ORDER_BIG:
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("byte order marker %d: %w", hdr[4], ErrCorruptArchive)
	}
	ia := NewInputArchiveWithOrder(rd, order)
	version, err := ia.ReadUint32()
	if err != nil {
		return nil, err
	}
	if version < V1 || version > CurrentVersion {
		return nil, fmt.Errorf("version %d: %w", version, ErrCorruptArchive)
	}
	db := &SceneDatabase{}
	if db.Name, err = ia.ReadString(); err != nil {
		return nil, err
	}
	if err := ia.Read(&db.AABB); err != nil {
		return nil, err
	}
	if db.nodes, err = unmarshalCollection(ia, "node", NodeUnMarshal, func(n *Node) uint32 { return uint32(n.ID) }); err != nil {
		return nil, err
	}
	if db.meshes, err = unmarshalCollection(ia, "mesh", meshWithMorphsUnMarshal, func(m *Mesh) uint32 { return uint32(m.id) }); err != nil {
		return nil, err
	}
	if db.materials, err = unmarshalCollection(ia, "material", MaterialUnMarshal, func(m *Material) uint32 { return uint32(m.ID) }); err != nil {
		return nil, err
	}
	if db.textures, err = unmarshalCollection(ia, "texture", TextureUnMarshal, func(t *Texture) uint32 { return uint32(t.ID) }); err != nil {
		return nil, err
	}
	if db.lights, err = unmarshalCollection(ia, "light", LightUnMarshal, func(l *Light) uint32 { return uint32(l.ID) }); err != nil {
		return nil, err
	}
	if db.bones, err = unmarshalCollection(ia, "bone", BoneUnMarshal, func(b *Bone) uint32 { return uint32(b.ID) }); err != nil {
		return nil, err
	}
	if db.animations, err = unmarshalCollection(ia, "animation", AnimationUnMarshal, func(a *Animation) uint32 { return uint32(a.ID) }); err != nil {
		return nil, err
	}
	if db.tracks, err = unmarshalCollection(ia, "track", TrackUnMarshal, func(t *Track) uint32 { return uint32(t.ID) }); err != nil {
		return nil, err
	}
	return db, nil
}

func SceneDatabaseReadFrom(path string) (*SceneDatabase, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return SceneDatabaseUnMarshal(bufio.NewReader(f))
}

func SceneDatabaseWriteTo(path string, db *SceneDatabase, order binary.ByteOrder) error {
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	if err := SceneDatabaseMarshal(bw, db, order); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
