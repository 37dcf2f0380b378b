package cdasset

import (
	"fmt"
	"slices"
)

// Morph is a blend-shape target holding per-vertex deltas for its mesh.
type Morph struct {
	id         MorphID
	name       string
	weight     float32
	positions  []Point
	normals    []Direction
	tangents   []Direction
	bitangents []Direction
}

func newMorph(id MorphID, name string, vertexCount uint32) *Morph {
	return &Morph{
		id:         id,
		name:       name,
		positions:  make([]Point, vertexCount),
		normals:    make([]Direction, vertexCount),
		tangents:   make([]Direction, vertexCount),
		bitangents: make([]Direction, vertexCount),
	}
}

func (mt *Morph) ID() MorphID { return mt.id }

func (mt *Morph) Name() string { return mt.name }

func (mt *Morph) Weight() float32 { return mt.weight }

func (mt *Morph) SetWeight(w float32) { mt.weight = w }

func (mt *Morph) PositionDeltas() []Point { return mt.positions }

func (mt *Morph) NormalDeltas() []Direction { return mt.normals }

func (mt *Morph) SetPositionDelta(index uint32, d Point) error {
	if int(index) >= len(mt.positions) {
		return fmt.Errorf("morph %q vertex %d: %w", mt.name, index, ErrOutOfRange)
	}
	mt.positions[index] = d
	return nil
}

func (mt *Morph) SetNormalDelta(index uint32, d Direction) error {
	if int(index) >= len(mt.normals) {
		return fmt.Errorf("morph %q vertex %d: %w", mt.name, index, ErrOutOfRange)
	}
	mt.normals[index] = d
	return nil
}

func (mt *Morph) visitArrays(visit func(slotArray)) {
	visit(slots[Point]{&mt.positions})
	visit(slots[Direction]{&mt.normals})
	visit(slots[Direction]{&mt.tangents})
	visit(slots[Direction]{&mt.bitangents})
}

func (mt *Morph) clone() *Morph {
	c := *mt
	c.positions = slices.Clone(mt.positions)
	c.normals = slices.Clone(mt.normals)
	c.tangents = slices.Clone(mt.tangents)
	c.bitangents = slices.Clone(mt.bitangents)
	return &c
}

func MorphMarshal(oa *OutputArchive, mt *Morph) error {
	if err := oa.WriteString(mt.name); err != nil {
		return err
	}
	if err := oa.WriteUint32(uint32(mt.id)); err != nil {
		return err
	}
	if err := oa.WriteFloat32(mt.weight); err != nil {
		return err
	}
	if err := ExportBuffer(oa, mt.positions); err != nil {
		return err
	}
	if err := ExportBuffer(oa, mt.normals); err != nil {
		return err
	}
	if err := ExportBuffer(oa, mt.tangents); err != nil {
		return err
	}
	return ExportBuffer(oa, mt.bitangents)
}

func MorphUnMarshal(ia *InputArchive, vertexCount uint32) (*Morph, error) {
	name, err := ia.ReadString()
	if err != nil {
		return nil, err
	}
	id, err := ia.ReadUint32()
	if err != nil {
		return nil, err
	}
	mt := &Morph{id: MorphID(id), name: name}
	if mt.weight, err = ia.ReadFloat32(); err != nil {
		return nil, err
	}
	if mt.positions, err = importExact[Point](ia, vertexCount); err != nil {
		return nil, fmt.Errorf("morph %q positions: %w", name, err)
	}
	if mt.normals, err = importExact[Direction](ia, vertexCount); err != nil {
		return nil, fmt.Errorf("morph %q normals: %w", name, err)
	}
	if mt.tangents, err = importExact[Direction](ia, vertexCount); err != nil {
		return nil, fmt.Errorf("morph %q tangents: %w", name, err)
	}
	if mt.bitangents, err = importExact[Direction](ia, vertexCount); err != nil {
		return nil, fmt.Errorf("morph %q bitangents: %w", name, err)
	}
	return mt, nil
}
