package cdasset

import (
	"errors"
	"fmt"
	"io"
)

var ErrDirtyMesh = errors.New("mesh has pending edits, call Unify first")

// MaxMeshElementCount bounds vertex and polygon counts accepted from an archive.
const MaxMeshElementCount = 1 << 28

// MeshMarshal writes the mesh record without its morphs. Dirty meshes are
// rejected with ErrDirtyMesh.
func MeshMarshal(oa *OutputArchive, m *Mesh) error {
	if m.IsDirty() {
		return fmt.Errorf("marshal mesh %d: %w", m.id, ErrDirtyMesh)
	}
	if err := oa.WriteString(m.name); err != nil {
		return err
	}
	for _, v := range []uint32{
		uint32(m.id), uint32(m.materialID),
		m.vertexCount, m.uvSetCount, m.colorSetCount, m.influenceCount, m.polygonCount,
	} {
		if err := oa.WriteUint32(v); err != nil {
			return err
		}
	}
	if err := oa.Write(&m.aabb); err != nil {
		return err
	}
	if err := VertexFormatMarshal(oa, &m.format); err != nil {
		return err
	}
	if err := ExportBuffer(oa, m.positions); err != nil {
		return err
	}
	if err := ExportBuffer(oa, m.normals); err != nil {
		return err
	}
	if err := ExportBuffer(oa, m.tangents); err != nil {
		return err
	}
	if err := ExportBuffer(oa, m.bitangents); err != nil {
		return err
	}
	for i := uint32(0); i < m.uvSetCount; i++ {
		if err := ExportBuffer(oa, m.uvSets[i]); err != nil {
			return err
		}
	}
	for i := uint32(0); i < m.colorSetCount; i++ {
		if err := ExportBuffer(oa, m.colorSets[i]); err != nil {
			return err
		}
	}
	for i := uint32(0); i < m.influenceCount; i++ {
		if err := ExportBuffer(oa, m.boneIDs[i]); err != nil {
			return err
		}
		if err := ExportBuffer(oa, m.weights[i]); err != nil {
			return err
		}
	}
	return ExportBuffer(oa, m.polygons)
}

// importExact reads a buffer that must hold exactly n records. Memory grows
// with the bytes actually read, not with the stored count.
func importExact[T any](ia *InputArchive, n uint32) ([]T, error) {
	out, err := ImportSlice[T](ia, n)
	if err != nil {
		return nil, err
	}
	if uint32(len(out)) != n {
		return nil, fmt.Errorf("buffer holds %d records, want %d: %w", len(out), n, ErrCorruptArchive)
	}
	if out == nil {
		out = []T{}
	}
	return out, nil
}

// MeshUnMarshal decodes a mesh; on error no partially filled mesh is returned.
func MeshUnMarshal(ia *InputArchive) (*Mesh, error) {
	name, err := ia.ReadString()
	if err != nil {
		return nil, err
	}
	var hdr [7]uint32
	for i := range hdr {
		if hdr[i], err = ia.ReadUint32(); err != nil {
			return nil, fmt.Errorf("mesh %q header: %w", name, err)
		}
	}
	vertexCount, uvSets, colorSets, influences, polygonCount := hdr[2], hdr[3], hdr[4], hdr[5], hdr[6]
	if vertexCount > MaxMeshElementCount || polygonCount > MaxMeshElementCount {
		return nil, fmt.Errorf("mesh %q counts %d/%d: %w", name, vertexCount, polygonCount, ErrCorruptArchive)
	}
	if uvSets > MaxUVSetCount || colorSets > MaxColorSetCount || influences > MaxBoneInfluenceCount {
		return nil, fmt.Errorf("mesh %q set counts %d/%d/%d: %w: %w",
			name, uvSets, colorSets, influences, ErrCorruptArchive, ErrSetCountExceeded)
	}

	m := &Mesh{
		id:             MeshID(hdr[0]),
		name:           name,
		materialID:     MaterialID(hdr[1]),
		vertexCount:    vertexCount,
		polygonCount:   polygonCount,
		uvSetCount:     uvSets,
		colorSetCount:  colorSets,
		influenceCount: influences,
	}
	if err := ia.Read(&m.aabb); err != nil {
		return nil, err
	}
	format, err := VertexFormatUnMarshal(ia)
	if err != nil {
		return nil, fmt.Errorf("mesh %q vertex format: %w", name, err)
	}

	wrap := func(what string, err error) error {
		return fmt.Errorf("mesh %q %s: %w", name, what, err)
	}
	if m.positions, err = importExact[Point](ia, vertexCount); err != nil {
		return nil, wrap("positions", err)
	}
	if m.normals, err = importExact[Direction](ia, vertexCount); err != nil {
		return nil, wrap("normals", err)
	}
	if m.tangents, err = importExact[Direction](ia, vertexCount); err != nil {
		return nil, wrap("tangents", err)
	}
	if m.bitangents, err = importExact[Direction](ia, vertexCount); err != nil {
		return nil, wrap("bitangents", err)
	}
	for i := uint32(0); i < uvSets; i++ {
		if m.uvSets[i], err = importExact[UV](ia, vertexCount); err != nil {
			return nil, wrap(fmt.Sprintf("uv set %d", i), err)
		}
	}
	for i := uint32(0); i < colorSets; i++ {
		if m.colorSets[i], err = importExact[Color](ia, vertexCount); err != nil {
			return nil, wrap(fmt.Sprintf("color set %d", i), err)
		}
	}
	for i := uint32(0); i < influences; i++ {
		if m.boneIDs[i], err = importExact[BoneID](ia, vertexCount); err != nil {
			return nil, wrap(fmt.Sprintf("bone ids %d", i), err)
		}
		if m.weights[i], err = importExact[VertexWeight](ia, vertexCount); err != nil {
			return nil, wrap(fmt.Sprintf("weights %d", i), err)
		}
	}
	if m.polygons, err = importExact[Polygon](ia, polygonCount); err != nil {
		return nil, wrap("polygons", err)
	}

	if format.Contains(VERTEX_ATTRIBUTE_NORMAL) {
		m.present |= attrNormal
	}
	if format.Contains(VERTEX_ATTRIBUTE_TANGENT) {
		m.present |= attrTangent
	}
	if format.Contains(VERTEX_ATTRIBUTE_BITANGENT) {
		m.present |= attrBiTangent
	}
	m.refreshVertexFormat()
	if !m.format.Equal(format) {
		return nil, fmt.Errorf("mesh %q vertex format disagrees with set counts: %w", name, ErrCorruptArchive)
	}
	return m, nil
}

// MeshWriteTo writes a single mesh in host byte order.
func MeshWriteTo(m *Mesh, wt io.Writer) error {
	return MeshMarshal(NewOutputArchive(wt), m)
}

// MeshReadFrom reads a single mesh written by MeshWriteTo.
func MeshReadFrom(rd io.Reader) (*Mesh, error) {
	return MeshUnMarshal(NewInputArchive(rd))
}
