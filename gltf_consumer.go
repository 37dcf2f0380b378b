package cdasset

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/flywave/go3d/vec3"
	"github.com/qmuntal/gltf"
	"go.uber.org/zap"
)

const (
	GLTF_VERSION = "2.0"
	// GLB_PADDING aligns the whole binary output.
	GLB_PADDING = 4

	extTextureWebp = "EXT_texture_webp"
)

var identityMatrix = [16]float32{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}

var ErrTooManyBones = errors.New("bone index does not fit a gltf joint")

func CreateDoc() *gltf.Document {
	doc := &gltf.Document{}
	doc.Asset.Version = GLTF_VERSION
	doc.Asset.Generator = "go-cdasset"
	srcIndex := uint32(0)
	doc.Scene = &srcIndex
	doc.Scenes = append(doc.Scenes, &gltf.Scene{})
	doc.Buffers = append(doc.Buffers, &gltf.Buffer{})
	return doc
}

type calcSizeWriter struct {
	writer *bytes.Buffer
	Size   int
}

func (w *calcSizeWriter) Write(p []byte) (n int, err error) {
	n, err = w.writer.Write(p)
	w.Size += n
	return n, err
}

func (w *calcSizeWriter) Bytes() []byte { return w.writer.Bytes() }

func calcPadding(offset, paddingUnit int) int {
	padding := offset % paddingUnit
	if padding != 0 {
		padding = paddingUnit - padding
	}
	return padding
}

// GetGltfBinary encodes doc as GLB padded with spaces to a multiple of paddingUnit.
func GetGltfBinary(doc *gltf.Document, paddingUnit int) ([]byte, error) {
	w := &calcSizeWriter{writer: &bytes.Buffer{}}
	enc := gltf.NewEncoder(w)
	enc.AsBinary = true
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	padding := calcPadding(w.Size, paddingUnit)
	if padding == 0 {
		return w.Bytes(), nil
	}
	if _, err := w.Write(bytes.Repeat([]byte{0x20}, padding)); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// GltfConsumer exports a scene database as .glb or .gltf, chosen by extension.
type GltfConsumer struct {
	Path string
	// TextureDir receives embedded textures as image files referenced by URI.
	// Empty keeps them inside the buffer as PNG.
	TextureDir string
	// TextureFormat is "png" or "webp" and only applies with TextureDir.
	TextureFormat string

	log *zap.Logger
}

func NewGltfConsumer(path string, log *zap.Logger) *GltfConsumer {
	if log == nil {
		log = zap.NewNop()
	}
	return &GltfConsumer{Path: path, TextureFormat: "png", log: log}
}

func (g *GltfConsumer) Execute(db *SceneDatabase) error {
	doc, err := g.SceneToGltf(db)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(g.Path), os.ModePerm); err != nil {
		return err
	}
	var data []byte
	if strings.EqualFold(filepath.Ext(g.Path), ".gltf") {
		buf := doc.Buffers[0]
		buf.URI = "data:application/octet-stream;base64," + base64.StdEncoding.EncodeToString(buf.Data)
		var out bytes.Buffer
		enc := gltf.NewEncoder(&out)
		enc.AsBinary = false
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encode %s: %w", g.Path, err)
		}
		data = out.Bytes()
	} else if data, err = GetGltfBinary(doc, GLB_PADDING); err != nil {
		return fmt.Errorf("encode %s: %w", g.Path, err)
	}
	if err := os.WriteFile(g.Path, data, 0o644); err != nil {
		return err
	}
	g.log.Info("gltf written",
		zap.String("path", g.Path),
		zap.Int("bytes", len(data)),
		zap.Int("meshes", len(doc.Meshes)),
		zap.Int("nodes", len(doc.Nodes)))
	return nil
}

type gltfExport struct {
	*GltfConsumer
	doc      *gltf.Document
	db       *SceneDatabase
	buffer   *gltf.Buffer
	textures map[TextureID]uint32
	// meshSkinned records gltf meshes carrying JOINTS attributes
	meshSkinned map[uint32]bool
	skin        *uint32
}

// SceneToGltf builds the document in memory without touching the output path,
// except for texture files when TextureDir is set.
func (g *GltfConsumer) SceneToGltf(db *SceneDatabase) (*gltf.Document, error) {
	doc := CreateDoc()
	ex := &gltfExport{
		GltfConsumer: g,
		doc:          doc,
		db:           db,
		buffer:       doc.Buffers[0],
		textures:     make(map[TextureID]uint32),
		meshSkinned:  make(map[uint32]bool),
	}
	if g.log == nil {
		g.log = zap.NewNop()
	}
	for _, t := range db.Textures() {
		if err := ex.exportTexture(t); err != nil {
			g.log.Warn("texture not exported", zap.String("texture", t.Name), zap.Error(err))
		}
	}
	for _, m := range db.Materials() {
		ex.exportMaterial(m)
	}
	for _, m := range db.Meshes() {
		if err := ex.exportMesh(m); err != nil {
			return nil, fmt.Errorf("mesh %q: %w", m.Name(), err)
		}
	}
	if len(ex.meshSkinned) > 0 && len(db.Bones()) > 0 {
		ex.exportSkin()
	}
	ex.exportNodes()
	if len(doc.Samplers) == 0 {
		doc.Samplers = nil
	}
	return doc, nil
}

// appendView adds data to the shared buffer as a new 4 byte aligned view.
func (ex *gltfExport) appendView(data []byte, target gltf.Target) uint32 {
	if pad := calcPadding(len(ex.buffer.Data), 4); pad > 0 {
		ex.buffer.Data = append(ex.buffer.Data, make([]byte, pad)...)
	}
	view := &gltf.BufferView{
		Buffer:     0,
		ByteOffset: uint32(len(ex.buffer.Data)),
		ByteLength: uint32(len(data)),
		Target:     target,
	}
	ex.buffer.Data = append(ex.buffer.Data, data...)
	ex.buffer.ByteLength = uint32(len(ex.buffer.Data))
	ex.doc.BufferViews = append(ex.doc.BufferViews, view)
	return uint32(len(ex.doc.BufferViews) - 1)
}

func (ex *gltfExport) appendAccessor(data interface{}, count int, ct gltf.ComponentType, at gltf.AccessorType, target gltf.Target) (uint32, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, data); err != nil {
		return 0, err
	}
	view := ex.appendView(buf.Bytes(), target)
	ex.doc.Accessors = append(ex.doc.Accessors, &gltf.Accessor{
		BufferView:    uint32Ptr(view),
		ComponentType: ct,
		Count:         uint32(count),
		Type:          at,
	})
	return uint32(len(ex.doc.Accessors) - 1), nil
}

func (ex *gltfExport) exportTexture(t *Texture) error {
	img := &gltf.Image{Name: t.Name}
	switch {
	case t.IsEmbedded() && ex.TextureDir != "":
		if err := ex.writeTextureFile(t, img); err != nil {
			return err
		}
	case t.IsEmbedded():
		var buf bytes.Buffer
		if err := EncodeTexture(&buf, t, "png"); err != nil {
			return err
		}
		img.MimeType = "image/png"
		img.BufferView = uint32Ptr(ex.appendView(buf.Bytes(), gltf.TargetNone))
	case t.Path != "":
		img.URI = ex.relativeURI(t.Path)
	default:
		return fmt.Errorf("texture %q has neither data nor path", t.Name)
	}

	wrap := gltf.WrapClampToEdge
	if t.Repeated {
		wrap = gltf.WrapRepeat
	}
	ex.doc.Samplers = append(ex.doc.Samplers, &gltf.Sampler{WrapS: wrap, WrapT: wrap})
	ex.doc.Images = append(ex.doc.Images, img)
	imgIdx := uint32(len(ex.doc.Images) - 1)
	tx := &gltf.Texture{Sampler: uint32Ptr(uint32(len(ex.doc.Samplers) - 1))}
	if img.MimeType == "image/webp" {
		tx.Extensions = gltf.Extensions{extTextureWebp: map[string]interface{}{"source": imgIdx}}
		ex.useExtension(extTextureWebp)
	} else {
		tx.Source = uint32Ptr(imgIdx)
	}
	ex.doc.Textures = append(ex.doc.Textures, tx)
	ex.textures[t.ID] = uint32(len(ex.doc.Textures) - 1)
	return nil
}

func (ex *gltfExport) writeTextureFile(t *Texture, img *gltf.Image) error {
	format := ex.TextureFormat
	if format == "" {
		format = "png"
	}
	name := strings.TrimSuffix(filepath.Base(t.Name), filepath.Ext(t.Name))
	if name == "" || name == "." {
		name = fmt.Sprintf("texture_%d", t.ID)
	}
	path := filepath.Join(ex.TextureDir, fmt.Sprintf("%s_%d.%s", name, t.ID, format))
	if err := os.MkdirAll(ex.TextureDir, os.ModePerm); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := EncodeTexture(f, t, format); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	img.MimeType = "image/" + format
	img.URI = ex.relativeURI(path)
	return nil
}

func (ex *gltfExport) relativeURI(path string) string {
	if rel, err := filepath.Rel(filepath.Dir(ex.Path), path); err == nil {
		path = rel
	}
	return filepath.ToSlash(path)
}

func (ex *gltfExport) useExtension(name string) {
	for _, e := range ex.doc.ExtensionsUsed {
		if e == name {
			return
		}
	}
	ex.doc.ExtensionsUsed = append(ex.doc.ExtensionsUsed, name)
}

func (ex *gltfExport) textureInfo(id TextureID) (uint32, bool) {
	if !id.IsValid() {
		return 0, false
	}
	idx, ok := ex.textures[id]
	return idx, ok
}

func (ex *gltfExport) exportMaterial(m *Material) {
	base := [4]float32(m.BaseColor)
	base[3] *= m.Opacity
	metallic := m.Metallic
	roughness := m.Roughness
	gm := &gltf.Material{
		Name:        m.Name,
		DoubleSided: m.DoubleSided,
		PBRMetallicRoughness: &gltf.PBRMetallicRoughness{
			BaseColorFactor: &base,
			MetallicFactor:  &metallic,
			RoughnessFactor: &roughness,
		},
		EmissiveFactor: [3]float32(m.Emissive),
	}
	if m.IsTransparent() {
		gm.AlphaMode = gltf.AlphaBlend
	}
	pbr := gm.PBRMetallicRoughness
	if idx, ok := ex.textureInfo(m.GetTexture(MATERIAL_TEXTURE_BASE_COLOR)); ok {
		pbr.BaseColorTexture = &gltf.TextureInfo{Index: idx}
	}
	mr := m.GetTexture(MATERIAL_TEXTURE_METALLIC)
	if !mr.IsValid() {
		mr = m.GetTexture(MATERIAL_TEXTURE_ROUGHNESS)
	}
	if idx, ok := ex.textureInfo(mr); ok {
		pbr.MetallicRoughnessTexture = &gltf.TextureInfo{Index: idx}
	}
	if idx, ok := ex.textureInfo(m.GetTexture(MATERIAL_TEXTURE_NORMAL)); ok {
		gm.NormalTexture = &gltf.NormalTexture{Index: uint32Ptr(idx)}
	}
	if idx, ok := ex.textureInfo(m.GetTexture(MATERIAL_TEXTURE_OCCLUSION)); ok {
		gm.OcclusionTexture = &gltf.OcclusionTexture{Index: uint32Ptr(idx)}
	}
	if idx, ok := ex.textureInfo(m.GetTexture(MATERIAL_TEXTURE_EMISSIVE)); ok {
		gm.EmissiveTexture = &gltf.TextureInfo{Index: idx}
	}
	ex.doc.Materials = append(ex.doc.Materials, gm)
}

func (ex *gltfExport) exportMesh(m *Mesh) error {
	if m.IsDirty() {
		return ErrDirtyMesh
	}
	meshIdx := uint32(len(ex.doc.Meshes))
	gm := &gltf.Mesh{Name: m.Name()}
	prim := &gltf.Primitive{Attributes: make(gltf.Attribute), Mode: gltf.PrimitiveTriangles}
	if m.MaterialID().IsValid() && int(m.MaterialID()) < len(ex.doc.Materials) {
		prim.Material = uint32Ptr(uint32(m.MaterialID()))
	}
	ex.doc.Meshes = append(ex.doc.Meshes, gm)
	gm.Primitives = append(gm.Primitives, prim)
	if m.VertexCount() == 0 {
		return nil
	}

	vc := int(m.VertexCount())
	box := m.ComputeAABB()
	pos, err := ex.appendAccessor(m.positions, vc, gltf.ComponentFloat, gltf.AccessorVec3, gltf.TargetArrayBuffer)
	if err != nil {
		return err
	}
	ex.doc.Accessors[pos].Min = []float32{box.Min[0], box.Min[1], box.Min[2]}
	ex.doc.Accessors[pos].Max = []float32{box.Max[0], box.Max[1], box.Max[2]}
	prim.Attributes["POSITION"] = pos

	format := m.VertexFormat()
	if format.Contains(VERTEX_ATTRIBUTE_NORMAL) {
		if prim.Attributes["NORMAL"], err = ex.appendAccessor(m.normals, vc, gltf.ComponentFloat, gltf.AccessorVec3, gltf.TargetArrayBuffer); err != nil {
			return err
		}
	}
	if format.Contains(VERTEX_ATTRIBUTE_TANGENT) {
		tangents := make([][4]float32, vc)
		for i, t := range m.tangents {
			w := float32(1)
			if format.Contains(VERTEX_ATTRIBUTE_NORMAL) && format.Contains(VERTEX_ATTRIBUTE_BITANGENT) {
				c := vec3.Cross(&m.normals[i], &t)
				if vec3.Dot(&c, &m.bitangents[i]) < 0 {
					w = -1
				}
			}
			tangents[i] = [4]float32{t[0], t[1], t[2], w}
		}
		if prim.Attributes["TANGENT"], err = ex.appendAccessor(tangents, vc, gltf.ComponentFloat, gltf.AccessorVec4, gltf.TargetArrayBuffer); err != nil {
			return err
		}
	}
	for s := uint32(0); s < m.uvSetCount; s++ {
		if prim.Attributes[fmt.Sprintf("TEXCOORD_%d", s)], err = ex.appendAccessor(m.uvSets[s], vc, gltf.ComponentFloat, gltf.AccessorVec2, gltf.TargetArrayBuffer); err != nil {
			return err
		}
	}
	for s := uint32(0); s < m.colorSetCount; s++ {
		if prim.Attributes[fmt.Sprintf("COLOR_%d", s)], err = ex.appendAccessor(m.colorSets[s], vc, gltf.ComponentFloat, gltf.AccessorVec4, gltf.TargetArrayBuffer); err != nil {
			return err
		}
	}
	if m.influenceCount > 0 && len(ex.db.Bones()) > 0 {
		if err := ex.exportWeights(m, prim); err != nil {
			return err
		}
		ex.meshSkinned[meshIdx] = true
	}

	if m.polygonCount > 0 {
		idx, err := ex.appendAccessor(m.polygons, int(m.polygonCount)*3, gltf.ComponentUint, gltf.AccessorScalar, gltf.TargetElementArrayBuffer)
		if err != nil {
			return err
		}
		prim.Indices = uint32Ptr(idx)
	}

	for _, mt := range m.morphs {
		target := make(gltf.Attribute)
		if target["POSITION"], err = ex.appendAccessor(mt.positions, vc, gltf.ComponentFloat, gltf.AccessorVec3, gltf.TargetArrayBuffer); err != nil {
			return err
		}
		ex.setDeltaBounds(target["POSITION"], mt.positions)
		if target["NORMAL"], err = ex.appendAccessor(mt.normals, vc, gltf.ComponentFloat, gltf.AccessorVec3, gltf.TargetArrayBuffer); err != nil {
			return err
		}
		prim.Targets = append(prim.Targets, target)
		gm.Weights = append(gm.Weights, mt.weight)
	}
	return nil
}

// setDeltaBounds fills the min and max required on POSITION accessors of morph targets.
func (ex *gltfExport) setDeltaBounds(acc uint32, deltas []Point) {
	lo := []float32{math.MaxFloat32, math.MaxFloat32, math.MaxFloat32}
	hi := []float32{-math.MaxFloat32, -math.MaxFloat32, -math.MaxFloat32}
	for _, d := range deltas {
		for c := 0; c < 3; c++ {
			lo[c] = min(lo[c], d[c])
			hi[c] = max(hi[c], d[c])
		}
	}
	ex.doc.Accessors[acc].Min = lo
	ex.doc.Accessors[acc].Max = hi
}

func (ex *gltfExport) exportWeights(m *Mesh, prim *gltf.Primitive) error {
	vc := int(m.vertexCount)
	sets := (int(m.influenceCount) + 3) / 4
	for s := 0; s < sets; s++ {
		joints := make([][4]uint16, vc)
		weights := make([][4]float32, vc)
		for c := 0; c < 4; c++ {
			layer := s*4 + c
			if layer >= int(m.influenceCount) {
				break
			}
			for i := 0; i < vc; i++ {
				b := m.boneIDs[layer][i]
				if uint32(b) > math.MaxUint16 {
					return fmt.Errorf("vertex %d bone %d: %w", i, b, ErrTooManyBones)
				}
				joints[i][c] = uint16(b)
				weights[i][c] = m.weights[layer][i]
			}
		}
		var err error
		if prim.Attributes[fmt.Sprintf("JOINTS_%d", s)], err = ex.appendAccessor(joints, vc, gltf.ComponentUshort, gltf.AccessorVec4, gltf.TargetArrayBuffer); err != nil {
			return err
		}
		if prim.Attributes[fmt.Sprintf("WEIGHTS_%d", s)], err = ex.appendAccessor(weights, vc, gltf.ComponentFloat, gltf.AccessorVec4, gltf.TargetArrayBuffer); err != nil {
			return err
		}
	}
	return nil
}

func gltfNode(name string, t *Transform) *gltf.Node {
	return &gltf.Node{
		Name:        name,
		Matrix:      identityMatrix,
		Translation: [3]float32(t.Translation),
		Rotation:    [4]float32(t.Rotation),
		Scale:       [3]float32(t.Scale),
	}
}

// exportSkin turns every bone into a joint node. Joint i is bone i, matching
// the JOINTS attributes written from bone IDs.
func (ex *gltfExport) exportSkin() {
	bones := ex.db.Bones()
	base := uint32(len(ex.doc.Nodes))
	skin := &gltf.Skin{Name: ex.db.Name}
	ibm := make([][16]float32, len(bones))
	for i, b := range bones {
		n := gltfNode(b.Name, &b.Transform)
		for _, c := range b.ChildIDs {
			if int(c) < len(bones) {
				n.Children = append(n.Children, base+uint32(c))
			}
		}
		ex.doc.Nodes = append(ex.doc.Nodes, n)
		skin.Joints = append(skin.Joints, base+uint32(i))
		for c := 0; c < 4; c++ {
			for r := 0; r < 4; r++ {
				ibm[i][c*4+r] = b.Offset[c][r]
			}
		}
		if !b.ParentID.IsValid() {
			ex.doc.Scenes[0].Nodes = append(ex.doc.Scenes[0].Nodes, base+uint32(i))
		}
	}
	if acc, err := ex.appendAccessor(ibm, len(bones), gltf.ComponentFloat, gltf.AccessorMat4, gltf.TargetNone); err == nil {
		skin.InverseBindMatrices = uint32Ptr(acc)
	}
	ex.doc.Skins = append(ex.doc.Skins, skin)
	ex.skin = uint32Ptr(uint32(len(ex.doc.Skins) - 1))
}

func (ex *gltfExport) meshNode(name string, mesh uint32) *gltf.Node {
	n := &gltf.Node{Name: name, Matrix: identityMatrix, Rotation: [4]float32{0, 0, 0, 1}, Scale: [3]float32{1, 1, 1}, Mesh: uint32Ptr(mesh)}
	if ex.meshSkinned[mesh] {
		n.Skin = ex.skin
	}
	return n
}

// exportNodes mirrors the node tree. glTF nodes carry one mesh, so extra meshes of
// a node hang below it as children, and meshes no node references become roots.
func (ex *gltfExport) exportNodes() {
	nodes := ex.db.Nodes()
	index := make([]uint32, len(nodes))
	referenced := make(map[MeshID]bool)
	for i, n := range nodes {
		index[i] = uint32(len(ex.doc.Nodes))
		ex.doc.Nodes = append(ex.doc.Nodes, gltfNode(n.Name, &n.Transform))
		for _, id := range n.MeshIDs {
			referenced[id] = true
		}
	}
	for i, n := range nodes {
		gn := ex.doc.Nodes[index[i]]
		for _, c := range n.ChildIDs {
			if int(c) < len(nodes) {
				gn.Children = append(gn.Children, index[c])
			}
		}
		for k, id := range n.MeshIDs {
			if int(id) >= len(ex.doc.Meshes) {
				continue
			}
			if k == 0 {
				gn.Mesh = uint32Ptr(uint32(id))
				if ex.meshSkinned[uint32(id)] {
					gn.Skin = ex.skin
				}
				continue
			}
			gn.Children = append(gn.Children, uint32(len(ex.doc.Nodes)))
			ex.doc.Nodes = append(ex.doc.Nodes, ex.meshNode(fmt.Sprintf("%s_%d", n.Name, k), uint32(id)))
		}
		if !n.ParentID.IsValid() {
			ex.doc.Scenes[0].Nodes = append(ex.doc.Scenes[0].Nodes, index[i])
		}
	}
	for i, m := range ex.db.Meshes() {
		if referenced[MeshID(i)] {
			continue
		}
		ex.doc.Scenes[0].Nodes = append(ex.doc.Scenes[0].Nodes, uint32(len(ex.doc.Nodes)))
		ex.doc.Nodes = append(ex.doc.Nodes, ex.meshNode(m.Name(), uint32(i)))
	}
}
