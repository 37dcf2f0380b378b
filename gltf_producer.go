package cdasset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/flywave/go3d/mat4"
	"github.com/flywave/go3d/quaternion"
	"github.com/flywave/go3d/vec3"
	"github.com/qmuntal/gltf"
	"go.uber.org/zap"
)

// GltfProducer imports a .gltf or .glb file into a scene database.
type GltfProducer struct {
	Path string
	// ComputeNormals fills normals for primitives that do not carry them.
	ComputeNormals bool
	// ComputeTangents derives tangent space from UV set 0.
	ComputeTangents bool
	// CleanUnused drops degenerate polygons and unreferenced vertices.
	CleanUnused bool

	log *zap.Logger
}

func NewGltfProducer(path string, log *zap.Logger) *GltfProducer {
	if log == nil {
		log = zap.NewNop()
	}
	return &GltfProducer{Path: path, ComputeNormals: true, log: log}
}

type gltfImport struct {
	doc      *gltf.Document
	db       *SceneDatabase
	dir      string
	log      *zap.Logger
	textures map[uint32]TextureID
	defMat   MaterialID
	meshes   map[uint32][]MeshID
	// skinOf maps a gltf mesh to the skin of the first node using it
	skinOf   map[uint32]uint32
	boneBase map[uint32]BoneID
}

func (g *GltfProducer) Execute(db *SceneDatabase) error {
	doc, err := gltf.Open(g.Path)
	if err != nil {
		return fmt.Errorf("open %s: %w", g.Path, err)
	}
	if db.Name == "" {
		db.Name = strings.TrimSuffix(filepath.Base(g.Path), filepath.Ext(g.Path))
	}
	imp := &gltfImport{
		doc:      doc,
		db:       db,
		dir:      filepath.Dir(g.Path),
		log:      g.log,
		textures: make(map[uint32]TextureID),
		defMat:   MaterialID(InvalidID),
		meshes:   make(map[uint32][]MeshID),
		skinOf:   make(map[uint32]uint32),
		boneBase: make(map[uint32]BoneID),
	}
	for i := range doc.Textures {
		imp.importTexture(uint32(i))
	}
	for _, m := range doc.Materials {
		imp.importMaterial(m)
	}
	for _, n := range doc.Nodes {
		if n.Mesh != nil && n.Skin != nil {
			if _, ok := imp.skinOf[*n.Mesh]; !ok {
				imp.skinOf[*n.Mesh] = *n.Skin
			}
		}
	}
	for i, s := range doc.Skins {
		if err := imp.importSkin(uint32(i), s); err != nil {
			return err
		}
	}
	for i, m := range doc.Meshes {
		if err := imp.importMesh(uint32(i), m); err != nil {
			return err
		}
	}
	imp.importNodes()

	for _, m := range db.Meshes() {
		if err := g.runServices(m); err != nil {
			return fmt.Errorf("mesh %q: %w", m.Name(), err)
		}
	}
	db.UpdateAABB()
	g.log.Info("gltf imported",
		zap.String("path", g.Path),
		zap.Int("nodes", len(db.Nodes())),
		zap.Int("meshes", len(db.Meshes())),
		zap.Int("materials", len(db.Materials())),
		zap.Int("textures", len(db.Textures())),
		zap.Int("bones", len(db.Bones())))
	return nil
}

func (g *GltfProducer) runServices(m *Mesh) error {
	if g.CleanUnused {
		dropped, err := m.RemoveDegeneratePolygons()
		if err != nil {
			return err
		}
		unused, err := m.RemoveUnusedVertices()
		if err != nil {
			return err
		}
		if dropped > 0 || unused > 0 {
			g.log.Debug("mesh cleaned", zap.String("mesh", m.Name()), zap.Int("polygons", dropped), zap.Int("vertices", unused))
		}
	}
	if g.ComputeNormals && !m.VertexFormat().Contains(VERTEX_ATTRIBUTE_NORMAL) {
		if err := m.ComputeVertexNormals(); err != nil {
			return err
		}
	}
	if g.ComputeTangents && m.VertexUVSetCount() > 0 && !m.VertexFormat().Contains(VERTEX_ATTRIBUTE_TANGENT) {
		if err := m.ComputeVertexTangents(); err != nil {
			return err
		}
	}
	m.ComputeAABB()
	return nil
}

func mimeExt(mime string) string {
	switch mime {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/bmp":
		return ".bmp"
	default:
		return ""
	}
}

// webpSource returns the image index of an EXT_texture_webp texture.
func webpSource(gt *gltf.Texture) (uint32, bool) {
	raw, ok := gt.Extensions[extTextureWebp]
	if !ok {
		return 0, false
	}
	data, ok := raw.(json.RawMessage)
	if !ok {
		var err error
		if data, err = json.Marshal(raw); err != nil {
			return 0, false
		}
	}
	var ext struct {
		Source *uint32 `json:"source"`
	}
	if err := json.Unmarshal(data, &ext); err != nil || ext.Source == nil {
		return 0, false
	}
	return *ext.Source, true
}

func (imp *gltfImport) importTexture(idx uint32) {
	gt := imp.doc.Textures[idx]
	src := gt.Source
	if s, ok := webpSource(gt); ok {
		src = &s
	}
	if src == nil || int(*src) >= len(imp.doc.Images) {
		imp.log.Warn("texture without image", zap.Uint32("texture", idx))
		return
	}
	img := imp.doc.Images[*src]
	tex := &Texture{Name: img.Name, Format: TEXTURE_FORMAT_RGBA}
	if gt.Sampler != nil && int(*gt.Sampler) < len(imp.doc.Samplers) {
		tex.Repeated = imp.doc.Samplers[*gt.Sampler].WrapS == gltf.WrapRepeat
	} else {
		tex.Repeated = true
	}

	var data []byte
	switch {
	case img.BufferView != nil && int(*img.BufferView) < len(imp.doc.BufferViews):
		bv := imp.doc.BufferViews[*img.BufferView]
		buf := imp.doc.Buffers[bv.Buffer]
		data = buf.Data[bv.ByteOffset : bv.ByteOffset+bv.ByteLength]
	case img.IsEmbeddedResource():
		var err error
		if data, err = img.MarshalData(); err != nil {
			imp.log.Warn("texture data uri", zap.Uint32("texture", idx), zap.Error(err))
		}
	default:
		uri, err := url.PathUnescape(img.URI)
		if err != nil {
			uri = img.URI
		}
		tex.Path = filepath.Join(imp.dir, filepath.FromSlash(uri))
		if tex.Name == "" {
			tex.Name = filepath.Base(tex.Path)
		}
	}
	if tex.Name == "" {
		tex.Name = fmt.Sprintf("texture_%d%s", idx, mimeExt(img.MimeType))
	}
	if len(data) > 0 {
		decoded, err := DecodeImage(bytes.NewReader(data), "image"+mimeExt(img.MimeType))
		if err == nil {
			var embedded *Texture
			if embedded, err = CreateTextureFromImage(decoded, tex.Name, tex.Repeated); err == nil {
				embedded.Name = tex.Name
				tex = embedded
			}
		}
		if err != nil {
			imp.log.Warn("texture not decoded", zap.String("texture", tex.Name), zap.Error(err))
		}
	}
	imp.textures[idx] = imp.db.AddTexture(tex)
}

func (imp *gltfImport) textureID(idx uint32) TextureID {
	if id, ok := imp.textures[idx]; ok {
		return id
	}
	return TextureID(InvalidID)
}

func (imp *gltfImport) importMaterial(gm *gltf.Material) {
	m := NewMaterial(gm.Name)
	if m.Name == "" {
		m.Name = fmt.Sprintf("material_%d", len(imp.db.Materials()))
	}
	m.Metallic = 1
	if pbr := gm.PBRMetallicRoughness; pbr != nil {
		if pbr.BaseColorFactor != nil {
			m.BaseColor = Color(*pbr.BaseColorFactor)
		}
		if pbr.MetallicFactor != nil {
			m.Metallic = *pbr.MetallicFactor
		}
		if pbr.RoughnessFactor != nil {
			m.Roughness = *pbr.RoughnessFactor
		}
		if pbr.BaseColorTexture != nil {
			m.SetTexture(MATERIAL_TEXTURE_BASE_COLOR, imp.textureID(pbr.BaseColorTexture.Index))
		}
		if pbr.MetallicRoughnessTexture != nil {
			id := imp.textureID(pbr.MetallicRoughnessTexture.Index)
			m.SetTexture(MATERIAL_TEXTURE_METALLIC, id)
			m.SetTexture(MATERIAL_TEXTURE_ROUGHNESS, id)
		}
	}
	if gm.NormalTexture != nil && gm.NormalTexture.Index != nil {
		m.SetTexture(MATERIAL_TEXTURE_NORMAL, imp.textureID(*gm.NormalTexture.Index))
	}
	if gm.OcclusionTexture != nil && gm.OcclusionTexture.Index != nil {
		m.SetTexture(MATERIAL_TEXTURE_OCCLUSION, imp.textureID(*gm.OcclusionTexture.Index))
	}
	if gm.EmissiveTexture != nil {
		m.SetTexture(MATERIAL_TEXTURE_EMISSIVE, imp.textureID(gm.EmissiveTexture.Index))
	}
	m.Emissive = vec3.T(gm.EmissiveFactor)
	m.DoubleSided = gm.DoubleSided
	if gm.AlphaMode == gltf.AlphaOpaque {
		m.BaseColor[3] = 1
	}
	imp.db.AddMaterial(m)
}

func (imp *gltfImport) materialID(idx *uint32) MaterialID {
	if idx != nil && int(*idx) < len(imp.doc.Materials) {
		return MaterialID(*idx)
	}
	if !imp.defMat.IsValid() {
		imp.defMat = imp.db.AddMaterial(NewMaterial("default"))
	}
	return imp.defMat
}

func matrixFromFloats(f []float32) mat4.T {
	var m mat4.T
	for c := 0; c < 4; c++ {
		for r := 0; r < 4; r++ {
			m[c][r] = f[c*4+r]
		}
	}
	return m
}

func (imp *gltfImport) importSkin(idx uint32, s *gltf.Skin) error {
	imp.boneBase[idx] = BoneID(len(imp.db.Bones()))
	var ibm *accessorView
	if s.InverseBindMatrices != nil {
		var err error
		if ibm, err = newAccessorView(imp.doc, *s.InverseBindMatrices); err != nil {
			return fmt.Errorf("skin %d: %w", idx, err)
		}
	}
	joint := make(map[uint32]BoneID, len(s.Joints))
	for j, nodeIdx := range s.Joints {
		name := fmt.Sprintf("bone_%d", nodeIdx)
		tr := IdentityTransform()
		if int(nodeIdx) < len(imp.doc.Nodes) {
			nd := imp.doc.Nodes[nodeIdx]
			if nd.Name != "" {
				name = nd.Name
			}
			tr = nodeTransform(nd)
		}
		b := NewBone(0, name)
		b.Transform = tr
		if ibm != nil && j < ibm.Count() && ibm.Comps() == 16 {
			var f [16]float32
			for k := range f {
				f[k] = ibm.Float(j, k)
			}
			b.Offset = matrixFromFloats(f[:])
		}
		joint[nodeIdx] = imp.db.AddBone(b)
	}
	for _, nodeIdx := range s.Joints {
		if int(nodeIdx) >= len(imp.doc.Nodes) {
			continue
		}
		parent := imp.db.GetBone(joint[nodeIdx])
		for _, child := range imp.doc.Nodes[nodeIdx].Children {
			if cid, ok := joint[child]; ok {
				parent.AddChildID(cid)
				imp.db.GetBone(cid).ParentID = parent.ID
			}
		}
	}
	return nil
}

func (imp *gltfImport) importMesh(idx uint32, gm *gltf.Mesh) error {
	for p, prim := range gm.Primitives {
		if prim.Mode != gltf.PrimitiveTriangles {
			imp.log.Warn("primitive skipped, not triangles", zap.Uint32("mesh", idx), zap.Int("primitive", p))
			continue
		}
		name := gm.Name
		if name == "" {
			name = fmt.Sprintf("mesh_%d", idx)
		}
		if len(gm.Primitives) > 1 {
			name = fmt.Sprintf("%s_%d", name, p)
		}
		m, err := imp.buildMesh(idx, name, gm, prim)
		if err != nil {
			return fmt.Errorf("mesh %q: %w", name, err)
		}
		m.SetMaterialID(imp.materialID(prim.Material))
		imp.meshes[idx] = append(imp.meshes[idx], imp.db.AddMesh(m))
	}
	return nil
}

func (imp *gltfImport) buildMesh(idx uint32, name string, gm *gltf.Mesh, prim *gltf.Primitive) (*Mesh, error) {
	posIdx, ok := prim.Attributes["POSITION"]
	if !ok {
		return nil, fmt.Errorf("no POSITION attribute: %w", ErrBadAccessor)
	}
	pos, err := newAccessorView(imp.doc, posIdx)
	if err != nil {
		return nil, err
	}
	vc := uint32(pos.Count())

	var indices []uint32
	if prim.Indices != nil {
		iv, err := newAccessorView(imp.doc, *prim.Indices)
		if err != nil {
			return nil, err
		}
		indices = make([]uint32, iv.Count())
		for i := range indices {
			indices[i] = iv.Uint(i, 0)
		}
	} else {
		indices = make([]uint32, vc)
		for i := range indices {
			indices[i] = uint32(i)
		}
	}
	pc := uint32(len(indices) / 3)

	m := NewNamedMesh(0, name, vc, pc)
	for i := 0; i < int(vc); i++ {
		m.positions[i] = Point{pos.Float(i, 0), pos.Float(i, 1), pos.Float(i, 2)}
	}
	for p := uint32(0); p < pc; p++ {
		poly := Polygon{VertexID(indices[3*p]), VertexID(indices[3*p+1]), VertexID(indices[3*p+2])}
		for _, v := range poly {
			if uint32(v) >= vc {
				return nil, fmt.Errorf("index %d beyond %d vertices: %w", v, vc, ErrBadAccessor)
			}
		}
		m.polygons[p] = poly
	}

	readVec3 := func(attr string, dst []Direction) (bool, error) {
		ai, ok := prim.Attributes[attr]
		if !ok {
			return false, nil
		}
		v, err := newAccessorView(imp.doc, ai)
		if err != nil {
			return false, err
		}
		if v.Count() != int(vc) {
			return false, fmt.Errorf("%s count %d, want %d: %w", attr, v.Count(), vc, ErrBadAccessor)
		}
		for i := range dst {
			dst[i] = Direction{v.Float(i, 0), v.Float(i, 1), v.Float(i, 2)}
		}
		return true, nil
	}

	hasNormals, err := readVec3("NORMAL", m.normals)
	if err != nil {
		return nil, err
	}
	if hasNormals {
		m.markPresent(attrNormal)
	}
	if ti, ok := prim.Attributes["TANGENT"]; ok {
		tv, err := newAccessorView(imp.doc, ti)
		if err != nil {
			return nil, err
		}
		if tv.Count() == int(vc) {
			for i := 0; i < int(vc); i++ {
				t := Direction{tv.Float(i, 0), tv.Float(i, 1), tv.Float(i, 2)}
				m.tangents[i] = t
				if hasNormals && tv.Comps() == 4 {
					b := vec3.Cross(&m.normals[i], &t)
					b.Scale(tv.Float(i, 3))
					m.bitangents[i] = b
				}
			}
			m.markPresent(attrTangent)
			if hasNormals {
				m.markPresent(attrBiTangent)
			}
		}
	}

	uvSets := uint32(0)
	for uvSets < MaxUVSetCount {
		if _, ok := prim.Attributes[fmt.Sprintf("TEXCOORD_%d", uvSets)]; !ok {
			break
		}
		uvSets++
	}
	if err := m.SetVertexUVSetCount(uvSets); err != nil {
		return nil, err
	}
	for s := uint32(0); s < uvSets; s++ {
		v, err := newAccessorView(imp.doc, prim.Attributes[fmt.Sprintf("TEXCOORD_%d", s)])
		if err != nil {
			return nil, err
		}
		for i := 0; i < int(vc) && i < v.Count(); i++ {
			m.uvSets[s][i] = UV{v.Float(i, 0), v.Float(i, 1)}
		}
	}

	colorSets := uint32(0)
	for colorSets < MaxColorSetCount {
		if _, ok := prim.Attributes[fmt.Sprintf("COLOR_%d", colorSets)]; !ok {
			break
		}
		colorSets++
	}
	if err := m.SetVertexColorSetCount(colorSets); err != nil {
		return nil, err
	}
	for s := uint32(0); s < colorSets; s++ {
		v, err := newAccessorView(imp.doc, prim.Attributes[fmt.Sprintf("COLOR_%d", s)])
		if err != nil {
			return nil, err
		}
		for i := 0; i < int(vc) && i < v.Count(); i++ {
			c := Color{v.Float(i, 0), v.Float(i, 1), v.Float(i, 2), 1}
			if v.Comps() == 4 {
				c[3] = v.Float(i, 3)
			}
			m.colorSets[s][i] = c
		}
	}

	if err := imp.readSkinWeights(idx, prim, m); err != nil {
		return nil, err
	}

	for t, target := range prim.Targets {
		mt := m.AddMorph(fmt.Sprintf("target_%d", t))
		if t < len(gm.Weights) {
			mt.SetWeight(gm.Weights[t])
		}
		if pi, ok := target["POSITION"]; ok {
			v, err := newAccessorView(imp.doc, pi)
			if err != nil {
				return nil, err
			}
			for i := 0; i < int(vc) && i < v.Count(); i++ {
				mt.positions[i] = Point{v.Float(i, 0), v.Float(i, 1), v.Float(i, 2)}
			}
		}
		if ni, ok := target["NORMAL"]; ok {
			v, err := newAccessorView(imp.doc, ni)
			if err != nil {
				return nil, err
			}
			for i := 0; i < int(vc) && i < v.Count(); i++ {
				mt.normals[i] = Direction{v.Float(i, 0), v.Float(i, 1), v.Float(i, 2)}
			}
		}
	}
	return m, nil
}

func (imp *gltfImport) readSkinWeights(meshIdx uint32, prim *gltf.Primitive, m *Mesh) error {
	sets := 0
	for sets < MaxBoneInfluenceCount/4 {
		_, okJ := prim.Attributes[fmt.Sprintf("JOINTS_%d", sets)]
		_, okW := prim.Attributes[fmt.Sprintf("WEIGHTS_%d", sets)]
		if !okJ || !okW {
			break
		}
		sets++
	}
	if sets == 0 {
		return nil
	}
	base := BoneID(0)
	if skin, ok := imp.skinOf[meshIdx]; ok {
		base = imp.boneBase[skin]
	}
	if err := m.SetVertexInfluenceCount(uint32(sets * 4)); err != nil {
		return err
	}
	for s := 0; s < sets; s++ {
		jv, err := newAccessorView(imp.doc, prim.Attributes[fmt.Sprintf("JOINTS_%d", s)])
		if err != nil {
			return err
		}
		wv, err := newAccessorView(imp.doc, prim.Attributes[fmt.Sprintf("WEIGHTS_%d", s)])
		if err != nil {
			return err
		}
		for i := 0; i < int(m.vertexCount) && i < jv.Count() && i < wv.Count(); i++ {
			for c := 0; c < 4 && c < jv.Comps(); c++ {
				layer := s*4 + c
				m.boneIDs[layer][i] = base + BoneID(jv.Uint(i, c))
				m.weights[layer][i] = wv.Float(i, c)
			}
		}
	}
	return nil
}

func nodeTransform(nd *gltf.Node) Transform {
	if nd.Matrix != identityMatrix && nd.Matrix != [16]float32{} {
		return decomposeMatrix(matrixFromFloats(nd.Matrix[:]))
	}
	tr := IdentityTransform()
	tr.Translation = vec3.T(nd.Translation)
	if nd.Rotation != [4]float32{} {
		tr.Rotation = quaternion.T(nd.Rotation)
	}
	if nd.Scale != [3]float32{} {
		tr.Scale = vec3.T(nd.Scale)
	}
	return tr
}

// decomposeMatrix splits an affine column major matrix without shear into TRS.
func decomposeMatrix(m mat4.T) Transform {
	tr := IdentityTransform()
	tr.Translation = vec3.T{m[3][0], m[3][1], m[3][2]}
	var cols [3]vec3.T
	for c := 0; c < 3; c++ {
		cols[c] = vec3.T{m[c][0], m[c][1], m[c][2]}
		tr.Scale[c] = cols[c].Length()
		if tr.Scale[c] != 0 {
			cols[c].Scale(1 / tr.Scale[c])
		}
	}
	if cross := vec3.Cross(&cols[1], &cols[2]); vec3.Dot(&cols[0], &cross) < 0 {
		tr.Scale[0] = -tr.Scale[0]
		cols[0].Scale(-1)
	}
	// rotation matrix element r_ij is cols[j][i]
	r00, r11, r22 := cols[0][0], cols[1][1], cols[2][2]
	var q quaternion.T
	switch trace := r00 + r11 + r22; {
	case trace > 0:
		s := float32(math.Sqrt(float64(trace+1))) * 2
		q = quaternion.T{(cols[1][2] - cols[2][1]) / s, (cols[2][0] - cols[0][2]) / s, (cols[0][1] - cols[1][0]) / s, s / 4}
	case r00 > r11 && r00 > r22:
		s := float32(math.Sqrt(float64(1+r00-r11-r22))) * 2
		q = quaternion.T{s / 4, (cols[1][0] + cols[0][1]) / s, (cols[2][0] + cols[0][2]) / s, (cols[1][2] - cols[2][1]) / s}
	case r11 > r22:
		s := float32(math.Sqrt(float64(1+r11-r00-r22))) * 2
		q = quaternion.T{(cols[1][0] + cols[0][1]) / s, s / 4, (cols[2][1] + cols[1][2]) / s, (cols[2][0] - cols[0][2]) / s}
	default:
		s := float32(math.Sqrt(float64(1+r22-r00-r11))) * 2
		q = quaternion.T{(cols[2][0] + cols[0][2]) / s, (cols[2][1] + cols[1][2]) / s, s / 4, (cols[0][1] - cols[1][0]) / s}
	}
	tr.Rotation = q
	return tr
}

func (imp *gltfImport) importNodes() {
	for i, gn := range imp.doc.Nodes {
		name := gn.Name
		if name == "" {
			name = fmt.Sprintf("node_%d", i)
		}
		n := NewNode(0, name)
		n.Transform = nodeTransform(gn)
		if gn.Mesh != nil {
			n.MeshIDs = append(n.MeshIDs, imp.meshes[*gn.Mesh]...)
		}
		imp.db.AddNode(n)
	}
	for i, gn := range imp.doc.Nodes {
		parent := imp.db.GetNode(NodeID(i))
		for _, c := range gn.Children {
			child := imp.db.GetNode(NodeID(c))
			if child == nil {
				continue
			}
			parent.AddChildID(child.ID)
			child.ParentID = parent.ID
		}
	}
}
