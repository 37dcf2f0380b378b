package cdasset

// maxCollectionSize bounds every collection count accepted from an archive.
const maxCollectionSize = 1 << 24

// SceneDatabase owns every entity of one scene. Entities are stored by ID and
// the ID of each entity equals its position in its collection.
type SceneDatabase struct {
	Name string
	AABB AABB

	nodes      []*Node
	meshes     []*Mesh
	materials  []*Material
	textures   []*Texture
	lights     []*Light
	bones      []*Bone
	animations []*Animation
	tracks     []*Track
}

func NewSceneDatabase(name string) *SceneDatabase {
	return &SceneDatabase{Name: name}
}

// at returns s[i], or the zero value when i is out of range.
func at[T any](s []T, i uint32) T {
	if uint64(i) >= uint64(len(s)) {
		var zero T
		return zero
	}
	return s[i]
}

func (db *SceneDatabase) AddNode(n *Node) NodeID {
	n.ID = NodeID(len(db.nodes))
	db.nodes = append(db.nodes, n)
	return n.ID
}

func (db *SceneDatabase) AddMesh(m *Mesh) MeshID {
	m.id = MeshID(len(db.meshes))
	db.meshes = append(db.meshes, m)
	return m.id
}

func (db *SceneDatabase) AddMaterial(m *Material) MaterialID {
	m.ID = MaterialID(len(db.materials))
	db.materials = append(db.materials, m)
	return m.ID
}

func (db *SceneDatabase) AddTexture(t *Texture) TextureID {
	t.ID = TextureID(len(db.textures))
	db.textures = append(db.textures, t)
	return t.ID
}

func (db *SceneDatabase) AddLight(l *Light) LightID {
	l.ID = LightID(len(db.lights))
	db.lights = append(db.lights, l)
	return l.ID
}

func (db *SceneDatabase) AddBone(b *Bone) BoneID {
	b.ID = BoneID(len(db.bones))
	db.bones = append(db.bones, b)
	return b.ID
}

func (db *SceneDatabase) AddAnimation(a *Animation) AnimationID {
	a.ID = AnimationID(len(db.animations))
	db.animations = append(db.animations, a)
	return a.ID
}

func (db *SceneDatabase) AddTrack(t *Track) TrackID {
	t.ID = TrackID(len(db.tracks))
	db.tracks = append(db.tracks, t)
	return t.ID
}

func (db *SceneDatabase) GetNode(id NodeID) *Node { return at(db.nodes, uint32(id)) }

func (db *SceneDatabase) GetMesh(id MeshID) *Mesh { return at(db.meshes, uint32(id)) }

func (db *SceneDatabase) GetMaterial(id MaterialID) *Material {
	return at(db.materials, uint32(id))
}

func (db *SceneDatabase) GetTexture(id TextureID) *Texture { return at(db.textures, uint32(id)) }

func (db *SceneDatabase) GetLight(id LightID) *Light { return at(db.lights, uint32(id)) }

func (db *SceneDatabase) GetBone(id BoneID) *Bone { return at(db.bones, uint32(id)) }

func (db *SceneDatabase) GetAnimation(id AnimationID) *Animation {
	return at(db.animations, uint32(id))
}

func (db *SceneDatabase) GetTrack(id TrackID) *Track { return at(db.tracks, uint32(id)) }

// GetTextureByName returns the first texture with the given name.
func (db *SceneDatabase) GetTextureByName(name string) *Texture {
	for _, t := range db.textures {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// GetBoneByName returns the first bone with the given name.
func (db *SceneDatabase) GetBoneByName(name string) *Bone {
	for _, b := range db.bones {
		if b.Name == name {
			return b
		}
	}
	return nil
}

func (db *SceneDatabase) Nodes() []*Node { return db.nodes }
func (db *SceneDatabase) Meshes() []*Mesh { return db.meshes }
func (db *SceneDatabase) Materials() []*Material { return db.materials }
func (db *SceneDatabase) Textures() []*Texture { return db.textures }
func (db *SceneDatabase) Lights() []*Light { return db.lights }
func (db *SceneDatabase) Bones() []*Bone { return db.bones }
func (db *SceneDatabase) Animations() []*Animation { return db.animations }
func (db *SceneDatabase) Tracks() []*Track { return db.tracks }

// RootNodes lists the nodes without a parent.
func (db *SceneDatabase) RootNodes() []*Node {
	var roots []*Node
	for _, n := range db.nodes {
		if !n.ParentID.IsValid() {
			roots = append(roots, n)
		}
	}
	return roots
}

// SetMeshes replaces the mesh collection and renumbers mesh IDs.
func (db *SceneDatabase) SetMeshes(meshes []*Mesh) {
	db.meshes = nil
	for _, m := range meshes {
		db.AddMesh(m)
	}
}

// UpdateAABB recomputes every mesh box and the scene box around them.
func (db *SceneDatabase) UpdateAABB() AABB {
	first := true
	for _, m := range db.meshes {
		if m.VertexCount() == 0 {
			continue
		}
		box := m.ComputeAABB()
		if first {
			db.AABB = box
			first = false
			continue
		}
		db.AABB.Join(&box)
	}
	if first {
		db.AABB = AABB{}
	}
	return db.AABB
}

// MergeAABB returns the union of all stored mesh boxes without recomputing them.
func (db *SceneDatabase) MergeAABB() AABB {
	var box AABB
	first := true
	for _, m := range db.meshes {
		if m.VertexCount() == 0 {
			continue
		}
		mb := m.AABB()
		if first {
			box = mb
			first = false
			continue
		}
		box.Join(&mb)
	}
	return box
}
