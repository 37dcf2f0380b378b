package cdasset

import (
	"bytes"
	"encoding/binary"
	"errors"
	"path/filepath"
	"testing"

	"github.com/flywave/go3d/quaternion"
	"github.com/flywave/go3d/vec3"
)

func testScene(t *testing.T) *SceneDatabase {
	t.Helper()
	db := NewSceneDatabase("scene")

	m := quadMesh(t)
	m.ComputeVertexNormals()
	mt := m.AddMorph("bulge")
	mt.SetWeight(0.3)
	mt.SetPositionDelta(2, Point{0, 0, 0.5})
	meshID := db.AddMesh(m)

	mat := NewMaterial("paint")
	mat.Props = Properties{"layer": StringProp("walls")}
	m.SetMaterialID(db.AddMaterial(mat))

	tex := &Texture{Name: "wall.png", Path: "textures/wall.png", Format: TEXTURE_FORMAT_RGBA}
	mat.SetTexture(MATERIAL_TEXTURE_BASE_COLOR, db.AddTexture(tex))

	l := NewLight(0, LIGHT_TYPE_SPOT)
	l.Name = "lamp"
	l.SetSpotAngles(0.2, 0.4)
	db.AddLight(l)

	root := NewNode(0, "root")
	rootID := db.AddNode(root)
	child := NewNode(0, "child")
	child.ParentID = rootID
	child.Transform.Translation = vec3.T{0, 2, 0}
	child.AddMeshID(meshID)
	child.Props = Properties{"lod": IntProp(1)}
	root.AddChildID(db.AddNode(child))

	bone := NewBone(0, "spine")
	db.AddBone(bone)

	tr := NewTrack(0, "spine")
	tr.TranslationKeys = []TranslationKey{{Time: 0, Value: vec3.T{}}, {Time: 1, Value: vec3.T{0, 1, 0}}}
	tr.RotationKeys = []RotationKey{{Time: 0, Value: quaternion.Ident}}
	anim := NewAnimation(0, "nod")
	anim.Duration = 1
	anim.AddTrackID(db.AddTrack(tr))
	db.AddAnimation(anim)

	db.UpdateAABB()
	return db
}

func TestSceneDatabaseIDs(t *testing.T) {
	db := testScene(t)
	for i, n := range db.Nodes() {
		if int(n.ID) != i {
			t.Errorf("node %d has id %d", i, n.ID)
		}
	}
	if db.GetMesh(5) != nil || db.GetNode(NodeID(InvalidID)) != nil {
		t.Error("unknown ids resolved")
	}
	if got := db.GetTextureByName("wall.png"); got == nil || got.ID != 0 {
		t.Errorf("texture by name = %+v", got)
	}
	if roots := db.RootNodes(); len(roots) != 1 || roots[0].Name != "root" {
		t.Errorf("roots = %v", roots)
	}
	box := db.AABB
	if box.Min != (Point{0, 0, 0}) || box.Max != (Point{1, 1, 0}) {
		t.Errorf("scene box = %v", box)
	}
	if db.MergeAABB() != box {
		t.Errorf("merged box = %v", db.MergeAABB())
	}
}

func TestSceneDatabaseSetMeshes(t *testing.T) {
	db := testScene(t)
	extra := NewNamedMesh(0, "extra", 3, 1)
	db.SetMeshes([]*Mesh{extra, db.GetMesh(0)})
	if len(db.Meshes()) != 2 || db.GetMesh(0).Name() != "extra" || db.GetMesh(1).ID() != 1 {
		t.Errorf("meshes not renumbered")
	}
}

func TestSceneDatabaseRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		order  binary.ByteOrder
		marker byte
	}{
		{"little", binary.LittleEndian, BYTE_ORDER_LITTLE},
		{"big", binary.BigEndian, BYTE_ORDER_BIG},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := testScene(t)
			var buf bytes.Buffer
			if err := SceneDatabaseMarshal(&buf, src, tt.order); err != nil {
				t.Fatal(err)
			}
			raw := buf.Bytes()
			if string(raw[:4]) != SCENE_SIGNATURE || raw[4] != tt.marker {
				t.Fatalf("header = %q %d", raw[:4], raw[4])
			}

			db, err := SceneDatabaseUnMarshal(bytes.NewReader(raw))
			if err != nil {
				t.Fatal(err)
			}
			if db.Name != "scene" || db.AABB != src.AABB {
				t.Errorf("name/box = %q %v", db.Name, db.AABB)
			}
			if len(db.Nodes()) != 2 || len(db.Meshes()) != 1 || len(db.Materials()) != 1 ||
				len(db.Textures()) != 1 || len(db.Lights()) != 1 || len(db.Bones()) != 1 ||
				len(db.Animations()) != 1 || len(db.Tracks()) != 1 {
				t.Fatalf("collection sizes differ")
			}

			child := db.GetNode(1)
			if child.ParentID != 0 || len(child.MeshIDs) != 1 || child.Transform.Translation != (vec3.T{0, 2, 0}) {
				t.Errorf("child node = %+v", child)
			}
			if child.Props["lod"].Value != int64(1) {
				t.Errorf("node props = %v", child.Props)
			}
			m := db.GetMesh(0)
			if m.MorphCount() != 1 || m.Morph(0).Name() != "bulge" || m.Morph(0).Weight() != 0.3 {
				t.Fatalf("morphs = %d", m.MorphCount())
			}
			if m.Morph(0).PositionDeltas()[2] != (Point{0, 0, 0.5}) {
				t.Errorf("morph delta lost")
			}
			mat := db.GetMaterial(m.MaterialID())
			if mat == nil || mat.Props["layer"].Value != "walls" || mat.GetTexture(MATERIAL_TEXTURE_BASE_COLOR) != 0 {
				t.Errorf("material = %+v", mat)
			}
			if got := db.GetLight(0); got.Type != LIGHT_TYPE_SPOT || got.AngleScale != src.GetLight(0).AngleScale {
				t.Errorf("light = %+v", got)
			}
			if got := db.GetTrack(0); len(got.TranslationKeys) != 2 || got.TranslationKeys[1].Value != (vec3.T{0, 1, 0}) {
				t.Errorf("track = %+v", got)
			}
			if got := db.GetTexture(0); got.Path != "textures/wall.png" || got.IsEmbedded() {
				t.Errorf("texture = %+v", got)
			}
		})
	}
}

func TestSceneDatabaseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "scene"+SCENEEXT)
	if err := SceneDatabaseWriteTo(path, testScene(t), binary.BigEndian); err != nil {
		t.Fatal(err)
	}
	db, err := SceneDatabaseReadFrom(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(db.Meshes()) != 1 {
		t.Errorf("meshes = %d", len(db.Meshes()))
	}
}

func TestSceneDatabaseUnMarshalErrors(t *testing.T) {
	var buf bytes.Buffer
	if err := SceneDatabaseMarshal(&buf, testScene(t), binary.LittleEndian); err != nil {
		t.Fatal(err)
	}
	good := buf.Bytes()

	corrupt := func(at int, b byte) []byte {
		c := bytes.Clone(good)
		c[at] = b
		return c
	}
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"signature", corrupt(0, 'X'), ErrBadSignature},
		{"order marker", corrupt(4, 7), ErrCorruptArchive},
		{"version", corrupt(5, 99), ErrCorruptArchive},
		{"short header", good[:3], ErrTruncatedArchive},
		{"truncated body", good[:len(good)-5], ErrTruncatedArchive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := SceneDatabaseUnMarshal(bytes.NewReader(tt.data)); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCDArchiveConsumerProducer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out"+SCENEEXT)
	if err := NewCDConsumer(path, nil, nil).Execute(testScene(t)); err != nil {
		t.Fatal(err)
	}
	db := NewSceneDatabase("")
	if err := NewCDProducer(path, nil).Execute(db); err != nil {
		t.Fatal(err)
	}
	if db.Name != "scene" || len(db.Nodes()) != 2 {
		t.Errorf("loaded %q with %d nodes", db.Name, len(db.Nodes()))
	}
}
