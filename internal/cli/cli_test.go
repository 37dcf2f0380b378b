package cli

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/flywave/go-cdasset"
	"github.com/flywave/go-cdasset/internal/config"
	"github.com/flywave/go3d/vec3"
	"go.uber.org/zap"
)

func writeScene(t *testing.T, path string) {
	t.Helper()
	db := cdasset.NewSceneDatabase("cli")

	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img.SetNRGBA(0, 1, color.NRGBA{B: 255, A: 255})
	tex, err := cdasset.CreateTextureFromImage(img, "tile.png", true)
	if err != nil {
		t.Fatal(err)
	}
	mat := cdasset.NewMaterial("tile")
	mat.SetTexture(cdasset.MATERIAL_TEXTURE_BASE_COLOR, db.AddTexture(tex))

	m := cdasset.NewNamedMesh(0, "tri", 3, 1)
	for i, p := range []cdasset.Point{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}} {
		if err := m.SetVertexPosition(uint32(i), p); err != nil {
			t.Fatal(err)
		}
	}
	if err := m.SetPolygon(0, cdasset.Polygon{0, 1, 2}); err != nil {
		t.Fatal(err)
	}
	if err := m.ComputeVertexNormals(); err != nil {
		t.Fatal(err)
	}
	m.SetMaterialID(db.AddMaterial(mat))

	n := cdasset.NewNode(0, "root")
	n.Transform.Translation = vec3.T{0, 0, 3}
	n.AddMeshID(db.AddMesh(m))
	db.AddNode(n)

	if err := cdasset.NewCDConsumer(path, binary.LittleEndian, nil).Execute(db); err != nil {
		t.Fatal(err)
	}
}

func TestRunUsage(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no args", nil},
		{"one arg", []string{"in.glb"}},
		{"three args", []string{"a", "b", "c"}},
		{"unknown flag", []string{"-bogus", "a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stderr bytes.Buffer
			if code := GltfToCD.Run(tt.args, &stderr); code != ExitUsage {
				t.Errorf("exit = %d, want %d", code, ExitUsage)
			}
			if !strings.Contains(stderr.String(), "usage: gltf2cd") {
				t.Errorf("stderr = %s", stderr.String())
			}
		})
	}
}

func TestRunMissingInput(t *testing.T) {
	dir := t.TempDir()
	var stderr bytes.Buffer
	code := CDToGltf.Run([]string{filepath.Join(dir, "none.cdbin"), filepath.Join(dir, "out.glb")}, &stderr)
	if code != ExitFailure {
		t.Errorf("exit = %d, want %d", code, ExitFailure)
	}
	if !strings.Contains(stderr.String(), "conversion failed") {
		t.Errorf("stderr = %s", stderr.String())
	}
}

func TestRunRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src"+cdasset.SCENEEXT)
	glb := filepath.Join(dir, "scene.glb")
	dst := filepath.Join(dir, "dst"+cdasset.SCENEEXT)
	texDir := filepath.Join(dir, "textures")
	dump := filepath.Join(dir, "dump.yaml")
	writeScene(t, src)

	var stderr bytes.Buffer
	if code := CDToGltf.Run([]string{"-textures", texDir, "-texture-format", "webp", src, glb}, &stderr); code != ExitOK {
		t.Fatalf("cd2gltf exit %d: %s", code, stderr.String())
	}
	if matches, _ := filepath.Glob(filepath.Join(texDir, "*.webp")); len(matches) != 1 {
		t.Errorf("extracted textures = %v", matches)
	}

	stderr.Reset()
	if code := GltfToCD.Run([]string{"-order", "big", "-flatten", "-embed", "-dump", dump, glb, dst}, &stderr); code != ExitOK {
		t.Fatalf("gltf2cd exit %d: %s", code, stderr.String())
	}

	raw, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if raw[4] != cdasset.BYTE_ORDER_BIG {
		t.Errorf("byte order marker = %d", raw[4])
	}
	db, err := cdasset.SceneDatabaseReadFrom(dst)
	if err != nil {
		t.Fatal(err)
	}
	if len(db.Meshes()) != 1 || len(db.Nodes()) != 1 || len(db.Textures()) != 1 {
		t.Fatalf("scene has %d meshes, %d nodes, %d textures", len(db.Meshes()), len(db.Nodes()), len(db.Textures()))
	}
	if got := db.GetMesh(0).VertexPosition(1); got != (cdasset.Point{1, 0, 3}) {
		t.Errorf("flattened vertex = %v", got)
	}
	if !db.GetTexture(0).IsEmbedded() {
		t.Errorf("texture = %+v", db.GetTexture(0))
	}

	summary, err := os.ReadFile(dump)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(summary), "vertices: 3") {
		t.Errorf("dump = %s", summary)
	}
}

func TestProcessorOptions(t *testing.T) {
	cfg := config.Default()
	cfg.Processor.Connectivity = true
	cfg.Textures.SearchFolders = []string{"maps"}
	opts, closeDump, err := ProcessorOptions(cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer closeDump()
	if !opts.Validate || !opts.Connectivity || opts.Flatten || len(opts.TextureFolders) != 1 || opts.DumpWriter != nil {
		t.Errorf("options = %+v", opts)
	}
}
