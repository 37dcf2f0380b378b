package processor

import (
	"bytes"
	"fmt"
	"io"

	"github.com/flywave/go-cdasset"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type boxSummary struct {
	Min cdasset.Point `yaml:"min,flow"`
	Max cdasset.Point `yaml:"max,flow"`
}

type meshSummary struct {
	ID        cdasset.MeshID     `yaml:"id"`
	Name      string             `yaml:"name"`
	Material  cdasset.MaterialID `yaml:"material"`
	Vertices  uint32             `yaml:"vertices"`
	Polygons  uint32             `yaml:"polygons"`
	Stride    uint32             `yaml:"stride"`
	UVSets    uint32             `yaml:"uvSets,omitempty"`
	ColorSets uint32             `yaml:"colorSets,omitempty"`
	Influence uint32             `yaml:"influences,omitempty"`
	Morphs    []string           `yaml:"morphs,omitempty,flow"`
	AABB      boxSummary         `yaml:"aabb"`
}

type lightSummary struct {
	cdasset.Light `yaml:",inline"`
	Kind          string `yaml:"kind"`
}

type sceneSummary struct {
	Name       string               `yaml:"name"`
	AABB       boxSummary           `yaml:"aabb"`
	Nodes      []*cdasset.Node      `yaml:"nodes,omitempty"`
	Meshes     []meshSummary        `yaml:"meshes,omitempty"`
	Materials  []*cdasset.Material  `yaml:"materials,omitempty"`
	Textures   []*cdasset.Texture   `yaml:"textures,omitempty"`
	Lights     []lightSummary       `yaml:"lights,omitempty"`
	Bones      []*cdasset.Bone      `yaml:"bones,omitempty"`
	Animations []*cdasset.Animation `yaml:"animations,omitempty"`
}

func summarize(db *cdasset.SceneDatabase) *sceneSummary {
	s := &sceneSummary{
		Name:       db.Name,
		AABB:       boxSummary{db.AABB.Min, db.AABB.Max},
		Nodes:      db.Nodes(),
		Materials:  db.Materials(),
		Textures:   db.Textures(),
		Bones:      db.Bones(),
		Animations: db.Animations(),
	}
	for _, m := range db.Meshes() {
		box := m.AABB()
		ms := meshSummary{
			ID:        m.ID(),
			Name:      m.Name(),
			Material:  m.MaterialID(),
			Vertices:  m.VertexCount(),
			Polygons:  m.PolygonCount(),
			Stride:    m.VertexFormat().Stride(),
			UVSets:    m.VertexUVSetCount(),
			ColorSets: m.VertexColorSetCount(),
			Influence: m.VertexInfluenceCount(),
			AABB:      boxSummary{box.Min, box.Max},
		}
		for _, mt := range m.Morphs() {
			ms.Morphs = append(ms.Morphs, mt.Name())
		}
		s.Meshes = append(s.Meshes, ms)
	}
	for _, l := range db.Lights() {
		s.Lights = append(s.Lights, lightSummary{Light: *l, Kind: l.Type.String()})
	}
	return s
}

// Dump writes a YAML summary of the scene database to w. The summary is also
// logged at debug level.
func Dump(w io.Writer, db *cdasset.SceneDatabase, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(summarize(db)); err != nil {
		return fmt.Errorf("dump: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("dump: %w", err)
	}
	log.Debug("scene summary", zap.String("yaml", buf.String()))
	if w == nil {
		return nil
	}
	_, err := w.Write(buf.Bytes())
	return err
}
