package cdasset

import (
	"fmt"

	"github.com/flywave/go3d/vec3"
)

type MaterialTextureType uint8

const (
	MATERIAL_TEXTURE_BASE_COLOR MaterialTextureType = iota
	MATERIAL_TEXTURE_NORMAL
	MATERIAL_TEXTURE_METALLIC
	MATERIAL_TEXTURE_ROUGHNESS
	MATERIAL_TEXTURE_EMISSIVE
	MATERIAL_TEXTURE_OCCLUSION
	MaterialTextureTypeCount
)

func (t MaterialTextureType) String() string {
	switch t {
	case MATERIAL_TEXTURE_BASE_COLOR:
		return "BaseColor"
	case MATERIAL_TEXTURE_NORMAL:
		return "Normal"
	case MATERIAL_TEXTURE_METALLIC:
		return "Metallic"
	case MATERIAL_TEXTURE_ROUGHNESS:
		return "Roughness"
	case MATERIAL_TEXTURE_EMISSIVE:
		return "Emissive"
	case MATERIAL_TEXTURE_OCCLUSION:
		return "Occlusion"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(t))
	}
}

// Material is a metallic-roughness surface description. Texture slots hold
// TextureIDs into the owning scene database, InvalidID when empty.
type Material struct {
	ID          MaterialID                           `json:"id" yaml:"id"`
	Name        string                               `json:"name" yaml:"name"`
	BaseColor   Color                                `json:"baseColor" yaml:"baseColor"`
	Emissive    vec3.T                               `json:"emissive" yaml:"emissive"`
	Metallic    float32                              `json:"metallic" yaml:"metallic"`
	Roughness   float32                              `json:"roughness" yaml:"roughness"`
	Opacity     float32                              `json:"opacity" yaml:"opacity"`
	DoubleSided bool                                 `json:"doubleSided" yaml:"doubleSided"`
	Textures    [MaterialTextureTypeCount]TextureID `json:"textures" yaml:"textures"`
	Props       Properties                           `json:"props,omitempty" yaml:"-"`
}

func NewMaterial(name string) *Material {
	m := &Material{
		Name:      name,
		BaseColor: Color{1, 1, 1, 1},
		Roughness: 1,
		Opacity:   1,
	}
	for i := range m.Textures {
		m.Textures[i] = TextureID(InvalidID)
	}
	return m
}

func (m *Material) HasTexture(t MaterialTextureType) bool {
	return m.Textures[t].IsValid()
}

func (m *Material) GetTexture(t MaterialTextureType) TextureID {
	return m.Textures[t]
}

func (m *Material) SetTexture(t MaterialTextureType, id TextureID) {
	m.Textures[t] = id
}

func (m *Material) IsTransparent() bool {
	return m.Opacity < 1 || m.BaseColor[3] < 1
}

func MaterialMarshal(oa *OutputArchive, m *Material) error {
	if err := oa.WriteUint32(uint32(m.ID)); err != nil {
		return err
	}
	if err := oa.WriteString(m.Name); err != nil {
		return err
	}
	if err := oa.Write(&m.BaseColor); err != nil {
		return err
	}
	if err := oa.Write(&m.Emissive); err != nil {
		return err
	}
	for _, f := range []float32{m.Metallic, m.Roughness, m.Opacity} {
		if err := oa.WriteFloat32(f); err != nil {
			return err
		}
	}
	if err := oa.WriteBool(m.DoubleSided); err != nil {
		return err
	}
	if err := oa.Write(&m.Textures); err != nil {
		return err
	}
	if err := PropertiesMarshal(oa, m.Props); err != nil {
		return fmt.Errorf("material %q: %w", m.Name, err)
	}
	return nil
}

func MaterialUnMarshal(ia *InputArchive) (*Material, error) {
	m := &Material{}
	id, err := ia.ReadUint32()
	if err != nil {
		return nil, err
	}
	m.ID = MaterialID(id)
	if m.Name, err = ia.ReadString(); err != nil {
		return nil, err
	}
	if err := ia.Read(&m.BaseColor); err != nil {
		return nil, err
	}
	if err := ia.Read(&m.Emissive); err != nil {
		return nil, err
	}
	for _, f := range []*float32{&m.Metallic, &m.Roughness, &m.Opacity} {
		if *f, err = ia.ReadFloat32(); err != nil {
			return nil, err
		}
	}
	if m.DoubleSided, err = ia.ReadBool(); err != nil {
		return nil, err
	}
	if err := ia.Read(&m.Textures); err != nil {
		return nil, err
	}
	props, err := PropertiesUnMarshal(ia)
	if err != nil {
		return nil, fmt.Errorf("material %q: %w", m.Name, err)
	}
	if len(props) > 0 {
		m.Props = props
	}
	return m, nil
}
