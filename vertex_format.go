package cdasset

import "fmt"

type VertexAttributeType uint8

const (
	VERTEX_ATTRIBUTE_POSITION VertexAttributeType = iota
	VERTEX_ATTRIBUTE_NORMAL
	VERTEX_ATTRIBUTE_TANGENT
	VERTEX_ATTRIBUTE_BITANGENT
	VERTEX_ATTRIBUTE_UV
	VERTEX_ATTRIBUTE_COLOR
	VERTEX_ATTRIBUTE_BONE_INDEX
	VERTEX_ATTRIBUTE_BONE_WEIGHT
	vertexAttributeTypeCount
)

func (t VertexAttributeType) String() string {
	switch t {
	case VERTEX_ATTRIBUTE_POSITION:
		return "Position"
	case VERTEX_ATTRIBUTE_NORMAL:
		return "Normal"
	case VERTEX_ATTRIBUTE_TANGENT:
		return "Tangent"
	case VERTEX_ATTRIBUTE_BITANGENT:
		return "Bitangent"
	case VERTEX_ATTRIBUTE_UV:
		return "UV"
	case VERTEX_ATTRIBUTE_COLOR:
		return "Color"
	case VERTEX_ATTRIBUTE_BONE_INDEX:
		return "BoneIndex"
	case VERTEX_ATTRIBUTE_BONE_WEIGHT:
		return "BoneWeight"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(t))
	}
}

type AttributeValueType uint8

const (
	ATTRIBUTE_VALUE_FLOAT AttributeValueType = iota
	ATTRIBUTE_VALUE_UINT32
)

// VertexAttributeLayout describes one attribute stream: Count components of ValueType.
type VertexAttributeLayout struct {
	Type      VertexAttributeType
	ValueType AttributeValueType
	Count     uint8
}

func (l VertexAttributeLayout) Size() uint32 {
	return 4 * uint32(l.Count)
}

// VertexFormat lists the attribute streams a mesh carries, in stream order.
type VertexFormat struct {
	layouts []VertexAttributeLayout
}

func (f *VertexFormat) AddAttributeLayout(t VertexAttributeType, vt AttributeValueType, count uint8) {
	f.layouts = append(f.layouts, VertexAttributeLayout{Type: t, ValueType: vt, Count: count})
}

func (f *VertexFormat) Layouts() []VertexAttributeLayout {
	return f.layouts
}

// Contains reports whether at least one stream of type t is present.
func (f *VertexFormat) Contains(t VertexAttributeType) bool {
	return f.Streams(t) > 0
}

// Streams counts the streams of type t; UV, color and bone streams repeat per set.
func (f *VertexFormat) Streams(t VertexAttributeType) int {
	n := 0
	for _, l := range f.layouts {
		if l.Type == t {
			n++
		}
	}
	return n
}

// Stride is the interleaved byte size of one vertex.
func (f *VertexFormat) Stride() uint32 {
	var s uint32
	for _, l := range f.layouts {
		s += l.Size()
	}
	return s
}

func (f *VertexFormat) Equal(o *VertexFormat) bool {
	if len(f.layouts) != len(o.layouts) {
		return false
	}
	for i := range f.layouts {
		if f.layouts[i] != o.layouts[i] {
			return false
		}
	}
	return true
}

func VertexFormatMarshal(oa *OutputArchive, f *VertexFormat) error {
	if err := oa.WriteUint32(uint32(len(f.layouts))); err != nil {
		return err
	}
	for _, l := range f.layouts {
		if err := oa.Write([3]uint8{uint8(l.Type), uint8(l.ValueType), l.Count}); err != nil {
			return err
		}
	}
	return nil
}

func VertexFormatUnMarshal(ia *InputArchive) (*VertexFormat, error) {
	size, err := ia.ReadCount(uint32(vertexAttributeTypeCount) * MaxBoneInfluenceCount)
	if err != nil {
		return nil, fmt.Errorf("vertex format: %w", err)
	}
	f := &VertexFormat{}
	for i := uint32(0); i < size; i++ {
		var raw [3]uint8
		if err := ia.Read(&raw); err != nil {
			return nil, fmt.Errorf("vertex format layout %d: %w", i, err)
		}
		if raw[0] >= uint8(vertexAttributeTypeCount) {
			return nil, fmt.Errorf("vertex format layout %d type %d: %w", i, raw[0], ErrCorruptArchive)
		}
		f.AddAttributeLayout(VertexAttributeType(raw[0]), AttributeValueType(raw[1]), raw[2])
	}
	return f, nil
}
