package cdasset

import (
	"fmt"
	"math"

	"github.com/flywave/go3d/vec3"
)

type LightType uint8

const (
	LIGHT_TYPE_POINT LightType = iota
	LIGHT_TYPE_SPOT
	LIGHT_TYPE_DIRECTIONAL
	LIGHT_TYPE_SPHERE
	LIGHT_TYPE_DISK
	LIGHT_TYPE_RECTANGLE
	LIGHT_TYPE_TUBE
	lightTypeCount
)

func (t LightType) String() string {
	switch t {
	case LIGHT_TYPE_POINT:
		return "Point"
	case LIGHT_TYPE_SPOT:
		return "Spot"
	case LIGHT_TYPE_DIRECTIONAL:
		return "Directional"
	case LIGHT_TYPE_SPHERE:
		return "Sphere"
	case LIGHT_TYPE_DISK:
		return "Disk"
	case LIGHT_TYPE_RECTANGLE:
		return "Rectangle"
	case LIGHT_TYPE_TUBE:
		return "Tube"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(t))
	}
}

type Light struct {
	ID          LightID   `yaml:"id"`
	Name        string    `yaml:"name"`
	Type        LightType `yaml:"type"`
	Intensity   float32   `yaml:"intensity"`
	Range       float32   `yaml:"range"`
	Radius      float32   `yaml:"radius"`
	Width       float32   `yaml:"width"`
	Height      float32   `yaml:"height"`
	AngleScale  float32   `yaml:"angleScale"`
	AngleOffset float32   `yaml:"angleOffset"`
	Position    Point     `yaml:"position"`
	Color       vec3.T    `yaml:"color"`
	Direction   Direction `yaml:"direction"`
	Up          Direction `yaml:"up"`
}

func NewLight(id LightID, t LightType) *Light {
	return &Light{
		ID:        id,
		Type:      t,
		Intensity: 1,
		Color:     vec3.T{1, 1, 1},
		Direction: Direction{0, 0, -1},
		Up:        Direction{0, 1, 0},
	}
}

// CalculateScaleAndOffset returns the spot cone attenuation terms for inner
// and outer half angles in radians.
func (l *Light) CalculateScaleAndOffset(inner, outer float32) (scale, offset float32) {
	cosInner := float32(math.Cos(float64(inner)))
	cosOuter := float32(math.Cos(float64(outer)))
	scale = 1 / max(0.001, cosInner-cosOuter)
	offset = -cosOuter * scale
	return scale, offset
}

// SetSpotAngles stores the attenuation terms of a spot cone.
func (l *Light) SetSpotAngles(inner, outer float32) {
	l.AngleScale, l.AngleOffset = l.CalculateScaleAndOffset(inner, outer)
}

type lightRecord struct {
	Type        uint8
	Intensity   float32
	Range       float32
	Radius      float32
	Width       float32
	Height      float32
	AngleScale  float32
	AngleOffset float32
	Position    Point
	Color       vec3.T
	Direction   Direction
	Up          Direction
}

func LightMarshal(oa *OutputArchive, l *Light) error {
	if err := oa.WriteUint32(uint32(l.ID)); err != nil {
		return err
	}
	if err := oa.WriteString(l.Name); err != nil {
		return err
	}
	return oa.Write(&lightRecord{
		Type: uint8(l.Type), Intensity: l.Intensity, Range: l.Range, Radius: l.Radius,
		Width: l.Width, Height: l.Height, AngleScale: l.AngleScale, AngleOffset: l.AngleOffset,
		Position: l.Position, Color: l.Color, Direction: l.Direction, Up: l.Up,
	})
}

func LightUnMarshal(ia *InputArchive) (*Light, error) {
	id, err := ia.ReadUint32()
	if err != nil {
		return nil, err
	}
	name, err := ia.ReadString()
	if err != nil {
		return nil, err
	}
	var r lightRecord
	if err := ia.Read(&r); err != nil {
		return nil, fmt.Errorf("light %q: %w", name, err)
	}
	if r.Type >= uint8(lightTypeCount) {
		return nil, fmt.Errorf("light %q type %d: %w", name, r.Type, ErrCorruptArchive)
	}
	return &Light{
		ID: LightID(id), Name: name, Type: LightType(r.Type),
		Intensity: r.Intensity, Range: r.Range, Radius: r.Radius,
		Width: r.Width, Height: r.Height, AngleScale: r.AngleScale, AngleOffset: r.AngleOffset,
		Position: r.Position, Color: r.Color, Direction: r.Direction, Up: r.Up,
	}, nil
}
