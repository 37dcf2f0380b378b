package cdasset

import (
	"fmt"

	"github.com/flywave/go3d/quaternion"
	"github.com/flywave/go3d/vec3"
)

type TranslationKey struct {
	Time  float32
	Value vec3.T
}

type RotationKey struct {
	Time  float32
	Value quaternion.T
}

type ScaleKey struct {
	Time  float32
	Value vec3.T
}

// Track animates one bone or node, matched by name.
type Track struct {
	ID              TrackID          `yaml:"id"`
	Name            string           `yaml:"name"`
	TranslationKeys []TranslationKey `yaml:"-"`
	RotationKeys    []RotationKey    `yaml:"-"`
	ScaleKeys       []ScaleKey       `yaml:"-"`
}

func NewTrack(id TrackID, name string) *Track {
	return &Track{ID: id, Name: name}
}

func (t *Track) KeyCount() int {
	return len(t.TranslationKeys) + len(t.RotationKeys) + len(t.ScaleKeys)
}

type Animation struct {
	ID             AnimationID `yaml:"id"`
	Name           string      `yaml:"name"`
	Duration       float32     `yaml:"duration"`
	TicksPerSecond float32     `yaml:"ticksPerSecond"`
	TrackIDs       []TrackID   `yaml:"tracks,omitempty"`
}

func NewAnimation(id AnimationID, name string) *Animation {
	return &Animation{ID: id, Name: name, TicksPerSecond: 1}
}

func (a *Animation) AddTrackID(id TrackID) { a.TrackIDs = append(a.TrackIDs, id) }

func AnimationMarshal(oa *OutputArchive, a *Animation) error {
	if err := oa.WriteUint32(uint32(a.ID)); err != nil {
		return err
	}
	if err := oa.WriteString(a.Name); err != nil {
		return err
	}
	if err := oa.WriteFloat32(a.Duration); err != nil {
		return err
	}
	if err := oa.WriteFloat32(a.TicksPerSecond); err != nil {
		return err
	}
	return ExportBuffer(oa, a.TrackIDs)
}

func AnimationUnMarshal(ia *InputArchive) (*Animation, error) {
	id, err := ia.ReadUint32()
	if err != nil {
		return nil, err
	}
	a := &Animation{ID: AnimationID(id)}
	if a.Name, err = ia.ReadString(); err != nil {
		return nil, err
	}
	if a.Duration, err = ia.ReadFloat32(); err != nil {
		return nil, err
	}
	if a.TicksPerSecond, err = ia.ReadFloat32(); err != nil {
		return nil, err
	}
	if a.TrackIDs, err = ImportSlice[TrackID](ia, maxCollectionSize); err != nil {
		return nil, fmt.Errorf("animation %q tracks: %w", a.Name, err)
	}
	return a, nil
}

func TrackMarshal(oa *OutputArchive, t *Track) error {
	if err := oa.WriteUint32(uint32(t.ID)); err != nil {
		return err
	}
	if err := oa.WriteString(t.Name); err != nil {
		return err
	}
	if err := ExportBuffer(oa, t.TranslationKeys); err != nil {
		return err
	}
	if err := ExportBuffer(oa, t.RotationKeys); err != nil {
		return err
	}
	return ExportBuffer(oa, t.ScaleKeys)
}

func TrackUnMarshal(ia *InputArchive) (*Track, error) {
	id, err := ia.ReadUint32()
	if err != nil {
		return nil, err
	}
	t := &Track{ID: TrackID(id)}
	if t.Name, err = ia.ReadString(); err != nil {
		return nil, err
	}
	if t.TranslationKeys, err = ImportSlice[TranslationKey](ia, MaxMeshElementCount); err != nil {
		return nil, fmt.Errorf("track %q translation keys: %w", t.Name, err)
	}
	if t.RotationKeys, err = ImportSlice[RotationKey](ia, MaxMeshElementCount); err != nil {
		return nil, fmt.Errorf("track %q rotation keys: %w", t.Name, err)
	}
	if t.ScaleKeys, err = ImportSlice[ScaleKey](ia, MaxMeshElementCount); err != nil {
		return nil, fmt.Errorf("track %q scale keys: %w", t.Name, err)
	}
	return t, nil
}
