// Package config handles loading of the conversion tool settings.
package config

import (
	"encoding/binary"

	"github.com/flywave/go-cdasset"
	"github.com/flywave/go-cdasset/internal/logger"
)

// Config holds all conversion settings.
type Config struct {
	Import    ImportConfig    `yaml:"import"`
	Processor ProcessorConfig `yaml:"processor"`
	Textures  TextureConfig   `yaml:"textures"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ImportConfig holds the mesh services run while reading glTF.
type ImportConfig struct {
	ComputeNormals  bool `yaml:"compute_normals"`
	ComputeTangents bool `yaml:"compute_tangents"`
	CleanUnused     bool `yaml:"clean_unused"`
}

// ProcessorConfig toggles the processing stages.
type ProcessorConfig struct {
	Validate       bool   `yaml:"validate"`
	ComputeAABB    bool   `yaml:"compute_aabb"`
	Flatten        bool   `yaml:"flatten"`
	Connectivity   bool   `yaml:"connectivity"`
	SearchTextures bool   `yaml:"search_textures"`
	EmbedTextures  bool   `yaml:"embed_textures"`
	Dump           bool   `yaml:"dump"`
	DumpFile       string `yaml:"dump_file"`
}

// TextureConfig holds texture lookup and extraction settings.
type TextureConfig struct {
	SearchFolders []string `yaml:"search_folders" validate:"dive,required"`
	OutputDir     string   `yaml:"output_dir"`
	Format        string   `yaml:"format" validate:"oneof=png webp"`
}

// ArchiveConfig holds scene archive settings.
type ArchiveConfig struct {
	ByteOrder string `yaml:"byte_order" validate:"oneof=host little big"`
}

// Order maps ByteOrder to the byte order written by the archive consumer.
func (a ArchiveConfig) Order() binary.ByteOrder {
	switch a.ByteOrder {
	case "little":
		return binary.LittleEndian
	case "big":
		return binary.BigEndian
	default:
		return cdasset.HostByteOrder()
	}
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string            `yaml:"level" validate:"oneof=debug info warn error"`
	File  logger.FileConfig `yaml:"file"`
}

// Default returns a Config with the default stage selection.
func Default() *Config {
	return &Config{
		Import: ImportConfig{
			ComputeNormals:  true,
			ComputeTangents: false,
			CleanUnused:     false,
		},
		Processor: ProcessorConfig{
			Validate:    true,
			ComputeAABB: true,
			Dump:        true,
		},
		Textures: TextureConfig{
			Format: "png",
		},
		Archive: ArchiveConfig{
			ByteOrder: "host",
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  logger.DefaultFileConfig(""),
		},
	}
}
