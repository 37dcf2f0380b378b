package config

import (
	"flag"
	"strings"
)

// stringList collects a repeatable string flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// Flags holds the command line overrides registered on a FlagSet.
type Flags struct {
	config       *string
	debug        *bool
	logFile      *string
	order        *string
	flatten      *bool
	connectivity *bool
	embed        *bool
	dumpFile     *string
	search       stringList

	textureDir    *string
	textureFormat *string
}

// RegisterFlags adds the flags shared by every tool to fs.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{
		config:       fs.String("config", "", "Path to config file"),
		debug:        fs.Bool("debug", false, "Enable debug logging"),
		logFile:      fs.String("log", "", "Write a rotating log file"),
		order:        fs.String("order", "", "Archive byte order: host, little or big"),
		flatten:      fs.Bool("flatten", false, "Bake node transforms into vertex data"),
		connectivity: fs.Bool("connectivity", false, "Compute vertex adjacency"),
		embed:        fs.Bool("embed", false, "Embed referenced texture files"),
		dumpFile:     fs.String("dump", "", "Write the scene summary to a YAML file"),
	}
	fs.Var(&f.search, "search", "Folder searched for missing textures (repeatable)")
	return f
}

// RegisterTextureOutput adds the texture extraction flags to fs.
func (f *Flags) RegisterTextureOutput(fs *flag.FlagSet) {
	f.textureDir = fs.String("textures", "", "Extract embedded textures into this directory")
	f.textureFormat = fs.String("texture-format", "", "Extracted texture format: png or webp")
}

// ConfigPath returns the explicit config path if provided via -config.
func (f *Flags) ConfigPath() string {
	if f == nil {
		return ""
	}
	return *f.config
}

func (f *Flags) apply(cfg *Config) {
	if f == nil {
		return
	}
	if *f.debug {
		cfg.Logging.Level = "debug"
	}
	if *f.logFile != "" {
		cfg.Logging.File.Path = *f.logFile
	}
	if *f.order != "" {
		cfg.Archive.ByteOrder = *f.order
	}
	if *f.flatten {
		cfg.Processor.Flatten = true
	}
	if *f.connectivity {
		cfg.Processor.Connectivity = true
	}
	if *f.embed {
		cfg.Processor.EmbedTextures = true
	}
	if *f.dumpFile != "" {
		cfg.Processor.Dump = true
		cfg.Processor.DumpFile = *f.dumpFile
	}
	if len(f.search) > 0 {
		cfg.Textures.SearchFolders = append(cfg.Textures.SearchFolders, f.search...)
		cfg.Processor.SearchTextures = true
	}
	if f.textureDir != nil && *f.textureDir != "" {
		cfg.Textures.OutputDir = *f.textureDir
	}
	if f.textureFormat != nil && *f.textureFormat != "" {
		cfg.Textures.Format = *f.textureFormat
	}
}
