// Package cli holds the shared driver of the conversion commands.
package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/flywave/go-cdasset"
	"github.com/flywave/go-cdasset/internal/config"
	"github.com/flywave/go-cdasset/internal/logger"
	"github.com/flywave/go-cdasset/processor"
	"go.uber.org/zap"
)

// Exit codes returned by Tool.Run.
const (
	ExitOK      = 0
	ExitUsage   = 1
	ExitFailure = 2
)

// Tool is one conversion command.
type Tool struct {
	Name          string
	Args          string
	TextureOutput bool
	Build         func(cfg *config.Config, in, out string, log *zap.Logger) (processor.Producer, processor.Consumer)
}

// GltfToCD converts a glTF or GLB file into a scene archive.
var GltfToCD = &Tool{
	Name: "gltf2cd",
	Args: "<input.gltf|glb> <output" + cdasset.SCENEEXT + ">",
	Build: func(cfg *config.Config, in, out string, log *zap.Logger) (processor.Producer, processor.Consumer) {
		prod := cdasset.NewGltfProducer(in, log)
		prod.ComputeNormals = cfg.Import.ComputeNormals
		prod.ComputeTangents = cfg.Import.ComputeTangents
		prod.CleanUnused = cfg.Import.CleanUnused
		return prod, cdasset.NewCDConsumer(out, cfg.Archive.Order(), log)
	},
}

// CDToGltf converts a scene archive into a glTF or GLB file.
var CDToGltf = &Tool{
	Name:          "cd2gltf",
	Args:          "<input" + cdasset.SCENEEXT + "> <output.glb|gltf>",
	TextureOutput: true,
	Build: func(cfg *config.Config, in, out string, log *zap.Logger) (processor.Producer, processor.Consumer) {
		cons := cdasset.NewGltfConsumer(out, log)
		cons.TextureDir = cfg.Textures.OutputDir
		cons.TextureFormat = cfg.Textures.Format
		return cdasset.NewCDProducer(in, log), cons
	},
}

// ProcessorOptions maps the processor section of cfg to run options. The
// returned function closes the dump file, if any.
func ProcessorOptions(cfg *config.Config, log *zap.Logger) (processor.Options, func() error, error) {
	p := cfg.Processor
	opts := processor.Options{
		Validate:       p.Validate,
		ComputeAABB:    p.ComputeAABB,
		Flatten:        p.Flatten,
		Connectivity:   p.Connectivity,
		SearchTextures: p.SearchTextures,
		EmbedTextures:  p.EmbedTextures,
		Dump:           p.Dump,
		TextureFolders: cfg.Textures.SearchFolders,
		Log:            log,
	}
	closeDump := func() error { return nil }
	if p.Dump && p.DumpFile != "" {
		f, err := os.Create(p.DumpFile)
		if err != nil {
			return opts, closeDump, err
		}
		opts.DumpWriter = f
		closeDump = f.Close
	}
	return opts, closeDump, nil
}

// Run parses args, converts the input file and returns the exit code.
func (t *Tool) Run(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet(t.Name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	flags := config.RegisterFlags(fs)
	if t.TextureOutput {
		flags.RegisterTextureOutput(fs)
	}
	fs.Usage = func() {
		fmt.Fprintf(stderr, "usage: %s [flags] %s\n", t.Name, t.Args)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return ExitOK
		}
		return ExitUsage
	}
	if fs.NArg() != 2 {
		fs.Usage()
		return ExitUsage
	}

	cfg, err := config.Load(flags)
	if err != nil {
		fmt.Fprintf(stderr, "config error: %v\n", err)
		return ExitUsage
	}

	log := logger.New(logger.Options{Level: cfg.Logging.Level, File: cfg.Logging.File, Console: stderr})
	defer func() { _ = log.Sync() }()

	opts, closeDump, err := ProcessorOptions(cfg, log)
	if err != nil {
		log.Error("dump file", zap.Error(err))
		return ExitFailure
	}
	defer closeDump()

	in, out := fs.Arg(0), fs.Arg(1)
	start := time.Now()
	prod, cons := t.Build(cfg, in, out, log)
	if err := processor.New(prod, cons, opts).Run(); err != nil {
		log.Error("conversion failed", zap.String("input", in), zap.Error(err))
		return ExitFailure
	}
	log.Info("conversion done", zap.String("output", out), zap.Duration("elapsed", time.Since(start)))
	return ExitOK
}
