// Package processor runs a scene database from a producer through the
// enabled processing stages into a consumer.
package processor

import (
	"fmt"
	"io"

	"github.com/flywave/go-cdasset"
	"go.uber.org/zap"
)

// Producer fills an empty scene database.
type Producer interface {
	Execute(db *cdasset.SceneDatabase) error
}

// Consumer emits a finished scene database.
type Consumer interface {
	Execute(db *cdasset.SceneDatabase) error
}

// Options selects the stages of a run. Stages always run in the order of the
// fields below.
type Options struct {
	Validate       bool
	ComputeAABB    bool
	Flatten        bool
	Connectivity   bool
	SearchTextures bool
	EmbedTextures  bool
	Dump           bool

	// TextureFolders are walked by the texture search stage.
	TextureFolders []string
	// DumpWriter receives the YAML summary, nil logs it at debug level only.
	DumpWriter io.Writer

	Log *zap.Logger
}

func DefaultOptions() Options {
	return Options{
		Validate:    true,
		ComputeAABB: true,
		Dump:        true,
	}
}

type Processor struct {
	producer Producer
	consumer Consumer
	opts     Options
	log      *zap.Logger
	db       *cdasset.SceneDatabase
}

func New(producer Producer, consumer Consumer, opts Options) *Processor {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Processor{producer: producer, consumer: consumer, opts: opts, log: log}
}

// SceneDatabase returns the database of the last run.
func (p *Processor) SceneDatabase() *cdasset.SceneDatabase { return p.db }

type stage struct {
	name    string
	enabled bool
	run     func(db *cdasset.SceneDatabase) error
}

func (p *Processor) stages() []stage {
	return []stage{
		{"validate", p.opts.Validate, func(db *cdasset.SceneDatabase) error {
			return Validate(db, p.log)
		}},
		{"aabb", p.opts.ComputeAABB, func(db *cdasset.SceneDatabase) error {
			box := db.UpdateAABB()
			p.log.Debug("scene bounds", zap.Float32s("min", box.Min[:]), zap.Float32s("max", box.Max[:]))
			return nil
		}},
		{"flatten", p.opts.Flatten, Flatten},
		{"connectivity", p.opts.Connectivity, ComputeConnectivity},
		{"search textures", p.opts.SearchTextures, func(db *cdasset.SceneDatabase) error {
			SearchTextures(db, p.opts.TextureFolders, p.log)
			return nil
		}},
		{"embed textures", p.opts.EmbedTextures, func(db *cdasset.SceneDatabase) error {
			EmbedTextures(db, p.log)
			return nil
		}},
		{"dump", p.opts.Dump, func(db *cdasset.SceneDatabase) error {
			return Dump(p.opts.DumpWriter, db, p.log)
		}},
	}
}

// Run pulls one scene database from the producer, applies the enabled stages
// and pushes the result to the consumer.
func (p *Processor) Run() error {
	db := cdasset.NewSceneDatabase("")
	p.db = db
	if err := p.producer.Execute(db); err != nil {
		return fmt.Errorf("produce: %w", err)
	}
	p.log.Info("scene loaded",
		zap.String("name", db.Name),
		zap.Int("nodes", len(db.Nodes())),
		zap.Int("meshes", len(db.Meshes())),
		zap.Int("materials", len(db.Materials())),
		zap.Int("textures", len(db.Textures())))

	for _, st := range p.stages() {
		if !st.enabled {
			continue
		}
		p.log.Debug("stage", zap.String("name", st.name))
		if err := st.run(db); err != nil {
			return fmt.Errorf("%s: %w", st.name, err)
		}
	}

	if err := p.consumer.Execute(db); err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	return nil
}
