package cdasset

import (
	"encoding/binary"

	"go.uber.org/zap"
)

// CDProducer loads a scene database archive.
type CDProducer struct {
	Path string
	log  *zap.Logger
}

func NewCDProducer(path string, log *zap.Logger) *CDProducer {
	if log == nil {
		log = zap.NewNop()
	}
	return &CDProducer{Path: path, log: log}
}

// Execute replaces the content of db with the archive content.
func (p *CDProducer) Execute(db *SceneDatabase) error {
	loaded, err := SceneDatabaseReadFrom(p.Path)
	if err != nil {
		return err
	}
	*db = *loaded
	p.log.Info("scene archive loaded",
		zap.String("path", p.Path),
		zap.String("scene", db.Name),
		zap.Int("meshes", len(db.meshes)),
		zap.Int("nodes", len(db.nodes)))
	return nil
}

// CDConsumer stores a scene database archive in the given byte order.
type CDConsumer struct {
	Path  string
	Order binary.ByteOrder
	log   *zap.Logger
}

func NewCDConsumer(path string, order binary.ByteOrder, log *zap.Logger) *CDConsumer {
	if log == nil {
		log = zap.NewNop()
	}
	if order == nil {
		order = HostByteOrder()
	}
	return &CDConsumer{Path: path, Order: order, log: log}
}

func (c *CDConsumer) Execute(db *SceneDatabase) error {
	if err := SceneDatabaseWriteTo(c.Path, db, c.Order); err != nil {
		return err
	}
	c.log.Info("scene archive written", zap.String("path", c.Path), zap.Stringer("order", c.Order))
	return nil
}
