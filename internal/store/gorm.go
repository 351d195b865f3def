package store

import (
	"context"
	"errors"

	"github.com/emrgen/panelcraft/internal/compress"
	"github.com/emrgen/panelcraft/internal/model"
	"gorm.io/gorm"
)

func NewGormKV(db *gorm.DB, codec compress.Compress) *GormKV {
	return &GormKV{
		db:    db,
		codec: codec,
	}
}

var _ KV = (*GormKV)(nil)

// GormKV keeps local entries in a sql table, encoding values with the
// configured codec. Entries written by another codec stay readable.
type GormKV struct {
	db    *gorm.DB
	codec compress.Compress
}

func (g *GormKV) Get(ctx context.Context, key string) (string, bool, error) {
	entry, err := model.GetEntry(g.db.WithContext(ctx), key)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	codec := g.codec
	if entry.Compression != "" && entry.Compression != codec.Name() {
		codec, err = compress.New(entry.Compression)
		if err != nil {
			return "", false, err
		}
	}

	data, err := codec.Decode(entry.Value)
	if err != nil {
		return "", false, errors.Join(ErrCorrupted, err)
	}

	return string(data), true, nil
}

func (g *GormKV) Set(ctx context.Context, key, value string) error {
	data, err := g.codec.Encode([]byte(value))
	if err != nil {
		return err
	}

	return model.SaveEntry(g.db.WithContext(ctx), &model.Entry{
		Key:         key,
		Value:       data,
		Compression: g.codec.Name(),
	})
}

func (g *GormKV) Delete(ctx context.Context, key string) error {
	return model.DeleteEntry(g.db.WithContext(ctx), key)
}

func (g *GormKV) Migrate() error {
	return model.Migrate(g.db)
}
