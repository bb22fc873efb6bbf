// Package catalog provides the read-only set of rankable entities.
//
// The ranking core never writes to a catalog; loading it is the only I/O
// this package performs.
package catalog

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/okian/duel/internal/domain/model"
)

//go:embed default.yaml
var defaultCatalog []byte

// Catalog exposes rankable entities.
type Catalog interface {
	// All returns every entity in catalog order. Callers must not mutate it.
	All(ctx context.Context) []model.Entity
	// Get looks an entity up by id.
	Get(ctx context.Context, id string) (model.Entity, bool)
	// Len returns the number of entities.
	Len(ctx context.Context) int
}

// InMemory is an immutable Catalog backed by a slice and an index.
type InMemory struct {
	entities []model.Entity
	byID     map[string]int
}

// New validates entities and builds an InMemory catalog from a copy of them.
func New(entities []model.Entity) (*InMemory, error) {
	c := &InMemory{
		entities: make([]model.Entity, 0, len(entities)),
		byID:     make(map[string]int, len(entities)),
	}
	for i, e := range entities {
		e.ID = strings.TrimSpace(e.ID)
		if e.ID == "" {
			return nil, fmt.Errorf("entity at index %d has empty id: %w", i, ErrInvalidEntity)
		}
		if _, dup := c.byID[e.ID]; dup {
			return nil, fmt.Errorf("entity %q: %w", e.ID, ErrDuplicateEntity)
		}
		e.Tags = append([]string(nil), e.Tags...)
		c.byID[e.ID] = len(c.entities)
		c.entities = append(c.entities, e)
	}
	return c, nil
}

// All implements Catalog.
func (c *InMemory) All(_ context.Context) []model.Entity {
	return c.entities
}

// Get implements Catalog.
func (c *InMemory) Get(_ context.Context, id string) (model.Entity, bool) {
	i, ok := c.byID[id]
	if !ok {
		return model.Entity{}, false
	}
	return c.entities[i], true
}

// Len implements Catalog.
func (c *InMemory) Len(_ context.Context) int {
	return len(c.entities)
}

// document is the YAML layout of a catalog file.
type document struct {
	Entities []model.Entity `koanf:"entities"`
}

// LoadFile reads a YAML catalog from path.
func LoadFile(ctx context.Context, path string) (*InMemory, error) {
	return load(ctx, file.Provider(path), path)
}

// Default returns the embedded sample catalog.
func Default(ctx context.Context) (*InMemory, error) {
	return load(ctx, bytesProvider(defaultCatalog), "embedded")
}

func load(_ context.Context, p koanf.Provider, source string) (*InMemory, error) {
	k := koanf.New(".")
	if err := k.Load(p, yaml.Parser()); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", source, ErrLoadCatalog, err)
	}
	var doc document
	if err := k.UnmarshalWithConf("", &doc, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", source, ErrLoadCatalog, err)
	}
	return New(doc.Entities)
}

// bytesProvider feeds an in-memory document to koanf.
type bytesProvider []byte

func (b bytesProvider) ReadBytes() ([]byte, error) {
	return b, nil
}

func (b bytesProvider) Read() (map[string]any, error) {
	return nil, fmt.Errorf("bytes provider does not support Read")
}
