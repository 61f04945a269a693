package catalog

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
	"go.uber.org/zap"
)

//go:embed dataset.schema.json
var datasetSchemaJSON []byte

const datasetSchemaURL = "https://convograph.dev/schemas/dataset.json"

// FileCatalog reads dataset records from the *.json files of a directory.
//
// The directory is read on first use and cached until Reload. A missing
// directory yields an empty catalog. FileCatalog is safe for concurrent use.
type FileCatalog struct {
	dir    string
	schema *jsonschema.Schema
	logger *zap.Logger

	mu     sync.RWMutex
	cache  []Dataset
	loaded bool
}

// NewFileCatalog creates a catalog over dir. A nil logger discards warnings.
func NewFileCatalog(dir string, logger *zap.Logger) (*FileCatalog, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	sch, err := compileDatasetSchema()
	if err != nil {
		return nil, err
	}
	return &FileCatalog{dir: dir, schema: sch, logger: logger}, nil
}

func compileDatasetSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(datasetSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal dataset schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(datasetSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add dataset schema resource: %w", err)
	}
	sch, err := c.Compile(datasetSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile dataset schema: %w", err)
	}
	return sch, nil
}

// Dir returns the catalog directory.
func (c *FileCatalog) Dir() string {
	return c.dir
}

// All returns every valid record, in file name order and then file order.
func (c *FileCatalog) All(ctx context.Context) ([]Dataset, error) {
	c.mu.RLock()
	if c.loaded {
		out := slices.Clone(c.cache)
		c.mu.RUnlock()
		return out, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		datasets, err := c.load(ctx)
		if err != nil {
			return nil, err
		}
		c.cache = datasets
		c.loaded = true
	}
	return slices.Clone(c.cache), nil
}

// Reload drops the cache; the next call reads the directory again.
func (c *FileCatalog) Reload() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = nil
	c.loaded = false
}

// ByID returns the dataset with the given id, or ErrNotFound.
func (c *FileCatalog) ByID(ctx context.Context, id string) (Dataset, error) {
	all, err := c.All(ctx)
	if err != nil {
		return Dataset{}, err
	}
	for _, ds := range all {
		if ds.ID == id {
			return ds, nil
		}
	}
	return Dataset{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// ByIDs returns the datasets for ids in the order requested. Unknown ids are
// skipped.
func (c *FileCatalog) ByIDs(ctx context.Context, ids []string) ([]Dataset, error) {
	all, err := c.All(ctx)
	if err != nil {
		return nil, err
	}
	index := make(map[string]Dataset, len(all))
	for _, ds := range all {
		if _, dup := index[ds.ID]; !dup {
			index[ds.ID] = ds
		}
	}

	out := make([]Dataset, 0, len(ids))
	for _, id := range ids {
		if ds, ok := index[id]; ok {
			out = append(out, ds)
		}
	}
	return out, nil
}

// Topics returns the distinct non-empty topics, sorted.
func (c *FileCatalog) Topics(ctx context.Context) ([]string, error) {
	all, err := c.All(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	for _, ds := range all {
		if ds.Topic != "" {
			seen[ds.Topic] = struct{}{}
		}
	}
	topics := make([]string, 0, len(seen))
	for t := range seen {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics, nil
}

func (c *FileCatalog) load(ctx context.Context) ([]Dataset, error) {
	files, err := filepath.Glob(filepath.Join(c.dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("list catalog files: %w", err)
	}

	var datasets []Dataset
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		records, err := c.loadFile(path)
		if err != nil {
			c.logger.Warn("skipping catalog file", zap.String("file", path), zap.Error(err))
			continue
		}
		datasets = append(datasets, records...)
	}

	c.logger.Debug("catalog loaded", zap.String("dir", c.dir), zap.Int("datasets", len(datasets)))
	return datasets, nil
}

func (c *FileCatalog) loadFile(path string) ([]Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}

	var items []any
	switch v := doc.(type) {
	case []any:
		items = v
	case map[string]any:
		items = []any{v}
	default:
		return nil, fmt.Errorf("expected an object or a list of objects, got %T", doc)
	}

	out := make([]Dataset, 0, len(items))
	for i, item := range items {
		ds, err := c.decode(item)
		if err != nil {
			c.logger.Warn("skipping invalid dataset record",
				zap.String("file", path), zap.Int("index", i), zap.Error(err))
			continue
		}
		out = append(out, ds)
	}
	return out, nil
}

func (c *FileCatalog) decode(item any) (Dataset, error) {
	if err := c.schema.Validate(item); err != nil {
		return Dataset{}, err
	}
	raw, err := json.Marshal(item)
	if err != nil {
		return Dataset{}, err
	}
	var ds Dataset
	if err := json.Unmarshal(raw, &ds); err != nil {
		return Dataset{}, err
	}
	return ds, nil
}
