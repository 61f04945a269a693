// Package catalog loads the read-only dataset catalog searched by the agent.
//
// A catalog directory holds *.json files, each containing either one dataset
// record or a list of them. Records are validated against an embedded JSON
// Schema; files and records that fail are skipped with a warning.
package catalog

import (
	"context"
	"errors"
	"slices"
)

// ErrNotFound is returned by ByID for an unknown dataset.
var ErrNotFound = errors.New("dataset not found")

// Dataset is one catalog record.
type Dataset struct {
	ID          string   `json:"dataset_id"`
	Name        string   `json:"name"`
	Topic       string   `json:"topic"`
	Columns     []string `json:"columns"`
	Description string   `json:"description,omitempty"`
	Source      string   `json:"source,omitempty"`
	License     string   `json:"license,omitempty"`
}

// Schema is the table shape of a dataset handed to query planning.
type Schema struct {
	DatasetID string   `json:"dataset_id"`
	Name      string   `json:"name"`
	Topic     string   `json:"topic"`
	Columns   []string `json:"columns"`
}

// Catalog lists every dataset available for search.
type Catalog interface {
	All(ctx context.Context) ([]Dataset, error)
}

// Schemas extracts the schema of every dataset that declares columns.
func Schemas(datasets []Dataset) []Schema {
	out := make([]Schema, 0, len(datasets))
	for _, ds := range datasets {
		if len(ds.Columns) == 0 {
			continue
		}
		out = append(out, Schema{
			DatasetID: ds.ID,
			Name:      ds.Name,
			Topic:     ds.Topic,
			Columns:   slices.Clone(ds.Columns),
		})
	}
	return out
}

// Static is an in-memory Catalog.
type Static []Dataset

// All returns a copy of the records.
func (s Static) All(ctx context.Context) ([]Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return slices.Clone(s), nil
}
