package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// Intent is a search request decomposed into a topic and filter slots.
type Intent struct {
	Topic              string   `json:"topic" mapstructure:"topic"`
	TemporalFilters    []string `json:"temporal_filters" mapstructure:"temporal_filters"`
	DemographicFilters []string `json:"demographic_filters" mapstructure:"demographic_filters"`
	SpatialFilters     []string `json:"spatial_filters" mapstructure:"spatial_filters"`
	RequiredColumns    []string `json:"required_columns" mapstructure:"required_columns"`
	AggregationType    string   `json:"aggregation_type" mapstructure:"aggregation_type"`
}

// fallbackIntent is used when the extraction reply cannot be parsed.
func fallbackIntent() Intent {
	return Intent{Topic: "general query", AggregationType: "statistics"}
}

var errNoJSONObject = errors.New("reply does not contain a JSON object")

// ParseIntent decodes an extraction reply.
//
// The reply may wrap the object in a markdown code fence or surround it with
// prose. Decoding is lenient: a single filter value becomes a one-element
// list, numbers become strings and filter objects are reduced to their "raw"
// text.
func ParseIntent(reply string) (Intent, error) {
	body, err := extractJSONObject(reply)
	if err != nil {
		return Intent{}, err
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return Intent{}, fmt.Errorf("parse intent: %w", err)
	}

	var intent Intent
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       rawFilterHook,
		WeaklyTypedInput: true,
		Result:           &intent,
	})
	if err != nil {
		return Intent{}, err
	}
	if err := dec.Decode(raw); err != nil {
		return Intent{}, fmt.Errorf("decode intent: %w", err)
	}

	intent.TemporalFilters = compact(intent.TemporalFilters)
	intent.DemographicFilters = compact(intent.DemographicFilters)
	intent.SpatialFilters = compact(intent.SpatialFilters)
	intent.RequiredColumns = compact(intent.RequiredColumns)
	return intent, nil
}

// rawFilterHook turns {"raw": "last 3 years", ...} filter objects into their
// raw text.
func rawFilterHook(from, to reflect.Type, data any) (any, error) {
	if to.Kind() != reflect.String || from.Kind() != reflect.Map {
		return data, nil
	}
	m, ok := data.(map[string]any)
	if !ok {
		return data, nil
	}
	if v, ok := m["raw"]; ok {
		return fmt.Sprint(v), nil
	}
	return data, nil
}

func extractJSONObject(reply string) (string, error) {
	s := strings.TrimSpace(reply)
	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		rest = strings.TrimPrefix(rest, "json")
		if j := strings.Index(rest, "```"); j >= 0 {
			rest = rest[:j]
		}
		s = strings.TrimSpace(rest)
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return "", errNoJSONObject
	}
	return s[start : end+1], nil
}

// compact drops blank entries and trims the rest.
func compact(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
